package util

import (
	"fmt"
	"io"
	"os"

	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/token"
)

// Origin names the program being translated in diagnostics
var Origin = "<built-in>"

// TraceOut receives -Ftrace output
var TraceOut io.Writer = os.Stderr

func position(tok token.Token) (filename string, line, col int) {
	return Origin, tok.Line, tok.Column
}

// Error prints a formatted error message and exits the program
func Error(tok token.Token, format string, args ...interface{}) {
	filename, line, col := position(tok)
	fmt.Fprintf(os.Stderr, "%s:%d:%d: \033[31merror:\033[0m ", filename, line, col)
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintln(os.Stderr)
	os.Exit(1)
}

// Warn prints a formatted warning message if the corresponding warning is enabled
func Warn(cfg *config.Config, wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if !cfg.IsWarningEnabled(wt) {
		return
	}
	filename, line, col := position(tok)
	fmt.Fprintf(os.Stderr, "%s:%d:%d: \033[33mwarning:\033[0m ", filename, line, col)
	fmt.Fprintf(os.Stderr, format, args...)
	fmt.Fprintf(os.Stderr, " [-W%s]\n", cfg.Warnings[wt].Name)
}

// Tracef logs a translator decision when -Ftrace is on
func Tracef(cfg *config.Config, format string, args ...interface{}) {
	if !cfg.IsFeatureEnabled(config.FeatTrace) {
		return
	}
	fmt.Fprintf(TraceOut, "trans: trace: "+format+"\n", args...)
}

// ICE is an internal compiler error: an upstream invariant did not hold.
type ICE struct {
	Tok token.Token
	Msg string
}

func (e *ICE) Error() string {
	filename, line, col := position(e.Tok)
	return fmt.Sprintf("%s:%d:%d: internal compiler error: %s", filename, line, col, e.Msg)
}

// Bug aborts the current translation with an ICE
func Bug(tok token.Token, format string, args ...interface{}) {
	panic(&ICE{Tok: tok, Msg: fmt.Sprintf(format, args...)})
}

// CatchICE turns an ICE panic into an error; other panics propagate
func CatchICE(err *error) {
	if r := recover(); r != nil {
		if ice, ok := r.(*ICE); ok {
			*err = ice
			return
		}
		panic(r)
	}
}

// ReportICE prints an ICE like a fatal diagnostic and exits
func ReportICE(err error) {
	fmt.Fprintf(os.Stderr, "\033[31m%v\033[0m\n", err)
	os.Exit(1)
}

func AlignUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
