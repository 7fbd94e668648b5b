package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/goforj/godump"
	"github.com/xplshn/trans/pkg/cli"
	"github.com/xplshn/trans/pkg/codegen"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/samples"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/util"
)

func main() {
	app := cli.NewApp("transc")
	app.Synopsis = "[options] <sample> ..."
	app.Description = "Lowers typed sample programs to IR, then runs them in the interpreter or hands them to a backend."

	var (
		outFile string
		target  string
		backend string
		profile string
		list    bool
		run     bool
		dumpIR  bool
		dumpAST bool
		stats   bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Write backend output to <file> instead of stdout.", "file")
	fs.String(&target, "target", "t", "", "Set the QBE target ABI (defaults to the host).", "target")
	fs.Choice(&backend, "backend", "b", "qbe", []string{"qbe", "llvm"}, "Select the code generation backend.")
	fs.Choice(&profile, "profile", "p", "checked", []string{"checked", "fast", "debug"}, "Apply a group of feature settings.")
	fs.Bool(&list, "list", "l", false, "List the available samples and exit.")
	fs.Bool(&run, "run", "r", false, "Run the samples in the interpreter.")
	fs.Bool(&dumpIR, "dump-ir", "d", false, "Dump the backend's IR instead of assembling it.")
	fs.Bool(&dumpAST, "dump-ast", "a", false, "Dump the typed sample crate and exit.")
	fs.Bool(&stats, "stats", "s", false, "Report heap statistics after each run.")

	cfg := config.NewConfig()
	applyToggles := cfg.FlagGroups(fs)

	app.Action = func(names []string) error {
		if list {
			for _, s := range samples.All() {
				fmt.Fprintf(app.Stdout, "%-12s %s\n", s.Name, s.Description)
			}
			return nil
		}

		// Profile first so explicit -F/-W flags override it
		if err := cfg.ApplyProfile(profile); err != nil {
			util.Error(token.Token{FileIndex: -1}, "%v", err)
		}
		applyToggles()
		cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target)
		cfg.BackendName = backend

		if len(names) == 0 {
			util.Error(token.Token{FileIndex: -1}, "no samples specified (see --list)")
		}

		out := app.Stdout
		if outFile != "" && !run {
			f, err := os.Create(outFile)
			if err != nil {
				util.Error(token.Token{FileIndex: -1}, "could not create '%s': %v", outFile, err)
			}
			defer f.Close()
			out = f
		}

		for _, name := range names {
			s, ok := samples.Lookup(name)
			if !ok {
				util.Error(token.Token{FileIndex: -1}, "unknown sample '%s'", name)
			}
			util.Origin = s.Name

			if dumpAST {
				_, crate := s.Crate()
				fmt.Fprintln(out, godump.DumpStr(crate))
				continue
			}
			if run {
				runSample(app.Stdout, app.Stderr, s, cfg, stats)
				continue
			}
			if err := emitSample(out, s, cfg, dumpIR); err != nil {
				util.Error(token.Token{FileIndex: -1}, "%v", err)
			}
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func translate(s *samples.Sample, cfg *config.Config) *ir.Program {
	prog, err := samples.Translate(s, cfg)
	if err != nil {
		var ice *util.ICE
		if errors.As(err, &ice) {
			util.ReportICE(ice)
		}
		util.Error(token.Token{FileIndex: -1}, "%v", err)
	}
	return prog
}

func emitSample(w io.Writer, s *samples.Sample, cfg *config.Config, dumpIR bool) error {
	prog := translate(s, cfg)
	be, err := codegen.NewBackend(cfg.BackendName)
	if err != nil {
		return err
	}

	if dumpIR {
		text, err := be.GenerateIR(prog, cfg)
		if err != nil {
			return fmt.Errorf("backend IR generation failed: %w", err)
		}
		_, err = io.WriteString(w, text)
		return err
	}

	buf, err := be.Generate(prog, cfg)
	if err != nil {
		return fmt.Errorf("backend code generation failed: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}

func runSample(stdout, stderr io.Writer, s *samples.Sample, cfg *config.Config, stats bool) {
	res, err := samples.Run(s, cfg)
	if err != nil {
		var ice *util.ICE
		if errors.As(err, &ice) {
			util.ReportICE(ice)
		}
		util.Error(token.Token{FileIndex: -1}, "%v", err)
	}

	fmt.Fprint(stdout, res.Output)
	var status []string
	status = append(status, fmt.Sprintf("returned %d", res.Value))
	if res.Panic != "" {
		status = append(status, fmt.Sprintf("panicked: %s", res.Panic))
	}
	if res.Leaked > 0 {
		status = append(status, fmt.Sprintf("leaked %d blocks", res.Leaked))
	}
	fmt.Fprintf(stderr, "%s: %s\n", s.Name, strings.Join(status, ", "))
	if stats {
		fmt.Fprintf(stderr, "%s: %s\n", s.Name, res.Stats)
	}
}
