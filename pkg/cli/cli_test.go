package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestSet() (*FlagSet, *string, *bool, *[]string, *string) {
	fs := NewFlagSet("test")
	var out, backend string
	var run bool
	var libs []string
	fs.String(&out, "output", "o", "a.out", "Output file.", "file")
	fs.Bool(&run, "run", "r", false, "Run it.")
	fs.List(&libs, "lib", "L", "Library.", "lib")
	fs.Choice(&backend, "backend", "b", "qbe", []string{"qbe", "llvm"}, "Backend.")
	return fs, &out, &run, &libs, &backend
}

func TestParseForms(t *testing.T) {
	tests := []struct {
		args    []string
		out     string
		run     bool
		libs    []string
		backend string
		rest    []string
	}{
		{args: nil, out: "a.out", backend: "qbe"},
		{args: []string{"-o", "x", "-r"}, out: "x", run: true, backend: "qbe"},
		{args: []string{"--output=y", "--run=false"}, out: "y", backend: "qbe"},
		{args: []string{"-oz", "-Lm", "-L", "c", "in"}, out: "z", libs: []string{"m", "c"}, backend: "qbe", rest: []string{"in"}},
		{args: []string{"-backend", "llvm", "--", "-r"}, out: "a.out", backend: "llvm", rest: []string{"-r"}},
	}
	for _, tt := range tests {
		fs, out, run, libs, backend := newTestSet()
		if err := fs.Parse(tt.args); err != nil {
			t.Fatalf("Parse(%q): %v", tt.args, err)
		}
		got := []interface{}{*out, *run, *libs, *backend, fs.Args()}
		want := []interface{}{tt.out, tt.run, tt.libs, tt.backend, tt.rest}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.args, diff)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, args := range [][]string{
		{"-backend", "gcc"},
		{"--nope"},
		{"-o"},
		{"-run=maybe"},
		{"-="},
	} {
		fs, _, _, _, _ := newTestSet()
		if err := fs.Parse(args); err == nil {
			t.Errorf("Parse(%q) succeeded, want an error", args)
		}
	}
}

func TestGroups(t *testing.T) {
	fs := NewFlagSet("test")
	var on, off bool
	fs.AddGroup(FlagGroup{Name: "Feature flags", Prefix: "F", Kind: "feature", Toggles: []Toggle{
		{Name: "trace", Usage: "Trace.", Enabled: &on, Disable: &off},
	}})
	if err := fs.Parse([]string{"-Ftrace", "-Fno-trace"}); err != nil {
		t.Fatal(err)
	}
	if !on || !off {
		t.Errorf("toggles = %v, %v; want both set", on, off)
	}
	if fs.Lookup("Ftrace") == nil || fs.Lookup("Fno-trace") == nil {
		t.Error("group flags not registered")
	}
}

func TestWriteHelp(t *testing.T) {
	app := NewApp("tool")
	app.Synopsis = "[options] <input>"
	var out string
	var a, b bool
	app.FlagSet.String(&out, "output", "o", "a.out", "Place the output into <file>.", "file")
	app.FlagSet.AddGroup(FlagGroup{Name: "Warning flags", Prefix: "W", Kind: "warning", Toggles: []Toggle{
		{Name: "extra", Usage: "Extra warnings.", Default: true, Enabled: &a},
		{Name: "pedantic", Usage: "Pedantic warnings.", Enabled: &b},
	}})

	var buf bytes.Buffer
	app.WriteHelp(&buf)
	help := buf.String()
	for _, want := range []string{
		"Usage: tool [options] <input>",
		"-o, --output <file>",
		"|a.out|",
		"Warning flags",
		"-Wno-<warning>",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help lacks %q:\n%s", want, help)
		}
	}
	extra := strings.Index(help, "extra")
	pedantic := strings.Index(help, "pedantic")
	if extra < 0 || pedantic < extra {
		t.Fatalf("toggles missing or unsorted:\n%s", help)
	}
	if !strings.Contains(help[extra:pedantic], "|x|") || !strings.Contains(help[pedantic:], "|-|") {
		t.Errorf("default marks wrong:\n%s", help)
	}
	if strings.Contains(help, "Wextra") {
		t.Errorf("group toggle listed as an option:\n%s", help)
	}
}

func TestRunHelp(t *testing.T) {
	app := NewApp("tool")
	var stdout, stderr bytes.Buffer
	app.Stdout, app.Stderr = &stdout, &stderr
	called := false
	app.Action = func([]string) error { called = true; return nil }

	if err := app.Run([]string{"--help"}); err != nil {
		t.Fatal(err)
	}
	if called || !strings.Contains(stdout.String(), "Usage: tool") {
		t.Errorf("help run: called=%v stdout=%q", called, stdout.String())
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9)
	want := []string{"one two", "three", "four"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("wrapText mismatch (-want +got):\n%s", diff)
	}
}
