package cli

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"
)

type Value interface {
	String() string
	Set(string) error
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': %w", s, err)
	}
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }

// choiceValue accepts one of a fixed set of words
type choiceValue struct {
	p       *string
	choices []string
}

func (v *choiceValue) Set(s string) error {
	if !slices.Contains(v.choices, s) {
		return fmt.Errorf("invalid value '%s' (want %s)", s, strings.Join(v.choices, ", "))
	}
	*v.p = s
	return nil
}
func (v *choiceValue) String() string { return *v.p }

type Flag struct {
	Name      string
	Shorthand string
	Usage     string
	Value     Value
	DefValue  string
	ArgName   string // Placeholder shown in help for flags taking a value
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

// Toggle is one entry of a flag group, set by -<prefix><name> and
// cleared by -<prefix>no-<name>
type Toggle struct {
	Name    string
	Usage   string
	Default bool // Shown in help only
	Enabled *bool
	Disable *bool
}

type FlagGroup struct {
	Name    string
	Prefix  string
	Kind    string // "feature" or "warning", used in help
	Toggles []Toggle
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	groups     []FlagGroup
	args       []string
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{name: name, flags: make(map[string]*Flag), shorthands: make(map[string]*Flag)}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, argName string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, argName)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) List(p *[]string, name, shorthand, usage, argName string) {
	*p = nil
	f.Var(&listValue{p}, name, shorthand, usage, "", argName)
}

// Choice defines a flag restricted to choices; value must be one of them
func (f *FlagSet) Choice(p *string, name, shorthand, value string, choices []string, usage string) {
	*p = value
	f.Var(&choiceValue{p, choices}, name, shorthand, usage, value, strings.Join(choices, "|"))
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, argName string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ArgName: argName}
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok {
			panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
		}
		f.shorthands[shorthand] = flag
	}
}

// AddGroup defines the on and off flags of every toggle in g
func (f *FlagSet) AddGroup(g FlagGroup) {
	for _, t := range g.Toggles {
		if t.Enabled != nil {
			f.Var(&boolValue{t.Enabled}, g.Prefix+t.Name, "", t.Usage, "", "")
		}
		if t.Disable != nil {
			f.Var(&boolValue{t.Disable}, g.Prefix+"no-"+t.Name, "", "Disable '"+t.Name+"'", "", "")
		}
	}
	f.groups = append(f.groups, g)
}

func (f *FlagSet) inGroup(name string) bool {
	for _, g := range f.groups {
		for _, t := range g.Toggles {
			if name == g.Prefix+t.Name || name == g.Prefix+"no-"+t.Name {
				return true
			}
		}
	}
	return false
}

// Parse accepts -name, -name=value, -name value, --name forms, grouped
// shorthands with attached values (-ofile) and "--" ending the flags
func (f *FlagSet) Parse(arguments []string) error {
	f.args = nil
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			return fmt.Errorf("empty flag name: %s", arg)
		}
		flag, ok := f.flags[name]
		if !ok && !strings.HasPrefix(arg, "--") {
			if flag, ok = f.shorthands[name[:1]]; ok && len(name) > 1 && !hasValue {
				value, hasValue = name[1:], true
			}
		}
		if !ok {
			return fmt.Errorf("unknown flag: %s", arg)
		}

		switch {
		case hasValue:
		case flag.isBool():
			value = ""
		case i+1 < len(arguments):
			i++
			value = arguments[i]
		default:
			return fmt.Errorf("flag needs an argument: %s", arg)
		}
		if err := flag.Value.Set(value); err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
	}
	return nil
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	FlagSet     *FlagSet
	Action      func(args []string) error

	Stdout, Stderr io.Writer
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name), Stdout: os.Stdout, Stderr: os.Stderr}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(a.Stderr, err)
		fmt.Fprintf(a.Stderr, "Run '%s --help' for all available options and flags.\n", a.Name)
		return err
	}
	if help {
		a.WriteHelp(a.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

// WriteHelp prints the synopsis, the options and every flag group,
// wrapping usage text to the terminal width
func (a *App) WriteHelp(w io.Writer) {
	var sb strings.Builder
	width := terminalWidth()

	fmt.Fprintf(&sb, "Usage: %s %s\n", a.Name, a.Synopsis)
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%s%s\n", indent(1), a.Description)
	}

	var opts []*Flag
	for _, fl := range a.FlagSet.flags {
		if !a.FlagSet.inGroup(fl.Name) {
			opts = append(opts, fl)
		}
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].Name < opts[j].Name })

	left := 0
	for _, fl := range opts {
		left = max(left, len(flagSpelling(fl)))
	}
	for _, g := range a.FlagSet.groups {
		left = max(left, len(fmt.Sprintf("-%sno-<%s>", g.Prefix, g.Kind)))
		for _, t := range g.Toggles {
			left = max(left, len(t.Name))
		}
	}

	if len(opts) > 0 {
		fmt.Fprintf(&sb, "\n%sOptions\n", indent(1))
		for _, fl := range opts {
			right := ""
			if !fl.isBool() && fl.DefValue != "" {
				right = "|" + fl.DefValue + "|"
			}
			writeEntry(&sb, width, left, flagSpelling(fl), fl.Usage, right)
		}
	}

	for _, g := range a.FlagSet.groups {
		fmt.Fprintf(&sb, "\n%s%s\n", indent(1), g.Name)
		writeEntry(&sb, width, left, fmt.Sprintf("-%s<%s>", g.Prefix, g.Kind), "Enable a specific "+g.Kind, "")
		writeEntry(&sb, width, left, fmt.Sprintf("-%sno-<%s>", g.Prefix, g.Kind), "Disable a specific "+g.Kind, "")
		toggles := slices.Clone(g.Toggles)
		sort.Slice(toggles, func(i, j int) bool { return toggles[i].Name < toggles[j].Name })
		for _, t := range toggles {
			mark := "|-|"
			if t.Default {
				mark = "|x|"
			}
			writeEntry(&sb, width, left, t.Name, t.Usage, mark)
		}
	}
	fmt.Fprint(w, sb.String())
}

func indent(level int) string { return strings.Repeat(" ", 4*level) }

func flagSpelling(fl *Flag) string {
	var sb strings.Builder
	if fl.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s, ", fl.Shorthand)
	}
	fmt.Fprintf(&sb, "--%s", fl.Name)
	if !fl.isBool() && fl.ArgName != "" {
		fmt.Fprintf(&sb, " <%s>", fl.ArgName)
	}
	return sb.String()
}

func writeEntry(sb *strings.Builder, width, left int, name, usage, right string) {
	pad := indent(2)
	avail := max(width-len(pad)-left-len(right)-3, 10)
	lines := wrapText(usage, avail)
	first := ""
	if len(lines) > 0 {
		first = lines[0]
	}
	if right != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", pad, left, name, avail, first, right)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", pad, left, name, first)
	}
	for _, l := range lines[min(1, len(lines)):] {
		fmt.Fprintf(sb, "%s%s %s\n", pad, strings.Repeat(" ", left), l)
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return max(width, 20)
}

func wrapText(text string, maxWidth int) []string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > maxWidth {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}
