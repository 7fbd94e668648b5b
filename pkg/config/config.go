package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xplshn/trans/pkg/cli"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatUnwindChecks Feature = iota
	FeatBoxDerefOpt
	FeatSaturatingCasts
	FeatMoveZeroing
	FeatParallel
	FeatDebugNames
	FeatTrace
	FeatCount
)

type Warning int

const (
	WarnUnreachableCode Warning = iota
	WarnUnusedResult
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features       map[Feature]Info
	Warnings       map[Warning]Info
	FeatureMap     map[string]Feature
	WarningMap     map[string]Warning
	ProfileName    string
	TargetArch     string
	QbeTarget      string
	BackendName    string
	WordSize       int
	WordType       string
	StackAlignment int
}

func NewConfig() *Config {
	cfg := &Config{
		Features:       make(map[Feature]Info),
		Warnings:       make(map[Warning]Info),
		FeatureMap:     make(map[string]Feature),
		WarningMap:     make(map[string]Warning),
		BackendName:    "qbe",
		WordSize:       8,
		WordType:       "l",
		StackAlignment: 16,
	}

	features := map[Feature]Info{
		FeatUnwindChecks:    {"unwind-checks", true, "Check for a pending panic after every call and unwind through cleanups."},
		FeatBoxDerefOpt:     {"box-deref-opt", true, "Dereference temporary boxes in place and free only their storage."},
		FeatSaturatingCasts: {"saturating-casts", true, "Saturate float to integer casts and map NaN to zero."},
		FeatMoveZeroing:     {"move-zeroing", true, "Zero the source of a move so its own cleanup becomes a no-op."},
		FeatParallel:        {"parallel", false, "Translate function bodies concurrently."},
		FeatDebugNames:      {"debug-names", false, "Name temporaries after the source bindings they hold."},
		FeatTrace:           {"trace", false, "Trace the translator's decisions on stderr."},
	}

	warnings := map[Warning]Info{
		WarnUnreachableCode: {"unreachable-code", true, "Warn about expressions that can never be evaluated."},
		WarnUnusedResult:    {"unused-result", false, "Warn when a value needing cleanup is discarded right away."},
		WarnExtra:           {"extra", true, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget configures the word size and alignment for a QBE target.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) {
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		fmt.Fprintf(os.Stderr, "trans: info: no target specified, defaulting to host target '%s'\n", c.QbeTarget)
	} else {
		c.QbeTarget = qbeTarget
		fmt.Fprintf(os.Stderr, "trans: info: using specified target '%s'\n", c.QbeTarget)
	}

	c.TargetArch = goarch

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.WordType, c.StackAlignment = 8, "l", 16
	case "arm", "rv32":
		c.WordSize, c.WordType, c.StackAlignment = 4, "w", 8
	default:
		fmt.Fprintf(os.Stderr, "trans: warning: unrecognized or unsupported QBE target '%s'.\n", c.QbeTarget)
		fmt.Fprintf(os.Stderr, "trans: warning: defaulting to 64-bit properties. Assembly may fail.\n")
		c.WordSize, c.WordType, c.StackAlignment = 8, "l", 16
	}
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyProfile switches a group of features at once.
func (c *Config) ApplyProfile(name string) error {
	c.ProfileName = name

	type profileSettings struct {
		feature Feature
		checked bool
		fast    bool
		debug   bool
	}

	settings := []profileSettings{
		{FeatUnwindChecks, true, true, true},
		{FeatBoxDerefOpt, true, true, false},
		{FeatSaturatingCasts, true, false, true},
		{FeatMoveZeroing, true, true, true},
		{FeatParallel, false, true, false},
		{FeatDebugNames, false, false, true},
	}

	switch name {
	case "checked":
		for _, s := range settings {
			c.SetFeature(s.feature, s.checked)
		}
	case "fast":
		for _, s := range settings {
			c.SetFeature(s.feature, s.fast)
		}
	case "debug":
		for _, s := range settings {
			c.SetFeature(s.feature, s.debug)
		}
		c.SetWarning(WarnUnusedResult, true)
	default:
		return fmt.Errorf("unsupported profile '%s'. Supported: 'checked', 'fast', 'debug'", name)
	}
	return nil
}

func (c *Config) applyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
		}
	} else {
		if f, ok := c.FeatureMap[name]; ok {
			c.SetFeature(f, enable)
		}
	}
}

// ProcessFlagString applies space separated -F/-W flags.
func (c *Config) ProcessFlagString(flagStr string) {
	for _, flag := range strings.Fields(flagStr) {
		c.applyFlag(flag)
	}
}

// FlagGroups defines a -F toggle for every feature and a -W toggle for
// every warning. The returned function applies the toggles given on the
// command line and must run after any profile.
func (c *Config) FlagGroups(fs *cli.FlagSet) (apply func()) {
	type toggle struct{ on, off bool }
	feats := make([]toggle, FeatCount)
	warns := make([]toggle, WarnCount)

	fg := cli.FlagGroup{Name: "Feature flags", Prefix: "F", Kind: "feature"}
	for ft := Feature(0); ft < FeatCount; ft++ {
		info := c.Features[ft]
		fg.Toggles = append(fg.Toggles, cli.Toggle{Name: info.Name, Usage: info.Description, Default: info.Enabled, Enabled: &feats[ft].on, Disable: &feats[ft].off})
	}
	wg := cli.FlagGroup{Name: "Warning flags", Prefix: "W", Kind: "warning"}
	for wt := Warning(0); wt < WarnCount; wt++ {
		info := c.Warnings[wt]
		wg.Toggles = append(wg.Toggles, cli.Toggle{Name: info.Name, Usage: info.Description, Default: info.Enabled, Enabled: &warns[wt].on, Disable: &warns[wt].off})
	}
	fs.AddGroup(fg)
	fs.AddGroup(wg)

	return func() {
		for i, t := range feats {
			if t.on || t.off {
				c.SetFeature(Feature(i), t.on && !t.off)
			}
		}
		for i, t := range warns {
			if t.on || t.off {
				c.SetWarning(Warning(i), t.on && !t.off)
			}
		}
	}
}
