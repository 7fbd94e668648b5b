package config

import (
	"testing"

	"github.com/xplshn/trans/pkg/cli"
)

func TestApplyProfile(t *testing.T) {
	tests := []struct {
		profile string
		on      []Feature
		off     []Feature
	}{
		{"checked", []Feature{FeatUnwindChecks, FeatSaturatingCasts}, []Feature{FeatParallel, FeatDebugNames}},
		{"fast", []Feature{FeatParallel, FeatBoxDerefOpt}, []Feature{FeatSaturatingCasts}},
		{"debug", []Feature{FeatDebugNames, FeatUnwindChecks}, []Feature{FeatBoxDerefOpt, FeatParallel}},
	}
	for _, tt := range tests {
		cfg := NewConfig()
		if err := cfg.ApplyProfile(tt.profile); err != nil {
			t.Fatalf("ApplyProfile(%q): %v", tt.profile, err)
		}
		for _, ft := range tt.on {
			if !cfg.IsFeatureEnabled(ft) {
				t.Errorf("%s: %s disabled", tt.profile, cfg.Features[ft].Name)
			}
		}
		for _, ft := range tt.off {
			if cfg.IsFeatureEnabled(ft) {
				t.Errorf("%s: %s enabled", tt.profile, cfg.Features[ft].Name)
			}
		}
	}
	if err := NewConfig().ApplyProfile("turbo"); err == nil {
		t.Error("unknown profile accepted")
	}
}

func TestProcessFlagString(t *testing.T) {
	cfg := NewConfig()
	cfg.ProcessFlagString("-Fparallel -Fno-move-zeroing -Wunused-result -Wno-extra")
	if !cfg.IsFeatureEnabled(FeatParallel) || cfg.IsFeatureEnabled(FeatMoveZeroing) {
		t.Error("feature flags not applied")
	}
	if !cfg.IsWarningEnabled(WarnUnusedResult) || cfg.IsWarningEnabled(WarnExtra) {
		t.Error("warning flags not applied")
	}

	cfg.ProcessFlagString("-Wno-all")
	for wt := Warning(0); wt < WarnCount; wt++ {
		if cfg.IsWarningEnabled(wt) {
			t.Errorf("-Wno-all left %s enabled", cfg.Warnings[wt].Name)
		}
	}
}

func TestFlagGroupsOverrideProfile(t *testing.T) {
	cfg := NewConfig()
	fs := cli.NewFlagSet("test")
	apply := cfg.FlagGroups(fs)
	if err := fs.Parse([]string{"-Fno-parallel", "-Ftrace", "-Wno-unreachable-code"}); err != nil {
		t.Fatal(err)
	}

	if err := cfg.ApplyProfile("fast"); err != nil {
		t.Fatal(err)
	}
	apply()

	if cfg.IsFeatureEnabled(FeatParallel) {
		t.Error("-Fno-parallel lost to the profile")
	}
	if !cfg.IsFeatureEnabled(FeatTrace) {
		t.Error("-Ftrace not applied")
	}
	if !cfg.IsFeatureEnabled(FeatBoxDerefOpt) {
		t.Error("untouched feature changed")
	}
	if cfg.IsWarningEnabled(WarnUnreachableCode) || !cfg.IsWarningEnabled(WarnExtra) {
		t.Error("warning toggles not applied")
	}
}

func TestSetTarget(t *testing.T) {
	cfg := NewConfig()
	cfg.SetTarget("linux", "arm", "rv32")
	if cfg.WordSize != 4 || cfg.WordType != "w" {
		t.Errorf("rv32: word %d %s", cfg.WordSize, cfg.WordType)
	}
	cfg.SetTarget("linux", "amd64", "amd64_sysv")
	if cfg.WordSize != 8 || cfg.StackAlignment != 16 {
		t.Errorf("amd64_sysv: word %d align %d", cfg.WordSize, cfg.StackAlignment)
	}
}
