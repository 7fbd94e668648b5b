//go:build !windows

package codegen

import (
	"runtime"
	"strings"
	"testing"

	"github.com/xplshn/trans/pkg/config"
)

func TestQBEAssembles(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetTarget(runtime.GOOS, runtime.GOARCH, "")
	asm, err := NewQBEBackend().Generate(absSum(), cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(asm.String(), "sum") {
		t.Errorf("assembly does not define sum:\n%s", asm)
	}
}
