package codegen

import (
	"bytes"
	"fmt"

	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes an IR program and a configuration, and produces the target
	// assembly or intermediate language as a byte buffer.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
	// GenerateIR renders the program in the backend's own textual IR,
	// before any assembly step.
	GenerateIR(prog *ir.Program, cfg *config.Config) (string, error)
}

// NewBackend returns the backend registered under name
func NewBackend(name string) (Backend, error) {
	switch name {
	case "qbe":
		return NewQBEBackend(), nil
	case "llvm":
		return NewLLVMBackend(), nil
	}
	return nil, fmt.Errorf("unknown backend '%s' (want qbe or llvm)", name)
}
