// Package samples holds small typed programs that exercise the translator
// end to end. Drivers translate them, run them in the interpreter or hand
// them to a backend.
package samples

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"sort"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/interp"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/trans"
	"github.com/xplshn/trans/pkg/typeck"
)

type Sample struct {
	Name        string
	Description string
	Entry       string // Function Run calls, taking no arguments
	build       func(b *Builder)
}

// Crate builds a fresh typed crate for the sample
func (s *Sample) Crate() (*typeck.Tables, *ast.Crate) {
	b := &Builder{Tables: typeck.NewTables()}
	s.build(b)
	return b.Tables, &b.Crate
}

var registry = map[string]*Sample{}

func register(s *Sample) { registry[s.Name] = s }

// All returns every sample sorted by name
func All() []*Sample {
	out := make([]*Sample, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Lookup(name string) (*Sample, bool) {
	s, ok := registry[name]
	return s, ok
}

// Translate lowers the sample to IR
func Translate(s *Sample, cfg *config.Config) (*ir.Program, error) {
	tables, crate := s.Crate()
	return trans.TranslateProgram(cfg, tables, crate)
}

type Result struct {
	Output string // Everything the host functions printed
	Value  int64  // Return value of the entry point
	Panic  string // Pending panic message, empty when none
	Leaked int    // Heap blocks still allocated after the run
	Stats  interp.Stats
}

// Run translates s and executes its entry point in the interpreter
func Run(s *Sample, cfg *config.Config) (*Result, error) {
	prog, err := Translate(s, cfg)
	if err != nil {
		return nil, err
	}
	m, err := interp.New(prog)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", s.Name, err)
	}
	var out bytes.Buffer
	maps.Copy(m.Externs, Externs(&out))

	v, err := m.Call(s.Entry)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", s.Name, err)
	}
	r := &Result{Output: out.String(), Value: int64(v), Leaked: len(m.LiveBlocks()), Stats: m.Stats()}
	if msg, ok := m.Panicking(); ok {
		r.Panic = msg
	}
	return r, nil
}

// Externs returns the host functions samples call, printing to w
func Externs(w io.Writer) map[string]interp.Extern {
	return map[string]interp.Extern{
		"print_int": func(m *interp.Machine, args []uint64) uint64 {
			fmt.Fprintf(w, "%d\n", int64(args[0]))
			return 0
		},
		"res_drop": func(m *interp.Machine, args []uint64) uint64 {
			id, err := m.Load(args[0], ir.TypeL)
			if err != nil {
				m.Raise(err.Error())
				return 0
			}
			fmt.Fprintf(w, "drop %d\n", int64(id))
			return 0
		},
	}
}

// Builder assembles a typed crate, resolving paths as the type checker
// would
type Builder struct {
	Tables *typeck.Tables
	Crate  ast.Crate
}

var pos = ast.NoPos

func (b *Builder) Fn(name string, params []ast.Param, ret *ast.Type, body *ast.Node) {
	b.Crate.Fns = append(b.Crate.Fns, &ast.FnDecl{Tok: pos, Name: name, Params: params, Ret: ret, Body: body})
}

// Use refers to the local a let statement introduced
func (b *Builder) Use(let *ast.Node) *ast.Node {
	ln := let.Data.(ast.LetNode)
	return b.Tables.Resolve(ast.NewPath(pos, ln.Name, ln.Ty), typeck.Def{Kind: typeck.DefLocal, ID: ln.Local})
}

// Upvar refers to a local captured by the closure being built
func (b *Builder) Upvar(let *ast.Node) *ast.Node {
	ln := let.Data.(ast.LetNode)
	return b.Tables.Resolve(ast.NewPath(pos, ln.Name, ln.Ty), typeck.Def{Kind: typeck.DefUpvar, ID: ln.Local})
}

func (b *Builder) Arg(p ast.Param) *ast.Node {
	return b.Tables.Resolve(ast.NewPath(pos, p.Name, p.Ty), typeck.Def{Kind: typeck.DefArg, ID: p.Local})
}

func (b *Builder) Call(name string, fty *ast.Type, args ...*ast.Node) *ast.Node {
	callee := b.Tables.Resolve(ast.NewPath(pos, name, fty), typeck.Def{Kind: typeck.DefFn, Name: name})
	return ast.NewCall(pos, callee, args, fty.Ret)
}

// Variant builds an enum value, calling the constructor when it has fields
func (b *Builder) Variant(enum *ast.Type, name string, args ...*ast.Node) *ast.Node {
	vi := enum.VariantIndex(name)
	path := b.Tables.Resolve(ast.NewPath(pos, name, enum), typeck.Def{Kind: typeck.DefVariant, Enum: enum, Variant: vi})
	if len(args) == 0 {
		return path
	}
	return ast.NewCall(pos, path, args, enum)
}

// Bind introduces a pattern binding and returns it with a path to it
func (b *Builder) Bind(name string, field int, ty *ast.Type) (ast.Binding, *ast.Node) {
	bd := ast.Binding{ID: ast.FreshID(), Name: name, Field: field}
	return bd, b.Tables.Resolve(ast.NewPath(pos, name, ty), typeck.Def{Kind: typeck.DefLocal, ID: bd.ID})
}

func num(v int64) *ast.Node { return ast.NewInt(pos, v, ast.TypeInt) }

func bin(op token.Type, a, c *ast.Node) *ast.Node {
	t := ast.TypeInt
	if op.IsComparison() {
		t = ast.TypeBool
	}
	return ast.NewBinary(pos, op, a, c, t)
}

func block(stmts []*ast.Node, expr *ast.Node) *ast.Node { return ast.NewBlock(pos, stmts, expr) }
func stmts(s ...*ast.Node) []*ast.Node                  { return s }

func let(name string, ty *ast.Type, init *ast.Node) *ast.Node { return ast.NewLet(pos, name, ty, init) }

func field(e *ast.Node, name string) *ast.Node {
	return ast.NewField(pos, e, name, e.Typ.Fields[e.Typ.FieldIndex(name)].Type)
}

func deref(e *ast.Node) *ast.Node { return ast.NewDeref(pos, e, e.Typ.Base) }

// show calls the host's print_int
func show(e *ast.Node) *ast.Node { return ast.NewInlineAsm(pos, "print_int", []*ast.Node{e}) }
