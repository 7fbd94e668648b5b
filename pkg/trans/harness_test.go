package trans

import (
	"testing"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/interp"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/typeck"
)

var pos = ast.NoPos

// resTy is a struct with a destructor; the harness records the id of
// every value it destroys
var resTy = ast.NewStruct("Res", []ast.StructField{{Name: "id", Type: ast.TypeInt}}, "res_drop")

// crate assembles typed trees and runs them
type crate struct {
	t      *testing.T
	cfg    *config.Config
	tables *typeck.Tables
	decls  ast.Crate
	drops  []int64
	seen   []int // len(drops) at each observe
	calls  map[string]int
	prog   *ir.Program
	m      *interp.Machine
}

func newCrate(t *testing.T) *crate {
	t.Helper()
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnUnreachableCode, false)
	return &crate{t: t, cfg: cfg, tables: typeck.NewTables(), calls: make(map[string]int)}
}

func (c *crate) fn(name string, params []ast.Param, ret *ast.Type, body *ast.Node) *ast.FnDecl {
	d := &ast.FnDecl{Tok: pos, Name: name, Params: params, Ret: ret, Body: body}
	c.decls.Fns = append(c.decls.Fns, d)
	return d
}

func (c *crate) translate() *ir.Program {
	c.t.Helper()
	if c.prog != nil {
		return c.prog
	}
	prog, err := TranslateProgram(c.cfg, c.tables, &c.decls)
	if err != nil {
		c.t.Fatalf("TranslateProgram: %v", err)
	}
	c.prog = prog
	return prog
}

func (c *crate) machine() *interp.Machine {
	c.t.Helper()
	if c.m != nil {
		return c.m
	}
	m, err := interp.New(c.translate())
	if err != nil {
		c.t.Fatalf("interp.New: %v", err)
	}
	m.Externs["res_drop"] = func(m *interp.Machine, args []uint64) uint64 {
		id, err := m.Load(args[0], ir.TypeL)
		if err != nil {
			c.t.Fatalf("res_drop: %v", err)
		}
		c.drops = append(c.drops, int64(id))
		return 0
	}
	m.Externs["boom"] = func(m *interp.Machine, args []uint64) uint64 {
		c.calls["boom"]++
		m.Raise("boom")
		return 0
	}
	m.Externs["observe"] = func(m *interp.Machine, args []uint64) uint64 {
		c.calls["observe"]++
		c.seen = append(c.seen, len(c.drops))
		return 0
	}
	m.Externs["yes"] = func(m *interp.Machine, args []uint64) uint64 {
		c.calls["yes"]++
		return 1
	}
	c.m = m
	return m
}

// run calls fn and fails the test on an interpreter fault
func (c *crate) run(fn string, args ...uint64) uint64 {
	c.t.Helper()
	res, err := c.machine().Call(fn, args...)
	if err != nil {
		c.t.Fatalf("%s: %v", fn, err)
	}
	return res
}

// panicked returns the pending panic message, or "" when none is pending
func (c *crate) panicked() string {
	msg, ok := c.machine().Panicking()
	if !ok {
		return ""
	}
	return msg
}

// leaks fails the test when heap memory is still allocated
func (c *crate) noLeaks() {
	c.t.Helper()
	if live := c.machine().LiveBlocks(); len(live) != 0 {
		c.t.Errorf("%d heap blocks leaked: %#x", len(live), live)
	}
}

// --- tree builders ---

func num(v int64) *ast.Node                { return ast.NewInt(pos, v, ast.TypeInt) }
func numOf(v int64, t *ast.Type) *ast.Node { return ast.NewInt(pos, v, t) }
func boolean(v bool) *ast.Node             { return ast.NewBool(pos, v) }
func unit() *ast.Node                      { return ast.NewUnit(pos) }

func block(stmts []*ast.Node, expr *ast.Node) *ast.Node { return ast.NewBlock(pos, stmts, expr) }
func stmts(s ...*ast.Node) []*ast.Node                  { return s }

func let(name string, ty *ast.Type, init *ast.Node) *ast.Node { return ast.NewLet(pos, name, ty, init) }

// use refers to the local a let statement introduced
func (c *crate) use(l *ast.Node) *ast.Node {
	ln := l.Data.(ast.LetNode)
	p := ast.NewPath(pos, ln.Name, ln.Ty)
	return c.tables.Resolve(p, typeck.Def{Kind: typeck.DefLocal, ID: ln.Local})
}

func (c *crate) arg(p ast.Param) *ast.Node {
	return c.tables.Resolve(ast.NewPath(pos, p.Name, p.Ty), typeck.Def{Kind: typeck.DefArg, ID: p.Local})
}

// fnRef refers to a function by symbol; externs are implemented by the
// harness
func (c *crate) fnRef(name string, fty *ast.Type) *ast.Node {
	return c.tables.Resolve(ast.NewPath(pos, name, fty), typeck.Def{Kind: typeck.DefFn, Name: name})
}

func (c *crate) call(name string, fty *ast.Type, args ...*ast.Node) *ast.Node {
	return ast.NewCall(pos, c.fnRef(name, fty), args, fty.Ret)
}

func (c *crate) boom() *ast.Node {
	return c.call("boom", ast.NewFn(nil, ast.TypeInt))
}

func res(id int64) *ast.Node {
	return ast.NewStructLit(pos, resTy, []ast.FieldInit{{Name: "id", Expr: num(id)}}, nil)
}

func resField(r *ast.Node) *ast.Node { return ast.NewField(pos, r, "id", ast.TypeInt) }

func bin(op token.Type, a, b *ast.Node, t *ast.Type) *ast.Node { return ast.NewBinary(pos, op, a, b, t) }

func deref(e *ast.Node) *ast.Node { return ast.NewDeref(pos, e, e.Typ.Base) }

func boxed(e *ast.Node) *ast.Node { return ast.NewBoxExpr(pos, ast.HeapUnique, e) }

func observe(args ...*ast.Node) *ast.Node { return ast.NewInlineAsm(pos, "observe", args) }

func signed32(v uint64) int64 { return int64(int32(uint32(v))) }
