package trans

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/typeck"
)

var (
	pairTy = ast.NewStruct("Pair", []ast.StructField{{Name: "a", Type: ast.TypeInt}, {Name: "b", Type: ast.TypeInt}}, "")
	twoTy  = ast.NewStruct("Two", []ast.StructField{{Name: "x", Type: resTy}, {Name: "y", Type: resTy}}, "")
	optTy  = ast.NewEnum("Opt", []ast.Variant{{Name: "None"}, {Name: "Some", Disr: 1, Fields: []*ast.Type{ast.NewBox(resTy)}}})
)

func field(e *ast.Node, name string) *ast.Node {
	return ast.NewField(pos, e, name, e.Typ.Fields[e.Typ.FieldIndex(name)].Type)
}

func (c *crate) variant(enum *ast.Type, name string, args ...*ast.Node) *ast.Node {
	vi := enum.VariantIndex(name)
	path := c.tables.Resolve(ast.NewPath(pos, name, enum), typeck.Def{Kind: typeck.DefVariant, Enum: enum, Variant: vi})
	if len(args) == 0 {
		return path
	}
	return ast.NewCall(pos, path, args, enum)
}

func TestStructLiteral(t *testing.T) {
	c := newCrate(t)
	lit := ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "b", Expr: num(2)}, {Name: "a", Expr: num(40)}}, nil)
	p := let("p", pairTy, lit)
	c.fn("main", nil, ast.TypeInt, block(stmts(p),
		bin(token.Minus, field(c.use(p), "a"), field(c.use(p), "b"), ast.TypeInt)))
	if got := c.run("main"); got != 38 {
		t.Errorf("p.a - p.b = %d, want 38", got)
	}
}

func TestTupleFields(t *testing.T) {
	c := newCrate(t)
	tup := ast.NewTuple(pos, []*ast.Node{num(7), boolean(true), res(1)})
	x := let("x", tup.Typ, tup)
	c.fn("main", nil, ast.TypeInt, block(stmts(x), ast.NewTupField(pos, c.use(x), 0, ast.TypeInt)))
	if got := c.run("main"); got != 7 {
		t.Errorf("x.0 = %d, want 7", got)
	}
	if diff := cmp.Diff([]int64{1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestPartialAggregateDropsBuiltFields(t *testing.T) {
	c := newCrate(t)
	tup := ast.NewTuple(pos, []*ast.Node{res(1), res(2), c.boom(), res(3)})
	c.fn("main", nil, ast.TypeNil, block(stmts(let("t", tup.Typ, tup)), nil))

	c.run("main")
	if got := c.panicked(); got != "boom" {
		t.Fatalf("panic = %q, want boom", got)
	}
	if diff := cmp.Diff([]int64{2, 1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}

func TestPartialBoxFreesWithoutDestructor(t *testing.T) {
	c := newCrate(t)
	lit := ast.NewStructLit(pos, resTy, []ast.FieldInit{{Name: "id", Expr: c.boom()}}, nil)
	c.fn("main", nil, ast.TypeNil, block(stmts(boxed(lit)), nil))

	c.run("main")
	if c.panicked() == "" {
		t.Fatalf("no panic pending")
	}
	if len(c.drops) != 0 {
		t.Errorf("destructor ran on contents that were never built: %v", c.drops)
	}
	c.noLeaks()
}

func TestIgnoredAggregateKeepsSideEffects(t *testing.T) {
	c := newCrate(t)
	lit := ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: num(1)}, {Name: "b", Expr: c.call("yes", ast.NewFn(nil, ast.TypeInt))}}, nil)
	c.fn("main", nil, ast.TypeNil, block(stmts(lit), nil))
	c.run("main")
	if c.calls["yes"] != 1 {
		t.Errorf("field initializer ran %d times, want 1", c.calls["yes"])
	}
}

func TestStructBaseMovesRemainingFields(t *testing.T) {
	c := newCrate(t)
	a := let("a", twoTy, ast.NewStructLit(pos, twoTy, []ast.FieldInit{{Name: "x", Expr: res(1)}, {Name: "y", Expr: res(2)}}, nil))
	b := let("b", twoTy, ast.NewStructLit(pos, twoTy, []ast.FieldInit{{Name: "x", Expr: res(3)}}, c.use(a)))
	c.fn("main", nil, ast.TypeInt, block(stmts(a, b), resField(field(c.use(b), "y"))))

	if got := c.run("main"); got != 2 {
		t.Errorf("b.y.id = %d, want 2", got)
	}
	// b drops x then y; a keeps only x, y was moved out
	if diff := cmp.Diff([]int64{3, 2, 1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumPayloadIsDropped(t *testing.T) {
	c := newCrate(t)
	some := let("some", optTy, c.variant(optTy, "Some", boxed(res(9))))
	none := let("none", optTy, c.variant(optTy, "None"))
	c.fn("main", nil, ast.TypeNil, block(stmts(some, none), nil))

	c.run("main")
	if diff := cmp.Diff([]int64{9}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}

func TestUninitializedLocalIsEmpty(t *testing.T) {
	c := newCrate(t)
	c.fn("main", nil, ast.TypeNil, block(stmts(let("r", ast.NewBox(resTy), nil)), nil))
	c.run("main")
	if len(c.drops) != 0 {
		t.Errorf("zeroed local ran a destructor: %v", c.drops)
	}
}
