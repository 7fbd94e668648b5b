package trans

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/typeck"
)

func index(seq, idx *ast.Node) *ast.Node {
	return ast.NewIndex(pos, seq, idx, seq.Typ.Base)
}

func ints(vs ...int64) []*ast.Node {
	out := make([]*ast.Node, len(vs))
	for i, v := range vs {
		out[i] = num(v)
	}
	return out
}

func TestArrayIndex(t *testing.T) {
	c := newCrate(t)
	arrTy := ast.NewArray(ast.TypeInt, 3)
	i := ast.NewParam("i", ast.TypeInt)
	a := let("a", arrTy, ast.NewVecLit(pos, ints(10, 20, 30), arrTy))
	c.fn("at", []ast.Param{i}, ast.TypeInt, block(stmts(a), index(c.use(a), c.arg(i))))

	if got := c.run("at", 1); got != 20 {
		t.Errorf("a[1] = %d, want 20", got)
	}
	if got := c.run("at", 5); got != 0 {
		t.Errorf("a[5] returned %d", got)
	}
	want := "index out of bounds: the len is 3 but the index is 5"
	if got := c.panicked(); got != want {
		t.Errorf("panic = %q, want %q", got, want)
	}
}

func TestNegativeIndexIsOutOfBounds(t *testing.T) {
	c := newCrate(t)
	arrTy := ast.NewArray(ast.TypeInt, 2)
	i := ast.NewParam("i", ast.TypeI8)
	a := let("a", arrTy, ast.NewVecLit(pos, ints(1, 2), arrTy))
	c.fn("at", []ast.Param{i}, ast.TypeInt, block(stmts(a), index(c.use(a), c.arg(i))))

	c.run("at", 0xFFFFFFFF)
	if c.panicked() == "" {
		t.Errorf("a[-1] did not fail")
	}
}

func TestOwnedVector(t *testing.T) {
	c := newCrate(t)
	vecTy := ast.NewVec(resTy)
	i := ast.NewParam("i", ast.TypeUint)
	v := let("v", vecTy, ast.NewVecLit(pos, []*ast.Node{res(1), res(2), res(3)}, vecTy))
	c.fn("at", []ast.Param{i}, ast.TypeInt, block(stmts(v), resField(index(c.use(v), c.arg(i)))))

	if got := c.run("at", 2); got != 3 {
		t.Errorf("v[2].id = %d, want 3", got)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()

	c.drops = nil
	c.run("at", 3)
	if got, want := c.panicked(), "index out of bounds: the len is 3 but the index is 3"; got != want {
		t.Errorf("panic = %q, want %q", got, want)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, c.drops); diff != "" {
		t.Errorf("unwinding drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}

func TestPartialVectorLiteral(t *testing.T) {
	c := newCrate(t)
	vecTy := ast.NewVec(resTy)
	failing := ast.NewStructLit(pos, resTy, []ast.FieldInit{{Name: "id", Expr: c.boom()}}, nil)
	lit := ast.NewVecLit(pos, []*ast.Node{res(1), res(2), failing}, vecTy)
	c.fn("main", nil, ast.TypeNil, block(stmts(let("v", vecTy, lit)), nil))

	c.run("main")
	if c.panicked() != "boom" {
		t.Fatalf("no panic pending")
	}
	if diff := cmp.Diff([]int64{2, 1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}

func TestRepeat(t *testing.T) {
	c := newCrate(t)
	arrTy := ast.NewArray(ast.TypeInt, 4)
	vecTy := ast.NewVec(ast.TypeInt)
	a := let("a", arrTy, ast.NewRepeat(pos, num(7), 4, arrTy))
	v := let("v", vecTy, ast.NewRepeat(pos, num(5), 3, vecTy))
	sum := bin(token.Plus, index(c.use(a), num(3)), index(c.use(v), num(2)), ast.TypeInt)
	c.fn("main", nil, ast.TypeInt, block(stmts(a, v), sum))

	if got := c.run("main"); got != 12 {
		t.Errorf("a[3] + v[2] = %d, want 12", got)
	}
	c.noLeaks()
}

func TestSliceAutoborrow(t *testing.T) {
	c := newCrate(t)
	sliceTy := ast.NewSlice(ast.TypeInt)
	s := ast.NewParam("s", sliceTy)
	sumTy := ast.NewFn([]*ast.Type{sliceTy}, ast.TypeInt)
	c.fn("sum", []ast.Param{s}, ast.TypeInt,
		bin(token.Plus, index(c.arg(s), num(0)), index(c.arg(s), num(2)), ast.TypeInt))

	vecTy := ast.NewVec(ast.TypeInt)
	arrTy := ast.NewArray(ast.TypeInt, 3)
	v := let("v", vecTy, ast.NewVecLit(pos, ints(1, 2, 3), vecTy))
	a := let("a", arrTy, ast.NewVecLit(pos, ints(10, 20, 30), arrTy))
	borrow := func(e *ast.Node) *ast.Node {
		return c.tables.Adjust(e, typeck.DerefRef{Autoref: &typeck.AutoRef{Kind: typeck.AutoBorrowVec}})
	}
	c.fn("main", nil, ast.TypeInt, block(stmts(v, a),
		bin(token.Plus, c.call("sum", sumTy, borrow(c.use(v))), c.call("sum", sumTy, borrow(c.use(a))), ast.TypeInt)))

	if got := c.run("main"); got != 44 {
		t.Errorf("sum(v) + sum(a) = %d, want 44", got)
	}
	c.noLeaks()
}

func TestStringLiterals(t *testing.T) {
	c := newCrate(t)
	owned := ast.NewOwnedStr()
	s := let("s", ast.TypeStr, ast.NewStr(pos, "hello", ast.TypeStr))
	o := let("o", owned, ast.NewStr(pos, "world", owned))
	at := func(e *ast.Node, i int64) *ast.Node {
		return ast.NewCast(pos, ast.NewIndex(pos, e, num(i), ast.TypeU8), ast.TypeInt)
	}
	c.fn("main", nil, ast.TypeInt, block(stmts(s, o),
		bin(token.Plus, at(c.use(s), 1), at(c.use(o), 4), ast.TypeInt)))

	if got := c.run("main"); got != 'e'+'d' {
		t.Errorf("s[1] + o[4] = %d, want %d", got, 'e'+'d')
	}
	c.noLeaks()
}
