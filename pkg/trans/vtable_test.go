package trans

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/typeck"
)

var shape = &ast.Trait{Name: "Shape", Methods: []string{"area"}}

// implementShape makes Pair a Shape with area a*b and Res a Shape with
// area 2*id
func implementShape(c *crate) {
	p := ast.NewParam("self", ast.NewRptr(pairTy, false))
	c.fn("pair_area", []ast.Param{p}, ast.TypeInt,
		bin(token.Star, field(deref(c.arg(p)), "a"), field(deref(c.arg(p)), "b"), ast.TypeInt))
	c.tables.Implement(pairTy, shape, "pair_area")

	r := ast.NewParam("self", ast.NewRptr(resTy, false))
	c.fn("res_area", []ast.Param{r}, ast.TypeInt, bin(token.Star, resField(deref(c.arg(r))), num(2), ast.TypeInt))
	c.tables.Implement(resTy, shape, "res_area")
}

func (c *crate) area(obj *ast.Node) *ast.Node {
	m := &typeck.Method{
		Symbol: "area",
		Fty:    ast.NewFn([]*ast.Type{ast.NewRptr(ast.TypeNil, false)}, ast.TypeInt),
		Object: true,
	}
	return c.tables.Overload(ast.NewMethodCall(pos, obj, "area", nil, ast.TypeInt), 0, m)
}

func pairOf(a, b int64) *ast.Node {
	return ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: num(a)}, {Name: "b", Expr: num(b)}}, nil)
}

func TestBorrowedObject(t *testing.T) {
	c := newCrate(t)
	implementShape(c)
	objTy := ast.NewTraitObject(shape, ast.StoreBorrowed)
	p := let("p", pairTy, pairOf(3, 4))
	o := let("o", objTy, ast.NewCast(pos, c.use(p), objTy))
	c.fn("main", nil, ast.TypeInt, block(stmts(p, o), c.area(c.use(o))))

	if got := c.run("main"); got != 12 {
		t.Errorf("o.area() = %d, want 12", got)
	}
}

func TestBoxedObjectOwnsItsValue(t *testing.T) {
	c := newCrate(t)
	implementShape(c)
	objTy := ast.NewTraitObject(shape, ast.StoreBoxed)
	o := let("o", objTy, ast.NewCast(pos, res(6), objTy))
	c.fn("main", nil, ast.TypeInt, block(stmts(o), c.area(c.use(o))))

	if got := c.run("main"); got != 12 {
		t.Errorf("o.area() = %d, want 12", got)
	}
	if diff := cmp.Diff([]int64{6}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}

func TestObjectCoercions(t *testing.T) {
	c := newCrate(t)
	implementShape(c)
	objTy := ast.NewTraitObject(shape, ast.StoreBorrowed)
	s := ast.NewParam("s", objTy)
	totalTy := ast.NewFn([]*ast.Type{objTy}, ast.TypeInt)
	c.fn("total", []ast.Param{s}, ast.TypeInt, c.area(c.arg(s)))

	p := let("p", pairTy, pairOf(5, 6))
	r := let("r", resTy, res(10))
	viaCoercion := c.tables.Adjust(c.use(p), typeck.ToTraitObject{Target: objTy})
	viaAutoref := c.tables.Adjust(c.use(r), typeck.DerefRef{Autoref: &typeck.AutoRef{Kind: typeck.AutoBorrowObj, Target: objTy}})
	c.fn("main", nil, ast.TypeInt, block(stmts(p, r),
		bin(token.Plus, c.call("total", totalTy, viaCoercion), c.call("total", totalTy, viaAutoref), ast.TypeInt)))

	if got := c.run("main"); got != 50 {
		t.Errorf("total(p) + total(r) = %d, want 50", got)
	}
	// Borrowing r for the call leaves it alive until main returns
	if diff := cmp.Diff([]int64{10}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestVtablesAreShared(t *testing.T) {
	c := newCrate(t)
	implementShape(c)
	objTy := ast.NewTraitObject(shape, ast.StoreBorrowed)
	a := let("a", pairTy, pairOf(1, 1))
	b := let("b", pairTy, pairOf(2, 2))
	c.fn("main", nil, ast.TypeNil, block(stmts(a, b,
		ast.NewCast(pos, c.use(a), objTy),
		ast.NewCast(pos, c.use(b), objTy),
	), nil))

	var vtables int
	for _, d := range c.translate().Globals {
		if strings.HasPrefix(d.Name, "vtable_") {
			vtables++
		}
	}
	if vtables != 1 {
		t.Errorf("%d vtables for Pair as Shape, want 1", vtables)
	}
}
