package trans

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/typeck"
)

var makeTy = ast.NewFn([]*ast.Type{ast.TypeInt}, resTy)

// defineMake adds make(id: int) -> Res { Res { id: id } }
func defineMake(c *crate) {
	id := ast.NewParam("id", ast.TypeInt)
	lit := ast.NewStructLit(pos, resTy, []ast.FieldInit{{Name: "id", Expr: c.arg(id)}}, nil)
	c.fn("make", []ast.Param{id}, resTy, lit)
}

func TestAggregateResult(t *testing.T) {
	c := newCrate(t)
	defineMake(c)
	r := let("r", resTy, c.call("make", makeTy, num(8)))
	c.fn("main", nil, ast.TypeInt, block(stmts(r), resField(c.use(r))))

	if got := c.run("main"); got != 8 {
		t.Errorf("make(8).id = %d", got)
	}
	if diff := cmp.Diff([]int64{8}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	if fn := c.translate().FindFunc("make"); fn == nil || len(fn.Params) != 2 {
		t.Errorf("make should take a result pointer and its argument")
	}
}

func TestIgnoredAggregateResultIsDropped(t *testing.T) {
	c := newCrate(t)
	defineMake(c)
	c.fn("main", nil, ast.TypeNil, block(stmts(c.call("make", makeTy, num(6)), observe()), nil))

	c.run("main")
	if diff := cmp.Diff([]int{1}, c.seen); diff != "" {
		t.Errorf("discarded result outlived its statement (-want +got):\n%s", diff)
	}
}

func TestCalleeOwnsArguments(t *testing.T) {
	c := newCrate(t)
	r := ast.NewParam("r", resTy)
	consumeTy := ast.NewFn([]*ast.Type{resTy}, ast.TypeInt)
	c.fn("consume", []ast.Param{r}, ast.TypeInt, block(stmts(observe()), resField(c.arg(r))))

	local := let("l", resTy, res(4))
	c.fn("main", nil, ast.TypeInt, block(stmts(
		local,
		c.call("consume", consumeTy, res(3)),
		c.call("consume", consumeTy, c.use(local)),
		observe(),
	), num(0)))

	c.run("main")
	// Each argument is dropped by the callee as it returns
	if diff := cmp.Diff([]int{0, 1, 2}, c.seen); diff != "" {
		t.Errorf("observations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{3, 4}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestUnwindingThroughFrames(t *testing.T) {
	c := newCrate(t)
	innerTy := ast.NewFn(nil, ast.TypeInt)
	a := let("a", resTy, res(2))
	c.fn("inner", nil, ast.TypeInt, block(stmts(a), c.boom()))
	b := let("b", resTy, res(1))
	c.fn("outer", nil, ast.TypeInt, block(stmts(b), bin(token.Plus, c.call("inner", innerTy), block(stmts(observe()), num(1)), ast.TypeInt)))

	if got := c.run("outer"); got != 0 {
		t.Errorf("outer() = %d while unwinding", got)
	}
	if got := c.panicked(); got != "boom" {
		t.Errorf("panic = %q, want boom", got)
	}
	if diff := cmp.Diff([]int64{2, 1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	if c.calls["observe"] != 0 {
		t.Errorf("code after the failing call ran")
	}
}

func TestDivergingCall(t *testing.T) {
	c := newCrate(t)
	r := let("r", resTy, res(1))
	c.fn("main", nil, ast.TypeNil, block(stmts(
		r,
		c.call("boom", ast.NewFn(nil, ast.TypeBot)),
		observe(),
	), nil))

	c.run("main")
	if c.calls["observe"] != 0 {
		t.Errorf("statement after a diverging call ran")
	}
	if diff := cmp.Diff([]int64{1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestFunctionPointer(t *testing.T) {
	c := newCrate(t)
	fnTy := ast.NewFn([]*ast.Type{ast.TypeInt}, ast.TypeInt)
	x := ast.NewParam("x", ast.TypeInt)
	c.fn("double", []ast.Param{x}, ast.TypeInt, bin(token.Star, c.arg(x), num(2), ast.TypeInt))

	f := let("f", fnTy, c.fnRef("double", fnTy))
	c.fn("main", nil, ast.TypeInt, block(stmts(f), ast.NewCall(pos, c.use(f), []*ast.Node{num(21)}, ast.TypeInt)))

	if got := c.run("main"); got != 42 {
		t.Errorf("f(21) = %d, want 42", got)
	}
}

func TestUnitParametersAreNotPassed(t *testing.T) {
	c := newCrate(t)
	u, x := ast.NewParam("u", ast.TypeNil), ast.NewParam("x", ast.TypeInt)
	fTy := ast.NewFn([]*ast.Type{ast.TypeNil, ast.TypeInt}, ast.TypeInt)
	c.fn("second", []ast.Param{u, x}, ast.TypeInt, c.arg(x))
	c.fn("main", nil, ast.TypeInt, c.call("second", fTy, unit(), num(5)))

	if got := c.run("main"); got != 5 {
		t.Errorf("second((), 5) = %d", got)
	}
	if fn := c.translate().FindFunc("second"); len(fn.Params) != 1 {
		t.Errorf("second takes %d IR parameters, want 1", len(fn.Params))
	}
}

func TestStaticMethodCall(t *testing.T) {
	c := newCrate(t)
	self := ast.NewParam("self", ast.NewRptr(pairTy, false))
	sumTy := ast.NewFn([]*ast.Type{self.Ty}, ast.TypeInt)
	recv := deref(c.arg(self))
	c.fn("pair_sum", []ast.Param{self}, ast.TypeInt, bin(token.Plus, field(recv, "a"), field(deref(c.arg(self)), "b"), ast.TypeInt))

	lit := ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: num(20)}, {Name: "b", Expr: num(22)}}, nil)
	p := let("p", pairTy, lit)
	r := c.tables.Adjust(c.use(p), typeck.DerefRef{Autoref: &typeck.AutoRef{Kind: typeck.AutoPtr}})
	call := c.tables.Overload(ast.NewMethodCall(pos, r, "sum", nil, ast.TypeInt), 0, &typeck.Method{Symbol: "pair_sum", Fty: sumTy})
	c.fn("main", nil, ast.TypeInt, block(stmts(p), call))

	if got := c.run("main"); got != 42 {
		t.Errorf("p.sum() = %d, want 42", got)
	}
}

func TestOverloadedBinaryOperator(t *testing.T) {
	c := newCrate(t)
	a, b := ast.NewParam("a", ast.NewRptr(pairTy, false)), ast.NewParam("b", ast.NewRptr(pairTy, false))
	addTy := ast.NewFn([]*ast.Type{a.Ty, b.Ty}, pairTy)
	sum := func(f string) *ast.Node {
		return bin(token.Plus, field(deref(c.arg(a)), f), field(deref(c.arg(b)), f), ast.TypeInt)
	}
	c.fn("pair_add", []ast.Param{a, b}, pairTy,
		ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: sum("a")}, {Name: "b", Expr: sum("b")}}, nil))

	pair := func(x, y int64) *ast.Node {
		return ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: num(x)}, {Name: "b", Expr: num(y)}}, nil)
	}
	add := c.tables.Overload(bin(token.Plus, pair(1, 2), pair(10, 20), pairTy), 0, &typeck.Method{Symbol: "pair_add", Fty: addTy})
	s := let("s", pairTy, add)
	c.fn("main", nil, ast.TypeInt, block(stmts(s), field(c.use(s), "b")))

	if got := c.run("main"); got != 22 {
		t.Errorf("(p + q).b = %d, want 22", got)
	}
}

func TestOverloadedCallOperator(t *testing.T) {
	c := newCrate(t)
	argsTy := ast.NewTupleType(ast.TypeInt, ast.TypeInt)
	self, args := ast.NewParam("self", ast.NewRptr(pairTy, false)), ast.NewParam("args", argsTy)
	callTy := ast.NewFn([]*ast.Type{self.Ty, argsTy}, ast.TypeInt)
	term := func(f string, i int) *ast.Node {
		return bin(token.Star, field(deref(c.arg(self)), f), ast.NewTupField(pos, c.arg(args), i, ast.TypeInt), ast.TypeInt)
	}
	c.fn("pair_call", []ast.Param{self, args}, ast.TypeInt, bin(token.Plus, term("a", 0), term("b", 1), ast.TypeInt))

	lit := ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: num(7)}, {Name: "b", Expr: num(11)}}, nil)
	p := let("p", pairTy, lit)
	call := c.tables.Overload(ast.NewCall(pos, c.use(p), []*ast.Node{num(5), num(7)}, ast.TypeInt), 0, &typeck.Method{Symbol: "pair_call", Fty: callTy})
	c.fn("main", nil, ast.TypeInt, block(stmts(p), call))

	if got := c.run("main"); got != 112 {
		t.Errorf("p(5, 7) = %d, want 112", got)
	}
}

func TestOverloadedCallOwnsArguments(t *testing.T) {
	c := newCrate(t)
	argsTy := ast.NewTupleType(resTy)
	self, args := ast.NewParam("self", ast.NewRptr(pairTy, false)), ast.NewParam("args", argsTy)
	callTy := ast.NewFn([]*ast.Type{self.Ty, argsTy}, ast.TypeInt)
	c.fn("pair_call", []ast.Param{self, args}, ast.TypeInt,
		bin(token.Plus, field(deref(c.arg(self)), "a"), resField(ast.NewTupField(pos, c.arg(args), 0, resTy)), ast.TypeInt))

	lit := ast.NewStructLit(pos, pairTy, []ast.FieldInit{{Name: "a", Expr: num(40)}, {Name: "b", Expr: num(0)}}, nil)
	p := let("p", pairTy, lit)
	call := c.tables.Overload(ast.NewCall(pos, c.use(p), []*ast.Node{res(2)}, ast.TypeInt), 0, &typeck.Method{Symbol: "pair_call", Fty: callTy})
	c.fn("main", nil, ast.TypeInt, block(stmts(p), call))

	if got := c.run("main"); got != 42 {
		t.Errorf("p(Res{2}) = %d, want 42", got)
	}
	if diff := cmp.Diff([]int64{2}, c.drops); diff != "" {
		t.Errorf("argument tuple not dropped exactly once (-want +got):\n%s", diff)
	}
	c.noLeaks()
}
