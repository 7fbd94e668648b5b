package trans

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/typeck"
)

// testBlock returns an open block of a fresh function with one scope
func testBlock(t *testing.T) *Block {
	t.Helper()
	ccx := NewCrateContext(config.NewConfig(), typeck.NewTables())
	fcx := newFunctionContext(ccx, "f", ast.TypeNil)
	fcx.scopes.Push("test")
	return fcx.newBlock("body")
}

func lastOp(bcx *Block) ir.Op {
	ins := bcx.bb.Instructions
	return ins[len(ins)-1].Op
}

func TestToRvalue(t *testing.T) {
	tests := []struct {
		name string
		ty   *ast.Type
		want Kind
		load bool
	}{
		{"scalar", ast.TypeInt, Rvalue{Mode: ByValue, View: true}, true},
		{"box", ast.NewBox(ast.TypeInt), Rvalue{Mode: ByRef, View: true}, false},
		{"aggregate", resTy, Rvalue{Mode: ByRef, View: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bcx := testBlock(t)
			slot := bcx.fcx.Alloca(tt.ty, "x")
			r := lvalueDatum(slot, tt.ty).ToRvalue(bcx)
			if diff := cmp.Diff(tt.want, r.Kind); diff != "" {
				t.Errorf("kind mismatch (-want +got):\n%s", diff)
			}
			if tt.load {
				if lastOp(bcx) != ir.OpLoad {
					t.Errorf("scalar view was not loaded")
				}
			} else if r.Val != slot {
				t.Errorf("view of %s moved away from its slot", tt.ty)
			}
			if r.ownsValue() {
				t.Errorf("view owns its value")
			}
		})
	}
}

func TestToLvalueSchedulesOwnedValues(t *testing.T) {
	bcx := testBlock(t)
	fcx := bcx.fcx
	box := ast.NewBox(ast.TypeInt)

	_, lv := immDatum(constInt(0), box).ToLvalue(bcx, "tmp")
	if !lv.isLvalue() {
		t.Fatalf("ToLvalue returned %s", lv)
	}
	if dump := fcx.scopes.Dump(); !strings.Contains(dump, "drop") {
		t.Errorf("owned box was not scheduled for drop:\n%s", dump)
	}

	view := Datum{Val: lv.Val, Ty: box, Kind: Rvalue{Mode: ByRef, View: true}}
	before := fcx.scopes.Dump()
	_, again := view.ToLvalue(bcx, "view")
	if again.Val != lv.Val {
		t.Errorf("view was copied to %s", again.Val)
	}
	if after := fcx.scopes.Dump(); after != before {
		t.Errorf("view scheduled a cleanup:\n%s", after)
	}
}

func TestImmediateOfAggregateIsInternalError(t *testing.T) {
	bcx := testBlock(t)
	defer func() {
		if recover() == nil {
			t.Errorf("Immediate of an aggregate did not abort")
		}
	}()
	refDatum(bcx.fcx.Alloca(resTy, "r"), resTy).Immediate(bcx)
}

func TestMoveClearsSource(t *testing.T) {
	c := newCrate(t)
	bt := ast.NewBox(resTy)
	a := let("a", bt, boxed(res(1)))
	b := let("b", bt, c.use(a))
	c.fn("main", nil, ast.TypeInt, block(stmts(a, b), resField(deref(c.use(b)))))

	if got := c.run("main"); got != 1 {
		t.Errorf("main() = %d, want 1", got)
	}
	if diff := cmp.Diff([]int64{1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}

func TestMoveWithoutZeroingDoubleFrees(t *testing.T) {
	c := newCrate(t)
	c.cfg.SetFeature(config.FeatMoveZeroing, false)
	bt := ast.NewBox(resTy)
	a := let("a", bt, boxed(res(1)))
	b := let("b", bt, c.use(a))
	c.fn("main", nil, ast.TypeNil, block(stmts(a, b), nil))

	if _, err := c.machine().Call("main"); err == nil {
		t.Errorf("both copies of a moved box were released without a fault")
	}
}

func TestIgnoredRvalueIsDropped(t *testing.T) {
	c := newCrate(t)
	c.fn("main", nil, ast.TypeInt, block(stmts(boxed(res(7)), observe()), num(0)))

	c.run("main")
	if diff := cmp.Diff([]int{1}, c.seen); diff != "" {
		t.Errorf("box was not dropped before the next statement (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{7}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}

func TestIgnoredLvalueIsNotDropped(t *testing.T) {
	c := newCrate(t)
	a := let("a", resTy, res(3))
	c.fn("main", nil, ast.TypeNil, block(stmts(a, c.use(a), observe()), nil))

	c.run("main")
	if diff := cmp.Diff([]int{0}, c.seen); diff != "" {
		t.Errorf("naming a local dropped it (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{3}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestIgnoredAggregateTouchesNoStorage(t *testing.T) {
	c := newCrate(t)
	c.fn("main", nil, ast.TypeNil, block(stmts(res(5)), nil))

	c.run("main")
	if len(c.drops) != 0 {
		t.Errorf("discarded literal ran its destructor: %v", c.drops)
	}
}

func TestAssignDropsOldValue(t *testing.T) {
	c := newCrate(t)
	a := let("a", resTy, res(1))
	c.fn("main", nil, ast.TypeInt, block(stmts(
		a,
		ast.NewAssign(pos, c.use(a), res(2)),
		observe(),
	), resField(c.use(a))))

	if got := c.run("main"); got != 2 {
		t.Errorf("main() = %d, want 2", got)
	}
	if diff := cmp.Diff([]int{1}, c.seen); diff != "" {
		t.Errorf("old value not dropped at the assignment (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1, 2}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestAssignFromItself(t *testing.T) {
	c := newCrate(t)
	a := let("a", resTy, res(1))
	c.fn("main", nil, ast.TypeInt, block(stmts(
		a,
		ast.NewAssign(pos, c.use(a), c.use(a)),
		observe(),
	), resField(c.use(a))))

	if got := c.run("main"); got != 1 {
		t.Errorf("main() = %d, want 1", got)
	}
	if diff := cmp.Diff([]int{0}, c.seen); diff != "" {
		t.Errorf("value destroyed by assigning it to itself (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
}

func TestAssignBoxFromItself(t *testing.T) {
	c := newCrate(t)
	a := let("a", ast.NewBox(resTy), boxed(res(1)))
	c.fn("main", nil, ast.TypeInt, block(stmts(
		a,
		ast.NewAssign(pos, c.use(a), c.use(a)),
		observe(),
	), resField(deref(c.use(a)))))

	if got := c.run("main"); got != 1 {
		t.Errorf("main() = %d, want 1", got)
	}
	if diff := cmp.Diff([]int{0}, c.seen); diff != "" {
		t.Errorf("box freed by assigning it to itself (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{1}, c.drops); diff != "" {
		t.Errorf("drops mismatch (-want +got):\n%s", diff)
	}
	c.noLeaks()
}
