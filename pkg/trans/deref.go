package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/typeck"
)

// derefOnce dereferences d. Step 0 is an explicit deref expression, step
// k > 0 the k-th autoderef of expr; either may be overloaded.
func derefOnce(bcx *Block, expr *ast.Node, d Datum, step int) (*Block, Datum) {
	fcx := bcx.fcx
	if m, ok := bcx.tables().Method(expr, step); ok {
		bcx, d = transOverloadedDeref(bcx, expr, d, m)
	}

	switch d.Ty.Kind {
	case ast.TYPE_BOX:
		content := d.Ty.Base
		if d.ownsValue() && fcx.cfg().IsFeatureEnabled(config.FeatBoxDerefOpt) {
			// The box is a temporary: hand out its contents in place and
			// only release the allocation once they are consumed
			ptr := d.Immediate(bcx)
			if !bcx.Unreachable() {
				fcx.scopes.ScheduleShallowFree(fcx.scopes.Top(), ptr, ast.HeapUnique, content)
			}
			fcx.tracef("deref of temporary box %s in place", d.Val)
			return bcx, refDatum(ptr, content)
		}
		bcx, d = d.ToLvalue(bcx, "box")
		return bcx, lvalueDatum(d.Immediate(bcx), content)

	case ast.TYPE_MANAGED:
		bcx, d = d.ToLvalue(bcx, "managed")
		ptr := d.Immediate(bcx)
		return bcx, lvalueDatum(bcx.GEP(ptr, fcx.lay().ManagedContentOffset(d.Ty.Base)), d.Ty.Base)

	case ast.TYPE_PTR, ast.TYPE_RPTR:
		return bcx, lvalueDatum(d.Immediate(bcx), d.Ty.Base)
	}
	bugAt(expr, "cannot dereference %s", d.Ty)
	return bcx, d
}

// transOverloadedDeref calls the user's deref method with the operand
// borrowed; the method returns a reference to the target
func transOverloadedDeref(bcx *Block, expr *ast.Node, d Datum, m *typeck.Method) (*Block, Datum) {
	bcx, lv := d.ToLvalue(bcx, "deref_self")
	ret := m.Fty.Ret
	if ret.Kind != ast.TYPE_RPTR && ret.Kind != ast.TYPE_PTR {
		bugAt(expr, "overloaded deref %s returns %s, not a reference", m.Symbol, ret)
	}
	bcx, v := invokeMethod(bcx, m, []ir.Value{lv.Val}, []ir.Type{bcx.word()})
	return bcx, immDatum(v, ret)
}
