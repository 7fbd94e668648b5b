package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/token"
)

func transUnary(bcx *Block, expr *ast.Node) (*Block, Datum) {
	u := expr.Data.(ast.UnaryNode)
	ty := exprType(expr)
	bcx, d := Trans(bcx, u.Expr)
	if ty.Kind == ast.TYPE_SIMD {
		return transSimdUnary(bcx, expr, u.Op, d)
	}
	v := d.Immediate(bcx)
	reg := bcx.fcx.lay().RegType(ty)
	switch u.Op {
	case token.Not, token.Complement:
		if ty.IsBool() {
			return bcx, immDatum(bcx.Binop(ir.OpXor, ir.TypeW, v, constInt(1)), ty)
		}
		return bcx, immDatum(normalize(bcx, bcx.Binop(ir.OpXor, reg, v, constInt(-1)), ty), ty)
	case token.Minus:
		return bcx, immDatum(normalize(bcx, bcx.Unop(ir.OpNeg, reg, v), ty), ty)
	}
	bugAt(expr, "unary %s on %s", u.Op, ty)
	return bcx, Datum{}
}

func transSimdUnary(bcx *Block, expr *ast.Node, op token.Type, d Datum) (*Block, Datum) {
	lay := bcx.fcx.lay()
	vt := d.Ty
	bcx, d = d.ToLvalue(bcx, "simd_operand")
	out := bcx.fcx.Alloca(vt, "simd")
	size := lay.SizeOf(vt.Base)
	reg := lay.RegType(vt.Base)
	for i := 0; i < vt.Len; i++ {
		v := bcx.LoadTy(bcx.GEP(d.Val, int64(i)*size), vt.Base)
		switch op {
		case token.Minus:
			v = normalize(bcx, bcx.Unop(ir.OpNeg, reg, v), vt.Base)
		case token.Not, token.Complement:
			v = normalize(bcx, bcx.Binop(ir.OpXor, reg, v, constInt(-1)), vt.Base)
		default:
			bugAt(expr, "unary %s on %s", op, vt)
		}
		bcx.StoreTy(v, bcx.GEP(out, int64(i)*size), vt.Base)
	}
	return bcx, refDatum(out, vt)
}

// transBox allocates a box and evaluates its contents straight into it.
// Until the contents are complete the allocation is covered by a shallow
// free, so a failure in between releases the memory without dropping
// half-built contents.
func transBox(bcx *Block, expr *ast.Node, heap ast.Heap, content *ast.Node) (*Block, Datum) {
	fcx := bcx.fcx
	lay := fcx.lay()
	ty := exprType(expr)
	ct := exprType(content)

	var ptr, body ir.Value
	switch heap {
	case ast.HeapUnique:
		ptr = bcx.malloc(lay.SizeOf(ct))
		body = ptr
	case ast.HeapManaged:
		off := lay.ManagedContentOffset(ct)
		ptr = bcx.malloc(off + lay.SizeOf(ct))
		bcx.Store(constInt(1), ptr, bcx.word())
		body = bcx.GEP(ptr, off)
	default:
		bugAt(expr, "unknown heap %v", heap)
	}

	h := fcx.scopes.ScheduleShallowFree(fcx.scopes.Top(), ptr, heap, ct)
	bcx = TransInto(bcx, content, SaveIn{Addr: body})
	fcx.scopes.Revoke(h)
	return bcx, immDatum(ptr, ty)
}
