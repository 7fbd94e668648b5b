package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/rt"
)

// transMatch tests the arms in order against the discriminant, which is
// kept in memory for the whole match. Bindings alias the matched value
// rather than copying it; a binding moved out of is cleared by the move.
// A value no arm accepts fails at run time.
func transMatch(bcx *Block, expr *ast.Node, dest Dest) *Block {
	fcx := bcx.fcx
	lay := fcx.lay()
	m := expr.Data.(ast.MatchNode)

	scope := fcx.scopes.Push("match")
	bcx, discr := TransToLvalue(bcx, m.Discr, "discr")
	if bcx.Unreachable() {
		fcx.scopes.PopAndEmit(bcx.bb, scope)
		return bcx
	}
	ty := discr.Ty
	join := fcx.newBlock("match_end")
	var scrut ir.Value
	if ty.Kind == ast.TYPE_ENUM {
		scrut = readDiscr(bcx, discr.Val)
	} else if lay.IsImmediate(ty) {
		scrut = bcx.LoadTy(discr.Val, ty)
	}

	exhaustive := false
	for _, arm := range m.Arms {
		body := bcx
		next := bcx
		p := arm.Pat
		switch p.Kind {
		case ast.PatWild:
			exhaustive = true
		case ast.PatBind:
			for _, b := range p.Bindings {
				fcx.locals[b.ID] = discr.Val
			}
			exhaustive = true
		case ast.PatLit:
			if scrut == nil || ty.Kind == ast.TYPE_ENUM {
				bugAt(arm.Body, "literal pattern on %s", ty)
			}
			body, next = fcx.newBlock("match_arm"), fcx.newBlock("match_next")
			lit := constInt(truncConst(bcx, p.Value, ty))
			bcx.CondBr(bcx.Cmp(ir.OpCEq, lay.RegType(ty), scrut, lit), body, next)
		case ast.PatVariant:
			if ty.Kind != ast.TYPE_ENUM {
				bugAt(arm.Body, "variant pattern %s on %s", p.Variant, ty)
			}
			vi := ty.VariantIndex(p.Variant)
			if vi < 0 {
				bugAt(arm.Body, "enum %s has no variant %s", ty, p.Variant)
			}
			disr := ty.Variants[vi].Disr
			body, next = fcx.newBlock("match_arm"), fcx.newBlock("match_next")
			bcx.CondBr(bcx.Cmp(ir.OpCEq, bcx.word(), scrut, constInt(disr)), body, next)
			nfields := len(ty.Variants[vi].Fields)
			for _, b := range p.Bindings {
				if b.Field < 0 || b.Field >= nfields {
					bugAt(arm.Body, "binding %s of missing field %d", b.Name, b.Field)
				}
				fcx.locals[b.ID] = body.GEP(discr.Val, lay.FieldOffset(ty, disr, b.Field))
			}
		default:
			bugAt(arm.Body, "unknown pattern kind %d", p.Kind)
		}

		armScope := fcx.scopes.Push("arm")
		body = TransInto(body, arm.Body, dest)
		fcx.scopes.PopAndEmit(body.bb, armScope)
		body.Jmp(join)
		if exhaustive {
			break
		}
		bcx = next
	}
	if !exhaustive {
		bcx.fail(rt.FailMatch)
	}

	join = fcx.reached(join)
	fcx.scopes.PopAndEmit(join.bb, scope)
	return join
}
