package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/cleanup"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/rt"
)

// getBaseAndLen returns the address of the first element and the number
// of elements of the sequence stored at lv
func getBaseAndLen(bcx *Block, lv Datum) (base, length ir.Value) {
	lay := bcx.fcx.lay()
	w := bcx.word()
	t := lv.Ty
	switch t.Kind {
	case ast.TYPE_ARRAY:
		return lv.Val, constInt(int64(t.Len))
	case ast.TYPE_VEC, ast.TYPE_STR:
		p := bcx.Load(lv.Val, w, w)
		return bcx.GEP(p, lay.VecDataOffset(t.Base)), bcx.Load(p, w, w)
	case ast.TYPE_SLICE:
		return bcx.Load(lv.Val, w, w), bcx.Load(bcx.GEP(lv.Val, int64(lay.WordSize)), w, w)
	}
	bug("%s is not a sequence", t)
	return nil, nil
}

func storeSlice(bcx *Block, addr, base, length ir.Value) {
	w := bcx.word()
	bcx.Store(base, addr, w)
	bcx.Store(length, bcx.GEP(addr, int64(bcx.fcx.lay().WordSize)), w)
}

// transIndex projects an element out of a sequence. The index is brought
// to word width and checked against the length before the element address
// is formed.
func transIndex(bcx *Block, expr *ast.Node) (*Block, Datum) {
	ix := expr.Data.(ast.IndexNode)
	ty := exprType(expr)
	w := bcx.word()

	if m, ok := bcx.tables().Method(expr, 0); ok {
		bcx, base := TransToLvalue(bcx, ix.Expr, "index_self")
		bcx, idx := TransToLvalue(bcx, ix.Index, "index_arg")
		bcx, ref := invokeMethod(bcx, m, []ir.Value{base.Val, idx.Val}, []ir.Type{w, w})
		return bcx, lvalueDatum(ref, ty)
	}

	bcx, base := TransToLvalue(bcx, ix.Expr, "index_base")
	switch base.Ty.Kind {
	case ast.TYPE_ARRAY, ast.TYPE_VEC, ast.TYPE_STR, ast.TYPE_SLICE:
	default:
		bugAt(expr, "cannot index %s", base.Ty)
	}
	bcx, idx := Trans(bcx, ix.Index)
	if !idx.Ty.IsIntegral() {
		bugAt(ix.Index, "index of type %s", idx.Ty)
	}
	iv := intCast(bcx, idx.Immediate(bcx), idx.Ty, ast.TypeUint)

	data, length := getBaseAndLen(bcx, base)
	ci, constIdx := iv.(*ir.Const)
	cl, constLen := length.(*ir.Const)
	if !(constIdx && constLen && uint64(ci.Value) < uint64(cl.Value)) {
		oob := bcx.Cmp(ir.OpCUGe, w, iv, length)
		bcx = bcx.failIf(oob, rt.FailBounds, []ir.Value{iv, length}, []ir.Type{w, w})
	}
	elem := base.Ty.Base
	return bcx, lvalueDatum(bcx.IndexAddr(data, iv, bcx.fcx.lay().Stride(elem)), elem)
}

// transStrLit builds a string literal. A borrowed string points into the
// program's data; an owned one copies it to the heap.
func transStrLit(bcx *Block, expr *ast.Node, dest Dest) *Block {
	lit := expr.Data.(ast.LitNode)
	ty := exprType(expr)
	if lit.Kind != ast.LitStr {
		bugAt(expr, "literal %v in destination position", lit.Kind)
	}
	save, ok := dest.(SaveIn)
	if !ok {
		return bcx
	}
	fcx := bcx.fcx
	label := fcx.ccx.Prog.AddString(lit.Str)
	n := constInt(int64(len(lit.Str)))
	switch ty.Kind {
	case ast.TYPE_SLICE:
		storeSlice(bcx, save.Addr, &ir.Global{Name: label}, n)
	case ast.TYPE_STR:
		p := bcx.allocVec(ty.Base, int64(len(lit.Str)))
		data := bcx.GEP(p, fcx.lay().VecDataOffset(ty.Base))
		w := bcx.word()
		bcx.callRuntime(rt.Memcpy, ir.TypeNone, []ir.Value{data, &ir.Global{Name: label}, n}, []ir.Type{w, w, w})
		bcx.Store(p, save.Addr, w)
	default:
		bugAt(expr, "string literal of type %s", ty)
	}
	return bcx
}

// allocVec allocates an owned vector of n elements with its length and
// capacity set
func (bcx *Block) allocVec(elem *ast.Type, n int64) ir.Value {
	lay := bcx.fcx.lay()
	w := bcx.word()
	p := bcx.malloc(lay.VecDataOffset(elem) + n*lay.Stride(elem))
	bcx.Store(constInt(n), p, w)
	bcx.Store(constInt(n), bcx.GEP(p, int64(lay.WordSize)), w)
	return p
}

// transVecLit builds [a, b, c], [e; n] and their owned counterparts
func transVecLit(bcx *Block, expr *ast.Node, dest Dest) *Block {
	fcx := bcx.fcx
	ty := exprType(expr)
	var elems []*ast.Node
	count := 0
	switch expr.Type {
	case ast.VecLit:
		elems = expr.Data.(ast.VecNode).Elems
		count = len(elems)
	case ast.Repeat:
		r := expr.Data.(ast.RepeatNode)
		elems = []*ast.Node{r.Elem}
		count = r.Count
	}

	save, ok := dest.(SaveIn)
	if !ok {
		for _, e := range elems {
			bcx = TransInto(bcx, e, Ignore{})
		}
		return bcx
	}

	switch ty.Kind {
	case ast.TYPE_ARRAY:
		if ty.Len != count {
			bugAt(expr, "%d elements for %s", count, ty)
		}
		return fillElems(bcx, expr, save.Addr, ty.Base, elems, count)
	case ast.TYPE_VEC, ast.TYPE_STR:
		p := bcx.allocVec(ty.Base, int64(count))
		scope := fcx.scopes.Push("vec")
		h := fcx.scopes.ScheduleShallowFree(scope, p, ast.HeapUnique, ty)
		bcx = fillElems(bcx, expr, bcx.GEP(p, fcx.lay().VecDataOffset(ty.Base)), ty.Base, elems, count)
		fcx.scopes.Revoke(h)
		fcx.scopes.PopAndEmit(bcx.bb, scope)
		bcx.Store(p, save.Addr, bcx.word())
		return bcx
	}
	bugAt(expr, "sequence literal of type %s", ty)
	return bcx
}

// fillElems evaluates the elements of a sequence literal straight into
// consecutive slots starting at data. A repeat literal evaluates its
// element once and copies it.
func fillElems(bcx *Block, expr *ast.Node, data ir.Value, elem *ast.Type, elems []*ast.Node, count int) *Block {
	fcx := bcx.fcx
	stride := fcx.lay().Stride(elem)

	if expr.Type == ast.Repeat {
		if count == 0 {
			return TransInto(bcx, elems[0], Ignore{})
		}
		if count > 1 && elem.NeedsDrop() {
			bugAt(expr, "repeat of %s, which is not copyable", elem)
		}
		bcx = TransInto(bcx, elems[0], SaveIn{Addr: data})
		if count > 1 {
			first := data
			bcx = bcx.iterate(bcx.GEP(data, stride), constInt(int64(count-1)), stride, func(b *Block, slot ir.Value) *Block {
				b.CopyTy(slot, first, elem)
				return b
			})
		}
		return bcx
	}

	scope := fcx.scopes.Push("elems")
	var built []cleanup.Handle
	for i, e := range elems {
		slot := bcx.GEP(data, int64(i)*stride)
		bcx = TransInto(bcx, e, SaveIn{Addr: slot})
		if bcx.Unreachable() {
			break
		}
		if h, ok := fcx.scopes.ScheduleDrop(scope, slot, elem); ok {
			built = append(built, h)
		}
	}
	for _, h := range built {
		fcx.scopes.Revoke(h)
	}
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	return bcx
}
