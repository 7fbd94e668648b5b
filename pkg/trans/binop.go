package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/rt"
	"github.com/xplshn/trans/pkg/token"
)

func transBinary(bcx *Block, expr *ast.Node) (*Block, Datum) {
	b := expr.Data.(ast.BinaryNode)
	switch b.Op {
	case token.AndAnd, token.OrOr:
		return transLazyBinop(bcx, expr, b.Op, b.Left, b.Right)
	}
	bcx, lhs := Trans(bcx, b.Left)
	bcx, rhs := Trans(bcx, b.Right)
	return transEagerBinop(bcx, expr, b.Op, lhs, rhs)
}

// transLazyBinop evaluates the right operand only when the left one does
// not decide the result. Each side gets its own cleanup scope so that
// temporaries of the right operand are dropped on the path that made them.
func transLazyBinop(bcx *Block, expr *ast.Node, op token.Type, a, b *ast.Node) (*Block, Datum) {
	fcx := bcx.fcx
	scope := fcx.scopes.Push("lazy_lhs")
	bcx, ld := Trans(bcx, a)
	lv := ld.Immediate(bcx)
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	if bcx.Unreachable() {
		return bcx, immDatum(lv, ast.TypeBool)
	}

	pastLhs := bcx
	rhs := fcx.newBlock("lazy_rhs")
	join := fcx.newBlock("lazy_end")
	if op == token.AndAnd {
		bcx.CondBr(lv, rhs, join)
	} else {
		bcx.CondBr(lv, join, rhs)
	}

	scope = fcx.scopes.Push("lazy_rhs")
	rhsEnd, rd := Trans(rhs, b)
	rv := rd.Immediate(rhsEnd)
	fcx.scopes.PopAndEmit(rhsEnd.bb, scope)
	rhsEnd.Jmp(join)

	res := join.Phi(ir.TypeW, incoming{pastLhs, lv}, incoming{rhsEnd, rv})
	return join, immDatum(res, ast.TypeBool)
}

func transEagerBinop(bcx *Block, expr *ast.Node, op token.Type, lhs, rhs Datum) (*Block, Datum) {
	lay := bcx.fcx.lay()
	lt := lhs.Ty
	resTy := exprType(expr)

	switch {
	case lt.Kind == ast.TYPE_SIMD:
		return transSimdBinop(bcx, expr, op, lhs, rhs)
	case lt.IsNil():
		if !op.IsComparison() {
			bugAt(expr, "arithmetic on %s", lt)
		}
		v := int64(0)
		if op == token.EqEq || op == token.Lte || op == token.Gte {
			v = 1
		}
		return bcx, immDatum(constInt(v), ast.TypeBool)
	case !lay.IsImmediate(lt):
		if op != token.EqEq && op != token.Neq {
			bugAt(expr, "operator %s on aggregate %s", op, lt)
		}
		bcx, lhs = lhs.ToLvalue(bcx, "cmp_lhs")
		bcx, rhs = rhs.ToLvalue(bcx, "cmp_rhs")
		eq := structuralEq(bcx, expr, lhs.Val, rhs.Val, lt)
		if op == token.Neq {
			eq = bcx.Binop(ir.OpXor, ir.TypeW, eq, constInt(1))
		}
		return bcx, immDatum(eq, ast.TypeBool)
	}

	a, b := lhs.Immediate(bcx), rhs.Immediate(bcx)
	if op.IsComparison() {
		return bcx, immDatum(compareScalars(bcx, op, a, b, lt), ast.TypeBool)
	}
	bcx, v := scalarArith(bcx, expr, op, a, b, lt, rhs.Ty)
	return bcx, immDatum(v, resTy)
}

// scalarArith applies an arithmetic or bitwise operator to two immediates
func scalarArith(bcx *Block, expr *ast.Node, op token.Type, a, b ir.Value, t, rhsTy *ast.Type) (*Block, ir.Value) {
	reg := bcx.fcx.lay().RegType(t)
	if t.IsFloat() {
		switch op {
		case token.Plus:
			return bcx, bcx.Binop(ir.OpAdd, reg, a, b)
		case token.Minus:
			return bcx, bcx.Binop(ir.OpSub, reg, a, b)
		case token.Star:
			return bcx, bcx.Binop(ir.OpMul, reg, a, b)
		case token.Slash:
			return bcx, bcx.Binop(ir.OpDiv, reg, a, b)
		case token.Rem:
			sym := rt.Fmod
			if reg == ir.TypeS {
				sym = rt.Fmodf
			}
			return bcx, bcx.callRuntime(sym, reg, []ir.Value{a, b}, []ir.Type{reg, reg})
		}
		bugAt(expr, "operator %s on %s", op, t)
	}

	switch op {
	case token.Plus:
		return bcx, normalize(bcx, bcx.Binop(ir.OpAdd, reg, a, b), t)
	case token.Minus:
		return bcx, normalize(bcx, bcx.Binop(ir.OpSub, reg, a, b), t)
	case token.Star:
		return bcx, normalize(bcx, bcx.Binop(ir.OpMul, reg, a, b), t)
	case token.Slash, token.Rem:
		bcx = checkDivisor(bcx, op, a, b, t)
		var irOp ir.Op
		switch {
		case op == token.Slash && t.IsSigned():
			irOp = ir.OpDiv
		case op == token.Slash:
			irOp = ir.OpUDiv
		case t.IsSigned():
			irOp = ir.OpRem
		default:
			irOp = ir.OpURem
		}
		return bcx, normalize(bcx, bcx.Binop(irOp, reg, a, b), t)
	case token.And:
		return bcx, bcx.Binop(ir.OpAnd, reg, a, b)
	case token.Or:
		return bcx, bcx.Binop(ir.OpOr, reg, a, b)
	case token.Xor:
		return bcx, bcx.Binop(ir.OpXor, reg, a, b)
	case token.Shl:
		return bcx, normalize(bcx, bcx.Binop(ir.OpShl, reg, a, shiftAmount(bcx, b, rhsTy)), t)
	case token.Shr:
		if t.IsSigned() {
			return bcx, bcx.Binop(ir.OpShr, reg, a, shiftAmount(bcx, b, rhsTy))
		}
		return bcx, bcx.Binop(ir.OpShrU, reg, a, shiftAmount(bcx, b, rhsTy))
	}
	bugAt(expr, "operator %s on %s", op, t)
	return bcx, nil
}

// shiftAmount brings a shift count of type t to the word class shifts take
func shiftAmount(bcx *Block, v ir.Value, t *ast.Type) ir.Value {
	if bcx.fcx.lay().RegType(t) == ir.TypeL {
		return bcx.Copy(ir.TypeW, v)
	}
	return v
}

// checkDivisor fails on a zero divisor and, for signed operands, on the
// one quotient that overflows: MIN / -1
func checkDivisor(bcx *Block, op token.Type, a, b ir.Value, t *ast.Type) *Block {
	reg := bcx.fcx.lay().RegType(t)
	sym := rt.FailDivZero
	if op == token.Rem {
		sym = rt.FailRemZero
	}
	bcx = bcx.failIf(bcx.Cmp(ir.OpCEq, reg, b, constInt(0)), sym, nil, nil)
	if !t.IsSigned() {
		return bcx
	}
	lo, _, _, _ := intRange(bcx.fcx.lay().Bits(t), true)
	isNeg1 := bcx.Cmp(ir.OpCEq, reg, b, constInt(-1))
	isMin := bcx.Cmp(ir.OpCEq, reg, a, constInt(lo))
	return bcx.failIf(bcx.Binop(ir.OpAnd, ir.TypeW, isNeg1, isMin), rt.FailOverflow, nil, nil)
}

// compareScalars compares two immediates of type t
func compareScalars(bcx *Block, op token.Type, a, b ir.Value, t *ast.Type) ir.Value {
	reg := bcx.fcx.lay().RegType(t)
	signed := t.IsSigned() || t.IsFloat()
	var irOp ir.Op
	switch op {
	case token.EqEq:
		irOp = ir.OpCEq
	case token.Neq:
		irOp = ir.OpCNeq
	case token.Lt:
		irOp = pick(signed, ir.OpCLt, ir.OpCULt)
	case token.Gt:
		irOp = pick(signed, ir.OpCGt, ir.OpCUGt)
	case token.Lte:
		irOp = pick(signed, ir.OpCLe, ir.OpCULe)
	case token.Gte:
		irOp = pick(signed, ir.OpCGe, ir.OpCUGe)
	default:
		bug("%s is not a comparison", op)
	}
	return bcx.Cmp(irOp, reg, a, b)
}

func pick(cond bool, a, b ir.Op) ir.Op {
	if cond {
		return a
	}
	return b
}

// structuralEq compares two aggregates in memory field by field
func structuralEq(bcx *Block, expr *ast.Node, a, b ir.Value, t *ast.Type) ir.Value {
	lay := bcx.fcx.lay()
	if lay.IsImmediate(t) {
		return compareScalars(bcx, token.EqEq, bcx.LoadTy(a, t), bcx.LoadTy(b, t), t)
	}
	var acc ir.Value = constInt(1)
	and := func(v ir.Value) { acc = bcx.Binop(ir.OpAnd, ir.TypeW, acc, v) }
	switch t.Kind {
	case ast.TYPE_NIL:
	case ast.TYPE_STRUCT, ast.TYPE_TUPLE:
		for i, ft := range t.FieldTypes(0) {
			off := lay.FieldOffset(t, 0, i)
			and(structuralEq(bcx, expr, bcx.GEP(a, off), bcx.GEP(b, off), ft))
		}
	case ast.TYPE_ARRAY:
		stride := lay.Stride(t.Base)
		for i := 0; i < t.Len; i++ {
			off := int64(i) * stride
			and(structuralEq(bcx, expr, bcx.GEP(a, off), bcx.GEP(b, off), t.Base))
		}
	case ast.TYPE_ENUM:
		if !t.IsCLike() {
			bugAt(expr, "equality on enum %s with payload", t)
		}
		and(bcx.Cmp(ir.OpCEq, bcx.word(), readDiscr(bcx, a), readDiscr(bcx, b)))
	case ast.TYPE_SLICE, ast.TYPE_CLOSURE, ast.TYPE_TRAIT:
		w := bcx.word()
		ws := int64(bcx.fcx.ccx.Cfg.WordSize)
		and(bcx.Cmp(ir.OpCEq, w, bcx.Load(a, w, w), bcx.Load(b, w, w)))
		and(bcx.Cmp(ir.OpCEq, w, bcx.Load(bcx.GEP(a, ws), w, w), bcx.Load(bcx.GEP(b, ws), w, w)))
	default:
		bugAt(expr, "equality on %s", t)
	}
	return acc
}

// transSimdBinop applies op lane by lane. Comparisons produce a mask with
// every bit of a lane set where the comparison holds.
func transSimdBinop(bcx *Block, expr *ast.Node, op token.Type, lhs, rhs Datum) (*Block, Datum) {
	lay := bcx.fcx.lay()
	vt := lhs.Ty
	resTy := exprType(expr)
	bcx, lhs = lhs.ToLvalue(bcx, "simd_lhs")
	bcx, rhs = rhs.ToLvalue(bcx, "simd_rhs")
	out := bcx.fcx.Alloca(resTy, "simd")
	lane := vt.Base
	resLane := resTy.Base
	size := lay.SizeOf(lane)
	resSize := lay.SizeOf(resLane)
	for i := 0; i < vt.Len; i++ {
		a := bcx.LoadTy(bcx.GEP(lhs.Val, int64(i)*size), lane)
		b := bcx.LoadTy(bcx.GEP(rhs.Val, int64(i)*size), lane)
		var v ir.Value
		if op.IsComparison() {
			c := compareScalars(bcx, op, a, b, lane)
			v = bcx.Unop(ir.OpNeg, lay.RegType(resLane), widenMask(bcx, c, resLane))
		} else {
			bcx, v = scalarArith(bcx, expr, op, a, b, lane, lane)
		}
		bcx.StoreTy(v, bcx.GEP(out, int64(i)*resSize), resLane)
	}
	return bcx, refDatum(out, resTy)
}

func widenMask(bcx *Block, c ir.Value, lane *ast.Type) ir.Value {
	if bcx.fcx.lay().RegType(lane) == ir.TypeL {
		return bcx.Unop(ir.OpExtUW, ir.TypeL, c)
	}
	return c
}

// transOverloadedOp calls the method bound to an operator expression with
// every operand passed by reference
func transOverloadedOp(bcx *Block, expr *ast.Node, self *ast.Node, args []*ast.Node, dest Dest) *Block {
	m, ok := bcx.tables().Method(expr, 0)
	if !ok {
		bugAt(expr, "no method for overloaded %s", expr.Type)
	}
	var vals []ir.Value
	var types []ir.Type
	for _, operand := range append([]*ast.Node{self}, args...) {
		var lv Datum
		bcx, lv = TransToLvalue(bcx, operand, "operand")
		vals = append(vals, lv.Val)
		types = append(types, bcx.word())
	}
	bcx, _ = invokeFn(bcx, methodCallee(bcx, m), m.Fty, nil, vals, types, nil, dest, true)
	return bcx
}

func transAssignOp(bcx *Block, expr *ast.Node) *Block {
	a := expr.Data.(ast.AssignOpNode)
	if m, ok := bcx.tables().Method(expr, 0); ok {
		bcx, dst := TransToLvalue(bcx, a.Lhs, "assign_op")
		bcx, rhs := TransToLvalue(bcx, a.Rhs, "operand")
		scratch := bcx.fcx.Alloca(dst.Ty, "assign_op_res")
		bcx, _ = invokeFn(bcx, methodCallee(bcx, m), m.Fty, nil,
			[]ir.Value{dst.Val, rhs.Val}, []ir.Type{bcx.word(), bcx.word()}, nil, SaveIn{Addr: scratch}, true)
		return assignDatum(bcx, dst, refDatum(scratch, dst.Ty))
	}

	op := a.Op
	if base, ok := token.CompoundBase[op]; ok {
		op = base
	}
	bcx, dst := TransToLvalue(bcx, a.Lhs, "assign_op")
	lhs := immDatum(dst.Immediate(bcx), dst.Ty)
	bcx, rhs := Trans(bcx, a.Rhs)
	bcx, res := transEagerBinop(bcx, a.Lhs, op, lhs, rhs)
	return res.StoreTo(bcx, SaveIn{Addr: dst.Val})
}
