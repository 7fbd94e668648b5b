package trans

import (
	"math"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/layout"
	"github.com/xplshn/trans/pkg/util"
)

type castKind int

const (
	castPointer castKind = iota
	castIntegral
	castFloat
	castEnum
	castOther
)

func castKindOf(t *ast.Type) castKind {
	switch {
	case t.IsIntegral():
		return castIntegral
	case t.IsFloat():
		return castFloat
	case t.IsPointer(), t.Kind == ast.TYPE_FN:
		return castPointer
	case t.Kind == ast.TYPE_ENUM && t.IsCLike():
		return castEnum
	}
	return castOther
}

func transImmCast(bcx *Block, expr *ast.Node) (*Block, Datum) {
	bcx, d := Trans(bcx, expr.Data.(ast.CastNode).Expr)
	tOut := exprType(expr)
	if layout.Signature(d.Ty) == layout.Signature(tOut) {
		util.Warn(bcx.fcx.cfg(), config.WarnExtra, expr.Tok, "cast from %s to the same type", tOut)
	}
	bcx, v, ok := castValue(bcx, d, tOut)
	if !ok {
		bugAt(expr, "cannot cast %s to %s", d.Ty, tOut)
	}
	return bcx, immDatum(v, tOut)
}

// castValue converts d to tOut following the cast matrix
func castValue(bcx *Block, d Datum, tOut *ast.Type) (*Block, ir.Value, bool) {
	tIn := d.Ty
	kIn, kOut := castKindOf(tIn), castKindOf(tOut)
	switch {
	case kIn == castIntegral && kOut == castIntegral:
		return bcx, intCast(bcx, d.Immediate(bcx), tIn, tOut), true
	case kIn == castFloat && kOut == castFloat:
		return bcx, floatCast(bcx, d.Immediate(bcx), tIn, tOut), true
	case kIn == castIntegral && kOut == castFloat:
		return bcx, intToFloat(bcx, d.Immediate(bcx), tIn, tOut), true
	case kIn == castFloat && kOut == castIntegral:
		bcx, v := floatToInt(bcx, d.Immediate(bcx), tIn, tOut)
		return bcx, v, true
	case kIn == castIntegral && kOut == castPointer:
		return bcx, intCast(bcx, d.Immediate(bcx), tIn, ast.TypeUint), true
	case kIn == castPointer && kOut == castIntegral:
		return bcx, intCast(bcx, d.Immediate(bcx), ast.TypeUint, tOut), true
	case kIn == castPointer && kOut == castPointer:
		return bcx, d.Immediate(bcx), true
	case kIn == castEnum && (kOut == castIntegral || kOut == castFloat):
		bcx, lv := d.ToLvalue(bcx, "discr")
		discr := readDiscr(bcx, lv.Val)
		if kOut == castFloat {
			return bcx, intToFloat(bcx, discr, ast.TypeInt, tOut), true
		}
		return bcx, intCast(bcx, discr, ast.TypeInt, tOut), true
	}
	return bcx, nil, false
}

// normalize brings the low bits of v into the canonical form of t:
// sub-word values are kept sign or zero extended to 32 bits
func normalize(bcx *Block, v ir.Value, t *ast.Type) ir.Value {
	if t.Kind != ast.TYPE_INT {
		return v
	}
	switch bcx.fcx.lay().Bits(t) {
	case 8:
		if t.IsSigned() {
			return bcx.Unop(ir.OpExtSB, ir.TypeW, v)
		}
		return bcx.Unop(ir.OpExtUB, ir.TypeW, v)
	case 16:
		if t.IsSigned() {
			return bcx.Unop(ir.OpExtSH, ir.TypeW, v)
		}
		return bcx.Unop(ir.OpExtUH, ir.TypeW, v)
	}
	return v
}

func intCast(bcx *Block, v ir.Value, from, to *ast.Type) ir.Value {
	lay := bcx.fcx.lay()
	regFrom, regTo := lay.RegType(from), lay.RegType(to)
	switch {
	case regFrom == regTo:
		if lay.Bits(to) < lay.Bits(from) || from.IsSigned() != to.IsSigned() {
			return normalize(bcx, v, to)
		}
		return v
	case regFrom == ir.TypeW && regTo == ir.TypeL:
		if from.IsSigned() {
			return bcx.Unop(ir.OpExtSW, ir.TypeL, v)
		}
		return bcx.Unop(ir.OpExtUW, ir.TypeL, v)
	default:
		return normalize(bcx, bcx.Copy(ir.TypeW, v), to)
	}
}

func floatCast(bcx *Block, v ir.Value, from, to *ast.Type) ir.Value {
	lay := bcx.fcx.lay()
	rf, rt := lay.RegType(from), lay.RegType(to)
	if rf == rt {
		return v
	}
	return bcx.Conv(ir.OpFToF, rt, rf, v)
}

func intToFloat(bcx *Block, v ir.Value, from, to *ast.Type) ir.Value {
	lay := bcx.fcx.lay()
	rf, rt := lay.RegType(from), lay.RegType(to)
	var op ir.Op
	switch {
	case rf == ir.TypeW && from.IsSigned():
		op = ir.OpSWToF
	case rf == ir.TypeW:
		op = ir.OpUWToF
	case from.IsSigned():
		op = ir.OpSLToF
	default:
		op = ir.OpULToF
	}
	return bcx.Conv(op, rt, rf, v)
}

// intRange is the smallest and largest value of an integer type, as the
// bit patterns held in a register of its class
func intRange(bits int, signed bool) (lo, hi int64, flo, fhi float64) {
	if signed {
		lo, hi = -1<<(bits-1), 1<<(bits-1)-1
		return lo, hi, math.Ldexp(-1, bits-1), math.Ldexp(1, bits-1)
	}
	if bits == 64 {
		return 0, -1, 0, math.Ldexp(1, 64)
	}
	return 0, 1<<bits - 1, 0, math.Ldexp(1, bits)
}

// floatToInt converts with saturation: NaN becomes 0 and out of range
// values clamp to the bounds of the target type
func floatToInt(bcx *Block, v ir.Value, from, to *ast.Type) (*Block, ir.Value) {
	fcx := bcx.fcx
	lay := fcx.lay()
	rf, rt := lay.RegType(from), lay.RegType(to)
	conv := ir.OpFToUI
	if to.IsSigned() {
		conv = ir.OpFToSI
	}
	if !fcx.cfg().IsFeatureEnabled(config.FeatSaturatingCasts) || to.IsBool() {
		return bcx, normalize(bcx, bcx.Conv(conv, rt, rf, v), to)
	}
	if bcx.Unreachable() {
		return bcx, constInt(0)
	}

	lo, hi, flo, fhi := intRange(lay.Bits(to), to.IsSigned())
	fc := func(f float64) ir.Value { return &ir.FloatConst{Value: f, Typ: rf} }

	zero := fcx.newBlock("fsat_nan")
	checkHigh := fcx.newBlock("fsat_chk_high")
	high := fcx.newBlock("fsat_high")
	mid := fcx.newBlock("fsat_conv")
	join := fcx.newBlock("fsat_end")

	in := []incoming{{zero, constInt(0)}}
	if to.IsSigned() {
		checkLow := fcx.newBlock("fsat_chk_low")
		low := fcx.newBlock("fsat_low")
		bcx.CondBr(bcx.Cmp(ir.OpCUO, rf, v, v), zero, checkLow)
		checkLow.CondBr(checkLow.Cmp(ir.OpCLe, rf, v, fc(flo)), low, checkHigh)
		low.Jmp(join)
		in = append(in, incoming{low, constInt(lo)})
	} else {
		// !(v > 0) holds for NaN and every non positive value
		bcx.CondBr(bcx.Cmp(ir.OpCGt, rf, v, fc(0)), checkHigh, zero)
	}
	checkHigh.CondBr(checkHigh.Cmp(ir.OpCGe, rf, v, fc(fhi)), high, mid)
	res := mid.Conv(conv, rt, rf, v)
	zero.Jmp(join)
	high.Jmp(join)
	mid.Jmp(join)
	in = append(in, incoming{high, constInt(hi)}, incoming{mid, res})
	return join, join.Phi(rt, in...)
}
