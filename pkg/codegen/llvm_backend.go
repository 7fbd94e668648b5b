package codegen

import (
	"bytes"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/xplshn/trans/pkg/config"
	tir "github.com/xplshn/trans/pkg/ir"
)

// llvmBackend renders a program as textual LLVM IR. Temporaries live in
// stack slots and addresses travel as word sized integers, so the
// output stays valid regardless of how the source program reuses them.
type llvmBackend struct {
	prog    *tir.Program
	m       *ir.Module
	word    *types.IntType
	globals map[string]constant.Constant
	memmove *ir.Func

	// per function
	fn     *ir.Func
	blocks map[string]*ir.Block
	slots  map[int]*ir.InstAlloca
	moves  map[string][]phiMove
}

// phiMove stores an incoming value into a phi's slot on the edge out of
// a predecessor
type phiMove struct {
	slot *ir.InstAlloca
	val  tir.Value
}

func NewLLVMBackend() Backend { return &llvmBackend{} }

func (b *llvmBackend) Generate(prog *tir.Program, cfg *config.Config) (buf *bytes.Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(llvmError); ok {
				err = e
				return
			}
			panic(r)
		}
	}()
	b.prog = prog
	b.m = ir.NewModule()
	b.word = types.I64
	if prog.WordSize == 4 {
		b.word = types.I32
	}
	b.globals = make(map[string]constant.Constant)
	b.memmove = nil

	defs := b.declareData()
	for _, fn := range prog.Funcs {
		b.declareFunc(fn)
	}
	b.initData(defs)
	for _, fn := range prog.Funcs {
		b.genFunc(fn)
	}
	return bytes.NewBufferString(b.m.String()), nil
}

// GenerateIR is Generate as a string; LLVM IR is already the final output
func (b *llvmBackend) GenerateIR(prog *tir.Program, cfg *config.Config) (string, error) {
	buf, err := b.Generate(prog, cfg)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

type llvmError struct{ msg string }

func (e llvmError) Error() string { return "llvm: " + e.msg }

func (b *llvmBackend) fail(format string, args ...interface{}) {
	panic(llvmError{fmt.Sprintf(format, args...)})
}

func (b *llvmBackend) declareData() []*ir.Global {
	for _, s := range b.prog.StringOrder {
		g := b.m.NewGlobalDef(b.prog.Strings[s], constant.NewCharArrayFromString(s+"\x00"))
		g.Immutable = true
		b.globals[g.Name()] = g
	}

	defs := make([]*ir.Global, len(b.prog.Globals))
	for i, d := range b.prog.Globals {
		fields := make([]types.Type, len(d.Items))
		for j, item := range d.Items {
			if item.Count > 0 {
				fields[j] = types.NewArray(uint64(item.Count), types.I8)
			} else {
				fields[j] = b.memType(item.Typ)
			}
		}
		st := types.NewStruct(fields...)
		st.Packed = true
		g := ir.NewGlobal(d.Name, st)
		if d.Align > 0 {
			g.Align = ir.Align(d.Align)
		}
		b.m.Globals = append(b.m.Globals, g)
		b.globals[d.Name] = g
		defs[i] = g
	}
	return defs
}

// initData builds initializers once every symbol they may point at has
// been declared
func (b *llvmBackend) initData(defs []*ir.Global) {
	for i, d := range b.prog.Globals {
		st := defs[i].ContentType.(*types.StructType)
		inits := make([]constant.Constant, len(d.Items))
		for j, item := range d.Items {
			if item.Count > 0 {
				inits[j] = constant.NewZeroInitializer(st.Fields[j])
				continue
			}
			inits[j] = b.constOf(item.Value, st.Fields[j])
		}
		defs[i].Init = constant.NewStruct(st, inits...)
	}
}

func (b *llvmBackend) constOf(v tir.Value, t types.Type) constant.Constant {
	switch v := v.(type) {
	case *tir.Const:
		if ft, ok := t.(*types.FloatType); ok {
			return constant.NewFloat(ft, float64(v.Value))
		}
		return constant.NewInt(t.(*types.IntType), v.Value)
	case *tir.FloatConst:
		if ft, ok := t.(*types.FloatType); ok {
			return constant.NewFloat(ft, v.Value)
		}
	case *tir.Global:
		addr := constant.NewPtrToInt(b.global(v.Name), b.word)
		if it, ok := t.(*types.IntType); ok && it.BitSize < b.word.BitSize {
			return constant.NewTrunc(addr, it)
		}
		return addr
	}
	b.fail("cannot use %v as a %v constant", v, t)
	return nil
}

// global returns the symbol called name, declaring unknown ones as
// external functions
func (b *llvmBackend) global(name string) constant.Constant {
	if g, ok := b.globals[name]; ok {
		return g
	}
	f := b.m.NewFunc(name, types.Void)
	b.globals[name] = f
	return f
}

func (b *llvmBackend) declareFunc(fn *tir.Func) {
	params := make([]*ir.Param, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = ir.NewParam(p.Name, b.regType(p.Typ))
	}
	f := b.m.NewFunc(fn.Name, b.retType(fn.ReturnType), params...)
	if !fn.Export {
		f.Linkage = enum.LinkageInternal
	}
	b.globals[fn.Name] = f
}

func (b *llvmBackend) genFunc(fn *tir.Func) {
	b.fn = b.globals[fn.Name].(*ir.Func)
	b.blocks = make(map[string]*ir.Block)
	b.slots = make(map[int]*ir.InstAlloca)
	b.moves = make(map[string][]phiMove)

	entry := b.fn.NewBlock("entry")
	for _, bb := range fn.Blocks {
		b.blocks[bb.Label.Name] = b.fn.NewBlock(bb.Label.Name)
	}

	for i, p := range fn.Params {
		b.slotFor(entry, p.Val, p.Typ)
		entry.NewStore(b.fn.Params[i], b.slots[p.Val.(*tir.Temporary).ID])
	}
	for _, bb := range fn.Blocks {
		for _, instr := range bb.Instructions {
			if instr.Result != nil {
				b.slotFor(entry, instr.Result, b.resultType(instr))
			}
			if instr.Op != tir.OpPhi {
				continue
			}
			slot := b.slots[instr.Result.(*tir.Temporary).ID]
			for i := 0; i+1 < len(instr.Args); i += 2 {
				from := instr.Args[i].(*tir.Label).Name
				b.moves[from] = append(b.moves[from], phiMove{slot: slot, val: instr.Args[i+1]})
			}
		}
	}
	if len(fn.Blocks) == 0 {
		entry.NewUnreachable()
		return
	}
	entry.NewBr(b.blocks[fn.Blocks[0].Label.Name])

	for _, bb := range fn.Blocks {
		b.genBlock(fn, bb)
	}
}

func (b *llvmBackend) slotFor(entry *ir.Block, v tir.Value, t tir.Type) {
	tmp, ok := v.(*tir.Temporary)
	if !ok {
		b.fail("result %v is not a temporary", v)
	}
	if _, ok := b.slots[tmp.ID]; !ok {
		b.slots[tmp.ID] = entry.NewAlloca(b.regType(t))
	}
}

func (b *llvmBackend) resultType(instr *tir.Instruction) tir.Type {
	if instr.Op.IsComparison() {
		return tir.TypeW
	}
	return instr.Typ
}

func (b *llvmBackend) genBlock(fn *tir.Func, bb *tir.BasicBlock) {
	blk := b.blocks[bb.Label.Name]
	for _, instr := range bb.Instructions {
		if instr.Op.IsTerminator() {
			b.emitMoves(blk, bb.Label.Name)
			b.genTerm(fn, blk, instr)
			return
		}
		b.genInstr(blk, instr)
	}
	blk.NewUnreachable()
}

// emitMoves feeds the phis of every successor; all incoming values are
// read before any slot is written
func (b *llvmBackend) emitMoves(blk *ir.Block, label string) {
	moves := b.moves[label]
	vals := make([]value.Value, len(moves))
	for i, mv := range moves {
		vals[i] = b.operand(blk, mv.val, mv.slot.ElemType)
	}
	for i, mv := range moves {
		blk.NewStore(vals[i], mv.slot)
	}
}

func (b *llvmBackend) genTerm(fn *tir.Func, blk *ir.Block, instr *tir.Instruction) {
	switch instr.Op {
	case tir.OpJmp:
		blk.NewBr(b.target(instr.Args[0]))
	case tir.OpJnz:
		cond := b.native(blk, instr.Args[0])
		nz := blk.NewICmp(enum.IPredNE, cond, constant.NewInt(cond.Type().(*types.IntType), 0))
		blk.NewCondBr(nz, b.target(instr.Args[1]), b.target(instr.Args[2]))
	case tir.OpRet:
		ret := b.retType(fn.ReturnType)
		switch {
		case ret == types.Void:
			blk.NewRet(nil)
		case len(instr.Args) == 0 || instr.Args[0] == nil:
			blk.NewRet(constant.NewZeroInitializer(ret))
		default:
			blk.NewRet(b.operand(blk, instr.Args[0], ret))
		}
	}
}

func (b *llvmBackend) target(v tir.Value) *ir.Block {
	l, ok := v.(*tir.Label)
	if !ok {
		b.fail("jump to %v", v)
	}
	blk, ok := b.blocks[l.Name]
	if !ok {
		b.fail("jump to unknown block @%s", l.Name)
	}
	return blk
}

func (b *llvmBackend) genInstr(blk *ir.Block, instr *tir.Instruction) {
	var res value.Value
	rt := b.regType(b.resultType(instr))

	switch op := instr.Op; {
	case op == tir.OpPhi:
		return
	case op == tir.OpAlloc:
		a := blk.NewAlloca(types.I8)
		a.NElems = b.operand(blk, instr.Args[0], b.word)
		if instr.Align > 0 {
			a.Align = ir.Align(instr.Align)
		}
		res = blk.NewPtrToInt(a, b.word)
	case op == tir.OpLoad:
		mt := b.memType(instr.OperandType)
		v := blk.NewLoad(mt, b.addr(blk, instr.Args[0], mt))
		res = b.widen(blk, v, instr.OperandType, rt)
	case op == tir.OpStore:
		mt := b.memType(instr.Typ)
		blk.NewStore(b.operand(blk, instr.Args[0], mt), b.addr(blk, instr.Args[1], mt))
		return
	case op == tir.OpBlit:
		src := b.addr(blk, instr.Args[0], types.I8)
		dst := b.addr(blk, instr.Args[1], types.I8)
		blk.NewCall(b.memmoveFunc(), dst, src, b.operand(blk, instr.Args[2], b.word), constant.False)
		return
	case op == tir.OpCall:
		res = b.genCall(blk, instr)
	case op >= tir.OpAdd && op <= tir.OpShrU:
		res = b.genArith(blk, instr, rt)
	case op.IsComparison():
		res = blk.NewZExt(b.genCompare(blk, instr), rt)
	case op >= tir.OpExtSB && op <= tir.OpExtUW:
		res = b.genExt(blk, instr, rt)
	case op == tir.OpCopy:
		res = b.operand(blk, instr.Args[0], rt)
	case op == tir.OpCast:
		res = blk.NewBitCast(b.operand(blk, instr.Args[0], sameWidthOther(rt)), rt)
	case op == tir.OpFToSI:
		res = blk.NewFPToSI(b.operand(blk, instr.Args[0], b.regType(instr.OperandType)), rt)
	case op == tir.OpFToUI:
		res = blk.NewFPToUI(b.operand(blk, instr.Args[0], b.regType(instr.OperandType)), rt)
	case op == tir.OpSWToF:
		res = blk.NewSIToFP(b.operand(blk, instr.Args[0], types.I32), rt)
	case op == tir.OpUWToF:
		res = blk.NewUIToFP(b.operand(blk, instr.Args[0], types.I32), rt)
	case op == tir.OpSLToF:
		res = blk.NewSIToFP(b.operand(blk, instr.Args[0], types.I64), rt)
	case op == tir.OpULToF:
		res = blk.NewUIToFP(b.operand(blk, instr.Args[0], types.I64), rt)
	case op == tir.OpFToF:
		src := b.regType(instr.OperandType)
		v := b.operand(blk, instr.Args[0], src)
		if rt.Equal(types.Double) {
			res = blk.NewFPExt(v, rt)
		} else {
			res = blk.NewFPTrunc(v, rt)
		}
	default:
		b.fail("no LLVM lowering for %s", op)
	}

	if instr.Result != nil && res != nil {
		slot := b.slots[instr.Result.(*tir.Temporary).ID]
		blk.NewStore(b.convert(blk, res, slot.ElemType), slot)
	}
}

func (b *llvmBackend) genCall(blk *ir.Block, instr *tir.Instruction) value.Value {
	ret := b.retType(instr.Typ)
	args := instr.Args[1:]
	params := make([]types.Type, len(args))
	vals := make([]value.Value, len(args))
	for i, a := range args {
		params[i] = b.word
		if i < len(instr.ArgTypes) {
			params[i] = b.regType(instr.ArgTypes[i])
		}
		vals[i] = b.operand(blk, a, params[i])
	}
	sig := types.NewPointer(types.NewFunc(ret, params...))
	callee := blk.NewIntToPtr(b.operand(blk, instr.Args[0], b.word), sig)
	call := blk.NewCall(callee, vals...)
	if ret == types.Void {
		return nil
	}
	return call
}

func (b *llvmBackend) genArith(blk *ir.Block, instr *tir.Instruction, rt types.Type) value.Value {
	x := b.operand(blk, instr.Args[0], rt)
	if instr.Op == tir.OpNeg {
		if isFloat(rt) {
			return blk.NewFNeg(x)
		}
		return blk.NewSub(constant.NewInt(rt.(*types.IntType), 0), x)
	}
	y := b.operand(blk, instr.Args[1], rt)
	if isFloat(rt) {
		switch instr.Op {
		case tir.OpAdd:
			return blk.NewFAdd(x, y)
		case tir.OpSub:
			return blk.NewFSub(x, y)
		case tir.OpMul:
			return blk.NewFMul(x, y)
		case tir.OpDiv:
			return blk.NewFDiv(x, y)
		case tir.OpRem:
			return blk.NewFRem(x, y)
		}
		b.fail("%s on floats", instr.Op)
	}
	switch instr.Op {
	case tir.OpAdd:
		return blk.NewAdd(x, y)
	case tir.OpSub:
		return blk.NewSub(x, y)
	case tir.OpMul:
		return blk.NewMul(x, y)
	case tir.OpDiv:
		return blk.NewSDiv(x, y)
	case tir.OpUDiv:
		return blk.NewUDiv(x, y)
	case tir.OpRem:
		return blk.NewSRem(x, y)
	case tir.OpURem:
		return blk.NewURem(x, y)
	case tir.OpAnd:
		return blk.NewAnd(x, y)
	case tir.OpOr:
		return blk.NewOr(x, y)
	case tir.OpXor:
		return blk.NewXor(x, y)
	}

	// Shift amounts wrap at the operand width
	it := rt.(*types.IntType)
	y = blk.NewAnd(y, constant.NewInt(it, int64(it.BitSize-1)))
	switch instr.Op {
	case tir.OpShl:
		return blk.NewShl(x, y)
	case tir.OpShr:
		return blk.NewAShr(x, y)
	default:
		return blk.NewLShr(x, y)
	}
}

var intPreds = map[tir.Op]enum.IPred{
	tir.OpCEq: enum.IPredEQ, tir.OpCNeq: enum.IPredNE,
	tir.OpCLt: enum.IPredSLT, tir.OpCGt: enum.IPredSGT, tir.OpCLe: enum.IPredSLE, tir.OpCGe: enum.IPredSGE,
	tir.OpCULt: enum.IPredULT, tir.OpCUGt: enum.IPredUGT, tir.OpCULe: enum.IPredULE, tir.OpCUGe: enum.IPredUGE,
}

var floatPreds = map[tir.Op]enum.FPred{
	tir.OpCEq: enum.FPredOEQ, tir.OpCNeq: enum.FPredUNE,
	tir.OpCLt: enum.FPredOLT, tir.OpCGt: enum.FPredOGT, tir.OpCLe: enum.FPredOLE, tir.OpCGe: enum.FPredOGE,
	tir.OpCULt: enum.FPredOLT, tir.OpCUGt: enum.FPredOGT, tir.OpCULe: enum.FPredOLE, tir.OpCUGe: enum.FPredOGE,
	tir.OpCO: enum.FPredORD, tir.OpCUO: enum.FPredUNO,
}

func (b *llvmBackend) genCompare(blk *ir.Block, instr *tir.Instruction) value.Value {
	ot := instr.OperandType
	if ot == tir.TypeNone {
		ot = b.prog.WordType()
	}
	t := b.regType(ot)
	x := b.operand(blk, instr.Args[0], t)
	y := b.operand(blk, instr.Args[1], t)
	if isFloat(t) {
		return blk.NewFCmp(floatPreds[instr.Op], x, y)
	}
	pred, ok := intPreds[instr.Op]
	if !ok {
		b.fail("%s on integer operands", instr.Op)
	}
	return blk.NewICmp(pred, x, y)
}

func (b *llvmBackend) genExt(blk *ir.Block, instr *tir.Instruction, rt types.Type) value.Value {
	var narrow *types.IntType
	signed := false
	switch instr.Op {
	case tir.OpExtSB:
		narrow, signed = types.I8, true
	case tir.OpExtUB:
		narrow = types.I8
	case tir.OpExtSH:
		narrow, signed = types.I16, true
	case tir.OpExtUH:
		narrow = types.I16
	case tir.OpExtSW:
		narrow, signed = types.I32, true
	default:
		narrow = types.I32
	}
	v := b.operand(blk, instr.Args[0], narrow)
	if rt.Equal(narrow) {
		return v
	}
	if signed {
		return blk.NewSExt(v, rt)
	}
	return blk.NewZExt(v, rt)
}

// widen turns a value loaded as mt into register type rt, extending
// sub-word loads by their signedness
func (b *llvmBackend) widen(blk *ir.Block, v value.Value, mt tir.Type, rt types.Type) value.Value {
	if v.Type().Equal(rt) {
		return v
	}
	switch mt {
	case tir.TypeSB, tir.TypeSH:
		if _, ok := rt.(*types.IntType); ok {
			return blk.NewSExt(v, rt)
		}
	}
	return b.convert(blk, v, rt)
}

// operand materializes v as a value of type t
func (b *llvmBackend) operand(blk *ir.Block, v tir.Value, t types.Type) value.Value {
	switch v := v.(type) {
	case *tir.Const, *tir.FloatConst:
		if it, ok := t.(*types.IntType); ok {
			if c, ok := v.(*tir.Const); ok {
				return constant.NewInt(it, c.Value)
			}
		}
		if ft, ok := t.(*types.FloatType); ok {
			if c, ok := v.(*tir.FloatConst); ok {
				return constant.NewFloat(ft, c.Value)
			}
		}
	case *tir.Global:
		return b.convert(blk, constant.NewPtrToInt(b.global(v.Name), b.word), t)
	case *tir.Temporary:
		return b.convert(blk, b.native(blk, v), t)
	}
	switch v := v.(type) {
	case *tir.Const:
		return b.convert(blk, constant.NewInt(types.I64, v.Value), t)
	case *tir.FloatConst:
		return b.convert(blk, constant.NewFloat(types.Double, v.Value), t)
	}
	b.fail("cannot use %v as an operand", v)
	return nil
}

// native reads v in the type of its own slot
func (b *llvmBackend) native(blk *ir.Block, v tir.Value) value.Value {
	tmp, ok := v.(*tir.Temporary)
	if !ok {
		return b.operand(blk, v, b.word)
	}
	slot, ok := b.slots[tmp.ID]
	if !ok {
		b.fail("temporary %s used but never defined", tmp.Name)
	}
	return blk.NewLoad(slot.ElemType, slot)
}

func (b *llvmBackend) addr(blk *ir.Block, v tir.Value, elem types.Type) value.Value {
	return blk.NewIntToPtr(b.operand(blk, v, b.word), types.NewPointer(elem))
}

func (b *llvmBackend) convert(blk *ir.Block, v value.Value, to types.Type) value.Value {
	from := v.Type()
	if from.Equal(to) {
		return v
	}
	fi, fromInt := from.(*types.IntType)
	ti, toInt := to.(*types.IntType)
	switch {
	case fromInt && toInt:
		if fi.BitSize > ti.BitSize {
			return blk.NewTrunc(v, to)
		}
		return blk.NewZExt(v, to)
	case fromInt:
		same := sameWidthOther(to)
		return blk.NewBitCast(b.convert(blk, v, same), to)
	case toInt:
		same := sameWidthOther(from)
		return b.convert(blk, blk.NewBitCast(v, same), to)
	}
	if to.Equal(types.Double) {
		return blk.NewFPExt(v, to)
	}
	return blk.NewFPTrunc(v, to)
}

func (b *llvmBackend) memmoveFunc() *ir.Func {
	if b.memmove == nil {
		name := fmt.Sprintf("llvm.memmove.p0i8.p0i8.i%d", b.word.BitSize)
		b.memmove = b.m.NewFunc(name, types.Void,
			ir.NewParam("dst", types.I8Ptr),
			ir.NewParam("src", types.I8Ptr),
			ir.NewParam("len", b.word),
			ir.NewParam("volatile", types.I1))
	}
	return b.memmove
}

func (b *llvmBackend) memType(t tir.Type) types.Type {
	switch t {
	case tir.TypeB, tir.TypeSB, tir.TypeUB:
		return types.I8
	case tir.TypeH, tir.TypeSH, tir.TypeUH:
		return types.I16
	case tir.TypeW:
		return types.I32
	case tir.TypeL:
		return types.I64
	case tir.TypeS:
		return types.Float
	case tir.TypeD:
		return types.Double
	case tir.TypePtr, tir.TypeNone:
		return b.word
	}
	b.fail("unknown type %d", t)
	return nil
}

func (b *llvmBackend) regType(t tir.Type) types.Type {
	switch t {
	case tir.TypeB, tir.TypeSB, tir.TypeUB, tir.TypeH, tir.TypeSH, tir.TypeUH:
		return types.I32
	}
	return b.memType(t)
}

func (b *llvmBackend) retType(t tir.Type) types.Type {
	if t == tir.TypeNone {
		return types.Void
	}
	return b.regType(t)
}

func isFloat(t types.Type) bool {
	_, ok := t.(*types.FloatType)
	return ok
}

// sameWidthOther is the float type as wide as an integer type, or the
// integer type as wide as a float type
func sameWidthOther(t types.Type) types.Type {
	switch {
	case t.Equal(types.I32):
		return types.Float
	case t.Equal(types.I64):
		return types.Double
	case t.Equal(types.Float):
		return types.I32
	}
	return types.I64
}
