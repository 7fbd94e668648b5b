package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/rt"
)

// Block is the insertion point of the translator. A nil or terminated
// block is unreachable and silently drops whatever is emitted into it.
type Block struct {
	fcx *FunctionContext
	bb  *ir.BasicBlock
}

func (bcx *Block) Unreachable() bool { return bcx.bb == nil || bcx.bb.Terminated() }

func (bcx *Block) add(instr *ir.Instruction) {
	if bcx.Unreachable() {
		return
	}
	bcx.bb.Instructions = append(bcx.bb.Instructions, instr)
}

func (bcx *Block) word() ir.Type { return bcx.fcx.word() }

func constInt(v int64) ir.Value { return &ir.Const{Value: v} }

func (bcx *Block) Load(addr ir.Value, loadType, regType ir.Type) ir.Value {
	res := bcx.fcx.newTemp("")
	bcx.add(&ir.Instruction{Op: ir.OpLoad, Typ: regType, OperandType: loadType, Result: res, Args: []ir.Value{addr}})
	return res
}

func (bcx *Block) Store(v, addr ir.Value, memType ir.Type) {
	bcx.add(&ir.Instruction{Op: ir.OpStore, Typ: memType, Args: []ir.Value{v, addr}})
}

// LoadTy loads a scalar value of type t
func (bcx *Block) LoadTy(addr ir.Value, t *ast.Type) ir.Value {
	if t.IsNil() {
		return constInt(0)
	}
	lay := bcx.fcx.lay()
	return bcx.Load(addr, lay.LoadType(t), lay.RegType(t))
}

// StoreTy stores a scalar value of type t
func (bcx *Block) StoreTy(v, addr ir.Value, t *ast.Type) {
	if t.IsNil() {
		return
	}
	bcx.Store(v, addr, bcx.fcx.lay().MemType(t))
}

func (bcx *Block) Binop(op ir.Op, typ ir.Type, a, b ir.Value) ir.Value {
	res := bcx.fcx.newTemp("")
	bcx.add(&ir.Instruction{Op: op, Typ: typ, Result: res, Args: []ir.Value{a, b}})
	return res
}

func (bcx *Block) Unop(op ir.Op, typ ir.Type, a ir.Value) ir.Value {
	res := bcx.fcx.newTemp("")
	bcx.add(&ir.Instruction{Op: op, Typ: typ, Result: res, Args: []ir.Value{a}})
	return res
}

// Cmp compares two values of class operand and yields a 0/1 word
func (bcx *Block) Cmp(op ir.Op, operand ir.Type, a, b ir.Value) ir.Value {
	res := bcx.fcx.newTemp("")
	bcx.add(&ir.Instruction{Op: op, Typ: ir.TypeW, OperandType: operand, Result: res, Args: []ir.Value{a, b}})
	return res
}

// Conv converts v of class from into class to
func (bcx *Block) Conv(op ir.Op, to, from ir.Type, v ir.Value) ir.Value {
	res := bcx.fcx.newTemp("")
	bcx.add(&ir.Instruction{Op: op, Typ: to, OperandType: from, Result: res, Args: []ir.Value{v}})
	return res
}

func (bcx *Block) Copy(typ ir.Type, v ir.Value) ir.Value {
	return bcx.Unop(ir.OpCopy, typ, v)
}

// GEP offsets an address by a constant number of bytes
func (bcx *Block) GEP(base ir.Value, off int64) ir.Value {
	if off == 0 {
		return base
	}
	return bcx.Binop(ir.OpAdd, bcx.word(), base, constInt(off))
}

// IndexAddr is base + idx*stride with idx a word
func (bcx *Block) IndexAddr(base, idx ir.Value, stride int64) ir.Value {
	if c, ok := idx.(*ir.Const); ok {
		return bcx.GEP(base, c.Value*stride)
	}
	off := idx
	if stride != 1 {
		off = bcx.Binop(ir.OpMul, bcx.word(), idx, constInt(stride))
	}
	return bcx.Binop(ir.OpAdd, bcx.word(), base, off)
}

func (bcx *Block) Blit(src, dst ir.Value, size int64) {
	if size <= 0 {
		return
	}
	bcx.add(&ir.Instruction{Op: ir.OpBlit, Args: []ir.Value{src, dst, constInt(size)}})
}

// CopyTy copies a value of type t between two addresses
func (bcx *Block) CopyTy(dst, src ir.Value, t *ast.Type) {
	lay := bcx.fcx.lay()
	if lay.IsImmediate(t) {
		bcx.StoreTy(bcx.LoadTy(src, t), dst, t)
		return
	}
	bcx.Blit(src, dst, lay.SizeOf(t))
}

// Zero clears the storage of a value of type t
func (bcx *Block) Zero(addr ir.Value, t *ast.Type) {
	size := bcx.fcx.lay().SizeOf(t)
	if size > 8*int64(bcx.fcx.ccx.Cfg.WordSize) {
		bcx.callRuntime(rt.Memset, ir.TypeNone, []ir.Value{addr, constInt(0), constInt(size)},
			[]ir.Type{bcx.word(), ir.TypeW, bcx.word()})
		return
	}
	var off int64
	for _, chunk := range []struct {
		n  int64
		mt ir.Type
	}{{8, ir.TypeL}, {4, ir.TypeW}, {2, ir.TypeH}, {1, ir.TypeB}} {
		for size-off >= chunk.n {
			bcx.Store(constInt(0), bcx.GEP(addr, off), chunk.mt)
			off += chunk.n
		}
	}
}

func (bcx *Block) Jmp(target *Block) { bcx.JmpBB(target.bb) }

func (bcx *Block) JmpBB(target *ir.BasicBlock) {
	if target == nil {
		return
	}
	bcx.add(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{target.Label}})
}

func (bcx *Block) CondBr(cond ir.Value, then, els *Block) { bcx.CondBrBB(cond, then.bb, els.bb) }

func (bcx *Block) CondBrBB(cond ir.Value, then, els *ir.BasicBlock) {
	bcx.add(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{cond, then.Label, els.Label}})
}

func (bcx *Block) Ret(v ir.Value) {
	instr := &ir.Instruction{Op: ir.OpRet}
	if v != nil {
		instr.Args = []ir.Value{v}
	}
	bcx.add(instr)
}

type incoming struct {
	from *Block
	val  ir.Value
}

// jumpsTo reports whether bcx ends in a branch to target
func (bcx *Block) jumpsTo(target *Block) bool {
	if bcx.bb == nil || target.bb == nil || !bcx.bb.Terminated() {
		return false
	}
	last := bcx.bb.Instructions[len(bcx.bb.Instructions)-1]
	for _, a := range last.Args {
		if a == target.bb.Label {
			return true
		}
	}
	return false
}

// Phi merges values arriving from the predecessors that branch to bcx.
// With a single predecessor its value is used directly.
func (bcx *Block) Phi(typ ir.Type, in ...incoming) ir.Value {
	var live []incoming
	for _, i := range in {
		if i.from.jumpsTo(bcx) {
			live = append(live, i)
		}
	}
	switch len(live) {
	case 0:
		return constInt(0)
	case 1:
		return live[0].val
	}
	res := bcx.fcx.newTemp("")
	var args []ir.Value
	for _, i := range live {
		args = append(args, i.from.bb.Label, i.val)
	}
	if bcx.Unreachable() {
		return res
	}
	bcx.bb.Instructions = append([]*ir.Instruction{{Op: ir.OpPhi, Typ: typ, Result: res, Args: args}}, bcx.bb.Instructions...)
	return res
}

// Call emits a plain call; ret is TypeNone for calls without a result
func (bcx *Block) Call(fn ir.Value, ret ir.Type, args []ir.Value, types []ir.Type) ir.Value {
	var res ir.Value
	if ret != ir.TypeNone {
		res = bcx.fcx.newTemp("")
	}
	bcx.add(&ir.Instruction{
		Op:       ir.OpCall,
		Typ:      ret,
		Result:   res,
		Args:     append([]ir.Value{fn}, args...),
		ArgTypes: types,
	})
	return res
}

func (bcx *Block) callRuntime(sym string, ret ir.Type, args []ir.Value, types []ir.Type) ir.Value {
	bcx.fcx.ccx.Prog.AddExtern(sym)
	return bcx.Call(&ir.Global{Name: sym}, ret, args, types)
}

// checkPanic tests the pending panic flag after a call that may unwind
// and takes the current landing pad if it is set
func (bcx *Block) checkPanic() *Block {
	fcx := bcx.fcx
	p := bcx.callRuntime(rt.Panicking, ir.TypeW, nil, nil)
	next := fcx.newBlock("cont")
	bcx.CondBrBB(p, fcx.landingPad(), next.bb)
	return next
}

// failIf branches to a failure path calling the runtime routine sym when
// cond holds; the failure path unwinds through the current cleanups
func (bcx *Block) failIf(cond ir.Value, sym string, args []ir.Value, types []ir.Type) *Block {
	if bcx.Unreachable() {
		return bcx
	}
	fcx := bcx.fcx
	fail := fcx.newBlock("fail")
	next := fcx.newBlock("ok")
	bcx.CondBr(cond, fail, next)
	fail.callRuntime(sym, ir.TypeNone, args, types)
	fail.JmpBB(fcx.landingPad())
	return next
}

// fail unconditionally calls sym and unwinds
func (bcx *Block) fail(sym string) *Block {
	if bcx.Unreachable() {
		return bcx
	}
	bcx.callRuntime(sym, ir.TypeNone, nil, nil)
	bcx.JmpBB(bcx.fcx.landingPad())
	return bcx.fcx.unreachable()
}

// malloc allocates size bytes on the exchange heap
func (bcx *Block) malloc(size int64) ir.Value {
	return bcx.callRuntime(rt.Malloc, bcx.word(), []ir.Value{constInt(max(size, 1))}, []ir.Type{bcx.word()})
}

// ifNonNull runs body only when ptr is not null and continues afterwards
func (bcx *Block) ifNonNull(ptr ir.Value, prefix string, body func(*Block) *Block) *Block {
	fcx := bcx.fcx
	then := fcx.newBlock(prefix)
	next := fcx.newBlock(prefix + "_end")
	nz := bcx.Cmp(ir.OpCNeq, bcx.word(), ptr, constInt(0))
	bcx.CondBr(nz, then, next)
	body(then).Jmp(next)
	return next
}

// iterate runs body for every element of a sequence of count elements
func (bcx *Block) iterate(base, count ir.Value, stride int64, body func(*Block, ir.Value) *Block) *Block {
	fcx := bcx.fcx
	w := bcx.word()
	head := fcx.newBlock("iter")
	loop := fcx.newBlock("iter_body")
	next := fcx.newBlock("iter_end")
	slot := fcx.Alloca(ast.TypeUint, "i")
	bcx.Store(constInt(0), slot, w)
	bcx.Jmp(head)
	i := head.Load(slot, w, w)
	more := head.Cmp(ir.OpCULt, w, i, count)
	head.CondBr(more, loop, next)
	elem := loop.IndexAddr(base, i, stride)
	end := body(loop, elem)
	end.Store(end.Binop(ir.OpAdd, w, i, constInt(1)), slot, w)
	end.Jmp(head)
	return next
}
