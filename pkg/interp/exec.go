package interp

import (
	"math"

	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/util"
)

type function struct {
	fn     *ir.Func
	labels map[string]int
}

func compile(f *ir.Func) *function {
	labels := make(map[string]int, len(f.Blocks))
	for i, bb := range f.Blocks {
		labels[bb.Label.Name] = i
	}
	return &function{fn: f, labels: labels}
}

type frame struct {
	m     *Machine
	f     *function
	temps map[int]uint64
}

func (fr *frame) fault(format string, args ...interface{}) {
	fr.m.fault(fr.f.fn.Name, format, args...)
}

func (fr *frame) set(v ir.Value, t ir.Type, x uint64) {
	tmp, ok := v.(*ir.Temporary)
	if !ok {
		fr.fault("result %v is not a temporary", v)
	}
	fr.temps[tmp.ID] = fr.m.mask(t, x)
}

// val reads an operand as a value of register class t
func (fr *frame) val(v ir.Value, t ir.Type) uint64 {
	switch v := v.(type) {
	case *ir.Const:
		return fr.m.mask(t, uint64(v.Value))
	case *ir.FloatConst:
		ft := t
		if !ft.IsFloat() {
			ft = v.Typ
		}
		return floatBits(v.Value, ft)
	case *ir.Global:
		return fr.m.addrOf(v.Name)
	case *ir.Temporary:
		x, ok := fr.temps[v.ID]
		if !ok {
			fr.fault("use of undefined temporary %%%d", v.ID)
		}
		return fr.m.mask(t, x)
	}
	fr.fault("operand %v is not a value", v)
	return 0
}

func (fr *frame) label(v ir.Value) int {
	l, ok := v.(*ir.Label)
	if !ok {
		fr.fault("branch target %v is not a label", v)
	}
	i, ok := fr.f.labels[l.Name]
	if !ok {
		fr.fault("branch to unknown block %s", l.Name)
	}
	return i
}

func (m *Machine) exec(f *function, args []uint64) uint64 {
	fn := f.fn
	fr := &frame{m: m, f: f, temps: make(map[int]uint64)}
	if len(args) != len(fn.Params) {
		fr.fault("called with %d arguments, want %d", len(args), len(fn.Params))
	}
	for i, p := range fn.Params {
		fr.set(p.Val, p.Typ, args[i])
	}
	sp := len(m.stack)
	defer func() { m.stack = m.stack[:sp] }()
	if len(fn.Blocks) == 0 {
		fr.fault("function has no body")
	}

	cur, prev := 0, -1
	for {
		bb := fn.Blocks[cur]
		fr.phis(bb, prev)
		next := -1
		for _, in := range bb.Instructions {
			if in.Op == ir.OpPhi {
				continue
			}
			m.steps++
			if m.MaxSteps > 0 && m.steps > m.MaxSteps {
				fr.fault("step limit of %d exceeded", m.MaxSteps)
			}
			switch in.Op {
			case ir.OpJmp:
				next = fr.label(in.Args[0])
			case ir.OpJnz:
				if fr.val(in.Args[0], ir.TypeL) != 0 {
					next = fr.label(in.Args[1])
				} else {
					next = fr.label(in.Args[2])
				}
			case ir.OpRet:
				if len(in.Args) == 0 {
					return 0
				}
				return fr.val(in.Args[0], fn.ReturnType)
			default:
				fr.step(in)
				continue
			}
			break
		}
		if next < 0 {
			fr.fault("block %s falls off its end", bb.Label.Name)
		}
		prev, cur = cur, next
	}
}

// phis assigns every phi of bb at once from the edge taken into it
func (fr *frame) phis(bb *ir.BasicBlock, prev int) {
	type assign struct {
		res ir.Value
		typ ir.Type
		v   uint64
	}
	var pending []assign
	for _, in := range bb.Instructions {
		if in.Op != ir.OpPhi {
			continue
		}
		found := false
		for i := 0; i+1 < len(in.Args); i += 2 {
			if prev >= 0 && fr.label(in.Args[i]) == prev {
				pending = append(pending, assign{in.Result, in.Typ, fr.val(in.Args[i+1], in.Typ)})
				found = true
				break
			}
		}
		if !found {
			fr.fault("phi in %s has no value for the incoming edge", bb.Label.Name)
		}
	}
	for _, a := range pending {
		fr.set(a.res, a.typ, a.v)
	}
}

func (fr *frame) step(in *ir.Instruction) {
	m := fr.m
	w := m.wordType()
	switch op := in.Op; {
	case op == ir.OpAlloc:
		fr.set(in.Result, in.Typ, fr.alloc(fr.val(in.Args[0], w), in.Align))
	case op == ir.OpLoad:
		fr.set(in.Result, in.Typ, m.load(fr.val(in.Args[0], w), in.OperandType))
	case op == ir.OpStore:
		m.store(fr.val(in.Args[1], w), in.Typ, fr.val(in.Args[0], in.Typ))
	case op == ir.OpBlit:
		src, dst := fr.val(in.Args[0], w), fr.val(in.Args[1], w)
		m.move(dst, src, int64(fr.val(in.Args[2], w)))
	case op == ir.OpCall:
		fr.call(in)
	case op.IsComparison():
		fr.set(in.Result, ir.TypeW, fr.compare(in))
	case op >= ir.OpExtSB && op <= ir.OpExtUW:
		fr.set(in.Result, in.Typ, extend(op, fr.val(in.Args[0], ir.TypeL)))
	case op == ir.OpCopy, op == ir.OpCast:
		fr.set(in.Result, in.Typ, fr.val(in.Args[0], in.Typ))
	case op >= ir.OpFToSI && op <= ir.OpFToF:
		fr.set(in.Result, in.Typ, fr.convert(in))
	case in.Typ.IsFloat():
		fr.set(in.Result, in.Typ, fr.floatArith(in))
	default:
		fr.set(in.Result, in.Typ, fr.intArith(in))
	}
}

func (fr *frame) alloc(size uint64, align int) uint64 {
	m := fr.m
	start := util.AlignUp(int64(len(m.stack)), int64(max(align, 1)))
	end := start + int64(max(size, 1))
	if end > maxStack {
		fr.fault("stack overflow")
	}
	if end > int64(cap(m.stack)) {
		grown := make([]byte, end, max(2*int64(cap(m.stack)), end, 4096))
		copy(grown, m.stack)
		m.stack = grown
	} else {
		m.stack = m.stack[:end]
	}
	clear(m.stack[start:end])
	return stackBase + uint64(start)
}

func (m *Machine) move(dst, src uint64, n int64) {
	if n <= 0 {
		return
	}
	buf := append([]byte(nil), m.bytes(src, n)...)
	copy(m.bytes(dst, n), buf)
}

func (fr *frame) call(in *ir.Instruction) {
	m := fr.m
	var name string
	switch callee := in.Args[0].(type) {
	case *ir.Global:
		name = callee.Name
	default:
		addr := fr.val(callee, m.wordType())
		n, ok := m.fnByAddr[addr]
		if !ok {
			fr.fault("indirect call of %#x, which is not a function", addr)
		}
		name = n
	}
	args := make([]uint64, len(in.Args)-1)
	for i, a := range in.Args[1:] {
		t := m.wordType()
		if i < len(in.ArgTypes) {
			t = in.ArgTypes[i]
		}
		args[i] = fr.val(a, t)
	}
	res := m.call(name, args)
	if in.Result != nil {
		fr.set(in.Result, in.Typ, res)
	}
}

func (fr *frame) compare(in *ir.Instruction) uint64 {
	t := in.OperandType
	if t == ir.TypeNone {
		t = ir.TypeL
	}
	a, b := fr.val(in.Args[0], t), fr.val(in.Args[1], t)
	if t.IsFloat() {
		return b2u(compareFloat(in.Op, bitsFloat(a, t), bitsFloat(b, t)))
	}
	var sa, sb int64
	if t == ir.TypeW || (t == ir.TypePtr && fr.m.ws == 4) {
		sa, sb = int64(int32(a)), int64(int32(b))
	} else {
		sa, sb = int64(a), int64(b)
	}
	switch in.Op {
	case ir.OpCEq:
		return b2u(a == b)
	case ir.OpCNeq:
		return b2u(a != b)
	case ir.OpCLt:
		return b2u(sa < sb)
	case ir.OpCGt:
		return b2u(sa > sb)
	case ir.OpCLe:
		return b2u(sa <= sb)
	case ir.OpCGe:
		return b2u(sa >= sb)
	case ir.OpCULt:
		return b2u(a < b)
	case ir.OpCUGt:
		return b2u(a > b)
	case ir.OpCULe:
		return b2u(a <= b)
	case ir.OpCUGe:
		return b2u(a >= b)
	}
	fr.fault("%s on integers", in.Op)
	return 0
}

// compareFloat follows IEEE semantics: every ordered comparison is false
// when an operand is NaN, and cne is true
func compareFloat(op ir.Op, a, b float64) bool {
	switch op {
	case ir.OpCEq:
		return a == b
	case ir.OpCNeq:
		return a != b
	case ir.OpCLt, ir.OpCULt:
		return a < b
	case ir.OpCGt, ir.OpCUGt:
		return a > b
	case ir.OpCLe, ir.OpCULe:
		return a <= b
	case ir.OpCGe, ir.OpCUGe:
		return a >= b
	case ir.OpCO:
		return !math.IsNaN(a) && !math.IsNaN(b)
	case ir.OpCUO:
		return math.IsNaN(a) || math.IsNaN(b)
	}
	return false
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func extend(op ir.Op, v uint64) uint64 {
	switch op {
	case ir.OpExtSB:
		return uint64(int64(int8(v)))
	case ir.OpExtUB:
		return uint64(uint8(v))
	case ir.OpExtSH:
		return uint64(int64(int16(v)))
	case ir.OpExtUH:
		return uint64(uint16(v))
	case ir.OpExtSW:
		return uint64(int64(int32(v)))
	default:
		return uint64(uint32(v))
	}
}

func (fr *frame) convert(in *ir.Instruction) uint64 {
	from := in.OperandType
	switch in.Op {
	case ir.OpFToSI, ir.OpFToUI:
		return floatToInt(bitsFloat(fr.val(in.Args[0], from), from), in.Typ, in.Op == ir.OpFToSI)
	case ir.OpFToF:
		return floatBits(bitsFloat(fr.val(in.Args[0], from), from), in.Typ)
	}
	var f float64
	switch in.Op {
	case ir.OpSWToF:
		f = float64(int32(fr.val(in.Args[0], ir.TypeW)))
	case ir.OpUWToF:
		f = float64(uint32(fr.val(in.Args[0], ir.TypeW)))
	case ir.OpSLToF:
		f = float64(int64(fr.val(in.Args[0], ir.TypeL)))
	default:
		f = float64(fr.val(in.Args[0], ir.TypeL))
	}
	return floatBits(f, in.Typ)
}

// floatToInt truncates toward zero. Values the target cannot hold give
// the pattern x86 hardware produces: the smallest signed value.
func floatToInt(f float64, to ir.Type, signed bool) uint64 {
	bits := 64
	if to == ir.TypeW {
		bits = 32
	}
	lo, hi := math.Ldexp(-1, bits-1), math.Ldexp(1, bits-1)
	if !signed {
		lo, hi = -1, math.Ldexp(1, bits)
	}
	t := math.Trunc(f)
	if math.IsNaN(f) || t <= lo || t >= hi {
		return uint64(1) << (bits - 1)
	}
	if signed {
		return uint64(int64(t))
	}
	if t >= math.Ldexp(1, 63) {
		return uint64(int64(t-math.Ldexp(1, 63))) | 1<<63
	}
	return uint64(int64(t))
}

func (fr *frame) floatArith(in *ir.Instruction) uint64 {
	t := in.Typ
	a := bitsFloat(fr.val(in.Args[0], t), t)
	if in.Op == ir.OpNeg {
		return floatBits(-a, t)
	}
	b := bitsFloat(fr.val(in.Args[1], t), t)
	var r float64
	switch in.Op {
	case ir.OpAdd:
		r = a + b
	case ir.OpSub:
		r = a - b
	case ir.OpMul:
		r = a * b
	case ir.OpDiv:
		r = a / b
	default:
		fr.fault("%s on %v floats", in.Op, t)
	}
	if t == ir.TypeS {
		r = float64(float32(r))
	}
	return floatBits(r, t)
}

func (fr *frame) intArith(in *ir.Instruction) uint64 {
	t := in.Typ
	wide := t != ir.TypeW && !(t == ir.TypePtr && fr.m.ws == 4)
	bits := uint64(32)
	if wide {
		bits = 64
	}
	a := fr.val(in.Args[0], t)
	if in.Op == ir.OpNeg {
		return -a
	}
	b := fr.val(in.Args[1], t)
	sa, sb := int64(a), int64(b)
	if !wide {
		sa, sb = int64(int32(a)), int64(int32(b))
	}
	switch in.Op {
	case ir.OpAdd:
		return a + b
	case ir.OpSub:
		return a - b
	case ir.OpMul:
		return a * b
	case ir.OpDiv, ir.OpRem, ir.OpUDiv, ir.OpURem:
		if b == 0 {
			fr.fault("integer division by zero")
		}
		switch in.Op {
		case ir.OpUDiv:
			return a / b
		case ir.OpURem:
			return a % b
		}
		if !wide {
			if in.Op == ir.OpDiv {
				return uint64(int32(sa) / int32(sb))
			}
			return uint64(int32(sa) % int32(sb))
		}
		if in.Op == ir.OpDiv {
			return uint64(sa / sb)
		}
		return uint64(sa % sb)
	case ir.OpAnd:
		return a & b
	case ir.OpOr:
		return a | b
	case ir.OpXor:
		return a ^ b
	case ir.OpShl:
		return a << (b % bits)
	case ir.OpShr:
		return uint64(sa >> (b % bits))
	case ir.OpShrU:
		return a >> (b % bits)
	}
	fr.fault("unknown operation %s", in.Op)
	return 0
}
