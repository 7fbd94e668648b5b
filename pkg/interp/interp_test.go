package interp

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/rt"
)

// fb assembles a function by hand
type fb struct {
	fn   *ir.Func
	cur  *ir.BasicBlock
	temp int
}

func newFB(name string, ret ir.Type, params ...ir.Type) (*fb, []ir.Value) {
	b := &fb{fn: &ir.Func{Name: name, ReturnType: ret}}
	var vals []ir.Value
	for i, p := range params {
		v := b.t()
		b.fn.Params = append(b.fn.Params, &ir.Param{Name: string(rune('a' + i)), Typ: p, Val: v})
		vals = append(vals, v)
	}
	b.block("start")
	return b, vals
}

func (b *fb) t() *ir.Temporary {
	b.temp++
	return &ir.Temporary{ID: b.temp}
}

func (b *fb) block(name string) *ir.Label {
	bb := &ir.BasicBlock{Label: &ir.Label{Name: name}}
	b.fn.Blocks = append(b.fn.Blocks, bb)
	b.cur = bb
	return bb.Label
}

func (b *fb) emit(in *ir.Instruction) ir.Value {
	b.cur.Instructions = append(b.cur.Instructions, in)
	return in.Result
}

func (b *fb) op(op ir.Op, typ ir.Type, args ...ir.Value) ir.Value {
	return b.emit(&ir.Instruction{Op: op, Typ: typ, Result: b.t(), Args: args})
}

func (b *fb) cmp(op ir.Op, operand ir.Type, x, y ir.Value) ir.Value {
	return b.emit(&ir.Instruction{Op: op, Typ: ir.TypeW, OperandType: operand, Result: b.t(), Args: []ir.Value{x, y}})
}

func (b *fb) ret(v ir.Value) {
	in := &ir.Instruction{Op: ir.OpRet}
	if v != nil {
		in.Args = []ir.Value{v}
	}
	b.emit(in)
}

func (b *fb) call(ret ir.Type, fn ir.Value, args []ir.Value, types []ir.Type) ir.Value {
	in := &ir.Instruction{Op: ir.OpCall, Typ: ret, Args: append([]ir.Value{fn}, args...), ArgTypes: types}
	if ret != ir.TypeNone {
		in.Result = b.t()
	}
	return b.emit(in)
}

func c(v int64) ir.Value { return &ir.Const{Value: v} }

func run(t *testing.T, prog *ir.Program, name string, args ...uint64) (uint64, *Machine) {
	t.Helper()
	m, err := New(prog)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := m.Call(name, args...)
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	return res, m
}

func program(fns ...*fb) *ir.Program {
	p := ir.NewProgram(8)
	for _, f := range fns {
		p.AddFunc(f.fn)
	}
	return p
}

func TestIntegerArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Op
		typ  ir.Type
		a, b uint64
		want uint64
	}{
		{"word add wraps", ir.OpAdd, ir.TypeW, 0xffff_ffff, 1, 0},
		{"long add", ir.OpAdd, ir.TypeL, 0xffff_ffff, 1, 0x1_0000_0000},
		{"signed word div", ir.OpDiv, ir.TypeW, uint64(uint32(0xffff_fff9)), 2, 0xffff_fffd},
		{"unsigned word div", ir.OpUDiv, ir.TypeW, 0xffff_fff9, 2, 0x7fff_fffc},
		{"signed long rem", ir.OpRem, ir.TypeL, uint64(math.MaxUint64 - 6), 2, math.MaxUint64},
		{"arithmetic shift", ir.OpShr, ir.TypeW, 0x8000_0000, 4, 0xf800_0000},
		{"logical shift", ir.OpShrU, ir.TypeW, 0x8000_0000, 4, 0x0800_0000},
		{"shift amount wraps", ir.OpShl, ir.TypeW, 1, 33, 2},
		{"xor", ir.OpXor, ir.TypeL, 0xff00, 0x0ff0, 0xf0f0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p := newFB("f", tt.typ, tt.typ, tt.typ)
			b.ret(b.op(tt.op, tt.typ, p[0], p[1]))
			got, _ := run(t, program(b), "f", tt.a, tt.b)
			if got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestComparisons(t *testing.T) {
	nan := math.Float64bits(math.NaN())
	one := math.Float64bits(1)
	tests := []struct {
		name    string
		op      ir.Op
		operand ir.Type
		a, b    uint64
		want    uint64
	}{
		{"signed word lt", ir.OpCLt, ir.TypeW, 0xffff_ffff, 0, 1},
		{"unsigned word lt", ir.OpCULt, ir.TypeW, 0xffff_ffff, 0, 0},
		{"long eq", ir.OpCEq, ir.TypeL, 5, 5, 1},
		{"nan eq", ir.OpCEq, ir.TypeD, nan, nan, 0},
		{"nan ne", ir.OpCNeq, ir.TypeD, nan, one, 1},
		{"nan le", ir.OpCLe, ir.TypeD, nan, one, 0},
		{"unordered", ir.OpCUO, ir.TypeD, nan, one, 1},
		{"ordered", ir.OpCO, ir.TypeD, one, one, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p := newFB("f", ir.TypeW, tt.operand, tt.operand)
			b.ret(b.cmp(tt.op, tt.operand, p[0], p[1]))
			got, _ := run(t, program(b), "f", tt.a, tt.b)
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSubWordMemory(t *testing.T) {
	b, _ := newFB("f", ir.TypeL)
	slot := b.emit(&ir.Instruction{Op: ir.OpAlloc, Typ: ir.TypeL, Result: b.t(), Args: []ir.Value{c(8)}, Align: 8})
	b.emit(&ir.Instruction{Op: ir.OpStore, Typ: ir.TypeL, Args: []ir.Value{c(0x1234_5678_9abc_def0), slot}})
	sb := b.emit(&ir.Instruction{Op: ir.OpLoad, Typ: ir.TypeW, OperandType: ir.TypeSB, Result: b.t(), Args: []ir.Value{slot}})
	ub := b.emit(&ir.Instruction{Op: ir.OpLoad, Typ: ir.TypeW, OperandType: ir.TypeUB, Result: b.t(), Args: []ir.Value{slot}})
	wide := b.op(ir.OpExtSW, ir.TypeL, sb)
	b.ret(b.op(ir.OpAdd, ir.TypeL, wide, b.op(ir.OpExtUW, ir.TypeL, ub)))
	got, _ := run(t, program(b), "f")
	// 0xf0 loads as -16 signed and 240 unsigned
	if int64(got) != 224 {
		t.Errorf("got %d, want 224", int64(got))
	}
}

func TestLoopWithPhi(t *testing.T) {
	b, p := newFB("sum", ir.TypeL, ir.TypeL)
	n := p[0]
	b.emit(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{&ir.Label{Name: "head"}}})
	head := b.block("head")
	i, acc := b.t(), b.t()
	i2, acc2 := b.t(), b.t()
	b.emit(&ir.Instruction{Op: ir.OpPhi, Typ: ir.TypeL, Result: i, Args: []ir.Value{&ir.Label{Name: "start"}, c(1), &ir.Label{Name: "body"}, i2}})
	b.emit(&ir.Instruction{Op: ir.OpPhi, Typ: ir.TypeL, Result: acc, Args: []ir.Value{&ir.Label{Name: "start"}, c(0), &ir.Label{Name: "body"}, acc2}})
	more := b.cmp(ir.OpCLe, ir.TypeL, i, n)
	b.emit(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{more, &ir.Label{Name: "body"}, &ir.Label{Name: "done"}}})
	b.block("body")
	b.emit(&ir.Instruction{Op: ir.OpAdd, Typ: ir.TypeL, Result: acc2, Args: []ir.Value{acc, i}})
	b.emit(&ir.Instruction{Op: ir.OpAdd, Typ: ir.TypeL, Result: i2, Args: []ir.Value{i, c(1)}})
	b.emit(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{head}})
	b.block("done")
	b.ret(acc)

	got, _ := run(t, program(b), "sum", 100)
	if got != 5050 {
		t.Errorf("sum(100) = %d, want 5050", got)
	}
}

func TestFloatConversions(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Op
		from ir.Type
		to   ir.Type
		in   uint64
		want uint64
	}{
		{"truncates toward zero", ir.OpFToSI, ir.TypeD, ir.TypeW, math.Float64bits(-2.9), 0xffff_fffe},
		{"out of range", ir.OpFToSI, ir.TypeD, ir.TypeW, math.Float64bits(1e20), 0x8000_0000},
		{"nan", ir.OpFToSI, ir.TypeD, ir.TypeL, math.Float64bits(math.NaN()), 1 << 63},
		{"large unsigned", ir.OpFToUI, ir.TypeD, ir.TypeL, math.Float64bits(1 << 63), 1 << 63},
		{"unsigned word to float", ir.OpUWToF, ir.TypeW, ir.TypeD, 0xffff_ffff, math.Float64bits(4294967295)},
		{"signed word to float", ir.OpSWToF, ir.TypeW, ir.TypeD, 0xffff_ffff, math.Float64bits(-1)},
		{"narrow", ir.OpFToF, ir.TypeD, ir.TypeS, math.Float64bits(0.5), uint64(math.Float32bits(0.5))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, p := newFB("f", tt.to, tt.from)
			b.ret(b.emit(&ir.Instruction{Op: tt.op, Typ: tt.to, OperandType: tt.from, Result: b.t(), Args: []ir.Value{p[0]}}))
			got, _ := run(t, program(b), "f", tt.in)
			if got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestHeapAccounting(t *testing.T) {
	b, _ := newFB("f", ir.TypeNone)
	p := b.call(ir.TypeL, &ir.Global{Name: rt.Malloc}, []ir.Value{c(24)}, []ir.Type{ir.TypeL})
	q := b.call(ir.TypeL, &ir.Global{Name: rt.Malloc}, []ir.Value{c(8)}, []ir.Type{ir.TypeL})
	b.call(ir.TypeNone, &ir.Global{Name: rt.Free}, []ir.Value{p}, []ir.Type{ir.TypeL})
	b.call(ir.TypeNone, &ir.Global{Name: rt.Free}, []ir.Value{c(0)}, []ir.Type{ir.TypeL})
	_ = q
	b.ret(nil)

	_, m := run(t, program(b), "f")
	got := m.Stats()
	want := Stats{Allocs: 2, Frees: 1, Live: 1, InUse: 8, Peak: 32}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(got.String(), "2 allocations") {
		t.Errorf("String() = %q", got.String())
	}
}

func TestDoubleFreeFaults(t *testing.T) {
	b, _ := newFB("f", ir.TypeNone)
	p := b.call(ir.TypeL, &ir.Global{Name: rt.Malloc}, []ir.Value{c(8)}, []ir.Type{ir.TypeL})
	b.call(ir.TypeNone, &ir.Global{Name: rt.Free}, []ir.Value{p}, []ir.Type{ir.TypeL})
	b.call(ir.TypeNone, &ir.Global{Name: rt.Free}, []ir.Value{p}, []ir.Type{ir.TypeL})
	b.ret(nil)

	m, err := New(program(b))
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Call("f")
	var f *Fault
	if !errors.As(err, &f) || !strings.Contains(f.Msg, "not a live allocation") {
		t.Fatalf("got %v, want a double free fault", err)
	}
}

func TestInteriorFreeNamesTheBlock(t *testing.T) {
	b, _ := newFB("f", ir.TypeNone)
	b.call(ir.TypeL, &ir.Global{Name: rt.Malloc}, []ir.Value{c(8)}, []ir.Type{ir.TypeL})
	p := b.call(ir.TypeL, &ir.Global{Name: rt.Malloc}, []ir.Value{c(32)}, []ir.Type{ir.TypeL})
	mid := b.op(ir.OpAdd, ir.TypeL, p, c(24))
	b.call(ir.TypeNone, &ir.Global{Name: rt.Free}, []ir.Value{mid}, []ir.Type{ir.TypeL})
	b.ret(nil)

	m, err := New(program(b))
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Call("f")
	var f *Fault
	if !errors.As(err, &f) || !strings.Contains(f.Msg, "points 24 bytes into") {
		t.Fatalf("got %v, want an interior free fault", err)
	}
	if live := m.LiveBlocks(); len(live) != 2 || live[0] >= live[1] {
		t.Errorf("LiveBlocks() = %#x, want two blocks in address order", live)
	}
}

func TestIndirectCallThroughData(t *testing.T) {
	twice, p := newFB("twice", ir.TypeL, ir.TypeL)
	twice.ret(twice.op(ir.OpMul, ir.TypeL, p[0], c(2)))

	main, _ := newFB("main", ir.TypeL)
	table := &ir.Global{Name: "table"}
	slot := main.op(ir.OpAdd, ir.TypeL, table, c(8))
	fn := main.emit(&ir.Instruction{Op: ir.OpLoad, Typ: ir.TypeL, OperandType: ir.TypeL, Result: main.t(), Args: []ir.Value{slot}})
	main.ret(main.call(ir.TypeL, fn, []ir.Value{c(21)}, []ir.Type{ir.TypeL}))

	prog := program(twice, main)
	prog.AddData(&ir.Data{Name: "table", Align: 8, Items: []ir.DataItem{
		{Typ: ir.TypeL, Value: c(0)},
		{Typ: ir.TypeL, Value: &ir.Global{Name: "twice"}},
	}})
	got, _ := run(t, prog, "main")
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestFailureLeavesPanicPending(t *testing.T) {
	b, _ := newFB("f", ir.TypeW)
	b.call(ir.TypeNone, &ir.Global{Name: rt.FailBounds}, []ir.Value{c(7), c(3)}, []ir.Type{ir.TypeL, ir.TypeL})
	b.ret(b.call(ir.TypeW, &ir.Global{Name: rt.Panicking}, nil, nil))

	got, m := run(t, program(b), "f")
	if got != 1 {
		t.Errorf("rt_panicking = %d, want 1", got)
	}
	msg, ok := m.Panicking()
	if !ok || msg != "index out of bounds: the len is 3 but the index is 7" {
		t.Errorf("Panicking() = %q, %v", msg, ok)
	}
	m.Recover()
	if _, ok := m.Panicking(); ok {
		t.Error("panic still pending after Recover")
	}
}

func TestExternsAndStrings(t *testing.T) {
	prog := ir.NewProgram(8)
	label := prog.AddString("hi")
	b, _ := newFB("f", ir.TypeNone)
	b.call(ir.TypeNone, &ir.Global{Name: "print"}, []ir.Value{&ir.Global{Name: label}, c(2)}, []ir.Type{ir.TypeL, ir.TypeL})
	b.ret(nil)
	prog.AddFunc(b.fn)

	m, err := New(prog)
	if err != nil {
		t.Fatal(err)
	}
	var got string
	m.Externs["print"] = func(m *Machine, args []uint64) uint64 {
		bs, err := m.Bytes(args[0], int64(args[1]))
		if err != nil {
			t.Fatal(err)
		}
		got = string(bs)
		return 0
	}
	if _, err := m.Call("f"); err != nil {
		t.Fatal(err)
	}
	if got != "hi" {
		t.Errorf("printed %q, want %q", got, "hi")
	}
}

func TestStepLimit(t *testing.T) {
	b, _ := newFB("spin", ir.TypeNone)
	b.emit(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{&ir.Label{Name: "start"}}})
	m, err := New(program(b))
	if err != nil {
		t.Fatal(err)
	}
	m.MaxSteps = 1000
	if _, err := m.Call("spin"); err == nil || !strings.Contains(err.Error(), "step limit") {
		t.Fatalf("got %v, want a step limit fault", err)
	}
}

func TestUndefinedSymbol(t *testing.T) {
	b, _ := newFB("f", ir.TypeNone)
	b.call(ir.TypeNone, &ir.Global{Name: "nowhere"}, nil, nil)
	b.ret(nil)
	m, err := New(program(b))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Call("f"); err == nil || !strings.Contains(err.Error(), "nowhere") {
		t.Fatalf("got %v, want an undefined symbol fault", err)
	}
}
