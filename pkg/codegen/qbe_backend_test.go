package codegen

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
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

func c(v int64) ir.Value { return &ir.Const{Value: v} }

// absSum returns |a + b| through a phi
func absSum() *ir.Program {
	b, p := newFB("sum", ir.TypeL, ir.TypeL, ir.TypeL)
	b.fn.Export = true
	s := b.op(ir.OpAdd, ir.TypeL, p[0], p[1])
	neg := &ir.Label{Name: "neg"}
	done := &ir.Label{Name: "done"}
	isNeg := b.emit(&ir.Instruction{Op: ir.OpCLt, Typ: ir.TypeW, OperandType: ir.TypeL, Result: b.t(), Args: []ir.Value{s, c(0)}})
	b.emit(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{isNeg, neg, done}})
	b.block("neg")
	n := b.op(ir.OpNeg, ir.TypeL, s)
	b.emit(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{done}})
	start := b.fn.Blocks[0].Label
	b.block("done")
	r := b.emit(&ir.Instruction{Op: ir.OpPhi, Typ: ir.TypeL, Result: b.t(), Args: []ir.Value{start, s, neg, n}})
	b.emit(&ir.Instruction{Op: ir.OpRet, Args: []ir.Value{r}})

	prog := ir.NewProgram(8)
	prog.AddFunc(b.fn)
	prog.AddData(&ir.Data{Name: "table", Align: 8, Items: []ir.DataItem{
		{Typ: ir.TypeL, Value: &ir.Global{Name: "sum"}},
		{Count: 8},
	}})
	return prog
}

// cell stores through a stack slot and reads the low byte back signed
func cell() *ir.Func {
	b, _ := newFB("cell", ir.TypeW)
	slot := b.emit(&ir.Instruction{Op: ir.OpAlloc, Typ: ir.TypeL, Result: b.t(), Args: []ir.Value{c(8)}, Align: 8})
	b.emit(&ir.Instruction{Op: ir.OpStore, Typ: ir.TypeW, Args: []ir.Value{c(0xff), slot}})
	v := b.emit(&ir.Instruction{Op: ir.OpLoad, Typ: ir.TypeW, OperandType: ir.TypeSB, Result: b.t(), Args: []ir.Value{slot}})
	b.emit(&ir.Instruction{Op: ir.OpRet, Args: []ir.Value{v}})
	return b.fn
}

func TestQBEText(t *testing.T) {
	got, err := NewQBEBackend().(*qbeBackend).GenerateIR(absSum(), config.NewConfig())
	if err != nil {
		t.Fatalf("GenerateIR: %v", err)
	}
	want := `data $table = align 8 { l $sum, z 8 }

export function l $sum(l %t1, l %t2) {
@start
	%t3 =l add %t1, %t2
	%t4 =w csltl %t3, 0
	jnz %t4, @neg, @done
@neg
	%t5 =l neg %t3
	jmp @done
@done
	%t6 =l phi @start %t3, @neg %t5
	ret %t6
}
`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("QBE mismatch (-want +got):\n%s", diff)
	}
}

func TestQBEMemoryOps(t *testing.T) {
	prog := ir.NewProgram(8)
	prog.AddFunc(cell())
	got, err := NewQBEBackend().(*qbeBackend).GenerateIR(prog, config.NewConfig())
	if err != nil {
		t.Fatalf("GenerateIR: %v", err)
	}
	for _, line := range []string{
		"function w $cell() {",
		"%t1 =l alloc8 8",
		"storew 255, %t1",
		"%t2 =w loadsb %t1",
	} {
		if !strings.Contains(got, line) {
			t.Errorf("output lacks %q:\n%s", line, got)
		}
	}
}

func TestQBEUnterminatedBlockHalts(t *testing.T) {
	b, _ := newFB("stuck", ir.TypeNone)
	b.op(ir.OpCopy, ir.TypeL, c(1))
	prog := ir.NewProgram(8)
	prog.AddFunc(b.fn)
	got, err := NewQBEBackend().(*qbeBackend).GenerateIR(prog, config.NewConfig())
	if err != nil {
		t.Fatalf("GenerateIR: %v", err)
	}
	if !strings.HasSuffix(got, "\thlt\n}\n") {
		t.Errorf("open block not closed with hlt:\n%s", got)
	}
}

func TestQBERejectsUnknownOp(t *testing.T) {
	b, _ := newFB("odd", ir.TypeL)
	b.op(ir.Op(999), ir.TypeL, c(1))
	prog := ir.NewProgram(8)
	prog.AddFunc(b.fn)
	_, err := NewQBEBackend().(*qbeBackend).GenerateIR(prog, config.NewConfig())
	if err == nil || !strings.Contains(err.Error(), "no QBE instruction for op(999)") {
		t.Errorf("err = %v", err)
	}
}

func TestFormatString(t *testing.T) {
	got := formatString("a\"b\n")
	want := `b "a", b 34, b "b", b 10, b 0`
	if got != want {
		t.Errorf("formatString = %s, want %s", got, want)
	}
}

func TestNewBackend(t *testing.T) {
	for _, name := range []string{"qbe", "llvm"} {
		if _, err := NewBackend(name); err != nil {
			t.Errorf("NewBackend(%q): %v", name, err)
		}
	}
	if _, err := NewBackend("gcc"); err == nil {
		t.Errorf("NewBackend accepted an unknown name")
	}
}
