package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
)

type qbeBackend struct {
	out  *strings.Builder
	prog *ir.Program
}

func NewQBEBackend() Backend { return &qbeBackend{} }

// GenerateIR renders prog as QBE intermediate language
func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (qbeIR string, err error) {
	var sb strings.Builder
	b.out = &sb
	b.prog = prog
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(qbeError); ok {
				err = e
				return
			}
			panic(r)
		}
	}()
	b.gen()
	return sb.String(), nil
}

type qbeError struct{ msg string }

func (e qbeError) Error() string { return "qbe: " + e.msg }

func (b *qbeBackend) fail(format string, args ...interface{}) {
	panic(qbeError{fmt.Sprintf(format, args...)})
}

func (b *qbeBackend) gen() {
	if len(b.prog.StringOrder) > 0 {
		for _, s := range b.prog.StringOrder {
			fmt.Fprintf(b.out, "data $%s = { %s }\n", b.prog.Strings[s], formatString(s))
		}
	}

	for _, g := range b.prog.Globals {
		b.genGlobal(g)
	}

	for _, fn := range b.prog.Funcs {
		b.genFunc(fn)
	}
}

// formatString spells a NUL terminated string as data items, quoting
// printable runs and writing every other byte as a number
func formatString(s string) string {
	var items []string
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			items = append(items, "b \""+run.String()+"\"")
			run.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f && c != '"' && c != '\\' {
			run.WriteByte(c)
			continue
		}
		flush()
		items = append(items, "b "+strconv.Itoa(int(c)))
	}
	flush()
	items = append(items, "b 0")
	return strings.Join(items, ", ")
}

func (b *qbeBackend) genGlobal(g *ir.Data) {
	alignStr := ""
	if g.Align > 0 {
		alignStr = fmt.Sprintf("align %d ", g.Align)
	}

	fmt.Fprintf(b.out, "data $%s = %s{ ", g.Name, alignStr)
	if len(g.Items) == 0 {
		b.out.WriteString("z 1")
	}
	for i, item := range g.Items {
		if item.Count > 0 {
			fmt.Fprintf(b.out, "z %d", item.Count)
		} else {
			fmt.Fprintf(b.out, "%s %s", b.formatMemType(item.Typ), b.formatValue(item.Value))
		}
		if i < len(g.Items)-1 {
			b.out.WriteString(", ")
		}
	}
	b.out.WriteString(" }\n")
}

func (b *qbeBackend) genFunc(fn *ir.Func) {
	retTypeStr := b.formatType(fn.ReturnType)
	if retTypeStr != "" {
		retTypeStr = " " + retTypeStr
	}
	linkage := ""
	if fn.Export {
		linkage = "export "
	}

	fmt.Fprintf(b.out, "\n%sfunction%s $%s(", linkage, retTypeStr, fn.Name)
	for i, p := range fn.Params {
		fmt.Fprintf(b.out, "%s %s", b.formatType(b.regClass(p.Typ)), b.formatValue(p.Val))
		if i < len(fn.Params)-1 {
			b.out.WriteString(", ")
		}
	}
	b.out.WriteString(") {\n")

	for _, block := range fn.Blocks {
		b.genBlock(block)
	}

	b.out.WriteString("}\n")
}

func (b *qbeBackend) genBlock(block *ir.BasicBlock) {
	fmt.Fprintf(b.out, "@%s\n", block.Label.Name)
	for _, instr := range block.Instructions {
		b.genInstr(instr)
		if instr.Op.IsTerminator() {
			return
		}
	}
	// Blocks left open are never entered; QBE still wants them closed
	b.out.WriteString("\thlt\n")
}

func (b *qbeBackend) genInstr(instr *ir.Instruction) {
	b.out.WriteString("\t")
	switch instr.Op {
	case ir.OpCall:
		b.genCall(instr)
		return
	case ir.OpPhi:
		fmt.Fprintf(b.out, "%s =%s phi", b.formatValue(instr.Result), b.formatType(b.regClass(instr.Typ)))
		for i := 0; i+1 < len(instr.Args); i += 2 {
			fmt.Fprintf(b.out, " %s %s", b.formatValue(instr.Args[i]), b.formatValue(instr.Args[i+1]))
			if i+2 < len(instr.Args) {
				b.out.WriteString(",")
			}
		}
		b.out.WriteString("\n")
		return
	case ir.OpStore:
		fmt.Fprintf(b.out, "store%s %s, %s\n", b.formatMemType(instr.Typ), b.formatValue(instr.Args[0]), b.formatValue(instr.Args[1]))
		return
	case ir.OpBlit:
		fmt.Fprintf(b.out, "blit %s, %s, %s\n", b.formatValue(instr.Args[0]), b.formatValue(instr.Args[1]), b.formatValue(instr.Args[2]))
		return
	}

	if instr.Result != nil {
		resultType := b.regClass(instr.Typ)
		if instr.Op.IsComparison() {
			resultType = ir.TypeW
		}
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), b.formatType(resultType))
	}

	b.out.WriteString(b.formatOp(instr))
	for i, arg := range instr.Args {
		b.out.WriteString(" ")
		b.out.WriteString(b.formatValue(arg))
		if i < len(instr.Args)-1 {
			b.out.WriteString(",")
		}
	}
	b.out.WriteString("\n")
}

func (b *qbeBackend) genCall(instr *ir.Instruction) {
	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), b.formatType(b.regClass(instr.Typ)))
	}

	fmt.Fprintf(b.out, "call %s(", b.formatValue(instr.Args[0]))
	for i, arg := range instr.Args[1:] {
		argType := b.prog.WordType()
		if i < len(instr.ArgTypes) {
			argType = b.regClass(instr.ArgTypes[i])
		}
		fmt.Fprintf(b.out, "%s %s", b.formatType(argType), b.formatValue(arg))
		if i < len(instr.Args)-2 {
			b.out.WriteString(", ")
		}
	}
	b.out.WriteString(")\n")
}

func (b *qbeBackend) formatValue(v ir.Value) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case *ir.Const:
		return strconv.FormatInt(val.Value, 10)
	case *ir.FloatConst:
		typ := "d"
		if val.Typ == ir.TypeS {
			typ = "s"
		}
		return typ + "_" + strconv.FormatFloat(val.Value, 'g', -1, 64)
	case *ir.Global:
		return "$" + val.Name
	case *ir.Temporary:
		safeName := strings.NewReplacer(".", "_", "[", "_", "]", "_").Replace(val.Name)
		if safeName != "" {
			return fmt.Sprintf("%%%s_%d", safeName, val.ID)
		}
		return fmt.Sprintf("%%t%d", val.ID)
	case *ir.Label:
		return "@" + val.Name
	}
	b.fail("cannot format operand %T", v)
	return ""
}

// regClass is the QBE temporary class holding a value of type t
func (b *qbeBackend) regClass(t ir.Type) ir.Type {
	switch t {
	case ir.TypeB, ir.TypeH, ir.TypeSB, ir.TypeUB, ir.TypeSH, ir.TypeUH:
		return ir.TypeW
	case ir.TypePtr:
		return b.prog.WordType()
	}
	return t
}

func (b *qbeBackend) formatType(t ir.Type) string {
	switch t {
	case ir.TypeB:
		return "b"
	case ir.TypeH:
		return "h"
	case ir.TypeW:
		return "w"
	case ir.TypeL:
		return "l"
	case ir.TypeS:
		return "s"
	case ir.TypeD:
		return "d"
	case ir.TypePtr:
		return b.formatType(b.prog.WordType())
	default:
		return ""
	}
}

// formatMemType spells a memory type for stores and data items, where
// signedness does not matter
func (b *qbeBackend) formatMemType(t ir.Type) string {
	switch t {
	case ir.TypeSB, ir.TypeUB:
		return "b"
	case ir.TypeSH, ir.TypeUH:
		return "h"
	}
	return b.formatType(t)
}

var qbeIntCompares = map[ir.Op]string{
	ir.OpCEq: "ceq", ir.OpCNeq: "cne",
	ir.OpCLt: "cslt", ir.OpCGt: "csgt", ir.OpCLe: "csle", ir.OpCGe: "csge",
	ir.OpCULt: "cult", ir.OpCUGt: "cugt", ir.OpCULe: "cule", ir.OpCUGe: "cuge",
}

var qbeFloatCompares = map[ir.Op]string{
	ir.OpCEq: "ceq", ir.OpCNeq: "cne",
	ir.OpCLt: "clt", ir.OpCGt: "cgt", ir.OpCLe: "cle", ir.OpCGe: "cge",
	ir.OpCULt: "clt", ir.OpCUGt: "cgt", ir.OpCULe: "cle", ir.OpCUGe: "cge",
	ir.OpCO: "co", ir.OpCUO: "cuo",
}

func (b *qbeBackend) formatOp(instr *ir.Instruction) string {
	typ := instr.Typ
	argType := instr.OperandType
	if argType == ir.TypeNone {
		argType = b.prog.WordType()
	}

	switch op := instr.Op; {
	case op == ir.OpAlloc:
		if instr.Align <= 4 {
			return "alloc4"
		}
		if instr.Align <= 8 {
			return "alloc8"
		}
		return "alloc16"
	case op == ir.OpLoad:
		switch argType {
		case ir.TypeB, ir.TypeUB:
			return "loadub"
		case ir.TypeSB:
			return "loadsb"
		case ir.TypeH, ir.TypeUH:
			return "loaduh"
		case ir.TypeSH:
			return "loadsh"
		case ir.TypeW:
			if typ == ir.TypeL {
				return "loaduw"
			}
			return "loadw"
		default:
			return "load" + b.formatType(argType)
		}
	case op.IsComparison():
		cls := b.regClass(argType)
		table := qbeIntCompares
		if cls.IsFloat() {
			table = qbeFloatCompares
		}
		name, ok := table[op]
		if !ok {
			b.fail("%s on %s operands", op, b.formatType(cls))
		}
		return name + b.formatType(cls)
	case op == ir.OpFToSI:
		return b.formatType(argType) + "tosi"
	case op == ir.OpFToUI:
		return b.formatType(argType) + "toui"
	case op == ir.OpFToF:
		if typ == ir.TypeD {
			return "exts"
		}
		return "truncd"
	case op == ir.OpJmp, op == ir.OpJnz, op == ir.OpRet,
		op >= ir.OpAdd && op <= ir.OpShrU,
		op >= ir.OpExtSB && op <= ir.OpCast,
		op >= ir.OpSWToF && op <= ir.OpULToF:
		return op.String()
	}
	b.fail("no QBE instruction for %s", instr.Op)
	return ""
}
