package ir

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type Op int

const (
	OpAlloc Op = iota
	OpLoad
	OpStore
	OpBlit
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpUDiv
	OpRem
	OpURem
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr  // Arithmetic
	OpShrU // Logical
	OpCEq
	OpCNeq
	OpCLt
	OpCGt
	OpCLe
	OpCGe
	OpCULt
	OpCUGt
	OpCULe
	OpCUGe
	OpCO  // Both operands ordered (neither is NaN)
	OpCUO // Either operand is NaN
	OpExtSB
	OpExtUB
	OpExtSH
	OpExtUH
	OpExtSW
	OpExtUW
	OpCopy
	OpCast // Bit-preserving int <-> float of the same width
	OpFToSI
	OpFToUI
	OpSWToF
	OpUWToF
	OpSLToF
	OpULToF
	OpFToF
	OpJmp
	OpJnz
	OpRet
	OpCall
	OpPhi
)

var opNames = [...]string{
	"alloc", "load", "store", "blit", "add", "sub", "mul", "div", "udiv", "rem", "urem", "neg",
	"and", "or", "xor", "shl", "sar", "shr", "ceq", "cne", "clt", "cgt", "cle", "cge",
	"cult", "cugt", "cule", "cuge", "co", "cuo", "extsb", "extub", "extsh", "extuh", "extsw",
	"extuw", "copy", "cast", "ftosi", "ftoui", "swtof", "uwtof", "sltof", "ultof", "ftof",
	"jmp", "jnz", "ret", "call", "phi",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// IsTerminator reports whether o ends a basic block
func (o Op) IsTerminator() bool { return o == OpJmp || o == OpJnz || o == OpRet }

// IsComparison reports whether o yields a 0/1 word
func (o Op) IsComparison() bool { return o >= OpCEq && o <= OpCUO }

type Type int

const (
	TypeNone Type = iota
	TypeB         // byte (8-bit, ambiguous signedness)
	TypeH         // half-word (16-bit, ambiguous signedness)
	TypeW         // word (32-bit)
	TypeL         // long (64-bit)
	TypeS         // single float (32-bit)
	TypeD         // double float (64-bit)
	TypePtr
	TypeSB // signed byte (8-bit)
	TypeUB // unsigned byte (8-bit)
	TypeSH // signed half-word (16-bit)
	TypeUH // unsigned half-word (16-bit)
)

func (t Type) IsFloat() bool { return t == TypeS || t == TypeD }

type Value interface {
	isValue()
	String() string
}

type Const struct{ Value int64 }
type FloatConst struct {
	Value float64
	Typ   Type
}
type Global struct{ Name string }
type Temporary struct {
	Name string
	ID   int
}
type Label struct{ Name string }

func (c *Const) isValue()      {}
func (f *FloatConst) isValue() {}
func (g *Global) isValue()     {}
func (t *Temporary) isValue()  {}
func (l *Label) isValue()      {}

func (c *Const) String() string      { return fmt.Sprintf("%d", c.Value) }
func (f *FloatConst) String() string { return fmt.Sprintf("%g", f.Value) }
func (g *Global) String() string     { return g.Name }
func (t *Temporary) String() string  { return t.Name }
func (l *Label) String() string      { return l.Name }

type Func struct {
	Name       string
	Params     []*Param
	ReturnType Type
	Blocks     []*BasicBlock
	Export     bool
}

type Param struct {
	Name string
	Typ  Type
	Val  Value
}

type BasicBlock struct {
	Label        *Label
	Instructions []*Instruction
}

// Terminated reports whether the block already ends in a jump or return
func (b *BasicBlock) Terminated() bool {
	n := len(b.Instructions)
	return n > 0 && b.Instructions[n-1].Op.IsTerminator()
}

type Instruction struct {
	Op          Op
	Typ         Type
	OperandType Type
	Result      Value
	Args        []Value
	ArgTypes    []Type
	Align       int
}

type Program struct {
	mu          sync.Mutex
	Globals     []*Data
	Strings     map[string]string
	StringOrder []string
	Funcs       []*Func
	Externs     map[string]bool
	WordSize    int
}

type Data struct {
	Name  string
	Align int
	Items []DataItem
}

// DataItem is one initializer; Count > 0 zero-fills Count bytes instead
type DataItem struct {
	Typ   Type
	Value Value
	Count int
}

func NewProgram(wordSize int) *Program {
	return &Program{Strings: make(map[string]string), Externs: make(map[string]bool), WordSize: wordSize}
}

// WordType is the integer type that holds an address
func (p *Program) WordType() Type {
	if p.WordSize == 4 {
		return TypeW
	}
	return TypeL
}

// AddString interns a string literal and returns its data label. Labels
// depend only on the contents so concurrent callers agree on them.
func (p *Program) AddString(s string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if label, ok := p.Strings[s]; ok {
		return label
	}
	label := fmt.Sprintf("str_%016x", xxhash.Sum64String(s))
	p.Strings[s] = label
	p.StringOrder = append(p.StringOrder, s)
	return label
}

// SortData orders the string table and the globals from index from on by
// name
func (p *Program) SortData(from int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sort.Strings(p.StringOrder)
	if from < len(p.Globals) {
		rest := p.Globals[from:]
		sort.Slice(rest, func(i, j int) bool { return rest[i].Name < rest[j].Name })
	}
}

func (p *Program) AddData(d *Data) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Globals = append(p.Globals, d)
}

func (p *Program) AddFunc(f *Func) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Funcs = append(p.Funcs, f)
}

// AddExtern records a symbol the program calls but does not define
func (p *Program) AddExtern(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Externs[name] = true
}

func (p *Program) FindFunc(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (p *Program) FindData(name string) *Data {
	for _, d := range p.Globals {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func SizeOfType(t Type, wordSize int) int64 {
	switch t {
	case TypeB, TypeSB, TypeUB:
		return 1
	case TypeH, TypeSH, TypeUH:
		return 2
	case TypeW, TypeS:
		return 4
	case TypeL, TypeD:
		return 8
	default:
		return int64(wordSize)
	}
}
