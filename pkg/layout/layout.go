// Package layout computes sizes, alignments and field offsets of types and
// maps them onto IR load/store types.
//
// Representations:
//
//	~T, @T, *T, &T, fn    one word
//	~[T], ~str             one word pointing at [len][cap][elements...]
//	&[T], &str             [base][len]
//	closures               [code][env]
//	trait objects          [data][vtable]
//	@T box                 [refcount][contents]
//	enums                  [discriminant word][payload of the largest variant]
//	structs with a dtor    fields followed by a one byte drop flag
package layout

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/util"
)

// StructLayout describes a struct, a tuple or one enum variant's payload
type StructLayout struct {
	Size     int64
	Align    int64
	Offsets  []int64
	Types    []*ast.Type
	DropFlag int64 // -1 when the struct has no destructor
}

// EnumLayout describes a tagged union
type EnumLayout struct {
	Size     int64
	Align    int64
	Payload  int64
	Variants []*StructLayout
}

type Layouter struct {
	WordSize int
	mu       sync.RWMutex
	structs  map[uint64]*StructLayout
	enums    map[uint64]*EnumLayout
}

func New(wordSize int) *Layouter {
	return &Layouter{
		WordSize: wordSize,
		structs:  make(map[uint64]*StructLayout),
		enums:    make(map[uint64]*EnumLayout),
	}
}

func (l *Layouter) word() int64 { return int64(l.WordSize) }

// Signature describes everything about t that influences its layout.
// Pointers contribute only their width, so recursive types terminate.
func Signature(t *ast.Type) string {
	var sb strings.Builder
	writeSignature(&sb, t)
	return sb.String()
}

func writeSignature(sb *strings.Builder, t *ast.Type) {
	switch t.Kind {
	case ast.TYPE_STRUCT:
		fmt.Fprintf(sb, "S%s{", t.Name)
		for _, f := range t.Fields {
			writeSignature(sb, f.Type)
			sb.WriteByte(';')
		}
		if t.Dtor != "" {
			sb.WriteString("!drop")
		}
		sb.WriteByte('}')
	case ast.TYPE_TUPLE:
		sb.WriteString("T(")
		for _, e := range t.Elems {
			writeSignature(sb, e)
			sb.WriteByte(';')
		}
		sb.WriteByte(')')
	case ast.TYPE_ENUM:
		fmt.Fprintf(sb, "E%s<", t.Name)
		for _, v := range t.Variants {
			fmt.Fprintf(sb, "%d(", v.Disr)
			for _, f := range v.Fields {
				writeSignature(sb, f)
				sb.WriteByte(';')
			}
			sb.WriteByte(')')
		}
		sb.WriteByte('>')
	case ast.TYPE_ARRAY:
		fmt.Fprintf(sb, "A%d[", t.Len)
		writeSignature(sb, t.Base)
		sb.WriteByte(']')
	case ast.TYPE_SIMD:
		fmt.Fprintf(sb, "V%d[", t.Len)
		writeSignature(sb, t.Base)
		sb.WriteByte(']')
	case ast.TYPE_PTR, ast.TYPE_RPTR, ast.TYPE_BOX, ast.TYPE_MANAGED, ast.TYPE_VEC, ast.TYPE_STR, ast.TYPE_FN:
		sb.WriteString("p")
	case ast.TYPE_SLICE, ast.TYPE_CLOSURE, ast.TYPE_TRAIT:
		sb.WriteString("pp")
	default:
		fmt.Fprintf(sb, "%d:%d", t.Kind, t.Width)
	}
}

func key(t *ast.Type) uint64 { return xxhash.Sum64String(Signature(t)) }

func (l *Layouter) SizeOf(t *ast.Type) int64 {
	switch t.Kind {
	case ast.TYPE_NIL, ast.TYPE_BOT:
		return 0
	case ast.TYPE_BOOL:
		return 1
	case ast.TYPE_CHAR:
		return 4
	case ast.TYPE_INT, ast.TYPE_FLOAT:
		if t.Name == "int" || t.Name == "uint" {
			return l.word()
		}
		return int64(t.Width / 8)
	case ast.TYPE_PTR, ast.TYPE_RPTR, ast.TYPE_BOX, ast.TYPE_MANAGED, ast.TYPE_VEC, ast.TYPE_STR, ast.TYPE_FN:
		return l.word()
	case ast.TYPE_SLICE, ast.TYPE_CLOSURE, ast.TYPE_TRAIT:
		return 2 * l.word()
	case ast.TYPE_STRUCT, ast.TYPE_TUPLE:
		return l.Struct(t).Size
	case ast.TYPE_ENUM:
		return l.Enum(t).Size
	case ast.TYPE_ARRAY:
		return l.Stride(t.Base) * int64(t.Len)
	case ast.TYPE_SIMD:
		return l.SizeOf(t.Base) * int64(t.Len)
	}
	util.Bug(ast.NoPos, "layout: no size for type %s", t)
	return 0
}

func (l *Layouter) AlignOf(t *ast.Type) int64 {
	switch t.Kind {
	case ast.TYPE_NIL, ast.TYPE_BOT:
		return 1
	case ast.TYPE_STRUCT, ast.TYPE_TUPLE:
		return l.Struct(t).Align
	case ast.TYPE_ENUM:
		return l.Enum(t).Align
	case ast.TYPE_ARRAY:
		return l.AlignOf(t.Base)
	case ast.TYPE_SIMD:
		return min(l.SizeOf(t), 16)
	case ast.TYPE_SLICE, ast.TYPE_CLOSURE, ast.TYPE_TRAIT:
		return l.word()
	}
	return max(l.SizeOf(t), 1)
}

// Stride is the distance between consecutive elements of type t
func (l *Layouter) Stride(t *ast.Type) int64 {
	return util.AlignUp(l.SizeOf(t), l.AlignOf(t))
}

func (l *Layouter) layoutFields(types []*ast.Type, dtor bool) *StructLayout {
	sl := &StructLayout{Align: 1, Types: types, DropFlag: -1}
	var off int64
	for _, ft := range types {
		a := l.AlignOf(ft)
		off = util.AlignUp(off, a)
		sl.Offsets = append(sl.Offsets, off)
		off += l.SizeOf(ft)
		sl.Align = max(sl.Align, a)
	}
	if dtor {
		sl.DropFlag = off
		off++
	}
	sl.Size = util.AlignUp(off, sl.Align)
	return sl
}

// Struct returns the layout of a struct or tuple
func (l *Layouter) Struct(t *ast.Type) *StructLayout {
	if t.Kind != ast.TYPE_STRUCT && t.Kind != ast.TYPE_TUPLE {
		util.Bug(ast.NoPos, "layout: %s is not a struct or tuple", t)
	}
	k := key(t)
	l.mu.RLock()
	sl, ok := l.structs[k]
	l.mu.RUnlock()
	if ok {
		return sl
	}
	sl = l.layoutFields(t.FieldTypes(0), t.Kind == ast.TYPE_STRUCT && t.Dtor != "")
	l.mu.Lock()
	l.structs[k] = sl
	l.mu.Unlock()
	return sl
}

// Enum returns the layout of an enum
func (l *Layouter) Enum(t *ast.Type) *EnumLayout {
	if t.Kind != ast.TYPE_ENUM {
		util.Bug(ast.NoPos, "layout: %s is not an enum", t)
	}
	k := key(t)
	l.mu.RLock()
	el, ok := l.enums[k]
	l.mu.RUnlock()
	if ok {
		return el
	}
	el = &EnumLayout{Align: l.word()}
	var payloadSize int64
	for _, v := range t.Variants {
		vl := l.layoutFields(v.Fields, false)
		el.Variants = append(el.Variants, vl)
		el.Align = max(el.Align, vl.Align)
		payloadSize = max(payloadSize, vl.Size)
	}
	el.Payload = util.AlignUp(l.word(), el.Align)
	if payloadSize == 0 {
		el.Payload = l.word()
	}
	el.Size = util.AlignUp(el.Payload+payloadSize, el.Align)
	l.mu.Lock()
	l.enums[k] = el
	l.mu.Unlock()
	return el
}

// FieldOffset is the byte offset of field idx of a struct, tuple or of the
// variant of enum t whose discriminant is disr
func (l *Layouter) FieldOffset(t *ast.Type, disr int64, idx int) int64 {
	switch t.Kind {
	case ast.TYPE_STRUCT, ast.TYPE_TUPLE:
		return l.Struct(t).Offsets[idx]
	case ast.TYPE_ENUM:
		el := l.Enum(t)
		for i, v := range t.Variants {
			if v.Disr == disr {
				return el.Payload + el.Variants[i].Offsets[idx]
			}
		}
		util.Bug(ast.NoPos, "layout: enum %s has no discriminant %d", t, disr)
	}
	util.Bug(ast.NoPos, "layout: %s has no fields", t)
	return 0
}

// DropFlagOffset is the offset of the drop flag of a struct, or -1
func (l *Layouter) DropFlagOffset(t *ast.Type) int64 {
	if t.Kind != ast.TYPE_STRUCT || t.Dtor == "" {
		return -1
	}
	return l.Struct(t).DropFlag
}

// ManagedContentOffset is where a managed box keeps its contents
func (l *Layouter) ManagedContentOffset(content *ast.Type) int64 {
	return util.AlignUp(l.word(), l.AlignOf(content))
}

// VecDataOffset is where an owned vector keeps its first element
func (l *Layouter) VecDataOffset(elem *ast.Type) int64 {
	return util.AlignUp(2*l.word(), l.AlignOf(elem))
}

// IsImmediate reports whether values of t travel in a register
func (l *Layouter) IsImmediate(t *ast.Type) bool {
	return t.IsScalar() && !t.IsNil()
}

// MemType is the store width of a scalar type
func (l *Layouter) MemType(t *ast.Type) ir.Type {
	switch t.Kind {
	case ast.TYPE_BOOL:
		return ir.TypeB
	case ast.TYPE_CHAR:
		return ir.TypeW
	case ast.TYPE_INT:
		switch l.SizeOf(t) {
		case 1:
			return ir.TypeB
		case 2:
			return ir.TypeH
		case 4:
			return ir.TypeW
		}
		return ir.TypeL
	case ast.TYPE_FLOAT:
		if t.Width == 32 {
			return ir.TypeS
		}
		return ir.TypeD
	case ast.TYPE_NIL, ast.TYPE_BOT:
		return ir.TypeNone
	}
	if t.IsScalar() {
		return ir.TypePtr
	}
	util.Bug(ast.NoPos, "layout: %s has no scalar representation", t)
	return ir.TypeNone
}

// LoadType is MemType refined with the extension a sub-word load needs
func (l *Layouter) LoadType(t *ast.Type) ir.Type {
	switch mt := l.MemType(t); mt {
	case ir.TypeB:
		if t.IsSigned() {
			return ir.TypeSB
		}
		return ir.TypeUB
	case ir.TypeH:
		if t.IsSigned() {
			return ir.TypeSH
		}
		return ir.TypeUH
	default:
		return mt
	}
}

// RegType is the temporary class holding values of t
func (l *Layouter) RegType(t *ast.Type) ir.Type {
	switch mt := l.MemType(t); mt {
	case ir.TypeB, ir.TypeH, ir.TypeW:
		return ir.TypeW
	case ir.TypePtr:
		if l.WordSize == 4 {
			return ir.TypeW
		}
		return ir.TypeL
	default:
		return mt
	}
}

// Bits is the number of significant bits of an integral value of t
func (l *Layouter) Bits(t *ast.Type) int {
	switch t.Kind {
	case ast.TYPE_BOOL:
		return 8
	case ast.TYPE_CHAR:
		return 32
	}
	if t.IsScalar() && !t.IsFloat() {
		return int(l.SizeOf(t) * 8)
	}
	return t.Width
}
