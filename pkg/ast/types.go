package ast

import (
	"fmt"
	"strings"
)

// TypeKind defines the kind of a Type
type TypeKind int

// Type kinds enum
const (
	TYPE_NIL TypeKind = iota
	TYPE_BOT
	TYPE_BOOL
	TYPE_CHAR
	TYPE_INT
	TYPE_FLOAT
	TYPE_PTR     // *T, raw pointer
	TYPE_RPTR    // &T, borrowed pointer
	TYPE_BOX     // ~T, uniquely owned heap pointer
	TYPE_MANAGED // @T, reference counted heap pointer
	TYPE_STRUCT
	TYPE_TUPLE
	TYPE_ENUM
	TYPE_ARRAY // [T, ..n]
	TYPE_VEC   // ~[T]
	TYPE_STR   // ~str
	TYPE_SLICE // &[T] and &str
	TYPE_FN
	TYPE_CLOSURE
	TYPE_TRAIT
	TYPE_SIMD
)

// Heap names the allocator behind a box
type Heap int

const (
	HeapUnique Heap = iota
	HeapManaged
)

func (h Heap) String() string {
	if h == HeapManaged {
		return "managed"
	}
	return "unique"
}

// TraitStore is where a trait object's data lives
type TraitStore int

const (
	StoreBorrowed TraitStore = iota
	StoreBoxed
)

// Type represents a fully resolved type
type Type struct {
	Kind     TypeKind
	Name     string
	Width    int  // Bit width for TYPE_INT and TYPE_FLOAT
	Signed   bool
	Mutable  bool
	Base     *Type // Pointee, element or lane type
	Len      int   // Array length or SIMD lane count
	Fields   []StructField
	Elems    []*Type
	Variants []Variant
	Dtor     string // Destructor symbol of a struct, if any
	Params   []*Type
	Ret      *Type
	Trait    *Trait
	Store    TraitStore
	IsStr    bool // TYPE_SLICE over string data
}

type StructField struct {
	Name string
	Type *Type
}

type Variant struct {
	Name   string
	Disr   int64
	Fields []*Type
}

type Trait struct {
	Name    string
	Methods []string
}

// Pre-defined types
var (
	TypeNil  = &Type{Kind: TYPE_NIL, Name: "()"}
	TypeBot  = &Type{Kind: TYPE_BOT, Name: "!"}
	TypeBool = &Type{Kind: TYPE_BOOL, Name: "bool"}
	TypeChar = &Type{Kind: TYPE_CHAR, Name: "char", Width: 32}
	TypeI8   = &Type{Kind: TYPE_INT, Name: "i8", Width: 8, Signed: true}
	TypeI16  = &Type{Kind: TYPE_INT, Name: "i16", Width: 16, Signed: true}
	TypeI32  = &Type{Kind: TYPE_INT, Name: "i32", Width: 32, Signed: true}
	TypeI64  = &Type{Kind: TYPE_INT, Name: "i64", Width: 64, Signed: true}
	TypeU8   = &Type{Kind: TYPE_INT, Name: "u8", Width: 8}
	TypeU16  = &Type{Kind: TYPE_INT, Name: "u16", Width: 16}
	TypeU32  = &Type{Kind: TYPE_INT, Name: "u32", Width: 32}
	TypeU64  = &Type{Kind: TYPE_INT, Name: "u64", Width: 64}
	TypeInt  = &Type{Kind: TYPE_INT, Name: "int", Width: 64, Signed: true}
	TypeUint = &Type{Kind: TYPE_INT, Name: "uint", Width: 64}
	TypeF32  = &Type{Kind: TYPE_FLOAT, Name: "f32", Width: 32}
	TypeF64  = &Type{Kind: TYPE_FLOAT, Name: "f64", Width: 64}
	TypeStr  = &Type{Kind: TYPE_SLICE, Name: "&str", Base: TypeU8, IsStr: true}
)

func NewPtr(base *Type, mutable bool) *Type {
	return &Type{Kind: TYPE_PTR, Base: base, Mutable: mutable}
}
func NewRptr(base *Type, mutable bool) *Type {
	return &Type{Kind: TYPE_RPTR, Base: base, Mutable: mutable}
}
func NewBox(base *Type) *Type     { return &Type{Kind: TYPE_BOX, Base: base} }
func NewManaged(base *Type) *Type { return &Type{Kind: TYPE_MANAGED, Base: base} }
func NewArray(elem *Type, n int) *Type {
	return &Type{Kind: TYPE_ARRAY, Base: elem, Len: n}
}
func NewVec(elem *Type) *Type { return &Type{Kind: TYPE_VEC, Base: elem} }
func NewOwnedStr() *Type      { return &Type{Kind: TYPE_STR, Base: TypeU8, Name: "~str"} }
func NewSlice(elem *Type) *Type {
	return &Type{Kind: TYPE_SLICE, Base: elem}
}
func NewTupleType(elems ...*Type) *Type { return &Type{Kind: TYPE_TUPLE, Elems: elems} }
func NewStruct(name string, fields []StructField, dtor string) *Type {
	return &Type{Kind: TYPE_STRUCT, Name: name, Fields: fields, Dtor: dtor}
}
func NewEnum(name string, variants []Variant) *Type {
	return &Type{Kind: TYPE_ENUM, Name: name, Variants: variants}
}
func NewFn(params []*Type, ret *Type) *Type {
	return &Type{Kind: TYPE_FN, Params: params, Ret: ret}
}
func NewClosureType(params []*Type, ret *Type) *Type {
	return &Type{Kind: TYPE_CLOSURE, Params: params, Ret: ret}
}
func NewTraitObject(trait *Trait, store TraitStore) *Type {
	return &Type{Kind: TYPE_TRAIT, Trait: trait, Store: store}
}
func NewSimd(lane *Type, lanes int) *Type {
	return &Type{Kind: TYPE_SIMD, Base: lane, Len: lanes}
}

// SliceOf returns the slice type borrowed from a sequence type
func SliceOf(seq *Type) *Type {
	if seq.Kind == TYPE_STR || (seq.Kind == TYPE_SLICE && seq.IsStr) {
		return TypeStr
	}
	return NewSlice(seq.Base)
}

func (t *Type) IsNil() bool      { return t.Kind == TYPE_NIL || t.Kind == TYPE_BOT }
func (t *Type) IsBool() bool     { return t.Kind == TYPE_BOOL }
func (t *Type) IsFloat() bool    { return t.Kind == TYPE_FLOAT }
func (t *Type) IsIntegral() bool { return t.Kind == TYPE_INT || t.Kind == TYPE_BOOL || t.Kind == TYPE_CHAR }

// IsSigned reports whether the type's values are sign extended
func (t *Type) IsSigned() bool { return t.Kind == TYPE_INT && t.Signed }

func (t *Type) IsPointer() bool {
	switch t.Kind {
	case TYPE_PTR, TYPE_RPTR, TYPE_BOX, TYPE_MANAGED:
		return true
	}
	return false
}

// IsScalar reports whether values of t fit a single register
func (t *Type) IsScalar() bool {
	switch t.Kind {
	case TYPE_NIL, TYPE_BOT, TYPE_BOOL, TYPE_CHAR, TYPE_INT, TYPE_FLOAT,
		TYPE_PTR, TYPE_RPTR, TYPE_BOX, TYPE_MANAGED, TYPE_VEC, TYPE_STR, TYPE_FN:
		return true
	}
	return false
}

// IsCLike reports whether an enum carries no payload in any variant
func (t *Type) IsCLike() bool {
	if t.Kind != TYPE_ENUM {
		return false
	}
	for _, v := range t.Variants {
		if len(v.Fields) > 0 {
			return false
		}
	}
	return true
}

// NeedsDrop reports whether destroying a value of t runs any code
func (t *Type) NeedsDrop() bool {
	switch t.Kind {
	case TYPE_BOX, TYPE_MANAGED, TYPE_VEC, TYPE_STR, TYPE_CLOSURE:
		return true
	case TYPE_TRAIT:
		return t.Store == StoreBoxed
	case TYPE_STRUCT:
		if t.Dtor != "" {
			return true
		}
		for _, f := range t.Fields {
			if f.Type.NeedsDrop() {
				return true
			}
		}
	case TYPE_TUPLE:
		for _, e := range t.Elems {
			if e.NeedsDrop() {
				return true
			}
		}
	case TYPE_ENUM:
		for _, v := range t.Variants {
			for _, f := range v.Fields {
				if f.NeedsDrop() {
					return true
				}
			}
		}
	case TYPE_ARRAY:
		return t.Len > 0 && t.Base.NeedsDrop()
	}
	return false
}

// FieldTypes returns the field types of a struct, tuple or enum variant
func (t *Type) FieldTypes(disr int64) []*Type {
	switch t.Kind {
	case TYPE_STRUCT:
		out := make([]*Type, len(t.Fields))
		for i, f := range t.Fields {
			out[i] = f.Type
		}
		return out
	case TYPE_TUPLE:
		return t.Elems
	case TYPE_ENUM:
		for _, v := range t.Variants {
			if v.Disr == disr {
				return v.Fields
			}
		}
	}
	return nil
}

// FieldIndex resolves a struct field by name
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// VariantIndex resolves an enum variant by name
func (t *Type) VariantIndex(name string) int {
	for i, v := range t.Variants {
		if v.Name == name {
			return i
		}
	}
	return -1
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TYPE_PTR:
		if t.Mutable {
			return "*mut " + t.Base.String()
		}
		return "*" + t.Base.String()
	case TYPE_RPTR:
		if t.Mutable {
			return "&mut " + t.Base.String()
		}
		return "&" + t.Base.String()
	case TYPE_BOX:
		return "~" + t.Base.String()
	case TYPE_MANAGED:
		return "@" + t.Base.String()
	case TYPE_ARRAY:
		return fmt.Sprintf("[%s, ..%d]", t.Base, t.Len)
	case TYPE_VEC:
		return "~[" + t.Base.String() + "]"
	case TYPE_SLICE:
		if t.IsStr {
			return "&str"
		}
		return "&[" + t.Base.String() + "]"
	case TYPE_TUPLE:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TYPE_FN, TYPE_CLOSURE:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		prefix := "fn"
		if t.Kind == TYPE_CLOSURE {
			prefix = "&fn"
		}
		return fmt.Sprintf("%s(%s) -> %s", prefix, strings.Join(parts, ", "), t.Ret)
	case TYPE_TRAIT:
		if t.Store == StoreBoxed {
			return "~" + t.Trait.Name
		}
		return "&" + t.Trait.Name
	case TYPE_SIMD:
		return fmt.Sprintf("simd<%s, %d>", t.Base, t.Len)
	case TYPE_STRUCT, TYPE_ENUM:
		return t.Name
	}
	return t.Name
}
