// Package typeck holds what the type checker hands to translation: the
// resolution of every path, the implicit adjustments attached to
// expressions, the method map for overloaded operators and the evaluation
// category of each expression.
package typeck

import (
	"fmt"

	"github.com/xplshn/trans/pkg/ast"
)

type DefKind int

const (
	DefLocal DefKind = iota
	DefArg
	DefSelf
	DefUpvar
	DefStatic
	DefConst
	DefFn
	DefVariant
	DefStruct
)

// Def is the resolution of a path expression
type Def struct {
	Kind     DefKind
	ID       ast.NodeID // Binding of locals, args, self and upvars
	Name     string     // Symbol of statics and functions
	Const    *ast.Node  // Literal value of a constant
	Enum     *ast.Type  // DefVariant
	Variant  int
	Struct   *ast.Type // DefStruct
	NoUnwind bool      // DefFn known never to panic
}

func (d Def) String() string {
	switch d.Kind {
	case DefLocal:
		return fmt.Sprintf("local#%d", d.ID)
	case DefArg:
		return fmt.Sprintf("arg#%d", d.ID)
	case DefSelf:
		return "self"
	case DefUpvar:
		return fmt.Sprintf("upvar#%d", d.ID)
	case DefStatic:
		return "static " + d.Name
	case DefConst:
		return "const"
	case DefFn:
		return "fn " + d.Name
	case DefVariant:
		return d.Enum.Name + "::" + d.Enum.Variants[d.Variant].Name
	case DefStruct:
		return "struct " + d.Struct.Name
	}
	return "def?"
}

// Adjustment is an implicit coercion attached to an expression
type Adjustment interface{ adjustment() }

// AddEnv turns a bare function into a closure with an empty environment
type AddEnv struct{}

// DerefRef dereferences Autoderefs times, then optionally takes a reference
type DerefRef struct {
	Autoderefs int
	Autoref    *AutoRef
}

// ToTraitObject is an explicit unsizing of a concrete value
type ToTraitObject struct {
	Target *ast.Type
}

func (AddEnv) adjustment()        {}
func (DerefRef) adjustment()      {}
func (ToTraitObject) adjustment() {}

type AutoRefKind int

const (
	AutoPtr          AutoRefKind = iota // &T
	AutoUnsafe                          // *T
	AutoBorrowVec                       // &[T] from a sequence
	AutoBorrowVecRef                    // &&[T]
	AutoBorrowObj                       // &Trait
)

type AutoRef struct {
	Kind    AutoRefKind
	Mutable bool
	Target  *ast.Type // Trait object type for AutoBorrowObj
}

// MethodKey identifies an overloaded operation. Step 0 is the expression
// itself; step k > 0 is the k-th autoderef of its adjustment.
type MethodKey struct {
	Expr ast.NodeID
	Step int
}

// Method is a resolved trait method
type Method struct {
	Symbol      string
	Fty         *ast.Type // Full signature, receiver first
	Object      bool      // Dispatch through the receiver's vtable
	VtableIndex int
}

// ImplKey names the implementation of a trait for a concrete type
type ImplKey struct {
	Type  string
	Trait string
}

type Tables struct {
	Defs          map[ast.NodeID]Def
	Adjustments   map[ast.NodeID][]Adjustment
	Methods       map[MethodKey]*Method
	Impls         map[ImplKey][]string
	KindOverrides map[ast.NodeID]ExprKind
}

func NewTables() *Tables {
	return &Tables{
		Defs:          make(map[ast.NodeID]Def),
		Adjustments:   make(map[ast.NodeID][]Adjustment),
		Methods:       make(map[MethodKey]*Method),
		Impls:         make(map[ImplKey][]string),
		KindOverrides: make(map[ast.NodeID]ExprKind),
	}
}

// Resolve records the definition a path refers to
func (t *Tables) Resolve(path *ast.Node, def Def) *ast.Node {
	t.Defs[path.ID] = def
	return path
}

// Adjust attaches an adjustment to an expression
func (t *Tables) Adjust(expr *ast.Node, adj ...Adjustment) *ast.Node {
	t.Adjustments[expr.ID] = append(t.Adjustments[expr.ID], adj...)
	return expr
}

// Overload binds an operator expression to a trait method
func (t *Tables) Overload(expr *ast.Node, step int, m *Method) *ast.Node {
	t.Methods[MethodKey{Expr: expr.ID, Step: step}] = m
	return expr
}

// Implement registers the methods of trait for type ty, in trait order
func (t *Tables) Implement(ty *ast.Type, trait *ast.Trait, symbols ...string) {
	t.Impls[ImplKey{Type: ty.String(), Trait: trait.Name}] = symbols
}

func (t *Tables) Method(expr *ast.Node, step int) (*Method, bool) {
	m, ok := t.Methods[MethodKey{Expr: expr.ID, Step: step}]
	return m, ok
}
