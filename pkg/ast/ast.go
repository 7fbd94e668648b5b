// Package ast defines the typed expression tree consumed by the translator
package ast

import (
	"sync/atomic"

	"github.com/xplshn/trans/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	Path NodeType = iota
	Lit
	Binary
	Unary
	Deref
	AddrOf
	Box
	Field
	Index
	Cast
	Call
	MethodCall
	Struct
	Tuple
	VecLit
	Repeat
	If
	Match
	Block
	Closure
	Assign
	AssignOp
	While
	Loop
	Break
	Continue
	Return
	InlineAsm
	Paren

	// Statements
	Let
)

var nodeTypeNames = [...]string{
	"Path", "Lit", "Binary", "Unary", "Deref", "AddrOf", "Box", "Field", "Index", "Cast",
	"Call", "MethodCall", "Struct", "Tuple", "VecLit", "Repeat", "If", "Match", "Block",
	"Closure", "Assign", "AssignOp", "While", "Loop", "Break", "Continue", "Return",
	"InlineAsm", "Paren", "Let",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return "NodeType(?)"
}

// NoPos marks diagnostics without a source position
var NoPos = token.Token{FileIndex: -1}

// NodeID identifies an expression or a local binding
type NodeID int64

var lastID atomic.Int64

// FreshID hands out a NodeID for bindings that are not nodes themselves
func FreshID() NodeID { return NodeID(lastID.Add(1)) }

// Node represents a node in the AST
type Node struct {
	Type   NodeType
	ID     NodeID
	Tok    token.Token
	Parent *Node
	Data   interface{}
	Typ    *Type // Set by the type checker
}

type LitKind int

const (
	LitInt LitKind = iota
	LitFloat
	LitBool
	LitChar
	LitNil
	LitStr
)

// --- Node Data Structs ---
type PathNode struct{ Name string }
type LitNode struct {
	Kind  LitKind
	Int   int64
	Float float64
	Str   string
}
type BinaryNode struct {
	Op          token.Type
	Left, Right *Node
}
type UnaryNode struct {
	Op   token.Type
	Expr *Node
}
type DerefNode struct{ Expr *Node }
type AddrOfNode struct {
	Expr    *Node
	Mutable bool
}
type BoxNode struct {
	Heap Heap
	Expr *Node
}
type FieldNode struct {
	Expr  *Node
	Name  string
	Index int // Positional index for tuples, -1 when resolved by name
}
type IndexNode struct{ Expr, Index *Node }
type CastNode struct{ Expr *Node }
type CallNode struct {
	Callee *Node
	Args   []*Node
}
type MethodCallNode struct {
	Receiver *Node
	Method   string
	Args     []*Node
}
type FieldInit struct {
	Name string
	Expr *Node
}
type StructNode struct {
	Fields []FieldInit
	Base   *Node
}
type TupleNode struct{ Elems []*Node }
type VecNode struct{ Elems []*Node }
type RepeatNode struct {
	Elem  *Node
	Count int
}
type IfNode struct{ Cond, Then, Else *Node }
type PatKind int

const (
	PatWild PatKind = iota
	PatBind
	PatLit
	PatVariant
)

// Binding introduces a local that aliases a field of the matched value
type Binding struct {
	ID    NodeID
	Name  string
	Field int
}

type Pattern struct {
	Kind     PatKind
	Value    int64 // PatLit
	Variant  string
	Bindings []Binding // PatVariant fields or a single PatBind with Field -1
}
type Arm struct {
	Pat  *Pattern
	Body *Node
}
type MatchNode struct {
	Discr *Node
	Arms  []Arm
}
type BlockNode struct {
	Stmts []*Node
	Expr  *Node
}
type LetNode struct {
	Local NodeID
	Name  string
	Ty    *Type
	Init  *Node
}
type Param struct {
	Local NodeID
	Name  string
	Ty    *Type
}
type Capture struct {
	Local NodeID // Binding captured from the enclosing body
	Name  string
	Ty    *Type
	ByRef bool
}
type ClosureNode struct {
	Params   []Param
	Body     *Node
	Captures []Capture
}
type AssignNode struct{ Lhs, Rhs *Node }
type AssignOpNode struct {
	Op       token.Type
	Lhs, Rhs *Node
}
type WhileNode struct {
	Cond, Body *Node
	Label      string
}
type LoopNode struct {
	Body  *Node
	Label string
}
type BreakNode struct{ Label string }
type ContinueNode struct{ Label string }
type ReturnNode struct{ Expr *Node }
type InlineAsmNode struct {
	Symbol string
	Args   []*Node
}
type ParenNode struct{ Expr *Node }

// FnDecl is a function body handed to the translator
type FnDecl struct {
	Tok    token.Token
	Name   string
	Params []Param
	Ret    *Type
	Body   *Node
	Self   *Param // Receiver for methods, nil otherwise
}

// StaticDecl is a global with static storage
type StaticDecl struct {
	Name string
	Ty   *Type
	Init []int64 // One value per word, zero filled when short
}

// Crate groups the items of one translation unit
type Crate struct {
	Fns     []*FnDecl
	Statics []*StaticDecl
}

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, typ *Type, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, ID: FreshID(), Tok: tok, Data: data, Typ: typ}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func adopt(parent *Node, children []*Node) *Node {
	for _, c := range children {
		if c != nil {
			c.Parent = parent
		}
	}
	return parent
}

func NewPath(tok token.Token, name string, typ *Type) *Node {
	return newNode(tok, Path, typ, PathNode{Name: name})
}
func NewInt(tok token.Token, value int64, typ *Type) *Node {
	return newNode(tok, Lit, typ, LitNode{Kind: LitInt, Int: value})
}
func NewFloat(tok token.Token, value float64, typ *Type) *Node {
	return newNode(tok, Lit, typ, LitNode{Kind: LitFloat, Float: value})
}
func NewBool(tok token.Token, value bool) *Node {
	var v int64
	if value {
		v = 1
	}
	return newNode(tok, Lit, TypeBool, LitNode{Kind: LitBool, Int: v})
}
func NewChar(tok token.Token, r rune) *Node {
	return newNode(tok, Lit, TypeChar, LitNode{Kind: LitChar, Int: int64(r)})
}
func NewUnit(tok token.Token) *Node {
	return newNode(tok, Lit, TypeNil, LitNode{Kind: LitNil})
}
func NewStr(tok token.Token, value string, typ *Type) *Node {
	return newNode(tok, Lit, typ, LitNode{Kind: LitStr, Str: value})
}
func NewBinary(tok token.Token, op token.Type, left, right *Node, typ *Type) *Node {
	return newNode(tok, Binary, typ, BinaryNode{Op: op, Left: left, Right: right}, left, right)
}
func NewUnary(tok token.Token, op token.Type, expr *Node, typ *Type) *Node {
	return newNode(tok, Unary, typ, UnaryNode{Op: op, Expr: expr}, expr)
}
func NewDeref(tok token.Token, expr *Node, typ *Type) *Node {
	return newNode(tok, Deref, typ, DerefNode{Expr: expr}, expr)
}
func NewAddrOf(tok token.Token, expr *Node, mutable bool) *Node {
	return newNode(tok, AddrOf, NewRptr(expr.Typ, mutable), AddrOfNode{Expr: expr, Mutable: mutable}, expr)
}
func NewBoxExpr(tok token.Token, heap Heap, expr *Node) *Node {
	typ := NewBox(expr.Typ)
	if heap == HeapManaged {
		typ = NewManaged(expr.Typ)
	}
	return newNode(tok, Box, typ, BoxNode{Heap: heap, Expr: expr}, expr)
}
func NewField(tok token.Token, expr *Node, name string, typ *Type) *Node {
	return newNode(tok, Field, typ, FieldNode{Expr: expr, Name: name, Index: -1}, expr)
}
func NewTupField(tok token.Token, expr *Node, index int, typ *Type) *Node {
	return newNode(tok, Field, typ, FieldNode{Expr: expr, Index: index}, expr)
}
func NewIndex(tok token.Token, expr, index *Node, typ *Type) *Node {
	return newNode(tok, Index, typ, IndexNode{Expr: expr, Index: index}, expr, index)
}
func NewCast(tok token.Token, expr *Node, target *Type) *Node {
	return newNode(tok, Cast, target, CastNode{Expr: expr}, expr)
}
func NewCall(tok token.Token, callee *Node, args []*Node, typ *Type) *Node {
	node := newNode(tok, Call, typ, CallNode{Callee: callee, Args: args}, callee)
	return adopt(node, args)
}
func NewMethodCall(tok token.Token, recv *Node, method string, args []*Node, typ *Type) *Node {
	node := newNode(tok, MethodCall, typ, MethodCallNode{Receiver: recv, Method: method, Args: args}, recv)
	return adopt(node, args)
}
func NewStructLit(tok token.Token, typ *Type, fields []FieldInit, base *Node) *Node {
	node := newNode(tok, Struct, typ, StructNode{Fields: fields, Base: base}, base)
	for _, f := range fields {
		f.Expr.Parent = node
	}
	return node
}
func NewTuple(tok token.Token, elems []*Node) *Node {
	types := make([]*Type, len(elems))
	for i, e := range elems {
		types[i] = e.Typ
	}
	node := newNode(tok, Tuple, NewTupleType(types...), TupleNode{Elems: elems})
	return adopt(node, elems)
}
func NewVecLit(tok token.Token, elems []*Node, typ *Type) *Node {
	node := newNode(tok, VecLit, typ, VecNode{Elems: elems})
	return adopt(node, elems)
}
func NewRepeat(tok token.Token, elem *Node, count int, typ *Type) *Node {
	return newNode(tok, Repeat, typ, RepeatNode{Elem: elem, Count: count}, elem)
}
func NewIf(tok token.Token, cond, then, els *Node, typ *Type) *Node {
	return newNode(tok, If, typ, IfNode{Cond: cond, Then: then, Else: els}, cond, then, els)
}
func NewMatch(tok token.Token, discr *Node, arms []Arm, typ *Type) *Node {
	node := newNode(tok, Match, typ, MatchNode{Discr: discr, Arms: arms}, discr)
	for _, a := range arms {
		a.Body.Parent = node
	}
	return node
}
func NewBlock(tok token.Token, stmts []*Node, expr *Node) *Node {
	typ := TypeNil
	if expr != nil {
		typ = expr.Typ
	}
	node := newNode(tok, Block, typ, BlockNode{Stmts: stmts, Expr: expr}, expr)
	return adopt(node, stmts)
}
func NewLet(tok token.Token, name string, ty *Type, init *Node) *Node {
	return newNode(tok, Let, TypeNil, LetNode{Local: FreshID(), Name: name, Ty: ty, Init: init}, init)
}
func NewClosure(tok token.Token, params []Param, body *Node, captures []Capture) *Node {
	ptys := make([]*Type, len(params))
	for i, p := range params {
		ptys[i] = p.Ty
	}
	return newNode(tok, Closure, NewClosureType(ptys, body.Typ), ClosureNode{Params: params, Body: body, Captures: captures}, body)
}
func NewAssign(tok token.Token, lhs, rhs *Node) *Node {
	return newNode(tok, Assign, TypeNil, AssignNode{Lhs: lhs, Rhs: rhs}, lhs, rhs)
}
func NewAssignOp(tok token.Token, op token.Type, lhs, rhs *Node) *Node {
	return newNode(tok, AssignOp, TypeNil, AssignOpNode{Op: op, Lhs: lhs, Rhs: rhs}, lhs, rhs)
}
func NewWhile(tok token.Token, label string, cond, body *Node) *Node {
	return newNode(tok, While, TypeNil, WhileNode{Cond: cond, Body: body, Label: label}, cond, body)
}
func NewLoop(tok token.Token, label string, body *Node) *Node {
	return newNode(tok, Loop, TypeNil, LoopNode{Body: body, Label: label}, body)
}
func NewBreak(tok token.Token, label string) *Node {
	return newNode(tok, Break, TypeBot, BreakNode{Label: label})
}
func NewContinue(tok token.Token, label string) *Node {
	return newNode(tok, Continue, TypeBot, ContinueNode{Label: label})
}
func NewReturn(tok token.Token, expr *Node) *Node {
	return newNode(tok, Return, TypeBot, ReturnNode{Expr: expr}, expr)
}
func NewInlineAsm(tok token.Token, symbol string, args []*Node) *Node {
	node := newNode(tok, InlineAsm, TypeNil, InlineAsmNode{Symbol: symbol, Args: args})
	return adopt(node, args)
}
func NewParen(tok token.Token, expr *Node) *Node {
	return newNode(tok, Paren, expr.Typ, ParenNode{Expr: expr}, expr)
}

// LetID returns the local introduced by a Let node
func LetID(n *Node) NodeID { return n.Data.(LetNode).Local }

// NewParam builds a function or closure parameter with a fresh binding
func NewParam(name string, ty *Type) Param {
	return Param{Local: FreshID(), Name: name, Ty: ty}
}
