package token

import "fmt"

type Type int

const (
	EOF Type = iota
	Ident
	Number
	FloatNumber
	String
	Char
	Eq
	PlusEq
	MinusEq
	StarEq
	SlashEq
	RemEq
	AndEq
	OrEq
	XorEq
	ShlEq
	ShrEq
	Plus
	Minus
	Star
	Slash
	Rem
	And
	Or
	Xor
	Shl
	Shr
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
	AndAnd
	OrOr
	Not
	Complement
	Tilde
	At
	Amp
)

// TypeStrings maps operator tokens to their source spelling
var TypeStrings = map[Type]string{
	Eq: "=", PlusEq: "+=", MinusEq: "-=", StarEq: "*=", SlashEq: "/=", RemEq: "%=",
	AndEq: "&=", OrEq: "|=", XorEq: "^=", ShlEq: "<<=", ShrEq: ">>=",
	Plus: "+", Minus: "-", Star: "*", Slash: "/", Rem: "%",
	And: "&", Or: "|", Xor: "^", Shl: "<<", Shr: ">>",
	EqEq: "==", Neq: "!=", Lt: "<", Gt: ">", Gte: ">=", Lte: "<=",
	AndAnd: "&&", OrOr: "||", Not: "!", Complement: "~", Tilde: "~", At: "@", Amp: "&",
}

// CompoundBase maps a compound assignment operator to its binary operator
var CompoundBase = map[Type]Type{
	PlusEq: Plus, MinusEq: Minus, StarEq: Star, SlashEq: Slash, RemEq: Rem,
	AndEq: And, OrEq: Or, XorEq: Xor, ShlEq: Shl, ShrEq: Shr,
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// IsComparison reports whether t is one of the six relational operators
func (t Type) IsComparison() bool {
	switch t {
	case EqEq, Neq, Lt, Gt, Gte, Lte:
		return true
	}
	return false
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}

// Pos is a convenience constructor for synthesized trees
func Pos(line, col int) Token {
	return Token{Line: line, Column: col, FileIndex: -1}
}
