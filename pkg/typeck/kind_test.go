package typeck

import (
	"testing"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/token"
)

var pos = ast.NoPos

func TestExprKind(t *testing.T) {
	tab := NewTables()
	fig := ast.NewEnum("Fig", []ast.Variant{
		{Name: "Empty"},
		{Name: "Circle", Disr: 1, Fields: []*ast.Type{ast.TypeInt}},
	})
	trait := &ast.Trait{Name: "Shape", Methods: []string{"area"}}
	pair := ast.NewStruct("Pair", []ast.StructField{{Name: "a", Type: ast.TypeInt}}, "")

	local := tab.Resolve(ast.NewPath(pos, "x", ast.TypeInt), Def{Kind: DefLocal, ID: 1})
	ptr := tab.Resolve(ast.NewPath(pos, "p", ast.NewBox(pair)), Def{Kind: DefLocal, ID: 2})
	one := ast.NewInt(pos, 1, ast.TypeInt)

	tests := []struct {
		name string
		expr *ast.Node
		want ExprKind
	}{
		{"local", local, LvalueExpr},
		{"static", tab.Resolve(ast.NewPath(pos, "G", ast.TypeInt), Def{Kind: DefStatic, Name: "G"}), LvalueExpr},
		{"fn", tab.Resolve(ast.NewPath(pos, "f", ast.NewFn(nil, ast.TypeInt)), Def{Kind: DefFn, Name: "f"}), RvalueDatumExpr},
		{"nullary variant", tab.Resolve(ast.NewPath(pos, "Empty", fig), Def{Kind: DefVariant, Enum: fig, Variant: 0}), RvalueDpsExpr},
		{"variant ctor", tab.Resolve(ast.NewPath(pos, "Circle", fig), Def{Kind: DefVariant, Enum: fig, Variant: 1}), RvalueDatumExpr},
		{"int", one, RvalueDatumExpr},
		{"string", ast.NewStr(pos, "hi", ast.NewOwnedStr()), RvalueDpsExpr},
		{"binary", ast.NewBinary(pos, token.Plus, local, one, ast.TypeInt), RvalueDatumExpr},
		{"field", ast.NewField(pos, ast.NewDeref(pos, ptr, pair), "a", ast.TypeInt), LvalueExpr},
		{"struct", ast.NewStructLit(pos, pair, []ast.FieldInit{{Name: "a", Expr: one}}, nil), RvalueDpsExpr},
		{"numeric cast", ast.NewCast(pos, local, ast.TypeU8), RvalueDatumExpr},
		{"object cast", ast.NewCast(pos, ptr, ast.NewTraitObject(trait, ast.StoreBoxed)), RvalueDpsExpr},
		{"block", ast.NewBlock(pos, nil, one), RvalueDpsExpr},
		{"assign", ast.NewAssign(pos, local, one), RvalueStmtExpr},
		{"while", ast.NewWhile(pos, "", ast.NewBool(pos, false), ast.NewBlock(pos, nil, nil)), RvalueStmtExpr},
		{"paren", ast.NewParen(pos, local), LvalueExpr},
	}
	for _, tt := range tests {
		if got := tab.ExprKind(tt.expr); got != tt.want {
			t.Errorf("%s: ExprKind = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestExprKindOverloads(t *testing.T) {
	tab := NewTables()
	local := tab.Resolve(ast.NewPath(pos, "v", ast.TypeInt), Def{Kind: DefLocal, ID: 1})
	m := &Method{Symbol: "op", Fty: ast.NewFn([]*ast.Type{ast.TypeInt, ast.TypeInt}, ast.TypeInt)}

	add := tab.Overload(ast.NewBinary(pos, token.Plus, local, local, ast.TypeInt), 0, m)
	if k := tab.ExprKind(add); k != RvalueDpsExpr {
		t.Errorf("overloaded binary = %s, want dps", k)
	}
	idx := tab.Overload(ast.NewIndex(pos, local, local, ast.TypeInt), 0, m)
	if k := tab.ExprKind(idx); k != LvalueExpr {
		t.Errorf("overloaded index = %s, want lvalue", k)
	}
	upd := tab.Overload(ast.NewAssignOp(pos, token.PlusEq, local, local), 0, m)
	if k := tab.ExprKind(upd); k != RvalueStmtExpr {
		t.Errorf("overloaded compound assignment = %s, want stmt", k)
	}

	lit := ast.NewInt(pos, 3, ast.TypeInt)
	tab.KindOverrides[lit.ID] = RvalueDpsExpr
	if k := tab.ExprKind(lit); k != RvalueDpsExpr {
		t.Errorf("override ignored: %s", k)
	}
}

func TestDefString(t *testing.T) {
	fig := ast.NewEnum("Fig", []ast.Variant{{Name: "Circle"}})
	tests := []struct {
		def  Def
		want string
	}{
		{Def{Kind: DefLocal, ID: 4}, "local#4"},
		{Def{Kind: DefFn, Name: "main"}, "fn main"},
		{Def{Kind: DefVariant, Enum: fig, Variant: 0}, "Fig::Circle"},
		{Def{Kind: DefStatic, Name: "COUNT"}, "static COUNT"},
	}
	for _, tt := range tests {
		if got := tt.def.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
