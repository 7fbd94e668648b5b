package typeck

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/util"
)

// ExprKind is the evaluation category of an expression
type ExprKind int

const (
	LvalueExpr ExprKind = iota
	RvalueDatumExpr
	RvalueDpsExpr
	RvalueStmtExpr
)

func (k ExprKind) String() string {
	switch k {
	case LvalueExpr:
		return "lvalue"
	case RvalueDatumExpr:
		return "datum"
	case RvalueDpsExpr:
		return "dps"
	case RvalueStmtExpr:
		return "stmt"
	}
	return "?"
}

// ExprKind classifies an expression
func (t *Tables) ExprKind(n *ast.Node) ExprKind {
	if k, ok := t.KindOverrides[n.ID]; ok {
		return k
	}

	if _, ok := t.Method(n, 0); ok {
		switch n.Type {
		case ast.AssignOp:
			return RvalueStmtExpr
		case ast.Deref, ast.Index:
			return LvalueExpr
		default:
			return RvalueDpsExpr
		}
	}

	switch n.Type {
	case ast.Path:
		def, ok := t.Defs[n.ID]
		if !ok {
			util.Bug(n.Tok, "unresolved path '%s'", n.Data.(ast.PathNode).Name)
		}
		switch def.Kind {
		case DefVariant:
			if len(def.Enum.Variants[def.Variant].Fields) == 0 {
				return RvalueDpsExpr
			}
			return RvalueDatumExpr
		case DefStruct:
			return RvalueDpsExpr
		case DefFn, DefConst:
			return RvalueDatumExpr
		case DefStatic, DefUpvar, DefLocal, DefArg, DefSelf:
			return LvalueExpr
		}
		util.Bug(n.Tok, "unexpected definition %v", def)

	case ast.Deref, ast.Field, ast.Index:
		return LvalueExpr

	case ast.Call, ast.MethodCall, ast.Struct, ast.Tuple, ast.If, ast.Match,
		ast.Closure, ast.Block, ast.Repeat, ast.VecLit:
		return RvalueDpsExpr

	case ast.Lit:
		if n.Data.(ast.LitNode).Kind == ast.LitStr {
			return RvalueDpsExpr
		}
		return RvalueDatumExpr

	case ast.Cast:
		if n.Typ.Kind == ast.TYPE_TRAIT {
			return RvalueDpsExpr
		}
		return RvalueDatumExpr

	case ast.Break, ast.Continue, ast.Return, ast.While, ast.Loop, ast.Assign,
		ast.AssignOp, ast.InlineAsm, ast.Let:
		return RvalueStmtExpr

	case ast.Unary, ast.AddrOf, ast.Binary, ast.Box:
		return RvalueDatumExpr

	case ast.Paren:
		return t.ExprKind(n.Data.(ast.ParenNode).Expr)
	}

	util.Bug(n.Tok, "cannot classify %s expression", n.Type)
	return RvalueStmtExpr
}
