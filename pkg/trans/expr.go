package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/typeck"
	"github.com/xplshn/trans/pkg/util"
)

func bug(format string, args ...interface{}) { util.Bug(ast.NoPos, format, args...) }

func bugAt(n *ast.Node, format string, args ...interface{}) { util.Bug(n.Tok, format, args...) }

func (bcx *Block) tables() *typeck.Tables { return bcx.fcx.ccx.Tables }

func (bcx *Block) kindOf(expr *ast.Node) typeck.ExprKind { return bcx.tables().ExprKind(expr) }

func (bcx *Block) warnUnreachable(expr *ast.Node) {
	util.Warn(bcx.fcx.cfg(), config.WarnUnreachableCode, expr.Tok, "unreachable %s expression", expr.Type)
}

// TransInto translates expr, leaving its value in dest. Temporaries created
// along the way are dropped before it returns.
func TransInto(bcx *Block, expr *ast.Node, dest Dest) *Block {
	if bcx.Unreachable() {
		bcx.warnUnreachable(expr)
		return bcx
	}
	fcx := bcx.fcx
	if len(bcx.tables().Adjustments[expr.ID]) > 0 {
		scope := fcx.scopes.Push("expr")
		bcx, d := Trans(bcx, expr)
		bcx = d.StoreTo(bcx, dest)
		fcx.scopes.PopAndEmit(bcx.bb, scope)
		return bcx
	}

	scope := fcx.scopes.Push("expr")
	bcx = transIntoUnadjusted(bcx, expr, dest)
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	return bcx
}

func transIntoUnadjusted(bcx *Block, expr *ast.Node, dest Dest) *Block {
	if expr.Typ == nil || expr.Typ.IsNil() {
		dest = Ignore{}
	}
	switch bcx.kindOf(expr) {
	case typeck.LvalueExpr, typeck.RvalueDatumExpr:
		bcx, d := transUnadjusted(bcx, expr)
		return d.StoreTo(bcx, dest)
	case typeck.RvalueDpsExpr:
		return transRvalueDpsUnadjusted(bcx, expr, dest)
	case typeck.RvalueStmtExpr:
		return transRvalueStmtUnadjusted(bcx, expr)
	}
	bugAt(expr, "unknown expression kind")
	return bcx
}

// Trans translates expr into a Datum with its adjustments applied. The
// temporaries it creates outlive it: their cleanups move to the enclosing
// scope.
func Trans(bcx *Block, expr *ast.Node) (*Block, Datum) {
	if bcx.Unreachable() {
		bcx.warnUnreachable(expr)
		return bcx, lvalueDatum(constInt(0), exprType(expr))
	}
	fcx := bcx.fcx
	scope := fcx.scopes.Push("datum")
	bcx, d := transUnadjusted(bcx, expr)
	bcx, d = applyAdjustments(bcx, expr, d)
	fcx.scopes.PopInto(scope)
	fcx.tracef("%s -> %s", expr.Type, d)
	return bcx, d
}

func exprType(expr *ast.Node) *ast.Type {
	if expr.Typ == nil {
		return ast.TypeNil
	}
	return expr.Typ
}

// TransToLvalue translates expr and gives the result a home in memory
func TransToLvalue(bcx *Block, expr *ast.Node, name string) (*Block, Datum) {
	bcx, d := Trans(bcx, expr)
	return d.ToLvalue(bcx, name)
}

// TransLocalVar returns the storage of a local, argument, self or upvar
func TransLocalVar(bcx *Block, def typeck.Def, ty *ast.Type) Datum {
	switch def.Kind {
	case typeck.DefLocal, typeck.DefArg, typeck.DefSelf, typeck.DefUpvar:
		addr, ok := bcx.localAddr(def.ID)
		if !ok {
			bug("no storage for %s", def)
		}
		return lvalueDatum(addr, ty)
	}
	bug("%s is not a local variable", def)
	return Datum{}
}

func transUnadjusted(bcx *Block, expr *ast.Node) (*Block, Datum) {
	ty := exprType(expr)
	switch bcx.kindOf(expr) {
	case typeck.LvalueExpr:
		return transLvalueUnadjusted(bcx, expr)
	case typeck.RvalueDatumExpr:
		return transRvalueDatumUnadjusted(bcx, expr)
	case typeck.RvalueStmtExpr:
		bcx = transRvalueStmtUnadjusted(bcx, expr)
		return bcx, Datum{Val: constInt(0), Ty: ty, Kind: Rvalue{Mode: ByValue}}
	case typeck.RvalueDpsExpr:
		if ty.IsNil() {
			bcx = transRvalueDpsUnadjusted(bcx, expr, Ignore{})
			return bcx, Datum{Val: constInt(0), Ty: ty, Kind: Rvalue{Mode: ByValue}}
		}
		if isCall(bcx, expr) && bcx.fcx.lay().IsImmediate(ty) {
			return transCallDatum(bcx, expr)
		}
		scratch := bcx.fcx.Alloca(ty, "dps")
		bcx = transRvalueDpsUnadjusted(bcx, expr, SaveIn{Addr: scratch})
		if bcx.fcx.lay().IsImmediate(ty) {
			return bcx, immDatum(bcx.LoadTy(scratch, ty), ty)
		}
		return bcx, refDatum(scratch, ty)
	}
	bugAt(expr, "unknown expression kind")
	return bcx, Datum{}
}

// isCall reports whether expr is a genuine call, as opposed to a variant
// constructor written with call syntax
func isCall(bcx *Block, expr *ast.Node) bool {
	switch expr.Type {
	case ast.MethodCall:
		return true
	case ast.Call:
		_, ctor := variantCtor(bcx, expr)
		return !ctor
	}
	return false
}

func transLvalueUnadjusted(bcx *Block, expr *ast.Node) (*Block, Datum) {
	switch expr.Type {
	case ast.Paren:
		return Trans(bcx, expr.Data.(ast.ParenNode).Expr)
	case ast.Path:
		return transDefLvalue(bcx, expr)
	case ast.Field:
		return transFieldLvalue(bcx, expr)
	case ast.Index:
		return transIndex(bcx, expr)
	case ast.Deref:
		bcx, d := Trans(bcx, expr.Data.(ast.DerefNode).Expr)
		return derefOnce(bcx, expr, d, 0)
	}
	bugAt(expr, "%s is not an lvalue expression", expr.Type)
	return bcx, Datum{}
}

func transDefLvalue(bcx *Block, expr *ast.Node) (*Block, Datum) {
	def := bcx.tables().Defs[expr.ID]
	ty := exprType(expr)
	switch def.Kind {
	case typeck.DefStatic:
		bcx.fcx.ccx.Prog.AddExtern(def.Name)
		return bcx, lvalueDatum(&ir.Global{Name: def.Name}, ty)
	case typeck.DefLocal, typeck.DefArg, typeck.DefSelf, typeck.DefUpvar:
		return bcx, TransLocalVar(bcx, def, ty)
	}
	bugAt(expr, "%s is not an lvalue", def)
	return bcx, Datum{}
}

func transFieldLvalue(bcx *Block, expr *ast.Node) (*Block, Datum) {
	f := expr.Data.(ast.FieldNode)
	bcx, base := TransToLvalue(bcx, f.Expr, "field")
	idx := f.Index
	if idx < 0 {
		idx = base.Ty.FieldIndex(f.Name)
	}
	if idx < 0 || (base.Ty.Kind != ast.TYPE_STRUCT && base.Ty.Kind != ast.TYPE_TUPLE) {
		bugAt(expr, "type %s has no field %q", base.Ty, f.Name)
	}
	off := bcx.fcx.lay().FieldOffset(base.Ty, 0, idx)
	return bcx, lvalueDatum(bcx.GEP(base.Val, off), base.Ty.FieldTypes(0)[idx])
}

func transRvalueDatumUnadjusted(bcx *Block, expr *ast.Node) (*Block, Datum) {
	ty := exprType(expr)
	switch expr.Type {
	case ast.Paren:
		return Trans(bcx, expr.Data.(ast.ParenNode).Expr)
	case ast.Path:
		return transDefDatum(bcx, expr)
	case ast.Lit:
		return bcx, transImmLit(bcx, expr)
	case ast.Binary:
		return transBinary(bcx, expr)
	case ast.Unary:
		return transUnary(bcx, expr)
	case ast.Box:
		b := expr.Data.(ast.BoxNode)
		return transBox(bcx, expr, b.Heap, b.Expr)
	case ast.AddrOf:
		bcx, lv := TransToLvalue(bcx, expr.Data.(ast.AddrOfNode).Expr, "addr")
		return bcx, immDatum(lv.Val, ty)
	case ast.Cast:
		return transImmCast(bcx, expr)
	}
	bugAt(expr, "unexpected %s expression in datum position", expr.Type)
	return bcx, Datum{}
}

func transDefDatum(bcx *Block, expr *ast.Node) (*Block, Datum) {
	def := bcx.tables().Defs[expr.ID]
	ty := exprType(expr)
	switch def.Kind {
	case typeck.DefFn:
		bcx.fcx.ccx.Prog.AddExtern(def.Name)
		return bcx, immDatum(&ir.Global{Name: def.Name}, ty)
	case typeck.DefConst:
		return bcx, transImmLit(bcx, def.Const)
	case typeck.DefVariant:
		v := def.Enum.Variants[def.Variant]
		if len(v.Fields) == 0 {
			bugAt(expr, "nullary variant %s in datum position", def)
		}
		if ty.Kind != ast.TYPE_FN {
			ty = ast.NewFn(v.Fields, def.Enum)
		}
		return bcx, immDatum(&ir.Global{Name: bcx.fcx.ccx.variantCtorFn(def.Enum, def.Variant)}, ty)
	}
	bugAt(expr, "%s does not name a value", def)
	return bcx, Datum{}
}

func transImmLit(bcx *Block, expr *ast.Node) Datum {
	lit := expr.Data.(ast.LitNode)
	ty := exprType(expr)
	switch lit.Kind {
	case ast.LitInt, ast.LitBool, ast.LitChar:
		return immDatum(constInt(truncConst(bcx, lit.Int, ty)), ty)
	case ast.LitFloat:
		return immDatum(&ir.FloatConst{Value: lit.Float, Typ: bcx.fcx.lay().RegType(ty)}, ty)
	case ast.LitNil:
		return unitDatum()
	}
	bugAt(expr, "literal %v is not an immediate", lit.Kind)
	return Datum{}
}

// truncConst brings an integer constant into the canonical form of its type
func truncConst(bcx *Block, v int64, ty *ast.Type) int64 {
	if !ty.IsIntegral() || ty.IsBool() {
		return v
	}
	bits := bcx.fcx.lay().Bits(ty)
	if bits >= 64 {
		return v
	}
	if ty.IsSigned() {
		shift := 64 - bits
		return v << shift >> shift
	}
	return v & (1<<bits - 1)
}

func transRvalueDpsUnadjusted(bcx *Block, expr *ast.Node, dest Dest) *Block {
	switch expr.Type {
	case ast.Paren:
		return TransInto(bcx, expr.Data.(ast.ParenNode).Expr, dest)
	case ast.Path:
		return transDefDps(bcx, expr, dest)
	case ast.If:
		return transIf(bcx, expr, dest)
	case ast.Match:
		return transMatch(bcx, expr, dest)
	case ast.Block:
		return transBlock(bcx, expr, dest)
	case ast.Struct:
		return transStructLit(bcx, expr, dest)
	case ast.Tuple:
		elems := expr.Data.(ast.TupleNode).Elems
		fields := make([]fieldExpr, len(elems))
		for i, e := range elems {
			fields[i] = fieldExpr{idx: i, expr: e}
		}
		return transAdt(bcx, exprType(expr), 0, fields, nil, dest)
	case ast.Lit:
		return transStrLit(bcx, expr, dest)
	case ast.VecLit, ast.Repeat:
		return transVecLit(bcx, expr, dest)
	case ast.Closure:
		return transClosure(bcx, expr, dest)
	case ast.Call:
		return transCall(bcx, expr, dest)
	case ast.MethodCall:
		return transMethodCall(bcx, expr, dest)
	case ast.Binary:
		b := expr.Data.(ast.BinaryNode)
		return transOverloadedOp(bcx, expr, b.Left, []*ast.Node{b.Right}, dest)
	case ast.Unary:
		return transOverloadedOp(bcx, expr, expr.Data.(ast.UnaryNode).Expr, nil, dest)
	case ast.Cast:
		bcx, d := Trans(bcx, expr.Data.(ast.CastNode).Expr)
		bcx, obj := traitObject(bcx, d, exprType(expr))
		return obj.StoreTo(bcx, dest)
	}
	bugAt(expr, "unexpected %s expression in destination position", expr.Type)
	return bcx
}

func transDefDps(bcx *Block, expr *ast.Node, dest Dest) *Block {
	def := bcx.tables().Defs[expr.ID]
	addr, ok := dest.(SaveIn)
	switch def.Kind {
	case typeck.DefVariant:
		if ok {
			writeDiscr(bcx, addr.Addr, def.Enum, def.Enum.Variants[def.Variant].Disr)
		}
		return bcx
	case typeck.DefStruct:
		if ok {
			setDropFlag(bcx, addr.Addr, def.Struct)
		}
		return bcx
	}
	bugAt(expr, "%s is not a constructor", def)
	return bcx
}

func transRvalueStmtUnadjusted(bcx *Block, expr *ast.Node) *Block {
	switch expr.Type {
	case ast.Paren:
		return TransInto(bcx, expr.Data.(ast.ParenNode).Expr, Ignore{})
	case ast.Break:
		return transBreakCont(bcx, expr, expr.Data.(ast.BreakNode).Label, true)
	case ast.Continue:
		return transBreakCont(bcx, expr, expr.Data.(ast.ContinueNode).Label, false)
	case ast.Return:
		return transReturn(bcx, expr.Data.(ast.ReturnNode).Expr)
	case ast.While:
		return transWhile(bcx, expr)
	case ast.Loop:
		return transLoop(bcx, expr)
	case ast.Assign:
		a := expr.Data.(ast.AssignNode)
		bcx, src := Trans(bcx, a.Rhs)
		bcx, dst := TransToLvalue(bcx, a.Lhs, "assign")
		return assignDatum(bcx, dst, src)
	case ast.AssignOp:
		return transAssignOp(bcx, expr)
	case ast.InlineAsm:
		return transInlineAsm(bcx, expr)
	case ast.Let:
		bugAt(expr, "let outside of a block")
	}
	bugAt(expr, "unexpected %s expression in statement position", expr.Type)
	return bcx
}

// assignDatum overwrites dst with src, dropping the value dst held. A
// source that is not an owned rvalue may live inside dst (a = a, n =
// *n.next), so it is moved out to a scratch slot before the old value dies.
func assignDatum(bcx *Block, dst, src Datum) *Block {
	if !dst.Ty.NeedsDrop() {
		return src.StoreTo(bcx, SaveIn{Addr: dst.Val})
	}
	if !src.ownsValue() && src.isByRef() {
		scratch := bcx.fcx.Alloca(src.Ty, "moved")
		bcx.CopyTy(scratch, src.Val, src.Ty)
		bcx.Zero(src.Val, src.Ty)
		src = refDatum(scratch, src.Ty)
	}
	bcx.callDropGlue(dst.Val, dst.Ty)
	return src.StoreTo(bcx, SaveIn{Addr: dst.Val})
}

func transInlineAsm(bcx *Block, expr *ast.Node) *Block {
	a := expr.Data.(ast.InlineAsmNode)
	var args []ir.Value
	var types []ir.Type
	for _, arg := range a.Args {
		var d Datum
		bcx, d = Trans(bcx, arg)
		args = append(args, d.Immediate(bcx))
		types = append(types, bcx.fcx.lay().RegType(d.Ty))
	}
	bcx.callRuntime(a.Symbol, ir.TypeNone, args, types)
	return bcx
}
