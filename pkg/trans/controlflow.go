package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/cleanup"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/typeck"
	"github.com/xplshn/trans/pkg/util"
)

// reached returns join if some block branches to it, or an unreachable
// block when every path into it diverged
func (fcx *FunctionContext) reached(join *Block) *Block {
	for _, bb := range fcx.fn.Blocks {
		if !bb.Terminated() {
			continue
		}
		for _, a := range bb.Instructions[len(bb.Instructions)-1].Args {
			if a == join.bb.Label {
				return join
			}
		}
	}
	return fcx.unreachable()
}

func transIf(bcx *Block, expr *ast.Node, dest Dest) *Block {
	fcx := bcx.fcx
	n := expr.Data.(ast.IfNode)

	scope := fcx.scopes.Push("if_cond")
	bcx, c := Trans(bcx, n.Cond)
	cv := c.Immediate(bcx)
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	if bcx.Unreachable() {
		return bcx
	}

	then := fcx.newBlock("if_then")
	els := fcx.newBlock("if_else")
	join := fcx.newBlock("if_end")
	bcx.CondBr(cv, then, els)

	TransInto(then, n.Then, dest).Jmp(join)
	if n.Else != nil {
		els = TransInto(els, n.Else, dest)
	}
	els.Jmp(join)
	return fcx.reached(join)
}

// transBlock runs the statements of a block in a scope of their own; the
// locals they declare are dropped when it ends
func transBlock(bcx *Block, expr *ast.Node, dest Dest) *Block {
	fcx := bcx.fcx
	b := expr.Data.(ast.BlockNode)
	scope := fcx.scopes.Push("block")
	for _, s := range b.Stmts {
		if bcx.Unreachable() {
			bcx.warnUnreachable(s)
			break
		}
		if s.Type == ast.Let {
			bcx = transLet(bcx, s, scope)
			continue
		}
		if s.Typ != nil && s.Typ.NeedsDrop() && bcx.kindOf(s) != typeck.RvalueStmtExpr {
			util.Warn(fcx.cfg(), config.WarnUnusedResult, s.Tok, "result of %s expression is dropped right away", s.Type)
		}
		bcx = TransInto(bcx, s, Ignore{})
	}
	if b.Expr != nil {
		bcx = TransInto(bcx, b.Expr, dest)
	}
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	return bcx
}

// transLet gives a local its slot and initializes it. A local declared
// without initializer starts zeroed, which its drop glue treats as empty.
func transLet(bcx *Block, stmt *ast.Node, scope cleanup.ScopeID) *Block {
	fcx := bcx.fcx
	l := stmt.Data.(ast.LetNode)
	if l.Ty == nil {
		bugAt(stmt, "local %s has no type", l.Name)
	}
	slot := fcx.Alloca(l.Ty, l.Name)
	fcx.locals[l.Local] = slot
	if l.Init != nil {
		bcx = TransInto(bcx, l.Init, SaveIn{Addr: slot})
	} else {
		bcx.Zero(slot, l.Ty)
	}
	if !bcx.Unreachable() {
		fcx.scopes.ScheduleDrop(scope, slot, l.Ty)
	}
	return bcx
}

func transWhile(bcx *Block, expr *ast.Node) *Block {
	fcx := bcx.fcx
	n := expr.Data.(ast.WhileNode)
	cond := fcx.newBlock("while_cond")
	body := fcx.newBlock("while_body")
	next := fcx.newBlock("while_end")
	bcx.Jmp(cond)

	loop := fcx.scopes.PushLoop("while", &cleanup.LoopExits{Label: n.Label, Break: next.bb, Continue: cond.bb})
	scope := fcx.scopes.Push("while_cond")
	condEnd, c := Trans(cond, n.Cond)
	cv := c.Immediate(condEnd)
	fcx.scopes.PopAndEmit(condEnd.bb, scope)
	condEnd.CondBr(cv, body, next)

	TransInto(body, n.Body, Ignore{}).Jmp(cond)
	fcx.scopes.PopDiscard(loop)
	return fcx.reached(next)
}

func transLoop(bcx *Block, expr *ast.Node) *Block {
	fcx := bcx.fcx
	n := expr.Data.(ast.LoopNode)
	body := fcx.newBlock("loop_body")
	next := fcx.newBlock("loop_end")
	bcx.Jmp(body)

	loop := fcx.scopes.PushLoop("loop", &cleanup.LoopExits{Label: n.Label, Break: next.bb, Continue: body.bb})
	TransInto(body, n.Body, Ignore{}).Jmp(body)
	fcx.scopes.PopDiscard(loop)
	return fcx.reached(next)
}

// transBreakCont leaves every scope nested in the target loop, running
// their cleanups, and jumps to the loop's exit or head
func transBreakCont(bcx *Block, expr *ast.Node, label string, isBreak bool) *Block {
	fcx := bcx.fcx
	id, exits, ok := fcx.scopes.FindLoop(label)
	if !ok {
		bugAt(expr, "%s outside of a loop", expr.Type)
	}
	fcx.scopes.ExitTo(bcx.bb, id)
	if isBreak {
		bcx.JmpBB(exits.Break)
	} else {
		bcx.JmpBB(exits.Continue)
	}
	return fcx.unreachable()
}

// transReturn stores the result, runs every pending cleanup of the body
// and jumps to the shared return block
func transReturn(bcx *Block, retExpr *ast.Node) *Block {
	fcx := bcx.fcx
	if retExpr != nil {
		var dest Dest = Ignore{}
		if fcx.retSlot != nil {
			dest = SaveIn{Addr: fcx.retSlot}
		}
		bcx = TransInto(bcx, retExpr, dest)
	}
	fcx.scopes.ExitAll(bcx.bb)
	bcx.JmpBB(fcx.retBlock)
	return fcx.unreachable()
}

// retValue is the immediate a function returns from its return slot
func (fcx *FunctionContext) retValue(bcx *Block) ir.Value {
	if fcx.retSlot == nil || fcx.fn.ReturnType == ir.TypeNone {
		return nil
	}
	return bcx.LoadTy(fcx.retSlot, fcx.retTy)
}
