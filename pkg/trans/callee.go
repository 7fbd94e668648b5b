package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/cleanup"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/rt"
	"github.com/xplshn/trans/pkg/typeck"
)

// Calling convention:
//
//   - a result that is not immediate is written through a hidden pointer
//     passed first
//   - closures receive their environment next
//   - immediate parameters travel in registers, the rest by pointer to a
//     caller temporary that the callee takes ownership of
//   - unit parameters are not passed at all

// abiType is the IR class a parameter of type t is passed as
func (ccx *CrateContext) abiType(t *ast.Type) (ir.Type, bool) {
	if t.IsNil() {
		return ir.TypeNone, false
	}
	if ccx.Layout.IsImmediate(t) {
		return ccx.Layout.RegType(t), true
	}
	return ccx.wordType(), true
}

// returnsIndirect reports whether a function returning t takes a hidden
// result pointer
func (ccx *CrateContext) returnsIndirect(t *ast.Type) bool {
	return t != nil && !t.IsNil() && !ccx.Layout.IsImmediate(t)
}

func (ccx *CrateContext) returnClass(t *ast.Type) ir.Type {
	if t == nil || t.IsNil() || !ccx.Layout.IsImmediate(t) {
		return ir.TypeNone
	}
	return ccx.Layout.RegType(t)
}

// invokeFn calls fn and delivers its result. With a nil dest the result
// must be immediate and is returned; otherwise it is stored in or dropped
// according to dest. handles cover argument temporaries the callee takes
// over; they are revoked once the call is made.
func invokeFn(bcx *Block, fn ir.Value, fty *ast.Type, leading []ir.Value, args []ir.Value, argTys []ir.Type,
	handles []cleanup.Handle, dest Dest, mayUnwind bool) (*Block, ir.Value) {
	fcx := bcx.fcx
	ccx := fcx.ccx
	ret := fty.Ret
	if ret == nil {
		ret = ast.TypeNil
	}
	w := bcx.word()

	var vals []ir.Value
	var types []ir.Type
	var out ir.Value
	if ccx.returnsIndirect(ret) {
		switch d := dest.(type) {
		case SaveIn:
			out = d.Addr
		case Ignore:
			out = fcx.Alloca(ret, "ignored_res")
		default:
			bug("call returning %s needs a destination", ret)
		}
		vals, types = append(vals, out), append(types, w)
	}
	for _, l := range leading {
		vals, types = append(vals, l), append(types, w)
	}
	vals, types = append(vals, args...), append(types, argTys...)

	res := bcx.Call(fn, ccx.returnClass(ret), vals, types)
	for _, h := range handles {
		fcx.scopes.Revoke(h)
	}
	if mayUnwind && !bcx.Unreachable() && fcx.cfg().IsFeatureEnabled(config.FeatUnwindChecks) {
		bcx = bcx.checkPanic()
	}
	if ret.Kind == ast.TYPE_BOT {
		// A diverging callee only returns while a panic is pending
		return fcx.unreachable(), nil
	}

	switch d := dest.(type) {
	case nil:
		if out != nil {
			bug("aggregate result of type %s without a destination", ret)
		}
		return bcx, res
	case SaveIn:
		if out == nil && res != nil {
			bcx.StoreTy(res, d.Addr, ret)
		}
	case Ignore:
		switch {
		case out != nil && ret.NeedsDrop():
			bcx.callDropGlue(out, ret)
		case res != nil:
			bcx = immDatum(res, ret).StoreTo(bcx, Ignore{})
		}
	}
	return bcx, res
}

func methodCallee(bcx *Block, m *typeck.Method) ir.Value {
	bcx.fcx.ccx.Prog.AddExtern(m.Symbol)
	return &ir.Global{Name: m.Symbol}
}

// invokeMethod calls a statically resolved method with arguments already
// lowered and returns its immediate result
func invokeMethod(bcx *Block, m *typeck.Method, args []ir.Value, types []ir.Type) (*Block, ir.Value) {
	return invokeFn(bcx, methodCallee(bcx, m), m.Fty, nil, args, types, nil, nil, !rt.NoUnwind[m.Symbol])
}

// transCallDatum translates a call whose result is immediate
func transCallDatum(bcx *Block, expr *ast.Node) (*Block, Datum) {
	var v ir.Value
	if expr.Type == ast.MethodCall {
		bcx, v = transMethodCallValue(bcx, expr, nil)
	} else {
		bcx, v = transCallValue(bcx, expr, nil)
	}
	if v == nil {
		v = constInt(0)
	}
	return bcx, immDatum(v, exprType(expr))
}

func transCall(bcx *Block, expr *ast.Node, dest Dest) *Block {
	if def, ok := variantCtor(bcx, expr); ok {
		return transVariantCall(bcx, expr, def, dest)
	}
	bcx, _ = transCallValue(bcx, expr, dest)
	return bcx
}

func transMethodCall(bcx *Block, expr *ast.Node, dest Dest) *Block {
	bcx, _ = transMethodCallValue(bcx, expr, dest)
	return bcx
}

// argList accumulates lowered arguments
type argList struct {
	vals    []ir.Value
	types   []ir.Type
	handles []cleanup.Handle
}

// evalArg lowers one argument of parameter type pt. Values that need drop
// or live in memory are built in a temporary whose drop stays scheduled
// in scope until the call has been made.
func (a *argList) evalArg(bcx *Block, scope cleanup.ScopeID, arg *ast.Node, pt *ast.Type) *Block {
	fcx := bcx.fcx
	lay := fcx.lay()
	class, passed := fcx.ccx.abiType(pt)
	if !passed {
		return TransInto(bcx, arg, Ignore{})
	}
	if lay.IsImmediate(pt) && !pt.NeedsDrop() {
		bcx, d := Trans(bcx, arg)
		a.vals = append(a.vals, d.Immediate(bcx))
		a.types = append(a.types, class)
		return bcx
	}
	slot := fcx.Alloca(pt, "arg")
	bcx = TransInto(bcx, arg, SaveIn{Addr: slot})
	if bcx.Unreachable() {
		return bcx
	}
	if h, ok := fcx.scopes.ScheduleDrop(scope, slot, pt); ok {
		a.handles = append(a.handles, h)
	}
	v := slot
	if lay.IsImmediate(pt) {
		v = bcx.LoadTy(slot, pt)
	}
	a.vals = append(a.vals, v)
	a.types = append(a.types, class)
	return bcx
}

func (a *argList) evalArgs(bcx *Block, scope cleanup.ScopeID, expr *ast.Node, args []*ast.Node, params []*ast.Type) *Block {
	if len(args) != len(params) {
		bugAt(expr, "%d arguments for %d parameters", len(args), len(params))
	}
	for i, arg := range args {
		bcx = a.evalArg(bcx, scope, arg, params[i])
	}
	return bcx
}

// transCallValue lowers a call expression. The callee is evaluated first,
// then the arguments left to right.
func transCallValue(bcx *Block, expr *ast.Node, dest Dest) (*Block, ir.Value) {
	fcx := bcx.fcx
	c := expr.Data.(ast.CallNode)
	w := bcx.word()
	scope := fcx.scopes.Push("call")
	var args argList
	var res ir.Value

	if m, ok := bcx.tables().Method(expr, 0); ok {
		// Overloaded call: the callee by reference, the arguments as a tuple
		bcx, self := TransToLvalue(bcx, c.Callee, "callee")
		tupleTy := ast.NewTupleType(argTypes(c.Args)...)
		tuple := fcx.Alloca(tupleTy, "call_args")
		fields := make([]fieldExpr, len(c.Args))
		for i, a := range c.Args {
			fields[i] = fieldExpr{idx: i, expr: a}
		}
		bcx = transAdt(bcx, tupleTy, 0, fields, nil, SaveIn{Addr: tuple})
		if h, ok := fcx.scopes.ScheduleDrop(scope, tuple, tupleTy); ok {
			args.handles = append(args.handles, h)
		}
		args.vals = []ir.Value{self.Val, tuple}
		args.types = []ir.Type{w, w}
		bcx, res = invokeFn(bcx, methodCallee(bcx, m), m.Fty, nil, args.vals, args.types, args.handles, dest, !rt.NoUnwind[m.Symbol])
		fcx.scopes.PopAndEmit(bcx.bb, scope)
		return bcx, res
	}

	fty := exprType(c.Callee)
	if def, ok := bcx.tables().Defs[c.Callee.ID]; ok && def.Kind == typeck.DefFn && len(bcx.tables().Adjustments[c.Callee.ID]) == 0 {
		fcx.ccx.Prog.AddExtern(def.Name)
		bcx = args.evalArgs(bcx, scope, expr, c.Args, fty.Params)
		mayUnwind := !def.NoUnwind && !rt.NoUnwind[def.Name]
		bcx, res = invokeFn(bcx, &ir.Global{Name: def.Name}, fty, nil, args.vals, args.types, args.handles, dest, mayUnwind)
		fcx.scopes.PopAndEmit(bcx.bb, scope)
		return bcx, res
	}

	bcx, callee := Trans(bcx, c.Callee)
	fty = callee.Ty
	var fn ir.Value
	var leading []ir.Value
	switch fty.Kind {
	case ast.TYPE_FN:
		fn = callee.Immediate(bcx)
	case ast.TYPE_CLOSURE:
		var lv Datum
		bcx, lv = callee.ToLvalue(bcx, "closure")
		fn = bcx.Load(lv.Val, w, w)
		leading = []ir.Value{bcx.Load(bcx.GEP(lv.Val, int64(fcx.lay().WordSize)), w, w)}
	default:
		bugAt(expr, "call of non-function type %s", fty)
	}
	bcx = args.evalArgs(bcx, scope, expr, c.Args, fty.Params)
	bcx, res = invokeFn(bcx, fn, fty, leading, args.vals, args.types, args.handles, dest, true)
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	return bcx, res
}

func argTypes(args []*ast.Node) []*ast.Type {
	out := make([]*ast.Type, len(args))
	for i, a := range args {
		out[i] = exprType(a)
	}
	return out
}

// transMethodCallValue lowers a method call. Object methods are fetched
// from the receiver's vtable and get its data pointer as receiver.
func transMethodCallValue(bcx *Block, expr *ast.Node, dest Dest) (*Block, ir.Value) {
	fcx := bcx.fcx
	mc := expr.Data.(ast.MethodCallNode)
	m, ok := bcx.tables().Method(expr, 0)
	if !ok {
		bugAt(expr, "unresolved method %s", mc.Method)
	}
	if len(m.Fty.Params) == 0 {
		bugAt(expr, "method %s has no receiver", m.Symbol)
	}
	w := bcx.word()
	scope := fcx.scopes.Push("method_call")
	var args argList
	var fn ir.Value
	var res ir.Value
	mayUnwind := true

	if m.Object {
		var recv Datum
		bcx, recv = Trans(bcx, mc.Receiver)
		if recv.Ty.Kind == ast.TYPE_RPTR || recv.Ty.Kind == ast.TYPE_PTR {
			recv = lvalueDatum(recv.Immediate(bcx), recv.Ty.Base)
		}
		if recv.Ty.Kind != ast.TYPE_TRAIT {
			bugAt(expr, "object method %s on %s", mc.Method, recv.Ty)
		}
		bcx, recv = recv.ToLvalue(bcx, "object")
		data := bcx.Load(recv.Val, w, w)
		vtable := bcx.Load(bcx.GEP(recv.Val, int64(fcx.lay().WordSize)), w, w)
		fn = bcx.Load(bcx.GEP(vtable, int64(vtableMethodBase+m.VtableIndex)*int64(fcx.lay().WordSize)), w, w)
		args.vals, args.types = []ir.Value{data}, []ir.Type{w}
	} else {
		bcx = args.evalArg(bcx, scope, mc.Receiver, m.Fty.Params[0])
		fn = methodCallee(bcx, m)
		mayUnwind = !rt.NoUnwind[m.Symbol]
	}
	bcx = args.evalArgs(bcx, scope, expr, mc.Args, m.Fty.Params[1:])
	bcx, res = invokeFn(bcx, fn, m.Fty, nil, args.vals, args.types, args.handles, dest, mayUnwind)
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	return bcx, res
}
