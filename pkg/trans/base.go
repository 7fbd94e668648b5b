package trans

import (
	"fmt"
	"sync"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/cleanup"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/typeck"
	"github.com/xplshn/trans/pkg/util"
)

// bodyInfo describes a function body to translate
type bodyInfo struct {
	name   string
	self   *ast.Param
	params []ast.Param
	ret    *ast.Type
	body   *ast.Node
	export bool
	env    *closureBody
}

// TranslateFunction lowers one function declaration. An internal error
// aborts the whole body and is returned.
func TranslateFunction(ccx *CrateContext, decl *ast.FnDecl) (fn *ir.Func, err error) {
	return ccx.translateBody(bodyInfo{
		name:   decl.Name,
		self:   decl.Self,
		params: decl.Params,
		ret:    decl.Ret,
		body:   decl.Body,
		export: true,
	})
}

func (ccx *CrateContext) translateClosure(cb *closureBody) (*ir.Func, error) {
	c := cb.expr.Data.(ast.ClosureNode)
	return ccx.translateBody(bodyInfo{
		name:   cb.sym,
		params: c.Params,
		ret:    exprType(cb.expr).Ret,
		body:   c.Body,
		env:    cb,
	})
}

func (ccx *CrateContext) translateBody(info bodyInfo) (fn *ir.Func, err error) {
	defer util.CatchICE(&err)
	if info.ret == nil {
		info.ret = ast.TypeNil
	}
	fcx := newFunctionContext(ccx, info.name, info.ret)
	fcx.fn.Export = info.export
	bcx := fcx.newBlock("body")
	w := ccx.wordType()

	if ccx.returnsIndirect(info.ret) {
		out := fcx.newTemp("ret")
		fcx.fn.Params = append(fcx.fn.Params, &ir.Param{Name: "ret", Typ: w, Val: out})
		fcx.retSlot = out
	} else if fcx.fn.ReturnType != ir.TypeNone {
		fcx.retSlot = fcx.Alloca(info.ret, "ret")
	}

	if info.env != nil {
		env := fcx.newTemp("env")
		fcx.fn.Params = append(fcx.fn.Params, &ir.Param{Name: "env", Typ: w, Val: env})
		fcx.env = env
		if envTy := info.env.envTy; envTy != nil {
			caps := info.env.expr.Data.(ast.ClosureNode).Captures
			for i, cp := range caps {
				fcx.upvars[cp.Local] = upvarSlot{
					offset: ccx.Layout.FieldOffset(envTy, 0, i+1),
					byRef:  cp.ByRef,
					ty:     cp.Ty,
				}
			}
		}
	}

	// Arguments belong to the callee: they are dropped when the body ends
	args := fcx.scopes.Push("args")
	if info.self != nil {
		bindParam(bcx, args, *info.self)
	}
	for _, p := range info.params {
		bindParam(bcx, args, p)
	}

	fcx.retBlock = fcx.NewBlock("ret")
	var dest Dest = Ignore{}
	if fcx.retSlot != nil {
		dest = SaveIn{Addr: fcx.retSlot}
	}
	bcx = TransInto(bcx, info.body, dest)
	fcx.scopes.PopAndEmit(bcx.bb, args)
	bcx.JmpBB(fcx.retBlock)
	if fcx.scopes.Depth() != 0 {
		bug("%s: %d cleanup scopes left open", info.name, fcx.scopes.Depth())
	}

	ret := fcx.block(fcx.retBlock)
	ret.Ret(fcx.retValue(ret))
	fcx.tracef("translated with %d blocks", len(fcx.fn.Blocks))
	return fcx.finish(), nil
}

// bindParam gives a parameter its storage. Immediates are spilled to a
// slot; aggregates arrive by pointer to a temporary the callee owns.
func bindParam(bcx *Block, args cleanup.ScopeID, p ast.Param) {
	fcx := bcx.fcx
	if p.Ty == nil {
		bug("parameter %s has no type", p.Name)
	}
	class, passed := fcx.ccx.abiType(p.Ty)
	if !passed {
		fcx.locals[p.Local] = fcx.Alloca(p.Ty, p.Name)
		return
	}
	v := fcx.newTemp(p.Name)
	fcx.fn.Params = append(fcx.fn.Params, &ir.Param{Name: p.Name, Typ: class, Val: v})
	slot := ir.Value(v)
	if fcx.lay().IsImmediate(p.Ty) {
		slot = fcx.Alloca(p.Ty, p.Name)
		bcx.StoreTy(v, slot, p.Ty)
	}
	fcx.locals[p.Local] = slot
	fcx.scopes.ScheduleDrop(args, slot, p.Ty)
}

// TranslateProgram lowers a whole crate: statics, every function, then the
// closure bodies, thunks and drop glue they require. Function bodies are
// translated concurrently when the parallel feature is on; the result
// keeps declaration order either way.
func TranslateProgram(cfg *config.Config, tables *typeck.Tables, crate *ast.Crate) (*ir.Program, error) {
	ccx := NewCrateContext(cfg, tables)
	for _, s := range crate.Statics {
		ccx.Prog.AddData(ccx.staticData(s))
	}

	fns := make([]*ir.Func, len(crate.Fns))
	errs := make([]error, len(crate.Fns))
	if cfg.IsFeatureEnabled(config.FeatParallel) {
		var wg sync.WaitGroup
		for i, decl := range crate.Fns {
			wg.Add(1)
			go func(i int, decl *ast.FnDecl) {
				defer wg.Done()
				fns[i], errs[i] = TranslateFunction(ccx, decl)
			}(i, decl)
		}
		wg.Wait()
	} else {
		for i, decl := range crate.Fns {
			fns[i], errs[i] = TranslateFunction(ccx, decl)
		}
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("translating %s: %w", crate.Fns[i].Name, err)
		}
	}
	for _, fn := range fns {
		ccx.Prog.AddFunc(fn)
	}

	for pending := ccx.takeClosures(); len(pending) > 0; pending = ccx.takeClosures() {
		for _, cb := range pending {
			fn, err := ccx.translateClosure(cb)
			if err != nil {
				return nil, fmt.Errorf("translating %s: %w", cb.sym, err)
			}
			ccx.Prog.AddFunc(fn)
		}
	}
	for _, fn := range ccx.thunkFuncs() {
		ccx.Prog.AddFunc(fn)
	}
	ccx.flushGlue()
	ccx.Prog.SortData(len(crate.Statics))
	return ccx.Prog, nil
}

// staticData lays out a static: its initializer words, zero filled to the
// size of its type
func (ccx *CrateContext) staticData(s *ast.StaticDecl) *ir.Data {
	size := ccx.Layout.SizeOf(s.Ty)
	ws := int64(ccx.Prog.WordSize)
	d := &ir.Data{Name: s.Name, Align: int(max(ccx.Layout.AlignOf(s.Ty), ws))}
	var filled int64
	for _, v := range s.Init {
		rest := size - filled
		if rest <= 0 {
			break
		}
		typ, n := ccx.wordType(), ws
		switch {
		case rest >= ws:
		case rest >= 4:
			typ, n = ir.TypeW, 4
		case rest >= 2:
			typ, n = ir.TypeH, 2
		default:
			typ, n = ir.TypeB, 1
		}
		d.Items = append(d.Items, ir.DataItem{Typ: typ, Value: &ir.Const{Value: v}})
		filled += n
	}
	if rest := size - filled; rest > 0 {
		d.Items = append(d.Items, ir.DataItem{Count: int(rest)})
	}
	return d
}
