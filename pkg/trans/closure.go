package trans

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
)

// A closure value is a {code, env} pair. env is null or points at a heap
// tuple whose first word is the drop glue of the tuple (or 0), followed
// by one slot per capture: the captured value itself, or its address for
// captures by reference. Code takes the result pointer if any, then env,
// then the parameters.

type closureBody struct {
	sym   string
	expr  *ast.Node
	envTy *ast.Type // nil when nothing is captured
}

func closureEnvType(caps []ast.Capture) *ast.Type {
	elems := []*ast.Type{ast.TypeUint}
	for _, c := range caps {
		if c.ByRef {
			elems = append(elems, ast.NewRptr(c.Ty, true))
		} else {
			elems = append(elems, c.Ty)
		}
	}
	return ast.NewTupleType(elems...)
}

// indirectEnvType is the environment wrapping a function pointer that is
// only known at run time
func indirectEnvType() *ast.Type { return ast.NewTupleType(ast.TypeUint, ast.TypeUint) }

func storeClosure(bcx *Block, addr, code, env ir.Value) {
	w := bcx.word()
	bcx.Store(code, addr, w)
	bcx.Store(env, bcx.GEP(addr, int64(bcx.fcx.lay().WordSize)), w)
}

func (ccx *CrateContext) queueClosure(fcx *FunctionContext, expr *ast.Node, envTy *ast.Type) string {
	fcx.closureCount++
	sym := fmt.Sprintf("%s_closure%d", fcx.name, fcx.closureCount)
	ccx.mu.Lock()
	defer ccx.mu.Unlock()
	ccx.closures = append(ccx.closures, &closureBody{sym: sym, expr: expr, envTy: envTy})
	return sym
}

// takeClosures hands out the closure bodies queued so far, by name
func (ccx *CrateContext) takeClosures() []*closureBody {
	ccx.mu.Lock()
	defer ccx.mu.Unlock()
	out := ccx.closures
	ccx.closures = nil
	sort.Slice(out, func(i, j int) bool { return out[i].sym < out[j].sym })
	return out
}

// transClosure builds the environment of a closure expression and queues
// its body for translation. Captures by value are moved into the
// environment.
func transClosure(bcx *Block, expr *ast.Node, dest Dest) *Block {
	fcx := bcx.fcx
	lay := fcx.lay()
	c := expr.Data.(ast.ClosureNode)
	ty := exprType(expr)
	save, ok := dest.(SaveIn)
	if !ok {
		scratch := fcx.Alloca(ty, "ignored_closure")
		bcx = transClosure(bcx, expr, SaveIn{Addr: scratch})
		bcx.callDropGlue(scratch, ty)
		return bcx
	}

	var env ir.Value = constInt(0)
	var envTy *ast.Type
	if len(c.Captures) > 0 {
		w := bcx.word()
		envTy = closureEnvType(c.Captures)
		env = bcx.malloc(lay.SizeOf(envTy))
		var glue ir.Value = constInt(0)
		if envTy.NeedsDrop() {
			glue = &ir.Global{Name: fcx.ccx.dropGlue(envTy)}
		}
		bcx.Store(glue, env, w)
		for i, cp := range c.Captures {
			addr, ok := bcx.localAddr(cp.Local)
			if !ok {
				bugAt(expr, "captured binding %s has no storage", cp.Name)
			}
			slot := bcx.GEP(env, lay.FieldOffset(envTy, 0, i+1))
			if cp.ByRef {
				bcx.Store(addr, slot, w)
				continue
			}
			bcx = lvalueDatum(addr, cp.Ty).StoreTo(bcx, SaveIn{Addr: slot})
		}
	}
	sym := fcx.ccx.queueClosure(fcx, expr, envTy)
	fcx.tracef("closure %s captures %d bindings", sym, len(c.Captures))
	storeClosure(bcx, save.Addr, &ir.Global{Name: sym}, env)
	return bcx
}

// bareFnThunk adapts a named function to the closure calling convention
func (ccx *CrateContext) bareFnThunk(sym string, fty *ast.Type) string {
	ccx.Prog.AddExtern(sym)
	return ccx.thunk("thunk_"+sym, fty, func(b *Block, env ir.Value) ir.Value {
		return &ir.Global{Name: sym}
	})
}

// indirectFnThunk calls the function pointer stored in an indirect
// environment
func (ccx *CrateContext) indirectFnThunk(fty *ast.Type) string {
	name := fmt.Sprintf("thunk_indirect_%016x", xxhash.Sum64String(fty.String()))
	return ccx.thunk(name, fty, func(b *Block, env ir.Value) ir.Value {
		w := b.word()
		return b.Load(b.GEP(env, int64(ccx.Layout.WordSize)), w, w)
	})
}

func (ccx *CrateContext) thunk(name string, fty *ast.Type, target func(*Block, ir.Value) ir.Value) string {
	return ccx.synthesize(name, func() *ir.Func {
		fcx := newFunctionContext(ccx, name, fty.Ret)
		fcx.fn.Export = false
		w := ccx.wordType()
		var vals []ir.Value
		var types []ir.Type
		if ccx.returnsIndirect(fty.Ret) {
			vals, types = append(vals, fcx.param("out", w)), append(types, w)
		}
		env := fcx.param("env", w)
		for i, p := range fty.Params {
			if class, ok := ccx.abiType(p); ok {
				vals, types = append(vals, fcx.param(fmt.Sprintf("a%d", i), class)), append(types, class)
			}
		}
		bcx := fcx.newBlock("body")
		res := bcx.Call(target(bcx, env), ccx.returnClass(fty.Ret), vals, types)
		bcx.Ret(res)
		return fcx.finish()
	})
}

// synthesize builds the compiler generated function name once; later
// requests return the name without building it again
func (ccx *CrateContext) synthesize(name string, build func() *ir.Func) string {
	ccx.mu.Lock()
	if _, ok := ccx.thunks[name]; ok {
		ccx.mu.Unlock()
		return name
	}
	ccx.thunks[name] = nil
	ccx.mu.Unlock()

	fn := build()

	ccx.mu.Lock()
	ccx.thunks[name] = fn
	ccx.mu.Unlock()
	return name
}

// thunkFuncs returns the generated thunks ordered by name
func (ccx *CrateContext) thunkFuncs() []*ir.Func {
	ccx.mu.Lock()
	defer ccx.mu.Unlock()
	names := make([]string, 0, len(ccx.thunks))
	for n := range ccx.thunks {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*ir.Func, 0, len(names))
	for _, n := range names {
		if f := ccx.thunks[n]; f != nil {
			out = append(out, f)
		}
	}
	return out
}
