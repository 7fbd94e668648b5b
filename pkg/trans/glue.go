package trans

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/layout"
	"github.com/xplshn/trans/pkg/rt"
)

// Drop glue is one function per type, glue_drop_<hash>(addr), that
// destroys the value stored at addr. Every glue function tolerates a
// value that was moved out: null pointers and cleared drop flags are
// skipped, and pointers are cleared once released so a second run does
// nothing.

func glueKey(t *ast.Type) uint64 {
	return xxhash.Sum64String(t.String() + "#" + layout.Signature(t))
}

// dropGlue returns the symbol of the drop glue of t, queueing its body
// for generation the first time it is requested
func (ccx *CrateContext) dropGlue(t *ast.Type) string {
	k := glueKey(t)
	ccx.mu.Lock()
	defer ccx.mu.Unlock()
	if sym, ok := ccx.glue[k]; ok {
		return sym
	}
	sym := fmt.Sprintf("glue_drop_%016x", k)
	ccx.glue[k] = sym
	ccx.glueQueue = append(ccx.glueQueue, t)
	return sym
}

func (ccx *CrateContext) takeGlue() []*ast.Type {
	ccx.mu.Lock()
	defer ccx.mu.Unlock()
	out := ccx.glueQueue
	ccx.glueQueue = nil
	sort.Slice(out, func(i, j int) bool { return glueKey(out[i]) < glueKey(out[j]) })
	return out
}

// flushGlue generates every queued glue function, including the ones the
// generated bodies request in turn. Each round is emitted in symbol order.
func (ccx *CrateContext) flushGlue() {
	for pending := ccx.takeGlue(); len(pending) > 0; pending = ccx.takeGlue() {
		for _, t := range pending {
			ccx.Prog.AddFunc(ccx.transGlue(t))
		}
	}
}

// callDropGlue destroys the value of type t at addr
func (bcx *Block) callDropGlue(addr ir.Value, t *ast.Type) {
	if !t.NeedsDrop() || bcx.Unreachable() {
		return
	}
	sym := bcx.fcx.ccx.dropGlue(t)
	bcx.Call(&ir.Global{Name: sym}, ir.TypeNone, []ir.Value{addr}, []ir.Type{bcx.word()})
}

func (bcx *Block) free(ptr ir.Value) {
	bcx.callRuntime(rt.Free, ir.TypeNone, []ir.Value{ptr}, []ir.Type{bcx.word()})
}

func (ccx *CrateContext) transGlue(t *ast.Type) *ir.Func {
	sym := ccx.dropGlue(t)
	fcx := newFunctionContext(ccx, sym, nil)
	fcx.fn.Export = false
	addr := fcx.newTemp("addr")
	fcx.fn.Params = []*ir.Param{{Name: "addr", Typ: ccx.wordType(), Val: addr}}
	bcx := fcx.newBlock("body")
	bcx = dropContents(bcx, addr, t)
	bcx.Ret(nil)
	fcx.tracef("drop glue for %s", t)
	return fcx.finish()
}

// dropContents emits the destruction of the value of type t at addr
func dropContents(bcx *Block, addr ir.Value, t *ast.Type) *Block {
	fcx := bcx.fcx
	lay := fcx.lay()
	w := bcx.word()
	ws := int64(lay.WordSize)

	switch t.Kind {
	case ast.TYPE_BOX:
		p := bcx.Load(addr, w, w)
		bcx = bcx.ifNonNull(p, "drop_box", func(b *Block) *Block {
			b.callDropGlue(p, t.Base)
			b.free(p)
			return b
		})
		bcx.Store(constInt(0), addr, w)

	case ast.TYPE_MANAGED:
		p := bcx.Load(addr, w, w)
		bcx = bcx.ifNonNull(p, "drop_managed", func(b *Block) *Block {
			rc := b.Binop(ir.OpSub, w, b.Load(p, w, w), constInt(1))
			b.Store(rc, p, w)
			last := b.Cmp(ir.OpCEq, w, rc, constInt(0))
			release := fcx.newBlock("drop_managed_last")
			done := fcx.newBlock("drop_managed_live")
			b.CondBr(last, release, done)
			release.callDropGlue(release.GEP(p, lay.ManagedContentOffset(t.Base)), t.Base)
			release.free(p)
			release.Jmp(done)
			return done
		})
		bcx.Store(constInt(0), addr, w)

	case ast.TYPE_VEC, ast.TYPE_STR:
		p := bcx.Load(addr, w, w)
		bcx = bcx.ifNonNull(p, "drop_vec", func(b *Block) *Block {
			if t.Base.NeedsDrop() {
				n := b.Load(p, w, w)
				b = b.iterate(b.GEP(p, lay.VecDataOffset(t.Base)), n, lay.Stride(t.Base), func(e *Block, elem ir.Value) *Block {
					e.callDropGlue(elem, t.Base)
					return e
				})
			}
			b.free(p)
			return b
		})
		bcx.Store(constInt(0), addr, w)

	case ast.TYPE_STRUCT:
		flagOff := lay.DropFlagOffset(t)
		if flagOff < 0 {
			return dropFields(bcx, addr, t, 0)
		}
		flagAddr := bcx.GEP(addr, flagOff)
		armed := bcx.Load(flagAddr, ir.TypeUB, ir.TypeW)
		run := fcx.newBlock("drop_dtor")
		done := fcx.newBlock("drop_dtor_end")
		bcx.CondBr(armed, run, done)
		run.Store(constInt(0), flagAddr, ir.TypeB)
		fcx.ccx.Prog.AddExtern(t.Dtor)
		run.Call(&ir.Global{Name: t.Dtor}, ir.TypeNone, []ir.Value{addr}, []ir.Type{w})
		run = dropFields(run, addr, t, 0)
		run.Jmp(done)
		return done

	case ast.TYPE_TUPLE:
		return dropFields(bcx, addr, t, 0)

	case ast.TYPE_ENUM:
		discr := readDiscr(bcx, addr)
		done := fcx.newBlock("drop_enum_end")
		for _, v := range t.Variants {
			if !variantNeedsDrop(v) {
				continue
			}
			this := fcx.newBlock("drop_variant")
			next := fcx.newBlock("drop_variant_next")
			bcx.CondBr(bcx.Cmp(ir.OpCEq, w, discr, constInt(v.Disr)), this, next)
			dropFields(this, addr, t, v.Disr).Jmp(done)
			bcx = next
		}
		bcx.Jmp(done)
		return done

	case ast.TYPE_ARRAY:
		return bcx.iterate(addr, constInt(int64(t.Len)), lay.Stride(t.Base), func(e *Block, elem ir.Value) *Block {
			e.callDropGlue(elem, t.Base)
			return e
		})

	case ast.TYPE_CLOSURE:
		envSlot := bcx.GEP(addr, ws)
		env := bcx.Load(envSlot, w, w)
		bcx = bcx.ifNonNull(env, "drop_env", func(b *Block) *Block {
			dropfn := b.Load(env, w, w)
			b = b.ifNonNull(dropfn, "drop_env_glue", func(g *Block) *Block {
				g.Call(dropfn, ir.TypeNone, []ir.Value{env}, []ir.Type{w})
				return g
			})
			b.free(env)
			return b
		})
		bcx.Store(constInt(0), envSlot, w)

	case ast.TYPE_TRAIT:
		if t.Store != ast.StoreBoxed {
			return bcx
		}
		data := bcx.Load(addr, w, w)
		vtable := bcx.Load(bcx.GEP(addr, ws), w, w)
		bcx = bcx.ifNonNull(data, "drop_object", func(b *Block) *Block {
			dropfn := b.Load(vtable, w, w)
			b = b.ifNonNull(dropfn, "drop_object_glue", func(g *Block) *Block {
				g.Call(dropfn, ir.TypeNone, []ir.Value{data}, []ir.Type{w})
				return g
			})
			b.free(data)
			return b
		})
		bcx.Store(constInt(0), addr, w)

	default:
		bug("no drop glue for %s", t)
	}
	return bcx
}

func variantNeedsDrop(v ast.Variant) bool {
	for _, f := range v.Fields {
		if f.NeedsDrop() {
			return true
		}
	}
	return false
}

// dropFields drops the fields of a struct, tuple or enum variant in
// declaration order
func dropFields(bcx *Block, addr ir.Value, t *ast.Type, disr int64) *Block {
	lay := bcx.fcx.lay()
	for i, ft := range t.FieldTypes(disr) {
		bcx.callDropGlue(bcx.GEP(addr, lay.FieldOffset(t, disr, i)), ft)
	}
	return bcx
}
