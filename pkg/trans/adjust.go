package trans

import (
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/typeck"
)

// applyAdjustments applies the implicit coercions recorded for expr, in
// order, to the datum of its unadjusted value
func applyAdjustments(bcx *Block, expr *ast.Node, d Datum) (*Block, Datum) {
	for _, adj := range bcx.tables().Adjustments[expr.ID] {
		if bcx.Unreachable() {
			return bcx, d
		}
		switch a := adj.(type) {
		case typeck.AddEnv:
			bcx, d = addEnv(bcx, expr, d)
		case typeck.DerefRef:
			if a.Autoderefs > 0 {
				bcx, d = autoderef(bcx, expr, d, a.Autoderefs)
			}
			if a.Autoref != nil {
				bcx, d = applyAutoref(bcx, expr, d, a.Autoref)
			}
		case typeck.ToTraitObject:
			if a.Target == nil || a.Target.Kind != ast.TYPE_TRAIT {
				bugAt(expr, "trait object adjustment without a trait object target")
			}
			bcx, d = traitObject(bcx, d, a.Target)
		default:
			bugAt(expr, "unknown adjustment %T", adj)
		}
	}
	return bcx, d
}

func applyAutoref(bcx *Block, expr *ast.Node, d Datum, ar *typeck.AutoRef) (*Block, Datum) {
	switch ar.Kind {
	case typeck.AutoPtr:
		return autoRef(bcx, d, ast.NewRptr(d.Ty, ar.Mutable))
	case typeck.AutoUnsafe:
		return autoRef(bcx, d, ast.NewPtr(d.Ty, ar.Mutable))
	case typeck.AutoBorrowVec:
		return autoSlice(bcx, expr, d)
	case typeck.AutoBorrowVecRef:
		bcx, d = autoSlice(bcx, expr, d)
		return autoRef(bcx, d, ast.NewRptr(d.Ty, ar.Mutable))
	case typeck.AutoBorrowObj:
		target := ar.Target
		if target == nil || target.Kind != ast.TYPE_TRAIT {
			bugAt(expr, "object autoref without a trait object target")
		}
		if target.Store != ast.StoreBorrowed {
			target = ast.NewTraitObject(target.Trait, ast.StoreBorrowed)
		}
		return traitObject(bcx, d, target)
	}
	bugAt(expr, "unknown autoref kind %d", ar.Kind)
	return bcx, d
}

func autoderef(bcx *Block, expr *ast.Node, d Datum, n int) (*Block, Datum) {
	for step := 1; step <= n; step++ {
		bcx, d = derefOnce(bcx, expr, d, step)
	}
	return bcx, d
}

// autoRef takes the address of d; rvalues are first given a home
func autoRef(bcx *Block, d Datum, ptrTy *ast.Type) (*Block, Datum) {
	bcx, lv := d.ToLvalue(bcx, "autoref")
	return bcx, immDatum(lv.Val, ptrTy)
}

// autoSlice borrows a sequence as a slice. The result is a fresh pair
// owning nothing, so it is a by-reference rvalue of a non-drop type.
func autoSlice(bcx *Block, expr *ast.Node, d Datum) (*Block, Datum) {
	switch d.Ty.Kind {
	case ast.TYPE_ARRAY, ast.TYPE_VEC, ast.TYPE_STR, ast.TYPE_SLICE:
	default:
		bugAt(expr, "cannot borrow %s as a slice", d.Ty)
	}
	bcx, lv := d.ToLvalue(bcx, "slice_src")
	base, length := getBaseAndLen(bcx, lv)
	sliceTy := ast.SliceOf(d.Ty)
	scratch := bcx.fcx.Alloca(sliceTy, "slice")
	storeSlice(bcx, scratch, base, length)
	return bcx, refDatum(scratch, sliceTy)
}

// addEnv turns a bare function into a closure with an empty environment
func addEnv(bcx *Block, expr *ast.Node, d Datum) (*Block, Datum) {
	if d.Ty.Kind != ast.TYPE_FN {
		bugAt(expr, "cannot add an environment to %s", d.Ty)
	}
	closTy := ast.NewClosureType(d.Ty.Params, d.Ty.Ret)
	scratch := bcx.fcx.Alloca(closTy, "env_closure")
	def, static := bcx.tables().Defs[expr.ID]
	if static && def.Kind == typeck.DefFn {
		code := &ir.Global{Name: bcx.fcx.ccx.bareFnThunk(def.Name, d.Ty)}
		storeClosure(bcx, scratch, code, constInt(0))
		return bcx, refDatum(scratch, closTy)
	}
	// An arbitrary function value travels in a heap environment
	fnp := d.Immediate(bcx)
	envTy := indirectEnvType()
	env := bcx.malloc(bcx.fcx.lay().SizeOf(envTy))
	w := bcx.word()
	bcx.Store(constInt(0), env, w)
	bcx.Store(fnp, bcx.GEP(env, int64(bcx.fcx.ccx.Cfg.WordSize)), w)
	storeClosure(bcx, scratch, &ir.Global{Name: bcx.fcx.ccx.indirectFnThunk(d.Ty)}, env)
	return bcx, refDatum(scratch, closTy)
}
