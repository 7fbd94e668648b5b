package trans

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/cleanup"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/layout"
	"github.com/xplshn/trans/pkg/typeck"
)

// fieldExpr is an explicitly initialized field of an aggregate
type fieldExpr struct {
	idx  int
	expr *ast.Node
}

// structBaseInfo describes the source of the fields a struct literal does
// not name
type structBaseInfo struct {
	expr   *ast.Node
	fields []baseField
}

type baseField struct {
	idx int
	ty  *ast.Type
}

// writeDiscr stores the discriminant of an enum value at addr
func writeDiscr(bcx *Block, addr ir.Value, enum *ast.Type, disr int64) {
	if enum.Kind != ast.TYPE_ENUM {
		bug("discriminant of non-enum %s", enum)
	}
	bcx.Store(constInt(disr), addr, bcx.word())
}

// readDiscr loads the discriminant of the enum value at addr as a signed
// word
func readDiscr(bcx *Block, addr ir.Value) ir.Value {
	return bcx.Load(addr, bcx.word(), bcx.word())
}

// setDropFlag arms the destructor of a freshly built struct
func setDropFlag(bcx *Block, addr ir.Value, t *ast.Type) {
	if off := bcx.fcx.lay().DropFlagOffset(t); off >= 0 {
		bcx.Store(constInt(1), bcx.GEP(addr, off), ir.TypeB)
	}
}

// transAdt builds a struct, tuple or enum variant in dest. Each field is
// evaluated directly into its final slot; a drop of the slot is scheduled
// as soon as it is complete, so a failure in a later field drops exactly
// the fields built so far. Once every field is in place those drops are
// revoked: the aggregate owns its fields.
func transAdt(bcx *Block, ty *ast.Type, disr int64, fields []fieldExpr, base *structBaseInfo, dest Dest) *Block {
	fcx := bcx.fcx
	lay := fcx.lay()
	save, ok := dest.(SaveIn)
	if !ok {
		for _, f := range fields {
			bcx = TransInto(bcx, f.expr, Ignore{})
		}
		if base != nil {
			bcx = TransInto(bcx, base.expr, Ignore{})
		}
		return bcx
	}

	scope := fcx.scopes.Push("adt")
	if ty.Kind == ast.TYPE_ENUM {
		writeDiscr(bcx, save.Addr, ty, disr)
	}
	ftys := ty.FieldTypes(disr)
	var built []cleanup.Handle
	for _, f := range fields {
		if f.idx < 0 || f.idx >= len(ftys) {
			bugAt(f.expr, "field %d out of range for %s", f.idx, ty)
		}
		addr := bcx.GEP(save.Addr, lay.FieldOffset(ty, disr, f.idx))
		bcx = TransInto(bcx, f.expr, SaveIn{Addr: addr})
		if bcx.Unreachable() {
			break
		}
		if h, ok := fcx.scopes.ScheduleDrop(scope, addr, ftys[f.idx]); ok {
			built = append(built, h)
		}
	}

	if base != nil && !bcx.Unreachable() {
		var bd Datum
		bcx, bd = TransToLvalue(bcx, base.expr, "base")
		for _, bf := range base.fields {
			off := lay.FieldOffset(ty, disr, bf.idx)
			src := lvalueDatum(bcx.GEP(bd.Val, off), bf.ty)
			bcx = src.StoreTo(bcx, SaveIn{Addr: bcx.GEP(save.Addr, off)})
		}
	}

	if ty.Kind == ast.TYPE_STRUCT {
		setDropFlag(bcx, save.Addr, ty)
	}
	for _, h := range built {
		fcx.scopes.Revoke(h)
	}
	// Only the temporaries of the base expression are left to drop
	fcx.scopes.PopAndEmit(bcx.bb, scope)
	return bcx
}

func transStructLit(bcx *Block, expr *ast.Node, dest Dest) *Block {
	s := expr.Data.(ast.StructNode)
	ty := exprType(expr)
	if ty.Kind != ast.TYPE_STRUCT {
		bugAt(expr, "struct literal of non-struct type %s", ty)
	}
	named := make(map[int]bool)
	var fields []fieldExpr
	for _, fi := range s.Fields {
		idx := ty.FieldIndex(fi.Name)
		if idx < 0 {
			bugAt(fi.Expr, "struct %s has no field %q", ty, fi.Name)
		}
		named[idx] = true
		fields = append(fields, fieldExpr{idx: idx, expr: fi.Expr})
	}
	var base *structBaseInfo
	if s.Base != nil {
		base = &structBaseInfo{expr: s.Base}
		for i, f := range ty.Fields {
			if !named[i] {
				base.fields = append(base.fields, baseField{idx: i, ty: f.Type})
			}
		}
	} else if len(named) != len(ty.Fields) {
		bugAt(expr, "struct literal of %s leaves fields uninitialized", ty)
	}
	return transAdt(bcx, ty, 0, fields, base, dest)
}

// variantCtor reports whether a call expression constructs an enum variant
func variantCtor(bcx *Block, expr *ast.Node) (typeck.Def, bool) {
	callee := expr.Data.(ast.CallNode).Callee
	if callee.Type != ast.Path {
		return typeck.Def{}, false
	}
	def, ok := bcx.tables().Defs[callee.ID]
	return def, ok && def.Kind == typeck.DefVariant
}

func transVariantCall(bcx *Block, expr *ast.Node, def typeck.Def, dest Dest) *Block {
	args := expr.Data.(ast.CallNode).Args
	fields := make([]fieldExpr, len(args))
	for i, a := range args {
		fields[i] = fieldExpr{idx: i, expr: a}
	}
	v := def.Enum.Variants[def.Variant]
	return transAdt(bcx, def.Enum, v.Disr, fields, nil, dest)
}

// variantCtorFn returns a function that builds variant vi of enum from its
// fields, so a constructor can be used as a function value. It follows the
// ordinary calling convention and takes over fields passed by pointer.
func (ccx *CrateContext) variantCtorFn(enum *ast.Type, vi int) string {
	v := enum.Variants[vi]
	name := fmt.Sprintf("ctor_%s_%016x", v.Name, xxhash.Sum64String(layout.Signature(enum)))
	return ccx.synthesize(name, func() *ir.Func {
		fcx := newFunctionContext(ccx, name, enum)
		fcx.fn.Export = false
		lay := ccx.Layout
		var out ir.Value
		if ccx.returnsIndirect(enum) {
			out = fcx.param("out", ccx.wordType())
		}
		args := make([]ir.Value, len(v.Fields))
		for i, ft := range v.Fields {
			if class, ok := ccx.abiType(ft); ok {
				args[i] = fcx.param(fmt.Sprintf("a%d", i), class)
			}
		}

		bcx := fcx.newBlock("body")
		dst := out
		if dst == nil {
			dst = fcx.Alloca(enum, "variant")
		}
		writeDiscr(bcx, dst, enum, v.Disr)
		for i, ft := range v.Fields {
			if args[i] == nil {
				continue
			}
			addr := bcx.GEP(dst, lay.FieldOffset(enum, v.Disr, i))
			if lay.IsImmediate(ft) {
				bcx.StoreTy(args[i], addr, ft)
			} else {
				bcx.CopyTy(addr, args[i], ft)
			}
		}
		if out != nil {
			bcx.Ret(nil)
		} else {
			bcx.Ret(bcx.LoadTy(dst, enum))
		}
		return fcx.finish()
	})
}
