package trans

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/typeck"
)

// A vtable is [drop glue or 0][size][align][methods...] in word slots
const vtableMethodBase = 3

// vtable returns the symbol of the vtable of trait for the concrete type t
func (ccx *CrateContext) vtable(t *ast.Type, trait *ast.Trait) string {
	key := t.String() + "/" + trait.Name
	ccx.mu.Lock()
	sym, ok := ccx.vtables[key]
	ccx.mu.Unlock()
	if ok {
		return sym
	}

	methods, ok := ccx.Tables.Impls[typeck.ImplKey{Type: t.String(), Trait: trait.Name}]
	if !ok {
		bug("%s does not implement %s", t, trait.Name)
	}
	if len(methods) != len(trait.Methods) {
		bug("implementation of %s for %s has %d methods, want %d", trait.Name, t, len(methods), len(trait.Methods))
	}
	var glue ir.Value = constInt(0)
	if t.NeedsDrop() {
		glue = &ir.Global{Name: ccx.dropGlue(t)}
	}

	wt := ccx.wordType()
	sym = fmt.Sprintf("vtable_%016x", xxhash.Sum64String(key))
	data := &ir.Data{Name: sym, Align: ccx.Prog.WordSize}
	data.Items = append(data.Items,
		ir.DataItem{Typ: wt, Value: glue},
		ir.DataItem{Typ: wt, Value: constInt(ccx.Layout.SizeOf(t))},
		ir.DataItem{Typ: wt, Value: constInt(ccx.Layout.AlignOf(t))},
	)
	for _, m := range methods {
		ccx.Prog.AddExtern(m)
		data.Items = append(data.Items, ir.DataItem{Typ: wt, Value: &ir.Global{Name: m}})
	}

	ccx.mu.Lock()
	defer ccx.mu.Unlock()
	if prev, ok := ccx.vtables[key]; ok {
		return prev
	}
	ccx.vtables[key] = sym
	ccx.Prog.AddData(data)
	return sym
}

// traitObject erases the type of d behind a trait object of type target.
// A borrowed object points at d's storage; a boxed one moves d to the
// heap and owns it.
func traitObject(bcx *Block, d Datum, target *ast.Type) (*Block, Datum) {
	fcx := bcx.fcx
	if target.Kind != ast.TYPE_TRAIT {
		bug("trait object of non-trait type %s", target)
	}
	src := d.Ty
	if src.Kind == ast.TYPE_TRAIT {
		bug("%s is already a trait object", src)
	}
	vt := &ir.Global{Name: fcx.ccx.vtable(src, target.Trait)}

	var data ir.Value
	switch target.Store {
	case ast.StoreBorrowed:
		var lv Datum
		bcx, lv = d.ToLvalue(bcx, "object_data")
		data = lv.Val
	case ast.StoreBoxed:
		data = bcx.malloc(fcx.lay().SizeOf(src))
		bcx = d.StoreTo(bcx, SaveIn{Addr: data})
	default:
		bug("unknown trait store %d", target.Store)
	}

	obj := fcx.Alloca(target, "object")
	w := bcx.word()
	bcx.Store(data, obj, w)
	bcx.Store(vt, bcx.GEP(obj, int64(fcx.lay().WordSize)), w)
	fcx.tracef("%s erased to %s", src, target)
	return bcx, refDatum(obj, target)
}
