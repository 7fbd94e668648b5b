package trans

import (
	"fmt"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
)

// Mode is how an rvalue is held
type Mode int

const (
	ByValue Mode = iota // Val is the value itself
	ByRef               // Val is the address of the value
)

// Kind tells who is responsible for the value of a Datum
type Kind interface{ kind() }

// Lvalue is storage owned elsewhere; its cleanup is already scheduled
type Lvalue struct{}

// Rvalue is a value the holder of the Datum owns. A View aliases the
// storage of an lvalue and owns nothing.
type Rvalue struct {
	Mode Mode
	View bool
}

func (Lvalue) kind() {}
func (Rvalue) kind() {}

// Datum is a value together with its type and ownership
type Datum struct {
	Val  ir.Value
	Ty   *ast.Type
	Kind Kind
}

func (d Datum) String() string {
	switch k := d.Kind.(type) {
	case Lvalue:
		return fmt.Sprintf("lvalue %s: %s", d.Val, d.Ty)
	case Rvalue:
		mode := "by-value"
		if k.Mode == ByRef {
			mode = "by-ref"
		}
		if k.View {
			mode += " view"
		}
		return fmt.Sprintf("rvalue %s %s: %s", mode, d.Val, d.Ty)
	}
	return "datum?"
}

// Dest is where an expression translated in destination passing style
// leaves its value
type Dest interface{ dest() }

// SaveIn writes the value to Addr
type SaveIn struct{ Addr ir.Value }

// Ignore evaluates for side effects and drops the value
type Ignore struct{}

func (SaveIn) dest() {}
func (Ignore) dest() {}

func lvalueDatum(addr ir.Value, t *ast.Type) Datum { return Datum{Val: addr, Ty: t, Kind: Lvalue{}} }
func immDatum(v ir.Value, t *ast.Type) Datum       { return Datum{Val: v, Ty: t, Kind: Rvalue{Mode: ByValue}} }
func refDatum(addr ir.Value, t *ast.Type) Datum    { return Datum{Val: addr, Ty: t, Kind: Rvalue{Mode: ByRef}} }
func unitDatum() Datum                             { return immDatum(constInt(0), ast.TypeNil) }

func (d Datum) isLvalue() bool {
	_, ok := d.Kind.(Lvalue)
	return ok
}

// isByRef reports whether Val is an address
func (d Datum) isByRef() bool {
	switch k := d.Kind.(type) {
	case Lvalue:
		return true
	case Rvalue:
		return k.Mode == ByRef
	}
	return false
}

// ownsValue reports whether consuming d transfers a drop obligation
func (d Datum) ownsValue() bool {
	k, ok := d.Kind.(Rvalue)
	return ok && !k.View
}

// Immediate returns the scalar held by d, loading it if d is in memory
func (d Datum) Immediate(bcx *Block) ir.Value {
	if d.Ty.IsNil() {
		return constInt(0)
	}
	if !bcx.fcx.lay().IsImmediate(d.Ty) {
		bug("immediate of aggregate %s", d)
	}
	if d.isByRef() {
		return bcx.LoadTy(d.Val, d.Ty)
	}
	return d.Val
}

// ToLvalue gives d a home in memory. An owned rvalue becomes a temporary
// whose drop is scheduled in the innermost cleanup scope.
func (d Datum) ToLvalue(bcx *Block, name string) (*Block, Datum) {
	fcx := bcx.fcx
	switch k := d.Kind.(type) {
	case Lvalue:
		return bcx, d
	case Rvalue:
		if k.View {
			return bcx, lvalueDatum(d.Val, d.Ty)
		}
		if bcx.Unreachable() {
			return bcx, lvalueDatum(d.Val, d.Ty)
		}
		addr := d.Val
		if k.Mode == ByValue {
			addr = fcx.Alloca(d.Ty, name)
			bcx.StoreTy(d.Val, addr, d.Ty)
		}
		fcx.scopes.ScheduleDrop(fcx.scopes.Top(), addr, d.Ty)
		return bcx, lvalueDatum(addr, d.Ty)
	}
	bug("datum without kind: %s", d)
	return bcx, d
}

// ToRvalue produces a view of d that does not own its value. Plain
// immediates are loaded; anything that can be moved keeps its address.
func (d Datum) ToRvalue(bcx *Block) Datum {
	if !d.isLvalue() {
		return d
	}
	if (bcx.fcx.lay().IsImmediate(d.Ty) && !d.Ty.NeedsDrop()) || d.Ty.IsNil() {
		return Datum{Val: d.Immediate(bcx), Ty: d.Ty, Kind: Rvalue{Mode: ByValue, View: true}}
	}
	return Datum{Val: d.Val, Ty: d.Ty, Kind: Rvalue{Mode: ByRef, View: true}}
}

// StoreTo consumes d into dest. Storing an lvalue whose type needs drop
// moves it: the source is cleared so its own cleanup finds nothing to do.
// Ignoring an owned rvalue drops it on the spot.
func (d Datum) StoreTo(bcx *Block, dest Dest) *Block {
	if bcx.Unreachable() {
		return bcx
	}
	fcx := bcx.fcx
	switch dst := dest.(type) {
	case Ignore:
		if d.ownsValue() && d.Ty.NeedsDrop() {
			addr := d.Val
			if !d.isByRef() {
				addr = fcx.Alloca(d.Ty, "dropped")
				bcx.StoreTy(d.Val, addr, d.Ty)
			}
			bcx.callDropGlue(addr, d.Ty)
		}
		return bcx
	case SaveIn:
		if d.Ty.IsNil() {
			return bcx
		}
		d = d.ToRvalue(bcx)
		if !d.isByRef() {
			bcx.StoreTy(d.Val, dst.Addr, d.Ty)
			return bcx
		}
		bcx.CopyTy(dst.Addr, d.Val, d.Ty)
		if !d.ownsValue() && d.Ty.NeedsDrop() && fcx.cfg().IsFeatureEnabled(config.FeatMoveZeroing) {
			bcx.Zero(d.Val, d.Ty)
		}
		return bcx
	}
	bug("unknown destination %T", dest)
	return bcx
}

