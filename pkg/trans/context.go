// Package trans lowers type checked expressions into IR.
//
// Every expression is translated in one of two styles: into a destination
// (TransInto), writing its value to a caller chosen address or discarding
// it, or into a Datum (Trans), a value together with its type and a
// description of who owns it. Temporaries that need a destructor are
// registered with the function's cleanup stack so they are dropped exactly
// once, on both the normal and the unwinding path.
package trans

import (
	"fmt"
	"sync"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/cleanup"
	"github.com/xplshn/trans/pkg/config"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/layout"
	"github.com/xplshn/trans/pkg/rt"
	"github.com/xplshn/trans/pkg/typeck"
	"github.com/xplshn/trans/pkg/util"
)

// CrateContext is shared by every function of a translation unit
type CrateContext struct {
	Prog   *ir.Program
	Cfg    *config.Config
	Tables *typeck.Tables
	Layout *layout.Layouter

	mu        sync.Mutex
	glue      map[uint64]string
	glueQueue []*ast.Type
	vtables   map[string]string
	thunks    map[string]*ir.Func
	closures  []*closureBody
}

func NewCrateContext(cfg *config.Config, tables *typeck.Tables) *CrateContext {
	return &CrateContext{
		Prog:    ir.NewProgram(cfg.WordSize),
		Cfg:     cfg,
		Tables:  tables,
		Layout:  layout.New(cfg.WordSize),
		glue:    make(map[uint64]string),
		vtables: make(map[string]string),
		thunks:  make(map[string]*ir.Func),
	}
}

func (ccx *CrateContext) wordType() ir.Type { return ccx.Prog.WordType() }

type upvarSlot struct {
	offset int64
	byRef  bool
	ty     *ast.Type
}

// FunctionContext is the state of the function body being translated
type FunctionContext struct {
	ccx  *CrateContext
	fn   *ir.Func
	name string

	entry        *ir.BasicBlock
	tempCount    int
	labelCount   int
	closureCount int
	scopes       *cleanup.Stack

	locals map[ast.NodeID]ir.Value
	upvars map[ast.NodeID]upvarSlot
	env    ir.Value

	retTy    *ast.Type
	retSlot  ir.Value
	retBlock *ir.BasicBlock
	resume   *ir.BasicBlock
}

func newFunctionContext(ccx *CrateContext, name string, retTy *ast.Type) *FunctionContext {
	fcx := &FunctionContext{
		ccx:    ccx,
		name:   name,
		fn:     &ir.Func{Name: name, Export: true},
		locals: make(map[ast.NodeID]ir.Value),
		upvars: make(map[ast.NodeID]upvarSlot),
		retTy:  retTy,
	}
	fcx.scopes = cleanup.New(fcx)
	fcx.entry = fcx.NewBlock("start")
	if retTy != nil && ccx.Layout.IsImmediate(retTy) {
		fcx.fn.ReturnType = ccx.Layout.RegType(retTy)
	}
	return fcx
}

func (fcx *FunctionContext) cfg() *config.Config   { return fcx.ccx.Cfg }
func (fcx *FunctionContext) lay() *layout.Layouter { return fcx.ccx.Layout }
func (fcx *FunctionContext) word() ir.Type         { return fcx.ccx.wordType() }

func (fcx *FunctionContext) newTemp(name string) *ir.Temporary {
	fcx.tempCount++
	if name == "" || !fcx.cfg().IsFeatureEnabled(config.FeatDebugNames) {
		return &ir.Temporary{ID: fcx.tempCount}
	}
	return &ir.Temporary{Name: fmt.Sprintf("%s.%d", name, fcx.tempCount), ID: fcx.tempCount}
}

// param appends a parameter of the given class to the function
func (fcx *FunctionContext) param(name string, class ir.Type) ir.Value {
	v := fcx.newTemp(name)
	fcx.fn.Params = append(fcx.fn.Params, &ir.Param{Name: name, Typ: class, Val: v})
	return v
}

// NewBlock appends an empty block to the function
func (fcx *FunctionContext) NewBlock(prefix string) *ir.BasicBlock {
	fcx.labelCount++
	bb := &ir.BasicBlock{Label: &ir.Label{Name: fmt.Sprintf("%s.%d", prefix, fcx.labelCount)}}
	fcx.fn.Blocks = append(fcx.fn.Blocks, bb)
	return bb
}

func (fcx *FunctionContext) newBlock(prefix string) *Block {
	return &Block{fcx: fcx, bb: fcx.NewBlock(prefix)}
}

func (fcx *FunctionContext) block(bb *ir.BasicBlock) *Block { return &Block{fcx: fcx, bb: bb} }

// unreachable is the block code following a diverging expression lands in
func (fcx *FunctionContext) unreachable() *Block { return &Block{fcx: fcx} }

// Alloca reserves a stack slot for a value of type t in the entry block
func (fcx *FunctionContext) Alloca(t *ast.Type, name string) ir.Value {
	size := max(fcx.lay().SizeOf(t), 1)
	align := fcx.lay().AlignOf(t)
	switch {
	case align <= 4:
		align = 4
	case align <= 8:
		align = 8
	default:
		align = 16
	}
	res := fcx.newTemp(name)
	fcx.entry.Instructions = append(fcx.entry.Instructions, &ir.Instruction{
		Op:     ir.OpAlloc,
		Typ:    fcx.word(),
		Result: res,
		Args:   []ir.Value{&ir.Const{Value: size}},
		Align:  int(align),
	})
	return res
}

// EmitDrop calls the drop glue of t on the value at addr
func (fcx *FunctionContext) EmitDrop(b *ir.BasicBlock, addr ir.Value, t *ast.Type) {
	fcx.block(b).callDropGlue(addr, t)
}

// EmitFree releases a heap allocation without dropping its contents
func (fcx *FunctionContext) EmitFree(b *ir.BasicBlock, ptr ir.Value, heap ast.Heap) {
	fcx.block(b).callRuntime(rt.Free, ir.TypeNone, []ir.Value{ptr}, []ir.Type{fcx.word()})
}

func (fcx *FunctionContext) EmitJmp(b *ir.BasicBlock, target *ir.BasicBlock) {
	fcx.block(b).JmpBB(target)
}

// Resume is where unwinding leaves the function once every cleanup ran.
// The panic stays pending for the caller to observe.
func (fcx *FunctionContext) Resume() *ir.BasicBlock {
	if fcx.resume != nil {
		return fcx.resume
	}
	fcx.resume = fcx.NewBlock("resume")
	b := fcx.block(fcx.resume)
	switch rt := fcx.fn.ReturnType; {
	case rt == ir.TypeNone:
		b.Ret(nil)
	case rt.IsFloat():
		b.Ret(&ir.FloatConst{Value: 0, Typ: rt})
	default:
		b.Ret(&ir.Const{Value: 0})
	}
	return fcx.resume
}

// landingPad is the block a failure at the current point unwinds to
func (fcx *FunctionContext) landingPad() *ir.BasicBlock { return fcx.scopes.LandingPad() }

// localAddr returns the storage of a local, argument or captured binding
func (bcx *Block) localAddr(id ast.NodeID) (ir.Value, bool) {
	fcx := bcx.fcx
	if v, ok := fcx.locals[id]; ok {
		return v, true
	}
	if up, ok := fcx.upvars[id]; ok {
		slot := bcx.GEP(fcx.env, up.offset)
		if up.byRef {
			return bcx.Load(slot, fcx.word(), fcx.word()), true
		}
		return slot, true
	}
	return nil, false
}

// finish terminates the entry block and any block left open
func (fcx *FunctionContext) finish() *ir.Func {
	blocks := fcx.fn.Blocks
	if len(blocks) > 1 {
		fcx.block(fcx.entry).JmpBB(blocks[1])
	} else {
		fcx.block(fcx.entry).Ret(nil)
	}
	for _, bb := range blocks {
		if bb.Terminated() {
			continue
		}
		b := fcx.block(bb)
		switch rt := fcx.fn.ReturnType; {
		case rt == ir.TypeNone:
			b.Ret(nil)
		case rt.IsFloat():
			b.Ret(&ir.FloatConst{Value: 0, Typ: rt})
		default:
			b.Ret(&ir.Const{Value: 0})
		}
	}
	return fcx.fn
}

func (fcx *FunctionContext) tracef(format string, args ...interface{}) {
	util.Tracef(fcx.cfg(), "%s: "+format, append([]interface{}{fcx.name}, args...)...)
}
