// Package cleanup keeps the stack of cleanup scopes of one function body.
//
// A scope accumulates drop and free obligations. Leaving it normally emits
// them in reverse order into the current block; leaving it through a
// break, continue or return emits every scope between the exit point and
// the target; unwinding jumps to a landing pad that runs the obligations
// registered so far and chains to the landing pad of the enclosing scope.
package cleanup

import (
	"fmt"
	"strings"

	"github.com/xplshn/trans/pkg/ast"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/token"
	"github.com/xplshn/trans/pkg/util"
)

// ScopeID is the handle returned by Push
type ScopeID int

// Emitter writes the code of cleanups into blocks of the current function
type Emitter interface {
	NewBlock(prefix string) *ir.BasicBlock
	EmitDrop(b *ir.BasicBlock, addr ir.Value, t *ast.Type)
	EmitFree(b *ir.BasicBlock, ptr ir.Value, heap ast.Heap)
	EmitJmp(b *ir.BasicBlock, target *ir.BasicBlock)
	Resume() *ir.BasicBlock
}

// Cleanup is one obligation registered in a scope
type Cleanup interface {
	Emit(em Emitter, b *ir.BasicBlock)
	String() string
}

// Drop runs the destructor of the value stored at Addr
type Drop struct {
	Addr ir.Value
	Ty   *ast.Type
}

// ShallowFree releases a heap allocation without touching its contents
type ShallowFree struct {
	Ptr     ir.Value
	Heap    ast.Heap
	Content *ast.Type
}

func (d Drop) Emit(em Emitter, b *ir.BasicBlock) { em.EmitDrop(b, d.Addr, d.Ty) }
func (d Drop) String() string                    { return fmt.Sprintf("drop %s: %s", d.Addr, d.Ty) }

func (f ShallowFree) Emit(em Emitter, b *ir.BasicBlock) { em.EmitFree(b, f.Ptr, f.Heap) }
func (f ShallowFree) String() string {
	return fmt.Sprintf("free %s box %s of %s", f.Heap, f.Ptr, f.Content)
}

// Handle designates a scheduled cleanup so it can be revoked
type Handle struct {
	scope ScopeID
	entry *entry
}

type entry struct {
	c       Cleanup
	revoked bool
}

// LoopExits are the jump targets of a loop scope
type LoopExits struct {
	Label    string
	Break    *ir.BasicBlock
	Continue *ir.BasicBlock
}

type scope struct {
	name    string
	loop    *LoopExits
	entries []*entry
	pad     *ir.BasicBlock
}

func (s *scope) live() []*entry {
	var out []*entry
	for _, e := range s.entries {
		if !e.revoked {
			out = append(out, e)
		}
	}
	return out
}

type Stack struct {
	em     Emitter
	scopes []*scope
}

func New(em Emitter) *Stack { return &Stack{em: em} }

func (s *Stack) Depth() int { return len(s.scopes) }

func (s *Stack) Push(name string) ScopeID {
	s.scopes = append(s.scopes, &scope{name: name})
	return ScopeID(len(s.scopes) - 1)
}

// PushLoop opens a scope that break and continue can target
func (s *Stack) PushLoop(name string, exits *LoopExits) ScopeID {
	id := s.Push(name)
	s.scopes[id].loop = exits
	return id
}

// Top is the innermost open scope
func (s *Stack) Top() ScopeID {
	if len(s.scopes) == 0 {
		util.Bug(token.Token{FileIndex: -1}, "cleanup: no open scope")
	}
	return ScopeID(len(s.scopes) - 1)
}

func (s *Stack) get(id ScopeID) *scope {
	if int(id) < 0 || int(id) >= len(s.scopes) {
		util.Bug(token.Token{FileIndex: -1}, "cleanup: scope %d is not open (depth %d)", id, len(s.scopes))
	}
	return s.scopes[id]
}

func (s *Stack) invalidate(from ScopeID) {
	for i := int(from); i < len(s.scopes); i++ {
		s.scopes[i].pad = nil
	}
}

// Schedule registers a cleanup in scope id
func (s *Stack) Schedule(id ScopeID, c Cleanup) Handle {
	sc := s.get(id)
	if sc.loop != nil {
		util.Bug(token.Token{FileIndex: -1}, "cleanup: %s scheduled in loop scope %s", c, sc.name)
	}
	e := &entry{c: c}
	sc.entries = append(sc.entries, e)
	s.invalidate(id)
	return Handle{scope: id, entry: e}
}

// ScheduleDrop registers a drop of the value at addr; types without drop
// glue register nothing
func (s *Stack) ScheduleDrop(id ScopeID, addr ir.Value, t *ast.Type) (Handle, bool) {
	if !t.NeedsDrop() {
		return Handle{}, false
	}
	return s.Schedule(id, Drop{Addr: addr, Ty: t}), true
}

func (s *Stack) ScheduleShallowFree(id ScopeID, ptr ir.Value, heap ast.Heap, content *ast.Type) Handle {
	return s.Schedule(id, ShallowFree{Ptr: ptr, Heap: heap, Content: content})
}

// Revoke cancels a scheduled cleanup. Landing pads already emitted keep it,
// they belong to program points where it was still pending.
func (s *Stack) Revoke(h Handle) {
	if h.entry == nil || h.entry.revoked {
		return
	}
	h.entry.revoked = true
	if int(h.scope) < len(s.scopes) {
		s.invalidate(h.scope)
	}
}

func (s *Stack) pop(id ScopeID) *scope {
	if id != s.Top() {
		util.Bug(token.Token{FileIndex: -1}, "cleanup: popping scope %d out of order (top is %d)", id, s.Top())
	}
	sc := s.scopes[id]
	s.scopes = s.scopes[:id]
	return sc
}

func (s *Stack) emitScope(sc *scope, b *ir.BasicBlock) {
	if b == nil || b.Terminated() {
		return
	}
	live := sc.live()
	for i := len(live) - 1; i >= 0; i-- {
		live[i].c.Emit(s.em, b)
	}
}

// PopAndEmit closes scope id, emitting its cleanups into b
func (s *Stack) PopAndEmit(b *ir.BasicBlock, id ScopeID) {
	s.emitScope(s.pop(id), b)
}

// PopDiscard closes scope id without running its cleanups on the normal
// path; its landing pads keep running them on unwind
func (s *Stack) PopDiscard(id ScopeID) {
	s.pop(id)
}

// PopInto closes scope id and hands its pending cleanups to the enclosing
// scope, extending the lifetime of its temporaries
func (s *Stack) PopInto(id ScopeID) {
	sc := s.pop(id)
	live := sc.live()
	if len(live) == 0 {
		return
	}
	if len(s.scopes) == 0 {
		util.Bug(token.Token{FileIndex: -1}, "cleanup: scope %s has no parent to inherit its cleanups", sc.name)
	}
	parent := s.Top()
	for s.scopes[parent].loop != nil {
		parent--
		if parent < 0 {
			util.Bug(token.Token{FileIndex: -1}, "cleanup: only loop scopes enclose %s", sc.name)
		}
	}
	for _, e := range live {
		s.scopes[parent].entries = append(s.scopes[parent].entries, e)
	}
	s.invalidate(parent)
}

// ExitTo emits the cleanups of every scope nested inside target, innermost
// first, without closing them
func (s *Stack) ExitTo(b *ir.BasicBlock, target ScopeID) {
	for i := len(s.scopes) - 1; i > int(target); i-- {
		s.emitScope(s.scopes[i], b)
	}
}

// ExitAll emits the cleanups of every open scope, innermost first
func (s *Stack) ExitAll(b *ir.BasicBlock) { s.ExitTo(b, -1) }

// FindLoop finds the innermost loop scope, or the one with the given label
func (s *Stack) FindLoop(label string) (ScopeID, *LoopExits, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if l := s.scopes[i].loop; l != nil && (label == "" || l.Label == label) {
			return ScopeID(i), l, true
		}
	}
	return -1, nil, false
}

// LandingPad returns the block that unwinding from the current program
// point jumps to
func (s *Stack) LandingPad() *ir.BasicBlock {
	return s.padFor(len(s.scopes) - 1)
}

func (s *Stack) padFor(i int) *ir.BasicBlock {
	for ; i >= 0; i-- {
		if len(s.scopes[i].live()) > 0 {
			break
		}
	}
	if i < 0 {
		return s.em.Resume()
	}
	sc := s.scopes[i]
	if sc.pad != nil {
		return sc.pad
	}
	parent := s.padFor(i - 1)
	pad := s.em.NewBlock("unwind")
	s.emitScope(sc, pad)
	s.em.EmitJmp(pad, parent)
	sc.pad = pad
	return pad
}

// Dump lists the open scopes and their pending cleanups, for tracing
func (s *Stack) Dump() string {
	var sb strings.Builder
	for i, sc := range s.scopes {
		fmt.Fprintf(&sb, "[%d] %s", i, sc.name)
		if sc.loop != nil {
			sb.WriteString(" (loop)")
		}
		for _, e := range sc.live() {
			fmt.Fprintf(&sb, "; %s", e.c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
