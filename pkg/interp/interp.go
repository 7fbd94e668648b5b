// Package interp executes IR programs directly.
//
// Memory is byte addressed and split into regions: static data, a stack
// released on return, and a heap managed by the runtime allocator. Every
// function, defined or external, also gets an address so it can be stored
// in vtables and closures and called indirectly.
package interp

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/google/btree"
	"github.com/xplshn/trans/pkg/ir"
	"github.com/xplshn/trans/pkg/util"
)

const (
	dataBase  uint64 = 0x0000_1000
	stackBase uint64 = 0x1000_0000
	heapBase  uint64 = 0x2000_0000
	funcBase  uint64 = 0x7000_0000
	funcAlign uint64 = 16

	maxStack = 1 << 24
	maxDepth = 4096
)

// Extern implements a symbol the program calls but does not define
type Extern func(m *Machine, args []uint64) uint64

// Fault is a run time error of the interpreted program that the IR itself
// cannot express: a bad address, a double free, an undefined symbol
type Fault struct {
	Func string
	Msg  string
}

func (f *Fault) Error() string {
	if f.Func == "" {
		return "interp: " + f.Msg
	}
	return fmt.Sprintf("interp: in %s: %s", f.Func, f.Msg)
}

// Stats counts heap activity
type Stats struct {
	Allocs int
	Frees  int
	Live   int
	InUse  int64
	Peak   int64
}

func (s Stats) String() string {
	return fmt.Sprintf("%s allocations, %s frees, %d live, peak %s",
		humanize.Comma(int64(s.Allocs)), humanize.Comma(int64(s.Frees)), s.Live, humanize.Bytes(uint64(s.Peak)))
}

type Machine struct {
	// Externs resolve calls to symbols the program does not define. They
	// take precedence over the built in runtime.
	Externs map[string]Extern
	// MaxSteps bounds the number of instructions a Call may execute; 0
	// means unlimited
	MaxSteps int
	// Trace receives one line per call when set
	Trace io.Writer

	prog  *ir.Program
	ws    int
	funcs map[string]*function

	data  []byte
	stack []byte
	heap  []byte

	syms     map[string]uint64
	fnByAddr map[uint64]string
	nextFn   uint64

	live  *btree.BTreeG[heapBlock]
	stats Stats

	panicking bool
	panicMsg  string

	steps int
	depth int
}

// New lays out the static data of prog and prepares it for execution
func New(prog *ir.Program) (*Machine, error) {
	m := &Machine{
		Externs:  make(map[string]Extern),
		MaxSteps: 50_000_000,
		prog:     prog,
		ws:       prog.WordSize,
		funcs:    make(map[string]*function),
		syms:     make(map[string]uint64),
		fnByAddr: make(map[uint64]string),
		nextFn:   funcBase,
		live:     btree.NewG(8, func(a, b heapBlock) bool { return a.addr < b.addr }),
	}
	if m.ws != 4 && m.ws != 8 {
		return nil, &Fault{Msg: fmt.Sprintf("unsupported word size %d", m.ws)}
	}
	for _, f := range prog.Funcs {
		if _, dup := m.funcs[f.Name]; dup {
			return nil, &Fault{Msg: "duplicate function " + f.Name}
		}
		m.funcs[f.Name] = compile(f)
		m.funcAddr(f.Name)
	}
	if err := m.layoutData(); err != nil {
		return nil, err
	}
	return m, nil
}

// layoutData places strings then globals, and fills their initializers
// once every address is known
func (m *Machine) layoutData() (err error) {
	defer m.catch(&err, "")
	off := uint64(0)
	for _, s := range m.prog.StringOrder {
		m.syms[m.prog.Strings[s]] = dataBase + off
		off += uint64(len(s)) + 1
	}
	for _, d := range m.prog.Globals {
		if _, dup := m.syms[d.Name]; dup {
			return &Fault{Msg: "duplicate symbol " + d.Name}
		}
		off = uint64(util.AlignUp(int64(off), int64(max(d.Align, 1))))
		m.syms[d.Name] = dataBase + off
		for _, it := range d.Items {
			off += uint64(m.itemSize(it))
		}
	}
	m.data = make([]byte, off)

	for _, s := range m.prog.StringOrder {
		copy(m.data[m.syms[m.prog.Strings[s]]-dataBase:], s)
	}
	for _, d := range m.prog.Globals {
		addr := m.syms[d.Name]
		for _, it := range d.Items {
			if it.Count == 0 {
				m.store(addr, it.Typ, m.constValue(it.Value, it.Typ))
			}
			addr += uint64(m.itemSize(it))
		}
	}
	return nil
}

func (m *Machine) itemSize(it ir.DataItem) int64 {
	if it.Count > 0 {
		return int64(it.Count)
	}
	return ir.SizeOfType(it.Typ, m.ws)
}

func (m *Machine) constValue(v ir.Value, t ir.Type) uint64 {
	switch v := v.(type) {
	case *ir.Const:
		return m.mask(t, uint64(v.Value))
	case *ir.FloatConst:
		return floatBits(v.Value, t)
	case *ir.Global:
		return m.addrOf(v.Name)
	}
	m.fault("", "unsupported initializer %v", v)
	return 0
}

// funcAddr returns the address standing for a function symbol
func (m *Machine) funcAddr(name string) uint64 {
	if a, ok := m.syms[name]; ok {
		return a
	}
	a := m.nextFn
	m.nextFn += funcAlign
	m.syms[name] = a
	m.fnByAddr[a] = name
	return a
}

// addrOf resolves a symbol; names not defined as data are functions
func (m *Machine) addrOf(name string) uint64 {
	if a, ok := m.syms[name]; ok {
		return a
	}
	return m.funcAddr(name)
}

// Addr returns the address of a symbol of the program
func (m *Machine) Addr(name string) (uint64, bool) {
	a, ok := m.syms[name]
	return a, ok
}

// Call runs the function name with the given register arguments. A fault
// aborts the run and is returned; a panic the program leaves pending is
// reported by Panicking instead.
func (m *Machine) Call(name string, args ...uint64) (res uint64, err error) {
	defer m.catch(&err, name)
	m.steps = 0
	m.depth = 0
	return m.call(name, args), nil
}

func (m *Machine) catch(err *error, fn string) {
	r := recover()
	if r == nil {
		return
	}
	if f, ok := r.(*Fault); ok {
		if f.Func == "" {
			f.Func = fn
		}
		*err = f
		return
	}
	panic(r)
}

func (m *Machine) fault(fn, format string, args ...interface{}) {
	panic(&Fault{Func: fn, Msg: fmt.Sprintf(format, args...)})
}

func (m *Machine) call(name string, args []uint64) uint64 {
	if m.Trace != nil {
		fmt.Fprintf(m.Trace, "%*scall %s%v\n", 2*m.depth, "", name, args)
	}
	if f, ok := m.funcs[name]; ok {
		m.depth++
		if m.depth > maxDepth {
			m.fault(name, "call depth exceeds %d", maxDepth)
		}
		defer func() { m.depth-- }()
		return m.exec(f, args)
	}
	if ext, ok := m.Externs[name]; ok {
		return ext(m, args)
	}
	if b, ok := builtins[name]; ok {
		return b(m, args)
	}
	m.fault("", "call of undefined symbol %s", name)
	return 0
}

// Raise leaves a panic pending, the way the failing runtime routines do
func (m *Machine) Raise(msg string) {
	if m.panicking {
		m.fault("", "panic while panicking: %s (pending: %s)", msg, m.panicMsg)
	}
	m.panicking, m.panicMsg = true, msg
}

// Panicking returns the message of the pending panic, if any
func (m *Machine) Panicking() (string, bool) { return m.panicMsg, m.panicking }

// Recover clears the pending panic
func (m *Machine) Recover() { m.panicking, m.panicMsg = false, "" }

func (m *Machine) Stats() Stats {
	s := m.stats
	s.Live = m.live.Len()
	return s
}

// LiveBlocks lists the heap allocations not freed yet
func (m *Machine) LiveBlocks() []uint64 {
	out := make([]uint64, 0, m.live.Len())
	m.live.Ascend(func(b heapBlock) bool {
		out = append(out, b.addr)
		return true
	})
	return out
}

// heapBlock is one live allocation, ordered by address
type heapBlock struct {
	addr uint64
	size int64
}

// owner finds the live allocation containing addr
func (m *Machine) owner(addr uint64) (heapBlock, bool) {
	var found heapBlock
	var ok bool
	m.live.DescendLessOrEqual(heapBlock{addr: addr}, func(b heapBlock) bool {
		found, ok = b, addr < b.addr+uint64(max(b.size, 1))
		return false
	})
	return found, ok
}

// Malloc allocates heap memory the program may later free
func (m *Machine) Malloc(size int64) uint64 {
	if size < 0 {
		m.fault("", "negative allocation size %d", size)
	}
	start := util.AlignUp(int64(len(m.heap)), 16)
	end := start + max(size, 1)
	if end > int64(cap(m.heap)) {
		grown := make([]byte, end, max(2*int64(cap(m.heap)), end, 4096))
		copy(grown, m.heap)
		m.heap = grown
	} else {
		m.heap = m.heap[:end]
	}
	clear(m.heap[start:end])
	addr := heapBase + uint64(start)
	m.live.ReplaceOrInsert(heapBlock{addr: addr, size: size})
	m.stats.Allocs++
	m.stats.InUse += size
	m.stats.Peak = max(m.stats.Peak, m.stats.InUse)
	return addr
}

// Free releases a heap allocation. Freed memory is poisoned so reads of
// it stand out.
func (m *Machine) Free(addr uint64) {
	if addr == 0 {
		return
	}
	blk, ok := m.live.Delete(heapBlock{addr: addr})
	if !ok {
		if in, inside := m.owner(addr); inside {
			m.fault("", "free of %#x, which is not a live allocation (it points %d bytes into %#x)", addr, addr-in.addr, in.addr)
		}
		m.fault("", "free of %#x, which is not a live allocation", addr)
	}
	size := blk.size
	b := m.bytes(addr, max(size, 1))
	for i := range b {
		b[i] = 0xdb
	}
	m.stats.Frees++
	m.stats.InUse -= size
}

// bytes returns the memory backing [addr, addr+n)
func (m *Machine) bytes(addr uint64, n int64) []byte {
	var region []byte
	var base uint64
	switch {
	case addr >= funcBase:
		m.fault("", "access to code address %#x", addr)
	case addr >= heapBase:
		region, base = m.heap, heapBase
	case addr >= stackBase:
		region, base = m.stack, stackBase
	case addr >= dataBase:
		region, base = m.data, dataBase
	default:
		m.fault("", "access to invalid address %#x", addr)
	}
	off := addr - base
	if n < 0 || off+uint64(n) > uint64(len(region)) {
		m.fault("", "access of %d bytes at %#x is out of bounds", n, addr)
	}
	return region[off : off+uint64(n)]
}

// Bytes copies n bytes of memory at addr
func (m *Machine) Bytes(addr uint64, n int64) (out []byte, err error) {
	defer m.catch(&err, "")
	return append([]byte(nil), m.bytes(addr, n)...), nil
}

// Load reads a value of memory type t
func (m *Machine) Load(addr uint64, t ir.Type) (v uint64, err error) {
	defer m.catch(&err, "")
	return m.load(addr, t), nil
}

// Store writes a value of memory type t
func (m *Machine) Store(addr uint64, t ir.Type, v uint64) (err error) {
	defer m.catch(&err, "")
	m.store(addr, t, v)
	return nil
}

func (m *Machine) load(addr uint64, t ir.Type) uint64 {
	b := m.bytes(addr, ir.SizeOfType(t, m.ws))
	switch len(b) {
	case 1:
		if t == ir.TypeSB {
			return uint64(int64(int8(b[0])))
		}
		return uint64(b[0])
	case 2:
		v := binary.LittleEndian.Uint16(b)
		if t == ir.TypeSH {
			return uint64(int64(int16(v)))
		}
		return uint64(v)
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func (m *Machine) store(addr uint64, t ir.Type, v uint64) {
	b := m.bytes(addr, ir.SizeOfType(t, m.ws))
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

// wordType is the register class of addresses
func (m *Machine) wordType() ir.Type {
	if m.ws == 4 {
		return ir.TypeW
	}
	return ir.TypeL
}

// mask keeps the bits a register or memory slot of type t holds
func (m *Machine) mask(t ir.Type, v uint64) uint64 {
	switch t {
	case ir.TypeB, ir.TypeSB, ir.TypeUB:
		return v & 0xff
	case ir.TypeH, ir.TypeSH, ir.TypeUH:
		return v & 0xffff
	case ir.TypeW, ir.TypeS:
		return v & 0xffff_ffff
	case ir.TypePtr:
		if m.ws == 4 {
			return v & 0xffff_ffff
		}
	}
	return v
}

func floatBits(f float64, t ir.Type) uint64 {
	if t == ir.TypeS {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func bitsFloat(v uint64, t ir.Type) float64 {
	if t == ir.TypeS {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}

// F64 and F32 turn register bits into floats and back, for callers
// passing float arguments
func F64(v uint64) float64     { return math.Float64frombits(v) }
func F32(v uint64) float32     { return math.Float32frombits(uint32(v)) }
func FromF64(f float64) uint64 { return math.Float64bits(f) }
func FromF32(f float32) uint64 { return uint64(math.Float32bits(f)) }
