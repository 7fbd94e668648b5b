package interp

import (
	"fmt"
	"math"

	"github.com/xplshn/trans/pkg/rt"
)

// builtins implement the runtime generated code links against
var builtins = map[string]Extern{
	rt.Malloc: func(m *Machine, args []uint64) uint64 {
		return m.Malloc(int64(arg(m, args, 0)))
	},
	rt.Free: func(m *Machine, args []uint64) uint64 {
		m.Free(arg(m, args, 0))
		return 0
	},
	rt.Panicking: func(m *Machine, args []uint64) uint64 {
		return b2u(m.panicking)
	},
	rt.FailBounds: func(m *Machine, args []uint64) uint64 {
		m.Raise(fmt.Sprintf("index out of bounds: the len is %d but the index is %d", arg(m, args, 1), arg(m, args, 0)))
		return 0
	},
	rt.FailDivZero: func(m *Machine, args []uint64) uint64 {
		m.Raise("attempted to divide by zero")
		return 0
	},
	rt.FailRemZero: func(m *Machine, args []uint64) uint64 {
		m.Raise("attempted remainder with a divisor of zero")
		return 0
	},
	rt.FailOverflow: func(m *Machine, args []uint64) uint64 {
		m.Raise("arithmetic operation overflowed")
		return 0
	},
	rt.FailMatch: func(m *Machine, args []uint64) uint64 {
		m.Raise("no match arm accepted the value")
		return 0
	},
	rt.Memcpy: func(m *Machine, args []uint64) uint64 {
		dst := arg(m, args, 0)
		m.move(dst, arg(m, args, 1), int64(arg(m, args, 2)))
		return dst
	},
	rt.Memset: func(m *Machine, args []uint64) uint64 {
		dst, n := arg(m, args, 0), int64(arg(m, args, 2))
		if n > 0 {
			b := m.bytes(dst, n)
			for i := range b {
				b[i] = byte(arg(m, args, 1))
			}
		}
		return dst
	},
	rt.Fmod: func(m *Machine, args []uint64) uint64 {
		return math.Float64bits(math.Mod(F64(arg(m, args, 0)), F64(arg(m, args, 1))))
	},
	rt.Fmodf: func(m *Machine, args []uint64) uint64 {
		r := math.Mod(float64(F32(arg(m, args, 0))), float64(F32(arg(m, args, 1))))
		return uint64(math.Float32bits(float32(r)))
	},
}

func arg(m *Machine, args []uint64, i int) uint64 {
	if i >= len(args) {
		m.fault("", "runtime routine called with %d arguments, needs at least %d", len(args), i+1)
	}
	return args[i]
}
