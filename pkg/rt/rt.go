// Package rt names the runtime entry points generated code calls.
//
// Failing routines record a pending panic and return; the caller then jumps
// to its landing pad. Calls into translated code are followed by a check of
// Panicking so unwinding continues through every frame.
package rt

const (
	Malloc       = "rt_malloc"        // l (l size)
	Free         = "rt_free"          // (l ptr), null is ignored
	Panicking    = "rt_panicking"     // w ()
	FailBounds   = "rt_fail_bounds"   // (l index, l len)
	FailDivZero  = "rt_fail_div_zero" // ()
	FailRemZero  = "rt_fail_rem_zero" // ()
	FailOverflow = "rt_fail_overflow" // ()
	FailMatch    = "rt_fail_match"    // ()
	Memcpy       = "memcpy"           // (l dst, l src, l n)
	Memset       = "memset"           // (l dst, w byte, l n)
	Fmod         = "fmod"             // d (d, d)
	Fmodf        = "fmodf"            // s (s, s)
)

// NoUnwind lists the symbols that never leave a panic pending
var NoUnwind = map[string]bool{
	Malloc: true, Free: true, Panicking: true, Memcpy: true, Memset: true, Fmod: true, Fmodf: true,
}

// IsFail reports whether sym is one of the failing routines
func IsFail(sym string) bool {
	switch sym {
	case FailBounds, FailDivZero, FailRemZero, FailOverflow, FailMatch:
		return true
	}
	return false
}
