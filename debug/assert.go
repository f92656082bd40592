//go:build debug

package debug

// Guard assertions that are expensive to evaluate with `if debug.Enabled
// {...}`, otherwise they can't be removed in release builds.
const Enabled = true

func Assert(b bool, message string) {
	if !b {
		panic("assertion failed: " + message)
	}
}

// AssertAligned panics if addr is not a multiple of align.
func AssertAligned(addr uintptr, align uintptr, message string) {
	if align != 0 && addr%align != 0 {
		panic("unaligned: " + message)
	}
}
