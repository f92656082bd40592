//go:build !debug

// Package debug provides assertions that can be enabled with the debug build
// tag or will otherwise compile to no-ops.
//
// The driver uses them for conditions that indicate a programming error in
// the caller or the board glue (misaligned DMA buffers, registers accessed
// outside the register block), never for conditions a card can cause.
package debug

// Guard assertions that are expensive to evaluate with `if debug.Enabled
// {...}`, otherwise they can't be removed in release builds.
const Enabled = false

// Assert panics if b is false.
func Assert(b bool, message string) {}

// AssertAligned panics if addr is not a multiple of align.
func AssertAligned(addr uintptr, align uintptr, message string) {}
