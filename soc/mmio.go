package soc

import "github.com/clktmr/sdhc/debug"

// Bus provides 32-bit access to a register block. Offsets are byte offsets
// relative to the start of the block and must be 4 byte aligned.
type Bus interface {
	Load32(off uintptr) uint32
	Store32(off uintptr, v uint32)
}

// T32 is the set of types that can be stored in a 32-bit register.
type T32 interface{ ~uint32 }

// R32 is a 32-bit register holding a value of type T.
//
// The zero value is not usable, registers are created with [NewR32].
type R32[T T32] struct {
	bus Bus
	off uintptr
}

func NewR32[T T32](bus Bus, off uintptr) R32[T] {
	debug.AssertAligned(off, 4, "register offset")
	return R32[T]{bus, off}
}

func (r R32[T]) Load() T {
	return T(r.bus.Load32(r.off))
}

func (r R32[T]) Store(v T) {
	r.bus.Store32(r.off, uint32(v))
}

// LoadBits returns the register value masked by mask.
func (r R32[T]) LoadBits(mask T) T {
	return r.Load() & mask
}

// StoreBits replaces the bits selected by mask with bits. This is a
// read-modify-write and must not be used on write-1-to-clear registers.
func (r R32[T]) StoreBits(mask, bits T) {
	r.Store(r.Load()&^mask | bits&mask)
}

func (r R32[T]) SetBits(mask T) {
	r.Store(r.Load() | mask)
}

func (r R32[T]) ClearBits(mask T) {
	r.Store(r.Load() &^ mask)
}

// Offset returns the register's offset inside its register block.
func (r R32[T]) Offset() uintptr {
	return r.off
}

type window struct {
	bus  Bus
	base uintptr
}

// Window returns a Bus for the sub-block starting at base. It's used for
// vendor specific register blocks that follow a standard register set.
func Window(bus Bus, base uintptr) Bus {
	debug.AssertAligned(base, 4, "window base")
	return window{bus, base}
}

func (w window) Load32(off uintptr) uint32 {
	return w.bus.Load32(w.base + off)
}

func (w window) Store32(off uintptr, v uint32) {
	w.bus.Store32(w.base+off, v)
}
