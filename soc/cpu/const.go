package cpu

import "unsafe"

// Addr represents a physical (bus) address as seen by DMA masters.
type Addr uint32

// Add returns a+n.
func (a Addr) Add(n int) Addr {
	return a + Addr(n)
}

// AlignDown rounds a down to a multiple of align, which must be a power of
// two.
func (a Addr) AlignDown(align uint32) Addr {
	return a &^ Addr(align-1)
}

// SliceAddr returns the virtual address of the first element of s.
func SliceAddr[T any](s []T) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(s)))
}
