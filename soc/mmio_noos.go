//go:build noos

package soc

import (
	"embedded/mmio"
	"unsafe"
)

type mmioBus uintptr

// MMIO returns a Bus for the register block mapped at virtual address base.
// The mapping must be uncached.
func MMIO(base uintptr) Bus {
	return mmioBus(base)
}

//go:nosplit
func (b mmioBus) Load32(off uintptr) uint32 {
	return (*mmio.U32)(unsafe.Pointer(uintptr(b) + off)).Load()
}

//go:nosplit
func (b mmioBus) Store32(off uintptr, v uint32) {
	(*mmio.U32)(unsafe.Pointer(uintptr(b) + off)).Store(v)
}
