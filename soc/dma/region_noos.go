//go:build noos

package dma

import (
	"unsafe"

	"github.com/clktmr/sdhc/soc/cpu"
)

// mapRegion assumes an identity mapping between bus and virtual addresses
// for DMA memory, which must be excluded from the Go heap by the linker
// script.
func mapRegion(base cpu.Addr, size int) ([]byte, error) {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(base))), size), nil
}
