// Package cpu describes the CPU side of DMA: bus addresses and data cache
// maintenance.
//
// The CPU accesses RAM through a cache and in general assumes that there are
// no other readers or writers. Since the stored value in the cache can divert
// from the stored value in RAM for a limited amount of time, both must be
// synced before a DMA master touches the memory.
package cpu

import (
	"unsafe"

	"github.com/clktmr/sdhc/debug"
)

// CacheLineSize is the data cache line size assumed for padding. It's the
// largest line size of the supported cores.
const CacheLineSize = 64

// Cache operations always affect a whole cache line. To avoid invalidating
// unrelated data in a cache line, pad structs with CacheLinePad at the
// beginning and end.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// Cache performs data cache maintenance on behalf of a driver. The
// instruction sequences are core specific and provided by the board support.
type Cache interface {
	// Writeback causes the cache to be written back to RAM. Call this
	// before requesting another component to read from p. If p is
	// currently not cached, this is a no-op.
	Writeback(p []byte)

	// Invalidate causes the cache to be read from RAM before next access.
	// Call this before p is to be written by another component.
	Invalidate(p []byte)
}

// Coherent is a Cache for memory that is not cached or kept coherent by the
// interconnect. Both operations are no-ops.
type Coherent struct{}

func (Coherent) Writeback(p []byte)  {}
func (Coherent) Invalidate(p []byte) {}

// MakePaddedSlice returns a slice that is safe for cache ops. It's start is
// aligned to CacheLineSize and the end is padded to fill the cache line.
// Note that using append() might corrupt the padding.
func MakePaddedSlice[T any](size int) []T {
	var t T
	cls := CacheLineSize / int(unsafe.Sizeof(t))
	buf := make([]T, 0, cls+size+cls)
	addr := SliceAddr(buf)
	shift := (CacheLineSize - int(addr)%CacheLineSize) % CacheLineSize / int(unsafe.Sizeof(t))
	return buf[shift : shift+size]
}

// PaddedSlice ensures a slice is padded. Might copy the slice if necessary.
func PaddedSlice[T any](slice []T) []T {
	if !IsPadded(slice) {
		buf := MakePaddedSlice[T](len(slice))
		copy(buf, slice)
		return buf
	}
	return slice
}

// IsPadded returns true if p is safe for cache ops, i.e. padded and aligned
// to cache lines.
func IsPadded[T any](p []T) bool {
	var t T
	cls := CacheLineSize / int(unsafe.Sizeof(t))
	return SliceAddr(p)%CacheLineSize == 0 && cap(p)-len(p) >= (cls-len(p)%cls)%cls
}

// WritebackSlice is a shorthand for c.Writeback that checks p's padding in
// debug builds.
func WritebackSlice(c Cache, p []byte) {
	debug.Assert(IsPadded(p), "unpadded cache writeback")
	c.Writeback(p)
}

// InvalidateSlice is a shorthand for c.Invalidate that checks p's padding in
// debug builds.
func InvalidateSlice(c Cache, p []byte) {
	debug.Assert(IsPadded(p), "unpadded cache invalidate")
	c.Invalidate(p)
}
