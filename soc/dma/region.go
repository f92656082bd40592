// Package dma manages memory that is visible to DMA masters.
//
// A Region is a contiguous range of memory together with the bus address a
// DMA master uses to reach it. Drivers reserve their DMA buffers from a
// Region instead of handing arbitrary Go memory to the hardware, so that
// buffers have known bus addresses, alignment and cache line padding.
package dma

import (
	"errors"
	"slices"

	"github.com/clktmr/sdhc/debug"
	"github.com/clktmr/sdhc/soc/cpu"
)

var (
	ErrNoSpace     = errors.New("dma: no space left in region")
	ErrNotReserved = errors.New("dma: address not reserved")
	ErrInvalid     = errors.New("dma: invalid region")
)

type block struct {
	off, size int
}

// Region is a range of DMA-able memory with a simple first fit allocator.
//
// Region is not safe for concurrent use.
type Region struct {
	base cpu.Addr
	mem  []byte

	used []block // sorted by offset
}

// NewRegion returns a Region of size bytes starting at bus address base.
// See region_noos.go and region_other.go for how the memory is obtained.
func NewRegion(base cpu.Addr, size int) (*Region, error) {
	if size <= 0 || uint64(base)+uint64(size) > 1<<32 {
		return nil, ErrInvalid
	}
	mem, err := mapRegion(base, size)
	if err != nil {
		return nil, err
	}
	return &Region{base: base, mem: mem}, nil
}

func (r *Region) Base() cpu.Addr { return r.base }
func (r *Region) Size() int      { return len(r.mem) }

// Reserve allocates size bytes whose bus address is a multiple of align,
// which must be a power of two. The returned slice is padded to the cache
// line size.
func (r *Region) Reserve(size int, align int) (cpu.Addr, []byte, error) {
	debug.Assert(align > 0 && align&(align-1) == 0, "alignment not a power of two")
	align = max(align, cpu.CacheLineSize)
	padded := (size + cpu.CacheLineSize - 1) &^ (cpu.CacheLineSize - 1)

	start := 0
	for i := 0; i <= len(r.used); i++ {
		off := r.alignOffset(start, align)
		end := len(r.mem)
		if i < len(r.used) {
			end = r.used[i].off
		}
		if off+padded <= end {
			r.used = slices.Insert(r.used, i, block{off, padded})
			if debug.Enabled {
				debug.Assert(slices.IsSortedFunc(r.used, func(a, b block) int {
					return a.off - (b.off + b.size)
				}), "overlapping reservations")
			}
			return r.base.Add(off), r.mem[off : off+size : off+padded], nil
		}
		if i < len(r.used) {
			start = r.used[i].off + r.used[i].size
		}
	}
	return 0, nil, ErrNoSpace
}

// alignOffset returns the smallest offset >= off whose bus address is a
// multiple of align.
func (r *Region) alignOffset(off, align int) int {
	addr := int(r.base) + off
	return (addr+align-1)&^(align-1) - int(r.base)
}

// Release returns a buffer previously obtained by Reserve.
func (r *Region) Release(addr cpu.Addr) error {
	off := int(addr - r.base)
	i := slices.IndexFunc(r.used, func(b block) bool { return b.off == off })
	if addr < r.base || i < 0 {
		return ErrNotReserved
	}
	r.used = slices.Delete(r.used, i, i+1)
	return nil
}

// Slice returns the n bytes at bus address addr as seen from the CPU. It's
// meant for bus master models and returns false if the range isn't inside
// the region.
func (r *Region) Slice(addr cpu.Addr, n int) ([]byte, bool) {
	if addr < r.base || n < 0 || int(addr-r.base)+n > len(r.mem) {
		return nil, false
	}
	off := int(addr - r.base)
	return r.mem[off : off+n], true
}

// Addr returns the bus address of p's first byte, or false if p doesn't
// point into the region.
func (r *Region) Addr(p []byte) (cpu.Addr, bool) {
	if cap(p) == 0 || len(r.mem) == 0 {
		return 0, false
	}
	start := cpu.SliceAddr(r.mem)
	ptr := cpu.SliceAddr(p)
	if ptr < start || ptr+uintptr(len(p)) > start+uintptr(len(r.mem)) {
		return 0, false
	}
	return r.base.Add(int(ptr - start)), true
}
