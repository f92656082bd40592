//go:build !noos

package dma

import "github.com/clktmr/sdhc/soc/cpu"

// mapRegion allocates the region from the Go heap. The bus address is
// arbitrary and only meaningful to simulated bus masters, which translate it
// back with Region.Slice.
func mapRegion(base cpu.Addr, size int) ([]byte, error) {
	return cpu.MakePaddedSlice[byte](size), nil
}
