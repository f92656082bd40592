package sdhci

// Vendor register block, relative to [OffVendor]. Only the delay line used
// for sampling point calibration is described.
const (
	OffDLLControl = 0x00
	OffDLLStatus  = 0x04
)

// DLLControl is the delay line control register.
type DLLControl uint32

const (
	DLLEnable DLLControl = 1 << 0
	DLLReset  DLLControl = 1 << 1
	DLLLocked DLLControl = 1 << 31 // in DLLStatus
)
