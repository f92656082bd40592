package sdcmd

import "encoding/binary"

// AccessMode is a function of the SD switch function group 1.
type AccessMode uint8

const (
	AccessDefault   AccessMode = 0 // SDR12
	AccessHighSpeed AccessMode = 1 // SDR25
	AccessSDR50     AccessMode = 2
	AccessSDR104    AccessMode = 3
	AccessDDR50     AccessMode = 4
	AccessInvalid   AccessMode = 0xf
)

// SwitchFuncArg returns the CMD6 argument for checking (set == false) or
// switching to access mode fn, leaving all other groups unchanged.
func SwitchFuncArg(set bool, fn AccessMode) uint32 {
	arg := uint32(0x00fffff0) | uint32(fn&0xf)
	if set {
		arg |= 1 << 31
	}
	return arg
}

// SwitchStatus is the 512 bit status block returned by CMD6.
type SwitchStatus [64]byte

// Supported reports if the card supports access mode fn.
func (s *SwitchStatus) Supported(fn AccessMode) bool {
	return binary.BigEndian.Uint16(s[12:14])&(1<<fn) != 0
}

// Selected returns the access mode selected by a check or switch.
func (s *SwitchStatus) Selected() AccessMode { return AccessMode(s[16] & 0xf) }

func (s *SwitchStatus) SetSupported(mask uint16)  { binary.BigEndian.PutUint16(s[12:14], mask) }
func (s *SwitchStatus) SetSelected(fn AccessMode) { s[16] = s[16]&0xf0 | byte(fn) }

// SWITCH access modes of eMMC.
const (
	AccessCommandSet = 0
	AccessSetBits    = 1
	AccessClearBits  = 2
	AccessWriteByte  = 3
)

// WriteByteArg returns the eMMC SWITCH argument writing value to the EXT_CSD
// byte at index.
func WriteByteArg(index, value uint8) uint32 {
	return AccessWriteByte<<24 | uint32(index)<<16 | uint32(value)<<8
}

// DecodeWriteByteArg is the inverse of [WriteByteArg].
func DecodeWriteByteArg(arg uint32) (access int, index, value uint8) {
	return int(arg>>24) & 3, uint8(arg >> 16), uint8(arg >> 8)
}

// EXT_CSD byte indices.
const (
	ExtCSDBusWidth  = 183
	ExtCSDHSTiming  = 185
	ExtCSDRev       = 192
	ExtCSDStructure = 194
	ExtCSDCardType  = 196
	ExtCSDSecCount  = 212
)

// BUS_WIDTH values.
const (
	BusWidth1    = 0
	BusWidth4    = 1
	BusWidth8    = 2
	BusWidth4DDR = 5
	BusWidth8DDR = 6
)

// HS_TIMING values.
const (
	TimingLegacy = 0
	TimingHS     = 1
	TimingHS200  = 2
)

// CARD_TYPE bits.
const (
	CardTypeHS26    = 1 << 0
	CardTypeHS52    = 1 << 1
	CardTypeDDR52   = 1 << 2 // 1.8V or 3V
	CardTypeHS200   = 1 << 4 // 1.8V
	CardTypeHSMask  = CardTypeHS26 | CardTypeHS52
	CardTypeAnyMask = 0xff
)

// ExtCSD is the 512 byte extended CSD register of eMMC devices.
type ExtCSD [512]byte

// Sectors returns SEC_COUNT, the device capacity in 512 byte sectors.
func (e *ExtCSD) Sectors() uint32 {
	return binary.LittleEndian.Uint32(e[ExtCSDSecCount:])
}

func (e *ExtCSD) CardType() uint8 { return e[ExtCSDCardType] }
