// Package sdhci describes the register interface of SD Host Controller
// Specification v3.00 compliant controllers.
//
// Sub-word registers are described as part of the 32-bit word containing
// them, e.g. the transfer mode and command registers form [Command] at
// [OffCommand]. This allows the command to be issued with a single store.
package sdhci

// Register offsets of the standard register set.
const (
	OffSDMAAddr     = 0x00
	OffBlock        = 0x04 // block size, SDMA boundary and block count
	OffArgument     = 0x08
	OffCommand      = 0x0c // transfer mode and command
	OffResponse     = 0x10 // four words
	OffBufferData   = 0x20
	OffPresentState = 0x24
	OffHostControl  = 0x28 // host control 1, power, block gap, wakeup
	OffClockControl = 0x2c // clock control, timeout control, software reset
	OffIntStatus    = 0x30 // normal and error interrupt status
	OffIntEnable    = 0x34
	OffSignalEnable = 0x38
	OffHostControl2 = 0x3c // auto CMD error status, host control 2
	OffCaps         = 0x40
	OffCaps1        = 0x44
	OffVersion      = 0xfc // slot interrupt status, host version

	// OffVendor is the start of the vendor specific register block.
	OffVendor = 0x100
)

// Block is the block size and count register.
type Block uint32

const (
	BlockSizeMask Block = 0xfff

	// SDMA buffer boundary, the DMA pauses each time the address crosses
	// a multiple of the boundary.
	BoundaryMask Block = 0x7 << 12
	Boundary4K   Block = 0x0 << 12
	Boundary512K Block = 0x7 << 12

	BlockCountShift       = 16
	BlockCountMask  Block = 0xffff << BlockCountShift
)

// BoundarySize is the size of the SDMA window selected by Boundary512K.
const BoundarySize = 512 << 10

func MakeBlock(size, count int) Block {
	return Boundary512K | Block(size)&BlockSizeMask | Block(count)<<BlockCountShift
}

func (b Block) Size() int  { return int(b & BlockSizeMask) }
func (b Block) Count() int { return int(b >> BlockCountShift) }

// Command is the transfer mode register (low half) and the command register
// (high half).
type Command uint32

// Transfer mode
const (
	ModeDMA          Command = 1 << 0
	ModeBlockCount   Command = 1 << 1
	ModeAutoCmd12    Command = 1 << 2
	ModeRead         Command = 1 << 4
	ModeMultiBlock   Command = 1 << 5
	TransferModeMask Command = 0xffff
)

// Command register
const (
	RespNone    Command = 0 << 16
	Resp136     Command = 1 << 16
	Resp48      Command = 2 << 16
	Resp48Busy  Command = 3 << 16
	RespMask    Command = 3 << 16
	CRCCheck    Command = 1 << 19
	IndexCheck  Command = 1 << 20
	DataPresent Command = 1 << 21
	TypeAbort   Command = 3 << 22
	TypeMask    Command = 3 << 22
	IndexShift          = 24
	IndexMask   Command = 0x3f << IndexShift
)

// Index returns the command index.
func (c Command) Index() uint8 {
	return uint8((c & IndexMask) >> IndexShift)
}

// PresentState is read-only.
type PresentState uint32

const (
	CmdInhibit      PresentState = 1 << 0
	DatInhibit      PresentState = 1 << 1
	DatActive       PresentState = 1 << 2
	RetuneRequest   PresentState = 1 << 3
	WriteActive     PresentState = 1 << 8
	ReadActive      PresentState = 1 << 9
	CardInserted    PresentState = 1 << 16
	CardStable      PresentState = 1 << 17
	CardDetectLevel PresentState = 1 << 18
	WriteProtect    PresentState = 1 << 19
	DatLevelMask    PresentState = 0xf << 20
	CmdLevel        PresentState = 1 << 24
)

// HostControl holds host control 1 (bits 0-7) and power control (8-15).
type HostControl uint32

const (
	LED            HostControl = 1 << 0
	DataWidth4     HostControl = 1 << 1
	HighSpeed      HostControl = 1 << 2
	DMASelectMask  HostControl = 3 << 3
	DMASelectSDMA  HostControl = 0 << 3
	DataWidth8     HostControl = 1 << 5
	CardDetectTest HostControl = 1 << 6
	BusPower       HostControl = 1 << 8
	Voltage33      HostControl = 7 << 9
	Voltage30      HostControl = 6 << 9
	Voltage18      HostControl = 5 << 9
	VoltageMask    HostControl = 7 << 9

	WidthMask = DataWidth4 | DataWidth8
)

// ClockControl holds clock control (bits 0-15), data timeout control
// (16-19) and software reset (24-26).
type ClockControl uint32

const (
	InternalClockEnable ClockControl = 1 << 0
	InternalClockStable ClockControl = 1 << 1
	SDClockEnable       ClockControl = 1 << 2
	ClockGenSelect      ClockControl = 1 << 5
	DividerHiShift                   = 6
	DividerLoShift                   = 8
	DividerMask         ClockControl = 0x3ff << DividerHiShift

	TimeoutShift              = 16
	TimeoutMask  ClockControl = 0xf << TimeoutShift
	TimeoutMax   ClockControl = 0xe << TimeoutShift

	ResetAll  ClockControl = 1 << 24
	ResetCmd  ClockControl = 1 << 25
	ResetData ClockControl = 1 << 26
	ResetMask              = ResetAll | ResetCmd | ResetData
)

// MaxDivider is the largest value of the 10-bit divided clock mode.
const MaxDivider = 0x3ff

// MakeDivider encodes the 10-bit divider n, the SD clock is base/(2*n) or
// base if n is zero.
func MakeDivider(n uint32) ClockControl {
	n = min(n, MaxDivider)
	return ClockControl(n&0xff)<<DividerLoShift | ClockControl(n>>8)<<DividerHiShift
}

// Divider decodes the 10-bit divider.
func (c ClockControl) Divider() uint32 {
	return uint32(c>>DividerLoShift)&0xff | uint32(c>>DividerHiShift)&0x3<<8
}

// Interrupt is the layout of the interrupt status, status enable and signal
// enable registers. Normal interrupts occupy bits 0-15, error interrupts
// bits 16-31.
type Interrupt uint32

const (
	IntCmdComplete  Interrupt = 1 << 0
	IntXferComplete Interrupt = 1 << 1
	IntBlockGap     Interrupt = 1 << 2
	IntDMA          Interrupt = 1 << 3
	IntBufWrite     Interrupt = 1 << 4
	IntBufRead      Interrupt = 1 << 5
	IntCardInsert   Interrupt = 1 << 6
	IntCardRemove   Interrupt = 1 << 7
	IntCard         Interrupt = 1 << 8
	IntRetune       Interrupt = 1 << 12
	IntError        Interrupt = 1 << 15

	ErrCmdTimeout   Interrupt = 1 << 16
	ErrCmdCRC       Interrupt = 1 << 17
	ErrCmdEndBit    Interrupt = 1 << 18
	ErrCmdIndex     Interrupt = 1 << 19
	ErrDataTimeout  Interrupt = 1 << 20
	ErrDataCRC      Interrupt = 1 << 21
	ErrDataEndBit   Interrupt = 1 << 22
	ErrCurrentLimit Interrupt = 1 << 23
	ErrAutoCmd      Interrupt = 1 << 24
	ErrADMA         Interrupt = 1 << 25
	ErrTuning       Interrupt = 1 << 26

	ErrCmdMask  Interrupt = ErrCmdTimeout | ErrCmdCRC | ErrCmdEndBit | ErrCmdIndex
	ErrDataMask Interrupt = ErrDataTimeout | ErrDataCRC | ErrDataEndBit | ErrADMA | ErrAutoCmd
	ErrMask     Interrupt = 0xffff << 16
	IntAll      Interrupt = 0xffff_ffff
)

// HostControl2 holds auto CMD error status (bits 0-15) and host control 2
// (bits 16-31).
type HostControl2 uint32

const (
	UHSModeShift              = 16
	UHSModeMask  HostControl2 = 7 << UHSModeShift
	Signal18V    HostControl2 = 1 << 19
	ExecTuning   HostControl2 = 1 << 22
	SampleClock  HostControl2 = 1 << 23
	PresetEnable HostControl2 = 1 << 31
)

// UHS mode select values.
const (
	UHSSDR12  HostControl2 = 0 << UHSModeShift
	UHSSDR25  HostControl2 = 1 << UHSModeShift
	UHSSDR50  HostControl2 = 2 << UHSModeShift
	UHSSDR104 HostControl2 = 3 << UHSModeShift
	UHSDDR50  HostControl2 = 4 << UHSModeShift

	// eMMC HS200 shares the SDR104 timing.
	UHSHS200 = UHSSDR104
)

// Caps is the lower capabilities register.
type Caps uint32

const (
	CapBaseClockShift      = 8
	CapBaseClockMask  Caps = 0xff << CapBaseClockShift
	Cap8Bit           Caps = 1 << 18
	CapHighSpeed      Caps = 1 << 21
	CapSDMA           Caps = 1 << 22
	CapV33            Caps = 1 << 24
	CapV30            Caps = 1 << 25
	CapV18            Caps = 1 << 26
)

// BaseClock returns the base clock frequency in Hz, or 0 if the controller
// doesn't report it.
func (c Caps) BaseClock() uint32 {
	return uint32(c&CapBaseClockMask>>CapBaseClockShift) * 1_000_000
}

// Caps1 is the upper capabilities register.
type Caps1 uint32

const (
	CapSDR50        Caps1 = 1 << 0
	CapSDR104       Caps1 = 1 << 1
	CapDDR50        Caps1 = 1 << 2
	CapTuningSDR50  Caps1 = 1 << 13
	CapRetuneModeMs Caps1 = 3 << 14
)

// Version holds the slot interrupt status and host controller version.
type Version uint32

const (
	SpecV1 = 0
	SpecV2 = 1
	SpecV3 = 2
)

// Spec returns the specification version number.
func (v Version) Spec() int {
	return int(v>>16) & 0xff
}
