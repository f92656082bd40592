package sdsim

import (
	"io"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
)

// Kind selects the card model.
type Kind uint8

const (
	SDv1 Kind = iota // SD 1.x, standard capacity, byte addressed
	SDv2             // SD 2.0 standard capacity, byte addressed
	SDHC             // SD 2.0 high capacity, block addressed
	EMMC             // eMMC, sector mode
)

var kindNames = [...]string{"sdv1", "sdv2", "sdhc", "emmc"}

func (k Kind) String() string { return kindNames[k] }

// Storage is the backing store of a simulated card.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// Card is a simulated SD card or eMMC device. It's attached to a [Host] and
// implements the card state machine as far as the driver exercises it.
type Card struct {
	Kind    Kind
	Store   Storage
	Sectors int64
	CID     sdcmd.CID

	// RCA published in response to SEND_RELATIVE_ADDR by SD cards.
	RCA uint16

	// BusyPolls is the number of ACMD41 or CMD1 polls answered busy before
	// the card reports power up.
	BusyPolls int

	// S18 enables 1.8V signalling support of SD cards.
	S18 bool

	// AccessModes has bit n set if SD access mode n is supported.
	// RejectModes have bit n set if a switch to mode n fails although the
	// check reported support.
	AccessModes uint16
	RejectModes uint16

	// CardType is the eMMC EXT_CSD CARD_TYPE byte.
	CardType uint8

	// LegacyCSD makes an eMMC device report its capacity in a version 1.0
	// CSD instead of EXT_CSD.
	LegacyCSD bool

	// CSD replaces the generated CSD register if set.
	CSD *sdcmd.Long

	// Faults: CorruptEcho answers SEND_IF_COND with a wrong check
	// pattern, HoldDAT keeps the DAT lines low after CMD11 and FailStop
	// leaves STOP_TRANSMISSION unanswered.
	CorruptEcho bool
	HoldDAT     bool
	FailStop    bool

	state     sdcmd.State
	app       bool
	busy      int
	rca       uint16
	s18       bool // S18A granted
	switching bool // voltage switch in progress
	v18       bool
	width     int
	mode      sdcmd.AccessMode
	switchErr bool
	extCSD    sdcmd.ExtCSD
}

// NewCard returns a card of the given kind backed by store. The remaining
// fields are set to values typical for the kind.
func NewCard(kind Kind, store Storage, sectors int64) *Card {
	c := &Card{
		Kind:      kind,
		Store:     store,
		Sectors:   sectors,
		RCA:       0xb368,
		BusyPolls: 2,
		CID: sdcmd.CID{
			Manufacturer: 0x03, OEM: "SD", Product: "SIM00", Revision: 0x10,
			Serial: 0x0badcafe, Year: 2024, Month: 5,
		},
	}
	m := func(modes ...sdcmd.AccessMode) (mask uint16) {
		for _, mode := range modes {
			mask |= 1 << mode
		}
		return
	}
	switch kind {
	case SDv1:
		c.AccessModes = m(sdcmd.AccessDefault)
	case SDv2:
		c.AccessModes = m(sdcmd.AccessDefault, sdcmd.AccessHighSpeed)
	case SDHC:
		c.S18 = true
		c.AccessModes = m(sdcmd.AccessDefault, sdcmd.AccessHighSpeed,
			sdcmd.AccessSDR50, sdcmd.AccessSDR104, sdcmd.AccessDDR50)
	case EMMC:
		c.BusyPolls = 1
		c.CID = sdcmd.CID{
			Manufacturer: 0x15, OEM: "\x01", Product: "SIMMC0", Revision: 0x10,
			Serial: 0x12345678, Year: 2008, Month: 1,
		}
		c.CardType = sdcmd.CardTypeHS26 | sdcmd.CardTypeHS52 |
			sdcmd.CardTypeDDR52 | sdcmd.CardTypeHS200
	}
	c.reset()
	return c
}

func (c *Card) State() sdcmd.State           { return c.state }
func (c *Card) Width() int                   { return c.width }
func (c *Card) AccessMode() sdcmd.AccessMode { return c.mode }
func (c *Card) Timing() uint8                { return c.extCSD[sdcmd.ExtCSDHSTiming] }
func (c *Card) Signal18V() bool              { return c.v18 }

func (c *Card) reset() {
	c.state = sdcmd.StateIdle
	c.app = false
	c.busy = c.BusyPolls
	c.rca = 0
	c.s18, c.switching, c.v18 = false, false, false
	c.width = 1
	c.mode = sdcmd.AccessDefault
	c.switchErr = false
	c.extCSD = sdcmd.ExtCSD{}
	c.extCSD[sdcmd.ExtCSDRev] = 8
	c.extCSD[sdcmd.ExtCSDStructure] = 2
	c.extCSD[sdcmd.ExtCSDCardType] = c.CardType
	sec := uint32(c.Sectors)
	copy(c.extCSD[sdcmd.ExtCSDSecCount:], []byte{byte(sec), byte(sec >> 8), byte(sec >> 16), byte(sec >> 24)})
}

// maxClock returns the highest SD clock frequency the card accepts in its
// current state.
func (c *Card) maxClock() uint32 {
	switch c.state {
	case sdcmd.StateIdle, sdcmd.StateReady, sdcmd.StateIdent:
		return 400_000
	}
	if c.Kind == EMMC {
		switch c.Timing() {
		case sdcmd.TimingHS:
			return 52_000_000
		case sdcmd.TimingHS200:
			return 200_000_000
		}
		return 26_000_000
	}
	switch c.mode {
	case sdcmd.AccessHighSpeed, sdcmd.AccessDDR50:
		return 50_000_000
	case sdcmd.AccessSDR50:
		return 100_000_000
	case sdcmd.AccessSDR104:
		return 208_000_000
	}
	return 25_000_000
}

func (c *Card) blockAddressed() bool { return c.Kind == SDHC || c.Kind == EMMC }

// reply is the card's reaction to a command.
type reply struct {
	kind  sdcmd.Response
	short uint32
	long  sdcmd.Long

	// Data phase, at most one is set.
	read  []byte
	write func(p []byte)
}

func (c *Card) status() sdcmd.CardStatus {
	s := sdcmd.StatusReadyForData.WithState(c.state)
	if c.app {
		s |= sdcmd.StatusAppCmd
	}
	if c.switchErr {
		s |= sdcmd.StatusSwitchError
	}
	return s
}

func (c *Card) r1(st sdcmd.CardStatus) reply { return reply{kind: sdcmd.RespR1, short: uint32(st)} }

// command executes a command received on the CMD line. It returns false if
// the card doesn't respond, which is the case for illegal commands.
func (c *Card) command(idx sdcmd.Index, arg uint32, blocks int) (reply, bool) {
	if idx == sdcmd.GoIdleState {
		c.reset()
		return reply{}, true
	}
	if c.Kind == EMMC {
		return c.mmcCommand(idx, arg, blocks)
	}
	app := c.app
	c.app = false
	if app {
		switch idx {
		case sdcmd.AppSetBusWidth:
			if c.state != sdcmd.StateTransfer {
				return reply{}, false
			}
			if arg&3 == sdcmd.BusWidth4Arg {
				c.width = 4
			} else {
				c.width = 1
			}
			return c.r1(c.status() | sdcmd.StatusAppCmd), true
		case sdcmd.AppSendOpCond:
			return c.sendOpCond(sdcmd.OCR(arg))
		}
	}

	switch idx {
	case sdcmd.SendIfCond:
		if c.Kind == SDv1 || c.state != sdcmd.StateIdle {
			return reply{}, false
		}
		echo := arg & sdcmd.IfCondPattern
		if c.CorruptEcho {
			echo ^= 0xff
		}
		return reply{kind: sdcmd.RespR7, short: echo}, true
	case sdcmd.AppCmd:
		if c.state >= sdcmd.StateStandby && uint16(arg>>16) != c.rca {
			return reply{}, false
		}
		c.app = true
		return c.r1(c.status()), true
	case sdcmd.SendRelativeAddr:
		if c.state != sdcmd.StateIdent && c.state != sdcmd.StateStandby {
			return reply{}, false
		}
		c.state = sdcmd.StateStandby
		c.rca = c.RCA
		st := c.status()
		return reply{kind: sdcmd.RespR6, short: uint32(c.rca)<<16 | uint32(st)&0x1fff}, true
	case sdcmd.SwitchFunc:
		if c.state != sdcmd.StateTransfer || c.Kind == SDv1 {
			return reply{}, false
		}
		return c.switchFunc(arg), true
	case sdcmd.VoltageSwitch:
		if c.state != sdcmd.StateReady || !c.s18 {
			return reply{}, false
		}
		c.switching = true
		return c.r1(c.status()), true
	case sdcmd.SendTuningBlock:
		if c.state != sdcmd.StateTransfer || !c.v18 {
			return reply{}, false
		}
		return reply{kind: sdcmd.RespR1, short: uint32(c.status()), read: tuningPattern(64)}, true
	}
	return c.commonCommand(idx, arg, blocks)
}

func (c *Card) sendOpCond(arg sdcmd.OCR) (reply, bool) {
	if c.state != sdcmd.StateIdle && c.state != sdcmd.StateReady {
		return reply{}, false
	}
	ocr := sdcmd.OCRVoltageWindow
	if arg&sdcmd.OCRVoltageWindow == 0 {
		return reply{kind: sdcmd.RespR3, short: uint32(ocr)}, true
	}
	highCap := c.Kind == SDHC || c.Kind == EMMC
	if c.Kind == SDHC && !arg.HighCapacity() {
		// High capacity cards stay busy for hosts not supporting them.
		return reply{kind: sdcmd.RespR3, short: uint32(ocr)}, true
	}
	if c.busy > 0 {
		c.busy--
		return reply{kind: sdcmd.RespR3, short: uint32(ocr)}, true
	}
	ocr |= sdcmd.OCRPowerUp
	if highCap {
		ocr |= sdcmd.OCRCCS
	}
	if c.Kind != SDv1 && c.Kind != EMMC && c.S18 && arg.Accepts18V() {
		ocr |= sdcmd.OCRS18
		c.s18 = true
	}
	c.state = sdcmd.StateReady
	return reply{kind: sdcmd.RespR3, short: uint32(ocr)}, true
}

func (c *Card) switchFunc(arg uint32) reply {
	var s sdcmd.SwitchStatus
	s.SetSupported(c.AccessModes)
	fn := sdcmd.AccessMode(arg & 0xf)
	set := arg&(1<<31) != 0
	ok := c.AccessModes&(1<<fn) != 0
	if set && c.RejectModes&(1<<fn) != 0 {
		ok = false
	}
	if fn > sdcmd.AccessDefault && fn != sdcmd.AccessHighSpeed && !c.v18 {
		ok = false // UHS modes need 1.8V signalling
	}
	if ok {
		s.SetSelected(fn)
		if set {
			c.mode = fn
		}
	} else {
		s.SetSelected(sdcmd.AccessInvalid)
	}
	return reply{kind: sdcmd.RespR1, short: uint32(c.status()), read: s[:]}
}

func (c *Card) mmcCommand(idx sdcmd.Index, arg uint32, blocks int) (reply, bool) {
	switch idx {
	case sdcmd.SendOpCond:
		return c.sendOpCond(sdcmd.OCR(arg))
	case sdcmd.SendRelativeAddr:
		if c.state != sdcmd.StateIdent {
			return reply{}, false
		}
		st := c.status()
		c.rca = uint16(arg >> 16)
		c.state = sdcmd.StateStandby
		return c.r1(st), true
	case sdcmd.SwitchFunc:
		if c.state != sdcmd.StateTransfer {
			return reply{}, false
		}
		st := c.status()
		c.writeByte(sdcmd.DecodeWriteByteArg(arg))
		return reply{kind: sdcmd.RespR1b, short: uint32(st)}, true
	case sdcmd.SendExtCSD:
		if c.state != sdcmd.StateTransfer {
			return reply{}, false
		}
		ext := c.extCSD
		return reply{kind: sdcmd.RespR1, short: uint32(c.status()), read: ext[:]}, true
	case sdcmd.SendTuningBlockMMC:
		if c.state != sdcmd.StateTransfer || c.Timing() != sdcmd.TimingHS200 {
			return reply{}, false
		}
		n := 64
		if c.width == 8 {
			n = 128
		}
		return reply{kind: sdcmd.RespR1, short: uint32(c.status()), read: tuningPattern(n)}, true
	case sdcmd.AppCmd, sdcmd.VoltageSwitch:
		return reply{}, false
	}
	return c.commonCommand(idx, arg, blocks)
}

func (c *Card) writeByte(access int, index, value uint8) {
	ok := access == sdcmd.AccessWriteByte
	switch index {
	case sdcmd.ExtCSDHSTiming:
		switch value {
		case sdcmd.TimingLegacy:
		case sdcmd.TimingHS:
			ok = ok && c.CardType&sdcmd.CardTypeHSMask != 0
		case sdcmd.TimingHS200:
			ok = ok && c.CardType&sdcmd.CardTypeHS200 != 0 && c.width > 1
		default:
			ok = false
		}
	case sdcmd.ExtCSDBusWidth:
		switch value {
		case sdcmd.BusWidth1:
			c.width = 1
		case sdcmd.BusWidth4, sdcmd.BusWidth4DDR:
			c.width = 4
		case sdcmd.BusWidth8, sdcmd.BusWidth8DDR:
			c.width = 8
		default:
			ok = false
		}
		if value == sdcmd.BusWidth4DDR || value == sdcmd.BusWidth8DDR {
			ok = ok && c.CardType&sdcmd.CardTypeDDR52 != 0 && c.Timing() == sdcmd.TimingHS
		}
	default:
		ok = false
	}
	if !ok {
		c.switchErr = true
		return
	}
	c.extCSD[index] = value
}

// commonCommand handles the commands shared by SD cards and eMMC devices.
func (c *Card) commonCommand(idx sdcmd.Index, arg uint32, blocks int) (reply, bool) {
	addressed := uint16(arg>>16) == c.rca
	switch idx {
	case sdcmd.AllSendCID:
		if c.state != sdcmd.StateReady {
			return reply{}, false
		}
		c.state = sdcmd.StateIdent
		return reply{kind: sdcmd.RespR2, long: c.CID.Encode(c.Kind == EMMC)}, true
	case sdcmd.SendCSD:
		if c.state != sdcmd.StateStandby || !addressed {
			return reply{}, false
		}
		return reply{kind: sdcmd.RespR2, long: c.csd()}, true
	case sdcmd.SelectCard:
		if !addressed {
			if c.state == sdcmd.StateTransfer {
				c.state = sdcmd.StateStandby
			}
			return reply{}, false
		}
		if c.state != sdcmd.StateStandby {
			return reply{}, false
		}
		st := c.status()
		c.state = sdcmd.StateTransfer
		return reply{kind: sdcmd.RespR1b, short: uint32(st)}, true
	case sdcmd.SendStatus:
		if !addressed || c.state < sdcmd.StateStandby {
			return reply{}, false
		}
		st := c.status()
		c.switchErr = false
		return c.r1(st), true
	case sdcmd.StopTransmission:
		if c.FailStop || c.state != sdcmd.StateData && c.state != sdcmd.StateReceive {
			return reply{}, false
		}
		st := c.status()
		c.state = sdcmd.StateTransfer
		return reply{kind: sdcmd.RespR1b, short: uint32(st)}, true
	case sdcmd.SetBlocklen:
		if c.state != sdcmd.StateTransfer {
			return reply{}, false
		}
		st := c.status()
		if arg != sdcmd.BlockSize {
			st |= sdcmd.StatusBlockLenError
		}
		return c.r1(st), true
	case sdcmd.ReadSingleBlock, sdcmd.ReadMultipleBlock,
		sdcmd.WriteBlock, sdcmd.WriteMultipleBlock:
		if c.state != sdcmd.StateTransfer {
			return reply{}, false
		}
		if idx == sdcmd.ReadSingleBlock || idx == sdcmd.WriteBlock {
			blocks = 1
		}
		return c.blockCommand(idx, arg, blocks), true
	}
	return reply{}, false
}

func (c *Card) blockCommand(idx sdcmd.Index, arg uint32, blocks int) reply {
	st := c.status()
	lba := int64(arg)
	if !c.blockAddressed() {
		if arg%sdcmd.BlockSize != 0 {
			return c.r1(st | sdcmd.StatusAddressError)
		}
		lba /= sdcmd.BlockSize
	}
	if lba+int64(blocks) > c.Sectors {
		return c.r1(st | sdcmd.StatusOutOfRange)
	}
	off := lba * sdcmd.BlockSize
	r := c.r1(st)
	switch idx {
	case sdcmd.ReadSingleBlock, sdcmd.ReadMultipleBlock:
		r.read = make([]byte, blocks*sdcmd.BlockSize)
		if _, err := c.Store.ReadAt(r.read, off); err != nil && err != io.EOF {
			return c.r1(st | sdcmd.StatusCardECCFailed)
		}
		if idx == sdcmd.ReadMultipleBlock {
			c.state = sdcmd.StateData
		}
	default:
		r.write = func(p []byte) { c.Store.WriteAt(p, off) }
		if idx == sdcmd.WriteMultipleBlock {
			c.state = sdcmd.StateReceive
		}
	}
	return r
}

// csd returns the CSD register encoding the card's capacity.
func (c *Card) csd() sdcmd.Long {
	if c.CSD != nil {
		return *c.CSD
	}
	var r sdcmd.Long
	r.SetBits(103, 96, 0x32) // TRAN_SPEED 25MHz
	r.SetBits(83, 80, 9)     // READ_BL_LEN 512
	switch {
	case c.Kind == SDHC:
		r.SetBits(127, 126, 1)
		r.SetBits(69, 48, uint32(c.Sectors/1024-1))
	case c.Kind == EMMC && !c.LegacyCSD:
		r.SetBits(127, 126, 2)
		r.SetBits(125, 122, 4)
		r.SetBits(73, 62, 0xfff)
		r.SetBits(49, 47, 7)
	default:
		if c.Kind == EMMC {
			r.SetBits(125, 122, 4)
		}
		mult := 7
		for mult > 0 && (c.Sectors%(1<<(mult+2)) != 0 || c.Sectors>>(mult+2) > 4096) {
			mult--
		}
		r.SetBits(73, 62, uint32(c.Sectors>>(mult+2)-1))
		r.SetBits(49, 47, uint32(mult))
	}
	r.Seal()
	return r
}

// tuningPattern returns the fixed tuning block of n bytes.
func tuningPattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(0xff << (i % 8))
	}
	return p
}
