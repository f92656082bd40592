// Package sdsim simulates an SDHCI host controller with an attached SD card
// or eMMC device.
//
// The simulation is synchronous: commands complete while the command
// register is written and DMA progresses until the next SDMA boundary. It
// records protocol violations of the driver instead of failing, so that
// tests can assert on them.
package sdsim

import (
	"fmt"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/soc/cpu"
)

// Memory resolves bus addresses for the DMA engine. It's implemented by
// [dma.Region].
type Memory interface {
	Slice(addr cpu.Addr, n int) ([]byte, bool)
}

// Host implements [soc.Bus] for an SDHCI v3 register block.
type Host struct {
	Card *Card
	Mem  Memory

	Caps    sdhci.Caps
	Caps1   sdhci.Caps1
	Version sdhci.Version

	// TuningSteps is the number of tuning blocks after which the
	// execute tuning procedure succeeds, zero never succeeds.
	TuningSteps int

	// StableLoads is the number of clock control reads until the internal
	// clock reports stable.
	StableLoads int

	// InhibitLoads is the number of present state reads that report the
	// CMD line inhibited after each command.
	InhibitLoads int

	// Stuck keeps CMD and DAT inhibited forever, Mute suppresses command
	// completion.
	Stuck, Mute bool

	// StallData keeps DMA transfers from making progress.
	StallData bool

	// Records of what happened on the bus.
	Violations     []string
	Clocks         []uint32 // SD clock frequency on each enable
	DLL            []sdhci.DLLControl
	Commands       []sdcmd.Index
	DMARearms      int
	TuningCommands int

	regs     [sdhci.OffCaps / 4]uint32
	status   sdhci.Interrupt
	stableIn int
	inhibit  int
	tuneStep int
	dll      sdhci.DLLControl
	xfer     *transfer
}

type transfer struct {
	read   bool
	buf    []byte
	pos    int
	addr   cpu.Addr
	commit func([]byte)
	paused bool
}

// NewHost returns a controller with a 200MHz base clock supporting all UHS
// modes.
func NewHost(mem Memory, card *Card) *Host {
	return &Host{
		Card: card,
		Mem:  mem,
		Caps: 200<<sdhci.CapBaseClockShift | sdhci.CapV33 | sdhci.CapV18 |
			sdhci.CapSDMA | sdhci.CapHighSpeed | sdhci.Cap8Bit,
		Caps1:       sdhci.CapSDR50 | sdhci.CapSDR104 | sdhci.CapDDR50 | sdhci.CapTuningSDR50,
		Version:     sdhci.SpecV3 << 16,
		TuningSteps: 5,
		StableLoads: 2,
	}
}

func (h *Host) violate(format string, args ...any) {
	h.Violations = append(h.Violations, fmt.Sprintf(format, args...))
}

// Insert attaches a card and raises the card insertion interrupt if it's
// enabled.
func (h *Host) Insert(c *Card) {
	h.Card = c
	h.latch(sdhci.IntCardInsert)
}

// Remove detaches the card and raises the card removal interrupt if it's
// enabled.
func (h *Host) Remove() {
	h.Card = nil
	h.xfer = nil
	h.latch(sdhci.IntCardRemove)
}

// latch sets status bits that are only recorded while enabled.
func (h *Host) latch(st sdhci.Interrupt) {
	h.status |= st & sdhci.Interrupt(*h.reg(sdhci.OffIntEnable))
}

func (h *Host) reg(off uintptr) *uint32 { return &h.regs[off/4] }

func (h *Host) clockControl() sdhci.ClockControl {
	return sdhci.ClockControl(*h.reg(sdhci.OffClockControl))
}

func (h *Host) hostControl2() sdhci.HostControl2 {
	return sdhci.HostControl2(*h.reg(sdhci.OffHostControl2))
}

func (h *Host) sdClockOn() bool { return h.clockControl()&sdhci.SDClockEnable != 0 }

// Frequency returns the current SD clock frequency in Hz, zero if stopped.
func (h *Host) Frequency() uint32 {
	if !h.sdClockOn() {
		return 0
	}
	base := h.Caps.BaseClock()
	if n := h.clockControl().Divider(); n != 0 {
		return base / (2 * n)
	}
	return base
}

// HostControl2 returns the host control 2 register.
func (h *Host) HostControl2() sdhci.HostControl2 { return h.hostControl2() }

// ClockControl returns the clock control register.
func (h *Host) ClockControl() sdhci.ClockControl { return h.clockControl() }

// HostControl returns the host control 1 and power control register.
func (h *Host) HostControl() sdhci.HostControl {
	return sdhci.HostControl(*h.reg(sdhci.OffHostControl))
}

func (h *Host) width() int {
	switch hc := h.HostControl(); {
	case hc&sdhci.DataWidth8 != 0:
		return 8
	case hc&sdhci.DataWidth4 != 0:
		return 4
	}
	return 1
}

func (h *Host) Load32(off uintptr) uint32 {
	switch off {
	case sdhci.OffPresentState:
		return uint32(h.presentState())
	case sdhci.OffIntStatus:
		st := h.status & sdhci.Interrupt(*h.reg(sdhci.OffIntEnable))
		if st&sdhci.ErrMask != 0 {
			st |= sdhci.IntError
		}
		return uint32(st)
	case sdhci.OffClockControl:
		cc := h.clockControl()
		if cc&sdhci.InternalClockEnable != 0 {
			if h.stableIn > 0 {
				h.stableIn--
			} else {
				cc |= sdhci.InternalClockStable
			}
		}
		return uint32(cc)
	case sdhci.OffCaps:
		return uint32(h.Caps)
	case sdhci.OffCaps1:
		return uint32(h.Caps1)
	case sdhci.OffVersion:
		return uint32(h.Version)
	case sdhci.OffVendor + sdhci.OffDLLControl:
		return uint32(h.dll)
	case sdhci.OffVendor + sdhci.OffDLLStatus:
		if h.dll&sdhci.DLLEnable != 0 {
			return uint32(sdhci.DLLLocked)
		}
		return 0
	}
	if off < sdhci.OffCaps {
		return *h.reg(off)
	}
	return 0
}

func (h *Host) Store32(off uintptr, v uint32) {
	switch off {
	case sdhci.OffSDMAAddr:
		*h.reg(off) = v
		if h.xfer != nil && h.xfer.paused {
			h.DMARearms++
			h.xfer.addr = cpu.Addr(v)
			h.xfer.paused = false
			h.run()
		}
	case sdhci.OffCommand:
		*h.reg(off) = v
		h.issue(sdhci.Command(v))
	case sdhci.OffIntStatus:
		h.status &^= sdhci.Interrupt(v)
	case sdhci.OffClockControl:
		h.storeClock(sdhci.ClockControl(v))
	case sdhci.OffHostControl2:
		h.storeHostControl2(sdhci.HostControl2(v))
	case sdhci.OffPresentState, sdhci.OffResponse, sdhci.OffResponse + 4,
		sdhci.OffResponse + 8, sdhci.OffResponse + 12:
		// read-only
	case sdhci.OffVendor + sdhci.OffDLLControl:
		h.dll = sdhci.DLLControl(v)
		h.DLL = append(h.DLL, h.dll)
	default:
		if off < sdhci.OffCaps {
			*h.reg(off) = v
		}
	}
}

func (h *Host) presentState() (ps sdhci.PresentState) {
	if h.Stuck {
		ps |= sdhci.CmdInhibit | sdhci.DatInhibit
	}
	if h.inhibit > 0 {
		h.inhibit--
		ps |= sdhci.CmdInhibit
	}
	if h.xfer != nil {
		ps |= sdhci.DatInhibit | sdhci.DatActive
	}
	if h.Card != nil {
		ps |= sdhci.CardInserted | sdhci.CardStable | sdhci.CardDetectLevel | sdhci.CmdLevel
		if !h.Card.switching {
			ps |= sdhci.DatLevelMask
		}
	} else {
		ps |= sdhci.DatLevelMask | sdhci.CmdLevel
	}
	return
}

func (h *Host) storeClock(v sdhci.ClockControl) {
	if v&sdhci.ResetAll != 0 {
		h.resetAll()
		return
	}
	if v&sdhci.ResetCmd != 0 {
		h.inhibit = 0
	}
	if v&sdhci.ResetData != 0 {
		h.xfer = nil
		h.status &^= sdhci.IntXferComplete | sdhci.IntDMA | sdhci.IntBufRead
	}
	old := h.clockControl()
	v &^= sdhci.ResetMask | sdhci.InternalClockStable
	if old&sdhci.SDClockEnable != 0 && old.Divider() != v.Divider() {
		h.violate("divider changed from %d to %d while SD clock running", old.Divider(), v.Divider())
	}
	if v&sdhci.InternalClockEnable != 0 && (old&sdhci.InternalClockEnable == 0 || old.Divider() != v.Divider()) {
		h.stableIn = h.StableLoads
	}
	*h.reg(sdhci.OffClockControl) = uint32(v)
	if v&sdhci.SDClockEnable != 0 && old&sdhci.SDClockEnable == 0 {
		if v&sdhci.InternalClockEnable == 0 || h.stableIn > 0 {
			h.violate("SD clock enabled before internal clock stable")
		}
		h.Clocks = append(h.Clocks, h.Frequency())
	}
	h.update()
}

func (h *Host) storeHostControl2(v sdhci.HostControl2) {
	old := h.hostControl2()
	if (old^v)&sdhci.Signal18V != 0 && h.sdClockOn() {
		h.violate("signal voltage changed while SD clock running")
	}
	if h.Caps&sdhci.CapV18 == 0 {
		v &^= sdhci.Signal18V
	}
	if v&sdhci.ExecTuning != 0 && old&sdhci.ExecTuning == 0 {
		h.tuneStep = 0
		v &^= sdhci.SampleClock
	}
	*h.reg(sdhci.OffHostControl2) = uint32(v)
	h.update()
}

// update completes a pending voltage switch of the card.
func (h *Host) update() {
	c := h.Card
	if c != nil && c.switching && !c.HoldDAT && h.hostControl2()&sdhci.Signal18V != 0 && h.sdClockOn() {
		c.switching = false
		c.v18 = true
	}
}

func (h *Host) resetAll() {
	h.regs = [len(h.regs)]uint32{}
	h.status = 0
	h.stableIn = 0
	h.inhibit = 0
	h.tuneStep = 0
	h.xfer = nil
}

func (h *Host) fail(err sdhci.Interrupt) {
	h.status |= err
}

func (h *Host) issue(cmd sdhci.Command) {
	idx := sdcmd.Index(cmd.Index())
	arg := *h.reg(sdhci.OffArgument)
	h.Commands = append(h.Commands, idx)
	if h.Stuck || h.Mute {
		return
	}
	if !h.sdClockOn() {
		h.violate("%v issued with SD clock stopped", idx)
		h.fail(sdhci.ErrCmdTimeout)
		return
	}
	h.inhibit = h.InhibitLoads
	c := h.Card
	if c == nil {
		h.fail(sdhci.ErrCmdTimeout)
		return
	}
	if f, limit := h.Frequency(), c.maxClock(); f > limit && idx != sdcmd.GoIdleState {
		h.violate("%v issued at %dHz, card accepts %dHz in state %v", idx, f, limit, c.state)
	}

	blk := sdhci.Block(*h.reg(sdhci.OffBlock))
	blocks := 1
	if cmd&sdhci.ModeMultiBlock != 0 {
		blocks = blk.Count()
	}
	r, ok := c.command(idx, arg, blocks)
	if !ok {
		h.fail(sdhci.ErrCmdTimeout)
		return
	}

	resp := h.regs[sdhci.OffResponse/4 : sdhci.OffResponse/4+4]
	switch cmd & sdhci.RespMask {
	case sdhci.Resp136:
		if r.kind != sdcmd.RespR2 {
			h.violate("%v: expected 136 bit response, card sent %v", idx, r.kind)
		}
		// The controller strips the CRC byte.
		w := r.long
		resp[0] = w[2]<<24 | w[3]>>8
		resp[1] = w[1]<<24 | w[2]>>8
		resp[2] = w[0]<<24 | w[1]>>8
		resp[3] = w[0] >> 8
		if cmd&sdhci.CRCCheck != 0 && !w.ValidCRC() {
			h.fail(sdhci.ErrCmdCRC)
		}
		if cmd&sdhci.IndexCheck != 0 {
			h.fail(sdhci.ErrCmdIndex)
		}
	case sdhci.Resp48, sdhci.Resp48Busy:
		if r.kind == sdcmd.RespR2 || r.kind == sdcmd.RespNone {
			h.violate("%v: expected 48 bit response, card sent %v", idx, r.kind)
		}
		f := sdcmd.ResponseFrame(idx, r.kind, r.short)
		resp[0] = f.Payload()
		if cmd&sdhci.CRCCheck != 0 && !f.ValidCRC() {
			h.fail(sdhci.ErrCmdCRC)
		}
		if cmd&sdhci.IndexCheck != 0 && f.Index() != idx {
			h.fail(sdhci.ErrCmdIndex)
		}
	default:
		if r.kind != sdcmd.RespNone {
			h.violate("%v: response %v ignored", idx, r.kind)
		}
	}
	if h.status&sdhci.ErrMask != 0 {
		return
	}
	h.status |= sdhci.IntCmdComplete

	if cmd&sdhci.DataPresent == 0 {
		if cmd&sdhci.RespMask == sdhci.Resp48Busy {
			h.status |= sdhci.IntXferComplete
		}
		if r.read != nil || r.write != nil {
			h.violate("%v: data phase without data present", idx)
		}
		return
	}
	if r.read == nil && r.write == nil {
		h.fail(sdhci.ErrDataTimeout)
		return
	}
	if h.width() != c.width {
		h.fail(sdhci.ErrDataCRC)
		return
	}
	read := cmd&sdhci.ModeRead != 0
	if read != (r.read != nil) {
		h.violate("%v: wrong transfer direction", idx)
		h.fail(sdhci.ErrDataEndBit)
		return
	}
	if cmd&sdhci.ModeDMA == 0 {
		h.tuningBlock(idx)
		return
	}

	n := blk.Size() * blocks
	x := &transfer{read: read, addr: cpu.Addr(*h.reg(sdhci.OffSDMAAddr))}
	if read {
		if len(r.read) != n {
			h.violate("%v: host expects %d bytes, card sends %d", idx, n, len(r.read))
			h.fail(sdhci.ErrDataEndBit)
			return
		}
		x.buf = r.read
	} else {
		x.buf = make([]byte, n)
		x.commit = r.write
	}
	h.xfer = x
	if !h.StallData {
		h.run()
	}
}

// tuningBlock handles a tuning block read through the buffer data port.
func (h *Host) tuningBlock(idx sdcmd.Index) {
	h.status |= sdhci.IntBufRead
	hc2 := h.hostControl2()
	if hc2&sdhci.ExecTuning == 0 {
		return
	}
	h.TuningCommands++
	h.tuneStep++
	if h.TuningSteps > 0 && h.tuneStep >= h.TuningSteps {
		hc2 = hc2&^sdhci.ExecTuning | sdhci.SampleClock
		*h.reg(sdhci.OffHostControl2) = uint32(hc2)
	}
}

// run moves data until the transfer completes or the SDMA address reaches a
// buffer boundary.
func (h *Host) run() {
	x := h.xfer
	for x.pos < len(x.buf) {
		n := sdhci.BoundarySize - int(x.addr%sdhci.BoundarySize)
		n = min(n, len(x.buf)-x.pos)
		mem, ok := h.Mem.Slice(x.addr, n)
		if !ok {
			h.violate("DMA to unmapped address %#x", x.addr)
			h.fail(sdhci.ErrADMA)
			h.xfer = nil
			return
		}
		if x.read {
			copy(mem, x.buf[x.pos:])
		} else {
			copy(x.buf[x.pos:], mem)
		}
		x.pos += n
		x.addr = x.addr.Add(n)
		*h.reg(sdhci.OffSDMAAddr) = uint32(x.addr)
		if x.pos < len(x.buf) && x.addr%sdhci.BoundarySize == 0 {
			x.paused = true
			h.status |= sdhci.IntDMA
			return
		}
	}
	if x.commit != nil {
		x.commit(x.buf)
	}
	h.xfer = nil
	h.status |= sdhci.IntXferComplete
}
