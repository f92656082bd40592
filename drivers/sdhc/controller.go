// Package sdhc drives SD memory cards and eMMC devices attached to an SD
// Host Controller Specification v3.00 compliant controller.
//
// A [Controller] owns one slot of the controller and the card session of the
// card inserted into it. After [Open], [Controller.Init] identifies the card,
// negotiates the fastest mode both sides support and leaves the card ready
// for block transfers with [Controller.Transfer]. All data moves through a
// scratch buffer reserved from a [dma.Region] using SDMA.
//
// The driver polls and busy-waits, it doesn't use interrupts on the command
// path. A Controller must not be used concurrently, see [Device] for a
// synchronized wrapper.
package sdhc

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/soc"
	"github.com/clktmr/sdhc/soc/cpu"
	"github.com/clktmr/sdhc/soc/dma"
	"github.com/clktmr/sdhc/soc/timer"
)

// Caps are optional features of a controller instance. Features are only
// used if both the controller's capability registers and [Config.Caps]
// enable them, which allows to disable features a board can't support, e.g.
// the 1.8V signalling of a slot without a switchable regulator.
type Caps uint32

const (
	Cap18V Caps = 1 << iota
	CapTuning
	CapHighSpeed
	CapSDR50
	CapSDR104
	CapDDR50
	CapHS200
	Cap8Bit

	CapAll = Cap18V | CapTuning | CapHighSpeed | CapSDR50 | CapSDR104 |
		CapDDR50 | CapHS200 | Cap8Bit
)

// Timeouts bound all waits of the driver. Zero fields are replaced by the
// corresponding field of [DefaultTimeouts].
type Timeouts struct {
	// Command is the initial bound for the command inhibit and command
	// completion waits. It's doubled on each expiry until CommandMax is
	// exceeded.
	Command    time.Duration
	CommandMax time.Duration

	// Data bounds each SDMA window of a data transfer and busy signalling.
	Data time.Duration

	Reset time.Duration
	Clock time.Duration
}

var DefaultTimeouts = Timeouts{
	Command:    100 * time.Millisecond,
	CommandMax: 3200 * time.Millisecond,
	Data:       time.Second,
	Reset:      100 * time.Millisecond,
	Clock:      100 * time.Millisecond,
}

// Config configures a controller instance.
type Config struct {
	// Region provides the DMA scratch buffer. Required.
	Region *dma.Region

	// Cache maintains the scratch buffer around DMA, defaults to
	// cpu.Coherent.
	Cache cpu.Cache

	// Clock is the time base of all timeouts, defaults to timer.System.
	Clock timer.Clock

	// BaseClock is the controller's base clock in Hz. If zero it's read
	// from the capabilities register.
	BaseClock uint32

	// MaxFrequency is the ceiling for the SD clock, defaults to 200MHz.
	MaxFrequency uint32

	// ScratchBlocks is the size of the scratch buffer in blocks, which
	// is the maximum number of blocks per command. Defaults to 128.
	ScratchBlocks int

	// BusWidth8 selects the 8-bit bus for eMMC devices.
	BusWidth8 bool

	// Caps masks the detected capabilities, zero enables all.
	Caps Caps

	Timeouts Timeouts

	// Logger receives the driver's log output, defaults to discarding.
	Logger *slog.Logger
}

const (
	identFrequency   = 400_000
	defaultFrequency = 25_000_000
	maxFrequency     = 200_000_000

	// Modes running at or above this frequency need sampling point tuning.
	tuningThreshold = 100_000_000
)

// Controller is one slot of an SDHCI controller.
type Controller struct {
	regs  *registers
	cfg   Config
	log   *slog.Logger
	clock timer.Clock
	cache cpu.Cache
	base  uint32
	caps  Caps

	scratch     []byte
	scratchAddr cpu.Addr

	card   Card
	detect bool
}

// Open resets the controller, powers the bus and reserves the scratch
// buffer. The card session is empty until [Controller.Init] is called.
func Open(bus soc.Bus, cfg Config) (*Controller, error) {
	if cfg.Region == nil {
		return nil, errors.New("sdhc: no DMA region")
	}
	if cfg.Cache == nil {
		cfg.Cache = cpu.Coherent{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timer.System
	}
	if cfg.MaxFrequency == 0 {
		cfg.MaxFrequency = maxFrequency
	}
	if cfg.ScratchBlocks <= 0 {
		cfg.ScratchBlocks = 128
	}
	if cfg.Caps == 0 {
		cfg.Caps = CapAll
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	c := &Controller{
		regs:  newRegisters(bus),
		cfg:   cfg,
		log:   cfg.Logger,
		clock: cfg.Clock,
		cache: cfg.Cache,
	}

	caps, caps1 := c.regs.caps.Load(), c.regs.caps1.Load()
	if caps&sdhci.CapSDMA == 0 {
		return nil, errors.New("sdhc: controller lacks SDMA")
	}
	c.caps = detectCaps(caps, caps1) & cfg.Caps
	c.base = cfg.BaseClock
	if c.base == 0 {
		c.base = caps.BaseClock()
	}
	if c.base == 0 {
		return nil, errors.New("sdhc: unknown base clock")
	}

	addr, buf, err := cfg.Region.Reserve(cfg.ScratchBlocks*sdcmd.BlockSize, sdcmd.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("sdhc: scratch buffer: %w", err)
	}
	c.scratch, c.scratchAddr = buf, addr

	if err := c.Reset(); err != nil {
		cfg.Region.Release(addr)
		return nil, err
	}
	c.log.Debug("sdhc: controller opened", "version", c.regs.version.Load().Spec(),
		"base", c.base, "caps", fmt.Sprintf("%#x", c.caps))
	return c, nil
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts
	if t.Command == 0 {
		t.Command = d.Command
	}
	if t.CommandMax == 0 {
		t.CommandMax = d.CommandMax
	}
	t.CommandMax = max(t.CommandMax, t.Command)
	if t.Data == 0 {
		t.Data = d.Data
	}
	if t.Reset == 0 {
		t.Reset = d.Reset
	}
	if t.Clock == 0 {
		t.Clock = d.Clock
	}
	return t
}

func detectCaps(caps sdhci.Caps, caps1 sdhci.Caps1) (c Caps) {
	if caps&sdhci.CapV18 != 0 {
		c |= Cap18V
	}
	if caps&sdhci.CapHighSpeed != 0 {
		c |= CapHighSpeed
	}
	if caps&sdhci.Cap8Bit != 0 {
		c |= Cap8Bit
	}
	if caps1&sdhci.CapSDR50 != 0 {
		c |= CapSDR50
	}
	if caps1&sdhci.CapSDR104 != 0 {
		c |= CapSDR104 | CapHS200 | CapTuning
	}
	if caps1&sdhci.CapDDR50 != 0 {
		c |= CapDDR50
	}
	if caps1&sdhci.CapTuningSDR50 != 0 {
		c |= CapTuning
	}
	return
}

// Close releases the scratch buffer. The controller must not be used
// afterwards.
func (c *Controller) Close() error {
	c.card = Card{}
	return c.cfg.Region.Release(c.scratchAddr)
}

// Caps returns the capabilities in use.
func (c *Controller) Caps() Caps { return c.caps }

// Card returns the current card session.
func (c *Controller) Card() Card { return c.card }

// Reset performs a software reset of the whole controller and powers the bus
// at 3.3V with the identification clock. The card session is invalidated.
func (c *Controller) Reset() error {
	c.card = Card{BusWidth: 1}
	if err := c.resetLines(sdhci.ResetAll); err != nil {
		return err
	}
	c.regs.hostControl.Store(sdhci.BusPower | sdhci.Voltage33 | sdhci.DMASelectSDMA)
	c.regs.intEnable.Store(sdhci.IntCmdComplete | sdhci.IntXferComplete |
		sdhci.IntDMA | sdhci.IntBufRead | sdhci.ErrMask)
	c.regs.signalEnable.Store(0)
	if c.detect {
		c.EnableCardDetect()
	}
	return c.startClock(identFrequency)
}

// resetLines issues a software reset and waits until it completes.
func (c *Controller) resetLines(mask sdhci.ClockControl) error {
	c.regs.clockControl.SetBits(mask)
	ok := timer.Poll(timer.After(c.clock, c.cfg.Timeouts.Reset), func() bool {
		return c.regs.clockControl.LoadBits(mask) == 0
	})
	if !ok {
		return ErrResetTimeout
	}
	return nil
}

// EnableCardDetect arms the card insertion and removal interrupts, also
// across later resets. The interrupt must be routed and handled by the
// board, which calls [Controller.CardEvent].
func (c *Controller) EnableCardDetect() {
	mask := sdhci.IntCardInsert | sdhci.IntCardRemove
	c.regs.intEnable.SetBits(mask)
	c.regs.signalEnable.SetBits(mask)
	c.detect = true
}

// CardEvent acknowledges pending card detect interrupts and reports which
// occurred. A removal invalidates the card session.
func (c *Controller) CardEvent() (inserted, removed bool) {
	st := c.regs.intStatus.LoadBits(sdhci.IntCardInsert | sdhci.IntCardRemove)
	if st == 0 {
		return
	}
	c.regs.intStatus.Store(st)
	inserted, removed = st&sdhci.IntCardInsert != 0, st&sdhci.IntCardRemove != 0
	if removed {
		c.card.ready = false
	}
	return
}

// CardPresent reports if a card is inserted and the detect signal is stable.
func (c *Controller) CardPresent() bool {
	mask := sdhci.CardInserted | sdhci.CardStable
	return c.regs.presentState.LoadBits(mask) == mask
}
