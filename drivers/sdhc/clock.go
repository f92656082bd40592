package sdhc

import (
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/soc/timer"
)

// SetClock changes the SD clock to the highest frequency not above hz. It
// waits for the bus to be idle, since the clock is stopped while the divider
// changes.
func (c *Controller) SetClock(hz uint32) error {
	if !c.waitEscalating(c.idle(sdhci.CmdInhibit | sdhci.DatInhibit)) {
		return ErrCommandInhibitTimeout
	}
	c.stopClock()
	return c.startClock(hz)
}

func (c *Controller) stopClock() {
	c.regs.clockControl.ClearBits(sdhci.SDClockEnable)
}

// startClock programs the divider for hz and enables the SD clock as soon as
// the internal clock is stable. The SD clock must be stopped.
func (c *Controller) startClock(hz uint32) error {
	n := divider(c.base, min(hz, c.cfg.MaxFrequency))
	cc := c.regs.clockControl.LoadBits(sdhci.TimeoutMask|sdhci.ClockGenSelect) |
		sdhci.MakeDivider(n) | sdhci.InternalClockEnable
	if cc&sdhci.TimeoutMask == 0 {
		cc |= sdhci.TimeoutMax
	}
	c.regs.clockControl.Store(cc)
	if err := c.waitClockStable(); err != nil {
		return err
	}
	c.regs.clockControl.SetBits(sdhci.SDClockEnable)
	c.card.Clock = frequency(c.base, n)
	c.log.Debug("sdhc: clock", "hz", c.card.Clock, "divider", n)
	return nil
}

func (c *Controller) waitClockStable() error {
	ok := timer.Poll(timer.After(c.clock, c.cfg.Timeouts.Clock), func() bool {
		return c.regs.clockControl.LoadBits(sdhci.InternalClockStable) != 0
	})
	if !ok {
		return ErrClockTimeout
	}
	return nil
}

// divider returns the 10-bit divider producing the highest frequency not
// above hz from base.
func divider(base, hz uint32) uint32 {
	if hz == 0 {
		return sdhci.MaxDivider
	}
	if hz >= base {
		return 0
	}
	n := (base + 2*hz - 1) / (2 * hz)
	return min(n, sdhci.MaxDivider)
}

func frequency(base, n uint32) uint32 {
	if n == 0 {
		return base
	}
	return base / (2 * n)
}
