package sdhc

import (
	"errors"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
)

// Mode is a bus speed mode.
type Mode uint8

const (
	DefaultSpeed Mode = iota // SD default speed
	HighSpeed                // SD high speed or UHS SDR25
	SDR50
	SDR104
	Legacy // eMMC backwards compatible timing
	HS52
	DDR52
	HS200
)

var modeNames = [...]string{"default", "high-speed", "SDR50", "SDR104", "legacy", "HS52", "DDR52", "HS200"}

func (m Mode) String() string { return modeNames[m] }

// signaling selects the host timing bits of a mode.
type signaling uint8

const (
	sigLegacy signaling = iota
	sigHighSpeed
	sigUHS
	sigDDR
	sigHS200
)

// rung is an entry of a speed mode ladder.
type rung struct {
	mode   Mode
	hz     uint32
	sig    signaling
	uhs    sdhci.HostControl2
	need   Caps
	access sdcmd.AccessMode // SD only
}

var sdLadder = []rung{
	{SDR104, 200_000_000, sigUHS, sdhci.UHSSDR104, CapSDR104 | Cap18V, sdcmd.AccessSDR104},
	{SDR50, 100_000_000, sigUHS, sdhci.UHSSDR50, CapSDR50 | Cap18V, sdcmd.AccessSDR50},
	{HighSpeed, 50_000_000, sigHighSpeed, sdhci.UHSSDR25, CapHighSpeed, sdcmd.AccessHighSpeed},
	{DefaultSpeed, 25_000_000, sigLegacy, sdhci.UHSSDR12, 0, sdcmd.AccessDefault},
}

var emmcLadder = []rung{
	{HS200, 200_000_000, sigHS200, sdhci.UHSHS200, CapHS200 | Cap18V, 0},
	{DDR52, 52_000_000, sigDDR, sdhci.UHSDDR50, CapDDR50 | CapHighSpeed, 0},
	{HS52, 52_000_000, sigHighSpeed, sdhci.UHSSDR25, CapHighSpeed, 0},
	{Legacy, 26_000_000, sigLegacy, sdhci.UHSSDR12, 0, 0},
}

// Negotiate selects the fastest mode supported by the host and accepted by
// the card whose frequency doesn't exceed ceiling. Modes rejected by the
// card are skipped. If all modes are rejected, the card stays at default
// timing. Tuning failures are logged but don't fail negotiation.
func (c *Controller) Negotiate(ceiling uint32) error {
	f := familyOf(c.card.Type)
	if f == nil {
		return ErrNotReady
	}
	ladder := f.ladder()
	for _, r := range ladder {
		if !c.eligible(r, ceiling) {
			continue
		}
		if r.sig != sigLegacy {
			err := f.switchMode(c, r)
			if errors.Is(err, ErrCardRejected) {
				c.log.Debug("sdhc: mode rejected", "mode", r.mode)
				continue
			}
			if err != nil {
				return err
			}
		}
		return c.commit(f, r, ceiling)
	}
	return c.commit(f, ladder[len(ladder)-1], ceiling)
}

// eligible reports whether the host can run r below ceiling.
func (c *Controller) eligible(r rung, ceiling uint32) bool {
	if r.hz > ceiling || c.caps&r.need != r.need {
		return false
	}
	switch r.sig {
	case sigUHS:
		return c.card.Voltage == Signal18V
	case sigDDR, sigHS200:
		return c.card.BusWidth > 1
	}
	return true
}

// commit programs the host for r after the card switched.
func (c *Controller) commit(f family, r rung, ceiling uint32) error {
	if !c.waitEscalating(c.idle(sdhci.CmdInhibit | sdhci.DatInhibit)) {
		return ErrCommandInhibitTimeout
	}
	c.stopClock()
	if r.sig == sigLegacy {
		c.regs.hostControl.ClearBits(sdhci.HighSpeed)
	} else {
		c.regs.hostControl.SetBits(sdhci.HighSpeed)
	}
	c.regs.hostControl2.StoreBits(sdhci.UHSModeMask, r.uhs)
	if r.sig == sigHS200 {
		c.regs.hostControl2.SetBits(sdhci.Signal18V)
		c.card.Voltage = Signal18V
	}
	if err := c.startClock(min(r.hz, ceiling)); err != nil {
		return err
	}
	c.card.Mode = r.mode
	c.log.Debug("sdhc: mode", "mode", r.mode, "hz", c.card.Clock)

	if c.card.Clock < tuningThreshold || c.caps&CapTuning == 0 {
		return nil
	}
	err := c.tune(f)
	if errors.Is(err, ErrTuningFailed) {
		c.log.Warn("sdhc: using untuned sampling clock", "mode", r.mode, "err", err)
		return nil
	}
	return err
}
