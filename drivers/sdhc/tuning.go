package sdhc

import (
	"fmt"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/soc/timer"
)

const maxTuningBlocks = 16

// tune runs the execute tuning procedure for the sampling clock. On failure
// the fixed sampling clock is selected and ErrTuningFailed returned, the
// clock and timing configuration is kept in both cases.
func (c *Controller) tune(f family) error {
	if err := c.resetTuning(); err != nil {
		return err
	}

	size := 64
	if c.card.Type == EMMC && c.card.BusWidth == 8 {
		size = 128
	}
	c.regs.hostControl2.SetBits(sdhci.ExecTuning)
	for i := range maxTuningBlocks {
		cmd := Command{Index: f.tuningCommand(), Resp: sdcmd.RespR1}
		if err := c.SendCommand(&cmd, &Data{Dir: Read, BlockSize: size, Blocks: 1}); err != nil {
			c.regs.hostControl2.ClearBits(sdhci.ExecTuning | sdhci.SampleClock)
			return fmt.Errorf("%w: %w", ErrTuningFailed, err)
		}
		hc2 := c.regs.hostControl2.Load()
		if hc2&sdhci.ExecTuning != 0 {
			continue
		}
		if hc2&sdhci.SampleClock != 0 {
			c.log.Debug("sdhc: tuned", "blocks", i+1)
			return nil
		}
		break
	}
	c.regs.hostControl2.ClearBits(sdhci.ExecTuning | sdhci.SampleClock)
	return ErrTuningFailed
}

// resetTuning resets the controller to discard a previous tuning result
// while keeping its configuration, then relocks the DLL.
func (c *Controller) resetTuning() error {
	r := c.regs
	hc, cc, hc2 := r.hostControl.Load(), r.clockControl.Load(), r.hostControl2.Load()
	ie, se, blk := r.intEnable.Load(), r.signalEnable.Load(), r.block.Load()

	if err := c.resetLines(sdhci.ResetAll); err != nil {
		return err
	}
	r.hostControl.Store(hc)
	r.hostControl2.Store(hc2 &^ (sdhci.ExecTuning | sdhci.SampleClock))
	r.intEnable.Store(ie)
	r.signalEnable.Store(se)
	r.block.Store(blk)

	r.clockControl.Store(cc &^ (sdhci.SDClockEnable | sdhci.InternalClockStable | sdhci.ResetMask))
	if err := c.waitClockStable(); err != nil {
		return err
	}
	r.clockControl.SetBits(sdhci.SDClockEnable)

	r.dllControl.Store(sdhci.DLLReset)
	r.dllControl.Store(sdhci.DLLEnable)
	ok := timer.Poll(timer.After(c.clock, c.cfg.Timeouts.Clock), func() bool {
		return r.dllStatus.LoadBits(sdhci.DLLLocked) != 0
	})
	if !ok {
		return ErrClockTimeout
	}
	return nil
}
