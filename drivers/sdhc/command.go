package sdhc

import (
	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/soc/cpu"
	"github.com/clktmr/sdhc/soc/timer"
)

// Command is a single command with its response.
type Command struct {
	Index sdcmd.Index
	Arg   uint32
	Resp  sdcmd.Response

	// Response holds the response after the command completed. Short
	// responses occupy Response[0], long responses are stored with the
	// most significant word first.
	Response [4]uint32
}

// Status returns the card status of an R1 or R1b response.
func (cmd *Command) Status() sdcmd.CardStatus { return sdcmd.CardStatus(cmd.Response[0]) }

// Long returns a 136 bit response as register.
func (cmd *Command) Long() sdcmd.Long { return sdcmd.Long(cmd.Response) }

type Direction uint8

const (
	Read Direction = iota
	Write
)

// Data describes the data phase of a command.
type Data struct {
	Dir Direction

	// Buf is DMA memory at bus address Addr. If Buf is nil, a single
	// block is read into the buffer data port but not transferred, which
	// is used for tuning blocks.
	Buf  []byte
	Addr cpu.Addr

	BlockSize int
	Blocks    int
}

func commandFlags(r sdcmd.Response) (f sdhci.Command) {
	switch {
	case r == sdcmd.RespNone:
		return sdhci.RespNone
	case r.Long():
		f = sdhci.Resp136
	case r.Busy():
		f = sdhci.Resp48Busy
	default:
		f = sdhci.Resp48
	}
	if r.HasCRC() {
		f |= sdhci.CRCCheck
	}
	if r.HasIndex() {
		f |= sdhci.IndexCheck
	}
	return
}

// SendCommand issues cmd and waits for its completion, including the data
// phase if data is not nil. Failed commands leave the CMD and DAT lines
// reset but are not retried. The returned error is a [*CommandError].
func (c *Controller) SendCommand(cmd *Command, data *Data) (err error) {
	defer func() {
		if err != nil {
			err = &CommandError{cmd.Index, err}
		}
	}()

	inhibit := sdhci.CmdInhibit
	if (data != nil || cmd.Resp.Busy()) && cmd.Index != sdcmd.StopTransmission {
		inhibit |= sdhci.DatInhibit
	}
	if !c.waitEscalating(c.idle(inhibit)) {
		return ErrCommandInhibitTimeout
	}
	c.regs.intStatus.Store(sdhci.IntAll)

	word := commandFlags(cmd.Resp) | sdhci.Command(cmd.Index)<<sdhci.IndexShift
	if cmd.Index == sdcmd.StopTransmission {
		word |= sdhci.TypeAbort
	}
	done := sdhci.IntCmdComplete
	reset := sdhci.ResetCmd
	if data != nil {
		word |= sdhci.DataPresent
		if data.Dir == Read {
			word |= sdhci.ModeRead
		}
		if data.Blocks > 1 {
			word |= sdhci.ModeMultiBlock | sdhci.ModeBlockCount
		}
		if data.Buf != nil {
			word |= sdhci.ModeDMA | sdhci.ModeBlockCount
			c.regs.sdmaAddr.Store(uint32(data.Addr))
		} else {
			done = sdhci.IntBufRead
		}
		c.regs.block.Store(sdhci.MakeBlock(data.BlockSize, data.Blocks))
		reset |= sdhci.ResetData
	} else if cmd.Resp.Busy() {
		reset |= sdhci.ResetData
	}

	c.regs.argument.Store(cmd.Arg)
	c.regs.command.Store(word)

	if err = c.waitCommand(done); err != nil {
		c.resetLines(reset)
		return err
	}
	c.regs.intStatus.Store(done | sdhci.IntCmdComplete)
	c.readResponse(cmd)

	switch {
	case data != nil && data.Buf != nil:
		err = c.waitData(data)
	case data == nil && cmd.Resp.Busy():
		err = c.waitBusy()
	}
	if err != nil {
		c.resetLines(reset)
	}
	return err
}

// idle returns a condition that holds if none of the inhibit bits is set.
func (c *Controller) idle(inhibit sdhci.PresentState) func() bool {
	return func() bool { return c.regs.presentState.LoadBits(inhibit) == 0 }
}

// waitEscalating polls cond with a timeout that starts at Timeouts.Command
// and doubles on each expiry until Timeouts.CommandMax is exceeded.
func (c *Controller) waitEscalating(cond func() bool) bool {
	t := c.cfg.Timeouts
	for d := t.Command; d <= t.CommandMax; d *= 2 {
		if timer.Poll(timer.After(c.clock, d), cond) {
			return true
		}
		c.log.Debug("sdhc: wait extended", "after", d)
	}
	return false
}

// waitCommand waits for the interrupt in mask and classifies errors.
func (c *Controller) waitCommand(mask sdhci.Interrupt) error {
	var st sdhci.Interrupt
	ok := c.waitEscalating(func() bool {
		st = c.regs.intStatus.Load()
		return st&(mask|sdhci.ErrMask) != 0
	})
	switch {
	case !ok:
		return ErrCommandInhibitTimeout
	case st&sdhci.ErrCmdTimeout != 0:
		return ErrResponseTimeout
	case st&sdhci.ErrCmdMask != 0:
		return ErrBadResponse
	case st&sdhci.ErrDataTimeout != 0:
		return ErrDataTimeout
	case st&sdhci.ErrMask != 0:
		return ErrDataCRC
	}
	return nil
}

func (c *Controller) readResponse(cmd *Command) {
	switch {
	case cmd.Resp == sdcmd.RespNone:
	case cmd.Resp.Long():
		// The controller strips the CRC byte, realign to the register
		// layout.
		var w [4]uint32
		for i := range w {
			w[i] = c.regs.response[i].Load()
		}
		cmd.Response = [4]uint32{
			w[3]<<8 | w[2]>>24,
			w[2]<<8 | w[1]>>24,
			w[1]<<8 | w[0]>>24,
			w[0] << 8,
		}
	default:
		cmd.Response[0] = c.regs.response[0].Load()
	}
}

// waitData waits for the end of the data phase, moving the SDMA address to
// the next boundary window whenever the controller pauses.
func (c *Controller) waitData(data *Data) error {
	addr := data.Addr
	deadline := timer.After(c.clock, c.cfg.Timeouts.Data)
	for {
		st := c.regs.intStatus.Load()
		switch {
		case st&sdhci.ErrDataTimeout != 0:
			return ErrDataTimeout
		case st&sdhci.ErrMask != 0:
			return ErrDataCRC
		case st&sdhci.IntXferComplete != 0:
			c.regs.intStatus.Store(sdhci.IntXferComplete | sdhci.IntDMA)
			return nil
		case st&sdhci.IntDMA != 0:
			c.regs.intStatus.Store(sdhci.IntDMA)
			addr = addr.AlignDown(sdhci.BoundarySize).Add(sdhci.BoundarySize)
			c.regs.sdmaAddr.Store(uint32(addr))
			deadline = timer.After(c.clock, c.cfg.Timeouts.Data)
			continue
		}
		if deadline.Expired() {
			return ErrDataTimeout
		}
	}
}

// waitBusy waits for the end of busy signalling after an R1b response.
func (c *Controller) waitBusy() error {
	var st sdhci.Interrupt
	ok := timer.Poll(timer.After(c.clock, c.cfg.Timeouts.Data), func() bool {
		st = c.regs.intStatus.Load()
		return st&(sdhci.IntXferComplete|sdhci.ErrMask) != 0
	})
	if !ok || st&sdhci.ErrDataTimeout != 0 {
		return ErrDataTimeout
	}
	if st&sdhci.ErrMask != 0 {
		return ErrDataCRC
	}
	c.regs.intStatus.Store(sdhci.IntXferComplete)
	return nil
}

// send is a shorthand for commands without data phase.
func (c *Controller) send(idx sdcmd.Index, arg uint32, resp sdcmd.Response) (Command, error) {
	cmd := Command{Index: idx, Arg: arg, Resp: resp}
	err := c.SendCommand(&cmd, nil)
	return cmd, err
}

// sendApp sends an application specific command prefixed by APP_CMD.
func (c *Controller) sendApp(idx sdcmd.Index, arg uint32, resp sdcmd.Response) (Command, error) {
	if _, err := c.send(sdcmd.AppCmd, c.card.RCA, sdcmd.RespR1); err != nil {
		return Command{}, err
	}
	return c.send(idx, arg, resp)
}

// readBlock reads a single block of size n into the scratch buffer with a
// data command.
func (c *Controller) readBlock(idx sdcmd.Index, arg uint32, n int) ([]byte, error) {
	p := c.scratch[:n]
	cpu.InvalidateSlice(c.cache, c.scratch[:sdcmd.BlockSize])
	cmd := Command{Index: idx, Arg: arg, Resp: sdcmd.RespR1}
	err := c.SendCommand(&cmd, &Data{Dir: Read, Buf: p, Addr: c.scratchAddr, BlockSize: n, Blocks: 1})
	return p, err
}
