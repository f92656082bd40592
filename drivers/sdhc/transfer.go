package sdhc

import (
	"fmt"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/soc/cpu"
)

// Transfer reads or writes count sectors starting at sector start. Data is
// copied through the scratch buffer, so buf has no alignment requirements
// but must hold at least count sectors.
//
// On error the contents of buf are undefined for reads, and the sectors are
// in an unspecified state for writes.
func (c *Controller) Transfer(dir Direction, buf []byte, start int64, count int) error {
	if !c.card.ready {
		return ErrNotReady
	}
	if len(buf) < count*sdcmd.BlockSize {
		return ErrShortBuffer
	}
	if start < 0 || count < 0 || start+int64(count) > c.card.Sectors {
		return ErrOutOfRange
	}

	f := familyOf(c.card.Type)
	chunk := len(c.scratch) / sdcmd.BlockSize
	for count > 0 {
		n := min(count, chunk)
		if err := c.transferBlocks(f, dir, buf[:n*sdcmd.BlockSize], start, n); err != nil {
			return err
		}
		buf = buf[n*sdcmd.BlockSize:]
		start += int64(n)
		count -= n
	}
	return nil
}

func (c *Controller) transferBlocks(f family, dir Direction, buf []byte, start int64, n int) error {
	p := c.scratch[:n*sdcmd.BlockSize]
	if dir == Write {
		copy(p, buf)
		cpu.WritebackSlice(c.cache, p)
	} else {
		cpu.InvalidateSlice(c.cache, p)
	}

	cmd := Command{Arg: f.address(start), Resp: sdcmd.RespR1}
	switch {
	case dir == Read && n > 1:
		cmd.Index = sdcmd.ReadMultipleBlock
	case dir == Read:
		cmd.Index = sdcmd.ReadSingleBlock
	case n > 1:
		cmd.Index = sdcmd.WriteMultipleBlock
	default:
		cmd.Index = sdcmd.WriteBlock
	}
	err := c.SendCommand(&cmd, &Data{
		Dir:       dir,
		Buf:       p,
		Addr:      c.scratchAddr,
		BlockSize: sdcmd.BlockSize,
		Blocks:    n,
	})
	if n > 1 {
		// The card stays in data state after an open ended transfer,
		// also if it failed.
		_, serr := c.send(sdcmd.StopTransmission, 0, sdcmd.RespR1b)
		if err == nil && serr != nil {
			return fmt.Errorf("%w: %w", ErrStopTransmission, serr)
		}
	}
	if err != nil {
		return err
	}
	if st := cmd.Status().Err(); st != 0 {
		c.log.Debug("sdhc: card status", "cmd", cmd.Index, "status", fmt.Sprintf("%#08x", uint32(st)))
		return &CommandError{cmd.Index, ErrCardStatus}
	}

	if dir == Read {
		copy(buf, p)
	}
	return nil
}
