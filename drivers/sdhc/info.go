package sdhc

import (
	"errors"
	"fmt"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
)

// Info describes an initialized card.
type Info struct {
	Type     CardType
	CID      sdcmd.CID
	Sectors  int64
	Size     int64
	Mode     Mode
	Clock    uint32
	BusWidth int
	Voltage  Voltage
}

func (i Info) String() string {
	return fmt.Sprintf("%v %v, %d MiB, %v at %.1fMHz, %d-bit, %v",
		i.Type, i.CID, i.Size>>20, i.Mode, float64(i.Clock)/1e6, i.BusWidth, i.Voltage)
}

// Info returns information about the initialized card.
func (c *Controller) Info() (Info, error) {
	if !c.card.ready {
		return Info{}, ErrNotReady
	}
	return Info{
		Type:     c.card.Type,
		CID:      sdcmd.DecodeCID(c.card.CID, c.card.Type == EMMC),
		Sectors:  c.card.Sectors,
		Size:     c.card.DiskSize,
		Mode:     c.card.Mode,
		Clock:    c.card.Clock,
		BusWidth: c.card.BusWidth,
		Voltage:  c.card.Voltage,
	}, nil
}

// Status returns the card status reported by SEND_STATUS.
func (c *Controller) Status() (sdcmd.CardStatus, error) {
	cmd, err := c.send(sdcmd.SendStatus, c.card.RCA, sdcmd.RespR1)
	if err != nil {
		return 0, err
	}
	return cmd.Status(), nil
}

// SetBusWidth switches card and host to a bus width of 1, 4 or 8 bits. The
// 8-bit bus is only available for eMMC devices.
func (c *Controller) SetBusWidth(width int) error {
	f := familyOf(c.card.Type)
	switch {
	case f == nil:
		return ErrNotReady
	case width == 8 && (c.card.Type != EMMC || c.caps&Cap8Bit == 0),
		width != 1 && width != 4 && width != 8:
		return errors.New("sdhc: unsupported bus width")
	}
	if err := f.setBusWidth(c, width); err != nil {
		return err
	}
	c.regs.hostControl.StoreBits(sdhci.WidthMask, hostWidth(width))
	c.card.BusWidth = width
	return nil
}
