package sdhc

import (
	"errors"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
)

// CardType is the card family detected during enumeration.
type CardType uint8

const (
	CardNone   CardType = iota
	SDStandard          // SD v1.x or v2.0 standard capacity, byte addressed
	SDHigh              // SDHC or SDXC, block addressed
	EMMC                // eMMC in sector mode, block addressed
)

var cardTypeNames = [...]string{"none", "SDSC", "SDHC", "eMMC"}

func (t CardType) String() string { return cardTypeNames[t] }

// Voltage is the signal voltage of the bus.
type Voltage uint8

const (
	Signal33V Voltage = iota
	Signal18V
)

func (v Voltage) String() string {
	if v == Signal18V {
		return "1.8V"
	}
	return "3.3V"
}

// Card is the session state of an initialized card. It's only valid while
// Ready returns true.
type Card struct {
	Type CardType

	// RCA is the relative card address in argument form, i.e. shifted to
	// the upper half.
	RCA uint32

	BusWidth int
	Voltage  Voltage
	Mode     Mode
	Clock    uint32 // SD clock in Hz

	SectorSize int
	Sectors    int64
	DiskSize   int64

	CID sdcmd.Long
	CSD sdcmd.CSD

	ready bool
}

// Ready reports whether initialization completed.
func (c Card) Ready() bool { return c.ready }

// family abstracts the differences between SD cards and eMMC devices.
type family interface {
	// capacity returns the number of 512 byte sectors. It's called after
	// the card was selected.
	capacity(c *Controller) (int64, error)

	// address returns the data command argument for sector lba.
	address(lba int64) uint32

	// setBusWidth switches the card's bus width.
	setBusWidth(c *Controller, width int) error

	// ladder returns the speed modes in descending order.
	ladder() []rung

	// switchMode asks the card to use the timing of r. It returns
	// ErrCardRejected if the card refused.
	switchMode(c *Controller, r rung) error

	tuningCommand() sdcmd.Index
}

func familyOf(t CardType) family {
	switch t {
	case SDStandard:
		return sdFamily{}
	case SDHigh:
		return sdFamily{high: true}
	case EMMC:
		return emmcFamily{}
	}
	return nil
}

type sdFamily struct {
	high bool
}

func (f sdFamily) capacity(c *Controller) (int64, error) {
	csd := c.card.CSD
	switch csd.Structure() {
	case 0:
		return csd.Capacity() / sdcmd.BlockSize, nil
	case 1:
		return csd.CapacityV2() / sdcmd.BlockSize, nil
	}
	return 0, ErrUnsupportedCard
}

func (f sdFamily) address(lba int64) uint32 {
	if f.high {
		return uint32(lba)
	}
	return uint32(lba * sdcmd.BlockSize)
}

func (f sdFamily) setBusWidth(c *Controller, width int) error {
	arg := uint32(sdcmd.BusWidth1Arg)
	if width == 4 {
		arg = sdcmd.BusWidth4Arg
	}
	_, err := c.sendApp(sdcmd.AppSetBusWidth, arg, sdcmd.RespR1)
	return err
}

func (f sdFamily) ladder() []rung { return sdLadder }

func (f sdFamily) switchMode(c *Controller, r rung) error {
	fn := r.access
	st, err := c.switchFunc(false, fn)
	if errors.Is(err, ErrResponseTimeout) {
		return ErrCardRejected // SD 1.x has no CMD6
	}
	if err != nil {
		return err
	}
	if !st.Supported(fn) || st.Selected() != fn {
		return ErrCardRejected
	}
	if st, err = c.switchFunc(true, fn); err != nil {
		return err
	}
	if st.Selected() != fn {
		return ErrCardRejected
	}
	return nil
}

func (f sdFamily) tuningCommand() sdcmd.Index { return sdcmd.SendTuningBlock }

// switchFunc issues CMD6 and returns the switch status block.
func (c *Controller) switchFunc(set bool, fn sdcmd.AccessMode) (st sdcmd.SwitchStatus, err error) {
	p, err := c.readBlock(sdcmd.SwitchFunc, sdcmd.SwitchFuncArg(set, fn), len(st))
	if err != nil {
		return st, err
	}
	copy(st[:], p)
	return st, nil
}

type emmcFamily struct{}

func (emmcFamily) capacity(c *Controller) (int64, error) {
	csd := c.card.CSD
	if csd.Structure() == 0 {
		return csd.Capacity() / sdcmd.BlockSize, nil
	}
	var ext sdcmd.ExtCSD
	p, err := c.readBlock(sdcmd.SendExtCSD, 0, len(ext))
	if err != nil {
		return 0, err
	}
	copy(ext[:], p)
	if ext.Sectors() == 0 {
		return 0, ErrUnsupportedCard
	}
	return int64(ext.Sectors()), nil
}

func (emmcFamily) address(lba int64) uint32 { return uint32(lba) }

func (emmcFamily) setBusWidth(c *Controller, width int) error {
	v := uint8(sdcmd.BusWidth1)
	switch width {
	case 4:
		v = sdcmd.BusWidth4
	case 8:
		v = sdcmd.BusWidth8
	}
	return c.writeExtCSD(sdcmd.ExtCSDBusWidth, v)
}

func (emmcFamily) ladder() []rung { return emmcLadder }

func (emmcFamily) switchMode(c *Controller, r rung) error {
	timing := uint8(sdcmd.TimingHS)
	if r.mode == HS200 {
		timing = sdcmd.TimingHS200
	}
	if err := c.writeExtCSD(sdcmd.ExtCSDHSTiming, timing); err != nil {
		return err
	}
	if r.mode != DDR52 {
		return nil
	}
	v := uint8(sdcmd.BusWidth4DDR)
	if c.card.BusWidth == 8 {
		v = sdcmd.BusWidth8DDR
	}
	return c.writeExtCSD(sdcmd.ExtCSDBusWidth, v)
}

func (emmcFamily) tuningCommand() sdcmd.Index { return sdcmd.SendTuningBlockMMC }

// writeExtCSD writes an EXT_CSD byte with SWITCH and checks the outcome with
// SEND_STATUS.
func (c *Controller) writeExtCSD(index, value uint8) error {
	if _, err := c.send(sdcmd.SwitchFunc, sdcmd.WriteByteArg(index, value), sdcmd.RespR1b); err != nil {
		return err
	}
	st, err := c.Status()
	if err != nil {
		return err
	}
	if st&sdcmd.StatusSwitchError != 0 {
		return ErrCardRejected
	}
	return nil
}

// hostWidth returns the host control data width bits for width.
func hostWidth(width int) sdhci.HostControl {
	switch width {
	case 4:
		return sdhci.DataWidth4
	case 8:
		return sdhci.DataWidth8
	}
	return 0
}
