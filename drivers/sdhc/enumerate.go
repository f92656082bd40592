package sdhc

import (
	"errors"
	"time"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
)

const (
	// mmcRCA is the relative address assigned to eMMC devices.
	mmcRCA = 0x1 << 16

	opCondTries    = 1000
	opCondInterval = 10 * time.Microsecond
	mmcOpCondTries = 3
)

// Init identifies the inserted card, selects it and configures the bus
// width, block length and fastest supported speed mode. The controller is
// reset first, a previous card session is discarded. If Init fails, the
// session stays unusable until Init succeeds.
func (c *Controller) Init() error {
	if !c.CardPresent() {
		return ErrNoCard
	}
	if err := c.Reset(); err != nil {
		return err
	}
	if err := c.enumerate(); err != nil {
		c.log.Warn("sdhc: init failed", "err", err)
		c.card.ready = false
		return err
	}
	c.card.ready = true
	c.log.Info("sdhc: card ready", "type", c.card.Type, "sectors", c.card.Sectors,
		"mode", c.card.Mode, "hz", c.card.Clock, "width", c.card.BusWidth)
	return nil
}

func (c *Controller) enumerate() error {
	if err := c.goIdle(); err != nil {
		return err
	}
	cmd, err := c.send(sdcmd.SendIfCond, sdcmd.IfCondArg, sdcmd.RespR7)
	switch {
	case err == nil:
		if cmd.Response[0]&sdcmd.IfCondPattern != sdcmd.IfCondArg {
			return ErrUnsupportedCard
		}
		err = c.initSD2()
	case errors.Is(err, ErrResponseTimeout):
		err = c.initSD1OrMMC()
	}
	if err != nil {
		return err
	}

	if cmd, err = c.send(sdcmd.AllSendCID, 0, sdcmd.RespR2); err != nil {
		return err
	}
	c.card.CID = cmd.Long()

	if c.card.Type == EMMC {
		if _, err = c.send(sdcmd.SendRelativeAddr, mmcRCA, sdcmd.RespR1); err != nil {
			return err
		}
		c.card.RCA = mmcRCA
	} else {
		if cmd, err = c.send(sdcmd.SendRelativeAddr, 0, sdcmd.RespR6); err != nil {
			return err
		}
		c.card.RCA = cmd.Response[0] & 0xffff0000
	}
	c.log.Debug("sdhc: address assigned", "rca", c.card.RCA>>16)
	if err = c.SetClock(defaultFrequency); err != nil {
		return err
	}

	// CSD is only readable in stand-by state.
	if cmd, err = c.send(sdcmd.SendCSD, c.card.RCA, sdcmd.RespR2); err != nil {
		return err
	}
	c.card.CSD = sdcmd.CSD(cmd.Long())
	if _, err = c.send(sdcmd.SelectCard, c.card.RCA, sdcmd.RespR1b); err != nil {
		return err
	}

	f := familyOf(c.card.Type)
	sectors, err := f.capacity(c)
	if err != nil {
		return err
	}
	if sectors <= 0 {
		return ErrUnsupportedCard
	}
	c.card.SectorSize = sdcmd.BlockSize
	c.card.Sectors = sectors
	c.card.DiskSize = sectors * sdcmd.BlockSize

	width := 4
	if c.card.Type == EMMC && c.cfg.BusWidth8 && c.caps&Cap8Bit != 0 {
		width = 8
	}
	if err = c.SetBusWidth(width); err != nil {
		return err
	}

	if cmd, err = c.send(sdcmd.SetBlocklen, sdcmd.BlockSize, sdcmd.RespR1); err != nil {
		return err
	}
	if cmd.Status().Err() != 0 {
		return &CommandError{sdcmd.SetBlocklen, ErrCardStatus}
	}

	return c.Negotiate(c.cfg.MaxFrequency)
}

func (c *Controller) goIdle() error {
	if _, err := c.send(sdcmd.GoIdleState, 0, sdcmd.RespNone); err != nil {
		return err
	}
	c.clock.Delay(time.Millisecond)
	return nil
}

// initSD2 brings an SD 2.0 card to ready state.
func (c *Controller) initSD2() error {
	arg := sdcmd.OCRVoltageWindow | sdcmd.OCRCCS
	if c.caps&Cap18V != 0 {
		arg |= sdcmd.OCRS18
	}
	ocr, err := c.waitOpCond(arg)
	if err != nil {
		return err
	}
	c.card.Type = SDStandard
	if ocr.HighCapacity() {
		c.card.Type = SDHigh
	}
	if ocr.Accepts18V() && c.caps&Cap18V != 0 {
		return c.switchVoltage()
	}
	return nil
}

// initSD1OrMMC tells SD 1.x cards and eMMC devices apart by their reaction
// to APP_CMD.
func (c *Controller) initSD1OrMMC() error {
	if err := c.goIdle(); err != nil {
		return err
	}
	_, err := c.send(sdcmd.AppCmd, 0, sdcmd.RespR1)
	if err == nil {
		if _, err = c.waitOpCond(sdcmd.OCRVoltageWindow); err != nil {
			return err
		}
		c.card.Type = SDStandard
		return nil
	}
	if !errors.Is(err, ErrResponseTimeout) {
		return err
	}

	if err = c.goIdle(); err != nil {
		return err
	}
	for range mmcOpCondTries {
		cmd, err := c.send(sdcmd.SendOpCond, uint32(sdcmd.OCRSectorMode|sdcmd.OCRVoltageWindow), sdcmd.RespR3)
		if err != nil {
			return err
		}
		if sdcmd.OCR(cmd.Response[0]).Ready() {
			c.card.Type = EMMC
			return nil
		}
		c.clock.Delay(time.Millisecond)
	}
	return &CommandError{sdcmd.SendOpCond, ErrResponseTimeout}
}

// waitOpCond polls ACMD41 until the card finished power up.
func (c *Controller) waitOpCond(arg sdcmd.OCR) (sdcmd.OCR, error) {
	for range opCondTries {
		cmd, err := c.sendApp(sdcmd.AppSendOpCond, uint32(arg), sdcmd.RespR3)
		if err != nil {
			return 0, err
		}
		if ocr := sdcmd.OCR(cmd.Response[0]); ocr.Ready() {
			return ocr, nil
		}
		c.clock.Delay(opCondInterval)
	}
	return 0, &CommandError{sdcmd.AppSendOpCond, ErrResponseTimeout}
}

// switchVoltage switches the signal voltage to 1.8V.
func (c *Controller) switchVoltage() error {
	if _, err := c.send(sdcmd.VoltageSwitch, 0, sdcmd.RespR1); err != nil {
		return err
	}
	c.stopClock()
	if c.regs.presentState.LoadBits(sdhci.DatLevelMask) != 0 {
		return ErrVoltageSwitch
	}
	c.regs.hostControl2.SetBits(sdhci.Signal18V)
	c.clock.Delay(5 * time.Millisecond)
	if c.regs.hostControl2.LoadBits(sdhci.Signal18V) == 0 {
		return ErrVoltageSwitch
	}
	if err := c.startClock(identFrequency); err != nil {
		return err
	}
	c.clock.Delay(time.Millisecond)
	if c.regs.presentState.LoadBits(sdhci.DatLevelMask) != sdhci.DatLevelMask {
		return ErrVoltageSwitch
	}
	c.card.Voltage = Signal18V
	c.log.Debug("sdhc: switched to 1.8V signalling")
	return nil
}
