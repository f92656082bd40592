package sdsim

import (
	"bytes"
	"testing"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/soc/dma"
)

func newTestHost(t *testing.T, kind Kind) (*Host, *dma.Region) {
	t.Helper()
	region, err := dma.NewRegion(0x8007_fe00, 64<<10)
	if err != nil {
		t.Fatal(err)
	}
	card := NewCard(kind, make(Image, 1024*512), 1024)
	return NewHost(region, card), region
}

func (h *Host) enableClock(n uint32) {
	h.Store32(sdhci.OffClockControl, uint32(sdhci.MakeDivider(n)|sdhci.InternalClockEnable))
	for h.Load32(sdhci.OffClockControl)&uint32(sdhci.InternalClockStable) == 0 {
	}
	h.Store32(sdhci.OffClockControl, uint32(sdhci.MakeDivider(n)|sdhci.InternalClockEnable|sdhci.SDClockEnable))
}

func (h *Host) command(idx sdcmd.Index, arg uint32, flags sdhci.Command) sdhci.Interrupt {
	h.Store32(sdhci.OffIntStatus, uint32(sdhci.IntAll))
	h.Store32(sdhci.OffArgument, arg)
	h.Store32(sdhci.OffCommand, uint32(flags|sdhci.Command(idx)<<sdhci.IndexShift))
	return sdhci.Interrupt(h.Load32(sdhci.OffIntStatus))
}

func TestClockViolations(t *testing.T) {
	h, _ := newTestHost(t, SDHC)
	h.Store32(sdhci.OffIntEnable, uint32(sdhci.IntAll))

	h.command(sdcmd.GoIdleState, 0, sdhci.RespNone)
	if len(h.Violations) != 1 {
		t.Fatalf("expected violation for stopped clock, got %v", h.Violations)
	}

	h.enableClock(250)
	if f := h.Frequency(); f != 400_000 {
		t.Fatalf("expected 400000, got %v", f)
	}
	h.Store32(sdhci.OffClockControl, uint32(sdhci.MakeDivider(4)|sdhci.InternalClockEnable|sdhci.SDClockEnable))
	if len(h.Violations) != 2 {
		t.Fatalf("expected violation for divider change, got %v", h.Violations)
	}
}

func TestIntStatusW1C(t *testing.T) {
	h, _ := newTestHost(t, SDHC)
	h.Store32(sdhci.OffIntEnable, uint32(sdhci.IntAll))
	h.enableClock(250)

	st := h.command(sdcmd.GoIdleState, 0, sdhci.RespNone)
	if st != sdhci.IntCmdComplete {
		t.Fatalf("expected %#x, got %#x", sdhci.IntCmdComplete, st)
	}
	h.Store32(sdhci.OffIntStatus, uint32(sdhci.IntCmdComplete))
	if st := h.Load32(sdhci.OffIntStatus); st != 0 {
		t.Fatalf("expected 0, got %#x", st)
	}

	// SD cards don't know CMD1.
	st = h.command(sdcmd.SendOpCond, 0, sdhci.Resp48)
	if st != sdhci.IntError|sdhci.ErrCmdTimeout {
		t.Fatalf("expected %#x, got %#x", sdhci.IntError|sdhci.ErrCmdTimeout, st)
	}
}

func TestResponseChecks(t *testing.T) {
	h, _ := newTestHost(t, SDHC)
	h.Store32(sdhci.OffIntEnable, uint32(sdhci.IntAll))
	h.enableClock(250)
	h.command(sdcmd.GoIdleState, 0, sdhci.RespNone)

	// R7 echoes the check pattern with index and CRC.
	st := h.command(sdcmd.SendIfCond, sdcmd.IfCondArg, sdhci.Resp48|sdhci.CRCCheck|sdhci.IndexCheck)
	if st != sdhci.IntCmdComplete {
		t.Fatalf("expected %#x, got %#x", sdhci.IntCmdComplete, st)
	}
	if r := h.Load32(sdhci.OffResponse); r != sdcmd.IfCondArg {
		t.Fatalf("expected %#x, got %#x", sdcmd.IfCondArg, r)
	}

	// R3 carries neither, checking them must fail.
	h.command(sdcmd.AppCmd, 0, sdhci.Resp48|sdhci.CRCCheck|sdhci.IndexCheck)
	st = h.command(sdcmd.AppSendOpCond, uint32(sdcmd.OCRVoltageWindow|sdcmd.OCRCCS), sdhci.Resp48|sdhci.CRCCheck|sdhci.IndexCheck)
	if st&sdhci.ErrCmdCRC == 0 || st&sdhci.ErrCmdIndex == 0 {
		t.Fatalf("expected CRC and index error, got %#x", st)
	}
}

func TestSDMABoundary(t *testing.T) {
	h, region := newTestHost(t, SDHC)
	card := h.Card
	card.state = sdcmd.StateTransfer
	card.width = 1
	copy(card.Store.(Image)[2*512:], bytes.Repeat([]byte{0xa5}, 4*512))

	addr, buf, err := region.Reserve(4*512, 512)
	if err != nil {
		t.Fatal(err)
	}
	h.Store32(sdhci.OffIntEnable, uint32(sdhci.IntAll))
	h.enableClock(4)
	h.Store32(sdhci.OffSDMAAddr, uint32(addr))
	h.Store32(sdhci.OffBlock, uint32(sdhci.MakeBlock(512, 4)))
	st := h.command(sdcmd.ReadMultipleBlock, 2, sdhci.Resp48|sdhci.DataPresent|
		sdhci.ModeDMA|sdhci.ModeBlockCount|sdhci.ModeMultiBlock|sdhci.ModeRead)
	if st != sdhci.IntCmdComplete|sdhci.IntDMA {
		t.Fatalf("expected pause at boundary, got %#x", st)
	}
	if a := h.Load32(sdhci.OffSDMAAddr); a != 0x8008_0000 {
		t.Fatalf("expected 0x80080000, got %#x", a)
	}

	h.Store32(sdhci.OffIntStatus, uint32(sdhci.IntDMA))
	h.Store32(sdhci.OffSDMAAddr, 0x8008_0000)
	if st := sdhci.Interrupt(h.Load32(sdhci.OffIntStatus)); st&sdhci.IntXferComplete == 0 {
		t.Fatalf("expected transfer complete, got %#x", st)
	}
	if h.DMARearms != 1 {
		t.Fatalf("expected 1 rearm, got %v", h.DMARearms)
	}
	if !bytes.Equal(buf, bytes.Repeat([]byte{0xa5}, 4*512)) {
		t.Fatal("DMA data differs")
	}
	if card.State() != sdcmd.StateData {
		t.Fatalf("expected %v, got %v", sdcmd.StateData, card.State())
	}
}
