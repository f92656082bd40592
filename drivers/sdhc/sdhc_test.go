package sdhc

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/drivers/sdhc/sdsim"
	"github.com/clktmr/sdhc/soc/dma"
)

const (
	testSectors = 8192

	// The region starts one block before an SDMA boundary, so that every
	// multi-block transfer through the scratch buffer crosses it.
	testRegionBase = 0x8007_fe00
)

type testBench struct {
	ctrl  *Controller
	host  *sdsim.Host
	card  *sdsim.Card
	image sdsim.Image
}

func newTestBench(t *testing.T, kind sdsim.Kind, cfg Config) *testBench {
	t.Helper()
	region, err := dma.NewRegion(testRegionBase, 256<<10)
	if err != nil {
		t.Fatal(err)
	}
	image := make(sdsim.Image, testSectors*sdcmd.BlockSize)
	card := sdsim.NewCard(kind, image, testSectors)
	host := sdsim.NewHost(region, card)

	cfg.Region = region
	cfg.Clock = sdsim.NewClock()
	ctrl, err := Open(host, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &testBench{ctrl, host, card, image}
}

func (b *testBench) init(t *testing.T) {
	t.Helper()
	if err := b.ctrl.Init(); err != nil {
		t.Fatal(err)
	}
	b.checkViolations(t)
}

func (b *testBench) checkViolations(t *testing.T) {
	t.Helper()
	for _, v := range b.host.Violations {
		t.Error("violation:", v)
	}
}

func fill(p []byte, seed int64) {
	rand.New(rand.NewSource(seed)).Read(p)
}

func TestDivider(t *testing.T) {
	const base = 200_000_000
	tests := map[string]struct {
		hz       uint32
		expected uint32
	}{
		"identification": {400_000, 250},
		"default":        {25_000_000, 4},
		"legacy mmc":     {26_000_000, 4},
		"high speed":     {50_000_000, 2},
		"hs52":           {52_000_000, 2},
		"sdr50":          {100_000_000, 1},
		"sdr104":         {200_000_000, 0},
		"above base":     {300_000_000, 0},
		"zero":           {0, sdhci.MaxDivider},
		"clamped":        {50_000, sdhci.MaxDivider},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			n := divider(base, tc.hz)
			if n != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, n)
			}
			if f := frequency(base, n); n < sdhci.MaxDivider && f > tc.hz && tc.hz < base {
				t.Fatalf("frequency %v above requested %v", f, tc.hz)
			}
		})
	}
}

func TestCommandFlags(t *testing.T) {
	tests := map[string]struct {
		resp     sdcmd.Response
		expected sdhci.Command
	}{
		"none": {sdcmd.RespNone, sdhci.RespNone},
		"R1":   {sdcmd.RespR1, sdhci.Resp48 | sdhci.CRCCheck | sdhci.IndexCheck},
		"R1b":  {sdcmd.RespR1b, sdhci.Resp48Busy | sdhci.CRCCheck | sdhci.IndexCheck},
		"R2":   {sdcmd.RespR2, sdhci.Resp136 | sdhci.CRCCheck},
		"R3":   {sdcmd.RespR3, sdhci.Resp48},
		"R6":   {sdcmd.RespR6, sdhci.Resp48 | sdhci.CRCCheck | sdhci.IndexCheck},
		"R7":   {sdcmd.RespR7, sdhci.Resp48 | sdhci.CRCCheck | sdhci.IndexCheck},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := commandFlags(tc.resp); got != tc.expected {
				t.Fatalf("expected %#x, got %#x", tc.expected, got)
			}
		})
	}
}

func TestInit(t *testing.T) {
	tests := map[string]struct {
		kind      sdsim.Kind
		legacyCSD bool
		cardType  CardType
		mode      Mode
		clock     uint32
		voltage   Voltage
	}{
		"sdv1":        {sdsim.SDv1, false, SDStandard, DefaultSpeed, 25_000_000, Signal33V},
		"sdv2":        {sdsim.SDv2, false, SDStandard, HighSpeed, 50_000_000, Signal33V},
		"sdhc":        {sdsim.SDHC, false, SDHigh, SDR104, 200_000_000, Signal18V},
		"emmc":        {sdsim.EMMC, false, EMMC, HS200, 200_000_000, Signal18V},
		"emmc csd v1": {sdsim.EMMC, true, EMMC, HS200, 200_000_000, Signal18V},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newTestBench(t, tc.kind, Config{})
			b.card.LegacyCSD = tc.legacyCSD
			b.init(t)

			card := b.ctrl.Card()
			if !card.Ready() {
				t.Fatal("card not ready")
			}
			if card.Type != tc.cardType {
				t.Fatalf("expected %v, got %v", tc.cardType, card.Type)
			}
			if card.SectorSize != 512 || card.Sectors != testSectors {
				t.Fatalf("expected %v sectors of 512 bytes, got %v of %v", testSectors, card.Sectors, card.SectorSize)
			}
			if card.DiskSize != card.Sectors*int64(card.SectorSize) {
				t.Fatalf("inconsistent disk size %v", card.DiskSize)
			}
			if card.Mode != tc.mode {
				t.Fatalf("expected %v, got %v", tc.mode, card.Mode)
			}
			if card.Clock != tc.clock || b.host.Frequency() != tc.clock {
				t.Fatalf("expected %vHz, got %vHz (host %vHz)", tc.clock, card.Clock, b.host.Frequency())
			}
			if card.Voltage != tc.voltage {
				t.Fatalf("expected %v, got %v", tc.voltage, card.Voltage)
			}
			if card.BusWidth != 4 || b.card.Width() != 4 {
				t.Fatalf("expected 4-bit bus, got %v (card %v)", card.BusWidth, b.card.Width())
			}
			if st := b.card.State(); st != sdcmd.StateTransfer {
				t.Fatalf("expected %v, got %v", sdcmd.StateTransfer, st)
			}
		})
	}
}

// Scenario A
func TestSDHCBlockAddressing(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	b.init(t)

	if typ := b.ctrl.Card().Type; typ != SDHigh {
		t.Fatalf("expected %v, got %v", SDHigh, typ)
	}
	if s := b.ctrl.Card().CSD.Structure(); s != 1 {
		t.Fatalf("expected CSD structure 1, got %v", s)
	}
	if arg := familyOf(SDHigh).address(5); arg != 5 {
		t.Fatalf("expected block address 5, got %v", arg)
	}
	if arg := familyOf(SDStandard).address(5); arg != 5*512 {
		t.Fatalf("expected byte address %v, got %v", 5*512, arg)
	}

	buf := make([]byte, 512)
	fill(buf, 1)
	if err := b.ctrl.Transfer(Write, buf, 5, 1); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b.image[5*512:6*512], buf) {
		t.Fatal("sector 5 not written")
	}
}

func TestSDStandardByteAddressing(t *testing.T) {
	b := newTestBench(t, sdsim.SDv2, Config{})
	b.init(t)

	buf := make([]byte, 3*512)
	fill(buf, 2)
	if err := b.ctrl.Transfer(Write, buf, 7, 3); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b.image[7*512:10*512], buf) {
		t.Fatal("sectors 7-9 not written")
	}
}

// Scenario B
func TestEMMCEnumeration(t *testing.T) {
	b := newTestBench(t, sdsim.EMMC, Config{})
	b.init(t)

	card := b.ctrl.Card()
	if card.Type != EMMC {
		t.Fatalf("expected %v, got %v", EMMC, card.Type)
	}
	if card.RCA != 0x10000 {
		t.Fatalf("expected RCA %#x, got %#x", 0x10000, card.RCA)
	}
	polls := 0
	for _, idx := range b.host.Commands {
		if idx == sdcmd.SendOpCond {
			polls++
		}
	}
	if polls != 2 {
		t.Fatalf("expected 2 SEND_OP_COND, got %v", polls)
	}
	if timing := b.card.Timing(); timing != sdcmd.TimingHS200 {
		t.Fatalf("expected HS_TIMING %v, got %v", sdcmd.TimingHS200, timing)
	}
}

func TestEMMCBusWidth8(t *testing.T) {
	b := newTestBench(t, sdsim.EMMC, Config{BusWidth8: true})
	b.init(t)

	if w := b.ctrl.Card().BusWidth; w != 8 || b.card.Width() != 8 {
		t.Fatalf("expected 8-bit bus, got %v (card %v)", w, b.card.Width())
	}
	if b.host.HostControl()&sdhci.WidthMask != sdhci.DataWidth8 {
		t.Fatalf("host not in 8-bit mode: %#x", b.host.HostControl())
	}
	if b.host.TuningCommands == 0 {
		t.Fatal("HS200 not tuned")
	}
}

func TestEMMCDDR52(t *testing.T) {
	b := newTestBench(t, sdsim.EMMC, Config{})
	b.card.CardType &^= sdcmd.CardTypeHS200
	b.init(t)

	if m := b.ctrl.Card().Mode; m != DDR52 {
		t.Fatalf("expected %v, got %v", DDR52, m)
	}
	if uhs := b.host.HostControl2() & sdhci.UHSModeMask; uhs != sdhci.UHSDDR50 {
		t.Fatalf("expected %#x, got %#x", sdhci.UHSDDR50, uhs)
	}
	if clk := b.ctrl.Card().Clock; clk != 50_000_000 {
		t.Fatalf("expected 50MHz, got %v", clk)
	}
}

// Scenario C
func TestNegotiateCeiling(t *testing.T) {
	tests := map[string]struct {
		ceiling uint32
		reject  uint16
		mode    Mode
		clock   uint32
	}{
		"sdr50":        {100_000_000, 0, SDR50, 100_000_000},
		"sdr50 reject": {100_000_000, 1 << sdcmd.AccessSDR50, HighSpeed, 50_000_000},
		"high speed":   {60_000_000, 0, HighSpeed, 50_000_000},
		"default":      {25_000_000, 0, DefaultSpeed, 25_000_000},
		"below":        {10_000_000, 0, DefaultSpeed, 10_000_000},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newTestBench(t, sdsim.SDHC, Config{MaxFrequency: tc.ceiling})
			b.card.RejectModes = tc.reject
			b.init(t)

			card := b.ctrl.Card()
			if card.Mode != tc.mode {
				t.Fatalf("expected %v, got %v", tc.mode, card.Mode)
			}
			if card.Clock != tc.clock {
				t.Fatalf("expected %vHz, got %vHz", tc.clock, card.Clock)
			}
			for _, hz := range b.host.Clocks {
				if hz > tc.ceiling {
					t.Fatalf("clock %vHz above ceiling %vHz", hz, tc.ceiling)
				}
			}
		})
	}
}

func TestNegotiateWithoutVoltageSwitch(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{Caps: CapAll &^ Cap18V})
	b.init(t)

	card := b.ctrl.Card()
	if card.Voltage != Signal33V || b.card.Signal18V() {
		t.Fatal("switched to 1.8V without capability")
	}
	if card.Mode != HighSpeed {
		t.Fatalf("expected %v, got %v", HighSpeed, card.Mode)
	}
}

// Scenario D
func TestTuningFallback(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	b.host.TuningSteps = 0
	b.init(t)

	if n := b.host.TuningCommands; n != maxTuningBlocks {
		t.Fatalf("expected %v tuning commands, got %v", maxTuningBlocks, n)
	}
	hc2 := b.host.HostControl2()
	if hc2&(sdhci.ExecTuning|sdhci.SampleClock) != 0 {
		t.Fatalf("tuning bits left set: %#x", hc2)
	}
	if hc2&sdhci.UHSModeMask != sdhci.UHSSDR104 || hc2&sdhci.Signal18V == 0 {
		t.Fatalf("timing changed: %#x", hc2)
	}
	cc := b.host.ClockControl()
	if cc.Divider() != 0 || cc&sdhci.SDClockEnable == 0 {
		t.Fatalf("clock changed: %#x", cc)
	}
	if m := b.ctrl.Card().Mode; m != SDR104 {
		t.Fatalf("expected %v, got %v", SDR104, m)
	}

	want := make([]byte, 8*512)
	fill(want, 3)
	copy(b.image[64*512:], want)
	got := make([]byte, len(want))
	if err := b.ctrl.Transfer(Read, got, 64, 8); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("read data differs")
	}
}

func TestTuning(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	b.init(t)

	if n := b.host.TuningCommands; n != b.host.TuningSteps {
		t.Fatalf("expected %v tuning commands, got %v", b.host.TuningSteps, n)
	}
	if b.host.HostControl2()&sdhci.SampleClock == 0 {
		t.Fatal("tuned sampling clock not selected")
	}
	dll := b.host.DLL
	if len(dll) != 2 || dll[0] != sdhci.DLLReset || dll[1] != sdhci.DLLEnable {
		t.Fatalf("expected DLL reset then enable, got %v", dll)
	}
}

// Scenario E
func TestReadAcrossBoundary(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	b.init(t)

	want := make([]byte, 4*512)
	fill(want, 4)
	copy(b.image[1023*512:], want)

	b.host.DMARearms = 0
	got := make([]byte, len(want))
	if err := b.ctrl.Transfer(Read, got, 1023, 4); err != nil {
		t.Fatal(err)
	}
	if b.host.DMARearms == 0 {
		t.Fatal("SDMA address not rearmed")
	}
	if !bytes.Equal(got, want) {
		t.Fatal("read data differs")
	}
	b.checkViolations(t)
}

func TestRoundTrip(t *testing.T) {
	tests := map[string]struct {
		kind   sdsim.Kind
		start  int64
		blocks int
	}{
		"single":        {sdsim.SDHC, 0, 1},
		"multi":         {sdsim.SDHC, 1000, 16},
		"chunked":       {sdsim.SDHC, 77, 300},
		"byte address":  {sdsim.SDv2, 500, 130},
		"emmc":          {sdsim.EMMC, testSectors - 200, 200},
		"last sector":   {sdsim.EMMC, testSectors - 1, 1},
		"whole scratch": {sdsim.SDHC, 2048, 128},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newTestBench(t, tc.kind, Config{})
			b.init(t)

			want := make([]byte, tc.blocks*512)
			fill(want, tc.start)
			if err := b.ctrl.Transfer(Write, want, tc.start, tc.blocks); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(b.image[tc.start*512:][:len(want)], want) {
				t.Fatal("image differs after write")
			}
			got := make([]byte, len(want))
			if err := b.ctrl.Transfer(Read, got, tc.start, tc.blocks); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, want) {
				t.Fatal("read data differs")
			}
			if st := b.card.State(); st != sdcmd.StateTransfer {
				t.Fatalf("expected %v, got %v", sdcmd.StateTransfer, st)
			}
			b.checkViolations(t)
		})
	}
}

func TestSetBusWidthIdempotent(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	b.init(t)

	for _, width := range []int{4, 1, 4} {
		if err := b.ctrl.SetBusWidth(width); err != nil {
			t.Fatal(err)
		}
		once := b.host.HostControl()
		if err := b.ctrl.SetBusWidth(width); err != nil {
			t.Fatal(err)
		}
		if twice := b.host.HostControl(); twice != once {
			t.Fatalf("expected %#x, got %#x", once, twice)
		}
		if b.card.Width() != width || b.ctrl.Card().BusWidth != width {
			t.Fatalf("expected width %v, got %v", width, b.card.Width())
		}
	}
	if err := b.ctrl.SetBusWidth(8); err == nil {
		t.Fatal("8-bit bus accepted for SD card")
	}

	buf := make([]byte, 2*512)
	if err := b.ctrl.Transfer(Read, buf, 0, 2); err != nil {
		t.Fatal(err)
	}
}

func TestTransferErrors(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	buf := make([]byte, 4*512)

	if err := b.ctrl.Transfer(Read, buf, 0, 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected %v, got %v", ErrNotReady, err)
	}
	b.init(t)

	tests := map[string]struct {
		start    int64
		count    int
		expected error
	}{
		"short buffer": {0, 5, ErrShortBuffer},
		"beyond end":   {testSectors - 1, 2, ErrOutOfRange},
		"negative":     {-1, 1, ErrOutOfRange},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := b.ctrl.Transfer(Read, buf, tc.start, tc.count)
			if !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
		})
	}

	b.host.Remove()
	err := b.ctrl.Transfer(Read, buf, 0, 1)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected %v, got %v", ErrResponseTimeout, err)
	}
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Cmd != sdcmd.ReadSingleBlock {
		t.Fatalf("expected error of %v, got %v", sdcmd.ReadSingleBlock, err)
	}
}

func TestDataTimeout(t *testing.T) {
	tests := map[string]struct {
		count int
		cmd   sdcmd.Index
	}{
		"single": {1, sdcmd.ReadSingleBlock},
		"multi":  {4, sdcmd.ReadMultipleBlock},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newTestBench(t, sdsim.SDHC, Config{
				Timeouts: Timeouts{Data: 50 * time.Microsecond},
			})
			b.init(t)
			fill(b.image, 7)
			buf := make([]byte, tc.count*512)

			b.host.StallData = true
			err := b.ctrl.Transfer(Read, buf, 0, tc.count)
			if !errors.Is(err, ErrDataTimeout) || errors.Is(err, ErrResponseTimeout) {
				t.Fatalf("expected %v, got %v", ErrDataTimeout, err)
			}
			var cerr *CommandError
			if !errors.As(err, &cerr) || cerr.Cmd != tc.cmd {
				t.Fatalf("expected error of %v, got %v", tc.cmd, err)
			}
			if st := b.card.State(); st != sdcmd.StateTransfer {
				t.Fatalf("expected %v, got %v", sdcmd.StateTransfer, st)
			}

			b.host.StallData = false
			if err := b.ctrl.Transfer(Read, buf, 0, tc.count); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf, b.image[:len(buf)]) {
				t.Fatal("data differs after recovery")
			}
			b.checkViolations(t)
		})
	}
}

func TestStopTransmissionError(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	b.init(t)
	buf := make([]byte, 4*512)
	fill(buf, 8)

	b.card.FailStop = true
	err := b.ctrl.Transfer(Write, buf, 16, 4)
	if !errors.Is(err, ErrStopTransmission) {
		t.Fatalf("expected %v, got %v", ErrStopTransmission, err)
	}
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected %v, got %v", ErrResponseTimeout, err)
	}
	var cerr *CommandError
	if !errors.As(err, &cerr) || cerr.Cmd != sdcmd.StopTransmission {
		t.Fatalf("expected error of %v, got %v", sdcmd.StopTransmission, err)
	}
	if !bytes.Equal(b.image[16*512:20*512], buf) {
		t.Fatal("data not written")
	}

	// The card keeps receiving until a stop succeeds.
	if err := b.ctrl.Transfer(Read, buf, 0, 1); err == nil {
		t.Fatal("expected error while card is still receiving")
	}
}

func TestInitErrors(t *testing.T) {
	short := Timeouts{Command: 10 * time.Microsecond, CommandMax: 40 * time.Microsecond}

	t.Run("no card", func(t *testing.T) {
		b := newTestBench(t, sdsim.SDHC, Config{})
		b.host.Remove()
		if err := b.ctrl.Init(); !errors.Is(err, ErrNoCard) {
			t.Fatalf("expected %v, got %v", ErrNoCard, err)
		}
	})
	t.Run("inhibit", func(t *testing.T) {
		b := newTestBench(t, sdsim.SDHC, Config{Timeouts: short})
		b.host.Stuck = true
		err := b.ctrl.Init()
		if !errors.Is(err, ErrCommandInhibitTimeout) {
			t.Fatalf("expected %v, got %v", ErrCommandInhibitTimeout, err)
		}
		var cerr *CommandError
		if !errors.As(err, &cerr) || cerr.Cmd != sdcmd.GoIdleState {
			t.Fatalf("expected error of %v, got %v", sdcmd.GoIdleState, err)
		}
		if b.ctrl.Card().Ready() {
			t.Fatal("card ready after failed init")
		}
	})
	t.Run("no completion", func(t *testing.T) {
		b := newTestBench(t, sdsim.SDHC, Config{Timeouts: short})
		b.host.Mute = true
		if err := b.ctrl.Init(); !errors.Is(err, ErrCommandInhibitTimeout) {
			t.Fatalf("expected %v, got %v", ErrCommandInhibitTimeout, err)
		}
	})
	t.Run("reinit", func(t *testing.T) {
		b := newTestBench(t, sdsim.EMMC, Config{})
		b.init(t)
		b.init(t)
		if m := b.ctrl.Card().Mode; m != HS200 {
			t.Fatalf("expected %v, got %v", HS200, m)
		}
	})

	var badStructure, empty sdcmd.Long
	badStructure.SetBits(127, 126, 3)
	badStructure.Seal()
	empty.Seal()

	tests := map[string]struct {
		kind     sdsim.Kind
		setup    func(c *sdsim.Card)
		expected error
	}{
		"check pattern":  {sdsim.SDHC, func(c *sdsim.Card) { c.CorruptEcho = true }, ErrUnsupportedCard},
		"csd structure":  {sdsim.SDHC, func(c *sdsim.Card) { c.CSD = &badStructure }, ErrUnsupportedCard},
		"empty csd":      {sdsim.SDv2, func(c *sdsim.Card) { c.CSD = &empty }, ErrUnsupportedCard},
		"empty ext csd":  {sdsim.EMMC, func(c *sdsim.Card) { c.Sectors = 0 }, ErrUnsupportedCard},
		"voltage switch": {sdsim.SDHC, func(c *sdsim.Card) { c.HoldDAT = true }, ErrVoltageSwitch},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := newTestBench(t, tc.kind, Config{})
			tc.setup(b.card)
			if err := b.ctrl.Init(); !errors.Is(err, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, err)
			}
			if b.ctrl.Card().Ready() {
				t.Fatal("card ready after failed init")
			}
			b.checkViolations(t)
		})
	}
}

func TestCardDetect(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	b.init(t)
	mask := uint32(sdhci.IntCardInsert | sdhci.IntCardRemove)

	b.host.Remove()
	if ins, rem := b.ctrl.CardEvent(); ins || rem {
		t.Fatalf("expected no events while disarmed, got %v %v", ins, rem)
	}
	b.host.Insert(b.card)

	b.ctrl.EnableCardDetect()
	b.init(t)
	for _, off := range []uintptr{sdhci.OffIntEnable, sdhci.OffSignalEnable} {
		if r := b.host.Load32(off); r&mask != mask {
			t.Fatalf("expected %#x armed at %#x after init, got %#x", mask, off, r)
		}
	}

	b.host.Remove()
	if ins, rem := b.ctrl.CardEvent(); ins || !rem {
		t.Fatalf("expected removal, got %v %v", ins, rem)
	}
	if ins, rem := b.ctrl.CardEvent(); ins || rem {
		t.Fatalf("expected events acknowledged, got %v %v", ins, rem)
	}
	if b.ctrl.CardPresent() {
		t.Fatal("card present after removal")
	}
	if err := b.ctrl.Transfer(Read, make([]byte, 512), 0, 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected %v, got %v", ErrNotReady, err)
	}

	b.host.Insert(b.card)
	if ins, rem := b.ctrl.CardEvent(); !ins || rem {
		t.Fatalf("expected insertion, got %v %v", ins, rem)
	}
	b.init(t)
}

func TestTimeoutDefaults(t *testing.T) {
	tests := map[string]struct {
		timeouts   Timeouts
		command    time.Duration
		commandMax time.Duration
	}{
		"zero":          {Timeouts{}, DefaultTimeouts.Command, DefaultTimeouts.CommandMax},
		"long command":  {Timeouts{Command: 5 * time.Second}, 5 * time.Second, 5 * time.Second},
		"max too small": {Timeouts{Command: 10 * time.Millisecond, CommandMax: time.Millisecond}, 10 * time.Millisecond, 10 * time.Millisecond},
		"both":          {Timeouts{Command: time.Millisecond, CommandMax: 8 * time.Millisecond}, time.Millisecond, 8 * time.Millisecond},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got := tc.timeouts.withDefaults()
			if got.Command != tc.command || got.CommandMax != tc.commandMax {
				t.Fatalf("expected %v/%v, got %v/%v", tc.command, tc.commandMax, got.Command, got.CommandMax)
			}
			if got.Data != DefaultTimeouts.Data {
				t.Fatalf("expected %v, got %v", DefaultTimeouts.Data, got.Data)
			}
		})
	}

	// Commands still get one full wait.
	b := newTestBench(t, sdsim.SDHC, Config{
		Timeouts: Timeouts{Command: 100 * time.Microsecond, CommandMax: 10 * time.Microsecond},
	})
	b.init(t)
}

func TestInfo(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	if _, err := b.ctrl.Info(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected %v, got %v", ErrNotReady, err)
	}
	b.init(t)

	info, err := b.ctrl.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.CID != b.card.CID {
		t.Fatalf("expected %v, got %v", b.card.CID, info.CID)
	}
	if info.Size != testSectors*512 {
		t.Fatalf("expected %v, got %v", testSectors*512, info.Size)
	}
	st, err := b.ctrl.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.State() != sdcmd.StateTransfer || st.Err() != 0 {
		t.Fatalf("unexpected card status %#x", st)
	}
}

func TestDevice(t *testing.T) {
	b := newTestBench(t, sdsim.SDHC, Config{})
	if _, err := NewDevice(b.ctrl); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected %v, got %v", ErrNotReady, err)
	}
	b.init(t)
	dev, err := NewDevice(b.ctrl)
	if err != nil {
		t.Fatal(err)
	}
	fill(b.image, 5)

	t.Run("unaligned write", func(t *testing.T) {
		msg := []byte("hello, sector boundary")
		before := bytes.Clone(b.image[:1024])
		n, err := dev.WriteAt(msg, 500)
		if err != nil || n != len(msg) {
			t.Fatalf("expected %v, got %v (%v)", len(msg), n, err)
		}
		copy(before[500:], msg)
		if !bytes.Equal(b.image[:1024], before) {
			t.Fatal("surrounding bytes changed")
		}
	})
	t.Run("unaligned read", func(t *testing.T) {
		p := make([]byte, 1500)
		n, err := dev.ReadAt(p, 100)
		if err != nil || n != len(p) {
			t.Fatalf("expected %v, got %v (%v)", len(p), n, err)
		}
		if !bytes.Equal(p, b.image[100:1600]) {
			t.Fatal("read data differs")
		}
	})
	t.Run("end", func(t *testing.T) {
		p := make([]byte, 1024)
		n, err := dev.ReadAt(p, dev.Size()-100)
		if n != 100 || err != io.EOF {
			t.Fatalf("expected 100, EOF, got %v, %v", n, err)
		}
		if _, err := dev.ReadAt(p, dev.Size()); err != io.EOF {
			t.Fatalf("expected %v, got %v", io.EOF, err)
		}
		n, err = dev.WriteAt(p, dev.Size()-10)
		if n != 10 || !errors.Is(err, io.ErrShortWrite) {
			t.Fatalf("expected 10, %v, got %v, %v", io.ErrShortWrite, n, err)
		}
	})
	t.Run("seek", func(t *testing.T) {
		if _, err := dev.Seek(1, io.SeekEnd); !errors.Is(err, ErrSeekOutOfRange) {
			t.Fatalf("expected %v, got %v", ErrSeekOutOfRange, err)
		}
		off, err := dev.Seek(4096+3, io.SeekStart)
		if err != nil || off != 4099 {
			t.Fatalf("expected 4099, got %v (%v)", off, err)
		}
		if _, err := dev.Write([]byte("abc")); err != nil {
			t.Fatal(err)
		}
		if off, _ := dev.Seek(0, io.SeekCurrent); off != 4102 {
			t.Fatalf("expected 4102, got %v", off)
		}
		dev.Seek(-3, io.SeekCurrent)
		p := make([]byte, 3)
		if _, err := io.ReadFull(dev, p); err != nil {
			t.Fatal(err)
		}
		if string(p) != "abc" {
			t.Fatalf("expected %q, got %q", "abc", p)
		}
	})
}
