package sdhc

import (
	"github.com/clktmr/sdhc/drivers/sdhc/sdhci"
	"github.com/clktmr/sdhc/soc"
)

type registers struct {
	sdmaAddr     soc.R32[uint32]
	block        soc.R32[sdhci.Block]
	argument     soc.R32[uint32]
	command      soc.R32[sdhci.Command]
	response     [4]soc.R32[uint32]
	presentState soc.R32[sdhci.PresentState]
	hostControl  soc.R32[sdhci.HostControl]
	clockControl soc.R32[sdhci.ClockControl]
	intStatus    soc.R32[sdhci.Interrupt]
	intEnable    soc.R32[sdhci.Interrupt]
	signalEnable soc.R32[sdhci.Interrupt]
	hostControl2 soc.R32[sdhci.HostControl2]
	caps         soc.R32[sdhci.Caps]
	caps1        soc.R32[sdhci.Caps1]
	version      soc.R32[sdhci.Version]

	dllControl soc.R32[sdhci.DLLControl]
	dllStatus  soc.R32[sdhci.DLLControl]
}

func newRegisters(bus soc.Bus) *registers {
	vendor := soc.Window(bus, sdhci.OffVendor)
	r := &registers{
		sdmaAddr:     soc.NewR32[uint32](bus, sdhci.OffSDMAAddr),
		block:        soc.NewR32[sdhci.Block](bus, sdhci.OffBlock),
		argument:     soc.NewR32[uint32](bus, sdhci.OffArgument),
		command:      soc.NewR32[sdhci.Command](bus, sdhci.OffCommand),
		presentState: soc.NewR32[sdhci.PresentState](bus, sdhci.OffPresentState),
		hostControl:  soc.NewR32[sdhci.HostControl](bus, sdhci.OffHostControl),
		clockControl: soc.NewR32[sdhci.ClockControl](bus, sdhci.OffClockControl),
		intStatus:    soc.NewR32[sdhci.Interrupt](bus, sdhci.OffIntStatus),
		intEnable:    soc.NewR32[sdhci.Interrupt](bus, sdhci.OffIntEnable),
		signalEnable: soc.NewR32[sdhci.Interrupt](bus, sdhci.OffSignalEnable),
		hostControl2: soc.NewR32[sdhci.HostControl2](bus, sdhci.OffHostControl2),
		caps:         soc.NewR32[sdhci.Caps](bus, sdhci.OffCaps),
		caps1:        soc.NewR32[sdhci.Caps1](bus, sdhci.OffCaps1),
		version:      soc.NewR32[sdhci.Version](bus, sdhci.OffVersion),

		dllControl: soc.NewR32[sdhci.DLLControl](vendor, sdhci.OffDLLControl),
		dllStatus:  soc.NewR32[sdhci.DLLControl](vendor, sdhci.OffDLLStatus),
	}
	for i := range r.response {
		r.response[i] = soc.NewR32[uint32](bus, sdhci.OffResponse+uintptr(4*i))
	}
	return r
}
