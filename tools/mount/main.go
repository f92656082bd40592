// Package mount serves a card image through the driver via fuse.
package mount

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/clktmr/sdhc/tools/probe"
)

const usageString = `Card image mount.

Usage: %s [flags] <image> <dir>

The directory contains the card as card.img and its description as info.

`

var (
	flags = flag.NewFlagSet("mount", flag.ExitOnError)

	kind    = flags.String("card", "sdhc", "sdv1 | sdv2 | sdhc | emmc")
	ceiling = flags.Uint("ceiling", 200_000_000, "Maximum SD clock in Hz")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "mount")
	flags.PrintDefaults()
}

func must[T any](ret T, err error) T {
	if err != nil {
		log.Fatal("mount: ", err)
	}
	return ret
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() != 2 {
		flags.Usage()
		os.Exit(1)
	}

	k := must(probe.ParseKind(*kind))
	card := must(probe.Attach(flags.Arg(0), k, probe.Config(uint32(*ceiling), false)))
	defer card.Close()

	sigintr := make(chan os.Signal, 1)
	signal.Notify(sigintr, os.Interrupt)

	if err := mount(card, flags.Arg(1), sigintr); err != nil {
		log.Println("mount:", err)
	}
}
