package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/clktmr/sdhc/tools/image"
	"github.com/clktmr/sdhc/tools/mount"
	"github.com/clktmr/sdhc/tools/probe"
	"github.com/clktmr/sdhc/tools/run"
)

const usageString = `sdhcgo is a tool for development of the SD host controller driver. Card
images are driven through the simulated controller, so every access
exercises the driver.

Usage:

	%s <command> [arguments]

The commands are:

`

type command struct {
	name  string
	args  string
	short string
	main  func(args []string)
}

var commands = []command{
	{"image", "[-size MiB] [-fat32] [-label name] <file>",
		"create an MBR partitioned card image", image.Main},
	{"probe", "[-card kind] [-ceiling hz] [-v] <file>",
		"initialize an image and list its partitions", probe.Main},
	{"mount", "[-card kind] [-ceiling hz] <file> <dir>",
		"serve an image as card.img via fuse", mount.Main},
	{"run", "[-timeout d] <command> <binary>",
		"run a test binary and exit with its result", run.Main},
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, usageString, os.Args[0])
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(w, "\t%s %s\t%s\n", c.name, c.args, c.short)
	}
	w.Flush()
	fmt.Fprintf(out, "\nCard kinds are sdv1, sdv2, sdhc and emmc. Use \"%s help <command>\" for\nall flags of a command.\n", os.Args[0])
	flag.PrintDefaults()
}

func lookup(name string) *command {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

func main() {
	log.Default().SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	name, args := flag.Arg(0), flag.Args()
	if name == "help" && flag.NArg() > 1 {
		// the subcommand's flag set prints its usage and exits
		name, args = flag.Arg(1), []string{flag.Arg(1), "-h"}
	}
	c := lookup(name)
	if c == nil {
		fmt.Fprintf(flag.CommandLine.Output(), "unknown command: %s\n", name)
		flag.Usage()
		os.Exit(1)
	}
	c.main(args)
}
