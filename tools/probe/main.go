// Package probe initializes a card image on the simulated controller.
package probe

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/clktmr/sdhc/drivers/sdhc"
	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
	"github.com/clktmr/sdhc/drivers/sdhc/sdsim"
	"github.com/clktmr/sdhc/soc/dma"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/diskfs/go-diskfs/partition/mbr"
)

const usageString = `Card image probe.

Usage: %s [flags] <file>

`

const sectorSize = sdcmd.BlockSize

var (
	flags = flag.NewFlagSet("probe", flag.ExitOnError)

	kind    = flags.String("card", "sdhc", "sdv1 | sdv2 | sdhc | emmc")
	ceiling = flags.Uint("ceiling", 200_000_000, "Maximum SD clock in Hz")
	verbose = flags.Bool("v", false, "Log driver debug output")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "probe")
	flags.PrintDefaults()
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}

	k, err := ParseKind(*kind)
	if err != nil {
		log.Fatal("probe: ", err)
	}
	card, err := Attach(flags.Arg(0), k, Config(uint32(*ceiling), *verbose))
	if err != nil {
		log.Fatal("probe: ", err)
	}
	defer card.Close()

	info, err := card.Controller.Info()
	if err != nil {
		log.Fatal("probe: ", err)
	}
	log.Println(info)
	if v := card.Host.Violations; len(v) > 0 {
		log.Println("protocol violations:", v)
	}

	table, err := mbr.Read(card, sectorSize, sectorSize)
	if err != nil {
		log.Println("no partition table:", err)
		return
	}
	for i, p := range table.Partitions {
		if p.Size == 0 {
			continue
		}
		log.Printf("partition %d: type %#02x, start %d, %d MiB", i+1, uint8(p.Type), p.Start, p.Size>>11)
		if p.Type != mbr.Fat32LBA {
			continue
		}
		fs, err := fat32.Read(card, int64(p.Size)*sectorSize, int64(p.Start)*sectorSize, sectorSize)
		if err != nil {
			log.Println("  not FAT32:", err)
			continue
		}
		entries, err := fs.ReadDir("/")
		if err != nil {
			log.Println("  readdir:", err)
			continue
		}
		for _, e := range entries {
			log.Printf("  %-12s %8d", e.Name(), e.Size())
		}
	}
}

// ParseKind returns the simulated card model named s.
func ParseKind(s string) (sdsim.Kind, error) {
	for k := sdsim.SDv1; k <= sdsim.EMMC; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown card: %s", s)
}

// Config returns the driver configuration used by the tools.
func Config(ceiling uint32, verbose bool) sdhc.Config {
	cfg := sdhc.Config{
		MaxFrequency: ceiling,
		BusWidth8:    true,
		Clock:        sdsim.NewClock(),
	}
	if verbose {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return cfg
}

// Card is an initialized card backed by an image file.
type Card struct {
	*sdhc.Device

	Controller *sdhc.Controller
	Host       *sdsim.Host

	file *os.File
}

// Attach inserts the image at path as a card of the given kind into a
// simulated controller and initializes it. cfg.Region is provided by Attach.
func Attach(path string, kind sdsim.Kind, cfg sdhc.Config) (*Card, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	card, err := attach(f, kind, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return card, nil
}

func attach(f *os.File, kind sdsim.Kind, cfg sdhc.Config) (*Card, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	sectors := st.Size() / sectorSize
	if sectors == 0 {
		return nil, errors.New("image too small")
	}

	blocks := cfg.ScratchBlocks
	if blocks <= 0 {
		blocks = 128
	}
	region, err := dma.NewRegion(0x1000_0000, blocks*sectorSize)
	if err != nil {
		return nil, err
	}
	cfg.Region = region

	host := sdsim.NewHost(region, sdsim.NewCard(kind, f, sectors))
	c, err := sdhc.Open(host, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Init(); err != nil {
		c.Close()
		return nil, err
	}
	dev, err := sdhc.NewDevice(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	return &Card{Device: dev, Controller: c, Host: host, file: f}, nil
}

func (c *Card) Close() error {
	err := c.Controller.Close()
	if ferr := c.file.Close(); err == nil {
		err = ferr
	}
	return err
}
