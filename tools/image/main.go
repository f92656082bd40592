// Package image creates partitioned card images for the simulator.
package image

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
)

const usageString = `Card image creator.

Usage: %s [flags] <file>

`

const sectorSize = 512

// First partition starts at 4MiB, the erase block alignment SD cards are
// formatted with.
const partitionStart = 4 << 20 / sectorSize

var (
	flags = flag.NewFlagSet("image", flag.ExitOnError)

	size  = flags.Int64("size", 64, "Image size in MiB")
	fat32 = flags.Bool("fat32", false, "Format the partition with FAT32")
	label = flags.String("label", "SDHC", "Volume label")
)

func usage() {
	fmt.Fprintf(flags.Output(), usageString, "image")
	flags.PrintDefaults()
}

func Main(args []string) {
	flags.Usage = usage
	flags.Parse(args[1:])

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(1)
	}

	if err := Create(flags.Arg(0), *size<<20, *fat32, *label); err != nil {
		log.Fatal("image: ", err)
	}
}

// Create writes a new image of size bytes at path with a single partition
// spanning everything behind the first 4MiB.
func Create(path string, size int64, fat32 bool, label string) error {
	if size%(1<<20) != 0 || size < 2*partitionStart*sectorSize {
		return errors.New("size must be a multiple of 1MiB and at least 8MiB")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return err
	}
	err = f.Truncate(size)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	d, err := diskfs.Open(path)
	if err != nil {
		return err
	}

	table := &mbr.Table{
		LogicalSectorSize:  sectorSize,
		PhysicalSectorSize: sectorSize,
		Partitions: []*mbr.Partition{{
			Bootable: false,
			Type:     mbr.Fat32LBA,
			Start:    partitionStart,
			Size:     uint32(size/sectorSize - partitionStart),
		}},
	}
	if err := d.Partition(table); err != nil {
		return fmt.Errorf("partition: %w", err)
	}

	if !fat32 {
		return nil
	}
	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   1,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: label,
	})
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	readme, err := fs.OpenFile("/README.TXT", os.O_CREATE|os.O_RDWR)
	if err != nil {
		return err
	}
	_, err = readme.Write([]byte("Card image created by sdhcgo.\n"))
	return err
}
