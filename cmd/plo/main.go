// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Command plo is the hosted front end for the loader's storage core:
// it registers an image-backed storage device with the device
// registry and exposes the dump/erase/partition operations the
// loader's shell offers, against a flash image file or block device
// instead of memory-mapped silicon.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/bitutil"
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/nordb"
	"github.com/phoenix-rtos/plo-sub002/ptable"
	"github.com/phoenix-rtos/plo-sub002/registry"
)

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

// scanChips lists the chip database, the closest hosted analogue to
// scanning a bus that is not present.
func scanChips(db nordb.DB) {
	for _, c := range db.SPINOR {
		fmt.Printf("spi-nor  %06x  %-16s %s\n", c.JEDECID, c.Name, bitutil.FormatBytes(uint64(c.TotalSize)))
	}
	for _, c := range db.CFI {
		fmt.Printf("cfi      %04x:%04x  %-12s %s-set, %d-bit\n", c.VendorID, c.DeviceID, c.Name, c.CmdSet, c.PortWidth)
	}
	for _, c := range db.NAND {
		fmt.Printf("nand     %02x:%02x  %-16s %s, %s blocks\n", c.VendorID, c.DeviceID, c.Name,
			bitutil.FormatBytes(uint64(c.TotalSize)), bitutil.FormatBytes(uint64(c.EraseSize)))
	}
}

// hexDump prints the dump command's 16-column hex + ASCII layout.
func hexDump(offs int64, data []byte) {
	const xsize = 16

	for len(data) > 0 {
		n := xsize
		if n > len(data) {
			n = len(data)
		}
		row := data[:n]

		fmt.Printf("%08x   ", offs)
		for x := 0; x < xsize; x++ {
			if x < n {
				fmt.Printf("%02x ", row[x])
			} else {
				fmt.Print("   ")
			}
		}
		fmt.Print("  ")
		for _, b := range row {
			if b <= 32 || b > 127 {
				fmt.Print(".")
			} else {
				fmt.Printf("%c", b)
			}
		}
		fmt.Println()

		data = data[n:]
		offs += int64(n)
	}
}

func parseRange(s string) (off, length int64, err error) {
	fields := strings.SplitN(s, ":", 2)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q, expected offset:length", s)
	}
	if off, err = strconv.ParseInt(fields[0], 0, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid offset %q: %w", fields[0], err)
	}
	if length, err = strconv.ParseInt(fields[1], 0, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid length %q: %w", fields[1], err)
	}
	return off, length, nil
}

func main() {
	device := flag.String("device", "", "Flash image file or block device to operate on")
	dbPath := flag.String("db", "", "Chip database YAML file (builtin table if empty)")
	scan := flag.Bool("scan", false, "List the known flash chips")
	dump := flag.String("dump", "", "Dump a device range, offset:length")
	erase := flag.String("erase", "", "Erase a device range, offset:length (asks for confirmation)")
	parts := flag.Int64("ptable", -1, "Read and print the partition table at the given offset")
	blkSize := flag.Int64("blksize", 0x1000, "Flash block size the partition table is aligned to")
	flag.Parse()

	db := nordb.Default
	if *dbPath != "" {
		var err error
		if db, err = nordb.Open(*dbPath); err != nil {
			fatal(err)
		}
	}

	if *scan {
		scanChips(db)
		return
	}

	if *device == "" {
		fmt.Printf("plo storage tool (%s, %s/%s)\n\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		flag.PrintDefaults()
		os.Exit(1)
	}

	bus, err := hal.OpenBusMmap(*device, 0, 0)
	if err != nil {
		fatal(err)
	}
	defer bus.Close()

	// One storage-class device, minor 0, dispatched the way the shell
	// dispatches: through the registry.
	reg := registry.New()
	dev := newImageDevice(bus, *blkSize)
	if err := reg.Register(registry.ClassStorage, 0, 1, blockdev.NewDeviceOps(dev)); err != nil {
		fatal(err)
	}
	if err := reg.Init(registry.ClassStorage, 0); err != nil {
		fatal(err)
	}
	defer reg.Done(registry.ClassStorage, 0)

	switch {
	case *dump != "":
		off, length, err := parseRange(*dump)
		if err != nil {
			fatal(err)
		}
		buf := make([]byte, length)
		n, err := reg.Read(registry.ClassStorage, 0, off, buf, 0)
		if err != nil {
			fatal(err)
		}
		hexDump(off, buf[:n])

	case *erase != "":
		off, length, err := parseRange(*erase)
		if err != nil {
			fatal(err)
		}

		console := hal.NewConsole(os.Stdin, os.Stdout)
		fmt.Printf("erase %#x:%#x on %s? [y/N] ", off, length, *device)
		answer := make([]byte, 1)
		if _, err := console.Read(answer, 30000); err != nil || (answer[0] != 'y' && answer[0] != 'Y') {
			fmt.Println("aborted")
			return
		}

		n, err := reg.Erase(registry.ClassStorage, 0, off, length, 0)
		if err != nil {
			fatal(err)
		}
		if err := reg.Sync(registry.ClassStorage, 0); err != nil {
			fatal(err)
		}
		fmt.Printf("erased %s\n", bitutil.FormatBytes(uint64(n)))

	case *parts >= 0:
		tbl, err := ptable.Load(dev, *parts, uint32(*blkSize))
		if err != nil {
			fatal(err)
		}
		for _, p := range ptable.Partitions(dev, tbl) {
			e := p.Entry()
			fmt.Printf("%-32s %-8s %#010x %#010x\n", e.Name, e.Type, e.Offset, e.Size)
		}

	default:
		fmt.Printf("device: %s, %s\n", *device, bitutil.FormatBytes(uint64(dev.Size())))
	}
}
