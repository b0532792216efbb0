// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Command nordbgen dumps the built-in flash chip database to an
// editable YAML sidecar file, which plo loads back with -db.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/phoenix-rtos/plo-sub002/internal/nordb"
)

func main() {
	out := flag.String("out", "nordb.yaml", "Output YAML filename")
	flag.Parse()

	if err := nordb.Save(*out, nordb.Default); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot write %s: %v\n", *out, err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d SPI-NOR, %d CFI and %d NAND entries to %s\n",
		len(nordb.Default.SPINOR), len(nordb.Default.CFI), len(nordb.Default.NAND), *out)
}
