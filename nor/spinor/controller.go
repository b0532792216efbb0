// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package spinor

// Controller is the "spimctrl" transfer engine: a memory-mapped read
// window covering the flash, plus a register-level
// command channel that executes command-phase + optional
// address-phase + data-phase transactions.
type Controller interface {
	// MappedRead copies len(buf) bytes from the currently-selected
	// 16 MiB window at the given window-relative offset. The driver
	// is responsible for having set the EAR to the right window
	// first.
	MappedRead(buf []byte, windowOff int64) error

	// Exec issues one SPI transaction: a one-byte opcode, an optional
	// 3-byte address phase (only when hasAddr), and a data phase.
	// Exactly one of tx/rx carries data; both nil/empty means a bare
	// opcode command (write-enable, write-disable, chip-erase).
	Exec(opcode byte, hasAddr bool, addr uint32, tx, rx []byte) error
}
