// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package cfi

import "github.com/phoenix-rtos/plo-sub002/internal/hal"

// ParallelBus is the word-addressed bus a CFI chip sits on: an 8- or
// 16-bit wide memory-mapped parallel interface where a "write" can
// mean either a command/address bus cycle (unlock sequence, erase
// command, write-buffer setup) or a data-phase program cycle,
// depending entirely on where the chip's internal command state
// machine is. Real silicon doesn't distinguish these electrically;
// this interface keeps them as separate methods so a test fake can
// implement the command state machine explicitly instead of trying to
// infer "was this a command or data" from byte content the way the
// real chip does. hal.Bus (byte-addressed, AND-only program
// semantics) is reused unmodified for the read side, since a CFI
// chip's array read and status/data-toggle poll are both ordinary
// memory-mapped reads once the command sequence has been issued.
type ParallelBus interface {
	hal.Bus

	// WriteCmd issues a command/address-phase or data-phase bus write
	// of one port-width-sized word at addr. portWidth is 8 or 16.
	WriteCmd(addr int64, word uint16, portWidth int) error

	// ReadWord reads one port-width-sized word at addr, used for
	// status/data-toggle polling during an in-flight operation (where
	// the array does not return its stored content).
	ReadWord(addr int64, portWidth int) (uint16, error)
}

// WriteEnableGate models the FTMCTRL register bit that physically
// gates writes to the parallel NOR bus: every write/erase must be
// bracketed by WrEn/WrDis, and writes attempted without WrEn silently
// drop.
type WriteEnableGate interface {
	WrEn()
	WrDis()
}

// timer is an alias for hal.Timer; driver.go and the command sets
// name hal.Timer directly.
type timer = hal.Timer
