// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package cfi

import (
	"time"

	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// CmdSet is the vendor command-set vtable: Intel and AMD each issue a
// different bus-cycle sequence for the same
// logical operations. The registry's Ops table dispatches by
// (major, minor); this vtable dispatches, one level down, by which
// command-set byte the CFI query response advertised.
type CmdSet interface {
	Name() string

	// Reset issues this command set's reset/read-array command.
	Reset(bus ParallelBus, portWidth int) error

	// WriteBuffer programs data (already trimmed of any leading
	// all-ones run by the caller) starting at addr, via this command
	// set's write-buffer sequence.
	WriteBuffer(bus ParallelBus, portWidth int, addr int64, data []byte, t hal.Timer, timeoutMs uint32) error

	// SectorErase erases the sector containing addr.
	SectorErase(bus ParallelBus, portWidth int, addr int64, t hal.Timer, timeoutMs uint32) error

	// ChipErase issues a single chip-erase command. Intel-set chips
	// have no such command and return ioerr.ErrNoSys, forcing the
	// driver to iterate SectorErase instead.
	ChipErase(bus ParallelBus, portWidth int, t hal.Timer, timeoutMs uint32) error
}

// wordsFromBytes packs a byte slice into port-width-sized words for
// streaming to the bus; widths other than 8 and 16 bits are rejected
// by the driver before reaching here.
func wordsFromBytes(data []byte, portWidth int) []uint16 {
	if portWidth == 8 {
		words := make([]uint16, len(data))
		for i, b := range data {
			words[i] = uint16(b)
		}
		return words
	}

	words := make([]uint16, 0, (len(data)+1)/2)
	for i := 0; i < len(data); i += 2 {
		if i+1 < len(data) {
			words = append(words, uint16(data[i])|uint16(data[i+1])<<8)
		} else {
			words = append(words, uint16(data[i])|0xff00)
		}
	}
	return words
}

func pollTimeout(t hal.Timer, timeoutMs uint32, fn func() (bool, error)) error {
	return hal.PollUntil(t, time.Duration(timeoutMs)*time.Millisecond, time.Microsecond, fn)
}

// checkPortWidth rejects anything but 8 or 16 bits.
func checkPortWidth(portWidth int) error {
	if portWidth != 8 && portWidth != 16 {
		return ioerr.ErrInval
	}
	return nil
}
