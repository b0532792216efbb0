// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package spinor implements the serial NOR driver: a caller-selected
// vendor opcode table (see OpcodesFor), the extended-address-register (EAR)
// discipline needed for 3-byte addressing beyond 16 MiB, and the
// sector write-back cache shared with nor/cfi via blockdev.SectorCache.
package spinor

// Opcodes is the vendor-specific command byte table the driver
// streams through the spimctrl transfer engine.
// SectorErase4K is only set for chips with a mixed small/large erase
// region layout (e.g. Spansion S25FL128S); zero means "use
// SectorErase for every region".
type Opcodes struct {
	ReadStatus    byte
	WriteEnable   byte
	WriteDisable  byte
	ReadEAR       byte
	WriteEAR      byte
	ChipErase     byte
	SectorErase   byte
	SectorErase4K byte
	PageProgram   byte
	Read          byte
}

// statusWIP is the write-in-progress bit in the SPI NOR status
// register, common across the Macronix and Spansion command sets.
const statusWIP = 1 << 0

// MacronixOpcodes is the command set used by MX25-family parts.
var MacronixOpcodes = Opcodes{
	ReadStatus:   0x05,
	WriteEnable:  0x06,
	WriteDisable: 0x04,
	ReadEAR:      0xc8,
	WriteEAR:     0xc5,
	ChipErase:    0xc7,
	SectorErase:  0xd8,
	PageProgram:  0x02,
	Read:         0x03,
}

// SpansionOpcodes is the command set used by S25FL-family parts,
// including the separate small-sector erase opcode the mixed-region
// layout requires.
var SpansionOpcodes = Opcodes{
	ReadStatus:    0x05,
	WriteEnable:   0x06,
	WriteDisable:  0x04,
	ReadEAR:       0x16,
	WriteEAR:      0x17,
	ChipErase:     0x60,
	SectorErase:   0xd8,
	SectorErase4K: 0x20,
	PageProgram:   0x02,
	Read:          0x03,
}

// OpcodesFor returns the built-in opcode table for a nordb command-set
// name ("macronix" or "spansion").
func OpcodesFor(cmdSet string) (Opcodes, bool) {
	switch cmdSet {
	case "macronix":
		return MacronixOpcodes, true
	case "spansion":
		return SpansionOpcodes, true
	}
	return Opcodes{}, false
}

// earWindowBits is the width, in bits, of one 3-byte-addressable EAR
// window (16 MiB).
const earWindowBits = 24
const earWindowSize = int64(1) << earWindowBits

func earOf(addr int64) byte        { return byte(addr >> earWindowBits) }
func localAddr(addr int64) uint32  { return uint32(addr & (earWindowSize - 1)) }
