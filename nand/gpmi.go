// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nand

// GPMI CTRL0 command-mode flags, programmed through the first PIO word
// of every GPMI descriptor.
const (
	gpmiLockCS    = 1 << 27
	gpmiWriteMode = 0 << 24
	gpmiReadMode  = 1 << 24
	gpmiReadCmp   = 2 << 24
	gpmiW4Ready   = 3 << 24
	gpmi8Bit      = 1 << 23
	gpmiDataCycle = 0 << 17
	gpmiCLE       = 1 << 17
	gpmiALE       = 2 << 17
	gpmiAddrInc   = 1 << 16
)

// GPMI ECCCTRL flags (third PIO word of the ECC descriptors).
const (
	gpmiECCEncode = 1 << 13
	gpmiECC       = 1 << 12
	gpmiECCAux    = 0x100
	gpmiECCPage   = 0x1ff
)

func gpmiCS(cs int) uint32 { return uint32(cs) << 20 }

// gpmiW4ReadyDesc waits for the chip's ready/busy line.
func gpmiW4ReadyDesc(cs int) Desc {
	return Desc{
		Flags: dmaPIO(1) | dmaHot | dmaW4EndCmd | dmaW4Ready | dmaNoXfer,
		PIO:   []uint32{gpmiW4Ready | gpmi8Bit | gpmiCS(cs)},
	}
}

// gpmiCmdAddrDesc streams a command byte plus its address bytes over
// the bus with CLE asserted; cmdaddr[0] is the command, the rest the
// address phase.
func gpmiCmdAddrDesc(cs int, cmdaddr []byte) Desc {
	size := uint16(len(cmdaddr))
	pio0 := uint32(gpmiLockCS|gpmiWriteMode|gpmi8Bit) | gpmiCS(cs) | gpmiCLE | uint32(size)
	if size > 1 {
		pio0 |= gpmiAddrInc
	}
	return Desc{
		Flags: dmaPIO(3) | dmaHot | dmaW4EndCmd | dmaNANDLock | dmaRead,
		Size:  size,
		PIO:   []uint32{pio0, 0, 0},
		Data:  cmdaddr,
	}
}

// gpmiReadCmpDesc reads one status byte and compares (status & mask)
// against val; a mismatch arms the following sense descriptor.
func gpmiReadCmpDesc(cs int, mask, val uint16) Desc {
	return Desc{
		Flags: dmaPIO(3) | dmaHot | dmaW4EndCmd | dmaNANDLock | dmaNoXfer,
		PIO: []uint32{
			gpmiReadCmp | gpmi8Bit | gpmiCS(cs) | gpmiDataCycle | 1,
			uint32(mask)<<16 | uint32(val),
			0,
		},
	}
}

// gpmiDisableBCHDesc hands the bus back from BCH after an ECC read.
func gpmiDisableBCHDesc(cs int) Desc {
	return Desc{
		Flags: dmaPIO(3) | dmaHot | dmaW4EndCmd | dmaNANDLock | dmaNoXfer,
		PIO:   []uint32{gpmiLockCS | gpmiW4Ready | gpmi8Bit | gpmiCS(cs) | gpmiDataCycle, 0, 0},
	}
}

// gpmiReadDesc reads len(buf) raw bytes into buf, no ECC.
func gpmiReadDesc(cs int, buf []byte) Desc {
	size := uint16(len(buf))
	return Desc{
		Flags: dmaPIO(3) | dmaHot | dmaW4EndCmd | dmaNANDLock | dmaWrite,
		Size:  size,
		PIO:   []uint32{gpmiReadMode | gpmi8Bit | gpmiCS(cs) | gpmiDataCycle | uint32(size), 0, 0},
		Buf:   buf,
	}
}

// gpmiECReadDesc reads size bytes through the BCH decoder, routing
// corrected data to buf and metadata plus per-chunk status to aux.
// The payload moves through BCH, not the DMA channel, so the
// descriptor itself transfers nothing.
func gpmiECReadDesc(cs int, buf, aux []byte, size uint16) Desc {
	eccMode := uint32(gpmiECCAux)
	if buf != nil {
		eccMode = gpmiECCPage
	}
	return Desc{
		Flags: dmaPIO(6) | dmaHot | dmaW4EndCmd | dmaNANDLock | dmaNoXfer,
		PIO: []uint32{
			gpmiReadMode | gpmi8Bit | gpmiCS(cs) | gpmiDataCycle | uint32(size),
			0,
			gpmiECC | eccMode,
			uint32(size),
			0, // payload pointer, resolved at run time
			0, // auxiliary pointer, resolved at run time
		},
		Buf: buf,
		Aux: aux,
	}
}

// gpmiWriteDesc streams len(data) raw bytes to the chip, no ECC.
func gpmiWriteDesc(cs int, data []byte) Desc {
	size := uint16(len(data))
	return Desc{
		Flags: dmaPIO(3) | dmaHot | dmaW4EndCmd | dmaNANDLock | dmaRead,
		Size:  size,
		PIO:   []uint32{gpmiLockCS | gpmiWriteMode | gpmi8Bit | gpmiCS(cs) | gpmiDataCycle | uint32(size), 0, 0},
		Data:  data,
	}
}

// gpmiECWriteDesc streams size bytes through the BCH encoder: data
// chunks from data, metadata from aux, parity computed per the active
// page layout.
func gpmiECWriteDesc(cs int, data, aux []byte, size uint16) Desc {
	return Desc{
		Flags: dmaPIO(6) | dmaHot | dmaW4EndCmd | dmaNANDLock | dmaNoXfer,
		PIO: []uint32{
			gpmiLockCS | gpmiWriteMode | gpmi8Bit | gpmiCS(cs) | gpmiDataCycle,
			0,
			gpmiECCEncode | gpmiECC | gpmiECCPage,
			uint32(size),
			0, // payload pointer, resolved at run time
			0, // auxiliary pointer, resolved at run time
		},
		Data: data,
		Aux:  aux,
	}
}
