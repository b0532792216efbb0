// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package cfi implements the CFI (Common Flash Interface) parallel
// NOR driver: the JEDEC query-response descriptor, the Intel and AMD
// command sets, and the sector write-back cache shared with SPI NOR
// via blockdev.SectorCache.
package cfi

import (
	"bytes"
	"encoding/binary"

	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// QRYOffset is the canonical byte offset of the "QRY" signature within
// the CFI query response, per JEDEC.
const QRYOffset = 0x10

// rawDescriptor is the on-the-wire CFI query response layout, decoded
// with encoding/binary rather than hand-rolled byte math, even though
// every field here is a single byte or a little-endian pair.
type rawDescriptor struct {
	QRY              [3]byte
	PriVendorCmdSet  uint16
	PriVendorTblAddr uint16
	AltVendorCmdSet  uint16
	AltVendorTblAddr uint16
	VccMin           uint8
	VccMax           uint8
	VppMin           uint8
	VppMax           uint8
	TypicalWordProgram uint8 // log2 microseconds
	TypicalBufferWrite uint8
	TypicalBlockErase  uint8
	TypicalChipErase   uint8
	MaxWordProgram     uint8 // log2 multiplier over typical
	MaxBufferWrite     uint8
	MaxBlockErase      uint8
	MaxChipErase       uint8
	DeviceSizeLog2     uint8
	InterfaceDesc      uint16
	MaxBufferSizeLog2  uint16
	NumEraseRegions    uint8
	Regions            [4]regionRaw
}

type regionRaw struct {
	CountMinus1 uint16
	SizeIn256   uint16
}

// Region is a decoded (count, size) erase-region descriptor.
type Region struct {
	Count int
	Size  int64
}

// Descriptor is the deserialized, host-byte-order form of the CFI
// query response.
type Descriptor struct {
	PriVendorCmdSet uint16
	VccMin, VccMax  uint8
	VppMin, VppMax  uint8

	TypicalWordProgramLog2us uint8
	TypicalBufferWriteLog2us uint8
	TypicalBlockEraseLog2ms  uint8
	TypicalChipEraseLog2ms   uint8
	MaxWordProgramLog2       uint8
	MaxBufferWriteLog2       uint8
	MaxBlockEraseLog2        uint8
	MaxChipEraseLog2         uint8

	ChipSize       int64 // bytes, decoded from DeviceSizeLog2
	MaxBufferSize  int64 // bytes, decoded from MaxBufferSizeLog2
	Regions        []Region
}

// Deserialize parses a CFI query response starting at the "QRY"
// signature. buf must already have had any controller-specific 16-bit
// byte swap applied (bitutil.SwapBytes) by the caller, so that all
// 16-bit fields come out in host byte order.
func Deserialize(buf []byte) (Descriptor, error) {
	var raw rawDescriptor

	if len(buf) < binary.Size(raw) {
		return Descriptor{}, ioerr.ErrInval
	}

	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &raw); err != nil {
		return Descriptor{}, ioerr.ErrInval
	}

	if raw.QRY != [3]byte{'Q', 'R', 'Y'} {
		return Descriptor{}, ioerr.ErrNoEnt
	}

	d := Descriptor{
		PriVendorCmdSet:          raw.PriVendorCmdSet,
		VccMin:                   raw.VccMin,
		VccMax:                   raw.VccMax,
		VppMin:                   raw.VppMin,
		VppMax:                   raw.VppMax,
		TypicalWordProgramLog2us: raw.TypicalWordProgram,
		TypicalBufferWriteLog2us: raw.TypicalBufferWrite,
		TypicalBlockEraseLog2ms:  raw.TypicalBlockErase,
		TypicalChipEraseLog2ms:   raw.TypicalChipErase,
		MaxWordProgramLog2:       raw.MaxWordProgram,
		MaxBufferWriteLog2:       raw.MaxBufferWrite,
		MaxBlockEraseLog2:        raw.MaxBlockErase,
		MaxChipEraseLog2:         raw.MaxChipErase,
		ChipSize:                 int64(1) << raw.DeviceSizeLog2,
		MaxBufferSize:            int64(1) << raw.MaxBufferSizeLog2,
	}

	n := int(raw.NumEraseRegions)
	if n > 4 {
		n = 4
	}
	for i := 0; i < n; i++ {
		r := raw.Regions[i]
		d.Regions = append(d.Regions, Region{
			Count: int(r.CountMinus1) + 1,
			Size:  int64(r.SizeIn256) * 256,
		})
	}

	return d, nil
}

// Serialize is the inverse of Deserialize: it re-encodes d as a raw
// little-endian CFI query response buffer (without the caller's
// platform byte swap, which is the driver's responsibility to
// reapply).
func Serialize(d Descriptor) []byte {
	raw := rawDescriptor{
		QRY:                [3]byte{'Q', 'R', 'Y'},
		PriVendorCmdSet:    d.PriVendorCmdSet,
		VccMin:             d.VccMin,
		VccMax:             d.VccMax,
		VppMin:             d.VppMin,
		VppMax:             d.VppMax,
		TypicalWordProgram: d.TypicalWordProgramLog2us,
		TypicalBufferWrite: d.TypicalBufferWriteLog2us,
		TypicalBlockErase:  d.TypicalBlockEraseLog2ms,
		TypicalChipErase:   d.TypicalChipEraseLog2ms,
		MaxWordProgram:     d.MaxWordProgramLog2,
		MaxBufferWrite:     d.MaxBufferWriteLog2,
		MaxBlockErase:      d.MaxBlockEraseLog2,
		MaxChipErase:       d.MaxChipEraseLog2,
		DeviceSizeLog2:     logOf(d.ChipSize),
		MaxBufferSizeLog2:  uint16(logOf(d.MaxBufferSize)),
		NumEraseRegions:    uint8(len(d.Regions)),
	}

	for i, r := range d.Regions {
		if i >= 4 {
			break
		}
		raw.Regions[i] = regionRaw{
			CountMinus1: uint16(r.Count - 1),
			SizeIn256:   uint16(r.Size / 256),
		}
	}

	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, &raw)
	return buf.Bytes()
}

func logOf(v int64) uint8 {
	var n uint8
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// SectorSize derives the sector size from the chip size and the first
// erase region's sector count, not from the region's own size field.
// Region.Count already includes the query response's implicit +1.
func (d Descriptor) SectorSize() int64 {
	if len(d.Regions) == 0 || d.Regions[0].Count == 0 {
		return 0
	}
	return d.ChipSize / int64(d.Regions[0].Count)
}
