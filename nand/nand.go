// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package nand implements the raw NAND storage stack: a GPMI-style
// command sequencer driven by APBH DMA descriptor chains, a BCH ECC
// page layout, bad-block management, and the data/meta/raw block
// devices layered on top of the page driver. The driver talks to the
// silicon through the Controller interface; tests substitute a fake
// that interprets the same descriptor chains against an in-memory
// chip.
package nand

// Info describes one NAND chip's geometry.
type Info struct {
	Name      string
	VendorID  byte
	DeviceID  byte
	Size      int64
	EraseSize int64
	PageSize  int64
	OOBSize   int64
	MetaSize  int64
}

// PagesPerBlock returns the number of pages in one eraseblock.
func (i Info) PagesPerBlock() uint32 { return uint32(i.EraseSize / i.PageSize) }

// BlockCount returns the number of eraseblocks on the chip.
func (i Info) BlockCount() uint32 { return uint32(i.Size / i.EraseSize) }

// RawPageSize returns the full raw page span, data plus OOB.
func (i Info) RawPageSize() int64 { return i.PageSize + i.OOBSize }

// ECC holds the BCH page-layout parameters for the metadata block and
// the N data chunks.
type ECC struct {
	BlockSize0 uint16 // metadata block attached data size (multiple of 4, 0 for none)
	BlockSizeN uint16 // data chunk size (multiple of 4, typically 512)
	Blocks     uint8  // number of data chunks per page
	Strength0  uint8  // metadata block ECC strength
	StrengthN  uint8  // data chunk ECC strength
	GF0        uint8  // metadata block Galois field (13 or 14)
	GFN        uint8  // data chunk Galois field (13 or 14)
}

// EccSize returns the parity size in bytes for a given ECC strength
// and Galois field width.
func EccSize(strength, gf uint8) int {
	return (int(strength)*int(gf) + 7) / 8
}

// MetaSpan returns the raw byte span of the metadata block: user
// metadata plus its parity.
func (e ECC) MetaSpan(metaSize int64) int {
	return int(metaSize) + EccSize(e.Strength0, e.GF0)
}

// Command identifiers. The table below gives each command its
// (cmd1, cmd2, address-size) tuple; issuing one builds a DMA
// descriptor chain of command, address, data and status cycles.
type cmdID int

const (
	cmdReset cmdID = iota
	cmdReadID
	cmdReadParamPage
	cmdReadUniqueID
	cmdGetFeatures
	cmdSetFeatures
	cmdStatus
	cmdStatusExt
	cmdRndRead
	cmdRndRead2Plane
	cmdRndInput
	cmdProgDataMoveColumn
	cmdReadMode
	cmdReadPage
	cmdReadPageCacheSeq
	cmdReadPageCacheRnd
	cmdReadPageCacheLast
	cmdProgPage
	cmdProgPageCache
	cmdEraseBlock
	cmdReadDataMove
	cmdProgDataMove
	cmdBlockUnlockLow
	cmdBlockUnlockHigh
	cmdBlockLock
	cmdBlockLockTight
	cmdBlockLockStatus
	cmdOTPLock
	cmdOTPProg
	cmdOTPRead
)

// maxAddrSize is the largest address phase any command carries.
const maxAddrSize = 5

var commands = [...]struct {
	cmd1, cmd2 byte
	addrSize   int
}{
	cmdReset:              {0xff, 0x00, 0},
	cmdReadID:             {0x90, 0x00, 1},
	cmdReadParamPage:      {0xec, 0x00, 1},
	cmdReadUniqueID:       {0xed, 0x00, 1},
	cmdGetFeatures:        {0xee, 0x00, 1},
	cmdSetFeatures:        {0xef, 0x00, 1},
	cmdStatus:             {0x70, 0x00, 0},
	cmdStatusExt:          {0x78, 0x00, 3},
	cmdRndRead:            {0x05, 0xe0, 2},
	cmdRndRead2Plane:      {0x06, 0xe0, 5},
	cmdRndInput:           {0x85, 0x00, 2},
	cmdProgDataMoveColumn: {0x85, 0x00, 5},
	cmdReadMode:           {0x00, 0x00, 0},
	cmdReadPage:           {0x00, 0x30, 5},
	cmdReadPageCacheSeq:   {0x31, 0x00, 0},
	cmdReadPageCacheRnd:   {0x00, 0x31, 5},
	cmdReadPageCacheLast:  {0x3f, 0x00, 0},
	cmdProgPage:           {0x80, 0x10, 5},
	cmdProgPageCache:      {0x80, 0x15, 5},
	cmdEraseBlock:         {0x60, 0xd0, 3},
	cmdReadDataMove:       {0x00, 0x35, 5},
	cmdProgDataMove:       {0x85, 0x10, 5},
	cmdBlockUnlockLow:     {0x23, 0x00, 3},
	cmdBlockUnlockHigh:    {0x24, 0x00, 3},
	cmdBlockLock:          {0x2a, 0x00, 0},
	cmdBlockLockTight:     {0x2c, 0x00, 0},
	cmdBlockLockStatus:    {0x7a, 0x00, 3},
	cmdOTPLock:            {0x80, 0x10, 5},
	cmdOTPProg:            {0x80, 0x10, 5},
	cmdOTPRead:            {0x00, 0x30, 5},
}

// badBlockMarker is the vendor bad-block marker value: metadata byte 0
// of an eraseblock's first page reads 0x00 on a factory-bad or
// driver-marked block.
const badBlockMarker = 0x00

// erasedByte is the state of every byte after a successful erase.
const erasedByte = 0xff
