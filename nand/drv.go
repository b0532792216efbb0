// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nand

import (
	"encoding/binary"
	"math/bits"

	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
	"github.com/phoenix-rtos/plo-sub002/internal/nordb"
)

// Dev is the page-level NAND driver for one chip select: it builds
// and runs the descriptor chains for page read/program, block erase
// and the raw bad-block marker accesses, and interprets the BCH ECC
// status after decoded reads.
type Dev struct {
	ctl  Controller
	info Info
	ecc  ECC
	cs   int

	chain Chain
	// scratch is the raw re-read buffer used by the erased-chunk
	// bitflip recovery path; one raw page.
	scratch []byte
}

// Probe resets the chip behind cs, reads its ID and matches it
// against the chip database, then programs the full-page BCH layout.
func Probe(ctl Controller, cs int, db nordb.DB) (*Dev, error) {
	d := &Dev{ctl: ctl, cs: cs}

	if err := d.Reset(); err != nil {
		return nil, err
	}

	var id [5]byte
	if err := d.ReadID(&id); err != nil {
		return nil, err
	}

	chip, ok := db.LookupNAND(id[0], id[1])
	if !ok {
		return nil, ioerr.ErrNoEnt
	}

	d.info = Info{
		Name:      chip.Name,
		VendorID:  chip.VendorID,
		DeviceID:  chip.DeviceID,
		Size:      chip.TotalSize,
		EraseSize: chip.EraseSize,
		PageSize:  chip.PageSize,
		OOBSize:   chip.OOBSize,
		MetaSize:  chip.MetaSize,
	}
	d.ecc = ECC{
		BlockSize0: chip.ECCBlockSize0,
		BlockSizeN: chip.ECCBlockSizeN,
		Blocks:     chip.ECCBlocks,
		Strength0:  chip.ECCStrength0,
		StrengthN:  chip.ECCStrengthN,
		GF0:        chip.ECCGF0,
		GFN:        chip.ECCGFN,
	}
	d.scratch = make([]byte, d.info.RawPageSize())

	l0, l1 := bchLayout(d.ecc, d.info.MetaSize, d.info.RawPageSize())
	d.ctl.SetLayout(d.cs, l0, l1)
	return d, nil
}

// Info returns the matched chip parameters.
func (d *Dev) Info() Info { return d.info }

// ECC returns the matched BCH configuration.
func (d *Dev) ECC() ECC { return d.ecc }

// AuxSize returns the auxiliary buffer size for full-page ECC reads.
func (d *Dev) AuxSize() int { return auxSize(d.ecc, d.info.MetaSize) }

// pageAddr builds the 5-byte read/program address: two column bytes
// (always zero, whole-page access) followed by the page number.
func pageAddr(page uint32) []byte {
	addr := make([]byte, maxAddrSize+1)
	binary.LittleEndian.PutUint32(addr[2:], page)
	return addr[:maxAddrSize]
}

// w4ready appends a wait-for-ready descriptor plus the sense
// descriptor that loops back to it until the chip reports ready.
func (d *Dev) w4ready() {
	idx := d.chain.Append(gpmiW4ReadyDesc(d.cs))
	d.chain.check(idx)
}

// issue appends one named command: the command/address cycle, an
// optional data phase, and the second command cycle when the command
// has one.
func (d *Dev) issue(cmd cmdID, addr []byte, data, aux []byte, size uint16) {
	c := commands[cmd]
	cmdaddr := make([]byte, 8)
	cmdaddr[0] = c.cmd1
	if addr != nil {
		copy(cmdaddr[1:1+c.addrSize], addr)
	}
	cmdaddr[7] = c.cmd2

	d.chain.Append(gpmiCmdAddrDesc(d.cs, cmdaddr[:1+c.addrSize]))

	if size > 0 {
		if aux != nil {
			d.chain.Append(gpmiECWriteDesc(d.cs, data, aux, size))
		} else {
			d.chain.Append(gpmiWriteDesc(d.cs, data[:size]))
		}
	}

	if c.cmd2 != 0 {
		d.chain.Append(gpmiCmdAddrDesc(d.cs, cmdaddr[7:8]))
	}
}

// readback appends the data phase of a read: through BCH when aux is
// set, raw otherwise, handing the bus back from BCH afterwards.
func (d *Dev) readback(data, aux []byte, size uint16) {
	if aux != nil {
		d.chain.Append(gpmiECReadDesc(d.cs, data, aux, size))
		d.chain.Append(gpmiDisableBCHDesc(d.cs))
	} else {
		d.chain.Append(gpmiReadDesc(d.cs, data[:size]))
	}
}

// readcmp appends the write-error detection tail: a status read
// compared against (status & mask) == val, jumping to a failure
// terminator on mismatch.
func (d *Dev) readcmp(mask, val uint16) {
	term := d.chain.appendUnlinked(terminate(-1))
	d.chain.Append(gpmiReadCmpDesc(d.cs, mask, val))
	d.chain.check(term)
}

// Reset issues the chip reset command.
func (d *Dev) Reset() error {
	d.chain.Reset()
	d.issue(cmdReset, nil, nil, nil, 0)
	d.chain.Finish()
	return d.ctl.Run(&d.chain, 0)
}

// ReadID reads the 5-byte chip identifier.
func (d *Dev) ReadID(id *[5]byte) error {
	addr := make([]byte, 1)

	d.chain.Reset()
	d.w4ready()
	d.issue(cmdReadID, addr, nil, nil, 0)
	d.w4ready()
	d.readback(id[:], nil, uint16(len(id)))
	d.chain.Finish()
	return d.ctl.Run(&d.chain, 0)
}

// Read reads one page. With data set it reads the whole page; with
// data nil only the metadata block. With raw set ECC is bypassed and
// the raw bytes land in data (or, for a metadata read, in aux). A
// nonzero timeoutMs bounds the DMA and BCH completion waits in place
// of the controller's default bound; on expiry the read returns
// ioerr.ErrTimeout and no cache state has been touched.
func (d *Dev) Read(page uint32, data, aux []byte, raw bool, timeoutMs uint32) error {
	var size uint16

	if data != nil {
		size = uint16(d.info.RawPageSize())
		if raw {
			aux = nil
		}
	} else {
		size = uint16(d.ecc.MetaSpan(d.info.MetaSize))
		if raw {
			data = aux
			aux = nil
		}
	}

	d.chain.Reset()
	d.w4ready()
	d.issue(cmdReadPage, pageAddr(page), nil, nil, 0)
	d.w4ready()
	d.readback(data, aux, size)
	d.chain.Finish()

	err := d.ctl.Run(&d.chain, timeoutMs)
	if err == nil && !raw {
		if err = d.ctl.WaitBCH(timeoutMs); err != nil {
			return err
		}
		chunks := 1
		if data != nil {
			chunks += int(d.ecc.Blocks)
		}
		err = d.checkECC(page, data, aux, chunks, timeoutMs)
	}
	return err
}

// Write programs one page. With data set it programs the whole page;
// metadata comes from aux, or, when aux is nil, the chip's existing
// metadata is preserved through the data-only BCH layout (a
// partial-page program). With data nil only the metadata block is
// programmed. With raw set ECC is bypassed entirely.
func (d *Dev) Write(page uint32, data, aux []byte, raw bool) error {
	var size uint16
	restore := false

	if data != nil {
		size = uint16(d.info.RawPageSize())
		if raw {
			aux = nil
		} else if aux == nil {
			aux = make([]byte, d.ecc.MetaSpan(d.info.MetaSize))
			for i := range aux {
				aux[i] = erasedByte
			}
			dl0, dl1 := bchLayoutData(d.ecc, d.info.MetaSize, d.info.RawPageSize())
			d.ctl.SetLayout(d.cs, dl0, dl1)
			restore = true
		}
	} else {
		size = uint16(d.ecc.MetaSpan(d.info.MetaSize))
		if raw {
			data = aux
			aux = nil
		} else {
			ml0, ml1 := bchLayoutMeta(d.ecc, d.info.MetaSize)
			d.ctl.SetLayout(d.cs, ml0, ml1)
			restore = true
		}
	}

	d.chain.Reset()
	d.w4ready()
	d.issue(cmdProgPage, pageAddr(page), data, aux, size)
	d.w4ready()
	d.issue(cmdStatus, nil, nil, nil, 0)
	d.readcmp(0x3, 0)
	d.chain.Finish()

	err := d.ctl.Run(&d.chain, 0)

	if restore {
		rl0, rl1 := bchLayout(d.ecc, d.info.MetaSize, d.info.RawPageSize())
		d.ctl.SetLayout(d.cs, rl0, rl1)
	}
	return err
}

// EraseBlock erases one eraseblock.
func (d *Dev) EraseBlock(block uint32) error {
	page := block * d.info.PagesPerBlock()
	addr := make([]byte, 4)
	binary.LittleEndian.PutUint32(addr, page)

	d.chain.Reset()
	d.w4ready()
	d.issue(cmdEraseBlock, addr[:3], nil, nil, 0)
	d.w4ready()
	d.issue(cmdStatus, nil, nil, nil, 0)
	d.readcmp(0x1, 0)
	d.chain.Finish()
	return d.ctl.Run(&d.chain, 0)
}

// IsBad reads the raw metadata of the block's first page and checks
// the vendor bad-block marker; a failing read counts as bad.
func (d *Dev) IsBad(block uint32) bool {
	meta := make([]byte, d.ecc.MetaSpan(d.info.MetaSize))
	if err := d.Read(block*d.info.PagesPerBlock(), nil, meta, true, 0); err != nil {
		return true
	}
	return meta[0] == badBlockMarker
}

// MarkBad writes the bad-block marker into the raw metadata of the
// block's first page.
func (d *Dev) MarkBad(block uint32) error {
	meta := make([]byte, d.ecc.MetaSpan(d.info.MetaSize))
	for i := range meta {
		meta[i] = erasedByte
	}
	meta[0] = badBlockMarker
	return d.Write(block*d.info.PagesPerBlock(), nil, meta, true)
}

// countZeroBits counts zero bits in buf over the bit range
// [bitOffs, bitOffs+bitLen), byte-aligned at the edges and 32 bits at
// a time in the middle.
func countZeroBits(buf []byte, bitOffs, bitLen int) int {
	flips := 0
	i := bitOffs / 8
	bitOffs %= 8

	if bitOffs > 0 {
		b := buf[i] | byte(0xff<<(8-bitOffs))
		if bitOffs+bitLen < 8 {
			b |= byte(0xff >> (bitOffs + bitLen))
			bitLen = 0
		} else {
			bitLen -= 8 - bitOffs
		}
		flips += 8 - bits.OnesCount8(b)
		i++
	}

	for bitLen >= 32 && i+4 <= len(buf) {
		w := binary.LittleEndian.Uint32(buf[i:])
		flips += 32 - bits.OnesCount32(w)
		i += 4
		bitLen -= 32
	}

	for bitLen >= 8 {
		flips += 8 - bits.OnesCount8(buf[i])
		i++
		bitLen -= 8
	}

	if bitLen > 0 {
		b := buf[i] | byte(0xff>>bitLen)
		flips += 8 - bits.OnesCount8(b)
	}

	return flips
}

// checkECC walks the per-chunk status bytes after a decoded read. A
// chunk reported uncorrectable may still be an erased chunk with a
// few bitflips: the page is re-read raw and the zero bits counted
// against the chunk's ECC strength; within strength, the chunk is
// corrected to all-ones in the caller's buffer. The raw re-read is
// retried once before the chunk is declared fatally uncorrectable,
// since a marginal read can itself add flips. The caller's timeout
// carries through to the raw re-reads.
func (d *Dev) checkECC(page uint32, data, aux []byte, chunks int, timeoutMs uint32) error {
	metaBits := 8*int(d.info.MetaSize) + int(d.ecc.Strength0)*int(d.ecc.GF0)
	dataBits := 8*int(d.ecc.BlockSizeN) + int(d.ecc.StrengthN)*int(d.ecc.GFN)
	status := aux[auxStatusOffset(d.info.MetaSize):]
	rawValid := false

	for i := 0; i < chunks; i++ {
		if status[i] != eccStatusUncorrectable {
			continue
		}

		if !rawValid {
			if err := d.Read(page, d.scratch, nil, true, timeoutMs); err != nil {
				return err
			}
			rawValid = true
		}

		boffs, blen := 0, metaBits
		strength := int(d.ecc.Strength0)
		if i > 0 {
			boffs = metaBits + (i-1)*dataBits
			blen = dataBits
			strength = int(d.ecc.StrengthN)
		}

		flips := countZeroBits(d.scratch, boffs, blen)
		if flips > strength {
			if err := d.Read(page, d.scratch, nil, true, timeoutMs); err != nil {
				return err
			}
			flips = countZeroBits(d.scratch, boffs, blen)
		}
		if flips == 0 {
			continue
		}
		if flips > strength {
			return ioerr.ErrFault
		}

		// Erased chunk with correctable bitflips: present it as
		// erased.
		if i == 0 {
			for j := int64(0); j < d.info.MetaSize; j++ {
				aux[j] = erasedByte
			}
		} else {
			off := (i - 1) * int(d.ecc.BlockSizeN)
			for j := 0; j < int(d.ecc.BlockSizeN); j++ {
				data[off+j] = erasedByte
			}
		}
	}

	return nil
}
