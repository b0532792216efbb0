// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package spinor

import (
	"time"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/bitutil"
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
	"github.com/phoenix-rtos/plo-sub002/internal/nordb"
)

// Driver is the serial NOR driver, owning the chip parameters and
// opcode table passed to New, the EAR shadow, and the sector
// write-back cache.
type Driver struct {
	ctl   Controller
	ops   Opcodes
	timer hal.Timer

	chipSize   int64
	pageSize   int64
	sectorSize int64
	regions    []nordb.Region

	pageProgramUs, pageProgramMax   uint8
	sectorEraseUs, sectorEraseMax   uint8
	chipEraseUs, chipEraseMax       uint8

	ear      byte
	earKnown bool

	cache *blockdev.SectorCache
}

// New builds a Driver from the caller-supplied chip parameters and
// opcode table. The package does not read the chip's JEDEC ID and
// does not look the chip up in nordb itself.
func New(ctl Controller, ops Opcodes, chip nordb.SPINORChip, t hal.Timer) *Driver {
	d := &Driver{
		ctl:            ctl,
		ops:            ops,
		timer:          t,
		chipSize:       chip.TotalSize,
		pageSize:       chip.PageSize,
		sectorSize:     chip.SectorSize,
		regions:        chip.Regions,
		pageProgramUs:  chip.PageProgramUs,
		pageProgramMax: chip.PageProgramMax,
		sectorEraseUs:  chip.SectorEraseUs,
		sectorEraseMax: chip.SectorEraseMax,
		chipEraseUs:    chip.ChipEraseUs,
		chipEraseMax:   chip.ChipEraseMax,
	}
	d.cache = blockdev.NewSectorCache(d, t)
	return d
}

func (d *Driver) Init() error { return nil }
func (d *Driver) Done() error { return d.Sync() }
func (d *Driver) Size() int64 { return d.chipSize }

// --- blockdev.SectorBackend ---

func (d *Driver) SectorSize() int64 { return d.sectorSize }
func (d *Driver) DeviceSize() int64 { return d.chipSize }

func (d *Driver) pageProgramTimeoutMs() uint32 {
	return bitutil.SPINORTimeoutMillis(d.pageProgramUs, d.pageProgramMax)
}
func (d *Driver) sectorEraseTimeoutMs() uint32 {
	return bitutil.SPINORTimeoutMillis(d.sectorEraseUs, d.sectorEraseMax)
}
func (d *Driver) chipEraseTimeoutMs() uint32 {
	return bitutil.SPINORTimeoutMillis(d.chipEraseUs, d.chipEraseMax)
}

// ensureEAR writes the shadow extended-address register only when
// addr's window differs from the cached value.
func (d *Driver) ensureEAR(addr int64) error {
	want := earOf(addr)
	if d.earKnown && d.ear == want {
		return nil
	}
	if err := d.ctl.Exec(d.ops.WriteEnable, false, 0, nil, nil); err != nil {
		return err
	}
	if err := d.ctl.Exec(d.ops.WriteEAR, false, 0, []byte{want}, nil); err != nil {
		return err
	}
	d.ear = want
	d.earKnown = true
	return d.ctl.Exec(d.ops.WriteDisable, false, 0, nil, nil)
}

func (d *Driver) waitReady(timeoutMs uint32) error {
	rx := make([]byte, 1)
	return hal.PollUntil(d.timer, time.Duration(timeoutMs)*time.Millisecond, time.Microsecond, func() (bool, error) {
		if err := d.ctl.Exec(d.ops.ReadStatus, false, 0, nil, rx); err != nil {
			return false, err
		}
		return rx[0]&statusWIP == 0, nil
	})
}

// ReadRaw dispatches a raw read: a range wholly inside one EAR
// window is served from the memory-mapped window; a range
// crossing a window boundary is split at the boundary and served
// through the opcode-based read, with the EAR updated between pieces.
// A nonzero timeoutMs bounds the per-window loop: on expiry the read
// stops with ioerr.ErrTimeout and the EAR shadow stays valid for
// whatever window was last selected.
func (d *Driver) ReadRaw(off int64, buf []byte, timeoutMs uint32) error {
	if len(buf) == 0 {
		return nil
	}
	end := off + int64(len(buf))

	if earOf(off) == earOf(end-1) {
		if err := d.ensureEAR(off); err != nil {
			return err
		}
		return d.ctl.MappedRead(buf, int64(localAddr(off)))
	}

	var deadline time.Duration
	if timeoutMs > 0 {
		deadline = d.timer.Now() + time.Duration(timeoutMs)*time.Millisecond
	}

	cur := off
	rem := buf
	for len(rem) > 0 {
		if timeoutMs > 0 && d.timer.Now() >= deadline {
			return ioerr.ErrTimeout
		}

		winEnd := (int64(earOf(cur)) + 1) << earWindowBits
		n := winEnd - cur
		if n > int64(len(rem)) {
			n = int64(len(rem))
		}
		if err := d.ensureEAR(cur); err != nil {
			return err
		}
		if err := d.ctl.Exec(d.ops.Read, true, localAddr(cur), nil, rem[:n]); err != nil {
			return err
		}
		rem = rem[n:]
		cur += n
	}
	return nil
}

// regionSizeAt returns the erase granularity that applies at addr,
// per the chip's region layout; falls back to the uniform sectorSize
// when the chip has no mixed layout.
func (d *Driver) regionSizeAt(addr int64) int64 {
	if len(d.regions) == 0 {
		return d.sectorSize
	}
	base := int64(0)
	for _, r := range d.regions {
		span := r.Count * r.Size
		if addr < base+span {
			return r.Size
		}
		base += span
	}
	return d.sectorSize
}

func (d *Driver) eraseOpcodeFor(size int64) byte {
	if size < d.sectorSize && d.ops.SectorErase4K != 0 {
		return d.ops.SectorErase4K
	}
	return d.ops.SectorErase
}

func (d *Driver) eraseOneRegion(addr, size int64) error {
	if err := d.ensureEAR(addr); err != nil {
		return err
	}
	if err := d.ctl.Exec(d.ops.WriteEnable, false, 0, nil, nil); err != nil {
		return err
	}
	if err := d.ctl.Exec(d.eraseOpcodeFor(size), true, localAddr(addr), nil, nil); err != nil {
		return err
	}
	if err := d.waitReady(d.sectorEraseTimeoutMs()); err != nil {
		return err
	}
	return d.ctl.Exec(d.ops.WriteDisable, false, 0, nil, nil)
}

// eraseCover erases every region-granularity block intersecting
// [off, off+length), rounding outward, iterating small-sector erases
// across a mixed-region chip. Returns the actual rounded
// [start, end) covered.
func (d *Driver) eraseCover(off, length int64) (start, end int64, err error) {
	start = off
	rs := d.regionSizeAt(start)
	start = (start / rs) * rs

	end = off + length
	if end > d.chipSize {
		end = d.chipSize
	}
	if end > start {
		re := d.regionSizeAt(end - 1)
		end = ((end + re - 1) / re) * re
	}
	if end > d.chipSize {
		end = d.chipSize
	}

	for cur := start; cur < end; {
		sz := d.regionSizeAt(cur)
		if err = d.eraseOneRegion(cur, sz); err != nil {
			return start, cur, err
		}
		cur += sz
	}
	return start, end, nil
}

func (d *Driver) programPage(addr int64, data []byte) error {
	skip := 0
	for skip < len(data) && data[skip] == 0xff {
		skip++
	}
	if skip == len(data) {
		return nil
	}
	addr += int64(skip)
	data = data[skip:]

	if err := d.ensureEAR(addr); err != nil {
		return err
	}
	if err := d.ctl.Exec(d.ops.WriteEnable, false, 0, nil, nil); err != nil {
		return err
	}
	if err := d.ctl.Exec(d.ops.PageProgram, true, localAddr(addr), data, nil); err != nil {
		return err
	}
	if err := d.waitReady(d.pageProgramTimeoutMs()); err != nil {
		return err
	}
	return d.ctl.Exec(d.ops.WriteDisable, false, 0, nil, nil)
}

func (d *Driver) programRegion(addr int64, data []byte) error {
	for len(data) > 0 {
		pageOff := addr % d.pageSize
		n := d.pageSize - pageOff
		if n > int64(len(data)) {
			n = int64(len(data))
		}
		if err := d.programPage(addr, data[:n]); err != nil {
			return err
		}
		addr += n
		data = data[n:]
	}
	return nil
}

// ProgramSector implements blockdev.SectorBackend: erase the cache's
// logical sector (iterating small-sector erases if it spans a
// mixed-region boundary), then page-program the whole buffer.
func (d *Driver) ProgramSector(addr int64, data []byte) error {
	if _, _, err := d.eraseCover(addr, int64(len(data))); err != nil {
		return err
	}
	return d.programRegion(addr, data)
}

// --- blockdev.Device ---

func (d *Driver) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	return d.cache.Read(off, buf, timeoutMs)
}

func (d *Driver) Write(off int64, buf []byte) (int, error) {
	return d.cache.Write(off, buf)
}

func (d *Driver) chipErase() error {
	if err := d.ctl.Exec(d.ops.WriteEnable, false, 0, nil, nil); err != nil {
		return err
	}
	if err := d.ctl.Exec(d.ops.ChipErase, false, 0, nil, nil); err != nil {
		return err
	}
	if err := d.waitReady(d.chipEraseTimeoutMs()); err != nil {
		return err
	}
	return d.ctl.Exec(d.ops.WriteDisable, false, 0, nil, nil)
}

// Erase: a length of blockdev.EraseAll issues a single chip-erase
// (always available on both Macronix and Spansion command sets,
// unlike CFI's Intel/AMD split); otherwise it rounds to the
// applicable region granularity and iterates.
func (d *Driver) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	if length == blockdev.EraseAll {
		if err := d.chipErase(); err != nil {
			return 0, err
		}
		d.cache.Invalidate(0, d.chipSize)
		return d.chipSize, nil
	}

	start, end, err := d.eraseCover(off, length)
	if err != nil {
		return end - start, err
	}
	d.cache.Invalidate(start, end-start)
	return end - start, nil
}

func (d *Driver) Sync() error { return d.cache.Sync() }

// Map keeps the same off+size >= chipSize boundary behavior as
// nor/cfi, and additionally refuses to report
// IS-MAPPABLE across an EAR window boundary: the memory-mapped window
// only ever exposes one 16 MiB slice at a time, so a range spanning
// two windows cannot be read in place without driver intervention.
func (d *Driver) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	if req.Offset < 0 || req.Offset+req.Size >= d.chipSize {
		return blockdev.MapResult{Outcome: blockdev.Invalid}, nil
	}
	if req.Mode&^(blockdev.MapRead|blockdev.MapExec) != 0 {
		return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
	}
	if req.Size > 0 && earOf(req.Offset) != earOf(req.Offset+req.Size-1) {
		return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
	}
	return blockdev.MapResult{Outcome: blockdev.IsMappable, Addr: req.MemAddr}, nil
}

var _ blockdev.Device = (*Driver)(nil)
var _ blockdev.SectorBackend = (*Driver)(nil)
