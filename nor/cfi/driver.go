// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package cfi

import (
	"time"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/bitutil"
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// cfiQueryCmd is the standard command that switches a CFI-compliant
// chip into query mode, issued at the model-specific offset (here,
// address 0x55 word-addressed, common to both command sets).
const cfiQueryCmd = 0x98

// busyWait is the short delay between the AMD reset and the Intel
// reset during dual-command-set probing.
const busyWait = 10 * time.Microsecond

// Driver is the CFI parallel NOR driver: a memory-mapped chip,
// its matched command set, its CFI descriptor, the FTMCTRL
// write-enable gate, and the sector write-back cache it shares with
// SPI NOR via blockdev.SectorCache.
type Driver struct {
	bus       ParallelBus
	cmdSet    CmdSet
	desc      Descriptor
	portWidth int
	gate      WriteEnableGate
	timer     hal.Timer
	cache     *blockdev.SectorCache

	sectorSize int64
	chipSize   int64
}

// Probe issues the reset/query sequence against both command sets,
// reads the CFI descriptor, and returns a ready Driver. Order
// matters: AMD is reset first, then Intel, separated by a short
// busy-wait.
func Probe(bus ParallelBus, portWidth int, gate WriteEnableGate, t hal.Timer) (*Driver, error) {
	if err := checkPortWidth(portWidth); err != nil {
		return nil, err
	}

	if err := (AMDCmdSet{}).Reset(bus, portWidth); err != nil {
		return nil, err
	}
	time.Sleep(busyWait)
	if err := (IntelCmdSet{}).Reset(bus, portWidth); err != nil {
		return nil, err
	}

	if err := bus.WriteCmd(scaledAddr(0x55, portWidth), cfiQueryCmd, portWidth); err != nil {
		return nil, err
	}

	descBytes := make([]byte, 64)
	qryOff := scaledAddr(QRYOffset, portWidth)
	if err := bus.ReadAt(descBytes, qryOff); err != nil {
		return nil, err
	}
	bitutil.SwapBytes(descBytes)

	desc, err := Deserialize(descBytes)
	if err != nil {
		return nil, err
	}

	var cmdSet CmdSet
	switch desc.PriVendorCmdSet {
	case 0x0001, 0x0003:
		cmdSet = IntelCmdSet{}
	case 0x0002:
		cmdSet = AMDCmdSet{}
	default:
		return nil, ioerr.ErrNoEnt
	}

	if err := cmdSet.Reset(bus, portWidth); err != nil {
		return nil, err
	}

	d := &Driver{
		bus:        bus,
		cmdSet:     cmdSet,
		desc:       desc,
		portWidth:  portWidth,
		gate:       gate,
		timer:      t,
		sectorSize: desc.SectorSize(),
		chipSize:   desc.ChipSize,
	}
	d.cache = blockdev.NewSectorCache(d, t)
	return d, nil
}

func (d *Driver) Init() error { return nil }

func (d *Driver) Done() error {
	return d.Sync()
}

func (d *Driver) Size() int64 { return d.chipSize }

// --- blockdev.SectorBackend ---

func (d *Driver) SectorSize() int64 { return d.sectorSize }
func (d *Driver) DeviceSize() int64 { return d.chipSize }

// ReadRaw reads directly from the memory-mapped array, issuing a
// reset first so the chip is out of any command mode and presents
// array data. The array read itself is a plain memory copy with no
// status wait, so the caller's timeout is enforced by the sector
// cache between chunks rather than inside this call.
func (d *Driver) ReadRaw(off int64, buf []byte, timeoutMs uint32) error {
	if err := d.cmdSet.Reset(d.bus, d.portWidth); err != nil {
		return err
	}
	return d.bus.ReadAt(buf, off)
}

func (d *Driver) wbTimeoutMs() uint32 {
	return bitutil.CFITimeoutMillis(d.desc.TypicalBufferWriteLog2us, d.desc.MaxBufferWriteLog2)
}

func (d *Driver) eraseTimeoutMs() uint32 {
	return bitutil.SPINORTimeoutMillis(d.desc.TypicalBlockEraseLog2ms, d.desc.MaxBlockEraseLog2)
}

// ProgramSector erases the sector at addr then programs all of data,
// chunked into write-buffer-sized windows with leading all-ones runs
// skipped.
func (d *Driver) ProgramSector(addr int64, data []byte) error {
	d.gate.WrEn()
	defer d.gate.WrDis()

	if err := d.cmdSet.SectorErase(d.bus, d.portWidth, addr, d.timer, d.eraseTimeoutMs()); err != nil {
		return err
	}
	return d.programRegion(addr, data)
}

// programRegion streams data starting at addr through one or more
// write-buffer windows bounded by the chip's max buffer size.
func (d *Driver) programRegion(addr int64, data []byte) error {
	bufSize := d.desc.MaxBufferSize
	if bufSize <= 0 {
		bufSize = 1
	}

	for len(data) > 0 {
		n := bufSize
		if n > int64(len(data)) {
			n = int64(len(data))
		}
		if err := d.programChunk(addr, data[:n]); err != nil {
			return err
		}
		addr += n
		data = data[n:]
	}
	return nil
}

// programChunk skips leading all-ones bytes (already erased, nothing
// to program) before opening the write-buffer window.
func (d *Driver) programChunk(addr int64, data []byte) error {
	skip := 0
	for skip < len(data) && data[skip] == 0xff {
		skip++
	}
	if skip == len(data) {
		return nil
	}
	return d.cmdSet.WriteBuffer(d.bus, d.portWidth, addr+int64(skip), data[skip:], d.timer, d.wbTimeoutMs())
}

// --- blockdev.Device ---

func (d *Driver) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	return d.cache.Read(off, buf, timeoutMs)
}

func (d *Driver) Write(off int64, buf []byte) (int, error) {
	return d.cache.Write(off, buf)
}

// Erase rounds to sector boundaries, invalidates the cache over the
// erased range, and falls back to iterating SectorErase when
// ChipErase is unsupported (Intel command set).
func (d *Driver) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	d.gate.WrEn()
	defer d.gate.WrDis()

	if length == blockdev.EraseAll {
		if err := d.cmdSet.ChipErase(d.bus, d.portWidth, d.timer, d.eraseTimeoutMs()); err == nil {
			d.cache.Invalidate(0, d.chipSize)
			return d.chipSize, nil
		} else if err != ioerr.ErrNoSys {
			return 0, err
		}
		// Fall through to sector-erase iteration.
		off, length = 0, d.chipSize
	}

	start := (off / d.sectorSize) * d.sectorSize
	end := off + length
	if end > d.chipSize {
		end = d.chipSize
	}
	end = ((end + d.sectorSize - 1) / d.sectorSize) * d.sectorSize
	if end > d.chipSize {
		end = d.chipSize
	}

	for a := start; a < end; a += d.sectorSize {
		if err := d.cmdSet.SectorErase(d.bus, d.portWidth, a, d.timer, d.eraseTimeoutMs()); err != nil {
			return a - start, err
		}
	}
	d.cache.Invalidate(start, end-start)
	return end - start, nil
}

func (d *Driver) Sync() error { return d.cache.Sync() }

// Map answers the three-way "can the caller access this range in
// place" question. A request whose end equals the chip size returns
// Invalid, not IsMappable (off+size >= chipSize, not >) — kept
// deliberately, callers that map a whole chip must split the last
// byte off.
func (d *Driver) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	if req.Offset < 0 || req.Offset+req.Size >= d.chipSize {
		return blockdev.MapResult{Outcome: blockdev.Invalid}, nil
	}
	if req.Mode&^(blockdev.MapRead|blockdev.MapExec) != 0 {
		return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
	}
	return blockdev.MapResult{Outcome: blockdev.IsMappable, Addr: req.MemAddr}, nil
}

var _ blockdev.Device = (*Driver)(nil)
var _ blockdev.SectorBackend = (*Driver)(nil)
