// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package blockdev

import (
	"time"

	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// CacheState is the sector cache's observable state: empty, holding a
// clean copy of one sector, or holding modified data not yet written
// back.
type CacheState int

const (
	// StateEmpty: no sector buffered.
	StateEmpty CacheState = iota
	StateClean
	StateDirty
)

// emptyAddr is the sentinel recorded in SectorCache.addr while the
// cache holds no sector.
const emptyAddr int64 = -1

// SectorBackend is the set of primitives a sector write-back cache
// needs from the driver underneath it. CFI-NOR and SPI-NOR each
// implement this once and get Read/Write/Sync/Invalidate for free.
type SectorBackend interface {
	// SectorSize returns the erase granularity in bytes.
	SectorSize() int64

	// DeviceSize returns the total addressable size in bytes.
	DeviceSize() int64

	// ReadRaw reads len(buf) bytes directly from the medium at off,
	// bypassing the cache. Used both to serve cache misses on read
	// and to fill the cache before a sub-sector write merges into it.
	// A nonzero timeoutMs bounds any waiting the driver performs;
	// zero means the driver's own internal bound applies.
	ReadRaw(off int64, buf []byte, timeoutMs uint32) error

	// ProgramSector erases the sector at addr (sector-aligned) and
	// writes all of data (exactly one SectorSize) to it. This is the
	// single "erase then program" primitive both Sync and full-sector
	// bypass writes use.
	ProgramSector(addr int64, data []byte) error
}

// SectorCache is the write-back sector cache both the CFI-NOR and
// SPI-NOR drivers stage sub-sector writes through.
type SectorCache struct {
	backend SectorBackend
	timer   hal.Timer
	buf     []byte
	addr    int64
	dirty   bool
}

// NewSectorCache allocates a cache for the given backend. The timer
// enforces the caller-supplied read timeout.
func NewSectorCache(backend SectorBackend, t hal.Timer) *SectorCache {
	return &SectorCache{
		backend: backend,
		timer:   t,
		buf:     make([]byte, backend.SectorSize()),
		addr:    emptyAddr,
	}
}

// State reports the current cache state, for tests and diagnostics.
func (c *SectorCache) State() CacheState {
	switch {
	case c.addr == emptyAddr:
		return StateEmpty
	case c.dirty:
		return StateDirty
	default:
		return StateClean
	}
}

// Addr reports the currently cached sector address; meaningless when
// State() == StateEmpty.
func (c *SectorCache) Addr() int64 { return c.addr }

func (c *SectorCache) sectorOf(off int64) int64 {
	ss := c.backend.SectorSize()
	return (off / ss) * ss
}

// Read serves a read through the cache: a cache hit is served from
// the buffer, a miss falls through to ReadRaw without populating the
// cache. Only writes lazily fill it — a plain read never claims the
// buffer, so it cannot evict a dirty sector early.
//
// A nonzero timeoutMs bounds the whole call: on expiry Read returns
// ioerr.ErrTimeout with the bytes transferred so far, and the cache
// is unchanged. Zero means no caller-imposed bound.
func (c *SectorCache) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	devSize := c.backend.DeviceSize()
	if off >= devSize {
		return 0, nil
	}

	n := int64(len(buf))
	if off+n > devSize {
		n = devSize - off
	}

	var deadline time.Duration
	if timeoutMs > 0 {
		deadline = c.timer.Now() + time.Duration(timeoutMs)*time.Millisecond
	}

	ss := c.backend.SectorSize()
	remaining := buf[:n]
	cur := off

	for int64(len(remaining)) > 0 {
		left := uint32(0)
		if timeoutMs > 0 {
			budget := deadline - c.timer.Now()
			if budget <= 0 {
				return int(cur - off), ioerr.ErrTimeout
			}
			left = uint32(budget / time.Millisecond)
			if left == 0 {
				left = 1
			}
		}

		sector := c.sectorOf(cur)
		inSector := cur - sector
		chunk := ss - inSector
		if chunk > int64(len(remaining)) {
			chunk = int64(len(remaining))
		}

		if c.addr == sector {
			copy(remaining[:chunk], c.buf[inSector:inSector+chunk])
		} else if err := c.backend.ReadRaw(cur, remaining[:chunk], left); err != nil {
			return int(cur - off), err
		}

		remaining = remaining[chunk:]
		cur += chunk
	}

	return int(n), nil
}

// fill loads the sector at addr into the buffer via ReadRaw, flushing
// a dirty occupant first.
func (c *SectorCache) fill(addr int64) error {
	if c.addr == addr {
		return nil
	}
	if c.dirty {
		if err := c.flush(); err != nil {
			return err
		}
	}
	if err := c.backend.ReadRaw(addr, c.buf, 0); err != nil {
		return err
	}
	c.addr = addr
	c.dirty = false
	return nil
}

func (c *SectorCache) flush() error {
	if c.addr == emptyAddr || !c.dirty {
		return nil
	}
	if err := c.backend.ProgramSector(c.addr, c.buf); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Write merges buf into the cache at off: any byte within an
// eraseblock may be overwritten and bytes outside the written range
// are preserved. A write spanning a whole sector bypasses the cache
// and programs directly; a sub-sector write fills, merges and marks
// dirty.
func (c *SectorCache) Write(off int64, buf []byte) (int, error) {
	devSize := c.backend.DeviceSize()
	if off >= devSize {
		return 0, ioerr.ErrInval
	}

	n := int64(len(buf))
	if off+n > devSize {
		n = devSize - off
	}

	ss := c.backend.SectorSize()
	remaining := buf[:n]
	cur := off

	for int64(len(remaining)) > 0 {
		sector := c.sectorOf(cur)
		inSector := cur - sector
		chunk := ss - inSector
		if chunk > int64(len(remaining)) {
			chunk = int64(len(remaining))
		}

		if inSector == 0 && chunk == ss {
			// Whole-sector write: bypass the cache entirely.
			if c.addr == sector {
				c.addr = emptyAddr
				c.dirty = false
			}
			if err := c.backend.ProgramSector(sector, remaining[:chunk]); err != nil {
				return int(cur - off), err
			}
		} else {
			if err := c.fill(sector); err != nil {
				return int(cur - off), err
			}
			copy(c.buf[inSector:inSector+chunk], remaining[:chunk])
			c.dirty = true
		}

		remaining = remaining[chunk:]
		cur += chunk
	}

	return int(n), nil
}

// Sync flushes a dirty cache entry (erase + program). A no-op on an
// empty or clean cache. On ProgramSector failure the cache stays
// dirty so a retried Sync can recover.
func (c *SectorCache) Sync() error {
	return c.flush()
}

// Invalidate drops the cached sector if it overlaps [off, off+length),
// as erase (or an out-of-range access) requires.
func (c *SectorCache) Invalidate(off, length int64) {
	if c.addr == emptyAddr {
		return
	}
	ss := c.backend.SectorSize()
	if c.addr+ss > off && c.addr < off+length {
		c.addr = emptyAddr
		c.dirty = false
	}
}
