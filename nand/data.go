// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nand

import (
	"time"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// The data/meta/raw devices share one module-level write-back cache:
// one page buffer identified by (rdev, rpage) and one eraseblock
// buffer identified by (wdev, wblock), across the whole set of NAND
// devices. Only one NAND device is ever active on current platforms,
// so a per-device cache would double the RAM footprint without
// benefit. The state is allocated by the first Init and released by
// the matching Done.
var dataCache struct {
	rdev   *DataDev
	rpage  uint32
	wdev   *DataDev
	wblock uint32

	page  []byte
	block []byte
	aux   []byte
	users int
}

// DataDev is the NAND_DATA block device: byte-addressable access to
// the chip's data pages, with bad blocks transparently skipped and
// writes staged in the eraseblock cache until Sync.
type DataDev struct {
	drv   *Dev
	timer hal.Timer
}

// NewData wraps a probed page driver in the data block device. The
// timer enforces the caller-supplied read timeout.
func NewData(drv *Dev, t hal.Timer) *DataDev { return &DataDev{drv: drv, timer: t} }

// Init allocates the module-level cache buffers on first use. Buffers
// are sized for the largest geometry among active devices; in
// practice all chip selects carry the same part.
func (d *DataDev) Init() error {
	info := d.drv.info
	if int64(len(dataCache.page)) < info.PageSize {
		dataCache.page = make([]byte, info.PageSize)
	}
	if int64(len(dataCache.block)) < info.EraseSize {
		dataCache.block = make([]byte, info.EraseSize)
	}
	if len(dataCache.aux) < d.drv.AuxSize() {
		dataCache.aux = make([]byte, d.drv.AuxSize())
	}
	dataCache.users++
	return nil
}

// Done syncs the cache and, once the last data device is gone,
// releases the module-level state.
func (d *DataDev) Done() error {
	err := d.doSync()
	if dataCache.users > 0 {
		dataCache.users--
	}
	if dataCache.users == 0 {
		dataCache.rdev = nil
		dataCache.wdev = nil
		dataCache.page = nil
		dataCache.block = nil
		dataCache.aux = nil
	}
	return err
}

func (d *DataDev) Size() int64 { return d.drv.info.Size }

func (d *DataDev) invalidatePage() {
	if dataCache.rdev == d {
		dataCache.rdev = nil
	}
}

// doSync flushes the eraseblock cache: erase the target block and
// program its pages. If the block fails it is marked bad and the
// cached data moves forward to the next good block; with no good
// block left the sync fails with ErrNoSpc.
func (d *DataDev) doSync() error {
	d.invalidatePage()
	if dataCache.wdev != d {
		return nil
	}

	info := d.drv.info
	nblocks := info.BlockCount()
	npages := info.PagesPerBlock()

	for {
		for dataCache.wblock < nblocks && d.drv.IsBad(dataCache.wblock) {
			dataCache.wblock++
		}
		if dataCache.wblock >= nblocks {
			return ioerr.ErrNoSpc
		}

		err := d.drv.EraseBlock(dataCache.wblock)
		if err == nil {
			base := dataCache.wblock * npages
			for i := uint32(0); i < npages; i++ {
				err = d.drv.Write(base+i, dataCache.block[int64(i)*info.PageSize:int64(i+1)*info.PageSize], nil, false)
				if err != nil {
					break
				}
			}
		}
		if err == nil {
			dataCache.wdev = nil
			return nil
		}

		// Block sync failed: mark it bad and retry on the next block.
		if d.drv.MarkBad(dataCache.wblock) != nil {
			return ioerr.ErrIO
		}
		dataCache.wblock++
	}
}

func (d *DataDev) Sync() error { return d.doSync() }

// Read serves the requested range over the bad-block-skipping address
// space: it walks good blocks only, served from the
// eraseblock cache when it covers the cached block and from the
// single-page read cache otherwise.
//
// A nonzero timeoutMs bounds the whole call: on expiry Read returns
// ioerr.ErrTimeout with the bytes transferred so far, the remaining
// budget carried into each page read's DMA/BCH waits. The caches are
// left consistent — a page already latched stays latched.
func (d *DataDev) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	info := d.drv.info

	if off >= info.Size {
		return 0, nil
	}
	n := int64(len(buf))
	if off+n > info.Size {
		n = info.Size - off
	}
	if n == 0 {
		return 0, nil
	}

	var deadline time.Duration
	if timeoutMs > 0 {
		deadline = d.timer.Now() + time.Duration(timeoutMs)*time.Millisecond
	}

	nblocks := info.BlockCount()
	npages := info.PagesPerBlock()
	boffs := off % info.EraseSize
	ret := int64(0)

	for block := uint32(off / info.EraseSize); block < nblocks && ret < n; block++ {
		if d.drv.IsBad(block) {
			continue
		}

		if dataCache.wdev == d && block == dataCache.wblock {
			size := minInt64(n-ret, info.EraseSize-boffs)
			copy(buf[ret:ret+size], dataCache.block[boffs:])
			ret += size
		} else {
			poffs := boffs % info.PageSize

			for page := block*npages + uint32(boffs/info.PageSize); page < (block+1)*npages && ret < n; page++ {
				left := uint32(0)
				if timeoutMs > 0 {
					budget := deadline - d.timer.Now()
					if budget <= 0 {
						return int(ret), ioerr.ErrTimeout
					}
					left = uint32(budget / time.Millisecond)
					if left == 0 {
						left = 1
					}
				}

				if dataCache.rdev != d || page != dataCache.rpage {
					if err := d.drv.Read(page, dataCache.page, dataCache.aux, false, left); err != nil {
						if err == ioerr.ErrTimeout {
							return int(ret), err
						}
						// Block data is lost: mark it bad and give up.
						dataCache.rdev = nil
						d.drv.MarkBad(block)
						return int(ret), ioerr.ErrIO
					}
					dataCache.rdev = d
					dataCache.rpage = page
				}

				size := minInt64(n-ret, info.PageSize-poffs)
				copy(buf[ret:ret+size], dataCache.page[poffs:])
				ret += size
				poffs = 0
			}
		}

		boffs = 0
	}

	return int(ret), nil
}

// fillBlock reads the pages of block around [boffs, boffs+span) into
// the eraseblock cache, so a partial overwrite preserves its
// neighbors.
func (d *DataDev) fillBlock(block uint32, boffs, span int64) error {
	info := d.drv.info
	npages := info.PagesPerBlock()
	base := block * npages

	i := uint32(0)
	for ; int64(i)*info.PageSize < boffs; i++ {
		if err := d.drv.Read(base+i, dataCache.block[int64(i)*info.PageSize:int64(i+1)*info.PageSize], dataCache.aux, false, 0); err != nil {
			return err
		}
	}
	for i = maxUint32(i, uint32((boffs+span)/info.PageSize)); i < npages; i++ {
		if err := d.drv.Read(base+i, dataCache.block[int64(i)*info.PageSize:int64(i+1)*info.PageSize], dataCache.aux, false, 0); err != nil {
			return err
		}
	}
	return nil
}

// Write merges buf into the eraseblock cache, switching cached blocks
// with a sync as the range walks forward, skipping bad blocks.
func (d *DataDev) Write(off int64, buf []byte) (int, error) {
	info := d.drv.info

	if off >= info.Size {
		return 0, ioerr.ErrInval
	}
	n := int64(len(buf))
	if off+n > info.Size {
		n = info.Size - off
	}
	if n == 0 {
		return 0, nil
	}

	d.invalidatePage()

	nblocks := info.BlockCount()
	boffs := off % info.EraseSize
	ret := int64(0)

	for block := uint32(off / info.EraseSize); block < nblocks && ret < n; block++ {
		if d.drv.IsBad(block) {
			continue
		}

		if dataCache.wdev != d || block != dataCache.wblock {
			cdev, cblock := dataCache.wdev, dataCache.wblock

			if cdev != nil {
				if err := cdev.doSync(); err != nil {
					return int(ret), err
				}
				// The cached data may have landed on a later block of
				// this same device; continue behind it.
				if cdev == d && block > cblock && block <= dataCache.wblock {
					block = dataCache.wblock
					continue
				}
			}

			if err := d.fillBlock(block, boffs, n-ret); err != nil {
				// Block data is lost: mark it bad and move on.
				if d.drv.MarkBad(block) != nil {
					return int(ret), ioerr.ErrIO
				}
				continue
			}

			dataCache.wdev = d
			dataCache.wblock = block
		}

		size := minInt64(n-ret, info.EraseSize-boffs)
		copy(dataCache.block[boffs:], buf[ret:ret+size])
		ret += size
		boffs = 0
	}

	return int(ret), nil
}

// Erase: block-aligned spans erase directly and
// invalidate the cache; partial spans are a read-modify-erase-write
// through the eraseblock cache with the affected range set to the
// erased state. Bad blocks are skipped. The returned count covers the
// bytes actually erased or staged.
func (d *DataDev) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	info := d.drv.info

	if off >= info.Size {
		return 0, ioerr.ErrInval
	}
	if length == blockdev.EraseAll {
		length = info.Size
	}
	if off+length > info.Size {
		length = info.Size - off
	}
	if length == 0 {
		return 0, nil
	}

	d.invalidatePage()

	nblocks := info.BlockCount()
	boffs := off % info.EraseSize
	ret := int64(0)

	for block := uint32(off / info.EraseSize); block < nblocks && ret < length; block++ {
		if d.drv.IsBad(block) {
			continue
		}

		if boffs != 0 || ret+info.EraseSize > length {
			// Partial block erase through the cache.
			if dataCache.wdev != d || block != dataCache.wblock {
				if dataCache.wdev != nil {
					if err := dataCache.wdev.doSync(); err != nil {
						return ret, err
					}
				}
				if err := d.fillBlock(block, 0, 0); err != nil {
					if d.drv.MarkBad(block) != nil {
						return ret, ioerr.ErrIO
					}
					continue
				}
				dataCache.wdev = d
				dataCache.wblock = block
			}

			size := minInt64(length-ret, info.EraseSize-boffs)
			for i := boffs; i < boffs+size; i++ {
				dataCache.block[i] = erasedByte
			}
			ret += size
			boffs = 0
		} else {
			// Full block erase.
			if dataCache.wdev == d && block == dataCache.wblock {
				dataCache.wdev = nil
			}
			if err := d.drv.EraseBlock(block); err != nil {
				if d.drv.MarkBad(block) != nil {
					return ret, ioerr.ErrIO
				}
			} else {
				ret += info.EraseSize
			}
		}
	}

	return ret, nil
}

// Map: NAND has no memory-mapped window, so data must always be
// copied through I/O; a requested mode exceeding the region's mode is
// invalid.
func (d *DataDev) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	if req.Mode&req.MemMode != req.Mode {
		return blockdev.MapResult{Outcome: blockdev.Invalid}, nil
	}
	return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

var _ blockdev.Device = (*DataDev)(nil)
