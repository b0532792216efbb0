// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nand

import (
	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// MetaDev is the NAND_META block device: the per-page user metadata
// exposed as a flat address space of MetaSize bytes per page. Reads
// go through ECC; writes program the metadata block only, leaving the
// page data untouched. It relies on the data device for cache
// coherence: every access syncs the shared eraseblock cache first.
// Bad blocks are not skipped, because the metadata space is where
// blocks get marked bad in the first place.
type MetaDev struct {
	data *DataDev
}

// NewMeta wraps the data device's driver in the metadata view.
func NewMeta(data *DataDev) *MetaDev { return &MetaDev{data: data} }

// Init and Done are no-ops: lifecycle belongs to the data device.
func (d *MetaDev) Init() error { return nil }
func (d *MetaDev) Done() error { return nil }

// Size returns the metadata address space: MetaSize bytes per page.
func (d *MetaDev) Size() int64 {
	info := d.data.drv.info
	return (info.Size / info.PageSize) * info.MetaSize
}

func (d *MetaDev) checkRange(off int64, n int64) (int64, error) {
	info := d.data.drv.info
	size := d.Size()
	if off >= size || off%info.MetaSize != 0 {
		return 0, ioerr.ErrInval
	}
	if off+n > size {
		n = size - off
	}
	return n, nil
}

func (d *MetaDev) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	info := d.data.drv.info
	n, err := d.checkRange(off, int64(len(buf)))
	if err != nil || n == 0 {
		return 0, err
	}

	if err := d.data.doSync(); err != nil {
		return 0, err
	}

	aux := make([]byte, d.data.drv.AuxSize())
	page := uint32(off / info.MetaSize)
	ret := int64(0)

	for ret < n {
		if err := d.data.drv.Read(page, nil, aux, false, timeoutMs); err != nil {
			if err == ioerr.ErrTimeout {
				return int(ret), err
			}
			return int(ret), ioerr.ErrIO
		}
		size := minInt64(n-ret, info.MetaSize)
		copy(buf[ret:ret+size], aux[:size])
		ret += size
		page++
	}

	return int(ret), nil
}

func (d *MetaDev) Write(off int64, buf []byte) (int, error) {
	info := d.data.drv.info
	n, err := d.checkRange(off, int64(len(buf)))
	if err != nil || n == 0 {
		return 0, err
	}

	if err := d.data.doSync(); err != nil {
		return 0, err
	}

	meta := make([]byte, info.MetaSize)
	page := uint32(off / info.MetaSize)
	ret := int64(0)

	for ret < n {
		size := minInt64(n-ret, info.MetaSize)
		for i := range meta {
			meta[i] = erasedByte
		}
		copy(meta, buf[ret:ret+size])

		if err := d.data.drv.Write(page, nil, meta, false); err != nil {
			return int(ret), ioerr.ErrIO
		}
		ret += size
		page++
	}

	return int(ret), nil
}

// Erase is not supported on the metadata view; metadata is erased
// together with its block through the data device.
func (d *MetaDev) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	return 0, ioerr.ErrNoSys
}

func (d *MetaDev) Sync() error { return nil }

func (d *MetaDev) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	if req.Mode&req.MemMode != req.Mode {
		return blockdev.MapResult{Outcome: blockdev.Invalid}, nil
	}
	return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
}

var _ blockdev.Device = (*MetaDev)(nil)
