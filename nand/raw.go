// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nand

import (
	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// RawDev is the NAND_RAW block device: the chip's raw pages, data and
// OOB together, with no ECC on either path. Used by flashing tools
// that carry their own parity. Like the metadata view it syncs the
// shared eraseblock cache before touching the chip and never skips
// bad blocks.
type RawDev struct {
	data *DataDev
}

// NewRaw wraps the data device's driver in the raw view.
func NewRaw(data *DataDev) *RawDev { return &RawDev{data: data} }

// Init and Done are no-ops: lifecycle belongs to the data device.
func (d *RawDev) Init() error { return nil }
func (d *RawDev) Done() error { return nil }

// Size returns the raw address space: page plus OOB per page.
func (d *RawDev) Size() int64 {
	info := d.data.drv.info
	return (info.Size / info.PageSize) * info.RawPageSize()
}

func (d *RawDev) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	info := d.data.drv.info
	rawPage := info.RawPageSize()
	total := d.Size()

	if off >= total {
		return 0, ioerr.ErrInval
	}
	n := int64(len(buf))
	if off+n > total {
		n = total - off
	}
	if n == 0 {
		return 0, nil
	}

	if err := d.data.doSync(); err != nil {
		return 0, err
	}

	page := make([]byte, rawPage)
	ret := int64(0)

	for ret < n {
		pg := uint32((off + ret) / rawPage)
		poffs := (off + ret) % rawPage
		size := minInt64(n-ret, rawPage-poffs)

		if err := d.data.drv.Read(pg, page, nil, true, timeoutMs); err != nil {
			if err == ioerr.ErrTimeout {
				return int(ret), err
			}
			return int(ret), ioerr.ErrIO
		}
		copy(buf[ret:ret+size], page[poffs:])
		ret += size
	}

	return int(ret), nil
}

func (d *RawDev) Write(off int64, buf []byte) (int, error) {
	info := d.data.drv.info
	rawPage := info.RawPageSize()
	total := d.Size()

	if off >= total || off%rawPage != 0 {
		return 0, ioerr.ErrInval
	}
	n := int64(len(buf))
	if off+n > total {
		n = total - off
	}
	if n == 0 {
		return 0, nil
	}

	if err := d.data.doSync(); err != nil {
		return 0, err
	}

	page := make([]byte, rawPage)
	ret := int64(0)

	for ret < n {
		size := minInt64(n-ret, rawPage)
		for i := range page {
			page[i] = erasedByte
		}
		copy(page, buf[ret:ret+size])

		if err := d.data.drv.Write(uint32((off+ret)/rawPage), page, nil, true); err != nil {
			return int(ret), ioerr.ErrIO
		}
		ret += size
	}

	return int(ret), nil
}

// Erase is not supported on the raw view.
func (d *RawDev) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	return 0, ioerr.ErrNoSys
}

func (d *RawDev) Sync() error { return nil }

func (d *RawDev) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	if req.Mode&req.MemMode != req.Mode {
		return blockdev.MapResult{Outcome: blockdev.Invalid}, nil
	}
	return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
}

var _ blockdev.Device = (*RawDev)(nil)
