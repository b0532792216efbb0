// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package main

import (
	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// imageDevice is the hosted storage device: a flash image (or block
// device) behind a hal.Bus window, with erase-to-ones semantics
// emulated at the configured block granularity. It stands in for the
// probed NOR/NAND device the registry would dispatch to on hardware.
type imageDevice struct {
	bus     hal.Bus
	blkSize int64
}

func newImageDevice(bus hal.Bus, blkSize int64) *imageDevice {
	return &imageDevice{bus: bus, blkSize: blkSize}
}

func (d *imageDevice) Init() error { return nil }
func (d *imageDevice) Done() error { return d.Sync() }
func (d *imageDevice) Size() int64 { return d.bus.Size() }
func (d *imageDevice) Sync() error { return nil }

func (d *imageDevice) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	if off >= d.Size() {
		return 0, nil
	}
	n := int64(len(buf))
	if off+n > d.Size() {
		n = d.Size() - off
	}
	if err := d.bus.ReadAt(buf[:n], off); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (d *imageDevice) Write(off int64, buf []byte) (int, error) {
	if off >= d.Size() {
		return 0, ioerr.ErrInval
	}
	n := int64(len(buf))
	if off+n > d.Size() {
		n = d.Size() - off
	}
	if err := d.bus.WriteAt(buf[:n], off); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (d *imageDevice) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	if off >= d.Size() {
		return 0, ioerr.ErrInval
	}
	if length == blockdev.EraseAll {
		off, length = 0, d.Size()
	}

	start := (off / d.blkSize) * d.blkSize
	end := off + length
	if end > d.Size() {
		end = d.Size()
	}
	end = ((end + d.blkSize - 1) / d.blkSize) * d.blkSize
	if end > d.Size() {
		end = d.Size()
	}

	ones := make([]byte, d.blkSize)
	for i := range ones {
		ones[i] = 0xff
	}
	for a := start; a < end; a += d.blkSize {
		if err := d.bus.WriteAt(ones, a); err != nil {
			return a - start, err
		}
	}
	return end - start, nil
}

func (d *imageDevice) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	if req.Offset < 0 || req.Offset+req.Size > d.Size() {
		return blockdev.MapResult{Outcome: blockdev.Invalid}, nil
	}
	return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
}

var _ blockdev.Device = (*imageDevice)(nil)
