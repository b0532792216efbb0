// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package ptable

import (
	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// Load reads and verifies the partition table stored at tableOff on
// dev. blkSize is the underlying flash block size the entries must be
// aligned to; one block is read.
func Load(dev blockdev.Device, tableOff int64, blkSize uint32) (Table, error) {
	raw := make([]byte, blkSize)
	n, err := dev.Read(tableOff, raw, 0)
	if err != nil {
		return Table{}, err
	}
	if n < headerSize {
		return Table{}, ioerr.ErrInval
	}
	return Deserialize(raw[:n], uint32(dev.Size()), blkSize)
}

// Store serializes t and writes it at tableOff on dev, followed by a
// sync so the table is on the medium when Store returns.
func Store(dev blockdev.Device, tableOff int64, blkSize uint32, t Table) error {
	raw, err := Serialize(t, uint32(dev.Size()), blkSize)
	if err != nil {
		return err
	}
	if _, err := dev.Write(tableOff, raw); err != nil {
		return err
	}
	return dev.Sync()
}

// Partition exposes one table entry as a logical block device: the
// same read/write/erase/sync/map contract, window-shifted onto
// [Offset, Offset+Size) of the parent device.
type Partition struct {
	parent blockdev.Device
	entry  Entry
}

// Partitions builds the logical sub-devices for every entry of t on
// parent.
func Partitions(parent blockdev.Device, t Table) []*Partition {
	parts := make([]*Partition, len(t.Entries))
	for i, e := range t.Entries {
		parts[i] = &Partition{parent: parent, entry: e}
	}
	return parts
}

// Entry returns the table entry this partition was built from.
func (p *Partition) Entry() Entry { return p.entry }

func (p *Partition) Size() int64 { return int64(p.entry.Size) }

// Init is a no-op and Done only syncs the parent: lifecycle belongs to
// the parent device.
func (p *Partition) Init() error { return nil }
func (p *Partition) Done() error { return p.Sync() }

// clamp truncates a request to the partition window, returning the
// parent-relative offset and allowed length.
func (p *Partition) clamp(off int64, n int64) (int64, int64) {
	size := int64(p.entry.Size)
	if off >= size {
		return 0, -1
	}
	if off+n > size {
		n = size - off
	}
	return int64(p.entry.Offset) + off, n
}

func (p *Partition) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	poff, n := p.clamp(off, int64(len(buf)))
	if n < 0 {
		return 0, nil
	}
	return p.parent.Read(poff, buf[:n], timeoutMs)
}

func (p *Partition) Write(off int64, buf []byte) (int, error) {
	poff, n := p.clamp(off, int64(len(buf)))
	if n < 0 {
		return 0, ioerr.ErrInval
	}
	return p.parent.Write(poff, buf[:n])
}

func (p *Partition) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	if length == blockdev.EraseAll {
		length = int64(p.entry.Size)
		off = 0
	}
	poff, n := p.clamp(off, length)
	if n < 0 {
		return 0, ioerr.ErrInval
	}
	return p.parent.Erase(poff, n, flags)
}

func (p *Partition) Sync() error { return p.parent.Sync() }

func (p *Partition) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	if req.Offset < 0 || req.Offset+req.Size > int64(p.entry.Size) {
		return blockdev.MapResult{Outcome: blockdev.Invalid}, nil
	}
	req.Offset += int64(p.entry.Offset)
	return p.parent.Map(req)
}

var _ blockdev.Device = (*Partition)(nil)
