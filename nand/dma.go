// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nand

import "encoding/binary"

// APBH DMA descriptor flag word bits.
const (
	dmaHot      = 1 << 8
	dmaW4EndCmd = 1 << 7
	dmaDecSema  = 1 << 6
	dmaW4Ready  = 1 << 5
	dmaNANDLock = 1 << 4
	dmaIRQComp  = 1 << 3
	dmaChain    = 1 << 2
	dmaSense    = 3 << 0
	dmaRead     = 2 << 0
	dmaWrite    = 1 << 0
	dmaNoXfer   = 0 << 0
)

// dmaPIO encodes the inline PIO word count into the flag word.
func dmaPIO(n int) uint16 { return uint16(n&0xf) << 12 }

// Desc is one APBH DMA descriptor. The packed on-hardware layout is
// next(4) + flags(2) + size(2) + addr(4) + N PIO words; Pack produces
// it. The payload bindings below replace the raw addr pointer for the
// hosted driver: Data is a DMA source (memory to GPMI), Buf a DMA
// destination (GPMI to memory), Aux the BCH auxiliary buffer named by
// the ECC PIO words. FailTo is the chain index a sense descriptor
// jumps to on failure; Result is a terminator's result code.
type Desc struct {
	Flags uint16
	Size  uint16
	PIO   []uint32

	Data   []byte
	Buf    []byte
	Aux    []byte
	FailTo int
	Result int
}

// packedDescHeader is the fixed part of the packed descriptor:
// next(4) + flags(2) + size(2) + addr(4).
const packedDescHeader = 12

// PackedSize returns the packed byte size of d: the fixed header plus
// its inline PIO words.
func (d Desc) PackedSize() int {
	return packedDescHeader + len(d.PIO)*4
}

// Pack serializes d to its packed on-hardware layout, with next and
// addr resolved to the physical addresses the caller assigned.
func (d Desc) Pack(next, addr uint32) []byte {
	buf := make([]byte, d.PackedSize())
	binary.LittleEndian.PutUint32(buf[0:], next)
	binary.LittleEndian.PutUint16(buf[4:], d.Flags)
	binary.LittleEndian.PutUint16(buf[6:], d.Size)
	binary.LittleEndian.PutUint32(buf[8:], addr)
	for i, w := range d.PIO {
		binary.LittleEndian.PutUint32(buf[packedDescHeader+i*4:], w)
	}
	return buf
}

// Chain is a DMA descriptor chain under construction. Sequenced
// descriptors execute in append order; unlinked descriptors (the
// failure terminators sense descriptors jump to) sit in the chain
// buffer but are only reached through a FailTo jump.
type Chain struct {
	descs     []Desc
	sequenced []int
}

// Reset empties the chain for reuse, keeping the backing storage.
func (c *Chain) Reset() {
	c.descs = c.descs[:0]
	c.sequenced = c.sequenced[:0]
}

// Append adds d to the chain buffer and links it into the execution
// sequence. It returns the descriptor's chain index.
func (c *Chain) Append(d Desc) int {
	idx := c.appendUnlinked(d)
	c.sequenced = append(c.sequenced, idx)
	return idx
}

// appendUnlinked adds d to the chain buffer without linking it into
// the execution sequence.
func (c *Chain) appendUnlinked(d Desc) int {
	c.descs = append(c.descs, d)
	return len(c.descs) - 1
}

// Descs exposes the chain buffer, indexed by the values Append and
// appendUnlinked returned.
func (c *Chain) Descs() []Desc { return c.descs }

// Sequence returns the chain-buffer indices in execution order.
func (c *Chain) Sequence() []int { return c.sequenced }

// check appends a sense descriptor that jumps to the descriptor at
// failIdx when the preceding operation's sense condition failed.
func (c *Chain) check(failIdx int) {
	c.Append(Desc{
		Flags:  dmaHot | dmaSense,
		FailTo: failIdx,
	})
}

// terminate builds a terminator descriptor carrying result: it
// decrements the channel semaphore, raises the completion IRQ and
// stops the chain.
func terminate(result int) Desc {
	return Desc{
		Flags:  dmaDecSema | dmaIRQComp | dmaNoXfer,
		Result: result,
	}
}

// Finish appends the success terminator, completing the chain.
func (c *Chain) Finish() {
	c.Append(terminate(0))
}
