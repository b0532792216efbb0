// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package nand

import (
	"encoding/binary"
	"time"

	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// Controller is the hardware surface the page driver runs on: it
// executes DMA descriptor chains, programs the BCH page-layout
// register pair per chip select, and reports BCH decode completion.
// BusController is the register-level implementation; tests plug in a
// fake that interprets the same chains against an in-memory chip.
type Controller interface {
	// Run executes a finished chain and returns nil on a clean
	// terminator, ioerr.ErrIO when the chain terminated through a
	// failed check, and ioerr.ErrTimeout when the hardware never
	// completed. A nonzero timeoutMs replaces the controller's own
	// completion bound with the caller's.
	Run(c *Chain, timeoutMs uint32) error

	// SetLayout programs the BCH layout register pair for cs.
	SetLayout(cs int, l0, l1 uint32)

	// GetLayout reads back the current pair, so a partial-mode
	// operation can restore it.
	GetLayout(cs int) (l0, l1 uint32)

	// WaitBCH blocks until the BCH completion flag asserts, then
	// clears it, bounded the same way as Run.
	WaitBCH(timeoutMs uint32) error
}

// APBH DMA register word offsets.
const (
	dmaRegCtrl0    = 0
	dmaRegCtrl0Set = 1
	dmaRegCtrl0Clr = 2
	dmaRegCtrl1    = 4
	dmaRegCtrl2    = 8
	dmaRegNxtCmdAr = 68
	dmaRegBar      = 76
	dmaRegSema     = 80

	dmaChanRegOffs = 28
)

// BCH register word offsets.
const (
	bchRegCtrl       = 0
	bchRegCtrlSet    = 1
	bchRegCtrlClr    = 2
	bchRegLayoutSel  = 28
	bchRegLayout0    = 32
	bchRegLayout1    = 36
	bchLayoutRegOffs = 8
)

// GPMI register word offsets.
const (
	gpmiRegCtrl0    = 0
	gpmiRegCtrl0Set = 1
	gpmiRegCtrl0Clr = 2
	gpmiRegCtrl1Set = 25
	gpmiRegCtrl1Clr = 26
	gpmiRegTiming0  = 28
)

// Module soft-reset / clock-gate bits shared by the APBH, BCH and
// GPMI control registers.
const (
	regSftRst  = uint32(1) << 31
	regClkGate = uint32(1) << 30
)

// dmaRunTimeout bounds the busy-wait for DMA completion when the
// caller supplies no timeout of its own. The hardware gives no
// worst-case figure the way CFI timing fields do, so the bound is a
// generous wall-clock limit; a hung DMA surfaces as ioerr.ErrTimeout
// instead of stalling the loader forever.
const dmaRunTimeout = 1000 * time.Millisecond

// runBound resolves the effective completion bound: the caller's
// timeout when nonzero, the default otherwise.
func runBound(timeoutMs uint32) time.Duration {
	if timeoutMs > 0 {
		return time.Duration(timeoutMs) * time.Millisecond
	}
	return dmaRunTimeout
}

// BusController drives the APBH DMA, BCH and GPMI register windows
// plus a DMA-visible chain buffer, all through hal.Bus mappings. Run
// serializes a chain into the buffer, rings the channel and polls the
// completion/error bits, with every wait bounded.
type BusController struct {
	apbh hal.Bus
	bch  hal.Bus
	gpmi hal.Bus
	dma  hal.Bus // DMA-visible chain and payload buffer window
	base uint32  // physical base address of the dma window
	ch   int
	t    hal.Timer

	layouts [4][2]uint32
}

// NewBusController wires the register windows and runs the module
// enable/reset bring-up for the DMA, BCH and GPMI engines.
func NewBusController(apbh, bch, gpmi, dma hal.Bus, dmaPhysBase uint32, channel int, t hal.Timer) (*BusController, error) {
	c := &BusController{apbh: apbh, bch: bch, gpmi: gpmi, dma: dma, base: dmaPhysBase, ch: channel, t: t}

	if err := c.resetModule(c.apbh, dmaRegCtrl0, dmaRegCtrl0Set, dmaRegCtrl0Clr); err != nil {
		return nil, err
	}
	// Disable and clear DMA interrupts, enable burst and per-channel
	// clock gating.
	c.write32(c.apbh, dmaRegCtrl1, 0)
	c.write32(c.apbh, dmaRegCtrl2, 0)
	c.write32(c.apbh, dmaRegCtrl0Set, 1<<29|1<<28)
	c.write32(c.apbh, dmaRegCtrl0Clr, 0xffff)

	if err := c.resetModule(c.bch, bchRegCtrl, bchRegCtrlSet, bchRegCtrlClr); err != nil {
		return nil, err
	}
	// Disable and clear BCH interrupts; give each chip select its own
	// layout register pair.
	c.write32(c.bch, bchRegCtrlClr, 1<<10|1<<8|1<<3|1<<2|1<<0)
	c.write32(c.bch, bchRegLayoutSel, 3<<6|2<<4|1<<2|0<<0)

	if err := c.resetModule(c.gpmi, gpmiRegCtrl0, gpmiRegCtrl0Set, gpmiRegCtrl0Clr); err != nil {
		return nil, err
	}
	// Disable and clear GPMI interrupts; decouple CS, route ready/busy
	// to BCH, set the read delay, write protect off, busy-low
	// polarity; then enable the DLL and program the bus timings for a
	// 198 MHz GPMI clock.
	c.write32(c.gpmi, gpmiRegCtrl1Clr, 1<<20|1<<10|1<<9)
	c.write32(c.gpmi, gpmiRegCtrl1Set, 1<<24|3<<22|1<<19|1<<18|14<<12|1<<8|1<<3|1<<2)
	c.write32(c.gpmi, gpmiRegCtrl1Set, 1<<17)
	c.write32(c.gpmi, gpmiRegTiming0, 3<<16|2<<8|3<<0)

	return c, nil
}

func (c *BusController) read32(b hal.Bus, word int) uint32 {
	var raw [4]byte
	if err := b.ReadAt(raw[:], int64(word)*4); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(raw[:])
}

func (c *BusController) write32(b hal.Bus, word int, v uint32) {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	b.WriteAt(raw[:], int64(word)*4)
}

// resetModule runs the enable / soft-reset / re-enable dance common
// to the APBH, BCH and GPMI blocks, with the clock-gate poll bounded.
func (c *BusController) resetModule(b hal.Bus, ctrl, set, clr int) error {
	c.write32(b, clr, regSftRst|regClkGate)
	c.write32(b, set, regSftRst)
	err := hal.PollUntil(c.t, dmaRunTimeout, time.Microsecond, func() (bool, error) {
		return c.read32(b, ctrl)&regClkGate != 0, nil
	})
	if err != nil {
		return err
	}
	c.write32(b, clr, regSftRst|regClkGate)
	return nil
}

// Done disables the DMA, BCH and GPMI modules.
func (c *BusController) Done() {
	c.write32(c.gpmi, gpmiRegCtrl0Set, regSftRst|regClkGate)
	c.write32(c.apbh, dmaRegCtrl0Set, regSftRst|regClkGate)
	c.write32(c.bch, bchRegCtrlSet, regSftRst|regClkGate)
}

func (c *BusController) SetLayout(cs int, l0, l1 uint32) {
	c.write32(c.bch, cs*bchLayoutRegOffs+bchRegLayout0, l0)
	c.write32(c.bch, cs*bchLayoutRegOffs+bchRegLayout1, l1)
	c.layouts[cs] = [2]uint32{l0, l1}
}

func (c *BusController) GetLayout(cs int) (uint32, uint32) {
	return c.layouts[cs][0], c.layouts[cs][1]
}

func (c *BusController) WaitBCH(timeoutMs uint32) error {
	err := hal.PollUntil(c.t, runBound(timeoutMs), time.Microsecond, func() (bool, error) {
		return c.read32(c.bch, bchRegCtrl)&1 != 0, nil
	})
	if err != nil {
		return err
	}
	c.write32(c.bch, bchRegCtrlClr, 1)
	return nil
}

// layout maps each chain descriptor and payload to an offset in the
// DMA buffer window, descriptors first, payloads after.
type chainLayout struct {
	descOff []int
	dataOff []int
	bufOff  []int
	auxOff  []int
	total   int
}

func alignUp4(n int) int { return (n + 3) &^ 3 }

func (c *BusController) layoutChain(ch *Chain) chainLayout {
	descs := ch.Descs()
	l := chainLayout{
		descOff: make([]int, len(descs)),
		dataOff: make([]int, len(descs)),
		bufOff:  make([]int, len(descs)),
		auxOff:  make([]int, len(descs)),
	}
	off := 0
	for i, d := range descs {
		l.descOff[i] = off
		off += alignUp4(d.PackedSize())
	}
	for i, d := range descs {
		l.dataOff[i], l.bufOff[i], l.auxOff[i] = -1, -1, -1
		if d.Data != nil {
			l.dataOff[i] = off
			off += alignUp4(len(d.Data))
		}
		if d.Buf != nil {
			l.bufOff[i] = off
			off += alignUp4(len(d.Buf))
		}
		if d.Aux != nil {
			l.auxOff[i] = off
			off += alignUp4(len(d.Aux))
		}
	}
	l.total = off
	return l
}

// Run executes a chain: flush the serialized descriptors and source
// payloads into the DMA window, point the channel at the first
// descriptor, raise the semaphore, then poll the completion and error
// bits. After completion the destination payloads are copied back out
// of the window, which doubles as the data-cache invalidation the DMA
// target region needs before the caller dereferences it.
func (c *BusController) Run(ch *Chain, timeoutMs uint32) error {
	descs := ch.Descs()
	seq := ch.Sequence()
	if len(seq) == 0 {
		return nil
	}
	l := c.layoutChain(ch)
	if int64(l.total) > c.dma.Size() {
		return ioerr.ErrInval
	}

	// Descriptor payload and next-pointer resolution. A sequenced
	// descriptor chains to its successor; a sense descriptor's addr is
	// its failure target; a terminator's addr is its result code.
	next := make(map[int]uint32)
	for si, di := range seq {
		if si+1 < len(seq) {
			next[di] = c.base + uint32(l.descOff[seq[si+1]])
		}
	}

	for i, d := range descs {
		var addr uint32
		switch {
		case d.Flags&dmaSense == dmaSense && d.Flags&dmaHot != 0:
			addr = c.base + uint32(l.descOff[d.FailTo])
		case d.Flags&dmaDecSema != 0:
			addr = uint32(d.Result)
		case d.Data != nil:
			addr = c.base + uint32(l.dataOff[i])
		case d.Buf != nil:
			addr = c.base + uint32(l.bufOff[i])
		}

		pio := d.PIO
		if len(pio) == 6 {
			// ECC descriptors carry payload and auxiliary pointers in
			// their last two PIO words.
			pio = append(append([]uint32{}, pio[:4]...), 0, 0)
			if d.Buf != nil {
				pio[4] = c.base + uint32(l.bufOff[i])
			} else if d.Data != nil {
				pio[4] = c.base + uint32(l.dataOff[i])
			}
			if d.Aux != nil {
				pio[5] = c.base + uint32(l.auxOff[i])
			}
			d.PIO = pio
		}

		if err := c.dma.WriteAt(d.Pack(next[i], addr), int64(l.descOff[i])); err != nil {
			return err
		}
		if d.Data != nil {
			if err := c.dma.WriteAt(d.Data, int64(l.dataOff[i])); err != nil {
				return err
			}
		}
		if d.Aux != nil {
			if err := c.dma.WriteAt(d.Aux, int64(l.auxOff[i])); err != nil {
				return err
			}
		}
	}

	// Ring the channel.
	chanBase := c.ch * dmaChanRegOffs
	c.write32(c.apbh, chanBase+dmaRegNxtCmdAr, c.base+uint32(l.descOff[seq[0]]))
	c.write32(c.apbh, chanBase+dmaRegSema, 1)

	var terminated bool
	err := hal.PollUntil(c.t, runBound(timeoutMs), time.Microsecond, func() (bool, error) {
		if c.read32(c.apbh, dmaRegCtrl2)&(1<<uint(c.ch)) != 0 {
			if c.read32(c.apbh, dmaRegCtrl2)&(1<<uint(c.ch+16)) != 0 {
				return false, &ioerr.StatusError{Err: ioerr.ErrIO, Op: "dma-run", Status: c.read32(c.apbh, dmaRegCtrl2)}
			}
			terminated = true
		}
		return c.read32(c.apbh, dmaRegCtrl1)&(1<<uint(c.ch)) != 0, nil
	})
	if err != nil {
		return err
	}
	c.write32(c.apbh, dmaRegCtrl1, 0)
	c.write32(c.apbh, dmaRegCtrl2, 0)

	// Copy destination payloads back out of the DMA window.
	for i, d := range descs {
		if d.Buf != nil && l.bufOff[i] >= 0 {
			if err := c.dma.ReadAt(d.Buf, int64(l.bufOff[i])); err != nil {
				return err
			}
		}
		if d.Aux != nil && l.auxOff[i] >= 0 {
			if err := c.dma.ReadAt(d.Aux, int64(l.auxOff[i])); err != nil {
				return err
			}
		}
	}

	// Early termination with the completion flag set is not an error
	// by itself; a chain that terminated through a failed check leaves
	// the nonzero terminator result in the channel's BAR register.
	if terminated && c.read32(c.apbh, c.ch*dmaChanRegOffs+dmaRegBar) != 0 {
		return ioerr.ErrIO
	}
	return nil
}

var _ Controller = (*BusController)(nil)
