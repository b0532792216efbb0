package nand

import (
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
	"github.com/phoenix-rtos/plo-sub002/internal/nordb"
)

// fakeController models the GPMI/BCH/APBH trio behind the Controller
// interface: it walks the same descriptor chains the driver builds for
// real hardware, decoding the command bytes and the active BCH layout
// against an in-memory chip. Per-chunk parity is not computed; instead
// each chunk tracks whether it was programmed through the encoder, and
// the decode path reports the same status bytes the BCH engine would:
// 0x00 for a good chunk, 0xff for an erased one, 0xfe for a chunk that
// is neither.
type fakeController struct {
	chip testChip

	raw     [][]byte // raw page bytes, data + OOB
	written [][]bool // per page, per chunk: programmed through the encoder

	layouts [4][2]uint32

	// Failure injection: ECC program / block erase failures by block
	// number. Raw programming (the bad-block marker path) always
	// succeeds.
	failEccProgram map[uint32]bool
	failErase      map[uint32]bool

	// Chip-operation counters, for idempotence assertions.
	eraseOps   int
	programOps int

	// Command FSM state.
	pendingPage uint32
	readIDNext  bool
	stagedData  []byte
	stagedAux   []byte
	opFailed    bool
}

// testChip is a deliberately small geometry so the tests touch every
// block without megabyte buffers.
type testChip struct {
	vendorID, deviceID byte
	pageSize           int64
	oobSize            int64
	metaSize           int64
	eraseSize          int64
	size               int64
	ecc                ECC
}

var smallChip = testChip{
	vendorID: 0xaa,
	deviceID: 0xbb,
	pageSize: 256,
	oobSize:  128,
	metaSize: 16,
	// 4 pages per block, 8 blocks.
	eraseSize: 4 * 256,
	size:      8 * 4 * 256,
	ecc: ECC{
		BlockSizeN: 128,
		Blocks:     2,
		Strength0:  16,
		StrengthN:  8,
		GF0:        13,
		GFN:        13,
	},
}

func (c testChip) db() nordb.DB {
	return nordb.DB{NAND: []nordb.NANDChip{{
		Name:     "fake256",
		VendorID: c.vendorID, DeviceID: c.deviceID,
		TotalSize: c.size, EraseSize: c.eraseSize,
		PageSize: c.pageSize, OOBSize: c.oobSize, MetaSize: c.metaSize,
		ECCBlockSize0: c.ecc.BlockSize0, ECCBlockSizeN: c.ecc.BlockSizeN,
		ECCBlocks:    c.ecc.Blocks,
		ECCStrength0: c.ecc.Strength0, ECCStrengthN: c.ecc.StrengthN,
		ECCGF0: c.ecc.GF0, ECCGFN: c.ecc.GFN,
	}}}
}

func (c testChip) pages() int      { return int(c.size / c.pageSize) }
func (c testChip) rawPage() int    { return int(c.pageSize + c.oobSize) }
func (c testChip) chunks() int     { return int(c.ecc.Blocks) + 1 }
func (c testChip) metaSpan() int   { return c.ecc.MetaSpan(c.metaSize) }
func (c testChip) dataSpan() int   { return int(c.ecc.BlockSizeN) + EccSize(c.ecc.StrengthN, c.ecc.GFN) }
func (c testChip) pagesPerBlk() uint32 { return uint32(c.eraseSize / c.pageSize) }

// chunkSpan returns the raw byte range [off, off+n) of chunk i.
func (c testChip) chunkSpan(i int) (int, int) {
	if i == 0 {
		return 0, c.metaSpan()
	}
	return c.metaSpan() + (i-1)*c.dataSpan(), c.dataSpan()
}

func newFakeController(chip testChip) *fakeController {
	f := &fakeController{
		chip:           chip,
		raw:            make([][]byte, chip.pages()),
		written:        make([][]bool, chip.pages()),
		failEccProgram: map[uint32]bool{},
		failErase:      map[uint32]bool{},
	}
	for p := range f.raw {
		f.raw[p] = onesBytes(chip.rawPage())
		f.written[p] = make([]bool, chip.chunks())
	}
	return f
}

func onesBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xff
	}
	return b
}

func (f *fakeController) SetLayout(cs int, l0, l1 uint32) {
	f.layouts[cs] = [2]uint32{l0, l1}
}

func (f *fakeController) GetLayout(cs int) (uint32, uint32) {
	return f.layouts[cs][0], f.layouts[cs][1]
}

// WaitBCH completes instantly: the fake decodes synchronously, so no
// caller timeout can expire.
func (f *fakeController) WaitBCH(timeoutMs uint32) error { return nil }

func (f *fakeController) blockOf(page uint32) uint32 { return page / f.chip.pagesPerBlk() }

// layoutMode decodes the active layout register pair into the three
// operating modes the driver programs.
type layoutMode int

const (
	layoutFull layoutMode = iota
	layoutMetaOnly
	layoutDataOnly
)

func (f *fakeController) mode() layoutMode {
	l0 := f.layouts[0][0]
	switch {
	case l0>>24 == 0:
		return layoutMetaOnly
	case l0>>11&0x3f == 0:
		return layoutDataOnly
	default:
		return layoutFull
	}
}

func (f *fakeController) andProgram(page uint32, off int, data []byte) {
	raw := f.raw[page]
	for i, b := range data {
		raw[off+i] &= b
	}
}

// eccProgram applies a staged encoder write to the chip per the
// active layout mode.
func (f *fakeController) eccProgram(page uint32, data, aux []byte) {
	c := f.chip
	mode := f.mode()

	if mode != layoutDataOnly {
		off, _ := c.chunkSpan(0)
		f.andProgram(page, off, aux[:c.metaSize])
		// Parity bytes: an encoded chunk is no longer all-ones.
		for i := int(c.metaSize); i < c.metaSpan(); i++ {
			f.raw[page][off+i] = 0
		}
		f.written[page][0] = true
	}

	if mode != layoutMetaOnly {
		for i := 1; i <= int(c.ecc.Blocks); i++ {
			off, _ := c.chunkSpan(i)
			chunk := data[(i-1)*int(c.ecc.BlockSizeN) : i*int(c.ecc.BlockSizeN)]
			f.andProgram(page, off, chunk)
			for j := int(c.ecc.BlockSizeN); j < c.dataSpan(); j++ {
				f.raw[page][off+j] = 0
			}
			f.written[page][i] = true
		}
	}
}

// eccRead decodes the page per chunk-written state, filling the data
// and aux buffers and the per-chunk status bytes.
func (f *fakeController) eccRead(page uint32, data, aux []byte) {
	c := f.chip
	status := aux[auxStatusOffset(c.metaSize):]

	chunks := 1
	if data != nil {
		chunks = c.chunks()
	}

	for i := 0; i < chunks; i++ {
		off, span := c.chunkSpan(i)

		switch {
		case f.written[page][i]:
			status[i] = eccStatusOK
			if i == 0 {
				copy(aux[:c.metaSize], f.raw[page][off:])
			} else {
				copy(data[(i-1)*int(c.ecc.BlockSizeN):i*int(c.ecc.BlockSizeN)], f.raw[page][off:])
			}
		case allOnes(f.raw[page][off : off+span]):
			status[i] = eccStatusErased
			if i == 0 {
				fillOnes(aux[:c.metaSize])
			} else {
				fillOnes(data[(i-1)*int(c.ecc.BlockSizeN) : i*int(c.ecc.BlockSizeN)])
			}
		default:
			status[i] = eccStatusUncorrectable
		}
	}
}

func allOnes(b []byte) bool {
	for _, v := range b {
		if v != 0xff {
			return false
		}
	}
	return true
}

func fillOnes(b []byte) {
	for i := range b {
		b[i] = 0xff
	}
}

// Run interprets the chain the way the APBH/GPMI/BCH trio executes
// it: command/address cycles drive the FSM, data descriptors move
// payloads, a failed read-compare arms the following sense descriptor
// which jumps to its failure terminator. Every chain completes
// synchronously, so timeoutMs never expires here.
func (f *fakeController) Run(ch *Chain, timeoutMs uint32) error {
	descs := ch.Descs()
	failArmed := false

	for _, di := range ch.Sequence() {
		d := descs[di]

		// Sense descriptor: jump to the failure terminator when armed.
		if d.Flags&dmaSense == dmaSense && d.Flags&dmaHot != 0 {
			if failArmed {
				if descs[d.FailTo].Result != 0 {
					return ioerr.ErrIO
				}
				return nil
			}
			continue
		}

		// Terminator.
		if d.Flags&dmaDecSema != 0 {
			if d.Result != 0 {
				return ioerr.ErrIO
			}
			return nil
		}

		// Wait-for-ready: the fake chip is always ready.
		if d.Flags&dmaW4Ready != 0 {
			continue
		}

		// Command/address cycle.
		if len(d.PIO) == 3 && d.PIO[0]&gpmiCLE != 0 {
			f.execCmd(d.Data)
			continue
		}

		// Read-compare: status byte against (mask, val).
		if len(d.PIO) == 3 && d.PIO[0]&(3<<24) == gpmiReadCmp {
			mask := uint16(d.PIO[1] >> 16)
			val := uint16(d.PIO[1] & 0xffff)
			var status uint16
			if f.opFailed {
				status = 0x3
			}
			if status&mask != val {
				failArmed = true
			}
			continue
		}

		// ECC descriptors carry six PIO words.
		if len(d.PIO) == 6 {
			if d.PIO[2]&gpmiECCEncode != 0 {
				f.stagedData, f.stagedAux = d.Data, d.Aux
			} else {
				f.eccRead(f.pendingPage, d.Buf, d.Aux)
			}
			continue
		}

		// Raw data descriptors.
		switch {
		case d.Buf != nil:
			if f.readIDNext {
				d.Buf[0] = f.chip.vendorID
				d.Buf[1] = f.chip.deviceID
				f.readIDNext = false
			} else {
				copy(d.Buf, f.raw[f.pendingPage])
			}
		case d.Data != nil:
			f.stagedData = d.Data
		}
	}

	return nil
}

// execCmd advances the command FSM for one CLE cycle.
func (f *fakeController) execCmd(cmdaddr []byte) {
	cmd := cmdaddr[0]
	addr := cmdaddr[1:]

	switch cmd {
	case 0xff: // reset
	case 0x90: // read_id
		f.readIDNext = true
	case 0x00: // read_page, first cycle
		f.pendingPage = pageFromAddr(addr)
	case 0x30: // read_page, second cycle: nothing to latch, data follows
	case 0x80: // program_page, first cycle
		f.pendingPage = pageFromAddr(addr)
		f.stagedData, f.stagedAux = nil, nil
		f.opFailed = false
	case 0x10: // program_page, confirm
		block := f.blockOf(f.pendingPage)
		if f.stagedAux != nil || f.mode() != layoutFull {
			// Encoder path.
			if f.failEccProgram[block] {
				f.opFailed = true
				return
			}
			f.eccProgram(f.pendingPage, f.stagedData, f.stagedAux)
		} else {
			// Raw path: AND-program the raw bytes.
			f.andProgram(f.pendingPage, 0, f.stagedData)
		}
		f.programOps++
	case 0x60: // erase_block, first cycle
		f.pendingPage = pageFromAddr3(addr)
		f.opFailed = false
	case 0xd0: // erase_block, confirm
		block := f.blockOf(f.pendingPage)
		if f.failErase[block] {
			f.opFailed = true
			return
		}
		base := block * f.chip.pagesPerBlk()
		for p := base; p < base+f.chip.pagesPerBlk(); p++ {
			fillOnes(f.raw[p])
			for i := range f.written[p] {
				f.written[p][i] = false
			}
		}
		f.eraseOps++
	case 0x70: // read_status: next read-compare consumes opFailed
	}
}

// pageFromAddr extracts the page number from a 5-byte read/program
// address (two column bytes, then the page, little-endian).
func pageFromAddr(addr []byte) uint32 {
	return uint32(addr[2]) | uint32(addr[3])<<8 | uint32(addr[4])<<16
}

// pageFromAddr3 extracts the page number from a 3-byte erase address.
func pageFromAddr3(addr []byte) uint32 {
	return uint32(addr[0]) | uint32(addr[1])<<8 | uint32(addr[2])<<16
}

var _ Controller = (*fakeController)(nil)
