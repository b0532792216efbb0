package cfi_test

import (
	"github.com/phoenix-rtos/plo-sub002/internal/bitutil"
	"github.com/phoenix-rtos/plo-sub002/nor/cfi"
)

// The fakes below model just enough of the AMD and Intel CFI command
// state machines to exercise cfi.Driver end to end: unlock sequences,
// write-buffer programming, sector/chip erase, and CFI query mode.
// They complete every operation synchronously, so the driver's status
// polling loops always see a "ready" result on the first or second
// read.

func scaledTestAddr(wordAddr int64, portWidth int) int64 {
	if portWidth == 16 {
		return wordAddr * 2
	}
	return wordAddr
}

func wordsToBytes(words []uint16, portWidth int) []byte {
	if portWidth == 8 {
		buf := make([]byte, len(words))
		for i, w := range words {
			buf[i] = byte(w)
		}
		return buf
	}
	buf := make([]byte, 0, len(words)*2)
	for _, w := range words {
		buf = append(buf, byte(w), byte(w>>8))
	}
	return buf
}

func andProgram(arr []byte, off int64, data []byte) {
	for i, b := range data {
		arr[int(off)+i] &= b
	}
}

func buildQueryBytes(desc cfi.Descriptor) [64]byte {
	var out [64]byte
	raw := cfi.Serialize(desc)
	bitutil.SwapBytes(raw)
	copy(out[:], raw)
	return out
}

// --- AMD fake ---

type fakeAMDChip struct {
	arr        []byte
	portWidth  int
	sectorSize int64

	queryBytes   [64]byte
	qryOffScaled int64
	queryMode    bool

	unlockStage int
	eraseSetup  bool

	wbCollecting bool
	wbStage      int
	wbAddr       int64
	wbLen        int
	wbWords      []uint16

	lastWBOff   int64
	lastWBLen   int
	eraseCount  int
}

func newFakeAMDChip(desc cfi.Descriptor, portWidth int) *fakeAMDChip {
	return &fakeAMDChip{
		arr:          bytesAllOnes(int(desc.ChipSize)),
		portWidth:    portWidth,
		sectorSize:   desc.SectorSize(),
		queryBytes:   buildQueryBytes(desc),
		qryOffScaled: scaledTestAddr(cfi.QRYOffset, portWidth),
	}
}

func bytesAllOnes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xff
	}
	return b
}

func (c *fakeAMDChip) resetFSM() {
	c.queryMode = false
	c.unlockStage = 0
	c.eraseSetup = false
	c.wbCollecting = false
	c.wbStage = 0
}

func (c *fakeAMDChip) eraseSector(addr int64) {
	s := (addr / c.sectorSize) * c.sectorSize
	for i := s; i < s+c.sectorSize && i < int64(len(c.arr)); i++ {
		c.arr[i] = 0xff
	}
}

func (c *fakeAMDChip) eraseAll() {
	for i := range c.arr {
		c.arr[i] = 0xff
	}
}

func (c *fakeAMDChip) WriteCmd(addr int64, word uint16, portWidth int) error {
	aaa := scaledTestAddr(0xaaa, portWidth)
	s55 := scaledTestAddr(0x555, portWidth)

	if addr == 0 && (word == 0xf0 || word == 0xff) {
		c.resetFSM()
		return nil
	}
	if addr == scaledTestAddr(0x55, portWidth) && word == 0x98 {
		c.queryMode = true
		return nil
	}

	if c.wbCollecting {
		switch c.wbStage {
		case 1:
			c.wbLen = int(word) + 1
			c.wbWords = make([]uint16, 0, c.wbLen)
			c.wbStage = 2
		case 2:
			c.wbWords = append(c.wbWords, word)
			if len(c.wbWords) == c.wbLen {
				c.wbStage = 3
			}
		case 3:
			if word == 0x29 {
				buf := wordsToBytes(c.wbWords, portWidth)
				andProgram(c.arr, c.wbAddr, buf)
				c.lastWBOff = c.wbAddr
				c.lastWBLen = len(buf)
			}
			c.resetFSM()
		}
		return nil
	}

	switch c.unlockStage {
	case 0:
		if addr == aaa && word == 0xaa {
			c.unlockStage = 1
		}
	case 1:
		if addr == s55 && word == 0x55 {
			c.unlockStage = 2
		} else {
			c.unlockStage = 0
		}
	case 2:
		if c.eraseSetup {
			if addr == aaa && word == 0x10 {
				c.eraseAll()
				c.eraseCount++
				c.resetFSM()
			} else if word == 0x30 {
				c.eraseSector(addr)
				c.eraseCount++
				c.resetFSM()
			} else {
				c.resetFSM()
			}
			return nil
		}
		if addr == aaa && word == 0x80 {
			c.eraseSetup = true
			c.unlockStage = 0
			return nil
		}
		if word == 0x25 {
			c.wbCollecting = true
			c.wbStage = 1
			c.wbAddr = addr
			c.unlockStage = 0
			return nil
		}
		c.resetFSM()
	}
	return nil
}

func (c *fakeAMDChip) ReadWord(addr int64, portWidth int) (uint16, error) {
	if portWidth == 16 {
		return 0xffff, nil
	}
	return 0xff, nil
}

func (c *fakeAMDChip) ReadAt(buf []byte, off int64) error {
	if c.queryMode {
		rel := off - c.qryOffScaled
		copy(buf, c.queryBytes[rel:])
		return nil
	}
	copy(buf, c.arr[off:])
	return nil
}

func (c *fakeAMDChip) WriteAt(buf []byte, off int64) error {
	andProgram(c.arr, off, buf)
	return nil
}

func (c *fakeAMDChip) Size() int64 { return int64(len(c.arr)) }
func (c *fakeAMDChip) Close() error { return nil }

var _ cfi.ParallelBus = (*fakeAMDChip)(nil)

// --- Intel fake ---

type fakeIntelChip struct {
	arr        []byte
	portWidth  int
	sectorSize int64

	queryBytes   [64]byte
	qryOffScaled int64
	queryMode    bool

	pendingErase bool
	eraseAddr    int64

	wbCollecting bool
	wbStage      int
	wbAddr       int64
	wbLen        int
	wbWords      []uint16

	lastWBOff  int64
	lastWBLen  int
	eraseCount int
}

func newFakeIntelChip(desc cfi.Descriptor, portWidth int) *fakeIntelChip {
	return &fakeIntelChip{
		arr:          bytesAllOnes(int(desc.ChipSize)),
		portWidth:    portWidth,
		sectorSize:   desc.SectorSize(),
		queryBytes:   buildQueryBytes(desc),
		qryOffScaled: scaledTestAddr(cfi.QRYOffset, portWidth),
	}
}

func (c *fakeIntelChip) resetFSM() {
	c.queryMode = false
	c.pendingErase = false
	c.wbCollecting = false
	c.wbStage = 0
}

func (c *fakeIntelChip) eraseSector(addr int64) {
	s := (addr / c.sectorSize) * c.sectorSize
	for i := s; i < s+c.sectorSize && i < int64(len(c.arr)); i++ {
		c.arr[i] = 0xff
	}
}

func (c *fakeIntelChip) WriteCmd(addr int64, word uint16, portWidth int) error {
	if addr == 0 && word == 0xff {
		c.resetFSM()
		return nil
	}
	if addr == scaledTestAddr(0x55, portWidth) && word == 0x98 {
		c.queryMode = true
		return nil
	}

	if c.wbCollecting {
		switch c.wbStage {
		case 1:
			c.wbLen = int(word) + 1
			c.wbWords = make([]uint16, 0, c.wbLen)
			c.wbStage = 2
		case 2:
			c.wbWords = append(c.wbWords, word)
			if len(c.wbWords) == c.wbLen {
				c.wbStage = 3
			}
		case 3:
			if word == 0xd0 {
				buf := wordsToBytes(c.wbWords, portWidth)
				andProgram(c.arr, c.wbAddr, buf)
				c.lastWBOff = c.wbAddr
				c.lastWBLen = len(buf)
			}
			c.wbCollecting = false
			c.wbStage = 0
		}
		return nil
	}

	switch {
	case word == 0xe8:
		c.wbCollecting = true
		c.wbStage = 1
		c.wbAddr = addr
	case word == 0x20:
		c.pendingErase = true
		c.eraseAddr = addr
	case c.pendingErase && word == 0xd0:
		c.eraseSector(c.eraseAddr)
		c.eraseCount++
		c.pendingErase = false
	case word == 0x50:
		// clear status, no-op on the fake
	}
	return nil
}

func (c *fakeIntelChip) ReadWord(addr int64, portWidth int) (uint16, error) {
	return 0x80, nil
}

func (c *fakeIntelChip) ReadAt(buf []byte, off int64) error {
	if c.queryMode {
		rel := off - c.qryOffScaled
		copy(buf, c.queryBytes[rel:])
		return nil
	}
	copy(buf, c.arr[off:])
	return nil
}

func (c *fakeIntelChip) WriteAt(buf []byte, off int64) error {
	andProgram(c.arr, off, buf)
	return nil
}

func (c *fakeIntelChip) Size() int64  { return int64(len(c.arr)) }
func (c *fakeIntelChip) Close() error { return nil }

var _ cfi.ParallelBus = (*fakeIntelChip)(nil)
