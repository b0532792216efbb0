package spinor_test

import "github.com/phoenix-rtos/plo-sub002/nor/spinor"

// fakeController models a Macronix/Spansion-class chip behind a
// spimctrl-style transfer engine: a flat byte array addressed through
// an 8-bit EAR register plus a 3-byte window-relative address, a
// write-enable latch, and instantaneous completion (ReadStatus always
// reports ready).
type fakeController struct {
	arr []byte
	ear byte
	wel bool

	// sectorSize is the erase size the shared 64K-class opcode
	// applies; set by the test to match the chip under test.
	sectorSize int64

	lastProgramOff int64
	lastProgramLen int
	eraseCount     int
}

func newFakeController(size int, sectorSize int64) *fakeController {
	arr := make([]byte, size)
	for i := range arr {
		arr[i] = 0xff
	}
	return &fakeController{arr: arr, sectorSize: sectorSize}
}

func (c *fakeController) abs(windowAddr uint32) int64 {
	return (int64(c.ear) << 24) | int64(windowAddr)
}

func (c *fakeController) MappedRead(buf []byte, windowOff int64) error {
	abs := (int64(c.ear) << 24) | windowOff
	copy(buf, c.arr[abs:])
	return nil
}

func (c *fakeController) eraseAt(abs, size int64) {
	for i := abs; i < abs+size && i < int64(len(c.arr)); i++ {
		c.arr[i] = 0xff
	}
	c.eraseCount++
}

func (c *fakeController) Exec(opcode byte, hasAddr bool, addr uint32, tx, rx []byte) error {
	switch opcode {
	case spinor.MacronixOpcodes.WriteEnable:
		c.wel = true
	case spinor.MacronixOpcodes.WriteDisable:
		c.wel = false
	case spinor.MacronixOpcodes.ReadStatus:
		rx[0] = 0
	case spinor.MacronixOpcodes.ReadEAR:
		rx[0] = c.ear
	case spinor.MacronixOpcodes.WriteEAR:
		c.ear = tx[0]
		c.wel = false
	case spinor.MacronixOpcodes.ChipErase, spinor.SpansionOpcodes.ChipErase:
		for i := range c.arr {
			c.arr[i] = 0xff
		}
		c.eraseCount++
		c.wel = false
	case spinor.SpansionOpcodes.SectorErase4K:
		c.eraseAt(c.abs(addr), 4*1024)
		c.wel = false
	case spinor.MacronixOpcodes.SectorErase:
		// Shared opcode byte between the Macronix and Spansion 64K
		// erase commands; whichever chip is under test, this is its
		// large-granularity erase.
		c.eraseAt(c.abs(addr), c.sectorSize)
		c.wel = false
	case spinor.MacronixOpcodes.PageProgram:
		abs := c.abs(addr)
		for i, b := range tx {
			c.arr[int(abs)+i] &= b
		}
		c.lastProgramOff = abs
		c.lastProgramLen = len(tx)
		c.wel = false
	case spinor.MacronixOpcodes.Read:
		abs := c.abs(addr)
		copy(rx, c.arr[abs:])
	}
	return nil
}

var _ spinor.Controller = (*fakeController)(nil)
