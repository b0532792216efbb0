package hal

import "github.com/phoenix-rtos/plo-sub002/internal/ioerr"

// BusMem is an in-memory Bus used by tests and by any build without a
// physically mapped flash window. It is the fake collaborator the
// rest of this module is written against; BusMmap is the only thing
// that changes between a unit test and real hardware.
type BusMem struct {
	mem []byte
}

// NewBusMem returns a BusMem of the given size, initialized to the
// NOR/NAND erased state (all bits set).
func NewBusMem(size int) *BusMem {
	m := make([]byte, size)
	for i := range m {
		m[i] = 0xff
	}
	return &BusMem{mem: m}
}

func (b *BusMem) Size() int64 { return int64(len(b.mem)) }

func (b *BusMem) ReadAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(len(b.mem)) {
		return ioerr.ErrInval
	}
	copy(p, b.mem[off:off+int64(len(p))])
	return nil
}

func (b *BusMem) WriteAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(len(b.mem)) {
		return ioerr.ErrInval
	}
	// Model real NOR/NAND program semantics: a program cycle can only
	// clear bits (1 -> 0), never set them; only erase sets them back.
	for i, v := range p {
		b.mem[off+int64(i)] &= v
	}
	return nil
}

// EraseRange sets every byte in [off, off+n) back to 0xff, modelling a
// sector/block erase.
func (b *BusMem) EraseRange(off, n int64) error {
	if off < 0 || off+n > int64(len(b.mem)) {
		return ioerr.ErrInval
	}
	for i := off; i < off+n; i++ {
		b.mem[i] = 0xff
	}
	return nil
}

// Raw exposes the backing slice for tests that need to seed content or
// inject faults (e.g. a bad-block marker, a single bit-flip).
func (b *BusMem) Raw() []byte { return b.mem }
