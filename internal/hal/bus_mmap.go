//go:build linux

package hal

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/phoenix-rtos/plo-sub002/internal/ioctlx"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// blkGetSize64 is BLKGETSIZE64 from <linux/fs.h>: the size in bytes
// of a block device.
var blkGetSize64 = ioctlx.Ior(0x12, 114, unsafe.Sizeof(uint64(0)))

// deviceSize determines the usable size of the file backing a bus
// window: a plain file or image reports its stat size, a block device
// node is asked directly.
func deviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), nil
	}

	var size uint64
	if err := ioctlx.Ioctl(f.Fd(), blkGetSize64, uintptr(unsafe.Pointer(&size))); err != nil {
		return 0, err
	}
	return int64(size), nil
}

// BusMmap maps a physical window (e.g. /dev/mem at a flash's XIP base
// address, or a flash image file) into the process address space and
// drives it directly rather than through a buffered file API.
type BusMmap struct {
	f      *os.File
	region []byte
	base   int64
}

// OpenBusMmap maps size bytes of path starting at offset base. A
// size of zero maps the whole backing file or block device.
func OpenBusMmap(path string, base int64, size int) (*BusMmap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}

	if size == 0 {
		total, err := deviceSize(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		size = int(total - base)
	}

	region, err := unix.Mmap(int(f.Fd()), base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &BusMmap{f: f, region: region, base: base}, nil
}

func (b *BusMmap) Size() int64 { return int64(len(b.region)) }

func (b *BusMmap) ReadAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(len(b.region)) {
		return ioerr.ErrInval
	}
	copy(p, b.region[off:off+int64(len(p))])
	return nil
}

func (b *BusMmap) WriteAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(len(b.region)) {
		return ioerr.ErrInval
	}
	copy(b.region[off:off+int64(len(p))], p)
	return nil
}

func (b *BusMmap) Close() error {
	if err := unix.Munmap(b.region); err != nil {
		b.f.Close()
		return err
	}
	return b.f.Close()
}
