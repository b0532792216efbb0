// Package hal provides the thin hardware-abstraction surface that the
// storage drivers are written against: the memory-mapped bus window, a
// monotonic timer, the bounded polling helper, and the console byte
// pipe. On real hardware a Bus is a physical window (see BusMmap,
// backed by golang.org/x/sys/unix.Mmap); in tests it is an in-memory
// fake (BusMem) so the driver state machines run without root or
// hardware.
package hal

import (
	"time"

	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// Bus is a byte-addressable, memory-mapped (or memory-mapped-like)
// window onto a storage device: the CFI NOR's XIP window, the SPI-NOR
// controller's read window, or a NAND register block. Reads and
// writes are not assumed to be atomic beyond what the underlying
// device guarantees; callers serialize access per device.
type Bus interface {
	// ReadAt copies len(p) bytes starting at off into p. It never
	// returns a short read for a Bus backed by a mapped window; it
	// returns ioerr.ErrInval if the range lies outside the mapping.
	ReadAt(p []byte, off int64) error

	// WriteAt writes p at off. On NOR flash this is only valid while
	// the external write-enable gate is asserted; a Bus does not know
	// about that gate, the driver does.
	WriteAt(p []byte, off int64) error

	// Size reports the size of the mapped window in bytes.
	Size() int64

	// Close releases the mapping.
	Close() error
}

// Timer is the monotonic clock collaborator. Wraps over long
// operation durations are tolerated.
type Timer interface {
	Now() time.Duration
}

type systemTimer struct{}

func (systemTimer) Now() time.Duration { return time.Duration(time.Now().UnixNano()) }

// SystemTimer is the default Timer, backed by the host's monotonic
// clock.
var SystemTimer Timer = systemTimer{}

// PollUntil polls fn every interval, returning nil as soon as fn
// returns true, and ioerr.ErrTimeout if the deadline elapses first.
// Every bounded wait in the NOR, SPI-NOR and NAND drivers (status
// polling, DMA completion) goes through this helper so the timeout
// policy lives in one place.
func PollUntil(t Timer, timeout, interval time.Duration, fn func() (bool, error)) error {
	deadline := t.Now() + timeout
	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if t.Now() >= deadline {
			done, err = fn()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			return ioerr.ErrTimeout
		}
		if interval > 0 {
			time.Sleep(interval)
		}
	}
}
