// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package ioctlx implements the Linux kernel ioctl request macros
// (<uapi/asm-generic/ioctl.h>, see
// https://www.kernel.org/doc/Documentation/ioctl/ioctl-number.txt)
// and a thin ioctl syscall wrapper, used where a device node must be
// interrogated below the file API (e.g. the size of a block device
// backing a flash window).
package ioctlx

import "golang.org/x/sys/unix"

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

// Io encodes an ioctl request with no payload.
func Io(typ, nr uintptr) uintptr { return ioc(iocNone, typ, nr, 0) }

// Ior encodes a read-payload ioctl request.
func Ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }

// Iow encodes a write-payload ioctl request.
func Iow(typ, nr, size uintptr) uintptr { return ioc(iocWrite, typ, nr, size) }

// Iowr encodes a read-write-payload ioctl request.
func Iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

// Ioctl executes an ioctl command on the specified file descriptor.
func Ioctl(fd, cmd, ptr uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, cmd, ptr)
	if errno != 0 {
		return errno
	}
	return nil
}
