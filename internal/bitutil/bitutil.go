// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Miscellaneous bit and byte-order helpers shared by the NOR, SPI-NOR
// and NAND drivers.
package bitutil

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"unsafe"
)

// NativeEndian is the byte order of the host this binary is running on.
var NativeEndian binary.ByteOrder

func init() {
	i := uint32(1)
	b := (*[4]byte)(unsafe.Pointer(&i))
	if b[0] == 1 {
		NativeEndian = binary.LittleEndian
	} else {
		NativeEndian = binary.BigEndian
	}
}

// Log2b finds the most significant bit set in x. Used to decode the
// CFI/SPI-NOR "typical" and "max" timing fields, which are stored as
// log2 microseconds/milliseconds.
func Log2b(x uint) int {
	if x == 0 {
		return 0
	}
	return bits.Len(x) - 1
}

// SwapBytes swaps the order of every second byte in s in place, and
// returns s. The CFI query response is read over an 8-bit bus but the
// controller on this platform returns 16-bit values with the byte pair
// swapped; callers fix this up with SwapBytes immediately after the
// raw read.
func SwapBytes(s []byte) []byte {
	for i := 0; i+1 < len(s); i += 2 {
		s[i], s[i+1] = s[i+1], s[i]
	}
	return s
}

// FormatBytes formats a byte quantity using human-readable SI units.
func FormatBytes(v uint64) string {
	var i int

	suffixes := [...]string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	d := uint64(1)

	for i = 0; i < len(suffixes)-1; i++ {
		if v >= d*1000 {
			d *= 1000
		} else {
			break
		}
	}

	if i == 0 {
		return fmt.Sprintf("%d %s", v, suffixes[i])
	}
	return fmt.Sprintf("%.3g %s", float64(v)/float64(d), suffixes[i])
}

// CFITimeoutMillis derives a bounded polling timeout, in milliseconds,
// from a pair of CFI log2-microsecond "typical" and log2-"max
// multiplier" timing fields: worst case = 2^(typical+max) microseconds.
func CFITimeoutMillis(typicalLog2, maxLog2 uint8) uint32 {
	us := uint64(1) << (uint(typicalLog2) + uint(maxLog2))
	ms := us / 1000
	if ms == 0 {
		ms = 1
	}
	return uint32(ms)
}

// SPINORTimeoutMillis derives a bounded polling timeout, in
// milliseconds, from a SPI-NOR pair of log2-millisecond "typical" and
// log2-"max multiplier" timing fields: worst case = 2^typical *
// 2^max milliseconds.
func SPINORTimeoutMillis(typicalLog2, maxLog2 uint8) uint32 {
	return uint32(uint64(1) << (uint(typicalLog2) + uint(maxLog2)))
}
