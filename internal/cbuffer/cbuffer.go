// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package cbuffer is the circular byte buffer shared between an
// interrupt-context producer and the main-loop consumer of the
// console pipe. Exactly one producer and one consumer per direction;
// the full flag disambiguates head == tail.
package cbuffer

// Buffer is a fixed-capacity circular byte buffer.
type Buffer struct {
	data []byte
	head int
	tail int
	full bool
}

// New returns a buffer of the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	if b.tail == b.head {
		if b.full {
			return len(b.data)
		}
		return 0
	}
	return (b.tail - b.head + len(b.data)) % len(b.data)
}

// Empty reports whether no bytes are buffered.
func (b *Buffer) Empty() bool {
	return b.head == b.tail && !b.full
}

// Write appends up to len(p) bytes and returns how many fit.
func (b *Buffer) Write(p []byte) int {
	if len(p) == 0 || b.full {
		return 0
	}

	var n int
	if b.head > b.tail {
		n = copy(b.data[b.tail:b.head], p)
	} else {
		n = copy(b.data[b.tail:], p)
		if n < len(p) && b.head > 0 {
			n += copy(b.data[:b.head], p[n:])
		}
	}

	b.tail = (b.tail + n) % len(b.data)
	b.full = b.tail == b.head
	return n
}

// Read removes up to len(p) bytes into p and returns how many.
func (b *Buffer) Read(p []byte) int {
	if len(p) == 0 || b.Empty() {
		return 0
	}

	var n int
	if b.tail > b.head {
		n = copy(p, b.data[b.head:b.tail])
	} else {
		n = copy(p, b.data[b.head:])
		if n < len(p) {
			n += copy(p[n:], b.data[:b.tail])
		}
	}

	b.head = (b.head + n) % len(b.data)
	b.full = false
	return n
}
