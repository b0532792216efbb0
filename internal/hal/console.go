// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package hal

import (
	"io"
	"sync"
	"time"

	"github.com/phoenix-rtos/plo-sub002/internal/cbuffer"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// consoleBufSize bounds the receive buffer the same way the UART
// driver's static ring does.
const consoleBufSize = 256

// Console is the byte pipe the command front end reads and writes:
// a pump goroutine stands in for the UART receive interrupt, filling
// the circular buffer that the timed Read drains. One producer, one
// consumer, as the buffer requires.
type Console struct {
	w io.Writer

	mu    sync.Mutex
	rx    *cbuffer.Buffer
	avail chan struct{}
}

// NewConsole starts the receive pump over r and returns the console.
func NewConsole(r io.Reader, w io.Writer) *Console {
	c := &Console{
		w:     w,
		rx:    cbuffer.New(consoleBufSize),
		avail: make(chan struct{}, 1),
	}
	go c.pump(r)
	return c
}

func (c *Console) pump(r io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.rx.Write(buf[:n])
			c.mu.Unlock()
			select {
			case c.avail <- struct{}{}:
			default:
			}
		}
		if err != nil {
			return
		}
	}
}

// Write sends p to the console output.
func (c *Console) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

// Read fills p from the receive buffer, waiting up to timeoutMs for
// the first byte; zero means wait indefinitely. Expiry returns
// ioerr.ErrTimeout with the buffer state unchanged.
func (c *Console) Read(p []byte, timeoutMs uint32) (int, error) {
	var deadline <-chan time.Time
	if timeoutMs > 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		deadline = t.C
	}

	for {
		c.mu.Lock()
		n := c.rx.Read(p)
		c.mu.Unlock()
		if n > 0 {
			return n, nil
		}

		select {
		case <-c.avail:
		case <-deadline:
			return 0, ioerr.ErrTimeout
		}
	}
}
