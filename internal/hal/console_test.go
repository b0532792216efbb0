package hal_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

func TestConsoleReadDeliversInput(t *testing.T) {
	r, w := io.Pipe()
	var out bytes.Buffer
	c := hal.NewConsole(r, &out)

	go w.Write([]byte("ok\n"))

	buf := make([]byte, 8)
	n, err := c.Read(buf, 1000)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(buf[:n]))
}

func TestConsoleReadTimesOut(t *testing.T) {
	r, _ := io.Pipe()
	c := hal.NewConsole(r, io.Discard)

	buf := make([]byte, 1)
	_, err := c.Read(buf, 10)
	assert.ErrorIs(t, err, ioerr.ErrTimeout)
}

func TestConsoleWritePassesThrough(t *testing.T) {
	var out bytes.Buffer
	c := hal.NewConsole(bytes.NewReader(nil), &out)

	n, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", out.String())
}
