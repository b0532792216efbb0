package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

type recordingDevice struct {
	inits int
	reads int
}

func (d *recordingDevice) Init() error { d.inits++; return nil }
func (d *recordingDevice) Done() error { return nil }
func (d *recordingDevice) Size() int64 { return 64 }
func (d *recordingDevice) Sync() error { return nil }

func (d *recordingDevice) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	d.reads++
	return len(buf), nil
}

func (d *recordingDevice) Write(off int64, buf []byte) (int, error) { return len(buf), nil }

func (d *recordingDevice) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	return length, nil
}

func (d *recordingDevice) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
}

func TestDeviceOpsDispatchesByMinor(t *testing.T) {
	d0, d1 := &recordingDevice{}, &recordingDevice{}
	ops := blockdev.NewDeviceOps(d0, d1)

	require.NoError(t, ops.Init(1))
	assert.Equal(t, 0, d0.inits)
	assert.Equal(t, 1, d1.inits)

	_, err := ops.Read(0, 0, make([]byte, 4), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, d0.reads)
}

func TestDeviceOpsRejectsUnknownMinor(t *testing.T) {
	ops := blockdev.NewDeviceOps(&recordingDevice{})

	assert.ErrorIs(t, ops.Init(1), ioerr.ErrNoDev)
	assert.ErrorIs(t, ops.Init(-1), ioerr.ErrNoDev)
	_, err := ops.Write(7, 0, nil)
	assert.ErrorIs(t, err, ioerr.ErrNoDev)
}
