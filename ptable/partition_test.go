package ptable_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/ptable"
)

// memDevice is a flat in-memory block device with erase-to-ones
// semantics, enough to exercise Load/Store and the partition windows.
type memDevice struct {
	arr     []byte
	blkSize int64
}

func newMemDevice(size, blkSize int64) *memDevice {
	arr := make([]byte, size)
	for i := range arr {
		arr[i] = 0xff
	}
	return &memDevice{arr: arr, blkSize: blkSize}
}

func (m *memDevice) Init() error { return nil }
func (m *memDevice) Done() error { return nil }
func (m *memDevice) Size() int64 { return int64(len(m.arr)) }
func (m *memDevice) Sync() error { return nil }

func (m *memDevice) Read(off int64, buf []byte, timeoutMs uint32) (int, error) {
	if off >= m.Size() {
		return 0, nil
	}
	return copy(buf, m.arr[off:]), nil
}

func (m *memDevice) Write(off int64, buf []byte) (int, error) {
	return copy(m.arr[off:], buf), nil
}

func (m *memDevice) Erase(off int64, length int64, flags blockdev.EraseFlags) (int64, error) {
	start := (off / m.blkSize) * m.blkSize
	end := ((off + length + m.blkSize - 1) / m.blkSize) * m.blkSize
	if end > m.Size() {
		end = m.Size()
	}
	for i := start; i < end; i++ {
		m.arr[i] = 0xff
	}
	return end - start, nil
}

func (m *memDevice) Map(req blockdev.MapRequest) (blockdev.MapResult, error) {
	return blockdev.MapResult{Outcome: blockdev.NotMappable}, nil
}

var _ blockdev.Device = (*memDevice)(nil)

func TestLoadStoreRoundTrip(t *testing.T) {
	dev := newMemDevice(testMemSize, testBlkSize)
	want := fourEntryTable()

	require.NoError(t, ptable.Store(dev, 0x700000, testBlkSize, want))

	got, err := ptable.Load(dev, 0x700000, testBlkSize)
	require.NoError(t, err)
	assert.Equal(t, want.Entries, got.Entries)
}

func TestLoadRejectsBlankFlash(t *testing.T) {
	dev := newMemDevice(testMemSize, testBlkSize)
	_, err := ptable.Load(dev, 0x700000, testBlkSize)
	assert.Error(t, err)
}

func TestPartitionWindows(t *testing.T) {
	dev := newMemDevice(testMemSize, testBlkSize)
	parts := ptable.Partitions(dev, fourEntryTable())
	require.Len(t, parts, 4)

	rootfs := parts[1]
	assert.Equal(t, "rootfs", rootfs.Entry().Name)
	assert.Equal(t, int64(0x200000), rootfs.Size())

	// A write at partition offset 0 lands at the entry's device
	// offset.
	_, err := rootfs.Write(0, []byte("fsdata"))
	require.NoError(t, err)
	assert.Equal(t, byte('f'), dev.arr[0x100000])

	got := make([]byte, 6)
	n, err := rootfs.Read(0, got, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "fsdata", string(got))
}

func TestPartitionClampsAtWindowEnd(t *testing.T) {
	dev := newMemDevice(testMemSize, testBlkSize)
	parts := ptable.Partitions(dev, fourEntryTable())
	config := parts[3]

	// Read straddling the partition end is truncated.
	buf := make([]byte, 32)
	n, err := config.Read(config.Size()-8, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	// Reads past the end return 0; writes past the end are invalid.
	n, err = config.Read(config.Size(), buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = config.Write(config.Size(), buf)
	assert.Error(t, err)
}

func TestPartitionEraseAll(t *testing.T) {
	dev := newMemDevice(testMemSize, testBlkSize)
	parts := ptable.Partitions(dev, fourEntryTable())
	kernel := parts[0]

	_, err := kernel.Write(0, []byte{0x42})
	require.NoError(t, err)

	n, err := kernel.Erase(0, blockdev.EraseAll, 0)
	require.NoError(t, err)
	assert.Equal(t, kernel.Size(), n)
	assert.Equal(t, byte(0xff), dev.arr[0])
}
