package nand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-rtos/plo-sub002/blockdev"
	"github.com/phoenix-rtos/plo-sub002/internal/hal"
	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// resetDataCache clears the module-level cache between tests, which
// otherwise persists the way it would across shell commands in the
// loader.
func resetDataCache() {
	dataCache.rdev = nil
	dataCache.wdev = nil
	dataCache.page = nil
	dataCache.block = nil
	dataCache.aux = nil
	dataCache.users = 0
}

func newDataDev(t *testing.T) (*DataDev, *fakeController) {
	t.Helper()
	resetDataCache()
	drv, f := probeFake(t)
	d := NewData(drv, hal.SystemTimer)
	require.NoError(t, d.Init())
	t.Cleanup(resetDataCache)
	return d, f
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestDataReadWriteRoundTripUnaligned(t *testing.T) {
	d, _ := newDataDev(t)

	// Spans a page boundary at an odd offset.
	data := pattern(600, 0x11)
	n, err := d.Write(101, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, d.Sync())

	got := make([]byte, len(data))
	n, err = d.Read(101, got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, got)
}

func TestDataWritePreservesNeighbors(t *testing.T) {
	d, _ := newDataDev(t)

	base := pattern(int(smallChip.eraseSize), 0x01)
	_, err := d.Write(0, base)
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	_, err = d.Write(100, []byte{0xde, 0xad})
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	got := make([]byte, len(base))
	_, err = d.Read(0, got, 0)
	require.NoError(t, err)

	want := append([]byte{}, base...)
	want[100], want[101] = 0xde, 0xad
	assert.Equal(t, want, got)
}

func TestDataIdempotentSync(t *testing.T) {
	d, f := newDataDev(t)

	_, err := d.Write(0, []byte("dirty"))
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	erases, programs := f.eraseOps, f.programOps
	require.NoError(t, d.Sync())
	assert.Equal(t, erases, f.eraseOps)
	assert.Equal(t, programs, f.programOps)
}

// TestDataBadBlockSkipping: data written over a range containing a
// bad block lands on the next good block, the bad block is never
// touched, and it stays bad.
func TestDataBadBlockSkipping(t *testing.T) {
	d, f := newDataDev(t)

	require.NoError(t, d.drv.MarkBad(1))
	badRaw := append([]byte{}, f.raw[1*4]...)

	// Two blocks of data starting at block 0: block 1 is bad, so the
	// second half must land on block 2.
	data := pattern(int(2*smallChip.eraseSize), 0x20)
	n, err := d.Write(0, data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	require.NoError(t, d.Sync())

	got := make([]byte, len(data))
	_, err = d.Read(0, got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// The bad block's first page is untouched and the marker intact.
	assert.Equal(t, badRaw, f.raw[1*4])
	assert.True(t, d.drv.IsBad(1))
}

// TestDataSyncRetriesOnNextGoodBlock: a program failure during sync
// marks the block bad and moves the cached data forward to the next
// good block.
func TestDataSyncRetriesOnNextGoodBlock(t *testing.T) {
	d, f := newDataDev(t)

	data := pattern(int(smallChip.eraseSize), 0x33)
	_, err := d.Write(0, data)
	require.NoError(t, err)

	f.failEccProgram[0] = true
	require.NoError(t, d.Sync())

	assert.True(t, d.drv.IsBad(0))

	got := make([]byte, len(data))
	_, err = d.Read(0, got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDataSyncNoSpaceLeft(t *testing.T) {
	d, f := newDataDev(t)

	for b := uint32(0); b < uint32(smallChip.size/smallChip.eraseSize); b++ {
		f.failEccProgram[b] = true
	}

	_, err := d.Write(0, pattern(16, 0x44))
	require.NoError(t, err)
	assert.ErrorIs(t, d.Sync(), ioerr.ErrNoSpc)
}

func TestDataEraseFullBlocks(t *testing.T) {
	d, _ := newDataDev(t)

	data := pattern(int(smallChip.eraseSize), 0x55)
	_, err := d.Write(0, data)
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	n, err := d.Erase(0, smallChip.eraseSize, 0)
	require.NoError(t, err)
	assert.Equal(t, smallChip.eraseSize, n)

	got := make([]byte, int(smallChip.eraseSize))
	_, err = d.Read(0, got, 0)
	require.NoError(t, err)
	for i, b := range got {
		require.Equal(t, byte(0xff), b, "byte %d", i)
	}
}

func TestDataErasePartialPreservesRest(t *testing.T) {
	d, _ := newDataDev(t)

	data := pattern(int(smallChip.eraseSize), 0x66)
	_, err := d.Write(0, data)
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	// Erase the middle of the block only.
	_, err = d.Erase(100, 200, 0)
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	got := make([]byte, len(data))
	_, err = d.Read(0, got, 0)
	require.NoError(t, err)

	want := append([]byte{}, data...)
	for i := 100; i < 300; i++ {
		want[i] = 0xff
	}
	assert.Equal(t, want, got)
}

func TestDataMapNotMappable(t *testing.T) {
	d, _ := newDataDev(t)

	res, err := d.Map(blockdev.MapRequest{Mode: blockdev.MapRead, MemMode: blockdev.MapRead})
	require.NoError(t, err)
	assert.Equal(t, blockdev.NotMappable, res.Outcome)

	res, err = d.Map(blockdev.MapRequest{Mode: blockdev.MapWrite, MemMode: blockdev.MapRead})
	require.NoError(t, err)
	assert.Equal(t, blockdev.Invalid, res.Outcome)
}

func TestMetaReadWriteRoundTrip(t *testing.T) {
	d, _ := newDataDev(t)
	m := NewMeta(d)

	require.NoError(t, m.Init())
	assert.Equal(t, (smallChip.size/smallChip.pageSize)*smallChip.metaSize, m.Size())

	payload := pattern(int(2*smallChip.metaSize), 0x70)
	n, err := m.Write(0, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	got := make([]byte, len(payload))
	n, err = m.Read(0, got, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}

func TestMetaRejectsUnalignedOffset(t *testing.T) {
	d, _ := newDataDev(t)
	m := NewMeta(d)

	_, err := m.Read(3, make([]byte, 4), 0)
	assert.ErrorIs(t, err, ioerr.ErrInval)
}

func TestRawReadShowsOOB(t *testing.T) {
	d, f := newDataDev(t)
	r := NewRaw(d)

	// Program a page through the data device, then inspect it raw.
	_, err := d.Write(0, pattern(int(smallChip.pageSize), 0x01))
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	raw := make([]byte, smallChip.rawPage())
	n, err := r.Read(0, raw, 0)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, f.raw[0], raw)
}

func TestRawWriteWholePages(t *testing.T) {
	d, _ := newDataDev(t)
	r := NewRaw(d)

	page := onesBytes(smallChip.rawPage())
	page[0] = 0x00
	n, err := r.Write(int64(smallChip.rawPage()), page)
	require.NoError(t, err)
	assert.Equal(t, len(page), n)

	_, err = r.Write(1, page)
	assert.ErrorIs(t, err, ioerr.ErrInval)
}

// stepTimer advances a fixed amount per Now() call, letting a test
// expire a deadline deterministically.
type stepTimer struct {
	now  time.Duration
	step time.Duration
}

func (t *stepTimer) Now() time.Duration {
	n := t.now
	t.now += t.step
	return n
}

// TestDataReadTimeout: an expired read deadline surfaces ErrTimeout
// before the next page is touched, with the caches left as they were.
func TestDataReadTimeout(t *testing.T) {
	resetDataCache()
	t.Cleanup(resetDataCache)

	drv, _ := probeFake(t)
	d := NewData(drv, &stepTimer{step: 2 * time.Millisecond})
	require.NoError(t, d.Init())

	buf := make([]byte, 16)
	n, err := d.Read(0, buf, 1)
	assert.ErrorIs(t, err, ioerr.ErrTimeout)
	assert.Equal(t, 0, n)
	assert.Nil(t, dataCache.rdev)
}
