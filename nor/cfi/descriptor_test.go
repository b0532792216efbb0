package cfi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-rtos/plo-sub002/internal/bitutil"
	"github.com/phoenix-rtos/plo-sub002/nor/cfi"
)

func sampleDescriptor() cfi.Descriptor {
	return cfi.Descriptor{
		PriVendorCmdSet:          0x0002, // AMD/Fujitsu standard command set
		VccMin:                   0x27,
		VccMax:                   0x36,
		VppMin:                   0,
		VppMax:                   0,
		TypicalWordProgramLog2us: 4,
		TypicalBufferWriteLog2us: 6,
		TypicalBlockEraseLog2ms:  10,
		TypicalChipEraseLog2ms:   14,
		MaxWordProgramLog2:       3,
		MaxBufferWriteLog2:       3,
		MaxBlockEraseLog2:        2,
		MaxChipEraseLog2:         2,
		ChipSize:                 16 * 1024 * 1024,
		MaxBufferSize:            32,
		Regions: []cfi.Region{
			{Count: 128, Size: 128 * 1024},
		},
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	d := sampleDescriptor()

	raw := cfi.Serialize(d)
	got, err := cfi.Deserialize(raw)
	require.NoError(t, err)

	assert.Equal(t, d, got)
}

func TestDescriptorRejectsMissingSignature(t *testing.T) {
	raw := cfi.Serialize(sampleDescriptor())
	raw[0] = 'X'

	_, err := cfi.Deserialize(raw)
	assert.Error(t, err)
}

func TestDescriptorSectorSize(t *testing.T) {
	d := sampleDescriptor()
	assert.Equal(t, int64(128*1024), d.SectorSize())
}

// The sector size comes from the chip size and the first region's
// count; the region's own size field does not enter the derivation,
// even when later regions make the two disagree.
func TestDescriptorSectorSizeMultiRegion(t *testing.T) {
	d := sampleDescriptor()
	d.ChipSize = 4 * 1024 * 1024
	d.Regions = []cfi.Region{
		{Count: 8, Size: 4 * 1024},
		{Count: 62, Size: 64 * 1024},
	}
	assert.Equal(t, int64(512*1024), d.SectorSize())
}

// TestByteSwapRoundTrip checks the descriptor round-trip directly
// against the raw wire bytes: swapping after a read and swapping
// again before a write is the identity, so the controller's 16-bit
// byte swap cancels out.
func TestByteSwapRoundTrip(t *testing.T) {
	raw := cfi.Serialize(sampleDescriptor())
	orig := append([]byte(nil), raw...)

	bitutil.SwapBytes(raw)
	bitutil.SwapBytes(raw)

	assert.Equal(t, orig, raw)
}
