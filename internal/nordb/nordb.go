// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package nordb is the flash chip parameter database: built-in
// defaults in code, optionally overridden by a YAML sidecar file
// loaded at startup. LookupSPINOR, LookupCFI and LookupNAND match a
// SPI-NOR JEDEC ID, a CFI vendor/device pair or a NAND read-ID pair
// against the known chip parameters. Of the driver probes, only
// nand.Probe consults the database; nor/cfi and nor/spinor do not.
package nordb

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// SPINORChip describes one JEDEC-ID-identified SPI NOR part.
type SPINORChip struct {
	Name            string  `yaml:"name"`
	JEDECID         uint32  `yaml:"jedec_id"` // 24-bit, manufacturer<<16|memtype<<8|capacity
	TotalSize       int64   `yaml:"total_size"`
	PageSize        int64   `yaml:"page_size"`
	SectorSize      int64   `yaml:"sector_size"`
	CmdSet          string  `yaml:"cmd_set"` // "macronix" or "spansion"
	// Typical times are log2 milliseconds (despite the Us suffix on the
	// field names); bitutil.SPINORTimeoutMillis combines each with its
	// log2 max multiplier.
	PageProgramUs   uint8   `yaml:"page_program_typ_log2ms"`
	PageProgramMax  uint8   `yaml:"page_program_max_log2"`
	SectorEraseUs   uint8   `yaml:"sector_erase_typ_log2ms"`
	SectorEraseMax  uint8   `yaml:"sector_erase_max_log2"`
	ChipEraseUs     uint8   `yaml:"chip_erase_typ_log2ms"`
	ChipEraseMax    uint8   `yaml:"chip_erase_max_log2"`
	Regions         []Region `yaml:"regions,omitempty"`
}

// Region is one (count, size) erase-region descriptor, mirroring the
// CFI region layout, reused here for SPI-NOR parts (e.g. Spansion
// S25FL128S) that likewise expose mixed sector sizes.
type Region struct {
	Count int64 `yaml:"count"`
	Size  int64 `yaml:"size"`
}

// CFIModel describes one vendor/device-ID-identified parallel NOR
// part. nor/cfi's probe does not consult these entries: it takes the
// chip geometry from the CFI query response alone and does not match
// vendor/device IDs.
type CFIModel struct {
	Name       string `yaml:"name"`
	VendorID   uint16 `yaml:"vendor_id"`
	DeviceID   uint16 `yaml:"device_id"`
	CmdSet     string `yaml:"cmd_set"` // "intel" or "amd"
	PortWidth  uint8  `yaml:"port_width"`
}

// NANDChip describes one vendor/device-ID-identified raw NAND part
// together with its BCH page-layout parameters.
type NANDChip struct {
	Name      string `yaml:"name"`
	VendorID  byte   `yaml:"vendor_id"`
	DeviceID  byte   `yaml:"device_id"`
	TotalSize int64  `yaml:"total_size"`
	EraseSize int64  `yaml:"erase_size"`
	PageSize  int64  `yaml:"page_size"`
	OOBSize   int64  `yaml:"oob_size"`
	MetaSize  int64  `yaml:"meta_size"`

	ECCBlockSize0 uint16 `yaml:"ecc_blocksz0"`
	ECCBlockSizeN uint16 `yaml:"ecc_blockszn"`
	ECCBlocks     uint8  `yaml:"ecc_nblocks"`
	ECCStrength0  uint8  `yaml:"ecc_strength0"`
	ECCStrengthN  uint8  `yaml:"ecc_strengthn"`
	ECCGF0        uint8  `yaml:"ecc_gf0"`
	ECCGFN        uint8  `yaml:"ecc_gfn"`
}

// DB is the in-memory form of the database.
type DB struct {
	SPINOR []SPINORChip `yaml:"spi_nor"`
	CFI    []CFIModel   `yaml:"cfi"`
	NAND   []NANDChip   `yaml:"nand"`
}

// Open reads and parses a nordb YAML file.
func Open(path string) (DB, error) {
	var db DB

	data, err := os.ReadFile(path)
	if err != nil {
		return db, err
	}
	if err := yaml.Unmarshal(data, &db); err != nil {
		return db, fmt.Errorf("nordb: parsing %s: %w", path, err)
	}
	return db, nil
}

// Save writes db to path as YAML, for editing and reloading with
// Open.
func Save(path string, db DB) error {
	data, err := yaml.Marshal(db)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LookupSPINOR finds a chip by its 24-bit JEDEC ID.
func (db DB) LookupSPINOR(jedecID uint32) (SPINORChip, bool) {
	for _, c := range db.SPINOR {
		if c.JEDECID == jedecID {
			return c, true
		}
	}
	return SPINORChip{}, false
}

// LookupCFI finds a parallel NOR model by vendor/device ID pair.
func (db DB) LookupCFI(vendorID, deviceID uint16) (CFIModel, bool) {
	for _, m := range db.CFI {
		if m.VendorID == vendorID && m.DeviceID == deviceID {
			return m, true
		}
	}
	return CFIModel{}, false
}

// LookupNAND finds a raw NAND part by the first two read-ID bytes.
func (db DB) LookupNAND(vendorID, deviceID byte) (NANDChip, bool) {
	for _, c := range db.NAND {
		if c.VendorID == vendorID && c.DeviceID == deviceID {
			return c, true
		}
	}
	return NANDChip{}, false
}

// Default is the built-in chip table: the supported Macronix and
// Spansion serial NOR parts, a representative Intel/AMD CFI pair, and
// the supported raw NAND parts. Ship-time defaults live in code and
// can be dumped to an editable YAML sidecar with cmd/nordbgen.
var Default = DB{
	SPINOR: []SPINORChip{
		{
			Name: "MX25L25635F", JEDECID: 0xc22019,
			TotalSize: 32 * 1024 * 1024, PageSize: 256, SectorSize: 4096,
			CmdSet:         "macronix",
			PageProgramUs:  2, PageProgramMax: 3,
			SectorEraseUs:  18, SectorEraseMax: 4,
			ChipEraseUs:    18, ChipEraseMax: 8,
		},
		{
			// Mixed-region part: 32x4KiB sectors, then 254x64KiB.
			Name: "S25FL128S", JEDECID: 0x012018,
			TotalSize: 16 * 1024 * 1024, PageSize: 256, SectorSize: 64 * 1024,
			CmdSet:         "spansion",
			PageProgramUs:  2, PageProgramMax: 3,
			SectorEraseUs:  18, SectorEraseMax: 4,
			ChipEraseUs:    18, ChipEraseMax: 8,
			Regions: []Region{
				{Count: 32, Size: 4 * 1024},
				{Count: 254, Size: 64 * 1024},
			},
		},
	},
	CFI: []CFIModel{
		{Name: "28F128J3", VendorID: 0x0089, DeviceID: 0x8916, CmdSet: "intel", PortWidth: 16},
		{Name: "Am29LV160", VendorID: 0x0001, DeviceID: 0x22c4, CmdSet: "amd", PortWidth: 16},
	},
	NAND: []NANDChip{
		{
			Name: "Kioxia TH58NVG4", VendorID: 0x98, DeviceID: 0xd3,
			TotalSize: 8192 * 64 * 4096, EraseSize: 64 * 4096,
			PageSize: 4096, OOBSize: 256, MetaSize: 16,
			ECCBlockSize0: 0, ECCBlockSizeN: 512, ECCBlocks: 8,
			ECCStrength0: 16, ECCStrengthN: 8, ECCGF0: 13, ECCGFN: 13,
		},
		{
			Name: "Micron MT29F8G", VendorID: 0x2c, DeviceID: 0xd3,
			TotalSize: 4096 * 64 * 4096, EraseSize: 64 * 4096,
			PageSize: 4096, OOBSize: 224, MetaSize: 16,
			ECCBlockSize0: 0, ECCBlockSizeN: 512, ECCBlocks: 8,
			ECCStrength0: 16, ECCStrengthN: 8, ECCGF0: 13, ECCGFN: 13,
		},
	},
}
