// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package ptable implements the on-flash partition table: a packed,
// CRC32-protected header and entry array that Deserialize
// verifies byte-for-byte before handing back a host-order in-memory
// Table, and that Serialize packs back down to the little-endian
// on-flash form.
package ptable

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/phoenix-rtos/plo-sub002/internal/ioerr"
)

// Type is the partition content kind.
type Type uint32

const (
	Raw Type = iota
	JFFS2
	Meterfs
)

func (t Type) String() string {
	switch t {
	case Raw:
		return "raw"
	case JFFS2:
		return "jffs2"
	case Meterfs:
		return "meterfs"
	default:
		return "unknown"
	}
}

// legacy header versions disable the header CRC check, for
// compatibility with partition tables written before the header
// gained a checksum.
const (
	versionLegacy0   = 0
	versionLegacy1   = 1
	versionLegacyFF  = 0xff
	currentVersion   = 2
)

// NameSize is the fixed, NUL-padded width of an entry's name field.
const NameSize = 32

// magic is the 4-byte trailing signature stamped after the last
// entry. Its value is opaque to this package; any fixed byte string
// serves the same purpose.
var magic = [4]byte{'p', 'h', 'o', 'e'}

// headerSize is the packed size, in bytes, of the fixed header:
// version(1) + reserved(8) + count(4) + crc(4).
const headerSize = 1 + 8 + 4 + 4

// entrySize is the packed size, in bytes, of one entry: name(32) +
// type(4) + offset(4) + size(4) + crc(4).
const entrySize = NameSize + 4 + 4 + 4 + 4

// entryCRCSpan is the number of leading bytes of a packed entry that
// its own CRC covers (name+type+offset+size).
const entryCRCSpan = NameSize + 4 + 4 + 4

// Entry is one partition table record, in host byte order.
type Entry struct {
	Name   string
	Type   Type
	Offset uint32
	Size   uint32
}

// Table is the deserialized, host-order in-memory partition table.
type Table struct {
	Version uint8
	Entries []Entry
}

// crc32ieee computes the header/entry checksum: the standard reflected
// CRC-32 (init 0xFFFFFFFF, xor-out 0xFFFFFFFF), exactly what
// hash/crc32's IEEE table implements.
func crc32ieee(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// Size returns the packed on-flash size of a table with n entries.
func Size(n int) int64 {
	return int64(headerSize) + int64(n)*int64(entrySize) + int64(len(magic))
}

func packName(name string) ([NameSize]byte, bool) {
	var out [NameSize]byte
	if name == "" || len(name) >= NameSize {
		return out, false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !isAlnum(c) {
			return out, false
		}
	}
	copy(out[:], name)
	return out, true
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// unpackName validates and extracts a NUL-padded name field: every
// byte up to the first NUL must be alphanumeric, the name must be
// nonempty, and the NUL must actually appear before the field ends.
func unpackName(b [NameSize]byte) (string, bool) {
	i := 0
	for i < NameSize && isAlnum(b[i]) {
		i++
	}
	if i == 0 || i >= NameSize || b[i] != 0 {
		return "", false
	}
	return string(b[:i]), true
}

func packEntry(e Entry) ([]byte, bool) {
	name, ok := packName(e.Name)
	if !ok {
		return nil, false
	}
	switch e.Type {
	case Raw, JFFS2, Meterfs:
	default:
		return nil, false
	}

	buf := make([]byte, entrySize)
	copy(buf[0:NameSize], name[:])
	binary.LittleEndian.PutUint32(buf[NameSize:], uint32(e.Type))
	binary.LittleEndian.PutUint32(buf[NameSize+4:], e.Offset)
	binary.LittleEndian.PutUint32(buf[NameSize+8:], e.Size)
	binary.LittleEndian.PutUint32(buf[NameSize+12:], crc32ieee(buf[:entryCRCSpan]))
	return buf, true
}

func unpackEntry(buf []byte, crcCheck bool) (Entry, bool) {
	if crcCheck {
		want := binary.LittleEndian.Uint32(buf[entryCRCSpan:])
		if crc32ieee(buf[:entryCRCSpan]) != want {
			return Entry{}, false
		}
	}
	var name [NameSize]byte
	copy(name[:], buf[0:NameSize])
	n, ok := unpackName(name)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		Name:   n,
		Type:   Type(binary.LittleEndian.Uint32(buf[NameSize:])),
		Offset: binary.LittleEndian.Uint32(buf[NameSize+4:]),
		Size:   binary.LittleEndian.Uint32(buf[NameSize+8:]),
	}, true
}

// overlaps reports whether [off, off+size) and [off2, off2+size2)
// intersect.
func overlaps(off, size, off2, size2 uint32) bool {
	return off < off2+size2 && off2 < off+size
}

func verifyEntry(e Entry, memSize, blkSize uint32, prior []Entry) bool {
	switch e.Type {
	case Raw, JFFS2, Meterfs:
	default:
		return false
	}
	if e.Size == 0 || e.Size%blkSize != 0 || e.Offset%blkSize != 0 {
		return false
	}
	end := e.Offset + e.Size
	if end < e.Offset || end > memSize {
		return false
	}
	for _, p := range prior {
		if overlaps(e.Offset, e.Size, p.Offset, p.Size) {
			return false
		}
		if p.Name == e.Name {
			return false
		}
	}
	return true
}

// Deserialize parses a packed on-flash partition table out of raw,
// verifying the header CRC (unless the version is a legacy value),
// the total table size against blkSize, the trailing magic, every
// entry's CRC, alignment, range, name and duplication constraints. On
// any failure it returns ioerr.ErrInval and no partial Table.
func Deserialize(raw []byte, memSize, blkSize uint32) (Table, error) {
	if len(raw) < headerSize {
		return Table{}, ioerr.ErrInval
	}

	version := raw[0]
	count := binary.LittleEndian.Uint32(raw[9:13])
	headerCRC := binary.LittleEndian.Uint32(raw[13:17])

	crcCheck := true
	switch version {
	case versionLegacy0, versionLegacy1, versionLegacyFF:
		crcCheck = false
	}

	if crcCheck && crc32ieee(raw[:13]) != headerCRC {
		return Table{}, ioerr.ErrInval
	}

	total := Size(int(count))
	if total > int64(blkSize) || total > int64(len(raw)) {
		return Table{}, ioerr.ErrInval
	}

	magicOff := total - int64(len(magic))
	if !bytesEqual(raw[magicOff:total], magic[:]) {
		return Table{}, ioerr.ErrInval
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		off := headerSize + int64(i)*entrySize
		e, ok := unpackEntry(raw[off:off+entrySize], true)
		if !ok {
			return Table{}, ioerr.ErrInval
		}
		if !verifyEntry(e, memSize, blkSize, entries) {
			return Table{}, ioerr.ErrInval
		}
		entries = append(entries, e)
	}

	return Table{Version: version, Entries: entries}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Serialize packs t down to its on-flash little-endian form, assigning
// the current version, computing the header and per-entry CRCs and
// stamping the trailing magic. It re-verifies the result through
// Deserialize before returning, so a successfully serialized buffer
// is guaranteed to deserialize back identically.
func Serialize(t Table, memSize, blkSize uint32) ([]byte, error) {
	n := len(t.Entries)
	total := Size(n)
	if total > int64(blkSize) {
		return nil, ioerr.ErrInval
	}

	buf := make([]byte, total)
	buf[0] = currentVersion
	binary.LittleEndian.PutUint32(buf[9:13], uint32(n))

	for i, e := range t.Entries {
		packed, ok := packEntry(e)
		if !ok {
			return nil, ioerr.ErrInval
		}
		off := headerSize + i*entrySize
		copy(buf[off:off+entrySize], packed)
	}

	binary.LittleEndian.PutUint32(buf[13:17], crc32ieee(buf[:13]))
	copy(buf[total-int64(len(magic)):total], magic[:])

	if _, err := Deserialize(buf, memSize, blkSize); err != nil {
		return nil, err
	}
	return buf, nil
}
