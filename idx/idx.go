// Package idx implements the version 2 pack index (".idx") format: a
// 256-entry fanout table, a sorted table of object ids, a parallel CRC32
// table, a parallel 4-byte offset table with a 64-bit overflow table for
// packs larger than 2GiB, and a two-digest trailer (pack checksum, idx
// checksum). See specification §3 "Pack index".
package idx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	gkhash "github.com/grahambrooks/gitkit/hash"
)

// Magic opens a version 2 idx file; version 1 (no magic, fanout first)
// is not produced or accepted by this module.
var Magic = [4]byte{0xff, 0x74, 0x4f, 0x63}

const Version = 2

// offsetOverflowBit marks a 4-byte offset table entry as an index into
// the 8-byte overflow table rather than a literal offset.
const offsetOverflowBit = 0x80000000

// Entry is one object's index record: its id, pack offset, and CRC32 of
// its (still compressed) on-disk representation.
type Entry struct {
	OID    gkhash.OID
	Offset int64
	CRC32  uint32
}

// Index is a fully decoded in-memory pack index.
type Index struct {
	Format       gkhash.Format
	Entries      []Entry // sorted by OID
	PackChecksum []byte
}

// FindOffset does a binary search over the sorted entries, mirroring
// the fanout-table assisted lookup real tooling performs; this in-memory
// form only needs the plain binary search since it already holds every
// entry.
func (idx *Index) FindOffset(oid gkhash.OID) (int64, bool) {
	n := len(idx.Entries)
	i := sort.Search(n, func(i int) bool { return idx.Entries[i].OID.Compare(oid) >= 0 })
	if i < n && idx.Entries[i].OID.Equal(oid) {
		return idx.Entries[i].Offset, true
	}
	return 0, false
}

// Encode serializes entries (which need not be pre-sorted) into the
// version 2 on-disk format for the given pack's trailing checksum.
func Encode(format gkhash.Format, entries []Entry, packChecksum []byte) ([]byte, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OID.Compare(sorted[j].OID) < 0 })

	var buf bytes.Buffer
	buf.Write(Magic[:])
	writeU32(&buf, Version)

	var fanout [256]uint32
	for _, e := range sorted {
		b := e.OID.Bytes()
		fanout[b[0]]++
	}
	var running uint32
	for i := 0; i < 256; i++ {
		running += fanout[i]
		fanout[i] = running
	}
	for i := 0; i < 256; i++ {
		writeU32(&buf, fanout[i])
	}

	for _, e := range sorted {
		buf.Write(e.OID.Bytes())
	}
	for _, e := range sorted {
		writeU32(&buf, e.CRC32)
	}

	var overflow []int64
	for _, e := range sorted {
		if e.Offset > 0x7fffffff {
			writeU32(&buf, offsetOverflowBit|uint32(len(overflow)))
			overflow = append(overflow, e.Offset)
		} else {
			writeU32(&buf, uint32(e.Offset))
		}
	}
	for _, off := range overflow {
		writeU64(&buf, uint64(off))
	}

	buf.Write(packChecksum)

	h, err := gkhash.New(format)
	if err != nil {
		return nil, err
	}
	h.Write(buf.Bytes())
	buf.Write(h.Sum(nil))

	return buf.Bytes(), nil
}

// Decode parses a version 2 idx file for the given repository hash
// format (idx files carry no format tag of their own; it must come
// from the repository's extensions.objectformat).
func Decode(format gkhash.Format, data []byte) (*Index, error) {
	if len(data) < 4+4+256*4 {
		return nil, fmt.Errorf("idx: truncated (too short for header+fanout)")
	}
	if !bytes.Equal(data[0:4], Magic[:]) {
		return nil, fmt.Errorf("idx: bad magic, looks like a version 1 idx (unsupported)")
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version != Version {
		return nil, fmt.Errorf("idx: unsupported version %d", version)
	}

	pos := 8
	var fanout [256]uint32
	for i := 0; i < 256; i++ {
		fanout[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}
	count := int(fanout[255])

	oidSize := gkhash.Size(format)
	oidTableLen := count * oidSize
	if pos+oidTableLen > len(data) {
		return nil, fmt.Errorf("idx: truncated oid table")
	}
	oids := make([]gkhash.OID, count)
	for i := 0; i < count; i++ {
		b := data[pos : pos+oidSize]
		pos += oidSize
		o, ok := gkhash.FromBytes(format, b)
		if !ok {
			return nil, fmt.Errorf("idx: malformed oid at entry %d", i)
		}
		oids[i] = o
	}

	crcTableLen := count * 4
	if pos+crcTableLen > len(data) {
		return nil, fmt.Errorf("idx: truncated crc table")
	}
	crcs := make([]uint32, count)
	for i := 0; i < count; i++ {
		crcs[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	offTableLen := count * 4
	if pos+offTableLen > len(data) {
		return nil, fmt.Errorf("idx: truncated offset table")
	}
	rawOffsets := make([]uint32, count)
	maxOverflow := -1
	for i := 0; i < count; i++ {
		rawOffsets[i] = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
		if rawOffsets[i]&offsetOverflowBit != 0 {
			idx := int(rawOffsets[i] &^ offsetOverflowBit)
			if idx > maxOverflow {
				maxOverflow = idx
			}
		}
	}

	overflow := make([]int64, 0)
	if maxOverflow >= 0 {
		need := (maxOverflow + 1) * 8
		if pos+need > len(data) {
			return nil, fmt.Errorf("idx: truncated overflow table")
		}
		overflow = make([]int64, maxOverflow+1)
		for i := range overflow {
			overflow[i] = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
			pos += 8
		}
	}

	trailerLen := oidSize * 2
	if pos+trailerLen > len(data) {
		return nil, fmt.Errorf("idx: truncated trailer")
	}
	packChecksum := append([]byte(nil), data[pos:pos+oidSize]...)
	pos += oidSize
	idxChecksum := data[pos : pos+oidSize]
	pos += oidSize

	h, err := gkhash.New(format)
	if err != nil {
		return nil, err
	}
	h.Write(data[:len(data)-oidSize])
	sum := h.Sum(nil)
	if !bytes.Equal(sum, idxChecksum) {
		return nil, fmt.Errorf("idx: trailing checksum mismatch")
	}

	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		off := int64(rawOffsets[i])
		if rawOffsets[i]&offsetOverflowBit != 0 {
			off = overflow[rawOffsets[i]&^offsetOverflowBit]
		}
		entries[i] = Entry{OID: oids[i], Offset: off, CRC32: crcs[i]}
	}

	return &Index{Format: format, Entries: entries, PackChecksum: packChecksum}, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
