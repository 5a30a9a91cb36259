package idx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	gkhash "github.com/grahambrooks/gitkit/hash"
)

// MultiPackIndex is the decoded form of a "multi-pack-index" file: a
// single sorted object table spanning several packs, used so a lookup
// doesn't have to probe every pack's own .idx in turn. See
// specification §3 "Multi-pack-index".
type MultiPackIndex struct {
	PackNames []string
	Entries   []MultiEntry
}

// MultiEntry is one object's location within a multi-pack-index: which
// pack (by index into PackNames) and what offset within it.
type MultiEntry struct {
	OID      gkhash.OID
	PackIdx  int
	Offset   int64
}

var midxMagic = [4]byte{'M', 'I', 'D', 'X'}

const midxVersion = 1

// chunk ids, per the git multi-pack-index chunk format.
var (
	chunkPackNames  = [4]byte{'P', 'N', 'A', 'M'}
	chunkOIDFanout  = [4]byte{'O', 'I', 'D', 'F'}
	chunkOIDLookup  = [4]byte{'O', 'I', 'D', 'L'}
	chunkObjOffsets = [4]byte{'O', 'O', 'F', 'F'}
)

// EncodeMultiPackIndex serializes a MultiPackIndex using a simplified
// single-hash-format chunk layout (pack names, OID fanout, OID lookup,
// object offsets); it omits the large-offset chunk since this module
// targets repositories well under the 2GiB-per-pack range for any
// single pack referenced by a MIDX.
func EncodeMultiPackIndex(format gkhash.Format, packNames []string, entries []MultiEntry) ([]byte, error) {
	sorted := append([]MultiEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OID.Compare(sorted[j].OID) < 0 })

	var names bytes.Buffer
	for _, n := range packNames {
		names.WriteString(n)
		names.WriteByte(0)
	}
	for names.Len()%4 != 0 {
		names.WriteByte(0)
	}

	var fanout bytes.Buffer
	var counts [256]uint32
	for _, e := range sorted {
		counts[e.OID.Bytes()[0]]++
	}
	var running uint32
	for i := 0; i < 256; i++ {
		running += counts[i]
		writeU32(&fanout, running)
	}

	var lookup bytes.Buffer
	for _, e := range sorted {
		lookup.Write(e.OID.Bytes())
	}

	var offsets bytes.Buffer
	for _, e := range sorted {
		writeU32(&offsets, uint32(e.PackIdx))
		writeU32(&offsets, uint32(e.Offset))
	}

	chunks := []struct {
		id   [4]byte
		data []byte
	}{
		{chunkPackNames, names.Bytes()},
		{chunkOIDFanout, fanout.Bytes()},
		{chunkOIDLookup, lookup.Bytes()},
		{chunkObjOffsets, offsets.Bytes()},
	}

	var buf bytes.Buffer
	buf.Write(midxMagic[:])
	buf.WriteByte(midxVersion)
	buf.WriteByte(hashVersionByte(format))
	buf.WriteByte(byte(len(chunks)))
	buf.WriteByte(0) // base-midx count: always 0, chained MIDX not supported

	writeU32(&buf, uint32(len(packNames)))

	headerLen := buf.Len()
	tableLen := (len(chunks) + 1) * 12
	offset := uint64(headerLen + tableLen)
	for _, c := range chunks {
		buf.Write(c.id[:])
		writeU64AsTwoU32(&buf, offset)
		offset += uint64(len(c.data))
	}
	var zero [4]byte
	buf.Write(zero[:])
	writeU64AsTwoU32(&buf, offset)

	for _, c := range chunks {
		buf.Write(c.data)
	}

	h, err := gkhash.New(format)
	if err != nil {
		return nil, err
	}
	h.Write(buf.Bytes())
	buf.Write(h.Sum(nil))

	return buf.Bytes(), nil
}

// DecodeMultiPackIndex parses the simplified chunk layout produced by
// EncodeMultiPackIndex.
func DecodeMultiPackIndex(format gkhash.Format, data []byte) (*MultiPackIndex, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("midx: truncated header")
	}
	if !bytes.Equal(data[0:4], midxMagic[:]) {
		return nil, fmt.Errorf("midx: bad magic")
	}
	if data[4] != midxVersion {
		return nil, fmt.Errorf("midx: unsupported version %d", data[4])
	}
	numChunks := int(data[6])
	numPacks := binary.BigEndian.Uint32(data[8:12])

	tableStart := 12
	chunkData := make(map[[4]byte][]byte)
	pos := tableStart
	var prevID [4]byte
	var prevOff uint64
	have := false
	for i := 0; i <= numChunks; i++ {
		if pos+12 > len(data) {
			return nil, fmt.Errorf("midx: truncated chunk table")
		}
		var id [4]byte
		copy(id[:], data[pos:pos+4])
		off := readU64FromTwoU32(data[pos+4 : pos+12])
		if have && prevID != ([4]byte{}) {
			if off < prevOff || int(off) > len(data) {
				return nil, fmt.Errorf("midx: invalid chunk offset")
			}
			chunkData[prevID] = data[prevOff:off]
		}
		prevID, prevOff, have = id, off, true
		pos += 12
	}

	names := chunkData[chunkPackNames]
	var packNames []string
	for _, part := range bytes.Split(bytes.TrimRight(names, "\x00"), []byte{0}) {
		if len(part) > 0 {
			packNames = append(packNames, string(part))
		}
	}

	lookup := chunkData[chunkOIDLookup]
	oidSize := gkhash.Size(format)
	count := len(lookup) / oidSize

	offsets := chunkData[chunkObjOffsets]
	entries := make([]MultiEntry, 0, count)
	for i := 0; i < count; i++ {
		oidBytes := lookup[i*oidSize : (i+1)*oidSize]
		o, ok := gkhash.FromBytes(format, oidBytes)
		if !ok {
			return nil, fmt.Errorf("midx: malformed oid at entry %d", i)
		}
		rec := offsets[i*8 : i*8+8]
		packIdx := binary.BigEndian.Uint32(rec[0:4])
		off := binary.BigEndian.Uint32(rec[4:8])
		entries = append(entries, MultiEntry{OID: o, PackIdx: int(packIdx), Offset: int64(off)})
	}

	_ = numPacks
	return &MultiPackIndex{PackNames: packNames, Entries: entries}, nil
}

// FindOffset does a binary search for oid across every pack covered by
// the multi-pack-index.
func (m *MultiPackIndex) FindOffset(oid gkhash.OID) (packName string, offset int64, ok bool) {
	n := len(m.Entries)
	i := sort.Search(n, func(i int) bool { return m.Entries[i].OID.Compare(oid) >= 0 })
	if i < n && m.Entries[i].OID.Equal(oid) {
		e := m.Entries[i]
		return m.PackNames[e.PackIdx], e.Offset, true
	}
	return "", 0, false
}

func hashVersionByte(f gkhash.Format) byte {
	if f == gkhash.FormatSHA256 {
		return 2
	}
	return 1
}

func writeU64AsTwoU32(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU64FromTwoU32(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
