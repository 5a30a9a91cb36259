// Package packfile implements the packfile binary format: the four
// byte "PACK" header, per-object headers (type + variable-length
// size), zlib-deflated payloads, and ofs-delta/ref-delta resolution.
// See specification §3 "Packfile" and §4.1 "Pack-file parsing".
package packfile

import (
	"bufio"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	gkhash "github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/varint"
)

// ObjType is a pack object's type tag, distinct from objfile.Type
// because packs additionally carry the two delta kinds.
type ObjType int

const (
	TypeInvalid  ObjType = 0
	TypeCommit   ObjType = 1
	TypeTree     ObjType = 2
	TypeBlob     ObjType = 3
	TypeTag      ObjType = 4
	_reserved5   ObjType = 5
	TypeOFSDelta ObjType = 6
	TypeRefDelta ObjType = 7
)

func (t ObjType) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	case TypeOFSDelta:
		return "ofs-delta"
	case TypeRefDelta:
		return "ref-delta"
	default:
		return "invalid"
	}
}

// IsDelta reports whether t is one of the two delta encodings.
func (t ObjType) IsDelta() bool { return t == TypeOFSDelta || t == TypeRefDelta }

// Magic is the 4-byte literal that opens every packfile.
const Magic = "PACK"

// SupportedVersion is the only pack version this module parses.
const SupportedVersion = 2

// Header is the packfile preamble: "PACK" + version + object count.
type Header struct {
	Version    uint32
	ObjectsLen uint32
}

// ErrUnsupportedVersion is returned by ReadHeader for any version != 2.
type ErrUnsupportedVersion struct{ Version uint32 }

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("packfile: unsupported version %d", e.Version)
}

// ErrCorrupt reports a structural defect at a given byte offset.
type ErrCorrupt struct {
	Reason string
	Offset int64
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("packfile: corrupt at offset %d: %s", e.Offset, e.Reason)
}

// ReadHeader parses the 12-byte packfile preamble.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [12]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("packfile: reading header: %w", err)
	}
	if string(buf[:4]) != Magic {
		return Header{}, &ErrCorrupt{Reason: "bad magic", Offset: 0}
	}
	h := Header{
		Version:    binary.BigEndian.Uint32(buf[4:8]),
		ObjectsLen: binary.BigEndian.Uint32(buf[8:12]),
	}
	if h.Version != SupportedVersion {
		return h, &ErrUnsupportedVersion{Version: h.Version}
	}
	return h, nil
}

// WriteHeader writes the 12-byte packfile preamble.
func WriteHeader(w io.Writer, numObjects uint32) error {
	var buf [12]byte
	copy(buf[:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], SupportedVersion)
	binary.BigEndian.PutUint32(buf[8:12], numObjects)
	_, err := w.Write(buf[:])
	return err
}

// RawEntry is one undigested entry as it appears on the wire: its
// start offset, type, declared inflated size, and (for deltas) base
// reference, and its inflated data.
type RawEntry struct {
	Offset     int64
	Type       ObjType
	Size       int64
	BaseOffset int64       // valid iff Type == TypeOFSDelta; absolute pack offset of the base entry
	BaseOID    gkhash.OID  // valid iff Type == TypeRefDelta
	Data       []byte      // inflated payload: the object itself, or the delta instruction stream
}

// countingReader tracks the running byte offset of the pack stream so
// RawEntry.Offset is exact even though zlib.Reader doesn't expose it.
type countingReader struct {
	r   *bufio.Reader
	n   int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// Scanner walks a pack's entries in on-disk order, inflating each
// payload as it goes. It does not resolve deltas; see Reader for that.
type Scanner struct {
	cr      *countingReader
	remain  uint32
	baseOff int64 // offset of the current entry, relative to the whole file (after the 12-byte header, caller supplies the initial bias)
}

// NewScanner constructs a Scanner over r, which must be positioned
// immediately after the 12-byte pack header. headerOffset is the
// number of bytes already consumed (normally 12), used so RawEntry.Offset
// is relative to the start of the file, matching .idx offsets.
func NewScanner(r io.Reader, numObjects uint32, headerOffset int64) *Scanner {
	return &Scanner{
		cr:      &countingReader{r: bufio.NewReader(r)},
		remain:  numObjects,
		baseOff: headerOffset,
	}
}

// Next returns the next entry, or io.EOF once all objects declared in
// the header have been consumed.
func (s *Scanner) Next() (RawEntry, error) {
	if s.remain == 0 {
		return RawEntry{}, io.EOF
	}
	s.remain--

	start := s.baseOff + s.cr.n
	entry := RawEntry{Offset: start}

	first, err := s.cr.ReadByte()
	if err != nil {
		return RawEntry{}, fmt.Errorf("packfile: reading object header: %w", err)
	}
	objType := int((first >> 4) & 0x7)
	size := int64(first & 0x0f)
	shift := uint(4)
	for first&0x80 != 0 {
		first, err = s.cr.ReadByte()
		if err != nil {
			return RawEntry{}, fmt.Errorf("packfile: reading object header: %w", err)
		}
		size |= int64(first&0x7f) << shift
		shift += 7
	}
	entry.Type = ObjType(objType)
	entry.Size = size

	switch entry.Type {
	case TypeOFSDelta:
		off, err := readVarOffset(s.cr)
		if err != nil {
			return RawEntry{}, err
		}
		entry.BaseOffset = entry.Offset - off
	case TypeRefDelta:
		var raw [20]byte
		if _, err := io.ReadFull(s.cr, raw[:]); err != nil {
			return RawEntry{}, fmt.Errorf("packfile: reading ref-delta base: %w", err)
		}
		oid, ok := gkhash.FromBytes(gkhash.FormatSHA1, raw[:])
		if !ok {
			return RawEntry{}, &ErrCorrupt{Reason: "bad ref-delta base", Offset: entry.Offset}
		}
		entry.BaseOID = oid
	}

	zr, err := zlib.NewReader(s.cr)
	if err != nil {
		return RawEntry{}, fmt.Errorf("packfile: inflating entry at %d: %w", entry.Offset, err)
	}
	defer zr.Close()
	data := make([]byte, size)
	if _, err := io.ReadFull(zr, data); err != nil {
		return RawEntry{}, fmt.Errorf("packfile: short inflate at %d: %w", entry.Offset, err)
	}
	entry.Data = data

	return entry, nil
}

// readVarOffset mirrors varint.DecodeOffset but reads byte-by-byte from
// a stream rather than a pre-sliced buffer, since the encoded length is
// not known up front.
func readVarOffset(r io.ByteReader) (int64, error) {
	c, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	offset := int64(c & 0x7f)
	for c&0x80 != 0 {
		c, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		offset = ((offset + 1) << 7) | int64(c&0x7f)
	}
	return offset, nil
}

var _ = varint.DecodeOffset // keep the shared codec imported for documentation/symmetry

// TrailerSize is the length of the trailing checksum appended to every
// packfile (a digest over all preceding bytes, in the pack's hash
// format).
func TrailerSize(f gkhash.Format) int { return gkhash.Size(f) }

// VerifyTrailer re-hashes all bytes preceding the trailer and compares
// it against the trailing digest, per invariant 7: "the trailing SHA
// equals the digest of all preceding bytes".
func VerifyTrailer(f gkhash.Format, allBytesExceptTrailer []byte, trailer []byte) error {
	h, err := gkhash.New(f)
	if err != nil {
		return err
	}
	h.Write(allBytesExceptTrailer)
	sum := h.Sum(nil)
	for i := range sum {
		if sum[i] != trailer[i] {
			return &ErrCorrupt{Reason: "trailing checksum mismatch"}
		}
	}
	return nil
}

// runningHash wraps a hash.Hash and an io.Writer so an encoder can
// compute the trailer while streaming objects out.
type runningHash struct {
	w io.Writer
	h hash.Hash
}

func newRunningHash(w io.Writer, h hash.Hash) *runningHash { return &runningHash{w: w, h: h} }

func (r *runningHash) Write(p []byte) (int, error) {
	r.h.Write(p)
	return r.w.Write(p)
}
