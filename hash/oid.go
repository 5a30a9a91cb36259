package hash

import (
	"bytes"
	"fmt"
)

// OID is the content-addressed identifier of an object: the digest of
// its canonical wrapped form "<type> <size>\0<payload>". An OID is
// immutable and comparable by value.
type OID struct {
	format Format
	bytes  [SHA256Size]byte
}

// ZeroOID returns the all-zero id for a format, used as a sentinel for
// "no object" in ref and index plumbing (e.g. the old side of a create).
func ZeroOID(f Format) OID {
	return OID{format: f}
}

// EmptyTreeSHA1Hex is the hex form of the well-known id of the empty
// tree under SHA-1.
// Implementations must recognize it without the object existing on disk.
const EmptyTreeSHA1Hex = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// EmptyTree returns the id of the empty tree for the given format. Only
// the SHA-1 constant is standardized by git; for SHA-256 repositories
// it is computed on each call.
func EmptyTree(f Format) OID {
	if f == FormatSHA1 {
		o, _ := FromHex(EmptyTreeSHA1Hex)
		return o
	}
	h, err := New(f)
	if err != nil {
		return ZeroOID(f)
	}
	h.Write([]byte(fmt.Sprintf("tree 0\x00")))
	o, _ := FromBytes(f, h.Sum(nil))
	return o
}

// Format reports which hash algorithm produced this id.
func (o OID) Format() Format { return o.format }

// IsZero reports whether o is the all-zero sentinel for its format.
func (o OID) IsZero() bool {
	n := Size(o.format)
	for i := 0; i < n; i++ {
		if o.bytes[i] != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the raw digest bytes (length Size(o.Format())).
func (o OID) Bytes() []byte {
	n := Size(o.format)
	out := make([]byte, n)
	copy(out, o.bytes[:n])
	return out
}

// String returns the lower-case hex encoding of the id.
func (o OID) String() string {
	if o.format == FormatUnset {
		return ""
	}
	return EncodeHex(o.Bytes())
}

// Compare orders two ids by their raw bytes; ids of different formats
// compare by format name first so a mixed slice still sorts total.
func (o OID) Compare(other OID) int {
	if o.format != other.format {
		if o.format < other.format {
			return -1
		}
		return 1
	}
	return bytes.Compare(o.Bytes(), other.Bytes())
}

// Equal reports byte-for-byte equality including format.
func (o OID) Equal(other OID) bool {
	return o.format == other.format && bytes.Equal(o.Bytes(), other.Bytes())
}

// FromHex parses a 40 or 64 character hex string, inferring the object
// format from its length.
func FromHex(in string) (OID, bool) {
	f, ok := FormatFromHexLen(len(in))
	if !ok {
		return OID{}, false
	}
	b, err := DecodeHex(in)
	if err != nil {
		return OID{}, false
	}
	return FromBytes(f, b)
}

// MustFromHex is FromHex but panics on malformed input; useful for
// constants in tests.
func MustFromHex(in string) OID {
	o, ok := FromHex(in)
	if !ok {
		panic("hash: invalid hex oid " + in)
	}
	return o
}

// FromBytes builds an OID of format f from raw digest bytes. It reports
// false when len(in) is not Size(f).
func FromBytes(f Format, in []byte) (OID, bool) {
	if len(in) != Size(f) {
		return OID{}, false
	}
	var o OID
	o.format = f
	copy(o.bytes[:], in)
	return o, true
}

// FromRawBytes infers the object format from the slice length (20 =>
// sha1, 32 => sha256) and builds an OID from it.
func FromRawBytes(in []byte) (OID, bool) {
	switch len(in) {
	case SHA1Size:
		return FromBytes(FormatSHA1, in)
	case SHA256Size:
		return FromBytes(FormatSHA256, in)
	default:
		return OID{}, false
	}
}
