// Package objfile implements the loose object on-disk format: a
// zlib-deflated "<type> <size>\0<payload>" byte stream, stored at
// objects/<2-hex>/<remaining-hex>. This is also the canonical form
// hashed to produce an object's OID (§3 of the specification).
package objfile

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"io"
	"strconv"
)

// Type names the four object kinds that may be wrapped.
type Type string

const (
	TypeBlob   Type = "blob"
	TypeTree   Type = "tree"
	TypeCommit Type = "commit"
	TypeTag    Type = "tag"
)

// Header renders the canonical header for the given type and size;
// this, followed by the raw payload, is exactly what gets hashed and
// deflated.
func Header(t Type, size int64) []byte {
	return []byte(fmt.Sprintf("%s %d\x00", t, size))
}

// Wrap writes the canonical wrapped form of (t, payload) to w, zlib
// deflated, and returns len(payload), the uncompressed payload size.
func Wrap(w io.Writer, t Type, payload []byte) (int64, error) {
	zw := zlib.NewWriter(w)
	if _, err := zw.Write(Header(t, int64(len(payload)))); err != nil {
		return 0, err
	}
	if _, err := zw.Write(payload); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return int64(len(payload)), nil
}

// Unwrap inflates r and parses the canonical header, returning the
// object's type, declared size, and a reader positioned at the start
// of the payload. The caller must read exactly size bytes (or use
// io.ReadAll) from payload; Unwrap returns no closer.
func Unwrap(r io.Reader) (t Type, size int64, payload io.Reader, err error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return "", 0, nil, fmt.Errorf("objfile: zlib: %w", err)
	}
	br := bufio.NewReader(zr)

	typ, err := br.ReadString(' ')
	if err != nil {
		return "", 0, nil, fmt.Errorf("objfile: malformed header: %w", err)
	}
	typ = typ[:len(typ)-1]

	sizeStr, err := br.ReadString(0)
	if err != nil {
		return "", 0, nil, fmt.Errorf("objfile: malformed header: %w", err)
	}
	sizeStr = sizeStr[:len(sizeStr)-1]

	n, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return "", 0, nil, fmt.Errorf("objfile: malformed size %q: %w", sizeStr, err)
	}

	return Type(typ), n, io.LimitReader(br, n), nil
}

// ReadAll inflates r and returns the fully-read (type, payload),
// verifying the payload matches the declared size exactly.
func ReadAll(r io.Reader) (Type, []byte, error) {
	t, size, payload, err := Unwrap(r)
	if err != nil {
		return "", nil, err
	}
	b, err := io.ReadAll(payload)
	if err != nil {
		return "", nil, err
	}
	if int64(len(b)) != size {
		return "", nil, fmt.Errorf("objfile: declared size %d does not match payload length %d", size, len(b))
	}
	return t, b, nil
}
