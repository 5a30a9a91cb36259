package packfile

import (
	"compress/zlib"
	"io"

	gkhash "github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/varint"
)

// Encoder writes a packfile: header, one entry per Put call, and
// finally a trailing digest of everything written. It never emits
// deltas (BuildOFSDelta is a separate helper and its deltas are
// literal-only, so no smaller than the object);
// every object is stored whole, which keeps the encoder a straight
// line and is always a valid pack.
type Encoder struct {
	w      *runningHash
	format gkhash.Format
	count  uint32
	wrote  uint32
	err    error
}

// NewEncoder prepares an Encoder that will write numObjects entries to
// w, then a trailing digest computed in the given hash format.
func NewEncoder(w io.Writer, format gkhash.Format, numObjects uint32) (*Encoder, error) {
	h, err := gkhash.New(format)
	if err != nil {
		return nil, err
	}
	rh := newRunningHash(w, h)
	if err := WriteHeader(rh, numObjects); err != nil {
		return nil, err
	}
	return &Encoder{w: rh, format: format, count: numObjects}, nil
}

// Put writes one whole (non-delta) object entry.
func (e *Encoder) Put(t ObjType, data []byte) error {
	if e.err != nil {
		return e.err
	}
	if e.wrote >= e.count {
		e.err = io.ErrShortWrite
		return e.err
	}
	if _, err := e.w.Write(varint.EncodeObjectHeader(int(t), int64(len(data)))); err != nil {
		e.err = err
		return err
	}
	zw := zlib.NewWriter(e.w)
	if _, err := zw.Write(data); err != nil {
		e.err = err
		return err
	}
	if err := zw.Close(); err != nil {
		e.err = err
		return err
	}
	e.wrote++
	return nil
}

// Close writes the trailing checksum over every byte written so far.
// It is an error to Close before Put has been called count times.
func (e *Encoder) Close() error {
	if e.err != nil {
		return e.err
	}
	if e.wrote != e.count {
		return io.ErrShortWrite
	}
	_, err := e.w.w.Write(e.w.h.Sum(nil))
	return err
}
