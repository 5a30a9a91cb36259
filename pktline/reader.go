package pktline

import (
	"encoding/hex"
	"io"
)

// Scanner reads successive pkt-line frames from an underlying reader,
// exposing the kind of frame and, for Data frames, the payload bytes.
// It follows the bufio.Scanner idiom: call Scan in a loop, then
// inspect Kind/Bytes.
type Scanner struct {
	r       io.Reader
	kind    FrameKind
	payload []byte
	err     error
	lenBuf  [4]byte
}

// NewScanner wraps r as a pkt-line Scanner.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r}
}

// Err returns the first non-EOF error encountered, if any.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// Kind reports the kind of the most recently scanned frame.
func (s *Scanner) Kind() FrameKind { return s.kind }

// Bytes returns the payload of the most recently scanned Data frame.
// The slice is only valid until the next call to Scan.
func (s *Scanner) Bytes() []byte { return s.payload }

// Scan advances to the next frame, returning false at EOF or on error.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}
	if _, err := io.ReadFull(s.r, s.lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = ErrInvalidPktLen
		}
		s.err = err
		return false
	}

	length, err := parseLength(s.lenBuf)
	if err != nil {
		s.err = err
		return false
	}

	switch length {
	case 0:
		s.kind = Flush
		s.payload = nil
		return true
	case 1:
		s.kind = Delim
		s.payload = nil
		return true
	case 2:
		s.kind = ResponseEnd
		s.payload = nil
		return true
	}

	if length < 4 {
		s.err = ErrInvalidPktLen
		return false
	}

	buf := make([]byte, length-4)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		s.err = err
		return false
	}
	s.kind = Data
	s.payload = buf
	return true
}

func parseLength(b [4]byte) (int, error) {
	var dst [2]byte
	n, err := hex.Decode(dst[:], b[:])
	if err != nil || n != 2 {
		return 0, ErrInvalidPktLen
	}
	length := int(dst[0])<<8 | int(dst[1])
	if length > MaxLength {
		return 0, ErrInvalidPktLen
	}
	return length, nil
}

// ReadAll drains the scanner until a Flush frame (exclusive) or EOF,
// collecting every Data payload in order. It is a convenience for
// callers that don't need incremental streaming (e.g. decoding a
// complete ref advertisement).
func ReadAll(r io.Reader) ([][]byte, error) {
	s := NewScanner(r)
	var out [][]byte
	for s.Scan() {
		if s.Kind() == Flush {
			return out, nil
		}
		if s.Kind() == Data {
			cp := append([]byte(nil), s.Bytes()...)
			out = append(out, cp)
		}
	}
	return out, s.Err()
}
