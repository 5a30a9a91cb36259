package pktline

import (
	"fmt"
	"io"
)

// Writer frames payloads as pkt-lines onto an underlying io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w as a pkt-line Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteData frames payload as a single data pkt-line. An empty slice
// still produces a 4-byte-length frame carrying zero payload bytes
// (distinct from Flush).
func (e *Writer) WriteData(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLong
	}
	length := len(payload) + 4
	if _, err := fmt.Fprintf(e.w, "%04x", length); err != nil {
		return err
	}
	_, err := e.w.Write(payload)
	return err
}

// WriteString is a convenience wrapper over WriteData.
func (e *Writer) WriteString(s string) error {
	return e.WriteData([]byte(s))
}

// Flush writes the flush-pkt ("0000").
func (e *Writer) Flush() error {
	_, err := io.WriteString(e.w, flushPkt)
	return err
}

// Delim writes the delim-pkt ("0001"), used in protocol v2 to separate
// command sections.
func (e *Writer) Delim() error {
	_, err := io.WriteString(e.w, delimPkt)
	return err
}

// ResponseEnd writes the response-end-pkt ("0002"), used in protocol
// v2 to terminate a whole response.
func (e *Writer) ResponseEnd() error {
	_, err := io.WriteString(e.w, responseEndPkt)
	return err
}
