package pktline

import (
	"fmt"
	"io"
)

// Channel identifies a side-band multiplexed stream. Byte 0 of every
// side-band payload is the channel; the remaining bytes are the
// channel's content.
type Channel byte

const (
	// ChannelPack carries packfile bytes.
	ChannelPack Channel = 1
	// ChannelProgress carries human-readable progress text.
	ChannelProgress Channel = 2
	// ChannelError carries a fatal error message; its arrival
	// terminates the whole multiplexed session.
	ChannelError Channel = 3
)

// MaxPayload64k is the largest per-frame payload under the
// side-band-64k capability (65515 = 65520 - 4 length bytes - 1 channel
// byte). MaxPayload is the equivalent for plain side-band.
const (
	MaxPayload64k = MaxPayloadSize - 1
	MaxPayload    = 999 - 1
)

// Sinks receive demultiplexed side-band data. Progress and Error are
// optional (nil is a valid no-op sink); Pack must be supplied whenever
// a pack stream is anticipated.
type Sinks struct {
	Pack     io.Writer
	Progress io.Writer
	Error    io.Writer
}

// ErrSideBand wraps a message received on the error channel (channel
// 3). Its arrival terminates the demultiplexing loop for every
// downstream consumer.
type ErrSideBand struct {
	Message string
}

func (e *ErrSideBand) Error() string { return "pktline: remote error: " + e.Message }

// Demux reads pkt-lines from r until a flush or EOF, routing each
// frame's payload to the sink matching its first byte. A frame with no
// side-band byte (used when the server did not negotiate side-band at
// all) is treated as pack data, matching plain non-multiplexed
// transport.
func Demux(r io.Reader, sinks Sinks) error {
	s := NewScanner(r)
	for s.Scan() {
		switch s.Kind() {
		case Flush:
			return nil
		case Data:
			b := s.Bytes()
			if len(b) == 0 {
				continue
			}
			ch := Channel(b[0])
			payload := b[1:]
			switch ch {
			case ChannelPack:
				if sinks.Pack != nil {
					if _, err := sinks.Pack.Write(payload); err != nil {
						return err
					}
				}
			case ChannelProgress:
				if sinks.Progress != nil {
					if _, err := sinks.Progress.Write(payload); err != nil {
						return err
					}
				}
			case ChannelError:
				if sinks.Error != nil {
					_, _ = sinks.Error.Write(payload)
				}
				return &ErrSideBand{Message: string(payload)}
			default:
				// No recognized side-band byte: treat the whole frame
				// as unmultiplexed pack data.
				if sinks.Pack != nil {
					if _, err := sinks.Pack.Write(b); err != nil {
						return err
					}
				}
			}
		}
	}
	return s.Err()
}

// Muxer writes side-band-multiplexed pkt-lines to an underlying
// pkt-line Writer, splitting payloads to fit the negotiated maximum
// frame size.
type Muxer struct {
	w          *Writer
	maxPayload int
	sawPack    bool
}

// NewMuxer wraps w, multiplexing at the given maximum *channel*
// payload size (MaxPayload64k or MaxPayload, per the negotiated
// capability).
func NewMuxer(w *Writer, maxPayload int) *Muxer {
	return &Muxer{w: w, maxPayload: maxPayload}
}

// WritePack multiplexes b onto channel 1, chunking as needed.
func (m *Muxer) WritePack(b []byte) error {
	m.sawPack = true
	return m.write(ChannelPack, b)
}

// WriteProgress multiplexes b onto channel 2.
func (m *Muxer) WriteProgress(b []byte) error {
	return m.write(ChannelProgress, b)
}

// WriteError multiplexes b onto channel 3.
func (m *Muxer) WriteError(b []byte) error {
	return m.write(ChannelError, b)
}

func (m *Muxer) write(ch Channel, b []byte) error {
	for len(b) > 0 {
		n := len(b)
		if n > m.maxPayload {
			n = m.maxPayload
		}
		frame := make([]byte, n+1)
		frame[0] = byte(ch)
		copy(frame[1:], b[:n])
		if err := m.w.WriteData(frame); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Close appends the packfile goodbye (a single LF on channel 1) iff
// any packfile bytes were ever forwarded, then flushes the stream.
func (m *Muxer) Close() error {
	if m.sawPack {
		if err := m.write(ChannelPack, []byte("\n")); err != nil {
			return err
		}
	}
	return m.w.Flush()
}

// ValidateMaxPayload reports an error if maxPayload is not one of the
// two standard side-band frame budgets.
func ValidateMaxPayload(maxPayload int) error {
	if maxPayload != MaxPayload64k && maxPayload != MaxPayload {
		return fmt.Errorf("pktline: unsupported side-band payload size %d", maxPayload)
	}
	return nil
}
