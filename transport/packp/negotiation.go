package packp

import (
	"fmt"
	"io"
	"strings"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/pktline"
	"github.com/grahambrooks/gitkit/transport/capability"
)

// UploadPackRequest is the set of wants/haves sent to negotiate a
// fetch, per specification §4.7's "Negotiate" state.
type UploadPackRequest struct {
	Wants        []hash.OID
	Haves        []hash.OID
	Done         bool
	Capabilities *capability.List // v1: sent on the first want line; v2: sent as capability lines
	Depth        int              // shallow clone depth; 0 means unbounded
	// FilterSpec, if non-empty, requests a partial clone (e.g. "blob:none"),
	// sent as its own "filter <spec>" argument line. Only meaningful when
	// the advertisement negotiated the "filter" capability.
	FilterSpec string
}

// WriteV1 writes the request in protocol v1 form: one "want" line per
// wanted OID (capabilities trailing the first), optional "deepen" and
// "filter" lines, a flush, the "have" lines, and then a "done" line if
// Done is set or a flush otherwise.
func (r *UploadPackRequest) WriteV1(w io.Writer) error {
	pw := pktline.NewWriter(w)
	for i, want := range r.Wants {
		line := "want " + want.String()
		if i == 0 && r.Capabilities != nil && len(r.Capabilities.Names()) > 0 {
			line += " " + r.Capabilities.String()
		}
		if err := pw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	if r.Depth > 0 {
		if err := pw.WriteString(fmt.Sprintf("deepen %d\n", r.Depth)); err != nil {
			return err
		}
	}
	if r.FilterSpec != "" {
		if err := pw.WriteString("filter " + r.FilterSpec + "\n"); err != nil {
			return err
		}
	}
	if err := pw.Flush(); err != nil {
		return err
	}
	for _, have := range r.Haves {
		if err := pw.WriteString("have " + have.String() + "\n"); err != nil {
			return err
		}
	}
	if r.Done {
		if err := pw.WriteString("done\n"); err != nil {
			return err
		}
	} else {
		if err := pw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// WriteV2 writes the request as a v2 "command=fetch" request: the
// command line, capability-argument lines, a delimiter, then
// want/have/done argument lines, then a flush.
func (r *UploadPackRequest) WriteV2(w io.Writer) error {
	pw := pktline.NewWriter(w)
	if err := pw.WriteString("command=fetch\n"); err != nil {
		return err
	}
	if r.Capabilities != nil {
		for _, name := range r.Capabilities.Names() {
			v, _ := r.Capabilities.Get(name)
			line := name
			if v != "" {
				line += "=" + v
			}
			if err := pw.WriteString(line + "\n"); err != nil {
				return err
			}
		}
	}
	if err := pw.Delim(); err != nil {
		return err
	}
	for _, want := range r.Wants {
		if err := pw.WriteString("want " + want.String() + "\n"); err != nil {
			return err
		}
	}
	for _, have := range r.Haves {
		if err := pw.WriteString("have " + have.String() + "\n"); err != nil {
			return err
		}
	}
	if r.Depth > 0 {
		if err := pw.WriteString(fmt.Sprintf("deepen %d\n", r.Depth)); err != nil {
			return err
		}
	}
	if r.FilterSpec != "" {
		if err := pw.WriteString("filter " + r.FilterSpec + "\n"); err != nil {
			return err
		}
	}
	if r.Done {
		if err := pw.WriteString("done\n"); err != nil {
			return err
		}
	}
	return pw.Flush()
}

// AckStatus is the outcome of one round of have negotiation.
type AckStatus int

const (
	AckContinue AckStatus = iota
	AckReady
	AckNak
)

// AckResponse is one parsed ACK/NAK line.
type AckResponse struct {
	Status AckStatus
	OID    hash.OID
}

// ParseAckNak reads ACK/NAK lines until a flush, a delimiter, a final
// "ACK <oid>" without a status word, or a v2 "packfile" section header
// (the caller positions the reader at the start of the pack itself in
// that case and should stop calling this once ParseAckNak reports
// done). A raw "PACK" stream without pkt-line framing is not
// recognised; its first bytes are read as a pkt-line length header.
//
// r is read through directly, not via a bufio.Reader: pktline.Scanner
// only ever reads the exact byte count a frame's length prefix
// declares, so wrapping it in a buffering reader would risk pulling
// pack bytes that follow the ACK/NAK section into a buffer this
// function discards on return, silently truncating the pack a caller
// reads next from the same r.
func ParseAckNak(r io.Reader) (acks []AckResponse, done bool, err error) {
	s := pktline.NewScanner(r)
	for s.Scan() {
		switch s.Kind() {
		case pktline.Flush:
			return acks, false, nil
		case pktline.Delim:
			return acks, true, nil
		case pktline.Data:
			line := strings.TrimRight(string(s.Bytes()), "\n")
			if line == "NAK" {
				acks = append(acks, AckResponse{Status: AckNak})
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == "ACK" {
				oid, ok := hash.FromHex(fields[1])
				if !ok {
					return acks, false, fmt.Errorf("packp: malformed ACK oid %q", fields[1])
				}
				status := AckContinue
				if len(fields) >= 3 && fields[2] == "ready" {
					status = AckReady
				}
				ack := AckResponse{Status: status, OID: oid}
				acks = append(acks, ack)
				if len(fields) == 2 {
					// multi_ack-less final ACK: negotiation is over,
					// the pack stream follows immediately.
					return acks, true, nil
				}
				continue
			}
			if line == "packfile" {
				return acks, true, nil
			}
		}
	}
	return acks, true, s.Err()
}

// ShallowUpdate lists the shallow-boundary changes a server reports in
// response to a "deepen" request, per git's pack protocol shallow
// extension: "shallow <oid>" names a new boundary commit (its parents
// were not sent), "unshallow <oid>" names a commit the client already
// held as a boundary that the new depth has exposed the parents of.
type ShallowUpdate struct {
	Shallow   []hash.OID
	Unshallow []hash.OID
}

// ParseShallowUpdate reads shallow/unshallow lines up to the
// terminating flush. Callers invoke this only when the request carried
// Depth>0, immediately before ParseAckNak, since a depth-bounded
// request's response always sends this section first.
//
// This covers protocol v1's shallow-info framing (flush-terminated).
// Protocol v2 instead wraps the same lines in a delim-terminated
// "shallow-info" section ahead of "acknowledgments"; a v2 caller using
// Depth>0 would need a section-aware variant this module does not yet
// implement, so v2 shallow fetches currently see an empty ShallowUpdate
// rather than a parse error.
func ParseShallowUpdate(r io.Reader) (ShallowUpdate, error) {
	var up ShallowUpdate
	s := pktline.NewScanner(r)
	for s.Scan() {
		switch s.Kind() {
		case pktline.Flush:
			return up, nil
		case pktline.Data:
			line := strings.TrimRight(string(s.Bytes()), "\n")
			fields := strings.Fields(line)
			if len(fields) != 2 {
				continue
			}
			oid, ok := hash.FromHex(fields[1])
			if !ok {
				return up, fmt.Errorf("packp: malformed %s oid %q", fields[0], fields[1])
			}
			switch fields[0] {
			case "shallow":
				up.Shallow = append(up.Shallow, oid)
			case "unshallow":
				up.Unshallow = append(up.Unshallow, oid)
			}
		}
	}
	return up, s.Err()
}
