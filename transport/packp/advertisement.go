// Package packp implements the pkt-line payload grammars of git's
// smart-http/ssh wire protocol: ref advertisement (v1 and v2),
// want/have negotiation lines, and ACK/NAK parsing. See specification
// §4.7.
package packp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/pktline"
	"github.com/grahambrooks/gitkit/transport/capability"
)

// ProtocolVersion distinguishes the two ref-discovery grammars.
type ProtocolVersion int

const (
	ProtocolV1 ProtocolVersion = 1
	ProtocolV2 ProtocolVersion = 2
)

// Ref is one advertised reference.
type Ref struct {
	Name         string
	OID          hash.OID
	SymrefTarget string // non-empty if this ref is advertised as a symref
	Peeled       hash.OID
}

// Advertisement is the parsed result of ref discovery.
type Advertisement struct {
	Version      ProtocolVersion
	Refs         []Ref
	Capabilities *capability.List
}

// ParseAdvertisement reads the info/refs response body. If the first
// non-empty data pkt-line equals "version 2", it is parsed as v2
// (capability=value lines terminated by a flush, possibly followed by
// ref lines from a subsequent command); otherwise v1 (first line is
// "<oid> <name>\0<capabilities>", subsequent lines "<oid> <name>").
func ParseAdvertisement(r io.Reader) (*Advertisement, error) {
	s := pktline.NewScanner(bufio.NewReader(r))

	var firstLine []byte
	for s.Scan() {
		if s.Kind() == pktline.Data {
			firstLine = append([]byte(nil), s.Bytes()...)
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("packp: reading advertisement: %w", err)
	}
	if firstLine == nil {
		return &Advertisement{Version: ProtocolV1, Capabilities: capability.New()}, nil
	}

	if strings.TrimSpace(string(firstLine)) == "version 2" {
		return parseV2(s)
	}
	return parseV1(firstLine, s)
}

func parseV1(firstLine []byte, s *pktline.Scanner) (*Advertisement, error) {
	line := string(bytes.TrimRight(firstLine, "\n"))

	var caps *capability.List
	oidStr, rest, ok := cutSpace(line)
	if !ok {
		return nil, fmt.Errorf("packp: malformed v1 first ref line %q", line)
	}
	name := rest
	if nul := strings.IndexByte(rest, 0); nul >= 0 {
		name = rest[:nul]
		caps = capability.Parse(rest[nul+1:])
	} else {
		caps = capability.New()
	}

	adv := &Advertisement{Version: ProtocolV1, Capabilities: caps}
	if name != "capabilities^{}" {
		oid, ok := hash.FromHex(oidStr)
		if !ok {
			return nil, fmt.Errorf("packp: malformed oid %q", oidStr)
		}
		adv.Refs = append(adv.Refs, Ref{Name: name, OID: oid})
	}

	for s.Scan() {
		if s.Kind() != pktline.Data {
			continue
		}
		line := string(bytes.TrimRight(s.Bytes(), "\n"))
		oidStr, name, ok := cutSpace(line)
		if !ok {
			continue
		}
		if name == "capabilities^{}" {
			continue
		}
		oid, ok := hash.FromHex(oidStr)
		if !ok {
			return nil, fmt.Errorf("packp: malformed oid %q", oidStr)
		}
		adv.Refs = append(adv.Refs, Ref{Name: name, OID: oid})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	inferSymrefsFromHead(adv)
	return adv, nil
}

// inferSymrefsFromHead implements v1's HEAD-symref inference: HEAD's
// target is the first non-HEAD ref whose OID matches HEAD's.
func inferSymrefsFromHead(adv *Advertisement) {
	var head *Ref
	for i := range adv.Refs {
		if adv.Refs[i].Name == "HEAD" {
			head = &adv.Refs[i]
			break
		}
	}
	if head == nil {
		return
	}
	for i := range adv.Refs {
		r := &adv.Refs[i]
		if r.Name != "HEAD" && r.OID.Equal(head.OID) {
			head.SymrefTarget = r.Name
			return
		}
	}
}

func parseV2(s *pktline.Scanner) (*Advertisement, error) {
	caps := capability.New()
	for s.Scan() {
		if s.Kind() == pktline.Flush {
			break
		}
		if s.Kind() != pktline.Data {
			continue
		}
		line := strings.TrimRight(string(s.Bytes()), "\n")
		if eq := strings.IndexByte(line, '='); eq >= 0 {
			caps.Set(line[:eq], line[eq+1:])
		} else {
			caps.Set(line, "")
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &Advertisement{Version: ProtocolV2, Capabilities: caps}, nil
}

// ParseLsRefsResponse parses the ref list returned by a v2
// "command=ls-refs" request: lines "<oid> <name> [symref-target:<t>]
// [peeled:<oid>]", flush-terminated.
func ParseLsRefsResponse(r io.Reader) ([]Ref, error) {
	s := pktline.NewScanner(bufio.NewReader(r))
	var refs []Ref
	for s.Scan() {
		if s.Kind() == pktline.Flush {
			break
		}
		if s.Kind() != pktline.Data {
			continue
		}
		line := strings.TrimRight(string(s.Bytes()), "\n")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		oid, ok := hash.FromHex(fields[0])
		if !ok {
			return nil, fmt.Errorf("packp: malformed ls-refs oid %q", fields[0])
		}
		ref := Ref{Name: fields[1], OID: oid}
		for _, extra := range fields[2:] {
			switch {
			case strings.HasPrefix(extra, "symref-target:"):
				ref.SymrefTarget = strings.TrimPrefix(extra, "symref-target:")
			case strings.HasPrefix(extra, "peeled:"):
				if p, ok := hash.FromHex(strings.TrimPrefix(extra, "peeled:")); ok {
					ref.Peeled = p
				}
			}
		}
		refs = append(refs, ref)
	}
	return refs, s.Err()
}

func cutSpace(s string) (before, after string, ok bool) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
