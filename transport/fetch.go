// Package transport drives the client side of the smart HTTP/SSH fetch
// protocol described in specification §4.7: an explicit state machine
// (Init -> Discover -> Negotiate -> Receive -> Index -> Done) that
// turns a Roundtripper's raw byte streams into objects and updated
// refs in a repository's object store and ref store.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"

	gkhash "github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/idx"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/packfile"
	"github.com/grahambrooks/gitkit/pktline"
	"github.com/grahambrooks/gitkit/transport/capability"
	"github.com/grahambrooks/gitkit/transport/packp"
)

// State names the fetch state machine's position, exposed for
// observability (logging/progress reporting) per specification §9.
type State int

const (
	StateInit State = iota
	StateDiscover
	StateNegotiate
	StateReceive
	StateIndex
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateDiscover:
		return "discover"
	case StateNegotiate:
		return "negotiate"
	case StateReceive:
		return "receive"
	case StateIndex:
		return "index"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Roundtripper abstracts the underlying connection: an info/refs GET
// followed by a single POST carrying the negotiation body and
// returning the (possibly side-band-multiplexed) response. The ssh
// and http subpackages each implement this over their own transport.
type Roundtripper interface {
	Discover(ctx context.Context, service string) (io.ReadCloser, error)
	UploadPack(ctx context.Context, body io.Reader) (io.ReadCloser, error)
}

// ProgressFunc receives human-readable progress text from the remote
// side-band channel, if any. May be nil.
type ProgressFunc func(text string)

// Filter names an object filter spec for partial clone, sent as the
// negotiated "filter" capability's value. blob:none is the only filter
// this module supports requesting (see SPEC_FULL.md's supplemented
// features); other git filter-spec forms (blob:limit=N, tree:N,
// sparse:oid) are out of scope.
type Filter string

// FilterBlobNone requests that the server omit blob objects from the
// pack entirely, sending only commits and trees; a Store with a
// MissingBlobFunc hook installed then fetches blobs lazily on first
// read.
const FilterBlobNone Filter = "blob:none"

// Options configures a fetch.
type Options struct {
	Refs     []string // ref names or OIDs to fetch; empty means all branches/tags
	Depth    int
	Progress ProgressFunc
	// Filter, if set, requests a partial clone; only honored when the
	// advertisement carries the "filter" capability, since an
	// unfiltered server would otherwise silently send every blob anyway.
	Filter Filter
}

// Result is the outcome of a completed fetch.
type Result struct {
	Advertisement *packp.Advertisement
	Wants         []gkhash.OID
	PackOID       gkhash.OID // checksum trailer of the received pack
	PackIndex     *idx.Index
	ObjectCount   int
	// Shallow/Unshallow record the boundary commits the server reported
	// in response to a depth-bounded (Options.Depth>0) request; both are
	// nil for a full, unbounded fetch.
	Shallow   []gkhash.OID
	Unshallow []gkhash.OID
}

// Session drives one fetch through its state machine.
type Session struct {
	RT    Roundtripper
	Store *objstore.Store

	state State
}

// NewSession returns a Session bound to the given roundtripper and
// object store, starting in StateInit.
func NewSession(rt Roundtripper, store *objstore.Store) *Session {
	return &Session{RT: rt, Store: store, state: StateInit}
}

// State returns the machine's current position.
func (s *Session) State() State { return s.state }

// Fetch runs the full Discover -> Negotiate -> Receive -> Index cycle
// and leaves the received pack's objects queryable via s.Store (once
// the caller has written the received pack bytes and index alongside
// the store's pack directory; Fetch itself only parses and validates
// them into a Result, storage placement is the caller's concern since
// pack file naming/location is backend-specific).
func (s *Session) Fetch(ctx context.Context, haves []gkhash.OID, opts Options) (*Result, io.Reader, error) {
	s.state = StateDiscover
	adv, err := s.discover(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: discover: %w", err)
	}

	wants, err := s.resolveWants(adv, opts.Refs)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: resolving wants: %w", err)
	}
	if len(wants) == 0 {
		s.state = StateDone
		return &Result{Advertisement: adv}, nil, nil
	}

	s.state = StateNegotiate
	body, err := s.buildRequest(adv, wants, haves, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: building request: %w", err)
	}

	resp, err := s.RT.UploadPack(ctx, body)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: upload-pack: %w", err)
	}
	defer resp.Close()

	s.state = StateReceive
	var shallowUpdate packp.ShallowUpdate
	if opts.Depth > 0 && adv.Version != packp.ProtocolV2 {
		// v2's shallow-info section is delim-terminated and framed
		// differently; see ParseShallowUpdate's doc comment.
		shallowUpdate, err = packp.ParseShallowUpdate(resp)
		if err != nil {
			return nil, nil, fmt.Errorf("transport: parsing shallow update: %w", err)
		}
	}
	packData, err := s.receivePack(resp, adv.Capabilities, opts.Progress)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: receiving pack: %w", err)
	}

	s.state = StateIndex
	result, err := s.indexPack(packData)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: indexing pack: %w", err)
	}
	result.Advertisement = adv
	result.Wants = wants
	result.Shallow = shallowUpdate.Shallow
	result.Unshallow = shallowUpdate.Unshallow

	s.state = StateDone
	return result, bytes.NewReader(packData), nil
}

func (s *Session) discover(ctx context.Context) (*packp.Advertisement, error) {
	rc, err := s.RT.Discover(ctx, "git-upload-pack")
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return packp.ParseAdvertisement(rc)
}

// resolveWants maps requested ref names (or explicit hex OIDs) to
// advertised OIDs; an empty refs list wants every advertised branch
// and tag (but not HEAD itself, which is a pointer to one of them).
func (s *Session) resolveWants(adv *packp.Advertisement, refs []string) ([]gkhash.OID, error) {
	if len(refs) == 0 {
		var wants []gkhash.OID
		for _, r := range adv.Refs {
			if r.Name == "HEAD" {
				continue
			}
			wants = append(wants, r.OID)
		}
		return wants, nil
	}

	byName := make(map[string]gkhash.OID, len(adv.Refs))
	for _, r := range adv.Refs {
		byName[r.Name] = r.OID
	}

	var wants []gkhash.OID
	for _, want := range refs {
		if oid, ok := byName[want]; ok {
			wants = append(wants, oid)
			continue
		}
		if oid, ok := gkhash.FromHex(want); ok {
			wants = append(wants, oid)
			continue
		}
		return nil, fmt.Errorf("transport: unknown ref %q in advertisement", want)
	}
	return wants, nil
}

func (s *Session) buildRequest(adv *packp.Advertisement, wants, haves []gkhash.OID, opts Options) (io.Reader, error) {
	caps := capability.New()
	caps.Set(capability.SideBand64k, "")
	caps.Set(capability.OFSDelta, "")
	caps.Set(capability.Agent, "gitkit/1.0")
	if opts.Depth > 0 {
		caps.Set(capability.Shallow, "")
	}
	var filterSpec string
	if opts.Filter != "" && adv.Capabilities != nil && adv.Capabilities.Has(capability.FilterCap) {
		caps.Set(capability.FilterCap, "")
		filterSpec = string(opts.Filter)
	}

	req := &packp.UploadPackRequest{
		Wants:        wants,
		Haves:        haves,
		Done:         true,
		Capabilities: caps,
		Depth:        opts.Depth,
		FilterSpec:   filterSpec,
	}

	var buf bytes.Buffer
	if adv.Version == packp.ProtocolV2 {
		if err := req.WriteV2(&buf); err != nil {
			return nil, err
		}
	} else {
		if err := req.WriteV1(&buf); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}

// receivePack consumes the upload-pack response: ACK/NAK lines (v1)
// or a "packfile" section (v2), then the pack bytes themselves, which
// may be multiplexed over side-band-64k.
func (s *Session) receivePack(r io.Reader, caps *capability.List, progress ProgressFunc) ([]byte, error) {
	_, _, err := packp.ParseAckNak(r)
	if err != nil {
		return nil, err
	}

	if caps != nil && (caps.Has(capability.SideBand64k) || caps.Has(capability.SideBand)) {
		var pack bytes.Buffer
		sinks := pktline.Sinks{
			Pack: &pack,
			Progress: writerFunc(func(p []byte) (int, error) {
				if progress != nil {
					progress(string(p))
				}
				return len(p), nil
			}),
		}
		if err := pktline.Demux(r, sinks); err != nil {
			return nil, err
		}
		return pack.Bytes(), nil
	}

	return io.ReadAll(r)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// indexPack parses the received pack, validates its trailing checksum,
// and builds its .idx alongside computing each object's own OID.
func (s *Session) indexPack(packData []byte) (*Result, error) {
	hdr, err := packfile.ReadHeader(bytes.NewReader(packData))
	if err != nil {
		return nil, err
	}

	trailerSize := packfile.TrailerSize(s.Store.Format())
	if len(packData) < trailerSize {
		return nil, fmt.Errorf("transport: pack too short for trailer")
	}
	body, trailer := packData[:len(packData)-trailerSize], packData[len(packData)-trailerSize:]
	if err := packfile.VerifyTrailer(s.Store.Format(), body, trailer); err != nil {
		return nil, err
	}

	const headerLen = 12 // "PACK" + 4-byte version + 4-byte count
	reader := packfile.NewReader(bytes.NewReader(packData[headerLen:]), hdr.ObjectsLen, int64(headerLen), s.Store)
	objs, err := reader.All()
	if err != nil {
		return nil, err
	}

	// CRC32 is left zero: packfile.Object exposes only the undeltified
	// object, not the still-deflated bytes a real CRC32 would cover.
	entries := make([]idx.Entry, 0, len(objs))
	for _, o := range objs {
		oid, err := gkhash.Sum(s.Store.Format(), wrapForHash(o))
		if err != nil {
			return nil, err
		}
		entries = append(entries, idx.Entry{OID: oid, Offset: o.Offset})
	}

	packIdx, err := idx.Encode(s.Store.Format(), entries, trailer)
	if err != nil {
		return nil, err
	}
	decoded, err := idx.Decode(s.Store.Format(), packIdx)
	if err != nil {
		return nil, err
	}

	packOID, ok := gkhash.FromRawBytes(trailer)
	if !ok {
		return nil, fmt.Errorf("transport: malformed pack trailer")
	}

	return &Result{PackOID: packOID, PackIndex: decoded, ObjectCount: len(objs)}, nil
}

func wrapForHash(o *packfile.Object) []byte {
	header := fmt.Sprintf("%s %d\x00", o.Type, len(o.Data))
	out := make([]byte, 0, len(header)+len(o.Data))
	out = append(out, header...)
	out = append(out, o.Data...)
	return out
}
