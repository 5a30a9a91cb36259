package packfile

import (
	"fmt"
	"io"

	gkhash "github.com/grahambrooks/gitkit/hash"
)

// Object is a fully resolved pack entry: its base type (never a delta
// type — deltas are resolved away), its undeltified content, and its
// declared offset within the pack.
type Object struct {
	Offset int64
	Type   ObjType
	Data   []byte
}

// BaseResolver supplies base objects that live outside the pack being
// read, for thin packs and for ref-delta bases in general. Object
// stores implement this over their full lookup chain (see objstore).
type BaseResolver interface {
	ResolveBase(oid gkhash.OID) (ObjType, []byte, error)
}

// noExternalBases is used when a caller knows the pack is self-contained.
type noExternalBases struct{}

func (noExternalBases) ResolveBase(oid gkhash.OID) (ObjType, []byte, error) {
	return 0, nil, fmt.Errorf("packfile: ref-delta base %s not available outside this pack", oid)
}

// NoExternalBases is a BaseResolver that always fails; use it when
// reading a pack known to be non-thin (self-contained).
var NoExternalBases BaseResolver = noExternalBases{}

// Reader resolves every entry in a pack to its undeltified form,
// keeping a by-offset memo so ofs-delta chains (which always point
// backward within the same pack) resolve in one forward pass.
type Reader struct {
	scanner  *Scanner
	resolver BaseResolver
	byOffset map[int64]*Object
}

// NewReader constructs a Reader over r (positioned just after the pack
// header), which will resolve ref-delta bases that aren't found within
// the pack itself via resolver.
func NewReader(r io.Reader, numObjects uint32, headerOffset int64, resolver BaseResolver) *Reader {
	if resolver == nil {
		resolver = NoExternalBases
	}
	return &Reader{
		scanner:  NewScanner(r, numObjects, headerOffset),
		resolver: resolver,
		byOffset: make(map[int64]*Object),
	}
}

// Next returns the next object in on-disk order, fully resolved. Since
// ofs-delta bases always precede their deltas in a well-formed pack,
// a single forward pass suffices; ref-delta bases that point outside
// the pack fall back to the Reader's BaseResolver.
func (r *Reader) Next() (*Object, error) {
	raw, err := r.scanner.Next()
	if err != nil {
		return nil, err
	}

	var obj *Object
	switch raw.Type {
	case TypeOFSDelta:
		base, ok := r.byOffset[raw.BaseOffset]
		if !ok {
			return nil, fmt.Errorf("packfile: ofs-delta at %d references unknown base offset %d", raw.Offset, raw.BaseOffset)
		}
		data, err := ApplyDelta(base.Data, raw.Data)
		if err != nil {
			return nil, fmt.Errorf("packfile: applying ofs-delta at %d: %w", raw.Offset, err)
		}
		obj = &Object{Offset: raw.Offset, Type: base.Type, Data: data}
	case TypeRefDelta:
		baseType, baseData, err := r.resolver.ResolveBase(raw.BaseOID)
		if err != nil {
			return nil, fmt.Errorf("packfile: ref-delta at %d: %w", raw.Offset, err)
		}
		data, err := ApplyDelta(baseData, raw.Data)
		if err != nil {
			return nil, fmt.Errorf("packfile: applying ref-delta at %d: %w", raw.Offset, err)
		}
		obj = &Object{Offset: raw.Offset, Type: baseType, Data: data}
	default:
		obj = &Object{Offset: raw.Offset, Type: raw.Type, Data: raw.Data}
	}

	r.byOffset[raw.Offset] = obj
	return obj, nil
}

// All drains the Reader, returning every resolved object in on-disk
// order. Intended for small packs and tests; objstore streams instead.
func (r *Reader) All() ([]*Object, error) {
	var out []*Object
	for {
		obj, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
}
