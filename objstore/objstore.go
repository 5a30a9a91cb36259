// Package objstore implements the object store facade (specification
// component C3): reading and writing blobs/trees/commits/tags by OID,
// resolving deltas transparently, and iterating every object reachable
// from the on-disk representation. Lookup order is each pack's own
// .idx, then loose objects, so that once a repacking GC has run, the
// common case (an object inside a pack) is found without probing loose
// storage. A multi-pack-index file is not consulted.
package objstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/grahambrooks/gitkit/backend"
	"github.com/grahambrooks/gitkit/cache"
	gkhash "github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/idx"
	"github.com/grahambrooks/gitkit/objfile"
	"github.com/grahambrooks/gitkit/packfile"
)

// ErrNotFound means the requested object does not exist anywhere in
// the store's lookup chain.
var ErrNotFound = errors.New("objstore: object not found")

// ErrUnsupported means the object exists but uses an on-disk feature
// this module does not implement (e.g. a pack version other than 2).
var ErrUnsupported = errors.New("objstore: unsupported representation")

// CorruptError wraps a structural defect found while decoding an
// object, with enough context to locate it.
type CorruptError struct {
	OID    gkhash.OID
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("objstore: corrupt object %s: %s: %v", e.OID, e.Reason, e.Err)
}
func (e *CorruptError) Unwrap() error { return e.Err }

// BaseMissingError means a delta's base object could not be found
// anywhere in the store's lookup chain — a thin pack whose completing
// base never arrived, or local corruption.
type BaseMissingError struct {
	Base gkhash.OID
}

func (e *BaseMissingError) Error() string {
	return fmt.Sprintf("objstore: delta base %s not found", e.Base)
}

// Type mirrors objfile.Type; re-exported so callers need only import
// this package for the common case.
type Type = objfile.Type

const (
	TypeBlob   = objfile.TypeBlob
	TypeTree   = objfile.TypeTree
	TypeCommit = objfile.TypeCommit
	TypeTag    = objfile.TypeTag
)

// MissingBlobFunc lazily materializes a blob a `blob:none` partial
// clone filter (see transport.Filter) omitted from the pack, invoked
// by ReadObject the first time that blob's OID is actually requested.
// A nil return value paired with a nil error means the caller should
// treat the blob as not found after all.
type MissingBlobFunc func(oid gkhash.OID) ([]byte, error)

// Store is the object store facade bound to a backend rooted at a
// repository's git directory; objects live under its "objects"
// subdirectory.
type Store struct {
	fs       backend.Interface
	format   gkhash.Format
	objCache *cache.Object
	idxCache *cache.Index

	missingBlob MissingBlobFunc
}

// SetMissingBlobHook installs fn as the lazy-materialization callback
// ReadObject falls back to when a requested blob isn't present locally
// — the shape a `blob:none` partial clone leaves behind, where trees
// and commits are fetched up front but blobs are fetched on demand.
// Pass nil to remove the hook.
func (s *Store) SetMissingBlobHook(fn MissingBlobFunc) {
	s.missingBlob = fn
}

// New constructs a Store rooted at fs (the git directory, the parent of
// "objects"), addressing objects with the given hash format.
func New(fs backend.Interface, format gkhash.Format) *Store {
	return &Store{
		fs:       fs,
		format:   format,
		objCache: cache.NewObject(cache.DefaultObjectSize),
		idxCache: cache.NewIndex(32),
	}
}

// Format reports the hash algorithm this store addresses objects with.
func (s *Store) Format() gkhash.Format { return s.format }

func loosePath(oid gkhash.OID) string {
	hexDigits := oid.String()
	return "objects/" + hexDigits[:2] + "/" + hexDigits[2:]
}

// Has reports whether oid exists in the store, without decoding it.
func (s *Store) Has(oid gkhash.OID) (bool, error) {
	if _, ok := s.objCache.Get(oid); ok {
		return true, nil
	}
	if _, _, ok, err := s.findInPacks(oid); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	return s.fs.Exists(loosePath(oid))
}

// ReadObject returns an object's type and fully inflated payload,
// resolving any delta chain transparently.
func (s *Store) ReadObject(oid gkhash.OID) (Type, []byte, error) {
	if data, ok := s.objCache.Get(oid); ok {
		t, payload, err := splitCached(data)
		if err == nil {
			return t, payload, nil
		}
	}

	if t, data, ok, err := s.readFromPacks(oid); err != nil {
		return "", nil, err
	} else if ok {
		s.cache(oid, t, data)
		return t, data, nil
	}

	t, data, err := s.readLoose(oid)
	if err != nil {
		if errors.Is(err, ErrNotFound) && s.missingBlob != nil {
			return s.readMissingBlob(oid)
		}
		return "", nil, err
	}
	s.cache(oid, t, data)
	return t, data, nil
}

// readMissingBlob services a blob absent from local storage via the
// configured MissingBlobFunc, persisting it as a normal loose object on
// success so later reads hit local storage directly.
func (s *Store) readMissingBlob(oid gkhash.OID) (Type, []byte, error) {
	data, err := s.missingBlob(oid)
	if err != nil {
		return "", nil, fmt.Errorf("objstore: fetching missing blob %s: %w", oid, err)
	}
	if data == nil {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, oid)
	}
	if written, err := s.WriteObject(TypeBlob, data); err != nil {
		return "", nil, err
	} else if !written.Equal(oid) {
		return "", nil, &CorruptError{OID: oid, Reason: "missing-blob hook returned mismatched content"}
	}
	s.cache(oid, TypeBlob, data)
	return TypeBlob, data, nil
}

func (s *Store) readLoose(oid gkhash.OID) (Type, []byte, error) {
	f, err := s.fs.Open(loosePath(oid))
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("%w: %s", ErrNotFound, oid)
		}
		return "", nil, err
	}
	defer f.Close()

	t, data, err := objfile.ReadAll(f)
	if err != nil {
		return "", nil, &CorruptError{OID: oid, Reason: "loose object", Err: err}
	}
	return t, data, nil
}

// WriteObject computes oid = digest of the canonical wrapped form and
// writes the loose object, unless it already exists loose or in a pack
// (objects are content-addressed and therefore idempotent to write).
func (s *Store) WriteObject(t Type, payload []byte) (gkhash.OID, error) {
	wrapped := objfile.Header(t, int64(len(payload)))
	wrapped = append(wrapped, payload...)

	oid, err := gkhash.Sum(s.format, wrapped)
	if err != nil {
		return gkhash.OID{}, err
	}

	exists, err := s.Has(oid)
	if err != nil {
		return gkhash.OID{}, err
	}
	if exists {
		return oid, nil
	}

	var buf bytes.Buffer
	if _, err := objfile.Wrap(&buf, t, payload); err != nil {
		return gkhash.OID{}, err
	}

	if err := s.fs.MkdirAll(dirOf(loosePath(oid))); err != nil {
		return gkhash.OID{}, err
	}
	if err := s.fs.WriteAtomic(loosePath(oid), buf.Bytes(), 0444); err != nil {
		return gkhash.OID{}, err
	}

	s.cache(oid, t, payload)
	return oid, nil
}

// ResolveBase implements packfile.BaseResolver: a ref-delta whose base
// is not found within its own pack is resolved against this Store's
// full lookup chain (other packs, then loose storage).
func (s *Store) ResolveBase(oid gkhash.OID) (packfile.ObjType, []byte, error) {
	t, data, err := s.ReadObject(oid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil, &BaseMissingError{Base: oid}
		}
		return 0, nil, err
	}
	return packObjType(t), data, nil
}

func (s *Store) cache(oid gkhash.OID, t Type, data []byte) {
	s.objCache.Put(oid, mergeCached(t, data))
}

// Iterate calls fn for every object this store can enumerate (every
// pack, then loose objects), stopping at the first error fn returns.
func (s *Store) Iterate(fn func(oid gkhash.OID, t Type) error) error {
	seen := make(map[gkhash.OID]struct{})

	packNames, err := s.listPacks()
	if err != nil {
		return err
	}
	for _, name := range packNames {
		index, err := s.loadPackIndex(name)
		if err != nil {
			return err
		}
		for _, e := range index.Entries {
			if _, ok := seen[e.OID]; ok {
				continue
			}
			seen[e.OID] = struct{}{}
			t, _, err := s.ReadObject(e.OID)
			if err != nil {
				return err
			}
			if err := fn(e.OID, t); err != nil {
				return err
			}
		}
	}

	dirs, err := s.fs.ReadDir("objects")
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, d := range dirs {
		if !d.IsDir || len(d.Name) != 2 || d.Name == "pack" || d.Name == "info" {
			continue
		}
		entries, err := s.fs.ReadDir("objects/" + d.Name)
		if err != nil {
			return err
		}
		for _, e := range entries {
			hexDigits := d.Name + e.Name
			oid, ok := gkhash.FromHex(hexDigits)
			if !ok {
				continue
			}
			if _, ok := seen[oid]; ok {
				continue
			}
			seen[oid] = struct{}{}
			t, _, err := s.ReadObject(oid)
			if err != nil {
				return err
			}
			if err := fn(oid, t); err != nil {
				return err
			}
		}
	}
	return nil
}

func dirOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "."
	}
	return p[:i]
}

func packObjType(t Type) packfile.ObjType {
	switch t {
	case TypeCommit:
		return packfile.TypeCommit
	case TypeTree:
		return packfile.TypeTree
	case TypeBlob:
		return packfile.TypeBlob
	case TypeTag:
		return packfile.TypeTag
	default:
		return packfile.TypeInvalid
	}
}

func packTypeToObjfile(t packfile.ObjType) Type {
	switch t {
	case packfile.TypeCommit:
		return TypeCommit
	case packfile.TypeTree:
		return TypeTree
	case packfile.TypeBlob:
		return TypeBlob
	case packfile.TypeTag:
		return TypeTag
	default:
		return ""
	}
}

// sortedPackNames returns names in reverse-lexicographic order so the
// most recently created pack (names embed a timestamp-derived hash in
// real git, but here we just sort names descending) is probed first.
func sortedPackNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}

// listPacks returns every "objects/pack/pack-*.pack" base name (without
// extension), sorted newest-first.
func (s *Store) listPacks() ([]string, error) {
	entries, err := s.fs.ReadDir("objects/pack")
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir || !strings.HasSuffix(e.Name, ".pack") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name, ".pack"))
	}
	return sortedPackNames(names), nil
}

// loadPackIndex returns the parsed .idx for a pack base name, using the
// store's Index cache to avoid re-parsing on repeated lookups.
func (s *Store) loadPackIndex(name string) (*idx.Index, error) {
	if v, ok := s.idxCache.Get(name); ok {
		return v.(*idx.Index), nil
	}
	data, err := backend.ReadFile(s.fs, "objects/pack/"+name+".idx")
	if err != nil {
		return nil, err
	}
	parsed, err := idx.Decode(s.format, data)
	if err != nil {
		return nil, fmt.Errorf("objstore: parsing %s.idx: %w", name, err)
	}
	s.idxCache.Put(name, parsed)
	return parsed, nil
}

// findInPacks reports which pack (if any) contains oid and at what
// offset, without reading or resolving the object.
func (s *Store) findInPacks(oid gkhash.OID) (packName string, offset int64, ok bool, err error) {
	names, err := s.listPacks()
	if err != nil {
		return "", 0, false, err
	}
	for _, name := range names {
		index, err := s.loadPackIndex(name)
		if err != nil {
			return "", 0, false, err
		}
		if off, ok := index.FindOffset(oid); ok {
			return name, off, true, nil
		}
	}
	return "", 0, false, nil
}

// readFromPacks locates oid in some pack and resolves its full delta
// chain, using the Store itself as the BaseResolver for ref-deltas and
// thin-pack bases that live outside the pack currently being read.
func (s *Store) readFromPacks(oid gkhash.OID) (Type, []byte, bool, error) {
	name, offset, ok, err := s.findInPacks(oid)
	if err != nil || !ok {
		return "", nil, false, err
	}

	data, err := backend.ReadFile(s.fs, "objects/pack/"+name+".pack")
	if err != nil {
		return "", nil, false, err
	}

	hdr, err := packfile.ReadHeader(bytes.NewReader(data))
	if err != nil {
		return "", nil, false, &CorruptError{OID: oid, Reason: "pack header " + name, Err: err}
	}

	r := packfile.NewReader(bytes.NewReader(data[12:]), hdr.ObjectsLen, 12, s)
	for {
		obj, err := r.Next()
		if err != nil {
			return "", nil, false, &CorruptError{OID: oid, Reason: "pack entry " + name, Err: err}
		}
		if obj.Offset == offset {
			return packTypeToObjfile(obj.Type), obj.Data, true, nil
		}
	}
}

// mergeCached and splitCached encode a (type, payload) pair for storage
// in the byte-budgeted Object cache without re-paying the zlib cost
// objfile.Wrap would incur on every cache hit.
func mergeCached(t Type, data []byte) []byte {
	out := objfile.Header(t, int64(len(data)))
	return append(out, data...)
}

func splitCached(cached []byte) (Type, []byte, error) {
	sp := bytes.IndexByte(cached, ' ')
	nul := bytes.IndexByte(cached, 0)
	if sp < 0 || nul < 0 || sp > nul {
		return "", nil, fmt.Errorf("objstore: malformed cache entry")
	}
	return Type(cached[:sp]), cached[nul+1:], nil
}
