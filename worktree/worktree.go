// Package worktree implements the worktree materializer (component
// C9): checkout with conflict pre-check, atomic file placement, mode
// and symlink preservation, and sparse-path filtering. See
// specification §4.6.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/grahambrooks/gitkit/backend"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/index"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/treewalk"
)

// CheckoutKind distinguishes a whole-branch checkout from a scoped
// file-path checkout, surfaced to callers via the post-checkout event.
type CheckoutKind int

const (
	KindBranch CheckoutKind = iota
	KindFile
)

// ConflictError is returned when worktree files differing from the
// index would be overwritten and Force was not set.
type ConflictError struct {
	Paths []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("worktree: checkout would overwrite %d modified path(s)", len(e.Paths))
}

// ErrSparse is a sentinel documenting that sparse-filtered paths are
// intentionally omitted from the worktree while still present in the index.
var ErrSparse = errors.New("worktree: path excluded by sparse filter")

// Options configures Checkout.
type Options struct {
	// Filepaths restricts checkout to these paths (KindFile); empty
	// means the whole tree (KindBranch).
	Filepaths []string
	Force     bool
	DryRun    bool
	NoCheckout bool
	// Sparse, if non-nil, admits only paths with one of these prefixes.
	Sparse []string
}

// Event is the post-checkout contract: (previous_head, new_head, kind).
type Event struct {
	PreviousHead hash.OID
	NewHead      hash.OID
	Kind         CheckoutKind
}

// Materializer binds the object store, worktree backend, and index
// together for checkout operations.
type Materializer struct {
	Store *objstore.Store
	FS    backend.Interface
	Idx   *index.Index
}

func New(store *objstore.Store, fs backend.Interface, idx *index.Index) *Materializer {
	return &Materializer{Store: store, FS: fs, Idx: idx}
}

// Checkout materializes targetTree into the worktree.
func (m *Materializer) Checkout(ctx context.Context, previousHead, targetTree hash.OID, opts Options) (Event, error) {
	src := treewalk.NewTreeSource(m.Store, targetTree)
	wanted, err := m.collectWanted(ctx, src, "", opts)
	if err != nil {
		return Event{}, err
	}
	wanted = filterByFilepaths(wanted, opts.Filepaths)

	if !opts.Force {
		conflicts, err := m.conflictingPaths(wanted)
		if err != nil {
			return Event{}, err
		}
		if len(conflicts) > 0 {
			return Event{}, &ConflictError{Paths: conflicts}
		}
	}

	if !opts.DryRun && !opts.NoCheckout {
		if err := m.place(wanted); err != nil {
			return Event{}, err
		}
	}

	if m.Idx != nil && !opts.DryRun {
		for _, w := range wanted {
			m.Idx.Insert(index.Entry{Path: w.path, Stage: index.StageMerged, Mode: index.Mode(w.mode), OID: w.oid})
		}
	}

	kind := KindBranch
	if len(opts.Filepaths) > 0 {
		kind = KindFile
	}
	return Event{PreviousHead: previousHead, NewHead: targetTree, Kind: kind}, nil
}

type wantedFile struct {
	path string
	mode object.FileMode
	oid  hash.OID
}

func (m *Materializer) collectWanted(ctx context.Context, src *treewalk.TreeSource, dir string, opts Options) ([]wantedFile, error) {
	entries, err := src.Children(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []wantedFile
	for _, e := range entries {
		path := e.Name
		if dir != "" {
			path = dir + "/" + e.Name
		}
		if e.Mode.IsDir() {
			children, err := m.collectWanted(ctx, src, path, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
			continue
		}
		if !sparseAllows(opts.Sparse, path) {
			continue
		}
		out = append(out, wantedFile{path: path, mode: e.Mode, oid: e.OID})
	}
	return out, nil
}

func sparseAllows(prefixes []string, path string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") || strings.HasPrefix(p, path+"/") {
			return true
		}
	}
	return false
}

func filterByFilepaths(wanted []wantedFile, filepaths []string) []wantedFile {
	if len(filepaths) == 0 {
		return wanted
	}
	var out []wantedFile
	for _, w := range wanted {
		for _, fp := range filepaths {
			if w.path == fp || strings.HasPrefix(w.path, fp+"/") {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// conflictingPaths finds worktree files that differ from the index
// and would be overwritten by wanted. Untracked files not present in
// wanted are left alone regardless of their on-disk state.
func (m *Materializer) conflictingPaths(wanted []wantedFile) ([]string, error) {
	var conflicts []string
	for _, w := range wanted {
		onDiskOID, existed, err := m.hashWorktreeFile(w.path)
		if err != nil {
			return nil, err
		}
		if !existed {
			continue
		}
		indexEntry, inIndex := (index.Entry{}), false
		if m.Idx != nil {
			indexEntry, inIndex = m.Idx.Get(w.path)
		}
		if inIndex && indexEntry.OID.Equal(onDiskOID) {
			continue // worktree matches index: safe to overwrite
		}
		if onDiskOID.Equal(w.oid) {
			continue // already matches the target: no real conflict
		}
		conflicts = append(conflicts, w.path)
	}
	sort.Strings(conflicts)
	return conflicts, nil
}

func (m *Materializer) hashWorktreeFile(path string) (hash.OID, bool, error) {
	exists, err := m.FS.Exists(path)
	if err != nil {
		return hash.OID{}, false, err
	}
	if !exists {
		return hash.OID{}, false, nil
	}
	data, err := backend.ReadFile(m.FS, path)
	if err != nil {
		return hash.OID{}, false, err
	}
	oid, err := hash.Sum(m.Store.Format(), wrapBlob(data))
	if err != nil {
		return hash.OID{}, false, err
	}
	return oid, true, nil
}

func wrapBlob(data []byte) []byte {
	return append([]byte(fmt.Sprintf("blob %d\x00", len(data))), data...)
}

// place writes every wanted file via temp-file + rename, preserving
// mode bits and materializing symlinks through the backend's symlink
// primitive.
func (m *Materializer) place(wanted []wantedFile) error {
	for _, w := range wanted {
		_, data, err := m.Store.ReadObject(w.oid)
		if err != nil {
			return fmt.Errorf("worktree: reading %s: %w", w.path, err)
		}
		switch w.mode {
		case object.ModeSymlink:
			if err := m.FS.Symlink(string(data), w.path); err != nil {
				return fmt.Errorf("worktree: symlinking %s: %w", w.path, err)
			}
		default:
			perm := fs.FileMode(0o644)
			if w.mode == object.ModeExecutable {
				perm = 0o755
			}
			if err := m.FS.WriteAtomic(w.path, data, perm); err != nil {
				return fmt.Errorf("worktree: writing %s: %w", w.path, err)
			}
		}
	}
	return nil
}
