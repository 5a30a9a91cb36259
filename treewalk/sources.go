package treewalk

import (
	"context"
	"io/fs"
	"sort"
	"strings"

	"github.com/grahambrooks/gitkit/backend"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/index"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
)

// TreeSource walks a commit's tree lazily: each directory is resolved
// to its Tree object only when Children is called for it, so a walk
// that never descends into a subtree never pays for decoding it.
type TreeSource struct {
	Store *objstore.Store
	Root  hash.OID
	// cache, keyed by directory path, avoids re-decoding a subtree when
	// a caller lists the same directory of this source more than once;
	// it is not shared with other sources.
	cache map[string]*object.Tree
}

func NewTreeSource(store *objstore.Store, root hash.OID) *TreeSource {
	return &TreeSource{Store: store, Root: root, cache: make(map[string]*object.Tree)}
}

func (s *TreeSource) Children(ctx context.Context, dir string) ([]Entry, error) {
	oid, err := s.resolveDirOID(ctx, dir)
	if err != nil {
		return nil, err
	}
	if oid.IsZero() {
		return nil, nil
	}
	tree, ok := s.cache[dir]
	if !ok {
		_, data, err := s.Store.ReadObject(oid)
		if err != nil {
			return nil, err
		}
		tree, err = object.DecodeTree(oid.Format(), data)
		if err != nil {
			return nil, err
		}
		s.cache[dir] = tree
	}

	out := make([]Entry, len(tree.Entries))
	for i, e := range tree.Entries {
		out[i] = Entry{Name: e.Name, Mode: e.Mode, OID: e.OID}
	}
	return out, nil
}

func (s *TreeSource) resolveDirOID(ctx context.Context, dir string) (hash.OID, error) {
	if dir == "" {
		return s.Root, nil
	}
	parentDir := parentOf(dir)
	parent, ok := s.cache[parentDir]
	if !ok {
		if _, err := s.Children(ctx, parentDir); err != nil {
			return hash.OID{}, err
		}
		parent = s.cache[parentDir]
	}
	if parent == nil {
		return hash.ZeroOID(s.Root.Format()), nil
	}
	base := baseName(dir)
	for _, e := range parent.Entries {
		if e.Name == base && e.Mode.IsDir() {
			return e.OID, nil
		}
	}
	return hash.ZeroOID(s.Root.Format()), nil
}

func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func baseName(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// IndexSource walks the staging area, filtering to stage-0 (merged)
// entries only — stage 1/2/3 entries represent unresolved conflicts
// that a tree walk (as opposed to conflict-resolution itself) should
// not see as a single tree shape.
type IndexSource struct {
	Idx *index.Index
}

func NewIndexSource(ix *index.Index) *IndexSource { return &IndexSource{Idx: ix} }

func (s *IndexSource) Children(ctx context.Context, dir string) ([]Entry, error) {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	var out []Entry
	for _, e := range s.Idx.Iter(prefix) {
		if e.Stage != index.StageMerged {
			continue
		}
		rest := e.Path[len(prefix):]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			out = append(out, Entry{Name: rest, Mode: object.FileMode(e.Mode), OID: e.OID})
			continue
		}
		name := rest[:slash]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Entry{Name: name, Mode: object.ModeDir})
	}
	sort.Slice(out, func(i, j int) bool {
		return sortKey(out[i].Name, out[i].Mode.IsDir()) < sortKey(out[j].Name, out[j].Mode.IsDir())
	})
	return out, nil
}

// WorktreeSource walks real files on disk through backend.Interface,
// so it works identically against an OS filesystem or an in-memory
// backend used in tests.
type WorktreeSource struct {
	FS     backend.Interface
	Format hash.Format
}

func NewWorktreeSource(fs backend.Interface, format hash.Format) *WorktreeSource {
	return &WorktreeSource{FS: fs, Format: format}
}

func (s *WorktreeSource) Children(ctx context.Context, dir string) ([]Entry, error) {
	path := dir
	if path == "" {
		path = "."
	}
	children, err := s.FS.ReadDir(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(children))
	for _, c := range children {
		mode := object.ModeRegular
		if c.IsDir {
			mode = object.ModeDir
		} else {
			childPath := c.Name
			if dir != "" {
				childPath = dir + "/" + c.Name
			}
			info, err := s.FS.Lstat(childPath)
			if err != nil {
				return nil, err
			}
			switch {
			case info.Mode()&fs.ModeSymlink != 0:
				mode = object.ModeSymlink
			case info.Mode()&0o111 != 0:
				mode = object.ModeExecutable
			}
		}
		// OID is left zero: the worktree source represents uncommitted
		// content, which a caller must hash on demand (e.g. during
		// checkout conflict pre-check) rather than assume is known.
		out = append(out, Entry{Name: c.Name, Mode: mode})
	}
	sort.Slice(out, func(i, j int) bool {
		return sortKey(out[i].Name, out[i].Mode.IsDir()) < sortKey(out[j].Name, out[j].Mode.IsDir())
	})
	return out, nil
}
