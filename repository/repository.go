// Package repository implements the repository facade (component
// C11): the single handle a caller opens to drive the rest of this
// module's components together — object store, ref store, index,
// worktree materializer, and configuration — exposing the composed
// high-level operations (checkout, commit, merge, fetch, reset, walk)
// spec.md describes in terms of the lower components individually.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/grahambrooks/gitkit/backend"
	"github.com/grahambrooks/gitkit/config"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/index"
	"github.com/grahambrooks/gitkit/merge"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/refstore"
	"github.com/grahambrooks/gitkit/transport"
	"github.com/grahambrooks/gitkit/treewalk"
	"github.com/grahambrooks/gitkit/worktree"
)

const indexPath = "index"

// ErrBare is returned by worktree-touching operations on a repository
// opened with no WorkDir.
var ErrBare = errors.New("repository: no worktree (bare repository)")

// Repository binds one gitdir's storage, refs, index, and config into
// a single handle. A bare repository has WorkDir == nil: Checkout and
// any other worktree-touching operation then fail with ErrBare.
type Repository struct {
	GitDir  backend.Interface
	WorkDir backend.Interface
	Format  hash.Format

	Store  *objstore.Store
	Refs   *refstore.Store
	Config *config.Config
	Events *EventBus

	idx *index.Index
}

// Open reads <gitDir>/config to determine the object format, then
// builds an object store, ref store, and loads (or initializes) the
// index, all rooted at gitDir. workDir may be nil for a bare
// repository.
func Open(gitDir, workDir backend.Interface) (*Repository, error) {
	cfg := config.New()
	if data, err := backend.ReadFile(gitDir, "config"); err == nil {
		cfg, err = config.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("repository: parsing config: %w", err)
		}
	} else if !errors.Is(err, backend.ErrNotExist) {
		return nil, fmt.Errorf("repository: reading config: %w", err)
	}

	format := hash.Format(cfg.ObjectFormat())
	store := objstore.New(gitDir, format)
	refs := refstore.New(gitDir, format)

	idx, err := loadIndex(gitDir, format)
	if err != nil {
		return nil, fmt.Errorf("repository: loading index: %w", err)
	}

	return &Repository{
		GitDir:  gitDir,
		WorkDir: workDir,
		Format:  format,
		Store:   store,
		Refs:    refs,
		Config:  cfg,
		Events:  NewEventBus(),
		idx:     idx,
	}, nil
}

func loadIndex(gitDir backend.Interface, format hash.Format) (*index.Index, error) {
	data, err := backend.ReadFile(gitDir, indexPath)
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return index.New(format), nil
		}
		return nil, err
	}
	return index.Decode(format, data)
}

// Index returns the repository's in-memory index. Callers mutate it
// directly and call WriteIndex to persist.
func (r *Repository) Index() *index.Index { return r.idx }

// WriteIndex serializes the current index back to <gitDir>/index.
func (r *Repository) WriteIndex() error {
	data, err := index.Encode(r.idx, r.Format)
	if err != nil {
		return err
	}
	return r.GitDir.WriteAtomic(indexPath, data, 0o644)
}

// head resolves HEAD to an OID, returning the zero OID (not an error)
// when HEAD is unborn (points at a branch that doesn't exist yet).
func (r *Repository) head() (hash.OID, error) {
	oid, err := r.Refs.Resolve("HEAD", refstore.DefaultMaxSymbolicDepth)
	if err != nil {
		if errors.Is(err, refstore.ErrNotFound) {
			return hash.ZeroOID(r.Format), nil
		}
		return hash.OID{}, err
	}
	return oid, nil
}

// Checkout materializes target (a tree OID, or a commit OID whose tree
// is used) into the worktree. It requires a non-bare repository.
func (r *Repository) Checkout(ctx context.Context, target hash.OID, opts worktree.Options) (worktree.Event, error) {
	if r.WorkDir == nil {
		return worktree.Event{}, ErrBare
	}
	prev, err := r.head()
	if err != nil {
		return worktree.Event{}, err
	}

	treeOID, err := r.resolveToTree(target)
	if err != nil {
		return worktree.Event{}, err
	}

	m := worktree.New(r.Store, r.WorkDir, r.idx)
	ev, err := m.Checkout(ctx, prev, treeOID, opts)
	if err != nil {
		return ev, err
	}
	r.Events.Publish("worktree", "checked-out")
	return ev, nil
}

// resolveToTree accepts either a tree OID or a commit OID and returns
// the tree to materialize; a commit's own tree is used when oid names
// a commit.
func (r *Repository) resolveToTree(oid hash.OID) (hash.OID, error) {
	t, data, err := r.Store.ReadObject(oid)
	if err != nil {
		return hash.OID{}, err
	}
	switch t {
	case objstore.TypeTree:
		return oid, nil
	case objstore.TypeCommit:
		c, err := object.DecodeCommit(r.Format, data)
		if err != nil {
			return hash.OID{}, err
		}
		return c.TreeOID, nil
	default:
		return hash.OID{}, fmt.Errorf("repository: %s is neither a tree nor a commit", oid)
	}
}

// CommitOptions configures Commit.
type CommitOptions struct {
	Author, Committer object.Signature
	Message           string
	Parents           []hash.OID
	// RefName, when non-empty, is the ref Commit advances via
	// compare-and-swap (typically the branch HEAD points at). Empty
	// means write the object only, without moving any ref.
	RefName string
}

// Commit builds a tree from the current index (folding
// treewalk.IndexSource bottom-up), writes a commit object over it, and
// — if opts.RefName is set — advances that ref by compare-and-swap
// against its first parent (or the zero OID for a root commit),
// appending a reflog entry.
func (r *Repository) Commit(opts CommitOptions) (hash.OID, error) {
	treeOID, err := r.writeTreeFromIndex()
	if err != nil {
		return hash.OID{}, err
	}

	c := &object.Commit{
		TreeOID:   treeOID,
		Parents:   opts.Parents,
		Author:    opts.Author,
		Committer: opts.Committer,
		Message:   opts.Message,
	}
	oid, err := r.Store.WriteObject(objstore.TypeCommit, c.Encode())
	if err != nil {
		return hash.OID{}, err
	}

	if opts.RefName != "" {
		old := hash.ZeroOID(r.Format)
		if len(opts.Parents) > 0 {
			old = opts.Parents[0]
		}
		if err := r.Refs.Write(opts.RefName, oid, refstore.WriteOptions{
			OldOID:        &old,
			ReflogMessage: commitSummary(opts.Message),
			Committer: refstore.LogEntry{
				Name:  opts.Committer.Name,
				Email: opts.Committer.Email,
				When:  opts.Committer.When,
			},
		}); err != nil {
			return hash.OID{}, fmt.Errorf("repository: advancing %s: %w", opts.RefName, err)
		}
		r.Events.Publish(opts.RefName, "updated")
	}

	return oid, nil
}

func commitSummary(message string) string {
	for i, ch := range message {
		if ch == '\n' {
			return "commit: " + message[:i]
		}
	}
	return "commit: " + message
}

// writeTreeFromIndex folds the current index's stage-0 entries into a
// tree object, recursively writing any subtrees it needs.
func (r *Repository) writeTreeFromIndex() (hash.OID, error) {
	src := treewalk.NewIndexSource(r.idx)
	return buildTree(r.Store, src, "")
}

func buildTree(store *objstore.Store, src *treewalk.IndexSource, dir string) (hash.OID, error) {
	entries, err := src.Children(context.Background(), dir)
	if err != nil {
		return hash.OID{}, err
	}
	var t object.Tree
	for _, e := range entries {
		if e.Mode.IsDir() {
			childPath := e.Name
			if dir != "" {
				childPath = dir + "/" + e.Name
			}
			oid, err := buildTree(store, src, childPath)
			if err != nil {
				return hash.OID{}, err
			}
			t.Entries = append(t.Entries, object.TreeEntry{Mode: object.ModeDir, Name: e.Name, OID: oid})
			continue
		}
		t.Entries = append(t.Entries, object.TreeEntry{Mode: e.Mode, Name: e.Name, OID: e.OID})
	}
	t.Sort()
	return store.WriteObject(objstore.TypeTree, t.Encode(store.Format()))
}

// Merge runs the three-way merge engine (component C8) between the
// commits ours and theirs, using treewalk.MergeBase to find their
// common ancestor, and stages conflicts (if any) into the current
// index at stages 1/2/3.
func (r *Repository) Merge(ctx context.Context, ours, theirs hash.OID, opts merge.Options) (merge.Result, error) {
	base, err := treewalk.MergeBase(r.Store, ours, theirs)
	if err != nil {
		return merge.Result{}, err
	}

	oursTree, err := r.resolveToTree(ours)
	if err != nil {
		return merge.Result{}, err
	}
	theirsTree, err := r.resolveToTree(theirs)
	if err != nil {
		return merge.Result{}, err
	}
	var baseTree hash.OID
	if !base.IsZero() {
		baseTree, err = r.resolveToTree(base)
		if err != nil {
			return merge.Result{}, err
		}
	}

	result, err := merge.Merge(ctx, r.Store, r.idx, baseTree, oursTree, theirsTree, opts)
	if err != nil {
		return merge.Result{}, err
	}
	r.Events.Publish("index", "merged")
	return result, nil
}

// Reset moves refName directly to target, bypassing the commit/merge
// machinery, and rebuilds the index from target's tree. The worktree
// itself is left untouched unless the caller also calls Checkout —
// this facade implements "mixed" reset semantics; a caller wanting
// "hard" reset calls Reset followed by Checkout with Force set.
func (r *Repository) Reset(refName string, target hash.OID) error {
	old, err := r.Refs.Resolve(refName, refstore.DefaultMaxSymbolicDepth)
	var oldPtr *hash.OID
	if err == nil {
		oldPtr = &old
	}
	if err := r.Refs.Write(refName, target, refstore.WriteOptions{OldOID: oldPtr}); err != nil {
		return err
	}

	treeOID, err := r.resolveToTree(target)
	if err != nil {
		return err
	}
	newIdx, err := indexFromTree(r.Store, treeOID, r.Format)
	if err != nil {
		return err
	}
	r.idx = newIdx

	r.Events.Publish(refName, "reset")
	return nil
}

func indexFromTree(store *objstore.Store, treeOID hash.OID, format hash.Format) (*index.Index, error) {
	ix := index.New(format)
	src := treewalk.NewTreeSource(store, treeOID)
	if err := walkTreeIntoIndex(context.Background(), src, "", ix); err != nil {
		return nil, err
	}
	return ix, nil
}

func walkTreeIntoIndex(ctx context.Context, src *treewalk.TreeSource, dir string, ix *index.Index) error {
	entries, err := src.Children(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := e.Name
		if dir != "" {
			path = dir + "/" + e.Name
		}
		if e.Mode.IsDir() {
			if err := walkTreeIntoIndex(ctx, src, path, ix); err != nil {
				return err
			}
			continue
		}
		ix.Insert(index.Entry{Path: path, Mode: index.Mode(e.Mode), OID: e.OID})
	}
	return nil
}

// Fetch drives the transport fetch state machine (component C10)
// against rt, writing any received objects into the repository's own
// object store.
func (r *Repository) Fetch(ctx context.Context, rt transport.Roundtripper, haves []hash.OID, opts transport.Options) (*transport.Result, error) {
	sess := transport.NewSession(rt, r.Store)
	result, _, err := sess.Fetch(ctx, haves, opts)
	if err != nil {
		return nil, err
	}
	r.Events.Publish("objects", "fetched")
	return result, nil
}

// Walk exposes the tree walker (component C7) over the repository's
// object store, rooted at root (typically a commit's tree OID).
func (r *Repository) Walk(ctx context.Context, root hash.OID, mapFn treewalk.MapFunc, reduceFn treewalk.ReduceFunc) (any, error) {
	src := treewalk.NewTreeSource(r.Store, root)
	return treewalk.Walk(ctx, []treewalk.Source{src}, mapFn, reduceFn, treewalk.DefaultIterate)
}

// Subscribe registers a listener on the repository's event bus; see EventBus.
func (r *Repository) Subscribe(buffer int) (<-chan Event, func()) {
	return r.Events.Subscribe(buffer)
}
