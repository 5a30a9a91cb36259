// Package merge implements the three-way merge engine (component C8):
// the per-path policy table of specification §4.5, blob-level
// three-way diff and conflict markers, and stage 1/2/3 index writes
// for unresolved conflicts.
package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/index"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/treewalk"
)

// Names labels the three sides for conflict markers.
type Names struct {
	Base, Ours, Theirs string
}

// DefaultNames matches git's own default conflict-marker labels.
var DefaultNames = Names{Base: "base", Ours: "HEAD", Theirs: "theirs"}

// Conflict describes one unresolved path.
type Conflict struct {
	Path   string
	Reason string
}

// Result is the outcome of a merge.
type Result struct {
	// TreeOID is the merged tree, valid only when Conflicts is empty.
	TreeOID   hash.OID
	Conflicts []Conflict
}

// Options configures a merge invocation.
type Options struct {
	Names  Names
	DryRun bool
}

// Merge performs the three-way merge described by spec.md §4.5 over
// base/ours/theirs trees, writing resulting blobs/trees to store and
// staging conflicts into idx at stages 1/2/3. In DryRun mode nothing is
// written to store or idx; only the conflict set (and, if empty, the
// merged tree OID) is computed.
//
// The recursion here walks treewalk.Source directly rather than going
// through treewalk.Walk's generic Map/Reduce/Iterate seams: a merge
// needs each directory's own name threaded alongside its folded
// children, which the generic reduce contract (parent value folded
// with an already-combined child bundle) doesn't carry cleanly. Reusing
// the Source/Entry types keeps this engine source-agnostic without
// forcing the fold shape that walker is designed for.
func Merge(ctx context.Context, store *objstore.Store, idx *index.Index, base, ours, theirs hash.OID, opts Options) (Result, error) {
	names := opts.Names
	if names == (Names{}) {
		names = DefaultNames
	}

	m := &merger{
		store:  store,
		idx:    idx,
		names:  names,
		dryRun: opts.DryRun,
		format: ours.Format(),
		base:   treewalk.NewTreeSource(store, base),
		ours:   treewalk.NewTreeSource(store, ours),
		theirs: treewalk.NewTreeSource(store, theirs),
	}

	treeOID, err := m.mergeDir(ctx, "")
	if err != nil {
		return Result{}, err
	}
	if len(m.conflicts) > 0 {
		return Result{Conflicts: m.conflicts}, nil
	}
	if treeOID.IsZero() {
		treeOID = hash.EmptyTree(m.format)
	}
	return Result{TreeOID: treeOID}, nil
}

type merger struct {
	store          *objstore.Store
	idx            *index.Index
	names          Names
	dryRun         bool
	format         hash.Format
	base, ours, theirs *treewalk.TreeSource
	conflicts      []Conflict
}

// mergeDir merges one directory level and returns the resulting tree's
// OID (written to store unless dryRun).
func (m *merger) mergeDir(ctx context.Context, dir string) (hash.OID, error) {
	baseEntries, err := m.base.Children(ctx, dir)
	if err != nil {
		return hash.OID{}, err
	}
	oursEntries, err := m.ours.Children(ctx, dir)
	if err != nil {
		return hash.OID{}, err
	}
	theirsEntries, err := m.theirs.Children(ctx, dir)
	if err != nil {
		return hash.OID{}, err
	}

	names := mergedNames(baseEntries, oursEntries, theirsEntries)

	var entries []object.TreeEntry
	for _, name := range names {
		b := lookup(baseEntries, name)
		o := lookup(oursEntries, name)
		t := lookup(theirsEntries, name)

		childPath := name
		if dir != "" {
			childPath = dir + "/" + name
		}

		isDir := (b != nil && b.Mode.IsDir()) || (o != nil && o.Mode.IsDir()) || (t != nil && t.Mode.IsDir())
		if isDir {
			oid, err := m.mergeDir(ctx, childPath)
			if err != nil {
				return hash.OID{}, err
			}
			if oid.IsZero() {
				continue
			}
			entries = append(entries, object.TreeEntry{Mode: object.ModeDir, Name: name, OID: oid})
			continue
		}

		decision, _ := decide(b, o, t)
		switch decision {
		case takeBase:
			entries = append(entries, m.take(childPath, name, b))
		case takeOurs:
			entries = append(entries, m.take(childPath, name, o))
		case takeTheirs:
			entries = append(entries, m.take(childPath, name, t))
		case takeDeleted:
			// omitted from entries; nothing staged.
		case conflictKind:
			e, staged := m.blobMerge(childPath, name, b, o, t)
			if staged {
				entries = append(entries, e)
			}
		}
	}

	tree := &object.Tree{Entries: entries}
	tree.Sort()
	return m.writeTree(tree)
}

func (m *merger) take(path, name string, e *treewalk.Entry) object.TreeEntry {
	te := object.TreeEntry{Mode: e.Mode, Name: name, OID: e.OID}
	if m.idx != nil && !m.dryRun {
		m.idx.RemoveStage(path, index.StageBase)
		m.idx.RemoveStage(path, index.StageOurs)
		m.idx.RemoveStage(path, index.StageTheirs)
		m.idx.Insert(index.Entry{Path: path, Stage: index.StageMerged, Mode: index.Mode(e.Mode), OID: e.OID})
	}
	return te
}

func (m *merger) writeTree(t *object.Tree) (hash.OID, error) {
	if len(t.Entries) == 0 {
		return hash.OID{}, nil
	}
	if m.dryRun {
		payload := t.Encode(m.format)
		return hash.Sum(m.format, wrapHeader("tree", payload))
	}
	return m.store.WriteObject(objstore.TypeTree, t.Encode(m.format))
}

func wrapHeader(kind string, payload []byte) []byte {
	return append([]byte(fmt.Sprintf("%s %d\x00", kind, len(payload))), payload...)
}

func mergedNames(sets ...[]treewalk.Entry) []string {
	seen := make(map[string]bool)
	isDir := make(map[string]bool)
	var names []string
	for _, entries := range sets {
		for _, e := range entries {
			if !seen[e.Name] {
				seen[e.Name] = true
				names = append(names, e.Name)
			}
			if e.Mode.IsDir() {
				isDir[e.Name] = true
			}
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return sortKey(names[i], isDir[names[i]]) < sortKey(names[j], isDir[names[j]])
	})
	return names
}

func sortKey(name string, isDir bool) string {
	if isDir {
		return name + "/"
	}
	return name
}

func lookup(entries []treewalk.Entry, name string) *treewalk.Entry {
	for i := range entries {
		if entries[i].Name == name {
			e := entries[i]
			return &e
		}
	}
	return nil
}

type decisionKind int

const (
	takeBase decisionKind = iota
	takeOurs
	takeTheirs
	takeDeleted
	conflictKind
)

// decide implements the per-path policy table of spec.md §4.5.
func decide(base, ours, theirs *treewalk.Entry) (decisionKind, string) {
	baseOID, hasBase := oidOf(base)
	oursOID, hasOurs := oidOf(ours)
	theirsOID, hasTheirs := oidOf(theirs)

	baseEqOurs := hasBase == hasOurs && (!hasBase || baseOID.Equal(oursOID))
	baseEqTheirs := hasBase == hasTheirs && (!hasBase || baseOID.Equal(theirsOID))
	oursEqTheirs := hasOurs == hasTheirs && (!hasOurs || oursOID.Equal(theirsOID))

	switch {
	case baseEqOurs && baseEqTheirs:
		return takeBase, ""
	case baseEqOurs && !baseEqTheirs:
		if !hasTheirs {
			return takeDeleted, ""
		}
		return takeTheirs, ""
	case baseEqTheirs && !baseEqOurs:
		if !hasOurs {
			return takeDeleted, ""
		}
		return takeOurs, ""
	case oursEqTheirs:
		if !hasOurs {
			return takeDeleted, ""
		}
		return takeOurs, ""
	case !hasBase && hasOurs && hasTheirs:
		return conflictKind, "added differently on both sides"
	case hasBase && !hasOurs && hasTheirs:
		return conflictKind, "deleted on ours, modified on theirs"
	case hasBase && hasOurs && !hasTheirs:
		return conflictKind, "modified on ours, deleted on theirs"
	default:
		return conflictKind, "modified differently on both sides"
	}
}

func oidOf(e *treewalk.Entry) (hash.OID, bool) {
	if e == nil {
		return hash.OID{}, false
	}
	return e.OID, true
}

// blobMerge performs the three-way text diff for a conflicting leaf. It
// returns the entry to place in the parent tree (zero value if the
// path should be omitted) and whether that entry should be staged.
func (m *merger) blobMerge(path, name string, base, ours, theirs *treewalk.Entry) (object.TreeEntry, bool) {
	baseText, _ := m.readBlobText(base)
	oursText, _ := m.readBlobText(ours)
	theirsText, _ := m.readBlobText(theirs)

	merged, clean := threeWayText(baseText, oursText, theirsText, m.names)

	if clean {
		oid, err := m.writeBlob(merged)
		if err != nil {
			return object.TreeEntry{}, false
		}
		mode := object.ModeRegular
		if ours != nil {
			mode = ours.Mode
		} else if theirs != nil {
			mode = theirs.Mode
		}
		e := &treewalk.Entry{Name: name, Mode: mode, OID: oid}
		return m.take(path, name, e), true
	}

	m.conflicts = append(m.conflicts, Conflict{Path: path, Reason: "content conflict"})
	if m.idx == nil || m.dryRun {
		return object.TreeEntry{}, false
	}

	m.idx.RemoveStage(path, index.StageMerged)
	if base != nil {
		if oid, err := m.writeBlob(baseText); err == nil {
			m.idx.Insert(index.Entry{Path: path, Stage: index.StageBase, Mode: index.Mode(base.Mode), OID: oid})
		}
	}
	if ours != nil {
		m.idx.Insert(index.Entry{Path: path, Stage: index.StageOurs, Mode: index.Mode(ours.Mode), OID: ours.OID})
	}
	if theirs != nil {
		m.idx.Insert(index.Entry{Path: path, Stage: index.StageTheirs, Mode: index.Mode(theirs.Mode), OID: theirs.OID})
	}
	return object.TreeEntry{}, false
}

func (m *merger) readBlobText(e *treewalk.Entry) (string, error) {
	if e == nil {
		return "", nil
	}
	_, data, err := m.store.ReadObject(e.OID)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *merger) writeBlob(text string) (hash.OID, error) {
	if m.dryRun {
		return hash.Sum(m.format, wrapHeader("blob", []byte(text)))
	}
	return m.store.WriteObject(objstore.TypeBlob, []byte(text))
}

// threeWayText merges base/ours/theirs as whole texts. When ours equals
// theirs, or only one side differs from base (diffmatchpatch's diff is
// the change test), that side's text is the clean result. When both
// sides changed, the whole file is one conflict: ours and theirs in
// full between "<<<<<<<"/"======="/">>>>>>>" markers. Edits to separate
// regions of the file are not merged hunk by hunk; they conflict too.
func threeWayText(base, ours, theirs string, names Names) (string, bool) {
	if ours == theirs {
		return ours, true
	}
	if base == ours {
		return theirs, true
	}
	if base == theirs {
		return ours, true
	}

	dmp := diffmatchpatch.New()
	baseToOurs := dmp.DiffMain(base, ours, false)
	baseToTheirs := dmp.DiffMain(base, theirs, false)

	oursChanged := hasChange(baseToOurs)
	theirsChanged := hasChange(baseToTheirs)
	if oursChanged && !theirsChanged {
		return ours, true
	}
	if theirsChanged && !oursChanged {
		return theirs, true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<<<<<<< %s\n", names.Ours)
	b.WriteString(ours)
	if !strings.HasSuffix(ours, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("=======\n")
	b.WriteString(theirs)
	if !strings.HasSuffix(theirs, "\n") {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, ">>>>>>> %s\n", names.Theirs)
	return b.String(), false
}

func hasChange(diffs []diffmatchpatch.Diff) bool {
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			return true
		}
	}
	return false
}
