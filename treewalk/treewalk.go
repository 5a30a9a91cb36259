// Package treewalk implements the unified N-tree walker (component
// C7): a single traversal over any combination of {commit-tree, index,
// worktree} sources, visiting paths in lexicographic order with
// directories compared as if suffixed "/". See specification §4.4.
//
// This generalizes go-git's two-tree merkletrie differ to an arbitrary
// number of simultaneously-walked sources, matching a merge's need to
// see base/ours/theirs at once.
package treewalk

import (
	"context"
	"fmt"
	"sort"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/object"
)

// Entry is one child seen at a path within a single source. A nil
// Entry at a path (absent from the `Entries` slice passed to MapFunc)
// means that source has nothing there.
type Entry struct {
	Name string
	Mode object.FileMode
	OID  hash.OID
}

// Source produces the children of a directory path ("" is the root).
// A commit-tree source resolves child trees lazily via an object
// store; an index source filters staged entries by path prefix; a
// worktree source lists a real directory.
type Source interface {
	// Children returns the immediate children of dir, sorted by name
	// with directories already compared as if suffixed "/".
	Children(ctx context.Context, dir string) ([]Entry, error)
}

// MapFunc is invoked once per visited path, receiving one Entry per
// source (nil where that source has nothing at this path).
type MapFunc func(path string, entries []*Entry) (any, error)

// ReduceFunc combines a mapped parent value with its already-folded
// children's values.
type ReduceFunc func(parent any, children []any) (any, error)

// ChildIter is the set of child directory names still to be walked,
// yielded one at a time to IterateFunc.
type ChildIter interface {
	Next() (name string, ok bool)
}

// IterateFunc drives recursion into child directories. It must consume
// every name from iter and invoke walk for each, collecting results. The
// default, DefaultIterate, does this sequentially; callers may
// opt in to Parallel for concurrent child recursion — sequential
// must remain the default since parallel recursion can cause file-lock
// contention on some filesystem-backed Source implementations.
type IterateFunc func(ctx context.Context, walk func(ctx context.Context, name string) (any, error), iter ChildIter) ([]any, error)

// DefaultIterate walks children one at a time in the order iter yields
// them, dropping any nil result (the "filtering undefined" default).
func DefaultIterate(ctx context.Context, walk func(ctx context.Context, name string) (any, error), iter ChildIter) ([]any, error) {
	var out []any
	for {
		name, ok := iter.Next()
		if !ok {
			break
		}
		v, err := walk(ctx, name)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}

// Parallel walks children concurrently, bounded by maxConcurrency. Not
// the default per spec.md §4.4: some backend.Interface implementations
// serialize directory reads behind a lock, so unconditional parallel
// recursion can thrash rather than help.
func Parallel(maxConcurrency int) IterateFunc {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return func(ctx context.Context, walk func(ctx context.Context, name string) (any, error), iter ChildIter) ([]any, error) {
		type job struct {
			idx  int
			name string
		}
		var jobs []job
		for {
			name, ok := iter.Next()
			if !ok {
				break
			}
			jobs = append(jobs, job{idx: len(jobs), name: name})
		}

		results := make([]any, len(jobs))
		errs := make([]error, len(jobs))
		sem := make(chan struct{}, maxConcurrency)
		done := make(chan int, len(jobs))

		for _, j := range jobs {
			j := j
			sem <- struct{}{}
			go func() {
				defer func() { <-sem; done <- j.idx }()
				v, err := walk(ctx, j.name)
				results[j.idx] = v
				errs[j.idx] = err
			}()
		}
		for range jobs {
			<-done
		}

		var out []any
		for i, v := range results {
			if errs[i] != nil {
				return nil, errs[i]
			}
			if v != nil {
				out = append(out, v)
			}
		}
		return out, nil
	}
}

type nameIter struct {
	names []string
	pos   int
}

func (it *nameIter) Next() (string, bool) {
	if it.pos >= len(it.names) {
		return "", false
	}
	name := it.names[it.pos]
	it.pos++
	return name, true
}

// Walk traverses sources together starting at the root, calling mapFn
// once per visited path and folding results with reduceFn. iterateFn
// controls recursion order/concurrency; pass DefaultIterate for the
// required sequential default.
func Walk(ctx context.Context, sources []Source, mapFn MapFunc, reduceFn ReduceFunc, iterateFn IterateFunc) (any, error) {
	return walkDir(ctx, sources, "", mapFn, reduceFn, iterateFn)
}

func walkDir(ctx context.Context, sources []Source, dir string, mapFn MapFunc, reduceFn ReduceFunc, iterateFn IterateFunc) (any, error) {
	perSource := make([][]Entry, len(sources))
	for i, src := range sources {
		entries, err := src.Children(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("treewalk: source %d at %q: %w", i, dir, err)
		}
		perSource[i] = entries
	}

	names := mergedSortedNames(perSource)
	iter := &nameIter{names: names}

	childValues, err := iterateFn(ctx, func(ctx context.Context, name string) (any, error) {
		childPath := name
		if dir != "" {
			childPath = dir + "/" + name
		}
		entries := make([]*Entry, len(sources))
		isDir := false
		for i, es := range perSource {
			for j := range es {
				if es[j].Name == name {
					e := es[j]
					entries[i] = &e
					if e.Mode.IsDir() {
						isDir = true
					}
					break
				}
			}
		}

		mapped, err := mapFn(childPath, entries)
		if err != nil {
			return nil, err
		}

		if !isDir {
			return mapped, nil
		}

		children, err := walkDir(ctx, sources, childPath, mapFn, reduceFn, iterateFn)
		if err != nil {
			return nil, err
		}
		var kids []any
		if children != nil {
			kids = []any{children}
		}
		return reduceFn(mapped, kids)
	}, iter)
	if err != nil {
		return nil, err
	}

	if dir == "" && len(childValues) == 0 {
		return nil, nil
	}
	return reduceFn(nil, childValues)
}

// sortKey compares as if directories were suffixed "/".
func sortKey(name string, isDir bool) string {
	if isDir {
		return name + "/"
	}
	return name
}

func mergedSortedNames(perSource [][]Entry) []string {
	seen := make(map[string]bool)
	isDirOf := make(map[string]bool)
	var names []string
	for _, entries := range perSource {
		for _, e := range entries {
			if !seen[e.Name] {
				seen[e.Name] = true
				names = append(names, e.Name)
			}
			if e.Mode.IsDir() {
				isDirOf[e.Name] = true
			}
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return sortKey(names[i], isDirOf[names[i]]) < sortKey(names[j], isDirOf[names[j]])
	})
	return names
}
