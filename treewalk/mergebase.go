package treewalk

import (
	"fmt"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
)

// MergeBase finds a common ancestor of a and b (the first commit of a
// breadth-first walk from b that is also an ancestor of a) by walking
// parent links without a commit-graph generation-number index — a
// supplemented feature (SPEC_FULL.md) this module adds on top of the
// distilled specification's tree-walk contract, needed by the merge
// engine (C8) to find the base tree for a three-way merge.
//
// This is the plain O(ancestors) algorithm: mark every ancestor of a,
// then walk b's ancestors breadth-first until one is already marked.
func MergeBase(store *objstore.Store, a, b hash.OID) (hash.OID, error) {
	aAncestors, err := ancestorSet(store, a)
	if err != nil {
		return hash.OID{}, err
	}

	visited := make(map[string]bool)
	queue := []hash.OID{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		key := cur.String()
		if visited[key] {
			continue
		}
		visited[key] = true
		if aAncestors[key] {
			return cur, nil
		}
		c, err := loadCommit(store, cur)
		if err != nil {
			return hash.OID{}, err
		}
		queue = append(queue, c.Parents...)
	}
	return hash.OID{}, fmt.Errorf("treewalk: no common ancestor between %s and %s", a, b)
}

func ancestorSet(store *objstore.Store, start hash.OID) (map[string]bool, error) {
	set := make(map[string]bool)
	queue := []hash.OID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		key := cur.String()
		if set[key] {
			continue
		}
		set[key] = true
		c, err := loadCommit(store, cur)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.Parents...)
	}
	return set, nil
}

func loadCommit(store *objstore.Store, oid hash.OID) (*object.Commit, error) {
	_, data, err := store.ReadObject(oid)
	if err != nil {
		return nil, fmt.Errorf("treewalk: loading commit %s: %w", oid, err)
	}
	return object.DecodeCommit(oid.Format(), data)
}
