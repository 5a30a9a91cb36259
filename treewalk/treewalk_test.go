package treewalk_test

import (
	"context"
	"testing"

	"github.com/grahambrooks/gitkit/backend/memory"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/treewalk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlob(t *testing.T, store *objstore.Store, content string) hash.OID {
	t.Helper()
	oid, err := store.WriteObject(objstore.TypeBlob, []byte(content))
	require.NoError(t, err)
	return oid
}

func TestWalkVisitsPathsInSortedOrderWithDirSuffix(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)

	fileBlob := writeBlob(t, store, "hello")
	nestedBlob := writeBlob(t, store, "nested")

	subtree := &object.Tree{Entries: []object.TreeEntry{
		{Mode: object.ModeRegular, Name: "inner.txt", OID: nestedBlob},
	}}
	subtreeOID, err := store.WriteObject(objstore.TypeTree, subtree.Encode(hash.FormatSHA1))
	require.NoError(t, err)

	root := &object.Tree{Entries: []object.TreeEntry{
		{Mode: object.ModeRegular, Name: "a.txt", OID: fileBlob},
		{Mode: object.ModeDir, Name: "a", OID: subtreeOID},
	}}
	rootOID, err := store.WriteObject(objstore.TypeTree, root.Encode(hash.FormatSHA1))
	require.NoError(t, err)

	src := treewalk.NewTreeSource(store, rootOID)

	var visited []string
	mapFn := func(path string, entries []*treewalk.Entry) (any, error) {
		visited = append(visited, path)
		return path, nil
	}
	reduceFn := func(parent any, children []any) (any, error) { return parent, nil }

	_, err = treewalk.Walk(context.Background(), []treewalk.Source{src}, mapFn, reduceFn, treewalk.DefaultIterate)
	require.NoError(t, err)

	// "a.txt" sorts before "a" (the directory), compared as "a/": '.' < '/'.
	assert.Equal(t, []string{"a.txt", "a", "a/inner.txt"}, visited)
}

func TestWalkExposesAsymmetricPresenceAcrossSources(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	blobA := writeBlob(t, store, "only in tree one")

	treeOne := &object.Tree{Entries: []object.TreeEntry{{Mode: object.ModeRegular, Name: "only-a.txt", OID: blobA}}}
	oidOne, err := store.WriteObject(objstore.TypeTree, treeOne.Encode(hash.FormatSHA1))
	require.NoError(t, err)

	treeTwo := &object.Tree{}
	oidTwo, err := store.WriteObject(objstore.TypeTree, treeTwo.Encode(hash.FormatSHA1))
	require.NoError(t, err)

	srcOne := treewalk.NewTreeSource(store, oidOne)
	srcTwo := treewalk.NewTreeSource(store, oidTwo)

	var sawNilInSecondSource bool
	mapFn := func(path string, entries []*treewalk.Entry) (any, error) {
		if entries[0] != nil && entries[1] == nil {
			sawNilInSecondSource = true
		}
		return nil, nil
	}
	reduceFn := func(parent any, children []any) (any, error) { return nil, nil }

	_, err = treewalk.Walk(context.Background(), []treewalk.Source{srcOne, srcTwo}, mapFn, reduceFn, treewalk.DefaultIterate)
	require.NoError(t, err)
	assert.True(t, sawNilInSecondSource)
}

func TestMergeBaseFindsCommonAncestor(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)

	makeCommit := func(parents []hash.OID, msg string) hash.OID {
		treeOID := hash.EmptyTree(hash.FormatSHA1)
		sig := object.Signature{Name: "t", Email: "t@example.com"}
		c := &object.Commit{TreeOID: treeOID, Parents: parents, Author: sig, Committer: sig, Message: msg}
		oid, err := store.WriteObject(objstore.TypeCommit, c.Encode())
		require.NoError(t, err)
		return oid
	}

	base := makeCommit(nil, "base\n")
	left := makeCommit([]hash.OID{base}, "left\n")
	right := makeCommit([]hash.OID{base}, "right\n")

	got, err := treewalk.MergeBase(store, left, right)
	require.NoError(t, err)
	assert.Equal(t, base, got)
}
