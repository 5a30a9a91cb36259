package merge_test

import (
	"context"
	"strings"
	"testing"

	"github.com/grahambrooks/gitkit/backend/memory"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/index"
	"github.com/grahambrooks/gitkit/merge"
	"github.com/grahambrooks/gitkit/object"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blob(t *testing.T, store *objstore.Store, content string) hash.OID {
	t.Helper()
	oid, err := store.WriteObject(objstore.TypeBlob, []byte(content))
	require.NoError(t, err)
	return oid
}

func tree(t *testing.T, store *objstore.Store, entries ...object.TreeEntry) hash.OID {
	t.Helper()
	tr := &object.Tree{Entries: entries}
	oid, err := store.WriteObject(objstore.TypeTree, tr.Encode(hash.FormatSHA1))
	require.NoError(t, err)
	return oid
}

func TestMergeCleanWhenOnlyOneSideChanges(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)

	baseBlob := blob(t, store, "hello\n")
	oursBlob := blob(t, store, "hello world\n")

	baseTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: baseBlob})
	oursTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: oursBlob})
	theirsTree := baseTree // unchanged on theirs' side

	ix := index.New(hash.FormatSHA1)
	res, err := merge.Merge(context.Background(), store, ix, baseTree, oursTree, theirsTree, merge.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.False(t, res.TreeOID.IsZero())

	_, data, err := store.ReadObject(res.TreeOID)
	require.NoError(t, err)
	merged, err := object.DecodeTree(hash.FormatSHA1, data)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	assert.Equal(t, oursBlob, merged.Entries[0].OID)

	entry, ok := ix.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, oursBlob, entry.OID)
}

func TestMergeConflictWhenBothSidesModifyDifferently(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)

	baseBlob := blob(t, store, "line one\nline two\n")
	oursBlob := blob(t, store, "ours change\nline two\n")
	theirsBlob := blob(t, store, "theirs change\nline two\n")

	baseTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: baseBlob})
	oursTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: oursBlob})
	theirsTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: theirsBlob})

	ix := index.New(hash.FormatSHA1)
	res, err := merge.Merge(context.Background(), store, ix, baseTree, oursTree, theirsTree, merge.Options{})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "a.txt", res.Conflicts[0].Path)

	stages := ix.Stages("a.txt")
	assert.Len(t, stages, 3)
	assert.Equal(t, baseBlob, stages[index.StageBase].OID)
	assert.Equal(t, oursBlob, stages[index.StageOurs].OID)
	assert.Equal(t, theirsBlob, stages[index.StageTheirs].OID)
}

func TestMergeConflictOnDeleteModify(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	baseBlob := blob(t, store, "content\n")
	theirsBlob := blob(t, store, "modified content\n")

	baseTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: baseBlob})
	oursTree := tree(t, store) // deleted on ours
	theirsTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: theirsBlob})

	ix := index.New(hash.FormatSHA1)
	res, err := merge.Merge(context.Background(), store, ix, baseTree, oursTree, theirsTree, merge.Options{})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
}

func TestMergeSameChangeBothSidesIsClean(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	baseBlob := blob(t, store, "content\n")
	sameBlob := blob(t, store, "same new content\n")

	baseTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: baseBlob})
	oursTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: sameBlob})
	theirsTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: sameBlob})

	ix := index.New(hash.FormatSHA1)
	res, err := merge.Merge(context.Background(), store, ix, baseTree, oursTree, theirsTree, merge.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
}

func TestMergeDryRunDoesNotWriteToStoreOrIndex(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	baseBlob := blob(t, store, "hello\n")
	oursBlob := blob(t, store, "hello world\n")

	baseTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: baseBlob})
	oursTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: oursBlob})

	ix := index.New(hash.FormatSHA1)
	res, err := merge.Merge(context.Background(), store, ix, baseTree, oursTree, baseTree, merge.Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.False(t, res.TreeOID.IsZero())
	assert.Equal(t, 0, ix.Len())
}

func TestContentConflictStagesOursBlob(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	baseBlob := blob(t, store, "shared\n")
	oursBlob := blob(t, store, "ours only\n")
	theirsBlob := blob(t, store, "theirs only\n")

	baseTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: baseBlob})
	oursTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: oursBlob})
	theirsTree := tree(t, store, object.TreeEntry{Mode: object.ModeRegular, Name: "a.txt", OID: theirsBlob})

	ix := index.New(hash.FormatSHA1)
	res, err := merge.Merge(context.Background(), store, ix, baseTree, oursTree, theirsTree, merge.Options{})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)

	stages := ix.Stages("a.txt")
	_, data, err := store.ReadObject(stages[index.StageOurs].OID)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "ours only"))
}
