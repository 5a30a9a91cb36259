package index_test

import (
	"testing"
	"time"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(path string, stage index.Stage, oid hash.OID) index.Entry {
	return index.Entry{
		Path:  path,
		Stage: stage,
		Mode:  index.ModeRegular,
		OID:   oid,
		Stat: index.Stat{
			CTime: time.Unix(1700000000, 0).UTC(),
			MTime: time.Unix(1700000000, 0).UTC(),
			Size:  12,
		},
	}
}

func TestInsertGetRemove(t *testing.T) {
	ix := index.New(hash.FormatSHA1)
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")

	ix.Insert(testEntry("a.txt", index.StageMerged, a))
	got, ok := ix.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, a, got.OID)

	assert.True(t, ix.Remove("a.txt"))
	_, ok = ix.Get("a.txt")
	assert.False(t, ok)
}

func TestConflictStagesCoexist(t *testing.T) {
	ix := index.New(hash.FormatSHA1)
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	b := hash.MustFromHex("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

	ix.Insert(testEntry("conflict.txt", index.StageBase, a))
	ix.Insert(testEntry("conflict.txt", index.StageOurs, a))
	ix.Insert(testEntry("conflict.txt", index.StageTheirs, b))

	assert.True(t, ix.HasConflicts())
	stages := ix.Stages("conflict.txt")
	assert.Len(t, stages, 3)
	assert.Equal(t, b, stages[index.StageTheirs].OID)
}

func TestIterSortedByPathThenStage(t *testing.T) {
	ix := index.New(hash.FormatSHA1)
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")

	ix.Insert(testEntry("b.txt", index.StageMerged, a))
	ix.Insert(testEntry("a.txt", index.StageMerged, a))
	ix.Insert(testEntry("a/nested.txt", index.StageMerged, a))

	entries := ix.Iter("")
	require.Len(t, entries, 3)
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	assert.Equal(t, []string{"a.txt", "a/nested.txt", "b.txt"}, paths)
}

func TestEncodeDecodeRoundTripV2(t *testing.T) {
	ix := index.New(hash.FormatSHA1)
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	b := hash.MustFromHex("4b825dc642cb6eb9a060e54bf8d69288fbee4904")

	ix.Insert(testEntry("dir/file-one.txt", index.StageMerged, a))
	ix.Insert(testEntry("file-two.txt", index.StageMerged, b))

	encoded, err := index.Encode(ix, hash.FormatSHA1)
	require.NoError(t, err)

	decoded, err := index.Decode(hash.FormatSHA1, encoded)
	require.NoError(t, err)
	assert.Equal(t, 2, decoded.Len())

	got, ok := decoded.Get("dir/file-one.txt")
	require.True(t, ok)
	assert.Equal(t, a, got.OID)
	assert.Equal(t, index.ModeRegular, got.Mode)

	got2, ok := decoded.Get("file-two.txt")
	require.True(t, ok)
	assert.Equal(t, b, got2.OID)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := index.Decode(hash.FormatSHA1, []byte("NOPE\x00\x00\x00\x02\x00\x00\x00\x00"))
	assert.Error(t, err)
}

func TestUnknownExtensionsSurviveRoundTrip(t *testing.T) {
	ix := index.New(hash.FormatSHA1)
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	ix.Insert(testEntry("a.txt", index.StageMerged, a))

	encoded, err := index.Encode(ix, hash.FormatSHA1)
	require.NoError(t, err)

	body := encoded[:len(encoded)-hash.Size(hash.FormatSHA1)]
	withExt := append(append([]byte(nil), body...), []byte("ZZZZ\x00\x00\x00\x03abc")...)
	h, err := hash.New(hash.FormatSHA1)
	require.NoError(t, err)
	h.Write(withExt)
	withExt = h.Sum(withExt)

	decoded, err := index.Decode(hash.FormatSHA1, withExt)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Len())

	reencoded, err := index.Encode(decoded, hash.FormatSHA1)
	require.NoError(t, err)
	assert.Equal(t, withExt, reencoded)
}
