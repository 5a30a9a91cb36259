package objstore_test

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/grahambrooks/gitkit/backend/memory"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/idx"
	"github.com/grahambrooks/gitkit/objstore"
	"github.com/grahambrooks/gitkit/packfile"
	"github.com/grahambrooks/gitkit/varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadLooseObject(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)

	oid, err := store.WriteObject(objstore.TypeBlob, []byte("Hello world!\n"))
	require.NoError(t, err)
	assert.Equal(t, "af5626b4a114abcb82d63db7c8082c3c4756e51b", oid.String())

	typ, data, err := store.ReadObject(oid)
	require.NoError(t, err)
	assert.Equal(t, objstore.TypeBlob, typ)
	assert.Equal(t, "Hello world!\n", string(data))

	has, err := store.Has(oid)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestWriteObjectIsIdempotent(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	first, err := store.WriteObject(objstore.TypeBlob, []byte("same content"))
	require.NoError(t, err)
	second, err := store.WriteObject(objstore.TypeBlob, []byte("same content"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReadObjectNotFound(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	missing := hash.MustFromHex("000000000000000000000000000000000000000a")
	_, _, err := store.ReadObject(missing)
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestReadObjectFindsWholeObjectInPack(t *testing.T) {
	fs := memory.New()
	store := objstore.New(fs, hash.FormatSHA1)

	payload := []byte("Hello world!\n")
	oid := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")

	var body bytes.Buffer
	body.Write(varint.EncodeObjectHeader(int(packfile.TypeBlob), int64(len(payload))))
	zw := zlib.NewWriter(&body)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var full bytes.Buffer
	require.NoError(t, packfile.WriteHeader(&full, 1))
	offset := int64(full.Len())
	full.Write(body.Bytes())

	h, err := hash.New(hash.FormatSHA1)
	require.NoError(t, err)
	h.Write(full.Bytes())
	trailer := h.Sum(nil)
	full.Write(trailer)

	require.NoError(t, fs.MkdirAll("objects/pack"))
	require.NoError(t, fs.WriteAtomic("objects/pack/pack-test.pack", full.Bytes(), 0444))

	idxBytes, err := idx.Encode(hash.FormatSHA1, []idx.Entry{{OID: oid, Offset: offset}}, trailer)
	require.NoError(t, err)
	require.NoError(t, fs.WriteAtomic("objects/pack/pack-test.idx", idxBytes, 0444))

	typ, data, err := store.ReadObject(oid)
	require.NoError(t, err)
	assert.Equal(t, objstore.TypeBlob, typ)
	assert.Equal(t, payload, data)

	has, err := store.Has(oid)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMissingBlobHookServicesAbsentBlob(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	content := []byte("lazily fetched blob\n")

	wantOID, err := hash.Sum(hash.FormatSHA1, append([]byte("blob 20\x00"), content...))
	require.NoError(t, err)

	calls := 0
	store.SetMissingBlobHook(func(oid hash.OID) ([]byte, error) {
		calls++
		assert.Equal(t, wantOID, oid)
		return content, nil
	})

	typ, data, err := store.ReadObject(wantOID)
	require.NoError(t, err)
	assert.Equal(t, objstore.TypeBlob, typ)
	assert.Equal(t, content, data)
	assert.Equal(t, 1, calls)

	// Second read is serviced from local storage, not the hook again.
	_, _, err = store.ReadObject(wantOID)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestMissingBlobHookNilResultStaysNotFound(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	missing := hash.MustFromHex("000000000000000000000000000000000000000b")
	store.SetMissingBlobHook(func(oid hash.OID) ([]byte, error) { return nil, nil })

	_, _, err := store.ReadObject(missing)
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}

func TestIterateVisitsLooseObjects(t *testing.T) {
	store := objstore.New(memory.New(), hash.FormatSHA1)
	oid1, err := store.WriteObject(objstore.TypeBlob, []byte("one"))
	require.NoError(t, err)
	oid2, err := store.WriteObject(objstore.TypeBlob, []byte("two"))
	require.NoError(t, err)

	seen := map[hash.OID]bool{}
	require.NoError(t, store.Iterate(func(oid hash.OID, typ objstore.Type) error {
		seen[oid] = true
		assert.Equal(t, objstore.TypeBlob, typ)
		return nil
	}))
	assert.True(t, seen[oid1])
	assert.True(t, seen[oid2])
}
