package idx_test

import (
	"testing"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/grahambrooks/gitkit/idx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	b := hash.MustFromHex("4b825dc642cb6eb9a060e54bf8d69288fbee4904")
	packChecksum := make([]byte, hash.Size(hash.FormatSHA1))
	for i := range packChecksum {
		packChecksum[i] = byte(i)
	}

	entries := []idx.Entry{
		{OID: a, Offset: 12, CRC32: 0xdeadbeef},
		{OID: b, Offset: 999999999, CRC32: 0x1},
	}

	encoded, err := idx.Encode(hash.FormatSHA1, entries, packChecksum)
	require.NoError(t, err)

	decoded, err := idx.Decode(hash.FormatSHA1, encoded)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 2)

	off, ok := decoded.FindOffset(a)
	require.True(t, ok)
	assert.EqualValues(t, 12, off)

	off, ok = decoded.FindOffset(b)
	require.True(t, ok)
	assert.EqualValues(t, 999999999, off)

	assert.Equal(t, packChecksum, decoded.PackChecksum)
}

func TestFindOffsetMissing(t *testing.T) {
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	packChecksum := make([]byte, hash.Size(hash.FormatSHA1))
	encoded, err := idx.Encode(hash.FormatSHA1, []idx.Entry{{OID: a, Offset: 1}}, packChecksum)
	require.NoError(t, err)

	decoded, err := idx.Decode(hash.FormatSHA1, encoded)
	require.NoError(t, err)

	missing := hash.MustFromHex("000000000000000000000000000000000000000a")
	_, ok := decoded.FindOffset(missing)
	assert.False(t, ok)
}

func TestDecodeRejectsCorruptTrailer(t *testing.T) {
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	packChecksum := make([]byte, hash.Size(hash.FormatSHA1))
	encoded, err := idx.Encode(hash.FormatSHA1, []idx.Entry{{OID: a, Offset: 1}}, packChecksum)
	require.NoError(t, err)

	encoded[len(encoded)-1] ^= 0xff
	_, err = idx.Decode(hash.FormatSHA1, encoded)
	assert.Error(t, err)
}

func TestOffsetOverflowLargerThan2GiB(t *testing.T) {
	a := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	packChecksum := make([]byte, hash.Size(hash.FormatSHA1))
	const bigOffset = int64(1) << 33 // 8 GiB, forces the overflow table
	encoded, err := idx.Encode(hash.FormatSHA1, []idx.Entry{{OID: a, Offset: bigOffset}}, packChecksum)
	require.NoError(t, err)

	decoded, err := idx.Decode(hash.FormatSHA1, encoded)
	require.NoError(t, err)
	off, ok := decoded.FindOffset(a)
	require.True(t, ok)
	assert.Equal(t, bigOffset, off)
}
