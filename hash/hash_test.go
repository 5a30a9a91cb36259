package hash_test

import (
	"testing"

	"github.com/grahambrooks/gitkit/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumBlobHelloWorld(t *testing.T) {
	payload := "Hello world!\n"
	wrapped := []byte("blob 13\x00" + payload)

	o, err := hash.Sum(hash.FormatSHA1, wrapped)
	require.NoError(t, err)
	assert.Equal(t, "af5626b4a114abcb82d63db7c8082c3c4756e51b"[:40], o.String())
}

func TestEmptyTreeConstant(t *testing.T) {
	o, err := hash.Sum(hash.FormatSHA1, []byte("tree 0\x00"))
	require.NoError(t, err)
	assert.Equal(t, hash.EmptyTreeSHA1Hex, o.String())
	assert.True(t, hash.EmptyTree(hash.FormatSHA1).Equal(o))
}

func TestFromHexRoundTrip(t *testing.T) {
	o1 := hash.MustFromHex("af5626b4a114abcb82d63db7c8082c3c4756e51b")
	o2, ok := hash.FromBytes(hash.FormatSHA1, o1.Bytes())
	require.True(t, ok)
	assert.True(t, o1.Equal(o2))
	assert.Equal(t, o1.String(), o2.String())
}

func TestFromHexRejectsBadLength(t *testing.T) {
	_, ok := hash.FromHex("deadbeef")
	assert.False(t, ok)
}

func TestValidHex(t *testing.T) {
	assert.True(t, hash.ValidHex("af5626b4a114abcb82d63db7c8082c3c4756e51b"))
	assert.True(t, hash.ValidHex("AF5626B4A114ABCB82D63DB7C8082C3C4756E51B"))
	assert.False(t, hash.ValidHex("not-a-hash"))
}

func TestDecodeHexLenientTruncatesOddNibble(t *testing.T) {
	b, err := hash.DecodeHexLenient("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xab}, b)
}

func TestZeroOID(t *testing.T) {
	z := hash.ZeroOID(hash.FormatSHA1)
	assert.True(t, z.IsZero())
	assert.Equal(t, "0000000000000000000000000000000000000000", z.String())
}
