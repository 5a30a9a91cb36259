package varint_test

import (
	"testing"

	"github.com/grahambrooks/gitkit/varint"
	"github.com/stretchr/testify/assert"
)

func TestObjectHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		objType int
		size    int64
	}{
		{1, 0}, {2, 13}, {3, 15}, {1, 16}, {4, 1000000}, {3, 0x0fffffff},
	}
	for _, c := range cases {
		enc := varint.EncodeObjectHeader(c.objType, c.size)
		gotType, gotSize, n := varint.DecodeObjectHeader(enc)
		assert.Equal(t, c.objType, gotType)
		assert.Equal(t, c.size, gotSize)
		assert.Equal(t, len(enc), n)
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	for _, off := range []int64{0, 1, 127, 128, 129, 16383, 16384, 1 << 20, 1 << 40} {
		enc := varint.EncodeOffset(off)
		got, n := varint.DecodeOffset(enc)
		assert.Equal(t, off, got)
		assert.Equal(t, len(enc), n)
	}
}
