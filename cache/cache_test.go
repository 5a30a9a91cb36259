package cache_test

import (
	"testing"

	"github.com/grahambrooks/gitkit/cache"
	"github.com/grahambrooks/gitkit/hash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectCacheEvictsLeastRecentlyUsed(t *testing.T) {
	oids := []hash.OID{
		hash.MustFromHex("000000000000000000000000000000000000000a"),
		hash.MustFromHex("000000000000000000000000000000000000000b"),
		hash.MustFromHex("000000000000000000000000000000000000000c"),
	}

	c := cache.NewObject(20)
	c.Put(oids[0], make([]byte, 10))
	c.Put(oids[1], make([]byte, 10))
	// Touch oids[0] so oids[1] becomes the least-recently-used entry.
	_, _ = c.Get(oids[0])
	c.Put(oids[2], make([]byte, 10))

	_, ok := c.Get(oids[1])
	assert.False(t, ok, "least-recently-used entry should have been evicted")

	_, ok = c.Get(oids[0])
	assert.True(t, ok)
	_, ok = c.Get(oids[2])
	assert.True(t, ok)
}

func TestIndexCacheBoundedByCount(t *testing.T) {
	c := cache.NewIndex(2)
	c.Put("pack-a", 1)
	c.Put("pack-b", 2)
	c.Put("pack-c", 3)

	_, ok := c.Get("pack-a")
	assert.False(t, ok)

	v, ok := c.Get("pack-b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = c.Get("pack-c")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}
