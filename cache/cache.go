// Package cache provides bounded, size-aware LRU caches for decoded
// objects and parsed pack indexes, mirroring the teacher's plumbing/cache
// package: a fixed byte budget rather than a fixed entry count, since
// object sizes vary by orders of magnitude and an entry-count limit
// would let a handful of huge blobs starve everything else.
package cache

import (
	"container/list"
	"sync"

	gkhash "github.com/grahambrooks/gitkit/hash"
)

// Default budgets, chosen to match the teacher's defaults.
const (
	DefaultObjectSize = 96 * 1024 * 1024
	DefaultBaseSize   = 10 * 1024 * 1024
)

// Object is a bounded LRU keyed by OID, holding arbitrary decoded
// object payloads (blobs, trees, commits, tags) up to a total byte
// budget across all entries.
type Object struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	ll       *list.List
	items    map[gkhash.OID]*list.Element
}

type objectEntry struct {
	oid  gkhash.OID
	data []byte
}

// NewObject constructs an Object cache with the given total byte budget.
func NewObject(maxBytes int64) *Object {
	return &Object{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[gkhash.OID]*list.Element),
	}
}

// Put inserts or refreshes data for oid, evicting least-recently-used
// entries until the cache fits within its byte budget.
func (c *Object) Put(oid gkhash.OID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[oid]; ok {
		old := el.Value.(*objectEntry)
		c.curBytes -= int64(len(old.data))
		old.data = data
		c.curBytes += int64(len(data))
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&objectEntry{oid: oid, data: data})
		c.items[oid] = el
		c.curBytes += int64(len(data))
	}

	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			break
		}
		e := back.Value.(*objectEntry)
		c.ll.Remove(back)
		delete(c.items, e.oid)
		c.curBytes -= int64(len(e.data))
	}
}

// Get returns data for oid and marks it most-recently-used.
func (c *Object) Get(oid gkhash.OID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[oid]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*objectEntry).data, true
}

// Len reports the current entry count, for tests and diagnostics.
func (c *Object) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Index caches parsed *idx.Index values by pack name, so repeated
// lookups against the same pack don't re-parse its fanout/OID tables.
// Unlike Object it is bounded by entry count: a repository rarely has
// more than a few dozen packs, and a parsed index's memory footprint
// is much flatter than an arbitrary blob's.
type Index struct {
	mu    sync.Mutex
	max   int
	ll    *list.List
	items map[string]*list.Element
}

type indexEntry struct {
	packName string
	value    any
}

// NewIndex constructs an Index cache holding at most max parsed indexes.
func NewIndex(max int) *Index {
	return &Index{max: max, ll: list.New(), items: make(map[string]*list.Element)}
}

// Put stores value (typically *idx.Index or *idx.MultiPackIndex) for packName.
func (c *Index) Put(packName string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[packName]; ok {
		el.Value.(*indexEntry).value = value
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&indexEntry{packName: packName, value: value})
	c.items[packName] = el
	for c.ll.Len() > c.max {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.items, back.Value.(*indexEntry).packName)
	}
}

// Get returns the cached value for packName, marking it most-recently-used.
func (c *Index) Get(packName string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[packName]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*indexEntry).value, true
}
