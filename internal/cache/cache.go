package cache

import "sync/atomic"

// Cache is the public entry point used by the table reader and table
// cache: a capacity-bounded, sharded LRU keyed by (file number, a
// per-file discriminator -- typically a block's byte offset).
type Cache struct {
	m      IBlockCache
	nextID uint64
}

// New creates a Cache with the given total capacity in bytes, split
// evenly across an internally chosen number of shards.
func New(capacityBytes int64) *Cache {
	return &Cache{m: NewMap(WithMaxSize(capacityBytes))}
}

// NewID allocates a process-unique identifier that callers can use as
// the file-number component of a cache key -- handy for cache users that
// are not backed by an on-disk file number, such as an iterator's scratch
// state.
func (c *Cache) NewID() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

// Insert adds value under (fileNum, key), evicting older entries if the
// cache is over capacity, and returns a handle pinning it in the cache
// until Release is called.
func (c *Cache) Insert(fileNum, key uint64, value []byte) (*Handle, bool) {
	if !c.m.Set(fileNum, key, Value(value)) {
		return nil, false
	}
	lv, ok := c.m.Get(fileNum, key)
	if !ok {
		return nil, false
	}
	h, ok := lv.(*Handle)
	return h, ok
}

// Lookup returns a handle to the entry at (fileNum, key), or ok == false
// if it is not resident.
func (c *Cache) Lookup(fileNum, key uint64) (*Handle, bool) {
	lv, ok := c.m.Get(fileNum, key)
	if !ok {
		return nil, false
	}
	h, ok := lv.(*Handle)
	return h, ok
}

// Erase removes the entry at (fileNum, key) if present, regardless of its
// remaining reference count once those references are released.
func (c *Cache) Erase(fileNum, key uint64) {
	c.m.Delete(fileNum, key)
}

// Prune evicts every entry belonging to fileNum, so a removed table's
// blocks don't linger in cache. Nothing in this module calls it.
func (c *Cache) Prune(fileNum uint64) {
	c.m.PruneFileNum(fileNum)
}

func (c *Cache) SetCapacity(bytes int64) {
	c.m.SetCapacity(bytes)
}

func (c *Cache) Close() {
	c.m.Close(true)
}

func (c *Cache) Stats() Stats {
	return c.m.GetStats()
}
