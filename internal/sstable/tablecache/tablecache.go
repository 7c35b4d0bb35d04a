// Package tablecache maps a table's file number to an open table.Table
// handle (§4.10), so repeated point-gets and iterator creation against
// the same file don't each pay the cost of re-reading its footer and
// index block.
//
// internal/cache's sharded LRU is specialized to byte-slice payloads
// (it backs the block cache), so it cannot hold live *table.Table
// handles with their own Close-on-evict lifecycle; TableCache is a
// small dedicated LRU over whole tables: a single recency list with a
// capacity bound, where entries still referenced are not evicted.
package tablecache

import (
	"container/list"
	"sync"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/cache"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/filter"
	"github.com/nogodb/lsmdb/internal/sstable/table"
)

// Options configures how newly opened tables are read.
type Options struct {
	Comparer     common.IComparer
	FilterMethod filter.Method
	BlockCache   *cache.Cache
	Paranoid     bool
}

type entry struct {
	fileNum uint64
	fileSz  uint64
	tbl     *table.Table
	rd      go_fs.Readable
	refs    int
	elem    *list.Element
}

// TableCache is safe for concurrent use.
type TableCache struct {
	mu       sync.Mutex
	storage  go_fs.Storage
	opts     Options
	capacity int
	entries  map[uint64]*entry
	lru      *list.List // most-recently-used at the front
}

func New(storage go_fs.Storage, capacity int, opts Options) *TableCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &TableCache{
		storage:  storage,
		opts:     opts,
		capacity: capacity,
		entries:  make(map[uint64]*entry),
		lru:      list.New(),
	}
}

func (c *TableCache) findOrOpen(fileNum, fileSize uint64) (*entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[fileNum]; ok {
		c.lru.MoveToFront(e.elem)
		e.refs++
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	rd, _, err := c.storage.Open(go_fs.TypeTable, int64(fileNum), 0)
	if err != nil {
		return nil, err
	}
	tbl, err := table.Open(rd, fileSize, table.Options{
		Comparer:     c.opts.Comparer,
		FilterMethod: c.opts.FilterMethod,
		BlockCache:   c.opts.BlockCache,
		Paranoid:     c.opts.Paranoid,
		FileNum:      fileNum,
	})
	if err != nil {
		_ = rd.Close()
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[fileNum]; ok {
		// Lost a race to open the same file; keep the existing entry and
		// discard the redundant one.
		_ = rd.Close()
		c.lru.MoveToFront(e.elem)
		e.refs++
		return e, nil
	}
	e := &entry{fileNum: fileNum, fileSz: fileSize, tbl: tbl, rd: rd, refs: 1}
	e.elem = c.lru.PushFront(fileNum)
	c.entries[fileNum] = e
	c.evictIfNeeded()
	return e, nil
}

func (c *TableCache) evictIfNeeded() {
	for len(c.entries) > c.capacity {
		back := c.lru.Back()
		if back == nil {
			return
		}
		num := back.Value.(uint64)
		e := c.entries[num]
		if e.refs > 0 {
			// In use; can't evict yet. Move to front so we don't spin on it.
			c.lru.MoveToFront(back)
			return
		}
		c.lru.Remove(back)
		delete(c.entries, num)
		_ = e.rd.Close()
	}
}

func (c *TableCache) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.refs == 0 && c.entries[e.fileNum] != e {
		// Evicted while still in use; close it now that the last user is done.
		_ = e.rd.Close()
	}
	c.evictIfNeeded()
}

// Get performs a point lookup for target in the table identified by
// fileNum/fileSize.
func (c *TableCache) Get(fileNum, fileSize uint64, target []byte, save table.Saver) (bool, error) {
	e, err := c.findOrOpen(fileNum, fileSize)
	if err != nil {
		return false, err
	}
	defer c.release(e)
	return e.tbl.Get(target, save)
}

// NewIterator returns an iterator over the table identified by
// fileNum/fileSize. The returned closer must be called when the caller
// is done iterating, releasing the cache's hold on the table.
func (c *TableCache) NewIterator(fileNum, fileSize uint64) (*table.Iterator, func(), error) {
	e, err := c.findOrOpen(fileNum, fileSize)
	if err != nil {
		return nil, nil, err
	}
	it := e.tbl.NewIterator()
	return it, func() { c.release(e) }, nil
}

// Evict removes fileNum from the cache, closing its underlying file.
// Called when a file is about to be unlinked from disk so no cached
// handle outlives it.
func (c *TableCache) Evict(fileNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fileNum]
	if !ok {
		return
	}
	c.lru.Remove(e.elem)
	delete(c.entries, fileNum)
	if e.refs == 0 {
		_ = e.rd.Close()
	}
}

// Close shuts down the cache, closing every resident table.
func (c *TableCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		_ = e.rd.Close()
	}
	c.entries = make(map[uint64]*entry)
	c.lru.Init()
}
