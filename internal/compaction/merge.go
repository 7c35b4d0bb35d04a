package compaction

import (
	"container/heap"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/compression"
	"github.com/nogodb/lsmdb/internal/sstable/filter"
	"github.com/nogodb/lsmdb/internal/sstable/table"
	"github.com/nogodb/lsmdb/internal/version"
)

// kvIterator is the minimal shape a compaction input needs; table.Iterator
// already satisfies it structurally.
type kvIterator interface {
	SeekToFirst()
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Close() error
}

type heapItem struct {
	it    kvIterator
	key   []byte
	value []byte
}

type mergeHeap struct {
	items []*heapItem
	cmp   *common.InternalKeyComparer
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	return h.cmp.Compare(h.items[i].key, h.items[j].key) < 0
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// mergingIterator produces internal-key-ordered output across every
// input file, each opened up front through the table cache (§4.13
// "do_compaction_work"). It always does per-file k-way merging rather
// than distinguishing the disjoint-level fast path the spec allows,
// which is correct in both cases at the cost of a few extra heap
// comparisons for non-overlapping levels.
type mergingIterator struct {
	h       mergeHeap
	closers []func()
}

func newMergingIterator(cache *tableCacheAdapter, icmp *common.InternalKeyComparer, files []*version.FileMetaData) (*mergingIterator, error) {
	m := &mergingIterator{h: mergeHeap{cmp: icmp}}
	for _, f := range files {
		it, closer, err := cache.NewIterator(f.FileNum, f.FileSize)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.closers = append(m.closers, closer)
		it.SeekToFirst()
		if it.Valid() {
			heap.Push(&m.h, &heapItem{it: it, key: it.Key(), value: it.Value()})
		} else {
			_ = it.Close()
		}
	}
	heap.Init(&m.h)
	return m, nil
}

func (m *mergingIterator) Valid() bool { return m.h.Len() > 0 }

func (m *mergingIterator) Key() []byte   { return m.h.items[0].key }
func (m *mergingIterator) Value() []byte { return m.h.items[0].value }

func (m *mergingIterator) Next() {
	top := m.h.items[0]
	top.it.Next()
	if top.it.Valid() {
		top.key, top.value = top.it.Key(), top.it.Value()
		heap.Fix(&m.h, 0)
	} else {
		_ = top.it.Close()
		heap.Pop(&m.h)
	}
}

// Close releases any inputs still resident in the heap (an early return
// before exhaustion) and every table cache handle acquired for this
// compaction.
func (m *mergingIterator) Close() error {
	for _, item := range m.h.items {
		_ = item.it.Close()
	}
	for _, c := range m.closers {
		c()
	}
	return nil
}

// tableCacheAdapter narrows tablecache.TableCache to what the merge loop
// needs, in terms of table.Iterator so kvIterator is satisfied directly.
type tableCacheAdapter struct {
	newIterator func(fileNum, fileSize uint64) (*table.Iterator, func(), error)
}

// NewTableCacheAdapter wraps a TableCache's iterator constructor so the
// merge loop can depend on the narrow kvIterator shape instead of the
// full tablecache API.
func NewTableCacheAdapter(newIterator func(fileNum, fileSize uint64) (*table.Iterator, func(), error)) *tableCacheAdapter {
	return &tableCacheAdapter{newIterator: newIterator}
}

func (a *tableCacheAdapter) NewIterator(fileNum, fileSize uint64) (kvIterator, func(), error) {
	it, closer, err := a.newIterator(fileNum, fileSize)
	if err != nil {
		return nil, nil, err
	}
	return it, closer, nil
}

// Options bundles what DoCompactionWork needs beyond the Request itself.
type Options struct {
	Storage        go_fs.Storage
	Comparer       common.IComparer
	BlockSize      int
	RestartInterval int
	Compression    compression.ICompression
	FilterMethod   filter.Method
	TargetFileSize uint64
	NewFileNumber  func() uint64
}

// Result is what a completed compaction contributes to the next Edit.
type Result struct {
	Outputs []version.FileMetaData
}

// DoCompactionWork runs the snapshot-aware k-way merge described in
// §4.13. smallestSnapshot is min(oldest live snapshot sequence,
// last_sequence); entries at or below it are only kept when they are the
// newest surviving version of their user key, or (for deletes) when an
// older live value might still exist deeper than level+1.
func DoCompactionWork(req *Request, opts Options, cache *tableCacheAdapter, icmp *common.InternalKeyComparer, smallestSnapshot common.SeqNum, hasFileBelow func(level int, userKey []byte) bool) (*Result, error) {
	all := append(append([]*version.FileMetaData{}, req.Inputs...), req.NextInputs...)
	mi, err := newMergingIterator(cache, icmp, all)
	if err != nil {
		return nil, err
	}
	defer mi.Close()

	result := &Result{}
	var builder *table.Builder
	var w go_fs.Writable
	var curFileNum uint64
	var curSmallest, curLargest common.InternalKey
	var haveCurrent bool

	closeOutput := func() error {
		if builder == nil {
			return nil
		}
		if err := builder.Finish(); err != nil {
			return err
		}
		if err := w.Finish(); err != nil {
			return err
		}
		result.Outputs = append(result.Outputs, version.FileMetaData{
			FileNum:  curFileNum,
			FileSize: builder.FileSize(),
			Smallest: curSmallest,
			Largest:  curLargest,
		})
		builder = nil
		return nil
	}

	openOutput := func() error {
		curFileNum = opts.NewFileNumber()
		var fd go_fs.FileDesc
		var err error
		w, fd, err = opts.Storage.Create(go_fs.TypeTable, int64(curFileNum))
		_ = fd
		if err != nil {
			return err
		}
		builder = table.NewBuilder(w, table.BuilderOptions{
			Comparer:        opts.Comparer,
			BlockSize:       opts.BlockSize,
			RestartInterval: opts.RestartInterval,
			Compression:     opts.Compression,
			FilterMethod:    opts.FilterMethod,
		})
		haveCurrent = false
		return nil
	}

	grandparentIdx := 0
	grandparentOverlap := uint64(0)
	seenFirstGrandparentKey := false

	var currentUserKey []byte
	var haveCurrentUserKey bool
	var lastSequenceForKey common.SeqNum = common.SeqNumMax

	for ; mi.Valid(); mi.Next() {
		ik := common.DeserializeKey(mi.Key())

		// Advance the grandparent cursor and accumulate overlap bytes
		// for the output-splitting decision (§4.13 "Output splitting").
		for grandparentIdx < len(req.Grandparents) &&
			icmp.User.Compare(req.Grandparents[grandparentIdx].Largest.UserKey, ik.UserKey) < 0 {
			if seenFirstGrandparentKey {
				grandparentOverlap += req.Grandparents[grandparentIdx].FileSize
			}
			grandparentIdx++
		}
		seenFirstGrandparentKey = true

		drop := false
		if !haveCurrentUserKey || icmp.User.Compare(ik.UserKey, currentUserKey) != 0 {
			currentUserKey = append(currentUserKey[:0], ik.UserKey...)
			haveCurrentUserKey = true
			lastSequenceForKey = common.SeqNumMax
		}
		if lastSequenceForKey <= smallestSnapshot {
			// Shadowed by a newer version of this user key already kept
			// or dropped at or below the snapshot boundary.
			drop = true
		} else if ik.IsDelete() && ik.SeqNum() <= smallestSnapshot && !hasFileBelow(req.Level+2, ik.UserKey) {
			drop = true
		}
		lastSequenceForKey = ik.SeqNum()

		if drop {
			continue
		}

		if builder != nil && grandparentOverlap > opts.TargetFileSize*MaxGrandParentOverlapBytes {
			if err := closeOutput(); err != nil {
				return nil, err
			}
			grandparentOverlap = 0
		}
		if builder == nil {
			if err := openOutput(); err != nil {
				return nil, err
			}
		}
		if err := builder.Add(mi.Key(), mi.Value()); err != nil {
			return nil, err
		}
		if !haveCurrent {
			curSmallest = ik.Clone()
			haveCurrent = true
		}
		curLargest = ik.Clone()

		if builder.FileSize() >= opts.TargetFileSize {
			if err := closeOutput(); err != nil {
				return nil, err
			}
			grandparentOverlap = 0
		}
	}
	if err := closeOutput(); err != nil {
		return nil, err
	}
	return result, nil
}
