package lsmdb

import (
	"container/heap"
	"context"

	"github.com/nogodb/lsmdb/internal/memtable"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/table"
	"github.com/nogodb/lsmdb/internal/version"
)

// dbKvIterator is the minimal shape a source needs to participate in
// DBIterator's merge: an encoded internal key plus its value, advanced
// one entry at a time.
type dbKvIterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Close() error
}

// memIterAdapter exposes a memtable.Iterator's decoded internal key as
// its encoded wire form, so it can share a heap with table.Iterator.
type memIterAdapter struct {
	it   *memtable.Iterator
	buf  []byte
}

func (a *memIterAdapter) Valid() bool { return a.it.Valid() }
func (a *memIterAdapter) Key() []byte {
	a.buf = a.it.Key().Encode()
	return a.buf
}
func (a *memIterAdapter) Value() []byte { return a.it.Value() }
func (a *memIterAdapter) Next()         { a.it.Next() }
func (a *memIterAdapter) Close() error  { return nil }

type dbHeapItem struct {
	key, value []byte
	it         dbKvIterator
}

type dbMergeHeap struct {
	items []*dbHeapItem
	icmp  *common.InternalKeyComparer
}

func (h *dbMergeHeap) Len() int { return len(h.items) }
func (h *dbMergeHeap) Less(i, j int) bool {
	return h.icmp.Compare(h.items[i].key, h.items[j].key) < 0
}
func (h *dbMergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *dbMergeHeap) Push(x any)    { h.items = append(h.items, x.(*dbHeapItem)) }
func (h *dbMergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// DBIterator yields the newest visible (user_key, value) pair at or
// below a fixed sequence number, in ascending user-key order, skipping
// tombstones and shadowed older versions (§4.15 "Iterators").
type DBIterator struct {
	h            dbMergeHeap
	closers      []func()
	seq          common.SeqNum
	icmp         *common.InternalKeyComparer
	userKey      []byte
	value        []byte
	valid        bool
	err          error
	db           *DB
	sampledFiles map[*version.FileMetaData]bool
	cur          *version.Version
}

// NewIterator builds an iterator over the memtable, immutable memtable
// (if any), and every on-disk table in the current version, bounded by
// snap (or the latest committed sequence if snap is nil). The returned
// iterator holds cache references until Close is called.
func (db *DB) NewIterator(ctx context.Context, snap *Snapshot) (*DBIterator, error) {
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return nil, err
	}
	mem, imm := db.mem, db.imm
	mem.Ref()
	if imm != nil {
		imm.Ref()
	}
	cur := db.vs.Current()
	cur.Ref()
	seq := db.vs.LastSequence()
	if snap != nil {
		seq = snap.seq
	}
	if err := db.mu.ReleaseCtx(context.Background()); err != nil {
		mem.Unref()
		if imm != nil {
			imm.Unref()
		}
		cur.Unref()
		return nil, err
	}

	dbit := &DBIterator{
		seq:          seq,
		icmp:         db.icmp,
		db:           db,
		cur:          cur,
		sampledFiles: make(map[*version.FileMetaData]bool),
	}
	dbit.h.icmp = db.icmp

	pushMem := func(m *memtable.MemTable) {
		it := m.NewIterator()
		it.SeekToFirst()
		a := &memIterAdapter{it: it}
		if a.Valid() {
			dbit.h.items = append(dbit.h.items, &dbHeapItem{key: append([]byte(nil), a.Key()...), value: a.Value(), it: a})
		}
	}
	pushMem(mem)
	dbit.closers = append(dbit.closers, mem.Unref)
	if imm != nil {
		pushMem(imm)
		dbit.closers = append(dbit.closers, imm.Unref)
	}

	tc := cur.TableCache()
	for level := 0; level < 7; level++ {
		for _, f := range cur.Files(level) {
			it, release, err := tc.NewIterator(f.FileNum, f.FileSize)
			if err != nil {
				dbit.Close()
				return nil, err
			}
			it.SeekToFirst()
			if !it.Valid() {
				_ = it.Close()
				release()
				continue
			}
			dbit.h.items = append(dbit.h.items, &dbHeapItem{key: append([]byte(nil), it.Key()...), value: it.Value(), it: it})
			dbit.closers = append(dbit.closers, release)
		}
	}
	dbit.closers = append(dbit.closers, cur.Unref)

	heap.Init(&dbit.h)
	dbit.advance()
	return dbit, nil
}

// advance pulls the heap forward to the next visible user key.
func (it *DBIterator) advance() {
	for it.h.Len() > 0 {
		top := it.h.items[0]
		ik := common.DeserializeKey(top.key)
		sameUserKey := it.userKey != nil && it.icmp.User.Compare(ik.UserKey, it.userKey) == 0
		visible := ik.SeqNum() <= it.seq

		if !visible || sameUserKey {
			it.popTop()
			continue
		}

		it.userKey = append(it.userKey[:0], ik.UserKey...)
		isDelete := ik.IsDelete()
		val := append([]byte(nil), top.value...)
		it.popTop()

		if isDelete {
			continue
		}
		it.value = val
		it.valid = true
		return
	}
	it.valid = false
}

func (it *DBIterator) popTop() {
	top := it.h.items[0]
	if it.cur.RecordReadSample(top.key) {
		it.db.scheduleBackgroundWorkAsync()
	}
	top.it.Next()
	if top.it.Valid() {
		top.key = append(top.key[:0], top.it.Key()...)
		top.value = top.it.Value()
		heap.Fix(&it.h, 0)
	} else {
		_ = top.it.Close()
		heap.Pop(&it.h)
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *DBIterator) Valid() bool { return it.valid }

// Key returns the user key at the current position.
func (it *DBIterator) Key() []byte { return it.userKey }

// Value returns the value at the current position.
func (it *DBIterator) Value() []byte { return it.value }

// Err returns the first error encountered, if any.
func (it *DBIterator) Err() error { return it.err }

// Next advances to the next visible key.
func (it *DBIterator) Next() {
	if !it.valid {
		return
	}
	it.advance()
}

// Close releases every underlying iterator and cache/version reference
// held by this DBIterator. It must be called exactly once.
func (it *DBIterator) Close() error {
	for _, item := range it.h.items {
		_ = item.it.Close()
	}
	it.h.items = nil
	for _, c := range it.closers {
		c()
	}
	it.closers = nil
	return it.err
}

var _ dbKvIterator = (*table.Iterator)(nil)
