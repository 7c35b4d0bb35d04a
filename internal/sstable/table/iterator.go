package table

import (
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/rowblock"
)

// Iterator is a two-level iterator over a Table: the index iterator
// selects a data block handle, and the inner iterator walks that
// block's entries. The inner iterator is rebuilt on every Seek,
// SeekToFirst and SeekToLast, and whenever Next or Prev crosses into
// another block; empty data blocks are skipped transparently.
type Iterator struct {
	table   *Table
	indexIt *rowblock.Iterator
	dataIt  *rowblock.Iterator
	release func()
	err     error
}

func (t *Table) NewIterator() *Iterator {
	return &Iterator{table: t, indexIt: t.index.NewIterator(t.opts.Comparer), release: func() {}}
}

func (it *Iterator) Valid() bool {
	return it.dataIt != nil && it.dataIt.Valid()
}

func (it *Iterator) Key() []byte   { return it.dataIt.Key() }
func (it *Iterator) Value() []byte { return it.dataIt.Value() }
func (it *Iterator) Err() error    { return it.err }

func (it *Iterator) setDataBlock() {
	it.release()
	it.release = func() {}
	it.dataIt = nil
	if !it.indexIt.Valid() {
		return
	}
	handle, n := common.DecodeBlockHandle(it.indexIt.Value())
	if n == 0 {
		it.err = common.ErrCorruption("table: bad index entry")
		return
	}
	blk, release, err := it.table.readDataBlock(handle)
	if err != nil {
		it.err = err
		return
	}
	it.release = release
	it.dataIt = blk.NewIterator(it.table.opts.Comparer)
}

func (it *Iterator) SeekToFirst() {
	it.indexIt.SeekToFirst()
	it.setDataBlock()
	if it.dataIt != nil {
		it.dataIt.SeekToFirst()
	}
	it.skipEmptyForward()
}

func (it *Iterator) SeekToLast() {
	it.indexIt.SeekToLast()
	it.setDataBlock()
	if it.dataIt != nil {
		it.dataIt.SeekToLast()
	}
	it.skipEmptyBackward()
}

func (it *Iterator) Seek(target []byte) {
	it.indexIt.Seek(target)
	it.setDataBlock()
	if it.dataIt != nil {
		it.dataIt.Seek(target)
	}
	it.skipEmptyForward()
}

func (it *Iterator) Next() {
	it.dataIt.Next()
	it.skipEmptyForward()
}

func (it *Iterator) Prev() {
	it.dataIt.Prev()
	it.skipEmptyBackward()
}

func (it *Iterator) skipEmptyForward() {
	for it.dataIt == nil || !it.dataIt.Valid() {
		if !it.indexIt.Valid() {
			it.dataIt = nil
			return
		}
		it.indexIt.Next()
		it.setDataBlock()
		if it.dataIt != nil {
			it.dataIt.SeekToFirst()
		}
		if !it.indexIt.Valid() && (it.dataIt == nil || !it.dataIt.Valid()) {
			return
		}
	}
}

func (it *Iterator) skipEmptyBackward() {
	for it.dataIt == nil || !it.dataIt.Valid() {
		if !it.indexIt.Valid() {
			it.dataIt = nil
			return
		}
		it.indexIt.Prev()
		it.setDataBlock()
		if it.dataIt != nil {
			it.dataIt.SeekToLast()
		}
		if !it.indexIt.Valid() && (it.dataIt == nil || !it.dataIt.Valid()) {
			return
		}
	}
}

func (it *Iterator) Close() error {
	it.release()
	return it.err
}
