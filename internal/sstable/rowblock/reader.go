package rowblock

import (
	"encoding/binary"

	"github.com/nogodb/lsmdb/internal/sstable/common"
)

// Block is a decoded, read-only view over one block's bytes (without
// the table-level trailer, and after decompression).
type Block struct {
	data          []byte
	restartOffset int
	numRestarts   int
}

func NewBlock(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, common.ErrCorruption("rowblock: block too small")
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartOffset := len(data) - 4 - numRestarts*4
	if restartOffset < 0 {
		return nil, common.ErrCorruption("rowblock: bad restart count")
	}
	return &Block{data: data, restartOffset: restartOffset, numRestarts: numRestarts}, nil
}

func (b *Block) restartPoint(i int) uint32 {
	return binary.LittleEndian.Uint32(b.data[b.restartOffset+4*i:])
}

// decodeEntryHeader decodes the header of the entry starting at off,
// returning shared/unshared/value lengths and the offset just past the
// header, or ok=false if the header is malformed.
func decodeEntryHeader(data []byte, off int) (shared, unshared, valueLen, next int, ok bool) {
	p := data[off:]
	v1, n1 := binary.Uvarint(p)
	if n1 <= 0 {
		return 0, 0, 0, 0, false
	}
	p = p[n1:]
	v2, n2 := binary.Uvarint(p)
	if n2 <= 0 {
		return 0, 0, 0, 0, false
	}
	p = p[n2:]
	v3, n3 := binary.Uvarint(p)
	if n3 <= 0 {
		return 0, 0, 0, 0, false
	}
	return int(v1), int(v2), int(v3), off + n1 + n2 + n3, true
}

// Iterator walks a Block's entries in order, supporting binary-search
// seeks via the restart-point array.
type Iterator struct {
	block *Block
	cmp   common.IComparer

	offset  int // offset of the current entry's header
	nextOff int // offset just past the current entry
	key     []byte
	value   []byte
	valid   bool
}

func (b *Block) NewIterator(cmp common.IComparer) *Iterator {
	return &Iterator{block: b, cmp: cmp}
}

func (it *Iterator) Valid() bool  { return it.valid }
func (it *Iterator) Key() []byte  { return it.key }
func (it *Iterator) Value() []byte { return it.value }

func (it *Iterator) parseAt(off int) bool {
	shared, unshared, valueLen, dataStart, ok := decodeEntryHeader(it.block.data, off)
	if !ok || dataStart+unshared+valueLen > it.block.restartOffset {
		it.valid = false
		return false
	}
	key := append(append([]byte(nil), it.key[:shared]...), it.block.data[dataStart:dataStart+unshared]...)
	it.key = key
	it.value = it.block.data[dataStart+unshared : dataStart+unshared+valueLen]
	it.offset = off
	it.nextOff = dataStart + unshared + valueLen
	it.valid = true
	return true
}

func (it *Iterator) SeekToFirst() {
	it.key = nil
	it.parseAt(0)
}

func (it *Iterator) SeekToLast() {
	// Walk from the last restart point to the end.
	it.seekToRestart(it.block.numRestarts - 1)
	for it.valid && it.nextOff < it.block.restartOffset {
		saved := it.key
		if !it.tryAdvance() {
			it.key = saved
			break
		}
	}
}

func (it *Iterator) tryAdvance() bool {
	next := it.nextOff
	if next >= it.block.restartOffset {
		it.valid = false
		return false
	}
	return it.parseAt(next)
}

func (it *Iterator) Next() {
	it.tryAdvance()
}

func (it *Iterator) seekToRestart(i int) {
	if i < 0 || i >= it.block.numRestarts {
		it.valid = false
		return
	}
	off := int(it.block.restartPoint(i))
	it.key = nil
	it.parseAt(off)
}

// Seek positions the iterator at the first entry with key >= target,
// via binary search over restart points followed by a linear scan.
func (it *Iterator) Seek(target []byte) {
	lo, hi := 0, it.block.numRestarts-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		it.seekToRestart(mid)
		if !it.valid || it.cmp.Compare(it.key, target) > 0 {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	it.seekToRestart(lo)
	for it.valid && it.cmp.Compare(it.key, target) < 0 {
		if !it.tryAdvance() {
			return
		}
	}
}

// Prev repositions to the entry immediately before the current one, by
// scanning forward from the preceding restart point (blocks keep no
// backward links, matching the skip list's Prev strategy).
func (it *Iterator) Prev() {
	if !it.valid {
		return
	}
	origin := it.offset
	restart := 0
	for i := it.block.numRestarts - 1; i >= 0; i-- {
		if int(it.block.restartPoint(i)) < origin {
			restart = i
			break
		}
	}
	it.seekToRestart(restart)
	for it.valid && it.nextOff < origin {
		if !it.tryAdvance() {
			return
		}
	}
	if it.offset >= origin {
		it.valid = false
	}
}
