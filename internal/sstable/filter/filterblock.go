package filter

import (
	"encoding/binary"

	"github.com/nogodb/lsmdb/internal/bloom"
)

// filterBaseLg controls how many data-block bytes map to one filter: every
// 1<<filterBaseLg (2 KiB by default) of data block contents shares a single
// filter, so a lookup for a key in block N only needs the filter covering
// the byte range block N was written into.
const filterBaseLg = 11
const filterBase = 1 << filterBaseLg

// Builder accumulates keys as data blocks are written and, on request,
// emits the filters covering the byte ranges seen so far. The resulting
// filter block is a sequence of filters followed by an offset array, a
// 4-byte base offset of that array, and the base_lg byte — mirroring the
// layout LevelDB uses for its filter block.
type Builder struct {
	method Method
	filter bloom.Filter
	writer bloom.Writer

	keys       [][]byte
	keyBuf     []byte
	offsets    []int // byte offsets into keyBuf of each key
	result     []byte
	filterOffsets []uint32
}

func NewBuilder(method Method) *Builder {
	f := NewFilter(method)
	return &Builder{
		method: method,
		filter: f,
		writer: f.NewWriter(),
	}
}

// AddKey registers a key as belonging to the data block currently being
// written.
func (b *Builder) AddKey(key []byte) {
	b.offsets = append(b.offsets, len(b.keyBuf))
	b.keyBuf = append(b.keyBuf, key...)
}

// StartBlock notifies the builder that writing has reached blockOffset in
// the data block stream, flushing a filter for every multiple of
// filterBase up to blockOffset that has not yet been flushed.
func (b *Builder) StartBlock(blockOffset uint64) {
	index := blockOffset / filterBase
	for index > uint64(len(b.filterOffsets)) {
		b.generateFilter()
	}
}

func (b *Builder) generateFilter() {
	b.filterOffsets = append(b.filterOffsets, uint32(len(b.result)))

	if len(b.offsets) == 0 {
		// No keys accumulated for this range; record an empty filter so
		// offsets stay aligned with ranges.
		return
	}

	b.offsets = append(b.offsets, len(b.keyBuf))
	for i := 0; i < len(b.offsets)-1; i++ {
		b.writer.Add(b.keyBuf[b.offsets[i]:b.offsets[i+1]])
	}
	b.writer.Build(&b.result)

	b.keyBuf = b.keyBuf[:0]
	b.offsets = b.offsets[:0]
}

// Finish flushes any pending filter and returns the complete filter block
// contents.
func (b *Builder) Finish() []byte {
	if len(b.offsets) > 0 {
		b.generateFilter()
	}

	arrayOffset := uint32(len(b.result))
	for _, off := range b.filterOffsets {
		b.result = binary.LittleEndian.AppendUint32(b.result, off)
	}
	b.result = binary.LittleEndian.AppendUint32(b.result, arrayOffset)
	b.result = append(b.result, filterBaseLg)
	return b.result
}

// Reader answers MayContain queries against a decoded filter block for the
// filter covering a given data-block offset.
type Reader struct {
	filter  bloom.Filter
	data    []byte
	offsets []byte // the offset array region of data
	num     int
	baseLg  byte
}

// NewReader parses the trailer of a filter block produced by Builder.
func NewReader(method Method, contents []byte) *Reader {
	n := len(contents)
	if n < 5 {
		return &Reader{filter: NewFilter(method)}
	}
	baseLg := contents[n-1]
	arrayOffset := binary.LittleEndian.Uint32(contents[n-5:])
	if uint64(arrayOffset) > uint64(n-5) {
		return &Reader{filter: NewFilter(method)}
	}
	offsets := contents[arrayOffset : n-5]
	num := len(offsets) / 4

	return &Reader{
		filter:  NewFilter(method),
		data:    contents[:arrayOffset],
		offsets: offsets,
		num:     num,
		baseLg:  baseLg,
	}
}

// MayContain reports whether the key might be present in the data block
// that starts at blockOffset.
func (r *Reader) MayContain(blockOffset uint64, key []byte) bool {
	index := int(blockOffset >> r.baseLg)
	if index >= r.num {
		// No matching filter was recorded; fail open so callers fall back
		// to checking the block directly.
		return true
	}
	start := binary.LittleEndian.Uint32(r.offsets[index*4:])
	var limit uint32
	if index+1 < r.num {
		limit = binary.LittleEndian.Uint32(r.offsets[(index+1)*4:])
	} else {
		limit = uint32(len(r.data))
	}
	if start > limit || int(limit) > len(r.data) {
		return true
	}
	filterBytes := r.data[start:limit]
	if len(filterBytes) == 0 {
		return false
	}
	return r.filter.MayContain(filterBytes, key)
}
