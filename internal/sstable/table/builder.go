package table

import (
	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/compression"
	"github.com/nogodb/lsmdb/internal/sstable/filter"
	"github.com/nogodb/lsmdb/internal/sstable/rowblock"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	Comparer        common.IComparer
	BlockSize       int
	RestartInterval int
	Compression     compression.ICompression
	FilterMethod    filter.Method // filter.Unknown disables filters
}

// Builder consumes internal keys in strictly ascending order and writes
// a complete table (§4.8).
type Builder struct {
	opts   BuilderOptions
	w      go_fs.Writable
	offset uint64

	dataBlock  *rowblock.Builder
	indexBlock *rowblock.Builder
	filter     *filter.Builder

	pendingIndexEntry bool
	pendingHandle     common.BlockHandle
	lastKey           []byte

	numEntries int
	closed     bool
	err        error
}

func NewBuilder(w go_fs.Writable, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	b := &Builder{
		opts:       opts,
		w:          w,
		dataBlock:  rowblock.NewBuilder(opts.RestartInterval),
		indexBlock: rowblock.NewBuilder(opts.RestartInterval),
	}
	if opts.FilterMethod != filter.Unknown {
		b.filter = filter.NewBuilder(opts.FilterMethod)
		b.filter.StartBlock(0)
	}
	return b
}

// Add appends one internal key/value pair. key must be >= the previous
// key added, using opts.Comparer.
func (b *Builder) Add(key, value []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.pendingIndexEntry {
		sep := b.opts.Comparer.Separator(nil, b.lastKey, key)
		if sep == nil {
			sep = append([]byte(nil), b.lastKey...)
		}
		b.indexBlock.Add(sep, b.pendingHandle.EncodeInto(nil))
		b.pendingIndexEntry = false
	}
	if b.filter != nil {
		b.filter.AddKey(common.DeserializeKey(key).UserKey)
	}
	b.dataBlock.Add(key, value)
	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++

	if b.dataBlock.EstimatedSize() >= b.opts.BlockSize {
		b.flushDataBlock()
	}
	return b.err
}

func (b *Builder) flushDataBlock() {
	if b.dataBlock.Empty() {
		return
	}
	raw := b.dataBlock.Finish()
	handle, err := writePhysicalBlock(b.w, b.offset, raw, b.opts.Compression)
	if err != nil {
		b.err = err
		return
	}
	b.offset += handle.Length + common.TrailerLen
	b.pendingHandle = handle
	b.pendingIndexEntry = true
	b.dataBlock.Reset()
	if b.filter != nil {
		b.filter.StartBlock(b.offset)
	}
}

// FileSize returns the number of bytes written so far, used by the
// compaction caller to enforce the per-output-file size cap.
func (b *Builder) FileSize() uint64 { return b.offset }

func (b *Builder) NumEntries() int { return b.numEntries }

// Finish flushes any partial data block and writes the filter, meta
// index, index blocks, and footer.
func (b *Builder) Finish() error {
	if b.err != nil {
		return b.err
	}
	b.flushDataBlock()
	if b.err != nil {
		return b.err
	}
	if b.pendingIndexEntry {
		succ := b.opts.Comparer.Successor(nil, b.lastKey)
		if succ == nil {
			succ = append([]byte(nil), b.lastKey...)
		}
		b.indexBlock.Add(succ, b.pendingHandle.EncodeInto(nil))
		b.pendingIndexEntry = false
	}

	var filterHandle common.BlockHandle
	haveFilter := b.filter != nil
	if haveFilter {
		raw := b.filter.Finish()
		h, err := writePhysicalBlock(b.w, b.offset, raw, nil)
		if err != nil {
			return err
		}
		filterHandle = h
		b.offset += h.Length + common.TrailerLen
	}

	metaBlock := rowblock.NewBuilder(b.opts.RestartInterval)
	if haveFilter {
		key := []byte("filter." + filterPolicyName(b.opts.FilterMethod))
		metaBlock.Add(key, filterHandle.EncodeInto(nil))
	}
	metaRaw := metaBlock.Finish()
	metaHandle, err := writePhysicalBlock(b.w, b.offset, metaRaw, nil)
	if err != nil {
		return err
	}
	b.offset += metaHandle.Length + common.TrailerLen

	indexRaw := b.indexBlock.Finish()
	indexHandle, err := writePhysicalBlock(b.w, b.offset, indexRaw, nil)
	if err != nil {
		return err
	}
	b.offset += indexHandle.Length + common.TrailerLen

	footer := Footer{MetaindexHandle: metaHandle, IndexHandle: indexHandle, Version: common.TableV1}
	if _, err := b.w.Write(footer.EncodeTo()); err != nil {
		return err
	}
	b.offset += uint64(common.FooterLen)
	b.closed = true
	return nil
}

// Abandon marks the builder closed without finishing, so Add/Finish are
// no longer valid but no data need be written.
func (b *Builder) Abandon() { b.closed = true }

func filterPolicyName(m filter.Method) string {
	switch m {
	case filter.BloomFilter:
		return "bloom"
	default:
		return "unknown"
	}
}
