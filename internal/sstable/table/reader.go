package table

import (
	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/cache"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/filter"
	"github.com/nogodb/lsmdb/internal/sstable/rowblock"
)

// Options configures how a Table is opened.
type Options struct {
	Comparer     common.IComparer
	FilterMethod filter.Method
	BlockCache   *cache.Cache // nil disables block caching
	Paranoid     bool
	FileNum      uint64 // used as the block-cache key namespace
}

// Table is an opened, immutable sorted run of internal-key/value
// entries (§4.7). Table.Open reads only the footer and the index block;
// the filter block is read lazily on first use.
type Table struct {
	r       go_fs.Readable
	opts    Options
	footer  Footer
	index   *rowblock.Block
	filter  *filter.Reader
	loadedF bool
	cacheID uint64
}

// Open reads the footer and index block of an already-opened Readable.
func Open(r go_fs.Readable, size uint64, opts Options) (*Table, error) {
	if size < uint64(common.FooterLen) {
		return nil, common.ErrCorruption("table: file too small")
	}
	footerBuf := make([]byte, common.FooterLen)
	if _, err := r.ReadAt(footerBuf, int64(size)-int64(common.FooterLen)); err != nil {
		return nil, common.WrapError(common.CodeIOError, "table: read footer", err)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}
	indexRaw, err := readPhysicalBlock(r, footer.IndexHandle, opts.Paranoid)
	if err != nil {
		return nil, err
	}
	index, err := rowblock.NewBlock(indexRaw)
	if err != nil {
		return nil, err
	}
	cacheID := opts.FileNum
	if opts.BlockCache != nil && cacheID == 0 {
		cacheID = opts.BlockCache.NewID()
	}
	return &Table{r: r, opts: opts, footer: footer, index: index, cacheID: cacheID}, nil
}

func (t *Table) loadFilter() {
	t.loadedF = true
	if t.opts.FilterMethod == filter.Unknown {
		return
	}
	metaRaw, err := readPhysicalBlock(t.r, t.footer.MetaindexHandle, t.opts.Paranoid)
	if err != nil {
		return
	}
	metaBlock, err := rowblock.NewBlock(metaRaw)
	if err != nil {
		return
	}
	it := metaBlock.NewIterator(byteComparer{})
	name := "filter." + filterPolicyName(t.opts.FilterMethod)
	it.Seek([]byte(name))
	if !it.Valid() || string(it.Key()) != name {
		return
	}
	handle, n := common.DecodeBlockHandle(it.Value())
	if n == 0 {
		return
	}
	raw, err := readPhysicalBlock(t.r, handle, t.opts.Paranoid)
	if err != nil {
		return
	}
	t.filter = filter.NewReader(t.opts.FilterMethod, raw)
}

type byteComparer struct{}

func (byteComparer) Compare(a, b []byte) int {
	return common.NewComparer().Compare(a, b)
}
func (byteComparer) Separator(dst, a, b []byte) []byte { return common.NewComparer().Separator(dst, a, b) }
func (byteComparer) Successor(dst, b []byte) []byte    { return common.NewComparer().Successor(dst, b) }

// readDataBlock loads a data block, consulting the block cache when one
// is configured.
func (t *Table) readDataBlock(h common.BlockHandle) (*rowblock.Block, func(), error) {
	if t.opts.BlockCache != nil {
		if handle, ok := t.opts.BlockCache.Lookup(t.cacheID, h.Offset); ok {
			raw := handle.Load()
			blk, err := rowblock.NewBlock(raw)
			return blk, handle.Release, err
		}
	}
	raw, err := readPhysicalBlock(t.r, h, t.opts.Paranoid)
	if err != nil {
		return nil, func() {}, err
	}
	if t.opts.BlockCache != nil {
		if handle, ok := t.opts.BlockCache.Insert(t.cacheID, h.Offset, raw); ok {
			blk, err := rowblock.NewBlock(raw)
			return blk, handle.Release, err
		}
	}
	blk, err := rowblock.NewBlock(raw)
	return blk, func() {}, err
}

// Saver receives the matched key/value from Get. It returns nothing;
// Get's own found result reports whether a match was seen.
type Saver func(key, value []byte)

// Get looks up target, an internal key built at the caller's lookup
// sequence (typically with KeyKindMax so it sorts before every version
// of the user key), and invokes save with the newest entry sharing
// target's user key, whatever its own sequence happens to be. Get never
// requires the stored entry's trailer to equal target's trailer: the
// index Seek and the internal-key comparer's descending-trailer order
// already land dit on the newest visible version of the user key, the
// same way memtable.Get does (memtable.go).
func (t *Table) Get(target []byte, save Saver) (found bool, err error) {
	iit := t.index.NewIterator(t.opts.Comparer)
	iit.Seek(target)
	if !iit.Valid() {
		return false, nil
	}
	handle, n := common.DecodeBlockHandle(iit.Value())
	if n == 0 {
		return false, common.ErrCorruption("table: bad index entry")
	}

	if !t.loadedF {
		t.loadFilter()
	}
	if t.filter != nil && !t.filter.MayContain(handle.Offset, common.DeserializeKey(target).UserKey) {
		return false, nil
	}

	blk, release, err := t.readDataBlock(handle)
	defer release()
	if err != nil {
		return false, err
	}
	dit := blk.NewIterator(t.opts.Comparer)
	dit.Seek(target)
	if !dit.Valid() {
		return false, nil
	}
	targetUser := common.DeserializeKey(target).UserKey
	foundUser := common.DeserializeKey(dit.Key()).UserKey
	if !bytesEqual(targetUser, foundUser) {
		return false, nil
	}
	save(dit.Key(), dit.Value())
	return true, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Size returns the table's length in bytes up to the end of the index
// block; the footer is not counted. GetApproximateSizes does not call
// it (it sums file sizes from the version's metadata).
func (t *Table) Size() uint64 {
	return t.footer.IndexHandle.Offset + t.footer.IndexHandle.Length + common.TrailerLen
}
