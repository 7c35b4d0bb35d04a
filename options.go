package lsmdb

import (
	"go.uber.org/zap"

	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/compression"
	"github.com/nogodb/lsmdb/internal/sstable/filter"
)

// OptionFn configures a DB at Open time.
type OptionFn func(*options)

type options struct {
	createIfMissing bool
	errorIfExists   bool
	reuseLogs       bool

	comparer     common.IComparer
	comparerName string

	writeBufferSize int
	blockSize       int
	restartInterval int
	targetFileSize  uint64
	blockCacheSize  int
	tableCacheSize  int
	paranoidChecks  bool

	compression  compression.ICompression
	filterMethod filter.Method

	l0SlowdownWritesTrigger int
	l0StopWritesTrigger     int

	logger *zap.Logger
}

var defaultOptions = options{
	createIfMissing:         true,
	comparer:                common.NewComparer(),
	comparerName:            "lsmdb.BytewiseComparer",
	writeBufferSize:         4 << 20,
	blockSize:               4 << 10,
	restartInterval:         16,
	targetFileSize:          2 << 20,
	blockCacheSize:          8 << 20,
	tableCacheSize:          1000,
	filterMethod:            filter.BloomFilter,
	l0SlowdownWritesTrigger: 8,
	l0StopWritesTrigger:     12,
	logger:                  zap.NewNop(),
}

// WithCreateIfMissing controls whether Open creates a fresh database
// when none exists at the given storage (§4.16 step 2).
func WithCreateIfMissing(v bool) OptionFn {
	return func(o *options) { o.createIfMissing = v }
}

// WithErrorIfExists makes Open fail if a database already exists.
func WithErrorIfExists(v bool) OptionFn {
	return func(o *options) { o.errorIfExists = v }
}

// WithReuseLogs allows the last replayed WAL to be adopted as the live
// log instead of being rotated out on open (§4.16 step 4).
func WithReuseLogs(v bool) OptionFn {
	return func(o *options) { o.reuseLogs = v }
}

// WithComparer supplies a user key ordering other than the default
// bytewise comparer. name is persisted and checked on every subsequent
// open (§3 "User key").
func WithComparer(cmp common.IComparer, name string) OptionFn {
	return func(o *options) { o.comparer = cmp; o.comparerName = name }
}

// WithWriteBufferSize bounds the mutable memtable before it is rotated
// to immutable and flushed (§4.14).
func WithWriteBufferSize(n int) OptionFn {
	return func(o *options) { o.writeBufferSize = n }
}

// WithBlockSize sets the target uncompressed size of a table data block
// (§4.7/§4.8).
func WithBlockSize(n int) OptionFn {
	return func(o *options) { o.blockSize = n }
}

// WithBlockRestartInterval sets how many entries share a restart point
// in a prefix-compressed block (§4.5).
func WithBlockRestartInterval(n int) OptionFn {
	return func(o *options) { o.restartInterval = n }
}

// WithTargetFileSize bounds the size of a compaction output file and
// derives the grandparent-overlap and expanded-input-set limits used
// during compaction selection (§4.13).
func WithTargetFileSize(n uint64) OptionFn {
	return func(o *options) { o.targetFileSize = n }
}

// WithBlockCacheSize sets the byte budget of the shared block cache
// (§4.9).
func WithBlockCacheSize(n int) OptionFn {
	return func(o *options) { o.blockCacheSize = n }
}

// WithTableCacheCapacity sets how many open table handles the table
// cache may hold at once (§4.10).
func WithTableCacheCapacity(n int) OptionFn {
	return func(o *options) { o.tableCacheSize = n }
}

// WithParanoidChecks enables checksum verification on every block read,
// trading throughput for earlier corruption detection.
func WithParanoidChecks(v bool) OptionFn {
	return func(o *options) { o.paranoidChecks = v }
}

// WithCompression selects the table block compressor (§4.7
// "Compression").
func WithCompression(c compression.ICompression) OptionFn {
	return func(o *options) { o.compression = c }
}

// WithFilterMethod selects the per-table filter policy (§4.6); pass
// filter.Unknown to disable filter blocks entirely.
func WithFilterMethod(m filter.Method) OptionFn {
	return func(o *options) { o.filterMethod = m }
}

// WithLogger installs the structured logger the DB reports background
// activity through (recovery, compaction, background errors). The
// default is a no-op logger.
func WithLogger(l *zap.Logger) OptionFn {
	return func(o *options) { o.logger = l }
}

// WithL0StallTriggers overrides the L0 file-count thresholds that
// trigger write slowdown and write stop (§4.14 step 1).
func WithL0StallTriggers(slowdown, stop int) OptionFn {
	return func(o *options) { o.l0SlowdownWritesTrigger = slowdown; o.l0StopWritesTrigger = stop }
}
