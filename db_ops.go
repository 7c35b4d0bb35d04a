package lsmdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nogodb/lsmdb/internal/compaction"
	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/table"
	"github.com/nogodb/lsmdb/internal/sstable/tablecache"
	"github.com/nogodb/lsmdb/internal/version"
)

// Range is a half-open user-key interval [Start, Limit) used by
// GetApproximateSizes.
type Range struct {
	Start, Limit []byte
}

// GetProperty answers introspection queries, mirroring the informal
// "leveldb.*" property namespace: "leveldb.num-files-at-level<N>",
// "leveldb.stats", and "leveldb.sstables".
func (db *DB) GetProperty(name string) (string, bool) {
	ctx := context.Background()
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return "", false
	}
	defer db.mu.ReleaseCtx(context.Background())

	cur := db.vs.Current()
	switch {
	case strings.HasPrefix(name, "leveldb.num-files-at-level"):
		lvl, err := strconv.Atoi(strings.TrimPrefix(name, "leveldb.num-files-at-level"))
		if err != nil || lvl < 0 || lvl >= 7 {
			return "", false
		}
		return strconv.Itoa(len(cur.Files(lvl))), true

	case name == "leveldb.stats":
		var b strings.Builder
		b.WriteString("Level  Files  Size(MB)\n")
		for l := 0; l < 7; l++ {
			files := cur.Files(l)
			if len(files) == 0 {
				continue
			}
			var bytes uint64
			for _, f := range files {
				bytes += f.FileSize
			}
			fmt.Fprintf(&b, "%5d  %5d  %8.2f\n", l, len(files), float64(bytes)/(1<<20))
		}
		return b.String(), true

	case name == "leveldb.sstables":
		var b strings.Builder
		for l := 0; l < 7; l++ {
			for _, f := range cur.Files(l) {
				fmt.Fprintf(&b, "%d: %d(%d bytes)\n", l, f.FileNum, f.FileSize)
			}
		}
		return b.String(), true
	}
	return "", false
}

// GetApproximateSizes estimates, for each range, the number of bytes of
// file storage used to store the keys in that range (§4.16
// "supplemented features").
func (db *DB) GetApproximateSizes(ranges []Range) []uint64 {
	ctx := context.Background()
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return make([]uint64, len(ranges))
	}
	cur := db.vs.Current()
	cur.Ref()
	db.mu.ReleaseCtx(context.Background())
	defer cur.Unref()

	sizes := make([]uint64, len(ranges))
	for i, r := range ranges {
		var total uint64
		for level := 0; level < 7; level++ {
			for _, f := range cur.GetOverlappingInputs(level, r.Start, r.Limit) {
				total += f.FileSize
			}
		}
		sizes[i] = total
	}
	return sizes
}

// CompactRange forces compaction of the user key range [begin, end]
// down through the levels, one level at a time (§4.13 "manual
// compaction").
func (db *DB) CompactRange(ctx context.Context, begin, end []byte) error {
	for level := 0; level < 6; level++ {
		if err := db.compactRangeAtLevel(ctx, level, begin, end); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) compactRangeAtLevel(ctx context.Context, level int, begin, end []byte) error {
	key := fmt.Sprintf("%d:%x:%x", level, begin, end)
	cur := begin
	for {
		req, done, err := db.buildManualRequest(ctx, key, level, cur, end)
		if err != nil {
			return err
		}
		if req == nil {
			return nil
		}
		if err := db.runCompaction(ctx, req); err != nil {
			return err
		}
		if done {
			return nil
		}
		cur = req.ManualEnd
	}
}

// buildManualRequest picks the next round of a manual compaction through
// singleflight. It holds db.mu around the call, so concurrent
// CompactRange calls never overlap inside the group and each picks its
// own round.
func (db *DB) buildManualRequest(ctx context.Context, key string, level int, begin, end []byte) (*compaction.Request, bool, error) {
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return nil, false, err
	}
	defer db.mu.ReleaseCtx(context.Background())

	v, err, _ := db.manualGroup.Do(key, func() (interface{}, error) {
		picker := compaction.NewPicker(db.vs.Current(), db.icmp, db.opts.targetFileSize)
		return picker.PickManualCompaction(level, begin, end), nil
	})
	if err != nil {
		return nil, false, err
	}
	req, _ := v.(*compaction.Request)
	if req == nil || len(req.Inputs) == 0 {
		return nil, true, nil
	}
	done := req.ManualEnd == nil || (end != nil && db.icmp.User.Compare(req.ManualEnd, end) >= 0)
	return req, done, nil
}

// RepairDB rebuilds a fresh manifest for a database whose manifest or
// CURRENT file has been lost or corrupted, by scanning every table file
// present in storage and recording it in a new L0-rooted version. Any
// per-level placement the tables previously had is not recoverable from
// the table files alone, so all recovered tables are placed at level 0
// and left for background compaction to redistribute (§4.16
// "supplemented features").
func RepairDB(storage go_fs.Storage, fns ...OptionFn) error {
	opts := defaultOptions
	for _, fn := range fns {
		fn(&opts)
	}

	nums := storage.List(go_fs.TypeTable)
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	icmp := common.NewInternalKeyComparer(opts.comparer)

	edit := &version.Edit{}
	edit.SetComparatorName(opts.comparerName)
	var maxNum uint64
	var maxSeq common.SeqNum

	for _, n := range nums {
		fileNum := uint64(n)
		rdr, _, err := storage.Open(go_fs.TypeTable, n, 0)
		if err != nil {
			continue
		}
		fileSize := rdr.Size()
		tbl, err := table.Open(rdr, fileSize, table.Options{
			Comparer:     icmp,
			FilterMethod: opts.filterMethod,
			FileNum:      fileNum,
		})
		if err != nil {
			rdr.Close()
			continue
		}
		it := tbl.NewIterator()
		it.SeekToFirst()
		if !it.Valid() {
			rdr.Close()
			continue
		}
		smallest := common.DeserializeKey(it.Key()).Clone()
		var largest common.InternalKey
		for ; it.Valid(); it.Next() {
			largest = common.DeserializeKey(it.Key()).Clone()
			if largest.SeqNum() > maxSeq {
				maxSeq = largest.SeqNum()
			}
		}
		_ = it.Close()
		rdr.Close()

		edit.AddFile(0, version.FileMetaData{
			FileNum:  fileNum,
			FileSize: fileSize,
			Smallest: smallest,
			Largest:  largest,
		})
		if fileNum > maxNum {
			maxNum = fileNum
		}
	}

	edit.SetNextFileNumber(maxNum + 1)
	edit.SetLogNumber(0)
	edit.SetLastSequence(maxSeq)

	cacheOpts := tablecache.Options{
		Comparer:     icmp,
		FilterMethod: opts.filterMethod,
		Paranoid:     opts.paranoidChecks,
	}
	vs := version.New(storage, opts.comparer, opts.comparerName, opts.targetFileSize, opts.tableCacheSize, cacheOpts)
	if err := vs.LogAndApply(edit); err != nil {
		return err
	}
	return vs.Close()
}
