package compaction

import (
	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/memtable"
	"github.com/nogodb/lsmdb/internal/sstable/table"
	"github.com/nogodb/lsmdb/internal/version"
)

// FlushMemtable writes every entry of mem to a new table, choosing the
// output level via cur.PickLevelForMemtableOutput once the key range is
// known (§4.12 "pick_level_for_memtable_output", §4.16 step 4 "flush to
// a new L0 table" during recovery, and the analogous background-worker
// flush during normal operation).
func FlushMemtable(mem *memtable.MemTable, opts Options, cur *version.Version) (level int, meta version.FileMetaData, err error) {
	it := mem.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		return 0, version.FileMetaData{}, nil
	}

	fileNum := opts.NewFileNumber()
	w, _, err := opts.Storage.Create(go_fs.TypeTable, int64(fileNum))
	if err != nil {
		return 0, version.FileMetaData{}, err
	}
	builder := table.NewBuilder(w, table.BuilderOptions{
		Comparer:        opts.Comparer,
		BlockSize:       opts.BlockSize,
		RestartInterval: opts.RestartInterval,
		Compression:     opts.Compression,
		FilterMethod:    opts.FilterMethod,
	})

	smallestKey, largestKey := it.Key(), it.Key()
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if err := builder.Add(k.Encode(), it.Value()); err != nil {
			return 0, version.FileMetaData{}, err
		}
		largestKey = k
	}
	if err := builder.Finish(); err != nil {
		return 0, version.FileMetaData{}, err
	}
	if err := w.Finish(); err != nil {
		return 0, version.FileMetaData{}, err
	}

	meta = version.FileMetaData{
		FileNum:  fileNum,
		FileSize: builder.FileSize(),
		Smallest: smallestKey.Clone(),
		Largest:  largestKey.Clone(),
	}
	if cur != nil {
		level = cur.PickLevelForMemtableOutput(smallestKey.UserKey, largestKey.UserKey, opts.TargetFileSize)
	}
	return level, meta, nil
}
