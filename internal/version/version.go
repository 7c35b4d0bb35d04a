package version

import (
	"sort"
	"sync/atomic"

	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/tablecache"
)

// L0CompactionTrigger is the L0 file count at which a size compaction of
// level 0 becomes eligible (§4.12 finalize).
const L0CompactionTrigger = 4

// baseMaxBytesForLevel1 is max_bytes_for_level(1); each deeper level's cap
// is 10x the previous (§4.12 finalize).
const baseMaxBytesForLevel1 = 10 << 20

func maxBytesForLevel(level int) uint64 {
	result := uint64(baseMaxBytesForLevel1)
	for level > 1 {
		result *= 10
		level--
	}
	return result
}

// LookupStatus is the outcome of a Version.Get call.
type LookupStatus int

const (
	StatusNotFound LookupStatus = iota
	StatusFound
	StatusCorruption
)

// GetStats records which file (if any) should be charged a seek for
// UpdateStats, per §4.12.
type GetStats struct {
	SeekFile      *FileMetaData
	SeekFileLevel int
}

// Version is an immutable snapshot of the file set (§4.12), partitioned
// into numLevels levels; levels >=1 are key-disjoint and sorted by
// smallest key.
type Version struct {
	vs     *Set
	cmp    *common.InternalKeyComparer
	files  [numLevels][]*FileMetaData
	refs   atomic.Int32

	compactionLevel int
	compactionScore float64

	prev, next *Version
}

func newVersion(vs *Set) *Version {
	v := &Version{vs: vs, cmp: vs.icmp, compactionLevel: -1}
	v.prev, v.next = v, v
	return v
}

func (v *Version) Ref()   { v.refs.Add(1) }
func (v *Version) Unref() { v.refs.Add(-1) }

func (v *Version) Files(level int) []*FileMetaData { return v.files[level] }

// overlapsLevel0 returns true if any L0 file overlaps [smallest, largest]
// (linear scan, since L0 files may overlap each other).
func (v *Version) overlapsLevel0(smallest, largest []byte) bool {
	for _, f := range v.files[0] {
		if v.cmp.User.Compare(f.Smallest.UserKey, largest) <= 0 && v.cmp.User.Compare(f.Largest.UserKey, smallest) >= 0 {
			return true
		}
	}
	return false
}

// OverlapInLevel reports whether any file at level overlaps [min, max]
// (user keys). Level 0 uses a linear scan; levels >=1 use binary search
// over the disjoint, sorted file list (§4.12).
func (v *Version) OverlapInLevel(level int, min, max []byte) bool {
	if level == 0 {
		return v.overlapsLevel0(min, max)
	}
	files := v.files[level]
	idx := sort.Search(len(files), func(i int) bool {
		return v.cmp.User.Compare(files[i].Largest.UserKey, min) >= 0
	})
	if idx >= len(files) {
		return false
	}
	return v.cmp.User.Compare(files[idx].Smallest.UserKey, max) <= 0
}

type saveFunc func(key, value []byte)

// ForEachOverlapping walks candidate files that may contain userKey,
// newest-first at level 0 (by descending file number), then a single
// binary-searched candidate at each level >=1, invoking visit on each
// until visit returns false (§4.12).
func (v *Version) ForEachOverlapping(userKey, internalKey []byte, visit func(f *FileMetaData, level int) bool) {
	var l0 []*FileMetaData
	for _, f := range v.files[0] {
		if v.cmp.User.Compare(userKey, f.Smallest.UserKey) >= 0 && v.cmp.User.Compare(userKey, f.Largest.UserKey) <= 0 {
			l0 = append(l0, f)
		}
	}
	sort.Slice(l0, func(i, j int) bool { return l0[i].FileNum > l0[j].FileNum })
	for _, f := range l0 {
		if !visit(f, 0) {
			return
		}
	}
	for level := 1; level < numLevels; level++ {
		files := v.files[level]
		if len(files) == 0 {
			continue
		}
		idx := sort.Search(len(files), func(i int) bool {
			return v.cmp.User.Compare(files[i].Largest.UserKey, userKey) >= 0
		})
		if idx >= len(files) {
			continue
		}
		f := files[idx]
		if v.cmp.User.Compare(userKey, f.Smallest.UserKey) < 0 {
			continue
		}
		if !visit(f, level) {
			return
		}
	}
}

// Get looks up internalKey, returning the value and status, plus stats
// describing which file (if any) should be charged a seek.
func (v *Version) Get(userKey, internalKey []byte) (status LookupStatus, value []byte, stats GetStats, err error) {
	status = StatusNotFound
	var filesConsulted int
	var firstFile *FileMetaData
	var firstLevel int
	var done bool

	v.ForEachOverlapping(userKey, internalKey, func(f *FileMetaData, level int) bool {
		if filesConsulted == 0 {
			firstFile, firstLevel = f, level
		}
		filesConsulted++

		found, gerr := v.vs.tableCache.Get(f.FileNum, f.FileSize, internalKey, func(k, val []byte) {
			ik := common.DeserializeKey(k)
			if ik.IsDelete() {
				status = StatusNotFound
			} else {
				status = StatusFound
				value = append([]byte(nil), val...)
			}
			done = true
		})
		if gerr != nil {
			status = StatusCorruption
			err = gerr
			done = true
			return false
		}
		_ = found
		return !done
	})

	if filesConsulted > 1 {
		stats.SeekFile = firstFile
		stats.SeekFileLevel = firstLevel
	}
	return status, value, stats, err
}

// UpdateStats charges one allowed seek to stats.SeekFile; if its budget
// is exhausted and no seek-compaction candidate is pending, this file
// becomes that candidate. Returns true if a compaction should be
// scheduled (§4.12).
func (v *Version) UpdateStats(stats GetStats) bool {
	f := stats.SeekFile
	if f == nil {
		return false
	}
	if atomic.AddInt64(&f.AllowedSeeks, -1) <= 0 && v.vs.seekCompactionFile == nil {
		v.vs.seekCompactionFile = f
		v.vs.seekCompactionLevel = stats.SeekFileLevel
		return true
	}
	return false
}

// readSampleBytesPerCheck is 1 MiB. Nothing reads it: DBIterator calls
// RecordReadSample for every entry it steps past, not once per MiB read.
const readSampleBytesPerCheck = 1 << 20

// RecordReadSample approximates whether two or more files would match
// internalKey; if so it charges a seek to the first match via
// UpdateStats (§4.12).
func (v *Version) RecordReadSample(internalKey []byte) bool {
	ik := common.DeserializeKey(internalKey)
	var matches int
	var stats GetStats
	v.ForEachOverlapping(ik.UserKey, internalKey, func(f *FileMetaData, level int) bool {
		if matches == 0 {
			stats.SeekFile, stats.SeekFileLevel = f, level
		}
		matches++
		return matches < 2
	})
	if matches >= 2 {
		return v.UpdateStats(stats)
	}
	return false
}

// GetOverlappingInputs collects files at level overlapping [begin, end]
// (user keys, both inclusive). For level 0, if a collected file widens
// the range, the scan restarts against the widened range so no
// transitively overlapping L0 file is missed (§4.12).
func (v *Version) GetOverlappingInputs(level int, begin, end []byte) []*FileMetaData {
	var out []*FileMetaData
restart:
	out = out[:0]
	lo, hi := begin, end
	for _, f := range v.files[level] {
		fileStart, fileLimit := f.Smallest.UserKey, f.Largest.UserKey
		if begin != nil && v.cmp.User.Compare(fileLimit, lo) < 0 {
			continue
		}
		if end != nil && v.cmp.User.Compare(fileStart, hi) > 0 {
			continue
		}
		out = append(out, f)
		if level == 0 {
			widened := false
			if begin != nil && v.cmp.User.Compare(fileStart, lo) < 0 {
				lo = fileStart
				widened = true
			}
			if end != nil && v.cmp.User.Compare(fileLimit, hi) > 0 {
				hi = fileLimit
				widened = true
			}
			if widened {
				begin, end = lo, hi
				goto restart
			}
		}
	}
	return out
}

// PickLevelForMemtableOutput chooses where a freshly flushed memtable's
// table should land: L0 if it overlaps L0, else the deepest level up to
// MaxMemCompactLevel with no L+1 overlap and acceptable grandparent
// overlap (§4.12).
func (v *Version) PickLevelForMemtableOutput(minKey, maxKey []byte, targetFileSize uint64) int {
	level := 0
	if v.overlapsLevel0(minKey, maxKey) {
		return 0
	}
	for level < MaxMemCompactLevel {
		if v.OverlapInLevel(level+1, minKey, maxKey) {
			break
		}
		if level+2 < numLevels {
			overlaps := v.GetOverlappingInputs(level+2, minKey, maxKey)
			if sumFileSize(overlaps) > 10*targetFileSize {
				break
			}
		}
		level++
	}
	return level
}

func sumFileSize(files []*FileMetaData) uint64 {
	var total uint64
	for _, f := range files {
		total += f.FileSize
	}
	return total
}

// finalize computes the size-compaction score for every level and caches
// the level with the highest score (§4.12 step 3).
func (v *Version) finalize() {
	bestLevel := -1
	bestScore := 0.0
	for level := 0; level < numLevels-1; level++ {
		var score float64
		if level == 0 {
			score = float64(len(v.files[0])) / L0CompactionTrigger
		} else {
			score = float64(sumFileSize(v.files[level])) / float64(maxBytesForLevel(level))
		}
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	v.compactionLevel = bestLevel
	v.compactionScore = bestScore
}

// TableCache returns the table cache of the Set that owns this Version.
func (v *Version) TableCache() *tablecache.TableCache { return v.vs.tableCache }
