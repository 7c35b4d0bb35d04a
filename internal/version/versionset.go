package version

import (
	"sort"
	"sync"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/tablecache"
	go_wal "github.com/nogodb/lsmdb/internal/wal"
)

// currentFileNum is the fixed object number of the CURRENT pointer file;
// there is exactly one per database.
const currentFileNum = 0

// lockFileNum is the fixed object number of the advisory lock file.
const lockFileNum = 0

// Set owns the linked list of live Versions (tail = current), the
// manifest log, and file-number allocation (§4.12 "VersionSet").
type Set struct {
	mu sync.Mutex // guards manifest-writer state; the DB mutex serializes LogAndApply calls

	storage        go_fs.Storage
	icmp           *common.InternalKeyComparer
	comparerName   string
	tableCache     *tablecache.TableCache
	targetFileSize uint64

	dummyVersions Version
	current       *Version

	nextFileNumber     uint64
	manifestFileNumber uint64
	lastSequence       common.SeqNum
	logNumber          uint64
	prevLogNumber      uint64

	compactPointers [numLevels]common.InternalKey

	seekCompactionFile  *FileMetaData
	seekCompactionLevel int

	manifestWriter *go_wal.Writer
	firstEditAfterManifest bool
}

// New constructs an empty Set. Call Recover (or Bootstrap, for a new
// database) before use.
func New(storage go_fs.Storage, userCmp common.IComparer, comparerName string, targetFileSize uint64, cacheCapacity int, cacheOpts tablecache.Options) *Set {
	icmp := common.NewInternalKeyComparer(userCmp)
	// Table files store internal keys (user_key || trailer), so the table
	// cache's comparer must order by user key then descending trailer,
	// not the raw bytewise/user comparer.
	cacheOpts.Comparer = icmp
	vs := &Set{
		storage:        storage,
		icmp:           icmp,
		comparerName:   comparerName,
		targetFileSize: targetFileSize,
		nextFileNumber: 2,
	}
	vs.tableCache = tablecache.New(storage, cacheCapacity, cacheOpts)
	vs.dummyVersions = Version{vs: vs, cmp: icmp}
	vs.dummyVersions.prev = &vs.dummyVersions
	vs.dummyVersions.next = &vs.dummyVersions
	vs.current = nil
	return vs
}

func (vs *Set) Current() *Version { return vs.current }
func (vs *Set) TableCache() *tablecache.TableCache { return vs.tableCache }
func (vs *Set) LastSequence() common.SeqNum        { return vs.lastSequence }
func (vs *Set) SetLastSequence(s common.SeqNum) {
	if s > vs.lastSequence {
		vs.lastSequence = s
	}
}
func (vs *Set) LogNumber() uint64     { return vs.logNumber }
func (vs *Set) PrevLogNumber() uint64 { return vs.prevLogNumber }
func (vs *Set) TargetFileSize() uint64 { return vs.targetFileSize }
func (vs *Set) CompactPointer(level int) common.InternalKey { return vs.compactPointers[level] }

// NewFileNumber allocates the next file number.
func (vs *Set) NewFileNumber() uint64 {
	n := vs.nextFileNumber
	vs.nextFileNumber++
	return n
}

// ReuseFileNumber gives back a file number that turned out to be unused,
// so a subsequent NewFileNumber call can reuse it (used when a memtable
// flush is abandoned).
func (vs *Set) ReuseFileNumber(num uint64) {
	if vs.nextFileNumber == num+1 {
		vs.nextFileNumber = num
	}
}

// PendingSeekCompaction returns the file whose seek allowance hit zero,
// if any, clearing it so it is only returned once.
func (vs *Set) PendingSeekCompaction() (*FileMetaData, int, bool) {
	f := vs.seekCompactionFile
	if f == nil {
		return nil, 0, false
	}
	level := vs.seekCompactionLevel
	vs.seekCompactionFile = nil
	return f, level, true
}

// installVersion appends v to the tail of the version list and makes it
// current, unreffing the previous current.
func (vs *Set) installVersion(v *Version) {
	v.finalize()
	v.next = &vs.dummyVersions
	v.prev = vs.dummyVersions.prev
	v.prev.next = v
	v.next.prev = v
	old := vs.current
	vs.current = v
	v.Ref()
	if old != nil {
		old.Unref()
	}
}

// builder accumulates a base Version plus a set of edits into a new file
// list per level, preserving the smallest-key sort order and (for levels
// >=1) the disjointness invariant (§4.12 log_and_apply step 2).
type builder struct {
	vs      *Set
	base    *Version
	deleted [numLevels]map[uint64]bool
	added   [numLevels][]*FileMetaData
}

func newBuilder(vs *Set, base *Version) *builder {
	b := &builder{vs: vs, base: base}
	for i := range b.deleted {
		b.deleted[i] = make(map[uint64]bool)
	}
	return b
}

func (b *builder) apply(e *Edit) {
	for _, cp := range e.CompactPointers {
		b.vs.compactPointers[cp.Level] = cp.Key
	}
	for _, df := range e.DeletedFiles {
		b.deleted[df.level][df.fileNum] = true
	}
	for _, nf := range e.NewFiles {
		meta := nf.Meta
		meta.AllowedSeeks = int64(meta.FileSize / (16 << 10))
		if meta.AllowedSeeks < 100 {
			meta.AllowedSeeks = 100
		}
		b.added[nf.Level] = append(b.added[nf.Level], &meta)
	}
}

func (b *builder) saveTo(v *Version) {
	cmp := b.vs.icmp
	for level := 0; level < numLevels; level++ {
		var merged []*FileMetaData
		for _, f := range b.base.files[level] {
			if !b.deleted[level][f.FileNum] {
				merged = append(merged, f)
			}
		}
		merged = append(merged, b.added[level]...)
		if level == 0 {
			sort.Slice(merged, func(i, j int) bool { return merged[i].FileNum < merged[j].FileNum })
		} else {
			sort.Slice(merged, func(i, j int) bool {
				return cmp.User.Compare(merged[i].Smallest.UserKey, merged[j].Smallest.UserKey) < 0
			})
		}
		v.files[level] = merged
	}
}

// LogAndApply applies edit to current, producing and installing a new
// Version, and durably records the transition in the manifest (§4.12).
// Callers hold the DB mutex; the manifest write itself is not shown here
// releasing that mutex (that release is the DB façade's responsibility,
// since Set has no notion of the DB lock).
func (vs *Set) LogAndApply(edit *Edit) error {
	if !edit.HasLogNumber {
		edit.SetLogNumber(vs.logNumber)
	}
	if !edit.HasPrevLogNumber {
		edit.SetPrevLogNumber(vs.prevLogNumber)
	}

	// createManifest allocates the manifest's own file number via
	// NewFileNumber, so it must run before the edit is stamped with
	// nextFileNumber: otherwise the persisted next_file_number could equal
	// a number the manifest itself just consumed (§3.5).
	if vs.manifestWriter == nil {
		if err := vs.createManifest(); err != nil {
			return err
		}
	}

	edit.SetNextFileNumber(vs.nextFileNumber)
	edit.SetLastSequence(vs.lastSequence)

	base := vs.current
	if base == nil {
		base = newVersion(vs)
	}
	b := newBuilder(vs, base)
	b.apply(edit)
	v := newVersion(vs)
	b.saveTo(v)
	v.finalize()

	if _, err := vs.manifestWriter.AddRecord(edit.Encode()); err != nil {
		return err
	}
	if err := vs.manifestWriter.Sync(); err != nil {
		return err
	}
	if vs.firstEditAfterManifest {
		vs.firstEditAfterManifest = false
		if err := vs.writeCurrent(); err != nil {
			return err
		}
	}

	vs.installVersion(v)
	vs.logNumber = edit.LogNumber
	vs.prevLogNumber = edit.PrevLogNumber
	return nil
}

// createManifest opens a new manifest file and writes an initial
// snapshot record describing the comparator, compact pointers, and
// every live file, per §4.12 step 4.
func (vs *Set) createManifest() error {
	num := vs.NewFileNumber()
	w, err := go_wal.CreateWriter(vs.storage, go_fs.TypeManifest, int64(num))
	if err != nil {
		return err
	}
	vs.manifestWriter = w
	vs.manifestFileNumber = num
	vs.firstEditAfterManifest = true

	snapshot := &Edit{}
	snapshot.SetComparatorName(vs.comparerName)
	for level, key := range vs.compactPointers {
		if key.UserKey != nil {
			snapshot.SetCompactPointer(level, key)
		}
	}
	if vs.current != nil {
		for level := 0; level < numLevels; level++ {
			for _, f := range vs.current.files[level] {
				snapshot.AddFile(level, *f)
			}
		}
	}
	if _, err := w.AddRecord(snapshot.Encode()); err != nil {
		return err
	}
	return w.Sync()
}

func (vs *Set) writeCurrent() error {
	w, _, err := vs.storage.Create(go_fs.TypeCurrent, currentFileNum)
	if err != nil {
		if err2 := vs.storage.Remove(go_fs.TypeCurrent, currentFileNum); err2 == nil {
			w, _, err = vs.storage.Create(go_fs.TypeCurrent, currentFileNum)
		}
		if err != nil {
			return err
		}
	}
	var buf [8]byte
	putLE64(buf[:], vs.manifestFileNumber)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	return w.Finish()
}

func putLE64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func getLE64(src []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(src); i++ {
		v |= uint64(src[i]) << (8 * i)
	}
	return v
}

// Bootstrap creates an empty manifest and CURRENT file for a brand new
// database (§4.16 step 2).
func (vs *Set) Bootstrap() error {
	edit := &Edit{}
	edit.SetComparatorName(vs.comparerName)
	edit.SetLogNumber(0)
	edit.SetNextFileNumber(2)
	edit.SetLastSequence(0)
	vs.installVersion(newVersion(vs))
	return vs.LogAndApply(edit)
}

// Recover reads CURRENT, replays the referenced manifest, and installs
// the resulting Version (§4.12 "recover").
func (vs *Set) Recover() error {
	r, _, err := vs.storage.Open(go_fs.TypeCurrent, currentFileNum, 0)
	if err != nil {
		return err
	}
	defer r.Close()
	buf := make([]byte, 8)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return common.WrapError(common.CodeCorruption, "version set: read CURRENT", err)
	}
	manifestNum := getLE64(buf)

	reader, manifestFile, err := go_wal.OpenReader(vs.storage, go_fs.TypeManifest, int64(manifestNum), nil)
	if err != nil {
		return err
	}
	defer manifestFile.Close()

	base := newVersion(vs)
	b := newBuilder(vs, base)
	var haveLogNumber, havePrevLogNumber, haveNextFile, haveLastSeq bool
	var logNumber, prevLogNumber, nextFile uint64
	var lastSeq common.SeqNum

	for {
		rec, err := reader.Next()
		if err != nil {
			break
		}
		edit := &Edit{}
		if err := edit.Decode(rec); err != nil {
			return err
		}
		if edit.HasComparator && edit.ComparatorName != vs.comparerName {
			return common.ErrCorruption("version set: comparator mismatch")
		}
		b.apply(edit)
		if edit.HasLogNumber {
			logNumber, haveLogNumber = edit.LogNumber, true
		}
		if edit.HasPrevLogNumber {
			prevLogNumber, havePrevLogNumber = edit.PrevLogNumber, true
		}
		if edit.HasNextFileNumber {
			nextFile, haveNextFile = edit.NextFileNumber, true
		}
		if edit.HasLastSequence {
			lastSeq, haveLastSeq = edit.LastSequence, true
		}
	}

	v := newVersion(vs)
	b.saveTo(v)
	vs.installVersion(v)

	if haveLogNumber {
		vs.logNumber = logNumber
	}
	if havePrevLogNumber {
		vs.prevLogNumber = prevLogNumber
	}
	if haveNextFile {
		vs.nextFileNumber = nextFile
	}
	if haveLastSeq {
		vs.lastSequence = lastSeq
	}
	vs.manifestFileNumber = manifestNum
	// Recovered manifests are reopened for append on the next
	// LogAndApply call rather than eagerly here; a fresh manifest is
	// simpler than seeking to append mid-file and matches the spec's
	// allowance to reuse an existing manifest only opportunistically.
	vs.manifestWriter = nil
	return nil
}

// Close releases the manifest writer and table cache.
func (vs *Set) Close() error {
	if vs.manifestWriter != nil {
		_ = vs.manifestWriter.Close()
	}
	vs.tableCache.Close()
	return nil
}
