// Package lsmdb implements an embedded, persistent, ordered key-value
// store organized as a log-structured merge tree: a write-ahead log and
// mutable memtable absorb writes, background compaction merges
// immutable sorted tables across levels, and reads consult the
// memtables and successive levels through a shared block and table
// cache (§1, §2).
package lsmdb

import (
	"container/list"
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/nogodb/lsmdb/internal/cache"
	"github.com/nogodb/lsmdb/internal/compaction"
	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/ctxlock"
	"github.com/nogodb/lsmdb/internal/memtable"
	"github.com/nogodb/lsmdb/internal/ratelimit"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/tablecache"
	"github.com/nogodb/lsmdb/internal/version"
	go_wal "github.com/nogodb/lsmdb/internal/wal"
)

// DB is a single-writer, many-reader handle on an LSM-tree store rooted
// at a go_fs.Storage. The zero value is not usable; construct one with
// Open.
type DB struct {
	storage go_fs.Storage
	opts    options
	icmp    *common.InternalKeyComparer

	mu *ctxlock.Lock

	mem *memtable.MemTable
	imm *memtable.MemTable

	walWriter *go_wal.Writer
	walNum    uint64

	vs *version.Set

	blockCache *cache.Cache

	snapshots *snapshotList
	writers   list.List // of *dbWriter, FIFO (§4.14)

	bgSignal   chan struct{} // closed and replaced to wake blocked writers/waiters
	bgErr      error         // sticky background error (§4.13 "Failure semantics")
	bgPending  bool          // a background round has been requested
	bgWorkCh   chan struct{}

	rateLimiter *ratelimit.AdaptiveRateLimiter

	manualGroup singleflight.Group // picks CompactRange rounds; called under mu

	bgGroup  *errgroup.Group
	bgCancel context.CancelFunc

	closed bool
	log    *zap.Logger
}

type dbWriter struct {
	batch *WriteBatch
	sync  bool
	err   error
	done  chan struct{}
}

// Open opens (and if necessary creates) a database rooted at storage
// (§4.16 "Recovery").
func Open(storage go_fs.Storage, fns ...OptionFn) (*DB, error) {
	opts := defaultOptions
	for _, fn := range fns {
		fn(&opts)
	}

	if _, _, err := storage.Create(go_fs.TypeLock, 0); err != nil {
		return nil, common.WrapError(common.CodeInvalidArgument, "lsmdb: database is locked by another opener", err)
	}

	db := &DB{
		storage:     storage,
		opts:        opts,
		icmp:        common.NewInternalKeyComparer(opts.comparer),
		mu:          ctxlock.New(),
		snapshots:   newSnapshotList(),
		bgSignal:    make(chan struct{}),
		bgWorkCh:    make(chan struct{}, 1),
		blockCache:  cache.New(int64(opts.blockCacheSize)),
		rateLimiter: ratelimit.NewAdaptiveRateLimiter(ratelimit.WithLimit(200, 100000)),
		log:         opts.logger,
	}

	cacheOpts := tablecache.Options{
		Comparer:     db.icmp,
		FilterMethod: opts.filterMethod,
		BlockCache:   db.blockCache,
		Paranoid:     opts.paranoidChecks,
	}
	db.vs = version.New(storage, opts.comparer, opts.comparerName, opts.targetFileSize, opts.tableCacheSize, cacheOpts)

	if err := db.recover(); err != nil {
		_ = storage.Remove(go_fs.TypeLock, 0)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	db.bgCancel = cancel
	eg, egCtx := errgroup.WithContext(ctx)
	db.bgGroup = eg
	eg.Go(func() error { db.backgroundLoop(egCtx); return nil })

	return db, nil
}

// recover implements §4.16: acquire CURRENT (or bootstrap), replay the
// version set, then replay any WAL files at or after log_number.
func (db *DB) recover() error {
	_, err := db.storage.LookUp(go_fs.TypeCurrent, 0)
	if err != nil {
		if !db.opts.createIfMissing {
			return common.ErrNotFound("lsmdb: database does not exist and create_if_missing is false")
		}
		if err := db.vs.Bootstrap(); err != nil {
			return err
		}
	} else {
		if db.opts.errorIfExists {
			return common.NewError(common.CodeInvalidArgument, "lsmdb: database already exists")
		}
		if err := db.vs.Recover(); err != nil {
			return err
		}
	}

	logNums := db.storage.List(go_fs.TypeWAL)
	var toReplay []int64
	for _, n := range logNums {
		if uint64(n) >= db.vs.LogNumber() || uint64(n) == db.vs.PrevLogNumber() {
			toReplay = append(toReplay, n)
		}
	}
	sort.Slice(toReplay, func(i, j int) bool { return toReplay[i] < toReplay[j] })

	edit := &version.Edit{}
	haveEdit := false
	for _, num := range toReplay {
		mem, err := db.replayLog(uint64(num), edit)
		if err != nil {
			return err
		}
		if mem != nil {
			haveEdit = true
		}
	}

	newLogNum := db.vs.NewFileNumber()
	w, err := go_wal.CreateWriter(db.storage, go_fs.TypeWAL, int64(newLogNum))
	if err != nil {
		return err
	}
	db.walWriter = w
	db.walNum = newLogNum
	db.mem = memtable.New(db.opts.comparer)

	if haveEdit {
		edit.SetLogNumber(newLogNum)
		if err := db.vs.LogAndApply(edit); err != nil {
			return err
		}
	}
	return nil
}

// replayLog replays one WAL file into a fresh memtable, flushing it to
// a new L0 table (recorded into edit) whenever it exceeds the
// configured write-buffer size (§4.16 step 4). It returns nil if the WAL
// held no records, so the caller can tell an empty log apart from one
// that produced an edit;
// TODO: adopt the last replayed log's tail memtable as the live memtable
// instead of always rotating to a fresh WAL, when WithReuseLogs(true) is set.
func (db *DB) replayLog(num uint64, edit *version.Edit) (*memtable.MemTable, error) {
	reader, rd, err := go_wal.OpenReader(db.storage, go_fs.TypeWAL, int64(num), func(reason string, n int) {
		db.log.Warn("wal replay: skipped corrupt record", zap.String("reason", reason), zap.Int("bytes", n))
	})
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	var mem *memtable.MemTable
	for {
		rec, err := reader.Next()
		if err != nil {
			break
		}
		if mem == nil {
			mem = memtable.New(db.opts.comparer)
		}
		if err := iterateBatch(rec, func(seq common.SeqNum, kind common.KeyKind, key, value []byte) {
			mem.Add(seq, kind, key, value)
			db.vs.SetLastSequence(seq)
		}); err != nil {
			return nil, err
		}
		if mem.ApproximateMemoryUsage() > int64(db.opts.writeBufferSize) {
			if err := db.flushMemtableToEdit(mem, edit); err != nil {
				return nil, err
			}
			mem = memtable.New(db.opts.comparer)
		}
	}
	if mem != nil && mem.ApproximateMemoryUsage() > 0 {
		if err := db.flushMemtableToEdit(mem, edit); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

func (db *DB) flushMemtableToEdit(mem *memtable.MemTable, edit *version.Edit) error {
	level, meta, err := compaction.FlushMemtable(mem, db.compactionOpts(), db.vs.Current())
	if err != nil {
		return err
	}
	if meta.FileNum == 0 {
		return nil
	}
	edit.AddFile(level, meta)
	return nil
}

func (db *DB) compactionOpts() compaction.Options {
	return compaction.Options{
		Storage:         db.storage,
		Comparer:        db.icmp,
		BlockSize:       db.opts.blockSize,
		RestartInterval: db.opts.restartInterval,
		Compression:     db.opts.compression,
		FilterMethod:    db.opts.filterMethod,
		TargetFileSize:  db.opts.targetFileSize,
		NewFileNumber:   db.vs.NewFileNumber,
	}
}

// Close stops background work and releases the file lock.
func (db *DB) Close() error {
	db.bgCancel()
	_ = db.bgGroup.Wait()

	if err := db.mu.AcquireCtx(context.Background()); err == nil {
		db.closed = true
		if db.walWriter != nil {
			_ = db.walWriter.Close()
		}
		_ = db.vs.Close()
		db.blockCache.Close()
		_ = db.mu.ReleaseCtx(context.Background())
	}
	return db.storage.Remove(go_fs.TypeLock, 0)
}

// wakeWaiters closes and replaces the shared signal channel, releasing
// every writer or waiter parked on it.
func (db *DB) wakeWaiters() {
	close(db.bgSignal)
	db.bgSignal = make(chan struct{})
}

// scheduleBackgroundWork marks a background round pending and wakes the
// compaction goroutine if it is idle. Callers hold db.mu.
func (db *DB) scheduleBackgroundWork() {
	if db.bgPending {
		return
	}
	db.bgPending = true
	select {
	case db.bgWorkCh <- struct{}{}:
	default:
	}
}

// scheduleBackgroundWorkAsync is scheduleBackgroundWork for callers that
// do not already hold db.mu, such as a read-path iterator noticing a
// seek-compaction candidate mid-scan.
func (db *DB) scheduleBackgroundWorkAsync() {
	ctx := context.Background()
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return
	}
	db.scheduleBackgroundWork()
	_ = db.mu.ReleaseCtx(context.Background())
}

// Put writes key/value with the given durability. sync forces the WAL
// append durable before returning (§4.14).
func (db *DB) Put(ctx context.Context, key, value []byte, sync bool) error {
	var b WriteBatch
	b.Put(key, value)
	return db.Write(ctx, &b, sync)
}

// Delete writes a tombstone for key (§4.14).
func (db *DB) Delete(ctx context.Context, key []byte, sync bool) error {
	var b WriteBatch
	b.Delete(key)
	return db.Write(ctx, &b, sync)
}

// Write applies batch atomically, enqueuing it on the FIFO writer queue
// and cooperating with concurrent writers through batch grouping
// (§4.14).
func (db *DB) Write(ctx context.Context, batch *WriteBatch, sync bool) error {
	w := &dbWriter{batch: batch, sync: sync, done: make(chan struct{})}

	if err := db.mu.AcquireCtx(ctx); err != nil {
		return err
	}
	db.writers.PushBack(w)
	for db.writers.Front().Value.(*dbWriter) != w {
		signal := db.bgSignal
		if err := db.mu.ReleaseCtx(context.Background()); err != nil {
			return err
		}
		select {
		case <-signal:
		case <-ctx.Done():
			db.abandonWriter(w)
			return ctx.Err()
		}
		if err := db.mu.AcquireCtx(ctx); err != nil {
			db.abandonWriter(w)
			return err
		}
	}

	err := db.makeRoomForWrite(ctx, false)
	if err == nil {
		db.runWriteRound(ctx, w)
	} else {
		w.err = err
		if elem := findElem(&db.writers, w); elem != nil {
			db.writers.Remove(elem)
		}
		db.wakeWaiters()
	}

	db.mu.ReleaseCtx(context.Background())
	return w.err
}

// abandonWriter removes w from the FIFO queue when its caller gave up
// before w reached the head, waking whichever writer is now blocked
// behind it. Always acquires with an uncancelable context: cleanup must
// not itself be abandoned.
func (db *DB) abandonWriter(w *dbWriter) {
	ctx := context.Background()
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return
	}
	if elem := findElem(&db.writers, w); elem != nil {
		db.writers.Remove(elem)
		db.wakeWaiters()
	}
	db.mu.ReleaseCtx(ctx)
}

// runWriteRound performs steps 2-6 of §4.14 for the writer at the head
// of the queue, assuming the caller holds db.mu.
func (db *DB) runWriteRound(ctx context.Context, head *dbWriter) int {
	const smallBatchGrowth = 128 << 10
	const maxBatchSize = 1 << 20

	combined := &WriteBatch{}
	combined.append(head.batch)
	merged := []*dbWriter{head}

	sizeCap := combined.Len() + smallBatchGrowth
	if sizeCap > maxBatchSize {
		sizeCap = maxBatchSize
	}

	for e := db.writers.Front().Next(); e != nil; e = e.Next() {
		next := e.Value.(*dbWriter)
		if next.sync && !head.sync {
			break
		}
		if combined.Len()+next.batch.Len() > sizeCap {
			break
		}
		combined.append(next.batch)
		merged = append(merged, next)
	}

	startSeq := db.vs.LastSequence() + 1
	combined.setSequence(startSeq)
	db.vs.SetLastSequence(startSeq + common.SeqNum(combined.Count()) - 1)

	logErr := db.mu.ReleaseCtx(context.Background())
	var writeErr error
	// runWriteRound assumes the caller holds db.mu on entry and re-holds
	// it on every return path below.
	if logErr == nil {
		_, writeErr = db.walWriter.AddRecord(combined.buf)
		if writeErr == nil && head.sync {
			writeErr = db.walWriter.Sync()
		}
		if writeErr == nil {
			_ = iterateBatch(combined.buf, func(seq common.SeqNum, kind common.KeyKind, key, value []byte) {
				db.mem.Add(seq, kind, key, value)
			})
		}
	}
	if err := db.mu.AcquireCtx(ctx); err != nil {
		// The round's WAL/memtable mutations already happened; finalizing
		// bookkeeping under the lock is mandatory regardless of whether
		// this writer's own context was the one that got cancelled.
		if err := db.mu.AcquireCtx(context.Background()); err != nil {
			writeErr = err
		}
	}

	if writeErr != nil {
		db.bgErr = writeErr
	}

	combined.Release()

	for _, mw := range merged {
		db.writers.Remove(findElem(&db.writers, mw))
		mw.err = writeErr
		close(mw.done)
	}
	db.wakeWaiters()
	return len(merged)
}

func findElem(l *list.List, v *dbWriter) *list.Element {
	for e := l.Front(); e != nil; e = e.Next() {
		if e.Value.(*dbWriter) == v {
			return e
		}
	}
	return nil
}

// makeRoomForWrite implements §4.14 step 1, assuming the caller holds
// db.mu.
func (db *DB) makeRoomForWrite(ctx context.Context, force bool) error {
	slowedDown := false
	for {
		if db.bgErr != nil {
			return db.bgErr
		}
		l0Count := len(db.vs.Current().Files(0))
		switch {
		case l0Count >= db.opts.l0SlowdownWritesTrigger && l0Count < db.opts.l0StopWritesTrigger && !force && !slowedDown:
			slowedDown = true
			if err := db.mu.ReleaseCtx(context.Background()); err != nil {
				return err
			}
			waitErr := db.rateLimiter.WaitN(ctx, 1)
			if err := db.mu.AcquireCtx(ctx); err != nil {
				return err
			}
			if waitErr != nil {
				return waitErr
			}
			force = false
			continue
		case !force && db.mem.ApproximateMemoryUsage() < int64(db.opts.writeBufferSize):
			return nil
		case db.imm != nil:
			signal := db.bgSignal
			if err := db.mu.ReleaseCtx(context.Background()); err != nil {
				return err
			}
			select {
			case <-signal:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := db.mu.AcquireCtx(ctx); err != nil {
				return err
			}
		case l0Count >= db.opts.l0StopWritesTrigger:
			signal := db.bgSignal
			if err := db.mu.ReleaseCtx(context.Background()); err != nil {
				return err
			}
			select {
			case <-signal:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := db.mu.AcquireCtx(ctx); err != nil {
				return err
			}
		default:
			newLogNum := db.vs.NewFileNumber()
			w, err := go_wal.CreateWriter(db.storage, go_fs.TypeWAL, int64(newLogNum))
			if err != nil {
				return err
			}
			oldWAL := db.walWriter
			db.walWriter = w
			db.walNum = newLogNum
			if oldWAL != nil {
				_ = oldWAL.Close()
			}
			db.imm = db.mem
			db.mem = memtable.New(db.opts.comparer)
			db.scheduleBackgroundWork()
			return nil
		}
	}
}

// Get performs a point lookup (§4.15). If snap is nil, the current
// committed state is observed.
func (db *DB) Get(ctx context.Context, key []byte, snap *Snapshot) ([]byte, bool, error) {
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return nil, false, err
	}
	mem, imm := db.mem, db.imm
	mem.Ref()
	if imm != nil {
		imm.Ref()
	}
	cur := db.vs.Current()
	cur.Ref()
	seq := db.vs.LastSequence()
	if snap != nil {
		seq = snap.seq
	}
	if err := db.mu.ReleaseCtx(context.Background()); err != nil {
		mem.Unref()
		if imm != nil {
			imm.Unref()
		}
		cur.Unref()
		return nil, false, err
	}

	defer func() {
		mem.Unref()
		if imm != nil {
			imm.Unref()
		}
		cur.Unref()
	}()

	if res, val := mem.Get(key, seq); res != memtable.Miss {
		return val, res == memtable.Found, nil
	}
	if imm != nil {
		if res, val := imm.Get(key, seq); res != memtable.Miss {
			return val, res == memtable.Found, nil
		}
	}

	lookupKey := common.MakeKey(key, seq, common.KeyKindMax).Encode()
	status, val, stats, err := cur.Get(key, lookupKey)
	if err != nil {
		return nil, false, err
	}
	if stats.SeekFile != nil {
		if aerr := db.mu.AcquireCtx(ctx); aerr == nil {
			if cur.UpdateStats(stats) {
				db.scheduleBackgroundWork()
			}
			_ = db.mu.ReleaseCtx(context.Background())
		}
	}
	return val, status == version.StatusFound, nil
}

// backgroundLoop drives the compaction engine: flush > size > seek
// (§4.13, "Trigger priority"). Manual compactions run from CompactRange
// on the caller's goroutine, not from this loop.
func (db *DB) backgroundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-db.bgWorkCh:
		}
		for db.doOneCompactionRound(ctx) {
		}
	}
}

// doOneCompactionRound performs a single trigger's worth of work and
// reports whether another round should immediately follow.
func (db *DB) doOneCompactionRound(ctx context.Context) bool {
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return false
	}
	db.bgPending = false
	if db.closed || db.bgErr != nil {
		db.mu.ReleaseCtx(context.Background())
		return false
	}

	if db.imm != nil {
		err := db.compactMemtable(ctx)
		db.mu.ReleaseCtx(context.Background())
		if err != nil {
			db.log.Error("background flush failed", zap.Error(err))
			return false
		}
		return true
	}

	req := db.pickCompaction()
	db.mu.ReleaseCtx(context.Background())
	if req == nil {
		return false
	}
	if err := db.runCompaction(ctx, req); err != nil {
		db.log.Error("background compaction failed", zap.Error(err))
		if aerr := db.mu.AcquireCtx(ctx); aerr == nil {
			db.bgErr = err
			db.mu.ReleaseCtx(context.Background())
		}
		return false
	}
	return true
}

// compactMemtable flushes the immutable memtable to a new table and
// installs the edit, assuming the caller holds db.mu.
func (db *DB) compactMemtable(ctx context.Context) error {
	imm := db.imm
	edit := &version.Edit{}
	if err := db.flushMemtableToEdit(imm, edit); err != nil {
		return err
	}
	edit.SetPrevLogNumber(0)
	edit.SetLogNumber(db.walNum)
	if err := db.vs.LogAndApply(edit); err != nil {
		return err
	}
	db.imm = nil
	imm.Unref()
	db.wakeWaiters()
	return nil
}

// pickCompaction chooses the next size- or seek-driven request against
// the current version, assuming the caller holds db.mu.
func (db *DB) pickCompaction() *compaction.Request {
	cur := db.vs.Current()
	picker := compaction.NewPicker(cur, db.icmp, db.opts.targetFileSize)

	level := -1
	best := 0.0
	for l := 0; l < 6; l++ {
		score := db.levelScore(cur, l)
		if score > best {
			best, level = score, l
		}
	}
	if level >= 0 && best >= 1.0 {
		return picker.PickSizeCompaction(level, db.vs.CompactPointer(level))
	}

	if f, seekLevel, ok := db.vs.PendingSeekCompaction(); ok {
		return picker.PickSeekCompaction(seekLevel, f)
	}
	return nil
}

func (db *DB) levelScore(v *version.Version, level int) float64 {
	if level == 0 {
		return float64(len(v.Files(0))) / float64(version.L0CompactionTrigger)
	}
	var bytes uint64
	for _, f := range v.Files(level) {
		bytes += f.FileSize
	}
	max := uint64(10 << 20)
	for i := 1; i < level; i++ {
		max *= 10
	}
	return float64(bytes) / float64(max)
}

// runCompaction executes req: a trivial move when eligible, otherwise a
// full merge via compaction.DoCompactionWork, then installs the
// resulting edit (§4.13 "Merge execution").
func (db *DB) runCompaction(ctx context.Context, req *compaction.Request) error {
	if req.IsTrivialMove {
		edit := &version.Edit{}
		edit.DeleteFile(req.Level, req.Inputs[0].FileNum)
		edit.AddFile(req.Level+1, *req.Inputs[0])
		edit.SetCompactPointer(req.Level, req.Inputs[0].Largest)
		if err := db.mu.AcquireCtx(ctx); err != nil {
			return err
		}
		err := db.vs.LogAndApply(edit)
		db.mu.ReleaseCtx(context.Background())
		return err
	}

	if err := db.mu.AcquireCtx(ctx); err != nil {
		return err
	}
	smallestSnapshot := db.snapshots.oldest(db.vs.LastSequence())
	cur := db.vs.Current()
	cur.Ref()
	tc := cur.TableCache()
	db.mu.ReleaseCtx(context.Background())
	defer cur.Unref()

	adapter := compaction.NewTableCacheAdapter(tc.NewIterator)
	hasFileBelow := func(level int, userKey []byte) bool {
		for l := level; l < 7; l++ {
			if cur.OverlapInLevel(l, userKey, userKey) {
				return true
			}
		}
		return false
	}

	result, err := compaction.DoCompactionWork(req, db.compactionOpts(), adapter, db.icmp, smallestSnapshot, hasFileBelow)
	if err != nil {
		return err
	}

	edit := &version.Edit{}
	for _, f := range req.Inputs {
		edit.DeleteFile(req.Level, f.FileNum)
	}
	for _, f := range req.NextInputs {
		edit.DeleteFile(req.Level+1, f.FileNum)
	}
	for _, out := range result.Outputs {
		edit.AddFile(req.Level+1, out)
	}
	if len(req.Inputs) > 0 {
		edit.SetCompactPointer(req.Level, req.Inputs[len(req.Inputs)-1].Largest)
	}

	if err := db.mu.AcquireCtx(ctx); err != nil {
		return err
	}
	err = db.vs.LogAndApply(edit)
	db.mu.ReleaseCtx(context.Background())
	return err
}

