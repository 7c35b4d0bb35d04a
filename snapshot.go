package lsmdb

import (
	"container/list"
	"context"

	"github.com/nogodb/lsmdb/internal/sstable/common"
)

// Snapshot is an opaque handle wrapping a sequence number, fixing the
// set of writes a subsequent read or iterator will observe (§3
// "Snapshot"). It must be released via Release when no longer needed.
type Snapshot struct {
	seq  common.SeqNum
	db   *DB
	elem *list.Element
}

// Sequence returns the sequence number the snapshot pins.
func (s *Snapshot) Sequence() common.SeqNum { return s.seq }

// Release removes the snapshot from the DB's live list, allowing
// compaction to reclaim entries that were only kept alive for it.
func (s *Snapshot) Release() {
	if s.elem == nil {
		return
	}
	ctx := context.Background()
	if err := s.db.mu.AcquireCtx(ctx); err != nil {
		return
	}
	s.db.snapshots.Remove(s.elem)
	s.elem = nil
	_ = s.db.mu.ReleaseCtx(ctx)
}

// NewSnapshot captures the current committed sequence number, fixing
// the set of writes future reads through it will observe.
func (db *DB) NewSnapshot() *Snapshot {
	ctx := context.Background()
	if err := db.mu.AcquireCtx(ctx); err != nil {
		return &Snapshot{db: db}
	}
	s := &Snapshot{seq: db.vs.LastSequence(), db: db}
	db.snapshots.insert(s)
	_ = db.mu.ReleaseCtx(ctx)
	return s
}

// snapshotList keeps live snapshots ordered by sequence number so the
// oldest is always at the front.
type snapshotList struct {
	*list.List
}

func newSnapshotList() *snapshotList { return &snapshotList{List: list.New()} }

// oldest returns the smallest live snapshot sequence, or last if there
// are none (§4.13 "do_compaction_work": smallest_snapshot).
func (l *snapshotList) oldest(last common.SeqNum) common.SeqNum {
	if l.Len() == 0 {
		return last
	}
	return l.Front().Value.(*Snapshot).seq
}

func (l *snapshotList) insert(s *Snapshot) {
	for e := l.Back(); e != nil; e = e.Prev() {
		if e.Value.(*Snapshot).seq <= s.seq {
			s.elem = l.InsertAfter(s, e)
			return
		}
	}
	s.elem = l.PushFront(s)
}
