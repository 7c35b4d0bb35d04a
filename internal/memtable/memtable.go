// Package memtable implements the sorted in-memory table of
// (user_key, seq, type) -> value entries that absorbs writes before they
// are flushed to a level-0 table.
package memtable

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/nogodb/lsmdb/internal/arena"
	"github.com/nogodb/lsmdb/internal/skiplist"
	"github.com/nogodb/lsmdb/internal/sstable/common"
)

// entry wire format: varint32(internal_key_len) || internal_key ||
// varint32(value_len) || value. internal_key_len includes the 8-byte
// trailer.
type MemTable struct {
	cmp    *common.InternalKeyComparer
	arena  *arena.Arena
	list   *skiplist.Skiplist
	refs   atomic.Int32
	seqLo  common.SeqNum // smallest sequence number ever added, for diagnostics
	seqHi  common.SeqNum
	hasSeq bool
}

// New returns an empty, single-reference MemTable ordered by user
// comparer cmp.
func New(cmp common.IComparer) *MemTable {
	ic := common.NewInternalKeyComparer(cmp)
	m := &MemTable{
		cmp:   ic,
		arena: arena.New(),
	}
	m.list = skiplist.New(ic)
	m.refs.Store(1)
	return m
}

// Ref adds a reference; the caller must Unref exactly once for each Ref
// (and once for the initial reference returned by New).
func (m *MemTable) Ref() { m.refs.Add(1) }

// Unref releases a reference. The memtable (and its arena) become
// eligible for garbage collection once the last reference is released;
// there is no explicit destructor because everything is arena+GC owned.
func (m *MemTable) Unref() { m.refs.Add(-1) }

// ApproximateMemoryUsage returns the arena's running byte counter.
func (m *MemTable) ApproximateMemoryUsage() int64 {
	return m.arena.MemoryUsage()
}

// Add inserts (sequence, kind, userKey, value) as one entry, encoding
// and allocating it in a single arena request.
func (m *MemTable) Add(seq common.SeqNum, kind common.KeyKind, userKey, value []byte) {
	ikLen := len(userKey) + common.InternalKeyTrailerLen
	needed := binary.MaxVarintLen32 + ikLen + binary.MaxVarintLen32 + len(value)
	scratch := make([]byte, needed)
	n := binary.PutUvarint(scratch, uint64(ikLen))
	buf := m.arena.Allocate(n + ikLen + binary.MaxVarintLen32 + len(value))
	off := copy(buf, scratch[:n])
	ik := common.MakeKey(userKey, seq, kind)
	ik.SerializeTo(buf[off:])
	off += ikLen
	vn := binary.PutUvarint(scratch, uint64(len(value)))
	off += copy(buf[off:], scratch[:vn])
	off += copy(buf[off:], value)
	m.list.Insert(buf[:off])

	if !m.hasSeq || seq < m.seqLo {
		m.seqLo, m.hasSeq = seq, true
	}
	m.seqHi = seq
}

// decodeEntry splits an arena-encoded entry back into its internal key
// and value.
func decodeEntry(buf []byte) (common.InternalKey, []byte) {
	ikLen, n := binary.Uvarint(buf)
	buf = buf[n:]
	ikBytes := buf[:ikLen]
	buf = buf[ikLen:]
	vLen, n2 := binary.Uvarint(buf)
	buf = buf[n2:]
	value := buf[:vLen]
	return common.DeserializeKey(ikBytes), value
}

// LookupResult distinguishes a resolved value from a tombstone from a
// miss (fall through to the next layer).
type LookupResult int

const (
	Miss LookupResult = iota
	Found
	Deleted
)

// Get searches for the newest entry with the given user key at sequence
// <= lookupSeq. It builds the search key (userKey, lookupSeq, KeyKindMax)
// itself with common.MakeKey so the skip list search lands on the newest
// visible version first.
func (m *MemTable) Get(userKey []byte, lookupSeq common.SeqNum) (LookupResult, []byte) {
	search := common.MakeKey(userKey, lookupSeq, common.KeyKindMax).Encode()
	it := m.list.NewIterator()
	it.Seek(search)
	if !it.Valid() {
		return Miss, nil
	}
	ik, value := decodeEntry(it.Key())
	if !bytesEqual(ik.UserKey, userKey) {
		return Miss, nil
	}
	if ik.IsDelete() {
		return Deleted, nil
	}
	return Found, value
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

// NewIterator returns an iterator over the memtable's entries in
// internal-key order (newest-first per user key), yielding decoded
// internal keys and values.
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{it: m.list.NewIterator()}
}

// Iterator adapts the skip list's raw-bytes iterator to decoded
// internal-key/value pairs.
type Iterator struct {
	it *skiplist.Iterator
}

func (it *Iterator) Valid() bool { return it.it.Valid() }
func (it *Iterator) Next()       { it.it.Next() }
func (it *Iterator) Prev()       { it.it.Prev() }
func (it *Iterator) SeekToFirst() { it.it.SeekToFirst() }
func (it *Iterator) SeekToLast()  { it.it.SeekToLast() }
func (it *Iterator) Seek(ik common.InternalKey) {
	it.it.Seek(ik.Encode())
}

func (it *Iterator) Key() common.InternalKey {
	k, _ := decodeEntry(it.it.Key())
	return k
}

func (it *Iterator) Value() []byte {
	_, v := decodeEntry(it.it.Key())
	return v
}
