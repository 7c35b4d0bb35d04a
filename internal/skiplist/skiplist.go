// Package skiplist implements the ordered in-memory index backing a
// memtable: a concurrent-read, single-writer skip list keyed by
// arbitrary byte strings under a caller-supplied comparator.
//
// Entries are arena-allocated by the caller (the memtable owns the
// arena and hands the skip list already-encoded key bytes); the node
// and tower structures themselves are ordinary Go allocations linked by
// atomic pointers, which gives the same publish/observe guarantees as
// an arena-offset design without hand-rolled pointer arithmetic.
package skiplist

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/nogodb/lsmdb/internal/sstable/common"
)

const (
	// branching controls the geometric height distribution: each level
	// has a 1/branching chance of extending to the next.
	branching = 4
	// maxHeight bounds how tall a node's tower can grow.
	maxHeight = 12
)

type node struct {
	key  []byte
	next []atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	return &node{key: key, next: make([]atomic.Pointer[node], height)}
}

// Skiplist is an ordered set of arena-owned keys. Exactly one goroutine
// may call Insert at a time (serialized externally, typically by the DB
// mutex); Contains and iterators may run concurrently with the writer
// and with each other.
type Skiplist struct {
	cmp  common.IComparer
	head *node

	// height is the tallest tower among nodes ever inserted. Read with
	// relaxed ordering and bumped before the new node is linked in: a
	// reader that observes the larger height either follows a nil next
	// pointer (treated as end-of-list) or the newly published node.
	height atomic.Int32

	rnd *rand.Rand
}

// New returns an empty Skiplist ordered by cmp.
func New(cmp common.IComparer) *Skiplist {
	s := &Skiplist{
		cmp:  cmp,
		head: newNode(nil, maxHeight),
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.height.Store(1)
	return s
}

func (s *Skiplist) randomHeight() int {
	h := 1
	for h < maxHeight && s.rnd.Intn(branching) == 0 {
		h++
	}
	return h
}

// findGreaterOrEqual returns the first node whose key is >= key (nil if
// none), and, if prev != nil, fills prev[level] with the predecessor at
// every level from the current height down to 0.
func (s *Skiplist) findGreaterOrEqual(key []byte, prev *[maxHeight]*node) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && s.cmp.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if prev != nil {
			prev[level] = x
		}
		if level == 0 {
			return next
		}
		level--
	}
}

// findLessThan returns the last node whose key is strictly less than key,
// or the head sentinel if none.
func (s *Skiplist) findLessThan(key []byte) *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil && s.cmp.Compare(next.key, key) < 0 {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

func (s *Skiplist) findLast() *node {
	x := s.head
	level := int(s.height.Load()) - 1
	for {
		next := x.next[level].Load()
		if next != nil {
			x = next
			continue
		}
		if level == 0 {
			return x
		}
		level--
	}
}

// Insert adds key to the skip list. The caller must guarantee no equal
// key is already present.
func (s *Skiplist) Insert(key []byte) {
	var prev [maxHeight]*node
	listHeight := int(s.height.Load())
	x := s.head
	for level := listHeight - 1; level >= 0; level-- {
		for {
			next := x.next[level].Load()
			if next != nil && s.cmp.Compare(next.key, key) < 0 {
				x = next
				continue
			}
			break
		}
		prev[level] = x
	}

	height := s.randomHeight()
	if height > listHeight {
		for i := listHeight; i < height; i++ {
			prev[i] = s.head
		}
		s.height.Store(int32(height))
	}

	n := newNode(key, height)
	for level := 0; level < height; level++ {
		n.next[level].Store(prev[level].next[level].Load())
		prev[level].next[level].Store(n)
	}
}

// Contains reports whether key is present.
func (s *Skiplist) Contains(key []byte) bool {
	n := s.findGreaterOrEqual(key, nil)
	return n != nil && s.cmp.Compare(n.key, key) == 0
}

// Iterator walks the skip list. A single Iterator is not safe for
// concurrent use, but independent iterators may run concurrently with
// each other and with a single writer.
type Iterator struct {
	list *Skiplist
	n    *node
}

// NewIterator returns an Iterator, initially invalid.
func (s *Skiplist) NewIterator() *Iterator {
	return &Iterator{list: s}
}

func (it *Iterator) Valid() bool { return it.n != nil }

// Key returns the current entry's key. Valid must be true.
func (it *Iterator) Key() []byte { return it.n.key }

func (it *Iterator) Next() {
	it.n = it.n.next[0].Load()
}

// Prev repositions to the last entry strictly less than the current one;
// the skip list keeps no back pointers, so this re-searches from the
// head, as leveldb-family implementations do.
func (it *Iterator) Prev() {
	n := it.list.findLessThan(it.n.key)
	if n == it.list.head {
		it.n = nil
	} else {
		it.n = n
	}
}

func (it *Iterator) Seek(target []byte) {
	it.n = it.list.findGreaterOrEqual(target, nil)
}

func (it *Iterator) SeekToFirst() {
	it.n = it.list.head.next[0].Load()
}

func (it *Iterator) SeekToLast() {
	n := it.list.findLast()
	if n == it.list.head {
		it.n = nil
	} else {
		it.n = n
	}
}
