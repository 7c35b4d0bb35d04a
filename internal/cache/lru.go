package cache

import (
	"sync"

	"go.uber.org/zap"
)

// ICacher is the eviction policy plugged into a shard. LRU is the only
// implementation; the interface exists so a different policy could be
// substituted without touching the sharded hash table.
type ICacher interface {
	// Promote records that node was just inserted or accessed, moving it
	// to the front of the policy's retention order. diffSize is how much
	// node's charge changed since the last Promote (0 for a fresh read).
	// Returns false if node could never fit (its size exceeds capacity).
	Promote(node *kv, diffSize int64) bool
	// Evict removes node from the policy's bookkeeping; called once the
	// node has actually been deleted from the hash table.
	Evict(node *kv)
	SetCapacity(capacity int64)
	GetInUsed() int64
}

// log is a node in the LRU's circular doubly linked list.
type log struct {
	kv   LazyValue
	size int64
	// ban marks an entry as pinned: it will never be evicted by balance,
	// only removed explicitly via Evict.
	ban        bool
	prev, next *log
}

func (l *log) remove() {
	if l.prev == nil || l.next == nil {
		zap.L().Error("cache: remove a zombie lru node")
		panic("cache: remove a zombie lru node")
	}
	l.prev.next = l.next
	l.next.prev = l.prev
	l.prev = nil
	l.next = nil
}

// insert splices another in right after l: l <-> another <-> l.next
func (l *log) insert(another *log) {
	tmp := l.next
	l.next = another
	another.prev = l
	another.next = tmp
	tmp.prev = another
}

type lru struct {
	inUse    int64
	capacity int64

	mu sync.Mutex

	// recent is a dummy sentinel node.
	//   dummy recent <--> 1st most recent  <--> 2nd most recent
	//   ^                                                     ^
	//   |                                                     |
	//   v                                                     v
	//   least recent <-->       ...       <--> K-th most recent
	recent *log
}

func newLRU(maxSize int64) *lru {
	dummy := new(log)
	dummy.next = dummy
	dummy.prev = dummy
	return &lru{
		capacity: maxSize,
		recent:   dummy,
	}
}

func (l *lru) GetInUsed() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

func (l *lru) SetCapacity(capacity int64) {
	l.mu.Lock()
	l.capacity = capacity
	evicted := l.balance()
	l.mu.Unlock()

	for _, v := range evicted {
		v.Release()
	}
}

func (l *lru) Promote(node *kv, diffSize int64) bool {
	l.mu.Lock()
	nodeLog := node.getLog()
	if nodeLog == nil {
		if node.size > l.capacity {
			l.mu.Unlock()
			return false
		}

		nodeLog = &log{kv: node.ToLazyValue(), size: node.size}
		node.SetLog(nodeLog)
		l.inUse += node.size
	} else {
		if !nodeLog.ban {
			nodeLog.remove()
		}
		nodeLog.size += diffSize
		l.inUse += diffSize
	}
	l.recent.insert(nodeLog)
	evicted := l.balance()

	l.mu.Unlock()
	for _, v := range evicted {
		v.Release()
	}

	return true
}

func (l *lru) Evict(node *kv) {
	l.mu.Lock()
	defer l.mu.Unlock()
	currLog := node.getLog()
	if currLog == nil || currLog.ban {
		return
	}

	l.inUse -= currLog.size
	currLog.remove()
	node.SetLog(nil)
}

func (l *lru) Ban(node *kv) {
	l.mu.Lock()
	defer l.mu.Unlock()

	currLog := node.getLog()
	if currLog == nil {
		node.SetLog(&log{kv: node.ToLazyValue(), size: node.size, ban: true})
		return
	}
	if !currLog.ban {
		currLog.remove()
		currLog.ban = true
		l.inUse -= currLog.size
		node.SetLog(nil)
	}
}

// balance evicts least-recently-used entries until inUse fits capacity.
//
// Caller must hold l.mu.
func (l *lru) balance() (evicted []LazyValue) {
	for l.inUse > l.capacity {
		leastUsed := l.recent.prev
		if leastUsed == l.recent {
			// Nothing left to evict (everything remaining is banned or
			// the list is empty); stop rather than spin forever.
			break
		}
		leastUsed.remove()
		l.inUse -= leastUsed.size
		evicted = append(evicted, leastUsed.kv)
	}

	return evicted
}

var _ ICacher = (*lru)(nil)
