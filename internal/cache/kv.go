package cache

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Handle is a reference to an entry held in the cache. The holder must
// call Release exactly once when done with the entry.
type Handle struct {
	// n points to *kv, cleared to nil once released.
	n unsafe.Pointer
}

// Release drops this handle's reference to the underlying entry. Once the
// last outstanding reference is released the entry becomes eligible for
// eviction.
func (h *Handle) Release() {
	nPtr := atomic.LoadPointer(&h.n)
	if nPtr == nil {
		return
	}

	if atomic.CompareAndSwapPointer(&h.n, nPtr, nil) {
		n := (*kv)(nPtr)

		if atomic.AddInt32(&n.ref, -1) <= 0 {
			n.hm.mu.RLock()
			_ = n.hm.evict(n)
			n.hm.mu.RUnlock()
		}
	}
}

// Load returns the cached value, or nil if the handle has been released.
func (h *Handle) Load() Value {
	n := (*kv)(atomic.LoadPointer(&h.n))
	if n == nil {
		return nil
	}
	return n.value
}

var _ LazyValue = (*Handle)(nil)

// kv is one entry in the cache, keyed by (fileNum, key) -- typically a
// table's file number and a byte offset into that table.
type kv struct {
	mu sync.Mutex
	hm *shard

	hash         uint32
	fileNum, key uint64
	value        Value
	size         int64

	// ref counts the outstanding handles plus, while resident in the LRU
	// list, one implicit reference held by the cache itself.
	ref int32

	// log is this entry's node in the LRU list, nil if not resident.
	log *log
}

func NewKV(fileNum, key uint64, hash uint32, hm *shard) *kv {
	return &kv{
		hm:      hm,
		fileNum: fileNum,
		key:     key,
		hash:    hash,
	}
}

func (n *kv) ToLazyValue() LazyValue {
	return &Handle{n: unsafe.Pointer(n)}
}

func (n *kv) upRef() {
	atomic.AddInt32(&n.ref, 1)
}

func (n *kv) unref() {
	atomic.AddInt32(&n.ref, -1)
}

func (n *kv) SetValue(value Value, size int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.value = value
	n.size = size
}

func (n *kv) SetLog(l *log) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.log = l
}

func (n *kv) getLog() *log {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.log
}
