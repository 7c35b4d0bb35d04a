package cache

import (
	"sort"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

const (
	overflowThreshold     = 1 << 5
	overflowGrowThreshold = 1 << 7
)

// state is a generation of a shard's bucket array. Resizing swaps in a
// fresh state rather than mutating buckets in place, so readers holding a
// pointer to an old state keep working while the new one lazily migrates
// entries across from it.
type state struct {
	buckets    []bucket
	bucketMark uint32

	prevState unsafe.Pointer // points to the state being migrated from

	// resizing is non-zero while a grow/shrink is in flight.
	resizing int32

	// overflow counts buckets whose size exceeds overflowThreshold.
	overflow        int32
	growThreshold   int64
	shrinkThreshold int64
}

// lazyLoadBucket returns the bucket at id, migrating it from the previous
// generation on first access if this state was just created by a resize.
// initBucket itself double-checks under the bucket's lock, so repeatedly
// calling it for an already-initialized bucket is cheap but always safe.
func (s *state) lazyLoadBucket(id uint32) *bucket {
	return s.initBucket(id)
}

func (s *state) initBucket(id uint32) *bucket {
	b := &s.buckets[id]

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state >= initialized {
		return b
	}

	prevState := (*state)(atomic.LoadPointer(&s.prevState))
	if prevState == nil {
		zap.L().Error("cache: prev state is nil when initialising a fresh bucket")
		panic("cache: prev state is nil when initialising a fresh bucket")
	}

	if s.bucketMark > prevState.bucketMark {
		// growing: this bucket's entries come from splitting one old bucket
		nodes := prevState.initBucket(id & prevState.bucketMark).Freeze()
		for _, node := range nodes {
			if node.hash&s.bucketMark == id {
				b.nodes = append(b.nodes, node)
			}
		}
	} else {
		// shrinking: this bucket's entries come from merging two old buckets
		nodes0 := prevState.initBucket(id).Freeze()
		nodes1 := prevState.initBucket(id + uint32(len(s.buckets))).Freeze()

		b.nodes = make([]*kv, 0, len(nodes0)+len(nodes1))
		b.nodes = append(b.nodes, nodes0...)
		b.nodes = append(b.nodes, nodes1...)
		sort.Slice(b.nodes, func(i, j int) bool {
			return b.nodes[i].key < b.nodes[j].key ||
				(b.nodes[i].key == b.nodes[j].key && b.nodes[i].fileNum < b.nodes[j].fileNum)
		})
	}

	b.state = initialized
	return b
}

func (s *state) initBuckets() {
	for i := range s.buckets {
		s.initBucket(uint32(i))
	}

	atomic.StorePointer(&s.prevState, nil)
}
