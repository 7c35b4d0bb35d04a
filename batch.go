package lsmdb

import (
	"encoding/binary"

	"github.com/nogodb/lsmdb/internal/bytesbufferpool"
	"github.com/nogodb/lsmdb/internal/sstable/common"
)

// batchHeaderLen is the fixed64 sequence plus fixed32 count prefix
// (§4.14 "WriteBatch wire format").
const batchHeaderLen = 8 + 4

// WriteBatch is a sequence of Put/Delete operations applied atomically
// (§4.14). The zero value is ready to use.
type WriteBatch struct {
	buf   []byte
	count uint32
}

// newBatchBuffer draws its backing array from the shared byte-slice
// pool rather than allocating fresh, since a batch's buffer is only
// live for the span of one write round (§4.14 step 2-4).
func newBatchBuffer() []byte {
	buf := bytesbufferpool.Get(batchHeaderLen)
	return append(buf, make([]byte, batchHeaderLen)...)
}

// Release returns the batch's backing array to the shared pool. Callers
// must not touch the batch again afterwards. Only the write path's
// internally constructed combined batch is released this way; a
// caller-owned WriteBatch is left alone since its lifetime is the
// caller's to manage.
func (b *WriteBatch) Release() {
	if b.buf == nil {
		return
	}
	bytesbufferpool.Put(b.buf)
	b.buf = nil
	b.count = 0
}

func (b *WriteBatch) ensureHeader() {
	if b.buf == nil {
		b.buf = newBatchBuffer()
	}
}

func putVarstring(dst []byte, s []byte) []byte {
	var lenBuf [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	dst = append(dst, lenBuf[:n]...)
	return append(dst, s...)
}

// Put appends a Set record for key/value.
func (b *WriteBatch) Put(key, value []byte) {
	b.ensureHeader()
	b.buf = append(b.buf, byte(common.KeyKindSet))
	b.buf = putVarstring(b.buf, key)
	b.buf = putVarstring(b.buf, value)
	b.count++
}

// Delete appends a Delete tombstone for key.
func (b *WriteBatch) Delete(key []byte) {
	b.ensureHeader()
	b.buf = append(b.buf, byte(common.KeyKindDelete))
	b.buf = putVarstring(b.buf, key)
	b.count++
}

// Count returns the number of records in the batch.
func (b *WriteBatch) Count() uint32 { return b.count }

// Len returns the encoded size of the batch, header included.
func (b *WriteBatch) Len() int {
	if b.buf == nil {
		return batchHeaderLen
	}
	return len(b.buf)
}

// Reset empties the batch for reuse.
func (b *WriteBatch) Reset() {
	b.buf = nil
	b.count = 0
}

// setSequence stamps the batch's starting sequence number and finalizes
// its count into the header, right before it is appended to the log
// (§4.14 step 3).
func (b *WriteBatch) setSequence(seq common.SeqNum) {
	b.ensureHeader()
	binary.LittleEndian.PutUint64(b.buf[0:8], uint64(seq))
	binary.LittleEndian.PutUint32(b.buf[8:12], b.count)
}

func batchSequence(encoded []byte) common.SeqNum {
	return common.SeqNum(binary.LittleEndian.Uint64(encoded[0:8]))
}

func batchCount(encoded []byte) uint32 {
	return binary.LittleEndian.Uint32(encoded[8:12])
}

// append merges other's records into b, used by write-path batch
// grouping (§4.14 step 2). other must not yet have a stamped sequence.
func (b *WriteBatch) append(other *WriteBatch) {
	if other.buf == nil {
		return
	}
	b.ensureHeader()
	b.buf = append(b.buf, other.buf[batchHeaderLen:]...)
	b.count += other.count
}

// batchVisitor receives each decoded record, assigning it seq starting
// at the batch's stamped starting sequence and incrementing per record
// (§4.14 step 4).
type batchVisitor func(seq common.SeqNum, kind common.KeyKind, key, value []byte)

// iterateBatch replays every record in an encoded batch, in order,
// calling visit once per record with the correct absolute sequence
// number.
func iterateBatch(encoded []byte, visit batchVisitor) error {
	if len(encoded) < batchHeaderLen {
		return common.ErrCorruption("batch: too short")
	}
	seq := batchSequence(encoded)
	count := batchCount(encoded)
	buf := encoded[batchHeaderLen:]

	for i := uint32(0); i < count; i++ {
		if len(buf) < 1 {
			return common.ErrCorruption("batch: truncated record")
		}
		kind := common.KeyKind(buf[0])
		buf = buf[1:]
		key, rest, ok := getVarstring(buf)
		if !ok {
			return common.ErrCorruption("batch: bad key")
		}
		buf = rest
		var value []byte
		if kind == common.KeyKindSet {
			value, rest, ok = getVarstring(buf)
			if !ok {
				return common.ErrCorruption("batch: bad value")
			}
			buf = rest
		}
		visit(seq, kind, key, value)
		seq++
	}
	return nil
}

func getVarstring(src []byte) ([]byte, []byte, bool) {
	n, k := binary.Uvarint(src)
	if k <= 0 || uint64(len(src)-k) < n {
		return nil, nil, false
	}
	rest := src[k:]
	return rest[:n], rest[n:], true
}
