package lsmdb

import (
	"testing"

	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBatch_PutDeleteIterate(t *testing.T) {
	var b WriteBatch
	b.Put([]byte("a"), []byte("1"))
	b.Delete([]byte("b"))
	b.Put([]byte("c"), []byte("3"))
	assert.Equal(t, uint32(3), b.Count())

	b.setSequence(42)

	type rec struct {
		seq  common.SeqNum
		kind common.KeyKind
		key  string
		val  string
	}
	var got []rec
	err := iterateBatch(b.buf, func(seq common.SeqNum, kind common.KeyKind, key, value []byte) {
		got = append(got, rec{seq, kind, string(key), string(value)})
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, rec{42, common.KeyKindSet, "a", "1"}, got[0])
	assert.Equal(t, rec{43, common.KeyKindDelete, "b", ""}, got[1])
	assert.Equal(t, rec{44, common.KeyKindSet, "c", "3"}, got[2])
}

func TestWriteBatch_Append(t *testing.T) {
	var a, other WriteBatch
	a.Put([]byte("x"), []byte("1"))
	other.Put([]byte("y"), []byte("2"))
	other.Delete([]byte("z"))

	a.append(&other)
	assert.Equal(t, uint32(3), a.Count())

	a.setSequence(1)
	var keys []string
	err := iterateBatch(a.buf, func(seq common.SeqNum, kind common.KeyKind, key, value []byte) {
		keys = append(keys, string(key))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, keys)
}

func TestWriteBatch_ReleaseThenReuse(t *testing.T) {
	var b WriteBatch
	b.Put([]byte("k"), []byte("v"))
	b.Release()
	assert.Nil(t, b.buf)
	assert.Equal(t, uint32(0), b.Count())

	b.Put([]byte("k2"), []byte("v2"))
	assert.Equal(t, uint32(1), b.Count())
}

func TestIterateBatch_TruncatedRejected(t *testing.T) {
	err := iterateBatch([]byte{1, 2, 3}, func(common.SeqNum, common.KeyKind, []byte, []byte) {})
	require.Error(t, err)
}
