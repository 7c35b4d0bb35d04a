package memtable

import (
	"testing"

	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemTable_PutGetDelete(t *testing.T) {
	m := New(common.NewComparer())

	m.Add(1, common.KeyKindSet, []byte("a"), []byte("1"))
	m.Add(2, common.KeyKindSet, []byte("b"), []byte("2"))
	m.Add(3, common.KeyKindDelete, []byte("a"), nil)

	res, val := m.Get([]byte("a"), 3)
	assert.Equal(t, Deleted, res)
	assert.Nil(t, val)

	res, val = m.Get([]byte("a"), 1)
	assert.Equal(t, Found, res)
	assert.Equal(t, []byte("1"), val)

	res, _ = m.Get([]byte("missing"), 3)
	assert.Equal(t, Miss, res)
}

func TestMemTable_GetRespectsSequenceCeiling(t *testing.T) {
	m := New(common.NewComparer())
	m.Add(5, common.KeyKindSet, []byte("k"), []byte("newer"))
	m.Add(2, common.KeyKindSet, []byte("k"), []byte("older"))

	res, val := m.Get([]byte("k"), 3)
	require.Equal(t, Found, res)
	assert.Equal(t, []byte("older"), val)

	res, val = m.Get([]byte("k"), 10)
	require.Equal(t, Found, res)
	assert.Equal(t, []byte("newer"), val)
}

func TestMemTable_IteratorOrdering(t *testing.T) {
	m := New(common.NewComparer())
	m.Add(1, common.KeyKindSet, []byte("c"), []byte("3"))
	m.Add(1, common.KeyKindSet, []byte("a"), []byte("1"))
	m.Add(1, common.KeyKindSet, []byte("b"), []byte("2"))

	it := m.NewIterator()
	it.SeekToFirst()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key().UserKey))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMemTable_RefUnref(t *testing.T) {
	m := New(common.NewComparer())
	m.Add(1, common.KeyKindSet, []byte("a"), []byte("1"))
	m.Ref()
	m.Unref()
	m.Unref()
	assert.Greater(t, m.ApproximateMemoryUsage(), int64(0))
}
