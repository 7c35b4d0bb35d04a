package lsmdb

import (
	"context"
	"testing"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, fns ...OptionFn) *DB {
	t.Helper()
	storage := go_fs.NewInmemStorage()
	db, err := Open(storage, fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDB_PutGetDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, []byte("k1"), []byte("v1"), true))
	require.NoError(t, db.Put(ctx, []byte("k2"), []byte("v2"), true))

	val, ok, err := db.Get(ctx, []byte("k1"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	require.NoError(t, db.Delete(ctx, []byte("k1"), true))
	_, ok, err = db.Get(ctx, []byte("k1"), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	val, ok, err = db.Get(ctx, []byte("k2"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), val)
}

func TestDB_GetMissingKey(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.Get(context.Background(), []byte("nope"), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDB_SnapshotIsolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, []byte("k"), []byte("v1"), true))
	snap := db.NewSnapshot()
	defer snap.Release()

	require.NoError(t, db.Put(ctx, []byte("k"), []byte("v2"), true))

	val, ok, err := db.Get(ctx, []byte("k"), snap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), val)

	val, ok, err = db.Get(ctx, []byte("k"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), val)
}

func TestDB_WriteBatchAtomic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var batch WriteBatch
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))

	require.NoError(t, db.Write(ctx, &batch, true))

	_, ok, err := db.Get(ctx, []byte("a"), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	val, ok, err := db.Get(ctx, []byte("b"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2"), val)
}

func TestDB_IteratorOrderedScan(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	keys := []string{"c", "a", "e", "b", "d"}
	for _, k := range keys {
		require.NoError(t, db.Put(ctx, []byte(k), []byte(k+"-val"), false))
	}
	require.NoError(t, db.Delete(ctx, []byte("c"), false))

	it, err := db.NewIterator(ctx, nil)
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a", "b", "d", "e"}, got)
}

func TestDB_FlushAcrossMemtableBoundary(t *testing.T) {
	db := openTestDB(t, WithWriteBufferSize(256))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		require.NoError(t, db.Put(ctx, key, []byte("value-that-is-reasonably-sized"), false))
	}

	for i := 0; i < 200; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		val, ok, err := db.Get(ctx, key, nil)
		require.NoError(t, err)
		require.True(t, ok, "key %d missing", i)
		assert.Equal(t, []byte("value-that-is-reasonably-sized"), val)
	}
}

func TestDB_GetProperty(t *testing.T) {
	db := openTestDB(t)
	_, ok := db.GetProperty("leveldb.num-files-at-level0")
	assert.True(t, ok)
	_, ok = db.GetProperty("leveldb.stats")
	assert.True(t, ok)
	_, ok = db.GetProperty("not.a.real.property")
	assert.False(t, ok)
}
