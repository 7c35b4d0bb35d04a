package version

import (
	"testing"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/tablecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	storage := go_fs.NewInmemStorage()
	cmp := common.NewComparer()
	vs := New(storage, cmp, "test.comparer", 2<<20, 8, tablecache.Options{Comparer: cmp})
	require.NoError(t, vs.Bootstrap())
	return vs
}

func ik(key string, seq common.SeqNum) common.InternalKey {
	return common.MakeKey([]byte(key), seq, common.KeyKindSet)
}

func file(num uint64, size uint64, smallest, largest string, seq common.SeqNum) FileMetaData {
	return FileMetaData{
		FileNum:  num,
		FileSize: size,
		Smallest: ik(smallest, seq),
		Largest:  ik(largest, seq),
	}
}

func TestVersion_OverlapInLevel(t *testing.T) {
	vs := newTestSet(t)
	edit := &Edit{}
	edit.AddFile(1, file(1, 100, "a", "c", 1))
	edit.AddFile(1, file(2, 100, "e", "g", 2))
	require.NoError(t, vs.LogAndApply(edit))

	v := vs.Current()
	assert.True(t, v.OverlapInLevel(1, []byte("b"), []byte("d")))
	assert.True(t, v.OverlapInLevel(1, []byte("f"), []byte("f")))
	assert.False(t, v.OverlapInLevel(1, []byte("cc"), []byte("dd")))
}

func TestVersion_GetOverlappingInputs_L0Widens(t *testing.T) {
	vs := newTestSet(t)
	edit := &Edit{}
	edit.AddFile(0, file(1, 100, "a", "e", 1))
	edit.AddFile(0, file(2, 100, "d", "h", 2))
	edit.AddFile(0, file(3, 100, "z", "zz", 3))
	require.NoError(t, vs.LogAndApply(edit))

	v := vs.Current()
	inputs := v.GetOverlappingInputs(0, []byte("b"), []byte("c"))
	require.Len(t, inputs, 2)
	nums := map[uint64]bool{}
	for _, f := range inputs {
		nums[f.FileNum] = true
	}
	assert.True(t, nums[1])
	assert.True(t, nums[2])
	assert.False(t, nums[3])
}

func TestVersion_PickLevelForMemtableOutput(t *testing.T) {
	vs := newTestSet(t)
	v := vs.Current()

	// No overlap anywhere: lands as deep as MaxMemCompactLevel allows.
	level := v.PickLevelForMemtableOutput([]byte("a"), []byte("b"), 2<<20)
	assert.Equal(t, MaxMemCompactLevel, level)

	edit := &Edit{}
	edit.AddFile(0, file(1, 100, "a", "b", 1))
	require.NoError(t, vs.LogAndApply(edit))
	v2 := vs.Current()
	assert.Equal(t, 0, v2.PickLevelForMemtableOutput([]byte("a"), []byte("b"), 2<<20))
}

func TestVersion_UpdateStatsTriggersOnceExhausted(t *testing.T) {
	vs := newTestSet(t)
	f := &FileMetaData{FileNum: 1, AllowedSeeks: 2}
	triggered := vs.dummyVersions.UpdateStats(GetStats{SeekFile: f, SeekFileLevel: 1})
	assert.False(t, triggered)
	triggered = vs.dummyVersions.UpdateStats(GetStats{SeekFile: f, SeekFileLevel: 1})
	assert.True(t, triggered)

	pending, level, ok := vs.PendingSeekCompaction()
	require.True(t, ok)
	assert.Equal(t, f, pending)
	assert.Equal(t, 1, level)

	_, _, ok = vs.PendingSeekCompaction()
	assert.False(t, ok)
}

func TestEdit_EncodeDecodeRoundTrip(t *testing.T) {
	e := &Edit{}
	e.SetComparatorName("test.comparer")
	e.SetLogNumber(5)
	e.SetPrevLogNumber(4)
	e.SetNextFileNumber(6)
	e.SetLastSequence(42)
	e.SetCompactPointer(2, ik("m", 7))
	e.DeleteFile(1, 3)
	e.AddFile(0, file(9, 1024, "a", "z", 8))

	var decoded Edit
	require.NoError(t, decoded.Decode(e.Encode()))

	assert.Equal(t, "test.comparer", decoded.ComparatorName)
	assert.EqualValues(t, 5, decoded.LogNumber)
	assert.EqualValues(t, 4, decoded.PrevLogNumber)
	assert.EqualValues(t, 6, decoded.NextFileNumber)
	assert.EqualValues(t, 42, decoded.LastSequence)
	require.Len(t, decoded.CompactPointers, 1)
	assert.Equal(t, 2, decoded.CompactPointers[0].Level)
	require.Len(t, decoded.DeletedFiles, 1)
	assert.Equal(t, uint64(3), decoded.DeletedFiles[0].fileNum)
	require.Len(t, decoded.NewFiles, 1)
	assert.Equal(t, uint64(9), decoded.NewFiles[0].Meta.FileNum)
}
