package compaction

import (
	"testing"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/tablecache"
	"github.com/nogodb/lsmdb/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTargetFileSize = 2 << 20

func newTestVersion(t *testing.T, files map[int][]version.FileMetaData) (*version.Version, *common.InternalKeyComparer) {
	t.Helper()
	storage := go_fs.NewInmemStorage()
	cmp := common.NewComparer()
	icmp := common.NewInternalKeyComparer(cmp)
	vs := version.New(storage, cmp, "test.comparer", testTargetFileSize, 8, tablecache.Options{Comparer: cmp})
	require.NoError(t, vs.Bootstrap())

	edit := &version.Edit{}
	for level, metas := range files {
		for _, m := range metas {
			edit.AddFile(level, m)
		}
	}
	require.NoError(t, vs.LogAndApply(edit))
	return vs.Current(), icmp
}

func ik(key string, seq common.SeqNum) common.InternalKey {
	return common.MakeKey([]byte(key), seq, common.KeyKindSet)
}

func meta(num, size uint64, smallest, largest string) version.FileMetaData {
	return version.FileMetaData{
		FileNum:  num,
		FileSize: size,
		Smallest: ik(smallest, common.SeqNum(num)),
		Largest:  ik(largest, common.SeqNum(num)),
	}
}

func TestPicker_TrivialMove(t *testing.T) {
	v, icmp := newTestVersion(t, map[int][]version.FileMetaData{
		1: {meta(1, 100, "a", "b")},
	})
	p := NewPicker(v, icmp, testTargetFileSize)
	req := p.PickSizeCompaction(1, common.InternalKey{})
	require.NotNil(t, req)
	assert.True(t, req.IsTrivialMove)
	assert.Empty(t, req.NextInputs)
}

func TestPicker_NotTrivialMoveWhenOverlapBelow(t *testing.T) {
	v, icmp := newTestVersion(t, map[int][]version.FileMetaData{
		1: {meta(1, 100, "a", "b")},
		2: {meta(2, 100, "a", "b")},
	})
	p := NewPicker(v, icmp, testTargetFileSize)
	req := p.PickSizeCompaction(1, common.InternalKey{})
	require.NotNil(t, req)
	assert.False(t, req.IsTrivialMove)
	assert.Len(t, req.NextInputs, 1)
}

func TestPicker_ManualCompactionCapsLargeRanges(t *testing.T) {
	var files []version.FileMetaData
	for i := uint64(1); i <= 5; i++ {
		key := string([]byte{'a' + byte(i)})
		files = append(files, meta(i, testTargetFileSize*ExpandedCompactionByteSizeLimit, key, key))
	}
	v, icmp := newTestVersion(t, map[int][]version.FileMetaData{1: files})
	p := NewPicker(v, icmp, testTargetFileSize)

	req := p.PickManualCompaction(1, []byte("b"), []byte("z"))
	require.NotNil(t, req)
	assert.NotEmpty(t, req.Inputs)
	assert.Less(t, len(req.Inputs), len(files))
	assert.NotNil(t, req.ManualEnd)
}

func TestPicker_ManualCompactionNoOverlapReturnsNil(t *testing.T) {
	v, icmp := newTestVersion(t, map[int][]version.FileMetaData{
		1: {meta(1, 100, "a", "b")},
	})
	p := NewPicker(v, icmp, testTargetFileSize)
	req := p.PickManualCompaction(1, []byte("x"), []byte("y"))
	assert.Nil(t, req)
}

func TestPicker_SeekCompactionUsesSeekTrigger(t *testing.T) {
	v, icmp := newTestVersion(t, map[int][]version.FileMetaData{
		0: {meta(1, 100, "a", "c")},
	})
	p := NewPicker(v, icmp, testTargetFileSize)
	req := p.PickSeekCompaction(0, v.Files(0)[0])
	require.NotNil(t, req)
	assert.Equal(t, TriggerSeek, req.Trigger)
	assert.NotEmpty(t, req.Inputs)
}
