// Package version implements the file-level bookkeeping of the store: the
// per-level file lists that make up a Version, the tagged-field delta
// records (VersionEdit) that describe a transition between two Versions,
// and the VersionSet that threads those transitions through an on-disk
// manifest (§4.11-4.12).
package version

import (
	"encoding/binary"

	"github.com/nogodb/lsmdb/internal/sstable/common"
)

const numLevels = 7

// MaxMemCompactLevel bounds how deep a memtable flush may land directly.
const MaxMemCompactLevel = 2

type tag uint32

const (
	tagComparator tag = 1 + iota
	tagLogNumber
	tagNextFileNumber
	tagLastSequence
	tagCompactPointer
	tagDeletedFile
	tagNewFile
	tagPrevLogNumber
)

// FileMetaData describes one on-disk table file (§4.11 "new-files").
type FileMetaData struct {
	FileNum       uint64
	FileSize      uint64
	Smallest      common.InternalKey
	Largest       common.InternalKey
	AllowedSeeks int64 // decremented by UpdateStats; triggers seek-compaction at 0
}

type compactPointer struct {
	level int
	key   common.InternalKey
}

type deletedFileKey struct {
	level   int
	fileNum uint64
}

// Edit is a serializable delta between two Versions (§4.11).
type Edit struct {
	ComparatorName string
	HasComparator  bool

	LogNumber    uint64
	HasLogNumber bool

	PrevLogNumber    uint64
	HasPrevLogNumber bool

	NextFileNumber    uint64
	HasNextFileNumber bool

	LastSequence    common.SeqNum
	HasLastSequence bool

	CompactPointers []compactPointerEdit
	DeletedFiles    []deletedFileKey
	NewFiles        []newFileEdit
}

type compactPointerEdit struct {
	Level int
	Key   common.InternalKey
}

type newFileEdit struct {
	Level int
	Meta  FileMetaData
}

func (e *Edit) SetComparatorName(name string) { e.ComparatorName = name; e.HasComparator = true }
func (e *Edit) SetLogNumber(n uint64)          { e.LogNumber = n; e.HasLogNumber = true }
func (e *Edit) SetPrevLogNumber(n uint64)      { e.PrevLogNumber = n; e.HasPrevLogNumber = true }
func (e *Edit) SetNextFileNumber(n uint64)     { e.NextFileNumber = n; e.HasNextFileNumber = true }
func (e *Edit) SetLastSequence(s common.SeqNum) { e.LastSequence = s; e.HasLastSequence = true }

func (e *Edit) SetCompactPointer(level int, key common.InternalKey) {
	e.CompactPointers = append(e.CompactPointers, compactPointerEdit{Level: level, Key: key})
}

func (e *Edit) DeleteFile(level int, fileNum uint64) {
	e.DeletedFiles = append(e.DeletedFiles, deletedFileKey{level: level, fileNum: fileNum})
}

func (e *Edit) AddFile(level int, meta FileMetaData) {
	e.NewFiles = append(e.NewFiles, newFileEdit{Level: level, Meta: meta})
}

func putUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func putVarstring(dst []byte, s []byte) []byte {
	dst = putUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func putTag(dst []byte, t tag) []byte { return putUvarint(dst, uint64(t)) }

func putInternalKey(dst []byte, k common.InternalKey) []byte {
	return putVarstring(dst, k.Encode())
}

// Encode serializes the edit using tag-prefixed varint fields (§4.11).
func (e *Edit) Encode() []byte {
	var buf []byte
	if e.HasComparator {
		buf = putTag(buf, tagComparator)
		buf = putVarstring(buf, []byte(e.ComparatorName))
	}
	if e.HasLogNumber {
		buf = putTag(buf, tagLogNumber)
		buf = putUvarint(buf, e.LogNumber)
	}
	if e.HasPrevLogNumber {
		buf = putTag(buf, tagPrevLogNumber)
		buf = putUvarint(buf, e.PrevLogNumber)
	}
	if e.HasNextFileNumber {
		buf = putTag(buf, tagNextFileNumber)
		buf = putUvarint(buf, e.NextFileNumber)
	}
	if e.HasLastSequence {
		buf = putTag(buf, tagLastSequence)
		buf = putUvarint(buf, uint64(e.LastSequence))
	}
	for _, cp := range e.CompactPointers {
		buf = putTag(buf, tagCompactPointer)
		buf = putUvarint(buf, uint64(cp.Level))
		buf = putInternalKey(buf, cp.Key)
	}
	for _, df := range e.DeletedFiles {
		buf = putTag(buf, tagDeletedFile)
		buf = putUvarint(buf, uint64(df.level))
		buf = putUvarint(buf, df.fileNum)
	}
	for _, nf := range e.NewFiles {
		buf = putTag(buf, tagNewFile)
		buf = putUvarint(buf, uint64(nf.Level))
		buf = putUvarint(buf, nf.Meta.FileNum)
		buf = putUvarint(buf, nf.Meta.FileSize)
		buf = putInternalKey(buf, nf.Meta.Smallest)
		buf = putInternalKey(buf, nf.Meta.Largest)
	}
	return buf
}

func getUvarint(src []byte) (uint64, []byte, bool) {
	v, n := binary.Uvarint(src)
	if n <= 0 {
		return 0, nil, false
	}
	return v, src[n:], true
}

func getVarstring(src []byte) ([]byte, []byte, bool) {
	n, rest, ok := getUvarint(src)
	if !ok || uint64(len(rest)) < n {
		return nil, nil, false
	}
	return rest[:n], rest[n:], true
}

func getInternalKey(src []byte) (common.InternalKey, []byte, bool) {
	raw, rest, ok := getVarstring(src)
	if !ok {
		return common.InternalKey{}, nil, false
	}
	return common.DeserializeKey(raw), rest, true
}

// Decode parses a tagged-field record produced by Encode. An unrecognized
// tag is treated as corruption, per §4.11.
func (e *Edit) Decode(buf []byte) error {
	for len(buf) > 0 {
		t, rest, ok := getUvarint(buf)
		if !ok {
			return common.ErrCorruption("version edit: bad tag")
		}
		buf = rest
		switch tag(t) {
		case tagComparator:
			s, rest, ok := getVarstring(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad comparator")
			}
			e.SetComparatorName(string(s))
			buf = rest
		case tagLogNumber:
			v, rest, ok := getUvarint(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad log number")
			}
			e.SetLogNumber(v)
			buf = rest
		case tagPrevLogNumber:
			v, rest, ok := getUvarint(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad prev log number")
			}
			e.SetPrevLogNumber(v)
			buf = rest
		case tagNextFileNumber:
			v, rest, ok := getUvarint(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad next file number")
			}
			e.SetNextFileNumber(v)
			buf = rest
		case tagLastSequence:
			v, rest, ok := getUvarint(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad last sequence")
			}
			e.SetLastSequence(common.SeqNum(v))
			buf = rest
		case tagCompactPointer:
			lvl, rest, ok := getUvarint(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad compact pointer level")
			}
			key, rest2, ok := getInternalKey(rest)
			if !ok {
				return common.ErrCorruption("version edit: bad compact pointer key")
			}
			e.SetCompactPointer(int(lvl), key)
			buf = rest2
		case tagDeletedFile:
			lvl, rest, ok := getUvarint(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad deleted-file level")
			}
			num, rest2, ok := getUvarint(rest)
			if !ok {
				return common.ErrCorruption("version edit: bad deleted-file number")
			}
			e.DeleteFile(int(lvl), num)
			buf = rest2
		case tagNewFile:
			lvl, rest, ok := getUvarint(buf)
			if !ok {
				return common.ErrCorruption("version edit: bad new-file level")
			}
			num, rest, ok := getUvarint(rest)
			if !ok {
				return common.ErrCorruption("version edit: bad new-file number")
			}
			sz, rest, ok := getUvarint(rest)
			if !ok {
				return common.ErrCorruption("version edit: bad new-file size")
			}
			smallest, rest, ok := getInternalKey(rest)
			if !ok {
				return common.ErrCorruption("version edit: bad new-file smallest")
			}
			largest, rest, ok := getInternalKey(rest)
			if !ok {
				return common.ErrCorruption("version edit: bad new-file largest")
			}
			e.AddFile(int(lvl), FileMetaData{FileNum: num, FileSize: sz, Smallest: smallest, Largest: largest})
			buf = rest
		default:
			return common.ErrCorruption("version edit: unknown tag")
		}
	}
	return nil
}
