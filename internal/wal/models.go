// Package go_wal implements the 32 KiB-block framed, CRC-checked record
// stream used both as the write-ahead log and as the manifest log
// (§4.4 of the design). One instance covers exactly one on-disk file
// (one WAL segment per memtable generation, or one manifest file per
// epoch); rotation across file numbers is the caller's responsibility
// (the DB façade and the version set respectively).
package go_wal

import (
	"errors"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
)

const (
	// defaultBlockSize is the physical framing unit: every record
	// fragment is packed into 32 KiB blocks, padding the tail of a block
	// with zeroes when too little room remains for another header.
	defaultBlockSize = 32 * 1024
	// headerSize is crc(4) + length(2) + type(1).
	headerSize = 7
)

// RecordType tags a physical fragment. ZeroType marks a run of padding
// bytes at the tail of a block (fewer than headerSize bytes remained);
// readers must treat it as end-of-block, not as a corrupt record.
type RecordType byte

const (
	ZeroType RecordType = iota
	FullType
	FirstType
	MiddleType
	LastType
)

// PageID identifies a log file among any the caller happens to be
// tracking together; the DB façade and version set key these by disk
// file number.
type PageID uint32

// Position identifies where a logical record begins in the stream.
type Position struct {
	PageId      PageID
	BlockNumber uint32
	Offset      uint32
}

// Record is the handle returned by a write: enough to know where the
// logical record starts and how long its (decoded) payload is.
type Record struct {
	Pos  Position
	Size uint32
}

// Page tracks the physical framing state of one log file: how many full
// blocks have been started and how far into the current (last) block the
// next fragment should be written.
type Page struct {
	Id PageID

	// TotalBlockCount counts blocks that have been started, including the
	// partially filled current one.
	TotalBlockCount uint32
	// LastBlockSize is the number of bytes already occupied in the
	// current block.
	LastBlockSize uint32

	writer go_fs.Writable
}

var (
	ErrInvalidChecksum = errors.New("wal: invalid checksum")
	ErrCorruptRecord   = errors.New("wal: corrupt record")
)
