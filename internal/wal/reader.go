package go_wal

import (
	"encoding/binary"
	"io"

	go_fs "github.com/nogodb/lsmdb/internal/fs"
)

// Reporter receives a description of a corruption skipped over during
// replay. bytesSkipped counts the bytes dropped: the payload bytes of the
// affected fragment(s), or, for a bad length, the rest of the block.
type Reporter func(reason string, bytesSkipped int)

// Reader replays the logical records written by Page.Write from a
// go_fs.Readable, in order. It always starts at offset 0, so the
// "resyncing above offset 0" case never arises here: NewReader leaves
// the resyncing flag false, and every missing-start case is reported.
type Reader struct {
	src go_fs.Readable

	block     []byte
	blockLen  int
	blockOff  int
	fileOff   int64
	eof       bool
	report    Reporter
	resyncing bool
}

func NewReader(src go_fs.Readable, report Reporter) *Reader {
	if report == nil {
		report = func(string, int) {}
	}
	return &Reader{src: src, block: make([]byte, defaultBlockSize), report: report}
}

// fillBlock reads the next 32 KiB block (or the final short block at
// EOF). Returns false once no more data is available.
func (r *Reader) fillBlock() bool {
	if r.eof {
		return false
	}
	n, err := io.ReadFull(io.NewSectionReader(r.src, r.fileOff, defaultBlockSize), r.block)
	if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
		r.eof = true
		return false
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		r.eof = true
		return false
	}
	r.blockLen = n
	r.blockOff = 0
	r.fileOff += int64(n)
	if n < defaultBlockSize {
		// Short final block: after it is consumed there is nothing more.
	}
	return true
}

// nextFragment returns the next physical fragment's type and payload,
// or false if the stream is exhausted (clean EOF, not a corruption).
func (r *Reader) nextFragment() (RecordType, []byte, bool) {
	for {
		if r.blockLen-r.blockOff < headerSize {
			// Zero padding at the tail of the block (or a truncated
			// header at EOF): skip it without reporting.
			if !r.fillBlock() {
				return ZeroType, nil, false
			}
			continue
		}
		hdr := r.block[r.blockOff : r.blockOff+headerSize]
		crc := binary.LittleEndian.Uint32(hdr[0:4])
		length := binary.LittleEndian.Uint16(hdr[4:6])
		recType := RecordType(hdr[6])

		if recType == ZeroType && length == 0 {
			// Padding to the end of the block.
			if !r.fillBlock() {
				return ZeroType, nil, false
			}
			continue
		}

		start := r.blockOff + headerSize
		end := start + int(length)
		if end > r.blockLen {
			r.report("bad record length", r.blockLen-r.blockOff)
			if !r.fillBlock() {
				return ZeroType, nil, false
			}
			continue
		}
		payload := r.block[start:end]
		r.blockOff = end

		got := checksummer.Checksum(payload, byte(recType))
		if got != crc {
			r.report("checksum mismatch", len(payload))
			continue
		}
		return recType, payload, true
	}
}

// Next returns the next logical record's payload. It returns io.EOF
// (with a nil payload) once the stream is exhausted cleanly.
func (r *Reader) Next() ([]byte, error) {
	var scratch []byte
	inFragmentedRecord := false

	for {
		recType, payload, ok := r.nextFragment()
		if !ok {
			if inFragmentedRecord {
				r.report("fragmented record interrupted by EOF", len(scratch))
			}
			return nil, io.EOF
		}

		switch recType {
		case FullType:
			if inFragmentedRecord && !r.resyncing {
				r.report("missing start of fragmented record", len(scratch))
			}
			return append([]byte(nil), payload...), nil
		case FirstType:
			if inFragmentedRecord && !r.resyncing {
				r.report("missing start of fragmented record", len(scratch))
			}
			scratch = append(scratch[:0], payload...)
			inFragmentedRecord = true
			r.resyncing = false
		case MiddleType:
			if !inFragmentedRecord {
				if !r.resyncing {
					r.report("missing start of fragmented record", len(payload))
				}
				continue
			}
			scratch = append(scratch, payload...)
		case LastType:
			if !inFragmentedRecord {
				if !r.resyncing {
					r.report("missing start of fragmented record", len(payload))
				}
				continue
			}
			scratch = append(scratch, payload...)
			return scratch, nil
		default:
			r.report("unknown record type", len(payload))
		}
	}
}
