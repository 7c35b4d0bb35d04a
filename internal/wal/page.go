package go_wal

import (
	"encoding/binary"

	"github.com/nogodb/lsmdb/internal/sstable/common"
)

var checksummer = common.NewChecksumer(common.CRC32CChecksum)

// writeToMemBuffer fragments data across 32 KiB blocks and appends the
// physical bytes (padding + header + payload, repeated) to *buf,
// mutating the page's block bookkeeping as it goes. It performs no I/O;
// callers flush *buf to storage themselves. Returns the position of the
// first fragment and the total number of physical bytes appended
// (including any leading padding).
func (p *Page) writeToMemBuffer(data []byte, buf *[]byte) (*Position, int64, error) {
	pos := &Position{PageId: p.Id}
	var total int64
	begin := true
	left := data

	for {
		roomLeft := int64(defaultBlockSize) - int64(p.LastBlockSize)
		if roomLeft < headerSize {
			if roomLeft > 0 {
				*buf = append(*buf, make([]byte, roomLeft)...)
				total += roomLeft
			}
			p.TotalBlockCount++
			p.LastBlockSize = 0
			roomLeft = defaultBlockSize
		}

		if begin {
			pos.BlockNumber = p.TotalBlockCount
			pos.Offset = p.LastBlockSize
		}

		avail := roomLeft - headerSize
		fragLen := int64(len(left))
		last := fragLen <= avail
		if !last {
			fragLen = avail
		}

		var recType RecordType
		switch {
		case begin && last:
			recType = FullType
		case begin && !last:
			recType = FirstType
		case !begin && last:
			recType = LastType
		default:
			recType = MiddleType
		}

		chunk := left[:fragLen]
		writePhysicalRecord(recType, chunk, buf)

		written := headerSize + fragLen
		p.LastBlockSize += uint32(written)
		total += written

		left = left[fragLen:]
		begin = false
		if len(left) == 0 {
			break
		}
	}

	return pos, total, nil
}

// writePhysicalRecord appends one fragment's header and payload to *buf.
// The header is crc32c(payload, aux=type) masked (4 bytes LE), the
// payload length (2 bytes LE), and the type byte.
func writePhysicalRecord(recType RecordType, chunk []byte, buf *[]byte) {
	crc := checksummer.Checksum(chunk, byte(recType))
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], crc)
	binary.LittleEndian.PutUint16(hdr[4:6], uint16(len(chunk)))
	hdr[6] = byte(recType)
	*buf = append(*buf, hdr[:]...)
	*buf = append(*buf, chunk...)
}

// Write fragments and appends data as one logical record, flushing the
// framed bytes to the page's underlying storage object.
func (p *Page) Write(data []byte) (Record, error) {
	buf := make([]byte, 0, estimateNeededSpaces(data))
	pos, _, err := p.writeToMemBuffer(data, &buf)
	if err != nil {
		return Record{}, err
	}
	if _, err := p.writer.Write(buf); err != nil {
		return Record{}, err
	}
	return Record{Pos: *pos, Size: uint32(len(data))}, nil
}

func estimateNeededSpaces(data []byte) int {
	if len(data) <= defaultBlockSize {
		return len(data) + headerSize
	}
	return len(data) + (len(data)/defaultBlockSize+2)*headerSize
}
