package common

import "encoding/binary"

const TrailerLen = 5

// PhysicalBlock represents a block as it is stored physically on disk,
// including its trailer.
type PhysicalBlock struct {
	data []byte
	// trailer is the trailer at the end of a block, encoding the block's
	// compression kind and a CRC32C checksum over data ++ compression kind.
	trailer [TrailerLen]byte
}

func NewPhysicalBlock(data []byte, auxiliary byte, checksum uint32) PhysicalBlock {
	p := PhysicalBlock{data: data}
	p.SetTrailer(auxiliary, checksum)
	return p
}

func (p *PhysicalBlock) SetData(data []byte) {
	p.data = data
}

func (p *PhysicalBlock) Data() []byte {
	return p.data
}

func (p *PhysicalBlock) Trailer() [TrailerLen]byte {
	return p.trailer
}

func (p *PhysicalBlock) CompressionKind() byte {
	return p.trailer[0]
}

func (p *PhysicalBlock) Checksum() uint32 {
	return binary.LittleEndian.Uint32(p.trailer[1:])
}

func (p *PhysicalBlock) SetTrailer(auxiliary byte, checksum uint32) {
	var trailer [TrailerLen]byte
	trailer[0] = auxiliary
	binary.LittleEndian.PutUint32(trailer[1:], checksum)

	p.trailer = trailer
}

// Encode returns the concatenation of the block's data and trailer, the
// exact bytes written to (or read from) the table file.
func (p *PhysicalBlock) Encode() []byte {
	buf := make([]byte, len(p.data)+TrailerLen)
	copy(buf, p.data)
	copy(buf[len(p.data):], p.trailer[:])
	return buf
}

// BlockHandle is the file offset and length of a block.
type BlockHandle struct {
	// Offset identifies the offset of the block within the file.
	Offset uint64
	// Length is the length of the block data (excludes the trailer).
	Length uint64
}

// EncodeInto appends the varint encoding of the handle to dst and returns
// the extended slice.
func (h BlockHandle) EncodeInto(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, h.Offset)
	dst = binary.AppendUvarint(dst, h.Length)
	return dst
}

// DecodeBlockHandle decodes a BlockHandle from the front of src, returning
// the handle and the number of bytes consumed. It returns n == 0 if src
// does not contain a valid encoding.
func DecodeBlockHandle(src []byte) (BlockHandle, int) {
	offset, n1 := binary.Uvarint(src)
	if n1 <= 0 {
		return BlockHandle{}, 0
	}
	length, n2 := binary.Uvarint(src[n1:])
	if n2 <= 0 {
		return BlockHandle{}, 0
	}
	return BlockHandle{Offset: offset, Length: length}, n1 + n2
}
