package common

import "hash/crc32"

// ChecksumType identifies the checksum algorithm stamped on a block
// trailer or a record fragment header. Every block and every WAL/manifest
// fragment is protected by CRC32C (the Castagnoli polynomial), matching
// the rest of the on-disk format.
type ChecksumType byte

const (
	UnknownChecksum ChecksumType = iota
	CRC32CChecksum
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

type checksumer struct {
	ct            ChecksumType
	auxiliaryByte [1]byte
}

type IChecksum interface {
	Checksum(block []byte, auxiliary byte) uint32
}

// Checksum computes crc32c(block ++ auxiliary), masked the way LevelDB
// masks its CRCs so that a checksum of all zero bytes doesn't collide
// with the zero value used to detect a missing trailer.
func (c checksumer) Checksum(block []byte, auxiliary byte) uint32 {
	switch c.ct {
	case CRC32CChecksum:
		c.auxiliaryByte[0] = auxiliary
		crc := crc32.Update(crc32.Checksum(block, castagnoliTable), castagnoliTable, c.auxiliaryByte[:])
		return Mask(crc)
	default:
		panic("common: unknown checksum type")
	}
}

func NewChecksumer(ct ChecksumType) IChecksum {
	return checksumer{ct: ct}
}

var _ IChecksum = checksumer{}

const maskDelta = 0xa282ead8

// Mask returns a masked representation of crc so that a malformed CRC
// that happens to be zero cannot be mistaken for an absent checksum.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}
