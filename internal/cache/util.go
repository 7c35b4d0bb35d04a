package cache

import (
	"encoding/binary"

	"github.com/twmb/murmur3"
)

func murmur32(ns, key uint64) uint32 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], ns)
	binary.LittleEndian.PutUint64(buf[8:16], key)
	return murmur3.Sum32(buf[:])
}

// computeSize returns the charge, in bytes, a value contributes to a
// shard's capacity accounting.
func computeSize(v Value) int {
	return len(v)
}
