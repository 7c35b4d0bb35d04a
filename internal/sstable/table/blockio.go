package table

import (
	go_fs "github.com/nogodb/lsmdb/internal/fs"
	"github.com/nogodb/lsmdb/internal/sstable/common"
	"github.com/nogodb/lsmdb/internal/sstable/compression"
)

var checksummer = common.NewChecksumer(common.CRC32CChecksum)

// compressBlock compresses raw with comp unless doing so doesn't save at
// least 12.5% of the original size, in which case it is stored
// uncompressed (§4.7 "Compression").
func compressBlock(raw []byte, comp compression.ICompression) (payload []byte, kind byte) {
	if comp == nil || comp.GetType() == compression.NoCompression {
		return raw, byte(compression.NoCompression)
	}
	compressed := comp.Compress(nil, raw)
	if len(compressed) >= len(raw)-len(raw)/8 {
		return raw, byte(compression.NoCompression)
	}
	return compressed, byte(comp.GetType())
}

// writePhysicalBlock compresses (subject to the 12.5% rule), appends the
// trailer, writes the result to w, and returns the handle locating it.
func writePhysicalBlock(w go_fs.Writable, offset uint64, raw []byte, comp compression.ICompression) (common.BlockHandle, error) {
	payload, kind := compressBlock(raw, comp)
	crc := checksummer.Checksum(payload, kind)
	pb := common.NewPhysicalBlock(payload, kind, crc)
	encoded := pb.Encode()
	if _, err := w.Write(encoded); err != nil {
		return common.BlockHandle{}, err
	}
	return common.BlockHandle{Offset: offset, Length: uint64(len(payload))}, nil
}

// readPhysicalBlock reads, checksums, and decompresses the block at h.
func readPhysicalBlock(r go_fs.Readable, h common.BlockHandle, paranoid bool) ([]byte, error) {
	buf := make([]byte, h.Length+common.TrailerLen)
	if _, err := r.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, common.WrapError(common.CodeIOError, "table: read block", err)
	}
	data := buf[:h.Length]
	trailer := buf[h.Length:]
	kind := trailer[0]

	if paranoid {
		want := checksummer.Checksum(data, kind)
		got := (uint32(trailer[1]) | uint32(trailer[2])<<8 | uint32(trailer[3])<<16 | uint32(trailer[4])<<24)
		if want != got {
			return nil, common.ErrCorruption("table: block checksum mismatch")
		}
	}

	ct := compression.CompressionType(kind)
	if ct == compression.NoCompression {
		return data, nil
	}
	comp := compression.NewCompressor(ct)
	n, err := comp.DecompressedLen(data)
	if err != nil {
		return nil, common.WrapError(common.CodeCorruption, "table: decompressed length", err)
	}
	out := make([]byte, n)
	if err := comp.Decompress(out, data); err != nil {
		return nil, common.WrapError(common.CodeCorruption, "table: decompress block", err)
	}
	return out, nil
}
