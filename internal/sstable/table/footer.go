// Package table implements the on-disk sorted table format (§4.7): a
// sequence of data blocks, an optional filter block, a meta-index block,
// an index block, and a fixed-size footer.
package table

import (
	"encoding/binary"

	"github.com/nogodb/lsmdb/internal/sstable/common"
)

// Footer is the fixed-size trailer written at the end of every table
// file: two padded BlockHandles followed by a format version and the
// magic number.
type Footer struct {
	MetaindexHandle common.BlockHandle
	IndexHandle     common.BlockHandle
	Version         common.TableVersion
}

// EncodeTo writes the footer's fixed-size representation.
func (f Footer) EncodeTo() []byte {
	buf := make([]byte, common.FooterLen)
	n := 0
	n += copy(buf[n:], f.MetaindexHandle.EncodeInto(nil))
	metaEnd := common.BlockHandleMaxLen
	n = metaEnd
	n += copy(buf[n:], f.IndexHandle.EncodeInto(nil))
	binary.LittleEndian.PutUint32(buf[2*common.BlockHandleMaxLen:], uint32(f.Version))
	binary.LittleEndian.PutUint64(buf[common.FooterLen-8:], common.TableMagic)
	return buf
}

// DecodeFooter parses the trailing common.FooterLen bytes of a table
// file.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != common.FooterLen {
		return Footer{}, common.ErrCorruption("table: bad footer length")
	}
	magic := binary.LittleEndian.Uint64(buf[common.FooterLen-8:])
	if magic != common.TableMagic {
		return Footer{}, common.ErrCorruption("table: bad magic number")
	}
	meta, n1 := common.DecodeBlockHandle(buf[:common.BlockHandleMaxLen])
	if n1 == 0 {
		return Footer{}, common.ErrCorruption("table: bad meta-index handle")
	}
	index, n2 := common.DecodeBlockHandle(buf[common.BlockHandleMaxLen : 2*common.BlockHandleMaxLen])
	if n2 == 0 {
		return Footer{}, common.ErrCorruption("table: bad index handle")
	}
	version := common.TableVersion(binary.LittleEndian.Uint32(buf[2*common.BlockHandleMaxLen:]))
	return Footer{MetaindexHandle: meta, IndexHandle: index, Version: version}, nil
}
