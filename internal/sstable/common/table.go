package common

type TableFormat byte

const (
	UnknownTableFormat TableFormat = iota
	RowBlockedBaseTableFormat
	ColumnarBlockedBasedTableFormat
)

type TableVersion byte

const (
	TableV1 TableVersion = iota
)

const (
	// BlockHandleMaxLen is the maximum varint-encoded length of a
	// BlockHandle (two uvarints, each up to 10 bytes).
	BlockHandleMaxLen = 20

	// FooterLen is the fixed, padded length of the footer written to the
	// end of every table file: two block handles (padded to their max
	// encoded length), a 4-byte version, and an 8-byte magic number.
	FooterLen = 2*BlockHandleMaxLen + 4 + 8

	// TableMagic is written as the last 8 bytes of every table file so a
	// reader can distinguish a well-formed table from garbage.
	TableMagic uint64 = 0xdb4775248b80fb57
)
