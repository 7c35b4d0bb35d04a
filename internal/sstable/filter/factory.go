package filter

import "github.com/nogodb/lsmdb/internal/bloom"

// Method identifies the filter policy used to build and probe a table's
// filter block.
type Method byte

const (
	Unknown Method = iota
	BloomFilter
)

// NewFilter returns the Filter implementation backing method.
func NewFilter(method Method) bloom.Filter {
	switch method {
	case BloomFilter:
		return bloom.New()
	default:
		panic("filter: unsupported or unknown filtering method")
	}
}
