package bloom

// Filter's methods are usually static: a build phase followed by a probe
// phase. Once probing begins, new insertions are not valid.
type Filter interface {
	NewWriter() Writer
	Name() string
	// MayContain returns whether the encoded filter may contain the given
	// key. False positives are possible; false negatives are not.
	MayContain(filter, key []byte) bool
}

type Writer interface {
	// Add adds a key to the filter generator.
	Add(key []byte)
	// Build generates an encoded filter from the keys added so far and
	// appends it to *pb, then resets the writer for the next filter.
	Build(pb *[]byte)
}
