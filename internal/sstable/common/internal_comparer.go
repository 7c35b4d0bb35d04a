package common

// InternalKeyComparer adapts a user comparer into an ordering over
// encoded internal keys (user_key || trailer): user keys ascending by
// the wrapped comparer, and for equal user keys, sequence descending
// then kind descending, so that a forward scan visits the newest
// version of a key before older ones.
type InternalKeyComparer struct {
	User IComparer
}

func NewInternalKeyComparer(user IComparer) *InternalKeyComparer {
	return &InternalKeyComparer{User: user}
}

// Compare compares two encoded internal keys (as produced by
// InternalKey.Encode / InternalKey.SerializeTo).
func (c *InternalKeyComparer) Compare(a, b []byte) int {
	ua, ta := splitInternalKey(a)
	ub, tb := splitInternalKey(b)
	if r := c.User.Compare(ua, ub); r != 0 {
		return r
	}
	// Equal user keys: larger trailer (higher sequence, and within a
	// sequence, larger kind) sorts first.
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	default:
		return 0
	}
}

func splitInternalKey(k []byte) (userKey []byte, trailer uint64) {
	n := len(k) - InternalKeyTrailerLen
	if n < 0 {
		return k, 0
	}
	ik := DeserializeKey(k)
	return ik.UserKey, uint64(ik.Trailer)
}

// CompareKeys compares two InternalKey values directly, without an
// intermediate encode/decode round trip.
func (c *InternalKeyComparer) CompareKeys(a, b InternalKey) int {
	if r := c.User.Compare(a.UserKey, b.UserKey); r != 0 {
		return r
	}
	switch {
	case a.Trailer > b.Trailer:
		return -1
	case a.Trailer < b.Trailer:
		return 1
	default:
		return 0
	}
}

// Separator appends an internal key x such that a <= x && x < b (§4.7
// index-key shortening), operating on the user-key prefix: it asks the
// wrapped comparer for a shortened user key strictly between a and b's
// user keys, and if one exists, reattaches the trailer that sorts before
// every version of that user key (MakeSearchKey's trailer) since the
// shortened key differs from both a and b's user key and the trailer no
// longer affects ordering against either bound. If no shortening is
// possible (including when a and b share a user key, where any trailer
// choice could violate a <= x), a's own internal key is kept unchanged.
func (c *InternalKeyComparer) Separator(dst, a, b []byte) []byte {
	ua, _ := splitInternalKey(a)
	ub, _ := splitInternalKey(b)
	sep := c.User.Separator(nil, ua, ub)
	if len(sep) < len(ua) && c.User.Compare(ua, sep) < 0 && c.User.Compare(sep, ub) < 0 {
		return append(dst, MakeSearchKey(sep).Encode()...)
	}
	return append(dst, a...)
}

// Successor appends an internal key x such that x >= b, analogous to
// Separator but shortening against no upper bound.
func (c *InternalKeyComparer) Successor(dst, b []byte) []byte {
	ub, _ := splitInternalKey(b)
	succ := c.User.Successor(nil, ub)
	if len(succ) < len(ub) && c.User.Compare(ub, succ) < 0 {
		return append(dst, MakeSearchKey(succ).Encode()...)
	}
	return append(dst, b...)
}

var _ IComparer = (*InternalKeyComparer)(nil)
