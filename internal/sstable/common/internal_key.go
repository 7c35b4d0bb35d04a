package common

import "encoding/binary"

// KeyKind distinguishes a live value from a deletion tombstone. The store
// only ever writes these two kinds: there is no merge operator and no
// range deletion.
type KeyKind byte

const (
	KeyKindDelete KeyKind = 0
	KeyKindSet    KeyKind = 1

	// KeyKindMax is the largest kind value. Because a larger trailer sorts
	// first, a seek key built with it sorts before every entry of the same
	// user key and sequence number.
	KeyKindMax KeyKind = 1
)

// SeqNum is a sequence number defining precedence among identical keys. A key
// with a higher sequence number takes precedence over a key with an equal user
// key of a lower sequence number.
type SeqNum uint64

// SeqNumMax is the largest representable sequence number, used to build a
// seek key that sorts before any committed key with the same user key.
const SeqNumMax SeqNum = (1 << 56) - 1

// InternalKeyTrailer encodes a [SeqNum (7) + InternalKeyKind (1)].
type InternalKeyTrailer uint64

const InternalKeyTrailerLen = 8

// InternalKey or internal key. Due to the LSM structure, keys are never updated in place, but overwritten with new
// versions. An Internal InternalKey is composed of the user specified key, a sequence number (7 bytes) and a kind (1 byte).
//
//	+-------------+------------+----------+
//	| UserKey (N) | SeqNum (7) | Kind (1) |
//	+-------------+------------+----------+
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

func (k InternalKey) Size() int {
	return len(k.UserKey) + InternalKeyTrailerLen
}

// SerializeTo serialise an internal key into give buffer. Caller must ensure buf has enough size to hold
func (k InternalKey) SerializeTo(buf []byte) {
	i := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[i:], uint64(k.Trailer))
}

func DeserializeKey(key []byte) InternalKey {
	n := len(key) - InternalKeyTrailerLen
	if n < 0 {
		return InternalKey{}
	}
	return InternalKey{
		UserKey: key[:n:n],
		Trailer: InternalKeyTrailer(binary.LittleEndian.Uint64(key[n:])),
	}
}

func MakeKey(userKey []byte, num SeqNum, kind KeyKind) InternalKey {
	trailer := InternalKeyTrailer((uint64(num) << 8) | uint64(kind))
	return InternalKey{
		UserKey: userKey,
		Trailer: trailer,
	}
}

// MakeSearchKey builds a key that sorts before any committed entry for
// userKey, suitable as a lower-bound seek target during iteration.
func MakeSearchKey(userKey []byte) InternalKey {
	return MakeKey(userKey, SeqNumMax, KeyKindMax)
}

func (k InternalKey) SeqNum() SeqNum {
	return SeqNum(k.Trailer >> 8)
}

func (k InternalKey) KeyKind() KeyKind {
	return KeyKind(k.Trailer & 0xFF) // trailer & (2^8 - 1)
}

func (k InternalKey) IsDelete() bool {
	return k.KeyKind() == KeyKindDelete
}

// Clone returns a copy of k whose UserKey does not alias the original
// backing array.
func (k InternalKey) Clone() InternalKey {
	if k.UserKey == nil {
		return k
	}
	u := make([]byte, len(k.UserKey))
	copy(u, k.UserKey)
	return InternalKey{UserKey: u, Trailer: k.Trailer}
}

// Encode returns the wire representation of the key, allocating a fresh slice.
func (k InternalKey) Encode() []byte {
	buf := make([]byte, k.Size())
	k.SerializeTo(buf)
	return buf
}
