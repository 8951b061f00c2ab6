package lattice

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Hash is a 256-bit digest over a canonical byte representation.
type Hash [32]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (never a real digest output;
// used as a sentinel for "no previous data").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashPair bundles the input and output digests that together identify one
// computation, per the NodeData invariant: two Verified entries with
// identical InputHash must have identical OutputHash.
type HashPair struct {
	Input  Hash
	Output Hash
}

// FieldHasher accumulates length-prefixed fields into a running sha256
// digest. Prefixing each field with its byte length prevents ambiguity
// between e.g. writing "ab","c" and writing "a","bc" - the same idiom used
// throughout this repository's task hashing (see internal/core/hasher.go).
type FieldHasher struct {
	h hash.Hash
}

// NewFieldHasher returns a ready-to-use hasher.
func NewFieldHasher() *FieldHasher {
	return &FieldHasher{h: sha256.New()}
}

// WriteField writes an 8-byte big-endian length prefix followed by data.
func (f *FieldHasher) WriteField(data []byte) {
	var length [8]byte
	n := uint64(len(data))
	for i := 7; i >= 0; i-- {
		length[i] = byte(n)
		n >>= 8
	}
	f.h.Write(length[:])
	f.h.Write(data)
}

// Sum finalizes the digest.
func (f *FieldHasher) Sum() Hash {
	var out Hash
	copy(out[:], f.h.Sum(nil))
	return out
}
