package crypto

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// HashAlgorithm is the identifier of a hash algorithm.
type HashAlgorithm int

// Supported hash algorithms.
const (
	Sha256 HashAlgorithm = iota
	Sha3_256
	Blake2b256
)

var hashConstructors = map[HashAlgorithm]func() hash.Hash{
	Sha256:   sha256.New,
	Sha3_256: sha3.New256,
	Blake2b256: func() hash.Hash {
		// Only a key longer than 64 bytes is refused.
		h, _ := blake2b.New256(nil)
		return h
	},
}

// hashFactory creates the hash of one of the supported algorithms.
//
// - implements crypto.HashFactory
type hashFactory struct {
	algo HashAlgorithm
}

// NewHashFactory returns the factory of the algorithm.
func NewHashFactory(a HashAlgorithm) hashFactory {
	return hashFactory{algo: a}
}

// New implements crypto.HashFactory. It panics for an unknown algorithm.
func (f hashFactory) New() hash.Hash {
	fn, found := hashConstructors[f.algo]
	if !found {
		panic(fmt.Sprintf("unknown hash algorithm %d", f.algo))
	}

	return fn()
}

// Sum returns the digest of the concatenation of the chunks.
func (f hashFactory) Sum(chunks ...[]byte) []byte {
	h := f.New()
	for _, chunk := range chunks {
		h.Write(chunk)
	}

	return h.Sum(nil)
}
