// Package crypto defines the cryptographic primitives used to sign and verify
// transactions.
package crypto

import (
	"encoding"
	"hash"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// PublicKey is a public identity that can be used to verify a signature.
type PublicKey interface {
	encoding.BinaryMarshaler
	encoding.TextMarshaler

	// Verify returns nil if the signature matches the message.
	Verify(msg []byte, sig Signature) error

	// Equal returns true if the other public key is the same.
	Equal(other interface{}) bool
}

// Signature is a verifiable element for a unique message.
type Signature interface {
	encoding.BinaryMarshaler

	// Equal returns true if the other signature is the same.
	Equal(other Signature) bool
}

// Signer provides the primitives to sign messages.
type Signer interface {
	encoding.BinaryMarshaler

	// GetPublicKey returns the public key of the signer.
	GetPublicKey() PublicKey

	// Sign returns the signature of the message.
	Sign(msg []byte) (Signature, error)
}
