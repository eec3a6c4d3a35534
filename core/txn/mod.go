// Package txn defines the transactions executed by the kernel.
//
// A transaction is a header and a list of instructions, signed by one or
// several identities. It is uniquely identifiable via the hash of its intent,
// which covers the header and the instructions but not the signatures. The
// signers are presented to the authorization checks as virtual proofs.
package txn

import (
	"encoding/json"

	"go.dedis.ch/rexec/crypto"
	"go.dedis.ch/rexec/crypto/ed25519"
	"golang.org/x/xerrors"
)

// Header is the part of the intent that is not an instruction.
type Header struct {
	Network string `json:"network"`
	Nonce   uint64 `json:"nonce"`
	// StartEpoch and EndEpoch define the range of epochs during which the
	// transaction is valid, the end being excluded.
	StartEpoch    uint64 `json:"startEpoch"`
	EndEpoch      uint64 `json:"endEpoch"`
	CostUnitLimit uint64 `json:"costUnitLimit"`
}

// Signature is the signature of the intent by an identity.
type Signature struct {
	PublicKey []byte `json:"publicKey"`
	Signature []byte `json:"signature"`
}

// Transaction is a signed list of instructions.
type Transaction struct {
	Header       Header        `json:"header"`
	Instructions []Instruction `json:"instructions"`
	Signatures   []Signature   `json:"signatures,omitempty"`
}

type intent struct {
	Header       Header        `json:"header"`
	Instructions []Instruction `json:"instructions"`
}

// Hash returns the hash of the intent of the transaction.
func (tx Transaction) Hash() ([]byte, error) {
	data, err := json.Marshal(intent{Header: tx.Header, Instructions: tx.Instructions})
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal intent: %v", err)
	}

	return crypto.NewHashFactory(crypto.Sha256).Sum(data), nil
}

// Sign appends the signature of the intent by the signer.
func (tx *Transaction) Sign(signer crypto.Signer) error {
	hash, err := tx.Hash()
	if err != nil {
		return xerrors.Errorf("failed to hash: %v", err)
	}

	sig, err := signer.Sign(hash)
	if err != nil {
		return xerrors.Errorf("signer: %v", err)
	}

	pubkey, err := signer.GetPublicKey().MarshalBinary()
	if err != nil {
		return xerrors.Errorf("failed to marshal public key: %v", err)
	}

	sigBuf, err := sig.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("failed to marshal signature: %v", err)
	}

	tx.Signatures = append(tx.Signatures, Signature{PublicKey: pubkey, Signature: sigBuf})

	return nil
}

// Verify checks every signature against the intent and returns the public
// keys of the signers.
func (tx Transaction) Verify() ([]crypto.PublicKey, error) {
	hash, err := tx.Hash()
	if err != nil {
		return nil, xerrors.Errorf("failed to hash: %v", err)
	}

	signers := make([]crypto.PublicKey, len(tx.Signatures))

	for i, sig := range tx.Signatures {
		pubkey, err := ed25519.NewPublicKey(sig.PublicKey)
		if err != nil {
			return nil, xerrors.Errorf("signature %d: %v", i, err)
		}

		err = pubkey.Verify(hash, ed25519.NewSignature(sig.Signature))
		if err != nil {
			return nil, xerrors.Errorf("signature %d: %v", i, err)
		}

		signers[i] = pubkey
	}

	return signers, nil
}
