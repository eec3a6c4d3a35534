package ed25519

import "fmt"

func ExampleNewSignerFromBytes() {
	signer := NewSigner()

	// The private key is what a key file contains.
	data, err := signer.MarshalBinary()
	if err != nil {
		panic("marshal failed: " + err.Error())
	}

	restored, err := NewSignerFromBytes(data)
	if err != nil {
		panic("unmarshal failed: " + err.Error())
	}

	digest := []byte("transaction digest")

	sig, err := restored.Sign(digest)
	if err != nil {
		panic("signer failed: " + err.Error())
	}

	fmt.Println("same key:", signer.GetPublicKey().Equal(restored.GetPublicKey()))
	fmt.Println("valid:", signer.GetPublicKey().Verify(digest, sig) == nil)
	fmt.Println("tampered:", signer.GetPublicKey().Verify([]byte("other digest"), sig) == nil)

	// Output: same key: true
	// valid: true
	// tampered: false
}
