package command

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/cli/node"
	"go.dedis.ch/rexec/crypto"
	"go.dedis.ch/rexec/crypto/ed25519"
	"go.dedis.ch/rexec/crypto/loader"
	"go.dedis.ch/rexec/testing/fake"
)

func TestAction_NewSigner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")

	out := new(bytes.Buffer)
	a := action{
		printer:   out,
		newLoader: loader.NewFileLoader,
		getPubKey: getPubkey,
	}

	err := a.newSignerAction(node.FlagSet{"save": path})
	require.NoError(t, err)
	require.Len(t, out.String(), 64+1)

	first := out.String()
	out.Reset()

	// The second call loads the same signer.
	err = a.newSignerAction(node.FlagSet{"save": path})
	require.NoError(t, err)
	require.Equal(t, first, out.String())

	a.newLoader = func(string) loader.Loader { return fakeLoader{err: fake.GetError()} }
	err = a.newSignerAction(node.FlagSet{})
	require.EqualError(t, err, fake.Err("failed to load signer"))

	a.newLoader = func(string) loader.Loader { return fakeLoader{} }
	a.getPubKey = func([]byte) (crypto.PublicKey, error) { return nil, fake.GetError() }
	err = a.newSignerAction(node.FlagSet{})
	require.EqualError(t, err, fake.Err("failed to get public key"))
}

func TestAction_ReadSigner(t *testing.T) {
	signer := ed25519.NewSigner()
	data, err := signer.MarshalBinary()
	require.NoError(t, err)

	pubkey, err := signer.GetPublicKey().MarshalBinary()
	require.NoError(t, err)

	text, err := signer.GetPublicKey().MarshalText()
	require.NoError(t, err)

	out := new(bytes.Buffer)
	a := action{
		printer:   out,
		newLoader: func(string) loader.Loader { return fakeLoader{data: data} },
		getPubKey: getPubkey,
	}

	err = a.readSignerAction(node.FlagSet{"format": Hex})
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(pubkey)+"\n", out.String())

	out.Reset()
	err = a.readSignerAction(node.FlagSet{"format": Base64})
	require.NoError(t, err)
	require.Equal(t, base64.StdEncoding.EncodeToString(pubkey)+"\n", out.String())

	out.Reset()
	err = a.readSignerAction(node.FlagSet{"format": Text})
	require.NoError(t, err)
	require.Equal(t, string(text)+"\n", out.String())

	err = a.readSignerAction(node.FlagSet{"format": "UNKNOWN"})
	require.EqualError(t, err, "unknown format 'UNKNOWN'")

	a.getPubKey = func([]byte) (crypto.PublicKey, error) { return badPublicKey{}, nil }
	err = a.readSignerAction(node.FlagSet{"format": Hex})
	require.EqualError(t, err, fake.Err("failed to marshal public key"))

	err = a.readSignerAction(node.FlagSet{"format": Text})
	require.EqualError(t, err, fake.Err("failed to marshal public key"))

	a.newLoader = func(string) loader.Loader { return fakeLoader{err: fake.GetError()} }
	err = a.readSignerAction(node.FlagSet{})
	require.EqualError(t, err, fake.Err("failed to read data"))
}

func TestGetPubkey(t *testing.T) {
	_, err := getPubkey([]byte{1, 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to unmarshal signer")
}

func TestInitializer(t *testing.T) {
	initializer := Initializer{}

	require.NoError(t, initializer.OnStart(node.FlagSet{}, nil))
	require.NoError(t, initializer.OnStop(nil))
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeLoader struct {
	data []byte
	err  error
}

func (l fakeLoader) LoadOrCreate(loader.Generator) ([]byte, error) {
	return l.data, l.err
}

func (l fakeLoader) Load() ([]byte, error) {
	return l.data, l.err
}

type badPublicKey struct {
	crypto.PublicKey
}

func (badPublicKey) MarshalBinary() ([]byte, error) {
	return nil, fake.GetError()
}

func (badPublicKey) MarshalText() ([]byte, error) {
	return nil, fake.GetError()
}
