package command

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"go.dedis.ch/rexec/cli"
	"go.dedis.ch/rexec/crypto"
	"go.dedis.ch/rexec/crypto/ed25519"
	"go.dedis.ch/rexec/crypto/loader"
	"golang.org/x/xerrors"
)

// Formats of the public key. The hexadecimal form is the identifier of the
// signature badge of the signer.
const (
	Hex    = "HEX"
	Text   = "TEXT"
	Base64 = "BASE64"
)

// action defines the different cli actions of the key commands. Defining
// functions and printer helps in testing the commands.
type action struct {
	printer io.Writer

	newLoader func(path string) loader.Loader
	getPubKey func([]byte) (crypto.PublicKey, error)
}

func (a action) newSignerAction(flags cli.Flags) error {
	data, err := a.newLoader(flags.Path("save")).LoadOrCreate(ed25519.Generator{})
	if err != nil {
		return xerrors.Errorf("failed to load signer: %v", err)
	}

	return a.print(data, Hex)
}

func (a action) readSignerAction(flags cli.Flags) error {
	data, err := a.newLoader(flags.Path("path")).Load()
	if err != nil {
		return xerrors.Errorf("failed to read data: %v", err)
	}

	return a.print(data, flags.String("format"))
}

func (a action) print(data []byte, format string) error {
	pubkey, err := a.getPubKey(data)
	if err != nil {
		return xerrors.Errorf("failed to get public key: %v", err)
	}

	var out string

	switch format {
	case Hex, Base64:
		buf, err := pubkey.MarshalBinary()
		if err != nil {
			return xerrors.Errorf("failed to marshal public key: %v", err)
		}

		if format == Hex {
			out = hex.EncodeToString(buf)
		} else {
			out = base64.StdEncoding.EncodeToString(buf)
		}
	case Text:
		buf, err := pubkey.MarshalText()
		if err != nil {
			return xerrors.Errorf("failed to marshal public key: %v", err)
		}

		out = string(buf)
	default:
		return xerrors.Errorf("unknown format '%s'", format)
	}

	fmt.Fprintln(a.printer, out)

	return nil
}

func getPubkey(data []byte) (crypto.PublicKey, error) {
	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal signer: %v", err)
	}

	return signer.GetPublicKey(), nil
}
