// Package command defines cli commands for the ed25519 signers.
package command

import (
	"os"

	"go.dedis.ch/rexec/cli"
	"go.dedis.ch/rexec/cli/node"
	"go.dedis.ch/rexec/crypto/loader"
)

// Initializer implements the initializer of the key commands.
//
// - implements node.Initializer
type Initializer struct{}

// SetCommands implements node.Initializer.
func (i Initializer) SetCommands(builder node.Builder) {
	action := action{
		printer:   os.Stdout,
		newLoader: loader.NewFileLoader,
		getPubKey: getPubkey,
	}

	cmd := builder.SetCommand("key")
	cmd.SetDescription("manage the keys of the signers")

	sub := cmd.SetSubCommand("new")
	sub.SetDescription("create a new signer, or load it if the file exists")
	sub.SetFlags(cli.StringFlag{
		Name:     "save",
		Usage:    "path to the file of the signer",
		Required: true,
	})
	sub.SetAction(action.newSignerAction)

	sub = cmd.SetSubCommand("read")
	sub.SetDescription("print the public key of a signer")
	sub.SetFlags(cli.StringFlag{
		Name:     "path",
		Usage:    "path to the file of the signer",
		Required: true,
	}, cli.StringFlag{
		Name:  "format",
		Usage: "output format: [HEX | TEXT | BASE64]",
		Value: Hex,
	})
	sub.SetAction(action.readSignerAction)
}

// OnStart implements node.Initializer.
func (i Initializer) OnStart(cli.Flags, node.Injector) error {
	return nil
}

// OnStop implements node.Initializer.
func (i Initializer) OnStop(node.Injector) error {
	return nil
}
