// Package main implements the rexec command line.
//
// Every command opens the database, runs, and closes it. For instance, to
// create a signer and give it an account:
//
//	rexec key new --save alice.key
//	rexec --db rexec.db genesis --account <public key>:1000
//	rexec --db rexec.db tx run --manifest transfer.yaml --signer alice.key
package main

import (
	"fmt"
	"io"
	"os"

	"go.dedis.ch/rexec/cli/node"
	executor "go.dedis.ch/rexec/core/executor/controller"
	signer "go.dedis.ch/rexec/crypto/ed25519/command"
)

func main() {
	err := run(os.Args, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	builder := node.NewBuilderWithCfg("rexec", out,
		executor.NewController(),
		signer.Initializer{},
	)

	app := builder.Build()

	return app.Run(args)
}
