// This file contains the implementation of a CLI builder.

package node

import (
	"io"
	"os"

	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/cli"
	"go.dedis.ch/rexec/cli/ucli"
	"golang.org/x/xerrors"
)

// CLIBuilder is an application builder that will build a CLI whose actions
// run on the components of a node.
//
// - implements node.Builder
// - implements cli.Builder
type CLIBuilder struct {
	*ucli.Builder

	inits  []Initializer
	writer io.Writer
}

// NewBuilder returns a new empty builder.
func NewBuilder(name string, inits ...Initializer) *CLIBuilder {
	return NewBuilderWithCfg(name, nil, inits...)
}

// NewBuilderWithCfg returns a new empty builder that writes the output of the
// actions to the writer.
func NewBuilderWithCfg(name string, out io.Writer, inits ...Initializer) *CLIBuilder {
	if out == nil {
		out = os.Stdout
	}

	return &CLIBuilder{
		Builder: ucli.NewBuilder(name, nil),
		inits:   inits,
		writer:  out,
	}
}

// SetGlobalFlags implements node.Builder.
func (b *CLIBuilder) SetGlobalFlags(flags ...cli.Flag) {
	b.Builder.SetFlags(flags...)
}

// MakeAction implements node.Builder. It creates a CLI action that starts the
// components, executes the template and stops the components.
func (b *CLIBuilder) MakeAction(tmpl ActionTemplate) cli.Action {
	return func(flags cli.Flags) error {
		injector := NewInjector()

		for i, controller := range b.inits {
			err := controller.OnStart(flags, injector)
			if err != nil {
				b.stop(injector, i)
				return xerrors.Errorf("couldn't run the controller: %v", err)
			}
		}

		ctx := Context{
			Injector: injector,
			Flags:    flags,
			Out:      b.writer,
		}

		err := tmpl.Execute(ctx)

		stopErr := b.stop(injector, len(b.inits))

		if err != nil {
			return err
		}

		if stopErr != nil {
			return xerrors.Errorf("couldn't stop controller: %v", stopErr)
		}

		return nil
	}
}

// stop stops the first n controllers in reverse order so that high level
// components are stopped before lower level ones (i.e. stop the executor
// before the database).
func (b *CLIBuilder) stop(injector Injector, n int) error {
	var first error

	for i := n - 1; i >= 0; i-- {
		err := b.inits[i].OnStop(injector)
		if err != nil && first == nil {
			first = err
		}
	}

	if first == nil {
		rexec.Logger.Trace().Msg("node has been stopped")
	}

	return first
}

// Build implements cli.Builder. It returns the application.
func (b *CLIBuilder) Build() cli.Application {
	for _, controller := range b.inits {
		controller.SetCommands(b)
	}

	return b.Builder.Build()
}
