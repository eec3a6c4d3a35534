// Package ucli implements the cli builder on top of urfave/cli.
package ucli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/rexec/cli"
)

// Builder collects the definition of the application and turns it into a
// urfave application.
//
// - implements cli.Builder
type Builder struct {
	root  *cmdBuilder
	usage string
}

// NewBuilder returns the builder of an application. The action runs when no
// command is given and can be nil. The flags are available to every command.
func NewBuilder(name string, action cli.Action, flags ...cli.Flag) *Builder {
	return &Builder{
		root: &cmdBuilder{
			name:   name,
			action: action,
			flags:  flags,
		},
	}
}

// SetUsage sets the description of the application.
func (b *Builder) SetUsage(usage string) {
	b.usage = usage
}

// SetFlags appends global flags available to every command.
func (b *Builder) SetFlags(flags ...cli.Flag) {
	b.root.flags = append(b.root.flags, flags...)
}

// SetCommand implements cli.Builder.
func (b *Builder) SetCommand(name string) cli.CommandBuilder {
	return b.root.SetSubCommand(name)
}

// Build implements cli.Builder.
func (b *Builder) Build() cli.Application {
	root := b.root.build()

	app := &urfave.App{
		Name:     root.Name,
		Usage:    b.usage,
		Commands: root.Subcommands,
		Action:   root.Action,
		Flags:    root.Flags,
	}

	app.Setup()

	return app
}

// cmdBuilder is the definition of a command and of its subcommands.
//
// - implements cli.CommandBuilder
type cmdBuilder struct {
	name        string
	description string
	action      cli.Action
	flags       []cli.Flag
	subcommands []*cmdBuilder
}

// SetDescription implements cli.CommandBuilder.
func (b *cmdBuilder) SetDescription(value string) {
	b.description = value
}

// SetFlags implements cli.CommandBuilder. It replaces the flags of the
// command.
func (b *cmdBuilder) SetFlags(flags ...cli.Flag) {
	b.flags = flags
}

// SetAction implements cli.CommandBuilder.
func (b *cmdBuilder) SetAction(action cli.Action) {
	b.action = action
}

// SetSubCommand implements cli.CommandBuilder.
func (b *cmdBuilder) SetSubCommand(name string) cli.CommandBuilder {
	sub := &cmdBuilder{name: name}
	b.subcommands = append(b.subcommands, sub)

	return sub
}

// build returns the urfave command, subcommands included.
func (b *cmdBuilder) build() *urfave.Command {
	var subcommands []*urfave.Command
	for _, sub := range b.subcommands {
		subcommands = append(subcommands, sub.build())
	}

	return &urfave.Command{
		Name:        b.name,
		Usage:       b.description,
		Action:      makeAction(b.action),
		Flags:       buildFlags(b.flags),
		Subcommands: subcommands,
	}
}

// buildFlags converts the flags to their urfave form. It panics for a type
// of flag it does not know.
func buildFlags(flags []cli.Flag) []urfave.Flag {
	res := make([]urfave.Flag, 0, len(flags))

	for _, f := range flags {
		res = append(res, buildFlag(f))
	}

	return res
}

func buildFlag(f cli.Flag) urfave.Flag {
	switch flag := f.(type) {
	case cli.StringFlag:
		return &urfave.StringFlag{
			Name:     flag.Name,
			Usage:    flag.Usage,
			EnvVars:  envVars(flag.EnvVar),
			Required: flag.Required,
			Value:    flag.Value,
		}
	case cli.StringSliceFlag:
		return &urfave.StringSliceFlag{
			Name:     flag.Name,
			Usage:    flag.Usage,
			Required: flag.Required,
			Value:    urfave.NewStringSlice(flag.Value...),
		}
	case cli.IntFlag:
		return &urfave.IntFlag{
			Name:     flag.Name,
			Usage:    flag.Usage,
			EnvVars:  envVars(flag.EnvVar),
			Required: flag.Required,
			Value:    flag.Value,
		}
	case cli.BoolFlag:
		return &urfave.BoolFlag{
			Name:  flag.Name,
			Usage: flag.Usage,
			Value: flag.Value,
		}
	}

	panic(fmt.Sprintf("flag type '%T' not supported", f))
}

func envVars(name string) []string {
	if name == "" {
		return nil
	}

	return []string{name}
}

// makeAction wraps the action so that it reads the flags of the urfave
// context.
func makeAction(action cli.Action) urfave.ActionFunc {
	if action == nil {
		return nil
	}

	return func(ctx *urfave.Context) error {
		return action(flags{Context: ctx})
	}
}

// flags reads the values of the urfave context.
//
// - implements cli.Flags
type flags struct {
	*urfave.Context
}

// Args implements cli.Flags. It returns the positional arguments.
func (f flags) Args() []string {
	return f.Context.Args().Slice()
}
