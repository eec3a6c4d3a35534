// Package cli is the abstraction of a command line application. The
// commands are declared through a builder, independently of the library that
// parses the arguments:
//
//	cmd := builder.SetCommand("epoch")
//	cmd.SetDescription("Print the current epoch")
//	cmd.SetAction(func(flags Flags) error {
//		return show(flags.Path("db"))
//	})
//
//	builder.Build().Run(os.Args)
package cli

// Builder declares the commands of an application and builds it.
type Builder interface {
	// SetCommand creates a new command with the given name and returns its
	// builder.
	SetCommand(name string) CommandBuilder

	// Build returns the application.
	Build() Application
}

// Application parses the arguments and runs the matching command.
type Application interface {
	Run(arguments []string) error
}

// CommandBuilder declares a command, its flags and its subcommands.
type CommandBuilder interface {
	// SetDescription sets the value of the description for this command.
	SetDescription(value string)

	// SetFlags sets the flags for this command.
	SetFlags(...Flag)

	// SetAction sets the action for this command.
	SetAction(Action)

	// SetSubCommand creates a subcommand for this command.
	SetSubCommand(name string) CommandBuilder
}

// Action is the function run by a command.
type Action func(Flags) error

// Flag is the definition of a flag. See StringFlag, StringSliceFlag, IntFlag
// and BoolFlag.
type Flag interface {
	Flag()
}

// Flags reads the values of the flags of a command.
type Flags interface {
	String(name string) string

	StringSlice(name string) []string

	Path(name string) string

	Int(name string) int

	Bool(name string) bool

	// Args returns the positional arguments of the command.
	Args() []string
}
