package ucli

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/rexec/cli"
)

func TestBuild(t *testing.T) {
	builder := NewBuilder("test", nil)
	builder.SetUsage("test usage")

	app := builder.Build().(*urfave.App)

	app.Writer = io.Discard

	require.Equal(t, "test", app.Name)
	require.Equal(t, "test usage", app.Usage)

	err := app.Run([]string{"test"})
	require.NoError(t, err)
}

func TestSetCommand(t *testing.T) {
	builder := NewBuilder("test", nil)

	builder.SetCommand("first")
	builder.SetCommand("second")

	app := builder.Build().(*urfave.App)

	require.Len(t, app.Commands, 3)

	require.Equal(t, "first", app.Commands[0].Name)
	require.Equal(t, "second", app.Commands[1].Name)
	require.Equal(t, "help", app.Commands[2].Name)
}

func TestCommandBuilder(t *testing.T) {
	builder := NewBuilder("test", nil)
	cmd := builder.SetCommand("first")

	cmd.SetAction(func(flags cli.Flags) error { return nil })
	cmd.SetDescription("first action")
	cmd.SetFlags(cli.StringFlag{
		Name:     "arg",
		Usage:    "this is a test arg",
		Required: true,
		Value:    "default",
	})
	cmd.SetSubCommand("second")

	require.Len(t, builder.root.subcommands, 1)
	require.Len(t, builder.root.flags, 0)

	cmd2 := builder.root.subcommands[0]
	require.Len(t, cmd2.flags, 1)
	require.Len(t, cmd2.subcommands, 1)
	require.Equal(t, "first action", cmd2.description)
}

func TestBuilder_Run(t *testing.T) {
	var got cli.Flags

	builder := NewBuilder("test", nil, cli.StringFlag{Name: "db", EnvVar: "REXEC_TEST_DB"})

	cmd := builder.SetCommand("run")
	cmd.SetFlags(
		cli.IntFlag{Name: "limit", Value: 10},
		cli.BoolFlag{Name: "dry"},
		cli.StringSliceFlag{Name: "signer"},
	)
	cmd.SetAction(func(flags cli.Flags) error {
		got = flags
		return nil
	})

	os.Setenv("REXEC_TEST_DB", "/tmp/test.db")
	defer os.Unsetenv("REXEC_TEST_DB")

	app := builder.Build()

	err := app.Run([]string{"test", "run", "--dry", "--signer", "a", "--signer", "b", "manifest.yaml"})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "/tmp/test.db", got.String("db"))
	require.Equal(t, 10, got.Int("limit"))
	require.True(t, got.Bool("dry"))
	require.Equal(t, []string{"a", "b"}, got.StringSlice("signer"))
	require.Equal(t, []string{"manifest.yaml"}, got.Args())
}

func TestBuildFlags(t *testing.T) {
	in := []cli.Flag{
		cli.StringFlag{
			Name:     "name1",
			Usage:    "usage1",
			Required: true,
			Value:    "value1",
		},
		cli.StringSliceFlag{
			Name:     "name2",
			Usage:    "usage2",
			Required: true,
			Value:    []string{},
		},
		cli.IntFlag{
			Name:     "name3",
			Usage:    "usage3",
			EnvVar:   "NAME3",
			Required: true,
			Value:    1,
		},
		cli.BoolFlag{
			Name:  "name4",
			Usage: "usage4",
			Value: true,
		},
	}

	out := buildFlags(in)
	require.Len(t, out, 4)

	require.Equal(t, "name1", out[0].Names()[0])
	require.Equal(t, "name2", out[1].Names()[0])
	require.Equal(t, "name3", out[2].Names()[0])
	require.Equal(t, []string{"NAME3"}, out[2].(*urfave.IntFlag).EnvVars)
	require.Equal(t, "name4", out[3].Names()[0])
}

func TestBuild_Subcommands(t *testing.T) {
	builder := NewBuilder("rexec", nil)
	builder.SetFlags(cli.StringFlag{Name: "db"})

	tx := builder.SetCommand("tx")
	tx.SetSubCommand("run").SetFlags(cli.StringFlag{Name: "manifest"})
	tx.SetSubCommand("preview")

	app := builder.Build().(*urfave.App)

	require.Len(t, app.Flags, 1)
	require.Equal(t, "tx", app.Commands[0].Name)
	require.Len(t, app.Commands[0].Subcommands, 2)
	require.Equal(t, "run", app.Commands[0].Subcommands[0].Name)
	require.Len(t, app.Commands[0].Subcommands[0].Flags, 1)
	require.Equal(t, "preview", app.Commands[0].Subcommands[1].Name)
}

func TestBuildFlags_Panic(t *testing.T) {
	defer func() {
		r := recover()
		require.Equal(t, "flag type '<nil>' not supported", r)
	}()

	buildFlags([]cli.Flag{nil})
}

func TestMakeAction(t *testing.T) {
	res := makeAction(nil)
	require.Nil(t, res)

	isCalled := false
	fakeAction := func(flags cli.Flags) error {
		require.NotNil(t, flags)
		isCalled = true
		return nil
	}

	res = makeAction(fakeAction)
	require.NotNil(t, res)

	out := res(nil)
	require.NoError(t, out)
	require.True(t, isCalled)
}
