package node

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"go.dedis.ch/rexec/cli"
	"go.dedis.ch/rexec/testing/fake"
	"golang.org/x/xerrors"
)

func TestCliBuilder_SetGlobalFlags(t *testing.T) {
	builder := NewBuilder("test")

	builder.SetGlobalFlags(cli.StringFlag{Name: "db"}, cli.IntFlag{Name: "limit"})

	app := builder.Build().(*urfave.App)
	require.Len(t, app.Flags, 2)
}

func TestCliBuilder_MakeAction(t *testing.T) {
	calls := &fake.Call{}
	out := new(bytes.Buffer)

	builder := NewBuilderWithCfg("test", out,
		fakeInitializer{name: "a", calls: calls},
		fakeInitializer{name: "b", calls: calls})

	action := builder.MakeAction(fakeAction{})

	err := action(FlagSet{"name": "Alice"})
	require.NoError(t, err)
	require.Equal(t, "Hello, Alice!", out.String())

	require.Equal(t, 4, calls.Len())
	require.Equal(t, "start a", calls.Get(0, 0))
	require.Equal(t, "start b", calls.Get(1, 0))
	require.Equal(t, "stop b", calls.Get(2, 0))
	require.Equal(t, "stop a", calls.Get(3, 0))
}

func TestCliBuilder_FailedStart_MakeAction(t *testing.T) {
	calls := &fake.Call{}

	builder := NewBuilderWithCfg("test", new(bytes.Buffer),
		fakeInitializer{name: "a", calls: calls},
		fakeInitializer{name: "b", calls: calls, err: fake.GetError()})

	err := builder.MakeAction(fakeAction{})(FlagSet{})
	require.EqualError(t, err, fake.Err("couldn't run the controller"))

	require.Equal(t, 3, calls.Len())
	require.Equal(t, "stop a", calls.Get(2, 0))
}

func TestCliBuilder_FailedAction_MakeAction(t *testing.T) {
	calls := &fake.Call{}

	builder := NewBuilderWithCfg("test", new(bytes.Buffer),
		fakeInitializer{name: "a", calls: calls, errStop: xerrors.New("oops")})

	err := builder.MakeAction(fakeAction{err: fake.GetError()})(FlagSet{})
	require.Equal(t, fake.GetError(), err)
	require.Equal(t, 2, calls.Len())

	err = builder.MakeAction(fakeAction{})(FlagSet{})
	require.EqualError(t, err, "couldn't stop controller: oops")
}

func TestCliBuilder_Build(t *testing.T) {
	builder := NewBuilder("test", fakeInitializer{})

	cb := builder.SetCommand("another")
	cb.SetAction(func(cli.Flags) error {
		return nil
	})

	app := builder.Build().(*urfave.App)
	require.Len(t, app.Commands, 3)
	require.Equal(t, "another", app.Commands[0].Name)
	require.Equal(t, "hello", app.Commands[1].Name)
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeInitializer struct {
	name    string
	calls   *fake.Call
	err     error
	errStop error
}

func (i fakeInitializer) SetCommands(builder Builder) {
	cmd := builder.SetCommand("hello")
	cmd.SetAction(builder.MakeAction(fakeAction{}))
}

func (i fakeInitializer) OnStart(flags cli.Flags, inj Injector) error {
	i.calls.Add("start " + i.name)
	inj.Inject(simpleHello{})

	return i.err
}

func (i fakeInitializer) OnStop(Injector) error {
	i.calls.Add("stop " + i.name)

	return i.errStop
}

type fakeAction struct {
	err error
}

func (a fakeAction) Execute(ctx Context) error {
	if a.err != nil {
		return a.err
	}

	hello, err := Get[Hello](ctx.Injector)
	if err != nil {
		return err
	}

	hello.SayTo(ctx.Out, ctx.Flags.String("name"))

	return nil
}
