package node

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReflectInjector_Resolve(t *testing.T) {
	inj := NewInjector()

	inj.Inject("abc")

	var dep string
	err := inj.Resolve(&dep)
	require.NoError(t, err)
	require.Equal(t, "abc", dep)

	inj.Inject("def")

	err = inj.Resolve(&dep)
	require.NoError(t, err)
	require.Equal(t, "def", dep)

	var dep2 uint64
	err = inj.Resolve(&dep2)
	require.EqualError(t, err, "couldn't find dependency for 'uint64'")

	err = inj.Resolve((*interface{})(nil))
	require.EqualError(t, err, "reflect value '<nil>' is invalid")

	err = inj.Resolve(dep2)
	require.EqualError(t, err, "expect a pointer")
}

func TestReflectInjector_Resolve_Order(t *testing.T) {
	inj := NewInjector()

	inj.Inject(fakeHello{name: "first"})
	inj.Inject(&fakeHello{name: "second"})

	var hello Hello
	err := inj.Resolve(&hello)
	require.NoError(t, err)
	require.Equal(t, fakeHello{name: "first"}, hello)
}

func TestReflectInjector_Inject_KeepsPosition(t *testing.T) {
	inj := NewInjector()

	inj.Inject(fakeHello{name: "first"})
	inj.Inject(&fakeHello{name: "second"})
	inj.Inject(fakeHello{name: "third"})

	var hello Hello
	err := inj.Resolve(&hello)
	require.NoError(t, err)
	require.Equal(t, fakeHello{name: "third"}, hello)
}

func TestGet(t *testing.T) {
	inj := NewInjector()

	inj.Inject(&fakeHello{name: "alice"})

	hello, err := Get[Hello](inj)
	require.NoError(t, err)
	require.Equal(t, &fakeHello{name: "alice"}, hello)

	ptr, err := Get[*fakeHello](inj)
	require.NoError(t, err)
	require.Same(t, hello, ptr)

	_, err = Get[io.Writer](inj)
	require.EqualError(t, err, "couldn't find dependency for 'io.Writer'")
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeHello struct {
	name string
}

func (fakeHello) SayTo(io.Writer, string) {}
