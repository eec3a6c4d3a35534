package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "rexec.db")

	out := new(bytes.Buffer)

	err := run([]string{"rexec", "--db", db, "genesis", "--account", "ab:10", "--epoch", "2"}, out)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 1)

	out.Reset()

	err = run([]string{"rexec", "--db", db, "epoch", "show"}, out)
	require.NoError(t, err)
	require.Equal(t, "2\n", out.String())

	err = run([]string{"rexec", "--db", db, "genesis"}, out)
	require.EqualError(t, err, "genesis: genesis already done")

	err = run([]string{"rexec", "--db-type", "abc", "epoch", "show"}, out)
	require.EqualError(t, err, "couldn't run the controller: db: unknown database type 'abc'")
}

func TestRun_Key(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alice.key")

	err := run([]string{"rexec", "--db-type", "memory", "key", "new", "--save", path}, new(bytes.Buffer))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
}
