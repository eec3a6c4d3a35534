package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/testing/fake"
)

func TestFileLoader_LoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signer.key")

	generator := fakeGenerator{
		calls: &fake.Call{},
	}

	loader := NewFileLoader(path)

	data, err := loader.LoadOrCreate(generator)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
	require.Equal(t, 1, generator.calls.Len())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, keyPerm, info.Mode().Perm())

	// The second call reads the file.
	data, err = loader.LoadOrCreate(generator)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
	require.Equal(t, 1, generator.calls.Len())
}

func TestFileLoader_LoadOrCreateFailures(t *testing.T) {
	loader := fileLoader{path: "signer.key"}

	loader.fs = fakeFS{statErr: os.ErrNotExist}
	_, err := loader.LoadOrCreate(fakeGenerator{err: fake.GetError()})
	require.EqualError(t, err, fake.Err("generator failed"))

	loader.fs = fakeFS{statErr: os.ErrPermission}
	_, err = loader.LoadOrCreate(fakeGenerator{})
	require.EqualError(t, err, "while checking file: "+os.ErrPermission.Error())

	loader.fs = fakeFS{statErr: os.ErrNotExist, mkdirErr: fake.GetError()}
	_, err = loader.LoadOrCreate(fakeGenerator{})
	require.EqualError(t, err, fake.Err("while creating folder"))

	loader.fs = fakeFS{statErr: os.ErrNotExist, writeErr: fake.GetError()}
	_, err = loader.LoadOrCreate(fakeGenerator{})
	require.EqualError(t, err, fake.Err("while writing file"))

	loader.fs = fakeFS{readErr: fake.GetError()}
	_, err = loader.LoadOrCreate(fakeGenerator{})
	require.EqualError(t, err, fake.Err("failed to load file: while reading file"))
}

func TestFileLoader_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")

	loader := NewFileLoader(path)

	_, err := loader.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "while reading file: ")

	require.NoError(t, os.WriteFile(path, nil, 0600))

	_, err = loader.Load()
	require.EqualError(t, err, "empty file '"+path+"'")

	require.NoError(t, os.WriteFile(path, []byte{4, 5}, 0600))

	data, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, []byte{4, 5}, data)
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeGenerator struct {
	calls *fake.Call
	err   error
}

func (g fakeGenerator) Generate() ([]byte, error) {
	if g.calls != nil {
		g.calls.Add("Generate")
	}

	return []byte{1, 2, 3}, g.err
}

type fakeFS struct {
	statErr  error
	mkdirErr error
	readErr  error
	writeErr error
}

func (fs fakeFS) Stat(string) (os.FileInfo, error) {
	return nil, fs.statErr
}

func (fs fakeFS) MkdirAll(string, os.FileMode) error {
	return fs.mkdirErr
}

func (fs fakeFS) ReadFile(string) ([]byte, error) {
	return []byte{1}, fs.readErr
}

func (fs fakeFS) WriteFile(string, []byte, os.FileMode) error {
	return fs.writeErr
}
