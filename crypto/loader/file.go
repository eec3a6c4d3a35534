package loader

import (
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

// keyPerm is the permission of a key file: read-only for the owner.
const keyPerm os.FileMode = 0400

// fileSystem is the set of file operations the loader needs.
type fileSystem interface {
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
}

type osFS struct{}

func (osFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (osFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (osFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// fileLoader keeps a single key in a file.
//
// - implements loader.Loader
type fileLoader struct {
	path string
	fs   fileSystem
}

// NewFileLoader returns a loader for the key file at the given path. The
// parent folders are created when the key is generated.
func NewFileLoader(path string) Loader {
	return fileLoader{
		path: path,
		fs:   osFS{},
	}
}

// LoadOrCreate implements loader.Loader. It returns the key of the file when
// the file exists, otherwise it generates one and writes it to a new file
// only readable by the owner.
func (l fileLoader) LoadOrCreate(g Generator) ([]byte, error) {
	_, err := l.fs.Stat(l.path)
	if err == nil {
		data, err := l.Load()
		if err != nil {
			return nil, xerrors.Errorf("failed to load file: %v", err)
		}

		return data, nil
	}

	if !os.IsNotExist(err) {
		return nil, xerrors.Errorf("while checking file: %v", err)
	}

	data, err := g.Generate()
	if err != nil {
		return nil, xerrors.Errorf("generator failed: %v", err)
	}

	err = l.fs.MkdirAll(filepath.Dir(l.path), 0700)
	if err != nil {
		return nil, xerrors.Errorf("while creating folder: %v", err)
	}

	err = l.fs.WriteFile(l.path, data, keyPerm)
	if err != nil {
		return nil, xerrors.Errorf("while writing file: %v", err)
	}

	return data, nil
}

// Load implements loader.Loader. It returns the content of the file, which
// must exist and not be empty.
func (l fileLoader) Load() ([]byte, error) {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		return nil, xerrors.Errorf("while reading file: %v", err)
	}

	if len(data) == 0 {
		return nil, xerrors.Errorf("empty file '%s'", l.path)
	}

	return data, nil
}
