// Package loader reads the private keys of the signers from a persistent
// storage. A key that does not exist yet can be generated and saved on the
// first use.
package loader

// Generator creates the serialized form of a new key.
type Generator interface {
	Generate() ([]byte, error)
}

// Loader is the storage of a single key.
type Loader interface {
	// LoadOrCreate returns the stored key, or generates one and stores it
	// when the storage is empty.
	LoadOrCreate(Generator) ([]byte, error)

	// Load returns the stored key, or an error when there is none.
	Load() ([]byte, error)
}
