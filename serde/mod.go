// Package serde defines the primitives to serialize and deserialize (serde)
// the data models of the kernel.
//
// A context wraps the engine of a given format so that the callers do not
// depend on a specific encoding. The substate codec and the bytecode engine
// boundary both go through a context.
package serde

// Format is the identifier of a serialization format.
type Format string

const (
	// FormatJSON is the identifier of the JSON format.
	FormatJSON Format = "JSON"
)

// ContextEngine is the interface to implement to create a context.
type ContextEngine interface {
	// GetFormat returns the name of the format for this context.
	GetFormat() Format

	// Marshal returns the bytes of the message according to the format of the
	// context.
	Marshal(message interface{}) ([]byte, error)

	// Unmarshal populates the message with the data according to the format of
	// the context.
	Unmarshal(data []byte, message interface{}) error
}

// Context is the context passed to the serialization/deserialization requests.
type Context struct {
	ContextEngine
}

// NewContext returns a new context using the engine.
func NewContext(engine ContextEngine) Context {
	return Context{
		ContextEngine: engine,
	}
}
