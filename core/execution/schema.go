package execution

import (
	"golang.org/x/xerrors"
)

// FnSchema is the signature of a function or a method of a blueprint.
type FnSchema struct {
	// Receiver is true for methods.
	Receiver bool   `json:"receiver" yaml:"receiver"`
	Inputs   []Kind `json:"inputs" yaml:"inputs"`
	// Export is the name of the exported bytecode function.
	Export string `json:"export,omitempty" yaml:"export,omitempty"`
}

// Check returns an error if the arguments do not match the inputs.
func (s FnSchema) Check(args []Value) error {
	if len(args) != len(s.Inputs) {
		return xerrors.Errorf("expected %d arguments, got %d: %w",
			len(s.Inputs), len(args), ErrArgumentMismatch)
	}

	for i, input := range s.Inputs {
		if input != KindAny && input != args[i].Kind() {
			return xerrors.Errorf("argument %d is %s instead of %s: %w",
				i, args[i].Kind(), input, ErrArgumentMismatch)
		}
	}

	return nil
}

// BlueprintSchema is the set of functions and methods of a blueprint.
type BlueprintSchema struct {
	Functions map[string]FnSchema `json:"functions" yaml:"functions"`
}

// Lookup returns the schema of the function or the method.
func (s BlueprintSchema) Lookup(fn string, method bool) (FnSchema, error) {
	schema, found := s.Functions[fn]
	if !found || schema.Receiver != method {
		return FnSchema{}, xerrors.Errorf("'%s': %w", fn, ErrUnknownFunction)
	}

	return schema, nil
}
