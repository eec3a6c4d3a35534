// This file contains the implementation of a dependency injector using
// reflection.

package node

import (
	"reflect"

	"golang.org/x/xerrors"
)

// reflectInjector keeps the components of the node by concrete type. A
// request for an interface is served by the first component, in order of
// injection, that implements it.
//
// - implements node.Injector
type reflectInjector struct {
	order []reflect.Type
	deps  map[reflect.Type]interface{}
}

// NewInjector returns a empty injector.
func NewInjector() Injector {
	return &reflectInjector{
		deps: make(map[reflect.Type]interface{}),
	}
}

// Resolve implements node.Injector. It sets the value pointed by v to the
// first compatible component.
func (inj *reflectInjector) Resolve(v interface{}) error {
	ptr := reflect.ValueOf(v)
	if ptr.Kind() != reflect.Ptr {
		return xerrors.New("expect a pointer")
	}

	target := ptr.Elem()
	if !target.IsValid() {
		return xerrors.Errorf("reflect value '%v' is invalid", ptr)
	}

	for _, typ := range inj.order {
		if typ.AssignableTo(target.Type()) {
			target.Set(reflect.ValueOf(inj.deps[typ]))
			return nil
		}
	}

	return xerrors.Errorf("couldn't find dependency for '%v'", target.Type())
}

// Inject implements node.Injector. A component replaces the previous one of
// the same concrete type and keeps its position.
func (inj *reflectInjector) Inject(v interface{}) {
	typ := reflect.TypeOf(v)

	_, found := inj.deps[typ]
	if !found {
		inj.order = append(inj.order, typ)
	}

	inj.deps[typ] = v
}

// Get returns the component of the injector compatible with T.
func Get[T any](inj Injector) (T, error) {
	var value T

	err := inj.Resolve(&value)
	if err != nil {
		return value, err
	}

	return value, nil
}
