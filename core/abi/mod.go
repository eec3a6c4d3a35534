// Package abi describes the blueprints of the published packages so that a
// client knows the functions it can call and the arguments they expect.
package abi

import (
	"sort"

	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// Reader is the interface to read the substates.
type Reader interface {
	Read(id address.SubstateID) (substate.Value, error)
}

// Function is the description of a function or a method.
type Function struct {
	Name   string           `yaml:"name"`
	Method bool             `yaml:"method"`
	Inputs []execution.Kind `yaml:"inputs,flow"`
	Export string           `yaml:"export,omitempty"`
}

// Blueprint is the description of a blueprint with its functions sorted by
// name.
type Blueprint struct {
	Name      string     `yaml:"name"`
	Functions []Function `yaml:"functions"`
}

// Package is the description of a package.
type Package struct {
	Address    string            `yaml:"address"`
	Kind       model.PackageKind `yaml:"kind"`
	Metadata   map[string]string `yaml:"metadata,omitempty"`
	Blueprints []Blueprint       `yaml:"blueprints"`
}

// Describe returns the description of the package.
func Describe(id address.NodeID, info *model.PackageInfo) Package {
	pkg := Package{
		Address:    id.String(),
		Kind:       info.Kind,
		Metadata:   info.Metadata,
		Blueprints: make([]Blueprint, 0, len(info.Blueprints)),
	}

	for name, schema := range info.Blueprints {
		bp := Blueprint{
			Name:      name,
			Functions: make([]Function, 0, len(schema.Functions)),
		}

		for fn, fs := range schema.Functions {
			bp.Functions = append(bp.Functions, Function{
				Name:   fn,
				Method: fs.Receiver,
				Inputs: fs.Inputs,
				Export: fs.Export,
			})
		}

		sort.Slice(bp.Functions, func(i, j int) bool {
			return bp.Functions[i].Name < bp.Functions[j].Name
		})

		pkg.Blueprints = append(pkg.Blueprints, bp)
	}

	sort.Slice(pkg.Blueprints, func(i, j int) bool {
		return pkg.Blueprints[i].Name < pkg.Blueprints[j].Name
	})

	return pkg
}

// Export reads the package from the store and returns its description.
func Export(reader Reader, id address.NodeID) (Package, error) {
	if id.Type() != address.EntityPackage {
		return Package{}, xerrors.Errorf("%v is not a package", id)
	}

	value, err := reader.Read(address.NewSubstateID(id, address.OffsetPackage))
	if err != nil {
		return Package{}, xerrors.Errorf("failed to read package: %v", err)
	}

	info, ok := value.(*model.PackageInfo)
	if !ok {
		return Package{}, xerrors.Errorf("invalid package '%T'", value)
	}

	return Describe(id, info), nil
}

// Lookup returns the function of the blueprint, or false if it does not
// exist.
func (p Package) Lookup(blueprint, fn string) (Function, bool) {
	for _, bp := range p.Blueprints {
		if bp.Name != blueprint {
			continue
		}

		for _, f := range bp.Functions {
			if f.Name == fn {
				return f, true
			}
		}
	}

	return Function{}, false
}

// Encode returns the YAML document of the description.
func (p Package) Encode() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal: %v", err)
	}

	return data, nil
}
