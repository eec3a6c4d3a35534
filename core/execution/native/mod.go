// Package native implements the blueprints that are packaged with the kernel.
//
// A native blueprint is written in Go and runs with the same interface as the
// bytecode programs. The system blueprints define resources, vaults, buckets,
// proofs, accounts, the publication of packages, the logical time and the
// transaction processor.
package native

import (
	"go.dedis.ch/rexec/core/execution"
	"golang.org/x/xerrors"
)

// Names of the native packages.
const (
	ResourceName  = "resource"
	AccountName   = "account"
	PackageName   = "package"
	SystemName    = "system"
	ProcessorName = "processor"
)

// Names of the native blueprints.
const (
	ResourceManagerBlueprint = "ResourceManager"
	VaultBlueprint           = "Vault"
	BucketBlueprint          = "Bucket"
	ProofBlueprint           = "Proof"
	AccountBlueprint         = "Account"
	PackageBlueprint         = "Package"
	EpochManagerBlueprint    = "EpochManager"
	ClockBlueprint           = "Clock"
	ProcessorBlueprint       = "TransactionProcessor"
)

// Handler is the implementation of a function or a method. For methods, the
// receiver is available through the actor of the api.
type Handler func(api execution.Api, args []execution.Value) ([]execution.Value, error)

// Function is a function or a method of a native blueprint.
type Function struct {
	Schema  execution.FnSchema
	Handler Handler
}

// Blueprint is the set of functions of a native blueprint.
type Blueprint map[string]Function

// Package is the set of blueprints of a native package.
type Package map[string]Blueprint

// Schemas returns the schemas of the blueprints of the package.
func (p Package) Schemas() map[string]execution.BlueprintSchema {
	schemas := make(map[string]execution.BlueprintSchema, len(p))

	for name, bp := range p {
		fns := make(map[string]execution.FnSchema, len(bp))
		for fn, def := range bp {
			fns[fn] = def.Schema
		}

		schemas[name] = execution.BlueprintSchema{Functions: fns}
	}

	return schemas
}

// Service is the table of the native packages.
type Service struct {
	packages map[string]Package
}

// NewService returns an empty table.
func NewService() *Service {
	return &Service{
		packages: map[string]Package{},
	}
}

// NewDefaultService returns the table populated with the system packages.
func NewDefaultService() *Service {
	srvc := NewService()
	srvc.Set(ResourceName, NewResourcePackage())
	srvc.Set(AccountName, NewAccountPackage())
	srvc.Set(PackageName, NewPackagePackage())
	srvc.Set(SystemName, NewSystemPackage())
	srvc.Set(ProcessorName, NewProcessorPackage())

	return srvc
}

// Set stores the package using the name as the key. It panics if the name is
// already registered.
func (s *Service) Set(name string, pkg Package) {
	if _, ok := s.packages[name]; ok {
		panic(xerrors.Errorf("native package '%s' already registered", name))
	}

	s.packages[name] = pkg
}

// Get returns the package registered with the name.
func (s *Service) Get(name string) (Package, error) {
	pkg, found := s.packages[name]
	if !found {
		return nil, xerrors.Errorf("native package '%s': %w", name, execution.ErrUnknownTarget)
	}

	return pkg, nil
}

// Lookup returns the function of a blueprint of a package.
func (s *Service) Lookup(name, blueprint, fn string) (Function, error) {
	pkg, err := s.Get(name)
	if err != nil {
		return Function{}, err
	}

	bp, found := pkg[blueprint]
	if !found {
		return Function{}, xerrors.Errorf("blueprint '%s': %w", blueprint, execution.ErrUnknownTarget)
	}

	def, found := bp[fn]
	if !found {
		return Function{}, xerrors.Errorf("'%s::%s': %w", blueprint, fn, execution.ErrUnknownFunction)
	}

	return def, nil
}
