package native

import (
	"encoding/json"

	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// NewPackagePackage returns the package of the blueprint that publishes
// bytecode packages.
func NewPackagePackage() Package {
	return Package{
		PackageBlueprint: Blueprint{
			"publish": fn(publish, execution.KindBytes, execution.KindBytes),
		},
	}
}

func publish(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	code, _ := args[0].AsBytes()
	encoded, _ := args[1].AsBytes()

	if len(code) == 0 {
		return nil, xerrors.Errorf("empty code: %w", execution.ErrArgumentMismatch)
	}

	var blueprints map[string]execution.BlueprintSchema

	err := json.Unmarshal(encoded, &blueprints)
	if err != nil {
		return nil, xerrors.Errorf("invalid schemas: %v: %w", err, execution.ErrArgumentMismatch)
	}

	if len(blueprints) == 0 {
		return nil, xerrors.Errorf("no blueprint: %w", execution.ErrArgumentMismatch)
	}

	id, err := api.CreateNode(address.EntityPackage, map[address.Offset]substate.Value{
		address.OffsetPackage: &model.PackageInfo{
			Kind:       model.PackageWasm,
			Code:       code,
			Blueprints: blueprints,
		},
	})
	if err != nil {
		return nil, err
	}

	api.Log("info", "package published")

	return single(execution.Address(id))
}
