package abi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/execution/native"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/store/mem"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/serde/json"
	"go.dedis.ch/rexec/testing/fake"
)

func TestExport(t *testing.T) {
	store := substate.NewStore(substate.NewKVDatabase(mem.NewDB()), model.NewCodec(json.NewContext()))

	_, err := native.Genesis(store, native.GenesisConfig{})
	require.NoError(t, err)

	pkg, err := Export(store, address.AccountPackage)
	require.NoError(t, err)
	require.Equal(t, model.PackageNative, pkg.Kind)
	require.Equal(t, address.AccountPackage.String(), pkg.Address)
	require.Len(t, pkg.Blueprints, 1)

	fn, found := pkg.Lookup(native.AccountBlueprint, "withdraw")
	require.True(t, found)
	require.True(t, fn.Method)
	require.Equal(t, []execution.Kind{execution.KindAddress, execution.KindDecimal}, fn.Inputs)

	fn, found = pkg.Lookup(native.AccountBlueprint, "new")
	require.True(t, found)
	require.False(t, fn.Method)

	_, found = pkg.Lookup(native.AccountBlueprint, "unknown")
	require.False(t, found)

	_, err = Export(store, address.NativeToken)
	require.EqualError(t, err, address.NativeToken.String()+" is not a package")

	_, err = Export(store, address.System(address.EntityPackage, "unknown"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read package")

	_, err = Export(fakeReader{err: fake.GetError()}, address.AccountPackage)
	require.EqualError(t, err, fake.Err("failed to read package"))

	_, err = Export(fakeReader{value: &model.EpochState{}}, address.AccountPackage)
	require.EqualError(t, err, "invalid package '*model.EpochState'")
}

func TestDescribe(t *testing.T) {
	info := &model.PackageInfo{
		Kind: model.PackageWasm,
		Blueprints: map[string]execution.BlueprintSchema{
			"B": {Functions: map[string]execution.FnSchema{
				"z": {Inputs: []execution.Kind{execution.KindU64}, Export: "z_fn"},
				"a": {Receiver: true},
			}},
			"A": {Functions: map[string]execution.FnSchema{}},
		},
	}

	pkg := Describe(address.System(address.EntityPackage, "pkg"), info)
	require.Len(t, pkg.Blueprints, 2)
	require.Equal(t, "A", pkg.Blueprints[0].Name)
	require.Equal(t, "B", pkg.Blueprints[1].Name)
	require.Equal(t, "a", pkg.Blueprints[1].Functions[0].Name)
	require.Equal(t, "z", pkg.Blueprints[1].Functions[1].Name)

	data, err := pkg.Encode()
	require.NoError(t, err)
	require.Contains(t, string(data), "kind: wasm")
	require.Contains(t, string(data), "export: z_fn")
	require.Contains(t, string(data), "inputs: [u64]")
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeReader struct {
	value substate.Value
	err   error
}

func (r fakeReader) Read(address.SubstateID) (substate.Value, error) {
	return r.value, r.err
}
