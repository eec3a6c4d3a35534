package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/serde"
	"go.dedis.ch/rexec/serde/json"
	"go.dedis.ch/rexec/testing/fake"
)

var fakeToken = address.System(address.EntityResourceManager, "token")

func TestCodec_Vault(t *testing.T) {
	codec := NewCodec(json.NewContext())

	container, err := resource.NewFungible(fakeToken, 18, decimal.NewFromInt(80))
	require.NoError(t, err)

	owner := address.Derive(address.EntityComponent, nil, 0)

	data, err := codec.Encode(&VaultSubstate{Container: container, Owner: owner})
	require.NoError(t, err)

	value, err := codec.Decode(data)
	require.NoError(t, err)

	vault, ok := value.(*VaultSubstate)
	require.True(t, ok)
	require.Equal(t, owner, vault.Owner)
	require.Equal(t, "80", vault.Container.TotalAmount().String())
	require.Equal(t, fakeToken, vault.Container.Resource())
}

func TestCodec_Package(t *testing.T) {
	codec := NewCodec(json.NewContext())

	pkg := &PackageInfo{
		Kind:       PackageNative,
		NativeName: "account",
		Blueprints: map[string]execution.BlueprintSchema{
			"Account": {Functions: map[string]execution.FnSchema{
				"deposit": {Receiver: true, Inputs: []execution.Kind{execution.KindBucket}},
			}},
		},
	}

	data, err := codec.Encode(pkg)
	require.NoError(t, err)

	value, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, pkg, value)
}

func TestCodec_ResourceManager(t *testing.T) {
	codec := NewCodec(json.NewContext())

	manager := &ResourceManager{
		Kind:         resource.NonFungible,
		MintRule:     access.RequireNonFungibles(fakeToken, "admin"),
		BurnRule:     access.DenyAll(),
		WithdrawRule: access.AllowAll(),
		DepositRule:  access.AllowAll(),
		Metadata:     map[string]string{"name": "badge"},
	}

	data, err := codec.Encode(manager)
	require.NoError(t, err)

	value, err := codec.Decode(data)
	require.NoError(t, err)

	decoded := value.(*ResourceManager)
	require.Equal(t, manager.MintRule.String(), decoded.MintRule.String())
	require.Equal(t, "badge", decoded.Metadata["name"])
}

func TestCodec_Failures(t *testing.T) {
	codec := NewCodec(json.NewContext())

	_, err := codec.Encode(fakeValue{})
	require.EqualError(t, err, "unsupported value 'model.fakeValue'")

	_, err = codec.Decode([]byte("{}"))
	require.EqualError(t, err, "unknown type ''")

	_, err = codec.Decode([]byte("["))
	require.Error(t, err)

	_, err = codec.Decode([]byte(`{"type":"epoch","data":"W10="}`))
	require.Error(t, err)

	codec = NewCodec(serde.NewContext(badEngine{}))

	_, err = codec.Encode(&EpochState{})
	require.EqualError(t, err, fake.Err("failed to marshal epoch"))
}

func TestValues_Clone(t *testing.T) {
	state := &ComponentState{Data: []byte{1}}
	clone := state.Clone().(*ComponentState)
	clone.Data[0] = 2
	require.Equal(t, byte(1), state.Data[0])

	rules := &ComponentAccess{Rules: access.NewMethodRules(access.AllowAll())}
	cloned := rules.Clone().(*ComponentAccess)
	cloned.Rules.Methods["withdraw"] = access.DenyAll()
	require.Empty(t, rules.Rules.Methods)

	lock := &LockSubstate{Token: resource.LockToken{IDs: []string{"a"}}, Refs: 1}
	lockClone := lock.Clone().(*LockSubstate)
	lockClone.Refs++
	lockClone.Token.IDs[0] = "b"
	require.Equal(t, 1, lock.Refs)
	require.Equal(t, "a", lock.Token.IDs[0])

	for _, v := range []substate.Value{
		&PackageInfo{}, &ComponentInfo{}, &StoreInfo{}, &ResourceManager{},
		&ProofSubstate{}, &KeyValueEntry{}, &NonFungibleData{},
		&EpochState{}, &ClockState{}, &IntentRecord{},
	} {
		name, err := TypeOf(v.Clone())
		require.NoError(t, err)
		require.NotEmpty(t, name)
	}
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeValue struct{}

func (fakeValue) Clone() substate.Value {
	return fakeValue{}
}

type badEngine struct {
	serde.ContextEngine
}

func (badEngine) Marshal(interface{}) ([]byte, error) {
	return nil, fake.GetError()
}
