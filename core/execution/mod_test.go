package execution

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/testing/fake"
	"golang.org/x/xerrors"
)

func TestInvocation_String(t *testing.T) {
	pkg := address.System(address.EntityPackage, "account")
	inv := NewFunctionCall(pkg, "Account", "new")
	require.Equal(t, pkg.String()+"::Account::new", inv.String())

	vault := address.Derive(address.EntityVault, nil, 0)
	inv = NewMethodCall(vault, "take", Decimal(decimal.NewFromInt(5)))
	require.Equal(t, vault.String()+"::take", inv.String())
	require.Equal(t, TargetMethod, inv.Target.Kind)
}

func TestValue_Accessors(t *testing.T) {
	v := Decimal(decimal.NewFromInt(5))

	amount, err := v.AsDecimal()
	require.NoError(t, err)
	require.Equal(t, "5", amount.String())

	_, err = v.AsBucket()
	require.True(t, xerrors.Is(err, ErrArgumentMismatch))
	require.EqualError(t, err, "expected bucket, got decimal: argument mismatch")

	named := NamedBucket("b1")
	require.Equal(t, "b1", named.Binding())
	require.Equal(t, "bucket($b1)", named.String())

	bucket := address.Derive(address.EntityBucket, nil, 0)
	resolved := named.Resolve(bucket)
	require.Empty(t, resolved.Binding())
	require.Equal(t, bucket, resolved.Node())
}

func TestValue_JSON(t *testing.T) {
	values := []Value{
		Bool(true),
		U64(42),
		String("hello"),
		Bytes([]byte{1, 2}),
		Decimal(decimal.RequireFromString("1.5")),
		Address(address.System(address.EntityComponent, "a")),
		Bucket(address.Derive(address.EntityBucket, nil, 1)),
		NamedProof("p"),
		IDs("a", "b"),
	}

	data, err := json.Marshal(values)
	require.NoError(t, err)

	var decoded []Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, len(values))

	for i, v := range values {
		require.Equal(t, v.String(), decoded[i].String())
	}

	_, err = json.Marshal(Value{})
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"kind":"oops"}`), &decoded[0])
	require.EqualError(t, err, "unknown kind 'oops'")

	err = json.Unmarshal([]byte(`{"kind":"u64","value":"a"}`), &decoded[0])
	require.Error(t, err)
}

func TestFnSchema_Check(t *testing.T) {
	schema := FnSchema{Inputs: []Kind{KindDecimal, KindAny}}

	require.NoError(t, schema.Check([]Value{Decimal(decimal.Zero), Bool(true)}))

	err := schema.Check([]Value{Decimal(decimal.Zero)})
	require.EqualError(t, err, "expected 2 arguments, got 1: argument mismatch")

	err = schema.Check([]Value{U64(1), U64(1)})
	require.EqualError(t, err, "argument 0 is u64 instead of decimal: argument mismatch")
}

func TestBlueprintSchema_Lookup(t *testing.T) {
	schema := BlueprintSchema{Functions: map[string]FnSchema{
		"new":     {},
		"balance": {Receiver: true},
	}}

	_, err := schema.Lookup("new", false)
	require.NoError(t, err)

	_, err = schema.Lookup("new", true)
	require.True(t, xerrors.Is(err, ErrUnknownFunction))

	_, err = schema.Lookup("unknown", false)
	require.EqualError(t, err, "'unknown': unknown function")
}

func TestClassify(t *testing.T) {
	wrap := func(err error) error {
		return xerrors.Errorf("context: %w", err)
	}

	require.Equal(t, KindResourceError, Classify(wrap(resource.ErrInsufficientBalance)))
	require.Equal(t, KindLockError, Classify(wrap(substate.ErrLockConflict)))
	require.Equal(t, KindAuthorizationError, Classify(wrap(access.ErrUnauthorized)))
	require.Equal(t, KindFeeError, Classify(wrap(fee.ErrExhausted)))
	require.Equal(t, KindDispatchError, Classify(wrap(ErrUnknownTarget)))
	require.Equal(t, KindSandboxError, Classify(wrap(ErrSandbox)))
	require.Equal(t, KindDepthError, Classify(wrap(ErrMaxDepth)))
	require.Equal(t, KindStoreError, Classify(wrap(substate.ErrNotFound)))
	require.Equal(t, KindApplicationError, Classify(fake.GetError()))

	kerr := NewError(KindResourceError, fake.GetError())
	require.Equal(t, KindResourceError, Classify(wrap(kerr)))
	require.EqualError(t, kerr, fake.Err("resource error"))
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(nil))

	err := Wrap(fee.ErrExhausted)
	require.True(t, xerrors.Is(err, fee.ErrExhausted))
	require.True(t, IsFatal(err))
	require.Equal(t, err, Wrap(err))

	require.False(t, IsFatal(Wrap(access.ErrUnauthorized)))
	require.False(t, IsFatal(nil))
}
