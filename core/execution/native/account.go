package native

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// AccountState is the state of an account component. The key/value store
// maps the resources to the vaults of the account.
type AccountState struct {
	Vaults address.NodeID `json:"vaults"`
}

// NewAccountPackage returns the package of the account blueprint.
func NewAccountPackage() Package {
	return Package{
		AccountBlueprint: Blueprint{
			"new":                    fn(newAccount, execution.KindBytes),
			"deposit":                method(accountDeposit, execution.KindBucket),
			"withdraw":               method(accountWithdraw, execution.KindAddress, execution.KindDecimal),
			"withdraw_ids":           method(accountWithdrawIDs, execution.KindAddress, execution.KindIDs),
			"balance":                method(accountBalance, execution.KindAddress),
			"create_proof":           method(accountProof("create_proof"), execution.KindAddress),
			"create_proof_by_amount": method(accountProof("create_proof_by_amount"), execution.KindAddress, execution.KindDecimal),
			"create_proof_by_ids":    method(accountProof("create_proof_by_ids"), execution.KindAddress, execution.KindIDs),
			"lock_fee":               method(accountLockFee, execution.KindDecimal),
		},
	}
}

// AccountRules returns the method rules of an account protected by the
// owner rule. Everyone can deposit and read the balances.
func AccountRules(owner access.Rule) access.MethodRules {
	return access.NewMethodRules(owner).
		Set("deposit", access.AllowAll()).
		Set("balance", access.AllowAll())
}

// AccountSubstates returns the substates of a new account component.
func AccountSubstates(owner access.Rule, vaults address.NodeID) (map[address.Offset]substate.Value, error) {
	state, err := json.Marshal(AccountState{Vaults: vaults})
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal state: %v", err)
	}

	return map[address.Offset]substate.Value{
		address.OffsetInfo: &model.ComponentInfo{
			Package:   address.AccountPackage,
			Blueprint: AccountBlueprint,
		},
		address.OffsetState:  &model.ComponentState{Data: state},
		address.OffsetAccess: &model.ComponentAccess{Rules: AccountRules(owner)},
	}, nil
}

// VaultKey returns the key of the vault of the resource in the store of an
// account.
func VaultKey(store, res address.NodeID) address.SubstateID {
	return address.NewSubstateID(store, address.EntryOffset(res[:]))
}

func newAccount(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	encoded, _ := args[0].AsBytes()

	owner, err := decodeRule(encoded, access.DenyAll())
	if err != nil {
		return nil, err
	}

	store, err := api.CreateNode(address.EntityKeyValueStore, nil)
	if err != nil {
		return nil, err
	}

	substates, err := AccountSubstates(owner, store)
	if err != nil {
		return nil, err
	}

	id, err := api.CreateNode(address.EntityComponent, substates)
	if err != nil {
		return nil, err
	}

	return single(execution.Address(id))
}

func accountStore(api execution.Api) (address.NodeID, error) {
	value, err := read(api, address.NewSubstateID(api.Actor().Receiver, address.OffsetState))
	if err != nil {
		return address.NodeID{}, err
	}

	state, ok := value.(*model.ComponentState)
	if !ok {
		return address.NodeID{}, xerrors.Errorf("invalid component state '%T'", value)
	}

	var account AccountState

	err = json.Unmarshal(state.Data, &account)
	if err != nil {
		return address.NodeID{}, xerrors.Errorf("invalid account state: %v", err)
	}

	return account.Vaults, nil
}

// findVault returns the vault of the resource, or false if the account has
// none.
func findVault(api execution.Api, res address.NodeID) (address.NodeID, bool, error) {
	store, err := accountStore(api)
	if err != nil {
		return address.NodeID{}, false, err
	}

	key := VaultKey(store, res)

	found, err := api.SubstateExists(key)
	if err != nil || !found {
		return address.NodeID{}, false, err
	}

	value, err := read(api, key)
	if err != nil {
		return address.NodeID{}, false, err
	}

	entry, ok := value.(*model.KeyValueEntry)
	if !ok {
		return address.NodeID{}, false, xerrors.Errorf("invalid entry '%T'", value)
	}

	var vault address.NodeID
	copy(vault[:], entry.Value)

	return vault, true, nil
}

func mustFindVault(api execution.Api, res address.NodeID) (address.NodeID, error) {
	vault, found, err := findVault(api, res)
	if err != nil {
		return address.NodeID{}, err
	}

	if !found {
		return address.NodeID{}, xerrors.Errorf("no vault for %v: %w", res, execution.ErrApplication)
	}

	return vault, nil
}

func accountDeposit(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	bucket, _ := args[0].AsBucket()

	content, err := readBucket(api, bucket)
	if err != nil {
		return nil, err
	}

	res := content.Resource()

	vault, found, err := findVault(api, res)
	if err != nil {
		return nil, err
	}

	if !found {
		vault, err = NewVault(api, res)
		if err != nil {
			return nil, err
		}

		store, err := accountStore(api)
		if err != nil {
			return nil, err
		}

		err = api.CreateSubstate(VaultKey(store, res), &model.KeyValueEntry{Value: vault[:]})
		if err != nil {
			return nil, err
		}
	}

	_, err = api.Invoke(execution.NewMethodCall(vault, "put", execution.Bucket(bucket)))
	if err != nil {
		return nil, err
	}

	return none()
}

func accountWithdraw(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	res, _ := args[0].AsAddress()

	vault, err := mustFindVault(api, res)
	if err != nil {
		return nil, err
	}

	return api.Invoke(execution.NewMethodCall(vault, "take", args[1]))
}

func accountWithdrawIDs(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	res, _ := args[0].AsAddress()

	vault, err := mustFindVault(api, res)
	if err != nil {
		return nil, err
	}

	return api.Invoke(execution.NewMethodCall(vault, "take_ids", args[1]))
}

func accountBalance(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	res, _ := args[0].AsAddress()

	vault, found, err := findVault(api, res)
	if err != nil {
		return nil, err
	}

	if !found {
		return single(execution.Decimal(decimal.Zero))
	}

	return api.Invoke(execution.NewMethodCall(vault, "amount"))
}

func accountProof(name string) Handler {
	return func(api execution.Api, args []execution.Value) ([]execution.Value, error) {
		res, _ := args[0].AsAddress()

		vault, err := mustFindVault(api, res)
		if err != nil {
			return nil, err
		}

		return api.Invoke(execution.NewMethodCall(vault, name, args[1:]...))
	}
}

func accountLockFee(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	vault, err := mustFindVault(api, address.NativeToken)
	if err != nil {
		return nil, err
	}

	return api.Invoke(execution.NewMethodCall(vault, "lock_fee", args[0]))
}
