package native

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// ResourceRules is the set of rules given when a resource is created. Minting
// and burning are denied and transfers are allowed when not specified.
type ResourceRules struct {
	Mint     *access.Rule `json:"mint,omitempty"`
	Burn     *access.Rule `json:"burn,omitempty"`
	Withdraw *access.Rule `json:"withdraw,omitempty"`
	Deposit  *access.Rule `json:"deposit,omitempty"`
}

// Encode returns the argument form of the rules.
func (r ResourceRules) Encode() []byte {
	data, _ := json.Marshal(r)
	return data
}

func (r ResourceRules) apply(m *model.ResourceManager) {
	m.MintRule = ruleOr(r.Mint, access.DenyAll())
	m.BurnRule = ruleOr(r.Burn, access.DenyAll())
	m.WithdrawRule = ruleOr(r.Withdraw, access.AllowAll())
	m.DepositRule = ruleOr(r.Deposit, access.AllowAll())
}

func ruleOr(rule *access.Rule, def access.Rule) access.Rule {
	if rule == nil {
		return def
	}

	return *rule
}

// NewResourcePackage returns the package of the resource manager, the vault,
// the bucket and the proof blueprints.
func NewResourcePackage() Package {
	return Package{
		ResourceManagerBlueprint: Blueprint{
			"new_fungible": fn(newFungible,
				execution.KindU64, execution.KindDecimal, execution.KindBytes),
			"new_non_fungible": fn(newNonFungible,
				execution.KindIDs, execution.KindBytes, execution.KindBytes),
			"mint":               method(mint, execution.KindDecimal),
			"mint_non_fungibles": method(mintNonFungibles, execution.KindIDs, execution.KindBytes),
			"burn":               method(burn, execution.KindBucket),
			"create_bucket":      method(createBucket),
			"total_supply":       method(totalSupply),
			"non_fungible_data":  method(nonFungibleData, execution.KindString),
		},
		VaultBlueprint: Blueprint{
			"take":                   method(vaultTake, execution.KindDecimal),
			"take_ids":               method(vaultTakeIDs, execution.KindIDs),
			"put":                    method(vaultPut, execution.KindBucket),
			"amount":                 method(vaultAmount),
			"ids":                    method(vaultIDs),
			"resource":               method(vaultResource),
			"create_proof":           method(containerProof(execution.ProofAll)),
			"create_proof_by_amount": method(containerProof(execution.ProofByAmount), execution.KindDecimal),
			"create_proof_by_ids":    method(containerProof(execution.ProofByIDs), execution.KindIDs),
			"lock_fee":               method(vaultLockFee, execution.KindDecimal),
		},
		BucketBlueprint: Blueprint{
			"take":                   method(bucketTake, execution.KindDecimal),
			"take_ids":               method(bucketTakeIDs, execution.KindIDs),
			"put":                    method(bucketPut, execution.KindBucket),
			"amount":                 method(bucketAmount),
			"ids":                    method(bucketIDs),
			"resource":               method(bucketResource),
			"create_proof":           method(containerProof(execution.ProofAll)),
			"create_proof_by_amount": method(containerProof(execution.ProofByAmount), execution.KindDecimal),
			"create_proof_by_ids":    method(containerProof(execution.ProofByIDs), execution.KindIDs),
		},
		ProofBlueprint: Blueprint{
			"amount":   method(proofAmount),
			"ids":      method(proofIDs),
			"resource": method(proofResource),
			"clone":    method(proofClone),
		},
	}
}

// Resource manager

func newFungible(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	divisibility, _ := args[0].AsU64()
	supply, _ := args[1].AsDecimal()
	encoded, _ := args[2].AsBytes()

	if divisibility > resource.MaxDivisibility {
		return nil, xerrors.Errorf("divisibility %d: %w", divisibility, resource.ErrInvalidAmount)
	}

	rules, err := decodeRules(encoded)
	if err != nil {
		return nil, err
	}

	manager := &model.ResourceManager{
		Kind:         resource.Fungible,
		Divisibility: uint8(divisibility),
		TotalSupply:  supply,
	}

	rules.apply(manager)

	id, err := api.CreateNode(address.EntityResourceManager, map[address.Offset]substate.Value{
		address.OffsetManager: manager,
	})
	if err != nil {
		return nil, err
	}

	initial, err := resource.NewFungible(id, uint8(divisibility), supply)
	if err != nil {
		return nil, err
	}

	bucket, err := newBucket(api, initial)
	if err != nil {
		return nil, err
	}

	return []execution.Value{execution.Address(id), execution.Bucket(bucket)}, nil
}

func newNonFungible(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	ids, _ := args[0].AsIDs()
	data, _ := args[1].AsBytes()
	encoded, _ := args[2].AsBytes()

	rules, err := decodeRules(encoded)
	if err != nil {
		return nil, err
	}

	store, err := api.CreateNode(address.EntityNonFungibleStore, nil)
	if err != nil {
		return nil, err
	}

	manager := &model.ResourceManager{
		Kind:        resource.NonFungible,
		TotalSupply: decimal.NewFromInt(int64(len(ids))),
		Data:        store,
	}

	rules.apply(manager)

	id, err := api.CreateNode(address.EntityResourceManager, map[address.Offset]substate.Value{
		address.OffsetManager: manager,
	})
	if err != nil {
		return nil, err
	}

	set, err := storeNonFungibles(api, store, ids, data)
	if err != nil {
		return nil, err
	}

	bucket, err := newBucket(api, resource.NewNonFungible(id, set))
	if err != nil {
		return nil, err
	}

	return []execution.Value{execution.Address(id), execution.Bucket(bucket)}, nil
}

func mint(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	amount, _ := args[0].AsDecimal()
	res := api.Actor().Receiver

	manager, err := readManager(api, res)
	if err != nil {
		return nil, err
	}

	if manager.Kind != resource.Fungible {
		return nil, xerrors.Errorf("mint amount of %v: %w", manager.Kind, resource.ErrResourceMismatch)
	}

	err = api.CheckAuthorization(manager.MintRule)
	if err != nil {
		return nil, err
	}

	minted, err := resource.NewFungible(res, manager.Divisibility, amount)
	if err != nil {
		return nil, err
	}

	err = updateManager(api, res, func(m *model.ResourceManager) error {
		m.TotalSupply = m.TotalSupply.Add(amount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	bucket, err := newBucket(api, minted)
	if err != nil {
		return nil, err
	}

	return single(execution.Bucket(bucket))
}

func mintNonFungibles(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	ids, _ := args[0].AsIDs()
	data, _ := args[1].AsBytes()
	res := api.Actor().Receiver

	manager, err := readManager(api, res)
	if err != nil {
		return nil, err
	}

	if manager.Kind != resource.NonFungible {
		return nil, xerrors.Errorf("mint ids of %v: %w", manager.Kind, resource.ErrResourceMismatch)
	}

	err = api.CheckAuthorization(manager.MintRule)
	if err != nil {
		return nil, err
	}

	set, err := storeNonFungibles(api, manager.Data, ids, data)
	if err != nil {
		return nil, err
	}

	err = updateManager(api, res, func(m *model.ResourceManager) error {
		m.TotalSupply = m.TotalSupply.Add(decimal.NewFromInt(int64(set.Len())))
		return nil
	})
	if err != nil {
		return nil, err
	}

	bucket, err := newBucket(api, resource.NewNonFungible(res, set))
	if err != nil {
		return nil, err
	}

	return single(execution.Bucket(bucket))
}

func burn(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	bucket, _ := args[0].AsBucket()
	res := api.Actor().Receiver

	manager, err := readManager(api, res)
	if err != nil {
		return nil, err
	}

	err = api.CheckAuthorization(manager.BurnRule)
	if err != nil {
		return nil, err
	}

	content, err := emptyBucket(api, bucket)
	if err != nil {
		return nil, err
	}

	if content.Resource() != res {
		return nil, xerrors.Errorf("burn %v with %v: %w", content.Resource(), res, resource.ErrResourceMismatch)
	}

	err = updateManager(api, res, func(m *model.ResourceManager) error {
		m.TotalSupply = m.TotalSupply.Sub(content.TotalAmount())
		return nil
	})
	if err != nil {
		return nil, err
	}

	return none()
}

func createBucket(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	res := api.Actor().Receiver

	manager, err := readManager(api, res)
	if err != nil {
		return nil, err
	}

	bucket, err := newBucket(api, resource.NewEmpty(res, manager.Kind, manager.Divisibility))
	if err != nil {
		return nil, err
	}

	return single(execution.Bucket(bucket))
}

func totalSupply(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	manager, err := readManager(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}

	return single(execution.Decimal(manager.TotalSupply))
}

func nonFungibleData(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	id, _ := args[0].AsString()

	manager, err := readManager(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}

	if manager.Kind != resource.NonFungible {
		return nil, xerrors.Errorf("data of %v: %w", manager.Kind, resource.ErrResourceMismatch)
	}

	sid := address.NewSubstateID(manager.Data, address.NonFungibleOffset(id))

	found, err := api.SubstateExists(sid)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, xerrors.Errorf("id '%s': %w", id, resource.ErrNonFungibleNotFound)
	}

	value, err := read(api, sid)
	if err != nil {
		return nil, err
	}

	data, ok := value.(*model.NonFungibleData)
	if !ok {
		return nil, xerrors.Errorf("invalid non-fungible data '%T'", value)
	}

	return single(execution.Bytes(data.Data))
}

func storeNonFungibles(api execution.Api, store address.NodeID, ids []string, data []byte) (resource.IDSet, error) {
	set := resource.NewIDSet(ids...)
	if set.Len() != len(ids) {
		return nil, xerrors.Errorf("duplicate ids: %w", execution.ErrArgumentMismatch)
	}

	for _, id := range set.Sorted() {
		err := api.CreateSubstate(address.NewSubstateID(store, address.NonFungibleOffset(id)),
			&model.NonFungibleData{Data: data})
		if err != nil {
			return nil, xerrors.Errorf("failed to mint '%s': %w", id, err)
		}
	}

	return set, nil
}

func updateManager(api execution.Api, res address.NodeID, fn func(*model.ResourceManager) error) error {
	return update(api, address.NewSubstateID(res, address.OffsetManager), func(v substate.Value) error {
		m, ok := v.(*model.ResourceManager)
		if !ok {
			return xerrors.Errorf("invalid resource manager '%T'", v)
		}

		return fn(m)
	})
}

func decodeRules(data []byte) (ResourceRules, error) {
	var rules ResourceRules

	if len(data) == 0 {
		return rules, nil
	}

	err := json.Unmarshal(data, &rules)
	if err != nil {
		return rules, xerrors.Errorf("invalid rules: %v: %w", err, execution.ErrArgumentMismatch)
	}

	return rules, nil
}

// Vault

func updateVault(api execution.Api, fn func(*resource.Container) error) error {
	id := address.NewSubstateID(api.Actor().Receiver, address.OffsetVault)

	return update(api, id, func(v substate.Value) error {
		vault, ok := v.(*model.VaultSubstate)
		if !ok {
			return xerrors.Errorf("invalid vault '%T'", v)
		}

		return fn(vault.Container)
	})
}

func readVault(api execution.Api) (*resource.Container, error) {
	value, err := read(api, address.NewSubstateID(api.Actor().Receiver, address.OffsetVault))
	if err != nil {
		return nil, err
	}

	vault, ok := value.(*model.VaultSubstate)
	if !ok {
		return nil, xerrors.Errorf("invalid vault '%T'", value)
	}

	return vault.Container, nil
}

func checkWithdraw(api execution.Api, res address.NodeID) error {
	manager, err := readManager(api, res)
	if err != nil {
		return err
	}

	return api.CheckAuthorization(manager.WithdrawRule)
}

func vaultTake(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	amount, _ := args[0].AsDecimal()

	return vaultWithdraw(api, func(c *resource.Container) (*resource.Container, error) {
		return c.TakeByAmount(amount)
	})
}

func vaultTakeIDs(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	ids, _ := args[0].AsIDs()

	return vaultWithdraw(api, func(c *resource.Container) (*resource.Container, error) {
		return c.TakeByIDs(resource.NewIDSet(ids...))
	})
}

func vaultWithdraw(api execution.Api, take func(*resource.Container) (*resource.Container, error)) ([]execution.Value, error) {
	container, err := readVault(api)
	if err != nil {
		return nil, err
	}

	err = checkWithdraw(api, container.Resource())
	if err != nil {
		return nil, err
	}

	var taken *resource.Container

	err = updateVault(api, func(c *resource.Container) error {
		taken, err = take(c)
		return err
	})
	if err != nil {
		return nil, err
	}

	bucket, err := newBucket(api, taken)
	if err != nil {
		return nil, err
	}

	return single(execution.Bucket(bucket))
}

func vaultPut(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	bucket, _ := args[0].AsBucket()

	content, err := emptyBucket(api, bucket)
	if err != nil {
		return nil, err
	}

	manager, err := readManager(api, content.Resource())
	if err != nil {
		return nil, err
	}

	err = api.CheckAuthorization(manager.DepositRule)
	if err != nil {
		return nil, err
	}

	err = updateVault(api, func(c *resource.Container) error {
		return c.Put(content)
	})
	if err != nil {
		return nil, err
	}

	return none()
}

func vaultAmount(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	container, err := readVault(api)
	if err != nil {
		return nil, err
	}

	return single(execution.Decimal(container.TotalAmount()))
}

func vaultIDs(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	container, err := readVault(api)
	if err != nil {
		return nil, err
	}

	return single(execution.IDs(container.TotalIDs().Sorted()...))
}

func vaultResource(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	container, err := readVault(api)
	if err != nil {
		return nil, err
	}

	return single(execution.Address(container.Resource()))
}

func vaultLockFee(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	amount, _ := args[0].AsDecimal()

	var tokens *resource.Container

	err := updateVault(api, func(c *resource.Container) error {
		var err error
		tokens, err = c.TakeByAmount(amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = api.LockFee(api.Actor().Receiver, tokens)
	if err != nil {
		return nil, err
	}

	return none()
}

// containerProof returns the handler that creates a proof of the receiver,
// either a vault or a bucket.
func containerProof(by execution.ProofBy) Handler {
	return func(api execution.Api, args []execution.Value) ([]execution.Value, error) {
		req := execution.ProofRequest{By: by}

		switch by {
		case execution.ProofByAmount:
			req.Amount, _ = args[0].AsDecimal()
		case execution.ProofByIDs:
			ids, _ := args[0].AsIDs()
			req.IDs = resource.NewIDSet(ids...)
		}

		proof, err := api.CreateProof(api.Actor().Receiver, req)
		if err != nil {
			return nil, err
		}

		return single(execution.Proof(proof))
	}
}

// Bucket

func updateBucket(api execution.Api, fn func(*resource.Container) error) error {
	id := address.NewSubstateID(api.Actor().Receiver, address.OffsetBucket)

	return update(api, id, func(v substate.Value) error {
		b, ok := v.(*model.BucketSubstate)
		if !ok {
			return xerrors.Errorf("invalid bucket '%T'", v)
		}

		return fn(b.Container)
	})
}

func bucketTake(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	amount, _ := args[0].AsDecimal()

	return bucketSplit(api, func(c *resource.Container) (*resource.Container, error) {
		return c.TakeByAmount(amount)
	})
}

func bucketTakeIDs(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	ids, _ := args[0].AsIDs()

	return bucketSplit(api, func(c *resource.Container) (*resource.Container, error) {
		return c.TakeByIDs(resource.NewIDSet(ids...))
	})
}

func bucketSplit(api execution.Api, take func(*resource.Container) (*resource.Container, error)) ([]execution.Value, error) {
	var taken *resource.Container

	err := updateBucket(api, func(c *resource.Container) error {
		var err error
		taken, err = take(c)
		return err
	})
	if err != nil {
		return nil, err
	}

	bucket, err := newBucket(api, taken)
	if err != nil {
		return nil, err
	}

	return single(execution.Bucket(bucket))
}

func bucketPut(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	other, _ := args[0].AsBucket()

	content, err := emptyBucket(api, other)
	if err != nil {
		return nil, err
	}

	err = updateBucket(api, func(c *resource.Container) error {
		return c.Put(content)
	})
	if err != nil {
		return nil, err
	}

	return none()
}

func bucketAmount(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	c, err := readBucket(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}

	return single(execution.Decimal(c.TotalAmount()))
}

func bucketIDs(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	c, err := readBucket(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}

	return single(execution.IDs(c.TotalIDs().Sorted()...))
}

func bucketResource(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	c, err := readBucket(api, api.Actor().Receiver)
	if err != nil {
		return nil, err
	}

	return single(execution.Address(c.Resource()))
}

// Proof

func readEvidence(api execution.Api) (access.Evidence, error) {
	value, err := read(api, address.NewSubstateID(api.Actor().Receiver, address.OffsetProof))
	if err != nil {
		return access.Evidence{}, err
	}

	p, ok := value.(*model.ProofSubstate)
	if !ok {
		return access.Evidence{}, xerrors.Errorf("invalid proof '%T'", value)
	}

	return p.Evidence, nil
}

func proofAmount(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	evidence, err := readEvidence(api)
	if err != nil {
		return nil, err
	}

	return single(execution.Decimal(evidence.Amount()))
}

func proofIDs(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	evidence, err := readEvidence(api)
	if err != nil {
		return nil, err
	}

	return single(execution.IDs(evidence.IDs().Sorted()...))
}

func proofResource(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	evidence, err := readEvidence(api)
	if err != nil {
		return nil, err
	}

	return single(execution.Address(evidence.Resource))
}

func proofClone(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	clone, err := api.CloneProof(api.Actor().Receiver)
	if err != nil {
		return nil, err
	}

	return single(execution.Proof(clone))
}
