package native

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// NativeDivisibility is the divisibility of the native token.
const NativeDivisibility = resource.MaxDivisibility

var genesisSeed = []byte("rexec/genesis")

// Allocation is an account created at genesis with an amount of native
// tokens.
type Allocation struct {
	Owner  access.Rule
	Amount decimal.Decimal
}

// GenesisConfig is the initial state of the system.
type GenesisConfig struct {
	Epoch       uint64
	Millis      int64
	Allocations []Allocation
}

// Genesis creates the system nodes and the allocated accounts in the store,
// outside of any transaction. It returns the addresses of the accounts in
// the order of the allocations.
func Genesis(store *substate.Store, cfg GenesisConfig) ([]address.NodeID, error) {
	substates := map[address.SubstateID]substate.Value{}

	packages := []struct {
		id   address.NodeID
		name string
		pkg  Package
	}{
		{address.ResourcePackage, ResourceName, NewResourcePackage()},
		{address.AccountPackage, AccountName, NewAccountPackage()},
		{address.PackagePackage, PackageName, NewPackagePackage()},
		{address.SystemPackage, SystemName, NewSystemPackage()},
		{address.ProcessorPackage, ProcessorName, NewProcessorPackage()},
	}

	for _, p := range packages {
		substates[address.NewSubstateID(p.id, address.OffsetPackage)] = &model.PackageInfo{
			Kind:       model.PackageNative,
			NativeName: p.name,
			Blueprints: p.pkg.Schemas(),
			Metadata:   map[string]string{"name": p.name},
		}
	}

	supply := decimal.Zero
	accounts := make([]address.NodeID, len(cfg.Allocations))

	for i, alloc := range cfg.Allocations {
		if alloc.Amount.IsNegative() {
			return nil, xerrors.Errorf("allocation %d has a negative amount", i)
		}

		account := address.Derive(address.EntityComponent, genesisSeed, uint32(i))
		vaults := address.Derive(address.EntityKeyValueStore, genesisSeed, uint32(i))
		vault := address.Derive(address.EntityVault, genesisSeed, uint32(i))

		tokens, err := resource.NewFungible(address.NativeToken, NativeDivisibility, alloc.Amount)
		if err != nil {
			return nil, xerrors.Errorf("allocation %d: %v", i, err)
		}

		component, err := AccountSubstates(alloc.Owner, vaults)
		if err != nil {
			return nil, err
		}

		for offset, value := range component {
			substates[address.NewSubstateID(account, offset)] = value
		}

		substates[address.NewSubstateID(vaults, address.OffsetInfo)] = &model.StoreInfo{
			Package:   address.AccountPackage,
			Blueprint: AccountBlueprint,
		}
		substates[VaultKey(vaults, address.NativeToken)] = &model.KeyValueEntry{Value: vault[:]}
		substates[address.NewSubstateID(vault, address.OffsetVault)] = &model.VaultSubstate{
			Container: tokens,
			Owner:     account,
		}

		supply = supply.Add(alloc.Amount)
		accounts[i] = account
	}

	substates[address.NewSubstateID(address.NativeToken, address.OffsetManager)] = &model.ResourceManager{
		Kind:         resource.Fungible,
		Divisibility: NativeDivisibility,
		TotalSupply:  supply,
		MintRule:     access.Require(address.SystemBadge),
		BurnRule:     access.Require(address.SystemBadge),
		WithdrawRule: access.AllowAll(),
		DepositRule:  access.AllowAll(),
		Metadata:     map[string]string{"symbol": "XRX"},
	}

	for _, badge := range []address.NodeID{address.SignatureBadge, address.SystemBadge} {
		substates[address.NewSubstateID(badge, address.OffsetManager)] = &model.ResourceManager{
			Kind:         resource.NonFungible,
			TotalSupply:  decimal.Zero,
			MintRule:     access.DenyAll(),
			BurnRule:     access.DenyAll(),
			WithdrawRule: access.DenyAll(),
			DepositRule:  access.DenyAll(),
		}
	}

	substates[address.NewSubstateID(address.FeeCollector, address.OffsetVault)] = &model.VaultSubstate{
		Container: resource.NewEmpty(address.NativeToken, resource.Fungible, NativeDivisibility),
	}

	substates[address.NewSubstateID(address.EpochManager, address.OffsetEpoch)] = &model.EpochState{Epoch: cfg.Epoch}
	substates[address.NewSubstateID(address.Clock, address.OffsetClock)] = &model.ClockState{Millis: cfg.Millis}

	for id, value := range substates {
		err := store.Create(id, value)
		if err != nil {
			return nil, xerrors.Errorf("failed to create %v: %v", id, err)
		}
	}

	return accounts, nil
}

// SignerID returns the identifier of the virtual badge of a signer.
func SignerID(publicKey []byte) string {
	return fmt.Sprintf("%x", publicKey)
}
