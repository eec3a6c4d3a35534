// Package model defines the values of the substates of every node type and the
// codec that stores them in the database.
package model

import (
	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
)

// PackageKind tells how the code of a package runs.
type PackageKind string

const (
	// PackageNative is a package implemented by the kernel.
	PackageNative PackageKind = "native"
	// PackageWasm is a package of WebAssembly code.
	PackageWasm PackageKind = "wasm"
)

// PackageInfo is the code and the schema of a package.
type PackageInfo struct {
	Kind       PackageKind                          `json:"kind"`
	NativeName string                               `json:"nativeName,omitempty"`
	Code       []byte                               `json:"code,omitempty"`
	Blueprints map[string]execution.BlueprintSchema `json:"blueprints"`
	Metadata   map[string]string                    `json:"metadata,omitempty"`
}

// Clone implements substate.Value.
func (p *PackageInfo) Clone() substate.Value {
	clone := *p
	clone.Code = append([]byte{}, p.Code...)
	clone.Blueprints = make(map[string]execution.BlueprintSchema, len(p.Blueprints))

	for name, bp := range p.Blueprints {
		clone.Blueprints[name] = bp
	}

	clone.Metadata = cloneMetadata(p.Metadata)

	return &clone
}

// ComponentInfo is the blueprint of a component.
type ComponentInfo struct {
	Package   address.NodeID `json:"package"`
	Blueprint string         `json:"blueprint"`
}

// Clone implements substate.Value.
func (c *ComponentInfo) Clone() substate.Value {
	clone := *c
	return &clone
}

// ComponentState is the state of a component, opaque to the kernel.
type ComponentState struct {
	Data []byte `json:"data"`
}

// Clone implements substate.Value.
func (c *ComponentState) Clone() substate.Value {
	return &ComponentState{Data: append([]byte{}, c.Data...)}
}

// ComponentAccess is the rules of the methods of a component.
type ComponentAccess struct {
	Rules access.MethodRules `json:"rules"`
}

// Clone implements substate.Value.
func (c *ComponentAccess) Clone() substate.Value {
	rules := access.MethodRules{
		Methods: make(map[string]access.Rule, len(c.Rules.Methods)),
		Default: c.Rules.Default,
	}

	for method, rule := range c.Rules.Methods {
		rules.Methods[method] = rule
	}

	return &ComponentAccess{Rules: rules}
}

// StoreInfo is the owner of a key/value or a non-fungible store. A store
// created by a method belongs to the component, otherwise to the blueprint.
type StoreInfo struct {
	Package   address.NodeID `json:"package"`
	Blueprint string         `json:"blueprint"`
	Component address.NodeID `json:"component"`
}

// Clone implements substate.Value.
func (s *StoreInfo) Clone() substate.Value {
	clone := *s
	return &clone
}

// ResourceManager is the definition of a resource.
type ResourceManager struct {
	Kind         resource.Kind     `json:"kind"`
	Divisibility uint8             `json:"divisibility"`
	TotalSupply  decimal.Decimal   `json:"totalSupply"`
	MintRule     access.Rule       `json:"mintRule"`
	BurnRule     access.Rule       `json:"burnRule"`
	WithdrawRule access.Rule       `json:"withdrawRule"`
	DepositRule  access.Rule       `json:"depositRule"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	// Data is the node that holds the data of the non-fungibles.
	Data address.NodeID `json:"data,omitempty"`
}

// Clone implements substate.Value.
func (m *ResourceManager) Clone() substate.Value {
	clone := *m
	clone.Metadata = cloneMetadata(m.Metadata)

	return &clone
}

// VaultSubstate is the container of a vault and the component that owns it.
type VaultSubstate struct {
	Container *resource.Container `json:"container"`
	Owner     address.NodeID      `json:"owner"`
}

// Clone implements substate.Value.
func (v *VaultSubstate) Clone() substate.Value {
	return &VaultSubstate{Container: v.Container.Clone(), Owner: v.Owner}
}

// BucketSubstate is the container of a bucket.
type BucketSubstate struct {
	Container *resource.Container `json:"container"`
}

// Clone implements substate.Value.
func (b *BucketSubstate) Clone() substate.Value {
	return &BucketSubstate{Container: b.Container.Clone()}
}

// ProofSubstate is the evidence of a proof and the locks that back it.
type ProofSubstate struct {
	Evidence access.Evidence  `json:"evidence"`
	Locks    []address.NodeID `json:"locks"`
}

// Clone implements substate.Value.
func (p *ProofSubstate) Clone() substate.Value {
	clone := &ProofSubstate{
		Evidence: p.Evidence,
		Locks:    append([]address.NodeID{}, p.Locks...),
	}

	clone.Evidence.Portions = append([]access.Portion{}, p.Evidence.Portions...)

	return clone
}

// LockSubstate is a lock of a container shared by a proof and its clones.
type LockSubstate struct {
	Container address.NodeID     `json:"container"`
	Token     resource.LockToken `json:"token"`
	Refs      int                `json:"refs"`
}

// Clone implements substate.Value.
func (l *LockSubstate) Clone() substate.Value {
	clone := *l
	clone.Token.IDs = append([]string{}, l.Token.IDs...)

	return &clone
}

// KeyValueEntry is an entry of a key/value store.
type KeyValueEntry struct {
	Value []byte `json:"value"`
}

// Clone implements substate.Value.
func (e *KeyValueEntry) Clone() substate.Value {
	return &KeyValueEntry{Value: append([]byte{}, e.Value...)}
}

// NonFungibleData is the immutable data of a non-fungible.
type NonFungibleData struct {
	Data []byte `json:"data"`
}

// Clone implements substate.Value.
func (d *NonFungibleData) Clone() substate.Value {
	return &NonFungibleData{Data: append([]byte{}, d.Data...)}
}

// EpochState is the current epoch.
type EpochState struct {
	Epoch uint64 `json:"epoch"`
}

// Clone implements substate.Value.
func (e *EpochState) Clone() substate.Value {
	clone := *e
	return &clone
}

// ClockState is the current time in milliseconds.
type ClockState struct {
	Millis int64 `json:"millis"`
}

// Clone implements substate.Value.
func (c *ClockState) Clone() substate.Value {
	clone := *c
	return &clone
}

// IntentRecord marks a committed transaction until its last valid epoch.
type IntentRecord struct {
	EndEpoch uint64 `json:"endEpoch"`
}

// Clone implements substate.Value.
func (r *IntentRecord) Clone() substate.Value {
	clone := *r
	return &clone
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	clone := make(map[string]string, len(m))
	for k, v := range m {
		clone[k] = v
	}

	return clone
}
