// Package address defines the identifiers of the nodes and substates that the
// kernel manipulates.
//
// A node identifier embeds its entity type in its first byte so that the
// dispatcher can route a call by looking at the receiver only. Identifiers of
// nodes created during a transaction are derived from the transaction hash
// and a counter, which keeps the execution deterministic.
package address

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"go.dedis.ch/rexec/crypto"
	"golang.org/x/xerrors"
)

// EntityType is the type of a node.
type EntityType byte

const (
	// EntityUnknown is the zero value of an entity type.
	EntityUnknown EntityType = iota
	// EntityPackage is a deployed package of blueprints.
	EntityPackage
	// EntityComponent is an instantiated blueprint.
	EntityComponent
	// EntityResourceManager is the definition of a resource.
	EntityResourceManager
	// EntityVault is a persistent resource container.
	EntityVault
	// EntityKeyValueStore is a persistent key/value store owned by a
	// component.
	EntityKeyValueStore
	// EntityNonFungibleStore holds the data of the non-fungibles of a
	// resource.
	EntityNonFungibleStore
	// EntityEpochManager is the logical time in epochs.
	EntityEpochManager
	// EntityClock is the logical time in milliseconds.
	EntityClock
	// EntityTracker records the transactions already committed.
	EntityTracker
	// EntityBucket is a transient resource container.
	EntityBucket
	// EntityProof is a transient evidence of a locked resource portion.
	EntityProof
	// EntityLock is the shared lock record of a proof and its clones.
	EntityLock
)

var entityNames = map[EntityType]string{
	EntityPackage:          "package",
	EntityComponent:        "component",
	EntityResourceManager:  "resource",
	EntityVault:            "vault",
	EntityKeyValueStore:    "kvstore",
	EntityNonFungibleStore: "nfstore",
	EntityEpochManager:     "epochmanager",
	EntityClock:            "clock",
	EntityTracker:          "tracker",
	EntityBucket:           "bucket",
	EntityProof:            "proof",
	EntityLock:             "lock",
}

// String implements fmt.Stringer. It returns the name of the entity type.
func (t EntityType) String() string {
	name, found := entityNames[t]
	if !found {
		return fmt.Sprintf("entity(%d)", byte(t))
	}

	return name
}

// IsGlobal returns true if nodes of this type are addressable by anyone.
func (t EntityType) IsGlobal() bool {
	switch t {
	case EntityPackage, EntityComponent, EntityResourceManager,
		EntityEpochManager, EntityClock, EntityTracker:
		return true
	default:
		return false
	}
}

// IsTransient returns true if nodes of this type never outlive a
// transaction.
func (t EntityType) IsTransient() bool {
	switch t {
	case EntityBucket, EntityProof, EntityLock:
		return true
	default:
		return false
	}
}

// IDLength is the number of bytes of a node identifier.
const IDLength = 30

// NodeID is the identifier of a node. The first byte is the entity type.
type NodeID [IDLength]byte

// NewNodeID returns the identifier of the given type using the body as the
// remaining bytes. The body is truncated or padded with zeros.
func NewNodeID(t EntityType, body []byte) NodeID {
	var id NodeID
	id[0] = byte(t)
	copy(id[1:], body)

	return id
}

// Derive returns the identifier of the index-th node of the given type
// created from the seed, usually a transaction hash.
func Derive(t EntityType, seed []byte, index uint32) NodeID {
	buffer := make([]byte, 4)
	binary.BigEndian.PutUint32(buffer, index)

	return NewNodeID(t, crypto.NewHashFactory(crypto.Sha256).Sum(seed, buffer))
}

// System returns the well-known identifier of a system node.
func System(t EntityType, name string) NodeID {
	digest := sha256.Sum256([]byte("rexec/system/" + name))

	return NewNodeID(t, digest[:])
}

// Type returns the entity type of the node.
func (id NodeID) Type() EntityType {
	return EntityType(id[0])
}

// IsZero returns true if the identifier is not set.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Less returns true if the identifier sorts before the other.
func (id NodeID) Less(o NodeID) bool {
	return bytes.Compare(id[:], o[:]) < 0
}

// String implements fmt.Stringer. It returns the textual form of the
// identifier, prefixed by the entity name.
func (id NodeID) String() string {
	return fmt.Sprintf("%s_%x", id.Type(), id[1:])
}

// MarshalText implements encoding.TextMarshaler. The zero identifier is
// an empty text.
func (id NodeID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}

	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = NodeID{}
		return nil
	}

	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// Parse returns the identifier of its textual form.
func Parse(text string) (NodeID, error) {
	sep := strings.LastIndexByte(text, '_')
	if sep < 0 {
		return NodeID{}, xerrors.Errorf("malformed node id '%s'", text)
	}

	var entity EntityType
	for t, name := range entityNames {
		if name == text[:sep] {
			entity = t
		}
	}

	if entity == EntityUnknown {
		return NodeID{}, xerrors.Errorf("unknown entity '%s'", text[:sep])
	}

	body, err := hex.DecodeString(text[sep+1:])
	if err != nil {
		return NodeID{}, xerrors.Errorf("malformed node id '%s': %v", text, err)
	}

	if len(body) != IDLength-1 {
		return NodeID{}, xerrors.Errorf("node id '%s' has %d bytes", text, len(body))
	}

	return NewNodeID(entity, body), nil
}

// Offset locates a substate inside a node.
type Offset string

const (
	// OffsetPackage is the package code and schema.
	OffsetPackage Offset = "package"
	// OffsetInfo is the blueprint information of a component.
	OffsetInfo Offset = "info"
	// OffsetState is the blueprint-defined state of a component.
	OffsetState Offset = "state"
	// OffsetAccess is the method access rules of a component.
	OffsetAccess Offset = "access"
	// OffsetManager is the definition of a resource.
	OffsetManager Offset = "manager"
	// OffsetVault is the container of a vault.
	OffsetVault Offset = "vault"
	// OffsetBucket is the container of a bucket.
	OffsetBucket Offset = "bucket"
	// OffsetProof is the evidence of a proof.
	OffsetProof Offset = "proof"
	// OffsetLock is the lock record of a proof.
	OffsetLock Offset = "lock"
	// OffsetEpoch is the epoch of the epoch manager.
	OffsetEpoch Offset = "epoch"
	// OffsetClock is the time of the clock.
	OffsetClock Offset = "clock"
)

const (
	entryPrefix       = "entry/"
	nonFungiblePrefix = "nf/"
	intentPrefix      = "intent/"
)

// EntryOffset returns the offset of the key in a key/value store.
func EntryOffset(key []byte) Offset {
	return Offset(entryPrefix + hex.EncodeToString(key))
}

// NonFungibleOffset returns the offset of the data of a non-fungible.
func NonFungibleOffset(id string) Offset {
	return Offset(nonFungiblePrefix + id)
}

// IntentOffset returns the offset of the record of a committed transaction.
func IntentOffset(hash []byte) Offset {
	return Offset(intentPrefix + hex.EncodeToString(hash))
}

// SubstateID is the address of a substate.
type SubstateID struct {
	Node   NodeID
	Offset Offset
}

// NewSubstateID returns the address of the substate.
func NewSubstateID(node NodeID, offset Offset) SubstateID {
	return SubstateID{Node: node, Offset: offset}
}

// Key returns the storage key of the substate. Keys of the same node share
// the node identifier as a prefix.
func (id SubstateID) Key() []byte {
	key := make([]byte, 0, IDLength+1+len(id.Offset))
	key = append(key, id.Node[:]...)
	key = append(key, '/')
	key = append(key, id.Offset...)

	return key
}

// String implements fmt.Stringer.
func (id SubstateID) String() string {
	return fmt.Sprintf("%v/%s", id.Node, id.Offset)
}

// ParseKey returns the substate address of a storage key.
func ParseKey(key []byte) (SubstateID, error) {
	if len(key) < IDLength+1 || key[IDLength] != '/' {
		return SubstateID{}, xerrors.Errorf("malformed key %#x", key)
	}

	var node NodeID
	copy(node[:], key[:IDLength])

	return NewSubstateID(node, Offset(key[IDLength+1:])), nil
}
