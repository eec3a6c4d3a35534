package kernel

import (
	"sort"

	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// ErrNotVisible is returned when a frame accesses a node it cannot see.
var ErrNotVisible = xerrors.New("node not visible")

// Actor implements execution.Api. It returns the actor of the current frame.
func (k *Kernel) Actor() execution.Actor {
	return k.current().actor
}

// Depth implements execution.Api. It returns the depth of the current frame.
func (k *Kernel) Depth() int {
	return k.current().depth
}

// TransactionHash implements execution.Api.
func (k *Kernel) TransactionHash() []byte {
	return append([]byte{}, k.hash...)
}

// LockSubstate implements execution.Api. It locks the substate if the current
// frame can see it in the mode.
func (k *Kernel) LockSubstate(id address.SubstateID, mode substate.LockMode) (substate.Handle, error) {
	err := k.checkVisible(id.Node, mode)
	if err != nil {
		return 0, err
	}

	err = k.consume(k.config.Costs.Lock, fee.ReasonLock)
	if err != nil {
		return 0, err
	}

	h, err := k.store.Lock(id, mode)
	if err != nil {
		return 0, k.storeErr(err)
	}

	return h, nil
}

// ReadSubstate implements execution.Api.
func (k *Kernel) ReadSubstate(h substate.Handle) (substate.Value, error) {
	err := k.consume(k.config.Costs.Read, fee.ReasonRead)
	if err != nil {
		return nil, err
	}

	value, err := k.store.Get(h)
	if err != nil {
		return nil, execution.Wrap(err)
	}

	return value, nil
}

// WriteSubstate implements execution.Api.
func (k *Kernel) WriteSubstate(h substate.Handle, value substate.Value) error {
	err := k.consume(k.config.Costs.Write, fee.ReasonWrite)
	if err != nil {
		return err
	}

	err = k.store.Write(h, value)
	if err != nil {
		return execution.Wrap(err)
	}

	return nil
}

// UnlockSubstate implements execution.Api.
func (k *Kernel) UnlockSubstate(h substate.Handle) error {
	return execution.Wrap(k.store.Unlock(h))
}

// SubstateExists implements execution.Api.
func (k *Kernel) SubstateExists(id address.SubstateID) (bool, error) {
	err := k.checkVisible(id.Node, substate.LockRead)
	if err != nil {
		return false, err
	}

	found, err := k.store.Exists(id)
	if err != nil {
		return false, k.fail(execution.NewError(execution.KindStoreError, err))
	}

	return found, nil
}

// CreateSubstate implements execution.Api.
func (k *Kernel) CreateSubstate(id address.SubstateID, value substate.Value) error {
	err := k.checkVisible(id.Node, substate.LockWrite)
	if err != nil {
		return err
	}

	err = k.consume(k.config.Costs.Create, fee.ReasonCreate)
	if err != nil {
		return err
	}

	err = k.store.Create(id, value)
	if err != nil {
		return k.storeErr(err)
	}

	return nil
}

// CreateNode implements execution.Api. The address is derived from the hash of
// the transaction and a counter.
func (k *Kernel) CreateNode(t address.EntityType, substates map[address.Offset]substate.Value) (address.NodeID, error) {
	id := address.Derive(t, k.hash, k.nextID)
	k.nextID++

	err := k.CreateNodeAt(id, substates)
	if err != nil {
		return address.NodeID{}, err
	}

	return id, nil
}

// CreateNodeAt implements execution.Api.
func (k *Kernel) CreateNodeAt(id address.NodeID, substates map[address.Offset]substate.Value) error {
	if id.Type() == address.EntityLock {
		return xerrors.Errorf("cannot create %v: %w", id, ErrNotVisible)
	}

	switch id.Type() {
	case address.EntityKeyValueStore, address.EntityNonFungibleStore:
		substates = k.withOwner(substates)
	}

	offsets := make([]address.Offset, 0, len(substates))
	for offset := range substates {
		offsets = append(offsets, offset)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	for _, offset := range offsets {
		err := k.consume(k.config.Costs.Create, fee.ReasonCreate)
		if err != nil {
			return err
		}

		err = k.store.Create(address.NewSubstateID(id, offset), substates[offset])
		if err != nil {
			return k.storeErr(err)
		}
	}

	if id.Type().IsTransient() {
		k.current().owned[id] = struct{}{}
	} else if id.Type().IsGlobal() {
		k.created = append(k.created, id)
	}

	return nil
}

// DropNode implements execution.Api. Only an empty bucket or a proof owned by
// the current frame can be dropped.
func (k *Kernel) DropNode(id address.NodeID) error {
	if !k.current().owns(id) {
		return execution.NewError(execution.KindLockError,
			xerrors.Errorf("%v is not owned: %w", id, ErrNotVisible))
	}

	if id.Type() == address.EntityProof {
		return execution.Wrap(k.dropProof(id))
	}

	err := k.dropNode(id)
	if err != nil {
		return execution.Wrap(err)
	}

	return nil
}

// CheckAuthorization implements execution.Api. The rule is checked against
// the virtual proofs and the proofs of the zones of every frame of the stack.
func (k *Kernel) CheckAuthorization(rule access.Rule) error {
	if k.config.DisableAuth {
		return nil
	}

	union := access.NewUnion(k.virtual...)

	for _, f := range k.frames {
		for _, proof := range f.zone.Proofs() {
			p, err := k.readProof(proof)
			if err != nil {
				return k.fail(err)
			}

			union.Add(p.Evidence)
		}
	}

	err := rule.Check(union)
	if err != nil {
		return execution.NewError(execution.KindAuthorizationError, err)
	}

	return nil
}

// ConsumeCost implements execution.Api.
func (k *Kernel) ConsumeCost(units uint64, reason string) error {
	return k.consume(units, reason)
}

// Log implements execution.Api.
func (k *Kernel) Log(level string, message string) {
	depth := k.current().depth

	k.logs = append(k.logs, LogEntry{Level: level, Message: message, Depth: depth})

	rexec.Logger.Debug().
		Str("component", "kernel").
		Int("depth", depth).
		Str("level", level).
		Msg(message)
}

// LockFee implements execution.Api. Only the frame of the vault can lock its
// tokens. Every frame of the stack is then marked so that a failure of one of
// them aborts the transaction.
func (k *Kernel) LockFee(vault address.NodeID, tokens *resource.Container) error {
	if k.current().actor.Receiver != vault {
		return execution.NewError(execution.KindAuthorizationError,
			xerrors.Errorf("fee locked outside of %v: %w", vault, access.ErrUnauthorized))
	}

	if tokens.Resource() != address.NativeToken {
		return execution.NewError(execution.KindResourceError,
			xerrors.Errorf("fee paid in %v: %w", tokens.Resource(), resource.ErrResourceMismatch))
	}

	if !k.config.CostUnitPrice.IsPositive() {
		return execution.NewError(execution.KindFeeError, xerrors.New("cost unit price must be positive"))
	}

	err := k.reserve.Reserve(costUnits(tokens.TotalAmount(), k.config.CostUnitPrice))
	if err != nil {
		return k.fail(execution.NewError(execution.KindFeeError, err))
	}

	k.custody = append(k.custody, payment{vault: vault, tokens: tokens})

	for _, f := range k.frames {
		f.feeLocked = true
	}

	rexec.Logger.Debug().
		Str("component", "kernel").
		Stringer("vault", vault).
		Stringer("amount", tokens.TotalAmount()).
		Msg("fee locked")

	return nil
}

// checkVisible returns an error if the current frame cannot access the node
// in the mode.
func (k *Kernel) checkVisible(node address.NodeID, mode substate.LockMode) error {
	f := k.current()
	write := mode == substate.LockWrite

	visible := false

	switch node.Type() {
	case address.EntityBucket, address.EntityProof:
		visible = f.sees(node)
	case address.EntityVault:
		visible = f.actor.Receiver == node
	case address.EntityComponent:
		visible = !write || f.actor.Component == node
	case address.EntityResourceManager, address.EntityEpochManager, address.EntityClock:
		visible = !write || f.actor.Receiver == node
	case address.EntityPackage:
		visible = !write
	case address.EntityKeyValueStore, address.EntityNonFungibleStore:
		visible = !write || k.ownsStore(f, node)
	}

	if !visible {
		return execution.NewError(execution.KindLockError,
			xerrors.Errorf("%s access to %v from %v: %w", mode, node, f.actor.Blueprint, ErrNotVisible))
	}

	return nil
}

// withOwner returns the substates of a new store with its owner set to the
// current frame.
func (k *Kernel) withOwner(substates map[address.Offset]substate.Value) map[address.Offset]substate.Value {
	actor := k.current().actor

	res := make(map[address.Offset]substate.Value, len(substates)+1)
	for offset, value := range substates {
		res[offset] = value
	}

	res[address.OffsetInfo] = &model.StoreInfo{
		Package:   actor.Package,
		Blueprint: actor.Blueprint,
		Component: actor.Component,
	}

	return res
}

// ownsStore returns true when the frame runs for the owner of the store.
func (k *Kernel) ownsStore(f *frame, store address.NodeID) bool {
	value, err := k.store.Read(address.NewSubstateID(store, address.OffsetInfo))
	if err != nil {
		return false
	}

	info, ok := value.(*model.StoreInfo)
	if !ok {
		return false
	}

	if !info.Component.IsZero() {
		return f.actor.Component == info.Component
	}

	return f.actor.Package == info.Package && f.actor.Blueprint == info.Blueprint
}

// storeErr converts the error of the store of a frame request. A missing or
// duplicate substate is a failure of the request, not of the store.
func (k *Kernel) storeErr(err error) error {
	if xerrors.Is(err, substate.ErrNotFound) {
		return execution.NewError(execution.KindDispatchError,
			xerrors.Errorf("%v: %w", err, execution.ErrUnknownTarget))
	}

	if xerrors.Is(err, substate.ErrAlreadyExists) {
		return execution.NewError(execution.KindApplicationError, err)
	}

	return k.fail(err)
}

// dropNode removes every substate of a transient node.
func (k *Kernel) dropNode(id address.NodeID) error {
	offset, err := transientOffset(id)
	if err != nil {
		return err
	}

	if id.Type() == address.EntityBucket {
		container, err := k.readContainer(id)
		if err != nil {
			return err
		}

		if container.IsLocked() {
			return xerrors.Errorf("cannot drop %v: %w", id, resource.ErrResourceLocked)
		}
	}

	err = k.consume(k.config.Costs.Drop, fee.ReasonDrop)
	if err != nil {
		return err
	}

	err = k.store.Drop(address.NewSubstateID(id, offset))
	if err != nil {
		return err
	}

	for _, f := range k.frames {
		delete(f.owned, id)
	}

	return nil
}

func transientOffset(id address.NodeID) (address.Offset, error) {
	switch id.Type() {
	case address.EntityBucket:
		return address.OffsetBucket, nil
	case address.EntityProof:
		return address.OffsetProof, nil
	case address.EntityLock:
		return address.OffsetLock, nil
	default:
		return "", xerrors.Errorf("%v is not transient", id)
	}
}

// readContainer returns the container of a vault or a bucket.
func (k *Kernel) readContainer(id address.NodeID) (*resource.Container, error) {
	switch id.Type() {
	case address.EntityVault:
		vault, err := k.readVault(id)
		if err != nil {
			return nil, err
		}

		return vault.Container, nil
	case address.EntityBucket:
		value, err := k.store.Read(address.NewSubstateID(id, address.OffsetBucket))
		if err != nil {
			return nil, err
		}

		bucket, ok := value.(*model.BucketSubstate)
		if !ok {
			return nil, xerrors.Errorf("invalid bucket '%T'", value)
		}

		return bucket.Container, nil
	default:
		return nil, xerrors.Errorf("%v is not a container: %w", id, resource.ErrResourceMismatch)
	}
}

// updateContainer applies the function to the container of a vault or a
// bucket under a write lock.
func (k *Kernel) updateContainer(id address.NodeID, fn func(*resource.Container) error) error {
	offset := address.OffsetBucket
	if id.Type() == address.EntityVault {
		offset = address.OffsetVault
	}

	err := k.consume(k.config.Costs.Lock+k.config.Costs.Write, fee.ReasonWrite)
	if err != nil {
		return err
	}

	h, err := k.store.Lock(address.NewSubstateID(id, offset), substate.LockWrite)
	if err != nil {
		return err
	}

	defer k.store.Unlock(h)

	value, err := k.store.Get(h)
	if err != nil {
		return err
	}

	var container *resource.Container

	switch v := value.(type) {
	case *model.VaultSubstate:
		container = v.Container
	case *model.BucketSubstate:
		container = v.Container
	default:
		return xerrors.Errorf("%v is not a container: %w", id, resource.ErrResourceMismatch)
	}

	err = fn(container)
	if err != nil {
		return err
	}

	return k.store.Write(h, value)
}
