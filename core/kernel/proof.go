package kernel

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// CreateProof implements execution.Api. A bucket must be visible to the
// current frame and a vault must be its receiver.
func (k *Kernel) CreateProof(container address.NodeID, req execution.ProofRequest) (address.NodeID, error) {
	f := k.current()

	switch container.Type() {
	case address.EntityBucket:
		if !f.sees(container) {
			return address.NodeID{}, execution.NewError(execution.KindLockError,
				xerrors.Errorf("%v: %w", container, ErrNotVisible))
		}
	case address.EntityVault:
		if f.actor.Receiver != container {
			return address.NodeID{}, execution.NewError(execution.KindLockError,
				xerrors.Errorf("%v: %w", container, ErrNotVisible))
		}
	default:
		return address.NodeID{}, execution.NewError(execution.KindResourceError,
			xerrors.Errorf("%v is not a container: %w", container, resource.ErrResourceMismatch))
	}

	portion, lock, err := k.lockPortion(container, req)
	if err != nil {
		return address.NodeID{}, execution.Wrap(err)
	}

	c, err := k.readContainer(container)
	if err != nil {
		return address.NodeID{}, k.fail(err)
	}

	evidence := access.Evidence{
		Resource: c.Resource(),
		Kind:     c.Kind(),
		Portions: []access.Portion{portion},
	}

	proof, err := k.newProof(evidence, []address.NodeID{lock})
	if err != nil {
		return address.NodeID{}, execution.Wrap(err)
	}

	return proof, nil
}

// CloneProof implements execution.Api. The clone shares the locks of the
// proof.
func (k *Kernel) CloneProof(proof address.NodeID) (address.NodeID, error) {
	if !k.current().sees(proof) {
		return address.NodeID{}, execution.NewError(execution.KindLockError,
			xerrors.Errorf("%v: %w", proof, ErrNotVisible))
	}

	p, err := k.readProof(proof)
	if err != nil {
		return address.NodeID{}, execution.Wrap(err)
	}

	for _, lock := range p.Locks {
		err = k.updateLock(lock, 1)
		if err != nil {
			return address.NodeID{}, execution.Wrap(err)
		}
	}

	clone, err := k.newProof(p.Evidence, p.Locks)
	if err != nil {
		return address.NodeID{}, execution.Wrap(err)
	}

	return clone, nil
}

// DropProof implements execution.Api.
func (k *Kernel) DropProof(proof address.NodeID) error {
	if !k.current().owns(proof) {
		return execution.NewError(execution.KindLockError,
			xerrors.Errorf("%v is not owned: %w", proof, ErrNotVisible))
	}

	return execution.Wrap(k.dropProof(proof))
}

// PushToAuthZone implements execution.Api.
func (k *Kernel) PushToAuthZone(proof address.NodeID) error {
	f := k.current()

	if proof.Type() != address.EntityProof || !f.owns(proof) {
		return execution.NewError(execution.KindLockError,
			xerrors.Errorf("%v is not owned: %w", proof, ErrNotVisible))
	}

	delete(f.owned, proof)
	f.zone.Push(proof)

	return nil
}

// PopFromAuthZone implements execution.Api.
func (k *Kernel) PopFromAuthZone() (address.NodeID, error) {
	f := k.current()

	proof, err := f.zone.Pop()
	if err != nil {
		return address.NodeID{}, execution.Wrap(err)
	}

	f.owned[proof] = struct{}{}

	return proof, nil
}

// ClearAuthZone implements execution.Api.
func (k *Kernel) ClearAuthZone() error {
	f := k.current()

	for _, proof := range f.zone.Drain() {
		f.owned[proof] = struct{}{}

		err := k.dropProof(proof)
		if err != nil {
			return execution.Wrap(err)
		}
	}

	return nil
}

// CreateProofFromAuthZone implements execution.Api. The proofs of the zone
// that prove the resource are combined, and the requested portion is locked
// again in each container it comes from.
func (k *Kernel) CreateProofFromAuthZone(res address.NodeID, req execution.ProofRequest) (address.NodeID, error) {
	f := k.current()

	available := make(map[address.NodeID]*access.Portion)
	kind := resource.Fungible
	found := false

	for _, id := range f.zone.Proofs() {
		p, err := k.readProof(id)
		if err != nil {
			return address.NodeID{}, k.fail(err)
		}

		if p.Evidence.Resource != res {
			continue
		}

		kind = p.Evidence.Kind
		found = true

		for _, portion := range p.Evidence.Portions {
			if portion.Container.IsZero() {
				continue
			}

			merged, ok := available[portion.Container]
			if !ok {
				merged = &access.Portion{Container: portion.Container, Amount: decimal.Zero}
				available[portion.Container] = merged
			}

			if portion.Amount.GreaterThan(merged.Amount) {
				merged.Amount = portion.Amount
			}

			merged.IDs = resource.NewIDSet(append(merged.IDs, portion.IDs...)...).Sorted()
		}
	}

	if !found {
		return address.NodeID{}, execution.NewError(execution.KindAuthorizationError,
			xerrors.Errorf("no proof of %v in the zone: %w", res, access.ErrUnauthorized))
	}

	plan, err := planComposition(kind, available, req)
	if err != nil {
		return address.NodeID{}, execution.Wrap(err)
	}

	evidence := access.Evidence{Resource: res, Kind: kind}
	locks := make([]address.NodeID, 0, len(plan))

	for _, step := range plan {
		portion, lock, err := k.lockPortion(step.container, step.req)
		if err != nil {
			return address.NodeID{}, execution.Wrap(err)
		}

		evidence.Portions = append(evidence.Portions, portion)
		locks = append(locks, lock)
	}

	proof, err := k.newProof(evidence, locks)
	if err != nil {
		return address.NodeID{}, execution.Wrap(err)
	}

	return proof, nil
}

type compositionStep struct {
	container address.NodeID
	req       execution.ProofRequest
}

// planComposition splits the request over the containers, in the order of
// their addresses.
func planComposition(kind resource.Kind, available map[address.NodeID]*access.Portion,
	req execution.ProofRequest) ([]compositionStep, error) {

	containers := make([]address.NodeID, 0, len(available))
	for id := range available {
		containers = append(containers, id)
	}

	sort.Slice(containers, func(i, j int) bool { return containers[i].Less(containers[j]) })

	plan := []compositionStep{}

	switch req.By {
	case execution.ProofAll:
		for _, id := range containers {
			portion := available[id]

			step := compositionStep{container: id}
			if kind == resource.NonFungible {
				step.req = execution.ProofRequest{By: execution.ProofByIDs, IDs: resource.NewIDSet(portion.IDs...)}
			} else {
				step.req = execution.ProofRequest{By: execution.ProofByAmount, Amount: portion.Amount}
			}

			plan = append(plan, step)
		}
	case execution.ProofByAmount:
		remaining := req.Amount

		for _, id := range containers {
			if !remaining.IsPositive() {
				break
			}

			portion := available[id]
			step := compositionStep{container: id}

			if kind == resource.NonFungible {
				ids := portion.IDs
				n := int(decimal.Min(remaining, decimal.NewFromInt(int64(len(ids)))).IntPart())
				step.req = execution.ProofRequest{By: execution.ProofByIDs, IDs: resource.NewIDSet(ids[:n]...)}
				remaining = remaining.Sub(decimal.NewFromInt(int64(n)))
			} else {
				amount := decimal.Min(remaining, portion.Amount)
				step.req = execution.ProofRequest{By: execution.ProofByAmount, Amount: amount}
				remaining = remaining.Sub(amount)
			}

			plan = append(plan, step)
		}

		if remaining.IsPositive() {
			return nil, xerrors.Errorf("zone proves %v less than requested: %w",
				remaining, resource.ErrInsufficientBalance)
		}
	case execution.ProofByIDs:
		missing := req.IDs.Clone()

		for _, id := range containers {
			ids := resource.NewIDSet()
			for _, nf := range available[id].IDs {
				if missing.Has(nf) {
					ids.Add(nf)
					missing.Remove(nf)
				}
			}

			if ids.Len() > 0 {
				plan = append(plan, compositionStep{
					container: id,
					req:       execution.ProofRequest{By: execution.ProofByIDs, IDs: ids},
				})
			}
		}

		if missing.Len() > 0 {
			return nil, xerrors.Errorf("zone does not prove %v: %w",
				missing.Sorted(), resource.ErrNonFungibleNotFound)
		}
	}

	return plan, nil
}

// lockPortion locks the portion of the container and creates the lock node.
func (k *Kernel) lockPortion(container address.NodeID, req execution.ProofRequest) (access.Portion, address.NodeID, error) {
	var token resource.LockToken

	err := k.updateContainer(container, func(c *resource.Container) error {
		var err error

		switch req.By {
		case execution.ProofByAmount:
			token, err = c.LockByAmount(req.Amount)
		case execution.ProofByIDs:
			token, err = c.LockByIDs(req.IDs)
		default:
			token, err = c.LockAll()
		}

		return err
	})
	if err != nil {
		return access.Portion{}, address.NodeID{}, err
	}

	lock := address.Derive(address.EntityLock, k.hash, k.nextID)
	k.nextID++

	value := &model.LockSubstate{Container: container, Token: token, Refs: 1}

	err = k.store.Create(address.NewSubstateID(lock, address.OffsetLock), value)
	if err != nil {
		return access.Portion{}, address.NodeID{}, err
	}

	portion := access.Portion{
		Container: container,
		Amount:    token.Amount,
		IDs:       token.IDs,
	}

	return portion, lock, nil
}

func (k *Kernel) newProof(evidence access.Evidence, locks []address.NodeID) (address.NodeID, error) {
	proof := address.Derive(address.EntityProof, k.hash, k.nextID)
	k.nextID++

	value := &model.ProofSubstate{Evidence: evidence, Locks: locks}

	err := k.store.Create(address.NewSubstateID(proof, address.OffsetProof), value)
	if err != nil {
		return address.NodeID{}, err
	}

	k.current().owned[proof] = struct{}{}

	return proof, nil
}

// dropProof drops the proof and releases the locks that are not shared with
// another proof anymore.
func (k *Kernel) dropProof(proof address.NodeID) error {
	p, err := k.readProof(proof)
	if err != nil {
		return err
	}

	for _, lock := range p.Locks {
		err = k.updateLock(lock, -1)
		if err != nil {
			return err
		}
	}

	err = k.store.Drop(address.NewSubstateID(proof, address.OffsetProof))
	if err != nil {
		return err
	}

	for _, f := range k.frames {
		delete(f.owned, proof)
	}

	return nil
}

// updateLock changes the number of proofs that share the lock. The container
// is unlocked when the last one is dropped.
func (k *Kernel) updateLock(lock address.NodeID, delta int) error {
	id := address.NewSubstateID(lock, address.OffsetLock)

	h, err := k.store.Lock(id, substate.LockWrite)
	if err != nil {
		return err
	}

	value, err := k.store.Get(h)
	if err != nil {
		k.store.Unlock(h)
		return err
	}

	record, ok := value.(*model.LockSubstate)
	if !ok {
		k.store.Unlock(h)
		return xerrors.Errorf("invalid lock '%T'", value)
	}

	record.Refs += delta

	if record.Refs > 0 {
		err = k.store.Write(h, record)
		k.store.Unlock(h)

		return err
	}

	k.store.Unlock(h)

	err = k.updateContainer(record.Container, func(c *resource.Container) error {
		return c.Unlock(record.Token)
	})
	if err != nil {
		return err
	}

	return k.store.Drop(id)
}

func (k *Kernel) readProof(proof address.NodeID) (*model.ProofSubstate, error) {
	value, err := k.store.Read(address.NewSubstateID(proof, address.OffsetProof))
	if err != nil {
		return nil, err
	}

	p, ok := value.(*model.ProofSubstate)
	if !ok {
		return nil, xerrors.Errorf("invalid proof '%T'", value)
	}

	return p, nil
}
