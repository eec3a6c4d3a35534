package native

import (
	"encoding/json"

	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

func fn(handler Handler, inputs ...execution.Kind) Function {
	return Function{
		Schema:  execution.FnSchema{Inputs: inputs},
		Handler: handler,
	}
}

func method(handler Handler, inputs ...execution.Kind) Function {
	return Function{
		Schema:  execution.FnSchema{Receiver: true, Inputs: inputs},
		Handler: handler,
	}
}

func none() ([]execution.Value, error) {
	return []execution.Value{}, nil
}

func single(v execution.Value) ([]execution.Value, error) {
	return []execution.Value{v}, nil
}

// read returns the value of the substate.
func read(api execution.Api, id address.SubstateID) (substate.Value, error) {
	h, err := api.LockSubstate(id, substate.LockRead)
	if err != nil {
		return nil, err
	}

	value, err := api.ReadSubstate(h)
	if err != nil {
		api.UnlockSubstate(h)
		return nil, err
	}

	return value, api.UnlockSubstate(h)
}

// update applies the function to the value of the substate and writes it
// back.
func update(api execution.Api, id address.SubstateID, fn func(substate.Value) error) error {
	h, err := api.LockSubstate(id, substate.LockWrite)
	if err != nil {
		return err
	}

	value, err := api.ReadSubstate(h)
	if err != nil {
		api.UnlockSubstate(h)
		return err
	}

	err = fn(value)
	if err != nil {
		api.UnlockSubstate(h)
		return err
	}

	err = api.WriteSubstate(h, value)
	if err != nil {
		api.UnlockSubstate(h)
		return err
	}

	return api.UnlockSubstate(h)
}

func readManager(api execution.Api, res address.NodeID) (*model.ResourceManager, error) {
	if res.Type() != address.EntityResourceManager {
		return nil, xerrors.Errorf("%v is not a resource: %w", res, execution.ErrArgumentMismatch)
	}

	value, err := read(api, address.NewSubstateID(res, address.OffsetManager))
	if err != nil {
		return nil, err
	}

	manager, ok := value.(*model.ResourceManager)
	if !ok {
		return nil, xerrors.Errorf("invalid resource manager '%T'", value)
	}

	return manager, nil
}

// readBucket returns the container of a bucket visible to the frame.
func readBucket(api execution.Api, bucket address.NodeID) (*resource.Container, error) {
	value, err := read(api, address.NewSubstateID(bucket, address.OffsetBucket))
	if err != nil {
		return nil, err
	}

	b, ok := value.(*model.BucketSubstate)
	if !ok {
		return nil, xerrors.Errorf("invalid bucket '%T'", value)
	}

	return b.Container, nil
}

// emptyBucket moves the content of the bucket out and drops it.
func emptyBucket(api execution.Api, bucket address.NodeID) (*resource.Container, error) {
	var content *resource.Container

	err := update(api, address.NewSubstateID(bucket, address.OffsetBucket), func(v substate.Value) error {
		b, ok := v.(*model.BucketSubstate)
		if !ok {
			return xerrors.Errorf("invalid bucket '%T'", v)
		}

		if b.Container.IsLocked() {
			return xerrors.Errorf("%v: %w", bucket, resource.ErrResourceLocked)
		}

		content = b.Container.TakeAll()

		return nil
	})
	if err != nil {
		return nil, err
	}

	err = api.DropNode(bucket)
	if err != nil {
		return nil, err
	}

	return content, nil
}

// newBucket creates a bucket owned by the current frame.
func newBucket(api execution.Api, content *resource.Container) (address.NodeID, error) {
	return api.CreateNode(address.EntityBucket, map[address.Offset]substate.Value{
		address.OffsetBucket: &model.BucketSubstate{Container: content},
	})
}

// NewVault creates an empty vault of the resource owned by the component of
// the current frame.
func NewVault(api execution.Api, res address.NodeID) (address.NodeID, error) {
	manager, err := readManager(api, res)
	if err != nil {
		return address.NodeID{}, err
	}

	owner := api.Actor().Component
	if owner.IsZero() {
		return address.NodeID{}, xerrors.Errorf("vault without a component: %w", execution.ErrApplication)
	}

	return api.CreateNode(address.EntityVault, map[address.Offset]substate.Value{
		address.OffsetVault: &model.VaultSubstate{
			Container: resource.NewEmpty(res, manager.Kind, manager.Divisibility),
			Owner:     owner,
		},
	})
}

func decodeRule(data []byte, def access.Rule) (access.Rule, error) {
	if len(data) == 0 {
		return def, nil
	}

	var rule access.Rule

	err := json.Unmarshal(data, &rule)
	if err != nil {
		return access.Rule{}, xerrors.Errorf("invalid rule: %v: %w", err, execution.ErrArgumentMismatch)
	}

	return rule, nil
}
