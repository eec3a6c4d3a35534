package model

import (
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/serde"
	"golang.org/x/xerrors"
)

type envelope struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

var registry = map[string]func() substate.Value{
	"package":         func() substate.Value { return &PackageInfo{} },
	"componentInfo":   func() substate.Value { return &ComponentInfo{} },
	"componentState":  func() substate.Value { return &ComponentState{} },
	"componentAccess": func() substate.Value { return &ComponentAccess{} },
	"storeInfo":       func() substate.Value { return &StoreInfo{} },
	"resourceManager": func() substate.Value { return &ResourceManager{} },
	"vault":           func() substate.Value { return &VaultSubstate{} },
	"bucket":          func() substate.Value { return &BucketSubstate{} },
	"proof":           func() substate.Value { return &ProofSubstate{} },
	"lock":            func() substate.Value { return &LockSubstate{} },
	"entry":           func() substate.Value { return &KeyValueEntry{} },
	"nonFungible":     func() substate.Value { return &NonFungibleData{} },
	"epoch":           func() substate.Value { return &EpochState{} },
	"clock":           func() substate.Value { return &ClockState{} },
	"intent":          func() substate.Value { return &IntentRecord{} },
}

// TypeOf returns the name of the type of the value.
func TypeOf(value substate.Value) (string, error) {
	switch value.(type) {
	case *PackageInfo:
		return "package", nil
	case *ComponentInfo:
		return "componentInfo", nil
	case *ComponentState:
		return "componentState", nil
	case *ComponentAccess:
		return "componentAccess", nil
	case *StoreInfo:
		return "storeInfo", nil
	case *ResourceManager:
		return "resourceManager", nil
	case *VaultSubstate:
		return "vault", nil
	case *BucketSubstate:
		return "bucket", nil
	case *ProofSubstate:
		return "proof", nil
	case *LockSubstate:
		return "lock", nil
	case *KeyValueEntry:
		return "entry", nil
	case *NonFungibleData:
		return "nonFungible", nil
	case *EpochState:
		return "epoch", nil
	case *ClockState:
		return "clock", nil
	case *IntentRecord:
		return "intent", nil
	default:
		return "", xerrors.Errorf("unsupported value '%T'", value)
	}
}

// Codec encodes the substate values with their type so that they can be
// decoded without knowing the offset they come from.
//
// - implements substate.Codec
type Codec struct {
	ctx serde.Context
}

// NewCodec returns a codec using the serialization context.
func NewCodec(ctx serde.Context) Codec {
	return Codec{ctx: ctx}
}

// Encode implements substate.Codec.
func (c Codec) Encode(value substate.Value) ([]byte, error) {
	name, err := TypeOf(value)
	if err != nil {
		return nil, err
	}

	data, err := c.ctx.Marshal(value)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal %s: %v", name, err)
	}

	env, err := c.ctx.Marshal(envelope{Type: name, Data: data})
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal envelope: %v", err)
	}

	return env, nil
}

// Decode implements substate.Codec.
func (c Codec) Decode(data []byte) (substate.Value, error) {
	var env envelope

	err := c.ctx.Unmarshal(data, &env)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal envelope: %v", err)
	}

	factory, found := registry[env.Type]
	if !found {
		return nil, xerrors.Errorf("unknown type '%s'", env.Type)
	}

	value := factory()

	err = c.ctx.Unmarshal(env.Data, value)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal %s: %v", env.Type, err)
	}

	return value, nil
}
