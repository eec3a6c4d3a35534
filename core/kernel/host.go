package kernel

import (
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// Operations that a bytecode program can request from the host.
const (
	HostInvoke      = "invoke"
	HostGetState    = "get_state"
	HostSetState    = "set_state"
	HostInstantiate = "instantiate"
	HostLog         = "log"
)

// HostRequest is a request of a bytecode program.
type HostRequest struct {
	Op         string                `json:"op"`
	Invocation *execution.Invocation `json:"invocation,omitempty"`
	Data       []byte                `json:"data,omitempty"`
	Rules      *access.MethodRules   `json:"rules,omitempty"`
	Level      string                `json:"level,omitempty"`
	Message    string                `json:"message,omitempty"`
}

// HostResponse is the answer of the host to a request.
type HostResponse struct {
	Outputs []execution.Value `json:"outputs,omitempty"`
	Data    []byte            `json:"data,omitempty"`
	Address address.NodeID    `json:"address,omitempty"`
}

// host is the bridge between a bytecode program and the frame it runs in.
//
// - implements execution.Host
type host struct {
	kernel *Kernel
}

// Call implements execution.Host. It decodes the request, executes it in the
// current frame and returns the encoded response.
func (h *host) Call(payload []byte) ([]byte, error) {
	k := h.kernel

	var req HostRequest

	err := k.ctx.Unmarshal(payload, &req)
	if err != nil {
		return nil, xerrors.Errorf("malformed host request: %v: %w", err, execution.ErrSandbox)
	}

	var resp HostResponse

	switch req.Op {
	case HostInvoke:
		if req.Invocation == nil {
			return nil, xerrors.Errorf("missing invocation: %w", execution.ErrSandbox)
		}

		resp.Outputs, err = k.Invoke(*req.Invocation)
	case HostGetState:
		resp.Data, err = h.getState()
	case HostSetState:
		err = h.setState(req.Data)
	case HostInstantiate:
		resp.Address, err = h.instantiate(req.Data, req.Rules)
	case HostLog:
		k.Log(req.Level, req.Message)
	default:
		return nil, xerrors.Errorf("unknown host operation '%s': %w", req.Op, execution.ErrSandbox)
	}

	if err != nil {
		return nil, err
	}

	data, err := k.ctx.Marshal(resp)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode response: %v", err)
	}

	return data, nil
}

// Consume implements execution.Host.
func (h *host) Consume(units uint64) error {
	return h.kernel.consume(units, fee.ReasonWasm)
}

func (h *host) getState() ([]byte, error) {
	component := h.kernel.Actor().Component
	if component.IsZero() {
		return nil, xerrors.Errorf("function has no state: %w", execution.ErrApplication)
	}

	handle, err := h.kernel.LockSubstate(address.NewSubstateID(component, address.OffsetState), substate.LockRead)
	if err != nil {
		return nil, err
	}

	defer h.kernel.UnlockSubstate(handle)

	value, err := h.kernel.ReadSubstate(handle)
	if err != nil {
		return nil, err
	}

	state, ok := value.(*model.ComponentState)
	if !ok {
		return nil, xerrors.Errorf("invalid component state '%T'", value)
	}

	return state.Data, nil
}

func (h *host) setState(data []byte) error {
	component := h.kernel.Actor().Component
	if component.IsZero() {
		return xerrors.Errorf("function has no state: %w", execution.ErrApplication)
	}

	handle, err := h.kernel.LockSubstate(address.NewSubstateID(component, address.OffsetState), substate.LockWrite)
	if err != nil {
		return err
	}

	defer h.kernel.UnlockSubstate(handle)

	return h.kernel.WriteSubstate(handle, &model.ComponentState{Data: data})
}

// instantiate creates a component of the blueprint of the current frame.
func (h *host) instantiate(data []byte, rules *access.MethodRules) (address.NodeID, error) {
	actor := h.kernel.Actor()

	if rules == nil {
		allow := access.NewMethodRules(access.AllowAll())
		rules = &allow
	}

	return h.kernel.CreateNode(address.EntityComponent, map[address.Offset]substate.Value{
		address.OffsetInfo:   &model.ComponentInfo{Package: actor.Package, Blueprint: actor.Blueprint},
		address.OffsetState:  &model.ComponentState{Data: data},
		address.OffsetAccess: &model.ComponentAccess{Rules: *rules},
	})
}
