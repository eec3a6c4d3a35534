// Package execution defines the boundary between the kernel and the code it
// runs: the invocations, the values they carry, the interface that handlers
// use to call back into the kernel and the engine that runs bytecode.
package execution

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
)

// TargetKind is the kind of an invocation target.
type TargetKind uint8

const (
	// TargetFunction is a function of a blueprint.
	TargetFunction TargetKind = iota
	// TargetMethod is a method of a node.
	TargetMethod
)

// Target is what an invocation calls. A function is addressed by its package
// and blueprint while a method is addressed by its receiver.
type Target struct {
	Kind      TargetKind     `json:"kind"`
	Package   address.NodeID `json:"package,omitempty"`
	Blueprint string         `json:"blueprint,omitempty"`
	Receiver  address.NodeID `json:"receiver,omitempty"`
}

// Invocation is the descriptor of a call.
type Invocation struct {
	Target Target  `json:"target"`
	Fn     string  `json:"fn"`
	Args   []Value `json:"args"`
}

// NewFunctionCall returns the invocation of a blueprint function.
func NewFunctionCall(pkg address.NodeID, blueprint, fn string, args ...Value) Invocation {
	return Invocation{
		Target: Target{Kind: TargetFunction, Package: pkg, Blueprint: blueprint},
		Fn:     fn,
		Args:   args,
	}
}

// NewMethodCall returns the invocation of a method of the receiver.
func NewMethodCall(receiver address.NodeID, fn string, args ...Value) Invocation {
	return Invocation{
		Target: Target{Kind: TargetMethod, Receiver: receiver},
		Fn:     fn,
		Args:   args,
	}
}

// String implements fmt.Stringer.
func (inv Invocation) String() string {
	if inv.Target.Kind == TargetMethod {
		return fmt.Sprintf("%v::%s", inv.Target.Receiver, inv.Fn)
	}

	return fmt.Sprintf("%v::%s::%s", inv.Target.Package, inv.Target.Blueprint, inv.Fn)
}

// Actor is the code running in a call frame.
type Actor struct {
	Package   address.NodeID
	Blueprint string
	Fn        string
	// Receiver is the node of a method call, zero for a function.
	Receiver address.NodeID
	// Component is the global component that owns the receiver, if any.
	Component address.NodeID
}

// ProofBy tells what portion of a container a proof locks.
type ProofBy uint8

const (
	// ProofAll locks the whole container.
	ProofAll ProofBy = iota
	// ProofByAmount locks an amount.
	ProofByAmount
	// ProofByIDs locks identifiers.
	ProofByIDs
)

// ProofRequest describes the portion to lock for a proof.
type ProofRequest struct {
	By     ProofBy
	Amount decimal.Decimal
	IDs    resource.IDSet
}

// Api is what the kernel offers to the handlers running in a call frame.
type Api interface {
	// Invoke calls the target in a child frame and returns its outputs.
	Invoke(inv Invocation) ([]Value, error)

	// Actor returns the code running in the current frame.
	Actor() Actor

	// Depth returns the depth of the current frame.
	Depth() int

	// TransactionHash returns the hash of the running transaction.
	TransactionHash() []byte

	// LockSubstate locks the substate for the current frame.
	LockSubstate(id address.SubstateID, mode substate.LockMode) (substate.Handle, error)

	// ReadSubstate returns the value of a locked substate.
	ReadSubstate(h substate.Handle) (substate.Value, error)

	// WriteSubstate replaces the value of a substate locked in write mode.
	WriteSubstate(h substate.Handle, value substate.Value) error

	// UnlockSubstate releases the lock.
	UnlockSubstate(h substate.Handle) error

	// SubstateExists returns true if the substate exists and is visible.
	SubstateExists(id address.SubstateID) (bool, error)

	// CreateSubstate adds a substate to an existing node, like an entry of a
	// key/value store. It fails with an application error if the substate
	// already exists.
	CreateSubstate(id address.SubstateID, value substate.Value) error

	// CreateNode allocates a new node of the type with the substates. A
	// transient node is owned by the current frame.
	CreateNode(t address.EntityType, substates map[address.Offset]substate.Value) (address.NodeID, error)

	// CreateNodeAt creates a node at a well-known address.
	CreateNodeAt(id address.NodeID, substates map[address.Offset]substate.Value) error

	// DropNode destroys a transient node owned by the current frame.
	DropNode(id address.NodeID) error

	// CreateProof locks a portion of a vault or a bucket and returns the
	// proof, which is owned by the current frame.
	CreateProof(container address.NodeID, req ProofRequest) (address.NodeID, error)

	// CloneProof returns a new proof sharing the lock of the other.
	CloneProof(proof address.NodeID) (address.NodeID, error)

	// DropProof drops the proof and releases its lock if it was the last one.
	DropProof(proof address.NodeID) error

	// PushToAuthZone moves the proof into the zone of the current frame.
	PushToAuthZone(proof address.NodeID) error

	// PopFromAuthZone moves the proof on top of the zone back to the frame.
	PopFromAuthZone() (address.NodeID, error)

	// CreateProofFromAuthZone composes a proof of the resource from the
	// proofs of the zone of the current frame.
	CreateProofFromAuthZone(res address.NodeID, req ProofRequest) (address.NodeID, error)

	// ClearAuthZone drops every proof of the zone of the current frame.
	ClearAuthZone() error

	// CheckAuthorization checks the rule against the proofs of every frame.
	CheckAuthorization(rule access.Rule) error

	// LockFee moves the tokens into the custody of the kernel to pay for the
	// transaction. The remainder is refunded to the vault.
	LockFee(vault address.NodeID, tokens *resource.Container) error

	// ConsumeCost consumes cost units from the fee reserve.
	ConsumeCost(units uint64, reason string) error

	// Log appends a message to the logs of the transaction.
	Log(level string, message string)
}

// Host is the interface offered to a bytecode program to call back into the
// kernel. The payloads are encoded by the engine.
type Host interface {
	// Call executes a host request and returns the encoded response.
	Call(payload []byte) ([]byte, error)

	// Consume consumes cost units for the execution of the program.
	Consume(units uint64) error
}

// Engine runs bytecode in a sandbox.
type Engine interface {
	// Run calls the export of the code with the input and returns the output.
	Run(code []byte, export string, input []byte, host Host) ([]byte, error)
}
