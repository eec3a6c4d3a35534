package txn

import (
	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
)

// Op is the operation of an instruction.
type Op string

// Operations of the instructions.
const (
	OpCallFunction            Op = "CALL_FUNCTION"
	OpCallMethod              Op = "CALL_METHOD"
	OpTakeFromWorktop         Op = "TAKE_FROM_WORKTOP"
	OpTakeAllFromWorktop      Op = "TAKE_ALL_FROM_WORKTOP"
	OpTakeIDsFromWorktop      Op = "TAKE_IDS_FROM_WORKTOP"
	OpReturnToWorktop         Op = "RETURN_TO_WORKTOP"
	OpAssertWorktopContains   Op = "ASSERT_WORKTOP_CONTAINS"
	OpPushToAuthZone          Op = "PUSH_TO_AUTH_ZONE"
	OpPopFromAuthZone         Op = "POP_FROM_AUTH_ZONE"
	OpCreateProofFromAuthZone Op = "CREATE_PROOF_FROM_AUTH_ZONE"
	OpCreateProofFromBucket   Op = "CREATE_PROOF_FROM_BUCKET"
	OpCloneProof              Op = "CLONE_PROOF"
	OpDropProof               Op = "DROP_PROOF"
	OpDropAllProofs           Op = "DROP_ALL_PROOFS"
	OpBurnResource            Op = "BURN_RESOURCE"
	OpPublishPackage          Op = "PUBLISH_PACKAGE"

	// OpCallMethodWithAllResources takes every resource of the worktop and
	// passes each bucket to the method in its own call.
	OpCallMethodWithAllResources Op = "CALL_METHOD_WITH_ALL_RESOURCES"
)

// Instruction is one step of a transaction. The fields that are used depend
// on the operation.
type Instruction struct {
	Op Op `json:"op"`
	// AllowFailure lets the transaction continue when the instruction fails
	// with an error that is not fatal. The effects of the instruction are
	// undone.
	AllowFailure bool `json:"allowFailure,omitempty"`

	Package   address.NodeID    `json:"package,omitempty"`
	Blueprint string            `json:"blueprint,omitempty"`
	Receiver  address.NodeID    `json:"receiver,omitempty"`
	Fn        string            `json:"fn,omitempty"`
	Args      []execution.Value `json:"args,omitempty"`

	Resource address.NodeID   `json:"resource,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	IDs      []string         `json:"ids,omitempty"`

	// Bucket and Proof are the names of the bindings the instruction
	// consumes, and Name is the binding it creates.
	Bucket string `json:"bucket,omitempty"`
	Proof  string `json:"proof,omitempty"`
	Name   string `json:"name,omitempty"`

	Code    []byte                               `json:"code,omitempty"`
	Schemas map[string]execution.BlueprintSchema `json:"schemas,omitempty"`
}

// CallFunction returns the instruction that calls a blueprint function.
func CallFunction(pkg address.NodeID, blueprint, fn string, args ...execution.Value) Instruction {
	return Instruction{Op: OpCallFunction, Package: pkg, Blueprint: blueprint, Fn: fn, Args: args}
}

// CallMethod returns the instruction that calls a method of the receiver.
func CallMethod(receiver address.NodeID, fn string, args ...execution.Value) Instruction {
	return Instruction{Op: OpCallMethod, Receiver: receiver, Fn: fn, Args: args}
}

// CallMethodWithAllResources returns the instruction that empties the
// worktop into the method of the receiver, usually "deposit".
func CallMethodWithAllResources(receiver address.NodeID, fn string) Instruction {
	return Instruction{Op: OpCallMethodWithAllResources, Receiver: receiver, Fn: fn}
}

// TakeFromWorktop returns the instruction that binds an amount of the
// resource of the worktop to the name.
func TakeFromWorktop(res address.NodeID, amount decimal.Decimal, name string) Instruction {
	return Instruction{Op: OpTakeFromWorktop, Resource: res, Amount: &amount, Name: name}
}

// TakeAllFromWorktop returns the instruction that binds everything of the
// resource of the worktop to the name.
func TakeAllFromWorktop(res address.NodeID, name string) Instruction {
	return Instruction{Op: OpTakeAllFromWorktop, Resource: res, Name: name}
}

// TakeIDsFromWorktop returns the instruction that binds the non-fungibles of
// the worktop to the name.
func TakeIDsFromWorktop(res address.NodeID, ids []string, name string) Instruction {
	return Instruction{Op: OpTakeIDsFromWorktop, Resource: res, IDs: ids, Name: name}
}

// ReturnToWorktop returns the instruction that puts the bucket back.
func ReturnToWorktop(bucket string) Instruction {
	return Instruction{Op: OpReturnToWorktop, Bucket: bucket}
}

// AssertWorktopContains returns the instruction that fails if the worktop
// holds less than the amount of the resource.
func AssertWorktopContains(res address.NodeID, amount decimal.Decimal) Instruction {
	return Instruction{Op: OpAssertWorktopContains, Resource: res, Amount: &amount}
}

// PushToAuthZone returns the instruction that moves the proof to the zone.
func PushToAuthZone(proof string) Instruction {
	return Instruction{Op: OpPushToAuthZone, Proof: proof}
}

// PopFromAuthZone returns the instruction that binds the top of the zone.
func PopFromAuthZone(name string) Instruction {
	return Instruction{Op: OpPopFromAuthZone, Name: name}
}

// CreateProofFromAuthZone returns the instruction that composes a proof of
// the resource. The amount and the identifiers are optional.
func CreateProofFromAuthZone(res address.NodeID, amount *decimal.Decimal, ids []string, name string) Instruction {
	return Instruction{Op: OpCreateProofFromAuthZone, Resource: res, Amount: amount, IDs: ids, Name: name}
}

// CreateProofFromBucket returns the instruction that creates a proof of the
// whole bucket.
func CreateProofFromBucket(bucket, name string) Instruction {
	return Instruction{Op: OpCreateProofFromBucket, Bucket: bucket, Name: name}
}

// CloneProof returns the instruction that clones the proof.
func CloneProof(proof, name string) Instruction {
	return Instruction{Op: OpCloneProof, Proof: proof, Name: name}
}

// DropProof returns the instruction that drops the proof.
func DropProof(proof string) Instruction {
	return Instruction{Op: OpDropProof, Proof: proof}
}

// DropAllProofs returns the instruction that drops the named proofs and the
// proofs of the zone.
func DropAllProofs() Instruction {
	return Instruction{Op: OpDropAllProofs}
}

// BurnResource returns the instruction that burns the bucket.
func BurnResource(bucket string) Instruction {
	return Instruction{Op: OpBurnResource, Bucket: bucket}
}

// PublishPackage returns the instruction that publishes bytecode.
func PublishPackage(code []byte, schemas map[string]execution.BlueprintSchema) Instruction {
	return Instruction{Op: OpPublishPackage, Code: code, Schemas: schemas}
}

// Tolerant returns the instruction marked to allow failure.
func (i Instruction) Tolerant() Instruction {
	i.AllowFailure = true
	return i
}
