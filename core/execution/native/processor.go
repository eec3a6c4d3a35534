package native

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gammazero/deque"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/txn"
	"golang.org/x/xerrors"
)

// RunFunction is the function of the processor that executes the
// instructions of a transaction.
const RunFunction = "run"

// NewProcessorPackage returns the package of the transaction processor.
func NewProcessorPackage() Package {
	return Package{
		ProcessorBlueprint: Blueprint{
			RunFunction: fn(runProcessor, execution.KindBytes),
		},
	}
}

// NewRunInvocation returns the invocation that executes the instructions.
func NewRunInvocation(instructions []txn.Instruction) (execution.Invocation, error) {
	data, err := json.Marshal(instructions)
	if err != nil {
		return execution.Invocation{}, xerrors.Errorf("failed to marshal instructions: %v", err)
	}

	inv := execution.NewFunctionCall(address.ProcessorPackage, ProcessorBlueprint,
		RunFunction, execution.Bytes(data))

	return inv, nil
}

// processor executes the instructions of a transaction. It keeps the buckets
// returned by the calls in the worktop until they are taken out and bound to
// a name. An instruction can expand into follow-up steps that run before the
// next instruction of the transaction.
type processor struct {
	api     execution.Api
	queue   deque.Deque
	worktop map[address.NodeID]address.NodeID
	buckets map[string]address.NodeID
	proofs  map[string]address.NodeID
	// generated is the number of bindings created by expanded steps.
	generated int
}

// step is an instruction in the queue with the index of the instruction of
// the transaction it comes from.
type step struct {
	index int
	instr txn.Instruction
}

func runProcessor(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	data, _ := args[0].AsBytes()

	var instructions []txn.Instruction

	err := json.Unmarshal(data, &instructions)
	if err != nil {
		return nil, xerrors.Errorf("invalid instructions: %v: %w", err, execution.ErrArgumentMismatch)
	}

	p := &processor{
		api:     api,
		worktop: make(map[address.NodeID]address.NodeID),
		buckets: make(map[string]address.NodeID),
		proofs:  make(map[string]address.NodeID),
	}

	for index, instr := range instructions {
		p.queue.PushBack(step{index: index, instr: instr})
	}

	for p.queue.Len() > 0 {
		next := p.queue.PopFront().(step)

		err = p.execute(next)
		if err == nil {
			continue
		}

		if !next.instr.AllowFailure || execution.IsFatal(err) {
			return nil, xerrors.Errorf("instruction %d (%s): %w", next.index, next.instr.Op, err)
		}

		api.Log("warn", fmt.Sprintf("instruction %d (%s) failed: %v", next.index, next.instr.Op, err))
	}

	err = p.checkWorktop()
	if err != nil {
		return nil, err
	}

	return none()
}

func (p *processor) execute(next step) error {
	instr := next.instr

	switch instr.Op {
	case txn.OpCallFunction:
		return p.call(execution.NewFunctionCall(instr.Package, instr.Blueprint, instr.Fn), instr.Args)
	case txn.OpCallMethod:
		return p.call(execution.NewMethodCall(instr.Receiver, instr.Fn), instr.Args)
	case txn.OpTakeFromWorktop:
		if instr.Amount == nil {
			return xerrors.Errorf("missing amount: %w", execution.ErrArgumentMismatch)
		}

		return p.take(instr.Resource, instr.Name, "take", execution.Decimal(*instr.Amount))
	case txn.OpTakeAllFromWorktop:
		return p.takeAll(instr.Resource, instr.Name)
	case txn.OpTakeIDsFromWorktop:
		return p.take(instr.Resource, instr.Name, "take_ids", execution.IDs(instr.IDs...))
	case txn.OpReturnToWorktop:
		bucket, err := p.lookup(p.buckets, instr.Bucket)
		if err != nil {
			return err
		}

		err = p.deposit(bucket)
		if err != nil {
			return err
		}

		delete(p.buckets, instr.Bucket)

		return nil
	case txn.OpAssertWorktopContains:
		return p.assertContains(instr)
	case txn.OpPushToAuthZone:
		proof, err := p.lookup(p.proofs, instr.Proof)
		if err != nil {
			return err
		}

		err = p.api.PushToAuthZone(proof)
		if err != nil {
			return err
		}

		delete(p.proofs, instr.Proof)

		return nil
	case txn.OpPopFromAuthZone:
		return p.bindWith(p.proofs, instr.Name, p.api.PopFromAuthZone)
	case txn.OpCreateProofFromAuthZone:
		return p.bindWith(p.proofs, instr.Name, func() (address.NodeID, error) {
			return p.api.CreateProofFromAuthZone(instr.Resource, proofRequest(instr))
		})
	case txn.OpCreateProofFromBucket:
		bucket, err := p.lookup(p.buckets, instr.Bucket)
		if err != nil {
			return err
		}

		return p.bindWith(p.proofs, instr.Name, func() (address.NodeID, error) {
			return p.api.CreateProof(bucket, execution.ProofRequest{By: execution.ProofAll})
		})
	case txn.OpCloneProof:
		proof, err := p.lookup(p.proofs, instr.Proof)
		if err != nil {
			return err
		}

		return p.bindWith(p.proofs, instr.Name, func() (address.NodeID, error) {
			return p.api.CloneProof(proof)
		})
	case txn.OpDropProof:
		proof, err := p.lookup(p.proofs, instr.Proof)
		if err != nil {
			return err
		}

		err = p.api.DropProof(proof)
		if err != nil {
			return err
		}

		delete(p.proofs, instr.Proof)

		return nil
	case txn.OpDropAllProofs:
		return p.dropAll()
	case txn.OpBurnResource:
		return p.burn(instr.Bucket)
	case txn.OpPublishPackage:
		schemas, err := json.Marshal(instr.Schemas)
		if err != nil {
			return xerrors.Errorf("failed to marshal schemas: %v", err)
		}

		inv := execution.NewFunctionCall(address.PackagePackage, PackageBlueprint, "publish",
			execution.Bytes(instr.Code), execution.Bytes(schemas))

		return p.call(inv, nil)
	case txn.OpCallMethodWithAllResources:
		p.expandAllResources(next)
		return nil
	default:
		return xerrors.Errorf("unknown instruction '%s': %w", instr.Op, execution.ErrArgumentMismatch)
	}
}

// call resolves the named buckets and proofs of the arguments and invokes the
// target. The bindings are consumed only if the call succeeds.
func (p *processor) call(inv execution.Invocation, args []execution.Value) error {
	consumed := map[string]map[string]address.NodeID{}

	inv.Args = make([]execution.Value, len(args))

	for i, arg := range args {
		inv.Args[i] = arg

		if arg.Binding() == "" {
			continue
		}

		bindings := p.buckets
		if arg.Kind() == execution.KindProof {
			bindings = p.proofs
		}

		node, err := p.lookup(bindings, arg.Binding())
		if err != nil {
			return err
		}

		if consumed[string(arg.Kind())] == nil {
			consumed[string(arg.Kind())] = map[string]address.NodeID{}
		}

		consumed[string(arg.Kind())][arg.Binding()] = node
		inv.Args[i] = arg.Resolve(node)
	}

	out, err := p.api.Invoke(inv)
	if err != nil {
		return err
	}

	for name := range consumed[string(execution.KindBucket)] {
		delete(p.buckets, name)
	}

	for name := range consumed[string(execution.KindProof)] {
		delete(p.proofs, name)
	}

	for _, value := range out {
		switch value.Kind() {
		case execution.KindBucket:
			err = p.deposit(value.Node())
		case execution.KindProof:
			err = p.api.PushToAuthZone(value.Node())
		}

		if err != nil {
			return err
		}
	}

	return nil
}

// expandAllResources queues, in front of the remaining instructions, a take
// and a call for every resource of the worktop in the order of the addresses.
func (p *processor) expandAllResources(next step) {
	resources := make([]address.NodeID, 0, len(p.worktop))
	for res := range p.worktop {
		resources = append(resources, res)
	}

	sort.Slice(resources, func(i, j int) bool { return resources[i].Less(resources[j]) })

	for i := len(resources) - 1; i >= 0; i-- {
		p.generated++
		name := fmt.Sprintf("#worktop/%d", p.generated)

		take := txn.TakeAllFromWorktop(resources[i], name)
		take.AllowFailure = next.instr.AllowFailure

		call := txn.CallMethod(next.instr.Receiver, next.instr.Fn, execution.NamedBucket(name))
		call.AllowFailure = next.instr.AllowFailure

		p.queue.PushFront(step{index: next.index, instr: call})
		p.queue.PushFront(step{index: next.index, instr: take})
	}
}

// deposit puts the bucket in the worktop, merging it with the bucket of the
// same resource if any.
func (p *processor) deposit(bucket address.NodeID) error {
	content, err := readBucket(p.api, bucket)
	if err != nil {
		return err
	}

	res := content.Resource()

	existing, found := p.worktop[res]
	if !found {
		p.worktop[res] = bucket
		return nil
	}

	_, err = p.api.Invoke(execution.NewMethodCall(existing, "put", execution.Bucket(bucket)))

	return err
}

func (p *processor) take(res address.NodeID, name, fn string, arg execution.Value) error {
	err := p.checkName(p.buckets, name)
	if err != nil {
		return err
	}

	existing, found := p.worktop[res]
	if !found {
		return xerrors.Errorf("no %v in the worktop: %w", res, resource.ErrInsufficientBalance)
	}

	out, err := p.api.Invoke(execution.NewMethodCall(existing, fn, arg))
	if err != nil {
		return err
	}

	p.buckets[name] = out[0].Node()

	return nil
}

func (p *processor) takeAll(res address.NodeID, name string) error {
	err := p.checkName(p.buckets, name)
	if err != nil {
		return err
	}

	existing, found := p.worktop[res]
	if found {
		delete(p.worktop, res)
		p.buckets[name] = existing

		return nil
	}

	out, err := p.api.Invoke(execution.NewMethodCall(res, "create_bucket"))
	if err != nil {
		return err
	}

	p.buckets[name] = out[0].Node()

	return nil
}

func (p *processor) assertContains(instr txn.Instruction) error {
	existing, found := p.worktop[instr.Resource]
	if !found {
		return xerrors.Errorf("no %v in the worktop: %w", instr.Resource, execution.ErrApplication)
	}

	content, err := readBucket(p.api, existing)
	if err != nil {
		return err
	}

	if instr.Amount != nil && content.TotalAmount().LessThan(*instr.Amount) {
		return xerrors.Errorf("worktop holds %v of %v, expected %v: %w",
			content.TotalAmount(), instr.Resource, *instr.Amount, execution.ErrApplication)
	}

	ids := content.TotalIDs()
	for _, id := range instr.IDs {
		if !ids.Has(id) {
			return xerrors.Errorf("worktop misses '%s': %w", id, execution.ErrApplication)
		}
	}

	return nil
}

func (p *processor) burn(name string) error {
	bucket, err := p.lookup(p.buckets, name)
	if err != nil {
		return err
	}

	content, err := readBucket(p.api, bucket)
	if err != nil {
		return err
	}

	_, err = p.api.Invoke(execution.NewMethodCall(content.Resource(), "burn", execution.Bucket(bucket)))
	if err != nil {
		return err
	}

	delete(p.buckets, name)

	return nil
}

func (p *processor) dropAll() error {
	names := make([]string, 0, len(p.proofs))
	for name := range p.proofs {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		err := p.api.DropProof(p.proofs[name])
		if err != nil {
			return err
		}

		delete(p.proofs, name)
	}

	return p.api.ClearAuthZone()
}

// checkWorktop fails if a resource is left in the worktop.
func (p *processor) checkWorktop() error {
	for res, bucket := range p.worktop {
		content, err := readBucket(p.api, bucket)
		if err != nil {
			return err
		}

		if !content.IsEmpty() {
			return xerrors.Errorf("worktop holds %v of %v: %w",
				content.TotalAmount(), res, execution.ErrResourceLeak)
		}
	}

	return nil
}

func (p *processor) lookup(bindings map[string]address.NodeID, name string) (address.NodeID, error) {
	node, found := bindings[name]
	if !found {
		return address.NodeID{}, xerrors.Errorf("unknown binding '%s': %w", name, execution.ErrArgumentMismatch)
	}

	return node, nil
}

func (p *processor) checkName(bindings map[string]address.NodeID, name string) error {
	if name == "" {
		return xerrors.Errorf("missing binding name: %w", execution.ErrArgumentMismatch)
	}

	if _, found := bindings[name]; found {
		return xerrors.Errorf("binding '%s' already exists: %w", name, execution.ErrArgumentMismatch)
	}

	return nil
}

func (p *processor) bindWith(bindings map[string]address.NodeID, name string,
	fn func() (address.NodeID, error)) error {

	err := p.checkName(bindings, name)
	if err != nil {
		return err
	}

	node, err := fn()
	if err != nil {
		return err
	}

	bindings[name] = node

	return nil
}

func proofRequest(instr txn.Instruction) execution.ProofRequest {
	switch {
	case len(instr.IDs) > 0:
		return execution.ProofRequest{By: execution.ProofByIDs, IDs: resource.NewIDSet(instr.IDs...)}
	case instr.Amount != nil:
		return execution.ProofRequest{By: execution.ProofByAmount, Amount: *instr.Amount}
	default:
		return execution.ProofRequest{By: execution.ProofAll}
	}
}
