package kernel

import (
	"sort"

	"github.com/opentracing/opentracing-go"
	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/fee"
	"golang.org/x/xerrors"
)

type frameState uint8

const (
	frameCreated frameState = iota
	frameExecuting
	frameCommitting
	frameAborting
	frameExited
)

func (s frameState) String() string {
	switch s {
	case frameCreated:
		return "created"
	case frameExecuting:
		return "executing"
	case frameCommitting:
		return "committing"
	case frameAborting:
		return "aborting"
	default:
		return "exited"
	}
}

// frame is an activation of an invocation. It owns the transient nodes it
// received or created and its own auth zone.
type frame struct {
	depth     int
	actor     execution.Actor
	state     frameState
	zone      access.Zone
	owned     map[address.NodeID]struct{}
	borrowed  map[address.NodeID]struct{}
	span      opentracing.Span
	feeLocked bool
	// created is the number of global nodes created before the frame.
	created int
}

func newFrame(depth int, actor execution.Actor, span opentracing.Span) *frame {
	return &frame{
		depth:    depth,
		actor:    actor,
		owned:    make(map[address.NodeID]struct{}),
		borrowed: make(map[address.NodeID]struct{}),
		span:     span,
	}
}

func (f *frame) owns(id address.NodeID) bool {
	_, found := f.owned[id]
	return found
}

func (f *frame) sees(id address.NodeID) bool {
	_, found := f.borrowed[id]
	return found || f.owns(id)
}

// nodes returns the owned nodes of the type in a deterministic order.
func (f *frame) nodes(t address.EntityType) []address.NodeID {
	nodes := make([]address.NodeID, 0, len(f.owned))
	for id := range f.owned {
		if id.Type() == t {
			nodes = append(nodes, id)
		}
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Less(nodes[j]) })

	return nodes
}

// Invoke implements execution.Api. It resolves the target, checks the
// arguments and the authorization, and runs the handler in a child frame. The
// buckets and the proofs of the arguments move to the child, and the ones of
// the outputs move back to the caller.
func (k *Kernel) Invoke(inv execution.Invocation) ([]execution.Value, error) {
	if k.fatal != nil {
		return nil, k.fatal
	}

	caller := k.current()
	if caller.state != frameExecuting {
		return nil, xerrors.Errorf("invalid frame state '%v'", caller.state)
	}

	if caller.depth+1 > k.config.MaxDepth {
		return nil, k.fail(execution.NewError(execution.KindDepthError,
			xerrors.Errorf("depth %d: %w", caller.depth+1, execution.ErrMaxDepth)))
	}

	err := k.consume(k.config.Costs.InvokeCost(argsSize(inv.Args)), fee.ReasonInvoke)
	if err != nil {
		return nil, err
	}

	exe, err := k.resolve(caller, inv)
	if err != nil {
		return nil, k.fail(err)
	}

	err = exe.schema.Check(inv.Args)
	if err != nil {
		return nil, k.fail(err)
	}

	moved, err := k.checkArguments(caller, inv)
	if err != nil {
		return nil, k.fail(err)
	}

	if exe.rule != nil {
		err = k.CheckAuthorization(*exe.rule)
		if err != nil {
			return nil, k.fail(err)
		}
	}

	span := k.config.Tracer.StartSpan(inv.String(), opentracing.ChildOf(caller.span.Context()))
	span.SetTag("depth", caller.depth+1)

	child := newFrame(caller.depth+1, exe.actor, span)
	child.created = len(k.created)

	for _, id := range moved {
		delete(caller.owned, id)
		child.owned[id] = struct{}{}
	}

	if inv.Target.Kind == execution.TargetMethod && inv.Target.Receiver.Type().IsTransient() {
		child.borrowed[inv.Target.Receiver] = struct{}{}
	}

	k.frames = append(k.frames, child)
	k.store.EnterFrame()

	if child.depth > k.maxDepth {
		k.maxDepth = child.depth
	}

	rexec.Logger.Trace().
		Str("component", "kernel").
		Int("depth", child.depth).
		Stringer("invocation", inv).
		Msg("enter frame")

	child.state = frameExecuting

	out, err := exe.run(k, inv.Args)
	if err == nil && k.fatal != nil {
		err = k.fatal
	}

	if err == nil {
		child.state = frameCommitting
		err = k.dropLeftovers(child, out)
	}

	if err != nil {
		return nil, k.abort(child, caller, moved, err)
	}

	for _, value := range out {
		switch value.Kind() {
		case execution.KindBucket, execution.KindProof:
			caller.owned[value.Node()] = struct{}{}
		}
	}

	child.state = frameExited
	k.frames = k.frames[:len(k.frames)-1]

	err = k.store.ExitFrame(true)
	if err != nil {
		return nil, k.fail(execution.NewError(execution.KindStoreError, err))
	}

	span.Finish()

	return out, nil
}

// abort undoes the writes of the frame and gives the arguments back to the
// caller.
func (k *Kernel) abort(child, caller *frame, moved []address.NodeID, cause error) error {
	child.state = frameAborting

	err := k.fail(cause)

	// The failure of a frame that locked a fee aborts the transaction but
	// keeps the kind of its cause.
	if child.feeLocked && k.fatal == nil {
		k.fatal = err
	}

	k.frames = k.frames[:len(k.frames)-1]

	exitErr := k.store.ExitFrame(false)
	if exitErr != nil {
		err = k.fail(execution.NewError(execution.KindStoreError, exitErr))
	}

	for _, id := range moved {
		caller.owned[id] = struct{}{}
	}

	k.created = k.created[:child.created]
	child.state = frameExited

	child.span.SetTag("error", true)
	child.span.LogKV("error", err.Error())
	child.span.Finish()

	rexec.Logger.Debug().
		Str("component", "kernel").
		Int("depth", child.depth).
		Err(err).
		Msg("frame aborted")

	return err
}

// checkArguments makes sure that the caller owns the buckets and the proofs
// of the arguments and returns them, as well as the receiver if transient.
func (k *Kernel) checkArguments(caller *frame, inv execution.Invocation) ([]address.NodeID, error) {
	moved := []address.NodeID{}
	seen := make(map[address.NodeID]struct{})

	for _, arg := range inv.Args {
		if arg.Kind() != execution.KindBucket && arg.Kind() != execution.KindProof {
			continue
		}

		if arg.Binding() != "" && arg.Node().IsZero() {
			return nil, xerrors.Errorf("unresolved binding '%s': %w",
				arg.Binding(), execution.ErrArgumentMismatch)
		}

		id := arg.Node()

		if _, found := seen[id]; found {
			return nil, xerrors.Errorf("%v is passed twice: %w", id, execution.ErrArgumentMismatch)
		}

		if !caller.owns(id) {
			return nil, xerrors.Errorf("%v is not owned by the caller: %w",
				id, execution.ErrArgumentMismatch)
		}

		if id == inv.Target.Receiver {
			return nil, xerrors.Errorf("%v is both receiver and argument: %w",
				id, execution.ErrArgumentMismatch)
		}

		seen[id] = struct{}{}
		moved = append(moved, id)
	}

	return moved, nil
}

// dropLeftovers drops the proofs and the empty buckets that the frame does
// not return, and fails if a bucket with resources would be lost.
func (k *Kernel) dropLeftovers(f *frame, out []execution.Value) error {
	returned := make(map[address.NodeID]struct{})

	for _, value := range out {
		if value.Kind() != execution.KindBucket && value.Kind() != execution.KindProof {
			continue
		}

		if !f.owns(value.Node()) {
			return xerrors.Errorf("output %v is not owned by the frame: %w",
				value, execution.ErrArgumentMismatch)
		}

		returned[value.Node()] = struct{}{}
	}

	for _, proof := range f.zone.Drain() {
		f.owned[proof] = struct{}{}

		err := k.dropProof(proof)
		if err != nil {
			return err
		}
	}

	for _, proof := range f.nodes(address.EntityProof) {
		if _, found := returned[proof]; found {
			continue
		}

		err := k.dropProof(proof)
		if err != nil {
			return err
		}
	}

	for _, bucket := range f.nodes(address.EntityBucket) {
		if _, found := returned[bucket]; found {
			continue
		}

		container, err := k.readContainer(bucket)
		if err != nil {
			return err
		}

		if !container.IsEmpty() {
			return xerrors.Errorf("%v holds %v: %w", bucket,
				container.TotalAmount(), execution.ErrResourceLeak)
		}

		err = k.dropNode(bucket)
		if err != nil {
			return err
		}
	}

	for id := range returned {
		delete(f.owned, id)
	}

	return nil
}

func argsSize(args []execution.Value) int {
	size := 0
	for _, arg := range args {
		size += len(arg.String())
	}

	return size
}
