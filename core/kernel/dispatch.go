package kernel

import (
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/execution/native"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// executable is a resolved invocation.
type executable struct {
	actor  execution.Actor
	schema execution.FnSchema
	rule   *access.Rule
	run    native.Handler
}

// resolve finds the code of the invocation and the actor of the new frame.
func (k *Kernel) resolve(caller *frame, inv execution.Invocation) (executable, error) {
	if inv.Target.Kind == execution.TargetFunction {
		return k.resolveFunction(inv)
	}

	recv := inv.Target.Receiver

	switch recv.Type() {
	case address.EntityComponent:
		return k.resolveComponent(inv)
	case address.EntityVault:
		vault, err := k.readVault(recv)
		if err != nil {
			return executable{}, err
		}

		if caller.actor.Component != vault.Owner {
			return executable{}, xerrors.Errorf("%v is owned by %v: %w",
				recv, vault.Owner, access.ErrUnauthorized)
		}

		return k.resolveSystem(address.ResourcePackage, native.VaultBlueprint, inv, vault.Owner)
	case address.EntityBucket, address.EntityProof:
		if !caller.owns(recv) {
			return executable{}, xerrors.Errorf("%v is not visible: %w", recv, execution.ErrUnknownTarget)
		}

		bp := native.BucketBlueprint
		if recv.Type() == address.EntityProof {
			bp = native.ProofBlueprint
		}

		return k.resolveSystem(address.ResourcePackage, bp, inv, caller.actor.Component)
	case address.EntityResourceManager:
		err := k.mustExist(address.NewSubstateID(recv, address.OffsetManager))
		if err != nil {
			return executable{}, err
		}

		return k.resolveSystem(address.ResourcePackage, native.ResourceManagerBlueprint, inv, address.NodeID{})
	case address.EntityEpochManager:
		err := k.mustExist(address.NewSubstateID(recv, address.OffsetEpoch))
		if err != nil {
			return executable{}, err
		}

		return k.resolveSystem(address.SystemPackage, native.EpochManagerBlueprint, inv, address.NodeID{})
	case address.EntityClock:
		err := k.mustExist(address.NewSubstateID(recv, address.OffsetClock))
		if err != nil {
			return executable{}, err
		}

		return k.resolveSystem(address.SystemPackage, native.ClockBlueprint, inv, address.NodeID{})
	default:
		return executable{}, xerrors.Errorf("%v has no methods: %w", recv, execution.ErrUnknownTarget)
	}
}

func (k *Kernel) resolveFunction(inv execution.Invocation) (executable, error) {
	info, err := k.readPackage(inv.Target.Package)
	if err != nil {
		return executable{}, err
	}

	bp, found := info.Blueprints[inv.Target.Blueprint]
	if !found {
		return executable{}, xerrors.Errorf("blueprint '%s': %w",
			inv.Target.Blueprint, execution.ErrUnknownTarget)
	}

	schema, err := bp.Lookup(inv.Fn, false)
	if err != nil {
		return executable{}, err
	}

	actor := execution.Actor{
		Package:   inv.Target.Package,
		Blueprint: inv.Target.Blueprint,
		Fn:        inv.Fn,
	}

	run, err := k.runner(info, inv.Target.Blueprint, inv.Fn, schema)
	if err != nil {
		return executable{}, err
	}

	return executable{actor: actor, schema: schema, run: run}, nil
}

func (k *Kernel) resolveComponent(inv execution.Invocation) (executable, error) {
	recv := inv.Target.Receiver

	id := address.NewSubstateID(recv, address.OffsetInfo)

	err := k.mustExist(id)
	if err != nil {
		return executable{}, err
	}

	value, err := k.store.Read(id)
	if err != nil {
		return executable{}, err
	}

	info, ok := value.(*model.ComponentInfo)
	if !ok {
		return executable{}, xerrors.Errorf("invalid component info '%T'", value)
	}

	pkg, err := k.readPackage(info.Package)
	if err != nil {
		return executable{}, err
	}

	bp, found := pkg.Blueprints[info.Blueprint]
	if !found {
		return executable{}, xerrors.Errorf("blueprint '%s': %w", info.Blueprint, execution.ErrUnknownTarget)
	}

	schema, err := bp.Lookup(inv.Fn, true)
	if err != nil {
		return executable{}, err
	}

	run, err := k.runner(pkg, info.Blueprint, inv.Fn, schema)
	if err != nil {
		return executable{}, err
	}

	exe := executable{
		actor: execution.Actor{
			Package:   info.Package,
			Blueprint: info.Blueprint,
			Fn:        inv.Fn,
			Receiver:  recv,
			Component: recv,
		},
		schema: schema,
		run:    run,
	}

	rulesID := address.NewSubstateID(recv, address.OffsetAccess)

	found, err = k.store.Exists(rulesID)
	if err != nil {
		return executable{}, err
	}

	if found {
		value, err := k.store.Read(rulesID)
		if err != nil {
			return executable{}, err
		}

		rules, ok := value.(*model.ComponentAccess)
		if !ok {
			return executable{}, xerrors.Errorf("invalid component access '%T'", value)
		}

		rule := rules.Rules.Get(inv.Fn)
		exe.rule = &rule
	}

	return exe, nil
}

// resolveSystem resolves the method of a node implemented by a system
// package.
func (k *Kernel) resolveSystem(pkgID address.NodeID, blueprint string,
	inv execution.Invocation, component address.NodeID) (executable, error) {

	info, err := k.readPackage(pkgID)
	if err != nil {
		return executable{}, err
	}

	bp, found := info.Blueprints[blueprint]
	if !found {
		return executable{}, xerrors.Errorf("blueprint '%s': %w", blueprint, execution.ErrUnknownTarget)
	}

	schema, err := bp.Lookup(inv.Fn, true)
	if err != nil {
		return executable{}, err
	}

	run, err := k.runner(info, blueprint, inv.Fn, schema)
	if err != nil {
		return executable{}, err
	}

	actor := execution.Actor{
		Package:   pkgID,
		Blueprint: blueprint,
		Fn:        inv.Fn,
		Receiver:  inv.Target.Receiver,
		Component: component,
	}

	return executable{actor: actor, schema: schema, run: run}, nil
}

// runner returns the handler that runs the function, either from the native
// packages or in the bytecode engine.
func (k *Kernel) runner(info *model.PackageInfo, blueprint, fn string,
	schema execution.FnSchema) (native.Handler, error) {

	switch info.Kind {
	case model.PackageNative:
		def, err := k.natives.Lookup(info.NativeName, blueprint, fn)
		if err != nil {
			return nil, err
		}

		return def.Handler, nil
	case model.PackageWasm:
		if k.engine == nil {
			return nil, xerrors.Errorf("no engine for bytecode: %w", execution.ErrSandbox)
		}

		export := schema.Export
		if export == "" {
			export = fn
		}

		return func(api execution.Api, args []execution.Value) ([]execution.Value, error) {
			return k.runWasm(info.Code, export, args)
		}, nil
	default:
		return nil, xerrors.Errorf("unknown package kind '%s': %w", info.Kind, execution.ErrUnknownTarget)
	}
}

func (k *Kernel) runWasm(code []byte, export string, args []execution.Value) ([]execution.Value, error) {
	err := k.consume(k.config.Costs.WasmCost(len(code)), fee.ReasonWasm)
	if err != nil {
		return nil, err
	}

	input, err := k.ctx.Marshal(args)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode arguments: %v", err)
	}

	output, err := k.engine.Run(code, export, input, &host{kernel: k})
	if err != nil {
		return nil, err
	}

	var out []execution.Value

	err = k.ctx.Unmarshal(output, &out)
	if err != nil {
		return nil, xerrors.Errorf("invalid output: %v: %w", err, execution.ErrSandbox)
	}

	return out, nil
}

func (k *Kernel) mustExist(id address.SubstateID) error {
	found, err := k.store.Exists(id)
	if err != nil {
		return err
	}

	if !found {
		return xerrors.Errorf("%v: %w", id.Node, execution.ErrUnknownTarget)
	}

	return nil
}

func (k *Kernel) readPackage(id address.NodeID) (*model.PackageInfo, error) {
	value, err := k.readTarget(address.NewSubstateID(id, address.OffsetPackage))
	if err != nil {
		return nil, err
	}

	info, ok := value.(*model.PackageInfo)
	if !ok {
		return nil, xerrors.Errorf("invalid package info '%T'", value)
	}

	return info, nil
}

func (k *Kernel) readVault(id address.NodeID) (*model.VaultSubstate, error) {
	value, err := k.readTarget(address.NewSubstateID(id, address.OffsetVault))
	if err != nil {
		return nil, err
	}

	vault, ok := value.(*model.VaultSubstate)
	if !ok {
		return nil, xerrors.Errorf("invalid vault '%T'", value)
	}

	return vault, nil
}

func (k *Kernel) readTarget(id address.SubstateID) (substate.Value, error) {
	err := k.mustExist(id)
	if err != nil {
		return nil, err
	}

	return k.store.Read(id)
}
