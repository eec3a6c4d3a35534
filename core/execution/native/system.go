package native

import (
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// NewSystemPackage returns the package of the epoch manager and the clock.
// Only a system transaction can move them forward.
func NewSystemPackage() Package {
	return Package{
		EpochManagerBlueprint: Blueprint{
			"get_epoch": method(getEpoch),
			"set_epoch": method(setEpoch, execution.KindU64),
		},
		ClockBlueprint: Blueprint{
			"get_time": method(getTime),
			"set_time": method(setTime, execution.KindU64),
		},
	}
}

func getEpoch(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	value, err := read(api, address.NewSubstateID(api.Actor().Receiver, address.OffsetEpoch))
	if err != nil {
		return nil, err
	}

	state, ok := value.(*model.EpochState)
	if !ok {
		return nil, xerrors.Errorf("invalid epoch '%T'", value)
	}

	return single(execution.U64(state.Epoch))
}

func setEpoch(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	epoch, _ := args[0].AsU64()

	err := api.CheckAuthorization(access.Require(address.SystemBadge))
	if err != nil {
		return nil, err
	}

	id := address.NewSubstateID(api.Actor().Receiver, address.OffsetEpoch)

	err = update(api, id, func(v substate.Value) error {
		state, ok := v.(*model.EpochState)
		if !ok {
			return xerrors.Errorf("invalid epoch '%T'", v)
		}

		if epoch <= state.Epoch {
			return xerrors.Errorf("epoch %d is not after %d: %w", epoch, state.Epoch, execution.ErrApplication)
		}

		state.Epoch = epoch

		return nil
	})
	if err != nil {
		return nil, err
	}

	return none()
}

func getTime(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	value, err := read(api, address.NewSubstateID(api.Actor().Receiver, address.OffsetClock))
	if err != nil {
		return nil, err
	}

	state, ok := value.(*model.ClockState)
	if !ok {
		return nil, xerrors.Errorf("invalid clock '%T'", value)
	}

	return single(execution.U64(uint64(state.Millis)))
}

func setTime(api execution.Api, args []execution.Value) ([]execution.Value, error) {
	millis, _ := args[0].AsU64()

	err := api.CheckAuthorization(access.Require(address.SystemBadge))
	if err != nil {
		return nil, err
	}

	id := address.NewSubstateID(api.Actor().Receiver, address.OffsetClock)

	err = update(api, id, func(v substate.Value) error {
		state, ok := v.(*model.ClockState)
		if !ok {
			return xerrors.Errorf("invalid clock '%T'", v)
		}

		if int64(millis) < state.Millis {
			return xerrors.Errorf("time %d is before %d: %w", millis, state.Millis, execution.ErrApplication)
		}

		state.Millis = int64(millis)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return none()
}
