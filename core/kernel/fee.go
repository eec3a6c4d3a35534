package kernel

import (
	"math"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/resource"
	"golang.org/x/xerrors"
)

// payment is the tokens locked from a vault to pay for the transaction.
type payment struct {
	vault  address.NodeID
	tokens *resource.Container
}

// settle pays the consumed units to the fee collector out of the tokens in
// custody, starting with the last locked, and refunds the rest to the vaults
// they come from.
func (k *Kernel) settle() error {
	if len(k.custody) == 0 {
		return nil
	}

	summary := k.reserve.Summary()

	k.settling = true
	defer func() { k.settling = false }()

	owed := k.config.CostUnitPrice.Mul(decimalFromUint(summary.Consumed))
	collected := resource.NewEmpty(address.NativeToken, resource.Fungible, k.custody[0].tokens.Divisibility())

	for i := len(k.custody) - 1; i >= 0; i-- {
		p := k.custody[i]

		if owed.IsPositive() {
			amount := owed
			if p.tokens.LiquidAmount().LessThan(amount) {
				amount = p.tokens.LiquidAmount()
			}

			taken, err := p.tokens.TakeByAmount(amount)
			if err != nil {
				return xerrors.Errorf("failed to take fee: %v", err)
			}

			err = collected.Put(taken)
			if err != nil {
				return xerrors.Errorf("failed to collect fee: %v", err)
			}

			owed = owed.Sub(amount)
		}

		if p.tokens.IsEmpty() {
			continue
		}

		err := k.updateContainer(p.vault, func(c *resource.Container) error {
			return c.Put(p.tokens)
		})
		if err != nil {
			return xerrors.Errorf("failed to refund %v: %v", p.vault, err)
		}
	}

	k.custody = nil

	if owed.IsPositive() {
		return xerrors.Errorf("fee short by %v", owed)
	}

	if collected.IsEmpty() {
		return nil
	}

	rexec.Logger.Debug().
		Str("component", "kernel").
		Stringer("amount", collected.TotalAmount()).
		Msg("fee collected")

	err := k.updateContainer(address.FeeCollector, func(c *resource.Container) error {
		return c.Put(collected)
	})
	if err != nil {
		return xerrors.Errorf("failed to pay the collector: %v", err)
	}

	return nil
}

// costUnits returns the number of units the amount pays at the price. It
// saturates at the largest number of units.
func costUnits(amount, price decimal.Decimal) uint64 {
	units := amount.Div(price).Floor().BigInt()

	if units.Sign() < 0 {
		return 0
	}

	if !units.IsUint64() {
		return math.MaxUint64
	}

	return units.Uint64()
}
