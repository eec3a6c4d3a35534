// Package fee implements the metering of a transaction.
//
// The kernel consumes cost units for every operation it performs on behalf of
// the transaction. Units must be reserved beforehand, usually by locking
// native tokens from a vault, but a small system loan lets the transaction
// run until it had a chance to lock its fee.
package fee

import (
	"math"
	"sort"

	"golang.org/x/xerrors"
)

var (
	// ErrExhausted is returned when the consumption would go beyond what is
	// reserved or beyond the cost unit limit.
	ErrExhausted = xerrors.New("fee reserve exhausted")
	// ErrLoanNotRepaid is returned when the reservation does not cover the
	// consumption at the end of the transaction.
	ErrLoanNotRepaid = xerrors.New("system loan not repaid")
)

// Reserve is the budget of cost units of a transaction.
type Reserve interface {
	// Reserve adds the units to the reservation.
	Reserve(units uint64) error

	// Consume takes the units out of the reservation, or out of the loan if
	// it is still outstanding. The reason is used for the breakdown.
	Consume(units uint64, reason string) error

	// RepayLoan makes sure that the reservation covers the consumption.
	RepayLoan() error

	// Summary returns the state of the reserve.
	Summary() Summary
}

// Item is the consumption of one reason.
type Item struct {
	Reason string `json:"reason"`
	Units  uint64 `json:"units"`
}

// Summary is the state of a reserve.
type Summary struct {
	Limit      uint64 `json:"limit"`
	Loan       uint64 `json:"loan"`
	Reserved   uint64 `json:"reserved"`
	Consumed   uint64 `json:"consumed"`
	LoanRepaid bool   `json:"loanRepaid"`
	Breakdown  []Item `json:"breakdown"`
}

// SystemLoanReserve is a reserve where the consumption can go beyond the
// reservation by at most the loan, until the reservation covers the
// consumption.
//
// - implements fee.Reserve
type SystemLoanReserve struct {
	limit     uint64
	loan      uint64
	reserved  uint64
	consumed  uint64
	repaid    bool
	breakdown map[string]uint64
}

// NewSystemLoanReserve returns a new reserve with the cost unit limit and the
// system loan.
func NewSystemLoanReserve(limit, loan uint64) *SystemLoanReserve {
	return &SystemLoanReserve{
		limit:     limit,
		loan:      loan,
		repaid:    loan == 0,
		breakdown: make(map[string]uint64),
	}
}

// Reserve implements fee.Reserve. It fails when the reservation would go
// beyond the cost unit limit.
func (r *SystemLoanReserve) Reserve(units uint64) error {
	if units > r.limit-r.reserved {
		return xerrors.Errorf("reserving %d with %d reserved and limit %d: %w",
			units, r.reserved, r.limit, ErrExhausted)
	}

	r.reserved += units

	if !r.repaid && r.reserved >= r.consumed {
		r.repaid = true
	}

	return nil
}

// Consume implements fee.Reserve. The consumption is never undone.
func (r *SystemLoanReserve) Consume(units uint64, reason string) error {
	budget := r.reserved
	if !r.repaid {
		budget += r.loan
		if budget < r.loan {
			budget = math.MaxUint64
		}
	}

	if budget > r.limit {
		budget = r.limit
	}

	if r.consumed > budget || units > budget-r.consumed {
		return xerrors.Errorf("consuming %d for %s with %d/%d: %w",
			units, reason, r.consumed, budget, ErrExhausted)
	}

	r.consumed += units
	r.breakdown[reason] += units

	return nil
}

// RepayLoan implements fee.Reserve. It fails if the reservation does not
// cover the consumption.
func (r *SystemLoanReserve) RepayLoan() error {
	if r.reserved < r.consumed {
		return xerrors.Errorf("reserved %d, consumed %d: %w",
			r.reserved, r.consumed, ErrLoanNotRepaid)
	}

	r.repaid = true

	return nil
}

// Summary implements fee.Reserve.
func (r *SystemLoanReserve) Summary() Summary {
	reasons := make([]string, 0, len(r.breakdown))
	for reason := range r.breakdown {
		reasons = append(reasons, reason)
	}

	sort.Strings(reasons)

	items := make([]Item, len(reasons))
	for i, reason := range reasons {
		items[i] = Item{Reason: reason, Units: r.breakdown[reason]}
	}

	return Summary{
		Limit:      r.limit,
		Loan:       r.loan,
		Reserved:   r.reserved,
		Consumed:   r.consumed,
		LoanRepaid: r.repaid,
		Breakdown:  items,
	}
}
