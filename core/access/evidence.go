package access

import (
	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/resource"
)

// Portion is the part of one container that a proof has locked. A virtual
// portion has no container.
type Portion struct {
	Container address.NodeID  `json:"container,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	IDs       []string        `json:"ids,omitempty"`
}

// Evidence is what a proof shows about a resource.
type Evidence struct {
	Resource address.NodeID `json:"resource"`
	Kind     resource.Kind  `json:"kind"`
	Portions []Portion      `json:"portions"`
}

// Amount returns the amount proven by the evidence alone.
func (e Evidence) Amount() decimal.Decimal {
	return NewUnion(e).Amount(e.Resource)
}

// IDs returns the identifiers proven by the evidence alone.
func (e Evidence) IDs() resource.IDSet {
	return NewUnion(e).IDs(e.Resource)
}

// Union is the combination of the evidence of several proofs. For fungible
// resources, two proofs of the same container overlap so that only the
// largest amount per container counts.
type Union struct {
	amounts map[address.NodeID]map[address.NodeID]decimal.Decimal
	ids     map[address.NodeID]resource.IDSet
}

// NewUnion returns the union of the evidence.
func NewUnion(evidence ...Evidence) Union {
	u := Union{
		amounts: make(map[address.NodeID]map[address.NodeID]decimal.Decimal),
		ids:     make(map[address.NodeID]resource.IDSet),
	}

	for _, e := range evidence {
		u.Add(e)
	}

	return u
}

// Add adds the evidence to the union.
func (u Union) Add(e Evidence) {
	if e.Kind == resource.NonFungible {
		set, found := u.ids[e.Resource]
		if !found {
			set = resource.NewIDSet()
			u.ids[e.Resource] = set
		}

		for _, portion := range e.Portions {
			for _, id := range portion.IDs {
				set.Add(id)
			}
		}

		return
	}

	containers, found := u.amounts[e.Resource]
	if !found {
		containers = make(map[address.NodeID]decimal.Decimal)
		u.amounts[e.Resource] = containers
	}

	for _, portion := range e.Portions {
		if portion.Amount.GreaterThan(containers[portion.Container]) {
			containers[portion.Container] = portion.Amount
		}
	}
}

// Amount returns the proven amount of the resource. For non-fungible
// resources, it is the number of distinct identifiers.
func (u Union) Amount(res address.NodeID) decimal.Decimal {
	set, found := u.ids[res]
	if found {
		return decimal.NewFromInt(int64(set.Len()))
	}

	total := decimal.Zero
	for _, amount := range u.amounts[res] {
		total = total.Add(amount)
	}

	return total
}

// IDs returns the proven identifiers of the resource.
func (u Union) IDs(res address.NodeID) resource.IDSet {
	set, found := u.ids[res]
	if !found {
		return resource.NewIDSet()
	}

	return set.Clone()
}
