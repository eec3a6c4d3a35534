// Package resource implements the containers of fungible and non-fungible
// resources.
//
// A container never creates nor destroys value: every operation moves amounts
// or identifiers between containers, or between the liquid and the locked
// portions of the same container. Locks back the proofs and overlap for
// fungible resources, which means that the locked portion is the largest
// outstanding lock rather than their sum.
package resource

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/address"
	"golang.org/x/xerrors"
)

var (
	// ErrInsufficientBalance is returned when the liquid portion of a
	// container does not cover the request.
	ErrInsufficientBalance = xerrors.New("insufficient balance")
	// ErrInvalidAmount is returned for negative amounts or amounts that do
	// not respect the divisibility of the resource.
	ErrInvalidAmount = xerrors.New("invalid amount")
	// ErrNonFungibleNotFound is returned when an identifier is not in the
	// container.
	ErrNonFungibleNotFound = xerrors.New("non-fungible not found")
	// ErrResourceLocked is returned when an operation needs a portion that is
	// locked.
	ErrResourceLocked = xerrors.New("resource locked")
	// ErrResourceMismatch is returned when two containers of different
	// resources are merged, or when an operation does not apply to the kind
	// of the resource.
	ErrResourceMismatch = xerrors.New("resource mismatch")
)

// Kind is the kind of a resource.
type Kind uint8

const (
	// Fungible resources are amounts of interchangeable units.
	Fungible Kind = iota
	// NonFungible resources are sets of unique identifiers.
	NonFungible
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == NonFungible {
		return "non-fungible"
	}

	return "fungible"
}

// MaxDivisibility is the largest number of decimal places of a fungible
// resource.
const MaxDivisibility = 18

// LockToken describes one lock of a container. It must be handed back to
// release the lock.
type LockToken struct {
	Amount decimal.Decimal `json:"amount"`
	IDs    []string        `json:"ids,omitempty"`
}

// Container holds either an amount of a fungible resource or a set of
// identifiers of a non-fungible resource.
type Container struct {
	resource     address.NodeID
	kind         Kind
	divisibility uint8

	liquid decimal.Decimal
	locked map[string]int

	liquidIDs IDSet
	lockedIDs map[string]int
}

// NewEmpty returns an empty container of the resource.
func NewEmpty(resource address.NodeID, kind Kind, divisibility uint8) *Container {
	return &Container{
		resource:     resource,
		kind:         kind,
		divisibility: divisibility,
		liquid:       decimal.Zero,
		locked:       make(map[string]int),
		liquidIDs:    NewIDSet(),
		lockedIDs:    make(map[string]int),
	}
}

// NewFungible returns a container holding the amount of the fungible
// resource.
func NewFungible(resource address.NodeID, divisibility uint8, amount decimal.Decimal) (*Container, error) {
	c := NewEmpty(resource, Fungible, divisibility)

	err := c.checkAmount(amount)
	if err != nil {
		return nil, err
	}

	c.liquid = amount

	return c, nil
}

// NewNonFungible returns a container holding the identifiers of the
// non-fungible resource.
func NewNonFungible(resource address.NodeID, ids IDSet) *Container {
	c := NewEmpty(resource, NonFungible, 0)
	c.liquidIDs = ids.Clone()

	return c
}

// Resource returns the address of the resource manager.
func (c *Container) Resource() address.NodeID {
	return c.resource
}

// Kind returns the kind of the resource.
func (c *Container) Kind() Kind {
	return c.kind
}

// Divisibility returns the number of decimal places of the resource.
func (c *Container) Divisibility() uint8 {
	return c.divisibility
}

// LiquidAmount returns the amount that can be taken.
func (c *Container) LiquidAmount() decimal.Decimal {
	if c.kind == NonFungible {
		return decimal.NewFromInt(int64(c.liquidIDs.Len()))
	}

	return c.liquid
}

// LockedAmount returns the amount that backs at least one lock.
func (c *Container) LockedAmount() decimal.Decimal {
	if c.kind == NonFungible {
		return decimal.NewFromInt(int64(len(c.lockedIDs)))
	}

	return c.maxLocked()
}

// TotalAmount returns the amount held by the container, locked or not.
func (c *Container) TotalAmount() decimal.Decimal {
	return c.LiquidAmount().Add(c.LockedAmount())
}

// LiquidIDs returns the identifiers that can be taken.
func (c *Container) LiquidIDs() IDSet {
	return c.liquidIDs.Clone()
}

// TotalIDs returns the identifiers held by the container, locked or not.
func (c *Container) TotalIDs() IDSet {
	ids := c.liquidIDs.Clone()
	for id := range c.lockedIDs {
		ids.Add(id)
	}

	return ids
}

// IsLocked returns true if at least one lock is outstanding.
func (c *Container) IsLocked() bool {
	return len(c.locked) > 0 || len(c.lockedIDs) > 0
}

// IsEmpty returns true if the container holds nothing.
func (c *Container) IsEmpty() bool {
	return c.TotalAmount().IsZero()
}

// TakeByAmount moves the amount out of the liquid portion into a new
// container. For non-fungible resources, the smallest identifiers are taken.
func (c *Container) TakeByAmount(amount decimal.Decimal) (*Container, error) {
	err := c.checkAmount(amount)
	if err != nil {
		return nil, err
	}

	if amount.GreaterThan(c.LiquidAmount()) {
		return nil, xerrors.Errorf("requested %v, available %v: %w", amount, c.LiquidAmount(), ErrInsufficientBalance)
	}

	if c.kind == NonFungible {
		ids := c.liquidIDs.Sorted()[:amount.IntPart()]
		return c.TakeByIDs(NewIDSet(ids...))
	}

	c.liquid = c.liquid.Sub(amount)

	out := NewEmpty(c.resource, c.kind, c.divisibility)
	out.liquid = amount

	return out, nil
}

// TakeByIDs moves the identifiers out of the liquid portion into a new
// container.
func (c *Container) TakeByIDs(ids IDSet) (*Container, error) {
	if c.kind != NonFungible {
		return nil, xerrors.Errorf("take by ids on %v resource: %w", c.kind, ErrResourceMismatch)
	}

	for _, id := range ids.Sorted() {
		if c.lockedIDs[id] > 0 {
			return nil, xerrors.Errorf("id '%s': %w", id, ErrResourceLocked)
		}

		if !c.liquidIDs.Has(id) {
			return nil, xerrors.Errorf("id '%s': %w", id, ErrNonFungibleNotFound)
		}
	}

	out := NewEmpty(c.resource, c.kind, c.divisibility)

	for id := range ids {
		c.liquidIDs.Remove(id)
		out.liquidIDs.Add(id)
	}

	return out, nil
}

// TakeAll moves the whole liquid portion into a new container.
func (c *Container) TakeAll() *Container {
	out := NewEmpty(c.resource, c.kind, c.divisibility)

	out.liquid = c.liquid
	out.liquidIDs = c.liquidIDs

	c.liquid = decimal.Zero
	c.liquidIDs = NewIDSet()

	return out
}

// Put merges the other container into this one and leaves the other empty.
// The other container must hold the same resource and have no lock.
func (c *Container) Put(other *Container) error {
	if other.resource != c.resource || other.kind != c.kind {
		return xerrors.Errorf("cannot put %v into %v: %w", other.resource, c.resource, ErrResourceMismatch)
	}

	if other.IsLocked() {
		return xerrors.Errorf("source container: %w", ErrResourceLocked)
	}

	c.liquid = c.liquid.Add(other.liquid)
	for id := range other.liquidIDs {
		c.liquidIDs.Add(id)
	}

	other.liquid = decimal.Zero
	other.liquidIDs = NewIDSet()

	return nil
}

// LockByAmount locks the amount. For fungible resources, the lock overlaps
// with the others so that only the part above the largest outstanding lock
// is taken from the liquid portion. For non-fungible resources, identifiers
// that are already locked are preferred.
func (c *Container) LockByAmount(amount decimal.Decimal) (LockToken, error) {
	err := c.checkAmount(amount)
	if err != nil {
		return LockToken{}, err
	}

	if c.kind == NonFungible {
		return c.lockNonFungiblesByAmount(amount)
	}

	max := c.maxLocked()
	if amount.GreaterThan(max) {
		delta := amount.Sub(max)
		if delta.GreaterThan(c.liquid) {
			return LockToken{}, xerrors.Errorf("cannot lock %v, total %v: %w", amount, c.TotalAmount(), ErrInsufficientBalance)
		}

		c.liquid = c.liquid.Sub(delta)
	}

	c.locked[amount.String()]++

	return LockToken{Amount: amount}, nil
}

// LockByIDs locks the identifiers. An identifier can be locked several
// times.
func (c *Container) LockByIDs(ids IDSet) (LockToken, error) {
	if c.kind != NonFungible {
		return LockToken{}, xerrors.Errorf("lock by ids on %v resource: %w", c.kind, ErrResourceMismatch)
	}

	for id := range ids {
		if !c.liquidIDs.Has(id) && c.lockedIDs[id] == 0 {
			return LockToken{}, xerrors.Errorf("id '%s': %w", id, ErrNonFungibleNotFound)
		}
	}

	sorted := ids.Sorted()
	for _, id := range sorted {
		c.liquidIDs.Remove(id)
		c.lockedIDs[id]++
	}

	return LockToken{
		Amount: decimal.NewFromInt(int64(len(sorted))),
		IDs:    sorted,
	}, nil
}

// LockAll locks everything the container holds.
func (c *Container) LockAll() (LockToken, error) {
	if c.kind == NonFungible {
		return c.LockByIDs(c.TotalIDs())
	}

	return c.LockByAmount(c.TotalAmount())
}

// Unlock releases the lock described by the token.
func (c *Container) Unlock(token LockToken) error {
	if c.kind == NonFungible {
		for _, id := range token.IDs {
			if c.lockedIDs[id] == 0 {
				return xerrors.Errorf("id '%s' is not locked", id)
			}
		}

		for _, id := range token.IDs {
			c.lockedIDs[id]--
			if c.lockedIDs[id] == 0 {
				delete(c.lockedIDs, id)
				c.liquidIDs.Add(id)
			}
		}

		return nil
	}

	key := token.Amount.String()

	count := c.locked[key]
	if count == 0 {
		return xerrors.Errorf("amount %v is not locked", token.Amount)
	}

	before := c.maxLocked()

	if count == 1 {
		delete(c.locked, key)
	} else {
		c.locked[key] = count - 1
	}

	c.liquid = c.liquid.Add(before.Sub(c.maxLocked()))

	return nil
}

// Clone returns a deep copy of the container.
func (c *Container) Clone() *Container {
	clone := NewEmpty(c.resource, c.kind, c.divisibility)
	clone.liquid = c.liquid
	clone.liquidIDs = c.liquidIDs.Clone()

	for k, v := range c.locked {
		clone.locked[k] = v
	}

	for k, v := range c.lockedIDs {
		clone.lockedIDs[k] = v
	}

	return clone
}

type containerJSON struct {
	Resource     address.NodeID  `json:"resource"`
	Kind         Kind            `json:"kind"`
	Divisibility uint8           `json:"divisibility"`
	Liquid       decimal.Decimal `json:"liquid"`
	Locked       map[string]int  `json:"locked,omitempty"`
	IDs          []string        `json:"ids,omitempty"`
	LockedIDs    map[string]int  `json:"lockedIds,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *Container) MarshalJSON() ([]byte, error) {
	return json.Marshal(containerJSON{
		Resource:     c.resource,
		Kind:         c.kind,
		Divisibility: c.divisibility,
		Liquid:       c.liquid,
		Locked:       c.locked,
		IDs:          c.liquidIDs.Sorted(),
		LockedIDs:    c.lockedIDs,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Container) UnmarshalJSON(data []byte) error {
	var m containerJSON

	err := json.Unmarshal(data, &m)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal container: %v", err)
	}

	*c = *NewEmpty(m.Resource, m.Kind, m.Divisibility)
	c.liquid = m.Liquid
	c.liquidIDs = NewIDSet(m.IDs...)

	for k, v := range m.Locked {
		c.locked[k] = v
	}

	for k, v := range m.LockedIDs {
		c.lockedIDs[k] = v
	}

	return nil
}

func (c *Container) checkAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return xerrors.Errorf("negative amount %v: %w", amount, ErrInvalidAmount)
	}

	places := int32(c.divisibility)
	if c.kind == NonFungible {
		places = 0
	}

	if !amount.Equal(amount.Truncate(places)) {
		return xerrors.Errorf("%v exceeds divisibility %d: %w", amount, places, ErrInvalidAmount)
	}

	return nil
}

func (c *Container) maxLocked() decimal.Decimal {
	max := decimal.Zero

	for key := range c.locked {
		amount := decimal.RequireFromString(key)
		if amount.GreaterThan(max) {
			max = amount
		}
	}

	return max
}

func (c *Container) lockNonFungiblesByAmount(amount decimal.Decimal) (LockToken, error) {
	n := int(amount.IntPart())

	locked := make([]string, 0, len(c.lockedIDs))
	for id := range c.lockedIDs {
		locked = append(locked, id)
	}

	sort.Strings(locked)

	ids := append(locked, c.liquidIDs.Sorted()...)
	if n > len(ids) {
		return LockToken{}, xerrors.Errorf("cannot lock %d ids, total %d: %w", n, len(ids), ErrInsufficientBalance)
	}

	return c.LockByIDs(NewIDSet(ids[:n]...))
}
