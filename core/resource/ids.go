package resource

import "sort"

// IDSet is a set of non-fungible identifiers.
type IDSet map[string]struct{}

// NewIDSet returns a set populated with the identifiers.
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set
}

// Has returns true if the identifier is in the set.
func (s IDSet) Has(id string) bool {
	_, found := s[id]
	return found
}

// Add adds the identifier.
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

// Remove removes the identifier.
func (s IDSet) Remove(id string) {
	delete(s, id)
}

// Len returns the number of identifiers.
func (s IDSet) Len() int {
	return len(s)
}

// Contains returns true if every identifier of the other set is in this one.
func (s IDSet) Contains(other IDSet) bool {
	for id := range other {
		if !s.Has(id) {
			return false
		}
	}

	return true
}

// Sorted returns the identifiers in lexicographic order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Clone returns a copy of the set.
func (s IDSet) Clone() IDSet {
	clone := make(IDSet, len(s))
	for id := range s {
		clone[id] = struct{}{}
	}

	return clone
}
