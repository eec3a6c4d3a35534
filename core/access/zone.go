package access

import (
	"go.dedis.ch/rexec/core/address"
	"golang.org/x/xerrors"
)

// ErrEmptyZone is returned when popping from an empty zone.
var ErrEmptyZone = xerrors.New("auth zone is empty")

// Zone is the stack of proofs of a call frame.
type Zone struct {
	proofs []address.NodeID
}

// Push pushes the proof on top of the zone.
func (z *Zone) Push(proof address.NodeID) {
	z.proofs = append(z.proofs, proof)
}

// Pop removes and returns the proof on top of the zone.
func (z *Zone) Pop() (address.NodeID, error) {
	if len(z.proofs) == 0 {
		return address.NodeID{}, ErrEmptyZone
	}

	proof := z.proofs[len(z.proofs)-1]
	z.proofs = z.proofs[:len(z.proofs)-1]

	return proof, nil
}

// Drain removes and returns every proof of the zone, from the bottom to the
// top.
func (z *Zone) Drain() []address.NodeID {
	proofs := z.proofs
	z.proofs = nil

	return proofs
}

// Proofs returns the proofs of the zone from the bottom to the top.
func (z *Zone) Proofs() []address.NodeID {
	return append([]address.NodeID{}, z.proofs...)
}

// Len returns the number of proofs in the zone.
func (z *Zone) Len() int {
	return len(z.proofs)
}
