// This file contains the implementation of the receipt returned by the
// executor.

package executor

import (
	"encoding/hex"
	"encoding/json"

	"github.com/rs/xid"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/kernel"
	"go.dedis.ch/rexec/core/substate"
	"golang.org/x/xerrors"
)

// Status is the outcome of a transaction.
type Status string

const (
	// StatusCommitted is the status of a transaction whose changes are in the
	// database.
	StatusCommitted Status = "committed"
	// StatusFailed is the status of a transaction that ran and failed. None
	// of its changes are kept.
	StatusFailed Status = "failed"
	// StatusRejected is the status of a transaction that could not run, or
	// could not pay for what it consumed.
	StatusRejected Status = "rejected"
)

// Receipt is the result of the execution of a transaction.
type Receipt struct {
	// ID identifies the receipt in the logs.
	ID        xid.ID              `json:"id"`
	Hash      []byte              `json:"hash"`
	Status    Status              `json:"status"`
	ErrorKind execution.ErrorKind `json:"errorKind,omitempty"`
	Error     string              `json:"error,omitempty"`
	Fee       fee.Summary         `json:"fee"`
	Logs      []kernel.LogEntry   `json:"logs,omitempty"`
	Outputs   []execution.Value   `json:"outputs,omitempty"`
	NewNodes  []address.NodeID    `json:"newNodes,omitempty"`
	Changes   []substate.Change   `json:"changes,omitempty"`
	Depth     int                 `json:"depth"`
}

func newReceipt(hash []byte) Receipt {
	return Receipt{
		ID:     xid.New(),
		Hash:   hash,
		Status: StatusRejected,
	}
}

// Committed returns true if the changes of the transaction are in the
// database.
func (r Receipt) Committed() bool {
	return r.Status == StatusCommitted
}

// Err returns the error of the transaction, or nil if it committed.
func (r Receipt) Err() error {
	if r.Status == StatusCommitted {
		return nil
	}

	return xerrors.Errorf("transaction %s %s: %s", hex.EncodeToString(r.Hash), r.Status, r.Error)
}

// MarshalIndent returns the receipt in a human-readable JSON document.
func (r Receipt) MarshalIndent() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal receipt: %v", err)
	}

	return data, nil
}

func (r *Receipt) reject(err error) {
	r.Status = StatusRejected
	r.ErrorKind = execution.Classify(err)
	r.Error = err.Error()
}

func (r *Receipt) fail(err error) {
	r.Status = StatusFailed
	r.ErrorKind = execution.Classify(err)
	r.Error = err.Error()
}
