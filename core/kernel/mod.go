// Package kernel implements the call-frame stack that runs the invocations of
// a transaction.
//
// The kernel owns the substate store, the fee reserve and the table of native
// packages for the duration of a transaction. Every invocation runs in a new
// frame that starts with an empty auth zone and only sees the buckets and the
// proofs it received. When a frame fails, its writes and the writes of its
// children are undone and the arguments it received go back to its caller.
package kernel

import (
	"math/big"

	"github.com/opentracing/opentracing-go"
	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/execution/native"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/serde"
	"go.dedis.ch/rexec/serde/json"
	"golang.org/x/xerrors"
)

// DefaultMaxDepth is the default depth of the deepest frame.
const DefaultMaxDepth = 15

// Config is the configuration of the kernel.
type Config struct {
	// MaxDepth is the depth of the deepest frame. The root frame is at depth
	// zero.
	MaxDepth int
	// Costs is the cost of the kernel operations.
	Costs fee.CostTable
	// CostUnitPrice is the price of one cost unit in native tokens.
	CostUnitPrice decimal.Decimal
	// DisableAuth skips every authorization check.
	DisableAuth bool
	// Tracer creates a span for every frame.
	Tracer opentracing.Tracer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxDepth:      DefaultMaxDepth,
		Costs:         fee.DefaultCosts(),
		CostUnitPrice: decimal.New(1, -2),
		Tracer:        opentracing.NoopTracer{},
	}
}

// LogEntry is a message logged by the code of a transaction.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Depth   int    `json:"depth"`
}

// Kernel runs the invocations of one transaction.
//
// - implements execution.Api
type Kernel struct {
	config  Config
	store   *substate.Store
	natives *native.Service
	engine  execution.Engine
	reserve fee.Reserve
	ctx     serde.Context

	hash     []byte
	nextID   uint32
	frames   []*frame
	virtual  []access.Evidence
	custody  []payment
	logs     []LogEntry
	created  []address.NodeID
	maxDepth int
	fatal    error
	settling bool
}

// New returns a kernel for the transaction of the given hash. The engine may
// be nil, in which case bytecode packages cannot be called.
func New(store *substate.Store, natives *native.Service, engine execution.Engine,
	reserve fee.Reserve, hash []byte, config Config) *Kernel {

	if config.Tracer == nil {
		config.Tracer = opentracing.NoopTracer{}
	}

	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}

	return &Kernel{
		config:  config,
		store:   store,
		natives: natives,
		engine:  engine,
		reserve: reserve,
		ctx:     json.NewContext(),
		hash:    hash,
	}
}

// SetVirtualProofs sets the evidence that is always visible to the
// authorization checks, like the signatures of the transaction.
func (k *Kernel) SetVirtualProofs(evidence ...access.Evidence) {
	k.virtual = evidence
}

// Logs returns the messages logged during the transaction.
func (k *Kernel) Logs() []LogEntry {
	return append([]LogEntry{}, k.logs...)
}

// CreatedNodes returns the global nodes created by the transaction.
func (k *Kernel) CreatedNodes() []address.NodeID {
	return append([]address.NodeID{}, k.created...)
}

// MaxDepth returns the depth of the deepest frame of the transaction.
func (k *Kernel) MaxDepth() int {
	return k.maxDepth
}

// Run executes the invocation under a root frame and settles the fee. The
// changes stay in the store, which the caller either commits or rolls back.
func (k *Kernel) Run(inv execution.Invocation) ([]execution.Value, error) {
	if len(k.frames) > 0 {
		return nil, xerrors.New("kernel is already running")
	}

	root := newFrame(0, execution.Actor{}, k.config.Tracer.StartSpan("transaction"))
	root.state = frameExecuting

	k.frames = append(k.frames, root)
	k.store.EnterFrame()

	out, err := k.run(inv)

	if err != nil {
		root.span.SetTag("error", true)
		root.span.LogKV("error", err.Error())
	}

	root.span.Finish()
	k.frames = nil

	exitErr := k.store.ExitFrame(err == nil)
	if err == nil && exitErr != nil {
		err = execution.NewError(execution.KindStoreError, exitErr)
	}

	if err != nil {
		return nil, err
	}

	return out, nil
}

func (k *Kernel) run(inv execution.Invocation) ([]execution.Value, error) {
	out, err := k.Invoke(inv)
	if err != nil {
		return nil, err
	}

	if k.fatal != nil {
		return nil, k.fatal
	}

	for _, value := range out {
		if value.Kind() == execution.KindBucket {
			return nil, execution.NewError(execution.KindResourceError,
				xerrors.Errorf("transaction returned %v: %w", value, execution.ErrResourceLeak))
		}
	}

	err = k.dropLeftovers(k.frames[0], nil)
	if err != nil {
		return nil, execution.Wrap(err)
	}

	err = k.settle()
	if err != nil {
		return nil, execution.NewError(execution.KindFeeError, err)
	}

	return out, nil
}

func (k *Kernel) current() *frame {
	return k.frames[len(k.frames)-1]
}

// fail records the error if it is fatal so that no frame can swallow it.
func (k *Kernel) fail(err error) error {
	err = execution.Wrap(err)

	if k.fatal == nil && execution.IsFatal(err) {
		k.fatal = err
	}

	return err
}

func (k *Kernel) consume(units uint64, reason string) error {
	if units == 0 || k.settling {
		return nil
	}

	err := k.reserve.Consume(units, reason)
	if err != nil {
		return k.fail(err)
	}

	return nil
}

func decimalFromUint(n uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
}
