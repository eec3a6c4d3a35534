// Package executor implements the service that executes transactions against
// a substate database.
//
// The executor validates the transaction, builds its fee reserve and runs it
// on a fresh kernel. A transaction either commits all of its changes, or
// leaves the database as it was.
package executor

import (
	"encoding/hex"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/core"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/execution/native"
	"go.dedis.ch/rexec/core/fee"
	"go.dedis.ch/rexec/core/kernel"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/resource"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/core/txn"
	"go.dedis.ch/rexec/serde/json"
	"golang.org/x/xerrors"
)

var (
	// ErrWrongNetwork is returned when the transaction is meant for another
	// network.
	ErrWrongNetwork = xerrors.New("wrong network")
	// ErrEpochRange is returned when the current epoch is outside of the
	// validity range of the transaction.
	ErrEpochRange = xerrors.New("epoch out of range")
	// ErrReplay is returned when the intent of the transaction is already
	// committed.
	ErrReplay = xerrors.New("intent already committed")
	// ErrSignature is returned when a signature of the transaction is
	// invalid.
	ErrSignature = xerrors.New("invalid signature")
)

var (
	promReceipts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rexec_executor_receipts_total",
		Help: "number of executed transactions per status",
	}, []string{"status"})

	promCostUnits = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rexec_executor_cost_units",
		Help:    "cost units consumed by a transaction",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
	})

	promDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rexec_executor_call_depth",
		Help:    "depth of the deepest frame of a transaction",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
	})
)

func init() {
	rexec.PromCollectors = append(rexec.PromCollectors, promReceipts, promCostUnits, promDepth)
}

// systemID is the identifier of the virtual system badge.
const systemID = "system"

// Config is the configuration of the executor.
type Config struct {
	// Network is the name of the network that transactions must target.
	Network string
	// Kernel is the configuration of the kernels.
	Kernel kernel.Config
	// SystemLoan is the number of units a transaction can consume before it
	// locks a fee.
	SystemLoan uint64
	// SystemLimit is the cost unit limit of a system transaction.
	SystemLimit uint64
	// ExpectedIntents and FalsePositiveRate size the replay filter.
	ExpectedIntents   uint
	FalsePositiveRate float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Network:           "local",
		Kernel:            kernel.DefaultConfig(),
		SystemLoan:        1000,
		SystemLimit:       100000,
		ExpectedIntents:   100000,
		FalsePositiveRate: 0.001,
	}
}

// PreviewFlags relax the checks of a preview.
type PreviewFlags struct {
	DisableAuth    bool
	SkipSignatures bool
}

// Scanner is implemented by the databases that can list the substates of a
// node.
type Scanner interface {
	Scan(node address.NodeID, fn func(substate.Change) error) error
}

// Executor executes transactions one after the other.
type Executor struct {
	sync.Mutex

	config  Config
	store   *substate.Store
	natives *native.Service
	engine  execution.Engine
	intents *bloom.BloomFilter
	tracer  opentracing.Tracer
	watcher *core.Watcher[Receipt]
}

// New creates an executor on top of the database. The engine may be nil, in
// which case bytecode packages cannot be called.
func New(db substate.Database, engine execution.Engine, config Config) (*Executor, error) {
	if config.ExpectedIntents == 0 {
		config.ExpectedIntents = DefaultConfig().ExpectedIntents
	}

	if config.FalsePositiveRate <= 0 {
		config.FalsePositiveRate = DefaultConfig().FalsePositiveRate
	}

	e := &Executor{
		config:  config,
		store:   substate.NewStore(db, model.NewCodec(json.NewContext())),
		natives: native.NewDefaultService(),
		engine:  engine,
		intents: bloom.NewWithEstimates(config.ExpectedIntents, config.FalsePositiveRate),
		tracer:  opentracing.NoopTracer{},
		watcher: core.NewWatcher[Receipt](),
	}

	scanner, ok := db.(Scanner)
	if !ok {
		return e, nil
	}

	err := scanner.Scan(address.IntentTracker, func(change substate.Change) error {
		e.intents.AddString(string(change.ID.Offset))
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to load intents: %v", err)
	}

	return e, nil
}

// Natives returns the table of native packages, so that an application can
// register its own.
func (e *Executor) Natives() *native.Service {
	return e.natives
}

// SetTracer sets the tracer that records a span per executed transaction,
// and one per frame of the kernels.
func (e *Executor) SetTracer(tracer opentracing.Tracer) {
	e.Lock()
	e.tracer = tracer
	e.config.Kernel.Tracer = tracer
	e.Unlock()
}

// Watch adds an observer that is notified of the receipt of every executed
// transaction, previews excluded. The observer is called while the executor
// is locked.
func (e *Executor) Watch(observer core.Observer[Receipt]) {
	e.watcher.Add(observer)
}

// Unwatch removes the observer.
func (e *Executor) Unwatch(observer core.Observer[Receipt]) {
	e.watcher.Remove(observer)
}

// Config returns the configuration of the executor.
func (e *Executor) Config() Config {
	return e.config
}

// Store returns the substate store of the executor. It must not be used
// while a transaction executes.
func (e *Executor) Store() *substate.Store {
	return e.store
}

// Genesis creates the system nodes and the accounts of the allocations, and
// returns the addresses of the accounts.
func (e *Executor) Genesis(cfg native.GenesisConfig) ([]address.NodeID, error) {
	e.Lock()
	defer e.Unlock()

	found, err := e.store.Exists(address.NewSubstateID(address.EpochManager, address.OffsetEpoch))
	if err != nil {
		return nil, xerrors.Errorf("store: %v", err)
	}

	if found {
		return nil, xerrors.New("genesis already done")
	}

	accounts, err := native.Genesis(e.store, cfg)
	if err != nil {
		e.store.Rollback()
		return nil, xerrors.Errorf("genesis failed: %v", err)
	}

	_, err = e.store.Commit()
	if err != nil {
		e.store.Rollback()
		return nil, xerrors.Errorf("failed to commit genesis: %v", err)
	}

	rexec.Logger.Info().
		Str("component", "executor").
		Uint64("epoch", cfg.Epoch).
		Int("accounts", len(accounts)).
		Msg("genesis done")

	return accounts, nil
}

// Execute validates and runs the transaction. The changes are committed only
// if the transaction succeeds. The error is returned only when the database
// fails, the outcome of the transaction being in the receipt.
func (e *Executor) Execute(tx txn.Transaction) (Receipt, error) {
	e.Lock()
	defer e.Unlock()

	return e.execute(tx, e.config.Kernel, false)
}

// ExecuteBatch executes the transactions one after the other. Each of them
// commits or rolls back on its own.
func (e *Executor) ExecuteBatch(txs []txn.Transaction) ([]Receipt, error) {
	e.Lock()
	defer e.Unlock()

	receipts := make([]Receipt, len(txs))

	for i, tx := range txs {
		receipt, err := e.execute(tx, e.config.Kernel, false)
		if err != nil {
			// This is a critical error unrelated to the transaction itself.
			return nil, xerrors.Errorf("failed to execute tx %d: %v", i, err)
		}

		receipts[i] = receipt
	}

	return receipts, nil
}

// Preview runs the transaction and always rolls back. The receipt tells what
// the outcome of an execution would be.
func (e *Executor) Preview(tx txn.Transaction, flags PreviewFlags) (Receipt, error) {
	e.Lock()
	defer e.Unlock()

	config := e.config.Kernel
	config.DisableAuth = config.DisableAuth || flags.DisableAuth

	receipt := newReceipt(nil)

	hash, err := tx.Hash()
	if err != nil {
		receipt.reject(err)
		return receipt, nil
	}

	receipt.Hash = hash

	signers, err := e.validate(tx, hash, !flags.SkipSignatures)
	if err != nil {
		receipt.reject(err)
		return receipt, nil
	}

	reserve, err := e.newReserve(tx)
	if err != nil {
		receipt.reject(err)
		return receipt, nil
	}

	k := kernel.New(e.store, e.natives, e.engine, reserve, hash, config)
	k.SetVirtualProofs(signers...)

	err = e.run(k, reserve, tx, &receipt)
	if err == nil {
		receipt.Status = StatusCommitted

		receipt.Changes, err = e.store.Changes()
		if err != nil {
			receipt.fail(execution.NewError(execution.KindStoreError, err))
		}
	}

	e.store.Rollback()

	return receipt, nil
}

// ExecuteSystem runs a transaction with the system badge as a virtual proof.
// The units are reserved up front so that no fee is locked, and neither the
// signatures nor the epoch range are checked.
func (e *Executor) ExecuteSystem(tx txn.Transaction) (Receipt, error) {
	e.Lock()
	defer e.Unlock()

	return e.execute(tx, e.config.Kernel, true)
}

func (e *Executor) execute(tx txn.Transaction, config kernel.Config, system bool) (Receipt, error) {
	receipt := newReceipt(nil)

	span := e.tracer.StartSpan("execute")
	span.SetTag("system", system)

	defer func() {
		promReceipts.WithLabelValues(string(receipt.Status)).Inc()

		span.SetTag("hash", hex.EncodeToString(receipt.Hash))
		span.SetTag("status", string(receipt.Status))
		span.SetTag("units", receipt.Fee.Consumed)
		span.Finish()

		e.watcher.Notify(receipt)
	}()

	hash, err := tx.Hash()
	if err != nil {
		receipt.reject(err)
		return receipt, nil
	}

	receipt.Hash = hash

	var signers []access.Evidence
	var reserve *fee.SystemLoanReserve

	if system {
		signers = []access.Evidence{badge(address.SystemBadge, systemID)}

		reserve = fee.NewSystemLoanReserve(e.config.SystemLimit, 0)
		err = reserve.Reserve(e.config.SystemLimit)
	} else {
		signers, err = e.validate(tx, hash, true)
		if err == nil {
			reserve, err = e.newReserve(tx)
		}
	}

	if err != nil {
		receipt.reject(err)
		e.logReceipt(receipt, err)
		return receipt, nil
	}

	k := kernel.New(e.store, e.natives, e.engine, reserve, hash, config)
	k.SetVirtualProofs(signers...)

	err = e.run(k, reserve, tx, &receipt)
	if err != nil {
		e.store.Rollback()
		e.logReceipt(receipt, err)
		return receipt, nil
	}

	if !system {
		err = e.store.Create(address.NewSubstateID(address.IntentTracker, address.IntentOffset(hash)),
			&model.IntentRecord{EndEpoch: tx.Header.EndEpoch})
		if err != nil {
			e.store.Rollback()
			return receipt, xerrors.Errorf("failed to record intent: %v", err)
		}
	}

	receipt.Changes, err = e.store.Commit()
	if err != nil {
		e.store.Rollback()
		return receipt, xerrors.Errorf("failed to commit: %v", err)
	}

	if !system {
		e.intents.AddString(string(address.IntentOffset(hash)))
	}

	receipt.Status = StatusCommitted

	e.logReceipt(receipt, nil)

	return receipt, nil
}

// run executes the instructions on the kernel and fills the receipt. It
// returns the error of the transaction, if any.
func (e *Executor) run(k *kernel.Kernel, reserve *fee.SystemLoanReserve,
	tx txn.Transaction, receipt *Receipt) error {

	inv, err := native.NewRunInvocation(tx.Instructions)
	if err != nil {
		receipt.reject(err)
		return err
	}

	out, err := k.Run(inv)
	if err == nil {
		err = reserve.RepayLoan()
	}

	receipt.Fee = reserve.Summary()
	receipt.Logs = k.Logs()
	receipt.Depth = k.MaxDepth()

	promCostUnits.Observe(float64(receipt.Fee.Consumed))
	promDepth.Observe(float64(receipt.Depth))

	if err != nil {
		if !receipt.Fee.LoanRepaid || xerrors.Is(err, fee.ErrLoanNotRepaid) {
			receipt.reject(err)
		} else {
			receipt.fail(err)
		}

		return err
	}

	receipt.Outputs = out
	receipt.NewNodes = k.CreatedNodes()

	return nil
}

// validate checks the transaction against the current state and returns the
// virtual proofs of its signers.
func (e *Executor) validate(tx txn.Transaction, hash []byte, verify bool) ([]access.Evidence, error) {
	if tx.Header.Network != e.config.Network {
		return nil, xerrors.Errorf("'%s' instead of '%s': %w",
			tx.Header.Network, e.config.Network, ErrWrongNetwork)
	}

	if verify {
		_, err := tx.Verify()
		if err != nil {
			return nil, xerrors.Errorf("%v: %w", err, ErrSignature)
		}
	}

	epoch, err := e.epoch()
	if err != nil {
		return nil, err
	}

	if epoch < tx.Header.StartEpoch || epoch >= tx.Header.EndEpoch {
		return nil, xerrors.Errorf("epoch %d not in [%d, %d): %w",
			epoch, tx.Header.StartEpoch, tx.Header.EndEpoch, ErrEpochRange)
	}

	offset := address.IntentOffset(hash)

	if e.intents.TestString(string(offset)) {
		found, err := e.store.Exists(address.NewSubstateID(address.IntentTracker, offset))
		if err != nil {
			return nil, xerrors.Errorf("store: %v", err)
		}

		if found {
			return nil, xerrors.Errorf("%x: %w", hash, ErrReplay)
		}
	}

	if len(tx.Signatures) == 0 {
		return nil, nil
	}

	ids := make([]string, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		ids[i] = native.SignerID(sig.PublicKey)
	}

	return []access.Evidence{badge(address.SignatureBadge, ids...)}, nil
}

// newReserve returns the reserve of the transaction after the consumption of
// the intrinsic costs.
func (e *Executor) newReserve(tx txn.Transaction) (*fee.SystemLoanReserve, error) {
	costs := e.config.Kernel.Costs
	reserve := fee.NewSystemLoanReserve(tx.Header.CostUnitLimit, e.config.SystemLoan)

	err := reserve.Consume(costs.Transaction, fee.ReasonTransaction)
	if err == nil {
		err = reserve.Consume(costs.PerInstruction*uint64(len(tx.Instructions)), fee.ReasonInstruction)
	}
	if err == nil {
		err = reserve.Consume(costs.PerSignature*uint64(len(tx.Signatures)), fee.ReasonSignature)
	}
	if err != nil {
		return nil, execution.NewError(execution.KindFeeError, err)
	}

	return reserve, nil
}

// Epoch returns the current epoch.
func (e *Executor) Epoch() (uint64, error) {
	e.Lock()
	defer e.Unlock()

	return e.epoch()
}

func (e *Executor) epoch() (uint64, error) {
	value, err := e.store.Read(address.NewSubstateID(address.EpochManager, address.OffsetEpoch))
	if err != nil {
		return 0, xerrors.Errorf("failed to read epoch: %v", err)
	}

	state, ok := value.(*model.EpochState)
	if !ok {
		return 0, xerrors.Errorf("invalid epoch '%T'", value)
	}

	return state.Epoch, nil
}

func (e *Executor) logReceipt(receipt Receipt, err error) {
	event := rexec.Logger.Info()
	if err != nil {
		event = rexec.Logger.Warn().Err(err)
	}

	event.Str("component", "executor").
		Stringer("receipt", receipt.ID).
		Str("hash", hex.EncodeToString(receipt.Hash)).
		Str("status", string(receipt.Status)).
		Uint64("units", receipt.Fee.Consumed).
		Msg("transaction executed")
}

func badge(res address.NodeID, ids ...string) access.Evidence {
	return access.Evidence{
		Resource: res,
		Kind:     resource.NonFungible,
		Portions: []access.Portion{{IDs: ids}},
	}
}
