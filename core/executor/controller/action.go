package controller

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/cli/node"
	"go.dedis.ch/rexec/core/abi"
	"go.dedis.ch/rexec/core/access"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/execution/native"
	"go.dedis.ch/rexec/core/executor"
	"go.dedis.ch/rexec/core/model"
	"go.dedis.ch/rexec/core/store/kv"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/core/txn"
	"go.dedis.ch/rexec/crypto/ed25519"
	"go.dedis.ch/rexec/crypto/loader"
	sjson "go.dedis.ch/rexec/serde/json"
	"golang.org/x/xerrors"
)

// genesisAction is an action to create the initial state.
//
// - implements node.ActionTemplate
type genesisAction struct{}

// Execute implements node.ActionTemplate. It parses the accounts and prints
// the address of each of them.
func (a genesisAction) Execute(ctx node.Context) error {
	allocs, err := parseAccounts(ctx.Flags.StringSlice("account"))
	if err != nil {
		return xerrors.Errorf("failed to parse accounts: %v", err)
	}

	exec, err := node.Get[*executor.Executor](ctx.Injector)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	epoch := ctx.Flags.Int("epoch")
	if epoch < 0 {
		return xerrors.Errorf("negative epoch %d", epoch)
	}

	accounts, err := exec.Genesis(native.GenesisConfig{
		Epoch:       uint64(epoch),
		Allocations: allocs,
	})
	if err != nil {
		return xerrors.Errorf("genesis: %v", err)
	}

	for _, account := range accounts {
		fmt.Fprintln(ctx.Out, account)
	}

	return nil
}

func parseAccounts(values []string) ([]native.Allocation, error) {
	allocs := make([]native.Allocation, len(values))

	for i, value := range values {
		parts := strings.SplitN(value, ":", 2)
		if len(parts) != 2 {
			return nil, xerrors.Errorf("malformed account '%s'", value)
		}

		_, err := hex.DecodeString(parts[0])
		if err != nil {
			return nil, xerrors.Errorf("invalid signer '%s': %v", parts[0], err)
		}

		amount, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, xerrors.Errorf("invalid amount '%s': %v", parts[1], err)
		}

		allocs[i] = native.Allocation{
			Owner:  access.RequireNonFungibles(address.SignatureBadge, strings.ToLower(parts[0])),
			Amount: amount,
		}
	}

	return allocs, nil
}

// runAction is an action to sign and execute a transaction.
//
// - implements node.ActionTemplate
type runAction struct{}

// Execute implements node.ActionTemplate. It prints the receipt and returns
// an error if the transaction is not committed.
func (a runAction) Execute(ctx node.Context) error {
	tx, err := readTransaction(ctx)
	if err != nil {
		return err
	}

	exec, err := node.Get[*executor.Executor](ctx.Injector)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	receipt, err := exec.Execute(tx)
	if err != nil {
		return xerrors.Errorf("failed to execute: %v", err)
	}

	err = printReceipt(ctx, receipt)
	if err != nil {
		return err
	}

	return receipt.Err()
}

// previewAction is an action to print the outcome of a transaction without
// committing it.
//
// - implements node.ActionTemplate
type previewAction struct{}

// Execute implements node.ActionTemplate.
func (a previewAction) Execute(ctx node.Context) error {
	tx, err := readTransaction(ctx)
	if err != nil {
		return err
	}

	exec, err := node.Get[*executor.Executor](ctx.Injector)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	receipt, err := exec.Preview(tx, executor.PreviewFlags{
		DisableAuth:    ctx.Flags.Bool("disable-auth"),
		SkipSignatures: ctx.Flags.Bool("skip-signatures"),
	})
	if err != nil {
		return xerrors.Errorf("failed to preview: %v", err)
	}

	return printReceipt(ctx, receipt)
}

// hashAction is an action to print the hash of a transaction, which is the
// message its signers sign.
//
// - implements node.ActionTemplate
type hashAction struct{}

// Execute implements node.ActionTemplate.
func (a hashAction) Execute(ctx node.Context) error {
	tx, err := txn.LoadManifest(ctx.Flags.Path("manifest"))
	if err != nil {
		return xerrors.Errorf("manifest: %v", err)
	}

	hash, err := tx.Hash()
	if err != nil {
		return xerrors.Errorf("failed to hash: %v", err)
	}

	fmt.Fprintln(ctx.Out, hex.EncodeToString(hash))

	return nil
}

// showEpochAction is an action to print the current epoch.
//
// - implements node.ActionTemplate
type showEpochAction struct{}

// Execute implements node.ActionTemplate.
func (a showEpochAction) Execute(ctx node.Context) error {
	exec, err := node.Get[*executor.Executor](ctx.Injector)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	epoch, err := exec.Epoch()
	if err != nil {
		return xerrors.Errorf("epoch: %v", err)
	}

	fmt.Fprintln(ctx.Out, epoch)

	return nil
}

// setEpochAction is an action to advance the epoch.
//
// - implements node.ActionTemplate
type setEpochAction struct{}

// Execute implements node.ActionTemplate. It runs a system transaction that
// calls the epoch manager.
func (a setEpochAction) Execute(ctx node.Context) error {
	value := ctx.Flags.Int("value")
	if value < 0 {
		return xerrors.Errorf("negative epoch %d", value)
	}

	exec, err := node.Get[*executor.Executor](ctx.Injector)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	tx := txn.Transaction{
		Header: txn.Header{
			Network:  exec.Config().Network,
			EndEpoch: uint64(value),
		},
		Instructions: []txn.Instruction{
			txn.CallMethod(address.EpochManager, "set_epoch", execution.U64(uint64(value))),
		},
	}

	receipt, err := exec.ExecuteSystem(tx)
	if err != nil {
		return xerrors.Errorf("failed to execute: %v", err)
	}

	err = printReceipt(ctx, receipt)
	if err != nil {
		return err
	}

	return receipt.Err()
}

// abiAction is an action to print the blueprints of a package.
//
// - implements node.ActionTemplate
type abiAction struct{}

// Execute implements node.ActionTemplate.
func (a abiAction) Execute(ctx node.Context) error {
	id, err := address.Parse(ctx.Flags.String("package"))
	if err != nil {
		return xerrors.Errorf("invalid address: %v", err)
	}

	exec, err := node.Get[*executor.Executor](ctx.Injector)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	pkg, err := abi.Export(exec.Store(), id)
	if err != nil {
		return xerrors.Errorf("abi: %v", err)
	}

	data, err := pkg.Encode()
	if err != nil {
		return xerrors.Errorf("abi: %v", err)
	}

	fmt.Fprint(ctx.Out, string(data))

	return nil
}

// stateAction is an action to print the substates of a node as they are in
// the database.
//
// - implements node.ActionTemplate
type stateAction struct{}

// Execute implements node.ActionTemplate.
func (a stateAction) Execute(ctx node.Context) error {
	id, err := address.Parse(ctx.Flags.String("node"))
	if err != nil {
		return xerrors.Errorf("invalid address: %v", err)
	}

	db, err := node.Get[kv.DB](ctx.Injector)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	codec := model.NewCodec(sjson.NewContext())
	count := 0

	err = substate.NewKVDatabase(db).Scan(id, func(change substate.Change) error {
		value, err := codec.Decode(change.Value)
		if err != nil {
			return xerrors.Errorf("failed to decode %v: %v", change.ID, err)
		}

		data, err := json.Marshal(value)
		if err != nil {
			return xerrors.Errorf("failed to marshal %v: %v", change.ID, err)
		}

		fmt.Fprintf(ctx.Out, "%v (v%d) %s\n", change.ID, change.NewVersion, data)
		count++

		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to scan: %v", err)
	}

	if count == 0 {
		return xerrors.Errorf("node %v not found", id)
	}

	return nil
}

// readTransaction loads the manifest and signs it with every signer of the
// flags.
func readTransaction(ctx node.Context) (txn.Transaction, error) {
	tx, err := txn.LoadManifest(ctx.Flags.Path("manifest"))
	if err != nil {
		return tx, xerrors.Errorf("manifest: %v", err)
	}

	for _, path := range ctx.Flags.StringSlice("signer") {
		data, err := loader.NewFileLoader(path).Load()
		if err != nil {
			return tx, xerrors.Errorf("failed to load signer: %v", err)
		}

		signer, err := ed25519.NewSignerFromBytes(data)
		if err != nil {
			return tx, xerrors.Errorf("failed to load signer: %v", err)
		}

		err = tx.Sign(signer)
		if err != nil {
			return tx, xerrors.Errorf("failed to sign: %v", err)
		}
	}

	return tx, nil
}

func printReceipt(ctx node.Context, receipt executor.Receipt) error {
	data, err := receipt.MarshalIndent()
	if err != nil {
		return xerrors.Errorf("receipt: %v", err)
	}

	fmt.Fprintln(ctx.Out, string(data))

	return nil
}
