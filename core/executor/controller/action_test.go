package controller

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/rexec/cli/node"
	"go.dedis.ch/rexec/core/address"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/executor"
	"go.dedis.ch/rexec/core/store/mem"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/core/txn"
	"go.dedis.ch/rexec/crypto/ed25519"
)

func TestGenesisAction_Execute(t *testing.T) {
	ctx, out := prepContext(t)

	action := genesisAction{}

	signer := ed25519.NewSigner()
	ctx.Flags.(node.FlagSet)["account"] = []string{signerID(t, signer) + ":1000", "ab:0"}
	ctx.Flags.(node.FlagSet)["epoch"] = 3

	err := action.Execute(ctx)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)

	err = action.Execute(ctx)
	require.EqualError(t, err, "genesis: genesis already done")

	ctx.Flags.(node.FlagSet)["account"] = []string{"abc"}
	err = action.Execute(ctx)
	require.EqualError(t, err, "failed to parse accounts: malformed account 'abc'")

	ctx.Flags.(node.FlagSet)["account"] = []string{"xyz:1"}
	err = action.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid signer 'xyz'")

	ctx.Flags.(node.FlagSet)["account"] = []string{"ab:abc"}
	err = action.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid amount 'abc'")

	ctx.Flags.(node.FlagSet)["account"] = nil
	ctx.Flags.(node.FlagSet)["epoch"] = -1
	err = action.Execute(ctx)
	require.EqualError(t, err, "negative epoch -1")

	ctx.Injector = node.NewInjector()
	err = action.Execute(ctx)
	require.EqualError(t, err, "injector: couldn't find dependency for '*executor.Executor'")
}

func TestRunAction_Execute(t *testing.T) {
	ctx, out := prepContext(t)
	dir := t.TempDir()

	alice := ed25519.NewSigner()
	accounts := genesis(t, ctx, alice)

	ctx.Flags.(node.FlagSet)["manifest"] = writeManifest(t, dir, transfer(accounts[0], accounts[1], 100))
	ctx.Flags.(node.FlagSet)["signer"] = []string{writeSigner(t, dir, alice)}

	action := runAction{}

	err := action.Execute(ctx)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"status": "committed"`)

	out.Reset()
	err = action.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), executor.ErrReplay.Error())
	require.Contains(t, out.String(), `"status": "rejected"`)

	ctx.Flags.(node.FlagSet)["signer"] = []string{filepath.Join(dir, "unknown.key")}
	err = action.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load signer: ")

	ctx.Flags.(node.FlagSet)["manifest"] = filepath.Join(dir, "unknown.yaml")
	err = action.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "manifest: ")

	ctx.Flags.(node.FlagSet)["manifest"] = writeManifest(t, dir, transfer(accounts[0], accounts[1], 1))
	ctx.Flags.(node.FlagSet)["signer"] = nil
	ctx.Injector = node.NewInjector()
	err = action.Execute(ctx)
	require.EqualError(t, err, "injector: couldn't find dependency for '*executor.Executor'")
}

func TestPreviewAction_Execute(t *testing.T) {
	ctx, out := prepContext(t)
	dir := t.TempDir()

	alice := ed25519.NewSigner()
	accounts := genesis(t, ctx, alice)

	ctx.Flags.(node.FlagSet)["manifest"] = writeManifest(t, dir, transfer(accounts[0], accounts[1], 100))

	action := previewAction{}

	err := action.Execute(ctx)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"status": "rejected"`)

	out.Reset()
	ctx.Flags.(node.FlagSet)["disable-auth"] = true
	ctx.Flags.(node.FlagSet)["skip-signatures"] = true

	err = action.Execute(ctx)
	require.NoError(t, err)
	require.Contains(t, out.String(), `"status": "committed"`)

	// Nothing is committed by a preview.
	out.Reset()
	ctx.Flags.(node.FlagSet)["signer"] = []string{writeSigner(t, dir, alice)}
	err = runAction{}.Execute(ctx)
	require.NoError(t, err)

	ctx.Flags.(node.FlagSet)["manifest"] = filepath.Join(dir, "unknown.yaml")
	err = action.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "manifest: ")

	ctx.Flags.(node.FlagSet)["manifest"] = writeManifest(t, dir, transfer(accounts[0], accounts[1], 1))
	ctx.Injector = node.NewInjector()
	err = action.Execute(ctx)
	require.EqualError(t, err, "injector: couldn't find dependency for '*executor.Executor'")
}

func TestHashAction_Execute(t *testing.T) {
	ctx, out := prepContext(t)

	tx := transfer(address.System(address.EntityComponent, "a"), address.System(address.EntityComponent, "b"), 1)

	ctx.Flags.(node.FlagSet)["manifest"] = writeManifest(t, t.TempDir(), tx)

	err := hashAction{}.Execute(ctx)
	require.NoError(t, err)

	hash, err := tx.Hash()
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(hash)+"\n", out.String())

	ctx.Flags.(node.FlagSet)["manifest"] = "/unknown/manifest.yaml"
	err = hashAction{}.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "manifest: ")
}

func TestEpochActions_Execute(t *testing.T) {
	ctx, out := prepContext(t)

	genesis(t, ctx, ed25519.NewSigner())

	err := showEpochAction{}.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, "1\n", out.String())

	ctx.Flags.(node.FlagSet)["value"] = 5

	err = setEpochAction{}.Execute(ctx)
	require.NoError(t, err)

	out.Reset()
	err = showEpochAction{}.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, "5\n", out.String())

	err = setEpochAction{}.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed")

	ctx.Flags.(node.FlagSet)["value"] = -1
	err = setEpochAction{}.Execute(ctx)
	require.EqualError(t, err, "negative epoch -1")

	ctx.Flags.(node.FlagSet)["value"] = 6
	ctx.Injector = node.NewInjector()

	err = setEpochAction{}.Execute(ctx)
	require.EqualError(t, err, "injector: couldn't find dependency for '*executor.Executor'")

	err = showEpochAction{}.Execute(ctx)
	require.EqualError(t, err, "injector: couldn't find dependency for '*executor.Executor'")
}

func TestAbiAction_Execute(t *testing.T) {
	ctx, out := prepContext(t)

	genesis(t, ctx, ed25519.NewSigner())

	ctx.Flags.(node.FlagSet)["package"] = address.AccountPackage.String()

	err := abiAction{}.Execute(ctx)
	require.NoError(t, err)
	require.Contains(t, out.String(), "name: withdraw")

	ctx.Flags.(node.FlagSet)["package"] = address.NativeToken.String()
	err = abiAction{}.Execute(ctx)
	require.EqualError(t, err, "abi: "+address.NativeToken.String()+" is not a package")

	ctx.Flags.(node.FlagSet)["package"] = "abc"
	err = abiAction{}.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid address: ")

	ctx.Flags.(node.FlagSet)["package"] = address.AccountPackage.String()
	ctx.Injector = node.NewInjector()
	err = abiAction{}.Execute(ctx)
	require.EqualError(t, err, "injector: couldn't find dependency for '*executor.Executor'")
}

func TestStateAction_Execute(t *testing.T) {
	ctx, out := prepContext(t)

	accounts := genesis(t, ctx, ed25519.NewSigner())

	ctx.Flags.(node.FlagSet)["node"] = accounts[0].String()

	err := stateAction{}.Execute(ctx)
	require.NoError(t, err)
	require.Contains(t, out.String(), accounts[0].String())

	ctx.Flags.(node.FlagSet)["node"] = address.System(address.EntityComponent, "unknown").String()
	err = stateAction{}.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")

	ctx.Flags.(node.FlagSet)["node"] = "abc"
	err = stateAction{}.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid address: ")

	ctx.Flags.(node.FlagSet)["node"] = accounts[0].String()
	ctx.Injector = node.NewInjector()
	err = stateAction{}.Execute(ctx)
	require.EqualError(t, err, "injector: couldn't find dependency for 'kv.DB'")
}

// -----------------------------------------------------------------------------
// Utility functions

func prepContext(t *testing.T) (node.Context, *bytes.Buffer) {
	db := mem.NewDB()

	exec, err := executor.New(substate.NewKVDatabase(db), nil, executor.DefaultConfig())
	require.NoError(t, err)

	inj := node.NewInjector()
	inj.Inject(db)
	inj.Inject(exec)

	out := new(bytes.Buffer)

	ctx := node.Context{
		Injector: inj,
		Flags:    make(node.FlagSet),
		Out:      out,
	}

	return ctx, out
}

// genesis creates an account owned by the signer with 1000 tokens, and an
// empty one.
func genesis(t *testing.T, ctx node.Context, signer ed25519.Signer) []address.NodeID {
	var exec *executor.Executor
	require.NoError(t, ctx.Injector.Resolve(&exec))

	ctx.Flags = node.FlagSet{
		"account": []string{signerID(t, signer) + ":1000", signerID(t, ed25519.NewSigner()) + ":0"},
		"epoch":   1,
	}

	out := new(bytes.Buffer)
	ctx.Out = out

	err := genesisAction{}.Execute(ctx)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	accounts := make([]address.NodeID, len(lines))
	for i, line := range lines {
		accounts[i], err = address.Parse(line)
		require.NoError(t, err)
	}

	return accounts
}

func signerID(t *testing.T, signer ed25519.Signer) string {
	pubkey, err := signer.GetPublicKey().MarshalBinary()
	require.NoError(t, err)

	return hex.EncodeToString(pubkey)
}

func transfer(from, to address.NodeID, amount int64) txn.Transaction {
	return txn.Transaction{
		Header: txn.Header{Network: "local", EndEpoch: 10, CostUnitLimit: 10000},
		Instructions: []txn.Instruction{
			txn.CallMethod(from, "lock_fee", execution.Decimal(decimal.NewFromInt(10))),
			txn.CallMethod(from, "withdraw", execution.Address(address.NativeToken),
				execution.Decimal(decimal.NewFromInt(amount))),
			txn.TakeAllFromWorktop(address.NativeToken, "tokens"),
			txn.CallMethod(to, "deposit", execution.NamedBucket("tokens")),
		},
	}
}

func writeManifest(t *testing.T, dir string, tx txn.Transaction) string {
	data, err := txn.FormatManifest(tx)
	require.NoError(t, err)

	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, data, 0600))

	return path
}

func writeSigner(t *testing.T, dir string, signer ed25519.Signer) string {
	data, err := signer.MarshalBinary()
	require.NoError(t, err)

	path := filepath.Join(dir, "signer.key")
	require.NoError(t, os.WriteFile(path, data, 0600))

	return path
}
