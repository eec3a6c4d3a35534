// Package controller defines the commands of the executor. The controller
// opens the database and creates the executor before an action runs, and
// closes them afterwards.
package controller

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"go.dedis.ch/rexec"
	"go.dedis.ch/rexec/cli"
	"go.dedis.ch/rexec/cli/node"
	"go.dedis.ch/rexec/core/execution"
	"go.dedis.ch/rexec/core/execution/wasm"
	"go.dedis.ch/rexec/core/executor"
	"go.dedis.ch/rexec/core/store/kv"
	"go.dedis.ch/rexec/core/store/mem"
	"go.dedis.ch/rexec/core/substate"
	"go.dedis.ch/rexec/internal/tracing"
	"golang.org/x/xerrors"
)

// Types of database.
const (
	BboltDB   = "bbolt"
	LevelDB   = "leveldb"
	MemoryDB  = "memory"
	serviceID = "rexec"
)

// lockTimeout is the time to wait for another process to release the bbolt
// database.
const lockTimeout = 5 * time.Second

// Controller is the initializer of the executor.
//
// - implements node.Initializer
type Controller struct {
	newEngine func() (execution.Engine, error)

	// metrics is the path of the file where the metrics are written when the
	// node stops.
	metrics string
	tracing bool
}

// NewController returns a new controller of the executor.
func NewController() *Controller {
	return &Controller{
		newEngine: func() (execution.Engine, error) {
			return wasm.NewEngine(wasm.DefaultCacheSize)
		},
	}
}

// SetCommands implements node.Initializer. It sets the global flags of the
// node and the commands of the executor.
func (c *Controller) SetCommands(builder node.Builder) {
	builder.SetGlobalFlags(
		cli.StringFlag{
			Name:   "db",
			Usage:  "path to the database",
			EnvVar: "REXEC_DB",
			Value:  "rexec.db",
		},
		cli.StringFlag{
			Name:  "db-type",
			Usage: "type of database: [bbolt | leveldb | memory]",
			Value: BboltDB,
		},
		cli.StringFlag{
			Name:   "config",
			Usage:  "path to the YAML configuration of the executor",
			EnvVar: "REXEC_CONFIG",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "overrides the network of the configuration",
		},
		cli.StringFlag{
			Name:   "log-level",
			Usage:  "level of the logs: [trace | debug | info | warn | error]",
			EnvVar: "REXEC_LOG_LEVEL",
			Value:  "info",
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "writes the metrics in the text format to the file when the command returns",
		},
		cli.BoolFlag{
			Name:  "tracing",
			Usage: "reports the spans to the Jaeger agent of the JAEGER_* environment",
		},
	)

	cmd := builder.SetCommand("genesis")
	cmd.SetDescription("create the system nodes and the initial accounts")
	cmd.SetFlags(
		cli.StringSliceFlag{
			Name:  "account",
			Usage: "one or several accounts in the form <signer hex>:<amount>",
		},
		cli.IntFlag{
			Name:  "epoch",
			Usage: "initial epoch",
			Value: 1,
		},
	)
	cmd.SetAction(builder.MakeAction(genesisAction{}))

	cmd = builder.SetCommand("tx")
	cmd.SetDescription("execute transactions")

	txFlags := []cli.Flag{
		cli.StringFlag{
			Name:     "manifest",
			Usage:    "path to the YAML manifest of the transaction",
			Required: true,
		},
		cli.StringSliceFlag{
			Name:  "signer",
			Usage: "path to the key of a signer",
		},
	}

	sub := cmd.SetSubCommand("run")
	sub.SetDescription("sign and execute a transaction")
	sub.SetFlags(txFlags...)
	sub.SetAction(builder.MakeAction(runAction{}))

	sub = cmd.SetSubCommand("preview")
	sub.SetDescription("print the receipt of a transaction without committing it")
	sub.SetFlags(append(txFlags,
		cli.BoolFlag{
			Name:  "disable-auth",
			Usage: "skips the authorization checks",
		},
		cli.BoolFlag{
			Name:  "skip-signatures",
			Usage: "skips the verification of the signatures",
		},
	)...)
	sub.SetAction(builder.MakeAction(previewAction{}))

	sub = cmd.SetSubCommand("hash")
	sub.SetDescription("print the hash of a transaction")
	sub.SetFlags(txFlags[0])
	sub.SetAction(builder.MakeAction(hashAction{}))

	cmd = builder.SetCommand("epoch")
	cmd.SetDescription("manage the epoch")

	sub = cmd.SetSubCommand("show")
	sub.SetDescription("print the current epoch")
	sub.SetAction(builder.MakeAction(showEpochAction{}))

	sub = cmd.SetSubCommand("set")
	sub.SetDescription("advance the epoch with a system transaction")
	sub.SetFlags(cli.IntFlag{
		Name:     "value",
		Usage:    "new epoch",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(setEpochAction{}))

	cmd = builder.SetCommand("abi")
	cmd.SetDescription("print the blueprints of a package")
	cmd.SetFlags(cli.StringFlag{
		Name:     "package",
		Usage:    "address of the package",
		Required: true,
	})
	cmd.SetAction(builder.MakeAction(abiAction{}))

	cmd = builder.SetCommand("state")
	cmd.SetDescription("print the substates of a node")
	cmd.SetFlags(cli.StringFlag{
		Name:     "node",
		Usage:    "address of the node",
		Required: true,
	})
	cmd.SetAction(builder.MakeAction(stateAction{}))
}

// OnStart implements node.Initializer. It opens the database and injects it
// with the executor.
func (c *Controller) OnStart(flags cli.Flags, inj node.Injector) error {
	if flags.String("log-level") != "" {
		level, err := zerolog.ParseLevel(flags.String("log-level"))
		if err != nil {
			return xerrors.Errorf("invalid log level: %v", err)
		}

		rexec.Logger = rexec.Logger.Level(level)
	}

	cfg, err := loadConfig(flags.Path("config"))
	if err != nil {
		return xerrors.Errorf("config: %v", err)
	}

	network := flags.String("network")
	if network != "" {
		cfg.Network = network
	}

	db, err := openDB(flags.String("db-type"), flags.Path("db"))
	if err != nil {
		return xerrors.Errorf("db: %v", err)
	}

	engine, err := c.newEngine()
	if err != nil {
		db.Close()
		return xerrors.Errorf("engine: %v", err)
	}

	exec, err := executor.New(substate.NewKVDatabase(db), engine, cfg)
	if err != nil {
		db.Close()
		return xerrors.Errorf("executor: %v", err)
	}

	c.tracing = flags.Bool("tracing")

	if c.tracing {
		tracer, err := tracing.GetTracer(serviceID)
		if err != nil {
			db.Close()
			return xerrors.Errorf("tracer: %v", err)
		}

		exec.SetTracer(tracer)
	}

	c.metrics = flags.Path("metrics")

	inj.Inject(db)
	inj.Inject(exec)

	rexec.Logger.Debug().
		Str("db", flags.Path("db")).
		Str("network", cfg.Network).
		Msg("executor started")

	return nil
}

// OnStop implements node.Initializer. It closes the database and writes the
// metrics if requested.
func (c *Controller) OnStop(inj node.Injector) error {
	db, err := node.Get[kv.DB](inj)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	err = db.Close()
	if err != nil {
		return xerrors.Errorf("failed to close db: %v", err)
	}

	if c.tracing {
		err = tracing.CloseAll()
		if err != nil {
			return xerrors.Errorf("tracing: %v", err)
		}
	}

	if c.metrics != "" {
		err = writeMetrics(c.metrics)
		if err != nil {
			return xerrors.Errorf("metrics: %v", err)
		}
	}

	return nil
}

func openDB(kind, path string) (kv.DB, error) {
	switch kind {
	case BboltDB, "":
		return kv.NewBolt(path, kv.WithTimeout(lockTimeout))
	case LevelDB:
		return kv.NewLevelDB(path)
	case MemoryDB:
		return mem.NewDB(), nil
	default:
		return nil, xerrors.Errorf("unknown database type '%s'", kind)
	}
}

// writeMetrics writes the metrics of the collectors in the text exposition
// format so that a node exporter can collect them.
func writeMetrics(path string) error {
	registry := prometheus.NewRegistry()

	for _, c := range rexec.PromCollectors {
		err := registry.Register(c)
		if err != nil {
			return xerrors.Errorf("failed to register: %v", err)
		}
	}

	families, err := registry.Gather()
	if err != nil {
		return xerrors.Errorf("failed to gather: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("failed to create file: %v", err)
	}

	defer file.Close()

	enc := expfmt.NewEncoder(file, expfmt.FmtText)

	for _, family := range families {
		err = enc.Encode(family)
		if err != nil {
			return xerrors.Errorf("failed to encode: %v", err)
		}
	}

	return nil
}
