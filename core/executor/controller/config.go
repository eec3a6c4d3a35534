package controller

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.dedis.ch/rexec/core/executor"
	"go.dedis.ch/rexec/core/fee"
	"golang.org/x/xerrors"
)

// fileConfig is the content of the configuration file. Missing keys keep
// their default value.
type fileConfig struct {
	Network           string
	SystemLoan        uint64
	SystemLimit       uint64
	ExpectedIntents   uint
	FalsePositiveRate float64
	MaxDepth          int
	CostUnitPrice     string
	Costs             fee.CostTable
}

// loadConfig returns the configuration of the executor read from the YAML
// file, or the default one when the path is empty.
func loadConfig(path string) (executor.Config, error) {
	cfg := executor.DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	err := v.ReadInConfig()
	if err != nil {
		return cfg, xerrors.Errorf("failed to read config: %v", err)
	}

	fc := fileConfig{
		Network:           cfg.Network,
		SystemLoan:        cfg.SystemLoan,
		SystemLimit:       cfg.SystemLimit,
		ExpectedIntents:   cfg.ExpectedIntents,
		FalsePositiveRate: cfg.FalsePositiveRate,
		MaxDepth:          cfg.Kernel.MaxDepth,
		CostUnitPrice:     cfg.Kernel.CostUnitPrice.String(),
		Costs:             cfg.Kernel.Costs,
	}

	err = v.Unmarshal(&fc)
	if err != nil {
		return cfg, xerrors.Errorf("failed to decode config: %v", err)
	}

	price, err := decimal.NewFromString(fc.CostUnitPrice)
	if err != nil {
		return cfg, xerrors.Errorf("invalid cost unit price: %v", err)
	}

	cfg.Network = fc.Network
	cfg.SystemLoan = fc.SystemLoan
	cfg.SystemLimit = fc.SystemLimit
	cfg.ExpectedIntents = fc.ExpectedIntents
	cfg.FalsePositiveRate = fc.FalsePositiveRate
	cfg.Kernel.MaxDepth = fc.MaxDepth
	cfg.Kernel.CostUnitPrice = price
	cfg.Kernel.Costs = fc.Costs

	return cfg, nil
}
