package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/automaton-market/poolnode/cmd/poolnode/config"
	"github.com/automaton-market/poolnode/log"
	"github.com/automaton-market/poolnode/server/api"
	"github.com/automaton-market/poolnode/server/api/middleware"
	"github.com/automaton-market/poolnode/x/aggregator"
	"github.com/automaton-market/poolnode/x/costmodel"
	"github.com/automaton-market/poolnode/x/pool"
	"github.com/automaton-market/poolnode/x/registry"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "poolnode",
		Short: "Automation marketplace pool node",
		Long:  "Runs one tenant's automation pool: batch registration, the check/perform work protocol, gas settlement, and capacity billing.",
		RunE:  runApp,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfig,
	}
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/poolnode.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")
	rootCmd.PersistentFlags().String("listen-addr", "", "HTTP API listen address")
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "metrics server port")
}

func runVersion(_ *cobra.Command, _ []string) {
	fmt.Printf("poolnode %s (built %s, commit %s, %s)\n", Version, BuildTime, GitCommit, runtime.Version())
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)

	logger := log.New(cfg.Log.Level, cfg.Log.Pretty)

	logger.Info().
		Str("version", Version).
		Str("go_version", runtime.Version()).
		Str("config_file", cfgFile).
		Str("listen_addr", cfg.API.ListenAddr).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Msg("Configuration loaded")

	regCfg := registry.DefaultConfig()
	regCfg.Restrictions.CheckGasLimit = cfg.Registry.CheckGasLimit
	regCfg.Restrictions.PerformGasLimit = cfg.Registry.PerformGasLimit
	regCfg.Restrictions.MinBalancePerBatch, _ = new(big.Int).SetString(cfg.Registry.MinBalancePerBatch, 10)
	regCfg.Restrictions.MaxBatchesPerPool = cfg.Registry.MaxBatchesPerPool
	regCfg.Restrictions.PlatformFeeBps = cfg.Registry.PlatformFeeBps
	regCfg.Restrictions.RegistryFeeBps = cfg.Registry.RegistryFeeBps
	regCfg.Restrictions.GasPremiumPercent = cfg.Registry.GasPremiumPercent
	regCfg.Billing.Interval = cfg.Registry.BillingInterval
	regCfg.Billing.GracePeriod = cfg.Registry.GracePeriod
	regCfg.Billing.ClosingPeriod = cfg.Registry.ClosingPeriod
	regCfg.Billing.FeePerBatch, _ = new(big.Int).SetString(cfg.Registry.FeePerBatch, 10)
	for _, addr := range cfg.Registry.CostOracles {
		regCfg.CostOracles = append(regCfg.CostOracles, common.HexToAddress(addr))
	}

	reg, err := registry.NewMemoryRegistry(regCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build tenant registry: %w", err)
	}

	unitPrice, _ := new(big.Int).SetString(cfg.Pool.UnitPrice, 10)
	env := aggregator.NewMemoryEnv(unitPrice, cfg.Pool.BaseGas, cfg.Pool.ByteGas)

	var costCalc costmodel.Calculator
	var costOracle common.Address
	if cfg.Pool.CostOracle != "" {
		costCalc = costmodel.RollupCalculator{
			PerByteUnits: cfg.Pool.DataFeePerByte,
			ScalarBps:    cfg.Pool.DataFeeScalarBps,
		}
		costOracle = common.HexToAddress(cfg.Pool.CostOracle)
	}

	p, err := pool.New(pool.Config{
		Logger:     logger,
		Identity:   common.HexToAddress(cfg.Pool.Identity),
		Owner:      common.HexToAddress(cfg.Pool.Owner),
		Registry:   reg,
		Env:        env,
		CostCalc:   costCalc,
		CostOracle: costOracle,
	})
	if err != nil {
		return fmt.Errorf("failed to build pool: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(cfg.API, logger)
	srv.Use(middleware.RequestID())
	srv.Use(middleware.Logger(logger))
	srv.Use(middleware.Recover(logger))
	api.RegisterPoolRoutes(srv, p)

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start(ctx) }()

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			m := http.NewServeMux()
			m.Handle(cfg.Metrics.Path, p.Metrics().Registry().Handler())
			ms := &http.Server{Addr: addr, Handler: m, ReadHeaderTimeout: 5 * time.Second}
			logger.Info().Str("addr", addr).Msg("metrics server starting")
			errCh <- ms.ListenAndServe()
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if cmd.Flags().Changed("log-pretty") {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		cfg.API.ListenAddr = v
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
	if v, _ := cmd.Flags().GetInt("metrics-port"); v != 0 {
		cfg.Metrics.Port = v
	}
}
