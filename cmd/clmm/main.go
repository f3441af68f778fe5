package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/defistate/defistate-clmm/cmd/clmm/config"
	"github.com/defistate/defistate-clmm/engine"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator"
	"github.com/defistate/defistate-clmm/protocols/clmm/calculator/tickmath"
	"github.com/defistate/defistate-clmm/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clmm",
		Short:        "Concentrated-liquidity AMM engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "config file path (defaults are used when empty)")

	runCmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario against a fresh engine",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	runCmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address (overrides the config)")
	runCmd.Flags().Bool("serve", false, "keep serving metrics after the scenario until interrupted")
	root.AddCommand(runCmd)

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Convert between ticks, square root prices and prices",
	}
	priceCmd.PersistentFlags().Uint8("decimals0", 0, "decimals of token0")
	priceCmd.PersistentFlags().Uint8("decimals1", 0, "decimals of token1")
	priceCmd.AddCommand(&cobra.Command{
		Use:   "tick <tick>",
		Short: "Price of token0 in token1 at a tick",
		Args:  cobra.ExactArgs(1),
		RunE:  tickToPrice,
	})
	priceCmd.AddCommand(&cobra.Command{
		Use:   "from <price>",
		Short: "Square root price and tick of a price of token0 in token1",
		Args:  cobra.ExactArgs(1),
		RunE:  priceToTick,
	})
	root.AddCommand(priceCmd)

	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(cmd.OutOrStdout(), &slog.HandlerOptions{Level: level}))

	scenario, err := LoadScenario(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Serving metrics", "addr", cfg.MetricsAddr)
	}

	runner, err := NewRunner(scenario, logger)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, runner.Clock, registry, logger)
	if err != nil {
		return err
	}
	if err := runner.Attach(eng); err != nil {
		return err
	}
	if err := runner.Run(ctx, scenario); err != nil {
		logger.Error("Scenario failed", "error", err)
		return err
	}
	logger.Info("Scenario complete", "steps", len(scenario.Steps), "pools", len(eng.Pools()))

	if serve, _ := cmd.Flags().GetBool("serve"); serve && cfg.MetricsAddr != "" {
		<-ctx.Done()
	}
	return nil
}

func newEngine(cfg *config.Config, clock engine.Clock, reg prometheus.Registerer, logger *slog.Logger) (*engine.Engine, error) {
	programID, err := cfg.Program()
	if err != nil {
		return nil, err
	}
	st, err := store.New(&store.Config{Logger: logger.With("component", "store")})
	if err != nil {
		return nil, err
	}
	return engine.New(&engine.Config{
		FeeTiers:               cfg.AmmConfigs(),
		ProgramID:              programID,
		ObservationCardinality: cfg.ObservationCardinality,
		Store:                  st,
		Clock:                  clock,
		Registry:               reg,
		Logger:                 logger.With("component", "engine"),
	})
}

func decimalsFlags(cmd *cobra.Command) (uint8, uint8) {
	d0, _ := cmd.Flags().GetUint8("decimals0")
	d1, _ := cmd.Flags().GetUint8("decimals1")
	return d0, d1
}

func tickToPrice(cmd *cobra.Command, args []string) error {
	tick, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}
	sqrtPrice, err := tickmath.GetSqrtPriceAtTick(int32(tick))
	if err != nil {
		return err
	}
	d0, d1 := decimalsFlags(cmd)
	fmt.Fprintf(cmd.OutOrStdout(), "tick\t%d\nsqrt_price_x64\t%s\nprice\t%s\n",
		tick, sqrtPrice, calculator.SpotPrice(sqrtPrice, d0, d1).String())
	return nil
}

func priceToTick(cmd *cobra.Command, args []string) error {
	price, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	d0, d1 := decimalsFlags(cmd)
	sqrtPrice, err := calculator.SqrtPriceFromPrice(price, d0, d1)
	if err != nil {
		return err
	}
	tick, err := tickmath.GetTickAtSqrtPrice(sqrtPrice)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "price\t%s\nsqrt_price_x64\t%s\ntick\t%d\n", price.String(), sqrtPrice, tick)
	return nil
}
