package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tournevent/shiprouter/internal/server"
	"github.com/tournevent/shiprouter/internal/telemetry"
	"github.com/tournevent/shiprouter/pkg/shipper"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shiprouter",
	Short:   "Shipping router - picks the cheapest reliable carrier for each order",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the retry scheduler",
	RunE:  runServe,
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Print the routing decision for an order file",
	RunE:  runRoute,
}

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Look up the customer rate table",
	RunE:  runRate,
}

func init() {
	routeCmd.Flags().StringP("file", "f", "", "order JSON file (- for stdin)")
	_ = routeCmd.MarkFlagRequired("file")

	rateCmd.Flags().Int("zone", 0, "shipping zone")
	rateCmd.Flags().Float64("weight-kg", 0, "package weight in kilograms")
	rateCmd.Flags().String("table", "", "rate table YAML file (defaults to RATE_TABLE_PATH or the built-in table)")
	_ = rateCmd.MarkFlagRequired("zone")
	_ = rateCmd.MarkFlagRequired("weight-kg")

	rootCmd.AddCommand(serveCmd, routeCmd, rateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.WithoutCancel(ctx))
	}

	metrics := telemetry.NewMetrics(nil)
	a, err := initApp(ctx, cfg, logger, tracer, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("Starting shiprouter",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
	)

	a.queue.Start(ctx)
	defer a.queue.Stop()

	srv := server.New(server.Config{Port: cfg.Port}, server.Deps{
		Router:   a.router,
		Tracking: a.tracking,
		Jobs:     a.queue,
		Messages: a.executor.MerchantMessage,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path, _ := cmd.Flags().GetString("file")

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading order: %w", err)
	}
	var order shipper.OrderData
	if err := json.Unmarshal(data, &order); err != nil {
		return fmt.Errorf("decoding order: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Decisions only: nothing is persisted or published.
	cfg.PostgresDSN = ""
	cfg.KafkaBrokers = nil
	cfg.RetryStateFile = ""
	cfg.OTELEnabled = false

	logger := telemetry.NewNopLogger()
	tracer, _, err := initTracer(ctx, cfg)
	if err != nil {
		return err
	}
	a, err := initApp(ctx, cfg, logger, tracer, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	d, stdErr := a.router.Route(ctx, order)
	if stdErr != nil {
		return fmt.Errorf("%s: %s", stdErr.Class, a.executor.MerchantMessage(stdErr))
	}
	return printJSON(cmd, d)
}

func runRate(cmd *cobra.Command, args []string) error {
	zone, _ := cmd.Flags().GetInt("zone")
	kg, _ := cmd.Flags().GetFloat64("weight-kg")
	path, _ := cmd.Flags().GetString("table")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if path != "" {
		cfg.RateTablePath = path
	}
	table, err := initRateTable(cfg)
	if err != nil {
		return err
	}

	out := struct {
		Zone     int      `json:"zone"`
		WeightKg float64  `json:"weight_kg"`
		Price    *float64 `json:"price"`
		Currency string   `json:"currency"`
		Quotable bool     `json:"quotable"`
	}{Zone: zone, WeightKg: kg, Currency: table.Currency}
	out.Price = table.Lookup(zone, kg)
	out.Quotable = out.Price != nil
	return printJSON(cmd, out)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
