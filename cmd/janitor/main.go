package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/coordinator"
	"github.com/corvohq/janitor/internal/observability"
	"github.com/corvohq/janitor/internal/server"
	"github.com/corvohq/janitor/internal/store"
	"github.com/corvohq/janitor/internal/tasks"
)

var (
	logLevel string

	dataDir      string
	lockDirFlag  string
	catalogFile  string
	experimental bool
	threads      int
	abortScript  int
	abortTask    int
	rowsPerSec   float64
	statusAddr   string
	otelEnabled  bool
	otelEndpoint string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Janitor — maintenance-job scheduler and bounded batch-deletion engine",
	Long: "Continuously garbage-collects a large, continuously-written relational store\n" +
		"in bounded, committed chunks, without long transactions or exclusive locks.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	for _, cmd := range []*cobra.Command{frequentCmd, hourlyCmd, dailyCmd, serveCmd} {
		cmd.Flags().StringVar(&dataDir, "data-dir", "data", "Directory for the janitor SQLite database")
		cmd.Flags().StringVar(&lockDirFlag, "lock-dir", "", "Shared advisory lock directory (default <data-dir>/locks)")
		cmd.Flags().StringVar(&catalogFile, "catalog-file", "", "JSON catalog overrides file (chunk sizes, disabled tasks)")
		cmd.Flags().BoolVar(&experimental, "experimental", false, "Include experimental tasks")
		cmd.Flags().IntVar(&threads, "threads", 0, "Worker threads (default: CPU count)")
		cmd.Flags().Float64Var(&rowsPerSec, "rows-per-sec", 0, "Pacing budget in rows/sec across all workers (0 = unpaced)")
		cmd.Flags().BoolVar(&otelEnabled, "otel-enabled", false, "Enable OpenTelemetry tracing of task runs")
		cmd.Flags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stdout exporter")
	}
	for _, cmd := range []*cobra.Command{frequentCmd, hourlyCmd, dailyCmd} {
		cmd.Flags().IntVar(&abortScript, "abort-script", 0, "Overall wall-clock budget in seconds (default: tier budget)")
		cmd.Flags().IntVar(&abortTask, "abort-task", 0, "Fixed per-task time ceiling in seconds (default: fair share)")
		cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Optional status HTTP listen address for this run")
	}

	rootCmd.AddCommand(frequentCmd, hourlyCmd, dailyCmd, serveCmd, listCmd, checkpointsCmd)
}

var frequentCmd = &cobra.Command{
	Use:   "frequent",
	Short: "Run the frequent maintenance tier (default budget 5m)",
	RunE:  tierRunE(catalog.TierFrequent),
}

var hourlyCmd = &cobra.Command{
	Use:   "hourly",
	Short: "Run the hourly maintenance tier (default budget 55m)",
	RunE:  tierRunE(catalog.TierHourly),
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Run the daily maintenance tier (default budget 23.5h)",
	RunE:  tierRunE(catalog.TierDaily),
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func lockDir() string {
	if lockDirFlag != "" {
		return lockDirFlag
	}
	return filepath.Join(dataDir, "locks")
}

func buildRegistry() (*catalog.Registry, error) {
	descriptors := tasks.Catalog()
	if catalogFile != "" {
		ov, err := catalog.LoadOverrides(catalogFile)
		if err != nil {
			return nil, err
		}
		descriptors, err = ov.Apply(descriptors)
		if err != nil {
			return nil, err
		}
		slog.Info("catalog overrides applied", "file", catalogFile, "tasks", len(descriptors))
	}
	return catalog.NewRegistry(descriptors...)
}

func tierRunE(tier catalog.Tier) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		failed, err := runTier(tier)
		if err != nil {
			return err
		}
		if failed > 0 {
			// Exit code carries the failure count; clamp below the shell's
			// reserved range so it never wraps to 0.
			if failed > 125 {
				failed = 125
			}
			os.Exit(failed)
		}
		return nil
	}
}

func runTier(tier catalog.Tier) (int, error) {
	reg, err := buildRegistry()
	if err != nil {
		return 0, err
	}

	otelShutdown, err := observability.InitTracer(otelEnabled, otelEndpoint)
	if err != nil {
		return 0, fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()

	db, err := store.Open(dataDir)
	if err != nil {
		return 0, err
	}
	st := store.NewStore(db)
	defer st.Close()

	cfg := coordinator.Config{
		Threads:       threads,
		ScriptTimeout: time.Duration(abortScript) * time.Second,
		TaskTimeout:   time.Duration(abortTask) * time.Second,
		LockDir:       lockDir(),
		Experimental:  experimental,
		RowsPerSec:    rowsPerSec,
	}
	coord := coordinator.New(st, reg, cfg, slog.Default())

	if statusAddr != "" {
		srv := server.New(st, coord.Progress(), statusAddr)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("status server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	res := coord.Run(ctx, tier)
	return res.Failed, nil
}
