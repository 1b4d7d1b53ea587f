package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/corvohq/janitor/internal/catalog"
	"github.com/corvohq/janitor/internal/coordinator"
	"github.com/corvohq/janitor/internal/observability"
	"github.com/corvohq/janitor/internal/server"
	"github.com/corvohq/janitor/internal/store"
)

var (
	serveStatusAddr  string
	frequentSchedule string
	hourlySchedule   string
	dailySchedule    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run all tiers on internal cron schedules in one long-lived process",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveStatusAddr, "status-addr", ":8080", "Status HTTP listen address")
	serveCmd.Flags().StringVar(&frequentSchedule, "frequent-schedule", "*/5 * * * *", "Cron expression for the frequent tier")
	serveCmd.Flags().StringVar(&hourlySchedule, "hourly-schedule", "5 * * * *", "Cron expression for the hourly tier")
	serveCmd.Flags().StringVar(&dailySchedule, "daily-schedule", "30 0 * * *", "Cron expression for the daily tier")
}

func runServe(cmd *cobra.Command, args []string) error {
	reg, err := buildRegistry()
	if err != nil {
		return err
	}

	otelShutdown, err := observability.InitTracer(otelEnabled, otelEndpoint)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()

	db, err := store.Open(dataDir)
	if err != nil {
		return err
	}
	st := store.NewStore(db)
	defer st.Close()

	cfg := coordinator.Config{
		Threads:      threads,
		TaskTimeout:  0,
		LockDir:      lockDir(),
		Experimental: experimental,
		RowsPerSec:   rowsPerSec,
	}
	coord := coordinator.New(st, reg, cfg, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	c := cron.New()
	schedules := []struct {
		tier catalog.Tier
		expr string
	}{
		{catalog.TierFrequent, frequentSchedule},
		{catalog.TierHourly, hourlySchedule},
		{catalog.TierDaily, dailySchedule},
	}
	for _, s := range schedules {
		tier := s.tier
		if _, err := c.AddFunc(s.expr, func() {
			res := coord.RunWithBudget(ctx, tier, tier.Budget())
			if res.Failed > 0 {
				slog.Error("tier run had failures", "tier", tier, "failed", res.Failed)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s tier: %w", s.tier, err)
		}
		slog.Info("tier scheduled", "tier", s.tier, "cron", s.expr)
	}
	c.Start()

	srv := server.New(st, coord.Progress(), serveStatusAddr)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("status server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("janitor serving", "status_addr", serveStatusAddr, "tasks", len(reg.All()))

	<-ctx.Done()
	slog.Info("received shutdown signal")

	// Stop launching new tier runs, then let in-flight chunks land.
	cronCtx := c.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(60 * time.Second):
		slog.Warn("cron jobs still draining after 60s; shutting down anyway")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("status server shutdown error", "error", err)
	}

	slog.Info("janitor stopped")
	return nil
}
