package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"listings-hub/internal/analytics"
	"listings-hub/internal/backend"
	"listings-hub/internal/ch"
	"listings-hub/internal/config"
	"listings-hub/internal/logging"
	"listings-hub/internal/model"
)

func main() {
	date := flag.String("date", "", "UTC day to aggregate: YYYY-MM-DD or today (default today)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, "aggregate-metrics")

	day, err := analytics.ResolveDay(*date, time.Now())
	if err != nil {
		logger.Error("invalid --date", "value", *date, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, day); err != nil {
		logger.Error("aggregation failed", "day", day.Format(model.MetricDateLayout), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, day time.Time) error {
	events, err := ch.New(ctx, cfg.ClickHouseDSN)
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	defer events.Close()

	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := analytics.NewDailyJob(events, store, logger).Run(ctx, day)
	if err != nil {
		return err
	}
	logger.Info("aggregation complete", "day", day.Format(model.MetricDateLayout), "rows", rows)
	return nil
}
