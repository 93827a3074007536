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

	"listings-hub/internal/backend"
	"listings-hub/internal/config"
	"listings-hub/internal/ingestion"
	"listings-hub/internal/logging"
)

func main() {
	file := flag.String("file", "docs/listings.jsonl", "JSONL snapshot of flattened listings")
	dryRun := flag.Bool("dry-run", false, "parse the file without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, "seed-listings")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seed(ctx, cfg, logger, *file, *dryRun); err != nil {
		logger.Error("failed to seed listings", "file", *file, "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg config.Config, logger *slog.Logger, path string, dryRun bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("seed file: %w", err)
	}
	defer f.Close()

	listings, err := ingestion.ReadJSONL(f, logger)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		logger.Warn("no listings found in the provided file; nothing to seed")
		return nil
	}
	if dryRun {
		logger.Info("dry run; skipping write", "records", len(listings))
		return nil
	}

	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	logger.Info("seeding listings", "records", len(listings), "store", cfg.StoreBackend)
	if err := store.SyncListings(ctx, listings); err != nil {
		return err
	}
	logger.Info("seeded listings successfully", "records", len(listings))
	return nil
}
