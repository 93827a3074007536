package main

import (
	"context"
	"errors"
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
	"listings-hub/internal/model"
	"listings-hub/internal/refresh"
	"listings-hub/internal/upstream"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "fetch and flatten listings without writing them")
	concurrency := flag.Int("concurrency", 0, "detail fetch workers (default SYNC_CONCURRENCY)")
	out := flag.String("out", "", "also write the flattened snapshot to this JSONL file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *concurrency == 0 {
		*concurrency = cfg.SyncConcurrency
	}
	logger := logging.New(cfg.LogLevel, "refresh-listings")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *dryRun, *concurrency, *out); err != nil {
		logger.Error("listings refresh failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, dryRun bool, concurrency int, out string) error {
	source, err := upstream.New(upstream.Options{
		BaseURL:   cfg.UpstreamBaseURL,
		Token:     cfg.UpstreamToken,
		UserAgent: cfg.UpstreamUserAgent,
		Origin:    cfg.UpstreamOrigin,
		Timeout:   cfg.UpstreamTimeout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if dryRun {
		listings, err := ingestion.NewSyncer(source, nil, logger).Collect(ctx, concurrency)
		if err != nil {
			return err
		}
		for i, l := range listings {
			listings[i] = ingestion.Sanitize(l)
		}
		if err := writeSnapshot(out, listings); err != nil {
			return err
		}
		fmt.Printf("Dry run complete. Records collected: %d.\n", len(listings))
		return nil
	}

	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sink := ingestion.ListingSink(store)
	if out != "" {
		sink = &teeSink{next: store, path: out}
	}
	runner := refresh.NewRunner(refresh.NewLock(store), ingestion.NewSyncer(source, sink, logger), logger)
	status, err := runner.Run(ctx, ingestion.Options{Concurrency: concurrency})
	if errors.Is(err, refresh.ErrInProgress) {
		return fmt.Errorf("another refresh holds the lock: %w", err)
	}
	if err != nil {
		return err
	}
	fmt.Println(status.Message)
	return nil
}

// teeSink writes the snapshot to a JSONL file before handing it to the store.
type teeSink struct {
	next ingestion.ListingSink
	path string
}

func (t *teeSink) SyncListings(ctx context.Context, listings []model.FlattenedListing) error {
	if err := writeSnapshot(t.path, listings); err != nil {
		return err
	}
	return t.next.SyncListings(ctx, listings)
}

func writeSnapshot(path string, listings []model.FlattenedListing) (err error) {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close snapshot file: %w", cerr)
		}
	}()
	return ingestion.WriteJSONL(f, listings)
}
