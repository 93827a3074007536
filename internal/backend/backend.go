// Package backend opens the configured listings store.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"listings-hub/internal/config"
	"listings-hub/internal/memstore"
	"listings-hub/internal/model"
	"listings-hub/internal/pg"
)

// Store is everything the binaries need from the listings store.
type Store interface {
	SyncListings(ctx context.Context, listings []model.FlattenedListing) error
	ListingsPage(ctx context.Context, q model.PageQuery) ([]model.ListingRecord, int, error)
	ListingByID(ctx context.Context, listingID string) (model.ListingRecord, error)
	UpsertDailyMetrics(ctx context.Context, buckets []model.DailyMetricBucket, aggregatedAt time.Time) error
	DailyMetrics(ctx context.Context, f model.MetricFilters) ([]model.DailyMetric, error)
	TryLockRefresh(ctx context.Context, holder string) (bool, error)
	UnlockRefresh(ctx context.Context, holder string) error
}

var (
	_ Store = (*pg.Store)(nil)
	_ Store = (*memstore.Store)(nil)
)

// Open connects to the backend selected by cfg.StoreBackend and ensures its schema.
// The returned func releases it.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), func() {}, nil
	case config.StoreBackendPostgres:
		store, err := pg.New(ctx, pg.Options{
			DSN:      cfg.PostgresDSN,
			MaxConns: cfg.PGMaxConns,
			LockTTL:  cfg.RefreshLockTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
