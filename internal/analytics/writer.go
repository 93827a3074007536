package analytics

import (
	"context"
	"time"

	"listings-hub/internal/apperr"
	"listings-hub/internal/model"
)

// MetricsStore persists daily buckets keyed by (listing, date). Storing a bucket replaces
// whatever was stored for its key.
type MetricsStore interface {
	UpsertDailyMetrics(ctx context.Context, buckets []model.DailyMetricBucket, aggregatedAt time.Time) error
}

// Writer upserts aggregated buckets. Failures are surfaced, never retried.
type Writer struct {
	store MetricsStore
	now   func() time.Time
}

func NewWriter(store MetricsStore) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Upsert stores buckets with last_aggregated_at set to now. Empty input is a no-op.
func (w *Writer) Upsert(ctx context.Context, buckets []model.DailyMetricBucket) error {
	if len(buckets) == 0 {
		return nil
	}
	if err := w.store.UpsertDailyMetrics(ctx, buckets, w.now().UTC()); err != nil {
		return &apperr.PersistenceError{Op: "upsert daily metrics", Err: err}
	}
	return nil
}
