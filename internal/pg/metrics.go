package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"listings-hub/internal/model"
)

const upsertMetric = `INSERT INTO listing_metrics_daily
  (listing_id, metric_date, view_count, overlay_open_count, referral_click_count, click_through_rate, last_aggregated_at)
VALUES ($1, $2::date, $3, $4, $5, $6, $7)
ON CONFLICT (listing_id, metric_date) DO UPDATE SET
  view_count           = EXCLUDED.view_count,
  overlay_open_count   = EXCLUDED.overlay_open_count,
  referral_click_count = EXCLUDED.referral_click_count,
  click_through_rate   = EXCLUDED.click_through_rate,
  last_aggregated_at   = EXCLUDED.last_aggregated_at`

// UpsertDailyMetrics writes buckets in one transaction, replacing existing rows by key.
func (s *Store) UpsertDailyMetrics(ctx context.Context, buckets []model.DailyMetricBucket, aggregatedAt time.Time) error {
	if len(buckets) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, m := range buckets {
		b.Queue(upsertMetric,
			m.ListingID, m.MetricDate, m.ViewCount, m.OverlayOpenCount, m.ReferralClickCount,
			m.ClickThroughRate(), aggregatedAt.UTC(),
		)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, b)
		for i := 0; i < len(buckets); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("upsert metric %s: %w", buckets[i].Key(), err)
			}
		}
		return br.Close()
	})
}

// DailyMetrics returns stored metrics in the inclusive date range, newest day first.
func (s *Store) DailyMetrics(ctx context.Context, f model.MetricFilters) ([]model.DailyMetric, error) {
	rows, err := s.pool.Query(ctx, `
SELECT listing_id, to_char(metric_date, 'YYYY-MM-DD'), view_count, overlay_open_count,
       referral_click_count, click_through_rate, last_aggregated_at
FROM listing_metrics_daily
WHERE metric_date BETWEEN $1::date AND $2::date
  AND ($3 = '' OR listing_id = $3)
ORDER BY metric_date DESC, listing_id`, f.StartDate, f.EndDate, f.ListingID)
	if err != nil {
		return nil, fmt.Errorf("load listing metrics: %w", err)
	}
	defer rows.Close()

	out := make([]model.DailyMetric, 0)
	for rows.Next() {
		var (
			m  model.DailyMetric
			at time.Time
		)
		if err := rows.Scan(&m.ListingID, &m.MetricDate, &m.ViewCount, &m.OverlayOpenCount,
			&m.ReferralClickCount, &m.ClickThroughRate, &at); err != nil {
			return nil, fmt.Errorf("scan listing metric: %w", err)
		}
		at = at.UTC()
		m.LastAggregatedAt = &at
		out = append(out, m)
	}
	return out, rows.Err()
}
