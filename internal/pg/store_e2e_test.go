//go:build e2e

package pg

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"listings-hub/internal/apperr"
	"listings-hub/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := New(ctx, Options{DSN: dsn, MaxConns: 4, LockTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	_, err = s.pool.Exec(ctx, `TRUNCATE job_listings, listing_metrics_daily`)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `UPDATE refresh_lock SET locked = false, locked_at = NULL, holder = NULL`)
	require.NoError(t, err)
	return s
}

func TestSyncListingsSnapshotReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SyncListings(ctx, []model.FlattenedListing{
		{"listingId": "a", "title": "A", "rateMin": 10.0, "rateMax": 20.0, "createdAt": "2025-01-01T00:00:00Z"},
		{"listingId": "b", "title": "B", "rateMax": 50.0, "createdAt": "2025-01-02T00:00:00Z"},
		{"listingId": "p", "title": "Private", "isPrivate": true},
	}))

	recs, total, err := s.ListingsPage(ctx, model.PageQuery{Page: 1, PageSize: 10, Sort: model.SortPayDesc})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, "b", recs[0].ListingID)
	require.Equal(t, "B", recs[0].RawPayload["title"])

	_, err = s.ListingByID(ctx, "p")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.SyncListings(ctx, []model.FlattenedListing{{"listingId": "c"}}))
	_, err = s.ListingByID(ctx, "a")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	rec, err := s.ListingByID(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, rec.Status)
}

func TestUpsertDailyMetricsIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	buckets := []model.DailyMetricBucket{{ListingID: "a", MetricDate: "2025-03-01", ViewCount: 3, OverlayOpenCount: 1, ReferralClickCount: 1}}

	require.NoError(t, s.UpsertDailyMetrics(ctx, buckets, time.Now()))
	require.NoError(t, s.UpsertDailyMetrics(ctx, buckets, time.Now()))

	rows, err := s.DailyMetrics(ctx, model.MetricFilters{StartDate: "2025-03-01", EndDate: "2025-03-01"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(3), rows[0].ViewCount)
	require.InDelta(t, 1.0/3.0, rows[0].ClickThroughRate, 1e-9)
}

func TestRefreshLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.TryLockRefresh(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TryLockRefresh(ctx, "job-2")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.UnlockRefresh(ctx, "job-1"))
	ok, err = s.TryLockRefresh(ctx, "job-2")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.UnlockRefresh(ctx, "job-2"))
}

func TestExpiredHolderCannotReleaseTakenOverLock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.TryLockRefresh(ctx, "stale")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.pool.Exec(ctx, `UPDATE refresh_lock SET locked_at = now() - interval '1 hour'`)
	require.NoError(t, err)

	ok, err = s.TryLockRefresh(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, ok, "an expired lock can be taken over")

	require.NoError(t, s.UnlockRefresh(ctx, "stale"))
	ok, err = s.TryLockRefresh(ctx, "third")
	require.NoError(t, err)
	require.False(t, ok, "the stale holder must not clear the new owner's lock")

	require.NoError(t, s.UnlockRefresh(ctx, "fresh"))
	ok, err = s.TryLockRefresh(ctx, "third")
	require.NoError(t, err)
	require.True(t, ok)
}
