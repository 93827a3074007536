package analytics

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"listings-hub/internal/apperr"
	"listings-hub/internal/memstore"
	"listings-hub/internal/model"
)

var day = time.Date(2025, 5, 4, 0, 0, 0, 0, time.UTC)

func event(id string, typ model.EventType, at time.Time) model.ListingEvent {
	return model.ListingEvent{ListingID: id, EventType: typ, OccurredAt: at}
}

func TestAggregateSingleDay(t *testing.T) {
	buckets := Aggregate([]model.ListingEvent{
		event("listing-1", model.EventCardView, day.Add(time.Hour)),
		event("listing-1", model.EventCardView, day.Add(2*time.Hour)),
		event("listing-1", model.EventOverlayOpen, day.Add(3*time.Hour)),
		event("listing-1", model.EventReferralClick, day.Add(4*time.Hour)),
	})
	require.Len(t, buckets, 1)
	b := buckets[0]
	require.Equal(t, "2025-05-04", b.MetricDate)
	require.Equal(t, int64(3), b.ViewCount)
	require.Equal(t, int64(1), b.OverlayOpenCount)
	require.Equal(t, int64(1), b.ReferralClickCount)
	require.InDelta(t, 1.0/3.0, b.ClickThroughRate(), 1e-12)
}

func TestAggregateReferralWithoutViews(t *testing.T) {
	buckets := Aggregate([]model.ListingEvent{event("listing-2", model.EventReferralClick, day)})
	require.Len(t, buckets, 1)
	require.Zero(t, buckets[0].ViewCount)
	require.Equal(t, int64(1), buckets[0].ReferralClickCount)
	require.Zero(t, buckets[0].ClickThroughRate())
}

func TestAggregateGroupsByUTCDate(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	buckets := Aggregate([]model.ListingEvent{
		// 2025-05-04 21:00 EST is 2025-05-05 02:00 UTC.
		event("a", model.EventCardView, time.Date(2025, 5, 4, 21, 0, 0, 0, est)),
		event("a", model.EventCardView, day.Add(time.Hour)),
		event("b", model.EventCardView, day.Add(time.Hour)),
		event("a", "share", day.Add(time.Hour)),
	})
	got := map[string]int64{}
	for _, b := range buckets {
		got[b.Key()] = b.ViewCount
	}
	require.Equal(t, map[string]int64{
		"a|2025-05-04": 1,
		"a|2025-05-05": 1,
		"b|2025-05-04": 1,
	}, got)
}

func TestAggregateIsCommutative(t *testing.T) {
	types := []model.EventType{model.EventCardView, model.EventOverlayOpen, model.EventReferralClick, "unknown"}
	ids := []string{"a", "b", "c"}
	r := rand.New(rand.NewSource(7))
	events := make([]model.ListingEvent, 300)
	for i := range events {
		events[i] = event(ids[r.Intn(len(ids))], types[r.Intn(len(types))], day.Add(time.Duration(r.Intn(72))*time.Hour))
	}
	want := Aggregate(events)

	for round := 0; round < 5; round++ {
		shuffled := append([]model.ListingEvent(nil), events...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.ElementsMatch(t, want, Aggregate(shuffled))
	}
}

func TestClickThroughRateBounded(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		var events []model.ListingEvent
		for n := r.Intn(20); n > 0; n-- {
			typ := []model.EventType{model.EventCardView, model.EventOverlayOpen, model.EventReferralClick}[r.Intn(3)]
			events = append(events, event("x", typ, day))
		}
		for _, b := range Aggregate(events) {
			ctr := b.ClickThroughRate()
			if b.ViewCount == 0 {
				require.Zero(t, ctr)
				continue
			}
			require.False(t, ctr < 0)
			if b.ReferralClickCount <= b.ViewCount {
				require.LessOrEqual(t, ctr, 1.0)
			}
		}
	}
}

func TestAggregateEmpty(t *testing.T) {
	require.Empty(t, Aggregate(nil))
}

func TestAggregateSkipsUnknownTypes(t *testing.T) {
	got := Aggregate([]model.ListingEvent{
		event("a", model.EventType("share"), day),
		event("b", model.EventType(""), day),
		event("b", model.EventReferralClick, day),
	})
	require.Equal(t, []model.DailyMetricBucket{
		{ListingID: "b", MetricDate: "2025-05-04", ReferralClickCount: 1},
	}, got)
}

func TestDailyJobIgnoresUnknownOnlyDay(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.InsertEvents(ctx, []model.ListingEvent{event("a", model.EventType("share"), day)}))
	store.FailUpsert = errors.New("must not be called")

	n, err := NewDailyJob(store, store, nil).Run(ctx, day)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDailyJobIsIdempotent(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.InsertEvents(ctx, []model.ListingEvent{
		event("a", model.EventCardView, day.Add(time.Hour)),
		event("a", model.EventOverlayOpen, day.Add(2*time.Hour)),
		event("a", model.EventReferralClick, day.Add(3*time.Hour)),
		event("a", model.EventCardView, day.Add(-time.Hour)),
	}))

	job := NewDailyJob(store, store, nil)
	for i := 0; i < 2; i++ {
		n, err := job.Run(ctx, day.Add(12*time.Hour))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	rows, err := store.DailyMetrics(ctx, model.MetricFilters{StartDate: "2025-05-01", EndDate: "2025-05-31"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].ViewCount)
	require.Equal(t, int64(1), rows[0].OverlayOpenCount)
	require.Equal(t, int64(1), rows[0].ReferralClickCount)
	require.Equal(t, 0.5, rows[0].ClickThroughRate)
}

func TestDailyJobNothingToAggregate(t *testing.T) {
	store := memstore.New()
	store.FailUpsert = errors.New("must not be called")
	n, err := NewDailyJob(store, store, nil).Run(context.Background(), day)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDailyJobPersistenceFailure(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.InsertEvents(ctx, []model.ListingEvent{event("a", model.EventCardView, day)}))
	store.FailUpsert = errors.New("db down")

	_, err := NewDailyJob(store, store, nil).Run(ctx, day)
	var persistence *apperr.PersistenceError
	require.True(t, errors.As(err, &persistence))
}

type failingSource struct{ err error }

func (f failingSource) EventsBetween(context.Context, time.Time, time.Time) ([]model.ListingEvent, error) {
	return nil, f.err
}

func TestDailyJobSourceFailure(t *testing.T) {
	cause := errors.New("clickhouse unavailable")
	_, err := NewDailyJob(failingSource{err: cause}, memstore.New(), nil).Run(context.Background(), day)
	require.ErrorIs(t, err, cause)
}

func TestWriterEmptyIsNoop(t *testing.T) {
	store := memstore.New()
	store.FailUpsert = errors.New("must not be called")
	require.NoError(t, NewWriter(store).Upsert(context.Background(), nil))
}

func TestResolveDay(t *testing.T) {
	now := time.Date(2025, 6, 7, 23, 59, 0, 0, time.UTC)

	for _, arg := range []string{"", "today", " TODAY "} {
		got, err := ResolveDay(arg, now)
		require.NoError(t, err)
		require.Equal(t, time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC), got)
	}

	got, err := ResolveDay("2025-01-15", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), got)

	got, err = ResolveDay("2025-01-15T22:00:00-05:00", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC), got)

	_, err = ResolveDay("yesterday", now)
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	totals := Summarize([]model.DailyMetric{
		{ViewCount: 3, OverlayOpenCount: 1, ReferralClickCount: 1},
		{ViewCount: 2, ReferralClickCount: 2},
	})
	require.Equal(t, model.MetricTotals{ViewCount: 5, OverlayOpenCount: 1, ReferralClickCount: 3}, totals)
	require.Equal(t, model.MetricTotals{}, Summarize(nil))
}
