// Package memstore is a process-local implementation of every storage interface the
// services depend on. It backs tests and STORE_BACKEND=memory.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"listings-hub/internal/apperr"
	"listings-hub/internal/model"
)

// Store keeps listings, events, daily metrics and the refresh flag in memory.
type Store struct {
	mu       sync.RWMutex
	listings []model.ListingRecord
	events   []model.ListingEvent
	metrics  map[string]model.DailyMetric

	lockMu sync.Mutex
	holder string
	now    func() time.Time

	// FailSync and FailUpsert make the next writes return an error.
	FailSync   error
	FailUpsert error
}

func New() *Store {
	return &Store{metrics: make(map[string]model.DailyMetric), now: time.Now}
}

// SyncListings replaces the whole listings snapshot.
func (s *Store) SyncListings(_ context.Context, listings []model.FlattenedListing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSync != nil {
		return s.FailSync
	}
	syncedAt := s.now()
	next := make([]model.ListingRecord, 0, len(listings))
	seen := make(map[string]int, len(listings))
	for _, l := range listings {
		rec := model.ProjectListing(l, syncedAt)
		if rec.ListingID == "" {
			return fmt.Errorf("listing without %s", model.FieldListingID)
		}
		if _, err := json.Marshal(rec.RawPayload); err != nil {
			return fmt.Errorf("encode listing %s: %w", rec.ListingID, err)
		}
		if i, ok := seen[rec.ListingID]; ok {
			next[i] = rec
			continue
		}
		seen[rec.ListingID] = len(next)
		next = append(next, rec)
	}
	s.listings = next
	return nil
}

// ListingsPage returns the visible listings on page q and the total visible count.
func (s *Store) ListingsPage(_ context.Context, q model.PageQuery) ([]model.ListingRecord, int, error) {
	q = q.Normalize()
	s.mu.RLock()
	visible := make([]model.ListingRecord, 0, len(s.listings))
	for _, rec := range s.listings {
		if rec.Visible() {
			visible = append(visible, rec)
		}
	}
	s.mu.RUnlock()

	sortListings(visible, q.Sort)
	total := len(visible)
	from := q.Offset()
	if from >= total {
		return []model.ListingRecord{}, total, nil
	}
	to := from + q.PageSize
	if to > total {
		to = total
	}
	return visible[from:to], total, nil
}

// ListingByID returns a visible listing or apperr.ErrNotFound.
func (s *Store) ListingByID(_ context.Context, listingID string) (model.ListingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.listings {
		if rec.ListingID == listingID {
			if !rec.Visible() {
				break
			}
			return rec, nil
		}
	}
	return model.ListingRecord{}, apperr.ErrNotFound
}

func sortListings(recs []model.ListingRecord, by model.ListingSort) {
	switch by {
	case model.SortPayDesc:
		sort.SliceStable(recs, func(i, j int) bool {
			return lessNullsLast(recs[i].RateMax, recs[j].RateMax, func(a, b float64) bool { return a > b })
		})
	case model.SortPayAsc:
		sort.SliceStable(recs, func(i, j int) bool {
			return lessNullsLast(recs[i].RateMin, recs[j].RateMin, func(a, b float64) bool { return a < b })
		})
	default:
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		})
	}
}

func lessNullsLast(a, b *float64, less func(a, b float64) bool) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return less(*a, *b)
	}
}

// InsertEvents appends events to the log.
func (s *Store) InsertEvents(_ context.Context, events []model.ListingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// EventsBetween returns events with from <= OccurredAt < to.
func (s *Store) EventsBetween(_ context.Context, from, to time.Time) ([]model.ListingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ListingEvent
	for _, ev := range s.events {
		if !ev.OccurredAt.Before(from) && ev.OccurredAt.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// UpsertDailyMetrics replaces the stored row of each bucket's (listing, date) key.
func (s *Store) UpsertDailyMetrics(_ context.Context, buckets []model.DailyMetricBucket, aggregatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpsert != nil {
		return s.FailUpsert
	}
	for _, b := range buckets {
		at := aggregatedAt
		s.metrics[b.Key()] = model.DailyMetric{
			ListingID:          b.ListingID,
			MetricDate:         b.MetricDate,
			ViewCount:          b.ViewCount,
			OverlayOpenCount:   b.OverlayOpenCount,
			ReferralClickCount: b.ReferralClickCount,
			ClickThroughRate:   b.ClickThroughRate(),
			LastAggregatedAt:   &at,
		}
	}
	return nil
}

// DailyMetrics returns stored metrics in the inclusive date range, newest day first.
func (s *Store) DailyMetrics(_ context.Context, f model.MetricFilters) ([]model.DailyMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DailyMetric, 0)
	for _, m := range s.metrics {
		if m.MetricDate < f.StartDate || m.MetricDate > f.EndDate {
			continue
		}
		if f.ListingID != "" && m.ListingID != f.ListingID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MetricDate != out[j].MetricDate {
			return out[i].MetricDate > out[j].MetricDate
		}
		return out[i].ListingID < out[j].ListingID
	})
	return out, nil
}

// TryLockRefresh records holder as the refresh owner if no one holds the flag.
func (s *Store) TryLockRefresh(_ context.Context, holder string) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.holder != "" {
		return false, nil
	}
	s.holder = holder
	return true, nil
}

// UnlockRefresh clears the refresh flag if holder owns it.
func (s *Store) UnlockRefresh(_ context.Context, holder string) error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.holder == holder {
		s.holder = ""
	}
	return nil
}

// Refreshing reports whether the refresh flag is set.
func (s *Store) Refreshing() bool {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	return s.holder != ""
}
