package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"listings-hub/internal/apperr"
	"listings-hub/internal/logging"
	"listings-hub/internal/model"
)

// DefaultConcurrency is the number of detail fetches in flight when Options leaves it unset.
const DefaultConcurrency = 8

// Source is the upstream listings API.
type Source interface {
	FetchSummaries(ctx context.Context) ([]model.RawRecord, error)
	FetchDetail(ctx context.Context, listingID string) (model.RawRecord, error)
}

// ListingSink atomically replaces the stored listings snapshot.
type ListingSink interface {
	SyncListings(ctx context.Context, listings []model.FlattenedListing) error
}

// Options tunes one sync run.
type Options struct {
	// Concurrency caps detail fetches in flight. Zero means DefaultConcurrency and
	// negative values run a single worker.
	Concurrency int
	DryRun      bool
}

// Result describes a finished sync run.
type Result struct {
	RunID          string    `json:"runId"`
	RecordsWritten int       `json:"recordsWritten"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	DryRun         bool      `json:"dryRun"`
}

// Syncer fetches, flattens and stores the full listings snapshot.
type Syncer struct {
	source Source
	sink   ListingSink
	logger *slog.Logger
	now    func() time.Time
}

// NewSyncer wires a Syncer. sink may be nil when only dry runs are performed.
func NewSyncer(source Source, sink ListingSink, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Syncer{source: source, sink: sink, logger: logger, now: time.Now}
}

// Sync runs one snapshot refresh. Nothing is written when the run produced no listings.
func (s *Syncer) Sync(ctx context.Context, opts Options) (Result, error) {
	res := Result{RunID: uuid.NewString(), StartedAt: s.now().UTC(), DryRun: opts.DryRun}
	logger := s.logger.With("run_id", res.RunID)

	res, err := s.sync(ctx, logger, opts, res)
	status := "succeeded"
	if err != nil {
		status = "failed"
		logger.Error("listings sync failed", "error", err)
	}
	syncRunsTotal.WithLabelValues(status).Inc()
	syncDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	return res, err
}

func (s *Syncer) sync(ctx context.Context, logger *slog.Logger, opts Options, res Result) (Result, error) {
	finish := func() Result {
		res.FinishedAt = s.now().UTC()
		return res
	}

	logger.Info("fetching listings", "concurrency", concurrencyOrDefault(opts.Concurrency), "dry_run", opts.DryRun)
	listings, err := s.collect(ctx, logger, opts.Concurrency)
	if err != nil {
		return finish(), err
	}
	logger.Info("retrieved listings", "count", len(listings))
	syncRecords.Set(float64(len(listings)))

	if opts.DryRun {
		res.RecordsWritten = len(listings)
		logger.Info("dry run; skipping database write")
		return finish(), nil
	}
	if len(listings) == 0 {
		return finish(), apperr.ErrEmptyResult
	}
	if s.sink == nil {
		return finish(), errors.New("ingestion: no listing sink configured")
	}

	payload := make([]model.FlattenedListing, len(listings))
	for i, l := range listings {
		payload[i] = Sanitize(l)
	}
	logger.Info("writing listings snapshot", "count", len(payload))
	if err := s.sink.SyncListings(ctx, payload); err != nil {
		return finish(), &apperr.PersistenceError{Op: "sync listings", Err: err}
	}
	res.RecordsWritten = len(payload)
	logger.Info("listings snapshot updated", "records", res.RecordsWritten)
	return finish(), nil
}

// Collect fetches and flattens every listing without writing anything.
func (s *Syncer) Collect(ctx context.Context, concurrency int) ([]model.FlattenedListing, error) {
	return s.collect(ctx, s.logger, concurrency)
}

func (s *Syncer) collect(ctx context.Context, logger *slog.Logger, concurrency int) ([]model.FlattenedListing, error) {
	summaries, err := s.source.FetchSummaries(ctx)
	if err != nil {
		return nil, err
	}

	workers := concurrencyOrDefault(concurrency)
	if workers > len(summaries) {
		workers = len(summaries)
	}
	results := make([]model.FlattenedListing, len(summaries))
	var cursor atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				idx := int(cursor.Add(1) - 1)
				if idx >= len(summaries) {
					return nil
				}
				results[idx] = s.flattenOne(gctx, logger, idx, summaries[idx])
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.FlattenedListing, 0, len(results))
	for _, l := range results {
		if l != nil {
			out = append(out, l)
		}
	}
	return out, nil
}

// flattenOne returns nil when the summary cannot be turned into a listing.
func (s *Syncer) flattenOne(ctx context.Context, logger *slog.Logger, idx int, summary model.RawRecord) model.FlattenedListing {
	detail := model.RawRecord{}
	if id, ok := summary[model.FieldListingID].(string); ok && id != "" {
		fetched, err := s.source.FetchDetail(ctx, id)
		if err != nil {
			logger.Warn("failed to fetch listing detail; using summary only", "listing_id", id, "error", err)
		} else if fetched != nil {
			detail = fetched
		}
	}

	listing, err := Flatten(summary, detail)
	if err != nil {
		syncDroppedTotal.Inc()
		logger.Warn("skipping listing without valid identifier", "index", idx, "error", err)
		return nil
	}
	return listing
}

func concurrencyOrDefault(n int) int {
	if n == 0 {
		return DefaultConcurrency
	}
	if n < 1 {
		return 1
	}
	return n
}
