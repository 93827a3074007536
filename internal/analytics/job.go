package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"listings-hub/internal/logging"
	"listings-hub/internal/model"
)

// EventSource reads recorded events with from <= occurredAt < to.
type EventSource interface {
	EventsBetween(ctx context.Context, from, to time.Time) ([]model.ListingEvent, error)
}

// DailyJob aggregates one UTC day of events into stored metrics.
type DailyJob struct {
	events EventSource
	writer *Writer
	logger *slog.Logger
}

func NewDailyJob(events EventSource, store MetricsStore, logger *slog.Logger) *DailyJob {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DailyJob{events: events, writer: NewWriter(store), logger: logger}
}

// Run aggregates the day containing day and returns the number of buckets written.
// A day without events writes nothing and is not an error.
func (j *DailyJob) Run(ctx context.Context, day time.Time) (int, error) {
	start := StartOfDay(day)
	end := start.Add(24 * time.Hour)

	events, err := j.events.EventsBetween(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("load listing events: %w", err)
	}
	buckets := Aggregate(events)
	if len(buckets) == 0 {
		j.logger.Info("no events found for the selected range; nothing to aggregate",
			"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))
		return 0, nil
	}
	if err := j.writer.Upsert(ctx, buckets); err != nil {
		return 0, err
	}
	j.logger.Info("aggregated metric rows",
		"rows", len(buckets), "events", len(events),
		"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))
	return len(buckets), nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResolveDay interprets a --date argument. Empty and "today" mean the current UTC day;
// otherwise YYYY-MM-DD or an RFC3339 timestamp is accepted.
func ResolveDay(arg string, now time.Time) (time.Time, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" || strings.EqualFold(arg, "today") {
		return StartOfDay(now), nil
	}
	if t, err := time.Parse(model.MetricDateLayout, arg); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, arg); err == nil {
		return StartOfDay(t), nil
	}
	return time.Time{}, fmt.Errorf("invalid date provided: %s", arg)
}
