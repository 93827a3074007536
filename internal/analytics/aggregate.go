// Package analytics rolls raw listing engagement events up into daily metrics.
package analytics

import (
	"sort"

	"listings-hub/internal/model"
)

// Aggregate groups events by listing and UTC calendar day of occurrence.
//
// card_view counts a view, overlay_open counts an overlay open and a view,
// referral_click counts a referral. Other event types are ignored.
func Aggregate(events []model.ListingEvent) []model.DailyMetricBucket {
	buckets := make(map[string]*model.DailyMetricBucket)
	for _, ev := range events {
		if !ev.EventType.Valid() {
			continue
		}
		key := model.DailyMetricBucket{
			ListingID:  ev.ListingID,
			MetricDate: ev.OccurredAt.UTC().Format(model.MetricDateLayout),
		}
		b, ok := buckets[key.Key()]
		if !ok {
			b = &key
			buckets[key.Key()] = b
		}
		switch ev.EventType {
		case model.EventCardView:
			b.ViewCount++
		case model.EventOverlayOpen:
			b.OverlayOpenCount++
			b.ViewCount++
		case model.EventReferralClick:
			b.ReferralClickCount++
		}
	}

	out := make([]model.DailyMetricBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MetricDate != out[j].MetricDate {
			return out[i].MetricDate < out[j].MetricDate
		}
		return out[i].ListingID < out[j].ListingID
	})
	return out
}
