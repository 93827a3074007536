package analytics

import "listings-hub/internal/model"

// Summarize totals the counters of metrics for the dashboard header.
func Summarize(metrics []model.DailyMetric) model.MetricTotals {
	var totals model.MetricTotals
	for _, m := range metrics {
		totals.ViewCount += m.ViewCount
		totals.OverlayOpenCount += m.OverlayOpenCount
		totals.ReferralClickCount += m.ReferralClickCount
	}
	return totals
}
