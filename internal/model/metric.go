package model

import "time"

// MetricDateLayout is the calendar-date format used for metric buckets.
const MetricDateLayout = "2006-01-02"

// DailyMetricBucket accumulates event counts for one listing on one UTC day.
type DailyMetricBucket struct {
	ListingID          string `json:"listingId"`
	MetricDate         string `json:"metricDate"`
	ViewCount          int64  `json:"viewCount"`
	OverlayOpenCount   int64  `json:"overlayOpenCount"`
	ReferralClickCount int64  `json:"referralClickCount"`
}

// Key returns the (listing, date) identity of the bucket.
func (b DailyMetricBucket) Key() string {
	return b.ListingID + "|" + b.MetricDate
}

// ClickThroughRate is referral clicks per view, or zero when there were no views.
func (b DailyMetricBucket) ClickThroughRate() float64 {
	if b.ViewCount <= 0 {
		return 0
	}
	return float64(b.ReferralClickCount) / float64(b.ViewCount)
}

// DailyMetric is a stored bucket as read back for the dashboard.
type DailyMetric struct {
	ListingID          string     `json:"listingId"`
	MetricDate         string     `json:"metricDate"`
	ViewCount          int64      `json:"viewCount"`
	OverlayOpenCount   int64      `json:"overlayOpenCount"`
	ReferralClickCount int64      `json:"referralClickCount"`
	ClickThroughRate   float64    `json:"clickThroughRate"`
	LastAggregatedAt   *time.Time `json:"lastAggregatedAt,omitempty"`
}

// MetricTotals sums counters across a set of daily metrics.
type MetricTotals struct {
	ViewCount          int64 `json:"viewCount"`
	OverlayOpenCount   int64 `json:"overlayOpenCount"`
	ReferralClickCount int64 `json:"referralClickCount"`
}

// MetricFilters selects stored metrics by inclusive date range and optional listing.
type MetricFilters struct {
	StartDate string
	EndDate   string
	ListingID string
}
