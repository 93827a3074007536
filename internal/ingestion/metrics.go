package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listings_sync_runs_total",
		Help: "Listing sync runs by terminal status",
	}, []string{"status"})
	syncRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listings_sync_records",
		Help: "Listings produced by the most recent sync run",
	})
	syncDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_sync_dropped_total",
		Help: "Summaries dropped because they could not be flattened",
	})
	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "listings_sync_duration_seconds",
		Help:    "Wall time of listing sync runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
