package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kafkago "github.com/segmentio/kafka-go"

	"listings-hub/internal/ch"
	"listings-hub/internal/config"
	ikafka "listings-hub/internal/kafka"
	"listings-hub/internal/logging"
	"listings-hub/internal/model"
	"listings-hub/internal/pipeline"
	"listings-hub/pkg/batcher"
)

var (
	batchSizeHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loader_batch_size",
		Help:    "Histogram of ClickHouse batch sizes",
		Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
	})
	insertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "loader_insert_duration_seconds",
		Help:    "Duration of ClickHouse insert operations",
		Buckets: prometheus.DefBuckets,
	})
	insertErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loader_insert_errors_total",
		Help: "Total ClickHouse insert failures",
	})
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loader_events_dropped_total",
		Help: "Raw events that could not be decoded or normalized",
	}, []string{"reason"})
	consumerLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loader_consumer_lag",
		Help: "Current consumer lag reported by kafka-go",
	})
)

// pending pairs a Kafka message with its normalized event. Messages whose event was
// dropped still travel through the batch so their offsets get committed in order.
type pending struct {
	msg   kafkago.Message
	event *model.ListingEvent
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, "loader")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := ch.New(ctx, cfg.ClickHouseDSN)
	if err != nil {
		log.Fatalf("clickhouse: %v", err)
	}
	defer client.Close()
	if err := client.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	reader := ikafka.NewReader(cfg.KafkaBrokers, cfg.KafkaTopicEvents, "loader-group")
	defer reader.Close()

	flusher := func(ctx context.Context, batch []pending) error {
		events := make([]model.ListingEvent, 0, len(batch))
		msgs := make([]kafkago.Message, 0, len(batch))
		for _, p := range batch {
			msgs = append(msgs, p.msg)
			if p.event != nil {
				events = append(events, *p.event)
			}
		}
		if err := insertWithRetry(ctx, client, events); err != nil {
			return err
		}
		return reader.CommitMessages(ctx, msgs...)
	}
	// Flushes triggered by Close must still reach ClickHouse after shutdown begins.
	flushCtx := context.WithoutCancel(ctx)
	b := batcher.New[pending](flushCtx, batcher.Options{
		MaxSize:  cfg.BatchSize,
		Interval: cfg.BatchInterval,
		OnError: func(err error, size int) {
			logger.Error("timed flush failed", "size", size, "error", err)
		},
	}, flusher)

	go serveMetrics(cfg.LoaderMetricsAddr)
	go handleSignals(cancel)

	consume(ctx, reader, b, flushCtx, cfg.IPHashSalt, 4*cfg.BatchSize, logger)

	closeCtx, closeCancel := context.WithTimeout(flushCtx, 30*time.Second)
	defer closeCancel()
	if err := b.Close(closeCtx); err != nil {
		logger.Error("final flush failed", "error", err)
	}
	stats := b.Stats()
	logger.Info("loader shutdown complete", "batches", stats.Batches, "items", stats.Items, "failures", stats.Failures)
}

// consume stops fetching while more than maxBacklog messages wait on a failing
// flush. Offsets are committed only by the flusher, so a batch that never
// reaches ClickHouse is redelivered after a restart.
func consume(ctx context.Context, reader *kafkago.Reader, b *batcher.Batcher[pending], flushCtx context.Context, salt string, maxBacklog int, logger *slog.Logger) {
	for {
		if !drainBacklog(ctx, b, flushCtx, maxBacklog, logger) {
			return
		}
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("read raw message", "error", err)
			time.Sleep(time.Second)
			continue
		}
		consumerLag.Set(float64(reader.Stats().Lag))

		p := pending{msg: m}
		if raw, err := ikafka.DecodeRawEvent(m); err != nil {
			eventsDropped.WithLabelValues("decode").Inc()
			logger.Warn("dropping undecodable event", "offset", m.Offset, "error", err)
		} else if evt, err := pipeline.Normalize(raw, salt, time.Now()); err != nil {
			eventsDropped.WithLabelValues("invalid").Inc()
			logger.Warn("dropping invalid event", "offset", m.Offset, "listing_id", raw.ListingID, "error", err)
		} else {
			p.event = &evt
		}
		if err := b.Add(flushCtx, p); err != nil {
			logger.Error("batch flush failed", "error", err)
		}
	}
}

func drainBacklog(ctx context.Context, b *batcher.Batcher[pending], flushCtx context.Context, maxBacklog int, logger *slog.Logger) bool {
	for b.Stats().Pending > maxBacklog {
		err := b.Flush(flushCtx)
		if err == nil {
			return true
		}
		logger.Warn("backlog over limit; pausing consumption", "pending", b.Stats().Pending, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
	return true
}

func insertWithRetry(ctx context.Context, client *ch.Client, events []model.ListingEvent) error {
	if len(events) == 0 {
		return nil
	}
	const maxAttempts = 5
	backoff := 200 * time.Millisecond
	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		insertCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := client.InsertEvents(insertCtx, events)
		cancel()
		if err == nil {
			insertDuration.Observe(time.Since(start).Seconds())
			batchSizeHistogram.Observe(float64(len(events)))
			return nil
		}
		insertErrors.Inc()
		if attempt == maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("loader metrics server failed: %v", err)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}
