package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"listings-hub/internal/auth"
	"listings-hub/internal/backend"
	"listings-hub/internal/config"
	"listings-hub/internal/httpapi"
	"listings-hub/internal/httpx"
	"listings-hub/internal/ingestion"
	"listings-hub/internal/logging"
	"listings-hub/internal/refresh"
	"listings-hub/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, "query-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	source, err := upstream.New(upstream.Options{
		BaseURL:   cfg.UpstreamBaseURL,
		Token:     cfg.UpstreamToken,
		UserAgent: cfg.UpstreamUserAgent,
		Origin:    cfg.UpstreamOrigin,
		Timeout:   cfg.UpstreamTimeout,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("upstream client: %v", err)
	}
	syncer := ingestion.NewSyncer(source, store, logger)
	runner := refresh.NewRunner(refresh.NewLock(store), syncer, logger)

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewQueryRouter(&httpapi.QueryHandler{
		Store:       store,
		Refresher:   runner,
		SyncOptions: ingestion.Options{Concurrency: cfg.SyncConcurrency},
		Admins:      auth.NewAdmins(cfg.Admins),
		Logger:      logger,
	}, httpapi.RouterOptions{
		Metrics:     httpx.NewHTTPMetrics("query_api", httpapi.Routes),
		CORSOrigins: cfg.CORSAllowOrigins,
	})

	server := &http.Server{
		Addr:              cfg.QueryAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting query API", "addr", cfg.QueryAddr, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("query api failed: %v", err)
		}
	}()

	waitForSignal()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
