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
	"listings-hub/internal/config"
	"listings-hub/internal/httpapi"
	"listings-hub/internal/httpx"
	ikafka "listings-hub/internal/kafka"
	"listings-hub/internal/logging"
	"listings-hub/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, "ingest-api")
	logger.Info("starting ingest API", "addr", cfg.IngestAddr, "topic", cfg.KafkaTopicEvents)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := ikafka.NewEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopicEvents)
	defer publisher.Close()

	limiter := ratelimit.New(cfg.EventRateLimit, cfg.EventRateWindow)
	go limiter.Run(ctx, cfg.EventRateWindow)

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewIngestRouter(&httpapi.IngestHandler{
		Publisher:   publisher,
		Limiter:     limiter,
		Experiences: auth.NewExperiences(cfg.Experiences, cfg.HMACSecret),
		BotDenyList: cfg.BotUserAgents,
		Logger:      logger,
	}, httpapi.RouterOptions{
		Metrics:     httpx.NewHTTPMetrics("ingest_api", httpapi.Routes),
		CORSOrigins: cfg.CORSAllowOrigins,
	})

	server := &http.Server{
		Addr:              cfg.IngestAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ingest server failed: %v", err)
		}
	}()

	graceful(server)
	logger.Info("ingest API stopped")
}

func graceful(server *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
