// Package httpapi holds the gin handlers of the ingest and query services.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"listings-hub/internal/auth"
	"listings-hub/internal/logging"
	"listings-hub/internal/model"
	"listings-hub/internal/util"
)

const (
	experienceKeyHeader = "X-Experience-Key"
	signatureHeader     = "X-Signature"
	maxEventBodyBytes   = 64 << 10
	publishTimeout      = 5 * time.Second
)

// EventPublisher queues accepted events for the loader.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.RawEvent) error
}

// RateLimiter admits or rejects one event for a caller identifier.
type RateLimiter interface {
	Allow(key string) bool
}

// IngestHandler accepts engagement events from embedded listing views.
type IngestHandler struct {
	Publisher   EventPublisher
	Limiter     RateLimiter
	Experiences *auth.Experiences
	BotDenyList []string
	Logger      *slog.Logger
	Now         func() time.Time
}

// Register mounts the event routes on r.
func (h *IngestHandler) Register(r gin.IRouter) {
	r.POST("/v1/events", h.postEvent)
}

func (h *IngestHandler) postEvent(c *gin.Context) {
	logger := h.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxEventBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	var sub model.EventSubmission
	if err := json.Unmarshal(body, &sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON payload"})
		return
	}

	identifier := util.ClientIdentifier(c.GetHeader("X-Forwarded-For"), c.GetHeader("X-Real-IP"), sub.SessionID)
	if h.Limiter != nil && !h.Limiter.Allow(identifier) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many analytics events"})
		return
	}

	if sub.ListingID == "" || sub.EventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listingId and eventType are required"})
		return
	}
	if !model.EventType(sub.EventType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported eventType: " + sub.EventType})
		return
	}

	if sub.ExperienceID != "" && h.Experiences != nil {
		err := h.Experiences.Verify(sub.ExperienceID, c.GetHeader(experienceKeyHeader), c.GetHeader(signatureHeader), body)
		if err != nil {
			logger.Warn("rejected analytics event", "experience_id", sub.ExperienceID, "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	}

	ua := c.GetHeader("User-Agent")
	if util.IsBot(ua, h.BotDenyList) {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	raw := model.NewRawEvent(sub, c.ClientIP(), ua, now())
	ctx, cancel := context.WithTimeout(c.Request.Context(), publishTimeout)
	defer cancel()
	if err := h.Publisher.Publish(ctx, raw); err != nil {
		logger.Error("failed to queue analytics event", "listing_id", sub.ListingID, "error", err)
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.Canceled) {
			status = http.StatusRequestTimeout
		}
		c.JSON(status, gin.H{"error": "queue unavailable"})
		return
	}

	logger.Info("analytics event accepted",
		"listing_id", sub.ListingID,
		"event_type", sub.EventType,
		"experience_id", sub.ExperienceID,
		"session_id", sub.SessionID,
		"identifier", identifier)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
