package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"listings-hub/internal/analytics"
	"listings-hub/internal/apperr"
	"listings-hub/internal/ingestion"
	"listings-hub/internal/logging"
	"listings-hub/internal/model"
	"listings-hub/internal/refresh"
)

const queryTimeout = 5 * time.Second

// ListingReader serves the read side of the listings store.
type ListingReader interface {
	ListingsPage(ctx context.Context, q model.PageQuery) ([]model.ListingRecord, int, error)
	ListingByID(ctx context.Context, listingID string) (model.ListingRecord, error)
	DailyMetrics(ctx context.Context, f model.MetricFilters) ([]model.DailyMetric, error)
}

// RefreshRunner runs one listings refresh under the refresh lock.
type RefreshRunner interface {
	Run(ctx context.Context, opts ingestion.Options) (refresh.Status, error)
}

// QueryHandler serves public listing reads and the admin endpoints.
type QueryHandler struct {
	Store       ListingReader
	Refresher   RefreshRunner
	SyncOptions ingestion.Options
	Admins      AdminLookup
	Logger      *slog.Logger
	Now         func() time.Time
}

// Register mounts the listing and admin routes on r.
func (h *QueryHandler) Register(r gin.IRouter) {
	r.GET("/v1/listings", h.listListings)
	r.GET("/v1/listings/:listingId", h.getListing)

	admin := r.Group("/v1/admin", RequireAdmin(h.Admins))
	admin.GET("/metrics/summary", h.metricsSummary)
	admin.POST("/listings/refresh", h.refreshListings)
}

func (h *QueryHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return logging.Discard()
	}
	return h.Logger
}

func (h *QueryHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *QueryHandler) listListings(c *gin.Context) {
	q := model.PageQuery{
		Page:     positiveInt(c.Query("page"), 1),
		PageSize: positiveInt(c.Query("pageSize"), model.DefaultPageSize),
		Sort:     model.ListingSort(c.Query("sort")),
	}.Normalize()

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	recs, total, err := h.Store.ListingsPage(ctx, q)
	if err != nil {
		h.logger().Error("failed to fetch listings", "page", q.Page, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to fetch listings"})
		return
	}
	summaries := make([]model.ListingSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, model.NewListingSummary(rec))
	}
	c.Header("Cache-Control", "public, max-age=30")
	c.JSON(http.StatusOK, model.NewListingPage(q, summaries, total))
}

func (h *QueryHandler) getListing(c *gin.Context) {
	id := c.Param("listingId")
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	rec, err := h.Store.ListingByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}
	if err != nil {
		h.logger().Error("failed to fetch listing detail", "listing_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to fetch listing detail"})
		return
	}
	c.JSON(http.StatusOK, model.NewListingDetail(rec))
}

func (h *QueryHandler) metricsSummary(c *gin.Context) {
	start, end := c.Query("startDate"), c.Query("endDate")
	if start == "" || end == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startDate and endDate are required"})
		return
	}
	from, errFrom := time.Parse(model.MetricDateLayout, start)
	to, errTo := time.Parse(model.MetricDateLayout, end)
	if errFrom != nil || errTo != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startDate and endDate must be YYYY-MM-DD"})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endDate must not be before startDate"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	metrics, err := h.Store.DailyMetrics(ctx, model.MetricFilters{
		StartDate: start,
		EndDate:   end,
		ListingID: c.Query("listingId"),
	})
	if err != nil {
		h.logger().Error("failed to fetch metrics summary", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to fetch metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":        metrics,
		"totals":      analytics.Summarize(metrics),
		"generatedAt": h.now().UTC(),
		"requestedBy": c.GetString(adminContextKey),
	})
}

func (h *QueryHandler) refreshListings(c *gin.Context) {
	admin := c.GetString(adminContextKey)
	// The sync outlives a disconnected client; the lock is released either way.
	status, err := h.Refresher.Run(context.WithoutCancel(c.Request.Context()), h.SyncOptions)
	switch {
	case errors.Is(err, refresh.ErrInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Refresh already in progress"})
	case errors.Is(err, refresh.ErrLockUnavailable):
		h.logger().Error("failed to start listings refresh", "admin", admin, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to start refresh"})
	case err != nil:
		h.logger().Error("listings refresh failed", "admin", admin, "job_id", status.JobID, "error", err)
		c.JSON(http.StatusInternalServerError, status)
	default:
		h.logger().Info("listings refresh triggered", "admin", admin, "job_id", status.JobID, "records", status.RecordsWritten)
		c.JSON(http.StatusAccepted, status)
	}
}

// positiveInt parses v, falling back to def when it is not an integer, and clamps to 1.
func positiveInt(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		n = def
	}
	if n < 1 {
		return 1
	}
	return n
}
