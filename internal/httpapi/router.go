package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"listings-hub/internal/httpx"
)

// Routes names every route both services mount, for request metrics.
var Routes = httpx.RouteNames{
	"/healthz":                   "healthz",
	"/metrics":                   "metrics",
	"/v1/events":                 "event_submit",
	"/v1/listings":               "listings_page",
	"/v1/listings/:listingId":    "listing_detail",
	"/v1/admin/metrics/summary":  "admin_metrics_summary",
	"/v1/admin/listings/refresh": "admin_listings_refresh",
}

// RouterOptions are the middleware settings shared by both services.
type RouterOptions struct {
	// Metrics is optional; nil disables request instrumentation.
	Metrics     *httpx.HTTPMetrics
	CORSOrigins []string
}

// NewIngestRouter builds the ingest-api engine.
func NewIngestRouter(h *IngestHandler, opts RouterOptions) *gin.Engine {
	r := newEngine(opts)
	h.Register(r)
	return r
}

// NewQueryRouter builds the query-api engine.
func NewQueryRouter(h *QueryHandler, opts RouterOptions) *gin.Engine {
	r := newEngine(opts)
	h.Register(r)
	return r
}

func newEngine(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Handler())
	}
	r.Use(httpx.CORSMiddleware(opts.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
