package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RouteNames maps gin route patterns to the route label recorded on every request.
// Patterns missing from the map are recorded verbatim.
type RouteNames map[string]string

// unmatchedRoute labels requests no route matched, keeping raw URLs out of the labels.
const unmatchedRoute = "unmatched"

func (n RouteNames) label(pattern string) string {
	if pattern == "" {
		return unmatchedRoute
	}
	if name, ok := n[pattern]; ok {
		return name
	}
	return pattern
}

// HTTPMetrics bundles the Prometheus collectors for the listings HTTP services.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Errors   *prometheus.CounterVec
	InFlight prometheus.Gauge

	routes RouteNames
}

// NewHTTPMetrics registers the collectors for a specific service label on the default registry.
func NewHTTPMetrics(service string, routes RouteNames) *HTTPMetrics {
	return NewHTTPMetricsWith(prometheus.DefaultRegisterer, service, routes)
}

// NewHTTPMetricsWith registers the collectors on reg.
func NewHTTPMetricsWith(reg prometheus.Registerer, service string, routes RouteNames) *HTTPMetrics {
	labels := prometheus.Labels{"service": service}
	factory := promauto.With(reg)
	return &HTTPMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "listings_hub",
			Name:        "http_requests_total",
			Help:        "Total HTTP requests received per listings route",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "listings_hub",
			Name:        "http_request_duration_seconds",
			Help:        "Latency distribution of HTTP requests per listings route",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "listings_hub",
			Name:        "http_errors_total",
			Help:        "Total HTTP errors returned per listings route",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "listings_hub",
			Name:        "http_in_flight_requests",
			Help:        "Number of in-flight HTTP requests",
			ConstLabels: labels,
		}),
		routes: routes,
	}
}

// Handler returns a gin middleware that records metrics per request.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := m.routes.label(c.FullPath())
		m.InFlight.Inc()
		defer m.InFlight.Dec()
		c.Next()
		elapsed := time.Since(start).Seconds()
		status := c.Writer.Status()
		method := c.Request.Method

		m.Requests.WithLabelValues(method, route, statusCode(status)).Inc()
		m.Duration.WithLabelValues(method, route).Observe(elapsed)
		if status >= 400 {
			m.Errors.WithLabelValues(method, route, statusCode(status)).Inc()
		}
	}
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}

const allowedHeaders = "Authorization,Content-Type,X-Experience-Key,X-Signature,X-Admin-Key"

// CORSMiddleware applies a simple allow-list policy.
func CORSMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
			break
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && containsOrigin(allowed, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func containsOrigin(allowed []string, origin string) bool {
	for _, o := range allowed {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
