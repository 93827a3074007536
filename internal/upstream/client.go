// Package upstream fetches listing summaries and details from the external listings API.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"listings-hub/internal/apperr"
	"listings-hub/internal/logging"
	"listings-hub/internal/model"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultTimeout     = 20 * time.Second
	defaultUserAgent   = "listings-hub-sync/1.0"

	endpointSummaries = "summaries"
	endpointDetail    = "detail"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "upstream_requests_total",
	Help: "Upstream listings API request attempts by endpoint and outcome",
}, []string{"endpoint", "outcome"})

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL     string
	Token       string
	UserAgent   string
	Origin      string
	Timeout     time.Duration
	MaxAttempts int
	// Backoff is multiplied by the attempt number before the next attempt.
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the listings API with linear-backoff retries.
type Client struct {
	baseURL     string
	token       string
	userAgent   string
	origin      string
	maxAttempts int
	backoff     time.Duration
	http        *http.Client
	logger      *slog.Logger
}

// New validates opts and returns a ready Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("upstream: BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("upstream: invalid BaseURL: %w", err)
	}
	c := &Client{
		baseURL:     strings.TrimRight(base, "/"),
		token:       opts.Token,
		userAgent:   opts.UserAgent,
		origin:      opts.Origin,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		http:        opts.HTTPClient,
		logger:      opts.Logger,
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c, nil
}

// SummariesURL is the listings search endpoint.
func (c *Client) SummariesURL() string {
	return c.baseURL + "/listings-public?search=&version=v2"
}

// DetailURL is the per-listing endpoint for listingID.
func (c *Client) DetailURL(listingID string) string {
	return c.baseURL + "/listings/" + url.PathEscape(listingID) +
		"?includeRecentWeekCount=true&includeAboutCompany=true"
}

// FetchSummaries returns every listing summary published by the API.
func (c *Client) FetchSummaries(ctx context.Context) ([]model.RawRecord, error) {
	var out []model.RawRecord
	err := c.getJSON(ctx, endpointSummaries, c.SummariesURL(), func(body []byte) error {
		var arr []model.RawRecord
		if err := json.Unmarshal(body, &arr); err == nil {
			out = arr
			return nil
		}
		var wrapped struct {
			Listings []model.RawRecord `json:"listings"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return fmt.Errorf("summaries payload parse: %w", err)
		}
		out = wrapped.Listings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchDetail returns the detail payload for one listing.
func (c *Client) FetchDetail(ctx context.Context, listingID string) (model.RawRecord, error) {
	if strings.TrimSpace(listingID) == "" {
		return nil, &apperr.ValidationError{Field: model.FieldListingID, Reason: "is required"}
	}
	var out model.RawRecord
	err := c.getJSON(ctx, endpointDetail, c.DetailURL(listingID), func(body []byte) error {
		var detail model.RawRecord
		if err := json.Unmarshal(body, &detail); err != nil {
			return fmt.Errorf("detail payload parse: %w", err)
		}
		out = detail
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = model.RawRecord{}
	}
	return out, nil
}

// getJSON performs GET u, retrying non-2xx responses, transport errors and undecodable
// bodies. The wait before attempt n+1 is n × backoff.
func (c *Client) getJSON(ctx context.Context, endpoint, u string, decode func([]byte) error) error {
	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.logger.Info("fetching upstream", "url", u, "attempt", attempt)
		status, err := c.do(ctx, u, decode)
		if err == nil {
			requestsTotal.WithLabelValues(endpoint, "ok").Inc()
			return nil
		}
		requestsTotal.WithLabelValues(endpoint, "error").Inc()
		lastErr, lastStatus = err, status
		if attempt == c.maxAttempts {
			break
		}
		wait := time.Duration(attempt) * c.backoff
		c.logger.Warn("upstream request failed; retrying",
			"url", u, "attempt", attempt, "status", status, "retry_in", wait.String(), "error", err)
		select {
		case <-ctx.Done():
			return &apperr.UpstreamError{URL: u, StatusCode: lastStatus, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return &apperr.UpstreamError{URL: u, StatusCode: lastStatus, Attempts: c.maxAttempts, Err: lastErr}
}

func (c *Client) do(ctx context.Context, u string, decode func([]byte) error) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return resp.StatusCode, decode(body)
}
