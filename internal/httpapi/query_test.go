package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"listings-hub/internal/auth"
	"listings-hub/internal/config"
	"listings-hub/internal/ingestion"
	"listings-hub/internal/memstore"
	"listings-hub/internal/model"
	"listings-hub/internal/refresh"
)

type stubRefresher struct {
	status refresh.Status
	err    error
	calls  int
}

func (s *stubRefresher) Run(ctx context.Context, _ ingestion.Options) (refresh.Status, error) {
	s.calls++
	if ctx.Done() != nil {
		return refresh.Status{}, errors.New("refresh context must not be cancelable")
	}
	return s.status, s.err
}

type brokenReader struct{}

func (brokenReader) ListingsPage(context.Context, model.PageQuery) ([]model.ListingRecord, int, error) {
	return nil, 0, errors.New("db down")
}
func (brokenReader) ListingByID(context.Context, string) (model.ListingRecord, error) {
	return model.ListingRecord{}, errors.New("db down")
}
func (brokenReader) DailyMetrics(context.Context, model.MetricFilters) ([]model.DailyMetric, error) {
	return nil, errors.New("db down")
}

func seededStore(t *testing.T, n int) *memstore.Store {
	t.Helper()
	store := memstore.New()
	listings := make([]model.FlattenedListing, 0, n+1)
	for i := 0; i < n; i++ {
		listings = append(listings, model.FlattenedListing{
			"listingId":        fmt.Sprintf("list_%02d", i),
			"title":            fmt.Sprintf("Role %d", i),
			"rateMin":          float64(10 + i),
			"rateMax":          float64(20 + i),
			"rateRangeDisplay": fmt.Sprintf("$%d - $%d", 10+i, 20+i),
			"referralLink":     "https://example.com/r",
			"detail_team":      "Data",
		})
	}
	listings = append(listings, model.FlattenedListing{"listingId": "hidden", "title": "Secret", "isPrivate": true})
	require.NoError(t, store.SyncListings(context.Background(), listings))
	return store
}

func newQuery(store ListingReader, refresher RefreshRunner) *gin.Engine {
	h := &QueryHandler{
		Store:     store,
		Refresher: refresher,
		Admins:    auth.NewAdmins(map[string]config.AdminCredential{"ops": {APIKey: "admin-key"}}),
		Now:       func() time.Time { return fixedNow },
	}
	return NewQueryRouter(h, RouterOptions{})
}

func get(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListListingsPagination(t *testing.T) {
	r := newQuery(seededStore(t, 30), nil)

	rec := get(r, "/v1/listings?page=3&pageSize=12", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page model.ListingPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 6)
	require.Equal(t, model.Pagination{Page: 3, PageSize: 12, TotalPages: 3, TotalItems: 30}, page.Pagination)
}

func TestListListingsClampsQuery(t *testing.T) {
	r := newQuery(seededStore(t, 60), nil)

	var page model.ListingPage
	rec := get(r, "/v1/listings?page=-4&pageSize=500", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Pagination.Page)
	require.Equal(t, model.MaxPageSize, page.Pagination.PageSize)
	require.Len(t, page.Data, model.MaxPageSize)

	rec = get(r, "/v1/listings?page=abc&pageSize=xyz", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 1, page.Pagination.Page)
	require.Equal(t, model.DefaultPageSize, page.Pagination.PageSize)
}

func TestListListingsSortByPay(t *testing.T) {
	r := newQuery(seededStore(t, 5), nil)
	var page model.ListingPage
	require.NoError(t, json.Unmarshal(get(r, "/v1/listings?sort=pay_desc", nil).Body.Bytes(), &page))
	require.Equal(t, "list_04", page.Data[0].ListingID)
	require.True(t, page.Data[0].ReferralLinkAvailable)
}

func TestListListingsEmptyStore(t *testing.T) {
	rec := get(newQuery(memstore.New(), nil), "/v1/listings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":[],"pagination":{"page":1,"pageSize":12,"totalPages":1,"totalItems":0}}`, rec.Body.String())
}

func TestListListingsStoreFailure(t *testing.T) {
	rec := get(newQuery(brokenReader{}, nil), "/v1/listings", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Unable to fetch listings"}`, rec.Body.String())
}

func TestGetListing(t *testing.T) {
	r := newQuery(seededStore(t, 2), nil)

	rec := get(r, "/v1/listings/list_01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail model.ListingDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, "list_01", detail.ListingID)
	require.Equal(t, "Data", *detail.Metadata.Team)

	rec = get(r, "/v1/listings/hidden", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Listing not found"}`, rec.Body.String())

	rec = get(newQuery(brokenReader{}, nil), "/v1/listings/list_01", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsSummary(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.UpsertDailyMetrics(context.Background(), []model.DailyMetricBucket{
		{ListingID: "a", MetricDate: "2025-03-01", ViewCount: 10, OverlayOpenCount: 4, ReferralClickCount: 1},
		{ListingID: "b", MetricDate: "2025-03-02", ViewCount: 5, ReferralClickCount: 2},
		{ListingID: "a", MetricDate: "2025-03-09", ViewCount: 99},
	}, fixedNow))
	r := newQuery(store, nil)
	admin := map[string]string{adminKeyHeader: "admin-key"}

	rec := get(r, "/v1/admin/metrics/summary?startDate=2025-03-01&endDate=2025-03-07", admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data        []model.DailyMetric `json:"data"`
		Totals      model.MetricTotals  `json:"totals"`
		RequestedBy string              `json:"requestedBy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	require.Equal(t, model.MetricTotals{ViewCount: 15, OverlayOpenCount: 4, ReferralClickCount: 3}, body.Totals)
	require.Equal(t, "ops", body.RequestedBy)

	rec = get(r, "/v1/admin/metrics/summary?startDate=2025-03-01&endDate=2025-03-31&listingId=a", map[string]string{
		"Authorization": "Bearer admin-key",
	})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	require.Equal(t, int64(109), body.Totals.ViewCount)
}

func TestMetricsSummaryValidation(t *testing.T) {
	r := newQuery(memstore.New(), nil)
	admin := map[string]string{adminKeyHeader: "admin-key"}

	rec := get(r, "/v1/admin/metrics/summary?startDate=2025-03-01", admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"startDate and endDate are required"}`, rec.Body.String())

	rec = get(r, "/v1/admin/metrics/summary?startDate=03/01/2025&endDate=2025-03-02", admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(r, "/v1/admin/metrics/summary?startDate=2025-03-05&endDate=2025-03-02", admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	refresher := &stubRefresher{}
	r := newQuery(memstore.New(), refresher)

	rec := get(r, "/v1/admin/metrics/summary?startDate=2025-03-01&endDate=2025-03-02", map[string]string{adminKeyHeader: "wrong"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.JSONEq(t, `{"error":"Admin privileges required"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/listings/refresh", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, refresher.calls)
}

func postRefresh(r http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/listings/refresh", nil)
	req.Header.Set(adminKeyHeader, "admin-key")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRefreshOutcomes(t *testing.T) {
	ok := refresh.Status{JobID: "job-1", Status: refresh.StatusSucceeded, RecordsWritten: 7, Message: "Listings refresh complete. Records written: 7."}
	failed := refresh.Status{JobID: "job-2", Status: refresh.StatusFailed, Message: "upstream down"}

	cases := []struct {
		name     string
		stub     *stubRefresher
		wantCode int
		check    func(t *testing.T, body map[string]any)
	}{
		{"succeeded", &stubRefresher{status: ok}, http.StatusAccepted, func(t *testing.T, body map[string]any) {
			require.Equal(t, "job-1", body["jobId"])
			require.Equal(t, float64(7), body["recordsWritten"])
		}},
		{"in progress", &stubRefresher{err: refresh.ErrInProgress}, http.StatusConflict, func(t *testing.T, body map[string]any) {
			require.Equal(t, "Refresh already in progress", body["error"])
		}},
		{"lock error", &stubRefresher{err: fmt.Errorf("%w: %w", refresh.ErrLockUnavailable, errors.New("conn reset"))}, http.StatusInternalServerError, func(t *testing.T, body map[string]any) {
			require.Equal(t, "Unable to start refresh", body["error"])
		}},
		{"failed", &stubRefresher{status: failed, err: errors.New("upstream down")}, http.StatusInternalServerError, func(t *testing.T, body map[string]any) {
			require.Equal(t, refresh.StatusFailed, body["status"])
			require.Equal(t, "upstream down", body["message"])
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postRefresh(newQuery(memstore.New(), tc.stub))
			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			tc.check(t, decode(t, rec))
			require.Equal(t, 1, tc.stub.calls)
		})
	}
}

func TestRefreshEndToEndWithRunner(t *testing.T) {
	store := memstore.New()
	syncer := ingestion.NewSyncer(staticSource{}, store, nil)
	runner := refresh.NewRunner(refresh.NewLock(store), syncer, nil)
	r := newQuery(store, runner)

	rec := postRefresh(r)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Equal(t, float64(2), decode(t, rec)["recordsWritten"])
	require.False(t, store.Refreshing())

	// The second concurrent caller sees the held lock.
	ok, err := store.TryLockRefresh(context.Background(), "other-job")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, http.StatusConflict, postRefresh(r).Code)
}

type staticSource struct{}

func (staticSource) FetchSummaries(context.Context) ([]model.RawRecord, error) {
	return []model.RawRecord{
		{"listingId": "a", "title": "A", "rateMin": 10.0, "rateMax": 20.0},
		{"listingId": "b", "title": "B"},
	}, nil
}

func (staticSource) FetchDetail(_ context.Context, id string) (model.RawRecord, error) {
	return model.RawRecord{"listingId": id, "description": "about " + id}, nil
}
