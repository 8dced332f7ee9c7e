package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/dreamforge/internal/api/middleware"
	"github.com/timmy/dreamforge/internal/domain"
	"github.com/timmy/dreamforge/internal/metrics"
	"github.com/timmy/dreamforge/internal/queue"
	"github.com/timmy/dreamforge/internal/service"
)

type fakeDreams struct {
	mu     sync.Mutex
	dreams map[string]*domain.RawDream
}

func (f *fakeDreams) Create(ctx context.Context, d *domain.RawDream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dreams[d.ID] = d
	return nil
}

func (f *fakeDreams) FindByID(ctx context.Context, id string) (*domain.RawDream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dreams[id]
	if !ok {
		return nil, domain.ErrDreamNotFound
	}
	return d, nil
}

func (f *fakeDreams) CountByStatus(ctx context.Context) (map[domain.AnalysisStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[domain.AnalysisStatus]int64{}
	for _, d := range f.dreams {
		counts[d.AnalysisStatus]++
	}
	return counts, nil
}

type fakeProcessed struct {
	byRaw map[string]*domain.ProcessedDream
}

func (f *fakeProcessed) FindByRawDreamID(ctx context.Context, rawID string) (*domain.ProcessedDream, error) {
	p, ok := f.byRaw[rawID]
	if !ok {
		return nil, domain.ErrProcessedDreamNotFound
	}
	return p, nil
}

type fakeAnalysis struct {
	submitted []string
	submitErr error
	retryErr  error
	retried   []string
}

func (f *fakeAnalysis) Submit(ctx context.Context, dreamID, userID string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, dreamID)
	return nil
}

func (f *fakeAnalysis) Retry(ctx context.Context, dreamID, userID string) error {
	if f.retryErr != nil {
		return f.retryErr
	}
	f.retried = append(f.retried, dreamID)
	return nil
}

type fakeImages struct{ err error }

func (f *fakeImages) RetryImage(ctx context.Context, processedID, userID string) error {
	return f.err
}

type fakeIndexer struct{}

func (fakeIndexer) Index(ctx context.Context, p *domain.ProcessedDream) error { return nil }

func (fakeIndexer) Similar(ctx context.Context, p *domain.ProcessedDream, limit int) ([]service.SimilarDream, error) {
	return []service.SimilarDream{{RawDreamID: "other", ProcessedID: "p-other", Score: 0.8}}, nil
}

type fakeRecovery struct{ calls []service.RequeueOptions }

func (f *fakeRecovery) Requeue(ctx context.Context, opts service.RequeueOptions) (*service.RequeueStats, error) {
	f.calls = append(f.calls, opts)
	return &service.RequeueStats{Dreams: 2}, nil
}

type testServer struct {
	dreams    *fakeDreams
	processed *fakeProcessed
	analysis  *fakeAnalysis
	images    *fakeImages
	recovery  *fakeRecovery
	deps      *Dependencies
	// router is reused when set; otherwise every request gets a fresh one.
	router *gin.Engine
}

func newTestServer() *testServer {
	s := &testServer{
		dreams: &fakeDreams{dreams: map[string]*domain.RawDream{
			"d1": {ID: "d1", UserID: "u1", Title: "Fog", Mood: domain.MoodSad, AnalysisStatus: domain.AnalysisStatusFailed, RetryCount: 1},
		}},
		processed: &fakeProcessed{byRaw: map[string]*domain.ProcessedDream{
			"d1": {ID: "p1", RawDreamID: "d1", UserID: "u1", Interpretation: "Mist."},
		}},
		analysis: &fakeAnalysis{},
		images:   &fakeImages{},
		recovery: &fakeRecovery{},
	}
	s.deps = &Dependencies{
		Dreams:    s.dreams,
		Processed: s.processed,
		Analysis:  s.analysis,
		Images:    s.images,
		Recovery:  s.recovery,
		Counter:   s.dreams,
		Queues:    []metrics.QueueStats{queue.New("analysis", queue.Options{})},
	}
	return s
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := s.router
	if router == nil {
		router = s.build()
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) build() *gin.Engine {
	return SetupRouter(s.deps, &RouterConfig{Mode: "test", CORS: middleware.CORSConfig{AllowAllOrigins: true}}, nil)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	s.deps.DBPing = func(ctx context.Context) error { return context.DeadlineExceeded }
	rec = s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateDream(t *testing.T) {
	s := newTestServer()
	body := `{"title":"Falling","description":"Through clouds.","mood":"scared","intensity":80,"symbols":["cloud"],"date":"2026-04-01T00:00:00Z"}`

	rec := s.do(t, http.MethodPost, "/api/v1/dreams", "u1", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	out := decode(t, rec)
	id, _ := out["_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", out["analysis_status"])
	assert.Equal(t, "u1", out["user_id"])
	assert.Equal(t, []string{id}, s.analysis.submitted)

	stored, err := s.dreams.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StringArray{"cloud"}, stored.Symbols)
	assert.Equal(t, 2026, stored.Date.Year())
}

func TestCreateDreamValidation(t *testing.T) {
	s := newTestServer()
	cases := map[string]string{
		"missing title":  `{"description":"x","mood":"sad"}`,
		"unknown mood":   `{"title":"t","description":"x","mood":"angry"}`,
		"intensity high": `{"title":"t","description":"x","mood":"sad","intensity":101}`,
		"blank title":    `{"title":"   ","description":"x","mood":"sad"}`,
		"not json":       `nope`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/dreams", "u1", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, s.analysis.submitted)
}

func TestCreateDreamQueueFull(t *testing.T) {
	s := newTestServer()
	s.analysis.submitErr = queue.ErrQueueFull

	rec := s.do(t, http.MethodPost, "/api/v1/dreams", "u1", `{"title":"t","description":"x","mood":"sad"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequiresUser(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/api/v1/dreams/d1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetDreamOwnership(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodGet, "/api/v1/dreams/d1", "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/dreams/d1", "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/dreams/missing", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "dream not found", decode(t, rec)["error"])
}

func TestRetryDream(t *testing.T) {
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/v1/dreams/d1/retry", "u1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "d1", out["_id"])
	assert.Equal(t, string(domain.AnalysisStatusPending), out["analysis_status"])
	assert.NotContains(t, out, "retry_count")
	assert.NotContains(t, out, "retries_left")
	assert.Equal(t, []string{"d1"}, s.analysis.retried)

	s.analysis.retryErr = domain.ErrRetryLimitExceeded
	rec = s.do(t, http.MethodPost, "/api/v1/dreams/d1/retry", "u1", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "retry limit exceeded", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/api/v1/dreams/d1/retry", "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetAnalysis(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/api/v1/dreams/d1/analysis", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", decode(t, rec)["_id"])

	s.dreams.dreams["d2"] = &domain.RawDream{ID: "d2", UserID: "u1"}
	rec = s.do(t, http.MethodGet, "/api/v1/dreams/d2/analysis", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSimilarDreams(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodGet, "/api/v1/dreams/d1/similar", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "indexing disabled")

	s.deps.Indexer = fakeIndexer{}
	rec = s.do(t, http.MethodGet, "/api/v1/dreams/d1/similar?limit=3", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	results, _ := decode(t, rec)["results"].([]interface{})
	assert.Len(t, results, 1)

	rec = s.do(t, http.MethodGet, "/api/v1/dreams/d1/similar?limit=zero", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryImage(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusAccepted},
		{domain.ErrRetryLimitExceeded, http.StatusTooManyRequests},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrProcessedDreamNotFound, http.StatusNotFound},
		{domain.ErrNoImagePrompt, http.StatusBadRequest},
		{&domain.PersistenceError{Op: "x", Err: context.Canceled}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s := newTestServer()
		s.images.err = tt.err
		rec := s.do(t, http.MethodPost, "/api/v1/processed/p1/image/retry", "u1", "")
		assert.Equal(t, tt.want, rec.Code, "%v", tt.err)
		if tt.want == http.StatusInternalServerError {
			assert.Equal(t, "internal error", decode(t, rec)["error"])
		}
	}
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer()
	s.router = s.build()

	rec := s.do(t, http.MethodPost, "/api/v1/admin/requeue", "", `{"limit":10,"images":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, s.recovery.calls, 1)
	assert.Equal(t, service.RequeueOptions{Limit: 10, Images: true}, s.recovery.calls[0])

	rec = s.do(t, http.MethodGet, "/api/v1/admin/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "success", out["last_requeue_status"])
	assert.Equal(t, map[string]interface{}{"failed": float64(1)}, out["dreams"])
	assert.Contains(t, out["queues"], "analysis")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer()
	reg := prometheus.NewRegistry()
	s.deps.Gatherer = reg
	s.deps.HTTPMetrics = metrics.NewHTTPMetrics(reg)

	s.do(t, http.MethodGet, "/health", "", "")
	rec := s.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dreamforge_http_requests_total{code="200",method="GET",route="/health"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer()
	rec := s.do(t, http.MethodOptions, "/api/v1/dreams", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), middleware.HeaderUserID)
}
