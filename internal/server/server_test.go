package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextforge/contextforge/internal/analytics"
	"github.com/contextforge/contextforge/internal/config"
	"github.com/contextforge/contextforge/internal/retry"
)

const testKey = "cf_server_test"

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		LogFormat:        "json",
		AnalyticsBackend: config.BackendPostgres,
		RateLimitRPM:     600,
		APIKeys:          []string{"u1:" + testKey},
		AdminSecret:      "s3cret",
	}
}

// newTestServer creates a server over in-memory stores
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg, WithDrainDelay(0), WithRetryPolicy(retry.Policy{MaxAttempts: 1}))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.rateLimiter.Stop()
		_ = s.stores.close()
	})
	return s
}

func do(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

var authed = map[string]string{"Authorization": "Bearer " + testKey}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Empty(t, resp.Checks, "in-memory stores have nothing to check")
}

func TestLivenessAndReadiness(t *testing.T) {
	s := newTestServer(t, testConfig())

	assert.Equal(t, http.StatusOK, do(s, "GET", "/health/live", "", nil).Code)
	// Run() has not been called so the server is not ready
	assert.Equal(t, http.StatusServiceUnavailable, do(s, "GET", "/health/ready", "", nil).Code)

	s.ready.Store(true)
	assert.Equal(t, http.StatusOK, do(s, "GET", "/health/ready", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	do(s, "GET", "/health", "", nil)

	w := do(s, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "contextforge_http_requests_total")
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestMiddleware_HeadersAndRequestID(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/health/live", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(s, "GET", "/health/live", "", map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"), "incoming IDs are kept")
}

func TestMiddleware_CORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "OPTIONS", "/v1/analytics/usage", "", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMiddleware_RequestSizeLimit(t *testing.T) {
	s := newTestServer(t, testConfig())

	body := `{"type":"item_processed","data":{"blob":"` + strings.Repeat("x", 2<<20) + `"}}`
	w := do(s, "POST", "/v1/analytics/realtime", body, authed)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// ---------------------------------------------------------------------------
// API tests
// ---------------------------------------------------------------------------

func TestAPI_RequiresKey(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, path := range []string{"/v1/analytics/usage", "/v1/analytics/insights", "/v1/analytics/realtime", "/v1/jobs", "/v1/info"} {
		w := do(s, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Contains(t, w.Body.String(), "unauthorized")
	}
}

func TestAPI_AnalyticsAndJobs(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/v1/analytics/usage?range=7d", "", authed)
	require.Equal(t, http.StatusOK, w.Code)
	var usage analytics.Result[analytics.Usage]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, analytics.StatusOK, usage.Status)
	assert.Equal(t, "7d", usage.Data.Range)

	w = do(s, "POST", "/v1/analytics/realtime", `{"type":"optimization_completed"}`, authed)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(s, "GET", "/v1/analytics/realtime", "", authed)
	require.Equal(t, http.StatusOK, w.Code)
	var rt analytics.Result[analytics.Realtime]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rt))
	assert.Equal(t, int64(1), rt.Data.Counters.OptimizationsToday)

	w = do(s, "POST", "/v1/jobs", `{"type":"import","totalItems":3}`, authed)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(s, "GET", "/v1/jobs", "", authed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"import"`)
}

func TestAPI_Info(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/v1/info", "", authed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"breaker":"closed"`)
}

func TestAPI_AdminRoutes(t *testing.T) {
	s := newTestServer(t, testConfig())

	w := do(s, "GET", "/v1/admin/realtime/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, "GET", "/v1/admin/realtime/stats", "", map[string]string{"X-Admin-Secret": "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)

	cfg := testConfig()
	cfg.AdminSecret = ""
	s = newTestServer(t, cfg)
	w = do(s, "GET", "/v1/admin/realtime/stats", "", map[string]string{"X-Admin-Secret": ""})
	assert.Equal(t, http.StatusNotFound, w.Code, "admin routes are not registered without a secret")
}

// ---------------------------------------------------------------------------
// Redis-backed counters
// ---------------------------------------------------------------------------

func TestRedisCounters_HealthAndDegradation(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	s := newTestServer(t, cfg)

	w := do(s, "POST", "/v1/analytics/realtime", `{"type":"item_processed","data":{"count":2}}`, authed)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, mr.Exists("realtime:u1:metrics"))

	var resp HealthResponse
	w = do(s, "GET", "/health", "", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "redis", resp.Checks[0].Name)
	assert.True(t, resp.Checks[0].Healthy)

	mr.Close()

	w = do(s, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "a dead dependency degrades, it does not kill the service")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Checks[0].Healthy)

	w = do(s, "GET", "/v1/analytics/realtime", "", authed)
	require.Equal(t, http.StatusOK, w.Code)
	var rt analytics.Result[analytics.Realtime]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rt))
	assert.Equal(t, analytics.StatusDegraded, rt.Status)
	assert.ElementsMatch(t, []string{analytics.ReadCounters, analytics.ReadActivity, analytics.ReadAlerts}, rt.DegradedReads)
}

func TestNew_UnreachableRedisFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.RedisURL = "redis://" + addr
	_, err := New(cfg, WithDrainDelay(0), WithRetryPolicy(retry.Policy{MaxAttempts: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestRun_StopsOnContextCancel(t *testing.T) {
	s, err := New(testConfig(), WithDrainDelay(0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.ready.Load, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.ready.Load())
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://cf:***@db:5432/contextforge", maskDSN("postgres://cf:secret@db:5432/contextforge"))
	assert.Equal(t, "redis://localhost:6379", maskDSN("redis://localhost:6379"))
}
