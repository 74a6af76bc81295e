package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextforge/contextforge/internal/analytics"
	"github.com/contextforge/contextforge/internal/auth"
	"github.com/contextforge/contextforge/internal/content"
	"github.com/contextforge/contextforge/internal/counters"
	"github.com/contextforge/contextforge/internal/jobs"
)

// newTestAPI serves the real handlers over in-memory stores.
func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr := auth.NewManager(auth.NewMemoryStore())
	require.NoError(t, mgr.SeedKeys(context.Background(), []string{"u1:cf_client_test"}))

	r := gin.New()
	r.Use(auth.Middleware(mgr))
	v1 := r.Group("/v1", auth.RequireAuth())
	svc := analytics.NewService(content.NewMemoryStore(), counters.NewTracker(counters.NewMemoryStore()), nil, nil)
	analytics.NewHandler(svc, nil).RegisterProtectedRoutes(v1)
	jobs.NewHandler(jobs.NewService(jobs.NewMemoryStore(), nil)).RegisterProtectedRoutes(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_EndToEnd(t *testing.T) {
	srv := newTestAPI(t)
	c := New(Config{BaseURL: srv.URL + "/", APIKey: "cf_client_test"})
	ctx := context.Background()

	usage, err := c.Usage(ctx, "7d")
	require.NoError(t, err)
	assert.Equal(t, analytics.StatusOK, usage.Status)
	assert.Equal(t, "7d", usage.Data.Range)

	require.NoError(t, c.RecordActivity(ctx, counters.Event{
		Type: counters.EventItemProcessed,
		Data: map[string]any{"count": 2},
	}))
	rt, err := c.Realtime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rt.Data.Counters.ItemsProcessed)

	ins, err := c.Insights(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "30d", ins.Data.Range)

	j, err := c.CreateJob(ctx, "import", 4)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, j.Status)

	processed := int64(4)
	done := "completed"
	_, err = c.UpdateJob(ctx, j.ID, jobs.ProgressUpdate{ProcessedItems: &processed, Status: &done})
	require.NoError(t, err)

	got, err := c.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)

	page, err := c.ListJobs(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Jobs, 1)
}

func TestClient_Errors(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()

	_, err := New(Config{BaseURL: srv.URL, APIKey: "cf_wrong"}).Usage(ctx, "")
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unauthorized", apiErr.Code)

	_, err = New(Config{BaseURL: srv.URL, APIKey: "cf_client_test"}).GetJob(ctx, "job_missing")
	assert.True(t, IsNotFound(err))
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Realtime(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestPollerFor(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, 2*time.Second, c.PollerFor(jobs.TypeImport).Interval)
	assert.Equal(t, 10*time.Minute, c.PollerFor(jobs.TypeExport).Timeout)
	assert.Equal(t, 3*time.Second, c.PollerFor(jobs.TypeOptimize).Interval)
	assert.Equal(t, 5*time.Minute, c.PollerFor(jobs.TypeClassify).Timeout)
	assert.NotNil(t, c.PollerFor(jobs.TypeImport).Fetch)
}

func TestJobDecodeIgnoresProgress(t *testing.T) {
	var j jobs.Job
	require.NoError(t, json.Unmarshal([]byte(`{"id":"job_1","status":"queued","progress":0.5}`), &j))
	assert.Equal(t, jobs.Status("queued"), j.Status)
}
