package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextforge/contextforge/internal/client"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	c := client.New(client.Config{BaseURL: ts.URL, APIKey: "cf_test_key"})
	return NewHandlers(c), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

const usageBody = `{
  "status": "ok",
  "data": {
    "range": "7d",
    "since": "2026-03-03T12:00:00Z",
    "totals": {"items": 3, "tokens": 450, "optimizations": 3, "approvedOptimizations": 1,
               "tokenSavings": 40, "imports": 1, "importedFiles": 5},
    "itemsByType": {"rule": 1, "prompt": 2},
    "itemsByDay": [{"date": "2026-03-09", "count": 1}, {"date": "2026-03-10", "count": 2}],
    "unknownStatuses": {"optimization:archived": 1}
  }
}`

// ============================================================
// Analytics tools
// ============================================================

func TestHandleGetUsageAnalytics(t *testing.T) {
	var gotRange, gotAuth string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analytics/usage", r.URL.Path)
		gotRange = r.URL.Query().Get("range")
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, usageBody)
	}))
	defer cleanup()

	result, err := h.HandleGetUsageAnalytics(context.Background(), makeRequest(map[string]any{"range": "7d"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "7d", gotRange)
	assert.Equal(t, "Bearer cf_test_key", gotAuth)

	text := resultText(t, result)
	assert.Contains(t, text, "Usage for the last 7d (since 2026-03-03)")
	assert.Contains(t, text, "Items created:    3 (450 tokens)")
	assert.Contains(t, text, "1 approved, 40 tokens saved")
	assert.Contains(t, text, "2026-03-10  2")
	assert.Contains(t, text, "optimization:archived: 1")
	assert.NotContains(t, text, "unavailable")
	assert.Less(t, strings.Index(text, "prompt"), strings.Index(text, "rule"), "types sorted")
}

func TestHandleGetUsageAnalytics_Degraded(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"degraded","degradedReads":["imports","items"],
			"data":{"range":"30d","since":"2026-02-08T12:00:00Z","totals":{}}}`)
	}))
	defer cleanup()

	result, err := h.HandleGetUsageAnalytics(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "some data was unavailable (imports, items)")
}

func TestHandleGetInsights(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analytics/insights", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"data": map[string]any{
				"range":       "30d",
				"healthScore": 72,
				"metrics": map[string]any{
					"avgQuality": 6.5, "duplicateRate": 0.25, "approvalRatio": 0.5,
					"totalOptimizations": 4, "clusteringQuality": 0.3, "contentCoverage": 0.9,
				},
				"recommendations": []map[string]any{{
					"id": "duplicates", "type": "duplicates", "title": "Remove duplicate items",
					"description": "25% of items are duplicates.", "impact": "high", "effort": "low",
					"priority": 1, "actionItems": []string{"Review duplicates"},
				}},
				"qualityTrend": []map[string]any{{"date": "2026-03-10", "avgQuality": 6.5, "count": 2}},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetInsights(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Library health: 72/100")
	assert.Contains(t, text, "Duplicate rate:     25%")
	assert.Contains(t, text, "50% of 4 optimizations")
	assert.Contains(t, text, "1. [high impact, low effort] Remove duplicate items")
	assert.Contains(t, text, "   - Review duplicates")
	assert.Contains(t, text, "2026-03-10  6.5")
}

func TestHandleGetInsights_NoRecommendations(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"ok","data":{"range":"30d","recommendations":[]}}`)
	}))
	defer cleanup()

	result, err := h.HandleGetInsights(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No recommendations.")
}

func TestHandleGetRealtimeMetrics(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/analytics/realtime", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"status":"ok","data":{
			"counters":{"itemsProcessed":12,"optimizationsToday":3,"activeRequests":1,"avgResponseTime":142.4,"requestsPerMinute":9},
			"activity":[{"type":"item_processed","timestamp":"2026-03-10T11:59:00Z"}],
			"alerts":[{"id":"al_1","severity":"error","message":"import failed","timestamp":"2026-03-10T11:58:00Z"}]}}`)
	}))
	defer cleanup()

	result, err := h.HandleGetRealtimeMetrics(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Items processed:      12")
	assert.Contains(t, text, "Avg response time:    142 ms")
	assert.Contains(t, text, "[error] 2026-03-10T11:58:00Z import failed")
	assert.Contains(t, text, "2026-03-10T11:59:00Z item_processed")
}

func TestAnalyticsTools_APIErrors(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/analytics/realtime" {
			writeJSON(w, http.StatusUnauthorized, `{"error":"unauthorized","message":"invalid API key"}`)
			return
		}
		writeJSON(w, http.StatusInternalServerError, `{"error":"internal_error","message":"failed to build analytics"}`)
	}))
	defer cleanup()

	result, err := h.HandleGetUsageAnalytics(context.Background(), makeRequest(nil))
	require.NoError(t, err, "tool failures are reported in the result")
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "failed to build analytics")

	result, err = h.HandleGetRealtimeMetrics(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "CONTEXTFORGE_API_KEY")
}

// ============================================================
// Job tools
// ============================================================

func TestHandleGetJobStatus(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/jobs/job_1":
			writeJSON(w, http.StatusOK, `{"id":"job_1","type":"import","status":"running","totalItems":8,
				"processedItems":2,"createdAt":"2026-03-10T11:00:00Z","updatedAt":"2026-03-10T11:05:00Z"}`)
		case "/v1/jobs/job_2":
			writeJSON(w, http.StatusOK, `{"id":"job_2","type":"optimize","status":"failed","processedItems":4,
				"error":"model timeout","updatedAt":"2026-03-10T11:05:00Z"}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"error":"not_found","message":"job not found"}`)
		}
	}))
	defer cleanup()

	result, err := h.HandleGetJobStatus(context.Background(), makeRequest(map[string]any{"job_id": "job_1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Job job_1 (import): running")
	assert.Contains(t, text, "Progress: 2/8 (25%)")

	result, err = h.HandleGetJobStatus(context.Background(), makeRequest(map[string]any{"job_id": "job_2"}))
	require.NoError(t, err)
	text = resultText(t, result)
	assert.Contains(t, text, "Processed: 4")
	assert.Contains(t, text, "Error: model timeout")

	result, err = h.HandleGetJobStatus(context.Background(), makeRequest(map[string]any{"job_id": "job_missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "Job job_missing not found.", resultText(t, result))
}

func TestHandleGetJobStatus_MissingID(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleGetJobStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "job_id is required")
}

func TestHandleListJobs(t *testing.T) {
	var gotLimit, gotCursor string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		gotCursor = r.URL.Query().Get("cursor")
		writeJSON(w, http.StatusOK, `{"jobs":[
			{"id":"job_b","type":"export","status":"completed","totalItems":2,"processedItems":2,"createdAt":"2026-03-10T11:00:00Z"},
			{"id":"job_a","type":"import","status":"pending","createdAt":"2026-03-10T10:00:00Z"}],
			"nextCursor":"abc","hasMore":true}`)
	}))
	defer cleanup()

	result, err := h.HandleListJobs(context.Background(), makeRequest(map[string]any{"limit": float64(2), "cursor": "xyz"}))
	require.NoError(t, err)
	assert.Equal(t, "2", gotLimit)
	assert.Equal(t, "xyz", gotCursor)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 job(s)")
	assert.Contains(t, text, "1. job_b")
	assert.Contains(t, text, "100%")
	assert.Contains(t, text, `pass cursor "abc"`)
}

func TestHandleListJobs_EmptyAndInvalid(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"jobs":[],"hasMore":false}`)
	}))
	defer cleanup()

	result, err := h.HandleListJobs(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No jobs found.", resultText(t, result))

	result, err = h.HandleListJobs(context.Background(), makeRequest(map[string]any{"limit": float64(500)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "limit must be between 1 and 100")
}
