package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), tt.code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Gauges are exported at zero; counter vectors only once a label set exists.
	assert.Contains(t, w.Body.String(), "contextforge_active_websocket_clients")

	DegradedReadsTotal.WithLabelValues("itemsByType").Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), `contextforge_analytics_degraded_reads_total{read="itemsByType"}`)
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/jobs/:id", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/v1/jobs/:id", "4xx")
	before := counterValue(t, counter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/jobs/abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, before+1, counterValue(t, counter))
}

func TestRegisterDBStats(t *testing.T) {
	// sql.Open does not connect; Stats works on an unused pool.
	db, err := sql.Open("postgres", "postgres://localhost/unused")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, RegisterDBStats(db, "metrics_test"))
	require.NoError(t, RegisterDBStats(db, "metrics_test"), "second registration is a no-op")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), `go_sql_open_connections{db_name="metrics_test"}`)
}
