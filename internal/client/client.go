// Package client is a Go client for the ContextForge analytics and job API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/contextforge/contextforge/internal/analytics"
	"github.com/contextforge/contextforge/internal/counters"
	"github.com/contextforge/contextforge/internal/jobs"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8080"

// Config holds the connection settings.
type Config struct {
	BaseURL    string // e.g. "http://localhost:8080"
	APIKey     string // e.g. "cf_..."
	HTTPClient *http.Client
}

// Client talks to the REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, apiKey: cfg.APIKey, httpClient: hc}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d)", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// do sends a request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func rangeQuery(rng string) url.Values {
	if rng == "" {
		return nil
	}
	return url.Values{"range": {rng}}
}

// Usage fetches the usage payload for rng ("7d", "2w", ...).
func (c *Client) Usage(ctx context.Context, rng string) (*analytics.Result[analytics.Usage], error) {
	var out analytics.Result[analytics.Usage]
	if err := c.do(ctx, http.MethodGet, "/v1/analytics/usage", rangeQuery(rng), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Insights fetches metrics and recommendations for rng.
func (c *Client) Insights(ctx context.Context, rng string) (*analytics.Result[analytics.Insights], error) {
	var out analytics.Result[analytics.Insights]
	if err := c.do(ctx, http.MethodGet, "/v1/analytics/insights", rangeQuery(rng), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Realtime fetches the live counters.
func (c *Client) Realtime(ctx context.Context) (*analytics.Result[analytics.Realtime], error) {
	var out analytics.Result[analytics.Realtime]
	if err := c.do(ctx, http.MethodGet, "/v1/analytics/realtime", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordActivity reports a usage event. A zero timestamp is filled in by
// the server.
func (c *Client) RecordActivity(ctx context.Context, ev counters.Event) error {
	req := analytics.RecordActivityRequest{Type: ev.Type, Data: ev.Data}
	if !ev.Timestamp.IsZero() {
		ts := ev.Timestamp
		req.Timestamp = &ts
	}
	return c.do(ctx, http.MethodPost, "/v1/analytics/realtime", nil, req, nil)
}

// CreateJob registers a job record.
func (c *Client) CreateJob(ctx context.Context, typ string, totalItems int64) (*jobs.Job, error) {
	var out jobs.Job
	req := jobs.CreateRequest{Type: typ, TotalItems: totalItems}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob fetches one job record.
func (c *Client) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var out jobs.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs fetches one page of jobs, newest first.
func (c *Client) ListJobs(ctx context.Context, limit int, cursor string) (*jobs.Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var out jobs.Page
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateJob reports worker progress on a job.
func (c *Client) UpdateJob(ctx context.Context, id string, u jobs.ProgressUpdate) (*jobs.Job, error) {
	var out jobs.Job
	if err := c.do(ctx, http.MethodPatch, "/v1/jobs/"+url.PathEscape(id), nil, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
