package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/contextforge/contextforge/internal/client"
	"github.com/contextforge/contextforge/internal/pagination"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *client.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(c *client.Client) *Handlers {
	return &Handlers{client: c}
}

// HandleGetUsageAnalytics summarizes usage over a range.
func (h *Handlers) HandleGetUsageAnalytics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.client.Usage(ctx, req.GetString("range", ""))
	if err != nil {
		return mcp.NewToolResultError(describeError("fetch usage analytics", err)), nil
	}
	return mcp.NewToolResultText(formatUsage(res)), nil
}

// HandleGetInsights returns metrics and recommendations.
func (h *Handlers) HandleGetInsights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.client.Insights(ctx, req.GetString("range", ""))
	if err != nil {
		return mcp.NewToolResultError(describeError("fetch insights", err)), nil
	}
	return mcp.NewToolResultText(formatInsights(res)), nil
}

// HandleGetRealtimeMetrics returns the live counters.
func (h *Handlers) HandleGetRealtimeMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.client.Realtime(ctx)
	if err != nil {
		return mcp.NewToolResultError(describeError("fetch realtime metrics", err)), nil
	}
	return mcp.NewToolResultText(formatRealtime(res)), nil
}

// HandleGetJobStatus returns one job.
func (h *Handlers) HandleGetJobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("job_id", "")
	if id == "" {
		return mcp.NewToolResultError("job_id is required"), nil
	}

	j, err := h.client.GetJob(ctx, id)
	if client.IsNotFound(err) {
		return mcp.NewToolResultError(fmt.Sprintf("Job %s not found.", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(describeError("fetch job", err)), nil
	}
	return mcp.NewToolResultText(formatJob(j)), nil
}

// HandleListJobs returns one page of jobs.
func (h *Handlers) HandleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", pagination.DefaultLimit)
	if limit < 1 || limit > pagination.MaxLimit {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", pagination.MaxLimit)), nil
	}

	page, err := h.client.ListJobs(ctx, limit, req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(describeError("list jobs", err)), nil
	}
	return mcp.NewToolResultText(formatJobList(page)), nil
}

func describeError(action string, err error) string {
	if client.IsUnauthorized(err) {
		return fmt.Sprintf("Failed to %s: the API key was rejected. Check CONTEXTFORGE_API_KEY.", action)
	}
	return fmt.Sprintf("Failed to %s: %v", action, err)
}
