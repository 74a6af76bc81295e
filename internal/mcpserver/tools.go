package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ContextForge MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

const rangeDescription = "Time range as <count><unit>, unit h (hours), d (days), w (weeks) or m (30-day months). " +
	"Examples: '24h', '7d', '2w', '3m'. Defaults to '30d'."

var ToolGetUsageAnalytics = mcp.NewTool("get_usage_analytics",
	mcp.WithDescription(
		"Summarize how the user's ContextForge library was used over a time range: "+
			"items created per day and per type, token totals, optimization and import activity. "+
			"Sections whose backing store was unavailable are reported as degraded."),
	mcp.WithString("range",
		mcp.Description(rangeDescription)),
)

var ToolGetInsights = mcp.NewTool("get_insights",
	mcp.WithDescription(
		"Assess the quality of the user's context library and suggest improvements. "+
			"Returns a health score, quality metrics (average quality, duplicate rate, approval ratio, "+
			"clustering and categorization coverage), prioritized recommendations and a daily quality trend."),
	mcp.WithString("range",
		mcp.Description(rangeDescription)),
)

var ToolGetRealtimeMetrics = mcp.NewTool("get_realtime_metrics",
	mcp.WithDescription(
		"Show live usage counters: items processed, optimizations today, active requests, "+
			"average response time and requests in the last minute, with recent activity and alerts."),
)

var ToolGetJobStatus = mcp.NewTool("get_job_status",
	mcp.WithDescription(
		"Check the status and progress of a long-running import, optimize, classify or export job."),
	mcp.WithString("job_id",
		mcp.Required(),
		mcp.Description("The job ID (e.g. 'job_3f9a...')")),
)

var ToolListJobs = mcp.NewTool("list_jobs",
	mcp.WithDescription(
		"List the user's jobs, newest first. Use the returned cursor to fetch the next page."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of jobs to return (1-100, default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous list_jobs call")),
)
