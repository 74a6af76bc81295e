package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/contextforge/contextforge/internal/client"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// Config holds configuration for the MCP server.
type Config struct {
	APIURL string // e.g. "http://localhost:8080"
	APIKey string // e.g. "cf_..."
}

// NewMCPServer creates a configured MCP server with all ContextForge tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("contextforge", Version)
	h := NewHandlers(client.New(client.Config{BaseURL: cfg.APIURL, APIKey: cfg.APIKey}))

	s.AddTool(ToolGetUsageAnalytics, h.HandleGetUsageAnalytics)
	s.AddTool(ToolGetInsights, h.HandleGetInsights)
	s.AddTool(ToolGetRealtimeMetrics, h.HandleGetRealtimeMetrics)
	s.AddTool(ToolGetJobStatus, h.HandleGetJobStatus)
	s.AddTool(ToolListJobs, h.HandleListJobs)

	return s
}
