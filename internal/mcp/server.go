package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dopamas/querygate/internal/schema"
	"github.com/dopamas/querygate/internal/validator"
	"github.com/dopamas/querygate/internal/workflow"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Service is the part of the orchestrator the tools call.
type Service interface {
	Process(ctx context.Context, message, sessionID string) (*workflow.Response, error)
	Schema(ctx context.Context, refresh bool) (*schema.Snapshot, error)
	Validate(query string, d validator.Dialect) validator.Result
}

// Server wraps an MCP server that exposes the query pipeline as tools.
type Server struct {
	svc    Service
	logger *slog.Logger
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server backed by svc.
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	s.mcp = server.NewMCPServer(
		"querygate",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(askDatabaseTool, s.handleAskDatabase)
	s.mcp.AddTool(validateQueryTool, s.handleValidateQuery)
	s.mcp.AddTool(getSchemaTool, s.handleGetSchema)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
