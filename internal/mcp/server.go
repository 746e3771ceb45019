// Package mcp exposes the risk engine as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
)

// Server represents the PRECISE-HBR MCP server implementation
type Server struct {
	engine    domain.RiskEngine
	engineCfg domain.EngineConfig
	info      domain.MCPConfig
	mcpServer *mcp.Server
	logger    *logrus.Logger
	now       func() time.Time
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithImplementation overrides the name and version reported to clients.
func WithImplementation(info domain.MCPConfig) ServerOption {
	return func(s *Server) error {
		if info.ServerName == "" || info.ServerVersion == "" {
			return fmt.Errorf("server name and version are required")
		}
		s.info = info
		return nil
	}
}

// NewLogger builds a logger for the stdio binary. Output goes to stderr because stdout
// carries the protocol.
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// NewServer creates a new MCP server instance and registers the risk tools.
func NewServer(engine domain.RiskEngine, engineCfg domain.EngineConfig, opts ...ServerOption) (*Server, error) {
	server := &Server{
		engine:    engine,
		engineCfg: engineCfg,
		info: domain.MCPConfig{
			ServerName:    "precise-hbr-mcp-server",
			ServerVersion: "v0.1.0",
		},
		logger: NewLogger("info", "json"),
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    server.info.ServerName,
		Version: server.info.ServerVersion,
	}, nil)

	server.registerTools()

	server.logger.WithFields(logrus.Fields{
		"server_name":    server.info.ServerName,
		"server_version": server.info.ServerVersion,
	}).Info("MCP server initialized")

	return server, nil
}

// registerTools registers every tool definition with the MCP SDK.
func (s *Server) registerTools() {
	for _, tool := range s.toolDefinitions() {
		s.mcpServer.AddTool(tool.definition, tool.handler)
		s.logger.WithField("tool_name", tool.definition.Name).Debug("Registered MCP tool")
	}
	s.logger.WithField("tool_count", len(s.toolDefinitions())).Info("Successfully registered all tools")
}

// Start runs the server on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PRECISE-HBR MCP Server...")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// ToolNames lists the registered tools in registration order.
func (s *Server) ToolNames() []string {
	defs := s.toolDefinitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.definition.Name
	}
	return names
}
