// Package mcp implements the Model Context Protocol server surface: the
// stdio transport, the tool registrations, and the mapping from engine
// errors to structured tool errors. Handlers stay thin; all semantics
// live in the activation engine.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/compoundkb/compoundmcp/internal/activation"
	"github.com/compoundkb/compoundmcp/pkg/version"
)

// ServerName is the implementation name reported during the MCP
// handshake.
const ServerName = "compoundmcp"

// Server bridges MCP clients to the activation engine.
type Server struct {
	mcp    *mcp.Server
	engine *activation.Engine
	logger *slog.Logger
}

// NewServer builds the MCP server and registers every tool.
func NewServer(engine *activation.Engine, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("activation engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine: engine,
		logger: logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server, used by in-process tests.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Run serves MCP over stdio until ctx is canceled. stdout carries frames
// only; all logging goes to stderr or the log file.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("MCP server starting",
		slog.String("transport", "stdio"),
		slog.String("version", version.Version))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}
