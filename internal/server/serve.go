package server

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// This file contains server startup methods that are untestable in unit
// tests as they start blocking servers.

// Serve starts the MCP server with stdio transport
func (ms *MCPServer) Serve() error {
	return server.ServeStdio(ms.server)
}

// ServeWithLogger starts the MCP server with stdio transport and custom logger
func (ms *MCPServer) ServeWithLogger(logger *slog.Logger) error {
	logger.Info("Starting MCP server with stdio transport")
	return ms.Serve()
}
