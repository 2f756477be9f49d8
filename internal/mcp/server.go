// ABOUTME: MCP server exposing the coordination tools to agent processes
// ABOUTME: Serves the same tool set over stdio and Streamable HTTP

package mcp

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/2389/coven-guardian/internal/coordinator"
)

// ServerName is advertised to MCP clients during initialize.
const ServerName = "coven-guardian"

// MaxRequestBodySize is the maximum allowed size for HTTP request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Server wraps the mcp-go server around a Coordinator.
type Server struct {
	mcpServer *mcpserver.MCPServer
	coord     *coordinator.Coordinator
	logger    *slog.Logger
}

// New creates an MCP server with every coordination tool registered.
func New(c *coordinator.Coordinator, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		coord:  c,
		logger: logger.With("component", "mcp"),
	}
	s.mcpServer = mcpserver.NewMCPServer(
		ServerName,
		version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// HTTPHandler returns a Streamable HTTP handler with a request body limit.
func (s *Server) HTTPHandler() http.Handler {
	h := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}
		h.ServeHTTP(w, r)
	})
}

// ServeStdio speaks MCP over in and out until ctx is cancelled or in closes.
// Nothing else may write to out while this runs.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("serving MCP over stdio")
	return mcpserver.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}
