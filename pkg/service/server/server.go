// Package server exposes a tool registry over the Model Context Protocol.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
	"github.com/cwl-mcp/cwl-mcp/pkg/domain/run"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/executor"
	"github.com/cwl-mcp/cwl-mcp/pkg/service/registry"
)

// Transports accepted by Serve.
const (
	TransportHTTP  = "http"
	TransportSSE   = "sse"
	TransportStdio = "stdio"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	mcpEndpoint            = "/mcp"
)

// Options configures the served identity and transport.
type Options struct {
	Name            string
	Version         string
	Transport       string
	ShutdownTimeout time.Duration
}

// Server binds a registry and an executor to an MCP server.
type Server struct {
	registry *registry.ToolRegistry
	executor *executor.Executor
	store    run.Store
	opts     Options
	logger   *slog.Logger

	startTime time.Time
	once      sync.Once
	mcpServer *server.MCPServer
	buildErr  error
}

// New creates a server. store may be nil, in which case list_runs reports an
// empty history.
func New(reg *registry.ToolRegistry, exec *executor.Executor, store run.Store, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "cwl-mcp"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Transport == "" {
		opts.Transport = TransportHTTP
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		registry:  reg,
		executor:  exec,
		store:     store,
		opts:      opts,
		logger:    logger.With("component", "mcp_server"),
		startTime: time.Now(),
	}
}

// MCPServer builds the mcp-go server on first use and registers every tool.
// Tools added to the registry afterwards are not served.
func (s *Server) MCPServer() (*server.MCPServer, error) {
	s.once.Do(func() {
		mcpServer := server.NewMCPServer(
			s.opts.Name,
			s.opts.Version,
			server.WithToolCapabilities(true),
			server.WithLogging(),
			server.WithRecovery(),
		)
		if mcpServer == nil {
			s.buildErr = errors.New(errors.CodeInternalError, "server", "failed to create mcp-go server", nil)
			return
		}
		if err := s.registerTools(mcpServer); err != nil {
			s.buildErr = err
			return
		}
		s.mcpServer = mcpServer
	})
	return s.mcpServer, s.buildErr
}

// Uptime is the time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}
