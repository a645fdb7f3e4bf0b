package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/errors"
)

// Serve exposes the registered tools on host:port and blocks until ctx is cancelled
// or the listener fails. Cancellation triggers a graceful shutdown and is not an error.
func (s *Server) Serve(ctx context.Context, host string, port int) error {
	mcpServer, err := s.MCPServer()
	if err != nil {
		return err
	}

	switch s.opts.Transport {
	case TransportStdio:
		s.logger.Info("Starting stdio transport", "tools", s.registry.Len())
		err := server.NewStdioServer(mcpServer).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	case TransportHTTP:
		return s.serveHTTP(ctx, host, port, s.httpHandler(mcpServer))
	case TransportSSE:
		return s.serveHTTP(ctx, host, port, server.NewSSEServer(mcpServer))
	}
	return errors.New(errors.CodeConfigurationInvalid, "server",
		fmt.Sprintf("unknown transport %q", s.opts.Transport), nil)
}

func (s *Server) httpHandler(mcpServer *server.MCPServer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(mcpEndpoint, server.NewStreamableHTTPServer(mcpServer))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","tools":%d}`, s.registry.Len())
	})
	return mux
}

func (s *Server) serveHTTP(ctx context.Context, host string, port int, handler http.Handler) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.CodeIoError, "server", fmt.Sprintf("cannot listen on %s", addr), err)
	}
	return s.serveListener(ctx, listener, handler)
}

func (s *Server) serveListener(ctx context.Context, listener net.Listener, handler http.Handler) error {
	httpServer := &http.Server{Handler: handler}
	s.logger.Info("Serving MCP",
		"transport", s.opts.Transport,
		"addr", listener.Addr().String(),
		"tools", s.registry.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return errors.New(errors.CodeIoError, "server", "listener failed", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Graceful shutdown incomplete", "error", err)
		}
		return nil
	})

	err := g.Wait()
	s.logger.Info("MCP server stopped")
	return err
}
