// Package mcpserver exposes the ask_user tool over the Model Context
// Protocol, either on stdio (the default, for subprocess use by an agent) or
// as a Streamable HTTP endpoint bound to 127.0.0.1.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"slackask/internal/logging"
)

const (
	// DefaultPort is the default port for the HTTP transport.
	DefaultPort = 5858
	// ServerName identifies this server to MCP clients.
	ServerName = "slackask"
	// ServerVersion is the advertised server version.
	ServerVersion = "1.0.0"
)

// TransportMode specifies how MCP clients connect.
type TransportMode string

const (
	// TransportModeSTDIO serves MCP over standard input/output. This is the
	// normal mode: the agent runs slackask as a subprocess.
	TransportModeSTDIO TransportMode = "stdio"

	// TransportModeHTTP serves MCP over Streamable HTTP on 127.0.0.1.
	TransportModeHTTP TransportMode = "http"
)

// UserAsker is the blocking question/answer operation behind the ask_user
// tool. Satisfied by *ask.Asker.
type UserAsker interface {
	Ask(ctx context.Context, question string) string
}

// Config holds the configuration for the MCP server.
type Config struct {
	// Port to listen on. Only used in HTTP mode; -1 means DefaultPort,
	// 0 means a random available port.
	Port int

	// Mode specifies the transport mode. Default: stdio.
	Mode TransportMode
}

// Server is the MCP surface of slackask.
type Server struct {
	mcpServer *mcp.Server
	logger    *slog.Logger
	port      int
	mode      TransportMode
	listener  net.Listener
	httpSrv   *http.Server

	// For STDIO mode
	stdioSession *mcp.ServerSession
	stdioDone    chan struct{}

	mu       sync.RWMutex
	running  bool
	shutdown bool
}

// NewServer creates an MCP server whose ask_user tool delegates to asker.
func NewServer(cfg Config, asker UserAsker) (*Server, error) {
	if asker == nil {
		return nil, fmt.Errorf("asker is required")
	}
	if cfg.Port < 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Mode == "" {
		cfg.Mode = TransportModeSTDIO
	}

	s := &Server{
		logger: logging.MCP(),
		port:   cfg.Port,
		mode:   cfg.Mode,
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	mcp.AddTool(mcpSrv, &mcp.Tool{
		Name:        "ask_user",
		Description: "Ask the human a question via Slack and wait for their threaded reply. Returns the reply text, or an error-prefixed message on timeout or failure. Follow-up calls continue the same Slack thread.",
	}, newAskUserHandler(asker))

	s.mcpServer = mcpSrv
	return s, nil
}

// newAskUserHandler builds the ask_user tool handler. The handler never
// returns a protocol error: every outcome, including failures, comes back as
// response text the calling agent can branch on.
func newAskUserHandler(asker UserAsker) mcp.ToolHandlerFor[AskUserInput, AskUserOutput] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskUserInput) (*mcp.CallToolResult, AskUserOutput, error) {
		if input.Question == "" {
			return nil, AskUserOutput{Response: "Error: the question must not be empty."}, nil
		}
		return nil, AskUserOutput{Response: asker.Ask(ctx, input.Question)}, nil
	}
}

// Start starts the MCP server in the configured transport mode. It is
// non-blocking in both modes; use Wait() to block on a STDIO session.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.mu.Unlock()

	switch s.mode {
	case TransportModeSTDIO:
		return s.startSTDIO(ctx)
	case TransportModeHTTP:
		return s.startHTTP(ctx)
	default:
		return fmt.Errorf("unknown transport mode: %s", s.mode)
	}
}

// startHTTP serves the Streamable HTTP transport on 127.0.0.1.
func (s *Server) startHTTP(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()

	s.logger.Info("MCP server started", "mode", "http", "port", s.Port())

	mux := http.NewServeMux()
	streamableHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	mux.Handle("/mcp", streamableHandler)
	mux.Handle("/", streamableHandler)

	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("MCP server error", "error", err)
		}
	}()

	return nil
}

// startSTDIO connects the server to stdin/stdout in a goroutine.
func (s *Server) startSTDIO(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.stdioDone = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("MCP server started", "mode", "stdio")

	go func() {
		defer close(s.stdioDone)

		transport := &mcp.StdioTransport{}
		session, err := s.mcpServer.Connect(ctx, transport, nil)
		if err != nil {
			s.logger.Error("Failed to connect STDIO transport", "error", err)
			return
		}

		s.mu.Lock()
		s.stdioSession = session
		s.mu.Unlock()

		if err := session.Wait(); err != nil {
			s.logger.Debug("STDIO session ended", "error", err)
		}

		s.mu.Lock()
		s.running = false
		s.stdioSession = nil
		s.mu.Unlock()

		s.logger.Info("MCP server stopped", "mode", "stdio")
	}()

	return nil
}

// Wait blocks until the STDIO session ends. For HTTP mode it returns
// immediately.
func (s *Server) Wait() error {
	s.mu.RLock()
	done := s.stdioDone
	s.mu.RUnlock()

	if done != nil {
		<-done
	}
	return nil
}

// Stop stops the MCP server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.shutdown {
		return nil
	}
	s.shutdown = true
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("Error shutting down MCP HTTP server", "error", err)
		}
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.stdioSession != nil {
		if err := s.stdioSession.Close(); err != nil {
			s.logger.Warn("Error closing STDIO session", "error", err)
		}
	}

	s.logger.Info("MCP server stopped")
	return nil
}

// Port returns the actual port the server is listening on. Returns the
// configured port until Start, and 0 is never meaningful in STDIO mode.
func (s *Server) Port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.port
}

// Mode returns the transport mode of the server.
func (s *Server) Mode() TransportMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running && !s.shutdown
}
