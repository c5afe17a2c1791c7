package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/droidrelay/internal/runtimepath"
)

// DefaultRequestTimeout bounds how long one request may take in the daemon.
const DefaultRequestTimeout = 5 * time.Second

// Handler serves the daemon side of each command.
type Handler interface {
	Status(ctx context.Context) (*StatusData, error)
	OpenApp(ctx context.Context, app, activity string) error
	CloseApp(ctx context.Context, app, activity string) error
	// Reload re-reads the configuration file and applies it.
	Reload(ctx context.Context) error
}

// ServerConfig holds configuration for the IPC server.
type ServerConfig struct {
	// SocketPath defaults to runtimepath.SocketPath().
	SocketPath     string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Server handles IPC requests from clients
type Server struct {
	socketPath string
	timeout    time.Duration
	handler    Handler
	logger     *slog.Logger

	listener     net.Listener
	conns        sync.WaitGroup
	shuttingDown bool
	shutdownMu   sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig, handler Handler) (*Server, error) {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		p, err := runtimepath.SocketPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IPC socket path: %w", err)
		}
		socketPath = p
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Server{
		socketPath: socketPath,
		timeout:    cfg.RequestTimeout,
		handler:    handler,
		logger:     cfg.Logger.With("component", "ipc"),
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins listening for IPC connections
func (s *Server) Start() error {
	// Remove existing socket if present
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale IPC socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", "socket", s.socketPath)

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			s.logger.Warn("IPC accept error", "error", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection serves a single request/response exchange.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * s.timeout))

	reader := bufio.NewReader(conn)

	// Read the request (expect JSON on a single line)
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Warn("IPC read error", "error", err)
		return
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeResponse(conn, newResponse(nil, fmt.Errorf("Invalid request: %w", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Debug("IPC request", "command", req.Command)
	s.writeResponse(conn, newResponse(s.dispatch(ctx, &req)))
}

// dispatch runs one command. The returned value becomes the response data.
func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Command {
	case CommandReload:
		if err := s.handler.Reload(ctx); err != nil {
			return nil, fmt.Errorf("Failed to reload config: %w", err)
		}
		s.logger.Info("IPC: config reloaded")
		return nil, nil
	case CommandGetStatus:
		status, err := s.handler.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("Failed to get status: %w", err)
		}
		return status, nil
	case CommandOpenApp, CommandCloseApp:
		var app AppPayload
		if err := json.Unmarshal(req.Payload, &app); err != nil {
			return nil, fmt.Errorf("Invalid app payload: %w", err)
		}
		if app.App == "" {
			return nil, errors.New("app is required")
		}
		if req.Command == CommandOpenApp {
			return nil, s.handler.OpenApp(ctx, app.App, app.Activity)
		}
		return nil, s.handler.CloseApp(ctx, app.App, app.Activity)
	default:
		return nil, fmt.Errorf("Unknown command: %s", req.Command)
	}
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("failed to send response", "error", err)
	}
}

func (s *Server) isShuttingDown() bool {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	return s.shuttingDown
}

// Stop closes the listener, waits for in-flight requests and removes the
// socket file.
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Wait()
	os.Remove(s.socketPath)
}
