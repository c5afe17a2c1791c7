// Package control implements the length-prefixed command channels shared
// with the guest: a generic single-peer server and the app-lifecycle channel
// built on it.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/1broseidon/droidrelay/internal/metrics"
	"github.com/1broseidon/droidrelay/internal/sock"
)

// Handler processes one received frame. Replies go to w. Returning an
// error drops the peer.
type Handler interface {
	Handle(ctx context.Context, w io.Writer, frame []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, w io.Writer, frame []byte) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, w io.Writer, frame []byte) error {
	return f(ctx, w, frame)
}

// ServerConfig holds configuration for a control server.
type ServerConfig struct {
	Name  string
	Path  string
	Mode  os.FileMode
	Width int

	// Timeout is consulted before every receive.
	Timeout func() time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server accepts one peer at a time and feeds its frames to a Handler.
type Server struct {
	cfg     ServerConfig
	ln      *sock.Listener
	handler Handler
	logger  *slog.Logger
}

// NewServer binds the socket. A bind failure is fatal to startup.
func NewServer(cfg ServerConfig, h Handler) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == 0 {
		cfg.Mode = sock.DefaultMode
	}
	if cfg.Timeout == nil {
		cfg.Timeout = func() time.Duration { return time.Second }
	}
	if _, err := maxLen(cfg.Width); err != nil {
		return nil, err
	}

	logger := cfg.Logger.With("channel", cfg.Name)
	ln, err := sock.Listen(cfg.Path, cfg.Mode, logger)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, ln: ln, handler: h, logger: logger}, nil
}

// Connected reports whether a peer is attached.
func (s *Server) Connected() bool {
	return s.ln.Connected()
}

// Shutdown unblocks Run.
func (s *Server) Shutdown() {
	s.ln.Shutdown()
}

// Close removes the socket file.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Run accepts peers until ctx is cancelled and the listener is shut down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("control channel started", "socket", s.cfg.Path)

	for {
		if ctx.Err() != nil {
			return nil
		}

		peer, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, sock.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.logger.Info("guest connected", "peer", peer.ID)
		err = s.serve(ctx, peer)
		s.ln.Release(peer)

		if ctx.Err() != nil {
			return nil
		}
		s.cfg.Metrics.RecordPeerLost(s.cfg.Name)
		s.logger.Warn("lost client", "peer", peer.ID, "error", err)
	}
}

func (s *Server) serve(ctx context.Context, peer *sock.Peer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		peer.SetTimeout(s.cfg.Timeout())
		frame, err := ReadFrame(peer, s.cfg.Width)
		if err != nil {
			if sock.IsTimeout(err) {
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if err := s.handler.Handle(ctx, peer, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
