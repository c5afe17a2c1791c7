// Package relay implements the buffer relay channel: a single-peer socket
// that receives native buffer handles from the guest compositor, hands each
// to the render loop, and replies with a status frame.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/handoff"
	"github.com/1broseidon/droidrelay/internal/metrics"
	"github.com/1broseidon/droidrelay/internal/sock"
	"github.com/1broseidon/droidrelay/internal/wire"
)

const channelName = "relay"

// State is the channel's position in its receive cycle.
type State int32

const (
	NoClient State = iota
	AwaitingMessage
	HandleReceived
	TimedOut
	IndexedReplay
	ClientLost
)

func (s State) String() string {
	switch s {
	case NoClient:
		return "no_client"
	case AwaitingMessage:
		return "awaiting_message"
	case HandleReceived:
		return "handle_received"
	case TimedOut:
		return "timed_out"
	case IndexedReplay:
		return "indexed_replay"
	case ClientLost:
		return "client_lost"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Poster delivers messages to the render loop.
type Poster interface {
	Post(ctx context.Context, m event.Message) error
}

// Waker nudges the guest to resume producing frames.
type Waker interface {
	Wake() error
}

// Config holds configuration for the relay channel.
type Config struct {
	Path string
	Mode os.FileMode

	// FocusedTimeout bounds each receive while the host has focus;
	// UnfocusedTimeout applies otherwise.
	FocusedTimeout   time.Duration
	UnfocusedTimeout time.Duration
	// DummyRenderAfter is the accumulated idle time that triggers a
	// keep-alive repaint.
	DummyRenderAfter time.Duration

	Importer Importer
	Waker    Waker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Status is a point-in-time view of the channel.
type Status struct {
	State        string `json:"state"`
	Connected    bool   `json:"connected"`
	RegistrySize int    `json:"registry_size"`
}

// Channel is the buffer relay channel.
type Channel struct {
	cfg    Config
	ln     *sock.Listener
	queue  Poster
	slot   handoff.Slot
	reg    *Registry
	logger *slog.Logger

	focused   atomic.Bool
	focusedTO atomic.Int64
	idleTO    atomic.Int64
	state     atomic.Int32
	idle      time.Duration
}

// New binds the relay socket. A bind failure is fatal to startup.
func New(cfg Config, queue Poster) (*Channel, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == 0 {
		cfg.Mode = sock.DefaultMode
	}
	if cfg.FocusedTimeout <= 0 {
		cfg.FocusedTimeout = 250 * time.Millisecond
	}
	if cfg.UnfocusedTimeout <= 0 {
		cfg.UnfocusedTimeout = 24 * time.Hour
	}
	if cfg.DummyRenderAfter <= 0 {
		cfg.DummyRenderAfter = 250 * time.Millisecond
	}

	logger := cfg.Logger.With("channel", channelName)
	ln, err := sock.Listen(cfg.Path, cfg.Mode, logger)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		cfg:    cfg,
		ln:     ln,
		queue:  queue,
		reg:    NewRegistry(cfg.Importer),
		logger: logger,
	}
	c.SetTimeouts(cfg.FocusedTimeout, cfg.UnfocusedTimeout)
	return c, nil
}

// SetTimeouts replaces the receive timeouts. Non-positive values keep the
// current setting.
func (c *Channel) SetTimeouts(focused, unfocused time.Duration) {
	if focused > 0 {
		c.focusedTO.Store(int64(focused))
	}
	if unfocused > 0 {
		c.idleTO.Store(int64(unfocused))
	}
}

// SetFocus records whether the host display has focus. The new timeout
// applies from the next receive.
func (c *Channel) SetFocus(focused bool) {
	c.focused.Store(focused)
}

// State returns the current state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Status returns a snapshot safe to read from any goroutine.
func (c *Channel) Status() Status {
	return Status{
		State:        c.State().String(),
		Connected:    c.ln.Connected(),
		RegistrySize: c.reg.Len(),
	}
}

// Shutdown unblocks Run. Run returns once ctx is also cancelled.
func (c *Channel) Shutdown() {
	c.ln.Shutdown()
}

// Close removes the socket file.
func (c *Channel) Close() error {
	return c.ln.Close()
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Channel) timeout() time.Duration {
	if c.focused.Load() {
		return time.Duration(c.focusedTO.Load())
	}
	return time.Duration(c.idleTO.Load())
}

func (c *Channel) wake() {
	if c.cfg.Waker == nil {
		return
	}
	if err := c.cfg.Waker.Wake(); err != nil {
		c.logger.Debug("wake failed", "error", err)
	}
}

// Run accepts peers and relays their buffers until ctx is cancelled and the
// listener is shut down. Every registered buffer is released on return.
func (c *Channel) Run(ctx context.Context) error {
	defer c.reg.Release()
	c.logger.Info("relay channel started", "socket", c.cfg.Path)

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(NoClient)
		c.wake()
		peer, err := c.ln.Accept()
		if err != nil {
			if errors.Is(err, sock.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.Error("accept failed", "error", err)
			continue
		}

		c.logger.Info("guest connected", "peer", peer.ID)
		c.idle = 0
		err = c.serve(ctx, peer)
		c.ln.Release(peer)
		c.reg.Release()
		c.cfg.Metrics.SetRegistrySize(0)

		if ctx.Err() != nil {
			return nil
		}
		c.setState(ClientLost)
		c.cfg.Metrics.RecordPeerLost(channelName)
		c.logger.Warn("lost client", "peer", peer.ID, "error", err)
	}
}

// serve runs the receive cycle for one peer. It returns the reason the peer
// was dropped, or nil when cancelled.
func (c *Channel) serve(ctx context.Context, peer *sock.Peer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		c.setState(AwaitingMessage)
		peer.SetTimeout(c.timeout())

		ctl, err := peer.ReadByte()
		if err != nil {
			if sock.IsTimeout(err) {
				c.setState(TimedOut)
				if err := c.onTimeout(ctx, peer.Timeout()); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("read control byte: %w", err)
		}
		c.idle = 0

		var buf *wire.Buffer
		if ctl == wire.NewHandleMarker {
			// A timeout inside the block leaves the stream misaligned, so
			// every failure here drops the peer.
			b, err := wire.Recv(peer)
			if err != nil {
				return fmt.Errorf("receive handle: %w", err)
			}
			if _, err := c.reg.Add(b); err != nil {
				return err
			}
			c.cfg.Metrics.SetRegistrySize(c.reg.Len())
			c.setState(HandleReceived)
			buf = b
		} else {
			b, err := c.reg.Get(int(ctl))
			if err != nil {
				return err
			}
			c.setState(IndexedReplay)
			buf = b
		}

		st, err := c.slot.Submit(ctx, func(t *handoff.Ticket) error {
			return c.queue.Post(ctx, event.BufferReady{Buffer: buf, Ticket: t})
		})
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled: exit without replying.
				return nil
			}
			return fmt.Errorf("hand off buffer: %w", err)
		}
		c.cfg.Metrics.RecordBuffer(st == handoff.OK)

		if _, err := peer.Write(wire.EncodeStatus(st == handoff.OK)); err != nil {
			return fmt.Errorf("write status: %w", err)
		}
	}
}

// onTimeout accumulates idle time and, past the threshold, asks the loop to
// repaint the last frame. No reply is sent to the peer.
func (c *Channel) onTimeout(ctx context.Context, waited time.Duration) error {
	c.idle += waited
	if c.idle >= c.cfg.DummyRenderAfter {
		c.idle = 0
		_, err := c.slot.Submit(ctx, func(t *handoff.Ticket) error {
			return c.queue.Post(ctx, event.NoBuffer{Ticket: t})
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("hand off keep-alive: %w", err)
		}
		c.cfg.Metrics.RecordKeepAlive()
	}
	if c.focused.Load() {
		c.wake()
	}
	return nil
}
