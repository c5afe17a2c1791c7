// Package sock provides the single-peer Unix stream listener shared by the
// relay and control channels.
package sock

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by Accept after Shutdown.
var ErrClosed = errors.New("sock: listener shut down")

// DefaultMode is the permission applied to socket files.
const DefaultMode os.FileMode = 0o770

// Listener accepts one peer at a time on a filesystem socket. A second
// client stays in the kernel backlog until the current peer is closed.
type Listener struct {
	path   string
	ln     *net.UnixListener
	logger *slog.Logger

	mu       sync.Mutex
	peer     *Peer
	shutdown bool
}

// Listen binds path, replacing any stale socket file, and applies mode.
func Listen(path string, mode os.FileMode, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Remove existing socket if present
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)

	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return &Listener{path: path, ln: ln, logger: logger.With("socket", path)}, nil
}

// Path returns the socket file path.
func (l *Listener) Path() string {
	return l.path
}

// Accept blocks until a client connects. The previous peer, if any, must
// already be closed.
func (l *Listener) Accept() (*Peer, error) {
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		if l.isShutdown() {
			return nil, ErrClosed
		}
		return nil, err
	}

	p := &Peer{ID: uuid.NewString(), conn: conn}

	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	l.peer = p
	l.mu.Unlock()

	l.logger.Debug("peer connected", "peer", p.ID)
	return p, nil
}

// Connected reports whether a peer is currently attached.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peer != nil && !l.peer.isClosed()
}

// Release forgets the current peer after closing it.
func (l *Listener) Release(p *Peer) {
	if p == nil {
		return
	}
	p.Close()
	l.mu.Lock()
	if l.peer == p {
		l.peer = nil
	}
	l.mu.Unlock()
	l.logger.Debug("peer released", "peer", p.ID)
}

// Shutdown unblocks any goroutine parked in Accept or in a read on the
// current peer. It does not remove the socket file.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	l.shutdown = true
	peer := l.peer
	l.mu.Unlock()

	if peer != nil {
		peer.Close()
	}
	// Closing the listener also unlinks the socket file.
	l.ln.SetUnlinkOnClose(false)
	l.ln.Close()
}

// Close shuts down and removes the socket file.
func (l *Listener) Close() error {
	l.Shutdown()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove socket %s: %w", l.path, err)
	}
	return nil
}

func (l *Listener) isShutdown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdown
}

// Peer is one connected client. Every read is bounded by the current
// timeout; a zero timeout means no deadline.
type Peer struct {
	ID string

	conn    *net.UnixConn
	timeout atomic.Int64
	closed  atomic.Bool
}

// NewPeer wraps an already connected socket. Tests and in-process clients
// use it to drive a channel without a listener.
func NewPeer(conn *net.UnixConn) *Peer {
	return &Peer{ID: uuid.NewString(), conn: conn}
}

// SetTimeout sets the per-read receive timeout.
func (p *Peer) SetTimeout(d time.Duration) {
	p.timeout.Store(int64(d))
}

// Timeout returns the per-read receive timeout.
func (p *Peer) Timeout() time.Duration {
	return time.Duration(p.timeout.Load())
}

func (p *Peer) arm() error {
	d := p.Timeout()
	if d <= 0 {
		return p.conn.SetReadDeadline(time.Time{})
	}
	return p.conn.SetReadDeadline(time.Now().Add(d))
}

// Read implements io.Reader with the receive timeout applied.
func (p *Peer) Read(b []byte) (int, error) {
	if err := p.arm(); err != nil {
		return 0, err
	}
	return p.conn.Read(b)
}

// ReadMsgUnix reads data and ancillary data with the receive timeout applied.
func (p *Peer) ReadMsgUnix(b, oob []byte) (n, oobn, flags int, addr *net.UnixAddr, err error) {
	if err := p.arm(); err != nil {
		return 0, 0, 0, nil, err
	}
	return p.conn.ReadMsgUnix(b, oob)
}

// ReadByte reads a single byte. An orderly close by the peer is io.EOF.
func (p *Peer) ReadByte() (byte, error) {
	var b [1]byte
	n, err := p.Read(b[:])
	if n == 1 {
		return b[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

// ReadFull reads exactly len(b) bytes.
func (p *Peer) ReadFull(b []byte) error {
	_, err := io.ReadFull(p, b)
	return err
}

// Write sends b in full.
func (p *Peer) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

// Close closes the connection. It is safe to call more than once.
func (p *Peer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.conn.Close()
}

func (p *Peer) isClosed() bool {
	return p.closed.Load()
}

// IsTimeout reports whether err is a receive timeout rather than a failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
