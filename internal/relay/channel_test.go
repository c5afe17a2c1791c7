package relay

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/handoff"
	"github.com/1broseidon/droidrelay/internal/wire"
)

type countingWaker struct {
	n atomic.Int32
}

func (w *countingWaker) Wake() error {
	w.n.Add(1)
	return nil
}

type harness struct {
	ch     *Channel
	queue  *event.Queue
	cancel context.CancelFunc
	done   chan error

	mu       sync.Mutex
	buffers  []*wire.Buffer
	noBuffer int
}

// startChannel runs a channel plus a fake render loop that acks every
// message OK and records what it saw.
func startChannel(t *testing.T, cfg Config) *harness {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "sfdroid_relay")
	q := event.NewQueue(4)

	ch, err := New(cfg, q)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{ch: ch, queue: q, cancel: cancel, done: make(chan error, 1)}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-q.C():
				h.mu.Lock()
				switch m := m.(type) {
				case event.BufferReady:
					h.buffers = append(h.buffers, m.Buffer)
					m.Ticket.Ack(handoff.OK)
				case event.NoBuffer:
					h.noBuffer++
					m.Ticket.Ack(handoff.OK)
				}
				h.mu.Unlock()
			}
		}
	}()
	go func() { h.done <- ch.Run(ctx) }()

	t.Cleanup(func() {
		h.stop(t)
		ch.Close()
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	h.cancel()
	h.ch.Shutdown()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay channel did not stop")
	}
}

func (h *harness) seen() ([]*wire.Buffer, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*wire.Buffer(nil), h.buffers...), h.noBuffer
}

func dial(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendHandle(t *testing.T, conn *net.UnixConn, info wire.BufferInfo, nfds int) {
	t.Helper()
	var fds []int
	for i := 0; i < nfds; i++ {
		var p [2]int
		require.NoError(t, unix.Pipe(p[:]))
		fds = append(fds, p[0])
		t.Cleanup(func() { unix.Close(p[0]); unix.Close(p[1]) })
	}
	msg, oob, err := wire.EncodeBuffer(info, fds, []int32{1, 2, 3})
	require.NoError(t, err)

	_, err = conn.Write([]byte{wire.NewHandleMarker})
	require.NoError(t, err)
	_, _, err = conn.WriteMsgUnix(msg, oob, nil)
	require.NoError(t, err)
}

func readStatus(t *testing.T, conn *net.UnixConn) bool {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, wire.StatusSize)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	ok, err := wire.DecodeStatus(buf)
	require.NoError(t, err)
	return ok
}

func expectClosed(t *testing.T, conn *net.UnixConn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var b [1]byte
	_, err := conn.Read(b[:])
	assert.ErrorIs(t, err, io.EOF)
}

func TestRelayNewHandleAndReplay(t *testing.T) {
	h := startChannel(t, Config{})
	conn := dial(t, h.ch.cfg.Path)

	info := wire.BufferInfo{Width: 720, Height: 1280, Stride: 736, PixelFormat: 1}
	sendHandle(t, conn, info, 1)
	assert.True(t, readStatus(t, conn))

	sendHandle(t, conn, info, 2)
	assert.True(t, readStatus(t, conn))
	assert.Equal(t, 2, h.ch.Status().RegistrySize)

	_, err := conn.Write([]byte{0})
	require.NoError(t, err)
	assert.True(t, readStatus(t, conn))

	buffers, _ := h.seen()
	require.Len(t, buffers, 3)
	assert.Equal(t, info, buffers[0].Info)
	assert.Same(t, buffers[0], buffers[2], "replay must deliver the registered buffer")
	assert.Len(t, buffers[1].Handle.Fds, 2)
}

func TestRelayOversizedFdsDropsPeer(t *testing.T) {
	h := startChannel(t, Config{})
	conn := dial(t, h.ch.cfg.Path)

	sendHandle(t, conn, wire.BufferInfo{Width: 1}, 0)
	assert.True(t, readStatus(t, conn))
	require.Equal(t, 1, h.ch.Status().RegistrySize)

	msg, _, err := wire.EncodeBuffer(wire.BufferInfo{}, nil, nil)
	require.NoError(t, err)
	binary.NativeEndian.PutUint32(msg[wire.InfoSize+4:], 40)
	_, err = conn.Write(append([]byte{wire.NewHandleMarker}, msg...))
	require.NoError(t, err)

	expectClosed(t, conn)
	require.Eventually(t, func() bool {
		return h.ch.Status().RegistrySize == 0
	}, 2*time.Second, 5*time.Millisecond)

	// The next client is served independently.
	next := dial(t, h.ch.cfg.Path)
	sendHandle(t, next, wire.BufferInfo{Width: 2}, 1)
	assert.True(t, readStatus(t, next))
	assert.Equal(t, 1, h.ch.Status().RegistrySize)
}

func TestRelayReplayOutOfRangeDropsPeer(t *testing.T) {
	h := startChannel(t, Config{})
	conn := dial(t, h.ch.cfg.Path)

	sendHandle(t, conn, wire.BufferInfo{}, 0)
	assert.True(t, readStatus(t, conn))
	sendHandle(t, conn, wire.BufferInfo{}, 0)
	assert.True(t, readStatus(t, conn))

	_, err := conn.Write([]byte{3})
	require.NoError(t, err)
	expectClosed(t, conn)

	require.Eventually(t, func() bool {
		st := h.ch.Status()
		return st.RegistrySize == 0 && !st.Connected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelayReplayAtSizeIsRejected(t *testing.T) {
	h := startChannel(t, Config{})
	conn := dial(t, h.ch.cfg.Path)

	sendHandle(t, conn, wire.BufferInfo{}, 0)
	assert.True(t, readStatus(t, conn))

	// Index 1 equals the registry size and is out of range.
	_, err := conn.Write([]byte{1})
	require.NoError(t, err)
	expectClosed(t, conn)
}

func TestRelayKeepAliveWhileIdle(t *testing.T) {
	waker := &countingWaker{}
	h := startChannel(t, Config{
		FocusedTimeout:   10 * time.Millisecond,
		DummyRenderAfter: 20 * time.Millisecond,
		Waker:            waker,
	})
	h.ch.SetFocus(true)
	conn := dial(t, h.ch.cfg.Path)

	require.Eventually(t, func() bool {
		_, n := h.seen()
		return n >= 2
	}, 2*time.Second, 5*time.Millisecond)

	// Keep-alive produces no reply to the peer.
	conn.SetReadDeadline(time.Now().Add(30 * time.Millisecond))
	var b [1]byte
	_, err := conn.Read(b[:])
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())

	// Woken once before accept, then on focused timeouts.
	assert.Greater(t, waker.n.Load(), int32(1))
}

func TestRelayFailedRenderRepliesFA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sfdroid_relay")
	q := event.NewQueue(1)
	ch, err := New(Config{Path: path}, q)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	go func() {
		for m := range q.C() {
			event.Ack(m, handoff.Failed)
		}
	}()

	conn := dial(t, path)
	sendHandle(t, conn, wire.BufferInfo{}, 0)
	assert.False(t, readStatus(t, conn))

	cancel()
	ch.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay channel did not stop")
	}
}

func TestRelayCancelWhileAwaitingAck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sfdroid_relay")
	q := event.NewQueue(1)
	ch, err := New(Config{Path: path}, q)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()

	conn := dial(t, path)
	sendHandle(t, conn, wire.BufferInfo{}, 1)

	// Nobody acks: the channel is parked waiting.
	var m event.Message
	select {
	case m = <-q.C():
	case <-time.After(2 * time.Second):
		t.Fatal("buffer was not handed off")
	}
	br := m.(event.BufferReady)

	cancel()
	ch.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay channel did not stop")
	}

	// No status was written, and the registered descriptors were released.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var b [1]byte
	n, _ := conn.Read(b[:])
	assert.Zero(t, n)
	for _, fd := range br.Buffer.Handle.Fds {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		assert.ErrorIs(t, err, unix.EBADF)
	}
	assert.Equal(t, 0, ch.Status().RegistrySize)
}
