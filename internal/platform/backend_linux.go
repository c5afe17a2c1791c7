//go:build linux

package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"golang.org/x/sys/unix"

	"github.com/1broseidon/droidrelay/internal/wire"
	"github.com/1broseidon/droidrelay/internal/x11"
)

// Guest pixel formats the X11 surface can present.
const (
	PixelFormatRGBA8888 = 1
	PixelFormatRGBX8888 = 2
)

// ErrUnsupportedFormat is returned by Render for other pixel formats.
var ErrUnsupportedFormat = errors.New("platform: unsupported pixel format")

// LinuxBackend creates guest surfaces as X11 windows.
type LinuxBackend struct {
	conn *x11.Connection

	mu      sync.Mutex
	events  WindowEvents
	windows map[xproto.Window]*x11Surface
}

var (
	_ SurfaceFactory = (*LinuxBackend)(nil)
	_ WindowLister   = (*LinuxBackend)(nil)
)

// NewLinuxBackend creates a Linux platform backend from an existing X11 connection.
func NewLinuxBackend(conn *x11.Connection) *LinuxBackend {
	return &LinuxBackend{conn: conn, windows: make(map[xproto.Window]*x11Surface)}
}

// NewLinuxBackendFromDisplay creates a new Linux backend by opening a fresh X11 connection.
func NewLinuxBackendFromDisplay() (*LinuxBackend, error) {
	conn, err := x11.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	return NewLinuxBackend(conn), nil
}

// SetEvents installs the receiver for window-system notifications. It must
// be called before the first surface is created.
func (b *LinuxBackend) SetEvents(ev WindowEvents) {
	b.mu.Lock()
	b.events = ev
	b.mu.Unlock()
}

// Disconnect closes the underlying X11 connection.
func (b *LinuxBackend) Disconnect() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}

// EventLoop starts the X11 event loop (blocking).
func (b *LinuxBackend) EventLoop() {
	if b != nil && b.conn != nil {
		b.conn.EventLoop()
	}
}

// Quit stops EventLoop.
func (b *LinuxBackend) Quit() {
	if b != nil && b.conn != nil {
		b.conn.Quit()
	}
}

// SurfaceSize returns the size new surfaces are created with.
func (b *LinuxBackend) SurfaceSize() (width, height int) {
	return b.conn.SurfaceSize()
}

// NewSurface implements SurfaceFactory.
func (b *LinuxBackend) NewSurface(title string, rc *RenderContext) (Surface, error) {
	b.mu.Lock()
	events := b.events
	b.mu.Unlock()

	handlers := x11.WindowHandlers{}
	if events != nil {
		handlers.Focus = func(id xproto.Window, focused bool) { events.FocusChanged(WindowID(id), focused) }
		handlers.Close = func(id xproto.Window) { events.CloseRequested(WindowID(id)) }
		handlers.Pointer = func(id xproto.Window, phase x11.PointerPhase, x, y int) {
			events.Pointer(WindowID(id), touchPhase(phase), x, y)
		}
	}

	win, err := b.conn.CreateWindow(title, handlers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSurface, err)
	}
	s := &x11Surface{backend: b, win: win}

	b.mu.Lock()
	b.windows[win.ID()] = s
	b.mu.Unlock()
	return s, nil
}

// LiveWindows implements WindowLister. It reports surfaces whose X window
// still exists.
func (b *LinuxBackend) LiveWindows() ([]WindowID, error) {
	b.mu.Lock()
	ids := make([]xproto.Window, 0, len(b.windows))
	for id := range b.windows {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	live := make([]WindowID, 0, len(ids))
	for _, id := range ids {
		if b.conn.WindowExists(id) {
			live = append(live, WindowID(id))
		}
	}
	return live, nil
}

func (b *LinuxBackend) forget(id xproto.Window) {
	b.mu.Lock()
	delete(b.windows, id)
	b.mu.Unlock()
}

func touchPhase(p x11.PointerPhase) TouchPhase {
	switch p {
	case x11.PointerPress:
		return TouchDown
	case x11.PointerRelease:
		return TouchUp
	}
	return TouchMotion
}

// x11Surface presents buffers whose first descriptor can be mapped as
// linear RGBA memory.
type x11Surface struct {
	backend *LinuxBackend
	win     *x11.Window
}

var _ Raiser = (*x11Surface)(nil)

func (s *x11Surface) WindowID() WindowID {
	return WindowID(s.win.ID())
}

func (s *x11Surface) Dimensions() (int, int) {
	return s.win.Size()
}

func (s *x11Surface) Render(buf *wire.Buffer) error {
	info := buf.Info
	if info.PixelFormat != PixelFormatRGBA8888 && info.PixelFormat != PixelFormatRGBX8888 {
		return fmt.Errorf("%w: %d", ErrUnsupportedFormat, info.PixelFormat)
	}
	if buf.Handle == nil || len(buf.Handle.Fds) == 0 {
		return errors.New("platform: buffer has no descriptors")
	}

	size := int(info.Stride) * int(info.Height) * 4
	mem, err := unix.Mmap(buf.Handle.Fds[0], 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("map buffer: %w", err)
	}
	defer unix.Munmap(mem)

	return s.win.PutRGBA(mem, int(info.Width), int(info.Height), int(info.Stride))
}

func (s *x11Surface) DummyRender() error {
	return s.win.Repaint()
}

// The last presented frame is retained by the window, so focus changes
// need no extra work.
func (s *x11Surface) FocusGained() {}
func (s *x11Surface) FocusLost()   {}

func (s *x11Surface) Raise() error {
	return s.win.Raise()
}

func (s *x11Surface) Close() error {
	s.backend.forget(s.win.ID())
	s.win.Destroy()
	return nil
}
