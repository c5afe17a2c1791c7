package platform

import (
	"errors"
	"sync"

	"github.com/1broseidon/droidrelay/internal/wire"
)

// WindowID is a platform-neutral window identifier.
type WindowID uint32

// ErrNoSurface is returned when a surface cannot be created.
var ErrNoSurface = errors.New("platform: no rendering surface available")

// Surface is one on-screen window that presents guest buffers.
type Surface interface {
	WindowID() WindowID
	Dimensions() (width, height int)
	// Render presents buf. The buffer remains owned by the caller.
	Render(buf *wire.Buffer) error
	// DummyRender repaints the last presented frame, or a blank one.
	DummyRender() error
	FocusGained()
	FocusLost()
	Close() error
}

// Raiser is implemented by surfaces that can be brought to the front.
type Raiser interface {
	Raise() error
}

// SurfaceFactory creates surfaces sharing one rendering context.
type SurfaceFactory interface {
	NewSurface(title string, rc *RenderContext) (Surface, error)
}

// WindowLister reports the windows the window system still knows about.
type WindowLister interface {
	LiveWindows() ([]WindowID, error)
}

// InputInjector forwards raw input events to the guest.
type InputInjector interface {
	Emit(typ, code uint16, value int32) error
}

// AppControl drives the guest's application lifecycle.
type AppControl interface {
	Start(app, activity string) error
	Stop(app string) error
	GoHome() error
	Wake() error
}

// WindowEvents receives window-system notifications for surfaces.
type WindowEvents interface {
	FocusChanged(id WindowID, focused bool)
	CloseRequested(id WindowID)
	Pointer(id WindowID, phase TouchPhase, x, y int)
}

// TouchPhase distinguishes the stages of one touch point.
type TouchPhase int

const (
	TouchDown TouchPhase = iota
	TouchMotion
	TouchUp
)

func (p TouchPhase) String() string {
	switch p {
	case TouchDown:
		return "down"
	case TouchMotion:
		return "motion"
	case TouchUp:
		return "up"
	}
	return "unknown"
}

// RenderContext is the rendering state shared by every surface. Each holder
// calls Acquire once and Release once; the release hook runs when the last
// reference goes away.
type RenderContext struct {
	mu      sync.Mutex
	refs    int
	release func()
	value   any
}

// NewRenderContext wraps value with one reference held by the caller.
func NewRenderContext(value any, release func()) *RenderContext {
	return &RenderContext{refs: 1, release: release, value: value}
}

// Value returns the wrapped backend state.
func (c *RenderContext) Value() any {
	return c.value
}

// Acquire adds a reference and returns c.
func (c *RenderContext) Acquire() *RenderContext {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
	return c
}

// Release drops a reference.
func (c *RenderContext) Release() {
	c.mu.Lock()
	if c.refs == 0 {
		c.mu.Unlock()
		return
	}
	c.refs--
	last := c.refs == 0
	c.mu.Unlock()

	if last && c.release != nil {
		c.release()
	}
}

// Refs returns the live reference count.
func (c *RenderContext) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}
