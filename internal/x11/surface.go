package x11

import (
	"errors"
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xevent"
)

// PointerPhase is the stage of a primary-button drag.
type PointerPhase int

const (
	PointerPress PointerPhase = iota
	PointerMotion
	PointerRelease
)

// putImageMax keeps each PutImage request under the core protocol limit
// without BIG-REQUESTS.
const putImageMax = 256*1024 - 64

// WindowHandlers receives events for one window. They run on the event
// loop goroutine.
type WindowHandlers struct {
	Focus   func(id xproto.Window, focused bool)
	Close   func(id xproto.Window)
	Pointer func(id xproto.Window, phase PointerPhase, x, y int)
}

// Window is a top-level window that shows guest frames.
type Window struct {
	conn   *Connection
	id     xproto.Window
	gc     xproto.Gcontext
	depth  byte
	width  int
	height int

	mu        sync.Mutex
	frame     []byte // last frame, BGRX
	frameW    int
	frameH    int
	pressed   bool
	destroyed bool
}

// CreateWindow creates and maps a fullscreen window titled title.
func (c *Connection) CreateWindow(title string, h WindowHandlers) (*Window, error) {
	conn := c.XUtil.Conn()
	screen := c.XUtil.Screen()
	width, height := c.SurfaceSize()

	wid, err := xproto.NewWindowId(conn)
	if err != nil {
		return nil, err
	}

	mask := uint32(xproto.EventMaskExposure |
		xproto.EventMaskFocusChange |
		xproto.EventMaskButtonPress |
		xproto.EventMaskButtonRelease |
		xproto.EventMaskButtonMotion |
		xproto.EventMaskStructureNotify)

	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		wid,
		c.Root,
		0, 0,
		uint16(width), uint16(height),
		0, // border_width
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		// Value list order follows the bit positions of the mask.
		[]uint32{0, mask},
	).Check()
	if err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		xproto.DestroyWindow(conn, wid)
		return nil, err
	}
	err = xproto.CreateGCChecked(conn, gc, xproto.Drawable(wid),
		xproto.GcGraphicsExposures, []uint32{0}).Check()
	if err != nil {
		xproto.DestroyWindow(conn, wid)
		return nil, fmt.Errorf("create gc: %w", err)
	}

	w := &Window{
		conn:   c,
		id:     wid,
		gc:     gc,
		depth:  screen.RootDepth,
		width:  width,
		height: height,
	}

	// Title, fullscreen and protocols are best effort; a bare X server
	// without a window manager ignores them.
	c.setTitle(wid, title)
	c.setFullscreen(wid)
	icccm.WmProtocolsSet(c.XUtil, wid, []string{"WM_DELETE_WINDOW"})

	w.connect(h)

	if err := xproto.MapWindowChecked(conn, wid).Check(); err != nil {
		w.Destroy()
		return nil, fmt.Errorf("map window: %w", err)
	}
	return w, nil
}

func (w *Window) connect(h WindowHandlers) {
	xu := w.conn.XUtil
	deleteAtom, _ := w.conn.Atom("WM_DELETE_WINDOW")

	xevent.FocusInFun(func(_ *xgbutil.XUtil, ev xevent.FocusInEvent) {
		if ev.Detail == xproto.NotifyDetailPointer || h.Focus == nil {
			return
		}
		h.Focus(w.id, true)
	}).Connect(xu, w.id)

	xevent.FocusOutFun(func(_ *xgbutil.XUtil, ev xevent.FocusOutEvent) {
		if ev.Detail == xproto.NotifyDetailPointer || h.Focus == nil {
			return
		}
		h.Focus(w.id, false)
	}).Connect(xu, w.id)

	xevent.ClientMessageFun(func(_ *xgbutil.XUtil, ev xevent.ClientMessageEvent) {
		if ev.Format != 32 || len(ev.Data.Data32) == 0 || h.Close == nil {
			return
		}
		if xproto.Atom(ev.Data.Data32[0]) == deleteAtom {
			h.Close(w.id)
		}
	}).Connect(xu, w.id)

	xevent.ExposeFun(func(_ *xgbutil.XUtil, ev xevent.ExposeEvent) {
		if ev.Count == 0 {
			w.Repaint()
		}
	}).Connect(xu, w.id)

	xevent.ButtonPressFun(func(_ *xgbutil.XUtil, ev xevent.ButtonPressEvent) {
		if ev.Detail != xproto.ButtonIndex1 {
			return
		}
		w.mu.Lock()
		w.pressed = true
		w.mu.Unlock()
		if h.Pointer != nil {
			h.Pointer(w.id, PointerPress, int(ev.EventX), int(ev.EventY))
		}
	}).Connect(xu, w.id)

	xevent.MotionNotifyFun(func(_ *xgbutil.XUtil, ev xevent.MotionNotifyEvent) {
		if ev.State&xproto.KeyButMaskButton1 == 0 || h.Pointer == nil {
			return
		}
		h.Pointer(w.id, PointerMotion, int(ev.EventX), int(ev.EventY))
	}).Connect(xu, w.id)

	xevent.ButtonReleaseFun(func(_ *xgbutil.XUtil, ev xevent.ButtonReleaseEvent) {
		if ev.Detail != xproto.ButtonIndex1 {
			return
		}
		w.mu.Lock()
		was := w.pressed
		w.pressed = false
		w.mu.Unlock()
		if was && h.Pointer != nil {
			h.Pointer(w.id, PointerRelease, int(ev.EventX), int(ev.EventY))
		}
	}).Connect(xu, w.id)
}

// ID returns the X window id.
func (w *Window) ID() xproto.Window {
	return w.id
}

// Size returns the window size in pixels.
func (w *Window) Size() (width, height int) {
	return w.width, w.height
}

// Raise brings the window to the front.
func (w *Window) Raise() error {
	return w.conn.RaiseWindow(w.id)
}

// PutRGBA presents an RGBA frame of width x height pixels whose rows are
// stride pixels apart. The frame is kept for Repaint.
func (w *Window) PutRGBA(pix []byte, width, height, stride int) error {
	frame, err := RGBAToBGRX(pix, width, height, stride)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.frame, w.frameW, w.frameH = frame, width, height
	w.mu.Unlock()
	return w.Repaint()
}

// Repaint shows the last frame again, or clears the window if there is none.
func (w *Window) Repaint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.destroyed {
		return errors.New("x11: window destroyed")
	}
	conn := w.conn.XUtil.Conn()
	if w.frame == nil {
		return xproto.ClearAreaChecked(conn, false, w.id, 0, 0, 0, 0).Check()
	}

	width := min(w.frameW, w.width)
	height := min(w.frameH, w.height)
	rowBytes := w.frameW * 4
	for _, band := range Bands(height, width*4, putImageMax) {
		data := make([]byte, 0, band.Rows*width*4)
		for y := band.Y; y < band.Y+band.Rows; y++ {
			off := y * rowBytes
			data = append(data, w.frame[off:off+width*4]...)
		}
		err := xproto.PutImageChecked(conn, xproto.ImageFormatZPixmap, xproto.Drawable(w.id), w.gc,
			uint16(width), uint16(band.Rows), 0, int16(band.Y), 0, w.depth, data).Check()
		if err != nil {
			return fmt.Errorf("put image: %w", err)
		}
	}
	return nil
}

// Destroy detaches handlers and destroys the window.
func (w *Window) Destroy() {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	w.destroyed = true
	w.frame = nil
	w.mu.Unlock()

	conn := w.conn.XUtil.Conn()
	xevent.Detach(w.conn.XUtil, w.id)
	xproto.FreeGC(conn, w.gc)
	xproto.DestroyWindow(conn, w.id)
}

// Band is a horizontal strip of rows sent in one request.
type Band struct {
	Y, Rows int
}

// Bands splits height rows of rowBytes each into strips of at most
// maxBytes.
func Bands(height, rowBytes, maxBytes int) []Band {
	if height <= 0 || rowBytes <= 0 {
		return nil
	}
	per := max(1, maxBytes/rowBytes)
	var out []Band
	for y := 0; y < height; y += per {
		out = append(out, Band{Y: y, Rows: min(per, height-y)})
	}
	return out
}

// RGBAToBGRX converts an RGBA frame to the server's 32-bit ZPixmap layout.
// The result is tightly packed.
func RGBAToBGRX(pix []byte, width, height, stride int) ([]byte, error) {
	if width <= 0 || height <= 0 || stride < width {
		return nil, fmt.Errorf("x11: bad frame geometry %dx%d stride %d", width, height, stride)
	}
	if need := ((height-1)*stride + width) * 4; len(pix) < need {
		return nil, fmt.Errorf("x11: frame has %d bytes, need %d", len(pix), need)
	}
	out := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		src := pix[y*stride*4:]
		dst := out[y*width*4:]
		for x := 0; x < width; x++ {
			s, d := x*4, x*4
			dst[d+0] = src[s+2]
			dst[d+1] = src[s+1]
			dst[d+2] = src[s+0]
			dst[d+3] = 0
		}
	}
	return out, nil
}
