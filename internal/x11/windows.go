package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
)

// Atom interns name.
func (c *Connection) Atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(c.XUtil.Conn(), false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern %s: %w", name, err)
	}
	return reply.Atom, nil
}

// RaiseWindow activates and raises a window using _NET_ACTIVE_WINDOW.
// Sends a client message to the root window as EWMH describes.
// The message is built by hand because the xgbutil ewmh request helpers
// panic on this library version.
func (c *Connection) RaiseWindow(windowID xproto.Window) error {
	active, err := c.Atom("_NET_ACTIVE_WINDOW")
	if err != nil {
		return err
	}

	const sourceIndication = 2 // pager/direct action
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: windowID,
		Type:   active,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{sourceIndication, 0, 0, 0, 0}),
	}

	err = xproto.SendEventChecked(
		c.XUtil.Conn(),
		false,
		c.Root,
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check()
	if err != nil {
		// No EWMH window manager; restack directly.
		return xproto.ConfigureWindowChecked(c.XUtil.Conn(), windowID,
			xproto.ConfigWindowStackMode, []uint32{xproto.StackModeAbove}).Check()
	}
	return nil
}

// setTitle sets both _NET_WM_NAME and the legacy WM_NAME.
func (c *Connection) setTitle(windowID xproto.Window, title string) error {
	if err := ewmh.WmNameSet(c.XUtil, windowID, title); err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(c.XUtil.Conn(), xproto.PropModeReplace, windowID,
		xproto.AtomWmName, xproto.AtomString, 8, uint32(len(title)), []byte(title)).Check()
}

// setFullscreen requests fullscreen before the window is first mapped.
func (c *Connection) setFullscreen(windowID xproto.Window) error {
	state, err := c.Atom("_NET_WM_STATE")
	if err != nil {
		return err
	}
	full, err := c.Atom("_NET_WM_STATE_FULLSCREEN")
	if err != nil {
		return err
	}
	data := make([]byte, 4)
	xgb.Put32(data, uint32(full))
	return xproto.ChangePropertyChecked(c.XUtil.Conn(), xproto.PropModeReplace, windowID,
		state, xproto.AtomAtom, 32, 1, data).Check()
}

// WindowExists reports whether the server still knows windowID.
func (c *Connection) WindowExists(windowID xproto.Window) bool {
	_, err := xproto.GetGeometry(c.XUtil.Conn(), xproto.Drawable(windowID)).Reply()
	return err == nil
}

// GetActiveWindow returns the window the window manager reports as active.
func (c *Connection) GetActiveWindow() (xproto.Window, error) {
	return ewmh.ActiveWindowGet(c.XUtil)
}
