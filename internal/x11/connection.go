package x11

import (
	"fmt"
	"os"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xevent"
)

// Connection is the relay's single X server connection. Every guest surface
// window is created on it and its events are dispatched by EventLoop.
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window
}

// NewConnection connects to $DISPLAY.
func NewConnection() (*Connection, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to %q: %w", os.Getenv("DISPLAY"), err)
	}
	return &Connection{XUtil: xu, Root: xu.RootWin()}, nil
}

// EventLoop dispatches window events until Quit. It blocks.
func (c *Connection) EventLoop() { xevent.Main(c.XUtil) }

// Quit makes EventLoop return once the current event is handled.
func (c *Connection) Quit() { xevent.Quit(c.XUtil) }

// Close drops the connection; surfaces created on it become invalid.
func (c *Connection) Close() { c.XUtil.Conn().Close() }
