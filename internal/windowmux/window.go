package windowmux

import (
	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/platform"
)

// Window is one guest app shown on its own surface.
type Window struct {
	App      string
	Activity string

	surface platform.Surface
	rc      *platform.RenderContext
	focused bool
	primary bool
	// skip counts buffers still to be acked without presenting after a
	// focus gain.
	skip int
	// doomed is set once the window has left the set but its surface is
	// still waiting for the end-of-tick sweep.
	doomed bool
}

// ID returns the surface's window id.
func (w *Window) ID() platform.WindowID {
	return w.surface.WindowID()
}

// Focused reports the last known focus state.
func (w *Window) Focused() bool {
	return w.focused
}

// Primary reports whether w is the launcher window.
func (w *Window) Primary() bool {
	return w.primary
}

// Doomed reports whether w awaits the end-of-tick sweep.
func (w *Window) Doomed() bool {
	return w.doomed
}

func (w *Window) status() event.WindowStatus {
	return event.WindowStatus{
		App:      w.App,
		Activity: w.Activity,
		Window:   w.ID(),
		Focused:  w.focused,
		Primary:  w.primary,
	}
}

// release frees the surface and drops its render context reference.
func (w *Window) release() error {
	err := w.surface.Close()
	if w.rc != nil {
		w.rc.Release()
		w.rc = nil
	}
	return err
}
