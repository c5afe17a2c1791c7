package daemon

import (
	"context"
	"errors"
	"log/slog"

	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/platform"
)

// windowEvents forwards window-system callbacks to the render loop. They
// run on the window system's goroutine. Pointer motion is dropped when the
// queue is full; every other event waits for room until ctx ends or the
// queue is closed at shutdown.
type windowEvents struct {
	ctx    context.Context
	queue  *event.Queue
	logger *slog.Logger
}

var _ platform.WindowEvents = windowEvents{}

func (w windowEvents) FocusChanged(id platform.WindowID, focused bool) {
	w.post(event.FocusChanged{Window: id, Focused: focused})
}

func (w windowEvents) CloseRequested(id platform.WindowID) {
	w.post(event.WindowClosed{Window: id})
}

// The pointer is mapped to a single touch point.
func (w windowEvents) Pointer(id platform.WindowID, phase platform.TouchPhase, x, y int) {
	w.post(event.Touch{Window: id, Phase: phase, ID: 0, X: x, Y: y})
}

func (w windowEvents) post(m event.Message) {
	if t, ok := m.(event.Touch); ok && t.Phase == event.TouchMotion {
		if !w.queue.TryPost(m) {
			w.logger.Debug("dropping pointer motion, queue full")
		}
		return
	}
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := w.queue.Post(ctx, m); err != nil && !errors.Is(err, event.ErrQueueClosed) {
		w.logger.Warn("window event lost", "event", m, "error", err)
	}
}
