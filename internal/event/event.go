// Package event defines the messages delivered to the render loop. Every
// producer (relay, control channels, window system, IPC) posts onto one
// Queue; the loop is the only consumer.
package event

import (
	"context"
	"errors"
	"sync"

	"github.com/1broseidon/droidrelay/internal/handoff"
	"github.com/1broseidon/droidrelay/internal/platform"
	"github.com/1broseidon/droidrelay/internal/wire"
)

// ErrQueueClosed is returned by Post once the queue has been closed.
var ErrQueueClosed = errors.New("event: queue closed")

// Message is one of the concrete event types below.
type Message interface {
	isMessage()
}

// BufferReady carries a buffer for presentation. The buffer stays owned by
// the relay channel; the loop must ack before the channel releases it.
type BufferReady struct {
	Buffer *wire.Buffer
	Ticket *handoff.Ticket
}

// NoBuffer asks the loop to repaint the last frame during idle periods.
type NoBuffer struct {
	Ticket *handoff.Ticket
}

// AppOpened requests a window for App, focused on Activity.
type AppOpened struct {
	App      string
	Activity string
	Ticket   *handoff.Ticket
}

// AppClosed requests the window for App be closed.
type AppClosed struct {
	App      string
	Activity string
	Ticket   *handoff.Ticket
}

// FocusChanged reports a window-system focus transition.
type FocusChanged struct {
	Window  platform.WindowID
	Focused bool
}

// WindowClosed reports that the user closed a surface.
type WindowClosed struct {
	Window platform.WindowID
}

// TouchPhase aliases the platform phase so producers need only one import.
type TouchPhase = platform.TouchPhase

const (
	TouchDown   = platform.TouchDown
	TouchMotion = platform.TouchMotion
	TouchUp     = platform.TouchUp
)

// Touch is one pointer or finger event in surface coordinates.
type Touch struct {
	Window platform.WindowID
	Phase  TouchPhase
	ID     int64
	X, Y   int
}

// StatusRequest asks the loop for a snapshot. The loop sends exactly one
// value on Reply.
type StatusRequest struct {
	Reply chan<- Status
}

// Quit stops the loop.
type Quit struct{}

func (BufferReady) isMessage()   {}
func (NoBuffer) isMessage()      {}
func (AppOpened) isMessage()     {}
func (AppClosed) isMessage()     {}
func (FocusChanged) isMessage()  {}
func (WindowClosed) isMessage()  {}
func (Touch) isMessage()         {}
func (StatusRequest) isMessage() {}
func (Quit) isMessage()          {}

// WindowStatus describes one live window.
type WindowStatus struct {
	App      string            `json:"app"`
	Activity string            `json:"activity"`
	Window   platform.WindowID `json:"window_id"`
	Focused  bool              `json:"focused"`
	Primary  bool              `json:"primary"`
}

// Status is the loop's snapshot reply.
type Status struct {
	Focused     bool           `json:"focused"`
	Windows     []WindowStatus `json:"windows"`
	ActiveTouch int            `json:"active_touch_slots"`
	Ticks       uint64         `json:"ticks"`
}

// Ack acknowledges the ticket m carries, if any. The daemon uses it for
// messages dropped unprocessed.
func Ack(m Message, st handoff.Status) {
	switch m := m.(type) {
	case BufferReady:
		m.Ticket.Ack(st)
	case NoBuffer:
		m.Ticket.Ack(st)
	case AppOpened:
		m.Ticket.Ack(st)
	case AppClosed:
		m.Ticket.Ack(st)
	}
}

// Queue is a bounded multi-producer, single-consumer message queue.
type Queue struct {
	ch        chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding up to size pending messages.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		ch:     make(chan Message, size),
		closed: make(chan struct{}),
	}
}

// Post enqueues m, blocking while the queue is full.
func (q *Queue) Post(ctx context.Context, m Message) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- m:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost enqueues m without blocking. It reports false if the queue is
// full or closed. Window-system callbacks use it so they never stall.
func (q *Queue) TryPost(m Message) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- m:
		return true
	default:
		return false
	}
}

// C is the consumer side.
func (q *Queue) C() <-chan Message {
	return q.ch
}

// Close rejects further posts. Pending messages remain readable via Drain.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Drain removes and returns every pending message without blocking.
func (q *Queue) Drain() []Message {
	var out []Message
	for {
		select {
		case m := <-q.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}
