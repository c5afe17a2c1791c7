// Package handoff is the rendezvous between a channel goroutine and the
// render loop: a channel submits one event, then blocks until the loop
// acknowledges it with a status or the context is cancelled.
package handoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrBusy is returned when a slot already has an event in flight.
	ErrBusy = errors.New("handoff: event already in flight")
	// ErrCancelled is returned when the wait was abandoned.
	ErrCancelled = errors.New("handoff: cancelled")
)

// Status is the render loop's verdict on a submitted event.
type Status int

const (
	OK Status = iota
	Failed
)

func (s Status) String() string {
	if s == OK {
		return "ok"
	}
	return "failed"
}

// Ticket is the acknowledgement handle carried by a submitted event.
type Ticket struct {
	done chan Status
	once sync.Once
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan Status, 1)}
}

// Ack records the outcome. Only the first call has an effect.
func (t *Ticket) Ack(s Status) {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.done <- s
	})
}

// Done delivers the status once acknowledged.
func (t *Ticket) Done() <-chan Status {
	return t.done
}

// Slot enforces at most one outstanding event per channel.
type Slot struct {
	inflight atomic.Bool
}

// InFlight reports whether an event is awaiting acknowledgement.
func (s *Slot) InFlight() bool {
	return s.inflight.Load()
}

// Submit reserves the slot, hands a fresh ticket to post, and waits for the
// acknowledgement. The slot is free again when Submit returns.
func (s *Slot) Submit(ctx context.Context, post func(*Ticket) error) (Status, error) {
	if !s.inflight.CompareAndSwap(false, true) {
		return Failed, ErrBusy
	}
	defer s.inflight.Store(false)

	t := newTicket()
	if err := post(t); err != nil {
		return Failed, err
	}
	return Await(ctx, t)
}

// Await blocks until t is acknowledged or ctx is done.
func Await(ctx context.Context, t *Ticket) (Status, error) {
	select {
	case st := <-t.done:
		return st, nil
	case <-ctx.Done():
		return Failed, ErrCancelled
	}
}

// Ack acknowledges t with OK or Failed according to ok.
func Ack(t *Ticket, ok bool) {
	if ok {
		t.Ack(OK)
		return
	}
	t.Ack(Failed)
}
