package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/droidrelay/internal/handoff"
)

func TestQueuePostDrainOrder(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Post(ctx, FocusChanged{Window: 1, Focused: true}))
	require.NoError(t, q.Post(ctx, WindowClosed{Window: 1}))
	assert.True(t, q.TryPost(Quit{}))

	got := q.Drain()
	require.Len(t, got, 3)
	assert.IsType(t, FocusChanged{}, got[0])
	assert.IsType(t, WindowClosed{}, got[1])
	assert.IsType(t, Quit{}, got[2])
	assert.Empty(t, q.Drain())
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.TryPost(Quit{}))
	assert.False(t, q.TryPost(Quit{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Post(ctx, Quit{}), context.DeadlineExceeded)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Post(context.Background(), Quit{}), ErrQueueClosed)
	assert.False(t, q.TryPost(Quit{}))
	assert.Len(t, q.Drain(), 1)
}

func TestAckDroppedMessage(t *testing.T) {
	var slot handoff.Slot
	q := NewQueue(1)

	done := make(chan handoff.Status, 1)
	go func() {
		st, _ := slot.Submit(context.Background(), func(tk *handoff.Ticket) error {
			return q.Post(context.Background(), NoBuffer{Ticket: tk})
		})
		done <- st
	}()

	m := <-q.C()
	Ack(m, handoff.Failed)
	assert.Equal(t, handoff.Failed, <-done)

	// Messages without tickets are ignored.
	Ack(FocusChanged{}, handoff.OK)
	Ack(AppOpened{App: "com.foo"}, handoff.OK)
}
