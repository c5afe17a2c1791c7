package daemon

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/platform"
)

type staticLister []platform.WindowID

func (l staticLister) LiveWindows() ([]platform.WindowID, error) { return l, nil }

func collect(posted *[]event.Message, ok bool) func(event.Message) bool {
	return func(m event.Message) bool {
		*posted = append(*posted, m)
		return ok
	}
}

func TestReconcilerReportsVanishedWindows(t *testing.T) {
	expected := func(context.Context) ([]platform.WindowID, error) {
		return []platform.WindowID{1, 2, 3}, nil
	}
	var posted []event.Message
	r := NewReconciler(ReconcilerConfig{}, expected, staticLister{1, 3}, collect(&posted, true))

	r.ReconcileNow(context.Background())

	require.Len(t, posted, 1)
	assert.Equal(t, event.WindowClosed{Window: 2}, posted[0])
}

func TestReconcilerSkipsWhenNothingExpected(t *testing.T) {
	expected := func(context.Context) ([]platform.WindowID, error) { return nil, nil }
	var posted []event.Message
	r := NewReconciler(ReconcilerConfig{}, expected, staticLister{}, collect(&posted, true))

	r.ReconcileNow(context.Background())
	assert.Empty(t, posted)
}

func TestReconcilerQueryError(t *testing.T) {
	expected := func(context.Context) ([]platform.WindowID, error) {
		return nil, errors.New("loop busy")
	}
	var posted []event.Message
	r := NewReconciler(ReconcilerConfig{}, expected, staticLister{}, collect(&posted, true))

	r.ReconcileNow(context.Background())
	assert.Empty(t, posted)
}

func TestReconcilerRecoversFromPanic(t *testing.T) {
	expected := func(context.Context) ([]platform.WindowID, error) {
		panic("lister exploded")
	}
	r := NewReconciler(ReconcilerConfig{}, expected, staticLister{}, func(event.Message) bool { return true })

	assert.NotPanics(t, func() { r.ReconcileNow(context.Background()) })
}

type focusRecorder struct{ states []bool }

func (f *focusRecorder) SetFocus(focused bool) { f.states = append(f.states, focused) }

type markerRecorder struct {
	states []bool
	err    error
}

func (m *markerRecorder) SetFocus(focused bool) error {
	m.states = append(m.states, focused)
	return m.err
}

func TestFocusSynchronizerFansOut(t *testing.T) {
	a, b := &focusRecorder{}, &focusRecorder{}
	marker := &markerRecorder{err: errors.New("read-only fs")}
	s := NewFocusSynchronizer(marker, nil, a, b)

	s.HandleFocusChange(true)
	s.HandleFocusChange(false)

	assert.Equal(t, []bool{true, false}, a.states)
	assert.Equal(t, []bool{true, false}, b.states)
	assert.Equal(t, []bool{true, false}, marker.states)
}

func TestFocusSynchronizerWithoutMarker(t *testing.T) {
	a := &focusRecorder{}
	s := NewFocusSynchronizer(nil, nil, a)

	assert.NotPanics(t, func() { s.HandleFocusChange(true) })
	assert.Equal(t, []bool{true}, a.states)
}
