package touch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/droidrelay/internal/platform"
)

func TestAllocatorFirstTouchGetsSlotZero(t *testing.T) {
	var a Allocator
	assert.Equal(t, 0, a.Acquire(1234))
	assert.Equal(t, 1, a.Len())
}

func TestAllocatorStableWhileDown(t *testing.T) {
	var a Allocator
	a.Acquire(10)
	slot := a.Acquire(20)
	for i := 0; i < 5; i++ {
		assert.Equal(t, slot, a.Acquire(20))
	}
}

func TestAllocatorReuseLowestFree(t *testing.T) {
	var a Allocator
	assert.Equal(t, 0, a.Acquire('A'))
	assert.Equal(t, 1, a.Acquire('B'))
	assert.Equal(t, 2, a.Acquire('C'))

	slot, ok := a.Release('A')
	require.True(t, ok)
	assert.Equal(t, 0, slot)
	assert.Equal(t, 3, a.Len(), "interior free slot is not trimmed")

	assert.Equal(t, 0, a.Acquire('D'))
	assert.Equal(t, 3, a.Len())
}

func TestAllocatorTrimsTrailing(t *testing.T) {
	var a Allocator
	a.Acquire(1)
	a.Acquire(2)
	a.Acquire(3)

	a.Release(2)
	assert.Equal(t, 3, a.Len())
	a.Release(3)
	assert.Equal(t, 1, a.Len(), "slot 2 and the freed slot 1 are both trailing")
	assert.Equal(t, 1, a.Active())

	a.Release(1)
	assert.Equal(t, 0, a.Len())
}

func TestAllocatorAcquireReleaseReusesZero(t *testing.T) {
	var a Allocator
	a.Acquire(7)
	a.Release(7)
	assert.Equal(t, 0, a.Len())
	assert.Equal(t, 0, a.Acquire(8))
}

func TestAllocatorReleaseUnknown(t *testing.T) {
	var a Allocator
	_, ok := a.Release(99)
	assert.False(t, ok)
}

type recorder struct {
	events [][3]int32
}

func (r *recorder) Emit(typ, code uint16, value int32) error {
	r.events = append(r.events, [3]int32{int32(typ), int32(code), value})
	return nil
}

func e(typ, code uint16, value int32) [3]int32 {
	return [3]int32{int32(typ), int32(code), value}
}

func TestTranslatorSequence(t *testing.T) {
	rec := &recorder{}
	tr := NewTranslator(rec, 1000, 0)

	require.NoError(t, tr.Down(5, 100, 200))
	require.NoError(t, tr.Motion(5, 110, 210))
	require.NoError(t, tr.Up(5))

	want := [][3]int32{
		e(platform.EvAbs, platform.AbsMtSlot, 0),
		e(platform.EvAbs, platform.AbsMtTrackingID, 0),
		e(platform.EvAbs, platform.AbsMtPositionX, 100),
		e(platform.EvAbs, platform.AbsMtPositionY, 200),
		e(platform.EvSyn, platform.SynReport, 0),

		e(platform.EvAbs, platform.AbsMtSlot, 0),
		e(platform.EvAbs, platform.AbsMtPositionX, 110),
		e(platform.EvAbs, platform.AbsMtPositionY, 210),
		e(platform.EvSyn, platform.SynReport, 0),

		e(platform.EvAbs, platform.AbsMtSlot, 0),
		e(platform.EvAbs, platform.AbsMtTrackingID, -1),
		e(platform.EvSyn, platform.SynReport, 0),
	}
	assert.Equal(t, want, rec.events)
	assert.Equal(t, 0, tr.Slots().Len())
}

func TestTranslatorIgnoresUnknownMotionAndUp(t *testing.T) {
	rec := &recorder{}
	tr := NewTranslator(rec, 1000, 0)
	require.NoError(t, tr.Motion(1, 1, 1))
	require.NoError(t, tr.Up(1))
	assert.Empty(t, rec.events)
}

func TestTranslatorEdgeClamp(t *testing.T) {
	tests := []struct {
		name string
		x    int
		want int32
	}{
		{"left margin", 30, 0},
		{"right margin", 970, 999},
		{"inside", 500, 500},
		{"just inside left", 40, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			tr := NewTranslator(rec, 1000, 4)
			require.NoError(t, tr.Down(1, tt.x, 10))
			assert.Equal(t, e(platform.EvAbs, platform.AbsMtPositionX, tt.want), rec.events[2])
		})
	}
}

func TestTranslatorCancel(t *testing.T) {
	rec := &recorder{}
	tr := NewTranslator(rec, 1000, 0)
	require.NoError(t, tr.Down(1, 1, 1))
	require.NoError(t, tr.Down(2, 2, 2))
	rec.events = nil

	require.NoError(t, tr.Cancel())
	assert.Equal(t, [][3]int32{
		e(platform.EvAbs, platform.AbsMtSlot, 0),
		e(platform.EvAbs, platform.AbsMtTrackingID, -1),
		e(platform.EvAbs, platform.AbsMtSlot, 1),
		e(platform.EvAbs, platform.AbsMtTrackingID, -1),
		e(platform.EvSyn, platform.SynReport, 0),
	}, rec.events)
	assert.Equal(t, 0, tr.Slots().Len())
}
