package touch

import (
	"errors"
	"fmt"

	"github.com/1broseidon/droidrelay/internal/platform"
)

// MaxTrackingID bounds tracking identifiers handed to the input device.
const MaxTrackingID = 0xFFFF

// Translator turns touch phases into multitouch protocol type B events.
type Translator struct {
	inj         platform.InputInjector
	slots       Allocator
	width       int
	edgePercent int
	nextTrack   int32
}

// NewTranslator emits through inj for a surface width pixels wide. Touches
// that start within edgePercent of the left or right edge are moved onto
// the edge so the guest recognizes edge swipes; zero disables this.
func NewTranslator(inj platform.InputInjector, width, edgePercent int) *Translator {
	return &Translator{inj: inj, width: width, edgePercent: edgePercent}
}

// SetWidth updates the surface width used for the edge adjustment.
func (t *Translator) SetWidth(width int) {
	t.width = width
}

// Slots exposes the allocator state.
func (t *Translator) Slots() *Allocator {
	return &t.slots
}

// Down starts a touch.
func (t *Translator) Down(id int64, x, y int) error {
	if _, ok := t.slots.Lookup(id); ok {
		// A repeated down is treated as motion.
		return t.Motion(id, x, y)
	}
	slot := t.slots.Acquire(id)
	track := t.nextTrack
	t.nextTrack = (t.nextTrack + 1) % (MaxTrackingID + 1)

	x = t.clampEdge(x)
	return t.emit(
		ev(platform.EvAbs, platform.AbsMtSlot, int32(slot)),
		ev(platform.EvAbs, platform.AbsMtTrackingID, track),
		ev(platform.EvAbs, platform.AbsMtPositionX, int32(x)),
		ev(platform.EvAbs, platform.AbsMtPositionY, int32(y)),
		ev(platform.EvSyn, platform.SynReport, 0),
	)
}

// Motion moves a touch. Motion for an unknown id is ignored.
func (t *Translator) Motion(id int64, x, y int) error {
	slot, ok := t.slots.Lookup(id)
	if !ok {
		return nil
	}
	return t.emit(
		ev(platform.EvAbs, platform.AbsMtSlot, int32(slot)),
		ev(platform.EvAbs, platform.AbsMtPositionX, int32(x)),
		ev(platform.EvAbs, platform.AbsMtPositionY, int32(y)),
		ev(platform.EvSyn, platform.SynReport, 0),
	)
}

// Up ends a touch and frees its slot.
func (t *Translator) Up(id int64) error {
	slot, ok := t.slots.Release(id)
	if !ok {
		return nil
	}
	return t.emit(
		ev(platform.EvAbs, platform.AbsMtSlot, int32(slot)),
		ev(platform.EvAbs, platform.AbsMtTrackingID, -1),
		ev(platform.EvSyn, platform.SynReport, 0),
	)
}

// Handle dispatches on phase.
func (t *Translator) Handle(phase platform.TouchPhase, id int64, x, y int) error {
	switch phase {
	case platform.TouchDown:
		return t.Down(id, x, y)
	case platform.TouchMotion:
		return t.Motion(id, x, y)
	case platform.TouchUp:
		return t.Up(id)
	}
	return fmt.Errorf("touch: unknown phase %d", phase)
}

// Cancel lifts every active touch, for focus loss.
func (t *Translator) Cancel() error {
	var errs []error
	for slot, id := range append([]int64(nil), t.slots.slots...) {
		if id == NoID {
			continue
		}
		errs = append(errs, t.emit(
			ev(platform.EvAbs, platform.AbsMtSlot, int32(slot)),
			ev(platform.EvAbs, platform.AbsMtTrackingID, -1),
		))
	}
	t.slots.Reset()
	errs = append(errs, t.emit(ev(platform.EvSyn, platform.SynReport, 0)))
	return errors.Join(errs...)
}

func (t *Translator) clampEdge(x int) int {
	if t.edgePercent <= 0 || t.width <= 0 {
		return x
	}
	margin := t.width * t.edgePercent / 100
	switch {
	case x < margin:
		return 0
	case x >= t.width-margin:
		return t.width - 1
	}
	return x
}

type inputEvent struct {
	typ, code uint16
	value     int32
}

func ev(typ, code uint16, value int32) inputEvent {
	return inputEvent{typ: typ, code: code, value: value}
}

func (t *Translator) emit(events ...inputEvent) error {
	if t.inj == nil {
		return nil
	}
	for _, e := range events {
		if err := t.inj.Emit(e.typ, e.code, e.value); err != nil {
			return fmt.Errorf("emit %#x/%#x: %w", e.typ, e.code, err)
		}
	}
	return nil
}
