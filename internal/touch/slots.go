// Package touch maps volatile touch identifiers onto small dense multitouch
// slots and translates touch events into input events.
package touch

// NoID marks a free slot.
const NoID int64 = -1

// Allocator assigns slots to touch identifiers. The slot of a touch never
// changes while it is down; the lowest free slot is reused first, and
// trailing free slots are trimmed so Len stays minimal.
type Allocator struct {
	slots []int64
}

// Acquire returns the slot for id, assigning one if needed.
func (a *Allocator) Acquire(id int64) int {
	if slot, ok := a.Lookup(id); ok {
		return slot
	}
	for i, cur := range a.slots {
		if cur == NoID {
			a.slots[i] = id
			return i
		}
	}
	a.slots = append(a.slots, id)
	return len(a.slots) - 1
}

// Lookup returns the slot currently held by id.
func (a *Allocator) Lookup(id int64) (int, bool) {
	for i, cur := range a.slots {
		if cur == id {
			return i, true
		}
	}
	return -1, false
}

// Release frees the slot held by id. It reports false if id held none.
func (a *Allocator) Release(id int64) (int, bool) {
	slot, ok := a.Lookup(id)
	if !ok {
		return -1, false
	}
	a.slots[slot] = NoID

	n := len(a.slots)
	for n > 0 && a.slots[n-1] == NoID {
		n--
	}
	a.slots = a.slots[:n]
	return slot, true
}

// Len returns the number of slots, including interior free ones.
func (a *Allocator) Len() int {
	return len(a.slots)
}

// Active returns the number of slots in use.
func (a *Allocator) Active() int {
	n := 0
	for _, cur := range a.slots {
		if cur != NoID {
			n++
		}
	}
	return n
}

// Reset frees every slot.
func (a *Allocator) Reset() {
	a.slots = a.slots[:0]
}
