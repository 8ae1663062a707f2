package inventory

import "voxelinv.ai/internal/sim/item"

// SlotChanged is emitted whenever the occupant of a slot changes.
type SlotChanged struct {
	Inventory ID
	Slot      int
	Old       item.ID
	New       item.ID
}

// StackSizeChanged is emitted when the occupant stays but its count changes.
type StackSizeChanged struct {
	Inventory ID
	Slot      int
	Item      item.ID
	Old       int32
	New       int32
}

type Listener interface {
	SlotChanged(SlotChanged)
	StackSizeChanged(StackSizeChanged)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnSlotChanged      func(SlotChanged)
	OnStackSizeChanged func(StackSizeChanged)
}

func (l ListenerFuncs) SlotChanged(ev SlotChanged) {
	if l.OnSlotChanged != nil {
		l.OnSlotChanged(ev)
	}
}

func (l ListenerFuncs) StackSizeChanged(ev StackSizeChanged) {
	if l.OnStackSizeChanged != nil {
		l.OnStackSizeChanged(ev)
	}
}

// Bus fans post-mutation notifications out to listeners in registration order.
type Bus struct {
	listeners []Listener
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe(l Listener) {
	if l != nil {
		b.listeners = append(b.listeners, l)
	}
}

func (b *Bus) slotChanged(ev SlotChanged) {
	if b == nil {
		return
	}
	for _, l := range b.listeners {
		l.SlotChanged(ev)
	}
}

func (b *Bus) stackSizeChanged(ev StackSizeChanged) {
	if b == nil {
		return
	}
	for _, l := range b.listeners {
		l.StackSizeChanged(ev)
	}
}

// Recorder is a Listener that keeps every notification it sees.
type Recorder struct {
	Slots []SlotChanged
	Sizes []StackSizeChanged
}

func (r *Recorder) SlotChanged(ev SlotChanged) { r.Slots = append(r.Slots, ev) }
func (r *Recorder) StackSizeChanged(ev StackSizeChanged) { r.Sizes = append(r.Sizes, ev) }

func (r *Recorder) Reset() {
	r.Slots = r.Slots[:0]
	r.Sizes = r.Sizes[:0]
}

// Diff emits the notifications that turn before into after, slot by slot.
// Containers missing from either side are skipped.
func Diff(before, after []ContainerState, bus *Bus) {
	prev := make(map[ID]ContainerState, len(before))
	for _, cs := range before {
		prev[cs.ID] = cs
	}
	for _, cs := range after {
		old, ok := prev[cs.ID]
		if !ok || len(old.Slots) != len(cs.Slots) {
			continue
		}
		for i := range cs.Slots {
			o, n := old.Slots[i], cs.Slots[i]
			switch {
			case o.ID != n.ID:
				bus.slotChanged(SlotChanged{Inventory: cs.ID, Slot: i, Old: o.ID, New: n.ID})
			case n.ID != item.NoID && o.Count != n.Count:
				bus.stackSizeChanged(StackSizeChanged{Inventory: cs.ID, Slot: i, Item: n.ID, Old: o.Count, New: n.Count})
			}
		}
	}
}
