package inventory

import "voxelinv.ai/internal/sim/item"

// Outcome is a validation listener's verdict.
type Outcome uint8

const (
	Proceed Outcome = iota
	Reject
)

// RemoveCheck is dispatched before an item leaves a slot.
type RemoveCheck struct {
	Instigator Instigator
	Inventory  ID
	Item       item.ID
	Slot       int
	Count      int32
}

// PutCheck is dispatched before an item is placed into a slot. For a split
// into an empty slot Item is the source stack the new stack is cloned from.
type PutCheck struct {
	Instigator Instigator
	Inventory  ID
	Item       item.ID
	Slot       int
	Count      int32
}

type (
	RemoveHook func(RemoveCheck) Outcome
	PutHook    func(PutCheck) Outcome
)

// Hooks is the validation bus consulted before every mutation. The first
// listener that rejects wins; later listeners are not consulted.
type Hooks struct {
	removes []RemoveHook
	puts    []PutHook
}

func NewHooks() *Hooks { return &Hooks{} }

func (h *Hooks) OnBeforeRemove(fn RemoveHook) {
	if fn != nil {
		h.removes = append(h.removes, fn)
	}
}

func (h *Hooks) OnBeforePut(fn PutHook) {
	if fn != nil {
		h.puts = append(h.puts, fn)
	}
}

func (h *Hooks) allowRemove(c RemoveCheck) bool {
	if h == nil {
		return true
	}
	for _, fn := range h.removes {
		if fn(c) == Reject {
			return false
		}
	}
	return true
}

func (h *Hooks) allowPut(c PutCheck) bool {
	if h == nil {
		return true
	}
	for _, fn := range h.puts {
		if fn(c) == Reject {
			return false
		}
	}
	return true
}
