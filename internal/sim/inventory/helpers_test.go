package inventory

import (
	"reflect"
	"testing"

	"voxelinv.ai/internal/sim/item"
)

type fixture struct {
	t      *testing.T
	state  *State
	hooks  *Hooks
	rec    *Recorder
	engine *Engine
}

func newFixture(t *testing.T, containers map[ID]int) *fixture {
	t.Helper()
	st := NewState(item.NewStore(item.NewSequence(1)))
	for id, n := range containers {
		if err := st.Add(NewContainer(id, "A1", n)); err != nil {
			t.Fatalf("add container: %v", err)
		}
	}
	f := &fixture{t: t, state: st, hooks: NewHooks(), rec: &Recorder{}}
	bus := NewBus()
	bus.Subscribe(f.rec)
	f.engine = NewEngine(st, f.hooks, bus)
	return f
}

func wood(count int32) item.Stack {
	return item.Stack{StackID: "WOOD", Count: count, MaxCount: 64}
}

// place creates a stack and puts it into the slot without notifications.
func (f *fixture) place(inv ID, slot int, st item.Stack) item.ID {
	f.t.Helper()
	c, ok := f.state.Container(inv)
	if !ok {
		f.t.Fatalf("unknown container %s", inv)
	}
	id := f.state.Items().Create(st)
	c.set(slot, id)
	return id
}

func (f *fixture) at(inv ID, slot int) (item.Stack, bool) {
	f.t.Helper()
	return f.state.Items().Get(f.engine.ItemInSlot(inv, slot))
}

func (f *fixture) count(inv ID, slot int) int32 {
	f.t.Helper()
	st, ok := f.at(inv, slot)
	if !ok {
		return 0
	}
	return st.Count
}

func (f *fixture) total(stackID string) int32 {
	var n int32
	for _, cs := range f.state.Export() {
		for _, st := range cs.Slots {
			if st.StackID == stackID {
				n += st.Count
			}
		}
	}
	return n
}

func (f *fixture) rejectAll() {
	f.hooks.OnBeforeRemove(func(RemoveCheck) Outcome { return Reject })
	f.hooks.OnBeforePut(func(PutCheck) Outcome { return Reject })
}

func (f *fixture) assertUnchanged(before []ContainerState, items int) {
	f.t.Helper()
	if after := f.state.Export(); !reflect.DeepEqual(before, after) {
		f.t.Fatalf("state changed:\nbefore=%+v\nafter=%+v", before, after)
	}
	if got := f.state.Items().Len(); got != items {
		f.t.Fatalf("item count changed: %d -> %d", items, got)
	}
	if len(f.rec.Slots) != 0 || len(f.rec.Sizes) != 0 {
		f.t.Fatalf("unexpected notifications: %+v %+v", f.rec.Slots, f.rec.Sizes)
	}
}

func mustPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
}
