package authority

import (
	"errors"
	"testing"

	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
)

func newService(t *testing.T) (*Service, *inventory.State) {
	t.Helper()
	st := inventory.NewState(item.NewStore(item.NewSequence(1)))
	if err := st.Add(inventory.NewContainer("P", "A1", 4)); err != nil {
		t.Fatal(err)
	}
	if err := st.Add(inventory.NewContainer("C", "", 2)); err != nil {
		t.Fatal(err)
	}
	return New(inventory.NewEngine(st, inventory.NewHooks(), nil)), st
}

func give(t *testing.T, s *Service, inv inventory.ID, slot int, count int32) item.ID {
	t.Helper()
	id := s.Engine().State().Items().Create(item.Stack{StackID: "WOOD", Count: count, MaxCount: 64})
	ok, err := s.GiveItemToSlot(inv, "server", id, slot)
	if err != nil || !ok {
		t.Fatalf("give: ok=%v err=%v", ok, err)
	}
	return id
}

func TestHandle_AlwaysAcks(t *testing.T) {
	s, _ := newService(t)
	give(t, s, "P", 0, 10)

	ack := s.Handle(1, inventory.Amount("A1", "P", 0, "C", 0, 4))
	if !ack.Applied || ack.Err != nil || ack.ChangeID != 1 {
		t.Fatalf("ack: %+v", ack)
	}
	ack = s.Handle(2, inventory.Amount("A1", "P", 3, "C", 1, 1))
	if ack.Applied || !errors.Is(ack.Err, ErrRejected) || ack.ChangeID != 2 {
		t.Fatalf("empty-slot ack: %+v", ack)
	}
	ack = s.Handle(3, inventory.Swap("A1", "P", 0, "C", 9))
	if ack.Applied || !errors.Is(ack.Err, inventory.ErrSlotOutOfRange) {
		t.Fatalf("out-of-range ack: %+v", ack)
	}
	ack = s.Handle(4, inventory.Swap("A1", "nope", 0, "C", 0))
	if ack.Applied || !errors.Is(ack.Err, inventory.ErrUnknownContainer) {
		t.Fatalf("unknown container ack: %+v", ack)
	}
}

func TestHandle_MoveIntoEmptySlot(t *testing.T) {
	s, _ := newService(t)
	x := give(t, s, "P", 0, 3)
	if ok, err := s.SwitchItem("A1", "P", 0, "P", 1); err != nil || !ok {
		t.Fatalf("switch: %v %v", ok, err)
	}
	if s.ItemInSlot("P", 0) != item.NoID || s.ItemInSlot("P", 1) != x || s.StackSize(x) != 3 {
		t.Fatalf("unexpected layout")
	}
}

func TestHandle_OverfullMergeSwaps(t *testing.T) {
	s, _ := newService(t)
	x := give(t, s, "P", 0, 60)
	y := give(t, s, "P", 1, 10)
	if ok, _ := s.SwitchItem("A1", "P", 0, "P", 1); !ok {
		t.Fatalf("switch failed")
	}
	if s.ItemInSlot("P", 0) != y || s.ItemInSlot("P", 1) != x {
		t.Fatalf("expected a swap")
	}
}

func TestHandle_MergeFastPath(t *testing.T) {
	s, st := newService(t)
	x := give(t, s, "P", 0, 60)
	y := give(t, s, "P", 1, 3)
	if ok, _ := s.SwitchItem("A1", "P", 0, "P", 1); !ok {
		t.Fatalf("switch failed")
	}
	if s.ItemInSlot("P", 0) != item.NoID || s.ItemInSlot("P", 1) != y || s.StackSize(y) != 63 {
		t.Fatalf("expected merge into slot 1, got %d", s.StackSize(y))
	}
	if st.Items().Exists(x) {
		t.Fatalf("merged source should be destroyed")
	}
}

func TestHandle_SplitIntoEmptySlot(t *testing.T) {
	s, st := newService(t)
	x := give(t, s, "P", 0, 10)
	if ok, _ := s.MoveItem("A1", "P", 0, "P", 1, 4); !ok {
		t.Fatalf("move failed")
	}
	y := s.ItemInSlot("P", 1)
	if y == x || y == item.NoID || s.StackSize(y) != 4 || s.StackSize(x) != 6 {
		t.Fatalf("split: x=%d y=%d", s.StackSize(x), s.StackSize(y))
	}
	a, _ := st.Items().Get(x)
	b, _ := st.Items().Get(y)
	if !item.IsSameItem(a, b) {
		t.Fatalf("split halves should be the same item")
	}
}

func TestHandle_RejectedPutLeavesStateUnchanged(t *testing.T) {
	st := inventory.NewState(item.NewStore(item.NewSequence(1)))
	_ = st.Add(inventory.NewContainer("P", "A1", 2))
	_ = st.Add(inventory.NewContainer("C", "", 2))
	hooks := inventory.NewHooks()
	hooks.OnBeforePut(func(c inventory.PutCheck) inventory.Outcome {
		if c.Inventory == "C" {
			return inventory.Reject
		}
		return inventory.Proceed
	})
	s := New(inventory.NewEngine(st, hooks, nil))
	x := give(t, s, "P", 0, 5)

	ack := s.Handle(7, inventory.Swap("A1", "P", 0, "C", 0))
	if ack.Applied {
		t.Fatalf("expected rejection")
	}
	if s.ItemInSlot("P", 0) != x || s.ItemInSlot("C", 0) != item.NoID {
		t.Fatalf("state changed")
	}
}

func TestService_RemoveAndGive(t *testing.T) {
	s, _ := newService(t)
	x := give(t, s, "P", 0, 10)
	out, ok, err := s.RemoveFromSlot("P", "server", 0, inventory.RemoveOptions{Count: 4})
	if err != nil || !ok || out == x || s.StackSize(out) != 4 {
		t.Fatalf("remove: %d %v %v", out, ok, err)
	}
	if ok, err := s.GiveItem("C", "server", out); err != nil || !ok {
		t.Fatalf("give back: %v %v", ok, err)
	}
	if s.FindSlotWithItem("C", out) != 0 || s.NumSlots("C") != 2 {
		t.Fatalf("given item not found")
	}
	if _, ok, _ := s.RemoveItems("P", "server", []item.ID{x}, inventory.RemoveOptions{Destroy: true}); !ok {
		t.Fatalf("remove items")
	}
	if s.ItemInSlot("P", 0) != item.NoID {
		t.Fatalf("slot should be empty")
	}
}
