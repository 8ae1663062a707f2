package inventory

import (
	"testing"

	"voxelinv.ai/internal/sim/item"
)

func TestState_CloneIsIndependent(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	id := f.place("inv", 0, wood(10))
	cp := f.state.Clone()

	f.engine.MoveItem("A1", "inv", 0, "inv", 1)
	c, _ := cp.Container("inv")
	if c.At(0) != id {
		t.Fatalf("clone followed the original")
	}
	cp.Items().SetCount(id, 1)
	if f.engine.StackSize(id) != 10 {
		t.Fatalf("original followed the clone")
	}
}

func TestState_ResetKeepsEngineBinding(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	snap := f.state.Clone()
	f.place("inv", 0, wood(10))

	f.state.Reset(snap)
	if f.engine.ItemInSlot("inv", 0) != item.NoID {
		t.Fatalf("reset should restore the empty container")
	}
}

func TestState_ImportReplacesAndDestroys(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	old := f.place("inv", 0, wood(10))
	kept := f.place("inv", 1, wood(3))

	err := f.state.Import([]ContainerState{{
		ID:    "inv",
		Owner: "A1",
		Slots: []item.Stack{
			{ID: kept, StackID: "WOOD", Count: 7, MaxCount: 64},
			{},
		},
	}, {
		ID:    "chest",
		Slots: []item.Stack{{ID: 40, StackID: "STONE", Count: 2, MaxCount: 64}},
	}})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if f.state.Items().Exists(old) {
		t.Fatalf("dropped item should be destroyed")
	}
	if f.engine.ItemInSlot("inv", 0) != kept || f.count("inv", 0) != 7 {
		t.Fatalf("kept item should move with its new count")
	}
	if f.engine.ItemInSlot("chest", 0) != 40 {
		t.Fatalf("unknown container should be created")
	}
	if next := f.state.Items().Create(wood(1)); next <= 40 {
		t.Fatalf("allocator should skip imported ids, got %d", next)
	}

	if err := f.state.Import([]ContainerState{{ID: "inv", Slots: make([]item.Stack, 5)}}); err == nil {
		t.Fatalf("slot count mismatch should fail")
	}
}

func TestState_ExportRoundTrip(t *testing.T) {
	f := newFixture(t, map[ID]int{"a": 2, "b": 1})
	f.place("a", 1, wood(10))
	f.place("b", 0, item.Stack{StackID: "STONE", Count: 3, MaxCount: 16, Attributes: item.Attributes{"q": "1"}})

	out := NewState(item.NewStore(item.NewSequence(1)))
	if err := out.Import(f.state.Export()); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, want := out.Export(), f.state.Export()
	if len(got) != len(want) {
		t.Fatalf("containers: %d vs %d", len(got), len(want))
	}
	for i := range want {
		for s := range want[i].Slots {
			if got[i].Slots[s].ID != want[i].Slots[s].ID || got[i].Slots[s].Count != want[i].Slots[s].Count {
				t.Fatalf("%s slot %d differs", want[i].ID, s)
			}
		}
	}
}

func TestState_RemoveDestroysItems(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 1})
	id := f.place("inv", 0, wood(1))
	if !f.state.Remove("inv") || f.state.Items().Exists(id) {
		t.Fatalf("remove should destroy held items")
	}
	if f.state.Remove("inv") {
		t.Fatalf("second remove should report false")
	}
}

func TestDiff_EmitsSlotAndSizeChanges(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 3})
	a := f.place("inv", 0, wood(10))
	f.place("inv", 1, wood(10))
	before := f.state.Export()

	f.engine.Silent().MoveItemAmount("A1", "inv", 0, "inv", 1, 4)
	f.engine.Silent().MoveItem("A1", "inv", 0, "inv", 2)
	if len(f.rec.Slots)+len(f.rec.Sizes) != 0 {
		t.Fatalf("silent engine emitted notifications")
	}

	Diff(before, f.state.Export(), f.engine.bus)
	if len(f.rec.Slots) != 2 {
		t.Fatalf("slot changes: %+v", f.rec.Slots)
	}
	if f.rec.Slots[0].Slot != 0 || f.rec.Slots[0].Old != a || f.rec.Slots[1].Slot != 2 || f.rec.Slots[1].New != a {
		t.Fatalf("slot changes: %+v", f.rec.Slots)
	}
	if len(f.rec.Sizes) != 1 || f.rec.Sizes[0].Old != 10 || f.rec.Sizes[0].New != 14 {
		t.Fatalf("size changes: %+v", f.rec.Sizes)
	}
}
