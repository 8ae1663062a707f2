package inventory

import (
	"math"
	"testing"

	"voxelinv.ai/internal/sim/item"
)

func TestMoveItem_IntoEmptySlot(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 4})
	id := f.place("inv", 0, wood(3))

	if !f.engine.MoveItem("A1", "inv", 0, "inv", 1) {
		t.Fatalf("move failed")
	}
	if f.engine.ItemInSlot("inv", 0) != item.NoID {
		t.Fatalf("slot 0 should be empty")
	}
	if f.engine.ItemInSlot("inv", 1) != id || f.count("inv", 1) != 3 {
		t.Fatalf("slot 1 should hold the same stack with count 3")
	}
	if len(f.rec.Slots) != 2 {
		t.Fatalf("expected 2 slot notifications, got %d", len(f.rec.Slots))
	}
}

func TestMoveItem_OverfullMergeFallsBackToSwap(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 4})
	a := f.place("inv", 0, wood(60))
	b := f.place("inv", 1, wood(10))

	if !f.engine.MoveItem("A1", "inv", 0, "inv", 1) {
		t.Fatalf("move failed")
	}
	if f.engine.ItemInSlot("inv", 0) != b || f.engine.ItemInSlot("inv", 1) != a {
		t.Fatalf("expected swap")
	}
	if f.count("inv", 0) != 10 || f.count("inv", 1) != 60 {
		t.Fatalf("counts changed: %d %d", f.count("inv", 0), f.count("inv", 1))
	}
}

func TestMoveItem_MergeFastPath(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 4})
	a := f.place("inv", 0, wood(60))
	b := f.place("inv", 1, wood(3))

	if !f.engine.MoveItem("A1", "inv", 0, "inv", 1) {
		t.Fatalf("move failed")
	}
	if f.engine.ItemInSlot("inv", 0) != item.NoID {
		t.Fatalf("slot 0 should be empty")
	}
	if f.engine.ItemInSlot("inv", 1) != b || f.count("inv", 1) != 63 {
		t.Fatalf("slot 1: got count %d", f.count("inv", 1))
	}
	if f.state.Items().Exists(a) {
		t.Fatalf("merged source should be destroyed")
	}
	if len(f.rec.Sizes) != 1 || f.rec.Sizes[0].Old != 3 || f.rec.Sizes[0].New != 63 {
		t.Fatalf("size notifications: %+v", f.rec.Sizes)
	}
}

func TestMoveItem_MergeBypassesHooks(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 4})
	f.place("inv", 0, wood(10))
	f.place("inv", 1, wood(10))
	f.rejectAll()

	if !f.engine.MoveItem("A1", "inv", 0, "inv", 1) {
		t.Fatalf("merge should not consult hooks")
	}
	if f.count("inv", 1) != 20 {
		t.Fatalf("merge did not happen")
	}
}

func TestMoveItem_HookOrderAndRejection(t *testing.T) {
	f := newFixture(t, map[ID]int{"a": 2, "b": 2})
	x := f.place("a", 0, wood(60))
	y := f.place("b", 1, item.Stack{StackID: "STONE", Count: 5, MaxCount: 64})

	var calls []string
	f.hooks.OnBeforeRemove(func(c RemoveCheck) Outcome {
		calls = append(calls, "remove:"+string(c.Inventory))
		return Proceed
	})
	f.hooks.OnBeforePut(func(c PutCheck) Outcome {
		calls = append(calls, "put:"+string(c.Inventory))
		if c.Inventory == "b" && c.Item == x {
			return Reject
		}
		return Proceed
	})

	before := f.state.Export()
	items := f.state.Items().Len()
	if f.engine.MoveItem("A1", "a", 0, "b", 1) {
		t.Fatalf("expected rejection")
	}
	want := []string{"remove:a", "remove:b", "put:a", "put:b"}
	if len(calls) != len(want) {
		t.Fatalf("hook calls: got %v want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("hook calls: got %v want %v", calls, want)
		}
	}
	f.assertUnchanged(before, items)
	if f.engine.ItemInSlot("b", 1) != y {
		t.Fatalf("destination changed")
	}
}

func TestMoveItem_FirstRejectStopsDispatch(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	f.place("inv", 0, wood(1))
	second := 0
	f.hooks.OnBeforeRemove(func(RemoveCheck) Outcome { return Reject })
	f.hooks.OnBeforeRemove(func(RemoveCheck) Outcome { second++; return Proceed })

	if f.engine.MoveItem("A1", "inv", 0, "inv", 1) {
		t.Fatalf("expected rejection")
	}
	if second != 0 {
		t.Fatalf("listeners after a reject should not run")
	}
}

func TestMoveItem_DegenerateMoves(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	f.place("inv", 0, wood(1))
	if f.engine.MoveItem("A1", "inv", 0, "inv", 0) {
		t.Fatalf("same-slot move should fail")
	}
	f2 := newFixture(t, map[ID]int{"inv": 2})
	if f2.engine.MoveItem("A1", "inv", 0, "inv", 1) {
		t.Fatalf("moving two empty slots should fail")
	}
}

func TestMoveItem_OutOfRangePanics(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	mustPanic(t, func() { f.engine.MoveItem("A1", "inv", 0, "inv", 2) })
	mustPanic(t, func() { f.engine.MoveItem("A1", "inv", -1, "inv", 1) })
	mustPanic(t, func() { f.engine.MoveItem("A1", "nope", 0, "inv", 1) })
}

func TestMoveItemAmount_SplitIntoEmptySlot(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	src := f.place("inv", 0, item.Stack{StackID: "WOOD", Count: 10, MaxCount: 64, Attributes: item.Attributes{"grain": "oak"}})

	if !f.engine.MoveItemAmount("A1", "inv", 0, "inv", 1, 4) {
		t.Fatalf("move failed")
	}
	if f.engine.ItemInSlot("inv", 0) != src || f.count("inv", 0) != 6 {
		t.Fatalf("source: got %d", f.count("inv", 0))
	}
	dst, ok := f.at("inv", 1)
	if !ok || dst.ID == src || dst.Count != 4 {
		t.Fatalf("destination: %+v", dst)
	}
	srcStack, _ := f.at("inv", 0)
	if !item.IsSameItem(srcStack, dst) {
		t.Fatalf("split stack should be the same item as its source")
	}
}

func TestMoveItemAmount_WholeStackDestroysSource(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	src := f.place("inv", 0, wood(5))
	if !f.engine.MoveItemAmount("A1", "inv", 0, "inv", 1, 5) {
		t.Fatalf("move failed")
	}
	if f.state.Items().Exists(src) || f.engine.ItemInSlot("inv", 0) != item.NoID {
		t.Fatalf("source should be gone")
	}
	if f.count("inv", 1) != 5 {
		t.Fatalf("destination count %d", f.count("inv", 1))
	}
}

func TestMoveItemAmount_IntoExistingStack(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	f.place("inv", 0, wood(10))
	dst := f.place("inv", 1, wood(60))

	if f.engine.MoveItemAmount("A1", "inv", 0, "inv", 1, 5) {
		t.Fatalf("60+5 exceeds max, should fail")
	}
	if !f.engine.MoveItemAmount("A1", "inv", 0, "inv", 1, 4) {
		t.Fatalf("60+4 should fit")
	}
	if f.engine.ItemInSlot("inv", 1) != dst || f.count("inv", 1) != 64 || f.count("inv", 0) != 6 {
		t.Fatalf("counts: src=%d dst=%d", f.count("inv", 0), f.count("inv", 1))
	}
}

func TestMoveItemAmount_Preconditions(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 3})
	f.place("inv", 0, wood(10))
	f.place("inv", 1, item.Stack{StackID: "STONE", Count: 1, MaxCount: 64})
	before := f.state.Export()
	items := f.state.Items().Len()

	cases := []struct {
		name     string
		from, to int
		amount   int32
	}{
		{"more than source", 0, 2, 11},
		{"zero", 0, 2, 0},
		{"negative", 0, 2, -1},
		{"empty source", 2, 0, 1},
		{"different item", 0, 1, 1},
		{"same slot", 0, 0, 1},
	}
	for _, tc := range cases {
		if f.engine.MoveItemAmount("A1", "inv", tc.from, "inv", tc.to, tc.amount) {
			t.Fatalf("%s: expected failure", tc.name)
		}
	}
	f.assertUnchanged(before, items)
}

func TestMoveItemAmount_RejectedByPutHook(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	f.place("inv", 0, wood(10))
	f.hooks.OnBeforePut(func(PutCheck) Outcome { return Reject })
	before := f.state.Export()
	items := f.state.Items().Len()
	if f.engine.MoveItemAmount("A1", "inv", 0, "inv", 1, 3) {
		t.Fatalf("expected rejection")
	}
	f.assertUnchanged(before, items)
}

func TestMoveItemAmount_Conserves(t *testing.T) {
	for amount := int32(1); amount <= 10; amount++ {
		f := newFixture(t, map[ID]int{"a": 2, "b": 2})
		f.place("a", 0, wood(10))
		f.place("b", 0, wood(50))
		f.engine.MoveItemAmount("A1", "a", 0, "b", 0, amount)
		f.engine.MoveItemAmount("A1", "a", 0, "b", 1, amount)
		if got := f.total("WOOD"); got != 60 {
			t.Fatalf("amount=%d: total %d want 60", amount, got)
		}
	}
}

func TestSwitchItem_Unconditional(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 2})
	a := f.place("inv", 0, wood(10))
	b := f.place("inv", 1, wood(10))
	f.rejectAll()

	f.engine.SwitchItem("inv", 0, "inv", 1)
	if f.engine.ItemInSlot("inv", 0) != b || f.engine.ItemInSlot("inv", 1) != a {
		t.Fatalf("expected swap without merge")
	}
	if f.count("inv", 0) != 10 || f.count("inv", 1) != 10 {
		t.Fatalf("switch must not merge")
	}
}

func TestCanStackTogether(t *testing.T) {
	f := newFixture(t, map[ID]int{"inv": 3})
	a := f.place("inv", 0, wood(60))
	b := f.place("inv", 1, wood(4))
	c := f.place("inv", 2, wood(5))
	if !f.engine.CanStackTogether(a, b) {
		t.Fatalf("60+4 should stack")
	}
	if f.engine.CanStackTogether(a, c) {
		t.Fatalf("60+5 should not stack")
	}
	if !f.engine.CanStackTogether(a, item.NoID) {
		t.Fatalf("anything stacks onto nothing")
	}
	if f.engine.CanStackTogether(item.NoID, a) {
		t.Fatalf("nothing cannot be stacked")
	}
	if f.engine.StackSize(a) != 60 || f.engine.StackSize(item.NoID) != 0 {
		t.Fatalf("stack size")
	}
	if f.engine.FindSlotWithItem("inv", c) != 2 || f.engine.FindSlotWithItem("inv", 999) != -1 {
		t.Fatalf("find slot")
	}
	if f.engine.NumSlots("inv") != 3 || f.engine.NumSlots("nope") != 0 {
		t.Fatalf("num slots")
	}
	if f.engine.ItemInSlot("inv", 7) != item.NoID {
		t.Fatalf("out-of-range query should read empty")
	}
}

func TestCounts_NearInt32LimitNeverWrap(t *testing.T) {
	big := func(n int32) item.Stack { return item.Stack{StackID: "WOOD", Count: n, MaxCount: math.MaxInt32} }
	f := newFixture(t, map[ID]int{"inv": 3})
	a := f.place("inv", 0, big(2_000_000_000))
	b := f.place("inv", 1, big(2_000_000_000))

	if !f.engine.MoveItem("A1", "inv", 0, "inv", 1) {
		t.Fatalf("move failed")
	}
	if f.engine.ItemInSlot("inv", 0) != b || f.engine.ItemInSlot("inv", 1) != a {
		t.Fatalf("an unmergeable pair should swap")
	}
	if f.engine.MoveItemAmount("A1", "inv", 0, "inv", 1, 1_000_000_000) {
		t.Fatalf("amount past the int32 range should be refused")
	}
	if f.count("inv", 0) != 2_000_000_000 || f.count("inv", 1) != 2_000_000_000 {
		t.Fatalf("counts changed: %d %d", f.count("inv", 0), f.count("inv", 1))
	}
	if _, ok := f.engine.RemoveItems("inv", "A1", []item.ID{a, b}, RemoveOptions{}); ok {
		t.Fatalf("whole-stack removal with an unrepresentable total should fail")
	}
	if f.engine.ItemInSlot("inv", 0) != b || f.engine.ItemInSlot("inv", 1) != a {
		t.Fatalf("failed removal must leave the slots alone")
	}
}
