package predict

import (
	"errors"
	"reflect"
	"testing"

	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
)

type sent struct {
	changeID uint64
	in       inventory.Intent
}

type harness struct {
	mirror *Mirror
	rec    *inventory.Recorder
	sent   []sent
}

func wood(id item.ID, count int32) item.Stack {
	return item.Stack{ID: id, StackID: "WOOD", Count: count, MaxCount: 64}
}

func newHarness(t *testing.T, cfg Config, slots ...item.Stack) *harness {
	t.Helper()
	h := &harness{rec: &inventory.Recorder{}}
	baseline := inventory.NewState(item.NewStore(item.NewSequence(item.LocalIDBase)))
	if err := baseline.Import([]inventory.ContainerState{{ID: "P", Owner: "A1", Slots: slots}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	bus := inventory.NewBus()
	bus.Subscribe(h.rec)
	send := SenderFunc(func(changeID uint64, in inventory.Intent) error {
		h.sent = append(h.sent, sent{changeID, in})
		return nil
	})
	h.mirror = New(baseline, inventory.NewHooks(), bus, send, cfg, nil)
	return h
}

func (h *harness) issue(t *testing.T, in inventory.Intent) uint64 {
	t.Helper()
	id, ok, err := h.mirror.Issue(in)
	if err != nil || !ok {
		t.Fatalf("issue %s: ok=%v err=%v", in.Kind, ok, err)
	}
	return id
}

func TestIssue_PredictsAndSends(t *testing.T) {
	h := newHarness(t, Config{}, wood(5, 10), item.Stack{}, item.Stack{})

	id := h.issue(t, inventory.Amount("A1", "P", 0, "P", 1, 4))
	if id != 1 {
		t.Fatalf("first change id should be 1, got %d", id)
	}
	if h.mirror.StackSize(5) != 6 {
		t.Fatalf("view should predict the split")
	}
	x := h.mirror.ItemInSlot("P", 1)
	if !x.IsLocal() || h.mirror.StackSize(x) != 4 {
		t.Fatalf("split stack should be a local entity, got %d", x)
	}
	p, ok := h.mirror.Pending().Get(1)
	if !ok || !reflect.DeepEqual(p.Speculative, []item.ID{x}) {
		t.Fatalf("pending entry: %+v", p)
	}
	if len(h.sent) != 1 || h.sent[0].changeID != 1 || h.sent[0].in.Amount != 4 {
		t.Fatalf("sent: %+v", h.sent)
	}
	c, _ := h.mirror.Baseline().Container("P")
	if c.At(1) != item.NoID {
		t.Fatalf("baseline must not be touched by predictions")
	}
	if len(h.rec.Slots) == 0 || len(h.rec.Sizes) == 0 {
		t.Fatalf("prediction should notify listeners")
	}
}

func TestIssue_FailedPredictionIsNotSent(t *testing.T) {
	h := newHarness(t, Config{}, item.Stack{}, item.Stack{})
	id, ok, err := h.mirror.Issue(inventory.Swap("A1", "P", 0, "P", 1))
	if err != nil || ok || id != 0 {
		t.Fatalf("expected a silent local failure, got id=%d ok=%v err=%v", id, ok, err)
	}
	if len(h.sent) != 0 || h.mirror.Pending().Len() != 0 {
		t.Fatalf("nothing should be pending or sent")
	}
	if _, _, err := h.mirror.Issue(inventory.Swap("A1", "P", 0, "P", 7)); !errors.Is(err, inventory.ErrSlotOutOfRange) {
		t.Fatalf("invalid intent: %v", err)
	}
}

func TestIssue_SendErrorKeepsPrediction(t *testing.T) {
	boom := errors.New("closed")
	baseline := inventory.NewState(item.NewStore(item.NewSequence(item.LocalIDBase)))
	_ = baseline.Import([]inventory.ContainerState{{ID: "P", Slots: []item.Stack{wood(5, 1), {}}}})
	m := New(baseline, nil, nil, SenderFunc(func(uint64, inventory.Intent) error { return boom }), Config{}, nil)

	id, ok, err := m.Issue(inventory.Swap("A1", "P", 0, "P", 1))
	if !errors.Is(err, boom) || !ok || id != 1 {
		t.Fatalf("got id=%d ok=%v err=%v", id, ok, err)
	}
	if m.Pending().Len() != 1 {
		t.Fatalf("prediction should stay pending")
	}
}

func TestIssue_SendErrorStillEnforcesMaxPending(t *testing.T) {
	baseline := inventory.NewState(item.NewStore(item.NewSequence(item.LocalIDBase)))
	_ = baseline.Import([]inventory.ContainerState{{ID: "P", Slots: []item.Stack{wood(5, 10), {}, {}}}})
	m := New(baseline, nil, nil, SenderFunc(func(uint64, inventory.Intent) error { return errors.New("closed") }), Config{MaxPending: 1}, nil)

	for i := 0; i < 3; i++ {
		if _, ok, err := m.Issue(inventory.Amount("A1", "P", 0, "P", 1, 1)); !ok || err == nil {
			t.Fatalf("issue %d: ok=%v err=%v", i, ok, err)
		}
	}
	if got := m.Pending().ChangeIDs(); !reflect.DeepEqual(got, []uint64{3}) {
		t.Fatalf("pending: %v", got)
	}
	if m.StackSize(5) != 9 {
		t.Fatalf("only the surviving prediction should show, got %d", m.StackSize(5))
	}
}

// Two splits are predicted before any answer arrives. The authority then
// replicates the outcome of change 1 and acknowledges it.
func TestAcknowledge_RebasesRemainingIntents(t *testing.T) {
	h := newHarness(t, Config{}, wood(5, 10), item.Stack{}, item.Stack{})

	h.issue(t, inventory.Amount("A1", "P", 0, "P", 1, 4))
	x := h.mirror.ItemInSlot("P", 1)
	h.issue(t, inventory.Amount("A1", "P", 0, "P", 2, 3))
	y := h.mirror.ItemInSlot("P", 2)
	if h.mirror.StackSize(5) != 3 {
		t.Fatalf("both predictions should apply, got %d", h.mirror.StackSize(5))
	}

	err := h.mirror.ApplyState([]inventory.ContainerState{{
		ID: "P", Owner: "A1",
		Slots: []item.Stack{wood(5, 6), wood(6, 4), {}},
	}})
	if err != nil {
		t.Fatalf("apply state: %v", err)
	}
	if !h.mirror.Stale() || h.mirror.ItemInSlot("P", 1) != x {
		t.Fatalf("view should wait for the acknowledgment")
	}

	h.rec.Reset()
	if !h.mirror.Acknowledge(1) {
		t.Fatalf("ack should retire change 1")
	}
	view := h.mirror.View().Items()
	if view.Exists(x) || view.Exists(y) {
		t.Fatalf("old speculative entities should be destroyed")
	}
	if got := h.mirror.Pending().ChangeIDs(); !reflect.DeepEqual(got, []uint64{2}) {
		t.Fatalf("pending: %v", got)
	}
	y2 := h.mirror.ItemInSlot("P", 2)
	if y2 == y || !y2.IsLocal() || h.mirror.StackSize(y2) != 3 {
		t.Fatalf("change 2 should be replayed with a fresh entity, got %d", y2)
	}
	p, _ := h.mirror.Pending().Get(2)
	if !reflect.DeepEqual(p.Speculative, []item.ID{y2}) {
		t.Fatalf("speculative set: %v", p.Speculative)
	}
	if h.mirror.ItemInSlot("P", 1) != 6 || h.mirror.StackSize(5) != 3 {
		t.Fatalf("view should show the authoritative split plus the replay")
	}
	if h.mirror.Stale() {
		t.Fatalf("rebase should clear the stale flag")
	}
	if len(h.rec.Slots) == 0 {
		t.Fatalf("rebase corrections should reach listeners")
	}
}

func TestAcknowledge_CorrectionReportsSpeculativeOccupant(t *testing.T) {
	h := newHarness(t, Config{}, wood(5, 10), item.Stack{}, item.Stack{})
	h.issue(t, inventory.Amount("A1", "P", 0, "P", 1, 4))
	x := h.mirror.ItemInSlot("P", 1)
	_ = h.mirror.ApplyState([]inventory.ContainerState{{ID: "P", Owner: "A1", Slots: []item.Stack{wood(5, 6), wood(6, 4), {}}}})

	h.rec.Reset()
	h.mirror.Acknowledge(1)
	if len(h.rec.Slots) != 1 {
		t.Fatalf("slot events: %+v", h.rec.Slots)
	}
	if ev := h.rec.Slots[0]; ev.Slot != 1 || ev.Old != x || ev.New != 6 {
		t.Fatalf("correction should replace %d with 6, got %+v", x, ev)
	}
}

func TestEvict_CorrectionReportsSpeculativeOccupant(t *testing.T) {
	h := newHarness(t, Config{MaxPending: 1}, wood(5, 10), item.Stack{}, item.Stack{})
	h.issue(t, inventory.Amount("A1", "P", 0, "P", 1, 4))
	x := h.mirror.ItemInSlot("P", 1)

	h.rec.Reset()
	h.issue(t, inventory.Amount("A1", "P", 0, "P", 2, 1))
	var found bool
	for _, ev := range h.rec.Slots {
		if ev.Slot == 1 {
			found = true
			if ev.Old != x || ev.New != item.NoID {
				t.Fatalf("eviction should clear %d from slot 1, got %+v", x, ev)
			}
		}
	}
	if !found {
		t.Fatalf("eviction should notify slot 1: %+v", h.rec.Slots)
	}
}

func TestAcknowledge_Idempotent(t *testing.T) {
	h := newHarness(t, Config{}, wood(5, 10), item.Stack{}, item.Stack{})
	h.issue(t, inventory.Amount("A1", "P", 0, "P", 1, 4))
	h.issue(t, inventory.Swap("A1", "P", 0, "P", 2))
	_ = h.mirror.ApplyState([]inventory.ContainerState{{ID: "P", Owner: "A1", Slots: []item.Stack{wood(5, 6), wood(6, 4), {}}}})

	h.mirror.Acknowledge(1)
	before := h.mirror.View().Export()
	pending := h.mirror.Pending().ChangeIDs()
	h.rec.Reset()

	if h.mirror.Acknowledge(1) {
		t.Fatalf("second ack should be ignored")
	}
	if h.mirror.Acknowledge(99) {
		t.Fatalf("unknown ack should be ignored")
	}
	if !reflect.DeepEqual(before, h.mirror.View().Export()) || !reflect.DeepEqual(pending, h.mirror.Pending().ChangeIDs()) {
		t.Fatalf("duplicate ack changed state")
	}
	if len(h.rec.Slots)+len(h.rec.Sizes) != 0 {
		t.Fatalf("duplicate ack notified listeners")
	}
}

func TestAcknowledge_RejectedIntentRollsBack(t *testing.T) {
	h := newHarness(t, Config{}, wood(5, 10), item.Stack{})
	h.issue(t, inventory.Swap("A1", "P", 0, "P", 1))
	if h.mirror.ItemInSlot("P", 1) != 5 {
		t.Fatalf("prediction should move the stack")
	}
	h.rec.Reset()
	h.mirror.Acknowledge(1)
	if h.mirror.ItemInSlot("P", 0) != 5 || h.mirror.ItemInSlot("P", 1) != item.NoID {
		t.Fatalf("unapplied intent should be rolled back to the baseline")
	}
	if len(h.rec.Slots) != 2 {
		t.Fatalf("rollback should notify both slots: %+v", h.rec.Slots)
	}
}

func TestApplyState_RefreshesViewWhenIdle(t *testing.T) {
	h := newHarness(t, Config{}, item.Stack{}, item.Stack{})
	if err := h.mirror.ApplyState([]inventory.ContainerState{{ID: "P", Slots: []item.Stack{{}, wood(9, 2)}}}); err != nil {
		t.Fatalf("apply state: %v", err)
	}
	if h.mirror.ItemInSlot("P", 1) != 9 || h.mirror.Stale() {
		t.Fatalf("idle mirror should show replicated state at once")
	}
	if len(h.rec.Slots) != 1 {
		t.Fatalf("replication should notify: %+v", h.rec.Slots)
	}
	if err := h.mirror.ApplyState([]inventory.ContainerState{{ID: "P", Slots: make([]item.Stack, 3)}}); err == nil {
		t.Fatalf("slot count mismatch should fail")
	}
}

func TestEvict_ByCount(t *testing.T) {
	h := newHarness(t, Config{MaxPending: 1}, wood(5, 10), item.Stack{}, item.Stack{})
	h.issue(t, inventory.Amount("A1", "P", 0, "P", 1, 4))
	h.issue(t, inventory.Amount("A1", "P", 0, "P", 2, 1))

	if got := h.mirror.Pending().ChangeIDs(); !reflect.DeepEqual(got, []uint64{2}) {
		t.Fatalf("pending: %v", got)
	}
	if h.mirror.ItemInSlot("P", 1) != item.NoID || h.mirror.StackSize(5) != 9 {
		t.Fatalf("evicted prediction should disappear from the view")
	}
}

func TestEvict_ByAge(t *testing.T) {
	h := newHarness(t, Config{MaxAgeTicks: 2}, wood(5, 10), item.Stack{})
	h.issue(t, inventory.Swap("A1", "P", 0, "P", 1))
	h.mirror.Advance()
	h.mirror.Advance()
	if h.mirror.Pending().Len() != 1 {
		t.Fatalf("entry evicted too early")
	}
	h.mirror.Advance()
	if h.mirror.Pending().Len() != 0 || h.mirror.ItemInSlot("P", 0) != 5 {
		t.Fatalf("old entry should be dropped and rolled back")
	}
	if h.mirror.Tick() != 3 {
		t.Fatalf("tick: %d", h.mirror.Tick())
	}
}

func TestMirror_GiveAndRemoveNeedAuthority(t *testing.T) {
	h := newHarness(t, Config{}, wood(5, 10))
	var mgr inventory.Manager = h.mirror
	if _, err := mgr.GiveItem("P", "A1", 5); !errors.Is(err, inventory.ErrNotAuthoritative) {
		t.Fatalf("give: %v", err)
	}
	if _, _, err := mgr.RemoveFromSlot("P", "A1", 0, inventory.RemoveOptions{}); !errors.Is(err, inventory.ErrNotAuthoritative) {
		t.Fatalf("remove: %v", err)
	}
	if mgr.StackSize(5) != 10 {
		t.Fatalf("failed calls should not change anything")
	}
}

func TestRegistry_Ordering(t *testing.T) {
	var r Registry
	for _, id := range []uint64{3, 1, 2} {
		r.Add(&Pending{ChangeID: id})
	}
	if got := r.ChangeIDs(); !reflect.DeepEqual(got, []uint64{1, 2, 3}) {
		t.Fatalf("order: %v", got)
	}
	if _, ok := r.Remove(2); !ok {
		t.Fatalf("remove 2")
	}
	if _, ok := r.Remove(2); ok {
		t.Fatalf("remove twice")
	}
	if p, _ := r.Oldest(); p.ChangeID != 1 {
		t.Fatalf("oldest: %d", p.ChangeID)
	}
}
