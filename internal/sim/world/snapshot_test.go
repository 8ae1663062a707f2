package world

import (
	"context"
	"testing"
	"time"

	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/inventory"
)

func TestSnapshotRoundTrip(t *testing.T) {
	w1 := newTestWorld(t, nil)
	r, _ := join(t, w1, "a", "")
	join(t, w1, "b", "")
	w1.StepOnce(nil, nil, []IntentEnvelope{
		intent("A1", 1, inventory.Amount("", "CHEST:TEST", 0, "P:A1", 2, 15)),
		intent("A2", 1, inventory.Amount("", "P:A2", 0, "T:A2", 0, 3)),
	})
	tick := w1.CurrentTick() - 1
	snap := w1.ExportSnapshot(tick)

	w2 := newTestWorld(t, nil)
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w2.CurrentTick() != tick+1 {
		t.Fatalf("tick=%d want %d", w2.CurrentTick(), tick+1)
	}
	if w1.stateDigest(tick) != w2.stateDigest(tick) {
		t.Fatalf("digest mismatch after import")
	}
	if got := slotCount(t, w2, "T:A2", 0); got != 3 {
		t.Fatalf("transfer slot=%d", got)
	}

	// New ids continue after the imported ones.
	r3, _ := join(t, w2, "c", "")
	if r3.Welcome.AgentID != "A3" {
		t.Fatalf("next agent=%s", r3.Welcome.AgentID)
	}
	for _, id := range w2.state.Items().IDs() {
		if uint64(id) >= snap.Counters.NextItem {
			continue
		}
		if _, ok := w1.state.Items().Get(id); !ok {
			t.Fatalf("item %d not from snapshot", id)
		}
	}

	// Resume tokens survive the restart.
	r4, _ := join(t, w2, "a", r.Welcome.ResumeToken)
	if r4.Welcome.AgentID != "A1" {
		t.Fatalf("resumed as %s", r4.Welcome.AgentID)
	}
}

func TestImportSnapshot_Rejects(t *testing.T) {
	w := newTestWorld(t, nil)
	good := w.ExportSnapshot(0)

	bad := good
	bad.Header.Version = 2
	if err := w.ImportSnapshot(bad); err == nil {
		t.Fatalf("expected version error")
	}
	bad = good
	bad.Header.WorldID = "other"
	if err := w.ImportSnapshot(bad); err == nil {
		t.Fatalf("expected world mismatch")
	}
	bad = good
	bad.PlayerSlots = 99
	if err := w.ImportSnapshot(bad); err == nil {
		t.Fatalf("expected slot mismatch")
	}
}

func TestImportSnapshot_AddsNewSharedContainers(t *testing.T) {
	w1 := newTestWorld(t, func(c *WorldConfig) { c.SharedContainers = nil })
	snap := w1.ExportSnapshot(0)

	w2 := newTestWorld(t, nil)
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := slotCount(t, w2, "CHEST:TEST", 0); got != 60 {
		t.Fatalf("chest=%d", got)
	}
}

func TestSnapshotSink(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) { c.SnapshotEveryTicks = 3 })
	sink := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink(sink)
	for i := 0; i < 7; i++ {
		w.StepOnce(nil, nil, nil)
	}
	var ticks []uint64
	for len(sink) > 0 {
		ticks = append(ticks, (<-sink).Header.Tick)
	}
	if len(ticks) != 2 || ticks[0] != 3 || ticks[1] != 6 {
		t.Fatalf("snapshot ticks=%v", ticks)
	}
}

type memTickLog struct{ entries []TickLogEntry }

func (m *memTickLog) WriteTick(e TickLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type memAuditLog struct{ entries []AuditEntry }

func (m *memAuditLog) WriteAudit(e AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func TestTickAndAuditLogs(t *testing.T) {
	w := newTestWorld(t, nil)
	ticks := &memTickLog{}
	audits := &memAuditLog{}
	w.SetTickLogger(ticks)
	w.SetAuditLogger(audits)

	join(t, w, "a", "")
	audits.entries = nil
	w.StepOnce(nil, nil, []IntentEnvelope{intent("A1", 1, inventory.Amount("", "P:A1", 0, "P:A1", 3, 4))})

	if len(ticks.entries) != 2 {
		t.Fatalf("tick entries=%d", len(ticks.entries))
	}
	last := ticks.entries[1]
	if len(last.Intents) != 1 || !last.Intents[0].Applied || last.Intents[0].Kind != "amount" || last.Digest == "" {
		t.Fatalf("tick entry: %+v", last)
	}
	if len(ticks.entries[0].Joins) != 1 || ticks.entries[0].Joins[0].AgentID != "A1" {
		t.Fatalf("join entry: %+v", ticks.entries[0])
	}

	var slot, size int
	for _, e := range audits.entries {
		if e.Actor != "A1" || e.Inventory != "P:A1" {
			t.Fatalf("audit: %+v", e)
		}
		switch e.Action {
		case "SLOT_CHANGED":
			slot++
		case "STACK_SIZE":
			size++
			if e.FromCount != 10 || e.ToCount != 6 {
				t.Fatalf("size audit: %+v", e)
			}
		}
	}
	if slot != 1 || size != 1 {
		t.Fatalf("audits slot=%d size=%d: %+v", slot, size, audits.entries)
	}
}

func TestRequestSnapshot_ExportsLastTick(t *testing.T) {
	w := newTestWorld(t, func(c *WorldConfig) {
		c.TickRateHz = 50
		c.SnapshotEveryTicks = 0
	})
	sink := make(chan snapshot.SnapshotV1, 1)
	w.SetSnapshotSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for w.CurrentTick() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("world did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rctx, rcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer rcancel()
	tick, err := w.RequestSnapshot(rctx)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	snap := <-sink
	if snap.Header.Tick != tick {
		t.Fatalf("snapshot tick=%d want %d", snap.Header.Tick, tick)
	}
}

func TestRequestSnapshot_WithoutSink(t *testing.T) {
	w := newTestWorld(t, nil)
	w.StepOnce(nil, nil, nil)
	if res := w.snapshotNow(); res.err != ErrNoSnapshotSink {
		t.Fatalf("err=%v", res.err)
	}
}
