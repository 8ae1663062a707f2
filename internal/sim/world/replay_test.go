package world

import (
	"testing"

	"voxelinv.ai/internal/sim/inventory"
)

func TestReplayTick_ReproducesDigests(t *testing.T) {
	live := newTestWorld(t, nil)
	ticks := &memTickLog{}
	live.SetTickLogger(ticks)

	a, _ := join(t, live, "a", "")
	join(t, live, "b", "")
	live.StepOnce(nil, nil, []IntentEnvelope{
		intent("A1", 1, inventory.Amount("", "P:A1", 0, "T:A1", 0, 4)),
		intent("A1", 2, inventory.Swap("", "CHEST:TEST", 0, "P:A1", 3)),
		intent("A2", 1, inventory.Swap("", "P:A1", 0, "P:A2", 3)), // no permission
		intent("A2", 2, inventory.Distribute("", "P:A2", 0, "P:A2", []int{2, 3})),
	})
	live.StepOnce(nil, []string{"A1"}, nil)
	join(t, live, "a", a.Welcome.ResumeToken)
	live.StepOnce(nil, nil, []IntentEnvelope{
		intent("A1", 3, inventory.Swap("", "P:A1", 3, "CHEST:TEST", 1)),
	})

	replay := newTestWorld(t, nil)
	for _, e := range ticks.entries {
		got, err := replay.ReplayTick(e)
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if got != e.Digest {
			t.Fatalf("tick %d digest=%s want %s", e.Tick, got, e.Digest)
		}
	}
	if replay.CurrentTick() != live.CurrentTick() {
		t.Fatalf("tick=%d want %d", replay.CurrentTick(), live.CurrentTick())
	}
}

func TestReplayTick_DetectsDivergence(t *testing.T) {
	w := newTestWorld(t, nil)
	e := TickLogEntry{
		Tick:  0,
		Joins: []RecordedJoin{{AgentID: "A1", Name: "a"}},
		Intents: []RecordedIntent{
			{AgentID: "A1", ChangeID: 1, Kind: "swap", From: "P:A1", FromSlot: 2, To: "P:A1", ToSlot: 3, Applied: true},
		},
	}
	if _, err := w.ReplayTick(e); err == nil {
		t.Fatalf("expected divergence on a move between empty slots")
	}

	w = newTestWorld(t, nil)
	if _, err := w.ReplayTick(TickLogEntry{Tick: 5}); err == nil {
		t.Fatalf("expected tick mismatch")
	}
}
