package world

import (
	"encoding/json"
	"testing"

	"voxelinv.ai/internal/observerproto"
	"voxelinv.ai/internal/sim/inventory"
)

func readObs(t *testing.T, ch chan []byte) []observerproto.TickMsg {
	t.Helper()
	var out []observerproto.TickMsg
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return out
			}
			var m observerproto.TickMsg
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("decode: %v", err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestObserver_FullThenDelta(t *testing.T) {
	w := newTestWorld(t, nil)
	ch := make(chan []byte, 8)
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", TickOut: ch, Audits: true})

	r, out := join(t, w, "bot", "")
	drain(t, out)
	msgs := readObs(t, ch)
	if len(msgs) != 1 {
		t.Fatalf("messages=%d want 1", len(msgs))
	}
	first := msgs[0]
	if !first.Full || first.Type != observerproto.TypeTick || first.Tick != 0 {
		t.Fatalf("first message: %+v", first)
	}
	if len(first.Inventories) != 3 || len(first.Joins) != 1 || first.Joins[0].AgentID != "A1" {
		t.Fatalf("first message inventories=%d joins=%+v", len(first.Inventories), first.Joins)
	}
	if len(first.Agents) != 1 || !first.Agents[0].Connected {
		t.Fatalf("agents=%+v", first.Agents)
	}

	id := r.Welcome.AgentID
	w.StepOnce(nil, nil, []IntentEnvelope{
		intent(id, 1, inventory.Amount("", "P:A1", 0, "P:A1", 2, 4)),
	})
	msgs = readObs(t, ch)
	if len(msgs) != 1 {
		t.Fatalf("messages=%d want 1", len(msgs))
	}
	m := msgs[0]
	if m.Full || len(m.Inventories) != 1 || m.Inventories[0].ID != "P:A1" {
		t.Fatalf("delta: full=%v inventories=%+v", m.Full, m.Inventories)
	}
	if len(m.Intents) != 1 || !m.Intents[0].Applied || m.Intents[0].Kind != "amount" {
		t.Fatalf("intents=%+v", m.Intents)
	}
	if len(m.Audits) == 0 {
		t.Fatalf("expected audits")
	}
	if m.Digest == "" {
		t.Fatalf("missing digest")
	}
}

func TestObserver_FilterAndResyncAfterDrop(t *testing.T) {
	w := newTestWorld(t, nil)
	ch := make(chan []byte, 1)
	w.handleObserverJoin(ObserverJoinRequest{SessionID: "O1", TickOut: ch, Inventories: []string{"CHEST:TEST"}})

	w.StepOnce(nil, nil, nil)
	msgs := readObs(t, ch)
	if len(msgs) != 1 || !msgs[0].Full || len(msgs[0].Inventories) != 1 || msgs[0].Inventories[0].ID != "CHEST:TEST" {
		t.Fatalf("filtered full: %+v", msgs)
	}
	if msgs[0].Audits != nil {
		t.Fatalf("audits not requested")
	}

	// Two ticks into a queue of one evicts a message, so the next tick
	// carries the full set again.
	w.StepOnce(nil, nil, nil)
	w.StepOnce(nil, nil, nil)
	readObs(t, ch)
	w.StepOnce(nil, nil, nil)
	msgs = readObs(t, ch)
	if len(msgs) != 1 || !msgs[0].Full {
		t.Fatalf("expected resync after drop: %+v", msgs)
	}

	w.handleObserverSubscribe(ObserverSubscribeRequest{SessionID: "O1"})
	w.StepOnce(nil, nil, nil)
	msgs = readObs(t, ch)
	if len(msgs) != 1 || !msgs[0].Full || len(msgs[0].Inventories) != 1 {
		t.Fatalf("resubscribe: %+v", msgs)
	}

	w.handleObserverLeave("O1")
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}
