package world

import (
	"encoding/json"
	"testing"

	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/inventory"
)

func testConfig() WorldConfig {
	return WorldConfig{
		ID:                 "test",
		TickRateHz:         5,
		SnapshotEveryTicks: 10,
		PlayerSlots:        4,
		TransferSlots:      1,
		StarterItems:       []ItemCount{{Item: "WOOD", Count: 10}, {Item: "STONE", Count: 5}},
		SharedContainers: []SharedContainerConfig{
			{ID: "CHEST:TEST", Slots: 2, Items: []ItemCount{{Item: "WOOD", Count: 60}}},
		},
		MaxPending:     64,
		MaxAgeTicks:    600,
		IntentsPerTick: 4,
	}
}

func newTestWorld(t *testing.T, mutate func(*WorldConfig)) *World {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := New(cfg, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

type message struct {
	Type string
	Raw  []byte
}

func (m message) ack(t *testing.T) protocol.InvAckMsg {
	t.Helper()
	var a protocol.InvAckMsg
	if m.Type != protocol.TypeInvAck {
		t.Fatalf("expected INV_ACK, got %s", m.Type)
	}
	if err := json.Unmarshal(m.Raw, &a); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return a
}

func (m message) state(t *testing.T) protocol.InvStateMsg {
	t.Helper()
	var s protocol.InvStateMsg
	if m.Type != protocol.TypeInvState {
		t.Fatalf("expected INV_STATE, got %s", m.Type)
	}
	if err := json.Unmarshal(m.Raw, &s); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return s
}

func drain(t *testing.T, out chan []byte) []message {
	t.Helper()
	var msgs []message
	for {
		select {
		case b := <-out:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			msgs = append(msgs, message{Type: base.Type, Raw: b})
		default:
			return msgs
		}
	}
}

func join(t *testing.T, w *World, name, token string) (JoinResponse, chan []byte) {
	t.Helper()
	out := make(chan []byte, 64)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: name, ResumeToken: token, Out: out, Resp: resp}}, nil, nil)
	r := <-resp
	if r.Err != "" {
		t.Fatalf("join %s: %s", name, r.Err)
	}
	return r, out
}

func intent(agentID string, changeID uint64, in inventory.Intent) IntentEnvelope {
	return IntentEnvelope{AgentID: agentID, ChangeID: changeID, Intent: in}
}

func slotCount(t *testing.T, w *World, inv inventory.ID, slot int) int32 {
	t.Helper()
	eng := w.service.Engine()
	id := eng.ItemInSlot(inv, slot)
	if id == 0 {
		return 0
	}
	return eng.StackSize(id)
}
