package worldtest

import (
	"encoding/json"
	"fmt"
	"sort"
	"testing"

	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/encoding"
	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
	"voxelinv.ai/internal/sim/predict"
	world "voxelinv.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - Join() issues JoinRequest via StepOnce() and attaches a predicting client
// - intents issued on a client go through the wire codec and the schemas
// - Step() applies queued intents and feeds INV_STATE/INV_ACK back to clients
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World

	clients map[string]*Client
	queued  []world.IntentEnvelope
}

// Client is one connected session with its prediction mirror.
type Client struct {
	AgentID string
	Welcome protocol.WelcomeMsg
	Mirror  *predict.Mirror
	Events  *inventory.Recorder
	Done    <-chan struct{}
	Acks    []protocol.InvAckMsg

	out chan []byte
}

func NewHarness(t *testing.T, cfg world.WorldConfig, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	w, err := world.New(cfg, cats)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w, cats)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported before join.
func NewHarnessWithWorld(t *testing.T, w *world.World, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	return &Harness{T: t, Cats: cats, W: w, clients: map[string]*Client{}}
}

func (h *Harness) Join(name string) *Client {
	return h.Resume(name, "")
}

// Resume joins with a resume token. An empty token creates a new agent.
func (h *Harness) Resume(name, token string) *Client {
	h.T.Helper()

	out := make(chan []byte, 256)
	resp := make(chan world.JoinResponse, 1)
	_, _ = h.W.StepOnce([]world.JoinRequest{{Name: name, ResumeToken: token, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Err != "" || jr.Welcome.AgentID == "" {
		h.T.Fatalf("join %s: %q", name, jr.Err)
	}

	c := &Client{AgentID: jr.Welcome.AgentID, Welcome: jr.Welcome, Events: &inventory.Recorder{}, Done: jr.Done, out: out}
	bus := inventory.NewBus()
	bus.Subscribe(c.Events)
	cfg := predict.Config{MaxPending: jr.Welcome.Prediction.MaxPending, MaxAgeTicks: jr.Welcome.Prediction.MaxAgeTicks}
	c.Mirror = predict.New(nil, nil, bus, predict.SenderFunc(func(changeID uint64, in inventory.Intent) error {
		return h.send(c.AgentID, changeID, in)
	}), cfg, nil)
	h.clients[c.AgentID] = c
	h.drain()
	return c
}

// send encodes the intent the way a remote client would and queues the
// decoded envelope for the next Step.
func (h *Harness) send(agentID string, changeID uint64, in inventory.Intent) error {
	msg, err := encoding.IntentToWire(changeID, in)
	if err != nil {
		return err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	base, err := protocol.Validate(b)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	id, decoded, err := encoding.IntentFromWire(base.Type, b)
	if err != nil {
		return err
	}
	h.queued = append(h.queued, world.IntentEnvelope{AgentID: agentID, ChangeID: id, Intent: decoded})
	return nil
}

// Leave detaches a client at the next tick boundary.
func (h *Harness) Leave(c *Client) {
	h.T.Helper()
	delete(h.clients, c.AgentID)
	_, _ = h.W.StepOnce(nil, []string{c.AgentID}, nil)
	h.drain()
}

// Step runs one tick with everything clients sent since the last one.
func (h *Harness) Step() string {
	h.T.Helper()
	envs := h.queued
	h.queued = nil
	_, digest := h.W.StepOnce(nil, nil, envs)
	h.drain()
	for _, c := range h.clients {
		c.Mirror.Advance()
	}
	return digest
}

func (h *Harness) drain() {
	h.T.Helper()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.drainClient(h.clients[id])
	}
}

func (h *Harness) drainClient(c *Client) {
	h.T.Helper()
	for {
		var b []byte
		select {
		case b = <-c.out:
		default:
			return
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			h.T.Fatalf("decode: %v", err)
		}
		switch base.Type {
		case protocol.TypeInvState:
			var msg protocol.InvStateMsg
			if err := json.Unmarshal(b, &msg); err != nil {
				h.T.Fatalf("unmarshal INV_STATE: %v", err)
			}
			states, err := encoding.InventoriesFromWire(msg.Inventories)
			if err != nil {
				h.T.Fatalf("INV_STATE: %v", err)
			}
			if err := c.Mirror.ApplyState(states); err != nil {
				h.T.Fatalf("apply state: %v", err)
			}
		case protocol.TypeInvAck:
			var ack protocol.InvAckMsg
			if err := json.Unmarshal(b, &ack); err != nil {
				h.T.Fatalf("unmarshal INV_ACK: %v", err)
			}
			c.Acks = append(c.Acks, ack)
			c.Mirror.Acknowledge(ack.ChangeID)
		default:
			h.T.Fatalf("unexpected message %s", base.Type)
		}
	}
}

func (h *Harness) Snapshot() (tick uint64, snap snapshot.SnapshotV1) {
	h.T.Helper()
	// Keep tick stable: export at currentTick-1 then import would restore to currentTick.
	cur := h.W.CurrentTick()
	if cur == 0 {
		return 0, h.W.ExportSnapshot(0)
	}
	tick = cur - 1
	return tick, h.W.ExportSnapshot(tick)
}

// Authoritative returns the server's content of inv.
func (h *Harness) Authoritative(inv string) []snapshot.ItemV1 {
	h.T.Helper()
	_, snap := h.Snapshot()
	for _, c := range snap.Containers {
		if c.ID == inv {
			return c.Slots
		}
	}
	h.T.Fatalf("no container %s", inv)
	return nil
}

// AssertConverged checks that the client's view of inv matches the server.
func (h *Harness) AssertConverged(c *Client, inv string) {
	h.T.Helper()
	want := h.Authoritative(inv)
	got := c.Mirror.View().Export(inventory.ID(inv))
	if len(got) != 1 {
		h.T.Fatalf("%s: client has no %s", c.AgentID, inv)
	}
	if len(got[0].Slots) != len(want) {
		h.T.Fatalf("%s %s: %d slots, server has %d", c.AgentID, inv, len(got[0].Slots), len(want))
	}
	for i, st := range got[0].Slots {
		w := want[i]
		if uint64(st.ID) != w.ID || st.Count != w.Count || st.StackID != w.StackID {
			h.T.Fatalf("%s %s slot %d: client %d x%d, server %d x%d", c.AgentID, inv, i, st.ID, st.Count, w.ID, w.Count)
		}
	}
}

// Count reads a slot from the client's predicted view.
func (c *Client) Count(inv string, slot int) int32 {
	id := c.Mirror.ItemInSlot(inventory.ID(inv), slot)
	if id == item.NoID {
		return 0
	}
	return c.Mirror.StackSize(id)
}

func (c *Client) LastAck() protocol.InvAckMsg {
	if len(c.Acks) == 0 {
		return protocol.InvAckMsg{}
	}
	return c.Acks[len(c.Acks)-1]
}
