package world

import (
	"encoding/json"
	"sort"

	"voxelinv.ai/internal/observerproto"
	"voxelinv.ai/internal/sim/encoding"
	"voxelinv.ai/internal/sim/inventory"
)

// ObserverJoinRequest registers a read-only observer session. Observers see
// every container regardless of ownership and never send intents.
//
// All observer state is maintained by the world loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	Inventories []string
	Audits      bool
}

// ObserverSubscribeRequest replaces the subscription of an existing observer.
type ObserverSubscribeRequest struct {
	SessionID   string
	Inventories []string
	Audits      bool
}

type observerClient struct {
	id      string
	tickOut chan []byte

	filter map[inventory.ID]bool
	audits bool

	// resync asks for a full container send on the next tick, after a join,
	// a subscription change or a dropped message.
	resync bool
}

func (c *observerClient) wants(id inventory.ID) bool {
	return len(c.filter) == 0 || c.filter[id]
}

func observerFilter(ids []string) map[inventory.ID]bool {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[inventory.ID]bool, len(ids))
	for _, id := range ids {
		out[inventory.ID(id)] = true
	}
	return out
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.obsJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.obsSub }
func (w *World) ObserverLeave() chan<- string                       { return w.obsLeave }

// ItemPalette returns the item ids known to this world.
func (w *World) ItemPalette() []string {
	p := w.catalogs.Items.Palette
	out := make([]string, len(p))
	copy(out, p)
	return out
}

func (w *World) ItemDigest() string { return w.catalogs.Items.PaletteDigest }

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		filter:  observerFilter(req.Inventories),
		audits:  req.Audits,
		resync:  true,
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.filter = observerFilter(req.Inventories)
	c.audits = req.Audits
	c.resync = true
}

func (w *World) handleObserverLeave(sessionID string) {
	c := w.observers[sessionID]
	if c == nil {
		return
	}
	delete(w.observers, sessionID)
	close(c.tickOut)
}

func (w *World) stepObservers(entry TickLogEntry, changed []inventory.ID) {
	if len(w.observers) == 0 {
		return
	}

	agentIDs := make([]string, 0, len(w.agents))
	for id := range w.agents {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)
	agents := make([]observerproto.AgentState, 0, len(agentIDs))
	for _, id := range agentIDs {
		a := w.agents[id]
		agents = append(agents, observerproto.AgentState{
			ID:        a.ID,
			Name:      a.Name,
			Connected: w.clients[a.ID] != nil,
			Inventory: string(a.Inventory),
			Transfer:  string(a.Transfer),
		})
	}

	joins := make([]observerproto.JoinInfo, 0, len(entry.Joins))
	for _, j := range entry.Joins {
		joins = append(joins, observerproto.JoinInfo{AgentID: j.AgentID, Name: j.Name, Resumed: j.Resumed})
	}
	intents := make([]observerproto.IntentInfo, 0, len(entry.Intents))
	for _, in := range entry.Intents {
		intents = append(intents, observerproto.IntentInfo{
			AgentID:  in.AgentID,
			ChangeID: in.ChangeID,
			Kind:     in.Kind,
			From:     in.From,
			To:       in.To,
			Applied:  in.Applied,
			Code:     in.Code,
		})
	}

	// A joining agent's containers are handed to its own session in full
	// and never marked changed, so observers get them here.
	seen := make(map[inventory.ID]bool, len(changed))
	for _, id := range changed {
		seen[id] = true
	}
	for _, j := range entry.Joins {
		if a := w.agents[j.AgentID]; a != nil {
			seen[a.Inventory] = true
			seen[a.Transfer] = true
		}
	}
	delta := make([]inventory.ID, 0, len(seen))
	for id := range seen {
		delta = append(delta, id)
	}
	sort.Slice(delta, func(i, j int) bool { return delta[i] < delta[j] })

	for _, c := range w.observers {
		msg := observerproto.TickMsg{
			Type:            observerproto.TypeTick,
			ProtocolVersion: observerproto.Version,
			Tick:            entry.Tick,
			Digest:          entry.Digest,
			Agents:          agents,
			Joins:           joins,
			Leaves:          entry.Leaves,
			Intents:         intents,
		}
		if c.audits {
			for _, e := range w.audits {
				if !c.wants(inventory.ID(e.Inventory)) {
					continue
				}
				msg.Audits = append(msg.Audits, observerproto.AuditEntry{
					Tick:      e.Tick,
					Actor:     e.Actor,
					Action:    e.Action,
					Inventory: e.Inventory,
					Slot:      e.Slot,
					FromItem:  e.FromItem,
					ToItem:    e.ToItem,
					FromCount: e.FromCount,
					ToCount:   e.ToCount,
				})
			}
		}

		src := delta
		if c.resync {
			src = w.state.IDs()
			msg.Full = true
		}
		var ids []inventory.ID
		for _, id := range src {
			if c.wants(id) {
				if _, ok := w.state.Container(id); ok {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) > 0 {
			msg.Inventories = encoding.InventoriesToWire(w.state.Export(ids...))
		}

		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		c.resync = !sendLatest(c.tickOut, b)
	}
}

// sendLatest enqueues b, evicting the oldest queued message when the queue
// is full. It reports whether nothing was evicted.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}
