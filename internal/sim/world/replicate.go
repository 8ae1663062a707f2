package world

import (
	"encoding/json"
	"sort"

	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/encoding"
	"voxelinv.ai/internal/sim/inventory"
)

// takeDirty returns the containers changed this tick in id order and resets
// the change set.
func (w *World) takeDirty() []inventory.ID {
	var dirty []inventory.ID
	for _, id := range w.state.IDs() {
		if w.dirty[id] {
			dirty = append(dirty, id)
		}
	}
	w.dirty = map[inventory.ID]bool{}
	return dirty
}

// replicate sends each client the containers changed this tick, followed by
// the acknowledgements of its intents. A client therefore always holds the
// authoritative state an ack refers to before it sees the ack.
func (w *World) replicate(nowTick uint64, dirty []inventory.ID) {

	for _, agentID := range w.clientIDs() {
		cl := w.clients[agentID]
		if cl == nil {
			continue
		}
		var visible []inventory.ID
		for _, id := range dirty {
			if w.canAccess(agentID, id) {
				visible = append(visible, id)
			}
		}
		acks := cl.acks
		cl.acks = nil
		if cl.Out == nil {
			continue
		}
		if len(visible) > 0 && !w.sendState(agentID, cl, nowTick, visible) {
			continue
		}
		for _, a := range acks {
			b, err := json.Marshal(protocol.InvAckMsg{
				Type:            protocol.TypeInvAck,
				ProtocolVersion: protocol.Version,
				Tick:            nowTick,
				ChangeID:        a.ChangeID,
				Applied:         a.Applied,
				Code:            a.Code,
				Message:         a.Message,
			})
			if err != nil {
				continue
			}
			if !w.trySend(agentID, cl, b) {
				break
			}
		}
	}
}

func (w *World) sendState(agentID string, cl *clientState, nowTick uint64, ids []inventory.ID) bool {
	b, err := json.Marshal(protocol.InvStateMsg{
		Type:            protocol.TypeInvState,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		Inventories:     encoding.InventoriesToWire(w.state.Export(ids...)),
	})
	if err != nil {
		return false
	}
	return w.trySend(agentID, cl, b)
}

func (w *World) clientIDs() []string {
	ids := make([]string, 0, len(w.clients))
	for id := range w.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
