// Package encoding converts between inventory engine values and their wire
// form in internal/protocol.
package encoding

import (
	"encoding/json"
	"fmt"

	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
)

// InventoriesToWire converts exported container states. Empty slots become
// nil.
func InventoriesToWire(states []inventory.ContainerState) []protocol.InventoryState {
	out := make([]protocol.InventoryState, 0, len(states))
	for _, cs := range states {
		ws := protocol.InventoryState{ID: string(cs.ID), Owner: cs.Owner, Slots: make([]*protocol.ItemStack, len(cs.Slots))}
		for i, st := range cs.Slots {
			if st.ID == item.NoID {
				continue
			}
			ws.Slots[i] = &protocol.ItemStack{
				ID:         uint64(st.ID),
				StackID:    st.StackID,
				Count:      st.Count,
				MaxCount:   st.MaxCount,
				Attributes: item.Attributes(st.Attributes).Clone(),
			}
		}
		out = append(out, ws)
	}
	return out
}

// InventoriesFromWire is the inverse of InventoriesToWire. It rejects stacks
// that break the count bounds or reuse an id.
func InventoriesFromWire(in []protocol.InventoryState) ([]inventory.ContainerState, error) {
	out := make([]inventory.ContainerState, 0, len(in))
	seen := map[uint64]string{}
	for _, ws := range in {
		if ws.ID == "" {
			return nil, fmt.Errorf("inventory: missing id")
		}
		cs := inventory.ContainerState{ID: inventory.ID(ws.ID), Owner: ws.Owner, Slots: make([]item.Stack, len(ws.Slots))}
		for i, st := range ws.Slots {
			if st == nil {
				continue
			}
			if st.ID == 0 || item.ID(st.ID).IsLocal() {
				return nil, fmt.Errorf("inventory %s slot %d: invalid item id %d", ws.ID, i, st.ID)
			}
			if st.Count <= 0 || st.Count > st.MaxCount {
				return nil, fmt.Errorf("inventory %s slot %d: count %d outside [1,%d]", ws.ID, i, st.Count, st.MaxCount)
			}
			if prev, dup := seen[st.ID]; dup {
				return nil, fmt.Errorf("inventory %s slot %d: item %d already in %s", ws.ID, i, st.ID, prev)
			}
			seen[st.ID] = ws.ID
			cs.Slots[i] = item.Stack{
				ID:         item.ID(st.ID),
				StackID:    st.StackID,
				Count:      st.Count,
				MaxCount:   st.MaxCount,
				Attributes: item.Attributes(st.Attributes).Clone(),
			}
		}
		out = append(out, cs)
	}
	return out, nil
}

// IntentToWire builds the request message for an intent.
func IntentToWire(changeID uint64, in inventory.Intent) (any, error) {
	h := protocol.IntentHeader{
		ProtocolVersion: protocol.Version,
		ChangeID:        changeID,
		Instigator:      string(in.Instigator),
		From:            string(in.From),
		FromSlot:        in.FromSlot,
		To:              string(in.To),
	}
	switch in.Kind {
	case inventory.IntentSwap:
		h.Type = protocol.TypeMoveItem
		return protocol.MoveItemMsg{IntentHeader: h, ToSlot: in.ToSlot}, nil
	case inventory.IntentAmount:
		h.Type = protocol.TypeMoveItemAmount
		return protocol.MoveItemAmountMsg{IntentHeader: h, ToSlot: in.ToSlot, Amount: in.Amount}, nil
	case inventory.IntentDistribute:
		h.Type = protocol.TypeMoveItemToSlots
		return protocol.MoveItemToSlotsMsg{IntentHeader: h, ToSlots: append([]int(nil), in.ToSlots...)}, nil
	default:
		return nil, fmt.Errorf("encode intent: %w", inventory.ErrUnknownIntent)
	}
}

// IntentFromWire decodes a move request of type typ.
func IntentFromWire(typ string, b []byte) (uint64, inventory.Intent, error) {
	switch typ {
	case protocol.TypeMoveItem:
		var m protocol.MoveItemMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return 0, inventory.Intent{}, fmt.Errorf("%s: %w", typ, err)
		}
		h := m.IntentHeader
		return h.ChangeID, inventory.Swap(inventory.Instigator(h.Instigator), inventory.ID(h.From), h.FromSlot, inventory.ID(h.To), m.ToSlot), nil
	case protocol.TypeMoveItemAmount:
		var m protocol.MoveItemAmountMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return 0, inventory.Intent{}, fmt.Errorf("%s: %w", typ, err)
		}
		h := m.IntentHeader
		return h.ChangeID, inventory.Amount(inventory.Instigator(h.Instigator), inventory.ID(h.From), h.FromSlot, inventory.ID(h.To), m.ToSlot, m.Amount), nil
	case protocol.TypeMoveItemToSlots:
		var m protocol.MoveItemToSlotsMsg
		if err := json.Unmarshal(b, &m); err != nil {
			return 0, inventory.Intent{}, fmt.Errorf("%s: %w", typ, err)
		}
		h := m.IntentHeader
		return h.ChangeID, inventory.Distribute(inventory.Instigator(h.Instigator), inventory.ID(h.From), h.FromSlot, inventory.ID(h.To), m.ToSlots), nil
	default:
		return 0, inventory.Intent{}, fmt.Errorf("decode intent %q: %w", typ, inventory.ErrUnknownIntent)
	}
}
