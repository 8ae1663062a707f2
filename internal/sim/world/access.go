package world

import "voxelinv.ai/internal/sim/inventory"

func playerInventoryID(agentID string) inventory.ID   { return inventory.ID("P:" + agentID) }
func transferInventoryID(agentID string) inventory.ID { return inventory.ID("T:" + agentID) }

func agentInstigator(agentID string) inventory.Instigator { return inventory.Instigator(agentID) }

// canAccess reports whether agentID may read and mutate inv. Agents own
// their player and transfer inventories; ownerless containers are shared.
func (w *World) canAccess(agentID string, inv inventory.ID) bool {
	c, ok := w.state.Container(inv)
	if !ok {
		return false
	}
	return c.Owner() == "" || c.Owner() == agentID
}

// ownershipOutcome backs the validation hooks. Mutations without an
// instigator come from the world itself.
func (w *World) ownershipOutcome(instigator inventory.Instigator, inv inventory.ID) inventory.Outcome {
	if instigator == "" || w.canAccess(string(instigator), inv) {
		return inventory.Proceed
	}
	return inventory.Reject
}

// accessible lists the containers agentID can see, sorted.
func (w *World) accessible(agentID string) []inventory.ID {
	var out []inventory.ID
	for _, id := range w.state.IDs() {
		if w.canAccess(agentID, id) {
			out = append(out, id)
		}
	}
	return out
}
