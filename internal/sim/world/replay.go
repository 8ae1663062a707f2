package world

import (
	"fmt"

	"voxelinv.ai/internal/sim/inventory"
)

// Intent rebuilds the move request of a logged intent.
func (r RecordedIntent) Intent() (inventory.Intent, error) {
	inst := agentInstigator(r.AgentID)
	from, to := inventory.ID(r.From), inventory.ID(r.To)
	switch r.Kind {
	case inventory.IntentSwap.String():
		return inventory.Swap(inst, from, r.FromSlot, to, r.ToSlot), nil
	case inventory.IntentAmount.String():
		return inventory.Amount(inst, from, r.FromSlot, to, r.ToSlot, r.Amount), nil
	case inventory.IntentDistribute.String():
		return inventory.Distribute(inst, from, r.FromSlot, to, r.ToSlots), nil
	default:
		return inventory.Intent{}, fmt.Errorf("intent kind %q: %w", r.Kind, inventory.ErrUnknownIntent)
	}
}

// ReplayTick re-executes a logged tick against the current state and returns
// the resulting digest. Session checks (change ids, budgets, access) were
// decided when the tick was logged, so only applied intents are re-run, and
// each must apply again.
func (w *World) ReplayTick(entry TickLogEntry) (string, error) {
	nowTick := w.tick.Load()
	if entry.Tick != nowTick {
		return "", fmt.Errorf("replay: entry tick %d, world at %d", entry.Tick, nowTick)
	}
	w.audits = w.audits[:0]

	for _, id := range entry.Leaves {
		if _, ok := w.agents[id]; !ok {
			return "", fmt.Errorf("replay tick %d: leave of unknown agent %s", nowTick, id)
		}
		w.handleLeave(id)
	}
	for _, j := range entry.Joins {
		if j.Resumed {
			if _, ok := w.agents[j.AgentID]; !ok {
				return "", fmt.Errorf("replay tick %d: resume of unknown agent %s", nowTick, j.AgentID)
			}
			continue
		}
		a, err := w.createAgent(j.Name)
		if err != nil {
			return "", fmt.Errorf("replay tick %d: join %s: %w", nowTick, j.Name, err)
		}
		if a.ID != j.AgentID {
			return "", fmt.Errorf("replay tick %d: join created %s, log has %s", nowTick, a.ID, j.AgentID)
		}
	}
	for _, ri := range entry.Intents {
		if !ri.Applied {
			continue
		}
		in, err := ri.Intent()
		if err != nil {
			return "", fmt.Errorf("replay tick %d: %w", nowTick, err)
		}
		w.actor = ri.AgentID
		res := w.service.Handle(ri.ChangeID, in)
		w.actor = ""
		if !res.Applied {
			return "", fmt.Errorf("replay tick %d: change %d of %s no longer applies: %v", nowTick, ri.ChangeID, ri.AgentID, res.Err)
		}
	}

	w.audits = w.audits[:0]
	w.dirty = map[inventory.ID]bool{}
	digest := w.stateDigest(nowTick)
	w.tick.Add(1)
	return digest, nil
}
