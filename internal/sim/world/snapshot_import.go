package world

import (
	"fmt"

	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
)

// ImportSnapshot replaces the current in-memory world state with the snapshot.
// It sets the world's tick to snapshotTick+1 (the next tick to simulate).
//
// This must be called only when the world is stopped or from the world loop goroutine.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if s.Header.WorldID != "" && s.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world mismatch: cfg=%s snap=%s", w.cfg.ID, s.Header.WorldID)
	}
	if s.PlayerSlots != 0 && s.PlayerSlots != w.cfg.PlayerSlots {
		return fmt.Errorf("snapshot player_slots mismatch: cfg=%d snap=%d", w.cfg.PlayerSlots, s.PlayerSlots)
	}
	if s.SnapshotEveryTicks > 0 {
		w.cfg.SnapshotEveryTicks = s.SnapshotEveryTicks
	}

	states := make([]inventory.ContainerState, 0, len(s.Containers))
	for _, c := range s.Containers {
		cs := inventory.ContainerState{ID: inventory.ID(c.ID), Owner: c.Owner, Slots: make([]item.Stack, len(c.Slots))}
		for i, it := range c.Slots {
			if it.ID == 0 {
				continue
			}
			if it.Count <= 0 || it.Count > it.MaxCount {
				return fmt.Errorf("snapshot %s slot %d: count %d outside [1,%d]", c.ID, i, it.Count, it.MaxCount)
			}
			cs.Slots[i] = item.Stack{
				ID:         item.ID(it.ID),
				StackID:    it.StackID,
				Count:      it.Count,
				MaxCount:   it.MaxCount,
				Attributes: item.Attributes(it.Attributes).Clone(),
			}
		}
		states = append(states, cs)
	}

	seq := item.NewSequence(1)
	fresh := inventory.NewState(item.NewStore(seq))
	if err := fresh.Import(states); err != nil {
		return fmt.Errorf("snapshot import: %w", err)
	}
	if s.Counters.NextItem > 0 {
		seq.Advance(item.ID(s.Counters.NextItem - 1))
	}

	agents := make(map[string]*Agent, len(s.Agents))
	for _, a := range s.Agents {
		if _, ok := fresh.Container(inventory.ID(a.Inventory)); !ok {
			return fmt.Errorf("snapshot agent %s: missing inventory %s", a.ID, a.Inventory)
		}
		agents[a.ID] = &Agent{
			ID:          a.ID,
			Name:        a.Name,
			ResumeToken: a.ResumeToken,
			Inventory:   inventory.ID(a.Inventory),
			Transfer:    inventory.ID(a.Transfer),
		}
	}

	w.state.Reset(fresh)
	w.items = seq
	w.agents = agents
	w.clients = map[string]*clientState{}
	// Shared containers configured after the snapshot was taken start fresh.
	for _, sc := range w.cfg.SharedContainers {
		if _, ok := w.state.Container(inventory.ID(sc.ID)); ok {
			continue
		}
		if err := w.addContainer(inventory.ID(sc.ID), "", sc.Slots, sc.Items); err != nil {
			return err
		}
	}
	w.dirty = map[inventory.ID]bool{}
	w.audits = w.audits[:0]
	w.nextAgentNum.Store(s.Counters.NextAgent)
	w.tick.Store(s.Header.Tick + 1)
	return nil
}
