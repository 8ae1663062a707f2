package world

import (
	"sort"

	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/item"
)

func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	s := snapshot.SnapshotV1{
		Header:             snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Tick: nowTick},
		TickRate:           w.cfg.TickRateHz,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		PlayerSlots:        w.cfg.PlayerSlots,
		TransferSlots:      w.cfg.TransferSlots,
		ItemPaletteDigest:  w.catalogs.Items.PaletteDigest,
		Counters: snapshot.CountersV1{
			NextAgent: w.nextAgentNum.Load(),
			NextItem:  uint64(w.items.Peek()),
		},
	}

	ids := make([]string, 0, len(w.agents))
	for id := range w.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := w.agents[id]
		s.Agents = append(s.Agents, snapshot.AgentV1{
			ID:          a.ID,
			Name:        a.Name,
			ResumeToken: a.ResumeToken,
			Inventory:   string(a.Inventory),
			Transfer:    string(a.Transfer),
		})
	}

	for _, cs := range w.state.Export() {
		c := snapshot.ContainerV1{ID: string(cs.ID), Owner: cs.Owner, Slots: make([]snapshot.ItemV1, len(cs.Slots))}
		for i, st := range cs.Slots {
			if st.ID == item.NoID {
				continue
			}
			c.Slots[i] = snapshot.ItemV1{
				ID:         uint64(st.ID),
				StackID:    st.StackID,
				Count:      st.Count,
				MaxCount:   st.MaxCount,
				Attributes: st.Attributes.Clone(),
			}
		}
		s.Containers = append(s.Containers, c)
	}
	return s
}
