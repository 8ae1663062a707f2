package world

import "voxelinv.ai/internal/sim/inventory"

func (w *World) onSlotChanged(ev inventory.SlotChanged) {
	w.dirty[ev.Inventory] = true
	w.audits = append(w.audits, AuditEntry{
		Tick:      w.tick.Load(),
		Actor:     w.actor,
		Action:    "SLOT_CHANGED",
		Inventory: string(ev.Inventory),
		Slot:      ev.Slot,
		FromItem:  uint64(ev.Old),
		ToItem:    uint64(ev.New),
	})
}

func (w *World) onStackSizeChanged(ev inventory.StackSizeChanged) {
	w.dirty[ev.Inventory] = true
	w.audits = append(w.audits, AuditEntry{
		Tick:      w.tick.Load(),
		Actor:     w.actor,
		Action:    "STACK_SIZE",
		Inventory: string(ev.Inventory),
		Slot:      ev.Slot,
		Item:      uint64(ev.Item),
		FromCount: ev.Old,
		ToCount:   ev.New,
	})
}

func (w *World) flushAudits() {
	if w.auditLogger == nil {
		return
	}
	for _, e := range w.audits {
		_ = w.auditLogger.WriteAudit(e)
	}
}
