package inventory

import (
	"math"

	"voxelinv.ai/internal/sim/item"
)

// RemoveOptions control RemoveItem and friends.
type RemoveOptions struct {
	// Destroy discards the removed items instead of handing them back.
	Destroy bool
	// Count limits how many items are removed; zero removes the whole
	// referenced stacks.
	Count int32
}

// RemoveItem takes id out of inv. It returns the removed entity (NoID when
// opts.Destroy is set) and whether the removal happened.
func (e *Engine) RemoveItem(inv ID, instigator Instigator, id item.ID, opts RemoveOptions) (item.ID, bool) {
	return e.RemoveItems(inv, instigator, []item.ID{id}, opts)
}

// RemoveItems removes from several stacks of the same item, in the given
// order. When the removed amount spans multiple stacks the first fully
// emptied stack is returned, carrying the total count.
func (e *Engine) RemoveItems(inv ID, instigator Instigator, ids []item.ID, opts RemoveOptions) (item.ID, bool) {
	c := e.container(inv)
	if len(ids) == 0 {
		return item.NoID, false
	}
	first, ok := e.state.items.Get(ids[0])
	if !ok {
		return item.NoID, false
	}

	var (
		slots []int
		total int32
		seen  = map[item.ID]struct{}{}
	)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		st, ok := e.state.items.Get(id)
		if !ok || (id != first.ID && !item.IsSameItem(first, st)) {
			return item.NoID, false
		}
		slot := e.FindSlotWithItem(inv, id)
		if slot < 0 {
			return item.NoID, false
		}
		if st.Count > math.MaxInt32-total {
			return item.NoID, false
		}
		slots = append(slots, slot)
		total += st.Count
	}

	n := opts.Count
	if n == 0 {
		n = total
	}
	return e.removeFromSlots(c, instigator, slots, n, opts.Destroy)
}

// RemoveFromSlot removes from whatever stack occupies slot.
func (e *Engine) RemoveFromSlot(inv ID, instigator Instigator, slot int, opts RemoveOptions) (item.ID, bool) {
	c := e.container(inv)
	st, ok := e.stackAt(c, slot)
	if !ok {
		return item.NoID, false
	}
	n := opts.Count
	if n == 0 {
		n = st.Count
	}
	if st.Count < n {
		return item.NoID, false
	}
	return e.removeFromSlots(c, instigator, []int{slot}, n, opts.Destroy)
}

func (e *Engine) removeFromSlots(c *Container, instigator Instigator, slots []int, n int32, destroy bool) (item.ID, bool) {
	if n <= 0 {
		return item.NoID, false
	}

	var (
		consumed []item.Stack
		slotOf   = map[item.ID]int{}
		shrink   item.Stack
		shrinkAt = -1
		shrinkTo int32
		left     = n
	)
	for _, s := range slots {
		st, ok := e.stackAt(c, s)
		if !ok {
			continue
		}
		if st.Count <= left {
			consumed = append(consumed, st)
			slotOf[st.ID] = s
			left -= st.Count
		} else {
			shrink, shrinkAt, shrinkTo = st, s, st.Count-left
			left = 0
		}
		if left == 0 {
			break
		}
	}
	if left > 0 {
		return item.NoID, false
	}

	for _, st := range consumed {
		if !e.hooks.allowRemove(RemoveCheck{Instigator: instigator, Inventory: c.id, Item: st.ID, Slot: slotOf[st.ID], Count: st.Count}) {
			return item.NoID, false
		}
	}
	if shrinkAt >= 0 && !e.hooks.allowRemove(RemoveCheck{Instigator: instigator, Inventory: c.id, Item: shrink.ID, Slot: shrinkAt, Count: shrink.Count - shrinkTo}) {
		return item.NoID, false
	}

	removed := item.NoID
	var removedCount int32
	for _, st := range consumed {
		removedCount += st.Count
		e.putItemIntoSlot(c, item.NoID, slotOf[st.ID])
		if destroy || removed != item.NoID {
			e.state.items.Destroy(st.ID)
		} else {
			removed = st.ID
		}
	}
	if shrinkAt >= 0 {
		removedCount += shrink.Count - shrinkTo
		if !destroy && removed == item.NoID {
			removed, _ = e.state.items.Copy(shrink.ID)
		}
		e.adjustStackSize(c, shrinkAt, shrinkTo)
	}
	if removed != item.NoID {
		e.state.items.SetCount(removed, removedCount)
	}
	return removed, true
}
