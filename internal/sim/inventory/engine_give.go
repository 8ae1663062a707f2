package inventory

import "voxelinv.ai/internal/sim/item"

// GiveItem places a free-floating item into inv, merging into compatible
// stacks first. On false the caller still owns the item.
func (e *Engine) GiveItem(inv ID, instigator Instigator, id item.ID) bool {
	c := e.container(inv)
	slots := make([]int, c.Len())
	for i := range slots {
		slots[i] = i
	}
	return e.GiveItemToSlots(inv, instigator, id, slots)
}

func (e *Engine) GiveItemToSlot(inv ID, instigator Instigator, id item.ID, slot int) bool {
	return e.GiveItemToSlots(inv, instigator, id, []int{slot})
}

// GiveItemToSlots is GiveItem restricted to slots. Merges into existing
// stacks need no hook; the remainder goes to the first empty slot whose put
// hook passes. When the whole item was merged away it is destroyed.
func (e *Engine) GiveItemToSlots(inv ID, instigator Instigator, id item.ID, slots []int) bool {
	c := e.container(inv)
	for _, s := range slots {
		c.mustRange(s)
	}
	given, ok := e.state.items.Get(id)
	if !ok || given.Count <= 0 {
		return false
	}

	remaining := given.Count
	planned := map[int]int32{}
	var order []int
	for _, s := range slots {
		st, ok := e.stackAt(c, s)
		if !ok || st.ID == id || !item.IsSameItem(given, st) {
			continue
		}
		n := min(st.SpaceLeft()-planned[s], remaining)
		if n <= 0 {
			continue
		}
		if planned[s] == 0 {
			order = append(order, s)
		}
		planned[s] += n
		remaining -= n
		if remaining == 0 {
			break
		}
	}

	free := -1
	if remaining > 0 {
		for _, s := range slots {
			if e.ref(c, s) != item.NoID {
				continue
			}
			if e.hooks.allowPut(PutCheck{Instigator: instigator, Inventory: inv, Item: id, Slot: s, Count: remaining}) {
				free = s
				break
			}
		}
		if free < 0 {
			return false
		}
	}

	for _, s := range order {
		st, _ := e.stackAt(c, s)
		e.adjustStackSize(c, s, st.Count+planned[s])
	}
	if free >= 0 {
		e.state.items.SetCount(id, remaining)
		e.putItemIntoSlot(c, id, free)
		return true
	}
	e.state.items.Destroy(id)
	return true
}
