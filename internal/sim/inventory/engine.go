package inventory

import (
	"fmt"

	"voxelinv.ai/internal/sim/item"
)

// Engine implements the inventory mutation algorithms against one State.
// It is not safe for concurrent use; each side drives it from a single
// goroutine.
//
// Game-logic failures (empty slot, incompatible stacks, a rejecting hook)
// return false and leave the state untouched. Out-of-range slots and unknown
// containers are caller bugs and panic.
type Engine struct {
	state *State
	hooks *Hooks
	bus   *Bus
}

func NewEngine(state *State, hooks *Hooks, bus *Bus) *Engine {
	return &Engine{state: state, hooks: hooks, bus: bus}
}

func (e *Engine) State() *State { return e.state }

// Silent returns an engine over the same state and hooks that emits no
// change notifications.
func (e *Engine) Silent() *Engine { return &Engine{state: e.state, hooks: e.hooks} }

func (e *Engine) container(id ID) *Container {
	c, ok := e.state.containers[id]
	if !ok {
		panic(fmt.Sprintf("inventory %s: unknown container", id))
	}
	return c
}

// ref returns the live occupant of slot, or NoID when the slot is empty or
// points at a destroyed entity.
func (e *Engine) ref(c *Container, slot int) item.ID {
	id := c.At(slot)
	if !e.state.items.Exists(id) {
		return item.NoID
	}
	return id
}

func (e *Engine) stackAt(c *Container, slot int) (item.Stack, bool) {
	return e.state.items.Get(c.At(slot))
}

func (e *Engine) putItemIntoSlot(c *Container, id item.ID, slot int) {
	old := c.set(slot, id)
	e.bus.slotChanged(SlotChanged{Inventory: c.id, Slot: slot, Old: old, New: id})
}

func (e *Engine) adjustStackSize(c *Container, slot int, n int32) {
	id := c.At(slot)
	st, ok := e.state.items.Get(id)
	if !ok {
		return
	}
	e.state.items.SetCount(id, n)
	e.bus.stackSizeChanged(StackSizeChanged{Inventory: c.id, Slot: slot, Item: id, Old: st.Count, New: n})
}

// take removes n items from the stack in slot, clearing and destroying it
// when it runs out.
func (e *Engine) take(c *Container, slot int, st item.Stack, n int32) {
	if st.Count <= n {
		e.putItemIntoSlot(c, item.NoID, slot)
		e.state.items.Destroy(st.ID)
		return
	}
	e.adjustStackSize(c, slot, st.Count-n)
}

func sameSlot(from ID, fromSlot int, to ID, toSlot int) bool {
	return from == to && fromSlot == toSlot
}

// MoveItem moves the stack in fromSlot onto toSlot. When both slots hold
// mergeable stacks the source is folded into the destination without
// consulting hooks; otherwise the two slots swap contents after the remove
// and put hooks for both sides pass.
func (e *Engine) MoveItem(instigator Instigator, from ID, fromSlot int, to ID, toSlot int) bool {
	src, dst := e.container(from), e.container(to)
	srcItem, srcOK := e.stackAt(src, fromSlot)
	dstItem, dstOK := e.stackAt(dst, toSlot)
	if sameSlot(from, fromSlot, to, toSlot) || (!srcOK && !dstOK) {
		return false
	}

	if srcOK && dstOK && item.CanMerge(srcItem, dstItem) {
		e.putItemIntoSlot(src, item.NoID, fromSlot)
		e.adjustStackSize(dst, toSlot, srcItem.Count+dstItem.Count)
		e.state.items.Destroy(srcItem.ID)
		return true
	}

	if srcOK && !e.hooks.allowRemove(RemoveCheck{Instigator: instigator, Inventory: from, Item: srcItem.ID, Slot: fromSlot, Count: srcItem.Count}) {
		return false
	}
	if dstOK && !e.hooks.allowRemove(RemoveCheck{Instigator: instigator, Inventory: to, Item: dstItem.ID, Slot: toSlot, Count: dstItem.Count}) {
		return false
	}
	if dstOK && !e.hooks.allowPut(PutCheck{Instigator: instigator, Inventory: from, Item: dstItem.ID, Slot: fromSlot, Count: dstItem.Count}) {
		return false
	}
	if srcOK && !e.hooks.allowPut(PutCheck{Instigator: instigator, Inventory: to, Item: srcItem.ID, Slot: toSlot, Count: srcItem.Count}) {
		return false
	}

	e.putItemIntoSlot(src, dstItem.ID, fromSlot)
	e.putItemIntoSlot(dst, srcItem.ID, toSlot)
	return true
}

// MoveItemAmount moves amount items from fromSlot to toSlot, splitting the
// source into a new stack when the destination is empty.
func (e *Engine) MoveItemAmount(instigator Instigator, from ID, fromSlot int, to ID, toSlot int, amount int32) bool {
	src, dst := e.container(from), e.container(to)
	srcItem, srcOK := e.stackAt(src, fromSlot)
	dstItem, dstOK := e.stackAt(dst, toSlot)
	if sameSlot(from, fromSlot, to, toSlot) || !srcOK || amount <= 0 || amount > srcItem.Count {
		return false
	}
	if dstOK && (!item.IsSameItem(srcItem, dstItem) || amount > dstItem.SpaceLeft()) {
		return false
	}

	if !e.hooks.allowRemove(RemoveCheck{Instigator: instigator, Inventory: from, Item: srcItem.ID, Slot: fromSlot, Count: amount}) {
		return false
	}
	if !dstOK && !e.hooks.allowPut(PutCheck{Instigator: instigator, Inventory: to, Item: srcItem.ID, Slot: toSlot, Count: amount}) {
		return false
	}

	if !dstOK {
		cp, _ := e.state.items.Copy(srcItem.ID)
		e.state.items.SetCount(cp, amount)
		e.take(src, fromSlot, srcItem, amount)
		e.putItemIntoSlot(dst, cp, toSlot)
		return true
	}
	e.take(src, fromSlot, srcItem, amount)
	e.adjustStackSize(dst, toSlot, dstItem.Count+amount)
	return true
}

// MoveItemToSlots distributes the stack in fromSlot over toSlots: first
// topping up compatible stacks in order, then moving whatever is left, as a
// whole, into the first empty slot. It reports whether anything moved.
func (e *Engine) MoveItemToSlots(instigator Instigator, from ID, fromSlot int, to ID, toSlots []int) bool {
	src, dst := e.container(from), e.container(to)
	for _, s := range toSlots {
		dst.mustRange(s)
	}
	srcItem, ok := e.stackAt(src, fromSlot)
	if !ok {
		return false
	}
	if !e.hooks.allowRemove(RemoveCheck{Instigator: instigator, Inventory: from, Item: srcItem.ID, Slot: fromSlot, Count: srcItem.Count}) {
		return false
	}

	remaining := srcItem.Count
	planned := map[int]int32{}
	var order []int
	for _, s := range toSlots {
		if remaining == 0 {
			break
		}
		if sameSlot(from, fromSlot, to, s) {
			continue
		}
		st, ok := e.stackAt(dst, s)
		if !ok || !item.IsSameItem(st, srcItem) {
			continue
		}
		space := st.SpaceLeft() - planned[s]
		if space <= 0 {
			continue
		}
		n := min(space, remaining)
		if planned[s] == 0 {
			order = append(order, s)
		}
		planned[s] += n
		remaining -= n
	}

	free := -1
	if remaining > 0 {
		for _, s := range toSlots {
			if sameSlot(from, fromSlot, to, s) {
				continue
			}
			if e.ref(dst, s) == item.NoID {
				free = s
				break
			}
		}
		if free >= 0 && !e.hooks.allowPut(PutCheck{Instigator: instigator, Inventory: to, Item: srcItem.ID, Slot: free, Count: remaining}) {
			return false
		}
	}
	if len(order) == 0 && free < 0 {
		return false
	}

	left := srcItem.Count
	for _, s := range order {
		n := planned[s]
		st, _ := e.stackAt(dst, s)
		cur, _ := e.stackAt(src, fromSlot)
		e.take(src, fromSlot, cur, n)
		left -= n
		e.adjustStackSize(dst, s, st.Count+n)
	}
	if free >= 0 && left > 0 {
		e.putItemIntoSlot(src, item.NoID, fromSlot)
		e.putItemIntoSlot(dst, srcItem.ID, free)
	}
	return true
}

// SwitchItem swaps whatever occupies the two slots. No hooks, no merging.
func (e *Engine) SwitchItem(from ID, fromSlot int, to ID, toSlot int) {
	src, dst := e.container(from), e.container(to)
	a, b := e.ref(src, fromSlot), e.ref(dst, toSlot)
	if sameSlot(from, fromSlot, to, toSlot) {
		return
	}
	e.putItemIntoSlot(src, b, fromSlot)
	e.putItemIntoSlot(dst, a, toSlot)
}

// CanStackTogether reports whether a could be dropped onto b. Anything can be
// dropped onto nothing.
func (e *Engine) CanStackTogether(a, b item.ID) bool {
	sa, ok := e.state.items.Get(a)
	if !ok {
		return false
	}
	sb, ok := e.state.items.Get(b)
	if !ok {
		return true
	}
	return item.CanMerge(sa, sb)
}

func (e *Engine) StackSize(id item.ID) int32 {
	st, ok := e.state.items.Get(id)
	if !ok {
		return 0
	}
	return st.Count
}

// ItemInSlot is lenient: unknown containers and out-of-range slots read as
// empty.
func (e *Engine) ItemInSlot(inv ID, slot int) item.ID {
	c, ok := e.state.containers[inv]
	if !ok || !c.InRange(slot) {
		return item.NoID
	}
	return e.ref(c, slot)
}

func (e *Engine) FindSlotWithItem(inv ID, id item.ID) int {
	c, ok := e.state.containers[inv]
	if !ok || id == item.NoID {
		return -1
	}
	for i, it := range c.slots {
		if it == id {
			return i
		}
	}
	return -1
}

func (e *Engine) NumSlots(inv ID) int {
	c, ok := e.state.containers[inv]
	if !ok {
		return 0
	}
	return c.Len()
}
