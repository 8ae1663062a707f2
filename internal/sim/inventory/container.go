package inventory

import (
	"fmt"

	"voxelinv.ai/internal/sim/item"
)

// ID identifies an inventory container.
type ID string

// Instigator is the actor a mutation is attributed to.
type Instigator string

// Container is a fixed-size slot array. Each slot references at most one
// item stack; the number of slots never changes after construction.
type Container struct {
	id    ID
	owner string
	slots []item.ID
}

func NewContainer(id ID, owner string, size int) *Container {
	if size < 0 {
		size = 0
	}
	return &Container{id: id, owner: owner, slots: make([]item.ID, size)}
}

func (c *Container) ID() ID        { return c.id }
func (c *Container) Owner() string { return c.owner }
func (c *Container) Len() int      { return len(c.slots) }

func (c *Container) InRange(slot int) bool { return slot >= 0 && slot < len(c.slots) }

// At returns the raw reference stored in slot. It panics when slot is out of
// range; callers validate untrusted input with InRange first.
func (c *Container) At(slot int) item.ID {
	c.mustRange(slot)
	return c.slots[slot]
}

func (c *Container) set(slot int, id item.ID) item.ID {
	c.mustRange(slot)
	old := c.slots[slot]
	c.slots[slot] = id
	return old
}

func (c *Container) mustRange(slot int) {
	if !c.InRange(slot) {
		panic(fmt.Sprintf("inventory %s: slot %d out of range [0,%d)", c.id, slot, len(c.slots)))
	}
}

func (c *Container) clone() *Container {
	cp := &Container{id: c.id, owner: c.owner, slots: make([]item.ID, len(c.slots))}
	copy(cp.slots, c.slots)
	return cp
}
