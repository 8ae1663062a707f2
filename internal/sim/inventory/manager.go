package inventory

import (
	"errors"

	"voxelinv.ai/internal/sim/item"
)

// ErrNotAuthoritative is returned by mutating calls that only the authority
// may perform.
var ErrNotAuthoritative = errors.New("inventory: operation not permitted on an unauthoritative client")

// Manager is the inventory API gameplay code uses on either side. On the
// authority every call returns a nil error; on a client the give and remove
// operations fail with ErrNotAuthoritative.
type Manager interface {
	CanStackTogether(a, b item.ID) bool
	StackSize(id item.ID) int32
	ItemInSlot(inv ID, slot int) item.ID
	FindSlotWithItem(inv ID, id item.ID) int
	NumSlots(inv ID) int

	GiveItem(inv ID, instigator Instigator, id item.ID) (bool, error)
	GiveItemToSlot(inv ID, instigator Instigator, id item.ID, slot int) (bool, error)
	GiveItemToSlots(inv ID, instigator Instigator, id item.ID, slots []int) (bool, error)

	RemoveItem(inv ID, instigator Instigator, id item.ID, opts RemoveOptions) (item.ID, bool, error)
	RemoveItems(inv ID, instigator Instigator, ids []item.ID, opts RemoveOptions) (item.ID, bool, error)
	RemoveFromSlot(inv ID, instigator Instigator, slot int, opts RemoveOptions) (item.ID, bool, error)

	// MoveItem moves count items between two slots.
	MoveItem(instigator Instigator, from ID, fromSlot int, to ID, toSlot int, count int32) (bool, error)
	MoveItemToSlots(instigator Instigator, from ID, fromSlot int, to ID, toSlots []int) (bool, error)
	// SwitchItem exchanges two slots, merging when the stacks fit together.
	SwitchItem(instigator Instigator, from ID, fromSlot int, to ID, toSlot int) (bool, error)
}
