// Package authority is the server-side inventory façade. It mutates the
// authoritative state directly and acknowledges every client intent.
package authority

import (
	"errors"

	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
)

// ErrRejected marks an intent that passed validation but whose operation
// failed (empty slot, incompatible stacks, a hook rejection).
var ErrRejected = errors.New("intent rejected")

// Ack answers one client change id. Err is nil when the intent was applied.
type Ack struct {
	ChangeID uint64
	Applied  bool
	Err      error
}

type Service struct {
	engine *inventory.Engine
}

var _ inventory.Manager = (*Service)(nil)

func New(engine *inventory.Engine) *Service { return &Service{engine: engine} }

func (s *Service) Engine() *inventory.Engine { return s.engine }

// Handle validates and applies a client intent. It always returns an Ack so
// that the client can retire its prediction, whatever the outcome.
func (s *Service) Handle(changeID uint64, in inventory.Intent) Ack {
	ack := Ack{ChangeID: changeID}
	if err := s.engine.Check(in); err != nil {
		ack.Err = err
		return ack
	}
	if !s.engine.Apply(in) {
		ack.Err = ErrRejected
		return ack
	}
	ack.Applied = true
	return ack
}

func (s *Service) CanStackTogether(a, b item.ID) bool { return s.engine.CanStackTogether(a, b) }
func (s *Service) StackSize(id item.ID) int32 { return s.engine.StackSize(id) }
func (s *Service) ItemInSlot(inv inventory.ID, slot int) item.ID {
	return s.engine.ItemInSlot(inv, slot)
}
func (s *Service) FindSlotWithItem(inv inventory.ID, id item.ID) int {
	return s.engine.FindSlotWithItem(inv, id)
}
func (s *Service) NumSlots(inv inventory.ID) int { return s.engine.NumSlots(inv) }

func (s *Service) GiveItem(inv inventory.ID, instigator inventory.Instigator, id item.ID) (bool, error) {
	return s.engine.GiveItem(inv, instigator, id), nil
}

func (s *Service) GiveItemToSlot(inv inventory.ID, instigator inventory.Instigator, id item.ID, slot int) (bool, error) {
	return s.engine.GiveItemToSlot(inv, instigator, id, slot), nil
}

func (s *Service) GiveItemToSlots(inv inventory.ID, instigator inventory.Instigator, id item.ID, slots []int) (bool, error) {
	return s.engine.GiveItemToSlots(inv, instigator, id, slots), nil
}

func (s *Service) RemoveItem(inv inventory.ID, instigator inventory.Instigator, id item.ID, opts inventory.RemoveOptions) (item.ID, bool, error) {
	out, ok := s.engine.RemoveItem(inv, instigator, id, opts)
	return out, ok, nil
}

func (s *Service) RemoveItems(inv inventory.ID, instigator inventory.Instigator, ids []item.ID, opts inventory.RemoveOptions) (item.ID, bool, error) {
	out, ok := s.engine.RemoveItems(inv, instigator, ids, opts)
	return out, ok, nil
}

func (s *Service) RemoveFromSlot(inv inventory.ID, instigator inventory.Instigator, slot int, opts inventory.RemoveOptions) (item.ID, bool, error) {
	out, ok := s.engine.RemoveFromSlot(inv, instigator, slot, opts)
	return out, ok, nil
}

func (s *Service) MoveItem(instigator inventory.Instigator, from inventory.ID, fromSlot int, to inventory.ID, toSlot int, count int32) (bool, error) {
	return s.engine.MoveItemAmount(instigator, from, fromSlot, to, toSlot, count), nil
}

func (s *Service) MoveItemToSlots(instigator inventory.Instigator, from inventory.ID, fromSlot int, to inventory.ID, toSlots []int) (bool, error) {
	return s.engine.MoveItemToSlots(instigator, from, fromSlot, to, toSlots), nil
}

// SwitchItem on the authority is a full move: stacks merge when they fit,
// otherwise the hooks decide whether the slots swap.
func (s *Service) SwitchItem(instigator inventory.Instigator, from inventory.ID, fromSlot int, to inventory.ID, toSlot int) (bool, error) {
	return s.engine.MoveItem(instigator, from, fromSlot, to, toSlot), nil
}
