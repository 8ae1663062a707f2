package inventory

import (
	"errors"
	"fmt"
)

// IntentKind tags the variant of a move intent.
type IntentKind uint8

const (
	IntentSwap IntentKind = iota + 1
	IntentAmount
	IntentDistribute
)

func (k IntentKind) String() string {
	switch k {
	case IntentSwap:
		return "swap"
	case IntentAmount:
		return "amount"
	case IntentDistribute:
		return "distribute"
	default:
		return fmt.Sprintf("intent(%d)", uint8(k))
	}
}

// Intent is a client-issued move request. Fields not used by Kind are
// ignored: Amount only for IntentAmount, ToSlots only for IntentDistribute
// (which ignores ToSlot).
type Intent struct {
	Kind       IntentKind
	Instigator Instigator
	From       ID
	FromSlot   int
	To         ID
	ToSlot     int
	Amount     int32
	ToSlots    []int
}

func Swap(instigator Instigator, from ID, fromSlot int, to ID, toSlot int) Intent {
	return Intent{Kind: IntentSwap, Instigator: instigator, From: from, FromSlot: fromSlot, To: to, ToSlot: toSlot}
}

func Amount(instigator Instigator, from ID, fromSlot int, to ID, toSlot int, amount int32) Intent {
	return Intent{Kind: IntentAmount, Instigator: instigator, From: from, FromSlot: fromSlot, To: to, ToSlot: toSlot, Amount: amount}
}

func Distribute(instigator Instigator, from ID, fromSlot int, to ID, toSlots []int) Intent {
	slots := append([]int(nil), toSlots...)
	return Intent{Kind: IntentDistribute, Instigator: instigator, From: from, FromSlot: fromSlot, To: to, ToSlots: slots}
}

var (
	ErrUnknownIntent    = errors.New("unknown intent kind")
	ErrUnknownContainer = errors.New("unknown container")
	ErrSlotOutOfRange   = errors.New("slot out of range")
)

// Check validates an intent from an untrusted source against the engine's
// state so that Apply cannot hit a contract violation.
func (e *Engine) Check(in Intent) error {
	src, ok := e.state.Container(in.From)
	if !ok {
		return fmt.Errorf("from %q: %w", in.From, ErrUnknownContainer)
	}
	dst, ok := e.state.Container(in.To)
	if !ok {
		return fmt.Errorf("to %q: %w", in.To, ErrUnknownContainer)
	}
	if !src.InRange(in.FromSlot) {
		return fmt.Errorf("from slot %d: %w", in.FromSlot, ErrSlotOutOfRange)
	}
	switch in.Kind {
	case IntentSwap, IntentAmount:
		if !dst.InRange(in.ToSlot) {
			return fmt.Errorf("to slot %d: %w", in.ToSlot, ErrSlotOutOfRange)
		}
	case IntentDistribute:
		for _, s := range in.ToSlots {
			if !dst.InRange(s) {
				return fmt.Errorf("to slot %d: %w", s, ErrSlotOutOfRange)
			}
		}
	default:
		return ErrUnknownIntent
	}
	return nil
}

// Apply runs the engine algorithm matching the intent's variant. Both the
// authority and the client mirror replay intents through here.
func (e *Engine) Apply(in Intent) bool {
	switch in.Kind {
	case IntentSwap:
		return e.MoveItem(in.Instigator, in.From, in.FromSlot, in.To, in.ToSlot)
	case IntentAmount:
		return e.MoveItemAmount(in.Instigator, in.From, in.FromSlot, in.To, in.ToSlot, in.Amount)
	case IntentDistribute:
		return e.MoveItemToSlots(in.Instigator, in.From, in.FromSlot, in.To, in.ToSlots)
	default:
		return false
	}
}

// Touches lists the containers an intent may modify.
func (in Intent) Touches() []ID {
	if in.From == in.To {
		return []ID{in.From}
	}
	return []ID{in.From, in.To}
}
