package item

import "sort"

// ID identifies an item stack entity. NoID marks an empty reference.
type ID uint64

const NoID ID = 0

// LocalIDBase is the first ID handed out for client-local (speculative)
// entities. Authoritative IDs stay below it.
const LocalIDBase ID = 1 << 48

func (id ID) IsLocal() bool { return id >= LocalIDBase }

// Attributes are the differentiating traits of a stack (durability,
// enchantment, ...). Two stacks are only the same item when their
// attribute sets are equal.
type Attributes map[string]string

func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func (a Attributes) Clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns the attribute keys in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Stack struct {
	ID         ID         `json:"id"`
	StackID    string     `json:"stack_id,omitempty"`
	Count      int32      `json:"count"`
	MaxCount   int32      `json:"max_count"`
	Attributes Attributes `json:"attributes,omitempty"`
}

func (s Stack) Empty() bool { return s.ID == NoID }

// SpaceLeft is how many more items fit on top of the stack.
func (s Stack) SpaceLeft() int32 {
	if s.Count >= s.MaxCount {
		return 0
	}
	return s.MaxCount - s.Count
}

func (s Stack) clone() Stack {
	s.Attributes = s.Attributes.Clone()
	return s
}

// IsSameItem reports whether a and b are interchangeable. A stack without a
// stack id never matches anything, not even an identical copy of itself.
func IsSameItem(a, b Stack) bool {
	if a.StackID == "" || b.StackID == "" {
		return false
	}
	if a.StackID != b.StackID {
		return false
	}
	return a.Attributes.Equal(b.Attributes)
}

// CanMerge reports whether b can be folded into a without exceeding a's
// maximum stack size.
func CanMerge(a, b Stack) bool {
	return IsSameItem(a, b) && b.Count <= a.SpaceLeft()
}
