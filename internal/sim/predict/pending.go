package predict

import (
	"sort"

	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
)

// Pending is an intent the authority has not acknowledged yet.
type Pending struct {
	ChangeID    uint64
	Intent      inventory.Intent
	Speculative []item.ID
	IssuedTick  uint64
}

// Registry keeps pending intents ordered by change id, which is also the
// order they were sent in.
type Registry struct {
	entries []*Pending
}

func (r *Registry) Len() int { return len(r.entries) }

func (r *Registry) Add(p *Pending) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].ChangeID >= p.ChangeID })
	if i < len(r.entries) && r.entries[i].ChangeID == p.ChangeID {
		r.entries[i] = p
		return
	}
	r.entries = append(r.entries, nil)
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = p
}

func (r *Registry) Get(changeID uint64) (*Pending, bool) {
	i := r.index(changeID)
	if i < 0 {
		return nil, false
	}
	return r.entries[i], true
}

func (r *Registry) Remove(changeID uint64) (*Pending, bool) {
	i := r.index(changeID)
	if i < 0 {
		return nil, false
	}
	p := r.entries[i]
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	return p, true
}

// Oldest returns the entry with the lowest change id.
func (r *Registry) Oldest() (*Pending, bool) {
	if len(r.entries) == 0 {
		return nil, false
	}
	return r.entries[0], true
}

// Entries returns the pending intents in ascending change id order. The
// slice is a copy; the entries are shared.
func (r *Registry) Entries() []*Pending {
	return append([]*Pending(nil), r.entries...)
}

// ChangeIDs lists the pending change ids in ascending order.
func (r *Registry) ChangeIDs() []uint64 {
	out := make([]uint64, len(r.entries))
	for i, p := range r.entries {
		out[i] = p.ChangeID
	}
	return out
}

func (r *Registry) index(changeID uint64) int {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].ChangeID >= changeID })
	if i < len(r.entries) && r.entries[i].ChangeID == changeID {
		return i
	}
	return -1
}
