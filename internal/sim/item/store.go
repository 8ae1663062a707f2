package item

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Allocator hands out fresh entity IDs.
type Allocator interface {
	Next() ID
}

// Sequence is a monotonic Allocator. It is safe to share between a store and
// its clones so IDs are never reused within a session.
type Sequence struct {
	next atomic.Uint64
}

func NewSequence(start ID) *Sequence {
	s := &Sequence{}
	s.next.Store(uint64(start))
	return s
}

func (s *Sequence) Next() ID { return ID(s.next.Add(1) - 1) }

// Peek returns the ID the next call to Next will return.
func (s *Sequence) Peek() ID { return ID(s.next.Load()) }

// Advance moves the sequence past id, so imported entities never collide with
// newly created ones.
func (s *Sequence) Advance(id ID) {
	for {
		cur := s.next.Load()
		if uint64(id) < cur {
			return
		}
		if s.next.CompareAndSwap(cur, uint64(id)+1) {
			return
		}
	}
}

// Store owns the item stack entities of one side (authority or client view).
type Store struct {
	ids     Allocator
	items   map[ID]*Stack
	journal *Journal
}

func NewStore(ids Allocator) *Store {
	if ids == nil {
		ids = NewSequence(1)
	}
	return &Store{ids: ids, items: map[ID]*Stack{}}
}

func (s *Store) Len() int { return len(s.items) }

func (s *Store) Exists(id ID) bool {
	if id == NoID {
		return false
	}
	_, ok := s.items[id]
	return ok
}

// Get returns a copy of the stack.
func (s *Store) Get(id ID) (Stack, bool) {
	st, ok := s.items[id]
	if !ok {
		return Stack{}, false
	}
	return st.clone(), true
}

// Create registers a new entity built from proto and returns its ID.
func (s *Store) Create(proto Stack) ID {
	st := proto.clone()
	st.ID = s.ids.Next()
	s.items[st.ID] = &st
	if s.journal != nil {
		s.journal.created = append(s.journal.created, st.ID)
	}
	return st.ID
}

// Copy creates a new entity with the same data as id.
func (s *Store) Copy(id ID) (ID, bool) {
	st, ok := s.items[id]
	if !ok {
		return NoID, false
	}
	return s.Create(*st), true
}

// Put inserts or replaces an entity under its own ID. Used for replicated and
// snapshot entities whose identity was assigned elsewhere.
func (s *Store) Put(st Stack) error {
	if st.ID == NoID {
		return fmt.Errorf("put item: missing id")
	}
	cp := st.clone()
	s.items[st.ID] = &cp
	if seq, ok := s.ids.(*Sequence); ok && !st.ID.IsLocal() && seq.Peek() < LocalIDBase {
		seq.Advance(st.ID)
	}
	return nil
}

func (s *Store) SetCount(id ID, n int32) bool {
	st, ok := s.items[id]
	if !ok {
		return false
	}
	st.Count = n
	return true
}

func (s *Store) Destroy(id ID) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// IDs returns all entity IDs in ascending order.
func (s *Store) IDs() []ID {
	out := make([]ID, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone deep-copies the store. The clone shares the ID allocator.
func (s *Store) Clone() *Store {
	out := &Store{ids: s.ids, items: make(map[ID]*Stack, len(s.items))}
	for id, st := range s.items {
		cp := st.clone()
		out.items[id] = &cp
	}
	return out
}

// Journal records entities created while it is open.
type Journal struct {
	store   *Store
	created []ID
}

// BeginJournal starts recording created entities. Journals do not nest.
func (s *Store) BeginJournal() *Journal {
	j := &Journal{store: s}
	s.journal = j
	return j
}

// Close stops recording and returns the recorded entities that still exist.
func (j *Journal) Close() []ID {
	if j.store.journal == j {
		j.store.journal = nil
	}
	out := make([]ID, 0, len(j.created))
	for _, id := range j.created {
		if j.store.Exists(id) {
			out = append(out, id)
		}
	}
	return out
}
