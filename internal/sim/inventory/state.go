package inventory

import (
	"fmt"
	"sort"

	"voxelinv.ai/internal/sim/item"
)

// State is one side's view of the world's inventories: the item entities and
// the containers referencing them.
type State struct {
	items      *item.Store
	containers map[ID]*Container
}

func NewState(items *item.Store) *State {
	if items == nil {
		items = item.NewStore(nil)
	}
	return &State{items: items, containers: map[ID]*Container{}}
}

func (s *State) Items() *item.Store { return s.items }

func (s *State) Add(c *Container) error {
	if c == nil || c.id == "" {
		return fmt.Errorf("add container: missing id")
	}
	if _, ok := s.containers[c.id]; ok {
		return fmt.Errorf("add container %s: already exists", c.id)
	}
	s.containers[c.id] = c
	return nil
}

func (s *State) Container(id ID) (*Container, bool) {
	c, ok := s.containers[id]
	return c, ok
}

// Remove drops the container and destroys the items it holds.
func (s *State) Remove(id ID) bool {
	c, ok := s.containers[id]
	if !ok {
		return false
	}
	for _, it := range c.slots {
		if it != item.NoID {
			s.items.Destroy(it)
		}
	}
	delete(s.containers, id)
	return true
}

// IDs returns the container IDs in sorted order.
func (s *State) IDs() []ID {
	out := make([]ID, 0, len(s.containers))
	for id := range s.containers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *State) Clone() *State {
	out := &State{items: s.items.Clone(), containers: make(map[ID]*Container, len(s.containers))}
	for id, c := range s.containers {
		out.containers[id] = c.clone()
	}
	return out
}

// Reset replaces the receiver's content with a deep copy of src, keeping the
// receiver's identity so engines bound to it stay valid.
func (s *State) Reset(src *State) {
	cp := src.Clone()
	s.items = cp.items
	s.containers = cp.containers
}

// ContainerState is the transferable content of one container. Empty slots
// carry a zero Stack.
type ContainerState struct {
	ID    ID           `json:"id"`
	Owner string       `json:"owner,omitempty"`
	Slots []item.Stack `json:"slots"`
}

// Export returns the content of the given containers (all when ids is empty),
// skipping unknown ids.
func (s *State) Export(ids ...ID) []ContainerState {
	if len(ids) == 0 {
		ids = s.IDs()
	}
	out := make([]ContainerState, 0, len(ids))
	for _, id := range ids {
		c, ok := s.containers[id]
		if !ok {
			continue
		}
		cs := ContainerState{ID: c.id, Owner: c.owner, Slots: make([]item.Stack, len(c.slots))}
		for i, it := range c.slots {
			if st, ok := s.items.Get(it); ok {
				cs.Slots[i] = st
			}
		}
		out = append(out, cs)
	}
	return out
}

// Import replaces the content of the listed containers, creating unknown ones.
// Items that were held by a replaced container and are not part of the
// incoming data are destroyed.
func (s *State) Import(states []ContainerState) error {
	incoming := map[item.ID]struct{}{}
	for _, cs := range states {
		for _, st := range cs.Slots {
			if st.ID != item.NoID {
				incoming[st.ID] = struct{}{}
			}
		}
	}
	for _, cs := range states {
		if c, ok := s.containers[cs.ID]; ok {
			if c.Len() != len(cs.Slots) {
				return fmt.Errorf("import %s: slot count %d, have %d", cs.ID, len(cs.Slots), c.Len())
			}
			for _, it := range c.slots {
				if _, keep := incoming[it]; it != item.NoID && !keep {
					s.items.Destroy(it)
				}
			}
		}
	}
	for _, cs := range states {
		c, ok := s.containers[cs.ID]
		if !ok {
			c = NewContainer(cs.ID, cs.Owner, len(cs.Slots))
			s.containers[cs.ID] = c
		}
		for i, st := range cs.Slots {
			if st.ID == item.NoID {
				c.slots[i] = item.NoID
				continue
			}
			if err := s.items.Put(st); err != nil {
				return fmt.Errorf("import %s slot %d: %w", cs.ID, i, err)
			}
			c.slots[i] = st.ID
		}
	}
	return nil
}
