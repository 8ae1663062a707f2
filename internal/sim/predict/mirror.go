// Package predict runs inventory intents against a local copy of the
// authoritative state so the UI can show their outcome before the server
// answers, and reconciles that copy when acknowledgments and replicated
// state arrive.
package predict

import (
	"fmt"
	"io"
	"log"

	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
)

// Sender delivers an intent to the authority. Implementations must preserve
// send order.
type Sender interface {
	SendIntent(changeID uint64, in inventory.Intent) error
}

type SenderFunc func(changeID uint64, in inventory.Intent) error

func (f SenderFunc) SendIntent(changeID uint64, in inventory.Intent) error { return f(changeID, in) }

// Config bounds how long unacknowledged intents are kept. Zero disables a
// bound.
type Config struct {
	MaxPending  int
	MaxAgeTicks uint64
}

// Mirror is the client-side inventory manager. The baseline holds the last
// replicated authoritative state; the view is the baseline with every pending
// intent replayed on top, and is what queries read.
//
// A Mirror is not safe for concurrent use.
type Mirror struct {
	cfg    Config
	sender Sender
	logger *log.Logger

	baseline *inventory.State
	view     *inventory.State
	engine   *inventory.Engine
	bus      *inventory.Bus

	pending    Registry
	nextChange uint64
	tick       uint64
	stale      bool
}

var _ inventory.Manager = (*Mirror)(nil)

// New builds a mirror over baseline. Entities the mirror creates get IDs
// from item.LocalIDBase upward, so baseline should be empty or hold only
// replicated entities.
func New(baseline *inventory.State, hooks *inventory.Hooks, bus *inventory.Bus, sender Sender, cfg Config, logger *log.Logger) *Mirror {
	if baseline == nil {
		baseline = inventory.NewState(item.NewStore(item.NewSequence(item.LocalIDBase)))
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	view := baseline.Clone()
	return &Mirror{
		cfg:        cfg,
		sender:     sender,
		logger:     logger,
		baseline:   baseline,
		view:       view,
		engine:     inventory.NewEngine(view, hooks, bus),
		bus:        bus,
		nextChange: 1,
	}
}

// View returns the predicted state. Callers must not mutate it.
func (m *Mirror) View() *inventory.State { return m.view }

// Baseline returns the last replicated authoritative state.
func (m *Mirror) Baseline() *inventory.State { return m.baseline }

func (m *Mirror) Pending() *Registry { return &m.pending }

func (m *Mirror) Tick() uint64 { return m.tick }

// Issue predicts in against the view and sends it to the authority. It
// returns the change id assigned to the intent, or ok=false when the
// prediction failed locally, in which case nothing is sent.
func (m *Mirror) Issue(in inventory.Intent) (changeID uint64, ok bool, err error) {
	if err := m.engine.Check(in); err != nil {
		return 0, false, err
	}
	j := m.view.Items().BeginJournal()
	applied := m.engine.Apply(in)
	created := j.Close()
	if !applied {
		return 0, false, nil
	}

	changeID = m.nextChange
	m.nextChange++
	m.pending.Add(&Pending{ChangeID: changeID, Intent: in, Speculative: created, IssuedTick: m.tick})
	if m.sender != nil {
		if err := m.sender.SendIntent(changeID, in); err != nil {
			m.evict()
			return changeID, true, fmt.Errorf("send change %d: %w", changeID, err)
		}
	}
	m.evict()
	return changeID, true, nil
}

// Acknowledge retires changeID and replays the remaining intents on top of
// the baseline. Unknown change ids are ignored, so duplicate acks are
// harmless. It reports whether an entry was retired.
func (m *Mirror) Acknowledge(changeID uint64) bool {
	if _, ok := m.pending.Get(changeID); !ok {
		return false
	}
	before := m.view.Export()
	p, _ := m.pending.Remove(changeID)
	m.destroy(p)
	m.rebaseFrom(before)
	return true
}

// ApplyState installs replicated authoritative container contents into the
// baseline. While intents are pending the view is left alone until the next
// acknowledgment, since the replicated state may already include effects the
// view is still predicting.
func (m *Mirror) ApplyState(states []inventory.ContainerState) error {
	if err := m.baseline.Import(states); err != nil {
		return fmt.Errorf("apply state: %w", err)
	}
	if m.pending.Len() > 0 {
		m.stale = true
		return nil
	}
	m.Rebase()
	return nil
}

// Rebase rebuilds the view from the baseline, replaying every pending intent
// in change id order with a fresh set of speculative entities. Listeners see
// only the net slot differences.
func (m *Mirror) Rebase() {
	m.rebaseFrom(m.view.Export())
}

// rebaseFrom is Rebase with the listener diff taken against before, a view
// export made ahead of any speculative entity being destroyed.
func (m *Mirror) rebaseFrom(before []inventory.ContainerState) {
	for _, p := range m.pending.Entries() {
		m.destroy(p)
	}
	m.view.Reset(m.baseline)
	m.stale = false

	silent := m.engine.Silent()
	for _, p := range m.pending.Entries() {
		j := m.view.Items().BeginJournal()
		if !silent.Apply(p.Intent) {
			m.logger.Printf("change %d (%s) no longer applies on the current baseline", p.ChangeID, p.Intent.Kind)
		}
		p.Speculative = j.Close()
	}
	inventory.Diff(before, m.view.Export(), m.bus)
}

// Stale reports whether replicated state arrived that the view does not show
// yet.
func (m *Mirror) Stale() bool { return m.stale }

// Advance moves the mirror's clock forward and drops intents older than
// MaxAgeTicks.
func (m *Mirror) Advance() {
	m.tick++
	m.evict()
}

func (m *Mirror) evict() {
	var before []inventory.ContainerState
	dropped := false
	for {
		p, ok := m.pending.Oldest()
		if !ok {
			break
		}
		tooMany := m.cfg.MaxPending > 0 && m.pending.Len() > m.cfg.MaxPending
		tooOld := m.cfg.MaxAgeTicks > 0 && m.tick-p.IssuedTick > m.cfg.MaxAgeTicks
		if !tooMany && !tooOld {
			break
		}
		if !dropped {
			before = m.view.Export()
		}
		m.pending.Remove(p.ChangeID)
		m.destroy(p)
		m.logger.Printf("dropping unacknowledged change %d issued at tick %d", p.ChangeID, p.IssuedTick)
		dropped = true
	}
	if dropped {
		m.rebaseFrom(before)
	}
}

func (m *Mirror) destroy(p *Pending) {
	for _, id := range p.Speculative {
		m.view.Items().Destroy(id)
	}
	p.Speculative = nil
}

func (m *Mirror) CanStackTogether(a, b item.ID) bool { return m.engine.CanStackTogether(a, b) }
func (m *Mirror) StackSize(id item.ID) int32 { return m.engine.StackSize(id) }
func (m *Mirror) ItemInSlot(inv inventory.ID, slot int) item.ID {
	return m.engine.ItemInSlot(inv, slot)
}
func (m *Mirror) FindSlotWithItem(inv inventory.ID, id item.ID) int {
	return m.engine.FindSlotWithItem(inv, id)
}
func (m *Mirror) NumSlots(inv inventory.ID) int { return m.engine.NumSlots(inv) }

func (m *Mirror) GiveItem(inventory.ID, inventory.Instigator, item.ID) (bool, error) {
	return false, inventory.ErrNotAuthoritative
}

func (m *Mirror) GiveItemToSlot(inventory.ID, inventory.Instigator, item.ID, int) (bool, error) {
	return false, inventory.ErrNotAuthoritative
}

func (m *Mirror) GiveItemToSlots(inventory.ID, inventory.Instigator, item.ID, []int) (bool, error) {
	return false, inventory.ErrNotAuthoritative
}

func (m *Mirror) RemoveItem(inventory.ID, inventory.Instigator, item.ID, inventory.RemoveOptions) (item.ID, bool, error) {
	return item.NoID, false, inventory.ErrNotAuthoritative
}

func (m *Mirror) RemoveItems(inventory.ID, inventory.Instigator, []item.ID, inventory.RemoveOptions) (item.ID, bool, error) {
	return item.NoID, false, inventory.ErrNotAuthoritative
}

func (m *Mirror) RemoveFromSlot(inventory.ID, inventory.Instigator, int, inventory.RemoveOptions) (item.ID, bool, error) {
	return item.NoID, false, inventory.ErrNotAuthoritative
}

func (m *Mirror) MoveItem(instigator inventory.Instigator, from inventory.ID, fromSlot int, to inventory.ID, toSlot int, count int32) (bool, error) {
	_, ok, err := m.Issue(inventory.Amount(instigator, from, fromSlot, to, toSlot, count))
	return ok, err
}

func (m *Mirror) MoveItemToSlots(instigator inventory.Instigator, from inventory.ID, fromSlot int, to inventory.ID, toSlots []int) (bool, error) {
	_, ok, err := m.Issue(inventory.Distribute(instigator, from, fromSlot, to, toSlots))
	return ok, err
}

func (m *Mirror) SwitchItem(instigator inventory.Instigator, from inventory.ID, fromSlot int, to inventory.ID, toSlot int) (bool, error) {
	_, ok, err := m.Issue(inventory.Swap(instigator, from, fromSlot, to, toSlot))
	return ok, err
}
