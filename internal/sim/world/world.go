package world

import (
	"fmt"
	"sync/atomic"

	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/authority"
	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
	"voxelinv.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int

	PlayerSlots      int
	TransferSlots    int
	StarterItems     []ItemCount
	SharedContainers []SharedContainerConfig

	MaxPending     int
	MaxAgeTicks    uint64
	IntentsPerTick int
}

type ItemCount struct {
	Item  string
	Count int32
}

type SharedContainerConfig struct {
	ID    string
	Slots int
	Items []ItemCount
}

// ConfigFromTuning maps the tuning file onto a world config.
func ConfigFromTuning(id string, t tuning.Tuning) WorldConfig {
	conv := func(in []tuning.ItemCount) []ItemCount {
		out := make([]ItemCount, 0, len(in))
		for _, ic := range in {
			out = append(out, ItemCount{Item: ic.Item, Count: ic.Count})
		}
		return out
	}
	shared := make([]SharedContainerConfig, 0, len(t.Inventory.SharedContainers))
	for _, c := range t.Inventory.SharedContainers {
		shared = append(shared, SharedContainerConfig{ID: c.ID, Slots: c.Slots, Items: conv(c.Items)})
	}
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		PlayerSlots:        t.Inventory.PlayerSlots,
		TransferSlots:      t.Inventory.TransferSlots,
		StarterItems:       conv(t.Inventory.StarterItems),
		SharedContainers:   shared,
		MaxPending:         t.Prediction.MaxPending,
		MaxAgeTicks:        t.Prediction.MaxAgeTicks,
		IntentsPerTick:     t.RateLimits.IntentsPerTick,
	}
}

type JoinRequest struct {
	Name        string
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	// Done is closed when the world drops the session, e.g. because its
	// outbound queue overflowed.
	Done <-chan struct{}
	Err  string
}

// LeaveRequest detaches a session. A request naming a session that was
// already superseded by a resume is ignored.
type LeaveRequest struct {
	AgentID   string
	SessionID string
}

// IntentEnvelope is one decoded move request from a session.
type IntentEnvelope struct {
	AgentID  string
	ChangeID uint64
	Intent   inventory.Intent
}

type RecordedJoin struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Resumed bool   `json:"resumed,omitempty"`
}

type RecordedIntent struct {
	AgentID  string `json:"agent_id"`
	ChangeID uint64 `json:"change_id"`
	Kind     string `json:"kind"`
	From     string `json:"from"`
	FromSlot int    `json:"from_slot"`
	To       string `json:"to"`
	ToSlot   int    `json:"to_slot,omitempty"`
	Amount   int32  `json:"amount,omitempty"`
	ToSlots  []int  `json:"to_slots,omitempty"`
	Applied  bool   `json:"applied"`
	Code     string `json:"code,omitempty"`
}

type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Leaves  []string         `json:"leaves,omitempty"`
	Intents []RecordedIntent `json:"intents,omitempty"`
	Digest  string           `json:"digest"`
}

type AuditEntry struct {
	Tick      uint64 `json:"tick"`
	Actor     string `json:"actor"`
	Action    string `json:"action"` // "SLOT_CHANGED" or "STACK_SIZE"
	Inventory string `json:"inventory"`
	Slot      int    `json:"slot"`
	Item      uint64 `json:"item,omitempty"`
	FromItem  uint64 `json:"from_item,omitempty"`
	ToItem    uint64 `json:"to_item,omitempty"`
	FromCount int32  `json:"from_count,omitempty"`
	ToCount   int32  `json:"to_count,omitempty"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// Agent is a player identity. Agents outlive their sessions so that a
// reconnect with the resume token gets the same inventories back.
type Agent struct {
	ID          string
	Name        string
	ResumeToken string
	Inventory   inventory.ID
	Transfer    inventory.ID
}

type clientState struct {
	Out       chan []byte
	Done      chan struct{}
	SessionID string

	lastChange uint64
	budget     int
	acks       []pendingAck
}

// World is a single-threaded authoritative inventory simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs

	tick atomic.Uint64

	state   *inventory.State
	hooks   *inventory.Hooks
	bus     *inventory.Bus
	service *authority.Service
	items   *item.Sequence

	agents  map[string]*Agent
	clients map[string]*clientState

	inbox chan IntentEnvelope
	join  chan JoinRequest
	leave chan LeaveRequest
	stop  chan struct{}

	snapReq chan snapshotRequest

	observers map[string]*observerClient
	obsJoin   chan ObserverJoinRequest
	obsSub    chan ObserverSubscribeRequest
	obsLeave  chan string

	nextAgentNum atomic.Uint64

	// Filled by the notification bus while a tick runs.
	actor  string
	dirty  map[inventory.ID]bool
	audits []AuditEntry

	// Cumulative counters, loop goroutine only.
	applied  uint64
	rejected uint64
	dropped  uint64

	tickLogger   TickLogger
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	metrics atomic.Value
}

func New(cfg WorldConfig, cats *catalogs.Catalogs) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, fmt.Errorf("world %s: tick rate must be positive", cfg.ID)
	}
	if cfg.PlayerSlots <= 0 {
		return nil, fmt.Errorf("world %s: player slots must be positive", cfg.ID)
	}
	if cats == nil {
		return nil, fmt.Errorf("world %s: missing catalogs", cfg.ID)
	}

	seq := item.NewSequence(1)
	w := &World{
		cfg:      cfg,
		catalogs: cats,
		state:    inventory.NewState(item.NewStore(seq)),
		hooks:    inventory.NewHooks(),
		bus:      inventory.NewBus(),
		items:    seq,
		agents:   map[string]*Agent{},
		clients:  map[string]*clientState{},
		inbox:    make(chan IntentEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan LeaveRequest, 64),
		stop:     make(chan struct{}),
		snapReq:  make(chan snapshotRequest, 4),
		dirty:    map[inventory.ID]bool{},

		observers: map[string]*observerClient{},
		obsJoin:   make(chan ObserverJoinRequest, 16),
		obsSub:    make(chan ObserverSubscribeRequest, 16),
		obsLeave:  make(chan string, 16),
	}
	w.service = authority.New(inventory.NewEngine(w.state, w.hooks, w.bus))
	w.hooks.OnBeforeRemove(func(c inventory.RemoveCheck) inventory.Outcome {
		return w.ownershipOutcome(c.Instigator, c.Inventory)
	})
	w.hooks.OnBeforePut(func(c inventory.PutCheck) inventory.Outcome {
		return w.ownershipOutcome(c.Instigator, c.Inventory)
	})
	w.bus.Subscribe(inventory.ListenerFuncs{
		OnSlotChanged:      w.onSlotChanged,
		OnStackSizeChanged: w.onStackSizeChanged,
	})

	for _, sc := range cfg.SharedContainers {
		if err := w.addContainer(inventory.ID(sc.ID), "", sc.Slots, sc.Items); err != nil {
			return nil, err
		}
	}
	w.dirty = map[inventory.ID]bool{}
	w.audits = w.audits[:0]
	return w, nil
}

// addContainer registers a container and fills it with items from the
// catalog, one stack per slot.
func (w *World) addContainer(id inventory.ID, owner string, slots int, items []ItemCount) error {
	if err := w.state.Add(inventory.NewContainer(id, owner, slots)); err != nil {
		return err
	}
	for i, ic := range items {
		st, err := w.catalogs.Items.NewStack(ic.Item, ic.Count)
		if err != nil {
			return fmt.Errorf("container %s: %w", id, err)
		}
		itemID := w.state.Items().Create(st)
		if ok, _ := w.service.GiveItemToSlot(id, inventory.Instigator(owner), itemID, i); !ok {
			w.state.Items().Destroy(itemID)
			return fmt.Errorf("container %s: slot %d rejected %s", id, i, ic.Item)
		}
	}
	return nil
}
