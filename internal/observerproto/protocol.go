package observerproto

import "voxelinv.ai/internal/protocol"

// Version is the observer protocol version (separate from the agent WS protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "OBS_TICK"
)

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to change the subscription.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Inventories limits the container stream. Empty means every container.
	Inventories []string `json:"inventories,omitempty"`
	Audits      bool     `json:"audits,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	WorldID         string   `json:"world_id"`
	Tick            uint64   `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	PlayerSlots     int      `json:"player_slots"`
	TransferSlots   int      `json:"transfer_slots"`
	SharedIDs       []string `json:"shared_inventories"`
	ItemPalette     []string `json:"item_palette"`
	ItemDigest      string   `json:"item_digest"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest"`

	Agents  []AgentState `json:"agents"`
	Joins   []JoinInfo   `json:"joins,omitempty"`
	Leaves  []string     `json:"leaves,omitempty"`
	Intents []IntentInfo `json:"intents,omitempty"`
	Audits  []AuditEntry `json:"audits,omitempty"`

	// Full is set when Inventories holds every subscribed container rather
	// than only the ones changed this tick.
	Full        bool                      `json:"full,omitempty"`
	Inventories []protocol.InventoryState `json:"inventories,omitempty"`
}

type AgentState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Inventory string `json:"inventory"`
	Transfer  string `json:"transfer,omitempty"`
}

type JoinInfo struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Resumed bool   `json:"resumed,omitempty"`
}

type IntentInfo struct {
	AgentID  string `json:"agent_id"`
	ChangeID uint64 `json:"change_id"`
	Kind     string `json:"kind"`
	From     string `json:"from"`
	To       string `json:"to"`
	Applied  bool   `json:"applied"`
	Code     string `json:"code,omitempty"`
}

type AuditEntry struct {
	Tick      uint64 `json:"tick"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Inventory string `json:"inventory"`
	Slot      int    `json:"slot"`
	FromItem  uint64 `json:"from_item,omitempty"`
	ToItem    uint64 `json:"to_item,omitempty"`
	FromCount int32  `json:"from_count,omitempty"`
	ToCount   int32  `json:"to_count,omitempty"`
}
