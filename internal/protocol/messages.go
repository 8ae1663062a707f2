package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string     `json:"type"`
	ProtocolVersion   string     `json:"protocol_version"`
	SupportedVersions []string   `json:"supported_versions,omitempty"`
	AgentName         string     `json:"agent_name"`
	Auth              *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	SessionID       string           `json:"session_id"`
	AgentID         string           `json:"agent_id"`
	ResumeToken     string           `json:"resume_token"`
	TickRateHz      int              `json:"tick_rate_hz"`
	Inventories     []string         `json:"inventories"`
	ItemDigest      string           `json:"item_digest"`
	Prediction      PredictionParams `json:"prediction"`
}

// PredictionParams tells the client how long to keep unacknowledged intents.
type PredictionParams struct {
	MaxPending  int    `json:"max_pending"`
	MaxAgeTicks uint64 `json:"max_age_ticks"`
}

// IntentHeader is shared by the three move requests. Instigator is advisory;
// the server attributes every intent to the session's agent.
type IntentHeader struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ChangeID        uint64 `json:"change_id"`
	Instigator      string `json:"instigator,omitempty"`
	From            string `json:"from"`
	FromSlot        int    `json:"from_slot"`
	To              string `json:"to"`
}

// MOVE_ITEM (client -> server)
type MoveItemMsg struct {
	IntentHeader
	ToSlot int `json:"to_slot"`
}

// MOVE_ITEM_AMOUNT (client -> server)
type MoveItemAmountMsg struct {
	IntentHeader
	ToSlot int   `json:"to_slot"`
	Amount int32 `json:"amount"`
}

// MOVE_ITEM_TO_SLOTS (client -> server)
type MoveItemToSlotsMsg struct {
	IntentHeader
	ToSlots []int `json:"to_slots"`
}

// ItemStack is the wire form of one occupied slot.
type ItemStack struct {
	ID         uint64            `json:"id"`
	StackID    string            `json:"stack_id"`
	Count      int32             `json:"count"`
	MaxCount   int32             `json:"max_count"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// InventoryState carries a whole container. Empty slots are null.
type InventoryState struct {
	ID    string       `json:"id"`
	Owner string       `json:"owner,omitempty"`
	Slots []*ItemStack `json:"slots"`
}

// INV_STATE (server -> client). Sent for every container touched in a tick,
// always before the INV_ACKs of that tick.
type InvStateMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	Tick            uint64           `json:"tick"`
	Inventories     []InventoryState `json:"inventories"`
}

// INV_ACK (server -> client)
type InvAckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ChangeID        uint64 `json:"change_id"`
	Applied         bool   `json:"applied"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
