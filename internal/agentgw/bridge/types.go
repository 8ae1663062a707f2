package bridge

import "voxelinv.ai/internal/protocol"

// Status is returned by voxelinv.get_status.
type Status struct {
	Connected   bool     `json:"connected"`
	Paused      bool     `json:"paused,omitempty"`
	AgentID     string   `json:"agent_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	ResumeToken string   `json:"resume_token,omitempty"`
	WorldWSURL  string   `json:"world_ws_url"`
	Tick        uint64   `json:"tick"`
	Pending     int      `json:"pending"`
	Inventories []string `json:"inventories,omitempty"`
	ItemDigest  string   `json:"item_digest,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
}

type GetInventoriesOpts struct {
	// Inventories limits the result; empty means every known container.
	Inventories []string `json:"inventories"`
	// Baseline returns the last server-confirmed state instead of the
	// predicted view.
	Baseline  bool `json:"baseline"`
	TimeoutMS int  `json:"timeout_ms"`
}

type InventoriesResult struct {
	Tick             uint64                    `json:"tick"`
	AgentID          string                    `json:"agent_id"`
	PendingChangeIDs []uint64                  `json:"pending_change_ids"`
	Inventories      []protocol.InventoryState `json:"inventories"`
}

// MoveArgs describes one move intent. From and To default to the agent's
// own inventory.
type MoveArgs struct {
	Kind      string `json:"kind"`
	From      string `json:"from,omitempty"`
	FromSlot  int    `json:"from_slot"`
	To        string `json:"to,omitempty"`
	ToSlot    int    `json:"to_slot"`
	Amount    int32  `json:"amount,omitempty"`
	ToSlots   []int  `json:"to_slots,omitempty"`
	WaitAck   bool   `json:"wait_ack"`
	TimeoutMS int    `json:"timeout_ms"`
}

type MoveResult struct {
	ChangeID  uint64 `json:"change_id,omitempty"`
	Predicted bool   `json:"predicted"`
	Acked     bool   `json:"acked"`
	Applied   bool   `json:"applied"`
	Tick      uint64 `json:"tick,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}
