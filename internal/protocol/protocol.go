package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello           = "HELLO"
	TypeWelcome         = "WELCOME"
	TypeMoveItem        = "MOVE_ITEM"
	TypeMoveItemAmount  = "MOVE_ITEM_AMOUNT"
	TypeMoveItemToSlots = "MOVE_ITEM_TO_SLOTS"
	TypeInvState        = "INV_STATE"
	TypeInvAck          = "INV_ACK"
	TypeError           = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsIntent reports whether typ is one of the client move requests.
func IsIntent(typ string) bool {
	switch typ {
	case TypeMoveItem, TypeMoveItemAmount, TypeMoveItemToSlots:
		return true
	}
	return false
}
