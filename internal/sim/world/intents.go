package world

import (
	"errors"
	"fmt"

	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/authority"
	"voxelinv.ai/internal/sim/inventory"
)

// pendingAck is an acknowledgement waiting for the end-of-tick flush.
type pendingAck struct {
	ChangeID uint64
	Applied  bool
	Code     string
	Message  string
}

func (w *World) handleIntent(cl *clientState, env IntentEnvelope, nowTick uint64) pendingAck {
	ack := pendingAck{ChangeID: env.ChangeID}

	if env.ChangeID <= cl.lastChange {
		ack.Code = protocol.ErrConflict
		ack.Message = fmt.Sprintf("change id %d not above %d", env.ChangeID, cl.lastChange)
		w.rejected++
		return ack
	}
	cl.lastChange = env.ChangeID

	if limit := w.cfg.IntentsPerTick; limit > 0 && cl.budget >= limit {
		ack.Code = protocol.ErrRateLimit
		ack.Message = "too many intents this tick"
		w.rejected++
		return ack
	}
	cl.budget++

	for _, inv := range env.Intent.Touches() {
		if _, ok := w.state.Container(inv); !ok {
			continue
		}
		if !w.canAccess(env.AgentID, inv) {
			ack.Code = protocol.ErrNoPermission
			ack.Message = fmt.Sprintf("no access to %s", inv)
			w.rejected++
			return ack
		}
	}

	w.actor = env.AgentID
	res := w.service.Handle(env.ChangeID, env.Intent)
	w.actor = ""

	if res.Applied {
		ack.Applied = true
		w.applied++
		return ack
	}
	ack.Code = intentErrorCode(res.Err)
	ack.Message = res.Err.Error()
	w.rejected++
	return ack
}

func intentErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, inventory.ErrUnknownContainer), errors.Is(err, inventory.ErrSlotOutOfRange):
		return protocol.ErrInvalidTarget
	case errors.Is(err, inventory.ErrUnknownIntent):
		return protocol.ErrBadRequest
	case errors.Is(err, authority.ErrRejected):
		return protocol.ErrBlocked
	default:
		return protocol.ErrInternal
	}
}
