package world

import (
	"fmt"

	"github.com/google/uuid"

	"voxelinv.ai/internal/protocol"
)

func (w *World) newAgentID() string {
	n := w.nextAgentNum.Add(1)
	return fmt.Sprintf("A%d", n)
}

func (w *World) agentByToken(token string) *Agent {
	if token == "" {
		return nil
	}
	for _, a := range w.agents {
		if a.ResumeToken == token {
			return a
		}
	}
	return nil
}

func (w *World) joinAgent(req JoinRequest, nowTick uint64) JoinResponse {
	a := w.agentByToken(req.ResumeToken)
	if a == nil {
		var err error
		if a, err = w.createAgent(req.Name); err != nil {
			return JoinResponse{Err: err.Error()}
		}
	} else if old := w.clients[a.ID]; old != nil {
		// A resumed session supersedes the one still attached.
		w.dropClient(a.ID, old)
	}

	cl := &clientState{
		Out:       req.Out,
		Done:      make(chan struct{}),
		SessionID: uuid.NewString(),
	}
	w.clients[a.ID] = cl

	welcome := w.buildWelcome(a, cl)
	if cl.Out != nil {
		w.sendState(a.ID, cl, nowTick, w.accessible(a.ID))
	}
	// Only this session can see the agent's own containers and it now holds
	// them in full.
	delete(w.dirty, a.Inventory)
	delete(w.dirty, a.Transfer)
	return JoinResponse{Welcome: welcome, Done: cl.Done}
}

func (w *World) createAgent(name string) (*Agent, error) {
	id := w.newAgentID()
	a := &Agent{
		ID:          id,
		Name:        name,
		ResumeToken: uuid.NewString(),
		Inventory:   playerInventoryID(id),
		Transfer:    transferInventoryID(id),
	}
	if err := w.addContainer(a.Inventory, id, w.cfg.PlayerSlots, w.cfg.StarterItems); err != nil {
		return nil, err
	}
	if w.cfg.TransferSlots > 0 {
		if err := w.addContainer(a.Transfer, id, w.cfg.TransferSlots, nil); err != nil {
			w.state.Remove(a.Inventory)
			return nil, err
		}
	}
	w.agents[id] = a
	return a, nil
}

func (w *World) buildWelcome(a *Agent, cl *clientState) protocol.WelcomeMsg {
	ids := w.accessible(a.ID)
	invs := make([]string, 0, len(ids))
	for _, id := range ids {
		invs = append(invs, string(id))
	}
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       cl.SessionID,
		AgentID:         a.ID,
		ResumeToken:     a.ResumeToken,
		TickRateHz:      w.cfg.TickRateHz,
		Inventories:     invs,
		ItemDigest:      w.catalogs.Items.PaletteDigest,
		Prediction: protocol.PredictionParams{
			MaxPending:  w.cfg.MaxPending,
			MaxAgeTicks: w.cfg.MaxAgeTicks,
		},
	}
}

// handleLeave detaches the session and returns whatever the agent still
// holds in transfer slots to its player inventory.
func (w *World) handleLeave(agentID string) {
	if cl := w.clients[agentID]; cl != nil {
		delete(w.clients, agentID)
		closeDone(cl)
	}
	a := w.agents[agentID]
	if a == nil {
		return
	}
	w.returnTransfer(a)
}

func (w *World) returnTransfer(a *Agent) {
	tc, ok := w.state.Container(a.Transfer)
	if !ok {
		return
	}
	pc, ok := w.state.Container(a.Inventory)
	if !ok {
		return
	}
	eng := w.service.Engine()
	w.actor = a.ID
	for s := 0; s < tc.Len(); s++ {
		if tc.At(s) == 0 {
			continue
		}
		// Top up matching stacks first, then drop the rest into the first
		// free slot. Whatever finds no room stays in the transfer slot.
		var occupied []int
		free := -1
		for i := 0; i < pc.Len(); i++ {
			switch {
			case pc.At(i) != 0:
				occupied = append(occupied, i)
			case free < 0:
				free = i
			}
		}
		if len(occupied) > 0 {
			eng.MoveItemToSlots("", a.Transfer, s, a.Inventory, occupied)
		}
		if tc.At(s) != 0 && free >= 0 {
			eng.SwitchItem(a.Transfer, s, a.Inventory, free)
		}
	}
	w.actor = ""
}

// dropClient disconnects a session without touching the agent.
func (w *World) dropClient(agentID string, cl *clientState) {
	if w.clients[agentID] == cl {
		delete(w.clients, agentID)
	}
	closeDone(cl)
	w.dropped++
}

func closeDone(cl *clientState) {
	select {
	case <-cl.Done:
	default:
		close(cl.Done)
	}
}

// trySend enqueues b without blocking. Messages on this path may not be
// skipped, so a full queue disconnects the client instead.
func (w *World) trySend(agentID string, cl *clientState, b []byte) bool {
	select {
	case cl.Out <- b:
		return true
	default:
		w.dropClient(agentID, cl)
		return false
	}
}
