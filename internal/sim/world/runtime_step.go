package world

import (
	"time"
)

func (w *World) step(joins []JoinRequest, leaves []string, intents []IntentEnvelope) {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	w.audits = w.audits[:0]

	// Leaves before joins so a reconnect in the same tick reattaches cleanly.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, id := range leaves {
		if _, ok := w.agents[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resumed := w.agentByToken(req.ResumeToken) != nil
		resp := w.joinAgent(req, nowTick)
		if req.Resp != nil {
			req.Resp <- resp
		}
		if resp.Err == "" {
			recordedJoins = append(recordedJoins, RecordedJoin{AgentID: resp.Welcome.AgentID, Name: req.Name, Resumed: resumed})
		}
	}

	for _, cl := range w.clients {
		cl.budget = 0
	}

	// Intents apply in receive order.
	recorded := make([]RecordedIntent, 0, len(intents))
	for _, env := range intents {
		cl := w.clients[env.AgentID]
		if cl == nil || w.agents[env.AgentID] == nil {
			continue
		}
		env.Intent.Instigator = agentInstigator(env.AgentID) // trust session identity
		ack := w.handleIntent(cl, env, nowTick)
		recorded = append(recorded, recordIntent(env, ack))
		cl.acks = append(cl.acks, ack)
	}

	w.flushAudits()
	changed := w.takeDirty()
	w.replicate(nowTick, changed)

	entry := TickLogEntry{Tick: nowTick, Joins: recordedJoins, Leaves: recordedLeaves, Intents: recorded, Digest: w.stateDigest(nowTick)}
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(entry)
	}
	w.stepObservers(entry, changed)

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.storeMetrics(nextTick, stepMS)
}

func recordIntent(env IntentEnvelope, ack pendingAck) RecordedIntent {
	in := env.Intent
	return RecordedIntent{
		AgentID:  env.AgentID,
		ChangeID: env.ChangeID,
		Kind:     in.Kind.String(),
		From:     string(in.From),
		FromSlot: in.FromSlot,
		To:       string(in.To),
		ToSlot:   in.ToSlot,
		Amount:   in.Amount,
		ToSlots:  append([]int(nil), in.ToSlots...),
		Applied:  ack.Applied,
		Code:     ack.Code,
	}
}
