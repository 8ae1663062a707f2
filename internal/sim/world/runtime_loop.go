package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingIntents []IntentEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []LeaveRequest

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case lr := <-w.leave:
			pendingLeaves = append(pendingLeaves, lr)
		case env := <-w.inbox:
			pendingIntents = append(pendingIntents, env)
		case req := <-w.snapReq:
			req.resp <- w.snapshotNow()
		case req := <-w.obsJoin:
			w.handleObserverJoin(req)
		case req := <-w.obsSub:
			w.handleObserverSubscribe(req)
		case id := <-w.obsLeave:
			w.handleObserverLeave(id)
		case <-ticker.C:
			w.step(pendingJoins, w.liveLeaves(pendingLeaves), pendingIntents)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingIntents = pendingIntents[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// liveLeaves keeps the leave requests that still name the attached session.
func (w *World) liveLeaves(reqs []LeaveRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, lr := range reqs {
		cl := w.clients[lr.AgentID]
		if lr.SessionID != "" && (cl == nil || cl.SessionID != lr.SessionID) {
			continue
		}
		out = append(out, lr.AgentID)
	}
	return out
}

// StepOnce advances the world by a single tick using the same ordering
// semantics as the server loop. Intended for deterministic replays and tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, intents []IntentEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, intents)
	return tick, w.stateDigest(tick)
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) TickRateHz() int {
	if w == nil {
		return 0
	}
	return w.cfg.TickRateHz
}
