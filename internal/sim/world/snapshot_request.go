package world

import (
	"context"
	"errors"
)

var (
	ErrNoSnapshotSink = errors.New("snapshot sink not configured")
	ErrSnapshotBusy   = errors.New("snapshot sink busy")
	ErrNoTick         = errors.New("no tick completed yet")
)

type snapshotRequest struct {
	resp chan snapshotResult
}

type snapshotResult struct {
	tick uint64
	err  error
}

// RequestSnapshot asks the running world loop to export the last completed
// tick to the snapshot sink. It returns the exported tick.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	req := snapshotRequest{resp: make(chan snapshotResult, 1)}
	select {
	case w.snapReq <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.tick, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// snapshotNow runs on the loop goroutine between ticks.
func (w *World) snapshotNow() snapshotResult {
	if w.snapshotSink == nil {
		return snapshotResult{err: ErrNoSnapshotSink}
	}
	cur := w.tick.Load()
	if cur == 0 {
		return snapshotResult{err: ErrNoTick}
	}
	tick := cur - 1
	select {
	case w.snapshotSink <- w.ExportSnapshot(tick):
		return snapshotResult{tick: tick}
	default:
		return snapshotResult{tick: tick, err: ErrSnapshotBusy}
	}
}
