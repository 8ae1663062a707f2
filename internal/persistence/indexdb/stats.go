package indexdb

import "sync/atomic"

// Stats reports queue health of an index backend. Drops never affect the
// simulation; the JSONL logs stay the source of truth.
type Stats struct {
	QueueDepth    int `json:"queue_depth"`
	QueueCapacity int `json:"queue_capacity"`

	DropTickTotal          uint64 `json:"drop_tick_total"`
	DropAuditTotal         uint64 `json:"drop_audit_total"`
	DropSnapshotTotal      uint64 `json:"drop_snapshot_total"`
	DropSnapshotStateTotal uint64 `json:"drop_snapshot_state_total"`
	DropCatalogTotal       uint64 `json:"drop_catalog_total"`

	FlushFailTotal uint64 `json:"flush_fail_total"`
}

type dropCounters struct {
	tick          atomic.Uint64
	audit         atomic.Uint64
	snapshot      atomic.Uint64
	snapshotState atomic.Uint64
	catalog       atomic.Uint64
	flushFail     atomic.Uint64
}

func (c *dropCounters) fill(st *Stats) {
	st.DropTickTotal = c.tick.Load()
	st.DropAuditTotal = c.audit.Load()
	st.DropSnapshotTotal = c.snapshot.Load()
	st.DropSnapshotStateTotal = c.snapshotState.Load()
	st.DropCatalogTotal = c.catalog.Load()
	st.FlushFailTotal = c.flushFail.Load()
}
