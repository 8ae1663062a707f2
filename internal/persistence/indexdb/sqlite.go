package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/tuning"
	"voxelinv.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the tick and audit logs. Writes
// are queued and applied by a single goroutine in batched transactions.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  dropCounters
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
	reqSnapshotState
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	audit    world.AuditEntry
	snapshot snapshotRow
	state    *snapshot.SnapshotV1
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	Agents     int
	Containers int
	Items      int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: every slot change is an audit row.
		ch: make(chan req, 262144),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			intents INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS joins (
			tick INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (tick, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS leaves (
			tick INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			PRIMARY KEY (tick, agent_id)
		);`,
		`CREATE TABLE IF NOT EXISTS intents (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			change_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			src TEXT NOT NULL,
			dst TEXT NOT NULL,
			applied INTEGER NOT NULL,
			code TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_agent_tick ON intents(agent_id, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			inventory TEXT NOT NULL,
			slot INTEGER NOT NULL,
			item INTEGER NOT NULL,
			from_item INTEGER NOT NULL,
			to_item INTEGER NOT NULL,
			from_count INTEGER NOT NULL,
			to_count INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_slot_tick ON audits(inventory, slot, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			agents INTEGER NOT NULL,
			containers INTEGER NOT NULL,
			items INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS agent_state (
			agent_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			inventory TEXT NOT NULL,
			transfer TEXT NOT NULL,
			tick INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS slot_state (
			inventory TEXT NOT NULL,
			slot INTEGER NOT NULL,
			owner TEXT NOT NULL,
			item INTEGER NOT NULL,
			stack_id TEXT NOT NULL,
			count INTEGER NOT NULL,
			max_count INTEGER NOT NULL,
			attributes_json TEXT,
			tick INTEGER NOT NULL,
			PRIMARY KEY (inventory, slot)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_slot_state_stack ON slot_state(stack_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying handle for read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	st := Stats{QueueDepth: len(s.ch), QueueCapacity: cap(s.ch)}
	s.drops.fill(&st)
	return st
}

func (s *SQLiteIndex) enqueue(r req, drop *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		drop.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqTick, tick: entry}, &s.drops.tick)
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.drops.audit)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		Agents:     len(snap.Agents),
		Containers: len(snap.Containers),
		Items:      snap.ItemCount(),
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r}, &s.drops.snapshot)
}

// RecordSnapshotState replaces the agent_state and slot_state tables with the
// content of snap.
func (s *SQLiteIndex) RecordSnapshotState(snap snapshot.SnapshotV1) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqSnapshotState, state: &snap}, &s.drops.snapshotState)
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := catalogRows(configDir, cats, tune)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.data) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,joins,leaves,intents,raw_json) VALUES(?,?,?,?,?,?)`)
	insertJoin, _ := s.db.Prepare(`INSERT OR REPLACE INTO joins(tick,agent_id,name) VALUES(?,?,?)`)
	insertLeave, _ := s.db.Prepare(`INSERT OR REPLACE INTO leaves(tick,agent_id) VALUES(?,?)`)
	insertIntent, _ := s.db.Prepare(`INSERT OR REPLACE INTO intents(tick,seq,agent_id,change_id,kind,src,dst,applied,code,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,inventory,slot,item,from_item,to_item,from_count,to_count,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,agents,containers,items) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertJoin, insertLeave, insertIntent, insertAudit, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			b, _ := json.Marshal(t)
			if !exec(insertTick, int64(t.Tick), t.Digest, len(t.Joins), len(t.Leaves), len(t.Intents), string(b)) {
				continue
			}
			for _, j := range t.Joins {
				if !exec(insertJoin, int64(t.Tick), j.AgentID, j.Name) {
					break
				}
			}
			for _, id := range t.Leaves {
				if !exec(insertLeave, int64(t.Tick), id) {
					break
				}
			}
			for i, in := range t.Intents {
				raw, _ := json.Marshal(in)
				if !exec(insertIntent, int64(t.Tick), i, in.AgentID, int64(in.ChangeID), in.Kind, in.From, in.To, boolInt(in.Applied), in.Code, string(raw)) {
					break
				}
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			exec(insertAudit,
				int64(a.Tick), seq, a.Actor, a.Action, a.Inventory, a.Slot,
				int64(a.Item), int64(a.FromItem), int64(a.ToItem),
				a.FromCount, a.ToCount, string(raw),
			)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Agents, sn.Containers, sn.Items)

		case reqSnapshotState:
			if err := writeSnapshotState(tx, r.state); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}

func writeSnapshotState(tx *sql.Tx, snap *snapshot.SnapshotV1) error {
	tick := int64(snap.Header.Tick)
	if _, err := tx.Exec(`DELETE FROM agent_state`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM slot_state`); err != nil {
		return err
	}
	for _, a := range snap.Agents {
		if _, err := tx.Exec(`INSERT INTO agent_state(agent_id,name,inventory,transfer,tick) VALUES(?,?,?,?,?)`,
			a.ID, a.Name, a.Inventory, a.Transfer, tick); err != nil {
			return err
		}
	}
	for _, c := range snap.Containers {
		for i, it := range c.Slots {
			if it.ID == 0 {
				continue
			}
			var attrs any
			if len(it.Attributes) > 0 {
				b, _ := json.Marshal(it.Attributes)
				attrs = string(b)
			}
			if _, err := tx.Exec(`INSERT INTO slot_state(inventory,slot,owner,item,stack_id,count,max_count,attributes_json,tick) VALUES(?,?,?,?,?,?,?,?,?)`,
				c.ID, i, c.Owner, int64(it.ID), it.StackID, it.Count, it.MaxCount, attrs, tick); err != nil {
				return err
			}
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
