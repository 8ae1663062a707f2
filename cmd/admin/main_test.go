package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelinv.ai/internal/persistence/indexdb"
	persistlog "voxelinv.ai/internal/persistence/log"
	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/world"
)

func testSnapshot() snapshot.SnapshotV1 {
	return snapshot.SnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 40},
		Agents: []snapshot.AgentV1{{ID: "A1", Name: "alice", Inventory: "P:A1", Transfer: "T:A1"}},
		Containers: []snapshot.ContainerV1{
			{ID: "P:A1", Owner: "A1", Slots: []snapshot.ItemV1{
				{ID: 2, StackID: "WOOD", Count: 10, MaxCount: 64},
				{},
				{ID: 3, StackID: "WOOL", Count: 4, MaxCount: 64, Attributes: map[string]string{"color": "red"}},
			}},
			{ID: "CHEST:SPAWN", Slots: []snapshot.ItemV1{{ID: 5, StackID: "WOOD", Count: 60, MaxCount: 64}}},
		},
	}
}

func TestReadAudit_Filters(t *testing.T) {
	dir := t.TempDir()
	al := persistlog.NewAuditLogger(dir)
	entries := []world.AuditEntry{
		{Tick: 1, Actor: "A1", Action: "SLOT_CHANGED", Inventory: "P:A1", Slot: 0, ToItem: 7},
		{Tick: 2, Actor: "A1", Action: "STACK_SIZE", Inventory: "P:A1", Slot: 1, Item: 8, FromCount: 5, ToCount: 3},
		{Tick: 3, Actor: "A2", Action: "SLOT_CHANGED", Inventory: "CHEST:SPAWN", Slot: 0, FromItem: 9},
		{Tick: 4, Actor: "A1", Action: "SLOT_CHANGED", Inventory: "P:A1", Slot: 1, FromItem: 8},
	}
	for _, e := range entries {
		if err := al.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := al.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cases := []struct {
		name string
		f    auditFilter
		want []uint64
	}{
		{"all", auditFilter{Slot: -1}, []uint64{1, 2, 3, 4}},
		{"actor", auditFilter{Actor: "A2", Slot: -1}, []uint64{3}},
		{"slot", auditFilter{Inventory: "P:A1", Slot: 1}, []uint64{2, 4}},
		{"window", auditFilter{Slot: -1, SinceTick: 2, ToTick: 3}, []uint64{2, 3}},
	}
	for _, tc := range cases {
		var got []uint64
		n, err := readAudit(dir, tc.f, func(e world.AuditEntry) error {
			got = append(got, e.Tick)
			return nil
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if n != len(tc.want) || len(got) != len(tc.want) {
			t.Fatalf("%s: got ticks %v (n=%d), want %v", tc.name, got, n, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: got ticks %v, want %v", tc.name, got, tc.want)
			}
		}
	}
}

func TestReadAudit_NoLogs(t *testing.T) {
	n, err := readAudit(t.TempDir(), auditFilter{Slot: -1}, func(world.AuditEntry) error { return nil })
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestWriteInspect(t *testing.T) {
	var buf bytes.Buffer
	writeInspect(&buf, testSnapshot(), "")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d want 4:\n%s", len(lines), buf.String())
	}
	if lines[0] != "world=w1 tick=40 agents=1 containers=2 items=3" {
		t.Fatalf("header=%q", lines[0])
	}
	// Containers are sorted by id.
	if !strings.HasPrefix(lines[1], "CHEST:SPAWN[0] id=5 WOOD x60/64") {
		t.Fatalf("line1=%q", lines[1])
	}
	if lines[3] != `P:A1[2] id=3 WOOL x4/64 {"color":"red"}` {
		t.Fatalf("line3=%q", lines[3])
	}

	buf.Reset()
	writeInspect(&buf, testSnapshot(), "CHEST:SPAWN")
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("filtered output has %d lines:\n%s", n, buf.String())
	}
}

func TestRunDBQuery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index", "world.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	snap := testSnapshot()
	_ = idx.WriteTick(world.TickLogEntry{
		Tick:   3,
		Digest: "d3",
		Intents: []world.RecordedIntent{
			{AgentID: "A1", ChangeID: 1, Kind: "swap", From: "P:A1", To: "P:A1", ToSlot: 1, Applied: true},
			{AgentID: "A2", ChangeID: 4, Kind: "amount", From: "P:A1", To: "P:A2", Amount: 2, Code: "E_NO_PERMISSION"},
		},
	})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 3, Actor: "A1", Action: "SLOT_CHANGED", Inventory: "P:A1", Slot: 0, FromItem: 2})
	_ = idx.WriteAudit(world.AuditEntry{Tick: 3, Actor: "A1", Action: "SLOT_CHANGED", Inventory: "P:A1", Slot: 1, ToItem: 2})
	idx.RecordSnapshot("/tmp/40.snap.zst", snap)
	idx.RecordSnapshotState(snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	run := func(q string, o dbQuery) []map[string]any {
		t.Helper()
		var buf bytes.Buffer
		if err := runDBQuery(&buf, db, q, o); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		var out []map[string]any
		dec := json.NewDecoder(&buf)
		for dec.More() {
			var m map[string]any
			if err := dec.Decode(&m); err != nil {
				t.Fatalf("%s: decode: %v", q, err)
			}
			out = append(out, m)
		}
		return out
	}

	if rows := run("snapshots", dbQuery{}); len(rows) != 1 || rows[0]["items"] != float64(3) {
		t.Fatalf("snapshots=%v", rows)
	}
	if rows := run("intents", dbQuery{Agent: "A2"}); len(rows) != 1 || rows[0]["code"] != "E_NO_PERMISSION" || rows[0]["applied"] != false {
		t.Fatalf("intents=%v", rows)
	}
	if rows := run("audits", dbQuery{Inventory: "P:A1", Slot: 1}); len(rows) != 1 || rows[0]["to_item"] != float64(2) {
		t.Fatalf("audits=%v", rows)
	}
	if rows := run("slots", dbQuery{StackID: "WOOD"}); len(rows) != 2 {
		t.Fatalf("wood slots=%v", rows)
	}
	if rows := run("agents", dbQuery{}); len(rows) != 1 || rows[0]["transfer"] != "T:A1" {
		t.Fatalf("agents=%v", rows)
	}
	if err := runDBQuery(&bytes.Buffer{}, db, "boards", dbQuery{}); err == nil || !strings.HasPrefix(err.Error(), "unknown query") {
		t.Fatalf("expected unknown query error, got %v", err)
	}
}

func TestAdminCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/v1/snapshot" {
			http.NotFound(rw, r)
			return
		}
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = rw.Write([]byte(`{"tick":9}` + "\n"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if code := adminCall(&buf, http.MethodPost, srv.URL+"/", "/admin/v1/snapshot", time.Second); code != 0 {
		t.Fatalf("code=%d", code)
	}
	if buf.String() != "{\"tick\":9}\n" {
		t.Fatalf("body=%q", buf.String())
	}
	if code := adminCall(&bytes.Buffer{}, http.MethodGet, srv.URL, "/admin/v1/snapshot", time.Second); code != 1 {
		t.Fatalf("GET code=%d want 1", code)
	}
}
