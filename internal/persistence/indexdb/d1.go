package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/tuning"
	"voxelinv.ai/internal/sim/world"
)

// D1Config configures the HTTP ingest backend. Events are posted in batches
// as {"events":[...]} to Endpoint.
type D1Config struct {
	Endpoint      string
	Token         string
	WorldID       string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	// MaxRetained caps events kept across failed flushes.
	MaxRetained int
	Logger      *log.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  dropCounters

	auditMu       sync.Mutex
	lastAuditTick uint64
	auditSeq      int
}

type d1Event struct {
	Kind    string `json:"kind"`
	WorldID string `json:"world_id"`
	Payload any    `json:"payload"`
}

type d1TickPayload struct {
	Tick    uint64                 `json:"tick"`
	Digest  string                 `json:"digest"`
	Joins   []world.RecordedJoin   `json:"joins,omitempty"`
	Leaves  []string               `json:"leaves,omitempty"`
	Intents []world.RecordedIntent `json:"intents,omitempty"`
}

type d1AuditPayload struct {
	Tick      uint64           `json:"tick"`
	Seq       int              `json:"seq"`
	Actor     string           `json:"actor"`
	Action    string           `json:"action"`
	Inventory string           `json:"inventory"`
	Slot      int              `json:"slot"`
	Raw       world.AuditEntry `json:"raw"`
}

type d1SnapshotPayload struct {
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	Agents     int    `json:"agents"`
	Containers int    `json:"containers"`
	Items      int    `json:"items"`
}

type d1SnapshotStatePayload struct {
	Tick       uint64                 `json:"tick"`
	WorldID    string                 `json:"world_id,omitempty"`
	Agents     []snapshot.AgentV1     `json:"agents,omitempty"`
	Containers []snapshot.ContainerV1 `json:"containers,omitempty"`
}

type d1CatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.WorldID = strings.TrimSpace(cfg.WorldID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("empty world id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.MaxRetained <= 0 {
		cfg.MaxRetained = 8 * cfg.BatchSize
	}

	d := &D1Index{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		ch: make(chan d1Event, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) Stats() Stats {
	st := Stats{QueueDepth: len(d.ch), QueueCapacity: cap(d.ch)}
	d.drops.fill(&st)
	return st
}

func (d *D1Index) WriteTick(entry world.TickLogEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	p := d1TickPayload{
		Tick:    entry.Tick,
		Digest:  entry.Digest,
		Joins:   entry.Joins,
		Leaves:  entry.Leaves,
		Intents: entry.Intents,
	}
	d.enqueue(d1Event{Kind: "tick", WorldID: d.cfg.WorldID, Payload: p}, &d.drops.tick)
	return nil
}

func (d *D1Index) WriteAudit(entry world.AuditEntry) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	p := d1AuditPayload{
		Tick:      entry.Tick,
		Seq:       d.nextAuditSeq(entry.Tick),
		Actor:     entry.Actor,
		Action:    entry.Action,
		Inventory: entry.Inventory,
		Slot:      entry.Slot,
		Raw:       entry,
	}
	d.enqueue(d1Event{Kind: "audit", WorldID: d.cfg.WorldID, Payload: p}, &d.drops.audit)
	return nil
}

func (d *D1Index) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if d == nil || d.closed.Load() {
		return
	}
	p := d1SnapshotPayload{
		Tick:       snap.Header.Tick,
		Path:       path,
		Agents:     len(snap.Agents),
		Containers: len(snap.Containers),
		Items:      snap.ItemCount(),
	}
	d.enqueue(d1Event{Kind: "snapshot", WorldID: d.cfg.WorldID, Payload: p}, &d.drops.snapshot)
}

func (d *D1Index) RecordSnapshotState(snap snapshot.SnapshotV1) {
	if d == nil || d.closed.Load() {
		return
	}
	p := d1SnapshotStatePayload{
		Tick:       snap.Header.Tick,
		WorldID:    snap.Header.WorldID,
		Agents:     snap.Agents,
		Containers: snap.Containers,
	}
	d.enqueue(d1Event{Kind: "snapshot_state", WorldID: d.cfg.WorldID, Payload: p}, &d.drops.snapshotState)
}

func (d *D1Index) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range catalogRows(configDir, cats, tune) {
		if r.name == "" || r.digest == "" || len(r.data) == 0 {
			continue
		}
		d.enqueue(d1Event{Kind: "catalog", WorldID: d.cfg.WorldID, Payload: d1CatalogPayload{
			Name:      r.name,
			Digest:    r.digest,
			JSON:      string(r.data),
			UpdatedAt: now,
		}}, &d.drops.catalog)
	}
	return nil
}

func (d *D1Index) nextAuditSeq(tick uint64) int {
	d.auditMu.Lock()
	defer d.auditMu.Unlock()
	if tick != d.lastAuditTick {
		d.lastAuditTick = tick
		d.auditSeq = 0
	}
	d.auditSeq++
	return d.auditSeq
}

func (d *D1Index) enqueue(ev d1Event, drop *atomic.Uint64) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		drop.Add(1)
		d.printf("d1 index queue full; drop kind=%s world=%s", ev.Kind, ev.WorldID)
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.drops.flushFail.Add(1)
			d.printf("d1 index flush failed batch=%d err=%v", len(batch), err)
			// Keep the newest events for the next attempt.
			if over := len(batch) - d.cfg.MaxRetained; over > 0 {
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-vi-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *D1Index) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
