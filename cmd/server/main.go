package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelinv.ai/internal/persistence/archive"
	persistlog "voxelinv.ai/internal/persistence/log"
	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/tuning"
	"voxelinv.ai/internal/sim/world"
	"voxelinv.ai/internal/transport/observer"
	"voxelinv.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (tick/audit + catalogs + snapshot metadata)")
		logRotate  = flag.String("log_rotate", "", "time layout that keys log file rotation (default hourly)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		if p, err := snapshot.Latest(filepath.Join(worldDir, "snapshots")); err == nil {
			snapshotToLoad = p
		}
	}

	// Tuning is required for a fresh world; a resume falls back to defaults.
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" || !os.IsNotExist(tuneErr) {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *worldID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	// Optional: offsite copies of closed logs and snapshots.
	mir, err := buildMirrorRuntime(*dataDir, logger)
	if err != nil {
		logger.Fatalf("object mirror: %v", err)
	}
	defer mir.Close()

	cfg := world.ConfigFromTuning(*worldID, tune)
	var snap *snapshot.SnapshotV1
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if s.Header.WorldID != "" && s.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, s.Header.WorldID)
		}
		if s.ItemPaletteDigest != "" && s.ItemPaletteDigest != cats.Items.PaletteDigest {
			logger.Printf("warning: snapshot item palette digest differs from catalogs")
		}
		// Container geometry is part of the persisted state.
		if s.TickRate > 0 {
			cfg.TickRateHz = s.TickRate
		}
		cfg.PlayerSlots = s.PlayerSlots
		cfg.TransferSlots = s.TransferSlots
		snap = &s
	}

	w, err := world.New(cfg, cats)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	if snap != nil {
		if err := w.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	}

	ctx, cancel := signalContext()
	defer cancel()

	logOpts := persistlog.LoggerOptions{
		RotateLayout: strings.TrimSpace(*logRotate),
		OnClose: func(path string) {
			logger.Printf("log file closed: %s", path)
			mir.Enqueue(path)
		},
	}
	if logOpts.RotateLayout == "" && mir.Enabled() {
		logOpts.RotateLayout = "2006-01-02-15-04" // 1-minute segments to lower RPO.
	}
	tickLog := persistlog.NewTickLoggerWithOptions(worldDir, logOpts)
	auditLog := persistlog.NewAuditLoggerWithOptions(worldDir, logOpts)
	defer tickLog.Close()
	defer auditLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	policy := archive.Policy{
		EveryTicks:    uint64(envInt("VI_ARCHIVE_EVERY_TICKS", 0)),
		KeepSnapshots: envInt("VI_SNAPSHOT_KEEP", 0),
	}
	go runSnapshotWriter(ctx, worldDir, snapCh, idx, policy, mir.Enqueue, logger)

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(w, idx, mir))

	enableAdminHTTP := envBool("VI_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("VI_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", adminStateHandler(w))
		mux.HandleFunc("/admin/v1/snapshot", adminSnapshotHandler(w))

		obs := observer.NewServer(w, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (VI_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (VI_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// runSnapshotWriter persists snapshots from the world loop, applies the
// checkpoint policy and reports each written file to onWritten.
func runSnapshotWriter(ctx context.Context, worldDir string, snapCh <-chan snapshot.SnapshotV1, idx runtimeIndex, policy archive.Policy, onWritten func(path string), logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapCh:
			path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Printf("snapshot write: %v", err)
				continue
			}
			if idx != nil {
				idx.RecordSnapshot(path, snap)
				idx.RecordSnapshotState(snap)
			}
			if onWritten != nil {
				onWritten(path)
			}
			if archived, ok, err := archive.Checkpoint(worldDir, path, snap, policy); err != nil {
				logger.Printf("snapshot checkpoint: %v", err)
			} else if ok {
				logger.Printf("checkpoint archived tick=%d path=%s", snap.Header.Tick, archived)
				if onWritten != nil {
					onWritten(archived)
				}
			}
			if removed, err := archive.Prune(filepath.Dir(path), policy.KeepSnapshots); err != nil {
				logger.Printf("snapshot prune: %v", err)
			} else if len(removed) > 0 {
				logger.Printf("snapshot prune removed=%d", len(removed))
			}
		}
	}
}

func metricsHandler(w *world.World, idx runtimeIndex, mir *mirrorRuntime) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		id := w.ID()
		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP voxelinv_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_world_tick gauge\n")
		fmt.Fprintf(rw, "voxelinv_world_tick{world=%q} %d\n", id, tick)

		fmt.Fprintf(rw, "# HELP voxelinv_world_agents Current number of agents in the world.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_world_agents gauge\n")
		fmt.Fprintf(rw, "voxelinv_world_agents{world=%q} %d\n", id, m.Agents)

		fmt.Fprintf(rw, "# HELP voxelinv_world_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_world_clients gauge\n")
		fmt.Fprintf(rw, "voxelinv_world_clients{world=%q} %d\n", id, m.Clients)

		fmt.Fprintf(rw, "# HELP voxelinv_world_containers Registered container count.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_world_containers gauge\n")
		fmt.Fprintf(rw, "voxelinv_world_containers{world=%q} %d\n", id, m.Containers)

		fmt.Fprintf(rw, "# HELP voxelinv_world_items Live item stack entities.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_world_items gauge\n")
		fmt.Fprintf(rw, "voxelinv_world_items{world=%q} %d\n", id, m.Items)

		fmt.Fprintf(rw, "# HELP voxelinv_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "voxelinv_world_queue_depth{world=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "voxelinv_world_queue_depth{world=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "voxelinv_world_queue_depth{world=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

		fmt.Fprintf(rw, "# HELP voxelinv_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_world_step_ms gauge\n")
		fmt.Fprintf(rw, "voxelinv_world_step_ms{world=%q} %.3f\n", id, m.StepMS)

		fmt.Fprintf(rw, "# HELP voxelinv_intents_total Intents processed by outcome.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_intents_total counter\n")
		fmt.Fprintf(rw, "voxelinv_intents_total{world=%q,outcome=%q} %d\n", id, "applied", m.IntentsApplied)
		fmt.Fprintf(rw, "voxelinv_intents_total{world=%q,outcome=%q} %d\n", id, "rejected", m.IntentsRejected)

		fmt.Fprintf(rw, "# HELP voxelinv_clients_dropped_total Sessions dropped for a full outbound queue.\n")
		fmt.Fprintf(rw, "# TYPE voxelinv_clients_dropped_total counter\n")
		fmt.Fprintf(rw, "voxelinv_clients_dropped_total{world=%q} %d\n", id, m.ClientsDropped)

		if idx != nil {
			writeIndexMetrics(rw, id, idx)
		}
		writeMirrorMetrics(rw, id, mir)
	}
}

func writeIndexMetrics(rw http.ResponseWriter, id string, idx runtimeIndex) {
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP voxelinv_index_queue_depth Current index queue depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelinv_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelinv_index_queue_depth{world=%q} %d\n", id, s.QueueDepth)

	fmt.Fprintf(rw, "# HELP voxelinv_index_queue_capacity Index queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE voxelinv_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "voxelinv_index_queue_capacity{world=%q} %d\n", id, s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP voxelinv_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE voxelinv_index_dropped_total counter\n")
	fmt.Fprintf(rw, "voxelinv_index_dropped_total{world=%q,kind=%q} %d\n", id, "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "voxelinv_index_dropped_total{world=%q,kind=%q} %d\n", id, "audit", s.DropAuditTotal)
	fmt.Fprintf(rw, "voxelinv_index_dropped_total{world=%q,kind=%q} %d\n", id, "snapshot", s.DropSnapshotTotal)
	fmt.Fprintf(rw, "voxelinv_index_dropped_total{world=%q,kind=%q} %d\n", id, "snapshot_state", s.DropSnapshotStateTotal)
	fmt.Fprintf(rw, "voxelinv_index_dropped_total{world=%q,kind=%q} %d\n", id, "catalog", s.DropCatalogTotal)

	fmt.Fprintf(rw, "# HELP voxelinv_index_flush_fail_total Failed index flushes.\n")
	fmt.Fprintf(rw, "# TYPE voxelinv_index_flush_fail_total counter\n")
	fmt.Fprintf(rw, "voxelinv_index_flush_fail_total{world=%q} %d\n", id, s.FlushFailTotal)
}

func adminStateHandler(w *world.World) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			WorldID string             `json:"world_id"`
			Tick    uint64             `json:"tick"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{
			WorldID: w.ID(),
			Tick:    w.CurrentTick(),
			Metrics: w.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func adminSnapshotHandler(w *world.World) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		tick, err := w.RequestSnapshot(ctx2)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
