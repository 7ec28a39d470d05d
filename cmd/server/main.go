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

	"aldea.world/internal/messaging"
	"aldea.world/internal/persistence/archive"
	"aldea.world/internal/persistence/indexdb"
	persistlog "aldea.world/internal/persistence/log"
	"aldea.world/internal/persistence/snapshot"
	"aldea.world/internal/protocol"
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
	"aldea.world/internal/sim/systems"
	"aldea.world/internal/sim/tuning"
	"aldea.world/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldFlag  = flag.String("world", "", "world id (default: tuning world_id)")
		seed       = flag.Int64("seed", 0, "world seed override (used only when starting a fresh world)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, tuneErr := tuning.Load(*tuningPath)
	worldID := strings.TrimSpace(*worldFlag)
	if worldID == "" {
		worldID = tune.WorldID
	}
	tune.WorldID = worldID
	if *seed != 0 {
		tune.Seed = *seed
	}

	worldDir := filepath.Join(*dataDir, "worlds", worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(worldDir, "snapshots"))
	}

	// Tuning is required for a fresh world. A snapshot resume pins its own
	// dimensions and seed, so there a missing file falls back to defaults.
	if tuneErr != nil {
		if snapshotToLoad != "" && os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	// Read-model index (does not affect sim determinism).
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index.db"), worldID)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	// World, fresh or resumed.
	var (
		w       *state.World
		resumed *snapshot.SnapshotV1
	)
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", worldID, snap.Header.WorldID)
		}
		w = state.NewWorld(snap.Info)
		resumed = &snap
	} else {
		w = state.NewWorld(tune.WorldInfo())
	}

	grid := spatial.NewGrid(w.Info.Width, w.Info.Height, tune.CellSize)
	bus := engine.NewBus()
	runner := engine.NewRunner(tune.RunnerConfig(), w, grid, bus, logger)
	runner.Register(systems.Stack(tune.StackConfig(), w, bus, grid, tune.AccelBackend(), runner.Tick)...)

	if resumed != nil {
		runner.Restore(&resumed.State)
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), runner.Tick())
	} else {
		state.Seed(w, tune.SeedConfig())
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Durable sinks. JSONL is the replay source of truth; the index mirror
	// may drop under load.
	tickLog := persistlog.NewTickLogger(worldDir)
	eventLog := persistlog.NewEventLogger(worldDir)
	defer tickLog.Close()
	defer eventLog.Close()

	var history ws.EventIndex
	if idx != nil {
		history = idx
	}
	gateway := ws.NewServer(runner, ws.Config{
		WorldID: worldID,
		Params: protocol.WorldParams{
			TickIntervalMs: tune.TickIntervalMs,
			Width:          w.Info.Width,
			Height:         w.Info.Height,
			CellSize:       tune.CellSize,
			Seed:           w.Info.Seed,
			DayLengthS:     tune.Systems.DayLengthS,
		},
		History: history,
	}, logger)
	cancelPush := runner.OnTick(gateway.PushTick)
	defer cancelPush()

	// Optional NATS side door.
	var bridge *messaging.Bridge
	if tune.Messaging.Enabled {
		broker, err := messaging.NewBroker(
			messaging.WithHost(tune.Messaging.Host),
			messaging.WithPort(tune.Messaging.Port),
		)
		if err != nil {
			logger.Fatalf("nats broker: %v", err)
		}
		if err := broker.Start(); err != nil {
			logger.Fatalf("nats broker: %v", err)
		}
		defer broker.Shutdown()
		bridge = messaging.NewBridge(broker, runner, logger)
		if err := bridge.Attach(); err != nil {
			logger.Fatalf("nats bridge: %v", err)
		}
		defer bridge.Detach()
		logger.Printf("nats broker on %s", broker.ClientURL())
	}

	tickSinks := multiTickLog{tickLog}
	if idx != nil {
		tickSinks = append(tickSinks, idx)
	}
	runner.SetTickLog(tickSinks)

	eventSinks := multiEventSink{eventLog, gateway}
	if idx != nil {
		eventSinks = append(eventSinks, idx)
	}
	if bridge != nil {
		eventSinks = append(eventSinks, bridge)
	}
	runner.SetEventSink(eventSinks)

	// Snapshot writer.
	snapCh := make(chan *engine.Snapshot, 2)
	if tune.SnapshotEveryTicks > 0 {
		cancelSnap := runner.OnTick(func(s *engine.Snapshot) {
			if s.Tick%tune.SnapshotEveryTicks != 0 {
				return
			}
			select {
			case snapCh <- s:
			default: // writer busy; the next interval tries again
			}
		})
		defer cancelSnap()
	}
	archiver := archive.NewDayArchiver(worldDir)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-snapCh:
				snapV1 := snapshot.FromEngine(w.Info, s)
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", s.Tick))
				if err := snapshot.WriteSnapshot(path, snapV1); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snapV1)
				}
				if day, archivedPath, ok, err := archiver.Archive(path, snapV1); err != nil {
					logger.Printf("archive day snapshot: %v", err)
				} else if ok {
					logger.Printf("archived day %d -> %s", day, filepath.Base(archivedPath))
				}
			}
		}
	}()

	runner.Start(ctx)
	defer runner.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := runner.Metrics()
		tick := m.Tick
		if tick == 0 {
			tick = runner.Tick()
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP aldea_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_tick gauge\n")
		fmt.Fprintf(rw, "aldea_world_tick{world=%q} %d\n", worldID, tick)

		fmt.Fprintf(rw, "# HELP aldea_world_time_scale Current simulation speed multiplier.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_time_scale gauge\n")
		fmt.Fprintf(rw, "aldea_world_time_scale{world=%q} %g\n", worldID, m.TimeScale)

		fmt.Fprintf(rw, "# HELP aldea_world_entities Current entity counts.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_entities gauge\n")
		fmt.Fprintf(rw, "aldea_world_entities{world=%q,kind=%q} %d\n", worldID, "agents", m.Agents)
		fmt.Fprintf(rw, "aldea_world_entities{world=%q,kind=%q} %d\n", worldID, "animals", m.Animals)
		fmt.Fprintf(rw, "aldea_world_entities{world=%q,kind=%q} %d\n", worldID, "resources", m.Resources)

		fmt.Fprintf(rw, "# HELP aldea_world_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_clients gauge\n")
		fmt.Fprintf(rw, "aldea_world_clients{world=%q} %d\n", worldID, gateway.SessionCount())

		fmt.Fprintf(rw, "# HELP aldea_world_queue_depth Command queue backlog.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "aldea_world_queue_depth{world=%q} %d\n", worldID, m.QueueDepth)

		fmt.Fprintf(rw, "# HELP aldea_world_queue_cap Command queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_queue_cap gauge\n")
		fmt.Fprintf(rw, "aldea_world_queue_cap{world=%q} %d\n", worldID, m.QueueCap)

		fmt.Fprintf(rw, "# HELP aldea_world_commands_total Commands handled since start.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_commands_total counter\n")
		fmt.Fprintf(rw, "aldea_world_commands_total{world=%q,result=%q} %d\n", worldID, "applied", m.CommandsApplied)
		fmt.Fprintf(rw, "aldea_world_commands_total{world=%q,result=%q} %d\n", worldID, "rejected", m.CommandsRejected)

		fmt.Fprintf(rw, "# HELP aldea_world_events_delivered_total Events delivered to bus handlers since start.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_events_delivered_total counter\n")
		fmt.Fprintf(rw, "aldea_world_events_delivered_total{world=%q} %d\n", worldID, m.EventsDelivered)

		fmt.Fprintf(rw, "# HELP aldea_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE aldea_world_step_ms gauge\n")
		fmt.Fprintf(rw, "aldea_world_step_ms{world=%q} %.3f\n", worldID, float64(m.LastStep.Microseconds())/1000)

		writeLogMetrics(rw, worldID, tickLog, eventLog)
		writeIndexMetrics(rw, worldID, idx)
	})
	mux.HandleFunc("/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		snap := runner.LatestSnapshot()
		if snap == nil {
			http.Error(rw, "no snapshot yet", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(snap)
	})

	enableAdminHTTP := envBool("ALDEA_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("ALDEA_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID string         `json:"world_id"`
				Tick    uint64         `json:"tick"`
				Metrics engine.Metrics `json:"metrics"`
			}{
				WorldID: worldID,
				Tick:    runner.Tick(),
				Metrics: runner.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			snap := runner.LatestSnapshot()
			rw.Header().Set("Content-Type", "application/json")
			if snap == nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": "no tick committed yet"})
				return
			}
			select {
			case snapCh <- snap:
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": snap.Tick})
			default:
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": snap.Tick, "error": "snapshot writer busy"})
			}
		})
	} else {
		logger.Printf("admin endpoints disabled (ALDEA_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", gateway.Handler())

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

	logger.Printf("world %s listening on %s", worldID, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
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

func envBool(name string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func writeLogMetrics(rw http.ResponseWriter, worldID string, tickLog *persistlog.TickLogger, eventLog *persistlog.EventLogger) {
	fmt.Fprintf(rw, "# HELP aldea_log_write_errors_total JSONL tick log write failures.\n")
	fmt.Fprintf(rw, "# TYPE aldea_log_write_errors_total counter\n")
	fmt.Fprintf(rw, "aldea_log_write_errors_total{world=%q} %d\n", worldID, tickLog.WriteErrors())

	fmt.Fprintf(rw, "# HELP aldea_log_events_dropped_total Event log lines dropped under backpressure.\n")
	fmt.Fprintf(rw, "# TYPE aldea_log_events_dropped_total counter\n")
	fmt.Fprintf(rw, "aldea_log_events_dropped_total{world=%q} %d\n", worldID, eventLog.Dropped())
}

func writeIndexMetrics(rw http.ResponseWriter, worldID string, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP aldea_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE aldea_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "aldea_index_queue_depth{world=%q} %d\n", worldID, s.QueueDepth)

	fmt.Fprintf(rw, "# HELP aldea_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE aldea_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "aldea_index_queue_capacity{world=%q} %d\n", worldID, s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP aldea_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE aldea_index_dropped_total counter\n")
	fmt.Fprintf(rw, "aldea_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "aldea_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "events", s.DropEventsTotal)
	fmt.Fprintf(rw, "aldea_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "snapshot", s.DropSnapshotTotal)
}

// multiTickLog fans the per-tick record to every sink. All sinks buffer
// internally, so the loop never waits here.
type multiTickLog []engine.TickLog

func (m multiTickLog) LogTick(e engine.TickLogEntry) {
	for _, s := range m {
		s.LogTick(e)
	}
}

type multiEventSink []engine.EventSink

func (m multiEventSink) LogEvents(worldID string, tick uint64, events []engine.Event) {
	for _, s := range m {
		s.LogEvents(worldID, tick, events)
	}
}
