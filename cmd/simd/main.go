package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"freightsim.dev/internal/persistence/archive"
	"freightsim.dev/internal/persistence/indexdb"
	"freightsim.dev/internal/persistence/journal"
	"freightsim.dev/internal/persistence/snapshot"
	"freightsim.dev/internal/sim/network"
	"freightsim.dev/internal/sim/tuning"
	"freightsim.dev/internal/transport/observer"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		networkPath = flag.String("network", "./configs/network.yaml", "network definition path")
		tuningPath  = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite delivery index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		maxTicks = flag.Uint64("max_ticks", 0, "stop after this many ticks (0: run until signaled)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[simd] ", log.LstdFlags|log.Lmicroseconds)

	def, defErr := network.LoadDefinition(*networkPath)
	if defErr != nil && !os.IsNotExist(defErr) {
		logger.Fatalf("load network definition: %v", defErr)
	}

	netDir := filepath.Join(*dataDir, "networks", def.ID)
	if def.ID == "" {
		netDir = filepath.Join(*dataDir, "networks", "default")
	}
	_ = os.MkdirAll(filepath.Join(netDir, "snapshots"), 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(netDir, "snapshots"))
	}

	// Tuning is required for a fresh network; snapshot resumes carry the
	// effective tuning and may run without the file.
	tune, tuneErr := tuning.Load(*tuningPath)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using snapshot values", *tuningPath)
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	var n *network.Network
	if snapshotToLoad != "" {
		snap, err := snapshot.Read(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		n, err = network.Restore(snap)
		if err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), n.Tick())
	} else {
		if defErr != nil {
			logger.Fatalf("load network definition: %v", defErr)
		}
		var err error
		n, err = network.New(def, tune)
		if err != nil {
			logger.Fatalf("network: %v", err)
		}
		logger.Printf("fresh network %s: %d stations, %d vehicles", n.ID, len(n.Stations()), len(n.Vehicles()))
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(netDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertMeta(n.ID, n.Tuning()); err != nil {
			logger.Printf("index: upsert meta: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	jnl := journal.New(netDir)
	defer jnl.Close()

	obs := observer.NewServer(logger)
	obs.SetBootstrap(buildBootstrap(n))

	stats := &runtimeStats{}
	stats.update(n, 0)

	go runLoop(ctx, cancel, n, netDir, obs, idx, jnl, stats, *maxTicks, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", stats.metricsHandler(n.ID))
	mux.HandleFunc("/admin/v1/state", stats.stateHandler(n.ID))
	mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())

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

// runLoop owns the network; nothing else touches it. Handlers read the
// per-tick copies published to stats and the observer server.
func runLoop(ctx context.Context, cancel context.CancelFunc, n *network.Network, netDir string, obs *observer.Server, idx *indexdb.SQLiteIndex, jnl *journal.Journal, stats *runtimeStats, maxTicks uint64, logger *log.Logger) {
	tune := n.Tuning()
	ticker := time.NewTicker(time.Second / time.Duration(tune.TickRateHz))
	defer ticker.Stop()

	startTick := n.Tick()
	for {
		select {
		case <-ctx.Done():
			writeSnapshot(n, netDir, idx, obs, logger)
			return
		case <-ticker.C:
		}

		began := time.Now()
		if err := n.Step(); err != nil {
			logger.Printf("tick %d: %v", n.Tick(), err)
		}

		deliveries := n.Ledger().DrainDeliveries()
		discards := n.DrainDiscards()
		if idx != nil {
			idx.WriteDeliveries(deliveries)
			idx.WriteDiscards(discards)
		}
		if err := jnl.WriteDeliveries(deliveries); err != nil {
			logger.Printf("journal: %v", err)
		}
		if err := jnl.WriteDiscards(discards); err != nil {
			logger.Printf("journal: %v", err)
		}
		obs.Broadcast(buildTickMsg(n, deliveries, discards))
		stats.update(n, time.Since(began))

		if n.Tick()%uint64(tune.SnapshotEveryTicks) == 0 {
			writeSnapshot(n, netDir, idx, obs, logger)
		}
		if maxTicks > 0 && n.Tick()-startTick >= maxTicks {
			logger.Printf("reached max_ticks=%d at tick %d", maxTicks, n.Tick())
			cancel()
			return
		}
	}
}

func writeSnapshot(n *network.Network, netDir string, idx *indexdb.SQLiteIndex, obs *observer.Server, logger *log.Logger) {
	snap := n.Snapshot()
	path := filepath.Join(netDir, "snapshots", snapshot.FileName(snap.Header.Tick))
	if err := snapshot.Write(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	logger.Printf("snapshot tick=%d -> %s", snap.Header.Tick, filepath.Base(path))
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	if archivedPath, ok, err := archive.ArchiveSnapshot(netDir, path, snap, n.Tuning().ArchiveEveryTicks); err != nil {
		logger.Printf("archive snapshot: %v", err)
	} else if ok {
		logger.Printf("archived snapshot tick=%d -> %s", snap.Header.Tick, archivedPath)
	}
	obs.SetBootstrap(buildBootstrap(n))
}

// runtimeStats is the read side for HTTP handlers: a copy of the counters
// refreshed once per tick under a lock.
type runtimeStats struct {
	mu sync.Mutex
	v  statsView
}

type statsView struct {
	tick        uint64
	stations    int
	vehicles    int
	livePackets int
	income      int64
	feederPaid  int64
	transferred int64
	stepMS      float64
}

func (s *runtimeStats) update(n *network.Network, stepTook time.Duration) {
	v := statsView{
		tick:        n.Tick(),
		stations:    len(n.Stations()),
		vehicles:    len(n.Vehicles()),
		livePackets: n.Pool().Live(),
		income:      int64(n.Ledger().Income),
		feederPaid:  int64(n.Ledger().FeederPaid),
		transferred: int64(n.Ledger().Transferred),
		stepMS:      float64(stepTook.Microseconds()) / 1000.0,
	}
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

func (s *runtimeStats) metricsHandler(networkID string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		s.mu.Lock()
		c := s.v
		s.mu.Unlock()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP freightsim_tick Current network tick.\n")
		fmt.Fprintf(rw, "# TYPE freightsim_tick gauge\n")
		fmt.Fprintf(rw, "freightsim_tick{network=%q} %d\n", networkID, c.tick)

		fmt.Fprintf(rw, "# HELP freightsim_live_packets Live packets in the pool.\n")
		fmt.Fprintf(rw, "# TYPE freightsim_live_packets gauge\n")
		fmt.Fprintf(rw, "freightsim_live_packets{network=%q} %d\n", networkID, c.livePackets)

		fmt.Fprintf(rw, "# HELP freightsim_stations Stations in the network.\n")
		fmt.Fprintf(rw, "# TYPE freightsim_stations gauge\n")
		fmt.Fprintf(rw, "freightsim_stations{network=%q} %d\n", networkID, c.stations)

		fmt.Fprintf(rw, "# HELP freightsim_vehicles Vehicles in the network.\n")
		fmt.Fprintf(rw, "# TYPE freightsim_vehicles gauge\n")
		fmt.Fprintf(rw, "freightsim_vehicles{network=%q} %d\n", networkID, c.vehicles)

		fmt.Fprintf(rw, "# HELP freightsim_money Accumulated money by kind.\n")
		fmt.Fprintf(rw, "# TYPE freightsim_money counter\n")
		fmt.Fprintf(rw, "freightsim_money{network=%q,kind=%q} %d\n", networkID, "income", c.income)
		fmt.Fprintf(rw, "freightsim_money{network=%q,kind=%q} %d\n", networkID, "feeder_paid", c.feederPaid)
		fmt.Fprintf(rw, "freightsim_money{network=%q,kind=%q} %d\n", networkID, "transferred", c.transferred)

		fmt.Fprintf(rw, "# HELP freightsim_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE freightsim_step_ms gauge\n")
		fmt.Fprintf(rw, "freightsim_step_ms{network=%q} %.3f\n", networkID, c.stepMS)
	}
}

func (s *runtimeStats) stateHandler(networkID string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		c := s.v
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			NetworkID   string  `json:"network_id"`
			Tick        uint64  `json:"tick"`
			Stations    int     `json:"stations"`
			Vehicles    int     `json:"vehicles"`
			LivePackets int     `json:"live_packets"`
			Income      int64   `json:"income"`
			FeederPaid  int64   `json:"feeder_paid"`
			Transferred int64   `json:"transferred"`
			StepMS      float64 `json:"step_ms"`
		}{
			NetworkID:   networkID,
			Tick:        c.tick,
			Stations:    c.stations,
			Vehicles:    c.vehicles,
			LivePackets: c.livePackets,
			Income:      c.income,
			FeederPaid:  c.feederPaid,
			Transferred: c.transferred,
			StepMS:      c.stepMS,
		}
		_ = json.NewEncoder(rw).Encode(resp)
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
