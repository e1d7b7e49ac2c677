// Package indexdb maintains a queryable sqlite index next to the snapshot
// files: realized deliveries, cap discards and snapshot metadata. Writes go
// through a single writer goroutine with batched transactions so the sim
// loop never blocks on disk; snapshots remain the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"freightsim.dev/internal/persistence/snapshot"
	"freightsim.dev/internal/sim/network"
	"freightsim.dev/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqDelivery reqKind = iota + 1
	reqDiscard
	reqSnapshot
)

type req struct {
	kind reqKind

	delivery network.DeliveryRow
	discard  network.DiscardRow
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	Version    int
	Stations   int
	Vehicles   int
	Packets    int
	RecordedAt string
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
		// High buffer: a busy arrival tick can emit hundreds of delivery
		// rows; never stall the sim on the indexer.
		ch: make(chan req, 65536),
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
		`CREATE TABLE IF NOT EXISTS deliveries (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			class TEXT NOT NULL,
			origin INTEGER NOT NULL,
			station INTEGER NOT NULL,
			units INTEGER NOT NULL,
			income INTEGER NOT NULL,
			feeder_share INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_class_tick ON deliveries(class, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_station_tick ON deliveries(station, tick);`,
		`CREATE TABLE IF NOT EXISTS discards (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			class TEXT NOT NULL,
			origin INTEGER NOT NULL,
			station INTEGER NOT NULL,
			units INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_discards_station_tick ON discards(station, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			version INTEGER NOT NULL,
			stations INTEGER NOT NULL,
			vehicles INTEGER NOT NULL,
			packets INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits the open batch and closes the database.
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

func (s *SQLiteIndex) WriteDeliveries(rows []network.DeliveryRow) {
	if s == nil || s.closed.Load() {
		return
	}
	for _, r := range rows {
		select {
		case s.ch <- req{kind: reqDelivery, delivery: r}:
		default:
			// Drop if the indexer falls behind; snapshots remain authoritative.
		}
	}
}

func (s *SQLiteIndex) WriteDiscards(rows []network.DiscardRow) {
	if s == nil || s.closed.Load() {
		return
	}
	for _, r := range rows {
		select {
		case s.ch <- req{kind: reqDiscard, discard: r}:
		default:
		}
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.Snapshot) {
	if s == nil || s.closed.Load() {
		return
	}
	packets := 0
	for _, st := range snap.Stations {
		for _, g := range st.Goods {
			for _, b := range g.Buckets {
				packets += len(b.Packets)
			}
		}
	}
	for _, v := range snap.Vehicles {
		packets += len(v.Transfer) + len(v.Deliver) + len(v.Keep) + len(v.Load)
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		Version:    snap.Header.Version,
		Stations:   len(snap.Stations),
		Vehicles:   len(snap.Vehicles),
		Packets:    packets,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// UpsertMeta records the network identity and the tuning values actually
// applied (canonical JSON plus digest), so an index file can be matched back
// to the run that produced it.
func (s *SQLiteIndex) UpsertMeta(networkID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows := [][2]string{
		{"schema_version", "1"},
		{"network_id", networkID},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeliveredTotals sums the recorded deliveries for one cargo class.
func (s *SQLiteIndex) DeliveredTotals(class string) (units uint64, income int64, err error) {
	row := s.db.QueryRow(
		`SELECT COALESCE(SUM(units),0), COALESCE(SUM(income),0) FROM deliveries WHERE class = ?`, class)
	err = row.Scan(&units, &income)
	return units, income, err
}

// LatestSnapshot returns the metadata row with the highest tick, or ok=false
// when no snapshot has been recorded.
func (s *SQLiteIndex) LatestSnapshot() (tick uint64, path string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT tick, path FROM snapshots ORDER BY tick DESC LIMIT 1`)
	switch err = row.Scan(&tick, &path); err {
	case nil:
		return tick, path, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, err
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertDelivery, _ := s.db.Prepare(`INSERT OR REPLACE INTO deliveries(tick,seq,class,origin,station,units,income,feeder_share) VALUES(?,?,?,?,?,?,?,?)`)
	insertDiscard, _ := s.db.Prepare(`INSERT OR REPLACE INTO discards(tick,seq,class,origin,station,units) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,version,stations,vehicles,packets,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertDelivery != nil {
			_ = insertDelivery.Close()
		}
		if insertDiscard != nil {
			_ = insertDiscard.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		// Per-tick sequence numbers, assigned only here in the writer.
		lastDeliveryTick uint64
		deliverySeq      int
		lastDiscardTick  uint64
		discardSeq       int
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
		case reqDelivery:
			d := r.delivery
			if d.Tick != lastDeliveryTick {
				lastDeliveryTick = d.Tick
				deliverySeq = 0
			}
			seq := deliverySeq
			deliverySeq++
			if insertDelivery != nil {
				if _, err := tx.Stmt(insertDelivery).Exec(
					int64(d.Tick),
					seq,
					d.Class,
					int64(d.Origin),
					int64(d.Station),
					int64(d.Units),
					int64(d.Income),
					int64(d.FeederShare),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqDiscard:
			d := r.discard
			if d.Tick != lastDiscardTick {
				lastDiscardTick = d.Tick
				discardSeq = 0
			}
			seq := discardSeq
			discardSeq++
			if insertDiscard != nil {
				if _, err := tx.Stmt(insertDiscard).Exec(
					int64(d.Tick),
					seq,
					d.Class,
					int64(d.Origin),
					int64(d.Station),
					int64(d.Units),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.Path,
					sn.Version,
					sn.Stations,
					sn.Vehicles,
					sn.Packets,
					sn.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
