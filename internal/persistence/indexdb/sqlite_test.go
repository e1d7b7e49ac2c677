package indexdb

import (
	"path/filepath"
	"testing"

	"freightsim.dev/internal/persistence/snapshot"
	"freightsim.dev/internal/sim/network"
	"freightsim.dev/internal/sim/tuning"
)

func TestDeliveriesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertMeta("test_net", tuning.Default()); err != nil {
		t.Fatalf("upsert meta: %v", err)
	}
	idx.WriteDeliveries([]network.DeliveryRow{
		{Tick: 10, Class: "COAL", Origin: 1, Station: 3, Units: 50, Income: 400, FeederShare: 100},
		{Tick: 10, Class: "COAL", Origin: 1, Station: 3, Units: 25, Income: 200},
		{Tick: 12, Class: "MAIL", Origin: 2, Station: 3, Units: 5, Income: 40},
	})
	idx.WriteDiscards([]network.DiscardRow{
		{Tick: 11, Class: "COAL", Origin: 1, Station: 2, Units: 7},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	units, income, err := idx.DeliveredTotals("COAL")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if units != 75 || income != 600 {
		t.Fatalf("COAL totals = %d units %d income, want 75/600", units, income)
	}
	units, _, err = idx.DeliveredTotals("MAIL")
	if err != nil || units != 5 {
		t.Fatalf("MAIL units = %d (%v), want 5", units, err)
	}
}

func TestDeliverySeqDisambiguatesSameTick(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// Same tick, same station: must land as distinct rows, not upsert over
	// each other.
	idx.WriteDeliveries([]network.DeliveryRow{
		{Tick: 5, Class: "COAL", Origin: 1, Station: 3, Units: 10, Income: 80},
		{Tick: 5, Class: "COAL", Origin: 1, Station: 3, Units: 10, Income: 80},
		{Tick: 5, Class: "COAL", Origin: 2, Station: 3, Units: 10, Income: 80},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	units, income, err := idx.DeliveredTotals("COAL")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if units != 30 || income != 240 {
		t.Fatalf("totals = %d units %d income, want 30/240", units, income)
	}
}

func TestLatestSnapshotMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, _, ok, err := idx.LatestSnapshot()
	if err != nil {
		t.Fatalf("latest on empty: %v", err)
	}
	if ok {
		t.Fatalf("latest on empty index reported a snapshot")
	}

	for _, tick := range []uint64{100, 300, 200} {
		snap := snapshot.Snapshot{
			Header: snapshot.Header{Version: snapshot.Version, NetworkID: "test_net", Tick: tick},
		}
		idx.RecordSnapshot(snapshot.FileName(tick), snap)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	tick, path2, ok, err := idx.LatestSnapshot()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !ok || tick != 300 || path2 != snapshot.FileName(300) {
		t.Fatalf("latest = %d %q %v, want 300 %q", tick, path2, ok, snapshot.FileName(300))
	}
}
