package cargo_test

import (
	"testing"

	"freightsim.dev/internal/sim/cargo"
)

func appendWaiting(t *testing.T, pool *cargo.Pool, sc *cargo.StationCargo, count uint16, origin, next cargo.StationID) *cargo.Packet {
	t.Helper()
	cp := mustPacket(t, pool, count, origin)
	sc.Append(cp, next)
	return cp
}

func TestHasCargoFor_WildcardMatching(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	appendWaiting(t, pool, sc, 20, 1, 5)

	if !sc.HasCargoFor(cargo.NextHops{5, 7}) {
		t.Fatalf("bucket 5 not matched")
	}
	if sc.HasCargoFor(cargo.NextHops{7}) {
		t.Fatalf("matched hop 7 with no wildcard bucket")
	}

	appendWaiting(t, pool, sc, 10, 2, cargo.AnyStation)
	if !sc.HasCargoFor(cargo.NextHops{7}) {
		t.Fatalf("wildcard bucket not matched")
	}
	if sc.AvailableCount() != 30 {
		t.Fatalf("available = %d, want 30", sc.AvailableCount())
	}
}

func TestReserveThenReturn_RestoresSplit(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	vc := cargo.NewVehicleCargo(pool)
	appendWaiting(t, pool, sc, 30, 1, 5)

	moved, err := sc.Reserve(20, vc, cargo.NextHops{5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if moved != 20 {
		t.Fatalf("reserved = %d, want 20", moved)
	}
	if sc.AvailableCount() != 10 || sc.ReservedCount() != 20 || sc.TotalCount() != 30 {
		t.Fatalf("station split = %d/%d", sc.AvailableCount(), sc.ReservedCount())
	}
	if vc.ReservedCount() != 20 || vc.StoredCount() != 0 {
		t.Fatalf("vehicle load bucket = %d", vc.ReservedCount())
	}
	checkPartition(t, vc)

	returned, err := vc.Return(sc, 1000)
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned != 20 {
		t.Fatalf("returned = %d, want 20", returned)
	}
	if sc.AvailableCount() != 30 || sc.ReservedCount() != 0 {
		t.Fatalf("split not restored: %d/%d", sc.AvailableCount(), sc.ReservedCount())
	}
	// The cargo went back into the exact bucket it was reserved from.
	sum := uint(0)
	for _, cp := range sc.Packets(5) {
		sum += uint(cp.Count())
	}
	if sum != 30 {
		t.Fatalf("bucket 5 holds %d, want 30", sum)
	}
}

func TestLoad_CommitsReservationFirst(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	vc := cargo.NewVehicleCargo(pool)
	appendWaiting(t, pool, sc, 30, 1, 5)

	if _, err := sc.Reserve(30, vc, cargo.NextHops{5}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	moved, err := sc.Load(1000, vc, cargo.TileIndex(4242), cargo.NextHops{5})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if moved != 30 {
		t.Fatalf("committed = %d, want 30", moved)
	}
	if sc.ReservedCount() != 0 || vc.ReservedCount() != 0 {
		t.Fatalf("reservation left over: station=%d vehicle=%d", sc.ReservedCount(), vc.ReservedCount())
	}
	if vc.StoredCount() != 30 {
		t.Fatalf("stored = %d, want 30", vc.StoredCount())
	}
	for _, cp := range vc.Packets(cargo.ActionKeep) {
		if cp.LoadedAt() != 4242 {
			t.Fatalf("load place = %d, want 4242", cp.LoadedAt())
		}
	}
	checkPartition(t, vc)
}

func TestLoad_FreshWithoutReservation(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	vc := cargo.NewVehicleCargo(pool)
	appendWaiting(t, pool, sc, 25, 1, 5)
	appendWaiting(t, pool, sc, 10, 2, cargo.AnyStation)

	moved, err := sc.Load(1000, vc, cargo.TileIndex(99), cargo.NextHops{5})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Bucket 5 preferred, wildcard taken after.
	if moved != 35 || vc.StoredCount() != 35 {
		t.Fatalf("moved = %d, stored = %d, want 35/35", moved, vc.StoredCount())
	}
	if sc.AvailableCount() != 0 {
		t.Fatalf("station still holds %d", sc.AvailableCount())
	}
}

func TestReserve_PartialSplitsBoundaryPacket(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	vc := cargo.NewVehicleCargo(pool)
	appendWaiting(t, pool, sc, 50, 1, 5)

	moved, err := sc.Reserve(20, vc, cargo.NextHops{5})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if moved != 20 || sc.AvailableCount() != 30 || sc.ReservedCount() != 20 {
		t.Fatalf("moved=%d split=%d/%d", moved, sc.AvailableCount(), sc.ReservedCount())
	}
	if pool.Live() != 2 {
		t.Fatalf("live = %d, want 2 after split", pool.Live())
	}
}

func TestStationTruncate_TalliesPerOrigin(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	appendWaiting(t, pool, sc, 30, 1, 5)
	appendWaiting(t, pool, sc, 20, 2, 6)

	tally := map[cargo.StationID]uint{}
	if got := sc.Truncate(40, tally); got != 40 {
		t.Fatalf("truncated = %d, want 40", got)
	}
	if sc.AvailableCount() != 10 {
		t.Fatalf("available = %d, want 10", sc.AvailableCount())
	}
	// Buckets are walked in key order: all of bucket 5, then part of 6.
	if tally[1] != 30 || tally[2] != 10 {
		t.Fatalf("tally = %v, want map[1:30 2:10]", tally)
	}
}

func TestStationReroute_MovesBuckets(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	appendWaiting(t, pool, sc, 30, 1, 5)
	appendWaiting(t, pool, sc, 20, 2, 6)

	total := sc.TotalCount()
	sc.Reroute(cargo.NewStationSet(5), routeStub{1: 9})
	if sc.TotalCount() != total {
		t.Fatalf("reroute changed total: %d -> %d", total, sc.TotalCount())
	}
	if sc.HasCargoFor(cargo.NextHops{5}) {
		t.Fatalf("avoided bucket still has cargo")
	}
	sum := uint(0)
	for _, cp := range sc.Packets(9) {
		if cp.NextHop() != 9 {
			t.Fatalf("packet hop = %d, want 9", cp.NextHop())
		}
		sum += uint(cp.Count())
	}
	if sum != 30 {
		t.Fatalf("bucket 9 holds %d, want 30", sum)
	}
}

func TestStationReroute_NoReplacementGoesWildcard(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	appendWaiting(t, pool, sc, 30, 1, 5)

	sc.Reroute(cargo.NewStationSet(5), routeStub{})
	sum := uint(0)
	for _, cp := range sc.Packets(cargo.AnyStation) {
		sum += uint(cp.Count())
	}
	if sum != 30 {
		t.Fatalf("wildcard bucket holds %d, want 30", sum)
	}
}

func TestStationAppend_CoalescesMergeable(t *testing.T) {
	pool := cargo.NewPool(16)
	sc := cargo.NewStationCargo(pool)
	appendWaiting(t, pool, sc, 30, 1, 5)
	appendWaiting(t, pool, sc, 20, 1, 5)

	if n := len(sc.Packets(5)); n != 1 {
		t.Fatalf("packets = %d, want 1 after merge", n)
	}
	if sc.AvailableCount() != 50 {
		t.Fatalf("available = %d, want 50", sc.AvailableCount())
	}
	if pool.Live() != 1 {
		t.Fatalf("live = %d, want 1", pool.Live())
	}
}

func TestStationDaysInTransit_EmptyIsZero(t *testing.T) {
	pool := cargo.NewPool(4)
	sc := cargo.NewStationCargo(pool)
	if sc.DaysInTransit() != 0 {
		t.Fatalf("empty container days = %d", sc.DaysInTransit())
	}

	cp, err := pool.Restore(10, 0, 12, cargo.Source{}, 1, 0, cargo.LocNone, 0)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	sc.Append(cp, 5)
	if sc.DaysInTransit() != 12 {
		t.Fatalf("days = %d, want 12", sc.DaysInTransit())
	}
}
