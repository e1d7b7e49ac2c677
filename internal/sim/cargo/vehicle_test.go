package cargo_test

import (
	"testing"

	"freightsim.dev/internal/sim/cargo"
)

type ledgerStub struct {
	delivered      uint
	realizedShare  cargo.Money
	transferUnits  uint
	creditPerUnit  cargo.Money
}

func (l *ledgerStub) PayDelivery(cp *cargo.Packet, count uint) {
	l.delivered += count
	l.realizedShare += cp.FeederShareFor(count)
}

func (l *ledgerStub) PayTransfer(cp *cargo.Packet, count uint) cargo.Money {
	l.transferUnits += count
	return l.creditPerUnit * cargo.Money(count)
}

type routeStub map[cargo.StationID]cargo.StationID

func (r routeStub) Via(origin cargo.StationID, avoid cargo.StationSet) cargo.StationID {
	hop, ok := r[origin]
	if !ok || avoid.Contains(hop) {
		return cargo.AnyStation
	}
	return hop
}

func checkPartition(t *testing.T, vc *cargo.VehicleCargo) {
	t.Helper()
	sum := uint(0)
	for _, a := range []cargo.Action{cargo.ActionTransfer, cargo.ActionDeliver, cargo.ActionKeep, cargo.ActionLoad} {
		sum += vc.ActionCount(a)
	}
	if sum != vc.TotalCount() {
		t.Fatalf("action counts sum %d != total %d", sum, vc.TotalCount())
	}
}

// appendStaged puts a packet straight into a specific action bucket with a
// location tag that matches the bucket.
func appendStaged(t *testing.T, pool *cargo.Pool, vc *cargo.VehicleCargo, count uint16, origin cargo.StationID, a cargo.Action, next cargo.StationID) *cargo.Packet {
	t.Helper()
	cp := mustPacket(t, pool, count, origin)
	switch a {
	case cargo.ActionTransfer, cargo.ActionLoad:
		cp.SetNextHop(next)
	default:
		cp.SetLoadPlace(cargo.TileIndex(uint32(origin) * 100))
	}
	vc.Append(cp, a)
	return cp
}

func TestChooseAction(t *testing.T) {
	pool := cargo.NewPool(8)
	cp := mustPacket(t, pool, 10, 1)

	cases := []struct {
		name      string
		cargoNext cargo.StationID
		current   cargo.StationID
		accepted  bool
		next      cargo.NextHops
		want      cargo.Action
	}{
		{"wildcard accepted elsewhere", cargo.AnyStation, 5, true, nil, cargo.ActionDeliver},
		{"wildcard at own origin", cargo.AnyStation, 1, true, nil, cargo.ActionKeep},
		{"wildcard not accepted", cargo.AnyStation, 5, false, nil, cargo.ActionKeep},
		{"hop reached and accepted", 5, 5, true, nil, cargo.ActionDeliver},
		{"hop reached not accepted", 5, 5, false, nil, cargo.ActionTransfer},
		{"hop is later stop", 7, 5, true, cargo.NextHops{6, 7}, cargo.ActionKeep},
		{"hop unreachable from here", 9, 5, true, cargo.NextHops{6, 7}, cargo.ActionTransfer},
	}
	for _, tc := range cases {
		if got := cargo.ChooseAction(cp, tc.cargoNext, tc.current, tc.accepted, tc.next); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStage_ClassifiesByRoute(t *testing.T) {
	pool := cargo.NewPool(16)
	vc := cargo.NewVehicleCargo(pool)

	// Origin 1 routes to the arrival station, origin 2 to a later stop,
	// origin 3 somewhere the vehicle won't go.
	route := routeStub{1: 5, 2: 7, 3: 9}
	appendStaged(t, pool, vc, 30, 1, cargo.ActionKeep, 0)
	appendStaged(t, pool, vc, 20, 2, cargo.ActionKeep, 0)
	appendStaged(t, pool, vc, 10, 3, cargo.ActionKeep, 0)

	unloads := vc.Stage(true, 5, cargo.NextHops{6, 7}, 0, route)
	if !unloads {
		t.Fatalf("Stage found nothing to unload")
	}
	checkPartition(t, vc)
	if vc.ActionCount(cargo.ActionDeliver) != 30 {
		t.Fatalf("deliver = %d, want 30", vc.ActionCount(cargo.ActionDeliver))
	}
	if vc.ActionCount(cargo.ActionKeep) != 20 {
		t.Fatalf("keep = %d, want 20", vc.ActionCount(cargo.ActionKeep))
	}
	if vc.ActionCount(cargo.ActionTransfer) != 10 {
		t.Fatalf("transfer = %d, want 10", vc.ActionCount(cargo.ActionTransfer))
	}
	for _, cp := range vc.Packets(cargo.ActionTransfer) {
		if cp.NextHop() != 9 {
			t.Fatalf("transfer packet hop = %d, want 9", cp.NextHop())
		}
	}
}

func TestStage_OrderFlags(t *testing.T) {
	pool := cargo.NewPool(16)
	route := routeStub{1: 5}

	vc := cargo.NewVehicleCargo(pool)
	appendStaged(t, pool, vc, 40, 1, cargo.ActionKeep, 0)
	if vc.Stage(true, 5, nil, cargo.OrderFlagNoUnload, route) {
		t.Fatalf("no-unload order still staged cargo for unloading")
	}
	if vc.ActionCount(cargo.ActionKeep) != 40 {
		t.Fatalf("keep = %d, want 40", vc.ActionCount(cargo.ActionKeep))
	}

	// Forced transfer at an accepting station must still transfer, with the
	// onward hop excluding the current station.
	vc2 := cargo.NewVehicleCargo(pool)
	appendStaged(t, pool, vc2, 40, 1, cargo.ActionKeep, 0)
	vc2.Stage(true, 5, nil, cargo.OrderFlagTransfer, route)
	if vc2.ActionCount(cargo.ActionTransfer) != 40 {
		t.Fatalf("transfer = %d, want 40", vc2.ActionCount(cargo.ActionTransfer))
	}
	if hop := vc2.Packets(cargo.ActionTransfer)[0].NextHop(); hop != cargo.AnyStation {
		t.Fatalf("forced transfer hop = %d, want wildcard", hop)
	}
	checkPartition(t, vc2)
}

func TestUnload_MovesDeliverAndTransferOnly(t *testing.T) {
	pool := cargo.NewPool(32)
	vc := cargo.NewVehicleCargo(pool)
	st := cargo.NewStationCargo(pool)

	appendStaged(t, pool, vc, 30, 1, cargo.ActionDeliver, 0)
	appendStaged(t, pool, vc, 20, 2, cargo.ActionTransfer, 7)
	appendStaged(t, pool, vc, 50, 3, cargo.ActionKeep, 0)
	checkPartition(t, vc)

	pay := &ledgerStub{}
	moved, err := vc.Unload(1000, st, pay)
	if err != nil {
		t.Fatalf("unload: %v", err)
	}
	if moved != 50 {
		t.Fatalf("moved = %d, want 50", moved)
	}
	if vc.ActionCount(cargo.ActionDeliver) != 0 || vc.ActionCount(cargo.ActionTransfer) != 0 {
		t.Fatalf("unload left deliver=%d transfer=%d", vc.ActionCount(cargo.ActionDeliver), vc.ActionCount(cargo.ActionTransfer))
	}
	if vc.ActionCount(cargo.ActionKeep) != 50 || vc.TotalCount() != 50 {
		t.Fatalf("keep = %d total = %d, want 50/50", vc.ActionCount(cargo.ActionKeep), vc.TotalCount())
	}
	if pay.delivered != 30 {
		t.Fatalf("delivered = %d, want 30", pay.delivered)
	}
	if st.AvailableCount() != 20 || !st.HasCargoFor(cargo.NextHops{7}) {
		t.Fatalf("station got %d units, bucket 7 present=%v", st.AvailableCount(), st.HasCargoFor(cargo.NextHops{7}))
	}
	checkPartition(t, vc)
}

func TestUnload_ShortfallMovesLess(t *testing.T) {
	pool := cargo.NewPool(32)
	vc := cargo.NewVehicleCargo(pool)
	st := cargo.NewStationCargo(pool)
	appendStaged(t, pool, vc, 60, 1, cargo.ActionTransfer, 7)
	appendStaged(t, pool, vc, 30, 2, cargo.ActionDeliver, 0)

	pay := &ledgerStub{}
	moved, err := vc.Unload(75, st, pay)
	if err != nil {
		t.Fatalf("unload: %v", err)
	}
	if moved != 75 {
		t.Fatalf("moved = %d, want 75", moved)
	}
	// Transfer bucket drained first, then the deliver packet was reduced.
	if st.AvailableCount() != 60 {
		t.Fatalf("station = %d, want 60", st.AvailableCount())
	}
	if pay.delivered != 15 {
		t.Fatalf("delivered = %d, want 15", pay.delivered)
	}
	if vc.ActionCount(cargo.ActionDeliver) != 15 {
		t.Fatalf("deliver remainder = %d, want 15", vc.ActionCount(cargo.ActionDeliver))
	}
	checkPartition(t, vc)
}

func TestTransfer_CreditsFeederShare(t *testing.T) {
	pool := cargo.NewPool(16)
	vc := cargo.NewVehicleCargo(pool)
	cp := appendStaged(t, pool, vc, 20, 2, cargo.ActionTransfer, 7)

	pay := &ledgerStub{creditPerUnit: 3}
	vc.Transfer(pay)
	if cp.FeederShare() != 60 {
		t.Fatalf("packet share = %d, want 60", cp.FeederShare())
	}
	if vc.FeederShare() != 60 {
		t.Fatalf("container share = %d, want 60", vc.FeederShare())
	}
	if pay.transferUnits != 20 {
		t.Fatalf("paid units = %d, want 20", pay.transferUnits)
	}
}

func TestShift_PreservesActionsAndMerges(t *testing.T) {
	pool := cargo.NewPool(32)
	src := cargo.NewVehicleCargo(pool)
	dst := cargo.NewVehicleCargo(pool)

	appendStaged(t, pool, src, 40, 1, cargo.ActionKeep, 0)
	appendStaged(t, pool, dst, 10, 1, cargo.ActionKeep, 0)

	moved, err := src.Shift(1000, dst)
	if err != nil {
		t.Fatalf("shift: %v", err)
	}
	if moved != 40 || src.TotalCount() != 0 || dst.TotalCount() != 50 {
		t.Fatalf("moved=%d src=%d dst=%d", moved, src.TotalCount(), dst.TotalCount())
	}
	// Same origin, same age, same load place: one merged packet.
	if n := len(dst.Packets(cargo.ActionKeep)); n != 1 {
		t.Fatalf("destination keep packets = %d, want 1 after merge", n)
	}
	checkPartition(t, src)
	checkPartition(t, dst)
}

func TestTruncate_DiscardsFromTail(t *testing.T) {
	pool := cargo.NewPool(32)
	vc := cargo.NewVehicleCargo(pool)
	appendStaged(t, pool, vc, 30, 1, cargo.ActionKeep, 0)
	appendStaged(t, pool, vc, 20, 2, cargo.ActionKeep, 0)

	if got := vc.Truncate(25); got != 25 {
		t.Fatalf("truncated = %d, want 25", got)
	}
	if vc.TotalCount() != 25 {
		t.Fatalf("total = %d, want 25", vc.TotalCount())
	}
	// The newer packet goes first.
	keep := vc.Packets(cargo.ActionKeep)
	if len(keep) != 1 || keep[0].Count() != 25 || keep[0].SourceStation() != 1 {
		t.Fatalf("unexpected survivors: %+v", keep)
	}
	checkPartition(t, vc)

	if got := vc.Truncate(1000); got != 25 {
		t.Fatalf("full truncate = %d, want 25", got)
	}
	if pool.Live() != 0 {
		t.Fatalf("live packets = %d, want 0", pool.Live())
	}
}

func TestTruncate_RefusesReservedCargo(t *testing.T) {
	pool := cargo.NewPool(16)
	vc := cargo.NewVehicleCargo(pool)
	appendStaged(t, pool, vc, 10, 1, cargo.ActionLoad, 7)

	defer func() {
		if recover() == nil {
			t.Fatalf("Truncate discarded reserved cargo without panicking")
		}
	}()
	vc.Truncate(5)
}

func TestReroute_RewritesOnlyAvoided(t *testing.T) {
	pool := cargo.NewPool(16)
	vc := cargo.NewVehicleCargo(pool)
	hit := appendStaged(t, pool, vc, 30, 1, cargo.ActionTransfer, 5)
	miss := appendStaged(t, pool, vc, 20, 2, cargo.ActionTransfer, 6)

	total := vc.TotalCount()
	vc.Reroute(cargo.NewStationSet(5), routeStub{1: 8})
	if hit.NextHop() != 8 {
		t.Fatalf("rerouted hop = %d, want 8", hit.NextHop())
	}
	if miss.NextHop() != 6 {
		t.Fatalf("untouched packet rerouted to %d", miss.NextHop())
	}
	if vc.TotalCount() != total {
		t.Fatalf("reroute changed total: %d -> %d", total, vc.TotalCount())
	}
}

func TestKeepAll_AfterAbortedLoad(t *testing.T) {
	pool := cargo.NewPool(16)
	vc := cargo.NewVehicleCargo(pool)
	appendStaged(t, pool, vc, 10, 1, cargo.ActionDeliver, 0)
	appendStaged(t, pool, vc, 15, 2, cargo.ActionTransfer, 7)
	appendStaged(t, pool, vc, 5, 3, cargo.ActionLoad, 7)

	vc.KeepAll()
	checkPartition(t, vc)
	if vc.ActionCount(cargo.ActionKeep) != 30 || vc.TotalCount() != 30 {
		t.Fatalf("keep = %d total = %d, want 30/30", vc.ActionCount(cargo.ActionKeep), vc.TotalCount())
	}
	for _, cp := range vc.Packets(cargo.ActionKeep) {
		_ = cp.LoadedAt() // must not panic: tags normalized
	}
}

func TestKeep_PartialFromDeliver(t *testing.T) {
	pool := cargo.NewPool(16)
	vc := cargo.NewVehicleCargo(pool)
	appendStaged(t, pool, vc, 40, 1, cargo.ActionDeliver, 0)

	moved, err := vc.Keep(cargo.ActionDeliver, 15)
	if err != nil {
		t.Fatalf("keep: %v", err)
	}
	if moved != 15 {
		t.Fatalf("moved = %d, want 15", moved)
	}
	if vc.ActionCount(cargo.ActionDeliver) != 25 || vc.ActionCount(cargo.ActionKeep) != 15 {
		t.Fatalf("deliver=%d keep=%d, want 25/15", vc.ActionCount(cargo.ActionDeliver), vc.ActionCount(cargo.ActionKeep))
	}
	checkPartition(t, vc)
}

func TestAgeCargo_SaturatesAndTracksCache(t *testing.T) {
	pool := cargo.NewPool(16)
	vc := cargo.NewVehicleCargo(pool)
	cp, err := pool.Restore(10, 0, 254, cargo.Source{}, 1, 100, cargo.LocLoadedAt, 100)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	vc.Append(cp, cargo.ActionKeep)

	vc.AgeCargo()
	if cp.DaysInTransit() != 255 || vc.DaysInTransit() != 255 {
		t.Fatalf("days = %d cache = %d, want 255/255", cp.DaysInTransit(), vc.DaysInTransit())
	}
	vc.AgeCargo()
	if cp.DaysInTransit() != 255 {
		t.Fatalf("age counter overflowed: %d", cp.DaysInTransit())
	}
}

func TestInvalidateCache_MatchesIncremental(t *testing.T) {
	pool := cargo.NewPool(32)
	vc := cargo.NewVehicleCargo(pool)
	appendStaged(t, pool, vc, 30, 1, cargo.ActionKeep, 0)
	appendStaged(t, pool, vc, 20, 2, cargo.ActionTransfer, 7)
	// Credit the transfer leg through the container so the incremental share
	// total moves together with the packet's.
	vc.Transfer(&ledgerStub{creditPerUnit: 25})

	total, days, share := vc.TotalCount(), vc.DaysInTransit(), vc.FeederShare()
	if share != 500 {
		t.Fatalf("share = %d, want 500", share)
	}
	vc.InvalidateCache()
	if vc.TotalCount() != total || vc.DaysInTransit() != days || vc.FeederShare() != share {
		t.Fatalf("recompute diverged: %d/%d/%d vs %d/%d/%d",
			vc.TotalCount(), vc.DaysInTransit(), vc.FeederShare(), total, days, share)
	}
	checkPartition(t, vc)
}
