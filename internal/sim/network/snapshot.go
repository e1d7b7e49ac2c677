package network

import (
	"fmt"
	"sort"

	"freightsim.dev/internal/persistence/snapshot"
	"freightsim.dev/internal/sim/cargo"
	"freightsim.dev/internal/sim/routing"
	"freightsim.dev/internal/sim/tuning"
)

// Snapshot captures the whole simulation state in the persistence format.
func (n *Network) Snapshot() snapshot.Snapshot {
	snap := snapshot.Snapshot{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			NetworkID: n.ID,
			Tick:      n.tick,
		},
		Tuning: n.tune,
		Ledger: snapshot.LedgerV1{
			Income:      int64(n.ledger.Income),
			FeederPaid:  int64(n.ledger.FeederPaid),
			Transferred: int64(n.ledger.Transferred),
		},
	}

	for _, id := range n.order {
		st := n.stations[id]
		sv := snapshot.StationV1{ID: uint16(st.ID), Name: st.Name, XY: uint32(st.XY)}
		for _, class := range sortedClasses(st.Goods) {
			ge := st.Goods[class]
			gv := snapshot.GoodsV1{
				Class:    class,
				Accepted: ge.Accepted,
				Rate:     ge.Rate,
				SourceID: uint16(ge.SourceID),
				Reserved: ge.Cargo.ReservedCount(),
			}
			for _, next := range ge.Cargo.NextHopKeys() {
				bv := snapshot.BucketV1{NextHop: uint16(next)}
				for _, cp := range ge.Cargo.Packets(next) {
					bv.Packets = append(bv.Packets, packetV1(cp))
				}
				gv.Buckets = append(gv.Buckets, bv)
			}
			gv.Flows = flowsV1(ge.Flows)
			sv.Goods = append(sv.Goods, gv)
		}
		snap.Stations = append(snap.Stations, sv)
	}

	for _, v := range n.vehicles {
		vv := snapshot.VehicleV1{
			ID:          v.ID,
			Class:       v.Class,
			Capacity:    v.Capacity,
			StopIndex:   v.stop,
			Travel:      v.travel,
			TravelTicks: v.travelTicks,
			Flags:       uint8(v.Flags),
		}
		for _, s := range v.Stops {
			vv.Stops = append(vv.Stops, uint16(s))
		}
		vv.Transfer = bucketV1(v.Hold, cargo.ActionTransfer)
		vv.Deliver = bucketV1(v.Hold, cargo.ActionDeliver)
		vv.Keep = bucketV1(v.Hold, cargo.ActionKeep)
		vv.Load = bucketV1(v.Hold, cargo.ActionLoad)
		snap.Vehicles = append(snap.Vehicles, vv)
	}
	return snap
}

func packetV1(cp *cargo.Packet) snapshot.PacketV1 {
	return snapshot.PacketV1{
		Count:         cp.Count(),
		FeederShare:   int64(cp.FeederShare()),
		DaysInTransit: cp.DaysInTransit(),
		SourceType:    uint8(cp.Source().Type),
		SourceID:      uint16(cp.Source().ID),
		SourceStation: uint16(cp.SourceStation()),
		SourceXY:      uint32(cp.SourceXY()),
		LocTag:        uint8(cp.LocTag()),
		Loc:           cp.RawLoc(),
	}
}

func bucketV1(hold *cargo.VehicleCargo, a cargo.Action) []snapshot.PacketV1 {
	var out []snapshot.PacketV1
	for _, cp := range hold.Packets(a) {
		out = append(out, packetV1(cp))
	}
	return out
}

func flowsV1(t *routing.FlowTable) []snapshot.FlowV1 {
	var origins []cargo.StationID
	for origin := range t.Flows() {
		origins = append(origins, origin)
	}
	sort.Slice(origins, func(i, j int) bool { return origins[i] < origins[j] })
	var out []snapshot.FlowV1
	for _, origin := range origins {
		for _, f := range t.Flows()[origin] {
			out = append(out, snapshot.FlowV1{Origin: uint16(origin), Via: uint16(f.Via), Share: f.Share})
		}
	}
	return out
}

// Restore rebuilds a network from a snapshot, then runs the migration hook
// for snapshots written by older format versions and recomputes every
// container cache from scratch.
func Restore(snap snapshot.Snapshot) (*Network, error) {
	tune := snap.Tuning
	if tune.PoolCapacity <= 0 {
		tune = tuning.Default()
	}
	n := &Network{
		ID:       snap.Header.NetworkID,
		pool:     cargo.NewPool(tune.PoolCapacity),
		stations: make(map[cargo.StationID]*Station),
		ledger:   NewLedger(tune.DeliveryRatePerUnit, tune.TransferCreditPerUnit),
		tune:     tune,
		tick:     snap.Header.Tick,
	}
	n.ledger.Income = cargo.Money(snap.Ledger.Income)
	n.ledger.FeederPaid = cargo.Money(snap.Ledger.FeederPaid)
	n.ledger.Transferred = cargo.Money(snap.Ledger.Transferred)

	for _, sv := range snap.Stations {
		st := &Station{
			ID:    cargo.StationID(sv.ID),
			Name:  sv.Name,
			XY:    cargo.TileIndex(sv.XY),
			Goods: make(map[string]*GoodsEntry),
		}
		for _, gv := range sv.Goods {
			ge := st.goodsFor(gv.Class, n.pool)
			ge.Accepted = gv.Accepted
			ge.Rate = gv.Rate
			ge.SourceID = cargo.SourceID(gv.SourceID)
			restoreFlows(ge.Flows, gv.Flows)
			for _, bv := range gv.Buckets {
				for _, pv := range bv.Packets {
					cp, err := restorePacket(n.pool, pv)
					if err != nil {
						return nil, fmt.Errorf("station %d: %w", sv.ID, err)
					}
					ge.Cargo.Append(cp, cargo.StationID(bv.NextHop))
				}
			}
			ge.Cargo.SetReserved(gv.Reserved)
		}
		n.stations[st.ID] = st
		n.order = append(n.order, st.ID)
	}
	sort.Slice(n.order, func(i, j int) bool { return n.order[i] < n.order[j] })

	for _, vv := range snap.Vehicles {
		stops := make([]cargo.StationID, len(vv.Stops))
		for i, s := range vv.Stops {
			stops[i] = cargo.StationID(s)
		}
		v := &Vehicle{
			ID:          vv.ID,
			Class:       vv.Class,
			Capacity:    vv.Capacity,
			Hold:        cargo.NewVehicleCargo(n.pool),
			Stops:       stops,
			Flags:       cargo.OrderFlags(vv.Flags),
			stop:        vv.StopIndex,
			travel:      vv.Travel,
			travelTicks: vv.TravelTicks,
		}
		buckets := [...]struct {
			action  cargo.Action
			packets []snapshot.PacketV1
		}{
			{cargo.ActionTransfer, vv.Transfer},
			{cargo.ActionDeliver, vv.Deliver},
			{cargo.ActionKeep, vv.Keep},
			{cargo.ActionLoad, vv.Load},
		}
		for _, b := range buckets {
			for _, pv := range b.packets {
				cp, err := restorePacket(n.pool, pv)
				if err != nil {
					return nil, fmt.Errorf("vehicle %s: %w", vv.ID, err)
				}
				v.Hold.Append(cp, b.action)
			}
		}
		n.vehicles = append(n.vehicles, v)
	}

	n.migrate(snap.Header.Version)
	return n, nil
}

func restorePacket(pool *cargo.Pool, pv snapshot.PacketV1) (*cargo.Packet, error) {
	return pool.Restore(
		pv.Count,
		cargo.Money(pv.FeederShare),
		pv.DaysInTransit,
		cargo.Source{Type: cargo.SourceType(pv.SourceType), ID: cargo.SourceID(pv.SourceID)},
		cargo.StationID(pv.SourceStation),
		cargo.TileIndex(pv.SourceXY),
		cargo.LocTag(pv.LocTag),
		pv.Loc,
	)
}

func restoreFlows(t *routing.FlowTable, flows []snapshot.FlowV1) {
	byOrigin := map[cargo.StationID][]routing.Flow{}
	for _, f := range flows {
		byOrigin[cargo.StationID(f.Origin)] = append(byOrigin[cargo.StationID(f.Origin)],
			routing.Flow{Via: cargo.StationID(f.Via), Share: f.Share})
	}
	for origin, fs := range byOrigin {
		t.SetFlows(origin, fs...)
	}
}

// migrate is the version-tagged migration hook, run once after a bulk
// restore. Version 1 stored the packet location field untagged; the tag is
// inferred from the owning bucket. Every restore ends with the full cache
// recompute, the recovery path for structural rebuilds.
func (n *Network) migrate(fromVersion int) {
	if fromVersion < 2 {
		for _, v := range n.vehicles {
			for _, cp := range v.Hold.Packets(cargo.ActionDeliver) {
				cp.SetLoadPlace(cargo.TileIndex(cp.RawLoc()))
			}
			for _, cp := range v.Hold.Packets(cargo.ActionKeep) {
				cp.SetLoadPlace(cargo.TileIndex(cp.RawLoc()))
			}
			for _, cp := range v.Hold.Packets(cargo.ActionTransfer) {
				cp.SetNextHop(cargo.StationID(cp.RawLoc()))
			}
			for _, cp := range v.Hold.Packets(cargo.ActionLoad) {
				cp.SetNextHop(cargo.StationID(cp.RawLoc()))
			}
		}
		// Station-held packets were already retagged by Append during the
		// rebuild; nothing further to do for them.
	}

	for _, id := range n.order {
		st := n.stations[id]
		for _, class := range sortedClasses(st.Goods) {
			st.Goods[class].Cargo.InvalidateCache()
		}
	}
	for _, v := range n.vehicles {
		v.Hold.InvalidateCache()
	}
}
