package main

import (
	"sort"

	"freightsim.dev/internal/protocol"
	"freightsim.dev/internal/sim/cargo"
	"freightsim.dev/internal/sim/network"
)

func buildBootstrap(n *network.Network) protocol.BootstrapResponse {
	resp := protocol.BootstrapResponse{
		ProtocolVersion: protocol.Version,
		NetworkID:       n.ID,
		Tick:            n.Tick(),
		NetworkParams: protocol.NetworkParams{
			TickRateHz: n.Tuning().TickRateHz,
			Stations:   len(n.Stations()),
			Vehicles:   len(n.Vehicles()),
		},
	}
	for _, st := range n.Stations() {
		info := protocol.StationInfo{
			ID:      uint16(st.ID),
			Name:    st.Name,
			XY:      uint32(st.XY),
			Classes: sortedClasses(st),
		}
		resp.Stations = append(resp.Stations, info)
	}
	return resp
}

func buildTickMsg(n *network.Network, deliveries []network.DeliveryRow, discards []network.DiscardRow) protocol.TickMsg {
	msg := protocol.TickMsg{
		Type:            protocol.TypeTick,
		ProtocolVersion: protocol.Version,
		Tick:            n.Tick(),
		Income:          int64(n.Ledger().Income),
		FeederPaid:      int64(n.Ledger().FeederPaid),
		Transferred:     int64(n.Ledger().Transferred),
	}

	for _, st := range n.Stations() {
		sum := protocol.StationSummary{ID: uint16(st.ID)}
		for _, class := range sortedClasses(st) {
			ge := st.Goods[class]
			if ge.Cargo.TotalCount() == 0 && !ge.Accepted && ge.Rate == 0 {
				continue
			}
			sum.Goods = append(sum.Goods, protocol.GoodsSummary{
				Class:         class,
				Waiting:       ge.Cargo.AvailableCount(),
				Reserved:      ge.Cargo.ReservedCount(),
				DaysInTransit: ge.Cargo.DaysInTransit(),
			})
		}
		msg.Stations = append(msg.Stations, sum)
	}

	for _, v := range n.Vehicles() {
		msg.Vehicles = append(msg.Vehicles, protocol.VehicleSummary{
			ID:          v.ID,
			Class:       v.Class,
			NextStop:    uint16(v.AtStop()),
			Transfer:    v.Hold.ActionCount(cargo.ActionTransfer),
			Deliver:     v.Hold.ActionCount(cargo.ActionDeliver),
			Keep:        v.Hold.ActionCount(cargo.ActionKeep),
			Load:        v.Hold.ActionCount(cargo.ActionLoad),
			FeederShare: int64(v.Hold.FeederShare()),
		})
	}

	for _, d := range deliveries {
		msg.Deliveries = append(msg.Deliveries, protocol.DeliverySummary{
			Class:   d.Class,
			Origin:  uint16(d.Origin),
			Station: uint16(d.Station),
			Units:   d.Units,
			Income:  int64(d.Income),
		})
	}
	for _, d := range discards {
		msg.Discards = append(msg.Discards, protocol.DiscardSummary{
			Class:   d.Class,
			Origin:  uint16(d.Origin),
			Station: uint16(d.Station),
			Units:   d.Units,
		})
	}
	return msg
}

func sortedClasses(st *network.Station) []string {
	classes := make([]string, 0, len(st.Goods))
	for class := range st.Goods {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
