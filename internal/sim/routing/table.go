// Package routing supplies next-hop decisions to the cargo core. The core
// consumes these through the cargo.RouteTable interface and never decides
// routes itself.
package routing

import (
	"sort"

	"freightsim.dev/internal/sim/cargo"
)

// Flow is one weighted routing choice: cargo from some origin continues via
// Via with relative weight Share.
type Flow struct {
	Via   cargo.StationID
	Share uint
}

// FlowTable maps cargo origins to weighted continuation hops for a single
// station and cargo class. The deterministic stand-in for a link-graph
// distribution: the highest-share hop not excluded wins, ties broken by
// station ID.
type FlowTable struct {
	flows map[cargo.StationID][]Flow
}

func NewFlowTable() *FlowTable {
	return &FlowTable{flows: make(map[cargo.StationID][]Flow)}
}

// SetFlows replaces the routing choices for cargo originating at origin.
// Zero-share entries are dropped.
func (t *FlowTable) SetFlows(origin cargo.StationID, flows ...Flow) {
	kept := make([]Flow, 0, len(flows))
	for _, f := range flows {
		if f.Share > 0 {
			kept = append(kept, f)
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Share != kept[j].Share {
			return kept[i].Share > kept[j].Share
		}
		return kept[i].Via < kept[j].Via
	})
	if len(kept) == 0 {
		delete(t.flows, origin)
		return
	}
	t.flows[origin] = kept
}

// DropVia removes a station from every flow, e.g. when it is deleted.
func (t *FlowTable) DropVia(via cargo.StationID) {
	for origin, flows := range t.flows {
		kept := flows[:0]
		for _, f := range flows {
			if f.Via != via {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(t.flows, origin)
		} else {
			t.flows[origin] = kept
		}
	}
}

// Flows exposes the table for persistence, keyed and ordered statefully.
func (t *FlowTable) Flows() map[cargo.StationID][]Flow { return t.flows }

// Via implements cargo.RouteTable.
func (t *FlowTable) Via(origin cargo.StationID, avoid cargo.StationSet) cargo.StationID {
	for _, f := range t.flows[origin] {
		if !avoid.Contains(f.Via) {
			return f.Via
		}
	}
	return cargo.AnyStation
}
