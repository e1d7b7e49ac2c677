package network

import (
	"fmt"
	"sort"

	"freightsim.dev/internal/sim/cargo"
	"freightsim.dev/internal/sim/routing"
	"freightsim.dev/internal/sim/tuning"
)

// GoodsEntry is one cargo class at one station: the waiting cargo, the
// acceptance flag, the local routing table and the production parameters.
type GoodsEntry struct {
	Class    string
	Accepted bool
	Cargo    *cargo.StationCargo
	Flows    *routing.FlowTable

	Rate     uint16
	SourceID cargo.SourceID
}

type Station struct {
	ID   cargo.StationID
	Name string
	XY   cargo.TileIndex

	Goods map[string]*GoodsEntry
}

func (s *Station) goodsFor(class string, pool *cargo.Pool) *GoodsEntry {
	ge := s.Goods[class]
	if ge == nil {
		ge = &GoodsEntry{
			Class: class,
			Cargo: cargo.NewStationCargo(pool),
			Flows: routing.NewFlowTable(),
		}
		s.Goods[class] = ge
	}
	return ge
}

type Vehicle struct {
	ID       string
	Class    string
	Capacity uint
	Hold     *cargo.VehicleCargo
	Stops    []cargo.StationID
	Flags    cargo.OrderFlags

	stop        int // index into Stops of the next arrival
	travel      int // ticks until that arrival
	travelTicks int
}

// AtStop is the station of the vehicle's next (or current) arrival.
func (v *Vehicle) AtStop() cargo.StationID { return v.Stops[v.stop] }

// nextHops is the ordered set of stops the vehicle still calls at after the
// current one, wrapping around the route, current station excluded.
func (v *Vehicle) nextHops() cargo.NextHops {
	hops := make(cargo.NextHops, 0, len(v.Stops)-1)
	for i := 1; i < len(v.Stops); i++ {
		s := v.Stops[(v.stop+i)%len(v.Stops)]
		if s != v.Stops[v.stop] && !hops.Contains(s) {
			hops = append(hops, s)
		}
	}
	return hops
}

// Network is the running simulation: a packet pool, stations, vehicles and
// the payment ledger, advanced synchronously one tick at a time on a single
// goroutine.
type Network struct {
	ID string

	pool     *cargo.Pool
	stations map[cargo.StationID]*Station
	order    []cargo.StationID
	vehicles []*Vehicle
	ledger   *Ledger

	tune tuning.Tuning
	tick uint64

	discards []DiscardRow
}

func New(def Definition, tune tuning.Tuning) (*Network, error) {
	n := &Network{
		ID:       def.ID,
		pool:     cargo.NewPool(tune.PoolCapacity),
		stations: make(map[cargo.StationID]*Station),
		ledger:   NewLedger(tune.DeliveryRatePerUnit, tune.TransferCreditPerUnit),
		tune:     tune,
	}
	for _, sd := range def.Stations {
		st := &Station{
			ID:    cargo.StationID(sd.ID),
			Name:  sd.Name,
			XY:    cargo.TileIndex(sd.XY),
			Goods: make(map[string]*GoodsEntry),
		}
		for _, class := range sd.Accepts {
			st.goodsFor(class, n.pool).Accepted = true
		}
		for _, p := range sd.Produces {
			ge := st.goodsFor(p.Class, n.pool)
			ge.Rate = p.Rate
			ge.SourceID = cargo.SourceID(p.SourceID)
		}
		for _, f := range sd.Flows {
			ge := st.goodsFor(f.Class, n.pool)
			flows := append(ge.Flows.Flows()[cargo.StationID(f.Origin)],
				routing.Flow{Via: cargo.StationID(f.Via), Share: f.Share})
			ge.Flows.SetFlows(cargo.StationID(f.Origin), flows...)
		}
		n.stations[st.ID] = st
		n.order = append(n.order, st.ID)
	}
	sort.Slice(n.order, func(i, j int) bool { return n.order[i] < n.order[j] })

	for _, vd := range def.Vehicles {
		flags, err := parseOrderFlags(vd.Orders)
		if err != nil {
			return nil, fmt.Errorf("vehicle %s: %w", vd.ID, err)
		}
		stops := make([]cargo.StationID, len(vd.Stops))
		for i, s := range vd.Stops {
			stops[i] = cargo.StationID(s)
		}
		travel := vd.TravelTicks
		if travel <= 0 {
			travel = 1
		}
		n.vehicles = append(n.vehicles, &Vehicle{
			ID:          vd.ID,
			Class:       vd.Class,
			Capacity:    vd.Capacity,
			Hold:        cargo.NewVehicleCargo(n.pool),
			Stops:       stops,
			Flags:       flags,
			travel:      travel,
			travelTicks: travel,
		})
	}
	return n, nil
}

func (n *Network) Tick() uint64          { return n.tick }
func (n *Network) Pool() *cargo.Pool     { return n.pool }
func (n *Network) Ledger() *Ledger       { return n.ledger }
func (n *Network) Vehicles() []*Vehicle  { return n.vehicles }
func (n *Network) Tuning() tuning.Tuning { return n.tune }

// Stations returns the stations in ascending ID order.
func (n *Network) Stations() []*Station {
	out := make([]*Station, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.stations[id])
	}
	return out
}

func (n *Network) Station(id cargo.StationID) *Station { return n.stations[id] }

// Step advances the simulation by one tick: cargo generation and aging on
// their cadences, vehicle movement, and the full arrival procedure at every
// stop reached this tick. The returned error is always pool exhaustion; the
// state stays consistent and the caller decides whether to carry on.
func (n *Network) Step() error {
	n.tick++

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if n.tick%uint64(n.tune.GenerateEveryTicks) == 0 {
		keep(n.generate())
	}
	if n.tick%uint64(n.tune.AgeEveryTicks) == 0 {
		n.ageCargo()
	}

	for _, v := range n.vehicles {
		v.travel--
		if v.travel > 0 {
			continue
		}
		keep(n.arrive(v))
		v.stop = (v.stop + 1) % len(v.Stops)
		v.travel = v.travelTicks
	}

	n.enforceStationCaps()
	return firstErr
}

func (n *Network) generate() error {
	var firstErr error
	for _, id := range n.order {
		st := n.stations[id]
		for _, class := range sortedClasses(st.Goods) {
			ge := st.Goods[class]
			if ge.Rate == 0 {
				continue
			}
			cp, err := n.pool.NewPacket(ge.Rate, st.ID, st.XY, cargo.Source{
				Type: cargo.SourceIndustry,
				ID:   ge.SourceID,
			})
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("generate at station %d: %w", st.ID, err)
				}
				continue
			}
			hop := ge.Flows.Via(st.ID, cargo.NewStationSet(st.ID))
			ge.Cargo.Append(cp, hop)
		}
	}
	return firstErr
}

func (n *Network) ageCargo() {
	for _, id := range n.order {
		for _, class := range sortedClasses(n.stations[id].Goods) {
			n.stations[id].Goods[class].Cargo.AgeCargo()
		}
	}
	for _, v := range n.vehicles {
		v.Hold.AgeCargo()
	}
}

// arrive runs the full stop procedure: stage, credit transfers, unload,
// then reserve and commit new load up to capacity.
func (n *Network) arrive(v *Vehicle) error {
	st := n.stations[v.AtStop()]
	if st == nil {
		// Stop vanished under the vehicle; keep everything on board.
		v.Hold.KeepAll()
		return nil
	}
	ge := st.goodsFor(v.Class, n.pool)
	next := v.nextHops()
	n.ledger.setContext(n.tick, v.Class, st.ID)

	v.Hold.Stage(ge.Accepted, st.ID, next, v.Flags, ge.Flows)
	v.Hold.Transfer(n.ledger)
	if _, err := v.Hold.Unload(n.tune.MaxUnloadPerStop, ge.Cargo, n.ledger); err != nil {
		return fmt.Errorf("unload %s at station %d: %w", v.ID, st.ID, err)
	}

	if free := v.Capacity - min(v.Capacity, v.Hold.RemainingCount()); free > 0 {
		// Even when Reserve comes up short, whatever it did move must be
		// committed or handed back before this stop ends: Stage refuses
		// uncommitted reservations on the vehicle's next arrival.
		_, rerr := ge.Cargo.Reserve(free, v.Hold, next)
		_, lerr := ge.Cargo.Load(free, v.Hold, st.XY, next)
		if rerr != nil || lerr != nil {
			if v.Hold.ReservedCount() > 0 {
				// Returning the full reservation never splits, so it cannot
				// hit the pool again.
				if _, err := v.Hold.Return(ge.Cargo, v.Hold.ReservedCount()); err != nil {
					return fmt.Errorf("return reservation for %s at station %d: %w", v.ID, st.ID, err)
				}
			}
			err := rerr
			if err == nil {
				err = lerr
			}
			return fmt.Errorf("load %s at station %d: %w", v.ID, st.ID, err)
		}
	}
	return nil
}

func (n *Network) enforceStationCaps() {
	for _, id := range n.order {
		st := n.stations[id]
		for _, class := range sortedClasses(st.Goods) {
			ge := st.Goods[class]
			if ge.Cargo.AvailableCount() <= n.tune.StationCargoCap {
				continue
			}
			tally := map[cargo.StationID]uint{}
			ge.Cargo.Truncate(ge.Cargo.AvailableCount()-n.tune.StationCargoCap, tally)
			for _, origin := range sortedStationIDs(tally) {
				n.discards = append(n.discards, DiscardRow{
					Tick:    n.tick,
					Class:   class,
					Origin:  origin,
					Station: st.ID,
					Units:   tally[origin],
				})
			}
		}
	}
}

// RemoveStation deletes a station from the network: flows through it are
// dropped, waiting and vehicle-held cargo is rerouted away from it, and
// origin attribution on every live packet is cleared.
func (n *Network) RemoveStation(id cargo.StationID) {
	if _, ok := n.stations[id]; !ok {
		return
	}
	delete(n.stations, id)
	for i, s := range n.order {
		if s == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}

	avoid := cargo.NewStationSet(id)
	for _, sid := range n.order {
		st := n.stations[sid]
		for _, class := range sortedClasses(st.Goods) {
			ge := st.Goods[class]
			ge.Flows.DropVia(id)
			ge.Cargo.Reroute(avoid, ge.Flows)
		}
	}
	for _, v := range n.vehicles {
		// Reroute against the tables of the vehicle's next stop, the closest
		// stand-in for the cargo's current decision point.
		var route cargo.RouteTable
		if st := n.stations[v.AtStop()]; st != nil {
			if ge := st.Goods[v.Class]; ge != nil {
				route = ge.Flows
			}
		}
		v.Hold.Reroute(avoid, route)
	}
	n.pool.InvalidateAllFromStation(id)
}

// DrainDiscards hands over the discard rows recorded since the last call.
func (n *Network) DrainDiscards() []DiscardRow {
	rows := n.discards
	n.discards = nil
	return rows
}

func sortedClasses(goods map[string]*GoodsEntry) []string {
	classes := make([]string, 0, len(goods))
	for c := range goods {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}

func sortedStationIDs(m map[cargo.StationID]uint) []cargo.StationID {
	ids := make([]cargo.StationID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
