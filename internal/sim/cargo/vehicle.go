package cargo

import "fmt"

// VehicleCargo is the cargo held by one vehicle, partitioned into four action
// buckets. The unit counts of the buckets always sum to the total count; that
// invariant is checked after every mutator. Bucket order within a slice is
// arrival order, oldest first.
type VehicleCargo struct {
	pool *Pool
	cache

	feederShare Money
	buckets     [numActions][]*Packet
	counts      [numActions]uint
}

func NewVehicleCargo(pool *Pool) *VehicleCargo {
	return &VehicleCargo{pool: pool}
}

// TotalCount is all cargo in the vehicle, including reserved-but-uncommitted.
func (vc *VehicleCargo) TotalCount() uint { return vc.count }

// StoredCount is the cargo actually on board, excluding reservations.
func (vc *VehicleCargo) StoredCount() uint { return vc.count - vc.counts[ActionLoad] }

// ReservedCount is the cargo reserved at a station but not yet committed.
func (vc *VehicleCargo) ReservedCount() uint { return vc.counts[ActionLoad] }

// UnloadCount is the cargo leaving the vehicle at the current stop.
func (vc *VehicleCargo) UnloadCount() uint {
	return vc.counts[ActionTransfer] + vc.counts[ActionDeliver]
}

// RemainingCount is the cargo staying with the vehicle at the current stop.
func (vc *VehicleCargo) RemainingCount() uint {
	return vc.counts[ActionKeep] + vc.counts[ActionLoad]
}

func (vc *VehicleCargo) ActionCount(a Action) uint { return vc.counts[a] }

// FeederShare is the running total of money owed across all held packets.
func (vc *VehicleCargo) FeederShare() Money { return vc.feederShare }

// SourceStation is the origin of the oldest held packet, AnyStation if empty.
func (vc *VehicleCargo) SourceStation() StationID {
	for a := Action(0); a < numActions; a++ {
		if len(vc.buckets[a]) > 0 {
			return vc.buckets[a][0].sourceStation
		}
	}
	return AnyStation
}

// Packets exposes one action bucket for iteration (persistence, observers).
// Callers must not mutate the slice or move packets behind the container's
// back.
func (vc *VehicleCargo) Packets(a Action) []*Packet { return vc.buckets[a] }

func (vc *VehicleCargo) assertCounts() {
	if vc.counts[ActionTransfer]+vc.counts[ActionDeliver]+vc.counts[ActionKeep]+vc.counts[ActionLoad] != vc.count {
		panic(fmt.Sprintf("cargo: action counts %v out of sync with total %d", vc.counts, vc.count))
	}
}

func (vc *VehicleCargo) addToMeta(cp *Packet, a Action) {
	vc.add(cp)
	vc.counts[a] += uint(cp.count)
	vc.feederShare += cp.feederShare
}

// removeFromMeta drops n units of cp from the caches. The packet must still
// be unmodified so the prorated feeder share comes out right.
func (vc *VehicleCargo) removeFromMeta(cp *Packet, a Action, n uint) {
	if vc.counts[a] < n {
		panic("cargo: bucket count underflow")
	}
	vc.feederShare -= cp.FeederShareFor(n)
	vc.remove(cp, n)
	vc.counts[a] -= n
}

func (vc *VehicleCargo) placeInBucket(a Action, cp *Packet) {
	b := vc.buckets[a]
	for i := len(b) - 1; i >= 0; i-- {
		if mergeable(b[i], cp) && vc.pool.TryMerge(b[i], cp) {
			return
		}
	}
	vc.buckets[a] = append(b, cp)
}

// Append takes ownership of cp and files it under the given action.
func (vc *VehicleCargo) Append(cp *Packet, a Action) {
	if cp == nil {
		panic("cargo: Append of nil packet")
	}
	if a >= numActions {
		panic("cargo: Append with invalid action")
	}
	vc.addToMeta(cp, a)
	vc.placeInBucket(a, cp)
	vc.assertCounts()
}

// ChooseAction decides what happens to a packet arriving at a stop. cargoNext
// is the packet's committed next hop per the routing table, next the ordered
// set of acceptable upcoming stops. Pure; no state is touched.
func ChooseAction(cp *Packet, cargoNext, current StationID, accepted bool, next NextHops) Action {
	if cargoNext == AnyStation {
		// Undirected cargo is delivered wherever it is accepted, except
		// straight back to its own origin.
		if accepted && cp.sourceStation != current {
			return ActionDeliver
		}
		return ActionKeep
	}
	if cargoNext == current {
		if accepted {
			return ActionDeliver
		}
		// The hop ends here but the station won't take the cargo for good:
		// it continues from here by another vehicle.
		return ActionTransfer
	}
	if next.Contains(cargoNext) {
		return ActionKeep
	}
	return ActionTransfer
}

// Stage reclassifies every held packet for an arrival at current. It is the
// only entry point that moves cargo between the transfer, deliver and keep
// buckets; reserved cargo must have been committed or returned beforehand.
// Returns whether anything is now waiting to be unloaded.
func (vc *VehicleCargo) Stage(accepted bool, current StationID, next NextHops, flags OrderFlags, route RouteTable) bool {
	vc.assertCounts()
	if vc.counts[ActionLoad] != 0 {
		panic("cargo: Stage with uncommitted reserved cargo")
	}

	var all []*Packet
	for _, a := range []Action{ActionTransfer, ActionDeliver, ActionKeep} {
		all = append(all, vc.buckets[a]...)
		vc.buckets[a] = nil
		vc.counts[a] = 0
	}

	forceKeep := flags&OrderFlagNoUnload != 0
	forceUnload := flags&OrderFlagUnload != 0
	forceTransfer := flags&(OrderFlagTransfer|OrderFlagUnload) != 0

	for _, cp := range all {
		action := ActionKeep
		hop := AnyStation
		switch {
		case forceKeep:
			// keep
		case forceUnload && accepted && cp.sourceStation != current:
			action = ActionDeliver
		case forceTransfer:
			action = ActionTransfer
			hop = continuationVia(route, cp.sourceStation, current, next)
		default:
			if route != nil {
				hop = route.Via(cp.sourceStation, nil)
			}
			action = ChooseAction(cp, hop, current, accepted, next)
		}
		if action == ActionTransfer {
			cp.SetNextHop(hop)
		} else if cp.locTag == LocNextHop {
			// Transfer-staged at an earlier stop but never unloaded; the load
			// place is gone, so fall back to the origin.
			cp.SetLoadPlace(cp.sourceXY)
		}
		vc.counts[action] += uint(cp.count)
		vc.buckets[action] = append(vc.buckets[action], cp)
	}
	vc.assertCounts()
	return vc.counts[ActionTransfer] > 0 || vc.counts[ActionDeliver] > 0
}

// continuationVia picks the onward hop for forced transfers: the routing
// table's choice for the origin, excluding the station we are at and every
// stop the vehicle itself still calls at.
func continuationVia(route RouteTable, origin, current StationID, next NextHops) StationID {
	if route == nil {
		return AnyStation
	}
	avoid := NewStationSet(current)
	for _, s := range next {
		avoid[s] = struct{}{}
	}
	hop := route.Via(origin, avoid)
	if avoid.Contains(hop) {
		return AnyStation
	}
	return hop
}

// Transfer credits the leg just traveled for every transfer-staged packet.
// The packets stay on board until Unload physically moves them.
func (vc *VehicleCargo) Transfer(payment Payment) {
	for _, cp := range vc.buckets[ActionTransfer] {
		share := payment.PayTransfer(cp, uint(cp.count))
		if share != 0 {
			cp.AddFeederShare(share)
			vc.feederShare += share
		}
	}
}

// Unload moves up to maxMove units out of the vehicle: transfer-staged cargo
// into dest keyed by its next hop, deliver-staged cargo through the payment
// sink. Returns the units actually moved; short moves are normal. The only
// error is pool exhaustion while splitting, with state still consistent.
func (vc *VehicleCargo) Unload(maxMove uint, dest *StationCargo, payment Payment) (uint, error) {
	moved := uint(0)

	for moved < maxMove && len(vc.buckets[ActionTransfer]) > 0 {
		cp := vc.buckets[ActionTransfer][0]
		take := uint(cp.count)
		if take > maxMove-moved {
			take = maxMove - moved
			part, err := vc.pool.Split(cp, uint16(take))
			if err != nil {
				vc.assertCounts()
				return moved, err
			}
			cp = part
		} else {
			vc.buckets[ActionTransfer] = vc.buckets[ActionTransfer][1:]
		}
		vc.removeFromMeta(cp, ActionTransfer, take)
		dest.Append(cp, cp.NextHop())
		moved += take
	}

	for moved < maxMove && len(vc.buckets[ActionDeliver]) > 0 {
		cp := vc.buckets[ActionDeliver][0]
		take := min(uint(cp.count), maxMove-moved)
		vc.removeFromMeta(cp, ActionDeliver, take)
		payment.PayDelivery(cp, take)
		if take == uint(cp.count) {
			vc.buckets[ActionDeliver] = vc.buckets[ActionDeliver][1:]
			vc.pool.release(cp)
		} else {
			cp.Reduce(uint16(take))
		}
		moved += take
	}

	vc.assertCounts()
	return moved, nil
}

// Shift moves up to maxMove units into another vehicle's hold, e.g. between
// coupled units. Only cargo staying with the consist (keep and reserved) is
// eligible; actions are preserved so reservation accounting stays intact.
func (vc *VehicleCargo) Shift(maxMove uint, dest *VehicleCargo) (uint, error) {
	moved := uint(0)
	for _, a := range []Action{ActionKeep, ActionLoad} {
		for moved < maxMove && len(vc.buckets[a]) > 0 {
			b := vc.buckets[a]
			cp := b[len(b)-1]
			take := uint(cp.count)
			if take > maxMove-moved {
				take = maxMove - moved
				part, err := vc.pool.Split(cp, uint16(take))
				if err != nil {
					vc.assertCounts()
					return moved, err
				}
				cp = part
			} else {
				vc.buckets[a] = b[:len(b)-1]
			}
			vc.removeFromMeta(cp, a, take)
			dest.Append(cp, a)
			moved += take
		}
	}
	vc.assertCounts()
	return moved, nil
}

// Return hands reserved cargo back to the station, reversing a reservation.
// The packets still carry their next-hop tag, so they go back into the exact
// bucket they were reserved from.
func (vc *VehicleCargo) Return(dest *StationCargo, maxMove uint) (uint, error) {
	moved := uint(0)
	for moved < maxMove && len(vc.buckets[ActionLoad]) > 0 {
		cp := vc.buckets[ActionLoad][0]
		take := uint(cp.count)
		if take > maxMove-moved {
			take = maxMove - moved
			part, err := vc.pool.Split(cp, uint16(take))
			if err != nil {
				vc.assertCounts()
				return moved, err
			}
			cp = part
		} else {
			vc.buckets[ActionLoad] = vc.buckets[ActionLoad][1:]
		}
		vc.removeFromMeta(cp, ActionLoad, take)
		dest.acceptReturn(cp)
		moved += take
	}
	vc.assertCounts()
	return moved, nil
}

// commitLoad turns up to max units of reserved cargo into committed load:
// the packets move to the keep bucket and their location flips to the load
// place. The station adjusts its reserved count with the returned amount.
func (vc *VehicleCargo) commitLoad(max uint, loadPlace TileIndex) (uint, error) {
	moved := uint(0)
	for moved < max && len(vc.buckets[ActionLoad]) > 0 {
		cp := vc.buckets[ActionLoad][0]
		take := uint(cp.count)
		if take > max-moved {
			take = max - moved
			part, err := vc.pool.Split(cp, uint16(take))
			if err != nil {
				vc.assertCounts()
				return moved, err
			}
			cp = part
		} else {
			vc.buckets[ActionLoad] = vc.buckets[ActionLoad][1:]
		}
		vc.removeFromMeta(cp, ActionLoad, take)
		cp.SetLoadPlace(loadPlace)
		vc.addToMeta(cp, ActionKeep)
		vc.placeInBucket(ActionKeep, cp)
		moved += take
	}
	vc.assertCounts()
	return moved, nil
}

// Truncate discards up to maxMove units from the tail of the hold, shrinking
// or destroying packets. Used when capacity constraints force discard.
// Reserved cargo is off limits: the owning station still counts it, so it has
// to be committed or returned before any of it could be discarded.
func (vc *VehicleCargo) Truncate(maxMove uint) uint {
	if vc.counts[ActionLoad] != 0 {
		panic("cargo: Truncate with uncommitted reserved cargo")
	}
	remaining := maxMove
	for a := ActionLoad; a > 0; a-- {
		action := a - 1
		for remaining > 0 && len(vc.buckets[action]) > 0 {
			b := vc.buckets[action]
			cp := b[len(b)-1]
			take := min(uint(cp.count), remaining)
			vc.removeFromMeta(cp, action, take)
			if take == uint(cp.count) {
				vc.buckets[action] = b[:len(b)-1]
				vc.pool.release(cp)
			} else {
				cp.Reduce(uint16(take))
			}
			remaining -= take
		}
	}
	vc.assertCounts()
	return maxMove - remaining
}

// Reroute rewrites the next hop of every packet headed for a now-unreachable
// station, in place. Total quantity never changes.
func (vc *VehicleCargo) Reroute(avoid StationSet, route RouteTable) {
	for _, a := range []Action{ActionTransfer, ActionLoad} {
		for _, cp := range vc.buckets[a] {
			if avoid.Contains(cp.NextHop()) {
				cp.SetNextHop(replacementVia(route, cp.sourceStation, avoid))
			}
		}
	}
}

func replacementVia(route RouteTable, origin StationID, avoid StationSet) StationID {
	if route == nil {
		return AnyStation
	}
	hop := route.Via(origin, avoid)
	if avoid.Contains(hop) {
		return AnyStation
	}
	return hop
}

// Keep reclassifies up to maxMove units from the deliver or load bucket back
// to keep. Recovery path, e.g. aborting a load without a station to return to.
func (vc *VehicleCargo) Keep(from Action, maxMove uint) (uint, error) {
	if from != ActionDeliver && from != ActionLoad {
		panic("cargo: Keep only from deliver or load")
	}
	moved := uint(0)
	for moved < maxMove && len(vc.buckets[from]) > 0 {
		cp := vc.buckets[from][0]
		take := uint(cp.count)
		if take > maxMove-moved {
			take = maxMove - moved
			part, err := vc.pool.Split(cp, uint16(take))
			if err != nil {
				vc.assertCounts()
				return moved, err
			}
			cp = part
		} else {
			vc.buckets[from] = vc.buckets[from][1:]
		}
		vc.removeFromMeta(cp, from, take)
		if from == ActionLoad {
			// No load place was ever committed; fall back to the origin.
			cp.SetLoadPlace(cp.sourceXY)
		}
		vc.addToMeta(cp, ActionKeep)
		vc.placeInBucket(ActionKeep, cp)
		moved += take
	}
	vc.assertCounts()
	return moved, nil
}

// KeepAll marks every held packet as to be kept. Compatibility path for
// restoring old state; reserved cargo should be returned first where a
// station still exists.
func (vc *VehicleCargo) KeepAll() {
	for _, a := range []Action{ActionTransfer, ActionDeliver, ActionLoad} {
		for _, cp := range vc.buckets[a] {
			if cp.locTag == LocNextHop {
				cp.SetLoadPlace(cp.sourceXY)
			}
			vc.buckets[ActionKeep] = append(vc.buckets[ActionKeep], cp)
		}
		vc.counts[ActionKeep] += vc.counts[a]
		vc.counts[a] = 0
		vc.buckets[a] = nil
	}
	vc.assertCounts()
}

// AgeCargo advances every packet's time in transit by one step, saturating at
// the cap, and keeps the aggregate cache in step.
func (vc *VehicleCargo) AgeCargo() {
	for a := Action(0); a < numActions; a++ {
		for _, cp := range vc.buckets[a] {
			if cp.age() {
				vc.days += uint(cp.count)
			}
		}
	}
}

// InvalidateCache recomputes every cached total from the owned packets. Only
// needed after structural operations that bypass the incremental path, such
// as state restoration.
func (vc *VehicleCargo) InvalidateCache() {
	vc.reset()
	vc.feederShare = 0
	for a := Action(0); a < numActions; a++ {
		vc.counts[a] = 0
		for _, cp := range vc.buckets[a] {
			vc.add(cp)
			vc.counts[a] += uint(cp.count)
			vc.feederShare += cp.feederShare
		}
	}
	vc.assertCounts()
}
