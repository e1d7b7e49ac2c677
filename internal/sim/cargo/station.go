package cargo

import "sort"

// StationCargo is the cargo waiting at one station for one cargo class,
// bucketed by intended next hop. The AnyStation bucket holds cargo that
// accepts any destination. Reserved cargo has physically moved into a
// vehicle's load bucket but is still accounted against this station.
type StationCargo struct {
	pool *Pool
	cache

	reserved uint
	buckets  map[StationID][]*Packet
}

func NewStationCargo(pool *Pool) *StationCargo {
	return &StationCargo{pool: pool, buckets: make(map[StationID][]*Packet)}
}

// AvailableCount is the cargo waiting for a vehicle, excluding reservations.
func (sc *StationCargo) AvailableCount() uint { return sc.count }

// ReservedCount is the cargo earmarked for a vehicle but not yet committed.
func (sc *StationCargo) ReservedCount() uint { return sc.reserved }

// TotalCount is everything accounted to this station, reservations included.
func (sc *StationCargo) TotalCount() uint { return sc.count + sc.reserved }

// SourceStation is the origin of the first waiting packet, AnyStation if none.
func (sc *StationCargo) SourceStation() StationID {
	for _, key := range sc.sortedKeys() {
		if b := sc.buckets[key]; len(b) > 0 {
			return b[0].sourceStation
		}
	}
	return AnyStation
}

// NextHopKeys lists the non-empty bucket keys in ascending order.
func (sc *StationCargo) NextHopKeys() []StationID { return sc.sortedKeys() }

// Packets exposes one next-hop bucket for iteration (persistence, observers).
// Callers must not mutate the slice or move packets behind the container's
// back.
func (sc *StationCargo) Packets(next StationID) []*Packet { return sc.buckets[next] }

func (sc *StationCargo) sortedKeys() []StationID {
	keys := make([]StationID, 0, len(sc.buckets))
	for key := range sc.buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (sc *StationCargo) placeInBucket(next StationID, cp *Packet) {
	b := sc.buckets[next]
	for i := len(b) - 1; i >= 0; i-- {
		if mergeable(b[i], cp) && sc.pool.TryMerge(b[i], cp) {
			return
		}
	}
	sc.buckets[next] = append(b, cp)
}

// Append takes ownership of cp and files it under the bucket for next,
// creating the bucket if absent. AnyStation files under the wildcard bucket.
func (sc *StationCargo) Append(cp *Packet, next StationID) {
	if cp == nil {
		panic("cargo: Append of nil packet")
	}
	cp.SetNextHop(next)
	sc.add(cp)
	sc.placeInBucket(next, cp)
}

// HasCargoFor reports whether any candidate next hop has waiting cargo.
// Wildcard cargo matches every candidate set.
func (sc *StationCargo) HasCargoFor(next NextHops) bool {
	for _, s := range next {
		if len(sc.buckets[s]) > 0 {
			return true
		}
	}
	return len(sc.buckets[AnyStation]) > 0
}

// stationMover is the destination side of the shared selection/move engine:
// it takes ownership of packets shiftCargo detaches and applies the
// accounting side effects of the concrete move kind.
type stationMover interface {
	move(cp *Packet)
}

// cargoLoad commits cargo straight into a vehicle's keep bucket, stamping the
// load place. Used where reservation semantics are unsupported.
type cargoLoad struct {
	dst       *VehicleCargo
	loadPlace TileIndex
}

func (a cargoLoad) move(cp *Packet) {
	cp.SetLoadPlace(a.loadPlace)
	a.dst.Append(cp, ActionKeep)
}

// cargoReservation earmarks cargo in a vehicle's load bucket. The packet
// keeps its next-hop tag so Return can restore the exact bucket; the load
// place is stamped when the load commits.
type cargoReservation struct {
	sc  *StationCargo
	dst *VehicleCargo
}

func (a cargoReservation) move(cp *Packet) {
	a.sc.reserved += uint(cp.count)
	a.dst.Append(cp, ActionLoad)
}

// shiftCargo is the engine under Reserve and Load: it walks the candidate
// buckets in preference order (wildcard last), detaches up to maxMove units,
// splitting the boundary packet when needed, and hands each packet to the
// mover. Returns the units actually moved; the only error is pool exhaustion.
func (sc *StationCargo) shiftCargo(m stationMover, maxMove uint, next NextHops) (uint, error) {
	moved := uint(0)
	keys := make([]StationID, 0, len(next)+1)
	keys = append(keys, next...)
	keys = append(keys, AnyStation)
	for _, key := range keys {
		for moved < maxMove && len(sc.buckets[key]) > 0 {
			b := sc.buckets[key]
			cp := b[0]
			take := uint(cp.count)
			if take > maxMove-moved {
				take = maxMove - moved
				part, err := sc.pool.Split(cp, uint16(take))
				if err != nil {
					return moved, err
				}
				cp = part
			} else {
				if len(b) == 1 {
					delete(sc.buckets, key)
				} else {
					sc.buckets[key] = b[1:]
				}
			}
			sc.remove(cp, take)
			m.move(cp)
			moved += take
		}
		if moved == maxMove {
			break
		}
	}
	return moved, nil
}

// Reserve earmarks up to maxMove units matching the candidate next hops for
// dst: the packets move into dst's load bucket and count as reserved here
// until the load commits or the reservation is returned.
func (sc *StationCargo) Reserve(maxMove uint, dst *VehicleCargo, next NextHops) (uint, error) {
	return sc.shiftCargo(cargoReservation{sc: sc, dst: dst}, maxMove, next)
}

// Load moves up to maxMove units into dst as committed load. Outstanding
// reservations held by dst commit first; only a vehicle without reservations
// loads fresh cargo from the buckets.
func (sc *StationCargo) Load(maxMove uint, dst *VehicleCargo, loadPlace TileIndex, next NextHops) (uint, error) {
	if commit := min(dst.ReservedCount(), maxMove, sc.reserved); commit > 0 {
		moved, err := dst.commitLoad(commit, loadPlace)
		sc.reserved -= moved
		return moved, err
	}
	return sc.shiftCargo(cargoLoad{dst: dst, loadPlace: loadPlace}, maxMove, next)
}

// acceptReturn takes back a packet from a vehicle's load bucket, undoing its
// reservation accounting. The packet still carries its next-hop tag.
func (sc *StationCargo) acceptReturn(cp *Packet) {
	n := uint(cp.count)
	if n > sc.reserved {
		panic("cargo: returned more cargo than was reserved")
	}
	sc.reserved -= n
	sc.Append(cp, cp.NextHop())
}

// Truncate discards up to maxMove units, oldest first within each bucket.
// When perOrigin is non-nil the discarded units are tallied against their
// origin station for downstream reporting.
func (sc *StationCargo) Truncate(maxMove uint, perOrigin map[StationID]uint) uint {
	remaining := maxMove
	for _, key := range sc.sortedKeys() {
		b := sc.buckets[key]
		for remaining > 0 && len(b) > 0 {
			cp := b[0]
			take := min(uint(cp.count), remaining)
			sc.remove(cp, take)
			if perOrigin != nil {
				perOrigin[cp.sourceStation] += take
			}
			if take == uint(cp.count) {
				b = b[1:]
				sc.pool.release(cp)
			} else {
				cp.Reduce(uint16(take))
			}
			remaining -= take
		}
		if len(b) == 0 {
			delete(sc.buckets, key)
		} else {
			sc.buckets[key] = b
		}
		if remaining == 0 {
			break
		}
	}
	return maxMove - remaining
}

// Reroute relocates every packet bucketed under a now-unreachable next hop
// into the bucket for its replacement hop. A structural move: the bucket key
// changes, the totals do not.
func (sc *StationCargo) Reroute(avoid StationSet, route RouteTable) {
	for key := range avoid {
		b, ok := sc.buckets[key]
		if !ok {
			continue
		}
		delete(sc.buckets, key)
		for _, cp := range b {
			hop := replacementVia(route, cp.sourceStation, avoid)
			cp.SetNextHop(hop)
			sc.placeInBucket(hop, cp)
		}
	}
}

// AgeCargo advances every waiting packet's time in transit by one step,
// saturating at the cap.
func (sc *StationCargo) AgeCargo() {
	for _, b := range sc.buckets {
		for _, cp := range b {
			if cp.age() {
				sc.days += uint(cp.count)
			}
		}
	}
}

// InvalidateCache recomputes the aggregate totals from the owned packets.
// The reserved count is untouched: reserved packets live in vehicle holds and
// are rebuilt by their side of the restore.
func (sc *StationCargo) InvalidateCache() {
	sc.reset()
	for _, b := range sc.buckets {
		for _, cp := range b {
			sc.add(cp)
		}
	}
}

// SetReserved force-sets the reserved count. Only the persistence layer may
// use it, when rebuilding a station whose reservations sit in restored
// vehicle holds.
func (sc *StationCargo) SetReserved(n uint) { sc.reserved = n }
