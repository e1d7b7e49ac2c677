package cargo

import "fmt"

// MaxPacketCount is the largest number of units a single packet may hold.
const MaxPacketCount uint16 = 0xFFFF

// MaxDaysInTransit is the saturation point of the per-packet age counter.
const MaxDaysInTransit uint8 = 0xFF

// LocTag says which meaning the packet's location field currently carries.
// The tag is tied to the owning container: vehicle-held cargo records where it
// was last loaded, station-held (and transfer-staged or reserved) cargo
// records the station it wants to go to next. Reading the field through the
// wrong accessor is a programmer error.
type LocTag uint8

const (
	LocNone     LocTag = iota // freshly created, not yet placed
	LocLoadedAt               // location the cargo was last loaded at
	LocNextHop                // station the cargo is headed for next
)

// Packet is an atomic batch of cargo from the same origin and time. Packets
// are owned by exactly one container at a time and are only created and
// destroyed through a Pool.
type Packet struct {
	count         uint16
	feederShare   Money
	daysInTransit uint8
	source        Source
	sourceStation StationID
	sourceXY      TileIndex
	locTag        LocTag
	loc           uint32

	handle Handle
}

func (cp *Packet) Count() uint16        { return cp.count }
func (cp *Packet) FeederShare() Money   { return cp.feederShare }
func (cp *Packet) DaysInTransit() uint8 { return cp.daysInTransit }
func (cp *Packet) Source() Source       { return cp.source }

// SourceStation is the station where the cargo first entered the network.
func (cp *Packet) SourceStation() StationID { return cp.sourceStation }

// SourceXY is the location of the cargo's first station.
func (cp *Packet) SourceXY() TileIndex { return cp.sourceXY }

// Handle is the generation-checked pool reference for this packet.
func (cp *Packet) Handle() Handle { return cp.handle }

// LocTag reports the current meaning of the location field. Persistence needs
// the raw tag; everything else should use LoadedAt or NextHop.
func (cp *Packet) LocTag() LocTag { return cp.locTag }

// RawLoc is the undecoded location field, for persistence only.
func (cp *Packet) RawLoc() uint32 { return cp.loc }

// LoadedAt is the location the cargo was last loaded at. Only valid while the
// packet is vehicle-held with a committed load.
func (cp *Packet) LoadedAt() TileIndex {
	if cp.locTag != LocLoadedAt {
		panic(fmt.Sprintf("cargo: LoadedAt read with tag %d", cp.locTag))
	}
	return TileIndex(cp.loc)
}

// NextHop is the station the cargo wants to go to next. Only valid while the
// packet is station-held, reserved, or staged for transfer.
func (cp *Packet) NextHop() StationID {
	if cp.locTag != LocNextHop {
		panic(fmt.Sprintf("cargo: NextHop read with tag %d", cp.locTag))
	}
	return StationID(cp.loc)
}

// SetLoadPlace records where the packet was loaded and flips the location tag.
func (cp *Packet) SetLoadPlace(xy TileIndex) {
	cp.locTag = LocLoadedAt
	cp.loc = uint32(xy)
}

// SetNextHop records the packet's next hop and flips the location tag.
func (cp *Packet) SetNextHop(next StationID) {
	cp.locTag = LocNextHop
	cp.loc = uint32(next)
}

// AddFeederShare adds money owed to earlier carriers onto the packet.
func (cp *Packet) AddFeederShare(share Money) { cp.feederShare += share }

// FeederShareFor is the prorated feeder share for part units of the packet.
func (cp *Packet) FeederShareFor(part uint) Money {
	if part >= uint(cp.count) {
		return cp.feederShare
	}
	return cp.feederShare * Money(part) / Money(cp.count)
}

// Reduce shrinks the packet by n units in place, dropping the proportional
// feeder share. n must be less than the packet's count; a packet reduced to
// zero has to be released through the pool instead.
func (cp *Packet) Reduce(n uint16) {
	if n >= cp.count {
		panic("cargo: Reduce would empty the packet")
	}
	cp.feederShare -= cp.FeederShareFor(uint(n))
	cp.count -= n
}

func (cp *Packet) age() bool {
	if cp.daysInTransit >= MaxDaysInTransit {
		return false
	}
	cp.daysInTransit++
	return true
}

// mergeable reports whether two packets are indistinguishable for accounting
// purposes and may be coalesced without losing attribution.
func mergeable(a, b *Packet) bool {
	return a.daysInTransit == b.daysInTransit &&
		a.source == b.source &&
		a.sourceStation == b.sourceStation &&
		a.sourceXY == b.sourceXY &&
		a.locTag == b.locTag &&
		a.loc == b.loc
}
