package cargo

// Money is an amount in the smallest currency unit. Feeder shares are always
// non-negative; payment sinks may report negative incomes on their own side.
type Money int64

// StationID identifies a station in the transport network. AnyStation doubles
// as the wildcard next hop ("any destination is acceptable") and as the
// invalid/unknown station marker.
type StationID uint16

const AnyStation StationID = 0xFFFF

// TileIndex is an opaque map location. This package never decodes it; it only
// carries the value for origin and load-place attribution.
type TileIndex uint32

// SourceType says what kind of entity produced a packet.
type SourceType uint8

const (
	SourceIndustry SourceType = iota
	SourceTown
	SourceHeadquarters
)

// SourceID identifies the producing entity within its type.
type SourceID uint16

const InvalidSourceID SourceID = 0xFFFF

// Source is the production origin of a packet, kept for delivery statistics.
type Source struct {
	Type SourceType
	ID   SourceID
}

// Action is the disposition of vehicle-held cargo at the current stop.
type Action uint8

const (
	ActionTransfer Action = iota // unload here and continue by another vehicle
	ActionDeliver                // unload here for good
	ActionKeep                   // stay on board
	ActionLoad                   // reserved at the station, not yet committed
	numActions
)

func (a Action) String() string {
	switch a {
	case ActionTransfer:
		return "TRANSFER"
	case ActionDeliver:
		return "DELIVER"
	case ActionKeep:
		return "KEEP"
	case ActionLoad:
		return "LOAD"
	default:
		return "?"
	}
}

// NextHops is the ordered set of stations the calling order logic considers
// acceptable upcoming stops. Order matters for selection preference.
type NextHops []StationID

func (n NextHops) Contains(id StationID) bool {
	for _, s := range n {
		if s == id {
			return true
		}
	}
	return false
}

// StationSet is an unordered station set, used for reroute avoid lists.
type StationSet map[StationID]struct{}

func NewStationSet(ids ...StationID) StationSet {
	s := make(StationSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s StationSet) Contains(id StationID) bool {
	_, ok := s[id]
	return ok
}

// OrderFlags modify staging behavior at a stop.
type OrderFlags uint8

const (
	OrderFlagNoUnload OrderFlags = 1 << iota // keep everything on board
	OrderFlagUnload                          // force unloading even if not accepted
	OrderFlagTransfer                        // force transfer instead of delivery
)

// Payment accumulates money owed on delivery and transfer. Implementations
// are opaque to this package.
type Payment interface {
	// PayDelivery realizes final delivery of count units of cp, including the
	// packet's accumulated feeder share.
	PayDelivery(cp *Packet, count uint)
	// PayTransfer credits the leg just traveled and returns the amount to be
	// carried forward as additional feeder share on the packet.
	PayTransfer(cp *Packet, count uint) Money
}

// RouteTable supplies next-hop decisions. It is consumed here as an opaque
// input; this package never decides routes itself.
type RouteTable interface {
	// Via returns the station cargo originating at origin should head for
	// next, excluding everything in avoid. AnyStation when unknown.
	Via(origin StationID, avoid StationSet) StationID
}
