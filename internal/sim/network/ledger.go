package network

import "freightsim.dev/internal/sim/cargo"

// DeliveryRow is one realized delivery, handed to the persistence index.
type DeliveryRow struct {
	Tick        uint64
	Class       string
	Origin      cargo.StationID
	Station     cargo.StationID
	Units       uint
	Income      cargo.Money
	FeederShare cargo.Money
}

// DiscardRow is cargo a station threw away under its waiting cap.
type DiscardRow struct {
	Tick    uint64
	Class   string
	Origin  cargo.StationID
	Station cargo.StationID
	Units   uint
}

// Ledger is the payment sink: it accumulates income on final delivery and
// grants the per-leg feeder credit on transfer. The arrival context (tick,
// class, station) is set by the orchestration loop before each stop.
type Ledger struct {
	deliveryRate   cargo.Money
	transferCredit cargo.Money

	tick    uint64
	class   string
	station cargo.StationID

	Income      cargo.Money
	FeederPaid  cargo.Money
	Transferred cargo.Money

	deliveries []DeliveryRow
}

func NewLedger(deliveryRatePerUnit, transferCreditPerUnit int64) *Ledger {
	return &Ledger{
		deliveryRate:   cargo.Money(deliveryRatePerUnit),
		transferCredit: cargo.Money(transferCreditPerUnit),
	}
}

func (l *Ledger) setContext(tick uint64, class string, station cargo.StationID) {
	l.tick = tick
	l.class = class
	l.station = station
}

// PayDelivery implements cargo.Payment. Income is the flat per-unit rate plus
// the packet's accumulated feeder share for the delivered part, which is paid
// out to the earlier carriers.
func (l *Ledger) PayDelivery(cp *cargo.Packet, count uint) {
	income := cargo.Money(count) * l.deliveryRate
	share := cp.FeederShareFor(count)
	l.Income += income
	l.FeederPaid += share
	l.deliveries = append(l.deliveries, DeliveryRow{
		Tick:        l.tick,
		Class:       l.class,
		Origin:      cp.SourceStation(),
		Station:     l.station,
		Units:       count,
		Income:      income,
		FeederShare: share,
	})
}

// PayTransfer implements cargo.Payment: the leg's credit is carried forward
// on the packet as feeder share and realized on final delivery.
func (l *Ledger) PayTransfer(cp *cargo.Packet, count uint) cargo.Money {
	credit := cargo.Money(count) * l.transferCredit
	l.Transferred += credit
	return credit
}

// DrainDeliveries hands over the delivery rows recorded since the last call.
func (l *Ledger) DrainDeliveries() []DeliveryRow {
	rows := l.deliveries
	l.deliveries = nil
	return rows
}
