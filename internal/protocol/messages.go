package protocol

// Client -> Server. First message on the observer WS connection, and can be
// re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: restrict tick summaries to these cargo classes.
	Classes []string `json:"classes,omitempty"`

	// Buffered ticks the server may hold for a slow client before dropping.
	MaxBacklog int `json:"max_backlog,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	NetworkID       string        `json:"network_id"`
	Tick            uint64        `json:"tick"`
	NetworkParams   NetworkParams `json:"network_params"`
	Stations        []StationInfo `json:"stations"`
}

type NetworkParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	Stations   int `json:"stations"`
	Vehicles   int `json:"vehicles"`
}

type StationInfo struct {
	ID      uint16   `json:"id"`
	Name    string   `json:"name"`
	XY      uint32   `json:"xy"`
	Classes []string `json:"classes"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Stations []StationSummary `json:"stations"`
	Vehicles []VehicleSummary `json:"vehicles"`

	Deliveries []DeliverySummary `json:"deliveries,omitempty"`
	Discards   []DiscardSummary  `json:"discards,omitempty"`

	Income      int64 `json:"income"`
	FeederPaid  int64 `json:"feeder_paid"`
	Transferred int64 `json:"transferred"`
}

type StationSummary struct {
	ID    uint16         `json:"id"`
	Goods []GoodsSummary `json:"goods,omitempty"`
}

type GoodsSummary struct {
	Class         string `json:"class"`
	Waiting       uint   `json:"waiting"`
	Reserved      uint   `json:"reserved,omitempty"`
	DaysInTransit uint   `json:"days_in_transit,omitempty"`
}

type VehicleSummary struct {
	ID       string `json:"id"`
	Class    string `json:"class"`
	NextStop uint16 `json:"next_stop"`

	// Hold by staging action, in units.
	Transfer uint `json:"transfer,omitempty"`
	Deliver  uint `json:"deliver,omitempty"`
	Keep     uint `json:"keep,omitempty"`
	Load     uint `json:"load,omitempty"`

	FeederShare int64 `json:"feeder_share,omitempty"`
}

type DeliverySummary struct {
	Class   string `json:"class"`
	Origin  uint16 `json:"origin"`
	Station uint16 `json:"station"`
	Units   uint   `json:"units"`
	Income  int64  `json:"income"`
}

type DiscardSummary struct {
	Class   string `json:"class"`
	Origin  uint16 `json:"origin"`
	Station uint16 `json:"station"`
	Units   uint   `json:"units"`
}
