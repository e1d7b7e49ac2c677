package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Network routing/state.
	ErrNetworkBusy     = "E_NETWORK_BUSY"
	ErrNetworkNotFound = "E_NETWORK_NOT_FOUND"
	ErrNetworkDenied   = "E_NETWORK_DENIED"

	// Admin/query layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrNotFound   = "E_NOT_FOUND"
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrStale      = "E_STALE"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrNetworkBusy:     {},
	ErrNetworkNotFound: {},
	ErrNetworkDenied:   {},
	ErrBadRequest:      {},
	ErrNotFound:        {},
	ErrRateLimit:       {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
