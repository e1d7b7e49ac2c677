// Package observer serves the read-only observer surface: a bootstrap
// endpoint with the static network description and a websocket stream of
// per-tick summaries. Both are loopback-only; the observer UI is a local
// tool, not a public API.
package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"freightsim.dev/internal/protocol"
)

type subscriber struct {
	out     chan []byte
	classes map[string]struct{} // empty: everything
}

type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu        sync.Mutex
	subs      map[uint64]*subscriber
	bootstrap protocol.BootstrapResponse
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log:  logger,
		subs: make(map[uint64]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// SetBootstrap stores the response served by the bootstrap endpoint. The sim
// loop refreshes it; handlers only read the stored copy.
func (s *Server) SetBootstrap(resp protocol.BootstrapResponse) {
	s.mu.Lock()
	s.bootstrap = resp
	s.mu.Unlock()
}

// Broadcast fans one tick summary out to every subscriber. Slow clients are
// skipped, never waited on.
func (s *Server) Broadcast(msg protocol.TickMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) == 0 {
		return
	}

	var full []byte
	for _, sub := range s.subs {
		b := full
		if len(sub.classes) > 0 {
			b, _ = json.Marshal(filterTick(msg, sub.classes))
		} else if b == nil {
			full, _ = json.Marshal(msg)
			b = full
		}
		select {
		case sub.out <- b:
		default:
			// Client is behind; it catches up on the next tick.
		}
	}
}

func filterTick(msg protocol.TickMsg, classes map[string]struct{}) protocol.TickMsg {
	keep := func(class string) bool {
		_, ok := classes[class]
		return ok
	}

	out := msg
	out.Stations = make([]protocol.StationSummary, 0, len(msg.Stations))
	for _, st := range msg.Stations {
		fs := protocol.StationSummary{ID: st.ID}
		for _, g := range st.Goods {
			if keep(g.Class) {
				fs.Goods = append(fs.Goods, g)
			}
		}
		out.Stations = append(out.Stations, fs)
	}
	out.Vehicles = []protocol.VehicleSummary{}
	for _, v := range msg.Vehicles {
		if keep(v.Class) {
			out.Vehicles = append(out.Vehicles, v)
		}
	}
	out.Deliveries = nil
	for _, d := range msg.Deliveries {
		if keep(d.Class) {
			out.Deliveries = append(out.Deliveries, d)
		}
	}
	out.Discards = nil
	for _, d := range msg.Discards {
		if keep(d.Class) {
			out.Discards = append(out.Discards, d)
		}
	}
	return out
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := s.bootstrap
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := s.nextID.Add(1)
		sc := &subscriber{
			out:     make(chan []byte, normalizeBacklog(sub.MaxBacklog)),
			classes: classSet(sub.Classes),
		}
		s.mu.Lock()
		s.subs[id] = sc
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()

		done := make(chan struct{})
		defer close(done)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case b := <-sc.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var sub protocol.SubscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
				continue
			}
			s.mu.Lock()
			sc.classes = classSet(sub.Classes)
			s.mu.Unlock()
		}

		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func normalizeBacklog(n int) int {
	if n <= 0 {
		return 8
	}
	if n > 64 {
		return 64
	}
	return n
}

func classSet(classes []string) map[string]struct{} {
	if len(classes) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		c = strings.TrimSpace(c)
		if c != "" {
			set[c] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
