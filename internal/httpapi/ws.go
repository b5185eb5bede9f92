package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsSendQueueSize = 32
)

// wsConn adapts a gorilla connection to broadcast.Conn. Writes go
// through a buffered queue drained by a single goroutine, so Send
// never blocks a publish: a full queue drops the payload instead.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn: conn,
		send: make(chan []byte, wsSendQueueSize),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsConn) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			_ = c.conn.Close()
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.shutdown()
			}
		}
	}
}

func (c *wsConn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// handleDiscoverySocket is the driver's new-ride feed. Anonymous
// connections may listen on the general group only; a verified driver
// with a valid token additionally joins the vehicle-class group that
// receives NEW_RIDE_AVAILABLE events.
func (s *Server) handleDiscoverySocket(w http.ResponseWriter, r *http.Request) {
	id, authErr := s.authenticate(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(conn)
	observability.WSConnections.Inc()

	groups := []string{broadcast.DiscoveryGeneral()}
	subscribedTo := broadcast.DiscoveryGeneral()
	if authErr == nil && id.Role == auth.RoleDriver && s.dispatch.DriverVerified(r.Context(), id.ID) {
		class := models.VehicleClass(r.URL.Query().Get("vehicle_type"))
		if !class.Valid() {
			class = models.ClassEconomy
		}
		groups = append(groups, broadcast.DiscoveryClass(class))
		subscribedTo = broadcast.DiscoveryClass(class)
	}
	for _, g := range groups {
		s.broadcast.Subscribe(g, c)
	}

	if hello, err := json.Marshal(map[string]string{"status": "Connected", "subscribed_to": subscribedTo}); err == nil {
		c.Send(hello)
	}

	s.readUntilClose(conn, nil)
	s.broadcast.UnsubscribeAll(c)
	c.shutdown()
	observability.WSConnections.Dec()
}

// handleTrackingSocket streams location/status events for one ride to
// its two parties. Non-parties are cut off before any group join.
func (s *Server) handleTrackingSocket(w http.ResponseWriter, r *http.Request) {
	s.handleRideScopedSocket(w, r, broadcast.RideGroup, nil)
}

// handleChatSocket relays in-ride chat. Inbound frames carry
// {"content": ...}; everything else about delivery matches tracking.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	s.handleRideScopedSocket(w, r, broadcast.ChatGroup, func(user auth.Identity, raw []byte) {
		var msg struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Content == "" {
			return
		}
		if err := s.dispatch.SendChatMessage(r.Context(), user, rideID, msg.Content); err != nil {
			s.logger.Warn("chat message rejected", "ride_id", rideID, "error", err)
		}
	})
}

func (s *Server) handleRideScopedSocket(w http.ResponseWriter, r *http.Request, group func(string) string, onMessage func(auth.Identity, []byte)) {
	rideID := mux.Vars(r)["ride_id"]

	user, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	party, err := s.dispatch.IsParty(r.Context(), user, rideID)
	if err != nil || !party {
		http.Error(w, "not authorized", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(conn)
	observability.WSConnections.Inc()
	s.broadcast.Subscribe(group(rideID), c)

	var handler func([]byte)
	if onMessage != nil {
		handler = func(raw []byte) { onMessage(user, raw) }
	}
	s.readUntilClose(conn, handler)

	s.broadcast.UnsubscribeAll(c)
	c.shutdown()
	observability.WSConnections.Dec()
}

// readUntilClose drains inbound frames until the peer goes away,
// handing each frame to onMessage when provided.
func (s *Server) readUntilClose(conn *websocket.Conn, onMessage func([]byte)) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if onMessage != nil {
			onMessage(raw)
		}
	}
}
