package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"dispatch/internal/hub"
	"dispatch/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkWebSocketOrigin,
}

// allowedWebSocketOrigins contains the list of allowed origins for
// WebSocket connections. Configured via SetAllowedWebSocketOrigins at
// server start.
var allowedWebSocketOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
}

// SetAllowedWebSocketOrigins updates the allowed origins for WebSocket
// connections. Call this during server initialization with origins from
// config.
func SetAllowedWebSocketOrigins(origins []string) {
	if len(origins) > 0 {
		allowedWebSocketOrigins = origins
	}
}

// checkWebSocketOrigin validates the Origin header against allowed origins.
func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser clients
	}

	for _, allowed := range allowedWebSocketOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}

	log.Printf("ws: rejected connection from origin %s", origin)
	return false
}

// WSHandler upgrades trip-event subscriptions to WebSocket connections
// and pumps hub events to the client.
type WSHandler struct {
	engine *service.MatchingEngine
	events *hub.Hub
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(engine *service.MatchingEngine, events *hub.Hub) *WSHandler {
	return &WSHandler{engine: engine, events: events}
}

// Subscribe handles GET /v1/trips/:id/ws
//
// Authentication comes only from middleware-set context values; the
// trip must exist and belong to the caller (rider, assigned driver, or
// admin) before the connection is upgraded.
func (h *WSHandler) Subscribe(c *gin.Context) {
	tripID := c.Param("id")

	roleVal, _ := c.Get("role")
	role, _ := roleVal.(string)
	userVal, _ := c.Get("userID")
	userID, _ := userVal.(string)

	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}

	trip, err := h.engine.GetTrip(tripID)
	if err != nil {
		respondError(c, err)
		return
	}

	if !canAccessTrip(trip.RiderID, trip.AssignedDriverID, userID, role) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("upgrade websocket: %v", err)
		return
	}

	// Subscribe before any further state reads so the snapshot plus the
	// live stream covers every transition from here on.
	sub := h.events.Subscribe(tripID, trip.Status, trip.AssignedDriverID)

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

func canAccessTrip(riderID, assignedDriverID, userID, role string) bool {
	if strings.EqualFold(role, "admin") {
		return true
	}
	if riderID == userID {
		return true
	}
	if strings.EqualFold(role, "driver") {
		// Drivers may watch unassigned trips they were offered; once a
		// driver is assigned, only that driver keeps access.
		return assignedDriverID == "" || assignedDriverID == userID
	}
	return false
}

// writePump forwards hub events to the connection and keeps it alive
// with pings. It exits when the subscription closes or a write fails.
func (h *WSHandler) writePump(conn *websocket.Conn, sub *hub.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case evt, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "trip closed"))
				return
			}

			payload, err := json.Marshal(evt)
			if err != nil {
				log.Printf("marshal ws event: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes the connection until the client disconnects.
// Inbound messages carry no commands; the read loop exists for pong
// handling and disconnect detection.
func (h *WSHandler) readPump(conn *websocket.Conn, sub *hub.Subscription) {
	defer func() {
		h.events.Unsubscribe(sub)
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws unexpected close: %v", err)
			}
			return
		}
	}
}
