package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"comms-service/internal/models"
	"comms-service/internal/observability"
)

const writeTimeout = 5 * time.Second

// client wraps a websocket connection with a write lock so pushes from
// concurrent fan-outs never interleave frames.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func marshalEnvelope(env models.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Hub maintains the active gateway connections keyed by user id. A user
// may hold several connections (one per device); pushes go to all of them.
type Hub struct {
	mu    sync.RWMutex
	users map[int]map[*websocket.Conn]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{users: make(map[int]map[*websocket.Conn]*client)}
}

// AddClient registers a connection for a user. Returns true when this is
// the user's first active connection.
func (h *Hub) AddClient(userID int, conn *websocket.Conn, info ConnInfo) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	first := len(h.users[userID]) == 0
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[*websocket.Conn]*client)
	}
	h.users[userID][conn] = &client{conn: conn, info: info}
	return first
}

// RemoveClient deregisters a connection. Returns true when the user has
// no remaining connections.
func (h *Hub) RemoveClient(userID int, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.users, userID)
			return true
		}
	}
	return len(h.users[userID]) == 0
}

// IsConnected reports whether the user has at least one active connection.
func (h *Hub) IsConnected(userID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// Push delivers an envelope to every connection of one user. Delivery is
// best-effort: a failed write closes and deregisters that connection.
func (h *Hub) Push(userID int, env models.Envelope) {
	payload, err := marshalEnvelope(env)
	if err != nil {
		log.Printf("envelope marshal error: %v", err)
		return
	}
	h.pushPayload(userID, env.Type, payload)
}

// PushMany delivers an envelope to every connection of each listed user.
func (h *Hub) PushMany(userIDs []int, env models.Envelope) {
	payload, err := marshalEnvelope(env)
	if err != nil {
		log.Printf("envelope marshal error: %v", err)
		return
	}
	for _, id := range userIDs {
		h.pushPayload(id, env.Type, payload)
	}
}

func (h *Hub) pushPayload(userID int, eventType string, payload []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.users[userID]))
	for _, cl := range h.users[userID] {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.write(payload); err != nil {
			log.Printf("websocket write error: %v", err)
			cl.conn.Close()
			h.RemoveClient(userID, cl.conn)
			h.publishWSError(cl.info, err)
			continue
		}
		observability.IncWSEvent("gateway", eventType)
	}
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	headers := observability.BuildHeaders(info.Meta.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.gateway", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   wsEventPayload(info, "ws_error", time.Since(info.ConnectedAt), err.Error()),
	}, headers)
	observability.IncWSEvent("gateway", "ws_error")
}

func wsEventPayload(info ConnInfo, event string, duration time.Duration, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "gateway",
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration.Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.Meta.DeviceID,
			"ip":        info.Meta.IP,
		},
	}
}
