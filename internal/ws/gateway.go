package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"comms-service/internal/auth"
	"comms-service/internal/calls"
	"comms-service/internal/models"
	"comms-service/internal/observability"
	"comms-service/internal/presence"
)

// GatewayHandler owns the single bidirectional event channel per client:
// presence updates, message pushes, and call signaling all ride one
// socket.
type GatewayHandler struct {
	hub      *Hub
	verifier *auth.TokenVerifier
	presence *presence.Tracker
	calls    *calls.Coordinator
}

// NewGatewayHandler constructs a GatewayHandler.
func NewGatewayHandler(hub *Hub, verifier *auth.TokenVerifier, tracker *presence.Tracker, coordinator *calls.Coordinator) *GatewayHandler {
	return &GatewayHandler{hub: hub, verifier: verifier, presence: tracker, calls: coordinator}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pingInterval paces server pings; the pong handler feeds presence
// heartbeats, so without pings idle viewers would go stale.
const pingInterval = 30 * time.Second

// Handle authenticates, upgrades, and runs the connection's read loop.
func (h *GatewayHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("comms-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      identity.UserID,
		Meta:        meta,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	first := h.hub.AddClient(identity.UserID, conn, info)
	if first {
		h.presence.Connected(ctx, identity.UserID)
	}

	observability.IncWSActive("gateway")
	observability.IncWSEvent("gateway", "ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.gateway", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   wsEventPayload(info, "ws_connect", 0, ""),
	}, observability.BuildHeaders(meta.RequestID, traceID))

	done := make(chan struct{})
	go h.pingLoop(conn, pingInterval, done)
	go h.readLoop(ctx, conn, info, done)
}

// pingLoop sends ping control frames until the read loop signals done.
// WriteControl is safe alongside the hub's data writes, so this skips
// the per-client write lock.
func (h *GatewayHandler) pingLoop(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *GatewayHandler) readLoop(ctx context.Context, conn *websocket.Conn, info ConnInfo, done chan struct{}) {
	userID := info.UserID
	var closeReason string
	defer func() {
		close(done)
		last := h.hub.RemoveClient(userID, conn)
		if last {
			h.presence.Disconnected(context.Background(), userID)
			h.calls.Disconnected(userID)
		}
		observability.DecWSActive("gateway")
		observability.IncWSEvent("gateway", "ws_disconnect")
		_ = observability.PublishEvent(ctx, "ws_events.gateway", observability.EventEnvelope{
			EventType: "ws_events",
			EventName: "ws_disconnect",
			Payload:   wsEventPayload(info, "ws_disconnect", time.Since(info.ConnectedAt), closeReason),
		}, observability.BuildHeaders(info.Meta.RequestID, info.TraceID))
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		h.presence.Heartbeat(context.Background(), userID)
		return nil
	})

	for {
		var frame models.ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("gateway", "ws_error")
				h.publishWSErrorEvent(ctx, info, closeReason)
			}
			return
		}
		h.dispatch(ctx, userID, frame)
	}
}

func (h *GatewayHandler) dispatch(ctx context.Context, userID int, frame models.ClientFrame) {
	switch frame.Type {
	case models.FrameHeartbeat:
		h.presence.Heartbeat(ctx, userID)

	case models.FramePresenceUpdate:
		status := models.PresenceStatus(frame.Status)
		if !status.Valid() {
			h.pushError(userID, "invalid presence status")
			return
		}
		if err := h.presence.SetStatus(ctx, userID, status); err != nil {
			h.pushError(userID, "presence update failed")
		}

	case models.FrameCallJoin:
		if _, err := h.calls.Join(ctx, frame.CallID, frame.ChannelID, userID); err != nil {
			h.pushCallError(userID, frame.CallID, 0, "join rejected")
		}

	case models.FrameCallLeave:
		h.calls.Leave(frame.CallID, userID)

	case models.FrameCallOffer, models.FrameCallAnswer, models.FrameCallICE:
		eventType := relayEventType(frame.Type)
		err := h.calls.Relay(frame.CallID, eventType, userID, frame.TargetUserID, frame.Payload)
		if errors.Is(err, calls.ErrRecipientUnreachable) {
			h.pushCallError(userID, frame.CallID, frame.TargetUserID, "recipient unreachable")
		} else if err != nil {
			h.pushCallError(userID, frame.CallID, frame.TargetUserID, "relay rejected")
		}

	default:
		h.pushError(userID, "unknown frame type")
	}
}

func relayEventType(frameType string) string {
	switch frameType {
	case models.FrameCallOffer:
		return models.EventCallOffer
	case models.FrameCallAnswer:
		return models.EventCallAnswer
	default:
		return models.EventCallICECandidate
	}
}

func (h *GatewayHandler) pushError(userID int, reason string) {
	h.hub.Push(userID, models.Envelope{Type: models.EventError, Payload: gin.H{"reason": reason}})
}

func (h *GatewayHandler) pushCallError(userID int, callID string, targetID int, reason string) {
	h.hub.Push(userID, models.Envelope{
		Type: models.EventCallError,
		Payload: models.CallEventPayload{
			CallID:       callID,
			TargetUserID: targetID,
			Reason:       reason,
		},
	})
}

func (h *GatewayHandler) publishWSErrorEvent(ctx context.Context, info ConnInfo, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.gateway", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   wsEventPayload(info, "ws_error", time.Since(info.ConnectedAt), reason),
	}, observability.BuildHeaders(info.Meta.RequestID, info.TraceID))
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && (header[:7] == "Bearer " || header[:7] == "bearer ") {
		return header[7:]
	}
	return c.Query("token")
}
