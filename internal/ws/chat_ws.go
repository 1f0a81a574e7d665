package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"telemed-chat-service/internal/auth"
	"telemed-chat-service/internal/models"
	"telemed-chat-service/internal/observability"
	"telemed-chat-service/internal/repositories"
)

// ChatWebSocketHandler upgrades chat connections and runs their sessions.
type ChatWebSocketHandler struct {
	registry *Registry
	messages repositories.MessageRepository
	verifier auth.TokenVerifier
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(registry *Registry, messages repositories.MessageRepository, verifier auth.TokenVerifier) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{registry: registry, messages: messages, verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the caller, upgrades the connection and drives the
// delivery session until the peer disconnects.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("telemed-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycleEvent(ctx, "ws_connect", info, "", 0)

	// net/http cancels the request context once this handler returns, even
	// for hijacked connections. The session must not inherit that deadline:
	// store writes and disconnect events happen long after the upgrade.
	sessionCtx := context.WithoutCancel(ctx)
	go h.runSession(sessionCtx, newSafeConn(conn), info)
}

func (h *ChatWebSocketHandler) runSession(ctx context.Context, conn *safeConn, info ConnInfo) {
	session := NewSession(conn, h.registry, h.messages, info)
	var closeReason string

	defer func() {
		session.Close()
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishLifecycleEvent(ctx, "ws_disconnect", info, closeReason, time.Since(info.ConnectedAt).Milliseconds())
	}()

	for {
		_, payload, err := conn.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishLifecycleEvent(ctx, "ws_error", info, closeReason, time.Since(info.ConnectedAt).Milliseconds())
			}
			return
		}

		var event models.ChatEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			h.reportError(conn, "malformed event")
			continue
		}

		switch event.Type {
		case models.EventJoinRoom:
			observability.IncWSEvent(models.EventJoinRoom)
			if err := session.Join(event.Identity); err != nil {
				h.reportError(conn, err.Error())
			}
		case models.EventSendMessage:
			observability.IncWSEvent(models.EventSendMessage)
			if _, err := session.Send(ctx, event); err != nil {
				h.reportError(conn, err.Error())
			}
		default:
			h.reportError(conn, fmt.Sprintf("unknown event type %q", event.Type))
		}
	}
}

// reportError surfaces a failure to the originating session only.
func (h *ChatWebSocketHandler) reportError(conn Conn, reason string) {
	payload, err := json.Marshal(models.ErrorEvent(reason))
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *ChatWebSocketHandler) validateToken(ctx context.Context, header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.verifier.Verify(ctx, parts[1])
	}
	return "", fmt.Errorf("invalid token")
}

func publishLifecycleEvent(ctx context.Context, name string, info ConnInfo, reason string, durationMS int64) {
	_ = observability.PublishEvent(ctx, "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       name,
				"conn_id":     info.ConnID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
