package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telemed-chat-service/internal/models"
	"telemed-chat-service/internal/observability"
)

// Registry is the presence table mapping user identities to their live
// connections. Rooms are keyed by durable identity, not connection id, so that
// an emit reaches every open tab and device of the target user. The registry
// is injected by main and owned for the process lifetime; the store, not the
// registry, is the durability mechanism, so an emit to an empty room is dropped.
type Registry struct {
	rooms   map[string]map[Conn]bool
	members map[Conn]member
	mu      sync.RWMutex
}

type member struct {
	identity string
	info     ConnInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[Conn]bool),
		members: make(map[Conn]member),
	}
}

// Join associates a connection with an identity's room. A connection holds at
// most one association; joining again replaces the previous one.
func (r *Registry) Join(conn Conn, identity string, info ConnInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.members[conn]; ok {
		r.removeLocked(conn, prev.identity)
	}
	if _, ok := r.rooms[identity]; !ok {
		r.rooms[identity] = make(map[Conn]bool)
	}
	r.rooms[identity][conn] = true
	r.members[conn] = member{identity: identity, info: info}
}

// Leave removes every association for the connection. Called on disconnect.
func (r *Registry) Leave(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[conn]; ok {
		r.removeLocked(conn, m.identity)
	}
}

func (r *Registry) removeLocked(conn Conn, identity string) {
	if conns, ok := r.rooms[identity]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.rooms, identity)
		}
	}
	delete(r.members, conn)
}

// RoomSize reports the number of live connections joined to an identity.
func (r *Registry) RoomSize(identity string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[identity])
}

// Emit delivers the event to every connection joined to the identity. The room
// is snapshotted under the read lock and delivery happens outside it. A failed
// write closes and evicts that connection; remaining deliveries proceed.
func (r *Registry) Emit(identity string, event models.ChatEvent) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.rooms[identity]))
	for conn := range r.rooms[identity] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			r.publishWSError(identity, conn, err)
			r.Leave(conn)
		}
	}
}

func (r *Registry) publishWSError(identity string, conn Conn, err error) {
	r.mu.RLock()
	m, ok := r.members[conn]
	r.mu.RUnlock()
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"room":        identity,
			"event":       "ws_error",
			"conn_id":     m.info.ConnID,
			"duration_ms": time.Since(m.info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   m.identity,
			"device_id": m.info.DeviceID,
			"ip":        m.info.IP,
		},
	}

	headers := observability.BuildHeaders(m.info.RequestID, m.info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("ws_error")
}
