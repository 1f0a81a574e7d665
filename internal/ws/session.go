package ws

import (
	"context"
	"errors"
	"fmt"

	"telemed-chat-service/internal/models"
	"telemed-chat-service/internal/repositories"
)

// State is the lifecycle position of a delivery session.
type State int

const (
	// StateConnected: live connection, no identity yet.
	StateConnected State = iota
	// StateJoined: associated with exactly one identity's room.
	StateJoined
	// StateClosed: terminal; the session accepts no further operations.
	StateClosed
)

var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrNotJoined       = errors.New("join a room before sending")
	ErrMissingIdentity = errors.New("identity is required")
	ErrMissingParties  = errors.New("sender and receiver are required")
	ErrEmptyMessage    = errors.New("message or attachment is required")
)

// Session bridges one connection to the message store and the room registry.
// It is driven by its connection's read pump, so transitions never run
// concurrently with each other.
type Session struct {
	conn     Conn
	registry *Registry
	messages repositories.MessageRepository
	info     ConnInfo
	state    State
	identity string
}

// NewSession creates a session in the Connected state.
func NewSession(conn Conn, registry *Registry, messages repositories.MessageRepository, info ConnInfo) *Session {
	return &Session{
		conn:     conn,
		registry: registry,
		messages: messages,
		info:     info,
		state:    StateConnected,
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Identity reports the joined identity, empty before join.
func (s *Session) Identity() string {
	return s.identity
}

// Join associates the session with an identity's room. Joining again replaces
// the previous association.
func (s *Session) Join(identity string) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if identity == "" {
		return ErrMissingIdentity
	}
	s.registry.Join(s.conn, identity, s.info)
	s.identity = identity
	s.state = StateJoined
	return nil
}

// Send persists the message and fans it out to both the receiver's room and
// the sender's own room, so other tabs of the sender render it too. The append
// happens first: if persistence fails nothing is emitted to anyone and the
// error goes back to this session only.
func (s *Session) Send(ctx context.Context, event models.ChatEvent) (models.Message, error) {
	switch s.state {
	case StateClosed:
		return models.Message{}, ErrSessionClosed
	case StateConnected:
		return models.Message{}, ErrNotJoined
	}
	if event.Sender == "" || event.Receiver == "" {
		return models.Message{}, ErrMissingParties
	}
	if event.Body == "" && event.FileURL == "" {
		return models.Message{}, ErrEmptyMessage
	}

	msg, err := s.messages.Append(ctx, event.Sender, event.Receiver, event.Body, event.FileURL, event.FileType)
	if err != nil {
		return models.Message{}, fmt.Errorf("store message: %w", err)
	}

	out := models.ReceiveEvent(msg)
	s.registry.Emit(msg.Receiver, out)
	if msg.Sender != msg.Receiver {
		s.registry.Emit(msg.Sender, out)
	}
	return msg, nil
}

// Close leaves the room and makes the session terminal. In-flight appends are
// unaffected; only future emits stop reaching this connection.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	s.registry.Leave(s.conn)
	s.state = StateClosed
}
