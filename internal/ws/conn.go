package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the minimal connection surface the registry needs. Extracting it
// keeps the registry testable without live sockets.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// safeConn wraps a gorilla connection with a write mutex. Fan-out from the
// registry and error replies from the read pump may target the same connection
// concurrently, and gorilla allows only one writer at a time.
type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSafeConn(conn *websocket.Conn) *safeConn {
	return &safeConn{conn: conn}
}

func (c *safeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *safeConn) Close() error {
	return c.conn.Close()
}
