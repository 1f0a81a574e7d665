package ws

import (
	"crypto/rand"
	"encoding/hex"
)

// newConnID generates the random id tying a connection's lifecycle events
// together.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
