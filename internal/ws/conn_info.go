package ws

import "time"

// ConnInfo carries per-connection metadata for audit events and metrics.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
