package ws

import "time"

// ConnInfo identifies one websocket connection in logs and broker events.
type ConnInfo struct {
	ConnID      string
	Kind        string
	RoomID      int
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
