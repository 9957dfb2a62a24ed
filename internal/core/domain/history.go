package domain

import "time"

// HistoryEntry is what remains of a connection after it is disconnected.
type HistoryEntry struct {
	Conn           *Connection      `json:"-"`
	Info           ConnectionInfo   `json:"connection"`
	Reason         DisconnectReason `json:"reason"`
	DisconnectedAt time.Time        `json:"disconnected_at"`
}

// Duration is how long the connection was active.
func (e HistoryEntry) Duration() time.Duration {
	return e.DisconnectedAt.Sub(e.Info.ConnectedAt)
}
