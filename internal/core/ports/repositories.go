package ports

import (
	"context"

	"dualgate/internal/core/domain"
)

// ConnectionRegistry holds active connections. Implementations must be safe for
// concurrent add/remove/iterate.
type ConnectionRegistry interface {
	Add(conn *domain.Connection) error
	Get(id domain.ConnectionID) (*domain.Connection, bool)
	// Remove atomically deletes and returns the connection.
	Remove(id domain.ConnectionID) (*domain.Connection, bool)
	FindBySourceID(sourceID string) (*domain.Connection, bool)
	Snapshot() []*domain.Connection
	Len() int
}

// HistoryRegistry keeps disconnected connections with their final counters.
type HistoryRegistry interface {
	// Record stores entry; a second entry for the same id is ignored.
	Record(entry domain.HistoryEntry) bool
	Get(id domain.ConnectionID) (domain.HistoryEntry, bool)
	List() []domain.HistoryEntry
	Len() int
}

// PresenceRegistry publishes which source ids are connected to this instance.
type PresenceRegistry interface {
	Register(ctx context.Context, info domain.ConnectionInfo) error
	Unregister(ctx context.Context, info domain.ConnectionInfo) error
	// Refresh extends the TTL of every listed registration.
	Refresh(ctx context.Context, infos []domain.ConnectionInfo) error
	// Lookup returns the instance currently serving sourceID.
	Lookup(ctx context.Context, sourceID string) (instanceID string, found bool, err error)
	Close(ctx context.Context) error
}
