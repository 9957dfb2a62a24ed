package memory

import (
	"sort"
	"sync"
	"sync/atomic"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

// ConnectionRegistry is the active connection map.
type ConnectionRegistry struct {
	conns sync.Map // domain.ConnectionID -> *domain.Connection
	count atomic.Int64
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{}
}

var _ ports.ConnectionRegistry = (*ConnectionRegistry)(nil)

func (r *ConnectionRegistry) Add(conn *domain.Connection) error {
	if _, loaded := r.conns.LoadOrStore(conn.ID, conn); loaded {
		return domain.ErrConnectionExists
	}
	r.count.Add(1)
	return nil
}

func (r *ConnectionRegistry) Get(id domain.ConnectionID) (*domain.Connection, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*domain.Connection), true
}

func (r *ConnectionRegistry) Remove(id domain.ConnectionID) (*domain.Connection, bool) {
	v, ok := r.conns.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	r.count.Add(-1)
	return v.(*domain.Connection), true
}

// FindBySourceID returns the lowest-id connection announcing sourceID.
func (r *ConnectionRegistry) FindBySourceID(sourceID string) (*domain.Connection, bool) {
	if sourceID == "" {
		return nil, false
	}
	var found *domain.Connection
	r.conns.Range(func(_, v any) bool {
		conn := v.(*domain.Connection)
		if conn.SourceID() == sourceID && (found == nil || conn.ID < found.ID) {
			found = conn
		}
		return true
	})
	return found, found != nil
}

// Snapshot returns the active connections ordered by id.
func (r *ConnectionRegistry) Snapshot() []*domain.Connection {
	conns := make([]*domain.Connection, 0, r.Len())
	r.conns.Range(func(_, v any) bool {
		conns = append(conns, v.(*domain.Connection))
		return true
	})
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns
}

func (r *ConnectionRegistry) Len() int {
	return int(r.count.Load())
}
