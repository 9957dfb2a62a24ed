package memory

import (
	"sort"
	"sync"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

// HistoryRegistry keeps every disconnected connection for the life of the process.
type HistoryRegistry struct {
	entries map[domain.ConnectionID]domain.HistoryEntry
	mu      sync.RWMutex
}

func NewHistoryRegistry() *HistoryRegistry {
	return &HistoryRegistry{
		entries: make(map[domain.ConnectionID]domain.HistoryEntry),
	}
}

var _ ports.HistoryRegistry = (*HistoryRegistry)(nil)

func (r *HistoryRegistry) Record(entry domain.HistoryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.Info.ID]; exists {
		return false
	}
	r.entries[entry.Info.ID] = entry
	return true
}

func (r *HistoryRegistry) Get(id domain.ConnectionID) (domain.HistoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	return entry, ok
}

// List returns entries ordered by disconnect time, oldest first.
func (r *HistoryRegistry) List() []domain.HistoryEntry {
	r.mu.RLock()
	entries := make([]domain.HistoryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisconnectedAt.Equal(entries[j].DisconnectedAt) {
			return entries[i].Info.ID < entries[j].Info.ID
		}
		return entries[i].DisconnectedAt.Before(entries[j].DisconnectedAt)
	})
	return entries
}

func (r *HistoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
