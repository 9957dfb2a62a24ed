package memory

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dualgate/internal/core/domain"
)

func newConn(t *testing.T, id domain.ConnectionID) *domain.Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return domain.NewConnection(id, domain.PlainTransport{Conn: server}, time.Now())
}

func TestConnectionRegistry_AddGetRemove(t *testing.T) {
	r := NewConnectionRegistry()
	c := newConn(t, 1)

	require.NoError(t, r.Add(c))
	assert.ErrorIs(t, r.Add(c), domain.ErrConnectionExists)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Same(t, c, got)

	removed, ok := r.Remove(1)
	require.True(t, ok)
	assert.Same(t, c, removed)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Remove(1)
	assert.False(t, ok, "second remove must be a no-op")
	_, ok = r.Get(1)
	assert.False(t, ok)
}

func TestConnectionRegistry_ConcurrentRemoveHasOneWinner(t *testing.T) {
	r := NewConnectionRegistry()
	require.NoError(t, r.Add(newConn(t, 7)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Remove(7); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 0, r.Len())
}

func TestConnectionRegistry_FindBySourceID(t *testing.T) {
	r := NewConnectionRegistry()
	a, b, c := newConn(t, 3), newConn(t, 1), newConn(t, 2)
	a.SetSourceID("alice")
	b.SetSourceID("bob")
	c.SetSourceID("alice")
	for _, conn := range []*domain.Connection{a, b, c} {
		require.NoError(t, r.Add(conn))
	}

	got, ok := r.FindBySourceID("alice")
	require.True(t, ok)
	assert.Equal(t, domain.ConnectionID(2), got.ID)

	_, ok = r.FindBySourceID("carol")
	assert.False(t, ok)
	_, ok = r.FindBySourceID("")
	assert.False(t, ok)
}

func TestConnectionRegistry_SnapshotOrdered(t *testing.T) {
	r := NewConnectionRegistry()
	for _, id := range []domain.ConnectionID{5, 2, 9} {
		require.NoError(t, r.Add(newConn(t, id)))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, domain.ConnectionID(2), snap[0].ID)
	assert.Equal(t, domain.ConnectionID(5), snap[1].ID)
	assert.Equal(t, domain.ConnectionID(9), snap[2].ID)

	// removing during iteration of a snapshot is safe
	for _, c := range snap {
		r.Remove(c.ID)
	}
	assert.Equal(t, 0, r.Len())
}

func TestHistoryRegistry_RecordOnce(t *testing.T) {
	h := NewHistoryRegistry()
	c := newConn(t, 4)
	now := time.Now()

	first := domain.HistoryEntry{Conn: c, Info: c.Snapshot(), Reason: domain.ReasonTimeout, DisconnectedAt: now}
	second := first
	second.Reason = domain.ReasonAdmin

	assert.True(t, h.Record(first))
	assert.False(t, h.Record(second))

	got, ok := h.Get(4)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonTimeout, got.Reason)
	assert.Equal(t, 1, h.Len())
}

func TestHistoryRegistry_ListOrderedByDisconnectTime(t *testing.T) {
	h := NewHistoryRegistry()
	base := time.Now()
	for i, offset := range []time.Duration{3, 1, 2} {
		c := newConn(t, domain.ConnectionID(i+1))
		h.Record(domain.HistoryEntry{Info: c.Snapshot(), DisconnectedAt: base.Add(offset * time.Second)})
	}

	list := h.List()
	require.Len(t, list, 3)
	assert.Equal(t, domain.ConnectionID(2), list[0].Info.ID)
	assert.Equal(t, domain.ConnectionID(3), list[1].Info.ID)
	assert.Equal(t, domain.ConnectionID(1), list[2].Info.ID)
}
