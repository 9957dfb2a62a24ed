package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dualgate/internal/core/domain"
	"dualgate/internal/infrastructure/repositories/memory"
)

func TestHeartbeat_EvictsAfterOneSweep(t *testing.T) {
	h := newHarness(t, 4)
	timeout := 30 * time.Second
	hb := NewHeartbeatService(HeartbeatConfig{Interval: time.Second, Timeout: timeout},
		h.registry, h.connections, memory.NoopPresenceRegistry{}, h.logger)

	stale, _ := h.connect(t, "stale")
	fresh, _ := h.connect(t, "fresh")

	now := time.Now()
	stale.Touch(now.Add(-timeout - time.Millisecond))
	fresh.Touch(now.Add(-timeout + time.Second))

	_, present := h.registry.Get(stale.ID)
	require.True(t, present)

	assert.Equal(t, 1, hb.Sweep(context.Background(), now))

	_, present = h.registry.Get(stale.ID)
	assert.False(t, present)
	entry, ok := h.history.Get(stale.ID)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonTimeout, entry.Reason)

	for i := 0; i < 5; i++ {
		assert.Zero(t, hb.Sweep(context.Background(), now))
	}
	_, present = h.registry.Get(fresh.ID)
	assert.True(t, present)
}

func TestHeartbeat_RefreshesPresenceOfSurvivors(t *testing.T) {
	h := newHarness(t, 4)
	presence := new(MockPresence)
	hb := NewHeartbeatService(HeartbeatConfig{Interval: time.Second, Timeout: time.Minute},
		h.registry, h.connections, presence, h.logger)

	conn, _ := h.connect(t, "alice")
	presence.On("Refresh", mock.Anything, mock.MatchedBy(func(infos []domain.ConnectionInfo) bool {
		return len(infos) == 1 && infos[0].ID == conn.ID
	})).Return(nil).Once()

	hb.Sweep(context.Background(), time.Now())
	presence.AssertExpectations(t)
}

func TestHeartbeat_EmptyRegistrySkipsRefresh(t *testing.T) {
	presence := new(MockPresence)
	registry := memory.NewConnectionRegistry()
	logger := zaptest.NewLogger(t).Sugar()
	hb := NewHeartbeatService(HeartbeatConfig{Interval: time.Second, Timeout: time.Minute},
		registry, nil, presence, logger)

	assert.Zero(t, hb.Sweep(context.Background(), time.Now()))
	presence.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestHeartbeat_StartSweepsImmediately(t *testing.T) {
	h := newHarness(t, 4)
	hb := NewHeartbeatService(HeartbeatConfig{Interval: time.Hour, Timeout: time.Second},
		h.registry, h.connections, memory.NoopPresenceRegistry{}, h.logger)

	stale, _ := h.connect(t, "stale")
	stale.Touch(time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, ok := h.history.Get(stale.ID)
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop after cancel")
	}
}
