package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

type HeartbeatConfig struct {
	Interval time.Duration
	// Timeout is how long a connection may stay silent before it is evicted.
	Timeout time.Duration
}

// HeartbeatService evicts connections that have been idle for too long.
type HeartbeatService struct {
	cfg          HeartbeatConfig
	registry     ports.ConnectionRegistry
	disconnector ports.Disconnector
	presence     ports.PresenceRegistry
	logger       *zap.SugaredLogger
	now          func() time.Time
}

func NewHeartbeatService(
	cfg HeartbeatConfig,
	registry ports.ConnectionRegistry,
	disconnector ports.Disconnector,
	presence ports.PresenceRegistry,
	logger *zap.SugaredLogger,
) *HeartbeatService {
	return &HeartbeatService{
		cfg:          cfg,
		registry:     registry,
		disconnector: disconnector,
		presence:     presence,
		logger:       logger,
		now:          time.Now,
	}
}

// Start sweeps immediately and then on every interval until ctx ends.
func (s *HeartbeatService) Start(ctx context.Context) {
	s.Sweep(ctx, s.now())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, s.now())
		}
	}
}

// Sweep disconnects every connection idle longer than the timeout as of now
// and returns how many it evicted.
func (s *HeartbeatService) Sweep(ctx context.Context, now time.Time) int {
	evicted := 0
	alive := make([]domain.ConnectionInfo, 0, s.registry.Len())

	for _, conn := range s.registry.Snapshot() {
		idle := conn.IdleFor(now)
		if idle <= s.cfg.Timeout {
			alive = append(alive, conn.Snapshot())
			continue
		}

		if s.disconnector.Disconnect(ctx, conn.ID, domain.ReasonTimeout) {
			evicted++
			s.logger.Infow("connection timed out",
				"connection_id", conn.ID,
				"idle", idle,
				"timeout", s.cfg.Timeout,
			)
		}
	}

	if len(alive) > 0 {
		if err := s.presence.Refresh(ctx, alive); err != nil {
			s.logger.Warnw("failed to refresh presence", "connections", len(alive), "error", err)
		}
	}
	return evicted
}
