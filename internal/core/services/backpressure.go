package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

// Gate holds back new frame reads until its deadline passes.
type Gate struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func NewGate() *Gate {
	return &Gate{now: time.Now}
}

// Pause closes the gate for d. An existing longer pause is kept.
func (g *Gate) Pause(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until := g.now().Add(d); until.After(g.until) {
		g.until = until
	}
}

// Paused reports whether the gate is currently closed.
func (g *Gate) Paused() bool {
	return g.remaining() > 0
}

// Wait blocks until the gate opens or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		d := g.remaining()
		if d <= 0 {
			return nil
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (g *Gate) remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.until.Sub(g.now())
}

// BackpressureConfig controls how saturated queues slow down readers.
type BackpressureConfig struct {
	// Global pauses every connection instead of only the one that saturated a queue.
	Global bool
	// Pauses is indexed by priority.
	Pauses [domain.PriorityCount]time.Duration

	ThrottleEnabled bool
	FramesPerSecond float64
	Burst           int
}

// DefaultPauses are the pause lengths per priority: low waits longest.
var DefaultPauses = [domain.PriorityCount]time.Duration{
	domain.PriorityLow:    time.Second,
	domain.PriorityMedium: 600 * time.Millisecond,
	domain.PriorityHigh:   200 * time.Millisecond,
}

// Backpressure pauses reads when queues saturate and optionally rate limits
// frames per connection.
type Backpressure struct {
	cfg     BackpressureConfig
	global  *Gate
	gates   sync.Map // domain.ConnectionID -> *Gate
	limits  sync.Map // domain.ConnectionID -> *rate.Limiter
	metrics ports.Metrics
	logger  *zap.SugaredLogger
}

func NewBackpressure(cfg BackpressureConfig, metrics ports.Metrics, logger *zap.SugaredLogger) *Backpressure {
	for i, d := range cfg.Pauses {
		if d <= 0 {
			cfg.Pauses[i] = DefaultPauses[i]
		}
	}
	return &Backpressure{
		cfg:     cfg,
		global:  NewGate(),
		metrics: metrics,
		logger:  logger,
	}
}

var _ ports.FlowController = (*Backpressure)(nil)

// PauseFor returns the configured pause for p.
func (b *Backpressure) PauseFor(p domain.Priority) time.Duration {
	if !p.Valid() {
		return b.cfg.Pauses[domain.PriorityLow]
	}
	return b.cfg.Pauses[p]
}

// Engage pauses reads after conn saturated the queue for p.
func (b *Backpressure) Engage(conn *domain.Connection, p domain.Priority) {
	d := b.PauseFor(p)
	b.gateFor(conn.ID).Pause(d)
	b.metrics.BackpressureEngaged(p)

	b.logger.Warnw("backpressure engaged",
		"connection_id", conn.ID,
		"priority", p.String(),
		"pause", d,
		"global", b.cfg.Global,
	)
}

// Paused reports whether reads on id are currently held back.
func (b *Backpressure) Paused(id domain.ConnectionID) bool {
	return b.gateFor(id).Paused()
}

// Wait blocks until conn may start reading its next frame.
func (b *Backpressure) Wait(ctx context.Context, conn *domain.Connection) error {
	if err := b.gateFor(conn.ID).Wait(ctx); err != nil {
		return err
	}
	if !b.cfg.ThrottleEnabled {
		return nil
	}
	return b.limiterFor(conn.ID).Wait(ctx)
}

func (b *Backpressure) Forget(id domain.ConnectionID) {
	b.gates.Delete(id)
	b.limits.Delete(id)
}

func (b *Backpressure) gateFor(id domain.ConnectionID) *Gate {
	if b.cfg.Global {
		return b.global
	}
	if g, ok := b.gates.Load(id); ok {
		return g.(*Gate)
	}
	g, _ := b.gates.LoadOrStore(id, NewGate())
	return g.(*Gate)
}

func (b *Backpressure) limiterFor(id domain.ConnectionID) *rate.Limiter {
	if l, ok := b.limits.Load(id); ok {
		return l.(*rate.Limiter)
	}
	l, _ := b.limits.LoadOrStore(id, rate.NewLimiter(rate.Limit(b.cfg.FramesPerSecond), b.cfg.Burst))
	return l.(*rate.Limiter)
}
