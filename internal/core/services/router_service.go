package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/pkg/tracing"
)

// RealtimeHandler takes over audio and video requests instead of queueing them.
type RealtimeHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) domain.RouteOutcome
}

type RouterConfig struct {
	// MaxDepth is the per-priority depth at which backpressure engages.
	MaxDepth int
	// WarningRatio is the fraction of MaxDepth at which a warning is logged.
	WarningRatio float64
}

// RouterService places parsed messages onto the priority queues.
type RouterService struct {
	cfg          RouterConfig
	sink         ports.InboundSink
	relay        RealtimeHandler
	backpressure *Backpressure
	presence     ports.PresenceRegistry
	metrics      ports.Metrics
	logger       *zap.SugaredLogger
	now          func() time.Time
}

func NewRouterService(
	cfg RouterConfig,
	sink ports.InboundSink,
	relay RealtimeHandler,
	backpressure *Backpressure,
	presence ports.PresenceRegistry,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *RouterService {
	if cfg.MaxDepth <= 0 || cfg.MaxDepth > sink.Capacity() {
		cfg.MaxDepth = sink.Capacity()
	}
	if cfg.WarningRatio <= 0 || cfg.WarningRatio > 1 {
		cfg.WarningRatio = 0.9
	}
	return &RouterService{
		cfg:          cfg,
		sink:         sink,
		relay:        relay,
		backpressure: backpressure,
		presence:     presence,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

var _ ports.Router = (*RouterService)(nil)

func (r *RouterService) Route(ctx context.Context, msg domain.InboundMessage) domain.RouteOutcome {
	pkt := msg.Packet
	ctx, span := tracing.TraceRoute(ctx, uint64(msg.ConnectionID()), pkt.Priority.String(), pkt.InfoType.String(), len(pkt.Data))
	defer span.End()

	outcome := r.route(ctx, msg)
	span.SetAttributes(tracing.OutcomeKey.String(outcome.String()))
	return outcome
}

func (r *RouterService) route(ctx context.Context, msg domain.InboundMessage) domain.RouteOutcome {
	conn := msg.Conn
	pkt := msg.Packet

	conn.Touch(r.now())
	if conn.SetSourceID(pkt.SourceID) {
		if err := r.presence.Register(ctx, conn.Snapshot()); err != nil {
			r.logger.Warnw("failed to publish presence",
				"connection_id", conn.ID,
				"source_id", pkt.SourceID,
				"error", err,
			)
		}
	}

	if pkt.InfoType.IsRealtime() {
		return r.relay.Handle(ctx, msg)
	}

	if pkt.Priority == domain.PriorityLow && r.saturated() {
		return r.drop(msg, "queues saturated")
	}

	if !r.sink.TryEnqueue(msg) {
		if pkt.Priority == domain.PriorityLow {
			return r.drop(msg, "low priority queue full")
		}

		r.backpressure.Engage(conn, pkt.Priority)
		if err := r.enqueueWhileConnected(ctx, msg); err != nil {
			r.logger.Warnw("enqueue abandoned",
				"connection_id", conn.ID,
				"priority", pkt.Priority.String(),
				"error", err,
			)
			return r.drop(msg, "enqueue abandoned")
		}
	}
	r.metrics.MessageEnqueued(pkt.Priority)

	depth := r.sink.Depth(pkt.Priority)
	r.metrics.QueueDepth(pkt.Priority, depth)
	switch {
	case depth >= r.cfg.MaxDepth:
		r.backpressure.Engage(conn, pkt.Priority)
	case float64(depth) >= r.cfg.WarningRatio*float64(r.cfg.MaxDepth):
		r.logger.Warnw("priority queue nearing capacity",
			"priority", pkt.Priority.String(),
			"depth", depth,
			"max_depth", r.cfg.MaxDepth,
		)
	}

	return domain.OutcomeEnqueued
}

// saturated reports whether any priority queue has reached the maximum depth.
func (r *RouterService) saturated() bool {
	for _, p := range domain.Priorities {
		if r.sink.Depth(p) >= r.cfg.MaxDepth {
			return true
		}
	}
	return false
}

// enqueueWhileConnected blocks until the queue has room, ctx ends or the
// sender disconnects. A message from an evicted sender is never queued.
func (r *RouterService) enqueueWhileConnected(ctx context.Context, msg domain.InboundMessage) error {
	if !msg.Conn.Connected() {
		return domain.ErrConnectionNotFound
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-msg.Conn.Closed():
			cancel(domain.ErrConnectionNotFound)
		case <-ctx.Done():
		}
	}()

	if err := r.sink.Enqueue(ctx, msg); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}
	return nil
}

func (r *RouterService) drop(msg domain.InboundMessage, reason string) domain.RouteOutcome {
	r.metrics.MessageDropped(msg.Packet.Priority)
	r.logger.Warnw("message dropped",
		"connection_id", msg.ConnectionID(),
		"source_id", msg.Packet.SourceID,
		"priority", msg.Packet.Priority.String(),
		"reason", reason,
	)
	return domain.OutcomeDropped
}
