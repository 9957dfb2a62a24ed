package services

import (
	"context"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

// LoggingLifecycle writes every lifecycle step to the log.
type LoggingLifecycle struct {
	logger *zap.SugaredLogger
}

func NewLoggingLifecycle(logger *zap.SugaredLogger) *LoggingLifecycle {
	return &LoggingLifecycle{logger: logger}
}

var _ ports.LifecycleManager = (*LoggingLifecycle)(nil)

func (l *LoggingLifecycle) Create(_ context.Context, id domain.ConnectionID) {
	l.logger.Debugw("connection created", "connection_id", id)
}

func (l *LoggingLifecycle) Connecting(_ context.Context, id domain.ConnectionID) {
	l.logger.Debugw("connection connecting", "connection_id", id)
}

func (l *LoggingLifecycle) ConnectComplete(_ context.Context, id domain.ConnectionID) {
	l.logger.Debugw("connection established", "connection_id", id)
}

func (l *LoggingLifecycle) Disconnecting(_ context.Context, id domain.ConnectionID) {
	l.logger.Debugw("connection disconnecting", "connection_id", id)
}

func (l *LoggingLifecycle) DisconnectComplete(_ context.Context, id domain.ConnectionID) {
	l.logger.Debugw("connection disconnected", "connection_id", id)
}

func (l *LoggingLifecycle) Error(_ context.Context, id domain.ConnectionID, err error) {
	l.logger.Warnw("connection error", "connection_id", id, "error", err)
}

// LifecycleFanout forwards each notification to every manager in order.
type LifecycleFanout []ports.LifecycleManager

var _ ports.LifecycleManager = LifecycleFanout(nil)

func (f LifecycleFanout) Create(ctx context.Context, id domain.ConnectionID) {
	for _, m := range f {
		m.Create(ctx, id)
	}
}

func (f LifecycleFanout) Connecting(ctx context.Context, id domain.ConnectionID) {
	for _, m := range f {
		m.Connecting(ctx, id)
	}
}

func (f LifecycleFanout) ConnectComplete(ctx context.Context, id domain.ConnectionID) {
	for _, m := range f {
		m.ConnectComplete(ctx, id)
	}
}

func (f LifecycleFanout) Disconnecting(ctx context.Context, id domain.ConnectionID) {
	for _, m := range f {
		m.Disconnecting(ctx, id)
	}
}

func (f LifecycleFanout) DisconnectComplete(ctx context.Context, id domain.ConnectionID) {
	for _, m := range f {
		m.DisconnectComplete(ctx, id)
	}
}

func (f LifecycleFanout) Error(ctx context.Context, id domain.ConnectionID, err error) {
	for _, m := range f {
		m.Error(ctx, id, err)
	}
}

// NotifierFanout delivers a notice through every notifier. The first
// notifier is authoritative: its error is returned, the others are logged.
type NotifierFanout struct {
	Notifiers []ports.OutboundNotifier
	Logger    *zap.SugaredLogger
}

var _ ports.OutboundNotifier = NotifierFanout{}

func (f NotifierFanout) Notify(ctx context.Context, target *domain.Connection, pkt domain.Packet) error {
	var primary error
	for i, n := range f.Notifiers {
		err := n.Notify(ctx, target, pkt)
		if i == 0 {
			primary = err
			continue
		}
		if err != nil && f.Logger != nil {
			f.Logger.Warnw("secondary notice delivery failed",
				"connection_id", target.ID,
				"error", err,
			)
		}
	}
	return primary
}
