package queue

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

// Handler processes one dequeued message.
type Handler func(ctx context.Context, msg domain.InboundMessage) error

// Consumer drains an InboundSink in priority order.
type Consumer struct {
	sink    ports.InboundSink
	handler Handler
	logger  *zap.SugaredLogger
}

func NewConsumer(sink ports.InboundSink, handler Handler, logger *zap.SugaredLogger) *Consumer {
	return &Consumer{sink: sink, handler: handler, logger: logger}
}

// Run blocks until ctx is cancelled. Handler errors are logged and do not stop
// the loop.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.sink.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Errorw("dequeue failed", "error", err)
			continue
		}

		if err := c.handler(ctx, msg); err != nil {
			c.logger.Warnw("failed to handle inbound message",
				"connection_id", msg.ConnectionID(),
				"priority", msg.Packet.Priority.String(),
				"error", err,
			)
		}
	}
}

// LogHandler records messages at debug level. It is the handler used when no
// downstream broker is configured.
func LogHandler(logger *zap.SugaredLogger) Handler {
	return func(_ context.Context, msg domain.InboundMessage) error {
		logger.Debugw("inbound message",
			"connection_id", msg.ConnectionID(),
			"source_id", msg.Packet.SourceID,
			"target_id", msg.Packet.TargetID,
			"priority", msg.Packet.Priority.String(),
			"info_type", msg.Packet.InfoType.String(),
			"size", len(msg.Packet.Data),
		)
		return nil
	}
}
