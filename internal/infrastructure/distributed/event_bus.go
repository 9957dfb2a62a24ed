package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/pkg/batch"
)

// EventType represents the type of event
type EventType string

const (
	EventConnectionCreated       EventType = "connection.created"
	EventConnectionConnecting    EventType = "connection.connecting"
	EventConnectionConnected     EventType = "connection.connected"
	EventConnectionDisconnecting EventType = "connection.disconnecting"
	EventConnectionDisconnected  EventType = "connection.disconnected"
	EventConnectionError         EventType = "connection.error"
)

// DefaultChannel is the pub/sub channel every instance publishes to.
const DefaultChannel = "dualgate:events"

// Event represents a distributed event
type Event struct {
	Type         EventType           `json:"type"`
	InstanceID   string              `json:"instance_id"`
	Timestamp    time.Time           `json:"timestamp"`
	ConnectionID domain.ConnectionID `json:"connection_id"`
	Error        string              `json:"error,omitempty"`
}

// EventBus publishes connection lifecycle events over Redis pub/sub so other
// instances can follow this one.
type EventBus struct {
	client         redis.UniversalClient
	instanceID     string
	channel        string
	publishTimeout time.Duration
	logger         *zap.SugaredLogger
	now            func() time.Time
	batcher        *batch.Batcher
}

// NewEventBus creates a new event bus
func NewEventBus(client redis.UniversalClient, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:         client,
		instanceID:     instanceID,
		channel:        DefaultChannel,
		publishTimeout: time.Second,
		logger:         logger,
		now:            time.Now,
	}
}

var _ ports.LifecycleManager = (*EventBus)(nil)

// EnableBatching queues lifecycle events and publishes them in pipelined
// groups of up to size events, at least every interval. Call Stop to flush.
// Publish itself is never batched.
func (eb *EventBus) EnableBatching(size int, interval time.Duration) {
	if eb.batcher != nil || size <= 1 {
		return
	}
	eb.batcher = batch.NewBatcher(size, interval, batch.ProcessorFunc(eb.publishBatch), func(err error, n int) {
		eb.logger.Warnw("lifecycle event batch dropped",
			"events", n,
			"error", err,
		)
	})
}

// Stop flushes queued lifecycle events. It is a no-op without batching.
func (eb *EventBus) Stop() {
	if eb.batcher != nil {
		eb.batcher.Stop()
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	data, err := eb.encode(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, eb.publishTimeout)
	defer cancel()

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"connection_id", event.ConnectionID,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances until
// ctx ends.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

func (eb *EventBus) Create(ctx context.Context, id domain.ConnectionID) {
	eb.emit(ctx, EventConnectionCreated, id, nil)
}

func (eb *EventBus) Connecting(ctx context.Context, id domain.ConnectionID) {
	eb.emit(ctx, EventConnectionConnecting, id, nil)
}

func (eb *EventBus) ConnectComplete(ctx context.Context, id domain.ConnectionID) {
	eb.emit(ctx, EventConnectionConnected, id, nil)
}

func (eb *EventBus) Disconnecting(ctx context.Context, id domain.ConnectionID) {
	eb.emit(ctx, EventConnectionDisconnecting, id, nil)
}

func (eb *EventBus) DisconnectComplete(ctx context.Context, id domain.ConnectionID) {
	eb.emit(ctx, EventConnectionDisconnected, id, nil)
}

func (eb *EventBus) Error(ctx context.Context, id domain.ConnectionID, err error) {
	eb.emit(ctx, EventConnectionError, id, err)
}

func (eb *EventBus) encode(event *Event) ([]byte, error) {
	event.InstanceID = eb.instanceID
	event.Timestamp = eb.now()

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// queuedEvent is an encoded event waiting in the batcher. Execute publishes it
// on its own; publishBatch pipelines larger groups.
type queuedEvent struct {
	bus  *EventBus
	data []byte
}

func (q queuedEvent) Execute(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.bus.publishTimeout)
	defer cancel()
	return q.bus.client.Publish(ctx, q.bus.channel, q.data).Err()
}

func (eb *EventBus) publishBatch(ctx context.Context, ops []batch.Operation) error {
	// a lone event skips the pipeline
	if len(ops) == 1 {
		if err := ops[0].Execute(ctx); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		eb.logger.Debugw("published event batch", "events", 1)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, eb.publishTimeout)
	defer cancel()

	pipe := eb.client.Pipeline()
	for _, op := range ops {
		pipe.Publish(ctx, eb.channel, op.(queuedEvent).data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event batch: %w", err)
	}

	eb.logger.Debugw("published event batch", "events", len(ops))
	return nil
}

func (eb *EventBus) emit(ctx context.Context, typ EventType, id domain.ConnectionID, cause error) {
	event := &Event{Type: typ, ConnectionID: id}
	if cause != nil {
		event.Error = cause.Error()
	}

	var err error
	if eb.batcher != nil {
		var data []byte
		if data, err = eb.encode(event); err == nil {
			err = eb.batcher.Add(queuedEvent{bus: eb, data: data})
		}
		if errors.Is(err, batch.ErrStopped) {
			err = eb.Publish(context.WithoutCancel(ctx), event)
		}
	} else {
		err = eb.Publish(context.WithoutCancel(ctx), event)
	}
	if err != nil {
		eb.logger.Warnw("lifecycle event dropped",
			"type", typ,
			"connection_id", id,
			"error", err,
		)
	}
}
