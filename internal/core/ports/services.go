package ports

import (
	"context"
	"time"

	"dualgate/internal/core/domain"
)

// LifecycleManager is told about each step of a connection's life.
type LifecycleManager interface {
	Create(ctx context.Context, id domain.ConnectionID)
	Connecting(ctx context.Context, id domain.ConnectionID)
	ConnectComplete(ctx context.Context, id domain.ConnectionID)
	Disconnecting(ctx context.Context, id domain.ConnectionID)
	DisconnectComplete(ctx context.Context, id domain.ConnectionID)
	Error(ctx context.Context, id domain.ConnectionID, err error)
}

// InboundSink is the set of bounded priority channels downstream consumers read.
type InboundSink interface {
	// TryEnqueue never blocks; false means the channel for the priority is full.
	TryEnqueue(msg domain.InboundMessage) bool
	Enqueue(ctx context.Context, msg domain.InboundMessage) error
	Dequeue(ctx context.Context) (domain.InboundMessage, error)
	Channel(p domain.Priority) <-chan domain.InboundMessage
	Depth(p domain.Priority) int
	Capacity() int
}

// OutboundNotifier forwards a packet to a connection as an informational notice.
type OutboundNotifier interface {
	Notify(ctx context.Context, target *domain.Connection, pkt domain.Packet) error
}

// CertificateValidator decides whether a client certificate chain is acceptable.
type CertificateValidator interface {
	Validate(rawCerts [][]byte) error
}

// Disconnector runs the idempotent disconnect routine.
type Disconnector interface {
	Disconnect(ctx context.Context, id domain.ConnectionID, reason domain.DisconnectReason) bool
}

// Metrics receives the counters and gauges the gateway exports.
type Metrics interface {
	ConnectionOpened(kind domain.TransportKind)
	ConnectionClosed(kind domain.TransportKind, reason domain.DisconnectReason, lifetime time.Duration)
	HandshakeFailed()
	FrameReceived(kind domain.TransportKind, bytes int)
	FrameDiscarded(reason string)
	MessageEnqueued(p domain.Priority)
	MessageDropped(p domain.Priority)
	QueueDepth(p domain.Priority, depth int)
	BackpressureEngaged(p domain.Priority)
	RelayStarted()
	RelayFinished(bytes uint64, duration time.Duration)
	NoticeSent(outcome string)
}

// Router decides where a parsed message goes.
type Router interface {
	Route(ctx context.Context, msg domain.InboundMessage) domain.RouteOutcome
}

// FlowController gates the start of each frame read on a connection.
type FlowController interface {
	// Wait blocks while the connection is paused or throttled.
	Wait(ctx context.Context, conn *domain.Connection) error
	// Forget drops per-connection state once the read loop ends.
	Forget(id domain.ConnectionID)
}
