package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/internal/infrastructure/protocol"
)

// StepKind classifies the result of one read loop iteration.
type StepKind int

const (
	StepContinue StepKind = iota
	StepFrameDiscarded
	// StepRelayed means the transport now belongs to a relay.
	StepRelayed
	StepDisconnect
)

func (k StepKind) String() string {
	switch k {
	case StepContinue:
		return "continue"
	case StepFrameDiscarded:
		return "frame_discarded"
	case StepRelayed:
		return "relayed"
	case StepDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

type StepResult struct {
	Kind   StepKind
	Reason domain.DisconnectReason
	Err    error
}

func stepContinue() StepResult { return StepResult{Kind: StepContinue} }
func stepRelayed() StepResult  { return StepResult{Kind: StepRelayed} }

func stepDiscarded(err error) StepResult {
	return StepResult{Kind: StepFrameDiscarded, Err: err}
}

func stepDisconnect(reason domain.DisconnectReason, err error) StepResult {
	return StepResult{Kind: StepDisconnect, Reason: reason, Err: err}
}

type ReadLoopConfig struct {
	Versions        protocol.VersionSet
	MaxPayloadBytes uint32
}

// ReadLoop reads frames from one connection at a time and routes each parsed
// packet. It owns the connection's cleanup unless a relay takes it over.
type ReadLoop struct {
	cfg          ReadLoopConfig
	router       ports.Router
	flow         ports.FlowController
	disconnector ports.Disconnector
	metrics      ports.Metrics
	logger       *zap.SugaredLogger
	now          func() time.Time
}

func NewReadLoop(
	cfg ReadLoopConfig,
	router ports.Router,
	flow ports.FlowController,
	disconnector ports.Disconnector,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *ReadLoop {
	return &ReadLoop{
		cfg:          cfg,
		router:       router,
		flow:         flow,
		disconnector: disconnector,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// Run processes frames until the connection ends. Cleanup always runs, even
// after a panic.
func (l *ReadLoop) Run(ctx context.Context, conn *domain.Connection) {
	decoder := protocol.NewDecoder(conn.Transport, l.cfg.Versions, l.cfg.MaxPayloadBytes)
	reason := domain.ReasonIOError
	handedOff := false

	defer func() {
		if r := recover(); r != nil {
			reason = domain.ReasonPanic
			l.logger.Errorw("read loop panic",
				"connection_id", conn.ID,
				"panic", r,
				zap.Stack("stack"),
			)
		}

		l.flow.Forget(conn.ID)
		if handedOff {
			conn.HandOff()
			return
		}
		l.disconnector.Disconnect(context.WithoutCancel(ctx), conn.ID, reason)
	}()

	conn.MarkReady()
	for {
		res := l.Step(ctx, conn, decoder)
		switch res.Kind {
		case StepContinue, StepFrameDiscarded:
		case StepRelayed:
			handedOff = true
			l.logger.Debugw("read loop handed off to relay", "connection_id", conn.ID)
			return
		case StepDisconnect:
			reason = res.Reason
			if res.Err != nil && reason == domain.ReasonIOError {
				l.logger.Warnw("read failed", "connection_id", conn.ID, "error", res.Err)
			}
			return
		}
	}
}

// Step reads and handles a single frame.
func (l *ReadLoop) Step(ctx context.Context, conn *domain.Connection, decoder *protocol.Decoder) StepResult {
	if err := ctx.Err(); err != nil {
		return stepDisconnect(domain.ReasonShutdown, err)
	}
	if conn.Relaying() {
		return stepRelayed()
	}
	if err := l.flow.Wait(ctx, conn); err != nil {
		return stepDisconnect(domain.ReasonShutdown, err)
	}
	if conn.Relaying() {
		return stepRelayed()
	}

	frame, err := decoder.Next()
	if err != nil {
		return l.classify(conn, frame, err)
	}
	size := protocol.HeaderSize + len(frame.Payload)

	pkt, err := protocol.ParsePacket(frame.Payload)
	if err != nil {
		conn.Touch(l.now())
		l.metrics.FrameDiscarded("malformed_packet")
		l.logger.Warnw("discarding malformed packet",
			"connection_id", conn.ID,
			"size", size,
			"error", err,
		)
		return stepDiscarded(err)
	}

	conn.RecordReceived(uint64(size), pkt.InfoType.IsFile())
	l.metrics.FrameReceived(conn.Kind(), size)

	msg := domain.InboundMessage{Packet: pkt, Conn: conn, ReceivedAt: l.now()}
	if l.router.Route(ctx, msg) == domain.OutcomeRelayed {
		return stepRelayed()
	}
	return stepContinue()
}

func (l *ReadLoop) classify(conn *domain.Connection, frame protocol.Frame, err error) StepResult {
	var reason string
	switch {
	case errors.Is(err, protocol.ErrUnsupportedVersion):
		reason = "unsupported_version"
	case errors.Is(err, protocol.ErrPayloadTooLarge):
		reason = "payload_too_large"
	case errors.Is(err, protocol.ErrPeerClosed):
		return stepDisconnect(domain.ReasonPeerClosed, err)
	case conn.Relaying() && isTimeout(err):
		return stepRelayed()
	case errors.Is(err, net.ErrClosed) && !conn.Connected():
		return stepDisconnect(domain.ReasonShutdown, err)
	default:
		return stepDisconnect(domain.ReasonIOError, err)
	}

	conn.Touch(l.now())
	l.metrics.FrameDiscarded(reason)
	l.logger.Warnw("discarding frame",
		"connection_id", conn.ID,
		"version", frame.Header.Version,
		"payload_len", frame.Header.PayloadLen,
		"reason", reason,
	)
	return stepDiscarded(err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
