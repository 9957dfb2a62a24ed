package services

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/pkg/optimize"
	"dualgate/pkg/tracing"
	"dualgate/pkg/utils"
)

type RelayConfig struct {
	RealtimeAllowed bool
	// HandoffTimeout bounds how long a relay waits for both read loops to stop.
	HandoffTimeout time.Duration
	BufferSize     int
	InstanceID     string
}

// RelayService bridges two connections for audio and video requests, or
// forwards a notice when direct transfer is switched off.
type RelayService struct {
	cfg          RelayConfig
	registry     ports.ConnectionRegistry
	disconnector ports.Disconnector
	notifier     ports.OutboundNotifier
	presence     ports.PresenceRegistry
	metrics      ports.Metrics
	logger       *zap.SugaredLogger
	buffers      *optimize.BytePool
	now          func() time.Time

	allowed atomic.Bool
	wg      sync.WaitGroup
}

func NewRelayService(
	cfg RelayConfig,
	registry ports.ConnectionRegistry,
	disconnector ports.Disconnector,
	notifier ports.OutboundNotifier,
	presence ports.PresenceRegistry,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *RelayService {
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = 2 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32 * 1024
	}
	s := &RelayService{
		cfg:          cfg,
		registry:     registry,
		disconnector: disconnector,
		notifier:     notifier,
		presence:     presence,
		metrics:      metrics,
		logger:       logger,
		buffers:      optimize.NewBytePool(cfg.BufferSize),
		now:          time.Now,
	}
	s.allowed.Store(cfg.RealtimeAllowed)
	return s
}

var _ RealtimeHandler = (*RelayService)(nil)

func (s *RelayService) SetRealtimeAllowed(allowed bool) {
	if s.allowed.Swap(allowed) != allowed {
		s.logger.Infow("realtime transfer toggled", "allowed", allowed)
	}
}

func (s *RelayService) RealtimeAllowed() bool {
	return s.allowed.Load()
}

// Handle serves a realtime request from msg.Conn to the connection announcing
// msg.Packet.TargetID.
func (s *RelayService) Handle(ctx context.Context, msg domain.InboundMessage) domain.RouteOutcome {
	src := msg.Conn
	pkt := msg.Packet

	target, ok := s.registry.FindBySourceID(pkt.TargetID)
	if !ok || target.ID == src.ID || !target.Connected() {
		s.targetMissing(ctx, msg)
		return domain.OutcomeIgnored
	}

	if !s.RealtimeAllowed() {
		if err := s.notifier.Notify(ctx, target, pkt); err != nil {
			s.metrics.NoticeSent("failed")
			s.logger.Warnw("failed to forward notice",
				"connection_id", src.ID,
				"target_connection_id", target.ID,
				"error", err,
			)
			return domain.OutcomeIgnored
		}
		s.metrics.NoticeSent("delivered")
		s.logger.Infow("realtime transfer disabled, notice forwarded",
			"connection_id", src.ID,
			"target_connection_id", target.ID,
			"info_type", pkt.InfoType.String(),
		)
		return domain.OutcomeNoticeSent
	}

	if !src.ClaimForRelay() {
		s.logger.Warnw("connection already relaying", "connection_id", src.ID)
		return domain.OutcomeIgnored
	}
	if !target.ClaimForRelay() {
		src.ReleaseRelayClaim()
		s.logger.Warnw("relay target busy",
			"connection_id", src.ID,
			"target_connection_id", target.ID,
			"error", domain.ErrRelayBusy,
		)
		return domain.OutcomeIgnored
	}

	// Wakes the target's read loop so it hands the transport over.
	if err := target.Transport.SetReadDeadline(s.now()); err != nil {
		s.logger.Debugw("failed to interrupt target read", "connection_id", target.ID, "error", err)
	}

	s.logger.Infow("relay starting",
		"connection_id", src.ID,
		"target_connection_id", target.ID,
		"source_id", pkt.SourceID,
		"target_id", pkt.TargetID,
		"info_type", pkt.InfoType.String(),
	)

	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), src, target)
	return domain.OutcomeRelayed
}

// Wait blocks until every running relay has finished.
func (s *RelayService) Wait() {
	s.wg.Wait()
}

func (s *RelayService) targetMissing(ctx context.Context, msg domain.InboundMessage) {
	fields := []interface{}{
		"connection_id", msg.Conn.ID,
		"target_id", msg.Packet.TargetID,
		"info_type", msg.Packet.InfoType.String(),
	}

	if msg.Packet.TargetID != "" {
		instance, found, err := s.presence.Lookup(ctx, msg.Packet.TargetID)
		switch {
		case err != nil:
			fields = append(fields, "presence_error", err)
		case found && instance != s.cfg.InstanceID:
			fields = append(fields, "remote_instance", instance)
		}
	}

	s.logger.Warnw("target not found", fields...)
}

func (s *RelayService) run(ctx context.Context, src, dst *domain.Connection) {
	defer s.wg.Done()

	ctx, span := tracing.TraceRelay(ctx, src.SourceID(), dst.SourceID())
	defer span.End()

	timer := time.NewTimer(s.cfg.HandoffTimeout)
	defer timer.Stop()
	for _, conn := range []*domain.Connection{src, dst} {
		select {
		case <-conn.HandedOff():
		case <-timer.C:
			tracing.RecordError(ctx, domain.ErrRelayHandoffTimeout)
			s.logger.Warnw("relay handoff timed out",
				"connection_id", src.ID,
				"target_connection_id", dst.ID,
				"pending_connection_id", conn.ID,
			)
			s.disconnect(ctx, src, dst)
			return
		}
	}

	for _, conn := range []*domain.Connection{src, dst} {
		_ = conn.Transport.SetDeadline(time.Time{})
	}

	s.metrics.RelayStarted()
	started := s.now()

	copied := make(chan uint64, 2)
	go s.pump(dst, src, copied)
	go s.pump(src, dst, copied)

	total := <-copied
	s.disconnect(ctx, src, dst)
	total += <-copied

	elapsed := s.now().Sub(started)
	s.metrics.RelayFinished(total, elapsed)
	s.logger.Infow("relay finished",
		"connection_id", src.ID,
		"target_connection_id", dst.ID,
		"bytes", utils.FormatBytes(total),
		"duration", utils.FormatDuration(elapsed),
	)
}

func (s *RelayService) pump(to, from *domain.Connection, copied chan<- uint64) {
	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	n, err := io.CopyBuffer(connWriter{conn: to, now: s.now}, connReader{conn: from, now: s.now}, buf)
	if err != nil && from.Connected() && to.Connected() {
		s.logger.Debugw("relay copy ended",
			"from_connection_id", from.ID,
			"to_connection_id", to.ID,
			"error", err,
		)
	}
	copied <- uint64(n)
}

func (s *RelayService) disconnect(ctx context.Context, conns ...*domain.Connection) {
	for _, conn := range conns {
		s.disconnector.Disconnect(ctx, conn.ID, domain.ReasonRelayFinished)
	}
}

// connReader counts relayed bytes as received and keeps the connection alive
// for the heartbeat monitor.
type connReader struct {
	conn *domain.Connection
	now  func() time.Time
}

func (r connReader) Read(p []byte) (int, error) {
	n, err := r.conn.Transport.Read(p)
	if n > 0 {
		r.conn.Touch(r.now())
		r.conn.RecordRelayed(uint64(n))
	}
	return n, err
}

// connWriter also counts as activity so a receive-only peer is not evicted
// mid-relay.
type connWriter struct {
	conn *domain.Connection
	now  func() time.Time
}

func (w connWriter) Write(p []byte) (int, error) {
	n, err := w.conn.WriteRelayed(p)
	if n > 0 {
		w.conn.Touch(w.now())
	}
	return n, err
}
