package services

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/pkg/utils"
)

// ConnectionService owns registration and the idempotent disconnect routine.
type ConnectionService struct {
	registry  ports.ConnectionRegistry
	history   ports.HistoryRegistry
	lifecycle ports.LifecycleManager
	presence  ports.PresenceRegistry
	metrics   ports.Metrics
	logger    *zap.SugaredLogger
	now       func() time.Time

	nextID     atomic.Uint64
	plainCount atomic.Int64
	tlsCount   atomic.Int64
}

func NewConnectionService(
	registry ports.ConnectionRegistry,
	history ports.HistoryRegistry,
	lifecycle ports.LifecycleManager,
	presence ports.PresenceRegistry,
	metrics ports.Metrics,
	logger *zap.SugaredLogger,
) *ConnectionService {
	return &ConnectionService{
		registry:  registry,
		history:   history,
		lifecycle: lifecycle,
		presence:  presence,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

var _ ports.Disconnector = (*ConnectionService)(nil)

// Begin assigns the next id and announces it as created and connecting.
func (s *ConnectionService) Begin(ctx context.Context) domain.ConnectionID {
	id := domain.ConnectionID(s.nextID.Add(1))
	s.lifecycle.Create(ctx, id)
	s.lifecycle.Connecting(ctx, id)
	return id
}

// Abort reports a connection that failed before registration, e.g. a TLS
// handshake error.
func (s *ConnectionService) Abort(ctx context.Context, id domain.ConnectionID, err error) {
	s.lifecycle.Error(ctx, id, err)
	s.metrics.HandshakeFailed()
}

// Register adds conn to the active registry and completes its connect phase.
func (s *ConnectionService) Register(ctx context.Context, conn *domain.Connection) error {
	if err := s.registry.Add(conn); err != nil {
		s.lifecycle.Error(ctx, conn.ID, err)
		return err
	}
	s.lifecycle.ConnectComplete(ctx, conn.ID)

	plain, secure := s.adjustCount(conn.Kind(), 1)
	s.metrics.ConnectionOpened(conn.Kind())

	if err := s.presence.Register(ctx, conn.Snapshot()); err != nil {
		s.logger.Warnw("failed to publish presence", "connection_id", conn.ID, "error", err)
	}

	s.logger.Infow("connection registered",
		"connection_id", conn.ID,
		"transport", conn.Kind().String(),
		"remote_addr", conn.RemoteAddr,
		"plain_connections", plain,
		"tls_connections", secure,
	)
	return nil
}

// Disconnect removes the connection, closes its transport and moves it to
// history. Only the first call for an id does anything.
func (s *ConnectionService) Disconnect(ctx context.Context, id domain.ConnectionID, reason domain.DisconnectReason) bool {
	conn, ok := s.registry.Remove(id)
	if !ok {
		return false
	}

	s.lifecycle.Disconnecting(ctx, id)
	conn.MarkDisconnected()

	closeErr := conn.Transport.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	s.adjustCount(conn.Kind(), -1)

	if closeErr != nil {
		s.logger.Warnw("failed to close transport",
			"connection_id", id,
			"error", closeErr,
		)
		s.lifecycle.Error(ctx, id, closeErr)
	} else {
		s.lifecycle.DisconnectComplete(ctx, id)
	}

	now := s.now()
	entry := domain.HistoryEntry{
		Conn:           conn,
		Info:           conn.Snapshot(),
		Reason:         reason,
		DisconnectedAt: now,
	}
	s.history.Record(entry)
	s.metrics.ConnectionClosed(conn.Kind(), reason, entry.Duration())

	if err := s.presence.Unregister(ctx, entry.Info); err != nil {
		s.logger.Warnw("failed to withdraw presence", "connection_id", id, "error", err)
	}

	stats := entry.Info.Traffic
	s.logger.Infow("connection closed",
		"connection_id", id,
		"source_id", entry.Info.SourceID,
		"transport", entry.Info.Transport,
		"reason", string(reason),
		"duration", utils.FormatDuration(entry.Duration()),
		"bytes_received", stats.BytesReceived,
		"messages_received", stats.MessagesReceived,
		"file_bytes_received", stats.FileBytesReceived,
		"file_messages_received", stats.FileMessagesReceived,
		"bytes_sent", stats.BytesSent,
		"messages_sent", stats.MessagesSent,
		"file_bytes_sent", stats.FileBytesSent,
		"file_messages_sent", stats.FileMessagesSent,
		"total", utils.FormatBytes(stats.TotalBytes()),
	)
	return true
}

// DisconnectAll disconnects every active connection and returns how many it closed.
func (s *ConnectionService) DisconnectAll(ctx context.Context, reason domain.DisconnectReason) int {
	n := 0
	for _, conn := range s.registry.Snapshot() {
		if s.Disconnect(ctx, conn.ID, reason) {
			n++
		}
	}
	return n
}

// Counts returns the number of active plain and TLS connections.
func (s *ConnectionService) Counts() (plain, secure int64) {
	return s.plainCount.Load(), s.tlsCount.Load()
}

func (s *ConnectionService) adjustCount(kind domain.TransportKind, delta int64) (plain, secure int64) {
	switch kind {
	case domain.TransportTLS:
		s.tlsCount.Add(delta)
	default:
		s.plainCount.Add(delta)
	}
	return s.Counts()
}
