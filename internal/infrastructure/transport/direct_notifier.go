package transport

import (
	"context"
	"fmt"
	"time"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/internal/infrastructure/protocol"
)

// DirectNotifier writes notices straight to the target connection as a
// framed packet. A frame cut short by a write error leaves the target's stream
// desynchronised, so the target is disconnected and ErrPartialWrite returned.
type DirectNotifier struct {
	version      uint32
	writeTimeout time.Duration
	disconnector ports.Disconnector
}

// NewDirectNotifier builds a notifier. disconnector may be nil, in which case
// a partially written target is only reported.
func NewDirectNotifier(version uint32, writeTimeout time.Duration, disconnector ports.Disconnector) *DirectNotifier {
	return &DirectNotifier{version: version, writeTimeout: writeTimeout, disconnector: disconnector}
}

var _ ports.OutboundNotifier = (*DirectNotifier)(nil)

func (n *DirectNotifier) Notify(ctx context.Context, target *domain.Connection, pkt domain.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !target.Connected() {
		return domain.ErrConnectionNotFound
	}

	pkt.InfoType = domain.InfoNotice
	payload, err := protocol.EncodePacket(pkt)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}

	if n.writeTimeout > 0 {
		deadline := time.Now().Add(n.writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = target.Transport.SetWriteDeadline(deadline)
		defer target.Transport.SetWriteDeadline(time.Time{})
	}

	written, err := protocol.WriteFrame(noticeWriter{target}, n.version, payload)
	if err == nil {
		return nil
	}
	if written > 0 {
		if n.disconnector != nil {
			n.disconnector.Disconnect(context.WithoutCancel(ctx), target.ID, domain.ReasonIOError)
		}
		return fmt.Errorf("write notice to connection %d after %d bytes: %w: %w", target.ID, written, domain.ErrPartialWrite, err)
	}
	return fmt.Errorf("write notice to connection %d: %w", target.ID, err)
}

type noticeWriter struct {
	conn *domain.Connection
}

func (w noticeWriter) Write(p []byte) (int, error) {
	return w.conn.Write(p, false)
}
