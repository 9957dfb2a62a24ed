package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
)

// NoticeMessage is the JSON body published for each forwarded notice.
type NoticeMessage struct {
	InstanceID         string              `json:"instance_id"`
	TargetConnectionID domain.ConnectionID `json:"target_connection_id"`
	SourceID           string              `json:"source_id"`
	TargetID           string              `json:"target_id"`
	Priority           string              `json:"priority"`
	InfoType           string              `json:"info_type"`
	Data               []byte              `json:"data,omitempty"`
	SentAt             time.Time           `json:"sent_at"`
}

// Notifier publishes notices for another service to deliver.
type Notifier struct {
	publisher  Publisher
	subject    string
	instanceID string
	now        func() time.Time
}

func NewNotifier(publisher Publisher, subject, instanceID string) *Notifier {
	return &Notifier{
		publisher:  publisher,
		subject:    subject,
		instanceID: instanceID,
		now:        time.Now,
	}
}

var _ ports.OutboundNotifier = (*Notifier)(nil)

func (n *Notifier) Notify(ctx context.Context, target *domain.Connection, pkt domain.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(NoticeMessage{
		InstanceID:         n.instanceID,
		TargetConnectionID: target.ID,
		SourceID:           pkt.SourceID,
		TargetID:           pkt.TargetID,
		Priority:           pkt.Priority.String(),
		InfoType:           pkt.InfoType.String(),
		Data:               pkt.Data,
		SentAt:             n.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	if err := n.publisher.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish notice to %s: %w", n.subject, err)
	}
	return nil
}
