package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dualgate/internal/core/domain"
)

// InboundMessage is the JSON body published for each dequeued message.
type InboundMessage struct {
	InstanceID   string              `json:"instance_id"`
	ConnectionID domain.ConnectionID `json:"connection_id"`
	SourceID     string              `json:"source_id"`
	TargetID     string              `json:"target_id"`
	Priority     string              `json:"priority"`
	InfoType     string              `json:"info_type"`
	Data         []byte              `json:"data"`
	ReceivedAt   time.Time           `json:"received_at"`
}

// Forwarder publishes dequeued messages to <prefix>.<priority>.
type Forwarder struct {
	publisher  Publisher
	prefix     string
	instanceID string
}

func NewForwarder(publisher Publisher, prefix, instanceID string) *Forwarder {
	return &Forwarder{publisher: publisher, prefix: prefix, instanceID: instanceID}
}

// Subject returns the subject messages of priority p are published on.
func (f *Forwarder) Subject(p domain.Priority) string {
	return f.prefix + "." + p.String()
}

// Handle matches queue.Handler.
func (f *Forwarder) Handle(ctx context.Context, msg domain.InboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(InboundMessage{
		InstanceID:   f.instanceID,
		ConnectionID: msg.ConnectionID(),
		SourceID:     msg.Packet.SourceID,
		TargetID:     msg.Packet.TargetID,
		Priority:     msg.Packet.Priority.String(),
		InfoType:     msg.Packet.InfoType.String(),
		Data:         msg.Packet.Data,
		ReceivedAt:   msg.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal inbound message: %w", err)
	}

	subject := f.Subject(msg.Packet.Priority)
	if err := f.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}
