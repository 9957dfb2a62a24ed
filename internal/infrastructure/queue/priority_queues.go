package queue

import (
	"context"
	"fmt"

	"dualgate/internal/core/domain"
)

// fails to compile if a priority is added without growing the table
var _ = [1]struct{}{}[domain.PriorityCount-(domain.PriorityHigh+1)]

// PriorityQueues is three bounded channels indexed by priority.
type PriorityQueues struct {
	channels [domain.PriorityCount]chan domain.InboundMessage
	capacity int
}

func NewPriorityQueues(capacity int) *PriorityQueues {
	q := &PriorityQueues{capacity: capacity}
	for i := range q.channels {
		q.channels[i] = make(chan domain.InboundMessage, capacity)
	}
	return q
}

func (q *PriorityQueues) TryEnqueue(msg domain.InboundMessage) bool {
	if !msg.Packet.Priority.Valid() {
		return false
	}
	select {
	case q.channels[msg.Packet.Priority] <- msg:
		return true
	default:
		return false
	}
}

// Enqueue blocks until the message fits or ctx ends.
func (q *PriorityQueues) Enqueue(ctx context.Context, msg domain.InboundMessage) error {
	if !msg.Packet.Priority.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrInvalidPriority, msg.Packet.Priority)
	}
	select {
	case q.channels[msg.Packet.Priority] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the oldest message of the highest non-empty priority,
// waiting for one if all are empty.
func (q *PriorityQueues) Dequeue(ctx context.Context) (domain.InboundMessage, error) {
	for _, p := range domain.Priorities {
		select {
		case msg := <-q.channels[p]:
			return msg, nil
		default:
		}
	}

	select {
	case msg := <-q.channels[domain.PriorityHigh]:
		return msg, nil
	case msg := <-q.channels[domain.PriorityMedium]:
		return msg, nil
	case msg := <-q.channels[domain.PriorityLow]:
		return msg, nil
	case <-ctx.Done():
		return domain.InboundMessage{}, ctx.Err()
	}
}

func (q *PriorityQueues) Channel(p domain.Priority) <-chan domain.InboundMessage {
	if !p.Valid() {
		return nil
	}
	return q.channels[p]
}

func (q *PriorityQueues) Depth(p domain.Priority) int {
	if !p.Valid() {
		return 0
	}
	return len(q.channels[p])
}

func (q *PriorityQueues) Capacity() int {
	return q.capacity
}
