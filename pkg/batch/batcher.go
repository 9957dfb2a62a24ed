package batch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Add after Stop.
var ErrStopped = errors.New("batcher stopped")

// Batcher collects operations and hands them to a Processor in order, either
// when batchSize is reached or every batchInterval.
type Batcher struct {
	batchSize     int
	batchInterval time.Duration
	mu            sync.Mutex
	pending       []Operation
	stopped       bool
	flushChan     chan struct{}
	stopChan      chan struct{}
	done          chan struct{}
	processor     Processor
	onError       func(error, int)
}

// Operation represents a single operation to be batched
type Operation interface {
	Execute(ctx context.Context) error
}

// Processor processes a batch of operations
type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, operations []Operation) error

func (f ProcessorFunc) ProcessBatch(ctx context.Context, operations []Operation) error {
	return f(ctx, operations)
}

// NewBatcher starts the flush loop. onError, if set, receives failed batch
// errors together with the batch size.
func NewBatcher(batchSize int, batchInterval time.Duration, processor Processor, onError func(error, int)) *Batcher {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchInterval <= 0 {
		batchInterval = 100 * time.Millisecond
	}
	b := &Batcher{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		pending:       make([]Operation, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		processor:     processor,
		onError:       onError,
	}

	go b.run()

	return b
}

// Add queues op for the next batch.
func (b *Batcher) Add(op Operation) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.pending = append(b.pending, op)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}

	return nil
}

// Flush immediately processes all pending operations
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}

	ops := make([]Operation, len(b.pending))
	copy(ops, b.pending)
	b.pending = b.pending[:0]
	b.mu.Unlock()

	err := b.processor.ProcessBatch(ctx, ops)
	if err != nil && b.onError != nil {
		b.onError(err, len(ops))
	}
	return err
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushChan:
			_ = b.Flush(context.Background())
		case <-b.stopChan:
			// Final flush on stop
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Stop flushes what is pending and waits for the flush loop to exit.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopChan)
	<-b.done
}

// PendingCount returns the number of pending operations
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
