package reliability

import (
	"context"

	"go.uber.org/zap"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/ports"
	"dualgate/pkg/circuitbreaker"
	"dualgate/pkg/retry"
)

// NotifierWrapper wraps an OutboundNotifier with retry logic and a circuit
// breaker.
type NotifierWrapper struct {
	notifier ports.OutboundNotifier
	logger   *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewNotifierWrapper(
	name string,
	notifier ports.OutboundNotifier,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *NotifierWrapper {
	// an open breaker or a vanished target will not recover within a retry,
	// and resending after a partial frame would corrupt the stream
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors,
		circuitbreaker.ErrOpen,
		domain.ErrConnectionNotFound,
		domain.ErrPartialWrite,
		context.Canceled,
		context.DeadlineExceeded,
	)

	w := &NotifierWrapper{
		notifier:       notifier,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(name, cbConfig),
	}

	w.circuitBreaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Infow("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

var _ ports.OutboundNotifier = (*NotifierWrapper)(nil)

// Notify forwards the notice with retry logic
func (w *NotifierWrapper) Notify(ctx context.Context, target *domain.Connection, pkt domain.Packet) error {
	call := func() error {
		return w.circuitBreaker.Execute(func() error {
			return w.notifier.Notify(ctx, target, pkt)
		})
	}
	if !w.retryConfig.Enabled {
		return call()
	}
	return retry.Retry(ctx, w.retryConfig, call)
}

// Stats exposes the breaker state for the admin API.
func (w *NotifierWrapper) Stats() circuitbreaker.Stats {
	return w.circuitBreaker.Stats()
}
