package reliability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"dualgate/internal/core/domain"
	"dualgate/pkg/circuitbreaker"
	"dualgate/pkg/retry"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, target *domain.Connection, pkt domain.Packet) error {
	args := m.Called(ctx, target, pkt)
	return args.Error(0)
}

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestNotifierWrapper_RetriesTransientFailure(t *testing.T) {
	inner := new(MockNotifier)
	inner.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("temporary")).Once()
	inner.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	w := NewNotifierWrapper("test", inner, fastRetry(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	assert.NoError(t, w.Notify(context.Background(), nil, domain.Packet{}))
	inner.AssertNumberOfCalls(t, "Notify", 2)
}

func TestNotifierWrapper_DoesNotRetryMissingTarget(t *testing.T) {
	inner := new(MockNotifier)
	inner.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(domain.ErrConnectionNotFound)

	w := NewNotifierWrapper("test", inner, fastRetry(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	err := w.Notify(context.Background(), nil, domain.Packet{})
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	inner.AssertNumberOfCalls(t, "Notify", 1)
}

func TestNotifierWrapper_DoesNotResendPartialFrame(t *testing.T) {
	inner := new(MockNotifier)
	inner.On("Notify", mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("write notice: %w: %w", domain.ErrPartialWrite, os.ErrDeadlineExceeded))

	w := NewNotifierWrapper("test", inner, fastRetry(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())
	err := w.Notify(context.Background(), nil, domain.Packet{})
	assert.ErrorIs(t, err, domain.ErrPartialWrite)
	inner.AssertNumberOfCalls(t, "Notify", 1)
}

func TestNotifierWrapper_OpensBreaker(t *testing.T) {
	inner := new(MockNotifier)
	inner.On("Notify", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	cb := circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute, MaxRequestsHalfOpen: 1}
	rc := fastRetry()
	rc.Enabled = false
	w := NewNotifierWrapper("test", inner, rc, cb, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 2; i++ {
		assert.Error(t, w.Notify(context.Background(), nil, domain.Packet{}))
	}
	err := w.Notify(context.Background(), nil, domain.Packet{})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, circuitbreaker.StateOpen, w.Stats().State)
	inner.AssertNumberOfCalls(t, "Notify", 2)
}
