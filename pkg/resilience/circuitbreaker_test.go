package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, now *time.Time) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "llm",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RetryTimeout:     30 * time.Second,
	}, logger.Nop())
	cb.now = func() time.Time { return *now }
	return cb
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := newTestBreaker(t, &now)
	boom := errors.New("upstream 500")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := newTestBreaker(t, &now)
	boom := errors.New("upstream 500")

	_ = cb.Execute(func() error { return boom })
	_ = cb.Execute(func() error { return boom })
	require.Equal(t, StateOpen, cb.GetState())

	now = now.Add(31 * time.Second)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestExecuteContextAppliesTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "image",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
		RetryTimeout:     time.Second,
	}, logger.Nop())

	err := cb.ExecuteContext(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("transport closed")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), cb.GetMetrics()["total_failures"])
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", FailureThreshold: 1}, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}
