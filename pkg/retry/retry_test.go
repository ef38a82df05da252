package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrier_RetriesRetryableUntilSuccess(t *testing.T) {
	r := New(WithMaxAttempts(3), WithInitialDelay(time.Millisecond), WithJitter(0))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_PermanentStopsAndIsUnwrapped(t *testing.T) {
	cause := errors.New("bad payload")
	r := New(WithMaxAttempts(5), WithInitialDelay(time.Millisecond), WithRetryIf(func(error) bool { return true }))

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(cause)
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, cause, err)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent(cause)))
}

func TestRetrier_UnmarkedErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := New(WithInitialDelay(time.Millisecond)).Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("plain")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_DelayGrowsByMultiplierAndCaps(t *testing.T) {
	r := New(
		WithInitialDelay(10*time.Millisecond),
		WithMaxDelay(50*time.Millisecond),
		WithMultiplier(3),
		WithJitter(0),
	)

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 30*time.Millisecond, r.delay(2))
	assert.Equal(t, 50*time.Millisecond, r.delay(3))
}

func TestRetrier_ContextCancelledReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cause := errors.New("timeout")

	err := New(WithMaxAttempts(3), WithInitialDelay(time.Hour)).Do(ctx, func(context.Context) error {
		cancel()
		return Retryable(cause)
	})

	assert.Same(t, cause, err)
}
