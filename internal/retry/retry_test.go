package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// Test that when the first attempt succeeds we don't retry.
func TestRetry_SuccessfulFirstAttempt(t *testing.T) {
	t.Parallel()

	var attempts int

	req, err := NewRetrier(
		WithIntervalFunc(IntervalDuration(time.Nanosecond)),
		WithRetrierFunc(func(ctx context.Context) (any, error) {
			attempts++
			return "ok", nil
		}),
	)
	require.NoError(t, err)

	res, err := Retry(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, 1, attempts)
}

// Test that a failed attempt is retried until it succeeds.
func TestRetry_RetryAfterFailedFirstAttempt(t *testing.T) {
	t.Parallel()

	var attempts int

	req, err := NewRetrier(
		WithIntervalFunc(IntervalDuration(time.Nanosecond)),
		WithRetrierFunc(func(ctx context.Context) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errBoom
			}
			return attempts, nil
		}),
	)
	require.NoError(t, err)

	res, err := Retry(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, res)
}

// Test that MaxRetries bounds the attempts and the error is surfaced.
func TestRetry_MaxRetries(t *testing.T) {
	t.Parallel()

	var attempts int

	req, err := NewRetrier(
		WithMaxRetries(2),
		WithIntervalFunc(IntervalDuration(time.Nanosecond)),
		WithRetrierFunc(func(ctx context.Context) (any, error) {
			attempts++
			return nil, errBoom
		}),
	)
	require.NoError(t, err)

	_, err = Retry(context.Background(), req)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, attempts) // the first attempt plus two retries
}

// Test that a done context stops the retry loop.
func TestRetry_ContextDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req, err := NewRetrier(
		WithIntervalFunc(IntervalDuration(time.Hour)),
		WithRetrierFunc(func(ctx context.Context) (any, error) {
			return nil, errBoom
		}),
	)
	require.NoError(t, err)

	_, err = Retry(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRetrier_RequiresFunc(t *testing.T) {
	t.Parallel()

	_, err := NewRetrier()
	require.ErrorIs(t, err, ErrNoRetryFunc)
}

func TestIntervals(t *testing.T) {
	t.Parallel()

	fib := IntervalFibonacci(time.Second)
	assert.Equal(t, time.Duration(0), fib(0))
	assert.Equal(t, time.Second, fib(1))
	assert.Equal(t, time.Second, fib(2))
	assert.Equal(t, 2*time.Second, fib(3))
	assert.Equal(t, 3*time.Second, fib(4))

	exp := IntervalExponential(time.Second)
	assert.Equal(t, time.Duration(0), exp(0))
	assert.Equal(t, time.Second, exp(1))
	assert.Equal(t, 2*time.Second, exp(2))
	assert.Equal(t, 4*time.Second, exp(3))

	static := IntervalDuration(time.Minute)
	assert.Equal(t, time.Minute, static(7))
}
