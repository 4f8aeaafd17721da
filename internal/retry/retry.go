package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryInterval takes the attempt number and returns how long to wait
// before the next attempt.
type RetryInterval func(int) time.Duration

// MaxRetriesUnlimited is the value of our max retries when we don't have a maximum.
const MaxRetriesUnlimited int = -1

var ErrNoRetryFunc = errors.New("no retry function has been set")

// Retryable is an interface that allows the caller to specify the operation
// to be executed, the interval to wait between retries, and whether to
// retry or not.
type Retryable interface {
	Interval() time.Duration
	Run(ctx context.Context) (any, error)
	ShouldRetry() bool
}

// Retry runs the retryable until it succeeds, it declines to retry, or the
// context is done. Errors from all attempts are joined.
func Retry(ctx context.Context, req Retryable) (any, error) {
	if req == nil {
		return nil, errors.New("no retryable request")
	}

	var res any
	var err error
	attempts := 1

	for {
		select {
		case <-ctx.Done():
			if e := ctx.Err(); e != nil {
				err = errors.Join(err, e)
			}

			return res, err
		default:
		}

		var err1 error
		res, err1 = req.Run(ctx)
		if err1 == nil {
			return res, nil
		}

		if attempts > 1 {
			err = errors.Join(err, fmt.Errorf("attempt %d: %w", attempts, err1))
		} else {
			err = errors.Join(err, err1)
		}

		if !req.ShouldRetry() {
			return res, err
		}

		attempts++

		select {
		case <-ctx.Done():
			return res, errors.Join(err, ctx.Err())
		case <-time.After(req.Interval()):
		}
	}
}

// Retrier is a struct that allows the caller to define their parameters for
// retrying an operation.
type Retrier struct {
	attempts int
	// Maximum number of retries (optional)
	MaxRetries int
	// A function that returns a time.Duration for the next interval, based
	// on the current attempt number (optional)
	RetryInterval RetryInterval
	// The operation to be run (required)
	Func func(context.Context) (any, error)
}

// RetrierOpt configures a Retrier.
type RetrierOpt func(*Retrier) *Retrier

// NewRetrier takes one or more RetrierOpt functions, creates a new Retrier,
// sets the fields specified in the RetrierOpts, and returns a pointer to
// the new Retrier.
func NewRetrier(opts ...RetrierOpt) (*Retrier, error) {
	r := &Retrier{
		MaxRetries:    MaxRetriesUnlimited,
		attempts:      0,
		RetryInterval: IntervalFibonacci(1 * time.Second),
	}

	for _, opt := range opts {
		r = opt(r)
	}

	if r.Func == nil {
		return r, ErrNoRetryFunc
	}

	return r, nil
}

// WithRetrierFunc sets the operation to run.
func WithRetrierFunc(f func(context.Context) (any, error)) RetrierOpt {
	return func(r *Retrier) *Retrier {
		r.Func = f
		return r
	}
}

// WithMaxRetries bounds the number of retries.
func WithMaxRetries(retries int) RetrierOpt {
	return func(r *Retrier) *Retrier {
		r.MaxRetries = retries
		return r
	}
}

// WithIntervalFunc sets the interval function.
func WithIntervalFunc(i RetryInterval) RetrierOpt {
	return func(r *Retrier) *Retrier {
		r.RetryInterval = i
		return r
	}
}

func (r *Retrier) Interval() time.Duration {
	return r.RetryInterval(r.attempts)
}

func (r *Retrier) Run(ctx context.Context) (any, error) {
	r.attempts++

	return r.Func(ctx)
}

func (r *Retrier) ShouldRetry() bool {
	// MaxRetries counts retries beyond the first attempt.
	if r.MaxRetries > MaxRetriesUnlimited && r.attempts > r.MaxRetries {
		return false
	}

	return true
}

// IntervalDuration returns an interval function with a static duration.
func IntervalDuration(dur time.Duration) RetryInterval {
	return func(attempt int) time.Duration {
		if attempt == 0 {
			return 0
		}

		return dur
	}
}

// IntervalFibonacci returns an interval function that scales the base
// duration by the Fibonacci number of the attempt.
func IntervalFibonacci(base time.Duration) RetryInterval {
	return func(attempt int) time.Duration {
		if attempt == 0 {
			return 0
		}

		return base * time.Duration(fib(attempt))
	}
}

// IntervalExponential returns an interval function whose duration doubles
// with each attempt.
func IntervalExponential(base time.Duration) RetryInterval {
	return func(attempt int) time.Duration {
		if attempt == 0 {
			return 0
		}

		return base * time.Duration(math.Exp2(float64(attempt-1)))
	}
}

func fib(n int) int {
	a, b := 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}

	return a
}
