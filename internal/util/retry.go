package util

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryOptions struct {
	// Attempts is the total number of calls, including the first one.
	Attempts     int
	InitialDelay time.Duration
	// Timeout bounds each individual attempt. Zero means no per-attempt limit.
	Timeout time.Duration
	OnRetry func(err error, next time.Duration)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// WithRetry calls fn until it succeeds, returns a permanent error, or runs out
// of attempts. The delay doubles after every failed attempt.
func WithRetry[T any](ctx context.Context, opts RetryOptions, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = opts.InitialDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = retryCeiling(opts.InitialDelay, attempts)
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)

	operation := func() (T, error) {
		attemptCtx := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		return fn(attemptCtx)
	}

	var notify backoff.Notify
	if opts.OnRetry != nil {
		notify = opts.OnRetry
	}
	return backoff.RetryNotifyWithData(operation, policy, notify)
}

// retryCeiling is the longest delay the doubling schedule reaches within the
// given attempts, capped at backoff.DefaultMaxInterval unless the initial delay
// is already longer.
func retryCeiling(initial time.Duration, attempts int) time.Duration {
	ceiling := initial
	for i := 1; i < attempts; i++ {
		if ceiling > backoff.DefaultMaxInterval/2 {
			return max(ceiling, backoff.DefaultMaxInterval)
		}
		ceiling *= 2
	}
	return ceiling
}
