package unifiedllm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int     // total retry attempts (not counting initial)
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64 // exponential backoff factor
	Jitter            bool    // add random jitter to prevent thundering herd
	OnRetry           func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy: two retries starting
// at one second and doubling, capped at one minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64()) // rand in [0,1) -> [0.5, 1.5)
	}
	return time.Duration(delay * float64(time.Second))
}

// Retry executes fn with the configured retry policy.
// Only retryable errors are retried. A Retry-After hint longer than MaxDelay
// fails immediately.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	calls := 0
	result, err := retry.DoWithData(
		func() (T, error) {
			calls++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(policy.MaxRetries)+1),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if ctx.Err() != nil || !IsRetryable(err) {
				return false
			}
			if after, ok := retryAfter(err); ok && after > policy.MaxDelay {
				return false
			}
			return true
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			delay := policy.Delay(calls - 1)
			if after, ok := retryAfter(err); ok {
				delay = time.Duration(after * float64(time.Second))
			}
			if policy.OnRetry != nil {
				policy.OnRetry(err, calls, delay)
			}
			return delay
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: ctx.Err()}}
		}
		return zero, err
	}
	return result, nil
}
