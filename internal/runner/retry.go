package runner

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy configures retry behavior for triggers.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, RetryableError is used
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// retryTarget retries failed triggers. Drains are never retried: a drain whose
// response was lost has already cleared the target's buffer.
type retryTarget struct {
	Target
	policy RetryPolicy
}

// WithRetry wraps a Target so Trigger is retried according to policy.
func WithRetry(t Target, policy RetryPolicy) Target {
	if policy.MaxAttempts <= 1 {
		return t
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = RetryableError
	}
	return &retryTarget{Target: t, policy: policy}
}

func (r *retryTarget) Trigger(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = r.Target.Trigger(ctx)
		if lastErr == nil {
			return nil
		}

		// Don't delay after the last attempt.
		if attempt < r.policy.MaxAttempts {
			if !r.policy.ShouldRetry(lastErr) {
				return lastErr
			}
			delay := r.policy.Delay
			if r.policy.DelayFunc != nil {
				delay = r.policy.DelayFunc(attempt, lastErr)
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}

// RetryableError reports whether err is worth another trigger attempt:
// transport failures and 5xx/429 responses are, cancellation and other
// statuses are not.
func RetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	return true
}
