// Package retry provides a bounded retry loop with exponential backoff.
//
// The loop is parameterized by a retryable-error predicate so callers decide
// which failures are worth another attempt. API clients use it around single
// calls; the scheduler wraps whole sync jobs in it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Each further attempt
	// doubles it, capped at MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether a failure is worth another attempt. Nil
	// means retry everything.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used when a caller passes the zero value:
// 3 attempts, 1s base delay, 30s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Do runs op until it succeeds, exhausts the policy, the predicate rejects
// the error, or ctx is cancelled. The last error is returned wrapped with the
// attempt count.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		def := DefaultPolicy()
		p.MaxAttempts = def.MaxAttempts
		if p.BaseDelay <= 0 {
			p.BaseDelay = def.BaseDelay
		}
		if p.MaxDelay <= 0 {
			p.MaxDelay = def.MaxDelay
		}
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitFor(lastErr, delay, p.MaxDelay)):
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}

// delayHinter is implemented by errors that carry a server-requested wait,
// such as a rate-limit response with a Retry-After header.
type delayHinter interface {
	RetryDelay() (time.Duration, bool)
}

// waitFor returns the backoff for the next attempt: the error's own delay
// hint when it has one, otherwise the policy's current delay. MaxDelay caps
// both.
func waitFor(err error, delay, maxDelay time.Duration) time.Duration {
	var dh delayHinter
	if errors.As(err, &dh) {
		if d, ok := dh.RetryDelay(); ok && d > 0 {
			delay = d
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// DoValue is Do for operations that return a value alongside the error.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}
