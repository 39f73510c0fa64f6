// Package retry wraps remote calls in bounded retries with exponential
// backoff. It is stateless and reentrant: concurrent lifecycle runs each get
// an independent budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy defines retry behavior for one class of remote call.
type Policy struct {
	MaxRetries int           // attempts beyond the first
	BaseDelay  time.Duration // delay before retry n is BaseDelay * 2^n
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 1 * time.Second}
}

// Delay returns the backoff before the given zero-based retry attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<attempt)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying (auth failures, platform
// permanent rejections). Do stops immediately when the operation returns one.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs op up to MaxRetries+1 times, sleeping Delay(attempt) between tries
// and honoring ctx cancellation during the wait. The last error is returned
// once the budget is exhausted; a Permanent error is unwrapped and returned
// without further attempts.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	var last error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		last = op(ctx)
		if last == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(last, &pe) {
			return pe.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxRetries+1, last)
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
