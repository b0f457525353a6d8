// Package retry retries idempotent store calls once after a transient failure.
package retry

import (
	"context"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
)

// DefaultBackoff is the pause between the first attempt and the retry
const DefaultBackoff = 50 * time.Millisecond

// Once runs fn and, if it fails transiently, runs it exactly one more time after
// backoff. Non-transient errors are returned immediately.
func Once(ctx context.Context, backoff time.Duration, fn func(context.Context) error) error {
	_, err := Value(ctx, backoff, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Once for calls that return a result.
func Value[T any](ctx context.Context, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !errors.IsTransient(err) {
		return v, err
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return v, err
	case <-timer.C:
	}
	return fn(ctx)
}
