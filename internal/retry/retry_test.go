package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/internal/retry"
	"github.com/stretchr/testify/require"
)

func TestOnce(t *testing.T) {
	t.Run("transient failure retried once", func(t *testing.T) {
		calls := 0
		err := retry.Once(context.Background(), time.Millisecond, func(context.Context) error {
			calls++
			if calls == 1 {
				return errors.Unavailable("get", errors.New("i/o timeout"))
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
	})

	t.Run("persistent failure surfaces after second attempt", func(t *testing.T) {
		calls := 0
		err := retry.Once(context.Background(), time.Millisecond, func(context.Context) error {
			calls++
			return errors.Unavailable("get", errors.New("connection refused"))
		})
		require.ErrorIs(t, err, errors.ErrStoreUnavailable)
		require.Equal(t, 2, calls)
	})

	t.Run("logical errors are not retried", func(t *testing.T) {
		calls := 0
		err := retry.Once(context.Background(), time.Millisecond, func(context.Context) error {
			calls++
			return errors.ErrSessionNotFound
		})
		require.ErrorIs(t, err, errors.ErrSessionNotFound)
		require.Equal(t, 1, calls)
	})

	t.Run("cancelled context skips retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := retry.Once(ctx, time.Second, func(context.Context) error {
			calls++
			return errors.Unavailable("get", errors.New("timeout"))
		})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := retry.Value(context.Background(), time.Millisecond, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, context.DeadlineExceeded
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}
