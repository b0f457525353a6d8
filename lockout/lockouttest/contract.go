// Package lockouttest holds the behaviour every lockout.Store must share.
package lockouttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-tenant-auth/lockout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rule = lockout.Rule{MaxAttempts: 3, Window: 15 * time.Minute, Lockout: 10 * time.Minute}

// RunStoreContract exercises the empty store returned by newStore. advance is
// called whenever the contract moves its clock, so stores with their own
// expiry can follow.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) (lockout.Store, func(time.Duration))) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	alice := lockout.UserKey("acme", "alice")

	t.Run("first failure opens a window", func(t *testing.T) {
		store, _ := newStore(t)
		c, err := store.RecordFailure(ctx, alice, rule, start)
		require.NoError(t, err)
		require.Equal(t, 1, c.Count)
		require.Equal(t, start.UnixMilli(), c.WindowStart.UnixMilli())
		require.True(t, c.LockedUntil.IsZero())

		got, err := store.Get(ctx, alice, rule, start.Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, 1, got.Count)
	})

	t.Run("locks at max attempts", func(t *testing.T) {
		store, _ := newStore(t)
		var c lockout.Counter
		var err error
		for i := 0; i < rule.MaxAttempts; i++ {
			c, err = store.RecordFailure(ctx, alice, rule, start.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
		}
		lockedAt := start.Add(time.Duration(rule.MaxAttempts-1) * time.Second)
		require.Equal(t, rule.MaxAttempts, c.Count)
		require.Equal(t, lockedAt.Add(rule.Lockout).UnixMilli(), c.LockedUntil.UnixMilli())
		require.True(t, c.Locked(lockedAt.Add(time.Minute)))

		// failures while locked neither count nor extend the lockout
		again, err := store.RecordFailure(ctx, alice, rule, lockedAt.Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, c.Count, again.Count)
		require.Equal(t, c.LockedUntil.UnixMilli(), again.LockedUntil.UnixMilli())
	})

	t.Run("failure after elapsed lockout starts fresh", func(t *testing.T) {
		store, advance := newStore(t)
		for i := 0; i < rule.MaxAttempts; i++ {
			_, err := store.RecordFailure(ctx, alice, rule, start)
			require.NoError(t, err)
		}
		advance(rule.Lockout)
		after := start.Add(rule.Lockout)

		got, err := store.Get(ctx, alice, rule, after)
		require.NoError(t, err)
		require.False(t, got.Locked(after))

		c, err := store.RecordFailure(ctx, alice, rule, after)
		require.NoError(t, err)
		require.Equal(t, 1, c.Count)
		require.False(t, c.Locked(after))
	})

	t.Run("window expiry resets the count", func(t *testing.T) {
		store, advance := newStore(t)
		_, err := store.RecordFailure(ctx, alice, rule, start)
		require.NoError(t, err)
		_, err = store.RecordFailure(ctx, alice, rule, start)
		require.NoError(t, err)

		advance(rule.Window)
		later := start.Add(rule.Window)
		got, err := store.Get(ctx, alice, rule, later)
		require.NoError(t, err)
		require.Zero(t, got.Count)

		c, err := store.RecordFailure(ctx, alice, rule, later)
		require.NoError(t, err)
		require.Equal(t, 1, c.Count)
	})

	t.Run("reset clears the counter", func(t *testing.T) {
		store, _ := newStore(t)
		_, err := store.RecordFailure(ctx, alice, rule, start)
		require.NoError(t, err)
		require.NoError(t, store.Reset(ctx, alice))
		require.NoError(t, store.Reset(ctx, alice))

		got, err := store.Get(ctx, alice, rule, start)
		require.NoError(t, err)
		require.Zero(t, got.Count)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		store, _ := newStore(t)
		_, err := store.RecordFailure(ctx, alice, rule, start)
		require.NoError(t, err)

		for _, key := range []lockout.Key{
			lockout.UserKey("globex", "alice"),
			lockout.IPKey("acme", "alice"),
			lockout.UserKey("acme", "bob"),
		} {
			got, err := store.Get(ctx, key, rule, start)
			require.NoError(t, err)
			require.Zero(t, got.Count, key.String())
		}
	})

	t.Run("concurrent failures are all counted", func(t *testing.T) {
		store, _ := newStore(t)
		wide := lockout.Rule{MaxAttempts: 1000, Window: time.Hour, Lockout: time.Minute}
		const workers = 40

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.RecordFailure(ctx, alice, wide, start)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, alice, wide, start)
		require.NoError(t, err)
		require.Equal(t, workers, got.Count)
	})
}
