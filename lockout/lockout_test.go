package lockout_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-tenant-auth/lockout"
	fakelockoutrepo "github.com/jrsteele09/go-tenant-auth/lockout/repofakes"
	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine *lockout.Engine
	now    time.Time
	policy tenants.Policy
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	f.policy.ApplyDefaults()
	f.engine = lockout.NewEngine(fakelockoutrepo.NewFakeCounterStore(),
		lockout.WithNowFunc(func() time.Time { return f.now }),
		lockout.WithLogger(zerolog.Nop()),
	)
	return f
}

func TestEngineLocksAfterMaxFailures(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	key := lockout.UserKey("acme", "alice")

	for i := 1; i < f.policy.MaxFailedAttempts; i++ {
		c, err := f.engine.RecordFailure(ctx, key, f.policy)
		require.NoError(t, err)
		require.Equal(t, i, c.Count)
		locked, _, err := f.engine.IsLocked(ctx, key, f.policy)
		require.NoError(t, err)
		require.False(t, locked)
	}

	c, err := f.engine.RecordFailure(ctx, key, f.policy)
	require.NoError(t, err)
	require.Equal(t, f.now.Add(f.policy.LockoutDuration.Duration), c.LockedUntil)

	locked, until, err := f.engine.IsLocked(ctx, key, f.policy)
	require.NoError(t, err)
	require.True(t, locked)
	require.Equal(t, c.LockedUntil, until)

	f.now = f.now.Add(f.policy.LockoutDuration.Duration - time.Second)
	locked, _, err = f.engine.IsLocked(ctx, key, f.policy)
	require.NoError(t, err)
	require.True(t, locked)

	f.now = f.now.Add(time.Second)
	locked, _, err = f.engine.IsLocked(ctx, key, f.policy)
	require.NoError(t, err)
	require.False(t, locked)
}

func TestEngineReset(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	key := lockout.UserKey("acme", "alice")

	for i := 0; i < f.policy.MaxFailedAttempts-1; i++ {
		_, err := f.engine.RecordFailure(ctx, key, f.policy)
		require.NoError(t, err)
	}
	require.NoError(t, f.engine.Reset(ctx, key))

	c, err := f.engine.RecordFailure(ctx, key, f.policy)
	require.NoError(t, err)
	require.Equal(t, 1, c.Count)
}

func TestEngineIPCounting(t *testing.T) {
	ctx := context.Background()
	key := lockout.IPKey("acme", "203.0.113.9")

	t.Run("disabled by default", func(t *testing.T) {
		f := setupEngine(t)
		for i := 0; i < 50; i++ {
			c, err := f.engine.RecordFailure(ctx, key, f.policy)
			require.NoError(t, err)
			require.Zero(t, c.Count)
		}
		locked, _, err := f.engine.IsLocked(ctx, key, f.policy)
		require.NoError(t, err)
		require.False(t, locked)
	})

	t.Run("uses the per address limit", func(t *testing.T) {
		f := setupEngine(t)
		f.policy.MaxFailedAttemptsPerIP = 2
		for i := 0; i < 2; i++ {
			_, err := f.engine.RecordFailure(ctx, key, f.policy)
			require.NoError(t, err)
		}
		locked, _, err := f.engine.IsLocked(ctx, key, f.policy)
		require.NoError(t, err)
		require.True(t, locked)
	})
}

func TestNextAndCurrent(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rule := lockout.Rule{MaxAttempts: 2, Window: time.Minute, Lockout: 5 * time.Minute}

	c := lockout.Next(lockout.Counter{}, rule, now)
	require.Equal(t, lockout.Counter{Count: 1, WindowStart: now}, c)

	// outside the window the count restarts
	c = lockout.Next(c, rule, now.Add(time.Minute))
	require.Equal(t, lockout.Counter{Count: 1, WindowStart: now.Add(time.Minute)}, c)

	c = lockout.Next(c, rule, now.Add(90*time.Second))
	require.Equal(t, 2, c.Count)
	require.Equal(t, now.Add(90*time.Second+5*time.Minute), c.LockedUntil)

	require.Equal(t, c, lockout.Current(c, rule, now.Add(2*time.Minute)))
	require.Equal(t, lockout.Counter{}, lockout.Current(c, rule, c.LockedUntil))
}
