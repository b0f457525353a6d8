// Package sessionstest holds the behaviour every sessions.Store must share.
package sessionstest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/sessions"
	"github.com/stretchr/testify/require"
)

// Clock is a manual clock. OnAdvance hooks let a backing store move its own
// notion of time, such as miniredis TTLs, in step.
type Clock struct {
	mu        sync.Mutex
	now       time.Time
	onAdvance []func(time.Duration)
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	hooks := c.onAdvance
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(d)
	}
}

func (c *Clock) OnAdvance(fn func(time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAdvance = append(c.onAdvance, fn)
}

const ttl = 7 * 24 * time.Hour

// RunStoreContract exercises the store returned by newStore, which must be
// empty and read time from clock
func RunStoreContract(t *testing.T, newStore func(t *testing.T, clock *Clock) sessions.Store) {
	t.Helper()
	ctx := context.Background()

	setup := func(t *testing.T) (sessions.Store, *Clock) {
		t.Helper()
		clock := NewClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
		return newStore(t, clock), clock
	}
	create := func(t *testing.T, store sessions.Store, clock *Clock, userID, hash string) *sessions.Session {
		t.Helper()
		s, err := store.Create(ctx, sessions.NewSession{
			ID:          uuid.NewString(),
			TenantID:    "acme",
			UserID:      userID,
			RefreshHash: hash,
			CreatedAt:   clock.Now(),
			ExpiresAt:   clock.Now().Add(ttl),
		})
		require.NoError(t, err)
		return s
	}

	t.Run("create and get", func(t *testing.T) {
		store, clock := setup(t)
		created := create(t, store, clock, "alice", "h1")

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		require.Equal(t, "acme", got.TenantID)
		require.Equal(t, "alice", got.UserID)
		require.Equal(t, "h1", got.RefreshHash)
		require.Equal(t, clock.Now(), got.CreatedAt)
		require.Equal(t, clock.Now().Add(ttl), got.ExpiresAt)
		require.False(t, got.Revoked)
		require.True(t, got.Active(clock.Now()))

		_, err = store.Get(ctx, uuid.NewString())
		require.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("create needs future expiry", func(t *testing.T) {
		store, clock := setup(t)
		_, err := store.Create(ctx, sessions.NewSession{
			ID: uuid.NewString(), TenantID: "acme", UserID: "alice", RefreshHash: "h",
			CreatedAt: clock.Now(), ExpiresAt: clock.Now(),
		})
		require.Error(t, err)
	})

	t.Run("rotate swaps hash", func(t *testing.T) {
		store, clock := setup(t)
		s := create(t, store, clock, "alice", "h1")
		clock.Advance(time.Minute)

		rotated, err := store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: "h2", Now: clock.Now()})
		require.NoError(t, err)
		require.Equal(t, "h2", rotated.RefreshHash)
		require.Equal(t, clock.Now(), rotated.LastRotatedAt)
		require.Equal(t, s.ExpiresAt, rotated.ExpiresAt, "zero ExpiresAt keeps the deadline")

		_, err = store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h2", NewHash: "h3", Now: clock.Now(), ExpiresAt: clock.Now().Add(ttl)})
		require.NoError(t, err)
		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, "h3", got.RefreshHash)
		require.Equal(t, clock.Now().Add(ttl), got.ExpiresAt)
	})

	t.Run("reuse revokes", func(t *testing.T) {
		store, clock := setup(t)
		s := create(t, store, clock, "alice", "h1")

		_, err := store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: "h2", Now: clock.Now()})
		require.NoError(t, err)

		_, err = store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: "h3", Now: clock.Now()})
		require.ErrorIs(t, err, sessions.ErrReuseDetected)

		// the current token is dead too
		_, err = store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h2", NewHash: "h4", Now: clock.Now()})
		require.ErrorIs(t, err, sessions.ErrSessionRevoked)

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)
		require.False(t, got.Active(clock.Now()))
	})

	t.Run("unknown hash leaves session alone", func(t *testing.T) {
		store, clock := setup(t)
		s := create(t, store, clock, "alice", "h1")

		_, err := store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "forged", NewHash: "h2", Now: clock.Now()})
		require.ErrorIs(t, err, sessions.ErrRefreshMismatch)

		_, err = store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: "h2", Now: clock.Now()})
		require.NoError(t, err)
	})

	t.Run("rotate unknown session", func(t *testing.T) {
		store, clock := setup(t)
		_, err := store.Rotate(ctx, sessions.Rotation{SessionID: uuid.NewString(), PresentedHash: "h1", NewHash: "h2", Now: clock.Now()})
		require.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("rotate past deadline", func(t *testing.T) {
		store, clock := setup(t)
		s := create(t, store, clock, "alice", "h1")

		_, err := store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: "h2", Now: clock.Now().Add(ttl)})
		require.ErrorIs(t, err, sessions.ErrSessionExpired)
	})

	t.Run("ttl removes the record", func(t *testing.T) {
		store, clock := setup(t)
		s := create(t, store, clock, "alice", "h1")
		clock.Advance(ttl)

		_, err := store.Get(ctx, s.ID)
		require.ErrorIs(t, err, sessions.ErrSessionNotFound)
		_, err = store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: "h2", Now: clock.Now()})
		require.ErrorIs(t, err, sessions.ErrSessionNotFound)
	})

	t.Run("concurrent rotation has one winner", func(t *testing.T) {
		store, clock := setup(t)
		s := create(t, store, clock, "alice", "h1")

		const racers = 8
		results := make(chan error, racers)
		var start sync.WaitGroup
		start.Add(1)
		for i := 0; i < racers; i++ {
			go func() {
				start.Wait()
				_, err := store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: uuid.NewString(), Now: clock.Now()})
				results <- err
			}()
		}
		start.Done()

		wins, reuse, revoked := 0, 0, 0
		for i := 0; i < racers; i++ {
			err := <-results
			switch {
			case err == nil:
				wins++
			case errors.Is(err, sessions.ErrReuseDetected):
				reuse++
			case errors.Is(err, sessions.ErrSessionRevoked):
				revoked++
			default:
				t.Errorf("unexpected rotation error: %v", err)
			}
		}
		require.Equal(t, 1, wins)
		require.GreaterOrEqual(t, reuse, 1)
		require.Equal(t, racers-1, reuse+revoked)

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)
	})

	t.Run("revoke is idempotent", func(t *testing.T) {
		store, clock := setup(t)
		s := create(t, store, clock, "alice", "h1")

		require.NoError(t, store.Revoke(ctx, s.ID))
		require.NoError(t, store.Revoke(ctx, s.ID))
		require.NoError(t, store.Revoke(ctx, uuid.NewString()))

		_, err := store.Rotate(ctx, sessions.Rotation{SessionID: s.ID, PresentedHash: "h1", NewHash: "h2", Now: clock.Now()})
		require.ErrorIs(t, err, sessions.ErrSessionRevoked)

		got, err := store.Get(ctx, s.ID)
		require.NoError(t, err)
		require.True(t, got.Revoked)
		require.Equal(t, clock.Now(), got.RevokedAt)
	})

	t.Run("revoke user", func(t *testing.T) {
		store, clock := setup(t)
		a := create(t, store, clock, "alice", "a1")
		b := create(t, store, clock, "alice", "a2")
		c := create(t, store, clock, "bob", "b1")
		require.NoError(t, store.Revoke(ctx, b.ID))

		n, err := store.RevokeUser(ctx, "acme", "alice")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		for id, want := range map[string]bool{a.ID: true, b.ID: true, c.ID: false} {
			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, want, got.Revoked)
		}

		n, err = store.RevokeUser(ctx, "globex", "alice")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("sweep expired", func(t *testing.T) {
		store, clock := setup(t)
		old := create(t, store, clock, "alice", "h1")
		clock.Advance(time.Hour)
		fresh := create(t, store, clock, "alice", "h2")

		n, err := store.SweepExpired(ctx, old.ExpiresAt)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = store.SweepExpired(ctx, old.ExpiresAt)
		require.NoError(t, err)
		require.Zero(t, n)

		_, err = store.Get(ctx, fresh.ID)
		require.NoError(t, err)
	})
}
