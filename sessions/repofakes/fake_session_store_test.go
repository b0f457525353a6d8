package fakesessionrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/sessions"
	fakesessionrepo "github.com/jrsteele09/go-tenant-auth/sessions/repofakes"
	"github.com/jrsteele09/go-tenant-auth/sessions/sessionstest"
	"github.com/stretchr/testify/require"
)

func TestFakeSessionStore(t *testing.T) {
	sessionstest.RunStoreContract(t, func(t *testing.T, clock *sessionstest.Clock) sessions.Store {
		return fakesessionrepo.NewFakeSessionStore(clock.Now)
	})
}

func TestFakeSessionStoreOutage(t *testing.T) {
	store := fakesessionrepo.NewFakeSessionStore(nil)
	store.SetErr(errors.New("connection refused"))

	_, err := store.Create(context.Background(), sessions.NewSession{
		ID: uuid.NewString(), CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, errors.ErrStoreUnavailable)
	require.Zero(t, store.Len())
}
