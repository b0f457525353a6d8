package fakelockoutrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/lockout"
	"github.com/jrsteele09/go-tenant-auth/lockout/lockouttest"
	fakelockoutrepo "github.com/jrsteele09/go-tenant-auth/lockout/repofakes"
	"github.com/stretchr/testify/require"
)

func TestFakeCounterStore(t *testing.T) {
	lockouttest.RunStoreContract(t, func(t *testing.T) (lockout.Store, func(time.Duration)) {
		return fakelockoutrepo.NewFakeCounterStore(), func(time.Duration) {}
	})
}

func TestFakeCounterStoreOutage(t *testing.T) {
	store := fakelockoutrepo.NewFakeCounterStore()
	store.SetErr(errors.New("connection refused"))

	rule := lockout.Rule{MaxAttempts: 3, Window: time.Minute, Lockout: time.Minute}
	_, err := store.RecordFailure(context.Background(), lockout.UserKey("acme", "alice"), rule, time.Now())
	require.ErrorIs(t, err, errors.ErrStoreUnavailable)
}
