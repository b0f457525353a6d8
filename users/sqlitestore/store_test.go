package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-tenant-auth/users"
	"github.com/jrsteele09/go-tenant-auth/users/sqlitestore"
	"github.com/jrsteele09/go-tenant-auth/users/userstest"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sqlitestore.Store {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	userstest.RunRepoContract(t, func(t *testing.T) users.Repo {
		return openMemory(t)
	})
}

func TestSQLiteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credentials.db")

	store, err := sqlitestore.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RegisterTenant(ctx, "acme"))
	require.NoError(t, store.Create(ctx, &users.User{TenantID: "acme", Username: "alice", PasswordHash: "h"}))
	require.NoError(t, store.Close())

	reopened, err := sqlitestore.Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Ping(ctx))

	alice, err := reopened.GetByUsername(ctx, "acme", "alice")
	require.NoError(t, err)
	require.Equal(t, "h", alice.PasswordHash)
	require.Nil(t, alice.Roles)
}

func TestSQLiteStoreClosed(t *testing.T) {
	store, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.GetByUsername(context.Background(), "acme", "alice")
	require.Error(t, err)
	require.NotErrorIs(t, err, users.ErrNotFound)
}
