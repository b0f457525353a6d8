// Package userstest holds behaviour every users.Repo must share, run against
// each implementation from its own tests.
package userstest

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-tenant-auth/users"
	"github.com/stretchr/testify/require"
)

// RunRepoContract exercises repo. newRepo must return an empty store.
func RunRepoContract(t *testing.T, newRepo func(t *testing.T) users.Repo) {
	t.Helper()
	ctx := context.Background()

	setup := func(t *testing.T) users.Repo {
		t.Helper()
		repo := newRepo(t)
		require.NoError(t, repo.RegisterTenant(ctx, "acme"))
		require.NoError(t, repo.RegisterTenant(ctx, "acme"), "registering twice is fine")
		require.NoError(t, repo.RegisterTenant(ctx, "globex"))
		return repo
	}

	t.Run("create and get", func(t *testing.T) {
		repo := setup(t)
		alice := &users.User{
			TenantID:     "acme",
			Username:     "  Alice ",
			PasswordHash: "$argon2id$digest",
			Roles:        []string{"admin", "reader"},
			TOTPSecret:   "JBSWY3DPEHPK3PXP",
		}
		require.NoError(t, repo.Create(ctx, alice))
		require.NotEmpty(t, alice.ID)
		require.Equal(t, "alice", alice.Username)
		require.False(t, alice.CreatedAt.IsZero())

		byName, err := repo.GetByUsername(ctx, "acme", "ALICE")
		require.NoError(t, err)
		require.Equal(t, alice.ID, byName.ID)
		require.Equal(t, []string{"admin", "reader"}, byName.Roles)
		require.Equal(t, "JBSWY3DPEHPK3PXP", byName.TOTPSecret)
		require.Equal(t, "$argon2id$digest", byName.PasswordHash)

		byID, err := repo.GetByID(ctx, "acme", alice.ID)
		require.NoError(t, err)
		require.Equal(t, "alice", byID.Username)
	})

	t.Run("tenant isolation", func(t *testing.T) {
		repo := setup(t)
		alice := &users.User{TenantID: "acme", Username: "alice", PasswordHash: "a"}
		require.NoError(t, repo.Create(ctx, alice))

		_, err := repo.GetByUsername(ctx, "globex", "alice")
		require.ErrorIs(t, err, users.ErrNotFound)
		_, err = repo.GetByID(ctx, "globex", alice.ID)
		require.ErrorIs(t, err, users.ErrNotFound)

		// the same username and even the same id may exist in another tenant
		require.NoError(t, repo.Create(ctx, &users.User{ID: alice.ID, TenantID: "globex", Username: "alice", PasswordHash: "b"}))
		other, err := repo.GetByUsername(ctx, "globex", "alice")
		require.NoError(t, err)
		require.Equal(t, "b", other.PasswordHash)
	})

	t.Run("duplicate username", func(t *testing.T) {
		repo := setup(t)
		require.NoError(t, repo.Create(ctx, &users.User{TenantID: "acme", Username: "alice", PasswordHash: "a"}))
		err := repo.Create(ctx, &users.User{TenantID: "acme", Username: "Alice", PasswordHash: "b"})
		require.ErrorIs(t, err, users.ErrUserExists)
	})

	t.Run("duplicate id", func(t *testing.T) {
		repo := setup(t)
		first := &users.User{TenantID: "acme", Username: "alice", PasswordHash: "a"}
		require.NoError(t, repo.Create(ctx, first))
		err := repo.Create(ctx, &users.User{ID: first.ID, TenantID: "acme", Username: "bob", PasswordHash: "b"})
		require.ErrorIs(t, err, users.ErrUserExists)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		repo := setup(t)
		err := repo.Create(ctx, &users.User{TenantID: "initech", Username: "alice", PasswordHash: "a"})
		require.ErrorIs(t, err, users.ErrTenantUnknown)
	})

	t.Run("update password hash and disable", func(t *testing.T) {
		repo := setup(t)
		alice := &users.User{TenantID: "acme", Username: "alice", PasswordHash: "old"}
		require.NoError(t, repo.Create(ctx, alice))

		require.NoError(t, repo.UpdatePasswordHash(ctx, "acme", alice.ID, "new"))
		require.NoError(t, repo.SetDisabled(ctx, "acme", alice.ID, true))

		got, err := repo.GetByID(ctx, "acme", alice.ID)
		require.NoError(t, err)
		require.Equal(t, "new", got.PasswordHash)
		require.True(t, got.Disabled)

		require.ErrorIs(t, repo.UpdatePasswordHash(ctx, "globex", alice.ID, "x"), users.ErrNotFound)
		require.ErrorIs(t, repo.SetDisabled(ctx, "acme", "missing", true), users.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		repo := setup(t)
		alice := &users.User{TenantID: "acme", Username: "alice", PasswordHash: "a"}
		require.NoError(t, repo.Create(ctx, alice))

		require.NoError(t, repo.Delete(ctx, "acme", alice.ID))
		_, err := repo.GetByUsername(ctx, "acme", "alice")
		require.ErrorIs(t, err, users.ErrNotFound)
		require.ErrorIs(t, repo.Delete(ctx, "acme", alice.ID), users.ErrNotFound)

		// the username is free again
		require.NoError(t, repo.Create(ctx, &users.User{TenantID: "acme", Username: "alice", PasswordHash: "b"}))
	})

	t.Run("list pages by username", func(t *testing.T) {
		repo := setup(t)
		for _, name := range []string{"carol", "alice", "bob"} {
			require.NoError(t, repo.Create(ctx, &users.User{TenantID: "acme", Username: name, PasswordHash: "x"}))
		}
		require.NoError(t, repo.Create(ctx, &users.User{TenantID: "globex", Username: "dave", PasswordHash: "x"}))

		all, err := repo.List(ctx, "acme", 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, "alice", all[0].Username)
		require.Equal(t, "carol", all[2].Username)

		page, err := repo.List(ctx, "acme", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		require.Equal(t, "bob", page[0].Username)
	})
}
