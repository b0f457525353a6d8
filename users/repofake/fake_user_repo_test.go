package fakeuserrepo_test

import (
	"testing"

	"github.com/jrsteele09/go-tenant-auth/users"
	fakeuserrepo "github.com/jrsteele09/go-tenant-auth/users/repofake"
	"github.com/jrsteele09/go-tenant-auth/users/userstest"
)

func TestFakeUserRepo(t *testing.T) {
	userstest.RunRepoContract(t, func(t *testing.T) users.Repo {
		return fakeuserrepo.NewFakeUserRepo()
	})
}
