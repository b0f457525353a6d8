package fakeuserrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

type userKey struct {
	tenantID string
	id       string
}

type nameKey struct {
	tenantID string
	username string
}

type FakeUserRepo struct {
	tenants map[string]bool
	users   map[userKey]*users.User
	names   map[nameKey]string // username to user id
	lock    sync.RWMutex

	// Err, when set, is returned from every call to simulate an outage
	Err     error
	nowFunc func() time.Time
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		tenants: make(map[string]bool),
		users:   make(map[userKey]*users.User),
		names:   make(map[nameKey]string),
		nowFunc: time.Now,
	}
}

func (ur *FakeUserRepo) RegisterTenant(_ context.Context, tenantID string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if ur.Err != nil {
		return ur.Err
	}
	ur.tenants[tenantID] = true
	return nil
}

func (ur *FakeUserRepo) Create(_ context.Context, user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if ur.Err != nil {
		return ur.Err
	}
	if !ur.tenants[user.TenantID] {
		return users.ErrTenantUnknown
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Username = users.NormalizeUsername(user.Username)
	nk := nameKey{user.TenantID, user.Username}
	if _, taken := ur.names[nk]; taken {
		return users.ErrUserExists
	}
	uk := userKey{user.TenantID, user.ID}
	if _, taken := ur.users[uk]; taken {
		return users.ErrUserExists
	}

	now := ur.nowFunc().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	ur.users[uk] = clone(user)
	ur.names[nk] = user.ID
	return nil
}

func (ur *FakeUserRepo) GetByUsername(_ context.Context, tenantID, username string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	if ur.Err != nil {
		return nil, ur.Err
	}
	id, ok := ur.names[nameKey{tenantID, users.NormalizeUsername(username)}]
	if !ok {
		return nil, users.ErrNotFound
	}
	return clone(ur.users[userKey{tenantID, id}]), nil
}

func (ur *FakeUserRepo) GetByID(_ context.Context, tenantID, userID string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	if ur.Err != nil {
		return nil, ur.Err
	}
	u, ok := ur.users[userKey{tenantID, userID}]
	if !ok {
		return nil, users.ErrNotFound
	}
	return clone(u), nil
}

func (ur *FakeUserRepo) UpdatePasswordHash(_ context.Context, tenantID, userID, hash string) error {
	return ur.update(tenantID, userID, func(u *users.User) { u.PasswordHash = hash })
}

func (ur *FakeUserRepo) SetDisabled(_ context.Context, tenantID, userID string, disabled bool) error {
	return ur.update(tenantID, userID, func(u *users.User) { u.Disabled = disabled })
}

func (ur *FakeUserRepo) Delete(_ context.Context, tenantID, userID string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if ur.Err != nil {
		return ur.Err
	}
	uk := userKey{tenantID, userID}
	u, ok := ur.users[uk]
	if !ok {
		return users.ErrNotFound
	}
	delete(ur.names, nameKey{tenantID, u.Username})
	delete(ur.users, uk)
	return nil
}

func (ur *FakeUserRepo) List(_ context.Context, tenantID string, offset, limit int) ([]*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	if ur.Err != nil {
		return nil, ur.Err
	}

	list := make([]*users.User, 0)
	for k, u := range ur.users {
		if k.tenantID == tenantID {
			list = append(list, clone(u))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Username < list[j].Username
	})
	if offset < 0 || offset >= len(list) {
		return nil, nil
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return list[offset:end], nil
}

func (ur *FakeUserRepo) update(tenantID, userID string, fn func(*users.User)) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if ur.Err != nil {
		return ur.Err
	}
	u, ok := ur.users[userKey{tenantID, userID}]
	if !ok {
		return users.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = ur.nowFunc().UTC()
	return nil
}

func clone(u *users.User) *users.User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return &cp
}
