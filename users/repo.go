package users

import (
	"context"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
)

var (
	// ErrNotFound is returned for an unknown user within a tenant
	ErrNotFound = errors.ErrUserNotFound
	// ErrUserExists is returned when the username is already taken in the tenant
	ErrUserExists = errors.New("user already exists")
	// ErrTenantUnknown is returned when the tenant is not registered with the store
	ErrTenantUnknown = errors.New("tenant not registered with credential store")
)

// Repo stores credential records. Every lookup is scoped by tenant.
type Repo interface {
	// RegisterTenant makes a tenant known to the store. Idempotent.
	RegisterTenant(ctx context.Context, tenantID string) error
	Create(ctx context.Context, user *User) error
	GetByUsername(ctx context.Context, tenantID, username string) (*User, error)
	GetByID(ctx context.Context, tenantID, userID string) (*User, error)
	UpdatePasswordHash(ctx context.Context, tenantID, userID, hash string) error
	SetDisabled(ctx context.Context, tenantID, userID string, disabled bool) error
	Delete(ctx context.Context, tenantID, userID string) error
	List(ctx context.Context, tenantID string, offset, limit int) ([]*User, error)
}
