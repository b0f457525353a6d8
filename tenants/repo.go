package tenants

import (
	"context"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
)

// ErrNotFound is returned by a Repo for an unknown tenant id. It is the shared
// ErrTenantNotFound sentinel so callers need not know which layer answered.
var ErrNotFound = errors.ErrTenantNotFound

type Repo interface {
	Upsert(ctx context.Context, tenantData *Tenant) error
	Delete(ctx context.Context, tenantID string) error
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	List(ctx context.Context, offset, limit int) ([]*Tenant, error)
}
