package tenantrepofakes

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/tenants"
)

var _ tenants.Repo = (*FakeTenantRepo)(nil)

type FakeTenantRepo struct {
	tenants map[string]*tenants.Tenant
	lock    sync.RWMutex

	// Err, when set, is returned from every call to simulate an outage
	Err  error
	gets int
	gate chan struct{}
}

func NewFakeTenantRepo() *FakeTenantRepo {
	return &FakeTenantRepo{
		tenants: make(map[string]*tenants.Tenant),
	}
}

func (tr *FakeTenantRepo) Upsert(_ context.Context, tenantData *tenants.Tenant) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	if tr.Err != nil {
		return tr.Err
	}
	if tenantData.ID == "" {
		tenantData.ID = uuid.New().String()
	}
	cp := *tenantData
	tr.tenants[tenantData.ID] = &cp
	return nil
}

func (tr *FakeTenantRepo) Delete(_ context.Context, tenantID string) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	if tr.Err != nil {
		return tr.Err
	}
	delete(tr.tenants, tenantID)
	return nil
}

// SetGate makes Get block until gate is closed or the caller's ctx is done
func (tr *FakeTenantRepo) SetGate(gate chan struct{}) {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.gate = gate
}

func (tr *FakeTenantRepo) Get(ctx context.Context, tenantID string) (*tenants.Tenant, error) {
	tr.lock.Lock()
	tr.gets++
	gate := tr.gate
	tr.lock.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	tr.lock.RLock()
	defer tr.lock.RUnlock()
	if tr.Err != nil {
		return nil, tr.Err
	}
	t, ok := tr.tenants[tenantID]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetCalls counts Get calls so cache behaviour can be asserted
func (tr *FakeTenantRepo) GetCalls() int {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	return tr.gets
}

func (tr *FakeTenantRepo) List(_ context.Context, offset, limit int) ([]*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	if tr.Err != nil {
		return nil, tr.Err
	}

	list := make([]*tenants.Tenant, 0, len(tr.tenants))
	for _, t := range tr.tenants {
		cp := *t
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return page(list, offset, limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 || offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
