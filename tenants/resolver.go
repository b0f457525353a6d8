package tenants

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/internal/retry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how stale a cached policy may be after an update
const DefaultCacheTTL = 30 * time.Second

// DefaultLoadTimeout bounds a shared tenant load, which outlives the caller
// that started it
const DefaultLoadTimeout = 5 * time.Second

type cacheEntry struct {
	tenant   Tenant
	loadedAt time.Time
}

// Resolver validates a tenant identifier against the known tenants and returns
// the tenant with its policy. Results are cached for at most the TTL.
type Resolver struct {
	repo    Repo
	ttl     time.Duration
	backoff time.Duration
	timeout time.Duration
	nowFunc func() time.Time
	logger  zerolog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

type ResolverOption func(*Resolver)

func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

func WithRetryBackoff(backoff time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.backoff = backoff
	}
}

func WithLoadTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.timeout = timeout
	}
}

func WithNowFunc(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func NewResolver(repo Repo, options ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:    repo,
		ttl:     DefaultCacheTTL,
		backoff: retry.DefaultBackoff,
		timeout: DefaultLoadTimeout,
		nowFunc: time.Now,
		logger:  log.Logger,
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve returns the tenant for id. Unknown ids fail with ErrTenantNotFound, a
// tenant whose policy does not validate fails with ErrInvalidTenant, and repo
// failures with ErrStoreUnavailable.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.Wrapf(ErrNotFound, "resolve tenant: empty identifier")
	}

	if t, ok := r.cached(id); ok {
		return t, nil
	}

	// the load is shared by every caller waiting on id, so one caller giving
	// up must not fail the others
	ch := r.group.DoChan(id, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.load(lctx, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t := res.Val.(Tenant)
		return &t, nil
	}
}

// Invalidate drops one cached tenant
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}

// InvalidateAll drops the whole cache, used when the catalogue changes
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

func (r *Resolver) cached(id string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[id]
	if !ok || r.nowFunc().Sub(entry.loadedAt) >= r.ttl {
		return nil, false
	}
	t := entry.tenant
	return &t, true
}

func (r *Resolver) load(ctx context.Context, id string) (Tenant, error) {
	t, err := retry.Value(ctx, r.backoff, func(ctx context.Context) (*Tenant, error) {
		t, err := r.repo.Get(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, errors.Unavailable("tenant repo get", err)
		}
		return t, err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Debug().Str("tenant", id).Msg("unknown tenant")
			return Tenant{}, errors.Wrapf(ErrNotFound, "resolve tenant %q", id)
		}
		r.logger.Error().Err(err).Str("tenant", id).Msg("tenant repo unavailable")
		return Tenant{}, err
	}

	prepared := *t
	if err := prepared.Prepare(); err != nil {
		r.logger.Error().Err(err).Str("tenant", id).Msg("tenant policy rejected")
		return Tenant{}, errors.Wrapf(errors.ErrInvalidTenant, "resolve tenant %q: %v", id, err)
	}

	r.mu.Lock()
	r.cache[id] = cacheEntry{tenant: prepared, loadedAt: r.nowFunc()}
	r.mu.Unlock()
	return prepared, nil
}
