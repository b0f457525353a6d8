package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-tenant-auth/audit"
	"github.com/jrsteele09/go-tenant-auth/audit/redisledger"
	"github.com/jrsteele09/go-tenant-auth/auth"
	"github.com/jrsteele09/go-tenant-auth/internal/config"
	"github.com/jrsteele09/go-tenant-auth/lockout"
	lockoutstore "github.com/jrsteele09/go-tenant-auth/lockout/redisstore"
	mfastore "github.com/jrsteele09/go-tenant-auth/mfa/redisstore"
	"github.com/jrsteele09/go-tenant-auth/passwords"
	sessionstore "github.com/jrsteele09/go-tenant-auth/sessions/redisstore"
	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/jrsteele09/go-tenant-auth/tenants/catalogue"
	"github.com/jrsteele09/go-tenant-auth/token"
	"github.com/jrsteele09/go-tenant-auth/token/refresh"
	"github.com/jrsteele09/go-tenant-auth/users"
	"github.com/jrsteele09/go-tenant-auth/users/pgstore"
	"github.com/jrsteele09/go-tenant-auth/users/sqlitestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const startupTimeout = 5 * time.Second

// credentialStore is a users.Repo that owns a connection
type credentialStore interface {
	users.Repo
	Ping(ctx context.Context) error
	Close() error
}

// app holds the wired components shared by every command
type app struct {
	cfg       config.Config
	redis     redis.UniversalClient
	catalogue *catalogue.FileRepo
	resolver  *tenants.Resolver
	users     credentialStore
	sessions  *sessionstore.Store
	ledger    *redisledger.Ledger
	passwords *passwords.Pool
	service   *auth.Service
}

func newRedisClient(c config.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     c.GetRedisAddr(),
		Password: c.GetRedisPassword(),
		DB:       c.GetRedisDB(),
	})
}

func newPasswordPool(c config.SecurityConfig) *passwords.Pool {
	hasher := passwords.NewHasher(
		passwords.WithTime(c.GetArgonTime()),
		passwords.WithMemory(c.GetArgonMemoryKiB()),
		passwords.WithThreads(c.GetArgonThreads()),
	)
	return passwords.NewPool(hasher, c.GetHashWorkers())
}

// openCredentialStore dispatches on the DSN scheme: "sqlite:<path>" or a
// postgres URL
func openCredentialStore(ctx context.Context, dsn string) (credentialStore, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		return sqlitestore.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := pgstore.NewDB(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect credential store: %w", err)
		}
		store := pgstore.New(db)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported credential DSN %q", dsn)
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	client := newRedisClient(c)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", c.GetRedisAddr(), err)
	}

	cat, err := catalogue.Open(c.GetTenantCatalogue(), catalogue.WithLogger(log.Logger))
	if err != nil {
		client.Close()
		return nil, err
	}

	creds, err := openCredentialStore(ctx, c.GetCredentialDSN())
	if err != nil {
		client.Close()
		return nil, err
	}

	a := &app{
		cfg:       c,
		redis:     client,
		catalogue: cat,
		users:     creds,
		resolver: tenants.NewResolver(cat,
			tenants.WithCacheTTL(c.GetTenantCacheTTL()),
			tenants.WithRetryBackoff(c.GetRetryBackoff()),
		),
		sessions: sessionstore.New(client,
			sessionstore.WithKeyPrefix(c.GetKeyPrefix()),
			sessionstore.WithRetryBackoff(c.GetRetryBackoff()),
			sessionstore.WithSweepRate(int(c.GetSweepRate())),
		),
		ledger: redisledger.New(client,
			redisledger.WithKeyPrefix(c.GetKeyPrefix()),
		),
		passwords: newPasswordPool(c),
	}

	if err := a.registerTenants(ctx); err != nil {
		a.Close()
		return nil, err
	}

	counters := lockoutstore.New(client,
		lockoutstore.WithKeyPrefix(c.GetKeyPrefix()),
		lockoutstore.WithRetryBackoff(c.GetRetryBackoff()),
	)
	a.service, err = auth.NewService(auth.Deps{
		Tenants:   a.resolver,
		Users:     creds,
		Sessions:  a.sessions,
		Lockout:   lockout.NewEngine(counters),
		Passwords: a.passwords,
		Tokens:    token.NewIssuer(a.resolver, token.WithClockSkew(c.GetClockSkew())),
		Refresh:   refresh.NewCodec(c.GetRefreshTokenLength()),
		MFAGuard:  mfastore.New(client, mfastore.WithKeyPrefix(c.GetKeyPrefix())),
	},
		auth.WithAuditRecorder(audit.Multi(audit.DefaultRecorder(), a.ledger)),
		auth.WithWriteTimeout(c.GetStoreWriteTimeout()),
		auth.WithRetryBackoff(c.GetRetryBackoff()),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// registerTenants makes every catalogue tenant known to the credential store
func (a *app) registerTenants(ctx context.Context) error {
	list, err := a.catalogue.List(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, t := range list {
		if err := a.users.RegisterTenant(ctx, t.ID); err != nil {
			return fmt.Errorf("register tenant %s: %w", t.ID, err)
		}
	}
	log.Debug().Int("tenants", len(list)).Msg("tenants registered with credential store")
	return nil
}

func (a *app) Close() {
	if err := a.users.Close(); err != nil {
		log.Warn().Err(err).Msg("close credential store")
	}
	if err := a.redis.Close(); err != nil {
		log.Warn().Err(err).Msg("close redis client")
	}
}
