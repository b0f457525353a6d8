// Package pgstore keeps credential records in PostgreSQL through pgx.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/users"
)

var _ users.Repo = (*Store)(nil)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const schema = `
CREATE TABLE IF NOT EXISTS auth_tenants (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS auth_users (
	tenant_id     TEXT NOT NULL REFERENCES auth_tenants(id) ON DELETE CASCADE,
	id            TEXT NOT NULL,
	username      TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	roles         TEXT[] NOT NULL DEFAULT '{}',
	totp_secret   TEXT NOT NULL DEFAULT '',
	disabled      BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, username)
);
`

const userColumns = `id, tenant_id, username, password_hash, roles, totp_secret, disabled, created_at, updated_at`

// NewDB creates a tuned connection pool and checks it with a ping
func NewDB(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Store is a users.Repo on PostgreSQL
type Store struct {
	db      *pgxpool.Pool
	nowFunc func() time.Time
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func New(db *pgxpool.Pool, options ...Option) *Store {
	s := &Store{db: db, nowFunc: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Migrate creates the tables when missing
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return mapError("migrate", err)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) RegisterTenant(ctx context.Context, tenantID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO auth_tenants (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, tenantID)
	return mapError("register tenant", err)
}

func (s *Store) Create(ctx context.Context, user *users.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Username = users.NormalizeUsername(user.Username)
	now := s.nowFunc().UTC().Truncate(time.Microsecond)
	user.CreatedAt, user.UpdatedAt = now, now

	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO auth_users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.TenantID, user.Username, user.PasswordHash, roles,
		user.TOTPSecret, user.Disabled, now, now)
	return mapError("create user", err)
}

func (s *Store) GetByUsername(ctx context.Context, tenantID, username string) (*users.User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE tenant_id = $1 AND username = $2`,
		tenantID, users.NormalizeUsername(username))
	return scanUser("get user by username", row)
}

func (s *Store) GetByID(ctx context.Context, tenantID, userID string) (*users.User, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM auth_users WHERE tenant_id = $1 AND id = $2`,
		tenantID, userID)
	return scanUser("get user by id", row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, tenantID, userID, hash string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE auth_users SET password_hash = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		hash, s.nowFunc().UTC(), tenantID, userID)
	return affected("update password hash", tag, err)
}

func (s *Store) SetDisabled(ctx context.Context, tenantID, userID string, disabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE auth_users SET disabled = $1, updated_at = $2 WHERE tenant_id = $3 AND id = $4`,
		disabled, s.nowFunc().UTC(), tenantID, userID)
	return affected("set disabled", tag, err)
}

func (s *Store) Delete(ctx context.Context, tenantID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM auth_users WHERE tenant_id = $1 AND id = $2`, tenantID, userID)
	return affected("delete user", tag, err)
}

func (s *Store) List(ctx context.Context, tenantID string, offset, limit int) ([]*users.User, error) {
	query := `SELECT ` + userColumns + ` FROM auth_users WHERE tenant_id = $1 ORDER BY username OFFSET $2`
	args := []any{tenantID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list users", err)
	}
	defer rows.Close()

	var list []*users.User
	for rows.Next() {
		u, err := scanUser("list users", rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, mapError("list users", rows.Err())
}

func scanUser(op string, row pgx.Row) (*users.User, error) {
	var u users.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.PasswordHash, &u.Roles,
		&u.TOTPSecret, &u.Disabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapError(op, err)
	}
	if len(u.Roles) == 0 {
		u.Roles = nil
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func affected(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

// mapError turns constraint violations into the users sentinels and anything
// else into a store outage
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return users.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return errors.Wrapf(users.ErrUserExists, "%s", op)
		case foreignKeyViolation:
			return errors.Wrapf(users.ErrTenantUnknown, "%s", op)
		}
	}
	return errors.Unavailable(op, err)
}
