// Package sqlitestore keeps credential records in SQLite through the pure Go
// modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/users"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ users.Repo = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	tenant_id     TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	id            TEXT NOT NULL,
	username      TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	roles         TEXT NOT NULL DEFAULT '[]',
	totp_secret   TEXT NOT NULL DEFAULT '',
	disabled      INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, id),
	UNIQUE (tenant_id, username)
);
`

const userColumns = `id, tenant_id, username, password_hash, roles, totp_secret, disabled, created_at, updated_at`

// Store is a users.Repo on SQLite
type Store struct {
	db      *sql.DB
	nowFunc func() time.Time
}

type Option func(*Store)

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// Open opens (creating if needed) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string, options ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer, and an in-memory database lives only as long
	// as its connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}

	s := &Store{db: db, nowFunc: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) RegisterTenant(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		tenantID, s.nowFunc().UnixMilli())
	return mapError("register tenant", err)
}

func (s *Store) Create(ctx context.Context, user *users.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.Username = users.NormalizeUsername(user.Username)
	now := s.nowFunc().UTC().Truncate(time.Millisecond)
	user.CreatedAt, user.UpdatedAt = now, now

	roles, err := json.Marshal(nonNil(user.Roles))
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.TenantID, user.Username, user.PasswordHash, string(roles),
		user.TOTPSecret, user.Disabled, now.UnixMilli(), now.UnixMilli())
	return mapError("create user", err)
}

func (s *Store) GetByUsername(ctx context.Context, tenantID, username string) (*users.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = ? AND username = ?`,
		tenantID, users.NormalizeUsername(username))
	return scanUser("get user by username", row)
}

func (s *Store) GetByID(ctx context.Context, tenantID, userID string) (*users.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = ? AND id = ?`,
		tenantID, userID)
	return scanUser("get user by id", row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, tenantID, userID, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		hash, s.nowFunc().UnixMilli(), tenantID, userID)
	return affected("update password hash", res, err)
}

func (s *Store) SetDisabled(ctx context.Context, tenantID, userID string, disabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET disabled = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		disabled, s.nowFunc().UnixMilli(), tenantID, userID)
	return affected("set disabled", res, err)
}

func (s *Store) Delete(ctx context.Context, tenantID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM users WHERE tenant_id = ? AND id = ?`, tenantID, userID)
	return affected("delete user", res, err)
}

func (s *Store) List(ctx context.Context, tenantID string, offset, limit int) ([]*users.User, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE tenant_id = ? ORDER BY username LIMIT ? OFFSET ?`,
		tenantID, limit, offset)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(op string, row scanner) (*users.User, error) {
	var (
		u         users.User
		roles     string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Username, &u.PasswordHash, &roles,
		&u.TOTPSecret, &u.Disabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapError(op, err)
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("%s: decode roles: %w", op, err)
	}
	if len(u.Roles) == 0 {
		u.Roles = nil
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &u, nil
}

func affected(op string, res sql.Result, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
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
	if errors.Is(err, sql.ErrNoRows) {
		return users.ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errors.Wrapf(users.ErrUserExists, "%s", op)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return errors.Wrapf(users.ErrTenantUnknown, "%s", op)
		}
	}
	return errors.Unavailable(op, err)
}

func nonNil(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}
