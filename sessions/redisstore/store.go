// Package redisstore implements sessions.Store on Redis. Rotation and
// revocation run as Lua scripts so concurrent instances see one order of
// events per session.
package redisstore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/internal/retry"
	"github.com/jrsteele09/go-tenant-auth/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var _ sessions.Store = (*Store)(nil)

const (
	DefaultKeyPrefix = "auth:"
	DefaultSweepRate = 500
	sweepScanCount   = 100
)

// Store keeps each session in a hash with a TTL matching its expiry. Session
// and lineage keys share a hash tag so they live on one cluster slot.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	nowFunc   func() time.Time
	backoff   time.Duration
	sweepRate int
	logger    zerolog.Logger
}

type Option func(*Store)

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func WithRetryBackoff(backoff time.Duration) Option {
	return func(s *Store) {
		s.backoff = backoff
	}
}

// WithSweepRate caps how many keys SweepExpired inspects per second
func WithSweepRate(perSecond int) Option {
	return func(s *Store) {
		s.sweepRate = perSecond
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(client redis.UniversalClient, options ...Option) *Store {
	s := &Store{
		client:    client,
		prefix:    DefaultKeyPrefix,
		nowFunc:   time.Now,
		backoff:   retry.DefaultBackoff,
		sweepRate: DefaultSweepRate,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + "session:{" + id + "}"
}

func (s *Store) lineageKey(id string) string {
	return s.prefix + "lineage:{" + id + "}"
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + "user_sessions:{" + tenantID + ":" + userID + "}"
}

func (s *Store) Create(ctx context.Context, ns sessions.NewSession) (*sessions.Session, error) {
	ttl := ns.ExpiresAt.Sub(ns.CreatedAt)
	if ns.ID == "" || ttl <= 0 {
		return nil, errors.Wrapf(errors.ErrInternal, "session %q needs an id and a future expiry", ns.ID)
	}
	created := strconv.FormatInt(ns.CreatedAt.UnixMilli(), 10)

	err := retry.Once(ctx, s.backoff, func(ctx context.Context) error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			key := s.sessionKey(ns.ID)
			pipe.HSet(ctx, key,
				"tenant_id", ns.TenantID,
				"user_id", ns.UserID,
				"refresh_hash", ns.RefreshHash,
				"created_at", created,
				"last_rotated_at", created,
				"expires_at", strconv.FormatInt(ns.ExpiresAt.UnixMilli(), 10),
				"revoked", "0",
			)
			pipe.PExpire(ctx, key, ttl)
			return nil
		})
		if err != nil {
			return errors.Unavailable("create session", err)
		}
		err = indexScript.Run(ctx, s.client, []string{s.userKey(ns.TenantID, ns.UserID)}, ns.ID, ttl.Milliseconds()).Err()
		return errors.Unavailable("index session", err)
	})
	if err != nil {
		return nil, err
	}

	return &sessions.Session{
		ID:            ns.ID,
		TenantID:      ns.TenantID,
		UserID:        ns.UserID,
		RefreshHash:   ns.RefreshHash,
		CreatedAt:     time.UnixMilli(ns.CreatedAt.UnixMilli()).UTC(),
		LastRotatedAt: time.UnixMilli(ns.CreatedAt.UnixMilli()).UTC(),
		ExpiresAt:     time.UnixMilli(ns.ExpiresAt.UnixMilli()).UTC(),
	}, nil
}

// Rotate is never retried. A retry after a lost reply would present a hash
// that was already rotated past and revoke the session.
func (s *Store) Rotate(ctx context.Context, r sessions.Rotation) (*sessions.Session, error) {
	expires := ""
	if !r.ExpiresAt.IsZero() {
		expires = strconv.FormatInt(r.ExpiresAt.UnixMilli(), 10)
	}

	res, err := rotateScript.Run(ctx, s.client,
		[]string{s.sessionKey(r.SessionID), s.lineageKey(r.SessionID)},
		r.PresentedHash, r.NewHash, r.Now.UnixMilli(), expires,
	).StringSlice()
	if err != nil {
		return nil, errors.Unavailable("rotate session", err)
	}
	if len(res) == 0 {
		return nil, errors.Unavailable("rotate session", errors.New("empty script reply"))
	}

	switch res[0] {
	case "ok":
		fields := make(map[string]string, (len(res)-1)/2)
		for i := 1; i+1 < len(res); i += 2 {
			fields[res[i]] = res[i+1]
		}
		session, err := decode(r.SessionID, fields)
		if err != nil {
			return nil, err
		}
		s.extendIndex(ctx, session, session.ExpiresAt.Sub(r.Now))
		return session, nil
	case "missing":
		return nil, sessions.ErrSessionNotFound
	case "revoked":
		return nil, sessions.ErrSessionRevoked
	case "expired":
		return nil, sessions.ErrSessionExpired
	case "reuse":
		s.logger.Warn().Str("session", r.SessionID).Msg("refresh token reuse, session revoked")
		return nil, sessions.ErrReuseDetected
	case "mismatch":
		return nil, sessions.ErrRefreshMismatch
	default:
		return nil, errors.Unavailable("rotate session", errors.New("unexpected script reply "+res[0]))
	}
}

// extendIndex keeps the user index alive for as long as a rotated session.
// The rotation has already happened, so a failure only logs.
func (s *Store) extendIndex(ctx context.Context, session *sessions.Session, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	index := s.userKey(session.TenantID, session.UserID)
	err := retry.Once(ctx, s.backoff, func(ctx context.Context) error {
		err := indexScript.Run(ctx, s.client, []string{index}, session.ID, ttl.Milliseconds()).Err()
		return errors.Unavailable("index session", err)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", session.TenantID).Str("user", session.UserID).
			Str("session", session.ID).Msg("failed to extend user session index")
	}
}

func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	_, err := s.revoke(ctx, sessionID)
	return err
}

func (s *Store) revoke(ctx context.Context, sessionID string) (int64, error) {
	return retry.Value(ctx, s.backoff, func(ctx context.Context) (int64, error) {
		n, err := revokeScript.Run(ctx, s.client, []string{s.sessionKey(sessionID)}, s.nowFunc().UnixMilli()).Int64()
		if err != nil {
			return 0, errors.Unavailable("revoke session", err)
		}
		return n, nil
	})
}

func (s *Store) RevokeUser(ctx context.Context, tenantID, userID string) (int, error) {
	index := s.userKey(tenantID, userID)
	ids, err := retry.Value(ctx, s.backoff, func(ctx context.Context) ([]string, error) {
		ids, err := s.client.SMembers(ctx, index).Result()
		return ids, errors.Unavailable("list user sessions", err)
	})
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, id := range ids {
		n, err := s.revoke(ctx, id)
		if err != nil {
			return revoked, err
		}
		switch n {
		case 1:
			revoked++
		case -1:
			// expired and gone
			s.client.SRem(ctx, index, id)
		}
	}
	return revoked, nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*sessions.Session, error) {
	fields, err := retry.Value(ctx, s.backoff, func(ctx context.Context) (map[string]string, error) {
		fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
		return fields, errors.Unavailable("get session", err)
	})
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, sessions.ErrSessionNotFound
	}

	session, err := decode(sessionID, fields)
	if err != nil {
		return nil, err
	}
	if !s.nowFunc().Before(session.ExpiresAt) {
		return nil, sessions.ErrSessionNotFound
	}
	return session, nil
}

// SweepExpired scans session keys and deletes those past expiry together with
// their lineage and index entries. Redis TTLs normally remove them first; the
// sweep covers clock skew between instances and keeps user indexes small.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	limit := rate.Inf
	if s.sweepRate > 0 {
		limit = rate.Limit(s.sweepRate)
	}
	limiter := rate.NewLimiter(limit, sweepScanCount)
	iter := s.client.Scan(ctx, 0, s.prefix+"session:*", sweepScanCount).Iterator()

	removed := 0
	for iter.Next(ctx) {
		if err := limiter.Wait(ctx); err != nil {
			return removed, err
		}
		key := iter.Val()
		id := hashTag(key)
		if id == "" {
			continue
		}

		f, err := s.client.HMGet(ctx, key, "expires_at", "tenant_id", "user_id").Result()
		if err != nil {
			return removed, errors.Unavailable("sweep sessions", err)
		}
		expiresAt, ok := parseMillis(f[0])
		if !ok || now.Before(expiresAt) {
			continue
		}

		_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, s.lineageKey(id))
			if tenantID, userID := str(f[1]), str(f[2]); tenantID != "" {
				pipe.SRem(ctx, s.userKey(tenantID, userID), id)
			}
			return nil
		})
		if err != nil {
			return removed, errors.Unavailable("sweep sessions", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, errors.Unavailable("sweep sessions", err)
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("swept expired sessions")
	}
	return removed, nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	return errors.Unavailable("ping", s.client.Ping(ctx).Err())
}

func decode(id string, f map[string]string) (*sessions.Session, error) {
	created, ok1 := parseMillis(f["created_at"])
	rotated, ok2 := parseMillis(f["last_rotated_at"])
	expires, ok3 := parseMillis(f["expires_at"])
	if !ok1 || !ok2 || !ok3 {
		return nil, errors.Wrapf(errors.ErrInternal, "session %s has a corrupt record", id)
	}

	session := &sessions.Session{
		ID:            id,
		TenantID:      f["tenant_id"],
		UserID:        f["user_id"],
		RefreshHash:   f["refresh_hash"],
		CreatedAt:     created,
		LastRotatedAt: rotated,
		ExpiresAt:     expires,
		Revoked:       f["revoked"] == "1",
	}
	if revokedAt, ok := parseMillis(f["revoked_at"]); ok {
		session.RevokedAt = revokedAt
	}
	return session, nil
}

func parseMillis(v any) (time.Time, bool) {
	ms, err := strconv.ParseInt(str(v), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func hashTag(key string) string {
	start := strings.IndexByte(key, '{')
	end := strings.LastIndexByte(key, '}')
	if start < 0 || end <= start {
		return ""
	}
	return key[start+1 : end]
}
