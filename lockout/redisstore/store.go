// Package redisstore keeps lockout counters in Redis hashes updated by a Lua
// script, so concurrent failures from many instances are all counted.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/internal/retry"
	"github.com/jrsteele09/go-tenant-auth/lockout"
	"github.com/redis/go-redis/v9"
)

var _ lockout.Store = (*Store)(nil)

const DefaultKeyPrefix = "auth:"

// recordScript is lockout.Next evaluated inside Redis
//
// KEYS[1] counter
// ARGV[1] now ms, ARGV[2] window ms, ARGV[3] max attempts, ARGV[4] lockout ms
var recordScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local lockout = tonumber(ARGV[4])
local f = redis.call('HMGET', KEYS[1], 'count', 'window_start', 'locked_until')
local count = tonumber(f[1]) or 0
local start = tonumber(f[2]) or 0
local locked = tonumber(f[3]) or 0
if locked > now then
	return {count, start, locked}
end
if count == 0 or now - start >= window or locked > 0 then
	redis.call('DEL', KEYS[1])
	start = now
	locked = 0
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'window_start', start)
local expires = start + window
if count >= max then
	locked = now + lockout
	redis.call('HSET', KEYS[1], 'locked_until', locked)
	if locked > expires then
		expires = locked
	end
end
redis.call('PEXPIRE', KEYS[1], expires - now)
return {count, start, locked}
`)

type Store struct {
	client  redis.UniversalClient
	prefix  string
	backoff time.Duration
}

type Option func(*Store)

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func WithRetryBackoff(backoff time.Duration) Option {
	return func(s *Store) {
		s.backoff = backoff
	}
}

func New(client redis.UniversalClient, options ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  DefaultKeyPrefix,
		backoff: retry.DefaultBackoff,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) key(k lockout.Key) string {
	return s.prefix + "lockout:" + k.String()
}

func (s *Store) RecordFailure(ctx context.Context, key lockout.Key, rule lockout.Rule, now time.Time) (lockout.Counter, error) {
	res, err := recordScript.Run(ctx, s.client, []string{s.key(key)},
		now.UnixMilli(), rule.Window.Milliseconds(), rule.MaxAttempts, rule.Lockout.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return lockout.Counter{}, errors.Unavailable("record failed attempt", err)
	}
	if len(res) != 3 {
		return lockout.Counter{}, errors.Unavailable("record failed attempt", errors.New("unexpected script reply"))
	}
	return counter(res[0], res[1], res[2]), nil
}

func (s *Store) Get(ctx context.Context, key lockout.Key, rule lockout.Rule, now time.Time) (lockout.Counter, error) {
	f, err := retry.Value(ctx, s.backoff, func(ctx context.Context) ([]any, error) {
		f, err := s.client.HMGet(ctx, s.key(key), "count", "window_start", "locked_until").Result()
		return f, errors.Unavailable("get failed attempts", err)
	})
	if err != nil {
		return lockout.Counter{}, err
	}
	return lockout.Current(counter(toInt(f[0]), toInt(f[1]), toInt(f[2])), rule, now), nil
}

func (s *Store) Reset(ctx context.Context, key lockout.Key) error {
	return retry.Once(ctx, s.backoff, func(ctx context.Context) error {
		return errors.Unavailable("reset failed attempts", s.client.Del(ctx, s.key(key)).Err())
	})
}

func counter(count, start, locked int64) lockout.Counter {
	c := lockout.Counter{Count: int(count)}
	if start > 0 {
		c.WindowStart = time.UnixMilli(start).UTC()
	}
	if locked > 0 {
		c.LockedUntil = time.UnixMilli(locked).UTC()
	}
	return c
}

func toInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
