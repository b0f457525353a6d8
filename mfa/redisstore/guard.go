// Package redisstore implements mfa.Guard on Redis so every instance sees the
// same last accepted step.
package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/mfa"
	"github.com/redis/go-redis/v9"
)

var _ mfa.Guard = (*Guard)(nil)

const DefaultKeyPrefix = "auth:"

// acceptScript
//
// KEYS[1] user step key
// ARGV[1] step, ARGV[2] ttl ms
var acceptScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

type Guard struct {
	client redis.UniversalClient
	prefix string
}

type Option func(*Guard)

func WithKeyPrefix(prefix string) Option {
	return func(g *Guard) {
		g.prefix = prefix
	}
}

func New(client redis.UniversalClient, options ...Option) *Guard {
	g := &Guard{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range options {
		opt(g)
	}
	return g
}

func (g *Guard) key(tenantID, userID string) string {
	return g.prefix + "totp:{" + tenantID + "}:" + userID
}

// Accept is never retried: a retry after a lost reply would refuse the code
// that was just accepted.
func (g *Guard) Accept(ctx context.Context, tenantID, userID string, step int64, ttl time.Duration) (bool, error) {
	n, err := acceptScript.Run(ctx, g.client,
		[]string{g.key(tenantID, userID)},
		strconv.FormatInt(step, 10), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, errors.Unavailable("accept totp step", err)
	}
	return n == 1, nil
}
