// Package lockout counts failed login attempts per user and per source address
// and locks further attempts once a tenant's limit is reached.
package lockout

import (
	"context"
	"time"

	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind separates per-user counters from per-address counters
type Kind string

const (
	KindUser Kind = "user"
	KindIP   Kind = "ip"
)

// Key identifies one counter within a tenant
type Key struct {
	TenantID string
	Kind     Kind
	Subject  string
}

func UserKey(tenantID, userID string) Key {
	return Key{TenantID: tenantID, Kind: KindUser, Subject: userID}
}

func IPKey(tenantID, ip string) Key {
	return Key{TenantID: tenantID, Kind: KindIP, Subject: ip}
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.TenantID + ":" + k.Subject
}

// Counter is the failed-attempt state of one key. The zero Counter means no
// recent failures.
type Counter struct {
	Count       int
	WindowStart time.Time
	LockedUntil time.Time
}

// Locked reports whether attempts are refused at now
func (c Counter) Locked(now time.Time) bool {
	return now.Before(c.LockedUntil)
}

// Rule is the limit applied to a key
type Rule struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
}

// RuleFor picks the tenant limit for the key's kind. A zero MaxAttempts
// disables counting.
func RuleFor(key Key, policy tenants.Policy) Rule {
	rule := Rule{
		MaxAttempts: policy.MaxFailedAttempts,
		Window:      policy.FailureWindow.Duration,
		Lockout:     policy.LockoutDuration.Duration,
	}
	if key.Kind == KindIP {
		rule.MaxAttempts = policy.MaxFailedAttemptsPerIP
	}
	return rule
}

// Next is the counter after one more failure at now. Stores apply it
// atomically: a failure while locked changes nothing, a failure after the
// window or after an elapsed lockout starts a fresh window.
func Next(c Counter, rule Rule, now time.Time) Counter {
	if c.Locked(now) {
		return c
	}
	if c.Count == 0 || !now.Before(c.WindowStart.Add(rule.Window)) || !c.LockedUntil.IsZero() {
		c = Counter{WindowStart: now}
	}
	c.Count++
	if c.Count >= rule.MaxAttempts {
		c.LockedUntil = now.Add(rule.Lockout)
	}
	return c
}

// Current hides a counter whose window and lockout have both run out
func Current(c Counter, rule Rule, now time.Time) Counter {
	if c.Locked(now) {
		return c
	}
	if !c.LockedUntil.IsZero() || !now.Before(c.WindowStart.Add(rule.Window)) {
		return Counter{}
	}
	return c
}

// Store keeps counters in shared state. RecordFailure must be atomic across
// processes.
type Store interface {
	RecordFailure(ctx context.Context, key Key, rule Rule, now time.Time) (Counter, error)
	Get(ctx context.Context, key Key, rule Rule, now time.Time) (Counter, error)
	Reset(ctx context.Context, key Key) error
}

// Engine applies tenant lockout policy on top of a Store
type Engine struct {
	store   Store
	nowFunc func() time.Time
	logger  zerolog.Logger
}

type Option func(*Engine)

func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(store Store, options ...Option) *Engine {
	e := &Engine{
		store:   store,
		nowFunc: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// RecordFailure counts a failed attempt. It is never retried: a lost reply
// would otherwise count twice.
func (e *Engine) RecordFailure(ctx context.Context, key Key, policy tenants.Policy) (Counter, error) {
	rule := RuleFor(key, policy)
	if rule.MaxAttempts <= 0 {
		return Counter{}, nil
	}
	now := e.nowFunc()
	c, err := e.store.RecordFailure(ctx, key, rule, now)
	if err != nil {
		return Counter{}, err
	}
	if c.Count == rule.MaxAttempts && c.Locked(now) {
		e.logger.Warn().Str("tenant", key.TenantID).Str("kind", string(key.Kind)).
			Time("locked_until", c.LockedUntil).Msg("lockout engaged")
	}
	return c, nil
}

// IsLocked reports whether the key is locked and until when
func (e *Engine) IsLocked(ctx context.Context, key Key, policy tenants.Policy) (bool, time.Time, error) {
	rule := RuleFor(key, policy)
	if rule.MaxAttempts <= 0 {
		return false, time.Time{}, nil
	}
	now := e.nowFunc()
	c, err := e.store.Get(ctx, key, rule, now)
	if err != nil {
		return false, time.Time{}, err
	}
	if c.Locked(now) {
		return true, c.LockedUntil, nil
	}
	return false, time.Time{}, nil
}

// Reset clears the counter after a successful login
func (e *Engine) Reset(ctx context.Context, key Key) error {
	return e.store.Reset(ctx, key)
}
