package tenants

import (
	"fmt"
	"time"
)

// SessionExpiryMode decides whether refreshing extends a session
type SessionExpiryMode string

const (
	// SessionExpiryAbsolute fixes ExpiresAt at login time
	SessionExpiryAbsolute SessionExpiryMode = "absolute"
	// SessionExpirySliding moves ExpiresAt to now+RefreshTokenTTL on each rotation,
	// capped by MaxSessionLifetime from creation
	SessionExpirySliding SessionExpiryMode = "sliding"
)

const (
	DefaultMinPasswordLength  = 8
	DefaultAccessTokenTTL     = 15 * time.Minute
	DefaultRefreshTokenTTL    = 7 * 24 * time.Hour
	DefaultMaxSessionLifetime = 30 * 24 * time.Hour
	DefaultMaxFailedAttempts  = 5
	DefaultFailureWindow      = 15 * time.Minute
	DefaultLockoutDuration    = 15 * time.Minute

	minAccessTokenTTL    = time.Minute
	maxAccessTokenTTL    = 24 * time.Hour
	maxRefreshTokenTTL   = 90 * 24 * time.Hour
	maxFailedAttemptsCap = 100
)

// PasswordRules are the tenant's password composition requirements
type PasswordRules struct {
	MinLength     int   `json:"min_length" toml:"min_length"`
	RequireUpper  *bool `json:"require_upper,omitempty" toml:"require_upper"`
	RequireLower  *bool `json:"require_lower,omitempty" toml:"require_lower"`
	RequireDigit  *bool `json:"require_digit,omitempty" toml:"require_digit"`
	RequireSymbol bool  `json:"require_symbol" toml:"require_symbol"`
}

// Upper, Lower and Digit default to required when unset
func (r PasswordRules) Upper() bool { return r.RequireUpper == nil || *r.RequireUpper }
func (r PasswordRules) Lower() bool { return r.RequireLower == nil || *r.RequireLower }
func (r PasswordRules) Digit() bool { return r.RequireDigit == nil || *r.RequireDigit }

// Duration wraps time.Duration so policy files can use "15m" style values
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Policy is the tenant-scoped authentication policy. Zero fields take the
// defaults above through ApplyDefaults.
type Policy struct {
	Password               PasswordRules     `json:"password" toml:"password"`
	MFARequired            bool              `json:"mfa_required" toml:"mfa_required"`
	AccessTokenTTL         Duration          `json:"access_token_ttl" toml:"access_token_ttl"`
	RefreshTokenTTL        Duration          `json:"refresh_token_ttl" toml:"refresh_token_ttl"`
	SessionExpiry          SessionExpiryMode `json:"session_expiry" toml:"session_expiry"`
	MaxSessionLifetime     Duration          `json:"max_session_lifetime" toml:"max_session_lifetime"`
	MaxFailedAttempts      int               `json:"max_failed_attempts" toml:"max_failed_attempts"`
	FailureWindow          Duration          `json:"failure_window" toml:"failure_window"`
	LockoutDuration        Duration          `json:"lockout_duration" toml:"lockout_duration"`
	MaxFailedAttemptsPerIP int               `json:"max_failed_attempts_per_ip" toml:"max_failed_attempts_per_ip"`
}

// ApplyDefaults fills every zero field with its default
func (p *Policy) ApplyDefaults() {
	if p.Password.MinLength == 0 {
		p.Password.MinLength = DefaultMinPasswordLength
	}
	if p.AccessTokenTTL.Duration == 0 {
		p.AccessTokenTTL.Duration = DefaultAccessTokenTTL
	}
	if p.RefreshTokenTTL.Duration == 0 {
		p.RefreshTokenTTL.Duration = DefaultRefreshTokenTTL
	}
	if p.SessionExpiry == "" {
		p.SessionExpiry = SessionExpiryAbsolute
	}
	if p.MaxSessionLifetime.Duration == 0 {
		p.MaxSessionLifetime.Duration = DefaultMaxSessionLifetime
		if p.MaxSessionLifetime.Duration < p.RefreshTokenTTL.Duration {
			p.MaxSessionLifetime.Duration = p.RefreshTokenTTL.Duration
		}
	}
	if p.MaxFailedAttempts == 0 {
		p.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	if p.FailureWindow.Duration == 0 {
		p.FailureWindow.Duration = DefaultFailureWindow
	}
	if p.LockoutDuration.Duration == 0 {
		p.LockoutDuration.Duration = DefaultLockoutDuration
	}
}

// Validate rejects out-of-range fields, naming the first offending field
func (p Policy) Validate() error {
	switch {
	case p.Password.MinLength < DefaultMinPasswordLength:
		return errInvalid("password.min_length", fmt.Sprintf("must be at least %d", DefaultMinPasswordLength))
	case p.AccessTokenTTL.Duration < minAccessTokenTTL || p.AccessTokenTTL.Duration > maxAccessTokenTTL:
		return errInvalid("access_token_ttl", fmt.Sprintf("must be between %s and %s", minAccessTokenTTL, maxAccessTokenTTL))
	case p.RefreshTokenTTL.Duration < p.AccessTokenTTL.Duration || p.RefreshTokenTTL.Duration > maxRefreshTokenTTL:
		return errInvalid("refresh_token_ttl", fmt.Sprintf("must be between access_token_ttl and %s", maxRefreshTokenTTL))
	case p.SessionExpiry != SessionExpiryAbsolute && p.SessionExpiry != SessionExpirySliding:
		return errInvalid("session_expiry", "must be absolute or sliding")
	case p.MaxSessionLifetime.Duration < p.RefreshTokenTTL.Duration:
		return errInvalid("max_session_lifetime", "must be at least refresh_token_ttl")
	case p.MaxFailedAttempts < 1 || p.MaxFailedAttempts > maxFailedAttemptsCap:
		return errInvalid("max_failed_attempts", fmt.Sprintf("must be between 1 and %d", maxFailedAttemptsCap))
	case p.FailureWindow.Duration <= 0:
		return errInvalid("failure_window", "must be positive")
	case p.LockoutDuration.Duration <= 0:
		return errInvalid("lockout_duration", "must be positive")
	case p.MaxFailedAttemptsPerIP < 0:
		return errInvalid("max_failed_attempts_per_ip", "must not be negative")
	}
	return nil
}

// SessionDeadline returns the expiry of a session created at createdAt, as of
// a rotation at now. Absolute sessions never move.
func (p Policy) SessionDeadline(createdAt, now time.Time) time.Time {
	absolute := createdAt.Add(p.RefreshTokenTTL.Duration)
	if p.SessionExpiry != SessionExpirySliding {
		return absolute
	}
	deadline := now.Add(p.RefreshTokenTTL.Duration)
	if limit := createdAt.Add(p.MaxSessionLifetime.Duration); deadline.After(limit) {
		deadline = limit
	}
	return deadline
}

// PolicyError names an invalid policy field
type PolicyError struct {
	Field  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("tenant policy: %s %s", e.Field, e.Reason)
}

func errInvalid(field, reason string) error {
	return &PolicyError{Field: field, Reason: reason}
}
