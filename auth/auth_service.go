package auth

import (
	"context"
	"time"

	"github.com/jrsteele09/go-tenant-auth/audit"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/internal/retry"
	"github.com/jrsteele09/go-tenant-auth/lockout"
	"github.com/jrsteele09/go-tenant-auth/mfa"
	"github.com/jrsteele09/go-tenant-auth/passwords"
	"github.com/jrsteele09/go-tenant-auth/sessions"
	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/jrsteele09/go-tenant-auth/token"
	"github.com/jrsteele09/go-tenant-auth/token/refresh"
	"github.com/jrsteele09/go-tenant-auth/users"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultWriteTimeout bounds store writes that must finish after the caller
// has gone away
const DefaultWriteTimeout = 2 * time.Second

// TenantResolver validates tenant identifiers and returns their policy
type TenantResolver interface {
	Resolve(ctx context.Context, id string) (*tenants.Tenant, error)
}

// Deps holds the collaborators of the Service
type Deps struct {
	Tenants   TenantResolver   // tenant policy lookup
	Users     users.Repo       // credential records
	Sessions  sessions.Store   // shared session state
	Lockout   *lockout.Engine  // failed attempt counters
	Passwords *passwords.Pool  // bounded password hashing
	Tokens    *token.Issuer    // access token signing and verification
	Refresh   *refresh.Codec   // optional, defaults to the standard codec
	MFAGuard  mfa.Guard        // optional, defaults to an in-process guard
}

// Service composes tenant resolution, lockout, password verification,
// sessions and token issuance into the login, refresh and logout flows.
type Service struct {
	deps         Deps
	mfaGuard     mfa.Guard
	refresh      *refresh.Codec
	recorder     audit.Recorder
	logRecorder  audit.Recorder
	nowFunc      func() time.Time
	logger       zerolog.Logger
	writeTimeout time.Duration
	backoff      time.Duration
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowFunc sets the clock (primarily for testing)
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditRecorder replaces the default log-only audit trail
func WithAuditRecorder(recorder audit.Recorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func WithWriteTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.writeTimeout = timeout
	}
}

func WithRetryBackoff(backoff time.Duration) ServiceOption {
	return func(s *Service) {
		s.backoff = backoff
	}
}

// NewService initializes a Service with required dependencies.
func NewService(deps Deps, options ...ServiceOption) (*Service, error) {
	if deps.Tenants == nil {
		return nil, pkgerrors.New("[NewService] tenant resolver is required")
	}
	if deps.Users == nil {
		return nil, pkgerrors.New("[NewService] users repo is required")
	}
	if deps.Sessions == nil {
		return nil, pkgerrors.New("[NewService] session store is required")
	}
	if deps.Lockout == nil {
		return nil, pkgerrors.New("[NewService] lockout engine is required")
	}
	if deps.Passwords == nil {
		return nil, pkgerrors.New("[NewService] password pool is required")
	}
	if deps.Tokens == nil {
		return nil, pkgerrors.New("[NewService] token issuer is required")
	}

	s := &Service{
		deps:         deps,
		refresh:      deps.Refresh,
		nowFunc:      time.Now,
		logger:       log.Logger,
		writeTimeout: DefaultWriteTimeout,
		backoff:      retry.DefaultBackoff,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.refresh == nil {
		s.refresh = refresh.NewCodec(refresh.MinSecretLength)
	}
	s.mfaGuard = deps.MFAGuard
	if s.mfaGuard == nil {
		s.mfaGuard = mfa.NewMemoryGuard(s.nowFunc)
	}
	s.logRecorder = audit.NewLogRecorder(s.logger)
	if s.recorder == nil {
		s.recorder = s.logRecorder
	}
	return s, nil
}

// Login runs START → TENANT_RESOLVED → LOCKOUT_CHECKED → CREDENTIAL_VERIFIED →
// SESSION_CREATED → TOKENS_ISSUED. Every failure is a *RejectedError, except a
// caller abandoning the request while waiting for a hashing slot, which
// returns the context error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	ev := audit.Event{Type: audit.LoginRejected, TenantID: req.TenantID, RemoteIP: req.RemoteIP}

	tenant, rerr := s.resolveTenant(ctx, req.TenantID)
	if rerr != nil {
		return nil, s.unresolved(ctx, ev, rerr)
	}
	ev.TenantID = tenant.ID
	username := users.NormalizeUsername(req.Username)
	keys := []lockout.Key{lockout.UserKey(tenant.ID, username)}
	if req.RemoteIP != "" {
		keys = append(keys, lockout.IPKey(tenant.ID, req.RemoteIP))
	}

	for _, key := range keys {
		locked, until, err := s.deps.Lockout.IsLocked(ctx, key, tenant.Policy)
		if err != nil {
			return nil, s.rejected(ctx, ev, reject(ReasonStoreUnavailable, err))
		}
		if locked {
			rerr := reject(ReasonLocked, pkgerrors.Errorf("%s locked", key.Kind))
			rerr.LockedUntil = until
			return nil, s.rejected(ctx, ev, rerr)
		}
	}

	user, err := s.verifyCredential(ctx, tenant, username, req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, pkgerrors.Wrap(err, "[Service.Login] abandoned")
		}
		var rerr *RejectedError
		if !errors.As(err, &rerr) {
			s.logger.Debug().Err(err).Str("tenant", tenant.ID).Msg("credential rejected")
			rerr = s.recordFailure(ctx, tenant, keys, reject(ReasonInvalidCredential, ErrInvalidCredential), ev)
		}
		return nil, s.rejected(ctx, ev, rerr)
	}
	ev.UserID = user.ID

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.deps.Lockout.Reset(wctx, keys[0]); err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenant.ID).Str("user", user.ID).Msg("failed to reset lockout counter")
	}
	s.upgradeDigest(wctx, tenant, user, req.Password)

	pair, rerr := s.startSession(wctx, tenant, user)
	if rerr != nil {
		return nil, s.rejected(ctx, ev, rerr)
	}
	ev.Type = audit.LoginSuccess
	ev.SessionID = pair.SessionID
	s.record(ctx, ev)
	return pair, nil
}

// verifyCredential returns the user when password, account state and second
// factor all pass. Any plain error is a credential failure.
func (s *Service) verifyCredential(ctx context.Context, tenant *tenants.Tenant, username string, req LoginRequest) (*users.User, error) {
	user, err := retry.Value(ctx, s.backoff, func(ctx context.Context) (*users.User, error) {
		return s.deps.Users.GetByUsername(ctx, tenant.ID, username)
	})
	switch {
	case errors.Is(err, users.ErrNotFound):
		// burn the same hashing cost as a real check
		_ = s.deps.Passwords.Verify(ctx, req.Password, s.deps.Passwords.DummyDigest())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, users.ErrNotFound
	case err != nil:
		return nil, reject(ReasonStoreUnavailable, err)
	}

	if err := s.deps.Passwords.Verify(ctx, req.Password, user.PasswordHash); err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, errors.New("account disabled")
	}
	if tenant.Policy.MFARequired || user.MFAEnrolled() {
		if err := s.checkTOTP(ctx, user, req.TOTPCode); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// recordFailure counts the failed attempt against every key. A failure to
// count is surfaced as StoreUnavailable.
func (s *Service) recordFailure(ctx context.Context, tenant *tenants.Tenant, keys []lockout.Key, rerr *RejectedError, ev audit.Event) *RejectedError {
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	now := s.nowFunc()
	for _, key := range keys {
		c, err := s.deps.Lockout.RecordFailure(wctx, key, tenant.Policy)
		if err != nil {
			return reject(ReasonStoreUnavailable, err)
		}
		if c.Locked(now) && c.Count == lockout.RuleFor(key, tenant.Policy).MaxAttempts {
			locked := ev
			locked.Type = audit.LockoutEngaged
			locked.Reason = string(key.Kind)
			locked.Time = now
			s.record(wctx, locked)
		}
	}
	return rerr
}

// upgradeDigest rehashes with current parameters. Failures only log: the old
// digest keeps working.
func (s *Service) upgradeDigest(ctx context.Context, tenant *tenants.Tenant, user *users.User, password string) {
	if !s.deps.Passwords.NeedsRehash(user.PasswordHash) {
		return
	}
	digest, err := s.deps.Passwords.Hash(ctx, password)
	if err == nil {
		err = s.deps.Users.UpdatePasswordHash(ctx, tenant.ID, user.ID, digest)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenant.ID).Str("user", user.ID).Msg("password rehash failed")
		return
	}
	s.logger.Info().Str("tenant", tenant.ID).Str("user", user.ID).Msg("password digest upgraded")
}

// startSession persists a session and mints its token pair. If the access
// token cannot be signed the session is revoked so no unlinked session is
// left usable.
func (s *Service) startSession(ctx context.Context, tenant *tenants.Tenant, user *users.User) (*TokenPair, *RejectedError) {
	sessionID := newSessionID()
	rt, err := s.refresh.Issue(tenant.ID, sessionID)
	if err != nil {
		return nil, reject(ReasonStoreUnavailable, err)
	}

	now := s.nowFunc()
	session, err := s.deps.Sessions.Create(ctx, sessions.NewSession{
		ID:          sessionID,
		TenantID:    tenant.ID,
		UserID:      user.ID,
		RefreshHash: rt.Hash,
		CreatedAt:   now,
		ExpiresAt:   tenant.Policy.SessionDeadline(now, now),
	})
	if err != nil {
		return nil, reject(ReasonStoreUnavailable, err)
	}

	access, expiresAt, err := s.deps.Tokens.IssueAccessToken(tenant, user.ID, sessionID, user.Roles)
	if err != nil {
		s.abandonSession(ctx, tenant.ID, sessionID)
		return nil, reject(ReasonStoreUnavailable, pkgerrors.Wrap(err, "[Service.startSession] sign access token"))
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     rt.Raw,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: session.ExpiresAt,
		SessionID:        sessionID,
	}, nil
}

func (s *Service) abandonSession(ctx context.Context, tenantID, sessionID string) {
	if err := s.deps.Sessions.Revoke(ctx, sessionID); err != nil {
		s.logger.Error().Err(err).Str("tenant", tenantID).Str("session", sessionID).
			Msg("failed to revoke session after token issuance failure")
	}
}

// resolveTenant maps resolver failures onto rejections
func (s *Service) resolveTenant(ctx context.Context, tenantID string) (*tenants.Tenant, *RejectedError) {
	tenant, err := s.deps.Tenants.Resolve(ctx, tenantID)
	switch {
	case err == nil:
		return tenant, nil
	case errors.Is(err, errors.ErrTenantNotFound), errors.Is(err, errors.ErrInvalidTenant):
		return nil, reject(ReasonTenantNotFound, err)
	}
	return nil, reject(ReasonStoreUnavailable, err)
}

// writeContext detaches ctx from caller cancellation so writes that follow a
// verified credential either complete or time out on their own
func (s *Service) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
}

// rejected audits and logs a rejection and returns it
func (s *Service) rejected(ctx context.Context, ev audit.Event, rerr *RejectedError) error {
	return s.rejectedTo(ctx, s.recorder, ev, rerr)
}

// unresolved is rejected for requests whose tenant id never resolved. The
// caller chose that id, so the event is logged but kept out of the audit trail.
func (s *Service) unresolved(ctx context.Context, ev audit.Event, rerr *RejectedError) error {
	return s.rejectedTo(ctx, s.logRecorder, ev, rerr)
}

func (s *Service) rejectedTo(ctx context.Context, recorder audit.Recorder, ev audit.Event, rerr *RejectedError) error {
	ev.Reason = string(rerr.Reason)
	s.recordTo(ctx, recorder, ev)

	logEv := s.logger.Info()
	switch rerr.Reason {
	case ReasonStoreUnavailable:
		logEv = s.logger.Error().Err(rerr.Err)
	case ReasonReuseDetected:
		logEv = s.logger.Warn()
	}
	logEv.Str("event", string(ev.Type)).Str("tenant", ev.TenantID).Str("user", ev.UserID).
		Str("session", ev.SessionID).Str("reason", ev.Reason).Msg("request rejected")
	return rerr
}

// record writes to the audit trail. A failed write is logged, never returned:
// the outcome it describes has already happened.
func (s *Service) record(ctx context.Context, ev audit.Event) {
	s.recordTo(ctx, s.recorder, ev)
}

// recordTo writes ev to recorder. Events without a tenant only reach the log.
func (s *Service) recordTo(ctx context.Context, recorder audit.Recorder, ev audit.Event) {
	if ev.TenantID == "" {
		recorder = s.logRecorder
	}
	if ev.Time.IsZero() {
		ev.Time = s.nowFunc()
	}
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := recorder.Record(wctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", string(ev.Type)).Str("tenant", ev.TenantID).Msg("audit write failed")
	}
}
