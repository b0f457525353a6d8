package auth

import (
	"context"

	"github.com/jrsteele09/go-tenant-auth/audit"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/internal/retry"
	"github.com/jrsteele09/go-tenant-auth/sessions"
	"github.com/jrsteele09/go-tenant-auth/token"
	"github.com/jrsteele09/go-tenant-auth/users"
	pkgerrors "github.com/pkg/errors"
)

// Refresh runs START → TOKEN_VERIFIED → ROTATION_ATTEMPTED and ends in
// success, ReuseDetected (the session is revoked), or SessionExpired.
func (s *Service) Refresh(ctx context.Context, tenantID, refreshToken string) (*TokenPair, error) {
	ev := audit.Event{Type: audit.RefreshRejected, TenantID: tenantID}

	tenant, rerr := s.resolveTenant(ctx, tenantID)
	if rerr != nil {
		return nil, s.unresolved(ctx, ev, rerr)
	}
	ev.TenantID = tenant.ID
	sessionID, presented, err := s.refresh.Parse(tenant.ID, refreshToken)
	if err != nil {
		return nil, s.rejected(ctx, ev, reject(ReasonInvalidCredential, err))
	}
	ev.SessionID = sessionID

	session, err := s.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, s.rejected(ctx, ev, reject(storeReason(err), err))
	}
	ev.UserID = session.UserID
	if session.TenantID != tenant.ID {
		return nil, s.rejected(ctx, ev, reject(ReasonInvalidCredential, errors.New("session belongs to another tenant")))
	}
	if session.Revoked {
		return nil, s.rejected(ctx, ev, reject(ReasonSessionRevoked, sessions.ErrSessionRevoked))
	}

	next, err := s.refresh.Issue(tenant.ID, sessionID)
	if err != nil {
		return nil, s.rejected(ctx, ev, reject(ReasonStoreUnavailable, err))
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	now := s.nowFunc()
	rotated, err := s.deps.Sessions.Rotate(wctx, sessions.Rotation{
		SessionID:     sessionID,
		PresentedHash: presented,
		NewHash:       next.Hash,
		Now:           now,
		ExpiresAt:     tenant.Policy.SessionDeadline(session.CreatedAt, now),
	})
	if err != nil {
		reason := storeReason(err)
		if reason == ReasonReuseDetected {
			ev.Type = audit.RefreshReuseDetected
		}
		return nil, s.rejected(ctx, ev, reject(reason, err))
	}

	user, err := retry.Value(wctx, s.backoff, func(ctx context.Context) (*users.User, error) {
		return s.deps.Users.GetByID(ctx, tenant.ID, rotated.UserID)
	})
	switch {
	case errors.Is(err, users.ErrNotFound):
		s.abandonSession(wctx, tenant.ID, sessionID)
		return nil, s.rejected(ctx, ev, reject(ReasonInvalidCredential, err))
	case err != nil:
		return nil, s.rejected(ctx, ev, reject(ReasonStoreUnavailable, err))
	case user.Disabled:
		s.abandonSession(wctx, tenant.ID, sessionID)
		return nil, s.rejected(ctx, ev, reject(ReasonInvalidCredential, errors.New("account disabled")))
	}

	access, expiresAt, err := s.deps.Tokens.IssueAccessToken(tenant, user.ID, sessionID, user.Roles)
	if err != nil {
		s.abandonSession(wctx, tenant.ID, sessionID)
		return nil, s.rejected(ctx, ev, reject(ReasonStoreUnavailable, pkgerrors.Wrap(err, "[Service.Refresh] sign access token")))
	}

	ev.Type = audit.RefreshSuccess
	s.record(ctx, ev)
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     next.Raw,
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: rotated.ExpiresAt,
		SessionID:        sessionID,
	}, nil
}

// Logout revokes the session. Unknown and already revoked sessions are
// acknowledged too.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	ev := audit.Event{Type: audit.Logout, SessionID: sessionID}
	if session, err := s.deps.Sessions.Get(ctx, sessionID); err == nil {
		ev.TenantID, ev.UserID = session.TenantID, session.UserID
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.deps.Sessions.Revoke(wctx, sessionID); err != nil {
		return s.rejected(ctx, ev, reject(ReasonStoreUnavailable, err))
	}
	s.record(ctx, ev)
	return nil
}

// LogoutAll revokes every session of a user and reports how many were active
func (s *Service) LogoutAll(ctx context.Context, tenantID, userID string) (int, error) {
	ev := audit.Event{Type: audit.LogoutAll, TenantID: tenantID, UserID: userID}
	tenant, rerr := s.resolveTenant(ctx, tenantID)
	if rerr != nil {
		return 0, s.unresolved(ctx, ev, rerr)
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	n, err := s.deps.Sessions.RevokeUser(wctx, tenant.ID, userID)
	if err != nil {
		return 0, s.rejected(ctx, ev, reject(ReasonStoreUnavailable, err))
	}
	s.record(ctx, ev)
	return n, nil
}

// Verify checks an access token's signature and claims only. The result
// matches ErrInvalidToken (and ErrTokenExpired when expired), or is a
// StoreUnavailable rejection when the tenant could not be loaded.
func (s *Service) Verify(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := s.deps.Tokens.VerifyAccessToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, errors.ErrStoreUnavailable) {
			return nil, reject(ReasonStoreUnavailable, err)
		}
		return nil, err
	}
	return claims, nil
}

// VerifySession is Verify plus a check that the session behind the token is
// still active. Sensitive operations must use it.
func (s *Service) VerifySession(ctx context.Context, accessToken string) (*token.Claims, *sessions.Session, error) {
	claims, err := s.Verify(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	session, err := s.deps.Sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, reject(storeReason(err), err)
	}
	if session.TenantID != claims.TenantID || session.UserID != claims.UserID() {
		return nil, nil, errors.Wrapf(ErrInvalidToken, "token does not match its session")
	}
	if session.Revoked {
		return nil, nil, reject(ReasonSessionRevoked, sessions.ErrSessionRevoked)
	}
	if !session.Active(s.nowFunc()) {
		return nil, nil, reject(ReasonSessionExpired, sessions.ErrSessionExpired)
	}
	return claims, session, nil
}
