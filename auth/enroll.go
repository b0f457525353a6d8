package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/audit"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/users"
)

// Enroll creates a credential record after checking the password against the
// tenant's rules. A taken username returns an error matching ErrDuplicateUser;
// a tenant the credential store does not know is a TenantNotFound rejection.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*users.User, error) {
	tenant, rerr := s.resolveTenant(ctx, req.TenantID)
	if rerr != nil {
		return nil, rerr
	}
	username := users.NormalizeUsername(req.Username)
	if username == "" {
		return nil, errors.Wrapf(ErrInvalidInput, "username must not be empty")
	}
	if err := users.ValidatePassword(req.Password, tenant.Policy.Password); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	digest, err := s.deps.Passwords.Hash(ctx, req.Password)
	if err != nil {
		return nil, errors.Wrapf(err, "hash password")
	}

	now := s.nowFunc().UTC()
	user := &users.User{
		ID:           uuid.New().String(),
		TenantID:     tenant.ID,
		Username:     username,
		PasswordHash: digest,
		Roles:        req.Roles,
		TOTPSecret:   strings.TrimSpace(req.TOTPSecret),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	switch err := s.deps.Users.Create(wctx, user); {
	case errors.Is(err, users.ErrUserExists):
		return nil, errors.Wrapf(err, "enroll %q", username)
	case errors.Is(err, users.ErrTenantUnknown):
		return nil, reject(ReasonTenantNotFound, err)
	case err != nil:
		return nil, reject(ReasonStoreUnavailable, err)
	}

	s.record(ctx, audit.Event{Type: audit.UserEnrolled, TenantID: tenant.ID, UserID: user.ID})
	s.logger.Info().Str("tenant", tenant.ID).Str("user", user.ID).Msg("user enrolled")
	return user, nil
}
