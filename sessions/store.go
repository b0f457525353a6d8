package sessions

import (
	"context"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
)

var (
	ErrSessionNotFound = errors.ErrSessionNotFound
	ErrSessionExpired  = errors.ErrSessionExpired
	ErrSessionRevoked  = errors.ErrSessionRevoked
	// ErrReuseDetected means a refresh token that was already rotated past was
	// presented. The session has been revoked by the time this is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrRefreshMismatch means the presented hash was never part of the session
	ErrRefreshMismatch = errors.New("refresh token does not match session")
)

// Store is the shared, expiring session state. Implementations must make
// Rotate atomic across processes.
type Store interface {
	// Create writes a new session whose record expires at ExpiresAt
	Create(ctx context.Context, s NewSession) (*Session, error)
	// Rotate replaces the current refresh hash in one indivisible step
	Rotate(ctx context.Context, r Rotation) (*Session, error)
	// Revoke marks a session revoked. Unknown or already revoked sessions are
	// not an error.
	Revoke(ctx context.Context, sessionID string) error
	// RevokeUser revokes every session the user holds and returns how many
	// were newly revoked
	RevokeUser(ctx context.Context, tenantID, userID string) (int, error)
	// Get returns the session, treating expired records as not found
	Get(ctx context.Context, sessionID string) (*Session, error)
	// SweepExpired deletes records that expired before now
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
