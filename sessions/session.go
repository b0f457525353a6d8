package sessions

import (
	"time"
)

// Session links a user to the refresh token lineage that keeps them signed in.
// Only the hash of the current refresh token is held.
type Session struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	RefreshHash   string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	LastRotatedAt time.Time `json:"last_rotated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Revoked       bool      `json:"revoked"`
	RevokedAt     time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session can still be refreshed at now
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// NewSession describes a session to create. The ID is chosen by the caller so
// the refresh token naming it can be minted first.
type NewSession struct {
	ID          string
	TenantID    string
	UserID      string
	RefreshHash string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Rotation swaps PresentedHash for NewHash if PresentedHash is current. A zero
// ExpiresAt keeps the existing expiry.
type Rotation struct {
	SessionID     string
	PresentedHash string
	NewHash       string
	Now           time.Time
	ExpiresAt     time.Time
}
