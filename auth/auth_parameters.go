package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// LoginRequest carries one sign-in attempt. TenantID is whatever the caller
// extracted from the inbound request; it is validated here.
type LoginRequest struct {
	TenantID string
	Username string
	Password string
	// TOTPCode is required when the tenant demands MFA or the user enrolled
	TOTPCode string
	// RemoteIP feeds the per-address lockout counter when the tenant enables it
	RemoteIP string
}

// EnrollRequest creates a credential record
type EnrollRequest struct {
	TenantID   string
	Username   string
	Password   string
	Roles      []string
	TOTPSecret string
}

// TokenPair is the result of a successful login or refresh. Access tokens
// cannot be revoked individually; use Service.VerifySession where a revoked
// session must be refused.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// OAuth2Token renders the pair for golang.org/x/oauth2 clients
func (tp *TokenPair) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  tp.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: tp.RefreshToken,
		Expiry:       tp.ExpiresAt,
	}
	return tok.WithExtra(map[string]any{
		"session_id":         tp.SessionID,
		"refresh_expires_at": tp.RefreshExpiresAt.Unix(),
	})
}
