// Package refresh encodes opaque refresh tokens. A token names its session and
// carries a random secret; only a tenant-bound hash of it is ever stored.
package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
)

const (
	// Version prefixes every token so the format can change later
	Version = "rt1"

	// MinSecretLength is the smallest accepted secret, in bytes
	MinSecretLength = 32
)

// ErrMalformed is returned for anything that is not a well-formed token
var ErrMalformed = errors.Wrapf(errors.ErrInvalidToken, "malformed refresh token")

// Token is a freshly issued refresh token. Raw goes to the client, Hash to
// the session store.
type Token struct {
	Raw  string
	Hash string
}

// Codec issues and parses refresh tokens with a fixed secret length
type Codec struct {
	secretLength int
}

// NewCodec returns a codec using secretLength random bytes per token, raised to
// MinSecretLength when smaller
func NewCodec(secretLength int) *Codec {
	if secretLength < MinSecretLength {
		secretLength = MinSecretLength
	}
	return &Codec{secretLength: secretLength}
}

var defaultCodec = NewCodec(MinSecretLength)

// Issue creates a token for the session using the default codec
func Issue(tenantID, sessionID string) (Token, error) {
	return defaultCodec.Issue(tenantID, sessionID)
}

// Parse splits a raw token using the default codec
func Parse(tenantID, raw string) (sessionID, hash string, err error) {
	return defaultCodec.Parse(tenantID, raw)
}

// Issue creates a token for the session. The hash is bound to tenantID so a
// token presented under another tenant never matches.
func (c *Codec) Issue(tenantID, sessionID string) (Token, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return Token{}, fmt.Errorf("refresh token for session %q: %w", sessionID, err)
	}

	secret := make([]byte, c.secretLength)
	if _, err := rand.Read(secret); err != nil {
		return Token{}, fmt.Errorf("failed to generate refresh secret: %w", err)
	}

	raw := Version + "." + sessionID + "." + base64.RawURLEncoding.EncodeToString(secret)
	return Token{Raw: raw, Hash: Hash(tenantID, raw)}, nil
}

// Parse returns the session a raw token names and the hash to compare with the
// stored one. It does not consult any store.
func (c *Codec) Parse(tenantID, raw string) (sessionID, hash string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] != Version {
		return "", "", ErrMalformed
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return "", "", ErrMalformed
	}
	secret, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(secret) < MinSecretLength {
		return "", "", ErrMalformed
	}
	return parts[1], Hash(tenantID, raw), nil
}

// Hash is the stored form of a raw token: hex SHA-256 over tenant and token
func Hash(tenantID, raw string) string {
	sum := sha256.Sum256([]byte(tenantID + "\x00" + raw))
	return hex.EncodeToString(sum[:])
}
