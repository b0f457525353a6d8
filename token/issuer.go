package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultClockSkew is the leeway allowed on exp, nbf and iat
const DefaultClockSkew = 5 * time.Second

// TenantSource resolves the tenant an access token claims to belong to
type TenantSource interface {
	Resolve(ctx context.Context, id string) (*tenants.Tenant, error)
}

// Claims carried by every access token
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string   `json:"tenant"`
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles,omitempty"`
}

// UserID is the subject claim
func (c *Claims) UserID() string {
	return c.Subject
}

// Issuer mints and verifies tenant-scoped access tokens
type Issuer struct {
	tenants   TenantSource
	clockSkew time.Duration
	nowFunc   func() time.Time
	logger    zerolog.Logger

	mu      sync.RWMutex
	signers map[string]cachedSigner // by tenant id
}

// cachedSigner remembers which key material a signer was built from
type cachedSigner struct {
	key    string
	signer Signer
}

type IssuerOption func(*Issuer)

func WithClockSkew(skew time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.clockSkew = skew
	}
}

func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) IssuerOption {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func NewIssuer(source TenantSource, options ...IssuerOption) *Issuer {
	i := &Issuer{
		tenants:   source,
		clockSkew: DefaultClockSkew,
		nowFunc:   time.Now,
		logger:    log.Logger,
		signers:   make(map[string]cachedSigner),
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// IssueAccessToken signs an access token binding tenant, user and session. The
// lifetime comes from the tenant policy.
func (i *Issuer) IssueAccessToken(tenant *tenants.Tenant, userID, sessionID string, roles []string) (string, time.Time, error) {
	signer, err := i.signerFor(tenant)
	if err != nil {
		return "", time.Time{}, err
	}

	now := i.nowFunc().Truncate(time.Second)
	expiresAt := now.Add(tenant.Policy.AccessTokenTTL.Duration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tenant.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
		TenantID:  tenant.ID,
		SessionID: sessionID,
		Roles:     roles,
	}
	if tenant.Audience != "" {
		claims.Audience = jwt.ClaimStrings{tenant.Audience}
	}

	signed, err := signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature, algorithm, expiry, issuer and audience
// against the tenant named in the token. Every rejection matches
// ErrInvalidToken; an expired token also matches ErrTokenExpired. A tenant
// store outage is reported as ErrStoreUnavailable instead.
func (i *Issuer) VerifyAccessToken(ctx context.Context, raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "empty token")
	}

	unverified := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, unverified); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}
	if unverified.TenantID == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "token has no tenant claim")
	}

	tenant, err := i.tenants.Resolve(ctx, unverified.TenantID)
	if err != nil {
		if errors.Is(err, errors.ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}

	signer, err := i.signerFor(tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signer.SigningMethod().Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.clockSkew),
		jwt.WithTimeFunc(i.nowFunc),
	}
	if tenant.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(tenant.Issuer))
	}
	if tenant.Audience != "" {
		parserOptions = append(parserOptions, jwt.WithAudience(tenant.Audience))
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if kid, ok := t.Header["kid"].(string); ok && kid != signer.KeyID() {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return signer.VerificationKey(t)
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w: %w", errors.ErrTokenExpired, errors.ErrInvalidToken, err)
		}
		i.logger.Debug().Err(err).Str("tenant", tenant.ID).Msg("access token rejected")
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidToken, err)
	}
	if claims.TenantID != tenant.ID {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "tenant claim changed during verification")
	}
	return claims, nil
}

// JWKS publishes the tenant's public signing key. HMAC tenants have nothing
// to publish.
func (i *Issuer) JWKS(ctx context.Context, tenantID string) (*JWKS, error) {
	tenant, err := i.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	signer, err := i.signerFor(tenant)
	if err != nil {
		return nil, err
	}
	keyPairSigner, ok := signer.(*KeyPairSigner)
	if !ok {
		return nil, errors.Wrapf(errors.ErrUnsupported, "tenant %s signs with a shared secret", tenant.ID)
	}
	return keyPairSigner.JWKS()
}

// signerFor returns the cached signer for the tenant's current key material.
// Rotating the key or its id replaces the tenant's entry.
func (i *Issuer) signerFor(tenant *tenants.Tenant) (Signer, error) {
	key := signerCacheKey(tenant)

	i.mu.RLock()
	cached, ok := i.signers[tenant.ID]
	i.mu.RUnlock()
	if ok && cached.key == key {
		return cached.signer, nil
	}

	signer, err := SignerFromTenant(tenant)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.signers[tenant.ID] = cachedSigner{key: key, signer: signer}
	i.mu.Unlock()
	if ok {
		i.logger.Info().Str("tenant", tenant.ID).Str("kid", signer.KeyID()).Msg("tenant signing key replaced")
	}
	return signer, nil
}

func signerCacheKey(tenant *tenants.Tenant) string {
	h := sha256.New()
	h.Write([]byte(tenant.HMACSecret))
	h.Write([]byte{0})
	h.Write([]byte(tenant.PrivateKeyPEM))
	return tenant.ID + "|" + tenant.KeyID + "|" + string(tenant.SignerType) + "|" + hex.EncodeToString(h.Sum(nil)[:8])
}
