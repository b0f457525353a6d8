package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer signs access tokens for one tenant key and hands out the key that
// verifies them
type Signer interface {
	Sign(claims jwt.Claims) (string, error)
	VerificationKey(token *jwt.Token) (any, error)
	SigningMethod() jwt.SigningMethod
	KeyID() string
}

// HMACsigner implements Signer using a tenant-specific HMAC-SHA256 secret
type HMACsigner struct {
	keyID  string
	secret []byte
}

func NewHMACSigner(keyID, secret string) *HMACsigner {
	return &HMACsigner{
		keyID:  keyID,
		secret: []byte(secret),
	}
}

func (h *HMACsigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = h.keyID
	signed, err := token.SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signed, nil
}

func (h *HMACsigner) VerificationKey(token *jwt.Token) (any, error) {
	if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACsigner) SigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

func (h *HMACsigner) KeyID() string {
	return h.keyID
}

// KeyPairSigner implements Signer using RSA or ECDSA
type KeyPairSigner struct {
	keyPair *KeyPair
}

func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{
		keyPair: keyPair,
	}
}

func (a *KeyPairSigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(a.keyPair.SigningMethod(), claims)
	token.Header["kid"] = a.keyPair.KeyID

	signed, err := token.SignedString(a.keyPair.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with asymmetric key")
	}
	return signed, nil
}

func (a *KeyPairSigner) VerificationKey(token *jwt.Token) (any, error) {
	// one tenant key, one algorithm
	if token.Method.Alg() != a.keyPair.SigningMethod().Alg() {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.keyPair.PublicKey, nil
}

func (a *KeyPairSigner) SigningMethod() jwt.SigningMethod {
	return a.keyPair.SigningMethod()
}

func (a *KeyPairSigner) KeyID() string {
	return a.keyPair.KeyID
}

// JWKS returns the key set publishing this signer's public key
func (a *KeyPairSigner) JWKS() (*JWKS, error) {
	jwk, err := a.keyPair.ToJWK()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert key to JWK")
	}
	return &JWKS{Keys: []JWK{*jwk}}, nil
}
