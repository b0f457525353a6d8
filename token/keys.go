package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/pkg/errors"
)

// KeyPair is an asymmetric signing key with the algorithm it is used for
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	Algorithm  tenants.SignerType
}

// JWKS is a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is the public half of a signing key
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

var rsaBits = map[tenants.SignerType]int{
	tenants.SignerTypeRS256: 2048,
	tenants.SignerTypeRS384: 3072,
	tenants.SignerTypeRS512: 4096,
}

var ecCurves = map[tenants.SignerType]elliptic.Curve{
	tenants.SignerTypeES256: elliptic.P256(),
	tenants.SignerTypeES384: elliptic.P384(),
	tenants.SignerTypeES512: elliptic.P521(),
}

var signingMethods = map[tenants.SignerType]jwt.SigningMethod{
	tenants.SignerTypeHMAC:  jwt.SigningMethodHS256,
	tenants.SignerTypeRS256: jwt.SigningMethodRS256,
	tenants.SignerTypeRS384: jwt.SigningMethodRS384,
	tenants.SignerTypeRS512: jwt.SigningMethodRS512,
	tenants.SignerTypeES256: jwt.SigningMethodES256,
	tenants.SignerTypeES384: jwt.SigningMethodES384,
	tenants.SignerTypeES512: jwt.SigningMethodES512,
}

// GenerateKeyPair creates a fresh key for an asymmetric algorithm. RSA key size
// grows with the hash size.
func GenerateKeyPair(keyID string, alg tenants.SignerType) (*KeyPair, error) {
	if bits, ok := rsaBits[alg]; ok {
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to generate %s key", alg)
		}
		return &KeyPair{KeyID: keyID, PrivateKey: key, PublicKey: &key.PublicKey, Algorithm: alg}, nil
	}
	if curve, ok := ecCurves[alg]; ok {
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to generate %s key", alg)
		}
		return &KeyPair{KeyID: keyID, PrivateKey: key, PublicKey: &key.PublicKey, Algorithm: alg}, nil
	}
	return nil, errors.Errorf("unsupported key algorithm: %s", alg)
}

// SigningMethod returns the JWT method for the key pair
func (kp *KeyPair) SigningMethod() jwt.SigningMethod {
	return signingMethods[kp.Algorithm]
}

// ExportPublicKeyPEM exports the public key as a PKIX PEM block
func (kp *KeyPair) ExportPublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ExportPrivateKeyPEM exports the private key as a PKCS#8 PEM block
func (kp *KeyPair) ExportPrivateKeyPEM() (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal private key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ToJWK converts the public key to JWK format
func (kp *KeyPair) ToJWK() (*JWK, error) {
	jwk := &JWK{
		Kid: kp.KeyID,
		Use: "sig",
		Alg: string(kp.Algorithm),
	}

	switch pub := kp.PublicKey.(type) {
	case *rsa.PublicKey:
		jwk.Kty = "RSA"
		jwk.N = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
		jwk.E = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		jwk.Kty = "EC"
		jwk.Crv = pub.Curve.Params().Name
		jwk.X = base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size)))
		jwk.Y = base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size)))

	default:
		return nil, errors.New("unsupported public key type")
	}
	return jwk, nil
}

// LoadKeyPairFromPEM rebuilds a key pair from stored tenant material. The
// private key may be PKCS#1, SEC 1 or PKCS#8, and must match both the public
// key and the algorithm.
func LoadKeyPairFromPEM(keyID, privateKeyPEM, publicKeyPEM string, alg tenants.SignerType) (*KeyPair, error) {
	private, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to decode public key PEM block")
	}
	public, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse public key")
	}

	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	if pub, ok := private.Public().(equaler); !ok || !pub.Equal(public) {
		return nil, errors.New("public key does not match private key")
	}

	switch key := private.(type) {
	case *rsa.PrivateKey:
		if _, ok := rsaBits[alg]; !ok {
			return nil, errors.Errorf("RSA key cannot sign %s", alg)
		}
	case *ecdsa.PrivateKey:
		curve, ok := ecCurves[alg]
		if !ok || curve != key.Curve {
			return nil, errors.Errorf("EC key cannot sign %s", alg)
		}
	default:
		return nil, errors.New("unsupported private key type")
	}

	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: private,
		PublicKey:  public,
		Algorithm:  alg,
	}, nil
}

func parsePrivateKey(pemData string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode private key PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New("unsupported private key type")
	}
	return signer, nil
}
