package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/jrsteele09/go-tenant-auth/tenants"
)

// GenerateSignerForTenant creates fresh key material for the tenant's
// SignerType, stores it on the tenant and returns the matching signer
func GenerateSignerForTenant(tenant *tenants.Tenant) (Signer, error) {
	if tenant.SignerType == "" {
		tenant.SignerType = tenants.SignerTypeHMAC
	}
	if tenant.KeyID == "" {
		tenant.KeyID = tenant.ID + "-key"
	}

	if tenant.SignerType == tenants.SignerTypeHMAC {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate HMAC secret: %w", err)
		}
		tenant.HMACSecret = hex.EncodeToString(secret)
		return NewHMACSigner(tenant.KeyID, tenant.HMACSecret), nil
	}

	keyPair, err := GenerateKeyPair(tenant.KeyID, tenant.SignerType)
	if err != nil {
		return nil, err
	}
	if err := storeKeyPairInTenant(tenant, keyPair); err != nil {
		return nil, err
	}
	return NewKeyPairSigner(keyPair), nil
}

// SignerFromTenant reconstructs a signer from the tenant's stored key material
func SignerFromTenant(tenant *tenants.Tenant) (Signer, error) {
	if !tenant.HasKeyMaterial() {
		return nil, fmt.Errorf("tenant %s has no %s key material", tenant.ID, tenant.SignerType)
	}
	if tenant.SignerType == tenants.SignerTypeHMAC {
		return NewHMACSigner(tenant.KeyID, tenant.HMACSecret), nil
	}
	if _, ok := signingMethods[tenant.SignerType]; !ok {
		return nil, fmt.Errorf("unsupported signer type: %s", tenant.SignerType)
	}

	keyPair, err := LoadKeyPairFromPEM(tenant.KeyID, tenant.PrivateKeyPEM, tenant.PublicKeyPEM, tenant.SignerType)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair for tenant %s: %w", tenant.ID, err)
	}
	return NewKeyPairSigner(keyPair), nil
}

func storeKeyPairInTenant(tenant *tenants.Tenant, keyPair *KeyPair) error {
	privatePEM, err := keyPair.ExportPrivateKeyPEM()
	if err != nil {
		return fmt.Errorf("failed to export private key: %w", err)
	}
	publicPEM, err := keyPair.ExportPublicKeyPEM()
	if err != nil {
		return fmt.Errorf("failed to export public key: %w", err)
	}

	tenant.PrivateKeyPEM = privatePEM
	tenant.PublicKeyPEM = publicPEM
	return nil
}
