package token

import (
	"strconv"
	"testing"

	"github.com/jrsteele09/go-tenant-auth/tenants"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSignerCacheReplacesRotatedKeys(t *testing.T) {
	issuer := NewIssuer(nil, WithLogger(zerolog.Nop()))
	tenant := &tenants.Tenant{ID: "acme", SignerType: tenants.SignerTypeHMAC, KeyID: "acme-key"}

	var last Signer
	for i := 0; i < 5; i++ {
		tenant.HMACSecret = "secret-" + strconv.Itoa(i)
		tenant.KeyID = "acme-key-" + strconv.Itoa(i)
		signer, err := issuer.signerFor(tenant)
		require.NoError(t, err)
		last = signer
	}

	require.Len(t, issuer.signers, 1)
	require.Equal(t, "acme-key-4", last.KeyID())

	again, err := issuer.signerFor(tenant)
	require.NoError(t, err)
	require.Same(t, last, again)
}
