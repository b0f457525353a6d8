package refresh_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/token/refresh"
	"github.com/stretchr/testify/require"
)

func TestIssueParse(t *testing.T) {
	sessionID := uuid.NewString()

	tok, err := refresh.Issue("acme", sessionID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(tok.Raw, "rt1."+sessionID+"."))
	require.Len(t, tok.Hash, 64)
	require.NotContains(t, tok.Hash, sessionID)

	gotSession, hash, err := refresh.Parse("acme", tok.Raw)
	require.NoError(t, err)
	require.Equal(t, sessionID, gotSession)
	require.Equal(t, tok.Hash, hash)
}

func TestTokensAreUnique(t *testing.T) {
	sessionID := uuid.NewString()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := refresh.Issue("acme", sessionID)
		require.NoError(t, err)
		require.False(t, seen[tok.Hash])
		seen[tok.Hash] = true
	}
}

func TestHashIsTenantBound(t *testing.T) {
	tok, err := refresh.Issue("acme", uuid.NewString())
	require.NoError(t, err)

	_, hash, err := refresh.Parse("globex", tok.Raw)
	require.NoError(t, err)
	require.NotEqual(t, tok.Hash, hash)
}

func TestParseMalformed(t *testing.T) {
	sessionID := uuid.NewString()
	tests := map[string]string{
		"empty":          "",
		"wrong version":  "rt0." + sessionID + ".AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"not a session":  "rt1.acme.AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"short secret":   "rt1." + sessionID + ".AAAA",
		"bad base64":     "rt1." + sessionID + ".!!!!",
		"too many parts": "rt1." + sessionID + ".a.b",
		"legacy hex":     strings.Repeat("ab", 32),
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := refresh.Parse("acme", raw)
			require.ErrorIs(t, err, refresh.ErrMalformed)
			require.ErrorIs(t, err, errors.ErrInvalidToken)
		})
	}
}

func TestCodecSecretLength(t *testing.T) {
	codec := refresh.NewCodec(64)
	tok, err := codec.Issue("acme", uuid.NewString())
	require.NoError(t, err)

	parts := strings.Split(tok.Raw, ".")
	require.Len(t, parts[2], 86)

	_, err = codec.Issue("acme", "not-a-uuid")
	require.Error(t, err)
}
