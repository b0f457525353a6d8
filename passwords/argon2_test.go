package passwords_test

import (
	"strings"
	"testing"

	"github.com/jrsteele09/go-tenant-auth/passwords"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func cheapHasher(opts ...passwords.Option) *passwords.Hasher {
	base := []passwords.Option{passwords.WithTime(1), passwords.WithMemory(8 * 1024), passwords.WithThreads(1)}
	return passwords.NewHasher(append(base, opts...)...)
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := cheapHasher()

	digest, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$"), digest)

	require.NoError(t, h.Verify("correct horse battery staple", digest))
	require.ErrorIs(t, h.Verify("Correct horse battery staple", digest), passwords.ErrInvalidCredential)

	again, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, digest, again, "salts must differ")
}

func TestHasher_EmptySecret(t *testing.T) {
	_, err := cheapHasher().Hash("")
	require.ErrorIs(t, err, passwords.ErrEmptySecret)
}

func TestHasher_MalformedDigests(t *testing.T) {
	h := cheapHasher()
	digest, err := h.Hash("secret-value")
	require.NoError(t, err)
	parts := strings.Split(digest, "$")

	cases := map[string]string{
		"empty":            "",
		"unknown scheme":   "$md5$abc",
		"too few parts":    "$argon2id$v=19$m=8192,t=1,p=1$salt",
		"bad version":      strings.Join([]string{"", parts[1], "v=16", parts[3], parts[4], parts[5]}, "$"),
		"bad params":       strings.Join([]string{"", parts[1], parts[2], "m=x,t=1,p=1", parts[4], parts[5]}, "$"),
		"zero params":      strings.Join([]string{"", parts[1], parts[2], "m=0,t=0,p=0", parts[4], parts[5]}, "$"),
		"corrupted salt":   strings.Join([]string{"", parts[1], parts[2], parts[3], "!!!", parts[5]}, "$"),
		"corrupted hash":   strings.Join([]string{"", parts[1], parts[2], parts[3], parts[4], "!!!"}, "$"),
		"truncated bcrypt": "$2a$10$short",
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, h.Verify("secret-value", d), passwords.ErrInvalidCredential)
		})
	}
}

func TestHasher_HistoricalCostStillVerifies(t *testing.T) {
	old := cheapHasher()
	digest, err := old.Hash("upgrade-me")
	require.NoError(t, err)

	upgraded := cheapHasher(passwords.WithTime(2))
	require.NoError(t, upgraded.Verify("upgrade-me", digest))
	assert.True(t, upgraded.NeedsRehash(digest))
	assert.False(t, old.NeedsRehash(digest))
}

func TestHasher_LegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	h := cheapHasher()
	require.NoError(t, h.Verify("legacy-pass", string(legacy)))
	require.ErrorIs(t, h.Verify("wrong", string(legacy)), passwords.ErrInvalidCredential)
	assert.True(t, h.NeedsRehash(string(legacy)))
}
