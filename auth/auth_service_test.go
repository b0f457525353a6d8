package auth_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-tenant-auth/audit"
	fakeaudit "github.com/jrsteele09/go-tenant-auth/audit/repofakes"
	"github.com/jrsteele09/go-tenant-auth/auth"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/lockout"
	fakelockoutrepo "github.com/jrsteele09/go-tenant-auth/lockout/repofakes"
	"github.com/jrsteele09/go-tenant-auth/passwords"
	fakesessionrepo "github.com/jrsteele09/go-tenant-auth/sessions/repofakes"
	"github.com/jrsteele09/go-tenant-auth/tenants"
	tenantrepofakes "github.com/jrsteele09/go-tenant-auth/tenants/repofakes"
	"github.com/jrsteele09/go-tenant-auth/token"
	"github.com/jrsteele09/go-tenant-auth/users"
	fakeuserrepo "github.com/jrsteele09/go-tenant-auth/users/repofake"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	alicePassword = "Correct-Horse-1"
	bobPassword   = "Battery-Staple-2"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testFixture holds all test dependencies
type testFixture struct {
	clock    *clock
	tenants  *tenantrepofakes.FakeTenantRepo
	users    *fakeuserrepo.FakeUserRepo
	sessions *fakesessionrepo.FakeSessionStore
	counters *fakelockoutrepo.FakeCounterStore
	audit    *fakeaudit.FakeRecorder
	pool     *passwords.Pool
	service  *auth.Service

	alice *users.User
	bob   *users.User
	// bobSecret is bob's TOTP secret on the MFA tenant
	bobSecret string
}

func newTenant(t *testing.T, id string, policy tenants.Policy) *tenants.Tenant {
	t.Helper()
	tenant := &tenants.Tenant{
		ID:         id,
		Name:       strings.ToUpper(id[:1]) + id[1:],
		Issuer:     "https://" + id + ".auth.example.com",
		Audience:   "https://" + id + ".api.example.com",
		SignerType: tenants.SignerTypeHMAC,
		Policy:     policy,
	}
	_, err := token.GenerateSignerForTenant(tenant)
	require.NoError(t, err)
	return tenant
}

// setupTestFixture creates a service over in-memory stores with acme (plain
// passwords) and globex (MFA required)
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()

	f := &testFixture{
		clock:    &clock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		tenants:  tenantrepofakes.NewFakeTenantRepo(),
		users:    fakeuserrepo.NewFakeUserRepo(),
		counters: fakelockoutrepo.NewFakeCounterStore(),
		audit:    fakeaudit.NewFakeRecorder(),
	}
	f.sessions = fakesessionrepo.NewFakeSessionStore(f.clock.Now)

	acme := newTenant(t, "acme", tenants.Policy{
		AccessTokenTTL: tenants.Duration{Duration: 10 * time.Minute},
	})
	globex := newTenant(t, "globex", tenants.Policy{MFARequired: true})
	for _, tenant := range []*tenants.Tenant{acme, globex} {
		require.NoError(t, f.tenants.Upsert(ctx, tenant))
		require.NoError(t, f.users.RegisterTenant(ctx, tenant.ID))
	}

	resolver := tenants.NewResolver(f.tenants, tenants.WithNowFunc(f.clock.Now), tenants.WithLogger(zerolog.Nop()))
	f.pool = passwords.NewPool(passwords.NewHasher(
		passwords.WithTime(1), passwords.WithMemory(1024), passwords.WithThreads(1),
	), 4)

	var err error
	f.service, err = auth.NewService(auth.Deps{
		Tenants:   resolver,
		Users:     f.users,
		Sessions:  f.sessions,
		Lockout:   lockout.NewEngine(f.counters, lockout.WithNowFunc(f.clock.Now), lockout.WithLogger(zerolog.Nop())),
		Passwords: f.pool,
		Tokens:    token.NewIssuer(resolver, token.WithNowFunc(f.clock.Now), token.WithLogger(zerolog.Nop())),
	},
		auth.WithNowFunc(f.clock.Now),
		auth.WithLogger(zerolog.Nop()),
		auth.WithAuditRecorder(f.audit),
		auth.WithRetryBackoff(time.Millisecond),
	)
	require.NoError(t, err)

	f.alice, err = f.service.Enroll(ctx, auth.EnrollRequest{
		TenantID: "acme", Username: "alice", Password: alicePassword, Roles: []string{"admin"},
	})
	require.NoError(t, err)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "globex", AccountName: "bob"})
	require.NoError(t, err)
	f.bobSecret = key.Secret()
	f.bob, err = f.service.Enroll(ctx, auth.EnrollRequest{
		TenantID: "globex", Username: "bob", Password: bobPassword, TOTPSecret: f.bobSecret,
	})
	require.NoError(t, err)
	return f
}

func (f *testFixture) login(t *testing.T) *auth.TokenPair {
	t.Helper()
	pair, err := f.service.Login(context.Background(), auth.LoginRequest{
		TenantID: "acme", Username: "alice", Password: alicePassword,
	})
	require.NoError(t, err)
	return pair
}

func requireReason(t *testing.T, err error, reason auth.Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := auth.ReasonOf(err)
	require.True(t, ok, "not a rejection: %v", err)
	require.Equal(t, reason, got)
}

func TestNewServiceRequiresDeps(t *testing.T) {
	_, err := auth.NewService(auth.Deps{})
	require.Error(t, err)
}

func TestLoginThenVerify(t *testing.T) {
	f := setupTestFixture(t)
	now := f.clock.Now()

	pair := f.login(t)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, now.Add(10*time.Minute), pair.ExpiresAt)
	require.Equal(t, now.Add(tenants.DefaultRefreshTokenTTL), pair.RefreshExpiresAt)

	claims, err := f.service.Verify(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "acme", claims.TenantID)
	require.Equal(t, f.alice.ID, claims.UserID())
	require.Equal(t, pair.SessionID, claims.SessionID)
	require.Equal(t, []string{"admin"}, claims.Roles)

	_, session, err := f.service.VerifySession(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, f.alice.ID, session.UserID)

	require.Equal(t, []audit.EventType{audit.UserEnrolled, audit.UserEnrolled, audit.LoginSuccess}, f.audit.Types())
}

func TestLoginUsernameIsCaseInsensitive(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(context.Background(), auth.LoginRequest{
		TenantID: "acme", Username: "  Alice ", Password: alicePassword,
	})
	require.NoError(t, err)
}

func TestLoginRejectsGenerically(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.users.SetDisabled(context.Background(), "acme", f.alice.ID, true))
	_, err := f.service.Enroll(context.Background(), auth.EnrollRequest{
		TenantID: "acme", Username: "carol", Password: "Another-Pass-3",
	})
	require.NoError(t, err)

	tests := map[string]auth.LoginRequest{
		"wrong password": {TenantID: "acme", Username: "carol", Password: "Wrong-Pass-9"},
		"unknown user":   {TenantID: "acme", Username: "mallory", Password: "Wrong-Pass-9"},
		"disabled user":  {TenantID: "acme", Username: "alice", Password: alicePassword},
		"other tenant":   {TenantID: "globex", Username: "carol", Password: "Another-Pass-3"},
	}

	var messages []string
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Login(context.Background(), req)
			requireReason(t, err, auth.ReasonInvalidCredential)
			require.ErrorIs(t, err, auth.ErrInvalidCredential)
			messages = append(messages, err.Error())
		})
	}
	for _, m := range messages {
		require.Equal(t, messages[0], m)
	}
}

func TestLoginUnknownTenant(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.service.Login(context.Background(), auth.LoginRequest{
		TenantID: "initech", Username: "alice", Password: alicePassword,
	})
	requireReason(t, err, auth.ReasonTenantNotFound)
	require.ErrorIs(t, err, auth.ErrTenantNotFound)
}

func TestLoginLockout(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	wrong := auth.LoginRequest{TenantID: "acme", Username: "alice", Password: "Wrong-Pass-9"}

	for i := 0; i < tenants.DefaultMaxFailedAttempts; i++ {
		_, err := f.service.Login(ctx, wrong)
		requireReason(t, err, auth.ReasonInvalidCredential)
	}

	// the sixth attempt is refused even with the right password
	_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "acme", Username: "alice", Password: alicePassword})
	requireReason(t, err, auth.ReasonLocked)
	require.ErrorIs(t, err, auth.ErrLocked)
	var rejected *auth.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, f.clock.Now().Add(tenants.DefaultLockoutDuration), rejected.LockedUntil)
	require.Contains(t, f.audit.Types(), audit.LockoutEngaged)

	f.clock.Advance(tenants.DefaultLockoutDuration - time.Second)
	_, err = f.service.Login(ctx, auth.LoginRequest{TenantID: "acme", Username: "alice", Password: alicePassword})
	requireReason(t, err, auth.ReasonLocked)

	f.clock.Advance(time.Second)
	f.login(t)

	// success reset the counter
	_, err = f.service.Login(ctx, wrong)
	requireReason(t, err, auth.ReasonInvalidCredential)
	f.login(t)
}

func TestLockoutCountsUnknownUsers(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	req := auth.LoginRequest{TenantID: "acme", Username: "mallory", Password: "Wrong-Pass-9"}

	for i := 0; i < tenants.DefaultMaxFailedAttempts; i++ {
		_, err := f.service.Login(ctx, req)
		requireReason(t, err, auth.ReasonInvalidCredential)
	}
	_, err := f.service.Login(ctx, req)
	requireReason(t, err, auth.ReasonLocked)
}

func TestLoginMFA(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	code, err := totp.GenerateCode(f.bobSecret, f.clock.Now())
	require.NoError(t, err)
	wrongCode := code[:5] + strconv.Itoa((int(code[5]-'0')+1)%10)

	t.Run("missing code", func(t *testing.T) {
		_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "globex", Username: "bob", Password: bobPassword})
		requireReason(t, err, auth.ReasonInvalidCredential)
	})
	t.Run("wrong code", func(t *testing.T) {
		_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "globex", Username: "bob", Password: bobPassword, TOTPCode: wrongCode})
		requireReason(t, err, auth.ReasonInvalidCredential)
	})
	t.Run("valid code", func(t *testing.T) {
		_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "globex", Username: "bob", Password: bobPassword, TOTPCode: code})
		require.NoError(t, err)
	})
	t.Run("not enrolled", func(t *testing.T) {
		_, err := f.service.Enroll(ctx, auth.EnrollRequest{TenantID: "globex", Username: "dave", Password: bobPassword})
		require.NoError(t, err)
		_, err = f.service.Login(ctx, auth.LoginRequest{TenantID: "globex", Username: "dave", Password: bobPassword, TOTPCode: code})
		requireReason(t, err, auth.ReasonInvalidCredential)
	})
}

func TestLoginStoreUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("session store", func(t *testing.T) {
		f := setupTestFixture(t)
		f.sessions.SetErr(errors.New("connection refused"))
		_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "acme", Username: "alice", Password: alicePassword})
		requireReason(t, err, auth.ReasonStoreUnavailable)
		require.ErrorIs(t, err, auth.ErrStoreUnavailable)
	})

	t.Run("counter store", func(t *testing.T) {
		f := setupTestFixture(t)
		f.counters.SetErr(errors.New("connection refused"))
		_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "acme", Username: "alice", Password: alicePassword})
		requireReason(t, err, auth.ReasonStoreUnavailable)
	})

	t.Run("credential store is not a credential failure", func(t *testing.T) {
		f := setupTestFixture(t)
		f.users.Err = errors.New("connection refused")
		for i := 0; i < tenants.DefaultMaxFailedAttempts+1; i++ {
			_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "acme", Username: "alice", Password: alicePassword})
			requireReason(t, err, auth.ReasonStoreUnavailable)
		}
		f.users.Err = nil
		f.login(t)
	})
}

func TestLoginAbandoned(t *testing.T) {
	f := setupTestFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "acme", Username: "alice", Password: alicePassword})
	require.ErrorIs(t, err, context.Canceled)
	_, rejected := auth.ReasonOf(err)
	require.False(t, rejected)
}

func TestLoginRevokesSessionWhenSigningFails(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	broken := &tenants.Tenant{ID: "broken", Issuer: "https://broken.auth.example.com", SignerType: tenants.SignerTypeHMAC}
	require.NoError(t, f.tenants.Upsert(ctx, broken))
	require.NoError(t, f.users.RegisterTenant(ctx, "broken"))
	user, err := f.service.Enroll(ctx, auth.EnrollRequest{TenantID: "broken", Username: "erin", Password: alicePassword})
	require.NoError(t, err)

	_, err = f.service.Login(ctx, auth.LoginRequest{TenantID: "broken", Username: "erin", Password: alicePassword})
	requireReason(t, err, auth.ReasonStoreUnavailable)

	// the session was written then revoked
	require.Equal(t, 1, f.sessions.Len())
	n, err := f.sessions.RevokeUser(ctx, "broken", user.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLoginUpgradesLegacyDigest(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte(alicePassword), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.users.UpdatePasswordHash(ctx, "acme", f.alice.ID, string(legacy)))

	f.login(t)

	user, err := f.users.GetByID(ctx, "acme", f.alice.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(user.PasswordHash, "$argon2id$"))
	require.False(t, f.pool.NeedsRehash(user.PasswordHash))
	f.login(t)
}

func TestRefreshRotates(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	first := f.login(t)

	f.clock.Advance(time.Minute)
	second, err := f.service.Refresh(ctx, "acme", first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, f.clock.Now().Add(10*time.Minute), second.ExpiresAt)
	// absolute expiry does not move
	require.Equal(t, first.RefreshExpiresAt, second.RefreshExpiresAt)

	claims, err := f.service.Verify(ctx, second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, claims.SessionID)

	third, err := f.service.Refresh(ctx, "acme", second.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, second.RefreshToken, third.RefreshToken)
	require.Contains(t, f.audit.Types(), audit.RefreshSuccess)
}

func TestRefreshSlidingExpiry(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	tenant, err := f.tenants.Get(ctx, "acme")
	require.NoError(t, err)
	tenant.Policy.SessionExpiry = tenants.SessionExpirySliding
	require.NoError(t, f.tenants.Upsert(ctx, tenant))
	f.clock.Advance(tenants.DefaultCacheTTL)

	first := f.login(t)
	f.clock.Advance(24 * time.Hour)
	second, err := f.service.Refresh(ctx, "acme", first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().Add(tenants.DefaultRefreshTokenTTL), second.RefreshExpiresAt)
}

func TestConcurrentRefreshDetectsReuse(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []*auth.TokenPair
		failures []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := f.service.Refresh(ctx, "acme", pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			winners = append(winners, next)
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, failures, 1)
	requireReason(t, failures[0], auth.ReasonReuseDetected)
	require.ErrorIs(t, failures[0], auth.ErrReuseDetected)
	require.Contains(t, f.audit.Types(), audit.RefreshReuseDetected)

	// neither token refreshes any more
	for _, raw := range []string{pair.RefreshToken, winners[0].RefreshToken} {
		_, err := f.service.Refresh(ctx, "acme", raw)
		requireReason(t, err, auth.ReasonSessionRevoked)
	}
	_, _, err := f.service.VerifySession(ctx, winners[0].AccessToken)
	requireReason(t, err, auth.ReasonSessionRevoked)
}

func TestRefreshReuseAfterRotation(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	first := f.login(t)

	_, err := f.service.Refresh(ctx, "acme", first.RefreshToken)
	require.NoError(t, err)
	_, err = f.service.Refresh(ctx, "acme", first.RefreshToken)
	requireReason(t, err, auth.ReasonReuseDetected)
}

func TestRefreshRejects(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	t.Run("malformed", func(t *testing.T) {
		_, err := f.service.Refresh(ctx, "acme", "not-a-token")
		requireReason(t, err, auth.ReasonInvalidCredential)
	})
	t.Run("wrong tenant", func(t *testing.T) {
		_, err := f.service.Refresh(ctx, "globex", pair.RefreshToken)
		requireReason(t, err, auth.ReasonInvalidCredential)
	})
	t.Run("unknown tenant", func(t *testing.T) {
		_, err := f.service.Refresh(ctx, "initech", pair.RefreshToken)
		requireReason(t, err, auth.ReasonTenantNotFound)
	})
	t.Run("store unavailable", func(t *testing.T) {
		f.sessions.SetErr(errors.New("connection refused"))
		defer f.sessions.SetErr(nil)
		_, err := f.service.Refresh(ctx, "acme", pair.RefreshToken)
		requireReason(t, err, auth.ReasonStoreUnavailable)
	})
	t.Run("expired session", func(t *testing.T) {
		f.clock.Advance(tenants.DefaultRefreshTokenTTL)
		_, err := f.service.Refresh(ctx, "acme", pair.RefreshToken)
		requireReason(t, err, auth.ReasonSessionExpired)
		require.ErrorIs(t, err, auth.ErrSessionExpired)
	})
}

func TestRefreshDisabledUser(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	require.NoError(t, f.users.SetDisabled(ctx, "acme", f.alice.ID, true))
	_, err := f.service.Refresh(ctx, "acme", pair.RefreshToken)
	requireReason(t, err, auth.ReasonInvalidCredential)

	_, _, err = f.service.VerifySession(ctx, pair.AccessToken)
	requireReason(t, err, auth.ReasonSessionRevoked)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	pair := f.login(t)

	require.NoError(t, f.service.Logout(ctx, pair.SessionID))
	require.NoError(t, f.service.Logout(ctx, pair.SessionID))
	require.NoError(t, f.service.Logout(ctx, "unknown-session"))

	_, err := f.service.Refresh(ctx, "acme", pair.RefreshToken)
	requireReason(t, err, auth.ReasonSessionRevoked)
	require.ErrorIs(t, err, auth.ErrSessionRevoked)

	// the access token stays valid until expiry; the session check does not
	_, err = f.service.Verify(ctx, pair.AccessToken)
	require.NoError(t, err)
	_, _, err = f.service.VerifySession(ctx, pair.AccessToken)
	requireReason(t, err, auth.ReasonSessionRevoked)

	f.sessions.SetErr(errors.New("connection refused"))
	err = f.service.Logout(ctx, pair.SessionID)
	requireReason(t, err, auth.ReasonStoreUnavailable)
}

func TestLogoutAll(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	a, b := f.login(t), f.login(t)

	n, err := f.service.LogoutAll(ctx, "acme", f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, pair := range []*auth.TokenPair{a, b} {
		_, err := f.service.Refresh(ctx, "acme", pair.RefreshToken)
		requireReason(t, err, auth.ReasonSessionRevoked)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	f := setupTestFixture(t)
	pair := f.login(t)

	f.clock.Advance(10*time.Minute + token.DefaultClockSkew + time.Second)
	_, err := f.service.Verify(context.Background(), pair.AccessToken)
	require.ErrorIs(t, err, auth.ErrTokenExpired)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = f.service.Verify(context.Background(), "garbage")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestEnroll(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	t.Run("duplicate username", func(t *testing.T) {
		_, err := f.service.Enroll(ctx, auth.EnrollRequest{TenantID: "acme", Username: "ALICE", Password: alicePassword})
		require.ErrorIs(t, err, auth.ErrDuplicateUser)
	})
	t.Run("same username in another tenant", func(t *testing.T) {
		_, err := f.service.Enroll(ctx, auth.EnrollRequest{TenantID: "globex", Username: "alice", Password: alicePassword})
		require.NoError(t, err)
	})
	t.Run("weak password", func(t *testing.T) {
		_, err := f.service.Enroll(ctx, auth.EnrollRequest{TenantID: "acme", Username: "frank", Password: "short"})
		require.ErrorIs(t, err, auth.ErrInvalidInput)
		var pwErr *users.PasswordError
		require.ErrorAs(t, err, &pwErr)
	})
	t.Run("empty username", func(t *testing.T) {
		_, err := f.service.Enroll(ctx, auth.EnrollRequest{TenantID: "acme", Username: "  ", Password: alicePassword})
		require.ErrorIs(t, err, auth.ErrInvalidInput)
	})
	t.Run("tenant unknown to credential store", func(t *testing.T) {
		require.NoError(t, f.tenants.Upsert(ctx, newTenant(t, "hooli", tenants.Policy{})))
		_, err := f.service.Enroll(ctx, auth.EnrollRequest{TenantID: "hooli", Username: "gavin", Password: alicePassword})
		requireReason(t, err, auth.ReasonTenantNotFound)
	})
	t.Run("stores only the digest", func(t *testing.T) {
		user, err := f.users.GetByUsername(ctx, "acme", "alice")
		require.NoError(t, err)
		require.NotContains(t, user.PasswordHash, alicePassword)
		require.NoError(t, f.pool.Verify(ctx, alicePassword, user.PasswordHash))
	})
}

func TestOAuth2Token(t *testing.T) {
	f := setupTestFixture(t)
	pair := f.login(t)

	tok := pair.OAuth2Token()
	require.Equal(t, pair.AccessToken, tok.AccessToken)
	require.Equal(t, pair.RefreshToken, tok.RefreshToken)
	require.Equal(t, "Bearer", tok.Type())
	require.Equal(t, pair.ExpiresAt, tok.Expiry)
	require.Equal(t, pair.SessionID, tok.Extra("session_id"))
}

func TestAuditFailureDoesNotFailLogin(t *testing.T) {
	f := setupTestFixture(t)
	before := len(f.audit.Events())
	f.audit.SetErr(errors.ErrStoreUnavailable)
	f.login(t)

	_, err := f.service.Login(context.Background(), auth.LoginRequest{TenantID: "acme", Username: "alice", Password: "Wrong-Pass-9"})
	requireReason(t, err, auth.ReasonInvalidCredential)
	assert.Len(t, f.audit.Events(), before)
}

func TestUnresolvedTenantsStayOutOfAuditTrail(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	before := len(f.audit.Events())

	for i := 0; i < 10; i++ {
		tenantID := "unknown-" + strconv.Itoa(i)
		_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: tenantID, Username: "alice", Password: alicePassword})
		requireReason(t, err, auth.ReasonTenantNotFound)
		_, err = f.service.Refresh(ctx, tenantID, "rt1.nope.nope")
		requireReason(t, err, auth.ReasonTenantNotFound)
		_, err = f.service.LogoutAll(ctx, tenantID, f.alice.ID)
		requireReason(t, err, auth.ReasonTenantNotFound)
		require.NoError(t, f.service.Logout(ctx, "session-"+strconv.Itoa(i)))
	}
	require.Len(t, f.audit.Events(), before)

	_, err := f.service.Login(ctx, auth.LoginRequest{TenantID: "acme", Username: "alice", Password: "Wrong-Pass-9"})
	requireReason(t, err, auth.ReasonInvalidCredential)
	events := f.audit.Events()
	require.Len(t, events, before+1)
	require.Equal(t, audit.LoginRejected, events[before].Type)
	require.Equal(t, "acme", events[before].TenantID)
}

func TestLoginRejectsReusedTOTPCode(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	code, err := totp.GenerateCode(f.bobSecret, f.clock.Now())
	require.NoError(t, err)
	req := auth.LoginRequest{TenantID: "globex", Username: "bob", Password: bobPassword, TOTPCode: code}

	_, err = f.service.Login(ctx, req)
	require.NoError(t, err)

	// still inside the code's validity window
	f.clock.Advance(10 * time.Second)
	_, err = f.service.Login(ctx, req)
	requireReason(t, err, auth.ReasonInvalidCredential)

	f.clock.Advance(30 * time.Second)
	req.TOTPCode, err = totp.GenerateCode(f.bobSecret, f.clock.Now())
	require.NoError(t, err)
	_, err = f.service.Login(ctx, req)
	require.NoError(t, err)
}
