package auth

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/users"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// totpStepTTL covers every step still inside the skew window
var totpStepTTL = time.Duration(2*(totpOpts.Skew+1)*totpOpts.Period) * time.Second

// checkTOTP validates the second factor against the service clock and burns
// the matched time step, so a code works once. A tenant requiring MFA rejects
// users who never enrolled.
func (s *Service) checkTOTP(ctx context.Context, user *users.User, code string) error {
	if !user.MFAEnrolled() {
		return errors.New("mfa required but not enrolled")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.New("mfa code missing")
	}
	step, ok, err := matchTOTP(user.TOTPSecret, code, s.nowFunc())
	if err != nil {
		return errors.Wrapf(err, "validate mfa code")
	}
	if !ok {
		return errors.New("mfa code mismatch")
	}

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	fresh, err := s.mfaGuard.Accept(wctx, user.TenantID, user.ID, step, totpStepTTL)
	if err != nil {
		return reject(ReasonStoreUnavailable, err)
	}
	if !fresh {
		return errors.New("mfa code already used")
	}
	return nil
}

// matchTOTP returns the time step code belongs to, searching the skew window
func matchTOTP(secret, code string, now time.Time) (int64, bool, error) {
	period := int64(totpOpts.Period)
	skew := int64(totpOpts.Skew)
	for offset := -skew; offset <= skew; offset++ {
		at := now.Add(time.Duration(offset*period) * time.Second)
		want, err := totp.GenerateCodeCustom(secret, at, totpOpts)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return at.Unix() / period, true, nil
		}
	}
	return 0, false, nil
}

func newSessionID() string {
	return uuid.New().String()
}
