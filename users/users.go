package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jrsteele09/go-tenant-auth/tenants"
)

// User is a tenant-scoped credential record. IDs and usernames are unique
// within a tenant only.
type User struct {
	ID           string    `json:"id,omitempty"`
	TenantID     string    `json:"tenant_id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialize
	Roles        []string  `json:"roles,omitempty"`
	TOTPSecret   string    `json:"-"`
	Disabled     bool      `json:"disabled,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MFAEnrolled reports whether the user has a TOTP secret
func (u *User) MFAEnrolled() bool {
	return u.TOTPSecret != ""
}

// NormalizeUsername folds case and trims whitespace so lookups are stable
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// PasswordError names the composition rule a password failed
type PasswordError struct {
	Rule string
}

func (e *PasswordError) Error() string {
	return "password " + e.Rule
}

// ValidatePassword checks a new password against the tenant's rules
func ValidatePassword(password string, rules tenants.PasswordRules) error {
	minLength := rules.MinLength
	if minLength == 0 {
		minLength = tenants.DefaultMinPasswordLength
	}
	if len([]rune(password)) < minLength {
		return &PasswordError{Rule: fmt.Sprintf("must be at least %d characters long", minLength)}
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
		hasSymbol bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSymbol = true
		}
	}

	if rules.Upper() && !hasUpper {
		return &PasswordError{Rule: "must contain at least one uppercase letter"}
	}
	if rules.Lower() && !hasLower {
		return &PasswordError{Rule: "must contain at least one lowercase letter"}
	}
	if rules.Digit() && !hasNumber {
		return &PasswordError{Rule: "must contain at least one number"}
	}
	if rules.RequireSymbol && !hasSymbol {
		return &PasswordError{Rule: "must contain at least one symbol"}
	}

	return nil
}
