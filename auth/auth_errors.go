package auth

import (
	"fmt"
	"time"

	"github.com/jrsteele09/go-tenant-auth/internal/errors"
	"github.com/jrsteele09/go-tenant-auth/sessions"
	"github.com/jrsteele09/go-tenant-auth/users"
)

// Reason is the closed set of rejection causes reported to callers
type Reason string

const (
	ReasonTenantNotFound    Reason = "TenantNotFound"
	ReasonInvalidCredential Reason = "InvalidCredential"
	ReasonLocked            Reason = "Locked"
	ReasonSessionExpired    Reason = "SessionExpired"
	ReasonSessionRevoked    Reason = "SessionRevoked"
	ReasonReuseDetected     Reason = "ReuseDetected"
	ReasonStoreUnavailable  Reason = "StoreUnavailable"
)

var (
	ErrTenantNotFound    = errors.ErrTenantNotFound
	ErrInvalidCredential = errors.ErrInvalidCredentials
	ErrLocked            = errors.New("account locked")
	ErrSessionExpired    = errors.ErrSessionExpired
	ErrSessionRevoked    = errors.ErrSessionRevoked
	ErrReuseDetected     = sessions.ErrReuseDetected
	ErrStoreUnavailable  = errors.ErrStoreUnavailable

	ErrInvalidToken  = errors.ErrInvalidToken
	ErrTokenExpired  = errors.ErrTokenExpired
	ErrDuplicateUser = users.ErrUserExists
	ErrInvalidInput  = errors.New("invalid request")
)

var reasonErrors = map[Reason]error{
	ReasonTenantNotFound:    ErrTenantNotFound,
	ReasonInvalidCredential: ErrInvalidCredential,
	ReasonLocked:            ErrLocked,
	ReasonSessionExpired:    ErrSessionExpired,
	ReasonSessionRevoked:    ErrSessionRevoked,
	ReasonReuseDetected:     ErrReuseDetected,
	ReasonStoreUnavailable:  ErrStoreUnavailable,
}

// RejectedError is returned by every flow that refuses a request. Err holds
// the cause for logs; InvalidCredential rejections never say which factor
// failed.
type RejectedError struct {
	Reason Reason
	Err    error

	// LockedUntil is set for Locked rejections
	LockedUntil time.Time
}

func (e *RejectedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected: %s: %v", e.Reason, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel belonging to the rejection reason
func (e *RejectedError) Is(target error) bool {
	return reasonErrors[e.Reason] == target
}

// ReasonOf extracts the rejection reason from err, if any
func ReasonOf(err error) (Reason, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}

func reject(reason Reason, err error) *RejectedError {
	return &RejectedError{Reason: reason, Err: err}
}

// storeReason maps infrastructure and session outcomes onto rejection reasons
func storeReason(err error) Reason {
	switch {
	case errors.Is(err, sessions.ErrReuseDetected):
		return ReasonReuseDetected
	case errors.Is(err, sessions.ErrSessionRevoked):
		return ReasonSessionRevoked
	case errors.Is(err, sessions.ErrSessionExpired), errors.Is(err, sessions.ErrSessionNotFound):
		return ReasonSessionExpired
	case errors.Is(err, sessions.ErrRefreshMismatch):
		return ReasonInvalidCredential
	}
	return ReasonStoreUnavailable
}
