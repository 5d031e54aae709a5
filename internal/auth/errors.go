package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrRateLimited        = errors.New("rate limit exceeded")

	// ErrCodeInvalid is what callers see for every code failure. The wrapped variants exist for logs and metrics.
	ErrCodeInvalid  = errors.New("invalid or expired code")
	ErrCodeNotFound = fmt.Errorf("%w: not found", ErrCodeInvalid)
	ErrCodeExpired  = fmt.Errorf("%w: expired", ErrCodeInvalid)
	ErrCodeConsumed = fmt.Errorf("%w: already consumed", ErrCodeInvalid)
	ErrCodeMismatch = fmt.Errorf("%w: mismatch", ErrCodeInvalid)

	ErrPendingExpired = errors.New("pending login expired or not found")

	ErrRefreshInvalid            = errors.New("invalid refresh token")
	ErrRefreshExpired            = errors.New("refresh token expired")
	ErrRefreshRevoked            = errors.New("refresh token revoked")
	ErrRefreshTokenReuseDetected = errors.New("refresh_token_reuse_detected")

	ErrAccessInvalid = errors.New("invalid access token")
	ErrAccessExpired = errors.New("access token expired")

	ErrTwoFactorNotEnabled = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorEnabled    = errors.New("two-factor authentication is already enabled")
	ErrTOTPNotSetUp        = errors.New("totp setup has not been started")
)

// Lockout reasons reported with a 423
const (
	ReasonAdminLock    = "admin_lock"
	ReasonLoginLockout = "login_lockout"
	ReasonTwoFALockout = "2fa_lockout"
)

// LockoutError is a temporary lock after repeated failures. It matches ErrAccountLocked.
type LockoutError struct {
	Reason    string
	Remaining time.Duration
	UnlockAt  time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked (%s) for %s", e.Reason, e.Remaining.Round(time.Second))
}

func (e *LockoutError) Unwrap() error { return ErrAccountLocked }

// ValidationError reports malformed or weak input. Problems lists every violated rule.
type ValidationError struct {
	Field    string
	Problems []string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return strings.Join(e.Problems, ", ")
	}
	return e.Field + ": " + strings.Join(e.Problems, ", ")
}

func invalid(field string, problems ...string) error {
	return &ValidationError{Field: field, Problems: problems}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
