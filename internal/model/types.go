package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization level of a user. Roles are totally ordered: user < resident < admin.
type Role string

const (
	RoleUser     Role = "user"
	RoleResident Role = "resident"
	RoleAdmin    Role = "admin"
)

var roleLevels = map[Role]int{
	RoleUser:     1,
	RoleResident: 2,
	RoleAdmin:    3,
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := roleLevels[r]
	return r, ok
}

// Level returns the position of the role in the hierarchy, or 0 for unknown roles.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r.Level() > 0 && r.Level() >= min.Level()
}

// TwoFactorMethod is the second factor required after the password check.
type TwoFactorMethod string

const (
	TwoFactorNone  TwoFactorMethod = "none"
	TwoFactorEmail TwoFactorMethod = "email"
	TwoFactorTOTP  TwoFactorMethod = "totp"
)

// Enabled reports whether the method requires a second step at login.
func (m TwoFactorMethod) Enabled() bool {
	return m == TwoFactorEmail || m == TwoFactorTOTP
}

// User represents an account in the credential store
type User struct {
	ID              uuid.UUID
	Email           string
	UserName        string
	FirstName       string
	LastName        string
	PasswordHash    string
	Role            Role
	EmailVerified   bool
	Locked          bool
	TwoFactorMethod TwoFactorMethod
	// TOTPSecret is set during TOTP enrollment and kept while the method is totp.
	TOTPSecret string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// CodePurpose scopes a one-time code to a single flow.
type CodePurpose string

const (
	PurposeEmailVerify   CodePurpose = "email_verify"
	PurposePasswordReset CodePurpose = "password_reset"
	Purpose2FALogin      CodePurpose = "2fa_login"
	Purpose2FASetup      CodePurpose = "2fa_setup"
)

// OneTimeCode represents a hashed single-use code. At most one unconsumed code exists per (user, purpose).
type OneTimeCode struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Purpose      CodePurpose
	CodeHash     []byte
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
	CreatedAt    time.Time
	AttemptCount int
}

// PendingLogin represents a login that passed the password check and waits for its second factor
type PendingLogin struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Method     TwoFactorMethod
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// RefreshSession represents a refresh token session
type RefreshSession struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *uuid.UUID
}

// Live reports whether the session can still be exchanged at the given instant.
func (s RefreshSession) Live(at time.Time) bool {
	return s.RevokedAt == nil && s.ReplacedBy == nil && at.Before(s.ExpiresAt)
}
