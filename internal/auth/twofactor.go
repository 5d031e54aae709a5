package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/homenavi/auth-service/internal/model"
)

// TOTPSetup is returned when TOTP enrollment starts. The client renders URL as it likes.
type TOTPSetup struct {
	Secret string
	URL    string
}

// RequestEmailTwoFactor sends a 2fa_setup code to confirm the user's mailbox
func (s *AuthService) RequestEmailTwoFactor(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.TwoFactorMethod.Enabled() {
		return "", ErrTwoFactorEnabled
	}
	return s.codes.Issue(ctx, user, model.Purpose2FASetup)
}

// ConfirmEmailTwoFactor consumes the 2fa_setup code and switches the user to email 2FA
func (s *AuthService) ConfirmEmailTwoFactor(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorMethod.Enabled() {
		return ErrTwoFactorEnabled
	}
	if err := s.codes.Verify(ctx, userID, model.Purpose2FASetup, code); err != nil {
		return err
	}
	return s.users.SetTwoFactor(ctx, userID, model.TwoFactorEmail, "")
}

// SetupTOTP stores a fresh secret without enabling TOTP yet
func (s *AuthService) SetupTOTP(ctx context.Context, userID uuid.UUID) (TOTPSetup, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return TOTPSetup{}, err
	}
	if user.TwoFactorMethod.Enabled() {
		return TOTPSetup{}, ErrTwoFactorEnabled
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.TOTPIssuer,
		AccountName: user.Email,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TOTPSetup{}, fmt.Errorf("generate totp secret: %w", err)
	}
	if err := s.users.SetTwoFactor(ctx, userID, model.TwoFactorNone, key.Secret()); err != nil {
		return TOTPSetup{}, err
	}
	return TOTPSetup{Secret: key.Secret(), URL: key.URL()}, nil
}

// VerifyTOTP enables TOTP once the user proves the authenticator holds the secret
func (s *AuthService) VerifyTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TwoFactorMethod.Enabled() {
		return ErrTwoFactorEnabled
	}
	if user.TOTPSecret == "" {
		return ErrTOTPNotSetUp
	}
	if !totp.Validate(code, user.TOTPSecret) {
		return ErrCodeMismatch
	}
	return s.users.SetTwoFactor(ctx, userID, model.TwoFactorTOTP, user.TOTPSecret)
}

// DisableTwoFactor re-checks the password and turns any second factor off
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID uuid.UUID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorMethod.Enabled() {
		return ErrTwoFactorNotEnabled
	}
	if err := s.checkPassword(ctx, userID, password); err != nil {
		return err
	}
	return s.users.SetTwoFactor(ctx, userID, model.TwoFactorNone, "")
}
