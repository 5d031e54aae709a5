package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/logging"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

// SignupRequest carries the fields of a new account
type SignupRequest struct {
	UserName  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

func (r *SignupRequest) normalize() {
	r.UserName = strings.TrimSpace(r.UserName)
	r.Email = NormalizeEmail(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

// Validate returns the first ValidationError found
func (r SignupRequest) Validate() error {
	if err := ValidateUserName(r.UserName); err != nil {
		return err
	}
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if err := ValidatePassword(r.Password); err != nil {
		return err
	}
	if err := ValidatePersonName("first_name", r.FirstName); err != nil {
		return err
	}
	return ValidatePersonName("last_name", r.LastName)
}

// Signup creates an unverified account with role user
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (model.User, error) {
	req.normalize()
	if err := req.Validate(); err != nil {
		return model.User{}, err
	}
	return s.createUser(ctx, req, model.RoleUser, false)
}

func (s *AuthService) createUser(ctx context.Context, req SignupRequest, role model.Role, verified bool) (model.User, error) {
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, model.User{
		ID:              uuid.New(),
		Email:           req.Email,
		UserName:        req.UserName,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		PasswordHash:    hash,
		Role:            role,
		EmailVerified:   verified,
		TwoFactorMethod: model.TwoFactorNone,
	})
	if err != nil {
		return model.User{}, err
	}
	s.logger.Info("user created", zap.String("user_id", user.ID.String()), zap.String("role", string(role)))
	return user, nil
}

// RequestEmailVerification sends an email_verify code to the user. Unknown and already
// verified users succeed silently and return "", so the answer never reveals which ids exist.
func (s *AuthService) RequestEmailVerification(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Info("email verification for unknown user", zap.String("user_id", userID.String()))
			return "", nil
		}
		return "", err
	}
	if user.EmailVerified {
		return "", nil
	}
	return s.codes.Issue(ctx, user, model.PurposeEmailVerify)
}

// ConfirmEmailVerification consumes the code and marks the email verified
func (s *AuthService) ConfirmEmailVerification(ctx context.Context, userID uuid.UUID, code string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCodeInvalid
		}
		return err
	}
	if err := s.codes.Verify(ctx, userID, model.PurposeEmailVerify, code); err != nil {
		return err
	}
	return s.users.SetEmailVerified(ctx, userID, true)
}

// RequestPasswordReset sends a password_reset code. Unknown emails succeed silently and return "".
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Info("password reset for unknown email", zap.String("email", logging.MaskEmail(email)))
			return "", nil
		}
		return "", err
	}
	return s.codes.Issue(ctx, user, model.PurposePasswordReset)
}

// ConfirmPasswordReset sets a new password and ends every refresh session of the user.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCodeInvalid
		}
		return err
	}
	if err := s.codes.Verify(ctx, user.ID, model.PurposePasswordReset, code); err != nil {
		return err
	}
	return s.setPassword(ctx, user.ID, newPassword)
}

// ChangePassword re-checks the current password before replacing it. All refresh sessions end.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if current == next {
		return invalid("new_password", "new password must be different from current password")
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}
	if err := s.checkPassword(ctx, userID, current); err != nil {
		return err
	}
	return s.setPassword(ctx, userID, next)
}

func (s *AuthService) checkPassword(ctx context.Context, userID uuid.UUID, password string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.tokens.RevokeAll(ctx, userID)
}

// SeedAdmin creates a verified admin on first boot. It does nothing when the email is taken.
func (s *AuthService) SeedAdmin(ctx context.Context, email, password, userName string) error {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if userName == "" {
		userName = "admin"
	}
	if err := ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}
	_, err := s.createUser(ctx, SignupRequest{
		UserName:  userName,
		Email:     email,
		Password:  password,
		FirstName: "Admin",
		LastName:  "User",
	}, model.RoleAdmin, true)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	s.logger.Info("admin account seeded", zap.String("email", logging.MaskEmail(email)))
	return nil
}
