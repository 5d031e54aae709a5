package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

// ExternalIdentity is a user vouched for by an identity provider
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

const maxUserNameAttempts = 3

// LoginWithIdentity signs in the account owning the provider's verified email, creating a verified
// user on first sight. Locked accounts are refused and second factors are still required.
func (s *AuthService) LoginWithIdentity(ctx context.Context, id ExternalIdentity) (out LoginOutcome, err error) {
	defer func() { s.metrics.Logins.WithLabelValues(loginOutcome(out, err)).Inc() }()

	email := NormalizeEmail(id.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if !id.EmailVerified {
		return nil, invalid("email", "the provider has not verified this email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		user, err = s.createExternalUser(ctx, id, email)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Locked {
		s.logger.Info("external login refused for locked account",
			zap.String("provider", id.Provider), zap.String("user_id", user.ID.String()))
		return nil, ErrAccountLocked
	}
	if !user.EmailVerified {
		if err := s.users.SetEmailVerified(ctx, user.ID, true); err != nil {
			return nil, fmt.Errorf("mark email verified: %w", err)
		}
		user.EmailVerified = true
	}
	return s.startSession(ctx, user)
}

// createExternalUser derives a user name from the email and gives the account a random password
// nobody knows. A concurrent creation for the same email resolves to the winner's row.
func (s *AuthService) createExternalUser(ctx context.Context, id ExternalIdentity, email string) (model.User, error) {
	password, err := randomToken(32)
	if err != nil {
		return model.User{}, err
	}

	base := userNameFromEmail(email)
	name := base
	for attempt := 0; ; attempt++ {
		user, err := s.createUser(ctx, SignupRequest{
			UserName:  name,
			Email:     email,
			Password:  password,
			FirstName: strings.TrimSpace(id.FirstName),
			LastName:  strings.TrimSpace(id.LastName),
		}, model.RoleUser, true)
		switch {
		case err == nil:
			s.logger.Info("user created from external identity",
				zap.String("provider", id.Provider), zap.String("user_id", user.ID.String()))
			return user, nil
		case errors.Is(err, repo.ErrDuplicateEmail):
			return s.users.GetByEmail(ctx, email)
		case errors.Is(err, repo.ErrDuplicateUsername) && attempt+1 < maxUserNameAttempts:
			suffix, err := randomHex(3)
			if err != nil {
				return model.User{}, err
			}
			name = base + "-" + suffix
		default:
			return model.User{}, err
		}
	}
}

// userNameFromEmail keeps the allowed characters of the local part, padded or cut to fit 3-43 chars
func userNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == '.' || r == '+':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 43 {
		name = name[:43]
	}
	for len(name) < 3 {
		name += "_"
	}
	return name
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random suffix: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
