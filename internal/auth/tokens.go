package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/metrics"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

// TokenPair is what a successful login or refresh returns
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// TokenIssuer mints access tokens and owns the refresh rotation chain
type TokenIssuer struct {
	jwt        *JWTService
	refresh    repo.RefreshRepo
	users      repo.UserRepo
	refreshTTL time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewTokenIssuer creates a new token issuer
func NewTokenIssuer(jwtService *JWTService, refresh repo.RefreshRepo, users repo.UserRepo, refreshTTL time.Duration, logger *zap.Logger, m *metrics.Metrics) *TokenIssuer {
	return &TokenIssuer{
		jwt:        jwtService,
		refresh:    refresh,
		users:      users,
		refreshTTL: refreshTTL,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// IssueTokenPair starts a new rotation chain for the user
func (t *TokenIssuer) IssueTokenPair(ctx context.Context, user model.User) (TokenPair, error) {
	access, err := t.jwt.SignAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	token, hashHex, err := GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if _, err := t.refresh.Create(ctx, user.ID, hashHex, t.now().Add(t.refreshTTL)); err != nil {
		return TokenPair{}, fmt.Errorf("store refresh session: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: token, ExpiresIn: t.jwt.TTL()}, nil
}

// Refresh exchanges a live refresh token for a new pair. Presenting a token that was already
// rotated revokes everything minted from it and fails with ErrRefreshTokenReuseDetected.
func (t *TokenIssuer) Refresh(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	defer func() { t.metrics.Refreshes.WithLabelValues(refreshOutcome(err)).Inc() }()

	now := t.now()
	session, err := t.refresh.FindByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, fmt.Errorf("find refresh session: %w", err)
	}

	if session.ReplacedBy != nil {
		return TokenPair{}, t.reuseDetected(ctx, session, now)
	}
	if session.RevokedAt != nil {
		return TokenPair{}, ErrRefreshRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return TokenPair{}, ErrRefreshExpired
	}

	user, err := t.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if user.Locked {
		return TokenPair{}, ErrAccountLocked
	}

	access, err := t.jwt.SignAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	token, hashHex, err := GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if _, err := t.refresh.Rotate(ctx, session.ID, hashHex, now.Add(t.refreshTTL), now); err != nil {
		if errors.Is(err, repo.ErrStale) {
			// Lost the race against a concurrent refresh of the same token.
			return TokenPair{}, t.reuseDetected(ctx, session, now)
		}
		return TokenPair{}, fmt.Errorf("rotate refresh session: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: token, ExpiresIn: t.jwt.TTL()}, nil
}

func (t *TokenIssuer) reuseDetected(ctx context.Context, session model.RefreshSession, now time.Time) error {
	n, err := t.refresh.RevokeChainFrom(ctx, session.ID, now)
	if err != nil {
		return fmt.Errorf("revoke chain: %w", err)
	}
	t.logger.Warn("refresh token reuse detected",
		zap.String("user_id", session.UserID.String()),
		zap.String("session_id", session.ID.String()),
		zap.Int("revoked", n),
	)
	return ErrRefreshTokenReuseDetected
}

// Logout revokes the refresh token. When userID is not uuid.Nil the token must belong to that user.
// Revoking an already revoked token succeeds.
func (t *TokenIssuer) Logout(ctx context.Context, refreshToken string, userID uuid.UUID) error {
	session, err := t.refresh.FindByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrRefreshInvalid
		}
		return fmt.Errorf("find refresh session: %w", err)
	}
	if userID != uuid.Nil && session.UserID != userID {
		return ErrRefreshInvalid
	}
	if err := t.refresh.Revoke(ctx, session.ID, t.now()); err != nil {
		return err
	}
	return nil
}

// ValidateAccess checks an access token without any storage lookup
func (t *TokenIssuer) ValidateAccess(accessToken string) (*JWTClaims, error) {
	return t.jwt.VerifyToken(accessToken)
}

// RevokeAll ends every refresh session of the user
func (t *TokenIssuer) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	n, err := t.refresh.RevokeAllForUser(ctx, userID, t.now())
	if err != nil {
		return err
	}
	t.logger.Info("revoked refresh sessions", zap.String("user_id", userID.String()), zap.Int("count", n))
	return nil
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRefreshTokenReuseDetected):
		return "reuse"
	case errors.Is(err, ErrRefreshRevoked):
		return "revoked"
	case errors.Is(err, ErrRefreshExpired):
		return "expired"
	case errors.Is(err, ErrRefreshInvalid):
		return "invalid"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	}
	return "error"
}
