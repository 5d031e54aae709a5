package auth

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/lockout"
	"github.com/homenavi/auth-service/internal/metrics"
	"github.com/homenavi/auth-service/internal/repo"
)

// ServiceConfig holds the flow settings of AuthService
type ServiceConfig struct {
	PendingLoginTTL time.Duration
	TOTPIssuer      string
}

// Lockouts holds the failure trackers: Login is keyed by normalized email, TwoFactor by user id.
type Lockouts struct {
	Login     lockout.Tracker
	TwoFactor lockout.Tracker
}

// AuthService orchestrates signup, login, verification and second-factor flows
type AuthService struct {
	users    repo.UserRepo
	pending  repo.PendingLoginRepo
	codes    CodeProvider
	tokens   *TokenIssuer
	hasher   PasswordHasher
	lockouts Lockouts
	cfg      ServiceConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	// dummyHash is verified against when the email is unknown so both paths cost the same.
	dummyHash string
}

// NewAuthService creates a new auth service
func NewAuthService(
	users repo.UserRepo,
	pending repo.PendingLoginRepo,
	codes CodeProvider,
	tokens *TokenIssuer,
	hasher PasswordHasher,
	lockouts Lockouts,
	cfg ServiceConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*AuthService, error) {
	if lockouts.Login == nil || lockouts.TwoFactor == nil {
		return nil, errors.New("auth: login and two-factor lockout trackers are required")
	}
	dummy, err := hasher.Hash("Unused-Dummy-Password-1")
	if err != nil {
		return nil, err
	}
	return &AuthService{
		users:     users,
		pending:   pending,
		codes:     codes,
		tokens:    tokens,
		hasher:    hasher,
		lockouts:  lockouts,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

// Tokens exposes the token issuer used by the service
func (s *AuthService) Tokens() *TokenIssuer { return s.tokens }
