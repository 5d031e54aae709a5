package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/lockout"
	"github.com/homenavi/auth-service/internal/logging"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

// LoginOutcome is either TokensIssued or SecondFactorRequired
type LoginOutcome interface {
	isLoginOutcome()
}

// TokensIssued ends the login with a token pair
type TokensIssued struct {
	User   model.User
	Tokens TokenPair
}

// SecondFactorRequired means the password was correct and a second factor must follow via LoginFinish.
type SecondFactorRequired struct {
	PendingID uuid.UUID
	UserID    uuid.UUID
	Method    model.TwoFactorMethod
	// IssuedCode is the emailed code. Handlers only expose it in dev mode.
	IssuedCode string
}

func (TokensIssued) isLoginOutcome()         {}
func (SecondFactorRequired) isLoginOutcome() {}

// LoginStart checks the password and either issues tokens or opens a pending login.
// Unknown email and wrong password both return ErrInvalidCredentials and both count toward the
// per-email lockout. A locked email or account returns ErrAccountLocked before the password is looked at.
func (s *AuthService) LoginStart(ctx context.Context, email, password string) (out LoginOutcome, err error) {
	defer func() { s.metrics.Logins.WithLabelValues(loginOutcome(out, err)).Inc() }()

	email = NormalizeEmail(email)
	lockKey := "login:" + email
	if err := s.checkLockout(ctx, s.lockouts.Login, lockKey, ReasonLoginLockout); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			_, _ = s.hasher.Verify(password, s.dummyHash)
			return nil, s.registerFailure(ctx, s.lockouts.Login, lockKey, ReasonLoginLockout, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Locked {
		return nil, ErrAccountLocked
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", zap.String("user_id", user.ID.String()), zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if !ok {
		s.logger.Info("login rejected", zap.String("email", logging.MaskEmail(user.Email)))
		return nil, s.registerFailure(ctx, s.lockouts.Login, lockKey, ReasonLoginLockout, ErrInvalidCredentials)
	}
	s.clearFailures(ctx, s.lockouts.Login, lockKey)
	s.upgradeHash(ctx, user, password)

	return s.startSession(ctx, user)
}

// startSession issues tokens, or opens a pending login when the user has a second factor.
func (s *AuthService) startSession(ctx context.Context, user model.User) (LoginOutcome, error) {
	if !user.TwoFactorMethod.Enabled() {
		pair, err := s.tokens.IssueTokenPair(ctx, user)
		if err != nil {
			return nil, err
		}
		return TokensIssued{User: user, Tokens: pair}, nil
	}

	now := s.now()
	pending := model.PendingLogin{
		ID:        uuid.New(),
		UserID:    user.ID,
		Method:    user.TwoFactorMethod,
		ExpiresAt: now.Add(s.cfg.PendingLoginTTL),
		CreatedAt: now,
	}
	if err := s.pending.Create(ctx, pending); err != nil {
		return nil, fmt.Errorf("create pending login: %w", err)
	}

	challenge := SecondFactorRequired{PendingID: pending.ID, UserID: user.ID, Method: user.TwoFactorMethod}
	if user.TwoFactorMethod == model.TwoFactorEmail {
		code, err := s.codes.Issue(ctx, user, model.Purpose2FALogin)
		if err != nil {
			return nil, err
		}
		challenge.IssuedCode = code
	}
	return challenge, nil
}

// checkLockout returns a LockoutError while key is locked. An unreachable tracker lets the attempt through.
func (s *AuthService) checkLockout(ctx context.Context, t lockout.Tracker, key, reason string) error {
	left, err := t.Remaining(ctx, key)
	if err != nil {
		s.logger.Warn("lockout tracker unavailable", zap.String("reason", reason), zap.Error(err))
		return nil
	}
	if left > 0 {
		return s.lockoutError(reason, left)
	}
	return nil
}

// registerFailure counts a failed attempt and returns cause, or a LockoutError when this failure locks key.
func (s *AuthService) registerFailure(ctx context.Context, t lockout.Tracker, key, reason string, cause error) error {
	locked, err := t.Fail(ctx, key)
	if err != nil {
		s.logger.Warn("lockout tracker unavailable", zap.String("reason", reason), zap.Error(err))
		return cause
	}
	if locked > 0 {
		s.logger.Warn("lockout engaged", zap.String("reason", reason), zap.Duration("for", locked))
		return s.lockoutError(reason, locked)
	}
	return cause
}

func (s *AuthService) clearFailures(ctx context.Context, t lockout.Tracker, key string) {
	if err := t.Clear(ctx, key); err != nil {
		s.logger.Warn("failed to clear failure count", zap.Error(err))
	}
}

func (s *AuthService) lockoutError(reason string, left time.Duration) *LockoutError {
	return &LockoutError{Reason: reason, Remaining: left, UnlockAt: s.now().Add(left)}
}

// upgradeHash re-hashes the password when it was stored with weaker parameters. Failures are logged only.
func (s *AuthService) upgradeHash(ctx context.Context, user model.User, password string) {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, hash)
	}
	if err != nil {
		s.logger.Warn("password hash upgrade failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
}

// FinishRequest identifies the pending login by PendingID or, failing that, by the user's latest one.
type FinishRequest struct {
	PendingID uuid.UUID
	UserID    uuid.UUID
	Code      string
}

// LoginFinish checks the second factor, consumes the pending login and issues tokens.
func (s *AuthService) LoginFinish(ctx context.Context, req FinishRequest) (out TokensIssued, err error) {
	defer func() {
		if err == nil {
			s.metrics.Logins.WithLabelValues("tokens").Inc()
		}
	}()

	pending, err := s.resolvePending(ctx, req.PendingID, req.UserID)
	if err != nil {
		return TokensIssued{}, err
	}
	now := s.now()
	if pending.ConsumedAt != nil || !now.Before(pending.ExpiresAt) {
		return TokensIssued{}, ErrPendingExpired
	}

	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TokensIssued{}, ErrPendingExpired
		}
		return TokensIssued{}, fmt.Errorf("load user: %w", err)
	}
	if user.Locked {
		return TokensIssued{}, ErrAccountLocked
	}
	if user.TwoFactorMethod != pending.Method {
		return TokensIssued{}, ErrPendingExpired
	}

	lockKey := "2fa:" + user.ID.String()
	if err := s.checkLockout(ctx, s.lockouts.TwoFactor, lockKey, ReasonTwoFALockout); err != nil {
		return TokensIssued{}, err
	}

	var verr error
	switch pending.Method {
	case model.TwoFactorEmail:
		verr = s.codes.Verify(ctx, user.ID, model.Purpose2FALogin, req.Code)
	case model.TwoFactorTOTP:
		if !totp.Validate(req.Code, user.TOTPSecret) {
			verr = ErrCodeMismatch
		}
	default:
		return TokensIssued{}, ErrTwoFactorNotEnabled
	}
	if verr != nil {
		if !errors.Is(verr, ErrCodeInvalid) {
			return TokensIssued{}, verr
		}
		err := s.registerFailure(ctx, s.lockouts.TwoFactor, lockKey, ReasonTwoFALockout, verr)
		if errors.Is(err, ErrAccountLocked) {
			// the challenge is burned; the user starts over once the lock expires
			if cerr := s.pending.Consume(ctx, pending.ID, now); cerr != nil && !errors.Is(cerr, repo.ErrStale) {
				s.logger.Warn("failed to burn pending login", zap.String("pending_id", pending.ID.String()), zap.Error(cerr))
			}
		}
		return TokensIssued{}, err
	}
	s.clearFailures(ctx, s.lockouts.TwoFactor, lockKey)

	if err := s.pending.Consume(ctx, pending.ID, now); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return TokensIssued{}, ErrPendingExpired
		}
		return TokensIssued{}, fmt.Errorf("consume pending login: %w", err)
	}

	pair, err := s.tokens.IssueTokenPair(ctx, user)
	if err != nil {
		return TokensIssued{}, err
	}
	return TokensIssued{User: user, Tokens: pair}, nil
}

func (s *AuthService) resolvePending(ctx context.Context, pendingID, userID uuid.UUID) (model.PendingLogin, error) {
	var (
		p   model.PendingLogin
		err error
	)
	switch {
	case pendingID != uuid.Nil:
		p, err = s.pending.Get(ctx, pendingID)
	case userID != uuid.Nil:
		p, err = s.pending.GetLatestForUser(ctx, userID)
	default:
		return model.PendingLogin{}, ErrPendingExpired
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.PendingLogin{}, ErrPendingExpired
		}
		return model.PendingLogin{}, fmt.Errorf("load pending login: %w", err)
	}
	if userID != uuid.Nil && p.UserID != userID {
		return model.PendingLogin{}, ErrPendingExpired
	}
	return p, nil
}

// ResendLoginCode issues a new 2fa_login code for a live email pending login.
func (s *AuthService) ResendLoginCode(ctx context.Context, pendingID, userID uuid.UUID) (string, error) {
	pending, err := s.resolvePending(ctx, pendingID, userID)
	if err != nil {
		return "", err
	}
	if pending.ConsumedAt != nil || !s.now().Before(pending.ExpiresAt) {
		return "", ErrPendingExpired
	}
	if pending.Method != model.TwoFactorEmail {
		return "", invalid("2fa_type", "codes are only sent for email two-factor")
	}
	user, err := s.users.GetByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrPendingExpired
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	return s.codes.Issue(ctx, user, model.Purpose2FALogin)
}

func loginOutcome(out LoginOutcome, err error) string {
	switch {
	case err == nil:
		if _, ok := out.(SecondFactorRequired); ok {
			return "second_factor"
		}
		return "tokens"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid"
	case errors.Is(err, ErrAccountLocked):
		return "locked"
	}
	return "error"
}
