package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/logging"
	"github.com/homenavi/auth-service/internal/metrics"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/notify"
	"github.com/homenavi/auth-service/internal/repo"
)

const (
	codeDigits           = 6
	requestWindow        = 10 * time.Minute
	maxRequestsPerWindow = 5
)

// CodeEngineConfig configures code lifetime and limits
type CodeEngineConfig struct {
	Salt        string
	TTL         time.Duration
	MaxAttempts int
}

// CodeProvider issues and verifies one-time codes
type CodeProvider interface {
	Issue(ctx context.Context, user model.User, purpose model.CodePurpose) (code string, err error)
	Verify(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, code string) error
}

// CodeEngine implements CodeProvider with hashed single-use codes
type CodeEngine struct {
	codes   repo.CodeRepo
	sender  notify.Sender
	cfg     CodeEngineConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// generate is swapped in tests for deterministic codes.
	generate func() (string, error)
}

// NewCodeEngine creates a new code engine
func NewCodeEngine(codes repo.CodeRepo, sender notify.Sender, cfg CodeEngineConfig, logger *zap.Logger, m *metrics.Metrics) *CodeEngine {
	return &CodeEngine{
		codes:    codes,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		generate: generateCode,
	}
}

// Issue stores a fresh code for (user, purpose), superseding the previous one, and delivers it.
// The plaintext code is returned so dev-mode handlers can echo it. Delivery failures are logged only.
func (e *CodeEngine) Issue(ctx context.Context, user model.User, purpose model.CodePurpose) (string, error) {
	now := e.now()
	count, err := e.codes.CountRecent(ctx, user.ID, purpose, now.Add(-requestWindow))
	if err != nil {
		return "", fmt.Errorf("code throttle check: %w", err)
	}
	if count >= maxRequestsPerWindow {
		return "", ErrRateLimited
	}

	code, err := e.generate()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if _, err := e.codes.CreateOrReplace(ctx, user.ID, purpose, hashCodeHex(user.ID, purpose, code, e.cfg.Salt), now.Add(e.cfg.TTL)); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	e.metrics.CodesIssued.WithLabelValues(string(purpose)).Inc()

	name := user.FirstName
	if name == "" {
		name = user.UserName
	}
	if err := e.sender.Send(ctx, notify.Message{To: user.Email, Name: name, Purpose: purpose, Code: code}); err != nil {
		e.logger.Warn("code delivery failed",
			zap.String("email", logging.MaskEmail(user.Email)),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
	}
	return code, nil
}

// Verify checks code against the current code for (user, purpose) and consumes it on success.
// Every failure wraps ErrCodeInvalid. A code is burned after MaxAttempts wrong guesses.
func (e *CodeEngine) Verify(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, code string) (err error) {
	defer func() {
		e.metrics.CodeVerifies.WithLabelValues(string(purpose), verifyResult(err)).Inc()
	}()

	now := e.now()
	current, err := e.codes.GetUnconsumed(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("load code: %w", err)
	}
	if !now.Before(current.ExpiresAt) {
		return ErrCodeExpired
	}

	provided := hashCodeBytes(userID, purpose, code, e.cfg.Salt)
	if !hmac.Equal(provided, current.CodeHash) {
		attempts, err := e.codes.IncrementAttempt(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("record attempt: %w", err)
		}
		if attempts >= e.cfg.MaxAttempts {
			if err := e.codes.MarkConsumed(ctx, current.ID, now); err != nil && !errors.Is(err, repo.ErrStale) {
				return fmt.Errorf("burn code: %w", err)
			}
		}
		return ErrCodeMismatch
	}

	if err := e.codes.MarkConsumed(ctx, current.ID, now); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return ErrCodeConsumed
		}
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

func verifyResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrCodeConsumed):
		return "consumed"
	case errors.Is(err, ErrCodeMismatch):
		return "mismatch"
	}
	return "error"
}

// generateCode returns a uniformly random 6-digit code from crypto/rand
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// hashCodeHex returns HMAC-SHA256(salt, user:purpose:code) as hex for storage
func hashCodeHex(userID uuid.UUID, purpose model.CodePurpose, code, salt string) string {
	return hex.EncodeToString(hashCodeBytes(userID, purpose, code, salt))
}

func hashCodeBytes(userID uuid.UUID, purpose model.CodePurpose, code, salt string) []byte {
	mac := hmac.New(sha256.New, []byte(salt))
	fmt.Fprintf(mac, "%s:%s:%s", userID, purpose, code)
	return mac.Sum(nil)
}
