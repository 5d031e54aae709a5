package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/homenavi/auth-service/internal/model"
)

// CodeRepo defines the interface for one-time code repository operations
type CodeRepo interface {
	CreateOrReplace(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error)
	GetUnconsumed(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) (model.OneTimeCode, error)
	IncrementAttempt(ctx context.Context, codeID uuid.UUID) (newAttemptCount int, err error)
	MarkConsumed(ctx context.Context, codeID uuid.UUID, at time.Time) error
	CountRecent(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, since time.Time) (int, error)
}

type codeRepo struct {
	db *sql.DB
}

// NewCodeRepo creates a new CodeRepo instance
func NewCodeRepo(db *sql.DB) CodeRepo {
	return &codeRepo{db: db}
}

// CreateOrReplace ensures only one unconsumed code per (user, purpose): atomically invalidates any existing
// code and inserts a new one. Uses advisory lock for race safety.
func (r *codeRepo) CreateOrReplace(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Serialize requests per (user, purpose) so the partial unique index never trips.
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, userID.String()+":"+string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	// Must consume ALL unconsumed rows, including expired ones.
	_, err = tx.ExecContext(ctx, `
		UPDATE one_time_codes
		SET consumed_at = now()
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
	`, userID, string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("supersede existing codes: %w", err)
	}

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO one_time_codes (user_id, purpose, code_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, string(purpose), codeHashHex, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	codeID, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse code ID: %w", err)
	}
	return codeID, nil
}

// GetUnconsumed returns the current unconsumed code for (user, purpose), expired or not.
// Expiry is judged by the caller so it can be reported uniformly.
func (r *codeRepo) GetUnconsumed(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose) (model.OneTimeCode, error) {
	var c model.OneTimeCode
	var idStr, userIDStr, purposeStr, hashHex string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, purpose, code_hash, expires_at, consumed_at, created_at, attempt_count
		FROM one_time_codes
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, string(purpose)).Scan(
		&idStr,
		&userIDStr,
		&purposeStr,
		&hashHex,
		&c.ExpiresAt,
		&c.ConsumedAt,
		&c.CreatedAt,
		&c.AttemptCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OneTimeCode{}, ErrNotFound
		}
		return model.OneTimeCode{}, fmt.Errorf("query code: %w", err)
	}

	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OneTimeCode{}, fmt.Errorf("parse code ID: %w", err)
	}
	c.UserID, _ = uuid.Parse(userIDStr)
	c.Purpose = model.CodePurpose(purposeStr)
	c.CodeHash, err = hex.DecodeString(hashHex)
	if err != nil {
		return model.OneTimeCode{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return c, nil
}

// IncrementAttempt sets attempt_count = attempt_count + 1; returns the new attempt_count.
func (r *codeRepo) IncrementAttempt(ctx context.Context, codeID uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE one_time_codes
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`, codeID).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

// MarkConsumed consumes the code if nobody else did. ErrStale means a concurrent verifier won.
func (r *codeRepo) MarkConsumed(ctx context.Context, codeID uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE one_time_codes SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL
	`, codeID, at)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// CountRecent returns the number of codes issued for (user, purpose) since the given time (for throttling).
func (r *codeRepo) CountRecent(ctx context.Context, userID uuid.UUID, purpose model.CodePurpose, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM one_time_codes
		WHERE user_id = $1 AND purpose = $2 AND created_at >= $3
	`, userID, string(purpose), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent codes: %w", err)
	}
	return count, nil
}
