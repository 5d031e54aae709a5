package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/homenavi/auth-service/internal/model"
)

// RefreshRepo defines the interface for refresh session repository operations
type RefreshRepo interface {
	Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (model.RefreshSession, error)
	Rotate(ctx context.Context, oldID uuid.UUID, newTokenHash string, expiresAt, at time.Time) (uuid.UUID, error)
	Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	RevokeChainFrom(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
}

type refreshRepo struct {
	db *sql.DB
}

// NewRefreshRepo creates a new RefreshRepo instance
func NewRefreshRepo(db *sql.DB) RefreshRepo {
	return &refreshRepo{db: db}
}

// Create inserts a new refresh session
func (r *refreshRepo) Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO refresh_sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, tokenHash, expiresAt).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert refresh session: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return id, nil
}

// FindByTokenHash returns the session regardless of revocation status so reuse can be detected.
func (r *refreshRepo) FindByTokenHash(ctx context.Context, tokenHash string) (model.RefreshSession, error) {
	var s model.RefreshSession
	var idStr, userIDStr string
	var replacedByStr sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, replaced_by
		FROM refresh_sessions
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&idStr,
		&userIDStr,
		&s.TokenHash,
		&s.CreatedAt,
		&s.ExpiresAt,
		&s.RevokedAt,
		&replacedByStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshSession{}, ErrNotFound
		}
		return model.RefreshSession{}, fmt.Errorf("find session: %w", err)
	}
	s.ID, _ = uuid.Parse(idStr)
	s.UserID, _ = uuid.Parse(userIDStr)
	if replacedByStr.Valid && replacedByStr.String != "" {
		u, _ := uuid.Parse(replacedByStr.String)
		s.ReplacedBy = &u
	}
	return s, nil
}

// Rotate mints the successor of oldID and retires oldID in one transaction. If oldID was revoked or
// rotated in the meantime nothing is written and ErrStale is returned.
func (r *refreshRepo) Rotate(ctx context.Context, oldID uuid.UUID, newTokenHash string, expiresAt, at time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO refresh_sessions (user_id, token_hash, expires_at)
		SELECT user_id, $2, $3 FROM refresh_sessions WHERE id = $1
		RETURNING id
	`, oldID, newTokenHash, expiresAt).Scan(&idStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("insert successor: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_sessions
		SET revoked_at = $3, replaced_by = $2
		WHERE id = $1 AND revoked_at IS NULL AND replaced_by IS NULL
	`, oldID, idStr, at)
	if err != nil {
		return uuid.Nil, fmt.Errorf("retire session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return uuid.Nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return uuid.Nil, ErrStale
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return uuid.Parse(idStr)
}

// Revoke sets revoked_at for the session if it is not revoked yet
func (r *refreshRepo) Revoke(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
	`, sessionID, at)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeChainFrom revokes the session and every successor reachable through replaced_by.
func (r *refreshRepo) RevokeChainFrom(ctx context.Context, sessionID uuid.UUID, at time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		WITH RECURSIVE chain AS (
			SELECT id, replaced_by FROM refresh_sessions WHERE id = $1
			UNION ALL
			SELECT s.id, s.replaced_by FROM refresh_sessions s JOIN chain c ON s.id = c.replaced_by
		)
		UPDATE refresh_sessions SET revoked_at = $2
		WHERE id IN (SELECT id FROM chain) AND revoked_at IS NULL
	`, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke chain: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// RevokeAllForUser revokes all active refresh sessions for a user (lockout, password reset, deletion)
func (r *refreshRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions for user: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
