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

// PendingLoginRepo stores logins waiting for their second factor
type PendingLoginRepo interface {
	Create(ctx context.Context, p model.PendingLogin) error
	Get(ctx context.Context, id uuid.UUID) (model.PendingLogin, error)
	GetLatestForUser(ctx context.Context, userID uuid.UUID) (model.PendingLogin, error)
	Consume(ctx context.Context, id uuid.UUID, at time.Time) error
}

type pendingLoginRepo struct {
	db *sql.DB
}

// NewPendingLoginRepo creates a new PendingLoginRepo instance
func NewPendingLoginRepo(db *sql.DB) PendingLoginRepo {
	return &pendingLoginRepo{db: db}
}

// Create inserts a pending login. Older pending logins of the same user stay until they expire.
func (r *pendingLoginRepo) Create(ctx context.Context, p model.PendingLogin) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_logins (id, user_id, method, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.UserID, string(p.Method), p.ExpiresAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pending login: %w", err)
	}
	return nil
}

const pendingColumns = `id, user_id, method, expires_at, consumed_at, created_at`

func scanPending(row rowScanner) (model.PendingLogin, error) {
	var p model.PendingLogin
	var idStr, userIDStr, method string
	if err := row.Scan(&idStr, &userIDStr, &method, &p.ExpiresAt, &p.ConsumedAt, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PendingLogin{}, ErrNotFound
		}
		return model.PendingLogin{}, fmt.Errorf("query pending login: %w", err)
	}
	var err error
	if p.ID, err = uuid.Parse(idStr); err != nil {
		return model.PendingLogin{}, fmt.Errorf("parse pending login ID: %w", err)
	}
	p.UserID, _ = uuid.Parse(userIDStr)
	p.Method = model.TwoFactorMethod(method)
	return p, nil
}

// Get returns the pending login regardless of state
func (r *pendingLoginRepo) Get(ctx context.Context, id uuid.UUID) (model.PendingLogin, error) {
	return scanPending(r.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_logins WHERE id = $1`, id))
}

// GetLatestForUser returns the most recent unconsumed pending login of the user
func (r *pendingLoginRepo) GetLatestForUser(ctx context.Context, userID uuid.UUID) (model.PendingLogin, error) {
	return scanPending(r.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_logins
		WHERE user_id = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, userID))
}

// Consume marks the pending login used if it is still unconsumed and unexpired at the given instant.
func (r *pendingLoginRepo) Consume(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pending_logins SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2
	`, id, at)
	if err != nil {
		return fmt.Errorf("consume pending login: %w", err)
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
