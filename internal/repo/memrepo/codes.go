package memrepo

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

type codeRepo struct{ s *Store }

func (r *codeRepo) CreateOrReplace(_ context.Context, userID uuid.UUID, purpose model.CodePurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	hash, err := hex.DecodeString(codeHashHex)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode code_hash: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	for _, c := range r.s.codes {
		if c.UserID == userID && c.Purpose == purpose && c.ConsumedAt == nil {
			c.ConsumedAt = timePtr(now)
		}
	}
	c := &model.OneTimeCode{
		ID:        uuid.New(),
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  hash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	r.s.codes = append(r.s.codes, c)
	return c.ID, nil
}

func (r *codeRepo) GetUnconsumed(_ context.Context, userID uuid.UUID, purpose model.CodePurpose) (model.OneTimeCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.codes) - 1; i >= 0; i-- {
		c := r.s.codes[i]
		if c.UserID == userID && c.Purpose == purpose && c.ConsumedAt == nil {
			return *c, nil
		}
	}
	return model.OneTimeCode{}, repo.ErrNotFound
}

func (r *codeRepo) find(id uuid.UUID) *model.OneTimeCode {
	for _, c := range r.s.codes {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *codeRepo) IncrementAttempt(_ context.Context, codeID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.find(codeID)
	if c == nil {
		return 0, repo.ErrNotFound
	}
	c.AttemptCount++
	return c.AttemptCount, nil
}

func (r *codeRepo) MarkConsumed(_ context.Context, codeID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.find(codeID)
	if c == nil || c.ConsumedAt != nil {
		return repo.ErrStale
	}
	c.ConsumedAt = timePtr(at)
	return nil
}

func (r *codeRepo) CountRecent(_ context.Context, userID uuid.UUID, purpose model.CodePurpose, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.codes {
		if c.UserID == userID && c.Purpose == purpose && !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
