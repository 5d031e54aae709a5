package memrepo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

type pendingRepo struct{ s *Store }

func (r *pendingRepo) Create(_ context.Context, p model.PendingLogin) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := p
	r.s.pending[p.ID] = &stored
	return nil
}

func (r *pendingRepo) Get(_ context.Context, id uuid.UUID) (model.PendingLogin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pending[id]
	if !ok {
		return model.PendingLogin{}, repo.ErrNotFound
	}
	return *p, nil
}

func (r *pendingRepo) GetLatestForUser(_ context.Context, userID uuid.UUID) (model.PendingLogin, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.PendingLogin
	for _, p := range r.s.pending {
		if p.UserID != userID || p.ConsumedAt != nil {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return model.PendingLogin{}, repo.ErrNotFound
	}
	return *latest, nil
}

func (r *pendingRepo) Consume(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pending[id]
	if !ok || p.ConsumedAt != nil || !at.Before(p.ExpiresAt) {
		return repo.ErrStale
	}
	p.ConsumedAt = timePtr(at)
	return nil
}

type refreshRepo struct{ s *Store }

// insert adds a session row. Caller holds the lock.
func (s *Store) insertSession(userID uuid.UUID, tokenHash string, expiresAt time.Time) *model.RefreshSession {
	sess := &model.RefreshSession{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		CreatedAt: s.now(),
		ExpiresAt: expiresAt,
	}
	s.refresh[sess.ID] = sess
	s.byHash[tokenHash] = sess.ID
	return sess
}

func (r *refreshRepo) Create(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.insertSession(userID, tokenHash, expiresAt).ID, nil
}

func (r *refreshRepo) FindByTokenHash(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byHash[tokenHash]
	if !ok {
		return model.RefreshSession{}, repo.ErrNotFound
	}
	return *r.s.refresh[id], nil
}

func (r *refreshRepo) Rotate(_ context.Context, oldID uuid.UUID, newTokenHash string, expiresAt, at time.Time) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.refresh[oldID]
	if !ok {
		return uuid.Nil, repo.ErrNotFound
	}
	if old.RevokedAt != nil || old.ReplacedBy != nil {
		return uuid.Nil, repo.ErrStale
	}
	next := r.s.insertSession(old.UserID, newTokenHash, expiresAt)
	old.RevokedAt = timePtr(at)
	old.ReplacedBy = &next.ID
	return next.ID, nil
}

func (r *refreshRepo) Revoke(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.refresh[sessionID]; ok && sess.RevokedAt == nil {
		sess.RevokedAt = timePtr(at)
	}
	return nil
}

func (r *refreshRepo) RevokeChainFrom(_ context.Context, sessionID uuid.UUID, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	seen := make(map[uuid.UUID]bool)
	for id := &sessionID; id != nil && !seen[*id]; {
		seen[*id] = true
		sess, ok := r.s.refresh[*id]
		if !ok {
			break
		}
		if sess.RevokedAt == nil {
			sess.RevokedAt = timePtr(at)
			n++
		}
		id = sess.ReplacedBy
	}
	return n, nil
}

func (r *refreshRepo) RevokeAllForUser(_ context.Context, userID uuid.UUID, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, sess := range r.s.refresh {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = timePtr(at)
			n++
		}
	}
	return n, nil
}
