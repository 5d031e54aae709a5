// Package memrepo is an in-memory implementation of the repo interfaces. It backs STORE=memory and the
// service tests. Every method holds the store mutex, so conditional updates are atomic.
package memrepo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

// Store holds all tables. Use the accessor methods to obtain the repo views.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	users   map[uuid.UUID]*model.User
	codes   []*model.OneTimeCode
	pending map[uuid.UUID]*model.PendingLogin
	refresh map[uuid.UUID]*model.RefreshSession
	byHash  map[string]uuid.UUID
}

// NewStore creates an empty store. now stamps created_at columns; nil means time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:     now,
		users:   make(map[uuid.UUID]*model.User),
		pending: make(map[uuid.UUID]*model.PendingLogin),
		refresh: make(map[uuid.UUID]*model.RefreshSession),
		byHash:  make(map[string]uuid.UUID),
	}
}

// Users returns the UserRepo view of the store
func (s *Store) Users() repo.UserRepo { return &userRepo{s} }

// Codes returns the CodeRepo view of the store
func (s *Store) Codes() repo.CodeRepo { return &codeRepo{s} }

// PendingLogins returns the PendingLoginRepo view of the store
func (s *Store) PendingLogins() repo.PendingLoginRepo { return &pendingRepo{s} }

// RefreshSessions returns the RefreshRepo view of the store
func (s *Store) RefreshSessions() repo.RefreshRepo { return &refreshRepo{s} }

// Reset drops all rows.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[uuid.UUID]*model.User)
	s.codes = nil
	s.pending = make(map[uuid.UUID]*model.PendingLogin)
	s.refresh = make(map[uuid.UUID]*model.RefreshSession)
	s.byHash = make(map[string]uuid.UUID)
}

func timePtr(t time.Time) *time.Time { return &t }

// Prune drops rows that can no longer be used: consumed or expired codes and pending logins, and
// expired refresh sessions. Only rows created more than retention ago are dropped, which keeps the
// recent codes that issue throttling counts. It returns the number of rows removed.
func (s *Store) Prune(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-retention)
	removed := 0

	kept := s.codes[:0]
	for _, c := range s.codes {
		if c.CreatedAt.Before(cutoff) && (c.ConsumedAt != nil || !now.Before(c.ExpiresAt)) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(s.codes); i++ {
		s.codes[i] = nil
	}
	s.codes = kept

	for id, p := range s.pending {
		if p.CreatedAt.Before(cutoff) && (p.ConsumedAt != nil || !now.Before(p.ExpiresAt)) {
			delete(s.pending, id)
			removed++
		}
	}

	for id, sess := range s.refresh {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.refresh, id)
			delete(s.byHash, sess.TokenHash)
			removed++
		}
	}
	return removed
}

// RunJanitor calls Prune every interval until ctx is done
func (s *Store) RunJanitor(ctx context.Context, every, retention time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune(retention)
		}
	}
}
