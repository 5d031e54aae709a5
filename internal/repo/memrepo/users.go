package memrepo

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

type userRepo struct{ s *Store }

// live returns the non-deleted user or nil. Caller holds the lock.
func (s *Store) live(id uuid.UUID) *model.User {
	u, ok := s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil
	}
	return u
}

// conflict reports a duplicate email or username among live users other than self.
func (s *Store) conflict(self uuid.UUID, email, userName string) error {
	for _, u := range s.users {
		if u.ID == self || u.DeletedAt != nil {
			continue
		}
		if email != "" && strings.EqualFold(u.Email, email) {
			return repo.ErrDuplicateEmail
		}
		if userName != "" && strings.EqualFold(u.UserName, userName) {
			return repo.ErrDuplicateUsername
		}
	}
	return nil
}

func (r *userRepo) Create(_ context.Context, user model.User) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.s.conflict(user.ID, user.Email, user.UserName); err != nil {
		return model.User{}, err
	}
	if user.TwoFactorMethod == "" {
		user.TwoFactorMethod = model.TwoFactorNone
	}
	now := r.s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	stored := user
	r.s.users[user.ID] = &stored
	return user, nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u := r.s.live(id)
	if u == nil {
		return model.User{}, repo.ErrNotFound
	}
	return *u, nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.DeletedAt == nil && strings.EqualFold(u.Email, email) {
			return *u, nil
		}
	}
	return model.User{}, repo.ErrNotFound
}

func (r *userRepo) List(_ context.Context, filter repo.UserFilter) ([]model.User, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(filter.Query))
	matches := make([]model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		if u.DeletedAt != nil {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Email), q) &&
			!strings.Contains(strings.ToLower(u.UserName), q) &&
			!strings.Contains(strings.ToLower(u.FirstName), q) &&
			!strings.Contains(strings.ToLower(u.LastName), q) {
			continue
		}
		matches = append(matches, *u)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID.String() < matches[j].ID.String()
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	total := len(matches)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matches[start:end], total, nil
}

func (r *userRepo) update(id uuid.UUID, fn func(u *model.User) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u := r.s.live(id)
	if u == nil {
		return repo.ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = r.s.now()
	return nil
}

func (r *userRepo) UpdateProfile(_ context.Context, id uuid.UUID, upd repo.ProfileUpdate) error {
	if upd.Empty() {
		return nil
	}
	return r.update(id, func(u *model.User) error {
		if upd.UserName != nil {
			if err := r.s.conflict(id, "", *upd.UserName); err != nil {
				return err
			}
			u.UserName = *upd.UserName
		}
		if upd.FirstName != nil {
			u.FirstName = *upd.FirstName
		}
		if upd.LastName != nil {
			u.LastName = *upd.LastName
		}
		return nil
	})
}

func (r *userRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	return r.update(id, func(u *model.User) error { u.PasswordHash = passwordHash; return nil })
}

func (r *userRepo) SetLocked(_ context.Context, id uuid.UUID, locked bool) error {
	return r.update(id, func(u *model.User) error { u.Locked = locked; return nil })
}

func (r *userRepo) SetRole(_ context.Context, id uuid.UUID, role model.Role) error {
	return r.update(id, func(u *model.User) error { u.Role = role; return nil })
}

func (r *userRepo) SetEmailVerified(_ context.Context, id uuid.UUID, verified bool) error {
	return r.update(id, func(u *model.User) error { u.EmailVerified = verified; return nil })
}

func (r *userRepo) SetTwoFactor(_ context.Context, id uuid.UUID, method model.TwoFactorMethod, totpSecret string) error {
	return r.update(id, func(u *model.User) error {
		u.TwoFactorMethod = method
		u.TOTPSecret = totpSecret
		return nil
	})
}

func (r *userRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(u *model.User) error { u.DeletedAt = timePtr(at); return nil })
}
