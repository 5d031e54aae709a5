package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/auth"
	"github.com/homenavi/auth-service/internal/authz"
	"github.com/homenavi/auth-service/internal/model"
	"github.com/homenavi/auth-service/internal/repo"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// SessionRevoker ends every refresh session of a user
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

// Service manages accounts on behalf of an authenticated actor
type Service struct {
	users    repo.UserRepo
	sessions SessionRevoker
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new user management service
func NewService(users repo.UserRepo, sessions SessionRevoker, logger *zap.Logger) *Service {
	return &Service{users: users, sessions: sessions, logger: logger, now: time.Now}
}

// ListRequest is a 1-based page of users, optionally filtered by q
type ListRequest struct {
	Query    string
	Page     int
	PageSize int
}

// ListResult is one page of users plus the total match count
type ListResult struct {
	Users    []model.User
	Total    int
	Page     int
	PageSize int
}

// PatchRequest holds the fields a caller wants to change; nil means untouched.
type PatchRequest struct {
	UserName  *string
	FirstName *string
	LastName  *string
	Role      *string
}

func (p PatchRequest) profile() repo.ProfileUpdate {
	return repo.ProfileUpdate{UserName: p.UserName, FirstName: p.FirstName, LastName: p.LastName}
}

// Get returns the target when the actor may read it
func (s *Service) Get(ctx context.Context, actor authz.Actor, id uuid.UUID) (model.User, error) {
	target, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if err := authz.CanRead(actor, target); err != nil {
		return model.User{}, err
	}
	return target, nil
}

// List pages through live users
func (s *Service) List(ctx context.Context, actor authz.Actor, req ListRequest) (ListResult, error) {
	if err := authz.CanListUsers(actor); err != nil {
		return ListResult{}, err
	}
	if req.Page < 1 {
		req.Page = 1
	}
	switch {
	case req.PageSize < 1:
		req.PageSize = defaultPageSize
	case req.PageSize > maxPageSize:
		req.PageSize = maxPageSize
	}
	list, total, err := s.users.List(ctx, repo.UserFilter{
		Query:  strings.TrimSpace(req.Query),
		Limit:  req.PageSize,
		Offset: (req.Page - 1) * req.PageSize,
	})
	if err != nil {
		return ListResult{}, fmt.Errorf("list users: %w", err)
	}
	return ListResult{Users: list, Total: total, Page: req.Page, PageSize: req.PageSize}, nil
}

// Patch applies profile and role changes. The target is resolved before any permission check,
// so a missing user is reported as repo.ErrNotFound whoever asks.
func (s *Service) Patch(ctx context.Context, actor authz.Actor, id uuid.UUID, req PatchRequest) (model.User, error) {
	target, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}

	var newRole model.Role
	if req.Role != nil {
		role, ok := model.ParseRole(*req.Role)
		if !ok {
			return model.User{}, &auth.ValidationError{Field: "role", Problems: []string{"must be one of user, resident, admin"}}
		}
		if err := authz.CanChangeRole(actor, target, role); err != nil {
			return model.User{}, err
		}
		newRole = role
	}

	upd := req.profile()
	if !upd.Empty() {
		if err := authz.CanUpdateProfile(actor, target); err != nil {
			return model.User{}, err
		}
		if err := validateProfile(&upd); err != nil {
			return model.User{}, err
		}
		if err := s.users.UpdateProfile(ctx, id, upd); err != nil {
			return model.User{}, err
		}
	}

	if newRole != "" && newRole != target.Role {
		if err := s.users.SetRole(ctx, id, newRole); err != nil {
			return model.User{}, err
		}
		s.logger.Info("role changed",
			zap.String("user_id", id.String()),
			zap.String("by", actor.ID.String()),
			zap.String("from", string(target.Role)),
			zap.String("to", string(newRole)),
		)
	}
	return s.users.GetByID(ctx, id)
}

func validateProfile(upd *repo.ProfileUpdate) error {
	if upd.UserName != nil {
		v := strings.TrimSpace(*upd.UserName)
		if err := auth.ValidateUserName(v); err != nil {
			return err
		}
		upd.UserName = &v
	}
	if upd.FirstName != nil {
		v := strings.TrimSpace(*upd.FirstName)
		if err := auth.ValidatePersonName("first_name", v); err != nil {
			return err
		}
		upd.FirstName = &v
	}
	if upd.LastName != nil {
		v := strings.TrimSpace(*upd.LastName)
		if err := auth.ValidatePersonName("last_name", v); err != nil {
			return err
		}
		upd.LastName = &v
	}
	return nil
}

// SetLocked locks or unlocks the target. Locking also ends all of its refresh sessions.
func (s *Service) SetLocked(ctx context.Context, actor authz.Actor, id uuid.UUID, locked bool) (model.User, error) {
	target, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if err := authz.CanSetLocked(actor, target); err != nil {
		return model.User{}, err
	}
	if err := s.users.SetLocked(ctx, id, locked); err != nil {
		return model.User{}, err
	}
	if locked {
		if err := s.sessions.RevokeAll(ctx, id); err != nil {
			return model.User{}, fmt.Errorf("revoke sessions: %w", err)
		}
	}
	s.logger.Info("lockout changed", zap.String("user_id", id.String()), zap.Bool("locked", locked))
	target.Locked = locked
	return target, nil
}

// Delete soft-deletes the target and ends its sessions
func (s *Service) Delete(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	target, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authz.CanDelete(actor, target); err != nil {
		return err
	}
	if err := s.users.SoftDelete(ctx, id, s.now()); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, id); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.Info("user deleted", zap.String("user_id", id.String()), zap.String("by", actor.ID.String()))
	return nil
}
