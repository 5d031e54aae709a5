// Package authz decides which caller may act on which account.
// Checks are pure functions of the caller and the target's current state.
package authz

import (
	"errors"

	"github.com/google/uuid"

	"github.com/homenavi/auth-service/internal/model"
)

// ErrForbidden is returned whenever the caller's role does not allow the operation
var ErrForbidden = errors.New("forbidden")

// Actor is the authenticated caller
type Actor struct {
	ID   uuid.UUID
	Role model.Role
}

// ActorOf builds the Actor for a loaded user
func ActorOf(u model.User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}

func (a Actor) self(target model.User) bool {
	return a.ID == target.ID
}

// CanRead allows the user themself and anyone at resident or above.
func CanRead(actor Actor, target model.User) error {
	if actor.self(target) || actor.Role.AtLeast(model.RoleResident) {
		return nil
	}
	return ErrForbidden
}

// CanListUsers requires at least resident
func CanListUsers(actor Actor) error {
	if actor.Role.AtLeast(model.RoleResident) {
		return nil
	}
	return ErrForbidden
}

// CanUpdateProfile covers name fields only. Role and lock state have their own checks.
// Besides the user themself, residents and admins may edit accounts that do not outrank them.
func CanUpdateProfile(actor Actor, target model.User) error {
	if actor.self(target) {
		return nil
	}
	if actor.Role.AtLeast(model.RoleResident) && actor.Role.Level() >= target.Role.Level() {
		return nil
	}
	return ErrForbidden
}

// CanChangeRole applies the role hierarchy:
//   - nobody changes their own role
//   - admins set any role on anyone else
//   - residents move accounts between user and resident only
//   - users change nothing
func CanChangeRole(actor Actor, target model.User, newRole model.Role) error {
	if actor.self(target) {
		return ErrForbidden
	}
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleResident:
		if !lowerTier(target.Role) || !lowerTier(newRole) {
			return ErrForbidden
		}
		return nil
	}
	return ErrForbidden
}

func lowerTier(r model.Role) bool {
	return r == model.RoleUser || r == model.RoleResident
}

// CanSetLocked is admin-only, and an admin cannot lock themself out.
func CanSetLocked(actor Actor, target model.User) error {
	if actor.Role != model.RoleAdmin || actor.self(target) {
		return ErrForbidden
	}
	return nil
}

// CanDelete allows self-deletion and admins
func CanDelete(actor Actor, target model.User) error {
	if actor.self(target) || actor.Role == model.RoleAdmin {
		return nil
	}
	return ErrForbidden
}
