package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/homenavi/auth-service/internal/model"
)

func user(role model.Role) model.User {
	return model.User{ID: uuid.New(), Role: role}
}

func check(t *testing.T, want bool, err error) {
	t.Helper()
	if want {
		assert.NoError(t, err)
	} else {
		assert.ErrorIs(t, err, ErrForbidden)
	}
}

func TestCanChangeRole(t *testing.T) {
	tests := []struct {
		name    string
		actor   model.Role
		target  model.Role
		newRole model.Role
		allowed bool
	}{
		{"resident promotes user to resident", model.RoleResident, model.RoleUser, model.RoleResident, true},
		{"resident demotes resident to user", model.RoleResident, model.RoleResident, model.RoleUser, true},
		{"resident grants admin", model.RoleResident, model.RoleUser, model.RoleAdmin, false},
		{"resident demotes admin", model.RoleResident, model.RoleAdmin, model.RoleUser, false},
		{"resident touches admin", model.RoleResident, model.RoleAdmin, model.RoleAdmin, false},
		{"admin grants admin", model.RoleAdmin, model.RoleUser, model.RoleAdmin, true},
		{"admin demotes admin", model.RoleAdmin, model.RoleAdmin, model.RoleUser, true},
		{"user promotes user", model.RoleUser, model.RoleUser, model.RoleResident, false},
		{"user demotes resident", model.RoleUser, model.RoleResident, model.RoleUser, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check(t, tt.allowed, CanChangeRole(ActorOf(user(tt.actor)), user(tt.target), tt.newRole))
		})
	}
}

func TestCanChangeRole_selfAlwaysForbidden(t *testing.T) {
	for _, r := range []model.Role{model.RoleUser, model.RoleResident, model.RoleAdmin} {
		u := user(r)
		check(t, false, CanChangeRole(ActorOf(u), u, model.RoleUser))
		check(t, false, CanChangeRole(ActorOf(u), u, model.RoleAdmin))
	}
}

func TestCanSetLocked(t *testing.T) {
	admin := user(model.RoleAdmin)
	check(t, true, CanSetLocked(ActorOf(admin), user(model.RoleUser)))
	check(t, true, CanSetLocked(ActorOf(admin), user(model.RoleAdmin)))
	check(t, false, CanSetLocked(ActorOf(admin), admin))
	check(t, false, CanSetLocked(ActorOf(user(model.RoleResident)), user(model.RoleUser)))
	check(t, false, CanSetLocked(ActorOf(user(model.RoleUser)), user(model.RoleUser)))
}

func TestCanListUsers(t *testing.T) {
	check(t, false, CanListUsers(ActorOf(user(model.RoleUser))))
	check(t, true, CanListUsers(ActorOf(user(model.RoleResident))))
	check(t, true, CanListUsers(ActorOf(user(model.RoleAdmin))))
	check(t, false, CanListUsers(Actor{ID: uuid.New(), Role: "guest"}))
}

func TestCanReadAndUpdateProfile(t *testing.T) {
	plain := user(model.RoleUser)
	other := user(model.RoleUser)
	resident := user(model.RoleResident)
	admin := user(model.RoleAdmin)

	check(t, true, CanRead(ActorOf(plain), plain))
	check(t, false, CanRead(ActorOf(plain), other))
	check(t, true, CanRead(ActorOf(resident), admin))

	check(t, true, CanUpdateProfile(ActorOf(plain), plain))
	check(t, false, CanUpdateProfile(ActorOf(plain), other))
	check(t, true, CanUpdateProfile(ActorOf(resident), other))
	check(t, false, CanUpdateProfile(ActorOf(resident), admin))
	check(t, true, CanUpdateProfile(ActorOf(admin), resident))
}

func TestCanDelete(t *testing.T) {
	plain := user(model.RoleUser)
	check(t, true, CanDelete(ActorOf(plain), plain))
	check(t, false, CanDelete(ActorOf(user(model.RoleResident)), plain))
	check(t, true, CanDelete(ActorOf(user(model.RoleAdmin)), plain))
}
