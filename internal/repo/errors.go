package repo

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested row does not exist (or is soft-deleted).
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when another user already owns the email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername is returned when another user already owns the username.
	ErrDuplicateUsername = errors.New("username already taken")
	// ErrStale is returned when a compare-and-set update lost: the row was consumed, revoked or
	// rotated by a concurrent caller.
	ErrStale = errors.New("row changed concurrently")
)

const uniqueViolation = "23505"

// mapUniqueViolation translates Postgres unique violations on the users table into domain errors.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return ErrDuplicateEmail
	case strings.Contains(pqErr.Constraint, "user_name"):
		return ErrDuplicateUsername
	}
	return err
}
