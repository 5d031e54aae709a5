package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homenavi/auth-service/internal/model"
)

// UserRepo defines the interface for the credential store
type UserRepo interface {
	Create(ctx context.Context, user model.User) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	List(ctx context.Context, filter UserFilter) ([]model.User, int, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetLocked(ctx context.Context, id uuid.UUID, locked bool) error
	SetRole(ctx context.Context, id uuid.UUID, role model.Role) error
	SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error
	SetTwoFactor(ctx context.Context, id uuid.UUID, method model.TwoFactorMethod, totpSecret string) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// UserFilter selects a page of users. Query matches email, username and names case-insensitively.
type UserFilter struct {
	Query  string
	Limit  int
	Offset int
}

// ProfileUpdate holds the self-editable profile fields; nil fields are left untouched.
type ProfileUpdate struct {
	UserName  *string
	FirstName *string
	LastName  *string
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.UserName == nil && u.FirstName == nil && u.LastName == nil
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, user_name, first_name, last_name, password_hash, role,
	email_verified, locked, two_factor_method, COALESCE(totp_secret, ''), created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	var idStr, role, method string
	err := row.Scan(
		&idStr,
		&u.Email,
		&u.UserName,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&role,
		&u.EmailVerified,
		&u.Locked,
		&method,
		&u.TOTPSecret,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)
	if err != nil {
		return model.User{}, err
	}
	u.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to parse user ID: %w", err)
	}
	u.Role = model.Role(role)
	u.TwoFactorMethod = model.TwoFactorMethod(method)
	return u, nil
}

// Create inserts a new user. Email and username uniqueness is enforced case-insensitively by the schema.
func (r *userRepo) Create(ctx context.Context, user model.User) (model.User, error) {
	if user.TwoFactorMethod == "" {
		user.TwoFactorMethod = model.TwoFactorNone
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, user_name, first_name, last_name, password_hash, role, email_verified, locked, two_factor_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, user.ID, user.Email, user.UserName, user.FirstName, user.LastName, user.PasswordHash,
		string(user.Role), user.EmailVerified, user.Locked, string(user.TwoFactorMethod),
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return model.User{}, mapped
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND deleted_at IS NULL`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// List returns one page of users, newest first, and the total number of matches.
func (r *userRepo) List(ctx context.Context, filter UserFilter) ([]model.User, int, error) {
	where := `deleted_at IS NULL`
	args := []any{}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(q))+"%")
		where += ` AND (lower(email) LIKE $1 ESCAPE '\' OR lower(user_name) LIKE $1 ESCAPE '\'` +
			` OR lower(first_name) LIKE $1 ESCAPE '\' OR lower(last_name) LIKE $1 ESCAPE '\')`
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, filter.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return users, total, nil
}

// UpdateProfile applies the non-nil profile fields
func (r *userRepo) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) error {
	if upd.Empty() {
		return nil
	}
	sets := []string{}
	args := []any{id}
	add := func(column string, v *string) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("user_name", upd.UserName)
	add("first_name", upd.FirstName)
	add("last_name", upd.LastName)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOneRow(result)
}

// UpdatePassword replaces the stored password hash
func (r *userRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.exec(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id, passwordHash)
}

// SetLocked sets the administrative lock flag
func (r *userRepo) SetLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	return r.exec(ctx, "set locked",
		`UPDATE users SET locked = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id, locked)
}

// SetRole changes the user's role
func (r *userRepo) SetRole(ctx context.Context, id uuid.UUID, role model.Role) error {
	return r.exec(ctx, "set role",
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id, string(role))
}

// SetEmailVerified marks the email as verified (or not)
func (r *userRepo) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return r.exec(ctx, "set email verified",
		`UPDATE users SET email_verified = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id, verified)
}

// SetTwoFactor sets the second factor method. An empty totpSecret clears the stored secret.
func (r *userRepo) SetTwoFactor(ctx context.Context, id uuid.UUID, method model.TwoFactorMethod, totpSecret string) error {
	var secret *string
	if totpSecret != "" {
		secret = &totpSecret
	}
	return r.exec(ctx, "set two factor",
		`UPDATE users SET two_factor_method = $2, totp_secret = $3, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, string(method), secret)
}

// SoftDelete tombstones the user; the row stays for the refresh sessions referencing it.
func (r *userRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, "soft delete user",
		`UPDATE users SET deleted_at = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id, at)
}

func (r *userRepo) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
