package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/identity/internal/platform/db"
	"github.com/odyssey-erp/identity/internal/shared"
)

const userColumns = `id, email, normalized_email, password_hash, failed_attempts, lockout_until, disabled_at, last_login_at, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// Create inserts a user; a normalized email collision yields shared.ErrDuplicateEmail.
func (r *Repository) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	row := r.db.QueryRow(ctx, `
		INSERT INTO users (id, email, normalized_email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		id, email, shared.NormalizeEmail(email), passwordHash)
	user, err := scanUser(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, shared.ErrDuplicateEmail
		}
		return nil, db.MapError("users: create", err)
	}
	return user, nil
}

// FindByEmail fetches a user by normalized email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE normalized_email = $1`, shared.NormalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, db.MapError("users: find by email", err)
	}
	return user, nil
}

// FindByID fetches a user by id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, db.MapError("users: find by id", err)
	}
	return user, nil
}

// ListUsers returns all users ordered by creation time.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, db.MapError("users: list", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, db.MapError("users: list scan", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError("users: list", err)
	}
	return users, nil
}

// RecordFailedAttempt increments the failure counter in one statement. Rows
// that are currently locked are left untouched so concurrent failures cannot
// extend or double count a lockout.
func (r *Repository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, policy LockoutPolicy, now time.Time) (FailedAttempt, error) {
	lockUntil := now.Add(policy.Duration)
	var (
		attempts int
		until    *time.Time
	)
	err := r.db.QueryRow(ctx, `
		UPDATE users SET
			failed_attempts = CASE WHEN failed_attempts + 1 >= $2 THEN 0 ELSE failed_attempts + 1 END,
			lockout_until   = CASE WHEN failed_attempts + 1 >= $2 THEN $4::timestamptz ELSE NULL END,
			updated_at      = $3
		WHERE id = $1 AND (lockout_until IS NULL OR lockout_until <= $3)
		RETURNING failed_attempts, lockout_until`,
		id, policy.threshold(), now, lockUntil).Scan(&attempts, &until)
	if err == nil {
		return FailedAttempt{Counted: true, LockedNow: until != nil, FailedAttempts: attempts, LockoutUntil: until}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return FailedAttempt{}, db.MapError("users: record failed attempt", err)
	}

	err = r.db.QueryRow(ctx, `SELECT failed_attempts, lockout_until FROM users WHERE id = $1`, id).Scan(&attempts, &until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FailedAttempt{}, shared.ErrNotFound
		}
		return FailedAttempt{}, db.MapError("users: record failed attempt", err)
	}
	return FailedAttempt{Counted: false, FailedAttempts: attempts, LockoutUntil: until}, nil
}

// RecordSuccess resets the failure counter unless a concurrent failure locked the row first.
func (r *Repository) RecordSuccess(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET failed_attempts = 0, lockout_until = NULL, last_login_at = $2, updated_at = $2
		WHERE id = $1 AND (lockout_until IS NULL OR lockout_until <= $2)`, id, now)
	if err != nil {
		return db.MapError("users: record success", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var until *time.Time
	if err := r.db.QueryRow(ctx, `SELECT lockout_until FROM users WHERE id = $1`, id).Scan(&until); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.ErrNotFound
		}
		return db.MapError("users: record success", err)
	}
	if until == nil {
		return db.MapError("users: record success", errors.New("row not updated"))
	}
	return &shared.LockedOutError{Until: *until}
}

// UpdatePasswordHash replaces the stored hash, used when upgrading work factors.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, now)
	if err != nil {
		return db.MapError("users: update password hash", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Disable soft-disables the account; disabling twice keeps the first timestamp.
func (r *Repository) Disable(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET disabled_at = COALESCE(disabled_at, $2), updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return db.MapError("users: disable", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ClearExpiredLockouts resets lockouts that have already ended.
func (r *Repository) ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE users SET lockout_until = NULL, updated_at = $1 WHERE lockout_until IS NOT NULL AND lockout_until <= $1`, now)
	if err != nil {
		return 0, db.MapError("users: clear expired lockouts", err)
	}
	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.NormalizedEmail,
		&u.PasswordHash,
		&u.FailedAttempts,
		&u.LockoutUntil,
		&u.DisabledAt,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

var _ Store = (*Repository)(nil)
