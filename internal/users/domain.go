package users

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// User is a stored account. PasswordHash is a PHC style string whose first
// segment names the hashing algorithm.
type User struct {
	ID              uuid.UUID
	Email           string
	NormalizedEmail string
	PasswordHash    string
	FailedAttempts  int
	LockoutUntil    *time.Time
	DisabledAt      *time.Time
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LockedAt reports whether the account is locked at now.
func (u *User) LockedAt(now time.Time) bool {
	return u != nil && u.LockoutUntil != nil && u.LockoutUntil.After(now)
}

// Disabled reports whether the account was soft-disabled.
func (u *User) Disabled() bool {
	return u != nil && u.DisabledAt != nil
}

// LockoutPolicy controls when repeated failures lock an account.
// MaxFailedAttempts <= 0 disables lockout.
type LockoutPolicy struct {
	MaxFailedAttempts int
	Duration          time.Duration
}

// DefaultLockoutPolicy mirrors the common identity defaults: five failures, five minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxFailedAttempts: 5, Duration: 5 * time.Minute}
}

func (p LockoutPolicy) threshold() int {
	if p.MaxFailedAttempts <= 0 {
		return math.MaxInt32
	}
	return p.MaxFailedAttempts
}

// FailedAttempt is the outcome of RecordFailedAttempt.
//
// Counted is false when the account was already locked and the attempt was
// ignored. LockedNow is true when this attempt reached the threshold.
type FailedAttempt struct {
	Counted        bool
	LockedNow      bool
	FailedAttempts int
	LockoutUntil   *time.Time
}

// Store persists user credentials and lockout state. Every mutation touches a
// single record and is atomic for that record.
type Store interface {
	Create(ctx context.Context, email, passwordHash string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, policy LockoutPolicy, now time.Time) (FailedAttempt, error)
	RecordSuccess(ctx context.Context, id uuid.UUID, now time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error
	Disable(ctx context.Context, id uuid.UUID, now time.Time) error
	// ClearExpiredLockouts drops lockout_until values that lie in the past.
	ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error)
}
