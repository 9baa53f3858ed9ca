package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/identity/internal/password"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/users"
)

// Login outcomes reported to logs and metrics.
const (
	OutcomeAuthenticated     = "authenticated"
	OutcomeInvalidCredential = "invalid_credential"
	OutcomeLockedOut         = "locked_out"
	OutcomeInvalidInput      = "invalid_input"
	OutcomeError             = "error"
)

// Registration outcomes reported to logs and metrics.
const (
	RegistrationCreated   = "created"
	RegistrationDuplicate = "duplicate"
	RegistrationInvalid   = "invalid"
	RegistrationError     = "error"
)

// RegisterInput is the registration form.
type RegisterInput struct {
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
}

// LoginInput is the login form. ReturnURL is only used by the HTTP layer.
type LoginInput struct {
	Email      string `json:"email" form:"email"`
	Password   string `json:"password" form:"password"`
	RememberMe bool   `json:"rememberMe" form:"rememberMe"`
	ReturnURL  string `json:"returnUrl" form:"returnUrl"`
}

// LoginResult is an issued session and its bearer token.
type LoginResult struct {
	User    *users.User
	Session *session.Session
	Token   string
}

// Config holds the authentication policies.
type Config struct {
	PasswordPolicy password.Policy
	Lockout        users.LockoutPolicy
	// SessionTTL bounds sessions that end with the browser session.
	SessionTTL time.Duration
	// RememberTTL is used when the user asks to stay signed in.
	RememberTTL time.Duration
	// StoreRetries is how often read-only store calls are retried on
	// shared.ErrStoreUnavailable, starting at StoreRetryBase.
	StoreRetries   uint64
	StoreRetryBase time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PasswordPolicy: password.DefaultPolicy(),
		Lockout:        users.DefaultLockoutPolicy(),
		SessionTTL:     12 * time.Hour,
		RememberTTL:    14 * 24 * time.Hour,
		StoreRetries:   2,
		StoreRetryBase: 50 * time.Millisecond,
	}
}

// RoleSource provides the role snapshot stored in new sessions.
type RoleSource interface {
	RolesOf(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Notifier receives account events. Failures are logged and never fail the request.
type Notifier interface {
	UserRegistered(ctx context.Context, user *users.User) error
	UserLockedOut(ctx context.Context, user *users.User, until time.Time) error
}

// Recorder counts authentication outcomes.
type Recorder interface {
	LoginAttempt(outcome string)
	Registration(outcome string)
	Lockout()
}

type nopNotifier struct{}

func (nopNotifier) UserRegistered(context.Context, *users.User) error            { return nil }
func (nopNotifier) UserLockedOut(context.Context, *users.User, time.Time) error { return nil }

type nopRecorder struct{}

func (nopRecorder) LoginAttempt(string) {}
func (nopRecorder) Registration(string) {}
func (nopRecorder) Lockout()            {}
