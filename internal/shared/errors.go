package shared

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateEmail is returned when an account already uses the email.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateRole is returned when a role name is taken.
	ErrDuplicateRole = errors.New("role already exists")
	// ErrAlreadyAssigned is returned when the user already holds the role.
	ErrAlreadyAssigned = errors.New("role already assigned")
	// ErrLockedOut is the sentinel matched by LockedOutError.
	ErrLockedOut = errors.New("account locked out")
	// ErrValidation is the sentinel matched by ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable marks transient backend failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnauthorized indicates a missing or expired session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the session lacks a required role.
	ErrForbidden = errors.New("forbidden")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// ValidationError carries field level messages keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds an empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a message for field, keeping the first one reported.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; exists {
		return
	}
	e.Fields[field] = message
}

// Empty reports whether no field errors were collected.
func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LockedOutError reports when a locked account may try again.
type LockedOutError struct {
	Until time.Time
}

func (e *LockedOutError) Error() string {
	return ErrLockedOut.Error() + " until " + e.Until.UTC().Format(time.RFC3339)
}

// Is lets errors.Is(err, ErrLockedOut) match.
func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

// RetryAfter returns the remaining lockout relative to now, rounded up to a second.
func (e *LockedOutError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second) + time.Second
}
