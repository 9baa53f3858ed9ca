// Package session issues, resolves and revokes authenticated sessions.
// A Session is immutable once issued; its role snapshot is what
// authorization checks see until the next sign-in.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is the server issued proof of authentication.
type Session struct {
	ID         string    `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	Roles      []string  `json:"roles"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Persistent bool      `json:"persistent"`
}

// New builds a session with a random id valid for ttl from now.
func New(userID uuid.UUID, email string, roles []string, ttl time.Duration, persistent bool, now time.Time) (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	snapshot := make([]string, len(roles))
	copy(snapshot, roles)
	return &Session{
		ID:         id,
		UserID:     userID,
		Email:      email,
		Roles:      snapshot,
		IssuedAt:   now.UTC(),
		ExpiresAt:  now.Add(ttl).UTC(),
		Persistent: persistent,
	}, nil
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Issuer turns sessions into bearer tokens and back.
type Issuer interface {
	Issue(ctx context.Context, sess *Session) (string, error)
	// Resolve returns shared.ErrUnauthorized for unknown, expired or revoked tokens.
	Resolve(ctx context.Context, token string) (*Session, error)
	// Revoke is idempotent: unknown or already revoked tokens succeed.
	Revoke(ctx context.Context, token string) error
}

func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: random id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// FromContext extracts the session from context, or nil.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
