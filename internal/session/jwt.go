package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/identity/internal/shared"
)

type claims struct {
	jwt.RegisteredClaims
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
	Persistent bool     `json:"persistent,omitempty"`
}

// JWTIssuer signs sessions as HS256 tokens. Revoked token ids are kept in a
// Redis denylist until the token would have expired anyway.
type JWTIssuer struct {
	secret   []byte
	issuer   string
	denylist redis.UniversalClient
	now      func() time.Time
}

// NewJWTIssuer constructs a JWTIssuer.
func NewJWTIssuer(secret, issuer string, denylist redis.UniversalClient) *JWTIssuer {
	return &JWTIssuer{secret: []byte(secret), issuer: issuer, denylist: denylist, now: time.Now}
}

func (j *JWTIssuer) Issue(ctx context.Context, sess *Session) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   sess.UserID.String(),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
		Email:      sess.Email,
		Roles:      sess.Roles,
		Persistent: sess.Persistent,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("session: sign: %w", err)
	}
	return signed, nil
}

func (j *JWTIssuer) Resolve(ctx context.Context, token string) (*Session, error) {
	c, err := j.parse(token)
	if err != nil {
		return nil, shared.ErrUnauthorized
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil || c.ID == "" || c.ExpiresAt == nil {
		return nil, shared.ErrUnauthorized
	}
	revoked, err := j.denylist.Exists(ctx, revokedKey(c.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: denylist: %w: %w", shared.ErrStoreUnavailable, err)
	}
	if revoked > 0 {
		return nil, shared.ErrUnauthorized
	}
	sess := &Session{
		ID:         c.ID,
		UserID:     userID,
		Email:      c.Email,
		Roles:      c.Roles,
		ExpiresAt:  c.ExpiresAt.Time.UTC(),
		Persistent: c.Persistent,
	}
	if c.IssuedAt != nil {
		sess.IssuedAt = c.IssuedAt.Time.UTC()
	}
	return sess, nil
}

// Revoke denylists a still valid token. Tokens that fail verification are
// already unusable, so they are ignored.
func (j *JWTIssuer) Revoke(ctx context.Context, token string) error {
	c, err := j.parse(token)
	if err != nil || c.ID == "" || c.ExpiresAt == nil {
		return nil
	}
	ttl := c.ExpiresAt.Time.Sub(j.now())
	if ttl <= 0 {
		return nil
	}
	if err := j.denylist.Set(ctx, revokedKey(c.ID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("session: revoke: %w: %w", shared.ErrStoreUnavailable, err)
	}
	return nil
}

func (j *JWTIssuer) parse(token string) (*claims, error) {
	if token == "" {
		return nil, errors.New("session: empty token")
	}
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func revokedKey(id string) string {
	return "session:revoked:" + id
}

var _ Issuer = (*JWTIssuer)(nil)
