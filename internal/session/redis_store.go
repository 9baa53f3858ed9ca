package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/identity/internal/shared"
)

// RedisStore keeps sessions server side; the token is the opaque session id.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Issue(ctx context.Context, sess *Session) (string, error) {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return "", errors.New("session: already expired")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, redisKey(sess.ID), data, ttl).Err(); err != nil {
		return "", fmt.Errorf("session: store: %w: %w", shared.ErrStoreUnavailable, err)
	}
	return sess.ID, nil
}

func (s *RedisStore) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, shared.ErrUnauthorized
	}
	payload, err := s.client.Get(ctx, redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrUnauthorized
		}
		return nil, fmt.Errorf("session: load: %w: %w", shared.ErrStoreUnavailable, err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if sess.ID != token || sess.Expired(s.now()) {
		return nil, shared.ErrUnauthorized
	}
	return &sess, nil
}

func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: revoke: %w: %w", shared.ErrStoreUnavailable, err)
	}
	return nil
}

func redisKey(id string) string {
	return "session:" + id
}

var _ Issuer = (*RedisStore)(nil)
