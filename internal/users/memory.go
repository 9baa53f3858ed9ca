package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/identity/internal/shared"
)

// MemoryStore is an in-process Store used by tests and by STORE_BACKEND=memory.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*User
	byEmail map[string]uuid.UUID
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]*User),
		byEmail: make(map[string]uuid.UUID),
		now:     time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized := shared.NormalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[normalized]; exists {
		return nil, shared.ErrDuplicateEmail
	}
	now := m.now().UTC()
	user := &User{
		ID:              uuid.New(),
		Email:           strings.TrimSpace(email),
		NormalizedEmail: normalized,
		PasswordHash:    passwordHash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.byID[user.ID] = user
	m.byEmail[normalized] = user.ID
	return cloneUser(user), nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[shared.NormalizeEmail(email)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneUser(m.byID[id]), nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneUser(user), nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, *cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].NormalizedEmail < out[j].NormalizedEmail
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) RecordFailedAttempt(ctx context.Context, id uuid.UUID, policy LockoutPolicy, now time.Time) (FailedAttempt, error) {
	if err := ctx.Err(); err != nil {
		return FailedAttempt{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return FailedAttempt{}, shared.ErrNotFound
	}
	if user.LockedAt(now) {
		return FailedAttempt{Counted: false, FailedAttempts: user.FailedAttempts, LockoutUntil: cloneTime(user.LockoutUntil)}, nil
	}
	user.UpdatedAt = now
	if user.FailedAttempts+1 >= policy.threshold() {
		until := now.Add(policy.Duration)
		user.FailedAttempts = 0
		user.LockoutUntil = &until
		return FailedAttempt{Counted: true, LockedNow: true, LockoutUntil: cloneTime(&until)}, nil
	}
	user.FailedAttempts++
	user.LockoutUntil = nil
	return FailedAttempt{Counted: true, FailedAttempts: user.FailedAttempts}, nil
}

func (m *MemoryStore) RecordSuccess(ctx context.Context, id uuid.UUID, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	if user.LockedAt(now) {
		return &shared.LockedOutError{Until: *user.LockoutUntil}
	}
	user.FailedAttempts = 0
	user.LockoutUntil = nil
	user.LastLoginAt = cloneTime(&now)
	user.UpdatedAt = now
	return nil
}

func (m *MemoryStore) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Disable(ctx context.Context, id uuid.UUID, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	if user.DisabledAt == nil {
		user.DisabledAt = cloneTime(&now)
	}
	user.UpdatedAt = now
	return nil
}

func (m *MemoryStore) ClearExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var cleared int64
	for _, user := range m.byID {
		if user.LockoutUntil != nil && !user.LockoutUntil.After(now) {
			user.LockoutUntil = nil
			user.UpdatedAt = now
			cleared++
		}
	}
	return cleared, nil
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	c.LockoutUntil = cloneTime(u.LockoutUntil)
	c.DisabledAt = cloneTime(u.DisabledAt)
	c.LastLoginAt = cloneTime(u.LastLoginAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ Store = (*MemoryStore)(nil)
