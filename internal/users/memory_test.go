package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/identity/internal/shared"
)

func TestMemoryStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	user, err := store.Create(ctx, " Alice@Example.com ", "$argon2id$hash")
	require.NoError(t, err)
	assert.Equal(t, "Alice@Example.com", user.Email)
	assert.Equal(t, "alice@example.com", user.NormalizedEmail)
	assert.Zero(t, user.FailedAttempts)

	found, err := store.FindByEmail(ctx, "ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	byID, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, byID.Email)

	_, err = store.FindByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = store.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestMemoryStoreRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Create(ctx, "bob@example.com", "h1")
	require.NoError(t, err)
	_, err = store.Create(ctx, "BOB@example.com", "h2")
	assert.ErrorIs(t, err, shared.ErrDuplicateEmail)

	list, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStoreLockoutCycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	policy := LockoutPolicy{MaxFailedAttempts: 3, Duration: time.Minute}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	user, err := store.Create(ctx, "carol@example.com", "h")
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		res, err := store.RecordFailedAttempt(ctx, user.ID, policy, now)
		require.NoError(t, err)
		assert.True(t, res.Counted)
		assert.False(t, res.LockedNow)
		assert.Equal(t, i, res.FailedAttempts)
	}

	res, err := store.RecordFailedAttempt(ctx, user.ID, policy, now)
	require.NoError(t, err)
	assert.True(t, res.Counted)
	assert.True(t, res.LockedNow)
	require.NotNil(t, res.LockoutUntil)
	assert.Equal(t, now.Add(time.Minute), *res.LockoutUntil)

	res, err = store.RecordFailedAttempt(ctx, user.ID, policy, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Counted)

	var locked *shared.LockedOutError
	err = store.RecordSuccess(ctx, user.ID, now.Add(10*time.Second))
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, now.Add(time.Minute), locked.Until)

	after := now.Add(2 * time.Minute)
	require.NoError(t, store.RecordSuccess(ctx, user.ID, after))
	stored, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Nil(t, stored.LockoutUntil)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, after, *stored.LastLoginAt)
}

func TestMemoryStoreSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	policy := DefaultLockoutPolicy()
	now := time.Now()

	user, err := store.Create(ctx, "dave@example.com", "h")
	require.NoError(t, err)
	_, err = store.RecordFailedAttempt(ctx, user.ID, policy, now)
	require.NoError(t, err)
	_, err = store.RecordFailedAttempt(ctx, user.ID, policy, now)
	require.NoError(t, err)

	require.NoError(t, store.RecordSuccess(ctx, user.ID, now))
	stored, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
}

func TestMemoryStoreConcurrentFailuresAreSerializable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	policy := LockoutPolicy{MaxFailedAttempts: 5, Duration: time.Hour}
	now := time.Now()

	user, err := store.Create(ctx, "erin@example.com", "h")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		counted  int
		lockedBy int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.RecordFailedAttempt(ctx, user.ID, policy, now)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if res.Counted {
				counted++
			}
			if res.LockedNow {
				lockedBy++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, counted)
	assert.Equal(t, 1, lockedBy)
	stored, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.LockedAt(now))
	assert.Zero(t, stored.FailedAttempts)
}

func TestMemoryStoreDisableKeepsFirstTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user, err := store.Create(ctx, "frank@example.com", "h")
	require.NoError(t, err)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Disable(ctx, user.ID, first))
	require.NoError(t, store.Disable(ctx, user.ID, first.Add(time.Hour)))

	stored, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.Disabled())
	assert.Equal(t, first, *stored.DisabledAt)

	assert.ErrorIs(t, store.Disable(ctx, uuid.New(), first), shared.ErrNotFound)
}

func TestLockoutPolicyDisabledNeverLocks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	user, err := store.Create(ctx, "gina@example.com", "h")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		res, err := store.RecordFailedAttempt(ctx, user.ID, LockoutPolicy{}, time.Now())
		require.NoError(t, err)
		assert.False(t, res.LockedNow)
	}
}

func TestMemoryStoreClearExpiredLockouts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	policy := LockoutPolicy{MaxFailedAttempts: 1, Duration: time.Minute}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	expired, err := store.Create(ctx, "hank@example.com", "h")
	require.NoError(t, err)
	active, err := store.Create(ctx, "iris@example.com", "h")
	require.NoError(t, err)
	_, err = store.RecordFailedAttempt(ctx, expired.ID, policy, now)
	require.NoError(t, err)
	_, err = store.RecordFailedAttempt(ctx, active.ID, policy, now.Add(time.Minute))
	require.NoError(t, err)

	cleared, err := store.ClearExpiredLockouts(ctx, now.Add(90*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)

	stored, err := store.FindByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LockoutUntil)
	stored, err = store.FindByID(ctx, active.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LockoutUntil)
}
