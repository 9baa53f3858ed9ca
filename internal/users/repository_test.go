package users

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/identity/internal/shared"
	"github.com/odyssey-erp/identity/internal/testing/guard"
)

func uniqueEmail(prefix string) string {
	return prefix + "-" + uuid.NewString() + "@Example.com"
}

func TestRepositoryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(guard.Postgres(t))
	email := uniqueEmail("Alice")

	created, err := repo.Create(ctx, "  "+email+" ", "argon2id$hash")
	require.NoError(t, err)
	assert.Equal(t, email, created.Email)
	assert.Equal(t, shared.NormalizeEmail(email), created.NormalizedEmail)
	assert.Equal(t, "argon2id$hash", created.PasswordHash)
	assert.Zero(t, created.FailedAttempts)
	assert.Nil(t, created.LockoutUntil)
	assert.Nil(t, created.DisabledAt)
	assert.Nil(t, created.LastLoginAt)
	assert.False(t, created.CreatedAt.IsZero())

	byEmail, err := repo.FindByEmail(ctx, strings.ToLower(email))
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, created.PasswordHash, byEmail.PasswordHash)

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.NormalizedEmail, byID.NormalizedEmail)
	assert.WithinDuration(t, created.CreatedAt, byID.CreatedAt, time.Millisecond)

	_, err = repo.Create(ctx, strings.ToUpper(email), "other")
	assert.ErrorIs(t, err, shared.ErrDuplicateEmail)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
	_, err = repo.FindByEmail(ctx, uniqueEmail("ghost"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRepositoryConcurrentFailuresLockOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(guard.Postgres(t))
	user, err := repo.Create(ctx, uniqueEmail("race"), "hash")
	require.NoError(t, err)

	policy := LockoutPolicy{MaxFailedAttempts: 5, Duration: time.Hour}
	now := time.Now().UTC().Truncate(time.Microsecond)

	results := make([]FailedAttempt, 10)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := repo.RecordFailedAttempt(ctx, user.ID, policy, now)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var counted, lockedNow int
	for _, res := range results {
		if res.Counted {
			counted++
		}
		if res.LockedNow {
			lockedNow++
			require.NotNil(t, res.LockoutUntil)
			assert.WithinDuration(t, now.Add(time.Hour), *res.LockoutUntil, time.Millisecond)
			assert.Zero(t, res.FailedAttempts)
		}
		if !res.Counted {
			require.NotNil(t, res.LockoutUntil)
		}
	}
	assert.Equal(t, 5, counted)
	assert.Equal(t, 1, lockedNow)

	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LockoutUntil)
	assert.Zero(t, stored.FailedAttempts)
}

func TestRepositoryFailureWhileLockedIsNotCounted(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(guard.Postgres(t))
	user, err := repo.Create(ctx, uniqueEmail("locked"), "hash")
	require.NoError(t, err)

	policy := LockoutPolicy{MaxFailedAttempts: 2, Duration: 10 * time.Minute}
	now := time.Now().UTC()

	first, err := repo.RecordFailedAttempt(ctx, user.ID, policy, now)
	require.NoError(t, err)
	assert.True(t, first.Counted)
	assert.Equal(t, 1, first.FailedAttempts)
	assert.Nil(t, first.LockoutUntil)

	second, err := repo.RecordFailedAttempt(ctx, user.ID, policy, now)
	require.NoError(t, err)
	assert.True(t, second.LockedNow)

	third, err := repo.RecordFailedAttempt(ctx, user.ID, policy, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, third.Counted)
	assert.False(t, third.LockedNow)
	require.NotNil(t, third.LockoutUntil)
	assert.WithinDuration(t, *second.LockoutUntil, *third.LockoutUntil, time.Millisecond)

	_, err = repo.RecordFailedAttempt(ctx, uuid.New(), policy, now)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRepositoryRecordSuccessHonoursLockout(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(guard.Postgres(t))
	user, err := repo.Create(ctx, uniqueEmail("success"), "hash")
	require.NoError(t, err)

	policy := LockoutPolicy{MaxFailedAttempts: 1, Duration: 5 * time.Minute}
	now := time.Now().UTC()
	locked, err := repo.RecordFailedAttempt(ctx, user.ID, policy, now)
	require.NoError(t, err)
	require.True(t, locked.LockedNow)

	err = repo.RecordSuccess(ctx, user.ID, now.Add(time.Minute))
	var lockedErr *shared.LockedOutError
	require.ErrorAs(t, err, &lockedErr)
	assert.ErrorIs(t, err, shared.ErrLockedOut)
	assert.WithinDuration(t, *locked.LockoutUntil, lockedErr.Until, time.Millisecond)

	later := now.Add(10 * time.Minute)
	require.NoError(t, repo.RecordSuccess(ctx, user.ID, later))
	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LockoutUntil)
	assert.Zero(t, stored.FailedAttempts)
	require.NotNil(t, stored.LastLoginAt)
	assert.WithinDuration(t, later, *stored.LastLoginAt, time.Millisecond)

	assert.ErrorIs(t, repo.RecordSuccess(ctx, uuid.New(), later), shared.ErrNotFound)
}

func TestRepositoryMaintenance(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(guard.Postgres(t))
	user, err := repo.Create(ctx, uniqueEmail("maint"), "old")
	require.NoError(t, err)
	now := time.Now().UTC()

	require.NoError(t, repo.UpdatePasswordHash(ctx, user.ID, "new", now))
	require.NoError(t, repo.Disable(ctx, user.ID, now))
	require.NoError(t, repo.Disable(ctx, user.ID, now.Add(time.Hour)))
	stored, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.PasswordHash)
	require.NotNil(t, stored.DisabledAt)
	assert.WithinDuration(t, now, *stored.DisabledAt, time.Millisecond)

	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, uuid.New(), "x", now), shared.ErrNotFound)
	assert.ErrorIs(t, repo.Disable(ctx, uuid.New(), now), shared.ErrNotFound)

	_, err = repo.RecordFailedAttempt(ctx, user.ID, LockoutPolicy{MaxFailedAttempts: 1, Duration: time.Minute}, now)
	require.NoError(t, err)
	cleared, err := repo.ClearExpiredLockouts(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cleared, int64(1))
	stored, err = repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LockoutUntil)

	list, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	var found bool
	for _, u := range list {
		if u.ID == user.ID {
			found = true
		}
	}
	assert.True(t, found)
}
