package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/identity/internal/password"
	"github.com/odyssey-erp/identity/internal/roles"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
	"github.com/odyssey-erp/identity/internal/users"
)

const goodPassword = "Passw0rd!"

type fakeRecorder struct {
	mu            sync.Mutex
	logins        map[string]int
	registrations map[string]int
	lockouts      int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{logins: map[string]int{}, registrations: map[string]int{}}
}

func (r *fakeRecorder) LoginAttempt(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins[outcome]++
}

func (r *fakeRecorder) Registration(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations[outcome]++
}

func (r *fakeRecorder) Lockout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockouts++
}

type fakeNotifier struct {
	mu         sync.Mutex
	registered []uuid.UUID
	lockedOut  []uuid.UUID
}

func (n *fakeNotifier) UserRegistered(_ context.Context, user *users.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered = append(n.registered, user.ID)
	return nil
}

func (n *fakeNotifier) UserLockedOut(_ context.Context, user *users.User, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lockedOut = append(n.lockedOut, user.ID)
	return fmt.Errorf("queue down")
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *Service
	users    *users.MemoryStore
	roles    *roles.MemoryStore
	hasher   password.Hasher
	recorder *fakeRecorder
	notifier *fakeNotifier
	clock    *clock
	redis    *miniredis.Miniredis
}

func testHasher(t *testing.T) password.Hasher {
	t.Helper()
	hasher, err := password.New(password.Config{
		Algorithm:     password.AlgorithmArgon2id,
		Argon2:        password.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32},
		BcryptCost:    bcrypt.MinCost,
		MaxConcurrent: 4,
	})
	require.NoError(t, err)
	return hasher
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.Lockout = users.LockoutPolicy{MaxFailedAttempts: 3, Duration: 5 * time.Minute}
	cfg.StoreRetryBase = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		users:    users.NewMemoryStore(),
		roles:    roles.NewMemoryStore(),
		hasher:   testHasher(t),
		recorder: newFakeRecorder(),
		notifier: &fakeNotifier{},
		clock:    &clock{now: time.Now()},
		redis:    mr,
	}
	f.svc = NewService(ServiceParams{
		Users:    f.users,
		Roles:    f.roles,
		Hasher:   f.hasher,
		Issuer:   session.NewRedisStore(client),
		Config:   cfg,
		Logger:   slog.Default(),
		Notifier: f.notifier,
		Recorder: f.recorder,
		Now:      f.clock.Now,
	})
	return f
}

func (f *fixture) register(t *testing.T, email string) *users.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: goodPassword, ConfirmPassword: goodPassword})
	require.NoError(t, err)
	return user
}

func TestRegisterThenLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "Alice@Example.com")

	role, err := f.roles.CreateRole(ctx, "Admin")
	require.NoError(t, err)
	require.NoError(t, f.roles.Assign(ctx, user.ID, role.ID))

	result, err := f.svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: goodPassword})
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, []string{"Admin"}, result.Session.Roles)
	assert.False(t, result.Session.Persistent)
	assert.WithinDuration(t, f.clock.Now().Add(12*time.Hour), result.Session.ExpiresAt, time.Second)

	resolved, err := f.svc.Resolve(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.UserID)

	assert.Equal(t, 1, f.recorder.registrations[RegistrationCreated])
	assert.Equal(t, 1, f.recorder.logins[OutcomeAuthenticated])
	assert.Equal(t, []uuid.UUID{user.ID}, f.notifier.registered)

	stored, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, goodPassword, stored.PasswordHash)
	require.NotNil(t, stored.LastLoginAt)
}

func TestRegisterDuplicateEmailCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, "bob@example.com")

	_, err := f.svc.Register(ctx, RegisterInput{Email: "BOB@example.com", Password: goodPassword, ConfirmPassword: goodPassword})
	assert.ErrorIs(t, err, shared.ErrDuplicateEmail)

	list, err := f.users.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, f.recorder.registrations[RegistrationDuplicate])
}

func TestRegisterRejectsPolicyViolations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	cases := []struct {
		name  string
		input RegisterInput
		field string
	}{
		{"too short", RegisterInput{Email: "c@example.com", Password: "abcde", ConfirmPassword: "abcde"}, "Password"},
		{"missing classes", RegisterInput{Email: "c@example.com", Password: "abcdef", ConfirmPassword: "abcdef"}, "Password"},
		{"mismatch", RegisterInput{Email: "c@example.com", Password: goodPassword, ConfirmPassword: "Passw0rd?"}, "ConfirmPassword"},
		{"bad email", RegisterInput{Email: "not-an-email", Password: goodPassword, ConfirmPassword: goodPassword}, "Email"},
		{"empty password", RegisterInput{Email: "c@example.com"}, "Password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tc.input)
			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}

	list, err := f.users.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegisterRejectsPasswordsTooLongForBcrypt(t *testing.T) {
	ctx := context.Background()
	long := "Aa1!" + strings.Repeat("x", 80)
	bcryptHasher, err := password.New(password.Config{Algorithm: password.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost, MaxConcurrent: 1})
	require.NoError(t, err)

	cases := map[string]int{
		"policy capped":   password.BcryptMaxLength,
		"policy too wide": 128,
	}
	for name, maxLength := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) { c.PasswordPolicy.MaxLength = maxLength })
			f.svc.hasher = bcryptHasher

			_, err := f.svc.Register(ctx, RegisterInput{Email: "long@example.com", Password: long, ConfirmPassword: long})
			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.ErrorIs(t, err, shared.ErrValidation)
			assert.Contains(t, verr.Fields["Password"], "at most 72 bytes")
			assert.Equal(t, 1, f.recorder.registrations[RegistrationInvalid])
			assert.Zero(t, f.recorder.registrations[RegistrationError])

			list, err := f.users.ListUsers(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestLoginRejectsOverlongPassword(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "gil@example.com")

	_, err := f.svc.Login(context.Background(), LoginInput{Email: "gil@example.com", Password: strings.Repeat("x", 129)})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "Password")
	assert.Equal(t, 1, f.recorder.logins[OutcomeInvalidInput])
	assert.Zero(t, f.recorder.logins[OutcomeInvalidCredential])
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, "dora@example.com")

	_, errUnknown := f.svc.Login(ctx, LoginInput{Email: "ghost@example.com", Password: goodPassword})
	_, errWrong := f.svc.Login(ctx, LoginInput{Email: "dora@example.com", Password: "wrong"})
	assert.ErrorIs(t, errUnknown, shared.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, shared.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
	assert.Equal(t, 2, f.recorder.logins[OutcomeInvalidCredential])
}

func TestLoginValidatesInput(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Login(context.Background(), LoginInput{Email: "", Password: ""})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "Email")
	assert.Contains(t, verr.Fields, "Password")
	assert.Equal(t, 1, f.recorder.logins[OutcomeInvalidInput])
}

func TestLoginLocksOutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "erin@example.com")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: "wrong"})
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: goodPassword})
	var locked *shared.LockedOutError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), locked.Until)
	assert.Equal(t, 1, f.recorder.lockouts)
	assert.Equal(t, []uuid.UUID{user.ID}, f.notifier.lockedOut)

	f.clock.Advance(5*time.Minute + time.Second)
	result, err := f.svc.Login(ctx, LoginInput{Email: "erin@example.com", Password: goodPassword})
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "fay@example.com")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: "fay@example.com", Password: "wrong"})
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, err := f.svc.Login(ctx, LoginInput{Email: "fay@example.com", Password: goodPassword})
	require.NoError(t, err)

	stored, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: "fay@example.com", Password: "wrong"})
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, err = f.svc.Login(ctx, LoginInput{Email: "fay@example.com", Password: goodPassword})
	require.NoError(t, err)
}

func TestConcurrentWrongPasswordsStayConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) {
		c.Lockout = users.LockoutPolicy{MaxFailedAttempts: 5, Duration: time.Hour}
	})
	user := f.register(t, "gus@example.com")

	var (
		wg      sync.WaitGroup
		invalid atomic.Int32
		locked  atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Login(ctx, LoginInput{Email: "gus@example.com", Password: "wrong"})
			switch {
			case err == nil:
				t.Error("wrong password authenticated")
			case errors.Is(err, shared.ErrLockedOut):
				locked.Add(1)
			default:
				assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
				invalid.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, invalid.Load())
	assert.EqualValues(t, 5, locked.Load())
	assert.Equal(t, 1, f.recorder.lockouts)

	stored, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.LockedAt(f.clock.Now()))
}

func TestLoginDisabledAccountIsInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	user := f.register(t, "hal@example.com")
	require.NoError(t, f.users.Disable(ctx, user.ID, f.clock.Now()))

	_, err := f.svc.Login(ctx, LoginInput{Email: "hal@example.com", Password: goodPassword})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginRememberMeUsesLongTTL(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "ivy@example.com")

	result, err := f.svc.Login(context.Background(), LoginInput{Email: "ivy@example.com", Password: goodPassword, RememberMe: true})
	require.NoError(t, err)
	assert.True(t, result.Session.Persistent)
	assert.WithinDuration(t, f.clock.Now().Add(14*24*time.Hour), result.Session.ExpiresAt, time.Second)
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	legacy, err := password.NewBcrypt(bcrypt.MinCost)
	require.NoError(t, err)
	hash, err := legacy.Hash(ctx, goodPassword)
	require.NoError(t, err)
	user, err := f.users.Create(ctx, "jay@example.com", hash)
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginInput{Email: "jay@example.com", Password: goodPassword})
	require.NoError(t, err)

	stored, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, password.AlgorithmArgon2id, password.AlgorithmOf(stored.PasswordHash))
}

type flakyUsers struct {
	*users.MemoryStore
	failures atomic.Int32
}

func (f *flakyUsers) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("users: find by email: %w", shared.ErrStoreUnavailable)
	}
	return f.MemoryStore.FindByEmail(ctx, email)
}

func TestLoginRetriesUnavailableStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, "kim@example.com")

	flaky := &flakyUsers{MemoryStore: f.users}
	flaky.failures.Store(2)
	f.svc.users = flaky

	_, err := f.svc.Login(ctx, LoginInput{Email: "kim@example.com", Password: goodPassword})
	require.NoError(t, err)

	flaky.failures.Store(10)
	_, err = f.svc.Login(ctx, LoginInput{Email: "kim@example.com", Password: goodPassword})
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.Equal(t, 1, f.recorder.logins[OutcomeError])
}

func TestLoginCancelledContextWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	user := f.register(t, "lou@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.Login(ctx, LoginInput{Email: "lou@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := f.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, "max@example.com")

	result, err := f.svc.Login(ctx, LoginInput{Email: "max@example.com", Password: goodPassword})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, result.Token))
	require.NoError(t, f.svc.Logout(ctx, result.Token))
	require.NoError(t, f.svc.Logout(ctx, ""))

	_, err = f.svc.Resolve(ctx, result.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestEmailAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, "ned@example.com")

	available, err := f.svc.EmailAvailable(ctx, "NED@example.com")
	require.NoError(t, err)
	assert.False(t, available)

	available, err = f.svc.EmailAvailable(ctx, "new@example.com")
	require.NoError(t, err)
	assert.True(t, available)

	_, err = f.svc.EmailAvailable(ctx, "nope")
	assert.ErrorIs(t, err, shared.ErrValidation)
}
