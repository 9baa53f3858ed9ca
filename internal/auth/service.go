package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/odyssey-erp/identity/internal/password"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
	"github.com/odyssey-erp/identity/internal/users"
)

// ServiceParams groups the collaborators of Service.
type ServiceParams struct {
	Users    users.Store
	Roles    RoleSource
	Hasher   password.Hasher
	Issuer   session.Issuer
	Config   Config
	Logger   *slog.Logger
	Notifier Notifier
	Recorder Recorder
	Now      func() time.Time
}

// Service wraps authentication business rules: registration, login with
// lockout, and session issuance.
type Service struct {
	users    users.Store
	roles    RoleSource
	hasher   password.Hasher
	issuer   session.Issuer
	cfg      Config
	logger   *slog.Logger
	notifier Notifier
	recorder Recorder
	now      func() time.Time
	validate *validator.Validate

	decoyOnce sync.Once
	decoy     string
}

// NewService constructs a new Service.
func NewService(p ServiceParams) *Service {
	s := &Service{
		users:    p.Users,
		roles:    p.Roles,
		hasher:   p.Hasher,
		issuer:   p.Issuer,
		cfg:      p.Config,
		logger:   p.Logger,
		notifier: p.Notifier,
		recorder: p.Recorder,
		now:      p.Now,
		validate: validator.New(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type registerForm struct {
	Email           string `validate:"required,email,max=256"`
	Password        string `validate:"required"`
	ConfirmPassword string `validate:"eqfield=Password"`
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// Register validates the input against the password policy, hashes the
// password and creates the account. Nothing is written when validation fails.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*users.User, error) {
	email := strings.TrimSpace(in.Email)
	verr := s.validateStruct(registerForm{Email: email, Password: in.Password, ConfirmPassword: in.ConfirmPassword})
	if violations := s.cfg.PasswordPolicy.Check(in.Password); len(violations) > 0 && in.Password != "" {
		verr.Add("Password", strings.Join(violations, " "))
	}
	if !verr.Empty() {
		s.recorder.Registration(RegistrationInvalid)
		return nil, verr
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if errors.Is(err, password.ErrTooLong) {
		s.recorder.Registration(RegistrationInvalid)
		verr.Add("Password", fmt.Sprintf("Passwords must be at most %d bytes.", password.BcryptMaxLength))
		return nil, verr
	}
	if err != nil {
		s.recorder.Registration(RegistrationError)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, err := s.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateEmail) {
			s.recorder.Registration(RegistrationDuplicate)
			s.logger.Info("registration rejected", slog.String("reason", "duplicate_email"))
			return nil, err
		}
		s.recorder.Registration(RegistrationError)
		return nil, err
	}

	s.recorder.Registration(RegistrationCreated)
	s.logger.Info("user registered", slog.String("user_id", user.ID.String()))
	if err := s.notifier.UserRegistered(ctx, user); err != nil {
		s.logger.Warn("notify registration", slog.String("user_id", user.ID.String()), slog.Any("error", err))
	}
	return user, nil
}

// Login runs Start -> CredentialCheck -> {LockedOut, InvalidCredential, Authenticated}.
// Unknown and disabled accounts are indistinguishable from a wrong password.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.TrimSpace(in.Email)
	verr := s.validateStruct(loginForm{Email: email, Password: in.Password})
	if s.cfg.PasswordPolicy.TooLong(in.Password) {
		verr.Add("Password", fmt.Sprintf("The Password field must be at most %d bytes.", s.cfg.PasswordPolicy.MaxLength))
	}
	if !verr.Empty() {
		s.recorder.LoginAttempt(OutcomeInvalidInput)
		return nil, verr
	}

	user, err := s.findByEmail(ctx, email)
	if errors.Is(err, shared.ErrNotFound) {
		s.decoyVerify(ctx, in.Password)
		return nil, s.invalidCredential("unknown_account", uuid.Nil)
	}
	if err != nil {
		s.recorder.LoginAttempt(OutcomeError)
		return nil, err
	}

	now := s.now()
	if user.Disabled() {
		s.decoyVerify(ctx, in.Password)
		return nil, s.invalidCredential("disabled", user.ID)
	}
	if user.LockedAt(now) {
		return nil, s.lockedOut(user, *user.LockoutUntil)
	}

	ok, err := s.hasher.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, password.ErrMalformedHash) && !errors.Is(err, password.ErrUnknownAlgorithm) {
			s.recorder.LoginAttempt(OutcomeError)
			return nil, err
		}
		s.logger.Error("stored password hash unusable", slog.String("user_id", user.ID.String()), slog.Any("error", err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !ok {
		return nil, s.recordFailure(ctx, user, now)
	}

	if err := s.users.RecordSuccess(ctx, user.ID, now); err != nil {
		var locked *shared.LockedOutError
		if errors.As(err, &locked) {
			return nil, s.lockedOut(user, locked.Until)
		}
		s.recorder.LoginAttempt(OutcomeError)
		return nil, err
	}
	user.FailedAttempts = 0
	user.LockoutUntil = nil
	user.LastLoginAt = &now
	s.rehashIfNeeded(ctx, user, in.Password)

	result, err := s.SignIn(ctx, user, in.RememberMe)
	if err != nil {
		s.recorder.LoginAttempt(OutcomeError)
		return nil, err
	}
	s.recorder.LoginAttempt(OutcomeAuthenticated)
	s.logger.Info("login succeeded",
		slog.String("user_id", user.ID.String()),
		slog.Bool("persistent", in.RememberMe),
		slog.Any("roles", result.Session.Roles),
	)
	return result, nil
}

// SignIn issues a session for an already authenticated user. Persistent
// sessions live for RememberTTL, others for SessionTTL.
func (s *Service) SignIn(ctx context.Context, user *users.User, persistent bool) (*LoginResult, error) {
	var roles []string
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		roles, err = s.roles.RolesOf(ctx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	ttl := s.cfg.SessionTTL
	if persistent {
		ttl = s.cfg.RememberTTL
	}
	sess, err := session.New(user.ID, user.Email, roles, ttl, persistent, s.now())
	if err != nil {
		return nil, err
	}
	token, err := s.issuer.Issue(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Session: sess, Token: token}, nil
}

// Logout revokes the token. Unknown or already revoked tokens succeed.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.issuer.Revoke(ctx, token); err != nil {
		return err
	}
	return nil
}

// Resolve returns the session behind token.
func (s *Service) Resolve(ctx context.Context, token string) (*session.Session, error) {
	return s.issuer.Resolve(ctx, token)
}

// EmailAvailable reports whether no account uses email.
func (s *Service) EmailAvailable(ctx context.Context, email string) (bool, error) {
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		verr := shared.NewValidationError()
		verr.Add("Email", "must be a valid email address")
		return false, verr
	}
	_, err := s.findByEmail(ctx, email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return true, nil
	case err != nil:
		return false, err
	default:
		return false, nil
	}
}

func (s *Service) recordFailure(ctx context.Context, user *users.User, now time.Time) error {
	res, err := s.users.RecordFailedAttempt(ctx, user.ID, s.cfg.Lockout, now)
	if err != nil {
		s.recorder.LoginAttempt(OutcomeError)
		return err
	}
	if !res.Counted {
		until := now
		if res.LockoutUntil != nil {
			until = *res.LockoutUntil
		}
		return s.lockedOut(user, until)
	}
	if res.LockedNow && res.LockoutUntil != nil {
		s.recorder.Lockout()
		s.logger.Warn("account locked out",
			slog.String("user_id", user.ID.String()),
			slog.Time("until", *res.LockoutUntil),
		)
		if err := s.notifier.UserLockedOut(ctx, user, *res.LockoutUntil); err != nil {
			s.logger.Warn("notify lockout", slog.String("user_id", user.ID.String()), slog.Any("error", err))
		}
	}
	return s.invalidCredential("wrong_password", user.ID)
}

func (s *Service) invalidCredential(reason string, userID uuid.UUID) error {
	s.recorder.LoginAttempt(OutcomeInvalidCredential)
	attrs := []any{slog.String("reason", reason)}
	if userID != uuid.Nil {
		attrs = append(attrs, slog.String("user_id", userID.String()))
	}
	s.logger.Info("login failed", attrs...)
	return shared.ErrInvalidCredentials
}

func (s *Service) lockedOut(user *users.User, until time.Time) error {
	s.recorder.LoginAttempt(OutcomeLockedOut)
	s.logger.Info("login rejected", slog.String("reason", "locked_out"), slog.String("user_id", user.ID.String()))
	return &shared.LockedOutError{Until: until}
}

// decoyVerify spends the same hashing work as a real verification so
// response timing does not reveal whether an account exists.
func (s *Service) decoyVerify(ctx context.Context, plaintext string) {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash(context.Background(), uuid.NewString())
		if err != nil {
			s.logger.Warn("build decoy hash", slog.Any("error", err))
			return
		}
		s.decoy = hash
	})
	if s.decoy != "" {
		_, _ = s.hasher.Verify(ctx, plaintext, s.decoy)
	}
}

func (s *Service) rehashIfNeeded(ctx context.Context, user *users.User, plaintext string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(ctx, plaintext)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash, s.now())
	}
	if err != nil {
		s.logger.Warn("upgrade password hash", slog.String("user_id", user.ID.String()), slog.Any("error", err))
		return
	}
	user.PasswordHash = hash
}

func (s *Service) findByEmail(ctx context.Context, email string) (*users.User, error) {
	var user *users.User
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.users.FindByEmail(ctx, email)
		return err
	})
	return user, err
}

// withRetry retries read-only calls that failed with shared.ErrStoreUnavailable.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context) error) error {
	base := s.cfg.StoreRetryBase
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(s.cfg.StoreRetries, retry.NewExponential(base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, shared.ErrStoreUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Service) validateStruct(v any) *shared.ValidationError {
	out := shared.NewValidationError()
	err := s.validate.Struct(v)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out.Add("form", "is invalid")
		return out
	}
	for _, fe := range verrs {
		out.Add(fe.Field(), fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "The " + fe.Field() + " field is required."
	case "email":
		return "The Email field is not a valid e-mail address."
	case "eqfield":
		return "The password and confirmation password do not match."
	case "max":
		return "The " + fe.Field() + " field must be at most " + fe.Param() + " characters."
	default:
		return "The " + fe.Field() + " field is invalid."
	}
}
