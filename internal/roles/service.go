package roles

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/identity/internal/shared"
	"github.com/odyssey-erp/identity/internal/users"
)

var roleNamePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} ._-]*$`)

// UserFinder resolves the user a role is assigned to.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*users.User, error)
}

// Service handles role business logic.
type Service struct {
	store    Store
	users    UserFinder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(store Store, users UserFinder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("rolename", func(fl validator.FieldLevel) bool {
		return roleNamePattern.MatchString(fl.Field().String())
	})
	return &Service{store: store, users: users, logger: logger, validate: v}
}

type createRoleInput struct {
	RoleName string `validate:"required,max=64,rolename"`
}

// CreateRole validates the name and creates the role.
func (s *Service) CreateRole(ctx context.Context, name string) (*Role, error) {
	if err := s.validate.Struct(createRoleInput{RoleName: name}); err != nil {
		return nil, toValidationError(err)
	}
	role, err := s.store.CreateRole(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("role created", slog.Int64("role_id", role.ID), slog.String("role", role.Name))
	return role, nil
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

type assignInput struct {
	Email string `validate:"required,email"`
}

// AssignByEmail grants the role to the account registered under email.
func (s *Service) AssignByEmail(ctx context.Context, roleID int64, email string) error {
	if err := s.validate.Struct(assignInput{Email: email}); err != nil {
		return toValidationError(err)
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	return s.Assign(ctx, user.ID, roleID)
}

// Assign grants roleID to userID.
func (s *Service) Assign(ctx context.Context, userID uuid.UUID, roleID int64) error {
	if err := s.store.Assign(ctx, userID, roleID); err != nil {
		return err
	}
	s.logger.Info("role assigned", slog.String("user_id", userID.String()), slog.Int64("role_id", roleID))
	return nil
}

// EnsureRole returns the named role, creating it when missing.
func (s *Service) EnsureRole(ctx context.Context, name string) (*Role, error) {
	role, err := s.store.FindByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	role, err = s.CreateRole(ctx, name)
	if errors.Is(err, shared.ErrDuplicateRole) {
		return s.store.FindByName(ctx, name)
	}
	return role, err
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := shared.NewValidationError()
	for _, fieldErr := range verrs {
		out.Add(fieldErr.Field(), validationMessage(fieldErr))
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "rolename":
		return "may contain letters, digits, spaces, dots, dashes and underscores"
	default:
		return "is invalid"
	}
}
