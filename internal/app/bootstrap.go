package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/identity/internal/auth"
	"github.com/odyssey-erp/identity/internal/roles"
	"github.com/odyssey-erp/identity/internal/shared"
	"github.com/odyssey-erp/identity/internal/users"
)

// BootstrapParams configures BootstrapAdmin.
type BootstrapParams struct {
	Auth     *auth.Service
	Roles    *roles.Service
	Users    users.Store
	Logger   *slog.Logger
	Role     string
	Email    string
	Password string
}

// BootstrapAdmin makes sure the admin role exists and, when an email is
// configured, that the account exists and holds the role. Running it again
// changes nothing.
func BootstrapAdmin(ctx context.Context, p BootstrapParams) error {
	role, err := p.Roles.EnsureRole(ctx, p.Role)
	if err != nil {
		return fmt.Errorf("bootstrap: ensure role %q: %w", p.Role, err)
	}
	if p.Email == "" {
		return nil
	}

	user, err := p.Users.FindByEmail(ctx, p.Email)
	if errors.Is(err, shared.ErrNotFound) {
		user, err = p.Auth.Register(ctx, auth.RegisterInput{Email: p.Email, Password: p.Password, ConfirmPassword: p.Password})
		if err == nil {
			p.Logger.Info("bootstrap admin created", slog.String("user_id", user.ID.String()))
		}
	}
	if err != nil {
		return fmt.Errorf("bootstrap: admin account: %w", err)
	}

	err = p.Roles.Assign(ctx, user.ID, role.ID)
	if err != nil && !errors.Is(err, shared.ErrAlreadyAssigned) {
		return fmt.Errorf("bootstrap: assign admin role: %w", err)
	}
	return nil
}
