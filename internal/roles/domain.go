package roles

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is a named permission group. Names are unique after normalization.
type Role struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists roles and user to role assignments.
type Store interface {
	CreateRole(ctx context.Context, name string) (*Role, error)
	FindByID(ctx context.Context, id int64) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	// Assign fails with shared.ErrAlreadyAssigned when the pair exists.
	Assign(ctx context.Context, userID uuid.UUID, roleID int64) error
	// RolesOf returns the user's role names sorted ascending.
	RolesOf(ctx context.Context, userID uuid.UUID) ([]string, error)
}
