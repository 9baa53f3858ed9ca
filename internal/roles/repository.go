package roles

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/identity/internal/platform/db"
	"github.com/odyssey-erp/identity/internal/shared"
)

const foreignKeyViolation = "23503"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRole inserts a role; a normalized name collision yields shared.ErrDuplicateRole.
func (r *Repository) CreateRole(ctx context.Context, name string) (*Role, error) {
	name = strings.TrimSpace(name)
	var role Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, normalized_name) VALUES ($1, $2)
		RETURNING id, name, normalized_name, created_at`,
		name, shared.NormalizeRoleName(name)).Scan(&role.ID, &role.Name, &role.NormalizedName, &role.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, shared.ErrDuplicateRole
		}
		return nil, db.MapError("roles: create", err)
	}
	return &role, nil
}

// FindByID fetches a role by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Role, error) {
	return r.findOne(ctx, "roles: find by id", `SELECT id, name, normalized_name, created_at FROM roles WHERE id = $1`, id)
}

// FindByName fetches a role by normalized name.
func (r *Repository) FindByName(ctx context.Context, name string) (*Role, error) {
	return r.findOne(ctx, "roles: find by name", `SELECT id, name, normalized_name, created_at FROM roles WHERE normalized_name = $1`, shared.NormalizeRoleName(name))
}

func (r *Repository) findOne(ctx context.Context, op, query string, arg any) (*Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, query, arg).Scan(&role.ID, &role.Name, &role.NormalizedName, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, db.MapError(op, err)
	}
	return &role, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, normalized_name, created_at FROM roles ORDER BY normalized_name`)
	if err != nil {
		return nil, db.MapError("roles: list", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.NormalizedName, &role.CreatedAt); err != nil {
			return nil, db.MapError("roles: list scan", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError("roles: list", err)
	}
	return roles, nil
}

// Assign checks for an existing assignment before inserting it. The insert
// ignores conflicts so a concurrent assignment still reports AlreadyAssigned.
func (r *Repository) Assign(ctx context.Context, userID uuid.UUID, roleID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return db.MapError("roles: assign", err)
		}
		if !exists {
			return shared.ErrNotFound
		}
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2)`, userID, roleID).Scan(&exists); err != nil {
			return db.MapError("roles: assign", err)
		}
		if exists {
			return shared.ErrAlreadyAssigned
		}
		tag, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return shared.ErrNotFound
			}
			return db.MapError("roles: assign", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrAlreadyAssigned
		}
		return nil
	})
}

// RolesOf returns the names of roles assigned to the user.
func (r *Repository) RolesOf(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.name FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, db.MapError("roles: roles of", err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, db.MapError("roles: roles of scan", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, db.MapError("roles: roles of", err)
	}
	return names, nil
}

var _ Store = (*Repository)(nil)
