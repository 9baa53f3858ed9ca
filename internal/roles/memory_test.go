package roles

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/identity/internal/shared"
)

func TestMemoryStoreCreateRole(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	admin, err := store.CreateRole(ctx, " Admin ")
	require.NoError(t, err)
	assert.Equal(t, "Admin", admin.Name)
	assert.Equal(t, "ADMIN", admin.NormalizedName)

	_, err = store.CreateRole(ctx, "admin")
	assert.ErrorIs(t, err, shared.ErrDuplicateRole)

	found, err := store.FindByName(ctx, "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, found.ID)

	_, err = store.FindByID(ctx, 99)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = store.CreateRole(ctx, "Auditor")
	require.NoError(t, err)
	list, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Admin", list[0].Name)
	assert.Equal(t, "Auditor", list[1].Name)
}

func TestMemoryStoreAssign(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	userID := uuid.New()

	user, err := store.CreateRole(ctx, "User")
	require.NoError(t, err)
	admin, err := store.CreateRole(ctx, "Admin")
	require.NoError(t, err)

	roles, err := store.RolesOf(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, roles)

	require.NoError(t, store.Assign(ctx, userID, user.ID))
	require.NoError(t, store.Assign(ctx, userID, admin.ID))
	assert.ErrorIs(t, store.Assign(ctx, userID, admin.ID), shared.ErrAlreadyAssigned)
	assert.ErrorIs(t, store.Assign(ctx, userID, 42), shared.ErrNotFound)

	roles, err = store.RolesOf(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "User"}, roles)
}
