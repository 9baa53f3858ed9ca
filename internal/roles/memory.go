package roles

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/identity/internal/shared"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	byID        map[int64]Role
	byName      map[string]int64
	assignments map[uuid.UUID]map[int64]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[int64]Role),
		byName:      make(map[string]int64),
		assignments: make(map[uuid.UUID]map[int64]struct{}),
	}
}

func (m *MemoryStore) CreateRole(ctx context.Context, name string) (*Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized := shared.NormalizeRoleName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byName[normalized]; exists {
		return nil, shared.ErrDuplicateRole
	}
	m.nextID++
	role := Role{ID: m.nextID, Name: strings.TrimSpace(name), NormalizedName: normalized, CreatedAt: time.Now().UTC()}
	m.byID[role.ID] = role
	m.byName[normalized] = role.ID
	return &role, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id int64) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &role, nil
}

func (m *MemoryStore) FindByName(ctx context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[shared.NormalizeRoleName(name)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	role := m.byID[id]
	return &role, nil
}

func (m *MemoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.byID))
	for _, role := range m.byID {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedName < out[j].NormalizedName })
	return out, nil
}

func (m *MemoryStore) Assign(ctx context.Context, userID uuid.UUID, roleID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[roleID]; !ok {
		return shared.ErrNotFound
	}
	held := m.assignments[userID]
	if _, ok := held[roleID]; ok {
		return shared.ErrAlreadyAssigned
	}
	if held == nil {
		held = make(map[int64]struct{})
		m.assignments[userID] = held
	}
	held[roleID] = struct{}{}
	return nil
}

func (m *MemoryStore) RolesOf(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.assignments[userID]))
	for roleID := range m.assignments[userID] {
		names = append(names, m.byID[roleID].Name)
	}
	sort.Strings(names)
	return names, nil
}

var _ Store = (*MemoryStore)(nil)
