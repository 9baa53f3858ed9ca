package users

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service exposes administrative user operations.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// Disable soft-disables a user. Sessions already issued stay valid until they expire.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Disable(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("user disabled", slog.String("user_id", id.String()))
	return nil
}
