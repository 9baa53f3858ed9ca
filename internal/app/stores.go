package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/identity/internal/platform/db"
	"github.com/odyssey-erp/identity/internal/roles"
	"github.com/odyssey-erp/identity/internal/users"
)

// Stores bundles the account and role persistence selected by STORE_BACKEND.
type Stores struct {
	Users  users.Store
	Roles  roles.Store
	Checks map[string]HealthCheck
	Close  func()
}

// OpenStores connects the configured backend. The memory backend keeps all
// state in process and is lost on restart.
func OpenStores(ctx context.Context, cfg *Config, logger *slog.Logger) (*Stores, error) {
	if cfg.StoreBackend == StoreBackendMemory {
		logger.Warn("using in-memory stores, accounts will not survive a restart")
		return &Stores{
			Users:  users.NewMemoryStore(),
			Roles:  roles.NewMemoryStore(),
			Checks: map[string]HealthCheck{},
			Close:  func() {},
		}, nil
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
			return nil, err
		}
		logger.Info("migrations applied")
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour})
	if err != nil {
		return nil, err
	}
	return &Stores{
		Users: users.NewRepository(pool),
		Roles: roles.NewRepository(pool),
		Checks: map[string]HealthCheck{
			"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
		},
		Close: pool.Close,
	}, nil
}
