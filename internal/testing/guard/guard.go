// Package guard puts test binaries into test mode. Import it for side effects.
package guard

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/identity/internal/platform/db"
)

const (
	testModeEnv = "ODYSSEY_TEST_MODE"
	// PostgresDSNEnv names the database used by repository tests.
	PostgresDSNEnv = "PG_TEST_DSN"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}

// RequiredEnv sets the settings LoadConfig refuses to start without.
func RequiredEnv(t testing.TB) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "test-session-secret-test-session-secret")
	t.Setenv("CSRF_SECRET", "test-csrf-secret")
}

// Postgres migrates the database named by PG_TEST_DSN and returns a pool
// closed at cleanup. Tests are skipped when the variable is unset.
func Postgres(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skip(PostgresDSNEnv + " must be set")
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 16})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
