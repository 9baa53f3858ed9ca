package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/identity/internal/auth"
	"github.com/odyssey-erp/identity/internal/observability"
	"github.com/odyssey-erp/identity/internal/platform/httpx"
	"github.com/odyssey-erp/identity/internal/roles"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
	"github.com/odyssey-erp/identity/internal/users"
	"github.com/odyssey-erp/identity/jobs"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(r *http.Request) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Sessions     SessionResolver
	Transport    session.Transport
	CSRFManager  *shared.CSRFManager
	AuthHandler  *auth.Handler
	RolesHandler *roles.Handler
	UsersHandler *users.Handler
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
	Checks       map[string]HealthCheck
}

// NewRouter constructs the chi.Router with identity defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:      params.Logger,
		Config:      params.Config,
		Sessions:    params.Sessions,
		Transport:   params.Transport,
		CSRFManager: params.CSRFManager,
		CSRFExempt:  auth.CredentialPaths(),
		Metrics:     params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.Logger, params.Checks))

	if params.AuthHandler != nil {
		params.AuthHandler.MountRoutes(r)
	}
	if params.RolesHandler != nil {
		r.Route("/administration/roles", params.RolesHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/administration/users", params.UsersHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func healthHandler(logger *slog.Logger, checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(r); err != nil {
				logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				results[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		body := map[string]any{"status": "ok", "time": time.Now().UTC()}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(results) > 0 {
			body["checks"] = results
		}
		w.Header().Set("Cache-Control", "no-store")
		httpx.JSON(w, status, body)
	}
}
