package rbac

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/identity/internal/platform/httpx"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. It expects
// the session, if any, to already be in the request context.
type Middleware struct {
	Logger *slog.Logger
}

// RequireAuthenticated rejects requests without a session.
func (m Middleware) RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session.FromContext(r.Context()) == nil {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole ensures the session holds at least one of roles.
func (m Middleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return m.require("any", roles, Authorize)
}

// RequireAllRoles ensures the session holds every one of roles.
func (m Middleware) RequireAllRoles(roles ...string) func(http.Handler) http.Handler {
	return m.require("all", roles, AuthorizeAll)
}

func (m Middleware) require(mode string, roles []string, decide func(*session.Session, []string) Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := session.FromContext(r.Context())
			if sess == nil && len(normalizeRoles(roles)) > 0 {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if decide(sess, roles) == Allowed {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Warn("authorization denied",
					slog.String("mode", mode),
					slog.String("user_id", sess.UserID.String()),
					slog.Any("required", roles),
					slog.Any("granted", sess.Roles),
					slog.String("path", r.URL.Path),
				)
			}
			httpx.RespondError(w, shared.ErrForbidden)
		})
	}
}
