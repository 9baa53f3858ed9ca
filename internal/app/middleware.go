package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/identity/internal/observability"
	"github.com/odyssey-erp/identity/internal/platform/httpx"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
)

// SessionResolver turns a bearer or cookie token into a session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*session.Session, error)
}

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger      *slog.Logger
	Config      *Config
	Sessions    SessionResolver
	Transport   session.Transport
	CSRFManager *shared.CSRFManager
	CSRFExempt  []string
	Metrics     *observability.Metrics
}

type cookieAuthKey struct{}

// MiddlewareStack installs the identity middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         cfg.Config == nil || !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 60
	if cfg.Config != nil && cfg.Config.RateLimit > 0 {
		limit = cfg.Config.RateLimit
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		SessionMiddleware(cfg.Sessions, cfg.Transport, cfg.Logger),
		CSRFMiddleware(cfg.CSRFManager, cfg.Logger, cfg.CSRFExempt...),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// SessionMiddleware resolves the request token and stores the session in the
// request context. Unknown, expired and revoked tokens leave the request
// anonymous; a stale cookie is cleared.
func SessionMiddleware(resolver SessionResolver, transport session.Transport, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, fromCookie := transport.Token(r)
			if token == "" || resolver == nil {
				next.ServeHTTP(w, r)
				return
			}
			sess, err := resolver.Resolve(r.Context(), token)
			switch {
			case err == nil:
				ctx := session.ContextWithSession(r.Context(), sess)
				if fromCookie {
					ctx = context.WithValue(ctx, cookieAuthKey{}, true)
				}
				r = r.WithContext(ctx)
			case errors.Is(err, shared.ErrUnauthorized):
				if fromCookie {
					transport.Clear(w)
				}
			default:
				logger.Error("failed to load session", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRFMiddleware requires a token bound to the session on unsafe requests
// authenticated by cookie. Bearer and anonymous requests pass, as do the
// exempt paths, which must not act on the caller's existing session.
func CSRFMiddleware(manager *shared.CSRFManager, logger *slog.Logger, exempt ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(exempt))
	for _, path := range exempt {
		skip[path] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if manager == nil || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			viaCookie, _ := r.Context().Value(cookieAuthKey{}).(bool)
			sess := session.FromContext(r.Context())
			if !viaCookie || sess == nil {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get(shared.CSRFHeader)
			if token == "" {
				token = r.PostFormValue(shared.CSRFFormField)
			}
			if err := manager.VerifyToken(sess.ID, token); err != nil {
				logger.Warn("csrf validation failed", slog.String("path", r.URL.Path), slog.String("user_id", sess.UserID.String()))
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
