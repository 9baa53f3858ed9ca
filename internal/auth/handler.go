package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/identity/internal/platform/httpx"
	"github.com/odyssey-erp/identity/internal/rbac"
	"github.com/odyssey-erp/identity/internal/session"
	"github.com/odyssey-erp/identity/internal/shared"
)

// HandlerParams configures Handler.
type HandlerParams struct {
	Logger    *slog.Logger
	Service   *Service
	Transport session.Transport
	CSRF      *shared.CSRFManager
	RBAC      rbac.Middleware
	// EmailAvailability mounts GET /account/email-available.
	EmailAvailability bool
	// RateLimit caps requests per IP per RateWindow on the credential
	// endpoints. Zero disables the limiter.
	RateLimit  int
	RateWindow time.Duration
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	transport session.Transport
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	params    HandlerParams
}

// NewHandler constructs a Handler instance.
func NewHandler(p HandlerParams) *Handler {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   p.Service,
		transport: p.Transport,
		csrf:      p.CSRF,
		rbac:      p.RBAC,
		params:    p,
	}
}

const (
	pathRegister = "/account/register"
	pathLogin    = "/account/login"
)

// CredentialPaths lists the endpoints that take credentials instead of a session.
func CredentialPaths() []string {
	return []string{pathRegister, pathLogin}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.params.RateLimit > 0 {
			window := h.params.RateWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.Limit(h.params.RateLimit, window, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Post(pathRegister, h.handleRegister)
		r.Post(pathLogin, h.handleLogin)
		if h.params.EmailAvailability {
			r.Get("/account/email-available", h.handleEmailAvailable)
		}
	})
	r.Post("/logout", h.handleLogout)
	r.With(h.rbac.RequireAuthenticated()).Get("/account/me", h.handleMe)
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	CSRFToken string    `json:"csrfToken"`
	Redirect  string    `json:"redirect,omitempty"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		h.logFailure("register failed", err)
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.SignIn(r.Context(), user, false)
	if err != nil {
		h.logger.Error("sign in after register failed", slog.String("user_id", user.ID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.transport.Write(w, result.Token, result.Session)
	w.Header().Set("Location", "/account/me")
	httpx.JSON(w, http.StatusCreated, h.sessionResponse(result, ""))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.Decode(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Login(r.Context(), in)
	if err != nil {
		h.logFailure("login failed", err)
		httpx.RespondError(w, err)
		return
	}
	redirect := "/"
	if in.ReturnURL != "" && httpx.IsLocalURL(in.ReturnURL) {
		redirect = in.ReturnURL
	}
	h.transport.Write(w, result.Token, result.Session)
	httpx.JSON(w, http.StatusOK, h.sessionResponse(result, redirect))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := h.transport.Token(r)
	if err := h.service.Logout(r.Context(), token); err != nil {
		h.logger.Error("logout failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if sess := session.FromContext(r.Context()); sess != nil {
		h.logger.Info("user logged out", slog.String("user_id", sess.UserID.String()))
	}
	h.transport.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEmailAvailable(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	available, err := h.service.EmailAvailable(r.Context(), email)
	if err != nil {
		h.logFailure("email availability failed", err)
		httpx.RespondError(w, err)
		return
	}
	resp := map[string]any{"available": available}
	if !available {
		resp["message"] = "Email " + email + " is already in use."
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	roles := sess.Roles
	if roles == nil {
		roles = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"userId":     sess.UserID.String(),
		"email":      sess.Email,
		"roles":      roles,
		"persistent": sess.Persistent,
		"expiresAt":  sess.ExpiresAt,
	})
}

func (h *Handler) sessionResponse(result *LoginResult, redirect string) sessionResponse {
	roles := result.Session.Roles
	if roles == nil {
		roles = []string{}
	}
	resp := sessionResponse{
		Token:     result.Token,
		ExpiresAt: result.Session.ExpiresAt,
		Redirect:  redirect,
		UserID:    result.User.ID.String(),
		Email:     result.User.Email,
		Roles:     roles,
	}
	if h.csrf != nil {
		resp.CSRFToken = h.csrf.Token(result.Session.ID)
	}
	return resp
}

func (h *Handler) logFailure(msg string, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidCredentials),
		errors.Is(err, shared.ErrLockedOut),
		errors.Is(err, shared.ErrDuplicateEmail):
		h.logger.Debug(msg, slog.Any("error", err))
	default:
		h.logger.Error(msg, slog.Any("error", err))
	}
}
