package users

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/identity/internal/platform/httpx"
	"github.com/odyssey-erp/identity/internal/rbac"
	"github.com/odyssey-erp/identity/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	adminRole string
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, adminRole string) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, adminRole: adminRole}
}

// MountRoutes registers user routes. Every route requires the admin role.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAnyRole(h.adminRole))
	r.Get("/", h.listUsers)
	r.Post("/{userID}/disable", h.disableUser)
}

type userView struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	LockoutUntil *time.Time `json:"lockoutUntil,omitempty"`
	Disabled     bool       `json:"disabled"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	now := time.Now()
	out := make([]userView, 0, len(list))
	for i := range list {
		u := &list[i]
		view := userView{
			ID:          u.ID.String(),
			Email:       u.Email,
			Disabled:    u.Disabled(),
			LastLoginAt: u.LastLoginAt,
			CreatedAt:   u.CreatedAt,
		}
		if u.LockedAt(now) {
			view.LockoutUntil = u.LockoutUntil
		}
		out = append(out, view)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *Handler) disableUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		verr := shared.NewValidationError()
		verr.Add("userID", "must be a valid id")
		httpx.RespondError(w, verr)
		return
	}
	if err := h.service.Disable(r.Context(), id); err != nil {
		h.logger.Warn("disable user failed", slog.String("user_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
