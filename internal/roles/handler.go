package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/identity/internal/platform/httpx"
	"github.com/odyssey-erp/identity/internal/rbac"
	"github.com/odyssey-erp/identity/internal/shared"
)

// Handler manages role administration endpoints.
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

// MountRoutes registers role routes behind the admin role check.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAnyRole(h.adminRole))
	r.Get("/", h.listRoles)
	r.Post("/", h.createRole)
	r.Post("/{roleID}/members", h.assignMember)
}

type createRoleRequest struct {
	RoleName string `json:"roleName" form:"roleName"`
}

type assignMemberRequest struct {
	Email string `json:"email" form:"email"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.RoleName)
	if err != nil {
		h.logFailure("create role failed", err)
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Location", "/administration/roles/"+strconv.FormatInt(role.ID, 10))
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) assignMember(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil || roleID <= 0 {
		verr := shared.NewValidationError()
		verr.Add("roleID", "must be a positive integer")
		httpx.RespondError(w, verr)
		return
	}
	var req assignMemberRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AssignByEmail(r.Context(), roleID, req.Email); err != nil {
		h.logFailure("assign role failed", err)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(msg string, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrDuplicateRole),
		errors.Is(err, shared.ErrAlreadyAssigned),
		errors.Is(err, shared.ErrNotFound):
		h.logger.Info(msg, slog.Any("error", err))
	default:
		h.logger.Error(msg, slog.Any("error", err))
	}
}
