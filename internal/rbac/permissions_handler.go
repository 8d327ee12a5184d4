package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/propdesk/propdesk/internal/permission"
	"github.com/propdesk/propdesk/internal/platform/httpx"
	"github.com/propdesk/propdesk/internal/shared"
)

// RefreshEnqueuer schedules a background permission refresh for a user.
type RefreshEnqueuer interface {
	EnqueuePermissionsRefresh(ctx context.Context, userID int64) error
}

// PermissionsHandler serves the permission API.
type PermissionsHandler struct {
	logger   *slog.Logger
	service  *Service
	rbac     Middleware
	live     *LiveFeed
	enqueuer RefreshEnqueuer
	validate *validator.Validate
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware, live *LiveFeed, enqueuer RefreshEnqueuer) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{
		logger:   logger,
		service:  service,
		rbac:     rbac,
		live:     live,
		enqueuer: enqueuer,
		validate: validator.New(),
	}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAnyScope(shared.PermPermissionsView))
		r.Get("/", h.listPermissions)
		r.Get("/users/{userID}/grants", h.userGrants)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Authenticated)
		r.Get("/me", h.current)
		r.Get("/me/check", h.check)
		if h.live != nil {
			r.Get("/me/live", h.live.ServeHTTP)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAnyScope(shared.PermPermissionsGrant))
		r.Put("/users/{userID}/grants", h.replaceGrants)
		r.Put("/users/{userID}/grants/{permissionID}", h.grant)
		r.Delete("/users/{userID}/grants/{permissionID}", h.revoke)
		r.Post("/users/{userID}/refresh", h.refresh)
	})
}

type currentResponse struct {
	Loaded      bool                `json:"loaded"`
	Permissions []permission.Record `json:"permissions"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

type userGrantsResponse struct {
	UserID      int64               `json:"user_id"`
	Permissions []permission.Record `json:"permissions"`
}

type replaceGrantsRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"max=256,dive,required"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *PermissionsHandler) current(w http.ResponseWriter, r *http.Request) {
	records := shared.StoreFromContext(r.Context()).Current()
	resp := currentResponse{Loaded: records != nil, Permissions: records}
	if resp.Permissions == nil {
		resp.Permissions = []permission.Record{}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *PermissionsHandler) check(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	d := permission.Describe(query.Get("id"), query["name"]...)
	if err := d.Validate(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id or name required")
		return
	}
	store := shared.StoreFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: store.IsAuthorized(d)})
}

func (h *PermissionsHandler) userGrants(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	records, err := h.service.Records(r.Context(), userID)
	if err != nil {
		h.writeError(w, "load user grants", err)
		return
	}
	if records == nil {
		records = []permission.Record{}
	}
	httpx.JSON(w, http.StatusOK, userGrantsResponse{UserID: userID, Permissions: records})
}

func (h *PermissionsHandler) replaceGrants(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	var req replaceGrantsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "permission_ids must hold at most 256 non-empty ids")
		return
	}
	if err := h.service.ReplaceGrants(r.Context(), actorID(r), userID, req.PermissionIDs); err != nil {
		h.writeError(w, "replace grants", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) grant(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	err := h.service.Grant(r.Context(), actorID(r), userID, chi.URLParam(r, "permissionID"))
	if err != nil {
		h.writeError(w, "grant permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	err := h.service.Revoke(r.Context(), actorID(r), userID, chi.URLParam(r, "permissionID"))
	if err != nil {
		h.writeError(w, "revoke permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PermissionsHandler) refresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "job queue not configured")
		return
	}
	if err := h.enqueuer.EnqueuePermissionsRefresh(r.Context(), userID); err != nil {
		h.logger.Error("enqueue permissions refresh", slog.Int64("user", userID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"user_id": userID, "status": "queued"})
}

func (h *PermissionsHandler) targetUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return 0, false
	}
	return id, true
}

func (h *PermissionsHandler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidUser), errors.Is(err, ErrInvalidPermission):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func actorID(r *http.Request) int64 {
	id, _ := shared.SessionFromContext(r.Context()).UserID()
	return id
}
