package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

// Refresher reloads a user's held set from the source of truth.
type Refresher interface {
	RefreshHeld(ctx context.Context, userID int64) (permission.HeldSet, error)
}

// Handler serves the permission catalog and the caller's own held set.
type Handler struct {
	logger  *slog.Logger
	catalog *permission.Catalog
	service Refresher
	csrf    *shared.CSRFManager
	rbac    Middleware
	now     func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, catalog *permission.Catalog, service Refresher, csrf *shared.CSRFManager, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, catalog: catalog, service: service, csrf: csrf, rbac: rbac, now: time.Now}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(permission.PermissionsView)).Get("/permissions", h.listPermissions)
	r.Route("/me", func(r chi.Router) {
		r.Use(h.rbac.RequireAll())
		r.Get("/", h.me)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
	})
}

type catalogResponse struct {
	Modules []permission.Module `json:"modules"`
	Count   int                 `json:"count"`
}

type meResponse struct {
	UserID    int64     `json:"user_id"`
	CSRFToken string    `json:"csrf_token"`
	Held      []int64   `json:"held"`
	HeldAt    time.Time `json:"held_at"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, catalogResponse{Modules: h.catalog.Modules(), Count: h.catalog.Len()})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.ActorFromContext(r.Context())
	held, _ := HeldFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	_, heldAt, _ := sess.Held()
	h.respondMe(w, r, userID, held, heldAt)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.ActorFromContext(r.Context())
	held, err := h.service.RefreshHeld(r.Context(), userID)
	if err != nil {
		h.logger.Error("refresh held permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	at := h.now()
	shared.SessionFromContext(r.Context()).SetHeld(held.Int64s(), at)
	h.respondMe(w, r, userID, held, at)
}

// logout drops the session. A header-identified caller gets a fresh session
// on the next request; the proxy decides whether that caller is still known.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.ActorFromContext(r.Context())
	shared.SessionFromContext(r.Context()).Destroy()
	h.logger.Info("session closed", slog.Int64("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondMe(w http.ResponseWriter, r *http.Request, userID int64, held permission.HeldSet, at time.Time) {
	token, err := h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{UserID: userID, CSRFToken: token, Held: held.Int64s(), HeldAt: at.UTC()})
}
