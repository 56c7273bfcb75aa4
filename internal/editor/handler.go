package editor

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aurum-atelier/atelier-admin/internal/permission"
	"github.com/aurum-atelier/atelier-admin/internal/platform/httpx"
	"github.com/aurum-atelier/atelier-admin/internal/rbac"
	"github.com/aurum-atelier/atelier-admin/internal/shared"
)

// Handler exposes drafts over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers draft routes. Callers must hold an edit permission for
// at least one subject kind; the kind-specific check runs per request.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/drafts", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(permission.UsersPermissions, permission.RolesEdit))
		r.Post("/", h.open)
		r.Get("/{id}", h.get)
		r.Post("/{id}/toggle", h.toggle)
		r.Post("/{id}/submit", h.submit)
		r.Delete("/{id}", h.discard)
	})
}

type openRequest struct {
	Kind string `json:"kind" validate:"required,oneof=user role"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

type toggleRequest struct {
	Code  int64  `json:"code" validate:"required,gt=0"`
	State string `json:"state" validate:"required,oneof=granted revoked"`
}

type toggleResponse struct {
	Draft  Draft  `json:"draft"`
	Change Change `json:"change"`
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	kind, err := rbac.ParseSubjectKind(req.Kind)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subject := Subject{Kind: kind, ID: req.ID}
	if err := authorize(r, subject); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Open(r.Context(), subject)
	if err != nil {
		h.fail(w, "open draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	state, err := permission.ParseState(req.State)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	updated, change, err := h.service.Toggle(r.Context(), d.ID, permission.Code(req.Code), state)
	if err != nil {
		h.fail(w, "toggle permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toggleResponse{Draft: updated, Change: change})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	diff, err := h.service.Submit(r.Context(), d.ID)
	if err != nil {
		h.fail(w, "submit draft", err)
		return
	}
	// The actor may have edited their own grants or a role they hold.
	if sess := shared.SessionFromContext(r.Context()); sess != nil && !diff.Empty() {
		sess.ClearHeld()
	}
	httpx.JSON(w, http.StatusOK, diff)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	d, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	if err := h.service.Discard(r.Context(), d.ID); err != nil {
		h.fail(w, "discard draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadAuthorized(w http.ResponseWriter, r *http.Request) (Draft, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: draft id", httpx.ErrValidation))
		return Draft{}, false
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "load draft", err)
		return Draft{}, false
	}
	if err := authorize(r, d.Subject); err != nil {
		httpx.RespondError(w, err)
		return Draft{}, false
	}
	return d, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// authorize checks the permission that edits this kind of subject.
func authorize(r *http.Request, subject Subject) error {
	held, _ := rbac.HeldFromContext(r.Context())
	need := permission.UsersPermissions
	if subject.Kind == rbac.SubjectRole {
		need = permission.RolesEdit
	}
	if !held.Has(need) {
		return fmt.Errorf("%w: editing %s grants requires permission %d", httpx.ErrForbidden, subject.Kind, need)
	}
	return nil
}
