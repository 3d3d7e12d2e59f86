package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mutare-labs/fleetpay-saas/domains/tenants/be/service"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/logging"
	"github.com/mutare-labs/fleetpay-saas/platform/go/problem"
)

// Handler exposes the tenant registry over HTTP. All routes sit behind the
// tenant management capability check, so only platform operators reach them.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the registry endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{tenantID}", h.get)
	r.Post("/{tenantID}/suspend", h.suspend)
	r.Post("/{tenantID}/reactivate", h.reactivate)
	r.Post("/{tenantID}/plan", h.changePlan)
	r.Post("/{tenantID}/cancel", h.cancel)
	return r
}

type tenantResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	PlanTier          string     `json:"planTier"`
	Status            string     `json:"status"`
	SubscriptionStart *time.Time `json:"subscriptionStart,omitempty"`
	SubscriptionEnd   *time.Time `json:"subscriptionEnd,omitempty"`
	SuspendedAt       *time.Time `json:"suspendedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func toResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		ID:                t.ID,
		Name:              t.Name,
		PlanTier:          string(t.PlanTier),
		Status:            string(t.Status),
		SubscriptionStart: t.SubscriptionStart,
		SubscriptionEnd:   t.SubscriptionEnd,
		SuspendedAt:       t.SuspendedAt,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

type listResponse struct {
	Items      []tenantResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	opts := service.ListOptions{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := service.ParseStatus(raw)
		if err != nil {
			problem.Write(w, problem.Validation("unknown status filter", nil))
			return
		}
		opts.Status = &status
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]tenantResponse, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, toResponse(t))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

type createRequest struct {
	Name     string `json:"name"`
	PlanTier string `json:"planTier"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	created, err := h.svc.Create(r.Context(), actorID(r), service.CreateInput{
		Name:     req.Name,
		PlanTier: service.PlanTier(req.PlanTier),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/tenants/"+created.ID)
	writeJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Suspend(r.Context(), actorID(r), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Reactivate(r.Context(), actorID(r), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

type changePlanRequest struct {
	PlanTier string `json:"planTier"`
}

func (h *Handler) changePlan(w http.ResponseWriter, r *http.Request) {
	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	t, err := h.svc.ChangePlan(r.Context(), actorID(r), chi.URLParam(r, "tenantID"), service.PlanTier(req.PlanTier))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Cancel(r.Context(), actorID(r), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		problem.Write(w, problem.Validation("validation failed", validationErr.Fields))
	case errors.Is(err, service.ErrNotFound):
		problem.Write(w, problem.NotFound("tenant not found"))
	case errors.Is(err, service.ErrConflict):
		problem.Write(w, problem.Conflict("tenant already exists"))
	case errors.Is(err, service.ErrNotSuspended), errors.Is(err, service.ErrAlreadyEnded):
		problem.Write(w, problem.Conflict(err.Error()))
	default:
		logging.FromRequest(r, h.logger).Error("tenants handler failure", zap.Error(err))
		problem.Write(w, problem.Internal())
	}
}

func actorID(r *http.Request) string {
	if creds, ok := platformauth.UserFromContext(r.Context()); ok && creds != nil {
		return creds.ID
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
