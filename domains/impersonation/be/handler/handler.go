package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mutare-labs/fleetpay-saas/domains/impersonation/be/service"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/logging"
	"github.com/mutare-labs/fleetpay-saas/platform/go/problem"
)

// Handler exposes impersonation session management over HTTP. The whole
// router is mounted behind the impersonate capability.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("impersonation service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the impersonation endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(platformauth.RequireCapability(platformauth.CapImpersonate))
	r.Get("/sessions", h.list)
	r.Post("/sessions", h.start)
	r.Delete("/sessions/{sessionID}", h.stop)
	return r
}

type sessionResponse struct {
	ID           string    `json:"id"`
	TargetUserID string    `json:"targetUserId"`
	TenantID     string    `json:"tenantId"`
	StartedAt    time.Time `json:"startedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func toResponse(s service.Session) sessionResponse {
	return sessionResponse{
		ID:           s.ID.String(),
		TargetUserID: s.TargetUserID.String(),
		TenantID:     s.TenantID,
		StartedAt:    s.StartedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

type startRequest struct {
	TargetUserID  string `json:"targetUserId"`
	Justification string `json:"justification"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	targetID, err := uuid.Parse(req.TargetUserID)
	if err != nil {
		problem.Write(w, problem.Validation("targetUserId must be a UUID", nil))
		return
	}

	session, err := h.svc.Start(r.Context(), actorID(r), targetID, req.Justification)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(session))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	sessions := h.svc.Active(actorID(r))
	items := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		problem.Write(w, problem.NotFound("session not found"))
		return
	}

	if err := h.svc.Stop(r.Context(), actorID(r), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		problem.Write(w, problem.New(problem.TypeRateLimited, "Too many requests", http.StatusTooManyRequests, "impersonation attempts are rate limited"))
	case errors.Is(err, service.ErrTooManySessions):
		// Same 429 as the start-rate limit, but a distinct problem type so
		// clients can tell a full session set from a spent rate budget.
		problem.Write(w, problem.New(problem.TypeSessionLimit, "Too many sessions", http.StatusTooManyRequests, "concurrent impersonation session limit reached"))
	case errors.Is(err, service.ErrJustificationTooShort):
		problem.Write(w, problem.Validation("justification is too short", nil))
	case errors.Is(err, service.ErrTargetNotInTenant):
		problem.Write(w, problem.NotFound("target user not found in tenant"))
	case errors.Is(err, service.ErrNoSession):
		problem.Write(w, problem.NotFound("session not found"))
	case errors.Is(err, service.ErrNoScope):
		problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "tenant scope required"))
	default:
		logging.FromRequest(r, h.logger).Error("impersonation handler failure", zap.Error(err))
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
