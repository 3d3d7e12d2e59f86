package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mutare-labs/fleetpay-saas/domains/remittances/be/service"
	platformauth "github.com/mutare-labs/fleetpay-saas/platform/go/auth"
	"github.com/mutare-labs/fleetpay-saas/platform/go/logging"
	"github.com/mutare-labs/fleetpay-saas/platform/go/problem"
)

// Handler exposes remittance recording and approval over HTTP. Amounts cross
// this boundary as decimal currency values and are converted to cents exactly
// once, here.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("remittances service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the remittance endpoints. Approval operations additionally
// require the approve capability.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{remittanceID}", h.get)
	r.Patch("/{remittanceID}", h.update)

	r.Group(func(r chi.Router) {
		r.Use(platformauth.RequireCapability(platformauth.CapApproveRemittances))
		r.Post("/{remittanceID}/approve", h.approve)
		r.Post("/{remittanceID}/reject", h.reject)
		r.Post("/{remittanceID}/revoke", h.revoke)
		r.Post("/{remittanceID}/reapprove", h.reapprove)
		r.Delete("/{remittanceID}", h.delete)
	})
	return r
}

type remittanceResponse struct {
	ID            string    `json:"id"`
	DriverID      string    `json:"driverId"`
	VehicleID     string    `json:"vehicleId"`
	AmountCents   int64     `json:"amountCents"`
	RemittedAt    time.Time `json:"remittedAt"`
	Status        string    `json:"status"`
	TargetAmount  *int64    `json:"targetAmountCents,omitempty"`
	TargetReached bool      `json:"targetReached"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toResponse(rem service.Remittance) remittanceResponse {
	return remittanceResponse{
		ID:            rem.ID.String(),
		DriverID:      rem.DriverID.String(),
		VehicleID:     rem.VehicleID.String(),
		AmountCents:   rem.AmountCents,
		RemittedAt:    rem.RemittedAt,
		Status:        string(rem.Status),
		TargetAmount:  rem.TargetAmountCents,
		TargetReached: rem.TargetReached,
		CreatedAt:     rem.CreatedAt,
		UpdatedAt:     rem.UpdatedAt,
	}
}

type createRequest struct {
	DriverID   string     `json:"driverId"`
	VehicleID  string     `json:"vehicleId"`
	Amount     float64    `json:"amount"`
	RemittedAt *time.Time `json:"remittedAt"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	driverID, err := uuid.Parse(req.DriverID)
	if err != nil {
		problem.Write(w, problem.Validation("driverId must be a UUID", nil))
		return
	}
	vehicleID, err := uuid.Parse(req.VehicleID)
	if err != nil {
		problem.Write(w, problem.Validation("vehicleId must be a UUID", nil))
		return
	}

	input := service.CreateInput{
		DriverID:    driverID,
		VehicleID:   vehicleID,
		AmountCents: toCents(req.Amount),
	}
	if req.RemittedAt != nil {
		input.RemittedAt = *req.RemittedAt
	}

	created, err := h.svc.Create(r.Context(), actorID(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}

	rem, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rem))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	opts := service.ListOptions{}
	query := r.URL.Query()

	if raw := query.Get("driverId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			problem.Write(w, problem.Validation("driverId must be a UUID", nil))
			return
		}
		opts.DriverID = &id
	}
	if raw := query.Get("vehicleId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			problem.Write(w, problem.Validation("vehicleId must be a UUID", nil))
			return
		}
		opts.VehicleID = &id
	}
	if raw := query.Get("status"); raw != "" {
		status, err := service.ParseStatus(raw)
		if err != nil {
			problem.Write(w, problem.Validation("unknown status filter", nil))
			return
		}
		opts.Status = &status
	}

	remittances, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]remittanceResponse, 0, len(remittances))
	for _, rem := range remittances {
		items = append(items, toResponse(rem))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type updateRequest struct {
	Amount     *float64   `json:"amount"`
	RemittedAt *time.Time `json:"remittedAt"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		problem.Write(w, problem.Validation("invalid request body", nil))
		return
	}

	input := service.UpdateInput{RemittedAt: req.RemittedAt}
	if req.Amount != nil {
		cents := toCents(*req.Amount)
		input.AmountCents = &cents
	}

	updated, err := h.svc.Update(r.Context(), actorID(r), id, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Reject)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Revoke)
}

func (h *Handler) reapprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Reapprove)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID string, id uuid.UUID) (service.Remittance, error)) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}

	rem, err := fn(r.Context(), actorID(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rem))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := remittanceID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), actorID(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func remittanceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "remittanceID"))
	if err != nil {
		problem.Write(w, problem.NotFound("remittance not found"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		problem.Write(w, problem.Validation("validation failed", validationErr.Fields))
	case errors.Is(err, service.ErrNotFound):
		problem.Write(w, problem.NotFound("remittance not found"))
	case errors.Is(err, service.ErrConcurrencyConflict):
		problem.Write(w, problem.Conflict("remittance was modified concurrently"))
	case errors.Is(err, service.ErrNoScope):
		problem.Write(w, problem.New(problem.TypeUnauthorized, "Unauthorized", http.StatusUnauthorized, "tenant scope required"))
	default:
		logging.FromRequest(r, h.logger).Error("remittances handler failure", zap.Error(err))
		problem.Write(w, problem.Internal())
	}
}

// toCents converts a decimal currency amount into integer minor units.
func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
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
